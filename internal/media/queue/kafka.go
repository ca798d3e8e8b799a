package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/romariotrain/vod-pipeline/internal/media/kafka"
	"github.com/romariotrain/vod-pipeline/internal/media/models"
)

// KafkaProducer is the subset of kafka.Producer the queue uses.
type KafkaProducer interface {
	Publish(ctx context.Context, key string, value []byte) error
	Close() error
}

// KafkaConsumer is the subset of kafka.Consumer the queue uses.
type KafkaConsumer interface {
	Fetch(ctx context.Context) (kafka.Message, kafkago.Message, error)
	Commit(ctx context.Context, km kafkago.Message) error
	Close() error
}

// Kafka carries jobs on a topic. Kafka has no per-message redelivery, so Nack
// republishes the job with a NotBefore deadline and commits the original offset.
// A consumer holding a not-yet-due job waits for it, which also holds back its partition.
//
// A group commit of offset N covers every earlier offset of the partition, so
// settled messages are committed only once all earlier fetched messages have
// settled too. A job still in flight on another worker is never skipped over.
type Kafka struct {
	producer KafkaProducer
	consumer KafkaConsumer
	offsets  *offsetTracker
	clock    func() time.Time
	logger   zerolog.Logger
}

// NewKafka builds a publish-only queue when consumer is nil.
func NewKafka(producer KafkaProducer, consumer KafkaConsumer, logger zerolog.Logger) *Kafka {
	return &Kafka{
		producer: producer,
		consumer: consumer,
		offsets:  newOffsetTracker(),
		clock:    time.Now,
		logger:   logger.With().Str("component", "kafka_queue").Logger(),
	}
}

func (q *Kafka) Publish(ctx context.Context, job models.TranscodeJob) error {
	payload, err := models.EncodeJob(job)
	if err != nil {
		return err
	}
	if err := q.producer.Publish(ctx, job.Key(), payload); err != nil {
		return fmt.Errorf("publish job %s/%d: %w", job.ContentID, job.Attempt, err)
	}
	return nil
}

func (q *Kafka) Consume(ctx context.Context) (Delivery, error) {
	if q.consumer == nil {
		return nil, errors.New("kafka queue has no consumer")
	}
	for {
		msg, raw, err := q.consumer.Fetch(ctx)
		if err != nil {
			return nil, err
		}
		q.offsets.track(raw)

		job, err := models.DecodeJob(msg.Value)
		if err != nil {
			// poison message: settle it so it does not block the partition
			q.logger.Error().Err(err).Int64("offset", raw.Offset).Int("partition", raw.Partition).Msg("dropping undecodable job")
			if cerr := q.settle(ctx, raw); cerr != nil {
				return nil, cerr
			}
			continue
		}
		// An abandoned wait leaves the offset in flight so it is redelivered after restart.
		if err := waitUntil(ctx, job.NotBefore, q.clock); err != nil {
			return nil, err
		}
		return &kafkaDelivery{q: q, job: job, raw: raw}, nil
	}
}

// settle marks raw done and commits the highest offset whose predecessors are all done.
func (q *Kafka) settle(ctx context.Context, raw kafkago.Message) error {
	q.offsets.mu.Lock()
	defer q.offsets.mu.Unlock()

	next, ok := q.offsets.settleLocked(raw)
	if !ok {
		return nil
	}
	return q.consumer.Commit(ctx, next)
}

func (q *Kafka) Close() error {
	var errs []error
	if q.consumer != nil {
		errs = append(errs, q.consumer.Close())
	}
	if q.producer != nil {
		errs = append(errs, q.producer.Close())
	}
	return errors.Join(errs...)
}

type kafkaDelivery struct {
	q   *Kafka
	job models.TranscodeJob
	raw kafkago.Message
}

func (d *kafkaDelivery) Job() models.TranscodeJob { return d.job }

func (d *kafkaDelivery) Ack(ctx context.Context) error {
	return d.q.settle(ctx, d.raw)
}

func (d *kafkaDelivery) Nack(ctx context.Context, redeliverAfter time.Duration) error {
	if err := d.q.Publish(ctx, d.job.Delayed(d.q.clock(), redeliverAfter)); err != nil {
		return fmt.Errorf("nack: %w", err)
	}
	return d.q.settle(ctx, d.raw)
}

// offsetTracker keeps fetched offsets per partition in ascending order.
// mu is held across commits so committed offsets never move backwards.
type offsetTracker struct {
	mu         sync.Mutex
	partitions map[int]*partitionOffsets
}

type partitionOffsets struct {
	inflight []int64
	settled  map[int64]kafkago.Message
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{partitions: make(map[int]*partitionOffsets)}
}

func (t *offsetTracker) track(m kafkago.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.partitions[m.Partition]
	if !ok {
		p = &partitionOffsets{settled: make(map[int64]kafkago.Message)}
		t.partitions[m.Partition] = p
	}
	// Offsets arrive in order except after a rebalance replays a partition.
	i := sort.Search(len(p.inflight), func(i int) bool { return p.inflight[i] >= m.Offset })
	if i < len(p.inflight) && p.inflight[i] == m.Offset {
		return
	}
	p.inflight = append(p.inflight, 0)
	copy(p.inflight[i+1:], p.inflight[i:])
	p.inflight[i] = m.Offset
}

// settleLocked returns the message to commit, if the settled prefix grew.
func (t *offsetTracker) settleLocked(m kafkago.Message) (kafkago.Message, bool) {
	p, ok := t.partitions[m.Partition]
	if !ok {
		return m, true
	}
	i := sort.Search(len(p.inflight), func(i int) bool { return p.inflight[i] >= m.Offset })
	if i == len(p.inflight) || p.inflight[i] != m.Offset {
		// already covered by an earlier commit
		return kafkago.Message{}, false
	}
	p.settled[m.Offset] = m

	var (
		last   kafkago.Message
		popped int
	)
	for _, off := range p.inflight {
		done, ok := p.settled[off]
		if !ok {
			break
		}
		delete(p.settled, off)
		last = done
		popped++
	}
	p.inflight = p.inflight[popped:]
	return last, popped > 0
}
