package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/romariotrain/vod-pipeline/internal/media/models"
)

// Memory is an in-process Queue with ack/nack semantics. Unacked deliveries
// stay in flight until acked or nacked.
type Memory struct {
	mu     sync.Mutex
	ready  []models.TranscodeJob
	notify chan struct{}
	closed bool
	clock  func() time.Time
	// timers holds delayed jobs that have not fired yet.
	timers   map[*time.Timer]struct{}
	inFlight int

	published int
	acked     int
	nacked    int
}

func NewMemory() *Memory {
	return &Memory{
		notify: make(chan struct{}, 1),
		clock:  time.Now,
		timers: make(map[*time.Timer]struct{}),
	}
}

func (q *Memory) Publish(ctx context.Context, job models.TranscodeJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.published++
	q.enqueueLocked(job)
	return nil
}

func (q *Memory) enqueueLocked(job models.TranscodeJob) {
	if d := job.NotBefore.Sub(q.clock()); d > 0 {
		// q.mu is held until t is assigned, so the callback always sees it.
		var t *time.Timer
		t = time.AfterFunc(d, func() {
			q.mu.Lock()
			defer q.mu.Unlock()
			delete(q.timers, t)
			if q.closed {
				return
			}
			q.ready = append(q.ready, job)
			q.signal()
		})
		q.timers[t] = struct{}{}
		return
	}
	q.ready = append(q.ready, job)
	q.signal()
}

func (q *Memory) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Memory) Consume(ctx context.Context) (Delivery, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}
		if len(q.ready) > 0 {
			job := q.ready[0]
			q.ready = q.ready[1:]
			q.inFlight++
			if len(q.ready) > 0 {
				q.signal()
			}
			q.mu.Unlock()
			return &memoryDelivery{q: q, job: job}, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

func (q *Memory) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.closed = true
	for t := range q.timers {
		t.Stop()
	}
	clear(q.timers)
	close(q.notify)
	return nil
}

// Stats reports counters useful in tests and diagnostics.
type MemoryStats struct {
	Published int
	Acked     int
	Nacked    int
	Pending   int
	// Scheduled counts delayed jobs waiting for their NotBefore.
	Scheduled int
	InFlight  int
}

func (q *Memory) Stats() MemoryStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return MemoryStats{
		Published: q.published,
		Acked:     q.acked,
		Nacked:    q.nacked,
		Pending:   len(q.ready),
		Scheduled: len(q.timers),
		InFlight:  q.inFlight,
	}
}

// Drain removes and returns every job that is ready now.
func (q *Memory) Drain() []models.TranscodeJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.ready
	q.ready = nil
	return out
}

var errSettled = errors.New("delivery already settled")

type memoryDelivery struct {
	q       *Memory
	job     models.TranscodeJob
	settled bool
}

func (d *memoryDelivery) Job() models.TranscodeJob { return d.job }

func (d *memoryDelivery) Ack(ctx context.Context) error {
	d.q.mu.Lock()
	defer d.q.mu.Unlock()
	if d.settled {
		return errSettled
	}
	d.settled = true
	d.q.inFlight--
	d.q.acked++
	return nil
}

func (d *memoryDelivery) Nack(ctx context.Context, redeliverAfter time.Duration) error {
	d.q.mu.Lock()
	defer d.q.mu.Unlock()
	if d.settled {
		return errSettled
	}
	d.settled = true
	d.q.inFlight--
	d.q.nacked++
	if d.q.closed {
		return nil
	}
	d.q.enqueueLocked(d.job.Delayed(d.q.clock(), redeliverAfter))
	return nil
}
