package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog"

	"github.com/romariotrain/vod-pipeline/internal/media/models"
)

// SQSAPI is the subset of the SQS client the queue uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, opts ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, opts ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, opts ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, opts ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

const (
	sqsMaxDelay       = 15 * time.Minute
	sqsMaxVisibility  = 12 * time.Hour
	sqsAttemptAttrKey = "attempt"
)

type SQSConfig struct {
	QueueURL          string
	WaitTime          time.Duration
	VisibilityTimeout time.Duration
	MaxMessages       int32
}

// SQS carries jobs on an SQS queue. Ack deletes the message, Nack shortens its
// visibility timeout so it is redelivered after the requested delay.
type SQS struct {
	api    SQSAPI
	cfg    SQSConfig
	clock  func() time.Time
	logger zerolog.Logger

	mu     sync.Mutex
	buffer []types.Message
}

func NewSQS(api SQSAPI, cfg SQSConfig, logger zerolog.Logger) (*SQS, error) {
	if cfg.QueueURL == "" {
		return nil, errors.New("queue url is empty")
	}
	if cfg.WaitTime <= 0 {
		cfg.WaitTime = 20 * time.Second
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = 15 * time.Minute
	}
	if cfg.MaxMessages <= 0 || cfg.MaxMessages > 10 {
		cfg.MaxMessages = 1
	}
	return &SQS{
		api:    api,
		cfg:    cfg,
		clock:  time.Now,
		logger: logger.With().Str("component", "sqs_queue").Logger(),
	}, nil
}

func (q *SQS) Publish(ctx context.Context, job models.TranscodeJob) error {
	payload, err := models.EncodeJob(job)
	if err != nil {
		return err
	}
	in := &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.cfg.QueueURL),
		MessageBody: aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			sqsAttemptAttrKey: {DataType: aws.String("Number"), StringValue: aws.String(strconv.Itoa(job.Attempt))},
		},
	}
	if d := job.NotBefore.Sub(q.clock()); d > 0 {
		in.DelaySeconds = int32(min(d, sqsMaxDelay).Round(time.Second) / time.Second)
	}
	if _, err := q.api.SendMessage(ctx, in); err != nil {
		return fmt.Errorf("sqs send job %s/%d: %w", job.ContentID, job.Attempt, err)
	}
	return nil
}

func (q *SQS) Consume(ctx context.Context) (Delivery, error) {
	for {
		msg, err := q.next(ctx)
		if err != nil {
			return nil, err
		}
		job, err := models.DecodeJob([]byte(aws.ToString(msg.Body)))
		if err != nil {
			q.logger.Error().Err(err).Str("message_id", aws.ToString(msg.MessageId)).Msg("dropping undecodable job")
			if derr := q.delete(ctx, msg.ReceiptHandle); derr != nil {
				return nil, derr
			}
			continue
		}
		if remaining := job.NotBefore.Sub(q.clock()); remaining > 0 {
			// delays past the SQS maximum are finished through the visibility timeout
			if err := q.changeVisibility(ctx, msg.ReceiptHandle, remaining); err != nil {
				return nil, err
			}
			continue
		}
		return &sqsDelivery{q: q, job: job, receipt: msg.ReceiptHandle}, nil
	}
}

func (q *SQS) next(ctx context.Context) (types.Message, error) {
	for {
		q.mu.Lock()
		if len(q.buffer) > 0 {
			msg := q.buffer[0]
			q.buffer = q.buffer[1:]
			q.mu.Unlock()
			return msg, nil
		}
		q.mu.Unlock()

		if err := ctx.Err(); err != nil {
			return types.Message{}, err
		}
		out, err := q.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:              aws.String(q.cfg.QueueURL),
			MaxNumberOfMessages:   q.cfg.MaxMessages,
			WaitTimeSeconds:       int32(q.cfg.WaitTime / time.Second),
			VisibilityTimeout:     int32(q.cfg.VisibilityTimeout / time.Second),
			MessageAttributeNames: []string{sqsAttemptAttrKey},
		})
		if err != nil {
			return types.Message{}, fmt.Errorf("sqs receive: %w", err)
		}
		q.mu.Lock()
		q.buffer = append(q.buffer, out.Messages...)
		q.mu.Unlock()
	}
}

func (q *SQS) delete(ctx context.Context, receipt *string) error {
	_, err := q.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.cfg.QueueURL),
		ReceiptHandle: receipt,
	})
	if err != nil {
		return fmt.Errorf("sqs delete: %w", err)
	}
	return nil
}

func (q *SQS) changeVisibility(ctx context.Context, receipt *string, d time.Duration) error {
	d = min(max(d, 0), sqsMaxVisibility)
	_, err := q.api.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.cfg.QueueURL),
		ReceiptHandle:     receipt,
		VisibilityTimeout: int32((d + time.Second - 1) / time.Second),
	})
	if err != nil {
		return fmt.Errorf("sqs change visibility: %w", err)
	}
	return nil
}

func (q *SQS) Close() error { return nil }

type sqsDelivery struct {
	q       *SQS
	job     models.TranscodeJob
	receipt *string
}

func (d *sqsDelivery) Job() models.TranscodeJob { return d.job }

func (d *sqsDelivery) Ack(ctx context.Context) error {
	return d.q.delete(ctx, d.receipt)
}

func (d *sqsDelivery) Nack(ctx context.Context, redeliverAfter time.Duration) error {
	return d.q.changeVisibility(ctx, d.receipt, redeliverAfter)
}
