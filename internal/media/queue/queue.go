// Package queue is the at-least-once job transport between the ingestion
// dispatcher and the transcoding workers. Duplicate deliveries are expected;
// the worker's conditional claim makes them harmless.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/romariotrain/vod-pipeline/internal/media/models"
)

var ErrClosed = errors.New("queue closed")

type Publisher interface {
	Publish(ctx context.Context, job models.TranscodeJob) error
}

type Consumer interface {
	// Consume blocks until a job is due or ctx is done.
	Consume(ctx context.Context) (Delivery, error)
}

// Delivery is one received job together with its acknowledgment handle.
type Delivery interface {
	Job() models.TranscodeJob
	Ack(ctx context.Context) error
	// Nack returns the message to the queue; it is redelivered no sooner than redeliverAfter.
	Nack(ctx context.Context, redeliverAfter time.Duration) error
}

type Queue interface {
	Publisher
	Consumer
	Close() error
}

// waitUntil sleeps until t or until ctx is done.
func waitUntil(ctx context.Context, t time.Time, now func() time.Time) error {
	d := t.Sub(now())
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
