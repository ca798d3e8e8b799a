package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TranscodeJob asks a worker to process one content item. Attempt is zero-based
// and must equal the item's Attempts counter for the claim to be admitted.
//
// NotBefore delays delivery; transports that cannot schedule natively hold the
// message until it is due.
type TranscodeJob struct {
	ContentID  uuid.UUID `json:"content_id"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	NotBefore  time.Time `json:"not_before,omitzero"`
}

func NewTranscodeJob(contentID uuid.UUID, attempt int, now time.Time) TranscodeJob {
	return TranscodeJob{
		ContentID:  contentID,
		Attempt:    attempt,
		EnqueuedAt: now.UTC(),
	}
}

// Delayed returns a copy of j that becomes due at now+d.
func (j TranscodeJob) Delayed(now time.Time, d time.Duration) TranscodeJob {
	if d <= 0 {
		j.NotBefore = time.Time{}
		return j
	}
	j.NotBefore = now.UTC().Add(d)
	return j
}

// Key is the partition/dedup key used by queue transports.
func (j TranscodeJob) Key() string {
	return j.ContentID.String()
}

func EncodeJob(j TranscodeJob) ([]byte, error) {
	b, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}
	return b, nil
}

func DecodeJob(b []byte) (TranscodeJob, error) {
	var j TranscodeJob
	if err := json.Unmarshal(b, &j); err != nil {
		return TranscodeJob{}, fmt.Errorf("decode job: %w", err)
	}
	if j.ContentID == uuid.Nil {
		return TranscodeJob{}, fmt.Errorf("decode job: %w", ErrInvalidArgument)
	}
	if j.Attempt < 0 {
		return TranscodeJob{}, fmt.Errorf("decode job: negative attempt: %w", ErrInvalidArgument)
	}
	return j, nil
}
