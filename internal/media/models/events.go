package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type DomainEvent interface {
	EventID() uuid.UUID
	EventType() string
	AggregateID() uuid.UUID
	OccurredAt() time.Time
}

// ContentStatusChanged is recorded in the outbox with every committed transition.
type ContentStatusChanged struct {
	eventID    uuid.UUID
	contentID  uuid.UUID
	from       Status
	to         Status
	attempts   int
	occurredAt time.Time
}

func NewContentStatusChanged(contentID uuid.UUID, from, to Status, attempts int, at time.Time) *ContentStatusChanged {
	return &ContentStatusChanged{
		eventID:    uuid.New(),
		contentID:  contentID,
		from:       from,
		to:         to,
		attempts:   attempts,
		occurredAt: at,
	}
}

func (e *ContentStatusChanged) EventID() uuid.UUID     { return e.eventID }
func (e *ContentStatusChanged) EventType() string      { return "ContentStatusChanged" }
func (e *ContentStatusChanged) AggregateID() uuid.UUID { return e.contentID }
func (e *ContentStatusChanged) OccurredAt() time.Time  { return e.occurredAt }

func (e *ContentStatusChanged) From() Status { return e.from }
func (e *ContentStatusChanged) To() Status   { return e.to }

func (e *ContentStatusChanged) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		EventID    uuid.UUID `json:"event_id"`
		ContentID  uuid.UUID `json:"content_id"`
		From       Status    `json:"from"`
		To         Status    `json:"to"`
		Attempts   int       `json:"attempts"`
		OccurredAt time.Time `json:"occurred_at"`
	}{
		EventID:    e.eventID,
		ContentID:  e.contentID,
		From:       e.from,
		To:         e.to,
		Attempts:   e.attempts,
		OccurredAt: e.occurredAt,
	})
}
