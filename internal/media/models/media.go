package models

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	DraftStatus      Status = "DRAFT"
	ProcessingStatus Status = "PROCESSING"
	ReadyStatus      Status = "READY"
	FailedStatus     Status = "FAILED"
)

func (s Status) Valid() bool {
	switch s {
	case DraftStatus, ProcessingStatus, ReadyStatus, FailedStatus:
		return true
	default:
		return false
	}
}

// Kind distinguishes movies from episodes. Both go through the same pipeline.
type Kind string

const (
	Movie   Kind = "movie"
	Episode Kind = "episode"
)

func (k Kind) Valid() bool {
	return k == Movie || k == Episode
}

// ContentItem is the lifecycle record of one uploaded asset.
// UpdatedAt doubles as the optimistic concurrency token.
type ContentItem struct {
	ID                 uuid.UUID `db:"id"`
	Kind               Kind      `db:"kind"`
	Status             Status    `db:"status"`
	RawAssetRef        string    `db:"raw_asset_ref"`
	DerivativeAssetRef string    `db:"derivative_asset_ref"`
	SubtitleAssetRef   string    `db:"subtitle_asset_ref"`
	DurationSeconds    float64   `db:"duration_seconds"`
	SizeBytes          int64     `db:"size_bytes"`
	Attempts           int       `db:"attempts"`
	LastError          string    `db:"last_error"`
	// Progress is the transcode completion percentage. It is not part of the token.
	Progress  int       `db:"progress"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Token returns the guard a caller must present to change this item.
func (c *ContentItem) Token() Expected {
	return Expected{Status: c.Status, UpdatedAt: c.UpdatedAt}
}

// Expected is the (status, updatedAt) pair a compare-and-swap is conditioned on.
type Expected struct {
	Status    Status
	UpdatedAt time.Time
}

// Update describes the fields written by a successful compare-and-swap.
// Nil pointers leave the stored value untouched.
type Update struct {
	Status             Status
	DerivativeAssetRef *string
	SubtitleAssetRef   *string
	DurationSeconds    *float64
	SizeBytes          *int64
	Attempts           *int
	LastError          *string
	Progress           *int
}

// Apply copies the update onto c. It does not touch UpdatedAt.
func (u Update) Apply(c *ContentItem) {
	c.Status = u.Status
	if u.DerivativeAssetRef != nil {
		c.DerivativeAssetRef = *u.DerivativeAssetRef
	}
	if u.SubtitleAssetRef != nil {
		c.SubtitleAssetRef = *u.SubtitleAssetRef
	}
	if u.DurationSeconds != nil {
		c.DurationSeconds = *u.DurationSeconds
	}
	if u.SizeBytes != nil {
		c.SizeBytes = *u.SizeBytes
	}
	if u.Attempts != nil {
		c.Attempts = *u.Attempts
	}
	if u.LastError != nil {
		c.LastError = *u.LastError
	}
	if u.Progress != nil {
		c.Progress = *u.Progress
	}
}
