package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/romariotrain/vod-pipeline/internal/media/models"
)

// ContentRepository is the durable lifecycle record store. Status only ever
// changes through CompareAndSwap.
type ContentRepository interface {
	Create(ctx context.Context, c *models.ContentItem) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.ContentItem, error)
	// CompareAndSwap applies upd only if the stored (status, updated_at) equals expected.
	// It returns models.ErrConflict when the guard does not hold.
	CompareAndSwap(ctx context.Context, id uuid.UUID, expected models.Expected, upd models.Update) (*models.ContentItem, error)
	ListStale(ctx context.Context, status models.Status, cutoff time.Time, limit int) ([]*models.ContentItem, error)
	Stats(ctx context.Context) (map[models.Status]int, error)
	// SetProgress records transcode progress of a PROCESSING item without
	// changing its token. Other statuses yield models.ErrConflict.
	SetProgress(ctx context.Context, id uuid.UUID, percent int) error
}
