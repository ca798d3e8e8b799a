package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/romariotrain/vod-pipeline/internal/media/domain"
	"github.com/romariotrain/vod-pipeline/internal/media/models"
)

type MemoryRepository struct {
	mu    sync.RWMutex
	data  map[uuid.UUID]*models.ContentItem
	clock func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		data:  make(map[uuid.UUID]*models.ContentItem),
		clock: time.Now,
	}
}

func (r *MemoryRepository) Create(ctx context.Context, c *models.ContentItem) error {
	if c == nil || c.ID == uuid.Nil {
		return models.ErrInvalidArgument
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := domain.CheckInvariants(c); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidArgument, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.data[c.ID]; exists {
		return models.ErrConflict
	}

	cp := *c
	r.data[c.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ContentItem, error) {
	if id == uuid.Nil {
		return nil, models.ErrInvalidArgument
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.data[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryRepository) CompareAndSwap(ctx context.Context, id uuid.UUID, expected models.Expected, upd models.Update) (*models.ContentItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := domain.ValidateTransition(expected.Status, upd.Status); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.data[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if cur.Status != expected.Status || !cur.UpdatedAt.Equal(expected.UpdatedAt) {
		return nil, models.ErrConflict
	}

	next := *cur
	upd.Apply(&next)
	next.UpdatedAt = r.nextToken(cur.UpdatedAt)
	if err := domain.CheckInvariants(&next); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidTransition, err)
	}

	r.data[id] = &next
	cp := next
	return &cp, nil
}

// nextToken keeps tokens strictly increasing even when the clock has not advanced.
func (r *MemoryRepository) nextToken(prev time.Time) time.Time {
	now := r.clock().UTC()
	if !now.After(prev) {
		now = prev.Add(time.Microsecond)
	}
	return now
}

func (r *MemoryRepository) ListStale(ctx context.Context, status models.Status, cutoff time.Time, limit int) ([]*models.ContentItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.ContentItem
	for _, c := range r.data {
		if c.Status == status && c.UpdatedAt.Before(cutoff) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) Stats(ctx context.Context) (map[models.Status]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[models.Status]int)
	for _, c := range r.data {
		stats[c.Status]++
	}
	return stats, nil
}

func (r *MemoryRepository) SetProgress(ctx context.Context, id uuid.UUID, percent int) error {
	if percent < 0 || percent > 100 {
		return models.ErrInvalidArgument
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.data[id]
	if !ok {
		return models.ErrNotFound
	}
	if c.Status != models.ProcessingStatus {
		return models.ErrConflict
	}
	c.Progress = percent
	return nil
}
