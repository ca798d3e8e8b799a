package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romariotrain/vod-pipeline/internal/media/models"
)

func newDraft(t *testing.T, repo *MemoryRepository) *models.ContentItem {
	t.Helper()
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	c := &models.ContentItem{
		ID:          uuid.New(),
		Kind:        models.Movie,
		Status:      models.DraftStatus,
		RawAssetRef: "raw/movie.raw",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, repo.Create(context.Background(), c))
	return c
}

func TestMemoryRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	c := newDraft(t, repo)

	got, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, c, got)

	// returned value is a copy
	got.Status = models.ReadyStatus
	again, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, models.DraftStatus, again.Status)

	require.ErrorIs(t, repo.Create(ctx, c), models.ErrConflict)

	_, err = repo.GetByID(ctx, uuid.New())
	require.ErrorIs(t, err, models.ErrNotFound)

	_, err = repo.GetByID(ctx, uuid.Nil)
	require.ErrorIs(t, err, models.ErrInvalidArgument)
}

func TestMemoryRepository_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	c := newDraft(t, repo)

	attempts := 1
	claimed, err := repo.CompareAndSwap(ctx, c.ID, c.Token(), models.Update{Status: models.ProcessingStatus, Attempts: &attempts})
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingStatus, claimed.Status)
	assert.Equal(t, 1, claimed.Attempts)
	assert.True(t, claimed.UpdatedAt.After(c.UpdatedAt))

	// stale token
	_, err = repo.CompareAndSwap(ctx, c.ID, c.Token(), models.Update{Status: models.ProcessingStatus})
	require.ErrorIs(t, err, models.ErrConflict)

	// READY without a derivative ref breaks the invariant
	_, err = repo.CompareAndSwap(ctx, c.ID, claimed.Token(), models.Update{Status: models.ReadyStatus})
	require.ErrorIs(t, err, models.ErrInvalidTransition)

	ref := "processed/x.mp4"
	ready, err := repo.CompareAndSwap(ctx, c.ID, claimed.Token(), models.Update{Status: models.ReadyStatus, DerivativeAssetRef: &ref})
	require.NoError(t, err)
	assert.Equal(t, ref, ready.DerivativeAssetRef)

	// nothing leaves READY
	_, err = repo.CompareAndSwap(ctx, c.ID, ready.Token(), models.Update{Status: models.FailedStatus})
	require.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestMemoryRepository_SetProgress(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	c := newDraft(t, repo)

	require.ErrorIs(t, repo.SetProgress(ctx, c.ID, 10), models.ErrConflict)
	require.ErrorIs(t, repo.SetProgress(ctx, uuid.New(), 10), models.ErrNotFound)

	attempts := 1
	claimed, err := repo.CompareAndSwap(ctx, c.ID, c.Token(), models.Update{Status: models.ProcessingStatus, Attempts: &attempts})
	require.NoError(t, err)

	require.ErrorIs(t, repo.SetProgress(ctx, c.ID, 101), models.ErrInvalidArgument)
	require.ErrorIs(t, repo.SetProgress(ctx, c.ID, -1), models.ErrInvalidArgument)

	require.NoError(t, repo.SetProgress(ctx, c.ID, 55))
	got, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 55, got.Progress)
	assert.Equal(t, claimed.Token(), got.Token())

	// the token held by the worker still wins
	ref := "processed/x.mp4"
	_, err = repo.CompareAndSwap(ctx, c.ID, claimed.Token(), models.Update{Status: models.ReadyStatus, DerivativeAssetRef: &ref})
	require.NoError(t, err)
}

func TestMemoryRepository_ConcurrentClaimsSingleWinner(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	c := newDraft(t, repo)

	const workers = 32
	var (
		wg       sync.WaitGroup
		wins     atomic.Int32
		conflict atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := repo.CompareAndSwap(ctx, c.ID, c.Token(), models.Update{Status: models.ProcessingStatus})
			switch {
			case err == nil:
				wins.Add(1)
			case assert.ErrorIs(t, err, models.ErrConflict):
				conflict.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(workers-1), conflict.Load())
}

func TestMemoryRepository_ListStaleAndStats(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	fixed := time.Date(2026, 1, 15, 11, 0, 0, 0, time.UTC)
	repo.clock = func() time.Time { return fixed }

	a := newDraft(t, repo)
	b := newDraft(t, repo)
	_, err := repo.CompareAndSwap(ctx, a.ID, a.Token(), models.Update{Status: models.ProcessingStatus})
	require.NoError(t, err)

	stale, err := repo.ListStale(ctx, models.ProcessingStatus, fixed.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, a.ID, stale[0].ID)

	fresh, err := repo.ListStale(ctx, models.ProcessingStatus, fixed, 10)
	require.NoError(t, err)
	assert.Empty(t, fresh)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[models.ProcessingStatus])
	assert.Equal(t, 1, stats[models.DraftStatus])
	_ = b
}
