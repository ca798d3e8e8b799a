package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/romariotrain/vod-pipeline/internal/media/models"
	"github.com/romariotrain/vod-pipeline/internal/media/objectstore"
	"github.com/romariotrain/vod-pipeline/internal/media/queue"
	"github.com/romariotrain/vod-pipeline/internal/media/repository"
	"github.com/romariotrain/vod-pipeline/internal/retry"
)

type Config struct {
	// StoreRetry covers transient content store and object store errors.
	StoreRetry retry.Policy
	// EnqueueRetry covers publishing a job right after the item is committed.
	EnqueueRetry retry.Policy
	// RequeueInterval is how often jobs that could not be published are tried again.
	RequeueInterval time.Duration
	Logger          zerolog.Logger
}

type Service struct {
	repo      repository.ContentRepository
	store     objectstore.Store
	publisher queue.Publisher
	clock     func() time.Time
	idGen     func() uuid.UUID

	storeRetry      retry.Policy
	enqueueRetry    retry.Policy
	requeueInterval time.Duration
	logger          zerolog.Logger

	mu      sync.Mutex
	pending map[uuid.UUID]models.TranscodeJob
}

func New(repo repository.ContentRepository, store objectstore.Store, publisher queue.Publisher, cfg Config) *Service {
	if cfg.EnqueueRetry.MaxRetries == 0 {
		cfg.EnqueueRetry.MaxRetries = 3
	}
	cfg.EnqueueRetry.Retriable = retry.Always
	if cfg.RequeueInterval <= 0 {
		cfg.RequeueInterval = 5 * time.Second
	}
	return &Service{
		repo:            repo,
		store:           store,
		publisher:       publisher,
		clock:           time.Now,
		idGen:           uuid.New,
		storeRetry:      cfg.StoreRetry,
		enqueueRetry:    cfg.EnqueueRetry,
		requeueInterval: cfg.RequeueInterval,
		logger:          cfg.Logger.With().Str("component", "ingestion").Logger(),
		pending:         make(map[uuid.UUID]models.TranscodeJob),
	}
}

type IngestRequest struct {
	RawAssetRef string
	Kind        models.Kind
}

// Ingest registers an already stored raw upload and schedules its first transcode.
// Only failures before the record is committed are reported as *models.IngestionError;
// a job that cannot be published is kept and re-sent by RunRequeue.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (*models.ContentItem, error) {
	if req.Kind == "" {
		req.Kind = models.Movie
	}
	if req.RawAssetRef == "" || !req.Kind.Valid() {
		return nil, &models.IngestionError{RawAssetRef: req.RawAssetRef, Err: models.ErrInvalidArgument}
	}

	var size int64
	err := retry.Do(ctx, s.storeRetry, func(ctx context.Context) error {
		var err error
		size, err = s.store.Size(ctx, req.RawAssetRef)
		return err
	})
	if err != nil {
		return nil, &models.IngestionError{RawAssetRef: req.RawAssetRef, Err: fmt.Errorf("raw asset: %w", err)}
	}

	now := s.clock().UTC()
	item := &models.ContentItem{
		ID:          s.idGen(),
		Kind:        req.Kind,
		Status:      models.DraftStatus,
		RawAssetRef: req.RawAssetRef,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := retry.Do(ctx, s.storeRetry, func(ctx context.Context) error {
		return s.repo.Create(ctx, item)
	}); err != nil {
		return nil, &models.IngestionError{RawAssetRef: req.RawAssetRef, Err: fmt.Errorf("create content: %w", err)}
	}

	s.logger.Info().
		Str("content_id", item.ID.String()).
		Str("raw_asset_ref", item.RawAssetRef).
		Int64("raw_size", size).
		Msg("content ingested")

	s.enqueue(ctx, models.NewTranscodeJob(item.ID, 0, now))
	return item, nil
}

// Retry re-arms a FAILED item with a fresh attempt budget and schedules attempt 0.
// The worker's claim performs the FAILED -> PROCESSING transition.
func (s *Service) Retry(ctx context.Context, id uuid.UUID) (*models.ContentItem, error) {
	if id == uuid.Nil {
		return nil, models.ErrInvalidArgument
	}

	cur, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Status != models.FailedStatus {
		return nil, fmt.Errorf("%w: retry requires %s, item is %s", models.ErrInvalidTransition, models.FailedStatus, cur.Status)
	}

	zero, noError := 0, ""
	armed, err := s.repo.CompareAndSwap(ctx, id, cur.Token(), models.Update{
		Status:    models.FailedStatus,
		Attempts:  &zero,
		LastError: &noError,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("content_id", id.String()).
		Str("previous_error", cur.LastError).
		Msg("operator retry scheduled")

	s.enqueue(ctx, models.NewTranscodeJob(id, 0, s.clock()))
	return armed, nil
}

// Requeue publishes the first job of a DRAFT item again. It recovers items whose
// job was lost before any worker saw it; duplicates are rejected at claim time.
func (s *Service) Requeue(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return models.ErrInvalidArgument
	}

	item, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if item.Status != models.DraftStatus {
		return fmt.Errorf("%w: requeue requires %s, item is %s", models.ErrInvalidTransition, models.DraftStatus, item.Status)
	}

	job := models.NewTranscodeJob(id, item.Attempts, s.clock())
	if err := retry.Do(ctx, s.enqueueRetry, func(ctx context.Context) error {
		return s.publisher.Publish(ctx, job)
	}); err != nil {
		return fmt.Errorf("publish job: %w", err)
	}

	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.ContentItem, error) {
	if id == uuid.Nil {
		return nil, models.ErrInvalidArgument
	}
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Stats(ctx context.Context) (map[models.Status]int, error) {
	return s.repo.Stats(ctx)
}

func (s *Service) enqueue(ctx context.Context, job models.TranscodeJob) {
	err := retry.Do(ctx, s.enqueueRetry, func(ctx context.Context) error {
		return s.publisher.Publish(ctx, job)
	})
	if err == nil {
		return
	}

	s.logger.Error().
		Err(err).
		Str("content_id", job.ContentID.String()).
		Int("attempt", job.Attempt).
		Msg("failed to enqueue transcode job, will retry in background")

	s.mu.Lock()
	s.pending[job.ContentID] = job
	s.mu.Unlock()
}

// Pending reports how many jobs are waiting to be re-published.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// RunRequeue re-publishes jobs that failed to enqueue until ctx is cancelled.
func (s *Service) RunRequeue(ctx context.Context) error {
	ticker := time.NewTicker(s.requeueInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if n := s.Pending(); n > 0 {
				s.logger.Warn().Int("pending", n).Msg("requeue loop stopped with unpublished jobs")
			}
			return ctx.Err()
		case <-ticker.C:
			s.FlushPending(ctx)
		}
	}
}

// FlushPending makes one publish attempt per pending job and returns how many were sent.
func (s *Service) FlushPending(ctx context.Context) int {
	s.mu.Lock()
	jobs := make([]models.TranscodeJob, 0, len(s.pending))
	for _, j := range s.pending {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	sent := 0
	for _, job := range jobs {
		if err := s.publisher.Publish(ctx, job); err != nil {
			if errors.Is(err, context.Canceled) {
				return sent
			}
			s.logger.Warn().Err(err).Str("content_id", job.ContentID.String()).Msg("requeue failed")
			continue
		}
		s.mu.Lock()
		if cur, ok := s.pending[job.ContentID]; ok && cur == job {
			delete(s.pending, job.ContentID)
		}
		s.mu.Unlock()
		sent++
	}
	return sent
}
