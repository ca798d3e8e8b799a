// Package worker drives content items from DRAFT to READY or FAILED.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/romariotrain/vod-pipeline/internal/media/domain"
	"github.com/romariotrain/vod-pipeline/internal/media/models"
	"github.com/romariotrain/vod-pipeline/internal/media/objectstore"
	"github.com/romariotrain/vod-pipeline/internal/media/queue"
	"github.com/romariotrain/vod-pipeline/internal/media/repository"
	"github.com/romariotrain/vod-pipeline/internal/media/transcode"
	"github.com/romariotrain/vod-pipeline/internal/retry"
)

const (
	DefaultDerivativePrefix = "processed/"
	DefaultSubtitlePrefix   = "subtitles/"
)

// errLeaseLost means another actor moved the item while this worker held it.
var errLeaseLost = errors.New("processing lease lost")

// DerivativeKey is the deterministic object key of the playable derivative.
func DerivativeKey(prefix string, id uuid.UUID) string {
	return prefix + id.String() + ".mp4"
}

func SubtitleKey(prefix string, id uuid.UUID) string {
	return prefix + id.String() + ".vtt"
}

type Config struct {
	// MaxAttempts is the total number of transcodes tried before an item stays FAILED.
	MaxAttempts       int
	RetryDelay        time.Duration
	HeartbeatInterval time.Duration
	DerivativePrefix  string
	SubtitlePrefix    string
	// StoreRetry governs transient content store and object store errors.
	StoreRetry retry.Policy
	Logger     zerolog.Logger
}

func (c *Config) setDefaults() {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 30 * time.Second
	}
	if c.DerivativePrefix == "" {
		c.DerivativePrefix = DefaultDerivativePrefix
	}
	if c.SubtitlePrefix == "" {
		c.SubtitlePrefix = DefaultSubtitlePrefix
	}
	if c.StoreRetry.MaxRetries == 0 {
		c.StoreRetry.MaxRetries = 3
	}
}

func (c Config) validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be positive, got: %d", c.MaxAttempts)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retry delay must not be negative, got: %v", c.RetryDelay)
	}
	if c.HeartbeatInterval < 0 {
		return fmt.Errorf("heartbeat interval must not be negative, got: %v", c.HeartbeatInterval)
	}
	return nil
}

// Processor handles one delivery at a time and is safe for concurrent use.
type Processor struct {
	repo       repository.ContentRepository
	store      objectstore.Store
	transcoder transcode.Transcoder
	publisher  queue.Publisher
	cfg        Config
	clock      func() time.Time
	logger     zerolog.Logger
}

func NewProcessor(
	repo repository.ContentRepository,
	store objectstore.Store,
	transcoder transcode.Transcoder,
	publisher queue.Publisher,
	cfg Config,
) (*Processor, error) {
	if repo == nil || store == nil || transcoder == nil || publisher == nil {
		return nil, fmt.Errorf("processor dependencies are required: %w", models.ErrInvalidArgument)
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid processor config: %w", err)
	}
	return &Processor{
		repo:       repo,
		store:      store,
		transcoder: transcoder,
		publisher:  publisher,
		cfg:        cfg,
		clock:      time.Now,
		logger:     cfg.Logger.With().Str("component", "transcode_worker").Logger(),
	}, nil
}

// Handle runs the claim, transcode, commit protocol for one delivery and settles it.
// The returned error is informational; the delivery is already settled unless ctx was cancelled.
func (p *Processor) Handle(ctx context.Context, d queue.Delivery) error {
	job := d.Job()
	log := p.logger.With().
		Str("content_id", job.ContentID.String()).
		Int("attempt", job.Attempt).
		Logger()

	item, err := p.claim(ctx, job)
	switch {
	case errors.Is(err, models.ErrClaimConflict):
		log.Debug().Msg("job not admitted, acknowledging as no-op")
		return d.Ack(ctx)
	case errors.Is(err, models.ErrNotFound):
		log.Warn().Msg("job references unknown content, dropping")
		return d.Ack(ctx)
	case err != nil:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if nerr := d.Nack(ctx, p.cfg.RetryDelay); nerr != nil {
			log.Error().Err(nerr).Msg("failed to nack job")
		}
		return fmt.Errorf("claim %s: %w", job.ContentID, err)
	}

	log.Info().Msg("content claimed")
	started := p.clock()

	l := &lease{token: item.Token()}
	err = p.run(ctx, item, l)
	switch {
	case err == nil:
		log.Info().Dur("elapsed", p.clock().Sub(started)).Msg("content ready")
		return d.Ack(ctx)
	case ctx.Err() != nil:
		// Left PROCESSING; the stale sweeper takes it from here.
		log.Warn().Err(err).Msg("processing interrupted")
		return ctx.Err()
	case errors.Is(err, errLeaseLost):
		log.Warn().Msg("item changed while processing, abandoning attempt")
		return d.Ack(ctx)
	}

	return p.fail(ctx, d, job, l, err, log)
}

func (p *Processor) claim(ctx context.Context, job models.TranscodeJob) (*models.ContentItem, error) {
	var claimed *models.ContentItem
	err := retry.Do(ctx, p.cfg.StoreRetry, func(ctx context.Context) error {
		cur, err := p.repo.GetByID(ctx, job.ContentID)
		if err != nil {
			return err
		}
		if !domain.Claimable(cur, job.Attempt) {
			return models.ErrClaimConflict
		}
		attempts, progress := cur.Attempts+1, 0
		next, err := p.repo.CompareAndSwap(ctx, cur.ID, cur.Token(), models.Update{
			Status:   models.ProcessingStatus,
			Attempts: &attempts,
			Progress: &progress,
		})
		if errors.Is(err, models.ErrConflict) {
			return models.ErrClaimConflict
		}
		if err != nil {
			return err
		}
		claimed = next
		return nil
	})
	return claimed, err
}

// run holds the lease with a heartbeat until the item is READY or the attempt ends.
func (p *Processor) run(ctx context.Context, item *models.ContentItem, l *lease) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		p.heartbeat(runCtx, cancel, item.ID, l)
	}()

	err := p.process(runCtx, item, l)
	cancel()
	<-hbDone

	switch {
	case err == nil:
		return nil
	case l.isLost():
		return errLeaseLost
	}
	return err
}

func (p *Processor) process(ctx context.Context, item *models.ContentItem, l *lease) error {
	res, err := p.transcode(ctx, item)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := res.Cleanup(); cerr != nil {
			p.logger.Warn().Err(cerr).Msg("failed to remove transcode work dir")
		}
	}()
	if l.isLost() {
		return errLeaseLost
	}
	return p.commit(ctx, item, res, l)
}

func (p *Processor) transcode(ctx context.Context, item *models.ContentItem) (*transcode.Result, error) {
	var res *transcode.Result
	err := retry.Do(ctx, p.cfg.StoreRetry, func(ctx context.Context) error {
		src, err := p.store.Get(ctx, item.RawAssetRef)
		if err != nil {
			return fmt.Errorf("read raw asset: %w", err)
		}
		defer src.Close()

		res, err = p.transcoder.Transcode(ctx, src, p.progressReporter(ctx, item.ID))
		if err != nil {
			return fmt.Errorf("transcode: %w", err)
		}
		return nil
	})
	return res, err
}

// progressReporter records transcode progress outside the lease token,
// so reports never race the heartbeat or the final swap.
func (p *Processor) progressReporter(ctx context.Context, id uuid.UUID) transcode.ProgressFunc {
	return func(percent int) {
		if err := p.repo.SetProgress(ctx, id, percent); err != nil && ctx.Err() == nil {
			p.logger.Debug().Err(err).Str("content_id", id.String()).Int("progress", percent).Msg("progress not recorded")
		}
	}
}

func (p *Processor) commit(ctx context.Context, item *models.ContentItem, res *transcode.Result, l *lease) error {
	video, ok := res.Artifact(transcode.Video)
	if !ok {
		return errors.New("transcoder produced no video artifact")
	}

	key := DerivativeKey(p.cfg.DerivativePrefix, item.ID)
	if err := p.upload(ctx, key, video); err != nil {
		return err
	}

	noError, done := "", 100
	upd := models.Update{
		Status:             models.ReadyStatus,
		DerivativeAssetRef: &key,
		DurationSeconds:    &res.DurationSeconds,
		SizeBytes:          &video.Size,
		LastError:          &noError,
		Progress:           &done,
	}

	if sub, ok := res.Artifact(transcode.Subtitles); ok {
		subKey := SubtitleKey(p.cfg.SubtitlePrefix, item.ID)
		if err := p.upload(ctx, subKey, sub); err != nil {
			p.logger.Warn().Err(err).Str("content_id", item.ID.String()).Msg("subtitle upload failed, publishing without subtitles")
		} else {
			upd.SubtitleAssetRef = &subKey
		}
	}

	return p.swap(ctx, item.ID, l, upd)
}

func (p *Processor) upload(ctx context.Context, key string, a transcode.Artifact) error {
	return retry.Do(ctx, p.cfg.StoreRetry, func(ctx context.Context) error {
		f, err := a.Open()
		if err != nil {
			return fmt.Errorf("open %s artifact: %w", a.Kind, err)
		}
		defer f.Close()
		if err := p.store.Put(ctx, key, f, a.Size, a.ContentType); err != nil {
			return fmt.Errorf("write %s: %w", key, err)
		}
		return nil
	})
}

// swap applies upd with the lease token and releases the lease, mapping a
// lost guard to errLeaseLost.
func (p *Processor) swap(ctx context.Context, id uuid.UUID, l *lease, upd models.Update) error {
	err := l.swap(true, func(token models.Expected) (*models.ContentItem, error) {
		var next *models.ContentItem
		err := retry.Do(ctx, p.cfg.StoreRetry, func(ctx context.Context) error {
			var err error
			next, err = p.repo.CompareAndSwap(ctx, id, token, upd)
			return err
		})
		return next, err
	})
	if errors.Is(err, models.ErrConflict) || errors.Is(err, models.ErrNotFound) || errors.Is(err, errLeaseReleased) {
		return errLeaseLost
	}
	if err != nil {
		return fmt.Errorf("commit %s: %w", upd.Status, err)
	}
	return nil
}

func (p *Processor) fail(ctx context.Context, d queue.Delivery, job models.TranscodeJob, l *lease, cause error, log zerolog.Logger) error {
	failure := &models.TranscodeFailure{Attempt: job.Attempt, Err: cause}
	msg := failure.Error()

	err := p.swap(ctx, job.ContentID, l, models.Update{Status: models.FailedStatus, LastError: &msg})
	if errors.Is(err, errLeaseLost) {
		log.Warn().Err(cause).Msg("attempt failed after item changed, abandoning")
		return d.Ack(ctx)
	}
	if err != nil {
		// Still PROCESSING; the sweeper fails it once the lease goes stale.
		log.Error().Err(err).AnErr("cause", cause).Msg("failed to record transcode failure")
		if aerr := d.Ack(ctx); aerr != nil {
			log.Error().Err(aerr).Msg("failed to ack job")
		}
		return err
	}

	next := job.Attempt + 1
	if next >= p.cfg.MaxAttempts {
		log.Error().Err(cause).Int("max_attempts", p.cfg.MaxAttempts).Msg("transcode failed permanently")
		if aerr := d.Ack(ctx); aerr != nil {
			return aerr
		}
		return failure
	}

	now := p.clock()
	retryJob := models.NewTranscodeJob(job.ContentID, next, now).Delayed(now, p.cfg.RetryDelay)
	publishPolicy := p.cfg.StoreRetry
	publishPolicy.Retriable = retry.Always
	if perr := retry.Do(ctx, publishPolicy, func(ctx context.Context) error {
		return p.publisher.Publish(ctx, retryJob)
	}); perr != nil {
		log.Error().Err(perr).Msg("failed to enqueue retry, item stays FAILED until an operator retry")
	} else {
		log.Warn().Err(cause).Int("next_attempt", next).Dur("retry_in", p.cfg.RetryDelay).Msg("transcode failed, retry scheduled")
	}

	if nerr := d.Nack(ctx, p.cfg.RetryDelay); nerr != nil {
		return nerr
	}
	return failure
}

func (p *Processor) heartbeat(ctx context.Context, cancel context.CancelFunc, id uuid.UUID, l *lease) {
	if p.cfg.HeartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := l.swap(false, func(token models.Expected) (*models.ContentItem, error) {
			return p.repo.CompareAndSwap(ctx, id, token, models.Update{Status: models.ProcessingStatus})
		})
		switch {
		case err == nil:
		case errors.Is(err, errLeaseReleased):
			return
		case errors.Is(err, models.ErrConflict), errors.Is(err, models.ErrNotFound):
			l.markLost()
			cancel()
			return
		case ctx.Err() != nil:
			return
		default:
			p.logger.Warn().Err(err).Str("content_id", id.String()).Msg("heartbeat failed")
		}
	}
}

var errLeaseReleased = errors.New("lease released")

// lease tracks the token a worker must present while it owns an item.
type lease struct {
	// op serializes swaps so a heartbeat never presents a token the final
	// swap is about to replace.
	op sync.Mutex

	mu       sync.Mutex
	token    models.Expected
	lost     bool
	released bool
}

// swap runs fn with the current token and adopts the token it returns.
// A successful final swap releases the lease and later swaps are refused.
func (l *lease) swap(final bool, fn func(token models.Expected) (*models.ContentItem, error)) error {
	l.op.Lock()
	defer l.op.Unlock()

	l.mu.Lock()
	released, token := l.released, l.token
	l.mu.Unlock()
	if released {
		return errLeaseReleased
	}

	next, err := fn(token)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.token = next.Token()
	l.released = final
	l.mu.Unlock()
	return nil
}

func (l *lease) markLost() {
	l.mu.Lock()
	l.lost = true
	l.mu.Unlock()
}

func (l *lease) isLost() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lost
}
