// Package delivery serves READY derivatives with byte-range support.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/romariotrain/vod-pipeline/internal/media/models"
	"github.com/romariotrain/vod-pipeline/internal/media/objectstore"
	"github.com/romariotrain/vod-pipeline/internal/retry"
)

const (
	videoContentType    = "video/mp4"
	subtitleContentType = "text/vtt"
)

type ContentReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.ContentItem, error)
}

// ViewRecorder counts playback starts. It is never part of a status transition.
type ViewRecorder interface {
	RecordView(ctx context.Context, id uuid.UUID) error
}

// Stream is an open read of [Start, End] of an object of Total bytes.
type Stream struct {
	Body        io.ReadCloser
	Start       int64
	End         int64
	Total       int64
	Partial     bool
	ContentType string
}

// Length is the number of bytes Body yields.
func (s *Stream) Length() int64 {
	return s.End - s.Start + 1
}

type Config struct {
	StoreRetry retry.Policy
	Views      ViewRecorder
	Logger     zerolog.Logger
}

type Service struct {
	content ContentReader
	store   objectstore.Store
	views   ViewRecorder
	retry   retry.Policy
	logger  zerolog.Logger
}

func New(content ContentReader, store objectstore.Store, cfg Config) *Service {
	return &Service{
		content: content,
		store:   store,
		views:   cfg.Views,
		retry:   cfg.StoreRetry,
		logger:  cfg.Logger.With().Str("component", "delivery").Logger(),
	}
}

// Serve opens the requested span of a READY item's derivative. Unknown and
// not-yet-READY items both yield models.ErrNotReady.
func (s *Service) Serve(ctx context.Context, id uuid.UUID, rng *ByteRange) (*Stream, error) {
	item, err := s.ready(ctx, id)
	if err != nil {
		return nil, err
	}

	total := item.SizeBytes
	if total <= 0 {
		if total, err = s.size(ctx, item.DerivativeAssetRef); err != nil {
			return nil, err
		}
	}

	start, end, err := rng.Resolve(total)
	if err != nil {
		return nil, &RangeError{Total: total, Err: err}
	}

	var body io.ReadCloser
	err = retry.Do(ctx, s.retry, func(ctx context.Context) error {
		var err error
		body, err = s.store.GetRange(ctx, item.DerivativeAssetRef, start, end)
		return err
	})
	if err != nil {
		if errors.Is(err, models.ErrRangeNotSatisfiable) {
			return nil, &RangeError{Total: total, Err: err}
		}
		return nil, fmt.Errorf("read derivative %s: %w", item.DerivativeAssetRef, err)
	}

	if start == 0 {
		s.recordView(ctx, id)
	}

	return &Stream{
		Body:        body,
		Start:       start,
		End:         end,
		Total:       total,
		Partial:     rng != nil,
		ContentType: videoContentType,
	}, nil
}

// ServeSubtitle opens the WebVTT track of a READY item. Items without one yield models.ErrNotFound.
func (s *Service) ServeSubtitle(ctx context.Context, id uuid.UUID) (*Stream, error) {
	item, err := s.ready(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.SubtitleAssetRef == "" {
		return nil, models.ErrNotFound
	}

	total, err := s.size(ctx, item.SubtitleAssetRef)
	if err != nil {
		return nil, err
	}

	var body io.ReadCloser
	if err := retry.Do(ctx, s.retry, func(ctx context.Context) error {
		var err error
		body, err = s.store.Get(ctx, item.SubtitleAssetRef)
		return err
	}); err != nil {
		return nil, fmt.Errorf("read subtitles %s: %w", item.SubtitleAssetRef, err)
	}

	return &Stream{
		Body:        body,
		Start:       0,
		End:         total - 1,
		Total:       total,
		ContentType: subtitleContentType,
	}, nil
}

func (s *Service) ready(ctx context.Context, id uuid.UUID) (*models.ContentItem, error) {
	if id == uuid.Nil {
		return nil, models.ErrInvalidArgument
	}
	item, err := s.content.GetByID(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrNotReady
	}
	if err != nil {
		return nil, fmt.Errorf("load content %s: %w", id, err)
	}
	if item.Status != models.ReadyStatus {
		return nil, models.ErrNotReady
	}
	return item, nil
}

func (s *Service) size(ctx context.Context, key string) (int64, error) {
	var total int64
	err := retry.Do(ctx, s.retry, func(ctx context.Context) error {
		var err error
		total, err = s.store.Size(ctx, key)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", key, err)
	}
	return total, nil
}

func (s *Service) recordView(ctx context.Context, id uuid.UUID) {
	if s.views == nil {
		return
	}
	if err := s.views.RecordView(ctx, id); err != nil {
		s.logger.Warn().Err(err).Str("content_id", id.String()).Msg("failed to record view")
	}
}

// RangeError reports an unsatisfiable range together with the object size
// needed for the Content-Range header of the response.
type RangeError struct {
	Total int64
	Err   error
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("range not satisfiable for %d bytes", e.Total)
}

func (e *RangeError) Unwrap() error { return e.Err }
