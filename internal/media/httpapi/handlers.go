package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/romariotrain/vod-pipeline/internal/media/delivery"
	"github.com/romariotrain/vod-pipeline/internal/media/models"
	"github.com/romariotrain/vod-pipeline/internal/media/service"
)

type Ingestor interface {
	Ingest(ctx context.Context, req service.IngestRequest) (*models.ContentItem, error)
	Get(ctx context.Context, id uuid.UUID) (*models.ContentItem, error)
	Retry(ctx context.Context, id uuid.UUID) (*models.ContentItem, error)
}

type Streamer interface {
	Serve(ctx context.Context, id uuid.UUID, rng *delivery.ByteRange) (*delivery.Stream, error)
	ServeSubtitle(ctx context.Context, id uuid.UUID) (*delivery.Stream, error)
}

type Handler struct {
	svc    Ingestor
	stream Streamer
	logger zerolog.Logger
}

func New(svc Ingestor, stream Streamer, logger zerolog.Logger) *Handler {
	return &Handler{
		svc:    svc,
		stream: stream,
		logger: logger.With().Str("component", "httpapi").Logger(),
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid json body")
		return
	}

	c, err := h.svc.Ingest(r.Context(), service.IngestRequest{RawAssetRef: req.RawAssetRef, Kind: req.Kind})
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidArgument):
			writeErrorJSON(w, http.StatusBadRequest, "invalid argument")
		case errors.Is(err, models.ErrObjectNotFound):
			writeErrorJSON(w, http.StatusUnprocessableEntity, "raw asset not found")
		default:
			h.internalError(w, r, err)
		}
		return
	}

	writeJSON(w, http.StatusCreated, toContentResponse(c))
}

func (h *Handler) GetContent(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadContent(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toContentResponse(c))
}

// Progress is a lightweight poll target for clients waiting on a transcode.
func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadContent(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ProgressResponse{
		ContentID: c.ID,
		Status:    string(c.Status),
		Progress:  c.Progress,
	})
}

func (h *Handler) loadContent(w http.ResponseWriter, r *http.Request) (*models.ContentItem, bool) {
	id, ok := parseID(w, r)
	if !ok {
		return nil, false
	}

	c, err := h.svc.Get(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			writeErrorJSON(w, http.StatusNotFound, "not found")
		case errors.Is(err, models.ErrInvalidArgument):
			writeErrorJSON(w, http.StatusBadRequest, "invalid argument")
		default:
			h.internalError(w, r, err)
		}
		return nil, false
	}
	return c, true
}

func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	c, err := h.svc.Retry(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			writeErrorJSON(w, http.StatusNotFound, "not found")
		case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, models.ErrConflict):
			writeErrorJSON(w, http.StatusConflict, "content is not in a retryable state")
		default:
			h.internalError(w, r, err)
		}
		return
	}

	writeJSON(w, http.StatusAccepted, toContentResponse(c))
}

func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	rng, err := delivery.ParseRange(r.Header.Get("Range"))
	if err != nil {
		// Malformed ranges are ignored and the full object is served.
		h.logger.Debug().Err(err).Str("content_id", id.String()).Msg("ignoring range header")
		rng = nil
	}

	s, err := h.stream.Serve(r.Context(), id, rng)
	if err != nil {
		h.streamError(w, r, id, err)
		return
	}
	h.writeStream(w, r, s)
}

func (h *Handler) Subtitles(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	s, err := h.stream.ServeSubtitle(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			writeErrorJSON(w, http.StatusNotFound, "no subtitles")
			return
		}
		h.streamError(w, r, id, err)
		return
	}
	h.writeStream(w, r, s)
}

func (h *Handler) streamError(w http.ResponseWriter, r *http.Request, id uuid.UUID, err error) {
	var rerr *delivery.RangeError
	switch {
	case errors.As(err, &rerr):
		h.logger.Debug().Str("content_id", id.String()).Str("range", r.Header.Get("Range")).Msg("range not satisfiable")
		w.Header().Set("Content-Range", delivery.UnsatisfiedRange(rerr.Total))
		writeErrorJSON(w, http.StatusRequestedRangeNotSatisfiable, "range not satisfiable")
	case errors.Is(err, models.ErrNotReady):
		h.logger.Debug().Str("content_id", id.String()).Msg("content not ready")
		writeErrorJSON(w, http.StatusNotFound, "content not ready")
	case errors.Is(err, models.ErrInvalidArgument):
		writeErrorJSON(w, http.StatusBadRequest, "invalid argument")
	case errors.Is(err, models.ErrStorageUnavailable):
		h.logger.Error().Err(err).Str("content_id", id.String()).Msg("object store unavailable")
		writeErrorJSON(w, http.StatusServiceUnavailable, "storage unavailable")
	default:
		h.internalError(w, r, err)
	}
}

func (h *Handler) writeStream(w http.ResponseWriter, r *http.Request, s *delivery.Stream) {
	defer s.Body.Close()

	w.Header().Set("Content-Type", s.ContentType)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Length", strconv.FormatInt(s.Length(), 10))

	status := http.StatusOK
	if s.Partial {
		w.Header().Set("Content-Range", delivery.ContentRange(s.Start, s.End, s.Total))
		status = http.StatusPartialContent
	}
	w.WriteHeader(status)

	if _, err := io.Copy(w, s.Body); err != nil && r.Context().Err() == nil {
		h.logger.Warn().Err(err).Msg("stream copy interrupted")
	}
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
	writeErrorJSON(w, http.StatusInternalServerError, "internal error")
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorJSON(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
