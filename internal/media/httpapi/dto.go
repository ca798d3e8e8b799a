package httpapi

import (
	"time"

	"github.com/google/uuid"

	"github.com/romariotrain/vod-pipeline/internal/media/models"
)

type IngestRequest struct {
	RawAssetRef string      `json:"raw_asset_ref"`
	Kind        models.Kind `json:"kind"`
}

type ContentResponse struct {
	ID                 uuid.UUID   `json:"id"`
	Kind               models.Kind `json:"kind"`
	Status             string      `json:"status"`
	RawAssetRef        string      `json:"raw_asset_ref"`
	DerivativeAssetRef string      `json:"derivative_asset_ref,omitempty"`
	SubtitleAssetRef   string      `json:"subtitle_asset_ref,omitempty"`
	DurationSeconds    float64     `json:"duration_seconds,omitempty"`
	SizeBytes          int64       `json:"size_bytes,omitempty"`
	Attempts           int         `json:"attempts"`
	Progress           int         `json:"progress"`
	LastError          string      `json:"last_error,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

func toContentResponse(c *models.ContentItem) ContentResponse {
	return ContentResponse{
		ID:                 c.ID,
		Kind:               c.Kind,
		Status:             string(c.Status),
		RawAssetRef:        c.RawAssetRef,
		DerivativeAssetRef: c.DerivativeAssetRef,
		SubtitleAssetRef:   c.SubtitleAssetRef,
		DurationSeconds:    c.DurationSeconds,
		SizeBytes:          c.SizeBytes,
		Attempts:           c.Attempts,
		Progress:           c.Progress,
		LastError:          c.LastError,
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
	}
}

type ProgressResponse struct {
	ContentID uuid.UUID `json:"content_id"`
	Status    string    `json:"status"`
	Progress  int       `json:"progress"`
}
