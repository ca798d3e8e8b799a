package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romariotrain/vod-pipeline/internal/media/models"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to models.Status
		want     bool
	}{
		{models.DraftStatus, models.ProcessingStatus, true},
		{models.DraftStatus, models.ReadyStatus, false},
		{models.DraftStatus, models.FailedStatus, false},
		{models.DraftStatus, models.DraftStatus, false},
		{models.ProcessingStatus, models.ReadyStatus, true},
		{models.ProcessingStatus, models.FailedStatus, true},
		{models.ProcessingStatus, models.ProcessingStatus, true},
		{models.ProcessingStatus, models.DraftStatus, false},
		{models.FailedStatus, models.ProcessingStatus, true},
		{models.FailedStatus, models.FailedStatus, true},
		{models.FailedStatus, models.ReadyStatus, false},
		{models.ReadyStatus, models.ProcessingStatus, false},
		{models.ReadyStatus, models.FailedStatus, false},
		{models.ReadyStatus, models.ReadyStatus, false},
		{"bogus", models.ProcessingStatus, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
			err := ValidateTransition(tt.from, tt.to)
			if tt.want {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, models.ErrInvalidTransition)
			}
		})
	}
}

func TestClaimable(t *testing.T) {
	tests := []struct {
		name    string
		status  models.Status
		have    int
		attempt int
		want    bool
	}{
		{name: "fresh draft", status: models.DraftStatus, have: 0, attempt: 0, want: true},
		{name: "failed retry", status: models.FailedStatus, have: 1, attempt: 1, want: true},
		{name: "stale duplicate", status: models.FailedStatus, have: 3, attempt: 1, want: false},
		{name: "processing", status: models.ProcessingStatus, have: 1, attempt: 1, want: false},
		{name: "ready", status: models.ReadyStatus, have: 1, attempt: 1, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := &models.ContentItem{Status: tt.status, Attempts: tt.have}
			assert.Equal(t, tt.want, Claimable(item, tt.attempt))
		})
	}
}

func TestCheckInvariants(t *testing.T) {
	ok := &models.ContentItem{Status: models.ReadyStatus, RawAssetRef: "raw/a", DerivativeAssetRef: "processed/a.mp4"}
	require.NoError(t, CheckInvariants(ok))

	readyWithoutRef := &models.ContentItem{Status: models.ReadyStatus, RawAssetRef: "raw/a"}
	require.Error(t, CheckInvariants(readyWithoutRef))

	failedWithRef := &models.ContentItem{Status: models.FailedStatus, RawAssetRef: "raw/a", DerivativeAssetRef: "processed/a.mp4"}
	require.Error(t, CheckInvariants(failedWithRef))

	noRaw := &models.ContentItem{Status: models.DraftStatus}
	require.Error(t, CheckInvariants(noRaw))
}
