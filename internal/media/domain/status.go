package domain

import (
	"fmt"

	"github.com/romariotrain/vod-pipeline/internal/media/models"
)

// CanTransition reports whether the lifecycle allows moving from one status to another.
// PROCESSING->PROCESSING is a lease refresh, FAILED->FAILED re-arms an item for an operator retry.
func CanTransition(from, to models.Status) bool {
	switch from {
	case models.DraftStatus:
		return to == models.ProcessingStatus
	case models.ProcessingStatus:
		return to == models.ReadyStatus || to == models.FailedStatus || to == models.ProcessingStatus
	case models.FailedStatus:
		return to == models.ProcessingStatus || to == models.FailedStatus
	case models.ReadyStatus:
		return false
	default:
		return false
	}
}

func ValidateTransition(from, to models.Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, from, to)
	}
	return nil
}

// Claimable reports whether a job with the given attempt may take ownership of item.
func Claimable(item *models.ContentItem, attempt int) bool {
	if item.Status != models.DraftStatus && item.Status != models.FailedStatus {
		return false
	}
	return item.Attempts == attempt
}

// CheckInvariants validates the record-level invariants that must hold after every transition.
func CheckInvariants(item *models.ContentItem) error {
	if !item.Status.Valid() {
		return fmt.Errorf("unknown status %q", item.Status)
	}
	if item.RawAssetRef == "" {
		return fmt.Errorf("content %s: raw asset ref is empty", item.ID)
	}
	ready := item.Status == models.ReadyStatus
	if ready != (item.DerivativeAssetRef != "") {
		return fmt.Errorf("content %s: derivative ref %q with status %s", item.ID, item.DerivativeAssetRef, item.Status)
	}
	if !ready && item.SubtitleAssetRef != "" {
		return fmt.Errorf("content %s: subtitle ref set with status %s", item.ID, item.Status)
	}
	return nil
}
