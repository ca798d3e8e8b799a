package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrInvalidArgument = errors.New("invalid arguments")

	// ErrClaimConflict means another worker owns the item or the job is stale.
	// It is resolved by acknowledging the job without doing any work.
	ErrClaimConflict = errors.New("claim conflict")

	ErrNotReady            = errors.New("content not ready")
	ErrRangeNotSatisfiable = errors.New("range not satisfiable")
	ErrStorageUnavailable  = errors.New("storage unavailable")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrObjectNotFound      = errors.New("object not found")
)

// IngestionError is returned when the raw asset cannot be registered.
type IngestionError struct {
	RawAssetRef string
	Err         error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingest %q: %v", e.RawAssetRef, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }

// TranscodeFailure wraps any error from the transcode or commit step of one attempt.
type TranscodeFailure struct {
	Attempt int
	Err     error
}

func (e *TranscodeFailure) Error() string {
	return fmt.Sprintf("transcode attempt %d: %v", e.Attempt, e.Err)
}

func (e *TranscodeFailure) Unwrap() error { return e.Err }
