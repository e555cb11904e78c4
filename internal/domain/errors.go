package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicate signals an already-ingested fingerprint; benign, no-op.
	ErrDuplicate = errors.New("duplicate ingestion")

	// ErrNotFound signals a fingerprint absent from the store.
	ErrNotFound = errors.New("item not found")

	// ErrInvalidState rejects a moderator decision against the wrong state.
	ErrInvalidState = errors.New("invalid state for decision")

	// ErrInvalidTime rejects a schedule request that is not strictly future.
	ErrInvalidTime = errors.New("scheduled time must be in the future")
)

// EngineError marks a transient scoring failure: timeout, quota,
// malformed response, or an out-of-range score.
type EngineError struct {
	Reason string
	Err    error
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("engine: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("engine: %s", e.Reason)
}

func (e *EngineError) Unwrap() error { return e.Err }

// PublishError marks a transient delivery failure to the destination feed.
type PublishError struct {
	Err error
}

func (e *PublishError) Error() string { return fmt.Sprintf("publish: %v", e.Err) }

func (e *PublishError) Unwrap() error { return e.Err }
