package model

import (
	"errors"
	"fmt"
)

// Sentinel errors for structural graph violations and lifecycle misuse.
// These are always returned, never panicked; callers branch with
// errors.Is and surface the wrapped context to reviewers.
var (
	// ErrCycleDetected: the edge would make a person their own ancestor.
	// The write is rejected, never auto-corrected.
	ErrCycleDetected = errors.New("cycle detected")

	// ErrDuplicateEdge: an identical edge already exists. The store maps
	// this to an idempotent no-op at its boundary.
	ErrDuplicateEdge = errors.New("duplicate edge")

	// ErrInvalidRelationshipType: unknown type code, rejected up front.
	ErrInvalidRelationshipType = errors.New("invalid relationship type")

	// ErrDepthExceeded: traversal hit the depth bound before resolving.
	// Degrades to an "unknown relationship" result, not a failure.
	ErrDepthExceeded = errors.New("max traversal depth exceeded")

	// ErrMergeConflict: accepting a bridge or duplicate merge would
	// produce a contradictory graph.
	ErrMergeConflict = errors.New("merge conflict")

	ErrNotFound = errors.New("not found")

	// ErrRequestExpired: the bridge request passed its TTL unanswered.
	ErrRequestExpired = errors.New("request expired")

	// ErrRequestSettled: the request or duplicate pair already reached a
	// terminal state; the second actor observes it and no-ops.
	ErrRequestSettled = errors.New("request already settled")

	// ErrWeakHint: the common-ancestor hint matched nobody in the
	// target's tree well enough to create a bridge request.
	ErrWeakHint = errors.New("common ancestor hint unsupported")
)

// ConflictError wraps a structural error with the specific person/edge a
// human reviewer needs to resolve the situation manually.
type ConflictError struct {
	Err      error
	PersonID string
	EdgeID   string
	Detail   string
}

func (e *ConflictError) Error() string {
	msg := e.Err.Error()
	if e.PersonID != "" {
		msg = fmt.Sprintf("%s: person %s", msg, e.PersonID)
	}
	if e.EdgeID != "" {
		msg = fmt.Sprintf("%s: edge %s", msg, e.EdgeID)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Detail)
	}
	return msg
}

func (e *ConflictError) Unwrap() error { return e.Err }

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
