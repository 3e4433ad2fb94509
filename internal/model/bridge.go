package model

import "time"

type BridgeStatus string

const (
	BridgePending  BridgeStatus = "pending"
	BridgeAccepted BridgeStatus = "accepted"
	BridgeRejected BridgeStatus = "rejected"
	BridgeExpired  BridgeStatus = "expired"
)

// AncestorHint is the requester's pointer at a person believed to exist
// in the target's tree. Matching is fuzzy: name plus optional birth year.
type AncestorHint struct {
	Name      string `json:"name"`
	BirthYear int    `json:"birth_year,omitempty"`
}

// BridgeRequest is a claimed connection between two disjoint trees,
// awaiting the target's response. Unanswered requests expire after the
// configured TTL and can no longer be accepted.
type BridgeRequest struct {
	ID          string       `json:"id"`
	RequesterID string       `json:"requester_id"`
	TargetID    string       `json:"target_id"`
	ClaimedType string       `json:"claimed_relationship"`
	Hint        AncestorHint `json:"common_ancestor_hint"`

	// HintSupport is the best fuzzy-match score of the hint against the
	// target's tree at proposal time; HintPersonID the person it matched.
	HintSupport  float64 `json:"hint_support"`
	HintPersonID string  `json:"hint_person_id,omitempty"`

	Status          BridgeStatus `json:"status"`
	EstablishedType string       `json:"established_relationship_type,omitempty"`

	// Reason explains a revert-to-pending after a failed acceptance, or
	// a rejection. Surfaced to both parties.
	Reason string `json:"reason,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
}

// ExpiredBy reports whether the request is past its TTL at t while still
// unanswered.
func (r BridgeRequest) ExpiredBy(t time.Time) bool {
	return r.Status == BridgePending && t.After(r.ExpiresAt)
}
