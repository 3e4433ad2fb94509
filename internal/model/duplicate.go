package model

import "time"

type DuplicateStatus string

const (
	DuplicatePending   DuplicateStatus = "pending"
	DuplicateConfirmed DuplicateStatus = "confirmed"
	DuplicateRejected  DuplicateStatus = "rejected"
)

// MatchReason records one scoring signal so a reviewer can see exactly
// why a pair was proposed. Contribution = Weight * Score, and the sum of
// contributions over the fired signals, normalized by total weight,
// yields the confidence.
type MatchReason struct {
	Signal       string  `json:"signal"`
	Detail       string  `json:"detail"`
	Weight       float64 `json:"weight"`
	Score        float64 `json:"score"`
	Contribution float64 `json:"contribution"`
}

// PotentialDuplicate is a proposed pair awaiting human review. The
// detector only ever creates these; confirm/reject is a reviewer action.
type PotentialDuplicate struct {
	ID              string          `json:"id"`
	ProfileAID      string          `json:"profile_a"`
	ProfileBID      string          `json:"profile_b"`
	Confidence      float64         `json:"confidence_score"`
	Reasons         []MatchReason   `json:"match_reasons"`
	SharedRelatives int             `json:"shared_relatives_count"`
	Status          DuplicateStatus `json:"status"`
	KeptProfileID   string          `json:"kept_profile_id,omitempty"`
	ReviewedBy      string          `json:"reviewed_by,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
}

// Settled reports whether the pair has reached a terminal state.
func (d PotentialDuplicate) Settled() bool {
	return d.Status == DuplicateConfirmed || d.Status == DuplicateRejected
}

// MergeResult summarizes a confirmed-duplicate merge for audit logging.
type MergeResult struct {
	KeptID           string `json:"kept_id"`
	MergedID         string `json:"merged_id"`
	EdgesTransferred int    `json:"edges_transferred"`
	EdgesSkipped     int    `json:"edges_skipped"`
}
