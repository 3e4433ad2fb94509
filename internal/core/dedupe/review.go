package dedupe

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/famlinks/kinship/internal/driver"
	"github.com/famlinks/kinship/internal/model"
	"github.com/famlinks/kinship/internal/store"
)

// Reviewer applies human decisions to proposed duplicate pairs. Actions
// on the same pair are serialized; the second of two concurrent
// reviewers observes the settled state instead of acting twice.
type Reviewer struct {
	d     driver.Driver
	store *store.GraphStore
	log   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewReviewer(d driver.Driver, st *store.GraphStore, log *slog.Logger) *Reviewer {
	if log == nil {
		log = slog.Default()
	}
	return &Reviewer{d: d, store: st, log: log, locks: make(map[string]*sync.Mutex)}
}

func (r *Reviewer) lockPair(id string) func() {
	r.mu.Lock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	r.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// List returns pairs in the given status, or all pairs when status is
// empty, ordered by confidence descending.
func (r *Reviewer) List(ctx context.Context, status model.DuplicateStatus) ([]model.PotentialDuplicate, error) {
	return r.d.ListDuplicates(ctx, status)
}

func (r *Reviewer) Get(ctx context.Context, id string) (model.PotentialDuplicate, error) {
	return r.d.GetDuplicate(ctx, id)
}

// Confirm merges the pair into keptID and marks the proposal confirmed.
// Confirming an already confirmed pair with the same keeper is a no-op
// returning the recorded outcome; a rejected pair cannot be confirmed.
func (r *Reviewer) Confirm(ctx context.Context, dupID, keptID, reviewedBy string) (model.MergeResult, error) {
	release := r.lockPair(dupID)
	defer release()

	dup, err := r.d.GetDuplicate(ctx, dupID)
	if err != nil {
		return model.MergeResult{}, err
	}

	mergedID, err := counterpartOf(dup, keptID)
	if err != nil {
		return model.MergeResult{}, err
	}

	switch dup.Status {
	case model.DuplicateConfirmed:
		if dup.KeptProfileID != keptID {
			return model.MergeResult{}, &model.ConflictError{
				Err:      model.ErrRequestSettled,
				PersonID: dup.KeptProfileID,
				Detail:   "pair already confirmed with a different kept profile",
			}
		}
		return model.MergeResult{KeptID: keptID, MergedID: mergedID}, nil
	case model.DuplicateRejected:
		return model.MergeResult{}, &model.ConflictError{
			Err:    model.ErrRequestSettled,
			Detail: "pair was rejected",
		}
	}

	res, err := r.store.MergePersons(ctx, keptID, mergedID)
	if err != nil {
		return model.MergeResult{}, err
	}

	now := time.Now().UTC()
	dup.Status = model.DuplicateConfirmed
	dup.KeptProfileID = keptID
	dup.ReviewedBy = reviewedBy
	dup.ResolvedAt = &now
	if err := r.d.SaveDuplicate(ctx, dup); err != nil {
		return res, err
	}
	r.log.Info("duplicate confirmed",
		"pair", dupID, "kept", keptID, "merged", mergedID,
		"edges_transferred", res.EdgesTransferred, "edges_skipped", res.EdgesSkipped)
	return res, nil
}

// Reject marks the proposal rejected. Rejecting an already rejected pair
// is a no-op; a confirmed pair cannot be rejected since the merge
// already happened.
func (r *Reviewer) Reject(ctx context.Context, dupID, reviewedBy string) error {
	release := r.lockPair(dupID)
	defer release()

	dup, err := r.d.GetDuplicate(ctx, dupID)
	if err != nil {
		return err
	}
	switch dup.Status {
	case model.DuplicateRejected:
		return nil
	case model.DuplicateConfirmed:
		return &model.ConflictError{
			Err:    model.ErrRequestSettled,
			Detail: "pair was confirmed and merged",
		}
	}

	now := time.Now().UTC()
	dup.Status = model.DuplicateRejected
	dup.ReviewedBy = reviewedBy
	dup.ResolvedAt = &now
	if err := r.d.SaveDuplicate(ctx, dup); err != nil {
		return err
	}
	r.log.Info("duplicate rejected", "pair", dupID, "reviewer", reviewedBy)
	return nil
}

func counterpartOf(dup model.PotentialDuplicate, keptID string) (string, error) {
	switch keptID {
	case dup.ProfileAID:
		return dup.ProfileBID, nil
	case dup.ProfileBID:
		return dup.ProfileAID, nil
	}
	return "", fmt.Errorf("profile %s is not part of pair %s", keptID, dup.ID)
}
