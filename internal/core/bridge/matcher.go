// Package bridge handles cross-tree connection requests: one user claims
// kinship with a person in another tree, names the ancestor they believe
// the trees share, and the other side accepts or rejects. Accepting
// writes a real edge through the store, so every graph invariant applies.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/famlinks/kinship/internal/config"
	"github.com/famlinks/kinship/internal/core/dedupe"
	"github.com/famlinks/kinship/internal/core/traverse"
	"github.com/famlinks/kinship/internal/driver"
	"github.com/famlinks/kinship/internal/model"
	"github.com/famlinks/kinship/internal/store"
)

// Matcher creates and settles bridge requests.
type Matcher struct {
	d     driver.Driver
	store *store.GraphStore
	trav  *traverse.Traversal
	cfg   config.BridgeConfig
	log   *slog.Logger

	// now is swapped out in tests to drive TTL expiry.
	now func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewMatcher(d driver.Driver, st *store.GraphStore, trav *traverse.Traversal, cfg config.BridgeConfig, log *slog.Logger) *Matcher {
	if log == nil {
		log = slog.Default()
	}
	return &Matcher{
		d: d, store: st, trav: trav, cfg: cfg, log: log,
		now:   func() time.Time { return time.Now().UTC() },
		locks: make(map[string]*sync.Mutex),
	}
}

func (m *Matcher) lockRequest(id string) func() {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Propose creates a pending request from requester to target. The
// common-ancestor hint must fuzzy-match someone in the target's tree at
// or above the configured support floor, otherwise the claim is too thin
// to bother the target with.
func (m *Matcher) Propose(ctx context.Context, requesterID, targetID, claimedType string, hint model.AncestorHint) (model.BridgeRequest, error) {
	if requesterID == targetID {
		return model.BridgeRequest{}, fmt.Errorf("cannot bridge %s to itself", requesterID)
	}
	if !m.store.Catalog().IsValidType(claimedType) {
		return model.BridgeRequest{}, fmt.Errorf("claimed type %q: %w", claimedType, model.ErrInvalidRelationshipType)
	}
	if _, err := m.store.GetPerson(ctx, requesterID); err != nil {
		return model.BridgeRequest{}, err
	}
	if _, err := m.store.GetPerson(ctx, targetID); err != nil {
		return model.BridgeRequest{}, err
	}
	if hint.Name == "" {
		return model.BridgeRequest{}, fmt.Errorf("a common ancestor hint is required")
	}

	support, matchID, err := m.hintSupport(ctx, targetID, hint)
	if err != nil {
		return model.BridgeRequest{}, err
	}
	if support < m.cfg.MinHintSupport {
		return model.BridgeRequest{}, fmt.Errorf("hint %q found no match in the target's tree (support %.2f, need %.2f): %w",
			hint.Name, support, m.cfg.MinHintSupport, model.ErrWeakHint)
	}

	now := m.now()
	req := model.BridgeRequest{
		ID:           uuid.New().String(),
		RequesterID:  requesterID,
		TargetID:     targetID,
		ClaimedType:  claimedType,
		Hint:         hint,
		HintSupport:  support,
		HintPersonID: matchID,
		Status:       model.BridgePending,
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.cfg.TTL()),
	}
	if err := m.d.SaveBridgeRequest(ctx, req); err != nil {
		return model.BridgeRequest{}, err
	}
	m.log.Info("bridge proposed", "request", req.ID,
		"requester", requesterID, "target", targetID,
		"hint", hint.Name, "support", support)
	return req, nil
}

func (m *Matcher) Get(ctx context.Context, id string) (model.BridgeRequest, error) {
	return m.d.GetBridgeRequest(ctx, id)
}

func (m *Matcher) List(ctx context.Context, status model.BridgeStatus) ([]model.BridgeRequest, error) {
	return m.d.ListBridgeRequests(ctx, status)
}

// Accept settles the request by writing the established edge. When the
// write is rejected (a cycle, a conflicting merge) the request reverts
// to pending with the failure recorded, so the parties can correct the
// claim instead of losing it. An expired request cannot be accepted.
func (m *Matcher) Accept(ctx context.Context, id, establishedType string) (model.BridgeRequest, error) {
	release := m.lockRequest(id)
	defer release()

	req, err := m.settleable(ctx, id, model.BridgeAccepted)
	if err != nil {
		return req, err
	}

	if establishedType == "" {
		establishedType = req.ClaimedType
	}
	if !m.store.Catalog().IsValidType(establishedType) {
		return req, fmt.Errorf("established type %q: %w", establishedType, model.ErrInvalidRelationshipType)
	}

	// The tree may have changed since the proposal; refresh the hint so
	// the audit trail reflects what the acceptor actually saw.
	if support, matchID, err := m.hintSupport(ctx, req.TargetID, req.Hint); err == nil {
		if support < m.cfg.MinHintSupport {
			m.log.Warn("bridge hint support dropped below floor",
				"request", req.ID, "support", support)
		}
		req.HintSupport = support
		req.HintPersonID = matchID
	}

	edgeID, err := m.store.AddEdge(ctx, req.RequesterID, req.TargetID, establishedType, model.EdgeQualifiers{})
	if err != nil {
		req.Status = model.BridgePending
		req.Reason = fmt.Sprintf("acceptance failed: %v", err)
		if saveErr := m.d.SaveBridgeRequest(ctx, req); saveErr != nil {
			return req, saveErr
		}
		return req, err
	}
	m.store.NoteBridgeAccepted(req.ID, edgeID, []string{req.RequesterID, req.TargetID})

	now := m.now()
	req.Status = model.BridgeAccepted
	req.EstablishedType = establishedType
	req.Reason = ""
	req.RespondedAt = &now
	if err := m.d.SaveBridgeRequest(ctx, req); err != nil {
		return req, err
	}
	m.log.Info("bridge accepted", "request", req.ID, "type", establishedType)
	return req, nil
}

// Reject settles the request without touching the graph.
func (m *Matcher) Reject(ctx context.Context, id, reason string) (model.BridgeRequest, error) {
	release := m.lockRequest(id)
	defer release()

	req, err := m.settleable(ctx, id, model.BridgeRejected)
	if err != nil {
		return req, err
	}

	now := m.now()
	req.Status = model.BridgeRejected
	req.Reason = reason
	req.RespondedAt = &now
	if err := m.d.SaveBridgeRequest(ctx, req); err != nil {
		return req, err
	}
	m.log.Info("bridge rejected", "request", req.ID, "reason", reason)
	return req, nil
}

// settleable loads the request and verifies it can still move to want.
// TTL expiry is applied lazily here, so an unanswered request flips to
// expired the first time anyone touches it past the deadline.
func (m *Matcher) settleable(ctx context.Context, id string, want model.BridgeStatus) (model.BridgeRequest, error) {
	req, err := m.d.GetBridgeRequest(ctx, id)
	if err != nil {
		return model.BridgeRequest{}, err
	}

	if req.ExpiredBy(m.now()) {
		req.Status = model.BridgeExpired
		if err := m.d.SaveBridgeRequest(ctx, req); err != nil {
			return req, err
		}
		return req, fmt.Errorf("request %s: %w", id, model.ErrRequestExpired)
	}

	switch req.Status {
	case model.BridgePending:
		return req, nil
	case want:
		return req, fmt.Errorf("request %s: %w", id, model.ErrRequestSettled)
	case model.BridgeExpired:
		return req, fmt.Errorf("request %s: %w", id, model.ErrRequestExpired)
	default:
		return req, fmt.Errorf("request %s is %s: %w", id, req.Status, model.ErrRequestSettled)
	}
}

// ExpireStale flips every pending request past its TTL to expired.
// Returns how many were expired. Run periodically; lazy expiry in
// settleable covers requests touched in between.
func (m *Matcher) ExpireStale(ctx context.Context) (int, error) {
	pending, err := m.d.ListBridgeRequests(ctx, model.BridgePending)
	if err != nil {
		return 0, err
	}
	now := m.now()
	n := 0
	for _, req := range pending {
		if !req.ExpiredBy(now) {
			continue
		}
		req.Status = model.BridgeExpired
		if err := m.d.SaveBridgeRequest(ctx, req); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		m.log.Info("expired stale bridge requests", "count", n)
	}
	return n, nil
}

// hintSupport fuzzy-matches the hint against the target's known tree:
// the target, their bounded ancestors and descendants. Returns the best
// score and the person it came from.
func (m *Matcher) hintSupport(ctx context.Context, targetID string, hint model.AncestorHint) (float64, string, error) {
	ids := []string{targetID}
	up, err := m.trav.AncestorsOf(ctx, targetID, 0)
	if err != nil {
		return 0, "", err
	}
	for _, n := range up.Nodes {
		ids = append(ids, n.ID)
	}
	down, err := m.trav.DescendantsOf(ctx, targetID, 0)
	if err != nil {
		return 0, "", err
	}
	for _, n := range down.Nodes {
		ids = append(ids, n.ID)
	}

	want := dedupe.Normalize(hint.Name)
	best, bestID := 0.0, ""
	for _, id := range ids {
		p, err := m.store.GetPerson(ctx, id)
		if err != nil {
			return 0, "", err
		}
		score := JaroWinklerName(want, p)
		if hint.BirthYear != 0 && p.BirthDate != nil {
			diff := p.BirthDate.Year() - hint.BirthYear
			if diff < 0 {
				diff = -diff
			}
			if diff > 5 {
				score *= 0.5
			}
		}
		if score > best {
			best, bestID = score, id
		}
	}
	return best, bestID, nil
}

// JaroWinklerName scores a normalized query against a person's recorded
// names, taking the best over the married and maiden forms.
func JaroWinklerName(normalizedQuery string, p model.Person) float64 {
	best := dedupe.JaroWinkler(normalizedQuery, dedupe.Normalize(p.FullName()))
	if p.MaidenName != "" {
		alt := dedupe.Normalize(p.FirstName + " " + p.MaidenName)
		if s := dedupe.JaroWinkler(normalizedQuery, alt); s > best {
			best = s
		}
	}
	return best
}
