// Package store owns all graph mutation. Every edge write is validated
// against the type catalog, cycle-checked, committed together with its
// inverse, and followed by cache invalidation and a domain event. No
// other component writes to the driver.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/famlinks/kinship/internal/catalog"
	"github.com/famlinks/kinship/internal/core/traverse"
	"github.com/famlinks/kinship/internal/driver"
	"github.com/famlinks/kinship/internal/model"
)

type GraphStore struct {
	driver    driver.Driver
	catalog   *catalog.Catalog
	traversal *traverse.Traversal
	locks     *keyedLocks
	sinks     []model.EventSink
	log       *slog.Logger
}

func New(d driver.Driver, cat *catalog.Catalog, t *traverse.Traversal, log *slog.Logger) *GraphStore {
	if log == nil {
		log = slog.Default()
	}
	return &GraphStore{
		driver:    d,
		catalog:   cat,
		traversal: t,
		locks:     newKeyedLocks(),
		log:       log,
	}
}

// OnEvent registers a sink for committed domain events. Sinks run
// synchronously after commit and must not block.
func (s *GraphStore) OnEvent(sink model.EventSink) {
	s.sinks = append(s.sinks, sink)
}

func (s *GraphStore) emit(ev model.Event) {
	ev.At = time.Now().UTC()
	for _, sink := range s.sinks {
		sink(ev)
	}
}

// Traversal exposes the shared traversal (and through it the cache).
func (s *GraphStore) Traversal() *traverse.Traversal { return s.traversal }

// NoteBridgeAccepted emits the bridge_accepted event after an accepted
// cross-tree request's edge has committed.
func (s *GraphStore) NoteBridgeAccepted(requestID, edgeID string, personIDs []string) {
	s.emit(model.Event{
		Type:      model.EventBridgeAccepted,
		PersonIDs: personIDs,
		EdgeID:    edgeID,
		Payload:   map[string]any{"request_id": requestID},
	})
}

// Catalog exposes the relationship-type catalog.
func (s *GraphStore) Catalog() *catalog.Catalog { return s.catalog }

// --- persons ---

func (s *GraphStore) AddPerson(ctx context.Context, p model.Person) (model.Person, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Gender == "" {
		p.Gender = model.GenderUnknown
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if err := s.driver.UpsertPerson(ctx, p); err != nil {
		return model.Person{}, err
	}
	return p, nil
}

func (s *GraphStore) GetPerson(ctx context.Context, id string) (model.Person, error) {
	return s.driver.GetPerson(ctx, id)
}

func (s *GraphStore) ListPersons(ctx context.Context) ([]model.Person, error) {
	return s.driver.ListPersons(ctx)
}

func (s *GraphStore) UpdatePerson(ctx context.Context, p model.Person) error {
	if _, err := s.driver.GetPerson(ctx, p.ID); err != nil {
		return err
	}
	return s.driver.UpsertPerson(ctx, p)
}

// EdgesOf returns every edge touching the person.
func (s *GraphStore) EdgesOf(ctx context.Context, personID string) ([]model.RelationshipEdge, error) {
	return s.driver.EdgesOf(ctx, personID)
}

// --- edges ---

// AddEdge validates and commits a relationship. Parent-child edges are
// cycle-checked before commit; a duplicate is an idempotent no-op that
// returns the stored edge's id. Directed types commit edge and inverse
// atomically. The write holds locks over both endpoints' closures so
// two concurrent writers cannot introduce a cycle neither saw.
func (s *GraphStore) AddEdge(ctx context.Context, fromID, toID, typeCode string, q model.EdgeQualifiers) (string, error) {
	rt, ok := s.catalog.Type(typeCode)
	if !ok {
		return "", fmt.Errorf("type %q: %w", typeCode, model.ErrInvalidRelationshipType)
	}
	if fromID == toID {
		return "", &model.ConflictError{Err: model.ErrCycleDetected, PersonID: fromID, Detail: "self edge"}
	}
	if _, err := s.driver.GetPerson(ctx, fromID); err != nil {
		return "", err
	}
	if _, err := s.driver.GetPerson(ctx, toID); err != nil {
		return "", err
	}

	// Canonical storage order for symmetric types: exactly one edge per
	// unordered pair.
	if rt.IsSymmetric && toID < fromID {
		fromID, toID = toID, fromID
	}

	release, err := s.lockClosures(ctx, fromID, toID)
	if err != nil {
		return "", err
	}
	defer release()

	if id, dup, err := s.findExisting(ctx, fromID, toID, typeCode, rt.IsSymmetric); err != nil {
		return "", err
	} else if dup {
		s.log.Debug("duplicate edge write ignored", "from", fromID, "to", toID, "type", typeCode)
		return id, nil
	}

	if rt.Category == model.CategoryParentChild {
		if err := s.checkCycle(ctx, fromID, toID, typeCode); err != nil {
			return "", err
		}
	}

	now := time.Now().UTC()
	edge := model.RelationshipEdge{
		ID:         uuid.New().String(),
		FromID:     fromID,
		ToID:       toID,
		TypeCode:   typeCode,
		Qualifiers: q,
		CreatedAt:  now,
	}
	batch := []model.RelationshipEdge{edge}
	if inv := s.catalog.Inverse(typeCode); inv != "" {
		inverse := model.RelationshipEdge{
			ID:         uuid.New().String(),
			FromID:     toID,
			ToID:       fromID,
			TypeCode:   inv,
			Qualifiers: q,
			CreatedAt:  now,
			InverseID:  edge.ID,
		}
		batch[0].InverseID = inverse.ID
		batch = append(batch, inverse)
	}

	if err := s.driver.InsertEdges(ctx, batch); err != nil {
		return "", err
	}
	s.invalidate(fromID, toID)
	s.emit(model.Event{
		Type:      model.EventRelationshipAdded,
		PersonIDs: []string{fromID, toID},
		EdgeID:    batch[0].ID,
		Payload:   map[string]any{"type_code": typeCode},
	})
	return batch[0].ID, nil
}

// RemoveEdge deletes an edge together with its inverse.
func (s *GraphStore) RemoveEdge(ctx context.Context, id string) error {
	edge, err := s.driver.GetEdge(ctx, id)
	if err != nil {
		return err
	}

	release, err := s.lockClosures(ctx, edge.FromID, edge.ToID)
	if err != nil {
		return err
	}
	defer release()

	ids := []string{edge.ID}
	if edge.InverseID != "" {
		ids = append(ids, edge.InverseID)
	}
	if err := s.driver.DeleteEdges(ctx, ids); err != nil {
		return err
	}
	s.invalidate(edge.FromID, edge.ToID)
	s.emit(model.Event{
		Type:      model.EventRelationshipRemoved,
		PersonIDs: []string{edge.FromID, edge.ToID},
		EdgeID:    edge.ID,
		Payload:   map[string]any{"type_code": edge.TypeCode},
	})
	return nil
}

// findExisting reports a stored edge with the same endpoints and type.
func (s *GraphStore) findExisting(ctx context.Context, fromID, toID, typeCode string, symmetric bool) (string, bool, error) {
	edges, err := s.driver.EdgesOf(ctx, fromID)
	if err != nil {
		return "", false, err
	}
	for _, e := range edges {
		if e.TypeCode != typeCode {
			continue
		}
		if e.FromID == fromID && e.ToID == toID {
			return e.ID, true, nil
		}
		if symmetric && e.FromID == toID && e.ToID == fromID {
			return e.ID, true, nil
		}
	}
	return "", false, nil
}

// checkCycle rejects a parent-child edge that would make someone their
// own ancestor. For a "parent" edge from a to b, the write is invalid
// when b is already an ancestor of a.
func (s *GraphStore) checkCycle(ctx context.Context, fromID, toID, typeCode string) error {
	parent, child := fromID, toID
	if typeCode == catalog.TypeChild {
		parent, child = toID, fromID
	}
	ancestors, err := s.traversal.AncestorsOf(ctx, parent, 0)
	if err != nil {
		return err
	}
	if _, found := ancestors.Lookup(child); found {
		return &model.ConflictError{
			Err:      model.ErrCycleDetected,
			PersonID: child,
			Detail:   fmt.Sprintf("%s is already an ancestor of %s", child, parent),
		}
	}
	return nil
}

// lockClosures acquires the keyed locks covering both endpoints'
// ancestor and descendant closures, in sorted order.
func (s *GraphStore) lockClosures(ctx context.Context, ids ...string) (func(), error) {
	keys := make([]string, 0, len(ids)*8)
	keys = append(keys, ids...)
	for _, id := range ids {
		up, err := s.traversal.AncestorsOf(ctx, id, 0)
		if err != nil {
			return nil, err
		}
		for _, n := range up.Nodes {
			keys = append(keys, n.ID)
		}
		down, err := s.traversal.DescendantsOf(ctx, id, 0)
		if err != nil {
			return nil, err
		}
		for _, n := range down.Nodes {
			keys = append(keys, n.ID)
		}
	}
	return s.locks.acquire(keys), nil
}

func (s *GraphStore) invalidate(ids ...string) {
	for _, id := range ids {
		s.traversal.Cache().Invalidate(id)
	}
}

// --- merge ---

// MergePersons folds mergedID into keptID: edges transfer to the kept
// profile, the merged profile is soft-referenced via MergedIntoID, and
// a profiles_merged event carries the transfer counts for audit. A
// transfer that would create a cycle or a second biological parent of
// the same gender aborts the whole merge with a MergeConflict naming
// the offending edge and person.
func (s *GraphStore) MergePersons(ctx context.Context, keptID, mergedID string) (model.MergeResult, error) {
	if keptID == mergedID {
		return model.MergeResult{}, &model.ConflictError{Err: model.ErrMergeConflict, PersonID: keptID, Detail: "cannot merge a profile into itself"}
	}
	kept, err := s.driver.GetPerson(ctx, keptID)
	if err != nil {
		return model.MergeResult{}, err
	}
	merged, err := s.driver.GetPerson(ctx, mergedID)
	if err != nil {
		return model.MergeResult{}, err
	}
	if merged.MergedIntoID == keptID {
		// A concurrent reviewer already applied this merge; observe its
		// terminal state and no-op.
		return model.MergeResult{KeptID: keptID, MergedID: mergedID}, nil
	}
	if merged.MergedIntoID != "" {
		return model.MergeResult{}, &model.ConflictError{
			Err:      model.ErrMergeConflict,
			PersonID: mergedID,
			Detail:   fmt.Sprintf("already merged into %s", merged.MergedIntoID),
		}
	}

	release, err := s.lockClosures(ctx, keptID, mergedID)
	if err != nil {
		return model.MergeResult{}, err
	}
	defer release()

	edges, err := s.driver.EdgesOf(ctx, mergedID)
	if err != nil {
		return model.MergeResult{}, err
	}

	var (
		inserts     []model.RelationshipEdge
		deletes     []string
		transferred int
		skipped     int
		seenInverse = make(map[string]bool)
	)
	for _, e := range edges {
		if seenInverse[e.ID] {
			continue
		}
		if e.InverseID != "" {
			seenInverse[e.InverseID] = true
		}
		deletes = append(deletes, e.ID)
		if e.InverseID != "" {
			deletes = append(deletes, e.InverseID)
		}

		counterpart := e.Other(mergedID)
		if counterpart == keptID {
			// A direct edge between the two profiles collapses away.
			skipped++
			continue
		}

		rt, _ := s.catalog.Type(e.TypeCode)
		fromID, toID := e.FromID, e.ToID
		if fromID == mergedID {
			fromID = keptID
		}
		if toID == mergedID {
			toID = keptID
		}
		if rt.IsSymmetric && toID < fromID {
			fromID, toID = toID, fromID
		}

		if _, dup, err := s.findExisting(ctx, fromID, toID, e.TypeCode, rt.IsSymmetric); err != nil {
			return model.MergeResult{}, err
		} else if dup {
			skipped++
			continue
		}

		if rt.Category == model.CategoryParentChild {
			if err := s.checkCycle(ctx, fromID, toID, e.TypeCode); err != nil {
				return model.MergeResult{}, &model.ConflictError{
					Err:      model.ErrMergeConflict,
					PersonID: counterpart,
					EdgeID:   e.ID,
					Detail:   "transfer would make a person their own ancestor",
				}
			}
			if err := s.checkParentSlot(ctx, kept, mergedID, fromID, toID, e.TypeCode); err != nil {
				return model.MergeResult{}, err
			}
		}

		now := time.Now().UTC()
		moved := model.RelationshipEdge{
			ID:         uuid.New().String(),
			FromID:     fromID,
			ToID:       toID,
			TypeCode:   e.TypeCode,
			Qualifiers: e.Qualifiers,
			CreatedAt:  now,
		}
		if inv := s.catalog.Inverse(e.TypeCode); inv != "" {
			inverse := model.RelationshipEdge{
				ID:         uuid.New().String(),
				FromID:     toID,
				ToID:       fromID,
				TypeCode:   inv,
				Qualifiers: e.Qualifiers,
				CreatedAt:  now,
				InverseID:  moved.ID,
			}
			moved.InverseID = inverse.ID
			inserts = append(inserts, moved, inverse)
		} else {
			inserts = append(inserts, moved)
		}
		transferred++
	}

	// Insert before delete: an interrupted merge leaves a redundant edge
	// rather than a missing one.
	if len(inserts) > 0 {
		if err := s.driver.InsertEdges(ctx, inserts); err != nil {
			return model.MergeResult{}, err
		}
	}
	if len(deletes) > 0 {
		if err := s.driver.DeleteEdges(ctx, deletes); err != nil {
			return model.MergeResult{}, err
		}
	}

	merged.MergedIntoID = keptID
	if err := s.driver.UpsertPerson(ctx, merged); err != nil {
		return model.MergeResult{}, err
	}

	s.invalidate(keptID, mergedID)
	result := model.MergeResult{
		KeptID:           keptID,
		MergedID:         mergedID,
		EdgesTransferred: transferred,
		EdgesSkipped:     skipped,
	}
	s.emit(model.Event{
		Type:      model.EventProfilesMerged,
		PersonIDs: []string{keptID, mergedID},
		Payload: map[string]any{
			"edges_transferred": transferred,
			"edges_skipped":     skipped,
		},
	})
	return result, nil
}

// checkParentSlot rejects a transfer that would give a child two
// biological parents of the same gender. The merged profile's own
// parenthood is ignored: it is the very edge being moved.
func (s *GraphStore) checkParentSlot(ctx context.Context, kept model.Person, mergedID, fromID, toID, typeCode string) error {
	// Only the case where the kept profile becomes a parent matters.
	childID := ""
	if typeCode == catalog.TypeParent && fromID == kept.ID {
		childID = toID
	} else if typeCode == catalog.TypeChild && toID == kept.ID {
		childID = fromID
	}
	if childID == "" || kept.Gender == model.GenderUnknown {
		return nil
	}

	childEdges, err := s.driver.EdgesOf(ctx, childID)
	if err != nil {
		return err
	}
	for _, ce := range childEdges {
		var parentID string
		if ce.TypeCode == catalog.TypeParent && ce.ToID == childID {
			parentID = ce.FromID
		} else if ce.TypeCode == catalog.TypeChild && ce.FromID == childID {
			parentID = ce.ToID
		} else {
			continue
		}
		if parentID == kept.ID || parentID == mergedID {
			continue
		}
		parent, err := s.driver.GetPerson(ctx, parentID)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				continue
			}
			return err
		}
		if parent.Gender == kept.Gender {
			return &model.ConflictError{
				Err:      model.ErrMergeConflict,
				PersonID: childID,
				EdgeID:   ce.ID,
				Detail:   fmt.Sprintf("child already has a %s parent (%s)", parent.Gender, parentID),
			}
		}
	}
	return nil
}
