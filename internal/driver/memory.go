package driver

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/famlinks/kinship/internal/model"
)

// MemoryDriver is the default backend and the test substrate. A single
// RWMutex serializes writes; batch operations commit under one lock
// acquisition, which makes them atomic with respect to readers.
type MemoryDriver struct {
	mu          sync.RWMutex
	persons     map[string]model.Person
	edges       map[string]model.RelationshipEdge
	byPerson    map[string]map[string]struct{} // person id -> edge ids
	duplicates  map[string]model.PotentialDuplicate
	dupByPair   map[string]string // canonical pair key -> duplicate id
	bridges     map[string]model.BridgeRequest
	checkpoints map[string]string
}

func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{
		persons:     make(map[string]model.Person),
		edges:       make(map[string]model.RelationshipEdge),
		byPerson:    make(map[string]map[string]struct{}),
		duplicates:  make(map[string]model.PotentialDuplicate),
		dupByPair:   make(map[string]string),
		bridges:     make(map[string]model.BridgeRequest),
		checkpoints: make(map[string]string),
	}
}

func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

func (m *MemoryDriver) UpsertPerson(ctx context.Context, p model.Person) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persons[p.ID] = p
	return nil
}

func (m *MemoryDriver) GetPerson(ctx context.Context, id string) (model.Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.persons[id]
	if !ok {
		return model.Person{}, fmt.Errorf("person %s: %w", id, model.ErrNotFound)
	}
	return p, nil
}

func (m *MemoryDriver) ListPersons(ctx context.Context) ([]model.Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Person, 0, len(m.persons))
	for _, p := range m.persons {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryDriver) InsertEdges(ctx context.Context, edges []model.RelationshipEdge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range edges {
		if _, dup := m.edges[e.ID]; dup {
			return fmt.Errorf("edge %s already stored: %w", e.ID, model.ErrDuplicateEdge)
		}
	}
	for _, e := range edges {
		m.edges[e.ID] = e
		m.indexEdge(e)
	}
	return nil
}

func (m *MemoryDriver) indexEdge(e model.RelationshipEdge) {
	for _, id := range []string{e.FromID, e.ToID} {
		set, ok := m.byPerson[id]
		if !ok {
			set = make(map[string]struct{})
			m.byPerson[id] = set
		}
		set[e.ID] = struct{}{}
	}
}

func (m *MemoryDriver) DeleteEdges(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		e, ok := m.edges[id]
		if !ok {
			continue
		}
		delete(m.edges, id)
		delete(m.byPerson[e.FromID], id)
		delete(m.byPerson[e.ToID], id)
	}
	return nil
}

func (m *MemoryDriver) GetEdge(ctx context.Context, id string) (model.RelationshipEdge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.edges[id]
	if !ok {
		return model.RelationshipEdge{}, fmt.Errorf("edge %s: %w", id, model.ErrNotFound)
	}
	return e, nil
}

func (m *MemoryDriver) EdgesOf(ctx context.Context, personID string) ([]model.RelationshipEdge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.byPerson[personID]
	out := make([]model.RelationshipEdge, 0, len(ids))
	for id := range ids {
		out = append(out, m.edges[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryDriver) SaveDuplicate(ctx context.Context, d model.PotentialDuplicate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.duplicates[d.ID] = d
	m.dupByPair[pairKey(d.ProfileAID, d.ProfileBID)] = d.ID
	return nil
}

func (m *MemoryDriver) GetDuplicate(ctx context.Context, id string) (model.PotentialDuplicate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.duplicates[id]
	if !ok {
		return model.PotentialDuplicate{}, fmt.Errorf("duplicate %s: %w", id, model.ErrNotFound)
	}
	return d, nil
}

func (m *MemoryDriver) FindDuplicate(ctx context.Context, aID, bID string) (model.PotentialDuplicate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.dupByPair[pairKey(aID, bID)]
	if !ok {
		return model.PotentialDuplicate{}, fmt.Errorf("pair (%s, %s): %w", aID, bID, model.ErrNotFound)
	}
	return m.duplicates[id], nil
}

func (m *MemoryDriver) ListDuplicates(ctx context.Context, status model.DuplicateStatus) ([]model.PotentialDuplicate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.PotentialDuplicate
	for _, d := range m.duplicates {
		if status == "" || d.Status == status {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryDriver) SaveBridgeRequest(ctx context.Context, r model.BridgeRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bridges[r.ID] = r
	return nil
}

func (m *MemoryDriver) GetBridgeRequest(ctx context.Context, id string) (model.BridgeRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.bridges[id]
	if !ok {
		return model.BridgeRequest{}, fmt.Errorf("bridge request %s: %w", id, model.ErrNotFound)
	}
	return r, nil
}

func (m *MemoryDriver) ListBridgeRequests(ctx context.Context, status model.BridgeStatus) ([]model.BridgeRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.BridgeRequest
	for _, r := range m.bridges {
		if status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryDriver) GetCheckpoint(ctx context.Context, name string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checkpoints[name], nil
}

func (m *MemoryDriver) SaveCheckpoint(ctx context.Context, name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[name] = value
	return nil
}

func (m *MemoryDriver) Close(ctx context.Context) error { return nil }
