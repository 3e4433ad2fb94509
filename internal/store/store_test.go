package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/famlinks/kinship/internal/catalog"
	"github.com/famlinks/kinship/internal/core/traverse"
	"github.com/famlinks/kinship/internal/driver"
	"github.com/famlinks/kinship/internal/model"
)

func newTestStore(t *testing.T) (*GraphStore, *driver.MemoryDriver) {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)
	d := driver.NewMemoryDriver()
	trav := traverse.New(d, 12, 8)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(d, cat, trav, log), d
}

func addPerson(t *testing.T, s *GraphStore, id string, g model.Gender) model.Person {
	t.Helper()
	p, err := s.AddPerson(context.Background(), model.Person{ID: id, FirstName: id, Gender: g, IsLiving: true})
	require.NoError(t, err)
	return p
}

func TestAddEdge_WritesInversePair(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	addPerson(t, s, "anna", model.GenderFemale)
	addPerson(t, s, "boris", model.GenderMale)

	id, err := s.AddEdge(ctx, "anna", "boris", catalog.TypeParent, model.EdgeQualifiers{})
	require.NoError(t, err)

	edges, err := s.EdgesOf(ctx, "anna")
	require.NoError(t, err)
	require.Len(t, edges, 2)

	var parent, child model.RelationshipEdge
	for _, e := range edges {
		switch e.TypeCode {
		case catalog.TypeParent:
			parent = e
		case catalog.TypeChild:
			child = e
		}
	}
	assert.Equal(t, id, parent.ID)
	assert.Equal(t, "anna", parent.FromID)
	assert.Equal(t, "boris", child.FromID)
	assert.Equal(t, parent.InverseID, child.ID, "halves must cross-reference")
	assert.Equal(t, child.InverseID, parent.ID)
}

func TestAddEdge_DuplicateIsIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	addPerson(t, s, "anna", model.GenderFemale)
	addPerson(t, s, "boris", model.GenderMale)

	first, err := s.AddEdge(ctx, "anna", "boris", catalog.TypeParent, model.EdgeQualifiers{})
	require.NoError(t, err)
	second, err := s.AddEdge(ctx, "anna", "boris", catalog.TypeParent, model.EdgeQualifiers{})
	require.NoError(t, err)
	assert.Equal(t, first, second, "repeat write returns the stored edge")

	edges, err := s.EdgesOf(ctx, "anna")
	require.NoError(t, err)
	assert.Len(t, edges, 2, "no extra edges written")
}

func TestAddEdge_SymmetricCanonicalOrder(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	addPerson(t, s, "vera", model.GenderFemale)
	addPerson(t, s, "oleg", model.GenderMale)

	first, err := s.AddEdge(ctx, "vera", "oleg", catalog.TypeSpouse, model.EdgeQualifiers{})
	require.NoError(t, err)
	// The reversed write maps onto the same stored edge.
	second, err := s.AddEdge(ctx, "oleg", "vera", catalog.TypeSpouse, model.EdgeQualifiers{})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	edges, err := s.EdgesOf(ctx, "vera")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "oleg", edges[0].FromID, "stored in lexicographic endpoint order")
	assert.Equal(t, "", edges[0].InverseID)
}

func TestAddEdge_RejectsSelfEdge(t *testing.T) {
	s, _ := newTestStore(t)
	addPerson(t, s, "anna", model.GenderFemale)

	_, err := s.AddEdge(context.Background(), "anna", "anna", catalog.TypeParent, model.EdgeQualifiers{})
	assert.ErrorIs(t, err, model.ErrCycleDetected)
}

func TestAddEdge_RejectsCycle(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		addPerson(t, s, id, model.GenderMale)
	}

	_, err := s.AddEdge(ctx, "a", "b", catalog.TypeParent, model.EdgeQualifiers{})
	require.NoError(t, err)
	_, err = s.AddEdge(ctx, "b", "c", catalog.TypeParent, model.EdgeQualifiers{})
	require.NoError(t, err)

	// c -> a would make a its own ancestor.
	_, err = s.AddEdge(ctx, "c", "a", catalog.TypeParent, model.EdgeQualifiers{})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrCycleDetected)

	var conflict *model.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "a", conflict.PersonID)

	// The same shape expressed with a child edge is caught too.
	_, err = s.AddEdge(ctx, "a", "c", catalog.TypeChild, model.EdgeQualifiers{})
	assert.ErrorIs(t, err, model.ErrCycleDetected)
}

func TestAddEdge_RejectsUnknownTypeAndPerson(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	addPerson(t, s, "anna", model.GenderFemale)

	_, err := s.AddEdge(ctx, "anna", "ghost", "godparent", model.EdgeQualifiers{})
	assert.ErrorIs(t, err, model.ErrInvalidRelationshipType)

	_, err = s.AddEdge(ctx, "anna", "ghost", catalog.TypeParent, model.EdgeQualifiers{})
	assert.True(t, model.IsNotFound(err))
}

func TestRemoveEdge_RemovesInverseToo(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	addPerson(t, s, "anna", model.GenderFemale)
	addPerson(t, s, "boris", model.GenderMale)

	id, err := s.AddEdge(ctx, "anna", "boris", catalog.TypeParent, model.EdgeQualifiers{})
	require.NoError(t, err)
	require.NoError(t, s.RemoveEdge(ctx, id))

	edges, err := s.EdgesOf(ctx, "anna")
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestAddEdge_EmitsEventAfterCommit(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	addPerson(t, s, "anna", model.GenderFemale)
	addPerson(t, s, "boris", model.GenderMale)

	var got []model.Event
	s.OnEvent(func(ev model.Event) { got = append(got, ev) })

	id, err := s.AddEdge(ctx, "anna", "boris", catalog.TypeParent, model.EdgeQualifiers{})
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, model.EventRelationshipAdded, got[0].Type)
	assert.Equal(t, id, got[0].EdgeID)
	assert.ElementsMatch(t, []string{"anna", "boris"}, got[0].PersonIDs)

	// Idempotent duplicate writes do not re-emit.
	_, err = s.AddEdge(ctx, "anna", "boris", catalog.TypeParent, model.EdgeQualifiers{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestMergePersons_TransfersEdges(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	kept := addPerson(t, s, "kept", model.GenderFemale)
	addPerson(t, s, "dup", model.GenderFemale)
	addPerson(t, s, "parent", model.GenderMale)
	addPerson(t, s, "kid", model.GenderMale)
	addPerson(t, s, "husband", model.GenderMale)

	_, err := s.AddEdge(ctx, "parent", "dup", catalog.TypeParent, model.EdgeQualifiers{})
	require.NoError(t, err)
	_, err = s.AddEdge(ctx, "dup", "kid", catalog.TypeParent, model.EdgeQualifiers{})
	require.NoError(t, err)
	_, err = s.AddEdge(ctx, "dup", "husband", catalog.TypeSpouse, model.EdgeQualifiers{})
	require.NoError(t, err)
	// A direct edge between the two halves of the duplicate collapses.
	_, err = s.AddEdge(ctx, "kept", "dup", catalog.TypeSibling, model.EdgeQualifiers{})
	require.NoError(t, err)

	res, err := s.MergePersons(ctx, kept.ID, "dup")
	require.NoError(t, err)
	assert.Equal(t, 3, res.EdgesTransferred)
	assert.Equal(t, 1, res.EdgesSkipped)

	merged, err := s.GetPerson(ctx, "dup")
	require.NoError(t, err)
	assert.Equal(t, kept.ID, merged.MergedIntoID)

	dupEdges, err := s.EdgesOf(ctx, "dup")
	require.NoError(t, err)
	assert.Empty(t, dupEdges, "merged profile keeps no live edges")

	keptEdges, err := s.EdgesOf(ctx, "kept")
	require.NoError(t, err)
	types := map[string]int{}
	for _, e := range keptEdges {
		types[e.TypeCode]++
	}
	assert.Equal(t, 2, types[catalog.TypeParent], "incoming and outgoing parent lines both land on kept")
	assert.Equal(t, 2, types[catalog.TypeChild])
	assert.Equal(t, 1, types[catalog.TypeSpouse])
}

func TestMergePersons_SkipsAlreadyPresentEdges(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	addPerson(t, s, "kept", model.GenderFemale)
	addPerson(t, s, "dup", model.GenderFemale)
	addPerson(t, s, "father", model.GenderMale)

	_, err := s.AddEdge(ctx, "father", "kept", catalog.TypeParent, model.EdgeQualifiers{})
	require.NoError(t, err)
	_, err = s.AddEdge(ctx, "father", "dup", catalog.TypeParent, model.EdgeQualifiers{})
	require.NoError(t, err)

	res, err := s.MergePersons(ctx, "kept", "dup")
	require.NoError(t, err)
	assert.Equal(t, 0, res.EdgesTransferred)
	assert.Equal(t, 1, res.EdgesSkipped)

	edges, err := s.EdgesOf(ctx, "kept")
	require.NoError(t, err)
	assert.Len(t, edges, 2, "the parent pair exists exactly once")
}

func TestMergePersons_ParentSlotConflict(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	addPerson(t, s, "kept", model.GenderFemale)
	addPerson(t, s, "dup", model.GenderFemale)
	addPerson(t, s, "kid", model.GenderMale)
	addPerson(t, s, "mama", model.GenderFemale)

	// kid already has a mother; transferring dup's motherhood onto kept
	// would give kid two.
	_, err := s.AddEdge(ctx, "mama", "kid", catalog.TypeParent, model.EdgeQualifiers{})
	require.NoError(t, err)
	_, err = s.AddEdge(ctx, "dup", "kid", catalog.TypeParent, model.EdgeQualifiers{})
	require.NoError(t, err)

	_, err = s.MergePersons(ctx, "kept", "dup")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrMergeConflict)

	var conflict *model.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "kid", conflict.PersonID)

	// The failed merge left nothing behind.
	dup, err := s.GetPerson(ctx, "dup")
	require.NoError(t, err)
	assert.Empty(t, dup.MergedIntoID)
}

func TestMergePersons_LifecycleConflicts(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	addPerson(t, s, "a", model.GenderMale)
	addPerson(t, s, "b", model.GenderMale)
	addPerson(t, s, "c", model.GenderMale)

	_, err := s.MergePersons(ctx, "a", "a")
	assert.ErrorIs(t, err, model.ErrMergeConflict)

	_, err = s.MergePersons(ctx, "a", "b")
	require.NoError(t, err)

	// The second reviewer of the same decision observes a no-op.
	res, err := s.MergePersons(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, 0, res.EdgesTransferred)

	// Merging the absorbed profile somewhere else is a conflict.
	_, err = s.MergePersons(ctx, "c", "b")
	assert.ErrorIs(t, err, model.ErrMergeConflict)
}

func TestMergePersons_CycleConflict(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	addPerson(t, s, "kept", model.GenderMale)
	addPerson(t, s, "dup", model.GenderMale)
	addPerson(t, s, "elder", model.GenderMale)

	// elder is kept's ancestor; dup claims elder as a child. After the
	// merge elder would be both above and below kept.
	_, err := s.AddEdge(ctx, "elder", "kept", catalog.TypeParent, model.EdgeQualifiers{})
	require.NoError(t, err)
	_, err = s.AddEdge(ctx, "dup", "elder", catalog.TypeParent, model.EdgeQualifiers{})
	require.NoError(t, err)

	_, err = s.MergePersons(ctx, "kept", "dup")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrMergeConflict)
}

// gatedGraph delays the first ancestor walk of one person once armed, so
// an edge commit can land while that walk is still in flight. Only the
// goroutine that trips the gate parks; everyone else passes through.
type gatedGraph struct {
	driver.Driver
	blockOn string
	armed   atomic.Bool
	held    chan struct{}
	release chan struct{}
}

func (g *gatedGraph) EdgesOf(ctx context.Context, personID string) ([]model.RelationshipEdge, error) {
	if personID == g.blockOn && g.armed.CompareAndSwap(true, false) {
		close(g.held)
		<-g.release
	}
	return g.Driver.EdgesOf(ctx, personID)
}

func TestAddEdge_CycleCheckSurvivesRacingTraversal(t *testing.T) {
	cat, err := catalog.Default()
	require.NoError(t, err)
	d := driver.NewMemoryDriver()
	gate := &gatedGraph{
		Driver:  d,
		blockOn: "elder",
		held:    make(chan struct{}),
		release: make(chan struct{}),
	}
	trav := traverse.New(gate, 12, 8)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(d, cat, trav, log)
	ctx := context.Background()

	for _, id := range []string{"pavel", "elder", "kira", "dima"} {
		addPerson(t, s, id, model.GenderMale)
	}
	_, err = s.AddEdge(ctx, "elder", "kira", catalog.TypeParent, model.EdgeQualifiers{})
	require.NoError(t, err)
	_, err = s.AddEdge(ctx, "kira", "dima", catalog.TypeParent, model.EdgeQualifiers{})
	require.NoError(t, err)

	// Hold an ancestor walk of dima open after it has read kira's edges
	// but before it finishes. The walk computes against the pre-commit
	// graph, so its result must not enter the cache once the commit has
	// invalidated kira.
	gate.armed.Store(true)
	walked := make(chan error, 1)
	go func() {
		_, err := trav.AncestorsOf(ctx, "dima", 0)
		walked <- err
	}()
	<-gate.held

	_, err = s.AddEdge(ctx, "pavel", "kira", catalog.TypeParent, model.EdgeQualifiers{})
	require.NoError(t, err)

	close(gate.release)
	require.NoError(t, <-walked)

	// dima -> pavel would close the loop pavel -> kira -> dima. A stale
	// cached walk would miss pavel among dima's ancestors and let the
	// write through.
	_, err = s.AddEdge(ctx, "dima", "pavel", catalog.TypeParent, model.EdgeQualifiers{})
	assert.ErrorIs(t, err, model.ErrCycleDetected)

	up, err := trav.AncestorsOf(ctx, "dima", 0)
	require.NoError(t, err)
	_, found := up.Lookup("pavel")
	assert.True(t, found, "post-commit ancestors of dima must include pavel")
}

func TestAddEdge_RandomSequencesStayAcyclic(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	rng := rand.New(rand.NewSource(7))
	ids := make([]string, 10)
	for i := range ids {
		ids[i] = fmt.Sprintf("p%02d", i)
		addPerson(t, s, ids[i], model.GenderMale)
	}

	accepted := 0
	for n := 0; n < 150; n++ {
		a := ids[rng.Intn(len(ids))]
		b := ids[rng.Intn(len(ids))]
		if a == b {
			continue
		}
		if _, err := s.AddEdge(ctx, a, b, catalog.TypeParent, model.EdgeQualifiers{}); err != nil {
			assert.ErrorIs(t, err, model.ErrCycleDetected)
			continue
		}
		accepted++

		// After every accepted write, no pair may be mutually ancestral.
		anc := make(map[string]map[string]bool, len(ids))
		for _, id := range ids {
			up, err := s.Traversal().AncestorsOf(ctx, id, 0)
			require.NoError(t, err)
			set := make(map[string]bool, len(up.Nodes))
			for _, node := range up.Nodes {
				set[node.ID] = true
			}
			anc[id] = set
		}
		for _, x := range ids {
			for _, y := range ids {
				if x < y && anc[x][y] && anc[y][x] {
					t.Fatalf("%s and %s are mutual ancestors after %d accepted writes", x, y, accepted)
				}
			}
		}
	}
	require.Greater(t, accepted, 0)
}
