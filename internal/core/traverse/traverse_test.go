package traverse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/famlinks/kinship/internal/driver"
	"github.com/famlinks/kinship/internal/model"
)

// seedChain stores ego -> father -> grandfather using explicit
// parent/child halves, the way the store writes them.
func seedChain(t *testing.T, d *driver.MemoryDriver, ids ...string) {
	t.Helper()
	ctx := context.Background()
	for _, id := range ids {
		require.NoError(t, d.UpsertPerson(ctx, model.Person{ID: id}))
	}
	for i := 0; i+1 < len(ids); i++ {
		parentEdge(t, d, ids[i+1], ids[i])
	}
}

var edgeSeq int

func parentEdge(t *testing.T, d *driver.MemoryDriver, parent, child string) {
	t.Helper()
	edgeSeq++
	id := string(rune('A'+edgeSeq%26)) + "-" + parent + "-" + child
	require.NoError(t, d.InsertEdges(context.Background(), []model.RelationshipEdge{
		{ID: id, FromID: parent, ToID: child, TypeCode: "parent", InverseID: id + "-inv"},
		{ID: id + "-inv", FromID: child, ToID: parent, TypeCode: "child", InverseID: id},
	}))
}

func TestAncestorsOf_Chain(t *testing.T) {
	d := driver.NewMemoryDriver()
	seedChain(t, d, "ego", "father", "grandfather")

	trav := New(d, 12, 4)
	res, err := trav.AncestorsOf(context.Background(), "ego", 0)
	require.NoError(t, err)

	require.Len(t, res.Nodes, 2)
	assert.False(t, res.Truncated)

	f, ok := res.Lookup("father")
	require.True(t, ok)
	assert.Equal(t, 1, f.Depth)

	gf, ok := res.Lookup("grandfather")
	require.True(t, ok)
	assert.Equal(t, 2, gf.Depth)
	require.Len(t, gf.Paths, 1)
	assert.Equal(t, []string{"father", "grandfather"}, gf.Paths[0])
}

func TestDescendantsOf_MirrorsAncestors(t *testing.T) {
	d := driver.NewMemoryDriver()
	seedChain(t, d, "ego", "father", "grandfather")

	trav := New(d, 12, 4)
	res, err := trav.DescendantsOf(context.Background(), "grandfather", 0)
	require.NoError(t, err)

	require.Len(t, res.Nodes, 2)
	e, ok := res.Lookup("ego")
	require.True(t, ok)
	assert.Equal(t, 2, e.Depth)
}

func TestAncestorsOf_DepthBoundTruncates(t *testing.T) {
	d := driver.NewMemoryDriver()
	seedChain(t, d, "ego", "p1", "p2", "p3")

	trav := New(d, 2, 4)
	res, err := trav.AncestorsOf(context.Background(), "ego", 0)
	require.NoError(t, err)

	assert.Len(t, res.Nodes, 2)
	assert.True(t, res.Truncated, "hitting the bound must be flagged")
	_, ok := res.Lookup("p3")
	assert.False(t, ok)

	// A narrower per-call bound on the same traversal.
	narrow, err := trav.AncestorsOf(context.Background(), "ego", 1)
	require.NoError(t, err)
	assert.Len(t, narrow.Nodes, 1)
	assert.True(t, narrow.Truncated)
}

func TestAncestorsOf_PedigreeCollapseRecordsPaths(t *testing.T) {
	// Diamond: ego's two parents share the same father.
	d := driver.NewMemoryDriver()
	ctx := context.Background()
	for _, id := range []string{"ego", "pa", "ma", "gf"} {
		require.NoError(t, d.UpsertPerson(ctx, model.Person{ID: id}))
	}
	parentEdge(t, d, "pa", "ego")
	parentEdge(t, d, "ma", "ego")
	parentEdge(t, d, "gf", "pa")
	parentEdge(t, d, "gf", "ma")

	trav := New(d, 12, 4)
	res, err := trav.AncestorsOf(ctx, "ego", 0)
	require.NoError(t, err)

	gf, ok := res.Lookup("gf")
	require.True(t, ok)
	assert.Equal(t, 2, gf.Depth, "minimum depth wins")
	assert.Len(t, gf.Paths, 2, "both lines are recorded")
}

func TestCommonAncestors_OrdersByCombinedDepth(t *testing.T) {
	// a and b are first cousins through gf; gf is also reachable deeper
	// for neither, so the couple depth is (2,2).
	d := driver.NewMemoryDriver()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "pa", "pb", "gf"} {
		require.NoError(t, d.UpsertPerson(ctx, model.Person{ID: id}))
	}
	parentEdge(t, d, "pa", "a")
	parentEdge(t, d, "pb", "b")
	parentEdge(t, d, "gf", "pa")
	parentEdge(t, d, "gf", "pb")

	trav := New(d, 12, 4)
	shared, upA, upB, err := trav.CommonAncestors(ctx, "a", "b", 0)
	require.NoError(t, err)
	require.NotNil(t, upA)
	require.NotNil(t, upB)

	require.Len(t, shared, 1)
	assert.Equal(t, "gf", shared[0].ID)
	assert.Equal(t, 2, shared[0].DepthFromA)
	assert.Equal(t, 2, shared[0].DepthFromB)
}

func TestCommonAncestors_DirectLine(t *testing.T) {
	d := driver.NewMemoryDriver()
	seedChain(t, d, "ego", "father", "grandfather")

	trav := New(d, 12, 4)
	shared, _, _, err := trav.CommonAncestors(context.Background(), "ego", "grandfather", 0)
	require.NoError(t, err)

	require.NotEmpty(t, shared)
	assert.Equal(t, "grandfather", shared[0].ID)
	assert.Equal(t, 2, shared[0].DepthFromA)
	assert.Equal(t, 0, shared[0].DepthFromB)
}

func TestCache_InvalidationOnNewEdge(t *testing.T) {
	d := driver.NewMemoryDriver()
	seedChain(t, d, "ego", "father")

	trav := New(d, 12, 4)
	ctx := context.Background()

	res, err := trav.AncestorsOf(ctx, "ego", 0)
	require.NoError(t, err)
	assert.Len(t, res.Nodes, 1)

	// Mutate the graph behind the cache, then invalidate the way the
	// store does after a commit.
	require.NoError(t, d.UpsertPerson(ctx, model.Person{ID: "grandfather"}))
	parentEdge(t, d, "grandfather", "father")
	trav.Cache().Invalidate("father")

	res, err = trav.AncestorsOf(ctx, "ego", 0)
	require.NoError(t, err)
	assert.Len(t, res.Nodes, 2, "invalidation must reach dependents of the touched person")
}

func TestCache_ServesWarmResults(t *testing.T) {
	d := driver.NewMemoryDriver()
	seedChain(t, d, "ego", "father", "grandfather")

	trav := New(d, 12, 4)
	ctx := context.Background()

	cold, err := trav.AncestorsOf(ctx, "ego", 0)
	require.NoError(t, err)
	warm, err := trav.AncestorsOf(ctx, "ego", 0)
	require.NoError(t, err)

	assert.Equal(t, cold.Nodes, warm.Nodes)
	assert.Greater(t, trav.Cache().Len(), 0)
}
