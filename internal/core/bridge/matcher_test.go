package bridge

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/famlinks/kinship/internal/catalog"
	"github.com/famlinks/kinship/internal/config"
	"github.com/famlinks/kinship/internal/core/traverse"
	"github.com/famlinks/kinship/internal/driver"
	"github.com/famlinks/kinship/internal/model"
	"github.com/famlinks/kinship/internal/store"
)

type bridgeFixture struct {
	d       *driver.MemoryDriver
	store   *store.GraphStore
	matcher *Matcher
}

func newBridgeFixture(t *testing.T) *bridgeFixture {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)
	d := driver.NewMemoryDriver()
	trav := traverse.New(d, 12, 8)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.New(d, cat, trav, log)
	m := NewMatcher(d, st, trav, config.Default().Bridge, log)
	return &bridgeFixture{d: d, store: st, matcher: m}
}

func (f *bridgeFixture) person(t *testing.T, id, first, last string, birthYear int) {
	t.Helper()
	p := model.Person{ID: id, FirstName: first, LastName: last,
		Gender: model.GenderUnknown, IsLiving: true}
	if birthYear != 0 {
		d := time.Date(birthYear, 1, 1, 0, 0, 0, 0, time.UTC)
		p.BirthDate = &d
	}
	_, err := f.store.AddPerson(context.Background(), p)
	require.NoError(t, err)
}

// twoTrees builds two disjoint trees: the requester alone, the target
// with a recorded father.
func twoTrees(t *testing.T, f *bridgeFixture) {
	f.person(t, "req", "Sergei", "Volkov", 1975)
	f.person(t, "target", "Dmitri", "Orlov", 1978)
	f.person(t, "tf", "Ivan", "Orlov", 1900)
	_, err := f.store.AddEdge(context.Background(), "tf", "target", catalog.TypeParent, model.EdgeQualifiers{})
	require.NoError(t, err)
}

func TestPropose_HintMatchesAncestor(t *testing.T) {
	f := newBridgeFixture(t)
	twoTrees(t, f)

	req, err := f.matcher.Propose(context.Background(), "req", "target",
		catalog.TypeSibling, model.AncestorHint{Name: "Ivan Orlov", BirthYear: 1900})
	require.NoError(t, err)

	assert.Equal(t, model.BridgePending, req.Status)
	assert.Equal(t, "tf", req.HintPersonID)
	assert.InDelta(t, 1.0, req.HintSupport, 0.001)
	assert.True(t, req.ExpiresAt.After(req.CreatedAt))
}

func TestPropose_BirthYearMismatchHalvesSupport(t *testing.T) {
	f := newBridgeFixture(t)
	twoTrees(t, f)

	// Right name, wrong generation: the score is halved but still clears
	// the default floor.
	req, err := f.matcher.Propose(context.Background(), "req", "target",
		catalog.TypeSibling, model.AncestorHint{Name: "Ivan Orlov", BirthYear: 1950})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, req.HintSupport, 0.001)
}

func TestPropose_Rejections(t *testing.T) {
	f := newBridgeFixture(t)
	twoTrees(t, f)
	ctx := context.Background()

	// A hint nobody in the target's tree resembles.
	_, err := f.matcher.Propose(ctx, "req", "target",
		catalog.TypeSibling, model.AncestorHint{Name: "Jessup"})
	assert.ErrorIs(t, err, model.ErrWeakHint)

	_, err = f.matcher.Propose(ctx, "req", "target",
		catalog.TypeSibling, model.AncestorHint{})
	assert.Error(t, err, "hint is mandatory")

	_, err = f.matcher.Propose(ctx, "req", "req",
		catalog.TypeSibling, model.AncestorHint{Name: "Ivan Orlov"})
	assert.Error(t, err, "self bridge")

	_, err = f.matcher.Propose(ctx, "req", "target",
		"soulmate", model.AncestorHint{Name: "Ivan Orlov"})
	assert.ErrorIs(t, err, model.ErrInvalidRelationshipType)

	_, err = f.matcher.Propose(ctx, "req", "ghost",
		catalog.TypeSibling, model.AncestorHint{Name: "Ivan Orlov"})
	assert.True(t, model.IsNotFound(err))
}

func TestAccept_WritesEdgeAndSettles(t *testing.T) {
	f := newBridgeFixture(t)
	twoTrees(t, f)
	ctx := context.Background()

	req, err := f.matcher.Propose(ctx, "req", "target",
		catalog.TypeSibling, model.AncestorHint{Name: "Ivan Orlov"})
	require.NoError(t, err)

	accepted, err := f.matcher.Accept(ctx, req.ID, "")
	require.NoError(t, err)
	assert.Equal(t, model.BridgeAccepted, accepted.Status)
	// Empty established type falls back to the claim.
	assert.Equal(t, catalog.TypeSibling, accepted.EstablishedType)
	require.NotNil(t, accepted.RespondedAt)

	// The edge is real graph state now.
	edges, err := f.d.EdgesOf(ctx, "req")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, catalog.TypeSibling, edges[0].TypeCode)

	// The decision is final.
	_, err = f.matcher.Accept(ctx, req.ID, "")
	assert.ErrorIs(t, err, model.ErrRequestSettled)
	_, err = f.matcher.Reject(ctx, req.ID, "changed my mind")
	assert.ErrorIs(t, err, model.ErrRequestSettled)
}

func TestAccept_OverridesEstablishedType(t *testing.T) {
	f := newBridgeFixture(t)
	twoTrees(t, f)
	ctx := context.Background()

	req, err := f.matcher.Propose(ctx, "req", "target",
		catalog.TypeSibling, model.AncestorHint{Name: "Ivan Orlov"})
	require.NoError(t, err)

	// The target corrects the claim while accepting.
	accepted, err := f.matcher.Accept(ctx, req.ID, catalog.TypeSpouse)
	require.NoError(t, err)
	assert.Equal(t, catalog.TypeSpouse, accepted.EstablishedType)
}

func TestAccept_FailedWriteRevertsToPending(t *testing.T) {
	f := newBridgeFixture(t)
	ctx := context.Background()
	// a is already b's parent, so accepting "b is a's parent" would
	// close a cycle.
	f.person(t, "a", "Ivan", "Orlov", 1900)
	f.person(t, "b", "Boris", "Orlov", 1930)
	_, err := f.store.AddEdge(ctx, "a", "b", catalog.TypeParent, model.EdgeQualifiers{})
	require.NoError(t, err)

	req, err := f.matcher.Propose(ctx, "b", "a",
		catalog.TypeParent, model.AncestorHint{Name: "Ivan Orlov"})
	require.NoError(t, err)

	_, err = f.matcher.Accept(ctx, req.ID, "")
	require.Error(t, err)

	// The request survives for a corrected retry, with the failure on
	// record.
	saved, err := f.matcher.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BridgePending, saved.Status)
	assert.Contains(t, saved.Reason, "acceptance failed")
}

func TestReject_RecordsReason(t *testing.T) {
	f := newBridgeFixture(t)
	twoTrees(t, f)
	ctx := context.Background()

	req, err := f.matcher.Propose(ctx, "req", "target",
		catalog.TypeSibling, model.AncestorHint{Name: "Ivan Orlov"})
	require.NoError(t, err)

	rejected, err := f.matcher.Reject(ctx, req.ID, "no such relative")
	require.NoError(t, err)
	assert.Equal(t, model.BridgeRejected, rejected.Status)
	assert.Equal(t, "no such relative", rejected.Reason)

	// No edge was written.
	edges, err := f.d.EdgesOf(ctx, "req")
	require.NoError(t, err)
	assert.Empty(t, edges)

	_, err = f.matcher.Accept(ctx, req.ID, "")
	assert.ErrorIs(t, err, model.ErrRequestSettled)
}

func TestAccept_ExpiredRequest(t *testing.T) {
	f := newBridgeFixture(t)
	twoTrees(t, f)
	ctx := context.Background()

	req, err := f.matcher.Propose(ctx, "req", "target",
		catalog.TypeSibling, model.AncestorHint{Name: "Ivan Orlov"})
	require.NoError(t, err)

	// Wind the clock past the TTL.
	f.matcher.now = func() time.Time { return req.ExpiresAt.Add(time.Hour) }

	_, err = f.matcher.Accept(ctx, req.ID, "")
	assert.ErrorIs(t, err, model.ErrRequestExpired)

	// Lazy expiry persisted the new status.
	saved, err := f.matcher.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BridgeExpired, saved.Status)

	// Still unacceptable afterwards.
	_, err = f.matcher.Accept(ctx, req.ID, "")
	assert.ErrorIs(t, err, model.ErrRequestExpired)
}

func TestExpireStale_Sweep(t *testing.T) {
	f := newBridgeFixture(t)
	twoTrees(t, f)
	f.person(t, "req2", "Nikolai", "Volkov", 1980)
	ctx := context.Background()

	_, err := f.matcher.Propose(ctx, "req", "target",
		catalog.TypeSibling, model.AncestorHint{Name: "Ivan Orlov"})
	require.NoError(t, err)
	_, err = f.matcher.Propose(ctx, "req2", "target",
		catalog.TypeSibling, model.AncestorHint{Name: "Ivan Orlov"})
	require.NoError(t, err)

	// Nothing is stale yet.
	n, err := f.matcher.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.matcher.now = func() time.Time {
		return time.Now().UTC().Add(config.Default().Bridge.TTL() + time.Hour)
	}
	n, err = f.matcher.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pending, err := f.matcher.List(ctx, model.BridgePending)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
