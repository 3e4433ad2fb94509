// Package kinship classifies how two persons relate and renders the
// relationship as a localized kin term. Classification is derived from
// bounded ancestry traversal; it never stores anything.
package kinship

import (
	"context"
	"fmt"
	"sort"

	"github.com/famlinks/kinship/internal/catalog"
	"github.com/famlinks/kinship/internal/core/traverse"
	"github.com/famlinks/kinship/internal/model"
)

// Classifier computes the relationship between two persons from the
// graph. Results read from A's point of view.
type Classifier struct {
	graph  traverse.Graph
	trav   *traverse.Traversal
	cat    *catalog.Catalog
	maxAlt int
}

// NewClassifier wires a classifier over a traversal. maxAlternates caps
// how many extra shared ancestors a classification reports; zero means
// no cap.
func NewClassifier(g traverse.Graph, t *traverse.Traversal, cat *catalog.Catalog, maxAlternates int) *Classifier {
	return &Classifier{graph: g, trav: t, cat: cat, maxAlt: maxAlternates}
}

// Classify resolves the relationship between a and b. Precedence: a
// direct union edge, then blood relation through shared ancestors, then
// an explicit sibling edge, then affinity through a spouse. When nothing
// is found the result is unknown if any traversal hit the depth bound,
// unrelated otherwise.
func (c *Classifier) Classify(ctx context.Context, aID, bID string) (model.Classification, error) {
	if aID == bID {
		return model.Classification{}, fmt.Errorf("cannot classify %s against itself", aID)
	}
	a, err := c.graph.GetPerson(ctx, aID)
	if err != nil {
		return model.Classification{}, err
	}
	b, err := c.graph.GetPerson(ctx, bID)
	if err != nil {
		return model.Classification{}, err
	}

	edgesA, err := c.graph.EdgesOf(ctx, aID)
	if err != nil {
		return model.Classification{}, err
	}
	for _, e := range edgesA {
		if e.Other(aID) != bID {
			continue
		}
		rt, ok := c.cat.Type(e.TypeCode)
		if ok && rt.Category == model.CategoryUnion {
			return model.Classification{
				A: aID, B: bID,
				Kind: model.RelationSpouse,
				Ex:   e.Qualifiers.Ex,
				Path: []model.PathStep{{PersonID: bID, Rel: spouseRel(b.Gender)}},
			}, nil
		}
	}

	blood, found, truncated, err := c.classifyBlood(ctx, aID, bID)
	if err != nil {
		return model.Classification{}, err
	}
	if found {
		return blood, nil
	}

	// An explicit sibling edge stands in when the shared parents are not
	// recorded in the graph.
	for _, e := range edgesA {
		if e.Other(aID) != bID {
			continue
		}
		rt, ok := c.cat.Type(e.TypeCode)
		if ok && rt.Category == model.CategorySiblingDerived {
			return model.Classification{
				A: aID, B: bID,
				Kind: model.RelationSibling,
				Half: e.Qualifiers.Half,
				Path: []model.PathStep{{PersonID: bID, Rel: siblingRel(b.Gender)}},
			}, nil
		}
	}

	inLaw, found, inLawTrunc, err := c.classifyInLaw(ctx, a, b, edgesA)
	if err != nil {
		return model.Classification{}, err
	}
	if found {
		return inLaw, nil
	}

	kind := model.RelationUnrelated
	if truncated || inLawTrunc {
		kind = model.RelationUnknown
	}
	return model.Classification{A: aID, B: bID, Kind: kind}, nil
}

// classifyBlood resolves consanguinity through shared ancestors.
func (c *Classifier) classifyBlood(ctx context.Context, aID, bID string) (model.Classification, bool, bool, error) {
	shared, upA, upB, err := c.trav.CommonAncestors(ctx, aID, bID, 0)
	if err != nil {
		return model.Classification{}, false, false, err
	}
	truncated := upA.Truncated || upB.Truncated
	if len(shared) == 0 {
		return model.Classification{}, false, truncated, nil
	}

	couple, rest := nearestCouple(shared)
	da, db := couple[0].DepthFromA, couple[0].DepthFromB

	out := model.Classification{
		A: aID, B: bID,
		GenerationOffset: da - db,
		CommonAncestors:  couple,
	}
	if c.maxAlt > 0 && len(rest) > c.maxAlt {
		rest = rest[:c.maxAlt]
	}
	out.AlternateAncestors = rest

	switch {
	case da == 0 || db == 0:
		out.Kind = model.RelationDirect
	case da == 1 && db == 1:
		out.Kind = model.RelationSibling
		out.Half = len(couple) < 2
	default:
		out.Kind = model.RelationCollateral
		out.CousinDegree = min(da, db) - 1
		out.CousinRemoved = abs(da - db)
		out.Half = len(couple) < 2
	}

	path, err := c.buildPath(ctx, aID, bID, couple[0].ID, upA, upB)
	if err != nil {
		return model.Classification{}, false, truncated, err
	}
	out.Path = path
	return out, true, truncated, nil
}

// classifyInLaw looks for a blood relation one union edge away, on
// either side of the pair. The closest hit wins.
func (c *Classifier) classifyInLaw(ctx context.Context, a, b model.Person, edgesA []model.RelationshipEdge) (model.Classification, bool, bool, error) {
	edgesB, err := c.graph.EdgesOf(ctx, b.ID)
	if err != nil {
		return model.Classification{}, false, false, err
	}

	var (
		best      model.Classification
		found     bool
		truncated bool
	)
	consider := func(cand model.Classification) {
		if !found || len(cand.Path) < len(best.Path) {
			best, found = cand, true
		}
	}

	for _, e := range c.unionEdges(edgesA, a.ID) {
		spouseID := e.Other(a.ID)
		if spouseID == "" || spouseID == b.ID {
			continue
		}
		blood, ok, trunc, err := c.classifyBlood(ctx, spouseID, b.ID)
		truncated = truncated || trunc
		if err != nil {
			return model.Classification{}, false, truncated, err
		}
		if !ok {
			continue
		}
		sp, err := c.graph.GetPerson(ctx, spouseID)
		if err != nil {
			return model.Classification{}, false, truncated, err
		}
		cand := blood
		cand.A, cand.B = a.ID, b.ID
		cand.InLaw = true
		cand.Ex = e.Qualifiers.Ex
		cand.Path = append([]model.PathStep{{PersonID: spouseID, Rel: spouseRel(sp.Gender)}}, blood.Path...)
		consider(cand)
	}

	for _, e := range c.unionEdges(edgesB, b.ID) {
		spouseID := e.Other(b.ID)
		if spouseID == "" || spouseID == a.ID {
			continue
		}
		blood, ok, trunc, err := c.classifyBlood(ctx, a.ID, spouseID)
		truncated = truncated || trunc
		if err != nil {
			return model.Classification{}, false, truncated, err
		}
		if !ok {
			continue
		}
		cand := blood
		cand.A, cand.B = a.ID, b.ID
		cand.InLaw = true
		cand.Ex = e.Qualifiers.Ex
		cand.Path = append(append([]model.PathStep{}, blood.Path...), model.PathStep{PersonID: b.ID, Rel: spouseRel(b.Gender)})
		consider(cand)
	}
	return best, found, truncated, nil
}

func (c *Classifier) unionEdges(edges []model.RelationshipEdge, of string) []model.RelationshipEdge {
	var out []model.RelationshipEdge
	for _, e := range edges {
		rt, ok := c.cat.Type(e.TypeCode)
		if ok && rt.Category == model.CategoryUnion && e.Other(of) != "" {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Other(of) < out[j].Other(of) })
	return out
}

// buildPath reconstructs the literal hop sequence from a to b through
// the common ancestor ca: up along a's first recorded path, then down
// along the reverse of b's.
func (c *Classifier) buildPath(ctx context.Context, aID, bID, ca string, upA, upB *traverse.Result) ([]model.PathStep, error) {
	var steps []model.PathStep

	if ca != aID {
		node, ok := upA.Lookup(ca)
		if !ok || len(node.Paths) == 0 {
			return nil, fmt.Errorf("ancestor %s not reachable from %s", ca, aID)
		}
		for _, pid := range node.Paths[0] {
			g, err := c.gender(ctx, pid)
			if err != nil {
				return nil, err
			}
			steps = append(steps, model.PathStep{PersonID: pid, Rel: parentRel(g)})
		}
	}

	if ca != bID {
		node, ok := upB.Lookup(ca)
		if !ok || len(node.Paths) == 0 {
			return nil, fmt.Errorf("ancestor %s not reachable from %s", ca, bID)
		}
		// upB's path runs b -> ... -> ca; walked from ca it reads as a
		// descent ending at b.
		down := node.Paths[0]
		for i := len(down) - 2; i >= 0; i-- {
			g, err := c.gender(ctx, down[i])
			if err != nil {
				return nil, err
			}
			steps = append(steps, model.PathStep{PersonID: down[i], Rel: childRel(g)})
		}
		g, err := c.gender(ctx, bID)
		if err != nil {
			return nil, err
		}
		steps = append(steps, model.PathStep{PersonID: bID, Rel: childRel(g)})
	}
	return steps, nil
}

func (c *Classifier) gender(ctx context.Context, id string) (model.Gender, error) {
	p, err := c.graph.GetPerson(ctx, id)
	if err != nil {
		return model.GenderUnknown, err
	}
	return p.Gender, nil
}

// nearestCouple picks the classification basis from the sorted shared
// ancestors: among those at the minimum combined depth, the depth pair
// backed by the most ancestors wins, so a recorded couple beats a lone
// ancestor at the same distance.
func nearestCouple(shared []model.CommonAncestor) (couple, rest []model.CommonAncestor) {
	minSum := shared[0].DepthFromA + shared[0].DepthFromB

	type depths struct{ a, b int }
	groups := make(map[depths][]model.CommonAncestor)
	for _, ca := range shared {
		if ca.DepthFromA+ca.DepthFromB != minSum {
			break
		}
		groups[depths{ca.DepthFromA, ca.DepthFromB}] = append(groups[depths{ca.DepthFromA, ca.DepthFromB}], ca)
	}

	var bestKey depths
	first := true
	for k, g := range groups {
		if first {
			bestKey, first = k, false
			continue
		}
		bg := groups[bestKey]
		switch {
		case len(g) != len(bg):
			if len(g) > len(bg) {
				bestKey = k
			}
		case abs(k.a-k.b) != abs(bestKey.a-bestKey.b):
			if abs(k.a-k.b) < abs(bestKey.a-bestKey.b) {
				bestKey = k
			}
		case g[0].ID < bg[0].ID:
			bestKey = k
		}
	}

	couple = groups[bestKey]
	for _, ca := range shared {
		if ca.DepthFromA == bestKey.a && ca.DepthFromB == bestKey.b {
			continue
		}
		rest = append(rest, ca)
	}
	return couple, rest
}

func parentRel(g model.Gender) string {
	switch g {
	case model.GenderMale:
		return "father"
	case model.GenderFemale:
		return "mother"
	}
	return "parent"
}

func childRel(g model.Gender) string {
	switch g {
	case model.GenderMale:
		return "son"
	case model.GenderFemale:
		return "daughter"
	}
	return "child"
}

func spouseRel(g model.Gender) string {
	switch g {
	case model.GenderMale:
		return "husband"
	case model.GenderFemale:
		return "wife"
	}
	return "spouse"
}

func siblingRel(g model.Gender) string {
	switch g {
	case model.GenderMale:
		return "brother"
	case model.GenderFemale:
		return "sister"
	}
	return "sibling"
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
