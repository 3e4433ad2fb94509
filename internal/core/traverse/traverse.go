// Package traverse implements depth-bounded ancestry traversal over the
// relationship graph, with a mutation-invalidated cache. It is the only
// place BFS happens; the classifier and detector consume its results.
package traverse

import (
	"context"
	"sort"

	"github.com/famlinks/kinship/internal/catalog"
	"github.com/famlinks/kinship/internal/model"
)

// Graph is the read surface traversal needs. The store satisfies it.
type Graph interface {
	EdgesOf(ctx context.Context, personID string) ([]model.RelationshipEdge, error)
	GetPerson(ctx context.Context, id string) (model.Person, error)
}

// Direction of a traversal: up follows child->parent hops, down the
// reverse.
type Direction int

const (
	Up Direction = iota
	Down
)

// Node is one person reached by a bounded traversal. Depth is the
// minimum hop count observed; Paths holds the distinct id-paths that
// reached it (more than one under pedigree collapse), capped by the
// traversal's MaxPaths.
type Node struct {
	ID    string
	Depth int
	// Paths are person-id sequences from the root's first hop to this
	// node inclusive. The root itself is not part of a path.
	Paths [][]string
}

// Result of one bounded traversal from Root.
type Result struct {
	Root      string
	Direction Direction
	Nodes     []Node
	// Truncated is set when the frontier was cut at the depth bound, so
	// absence of a person in Nodes does not prove unrelatedness.
	Truncated bool

	index map[string]int
}

// Lookup returns the node for id, if reached.
func (r *Result) Lookup(id string) (Node, bool) {
	i, ok := r.index[id]
	if !ok {
		return Node{}, false
	}
	return r.Nodes[i], true
}

// Traversal runs bounded BFS over a Graph. MaxDepth bounds every walk
// (a smaller per-call bound may be passed); MaxPaths caps multiplicity
// bookkeeping per reached node.
type Traversal struct {
	graph    Graph
	cache    *AncestorCache
	MaxDepth int
	MaxPaths int
}

func New(g Graph, maxDepth, maxPaths int) *Traversal {
	t := &Traversal{graph: g, MaxDepth: maxDepth, MaxPaths: maxPaths}
	t.cache = newAncestorCache(t)
	return t
}

// Cache exposes the traversal's cache for invalidation hooks.
func (t *Traversal) Cache() *AncestorCache { return t.cache }

// AncestorsOf returns every ancestor reachable within maxDepth hops,
// served from cache when warm.
func (t *Traversal) AncestorsOf(ctx context.Context, id string, maxDepth int) (*Result, error) {
	return t.cache.get(ctx, id, Up, t.clamp(maxDepth))
}

// DescendantsOf mirrors AncestorsOf downward.
func (t *Traversal) DescendantsOf(ctx context.Context, id string, maxDepth int) (*Result, error) {
	return t.cache.get(ctx, id, Down, t.clamp(maxDepth))
}

func (t *Traversal) clamp(d int) int {
	if d <= 0 || d > t.MaxDepth {
		return t.MaxDepth
	}
	return d
}

// walk is the uncached bounded BFS. Every node expands once, at its
// minimum depth; revisits through other paths only record multiplicity.
// A node already on the current path is skipped outright, so malformed
// cyclic data terminates.
func (t *Traversal) walk(ctx context.Context, root string, dir Direction, maxDepth int) (*Result, error) {
	type item struct {
		id    string
		depth int
		path  []string
	}

	res := &Result{Root: root, Direction: dir, index: make(map[string]int)}
	expanded := make(map[string]bool)
	queue := []item{{id: root, depth: 0}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if expanded[cur.id] {
			continue
		}
		expanded[cur.id] = true

		if cur.depth >= maxDepth {
			res.Truncated = true
			continue
		}

		edges, err := t.graph.EdgesOf(ctx, cur.id)
		if err != nil {
			return nil, err
		}
		for _, next := range hops(edges, cur.id, dir) {
			if next == root || onPath(cur.path, next) {
				continue
			}
			path := append(append([]string{}, cur.path...), next)
			if i, seen := res.index[next]; seen {
				if len(res.Nodes[i].Paths) < t.MaxPaths {
					res.Nodes[i].Paths = append(res.Nodes[i].Paths, path)
				}
				continue
			}
			res.index[next] = len(res.Nodes)
			res.Nodes = append(res.Nodes, Node{ID: next, Depth: cur.depth + 1, Paths: [][]string{path}})
			queue = append(queue, item{id: next, depth: cur.depth + 1, path: path})
		}
	}

	sort.Slice(res.Nodes, func(i, j int) bool {
		if res.Nodes[i].Depth != res.Nodes[j].Depth {
			return res.Nodes[i].Depth < res.Nodes[j].Depth
		}
		return res.Nodes[i].ID < res.Nodes[j].ID
	})
	for i, n := range res.Nodes {
		res.index[n.ID] = i
	}
	return res, nil
}

// hops extracts the next-generation neighbors from a person's edges.
// The store writes both halves of every parent-child link, so matching
// the outgoing half is sufficient; both are checked for robustness
// against partially migrated data.
func hops(edges []model.RelationshipEdge, from string, dir Direction) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, e := range edges {
		switch dir {
		case Up:
			if e.FromID == from && e.TypeCode == catalog.TypeChild {
				add(e.ToID)
			}
			if e.ToID == from && e.TypeCode == catalog.TypeParent {
				add(e.FromID)
			}
		case Down:
			if e.FromID == from && e.TypeCode == catalog.TypeParent {
				add(e.ToID)
			}
			if e.ToID == from && e.TypeCode == catalog.TypeChild {
				add(e.FromID)
			}
		}
	}
	sort.Strings(out)
	return out
}

func onPath(path []string, id string) bool {
	for _, p := range path {
		if p == id {
			return true
		}
	}
	return false
}

// CommonAncestors intersects the bounded ancestor sets of a and b,
// keeping the minimum depth from each side. Results are ordered by
// combined depth, then id, so the nearest common ancestor comes first.
// The two Results are returned for path reconstruction.
func (t *Traversal) CommonAncestors(ctx context.Context, a, b string, maxDepth int) ([]model.CommonAncestor, *Result, *Result, error) {
	upA, err := t.AncestorsOf(ctx, a, maxDepth)
	if err != nil {
		return nil, nil, nil, err
	}
	upB, err := t.AncestorsOf(ctx, b, maxDepth)
	if err != nil {
		return nil, nil, nil, err
	}

	var shared []model.CommonAncestor
	for _, na := range upA.Nodes {
		if nb, ok := upB.Lookup(na.ID); ok {
			shared = append(shared, model.CommonAncestor{
				ID:         na.ID,
				DepthFromA: na.Depth,
				DepthFromB: nb.Depth,
			})
		}
	}
	// One of the pair may be an ancestor of the other; the direct line
	// counts as sharing that ancestor at depth zero from its own side.
	if nb, ok := upB.Lookup(a); ok {
		shared = append(shared, model.CommonAncestor{ID: a, DepthFromA: 0, DepthFromB: nb.Depth})
	}
	if na, ok := upA.Lookup(b); ok {
		shared = append(shared, model.CommonAncestor{ID: b, DepthFromA: na.Depth, DepthFromB: 0})
	}

	sort.Slice(shared, func(i, j int) bool {
		si := shared[i].DepthFromA + shared[i].DepthFromB
		sj := shared[j].DepthFromA + shared[j].DepthFromB
		if si != sj {
			return si < sj
		}
		return shared[i].ID < shared[j].ID
	})
	return shared, upA, upB, nil
}
