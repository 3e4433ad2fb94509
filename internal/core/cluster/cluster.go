// Package cluster groups profiles into trees. A tree is a connected
// component of the relationship graph; bridge requests are how two
// trees become one, so the grouping shows what a bridge would join.
package cluster

import (
	"context"
	"sort"

	"github.com/famlinks/kinship/internal/driver"
)

// Tree is one connected family. ID is the smallest member id, which
// keeps the labeling stable across runs.
type Tree struct {
	ID      string   `json:"id"`
	Members []string `json:"members"`
	Size    int      `json:"size"`
}

// Detector computes tree membership from the stored graph. Merged
// profiles are excluded: their edges already moved to the kept profile.
type Detector struct {
	d driver.Driver
}

func New(d driver.Driver) *Detector {
	return &Detector{d: d}
}

// Trees returns every connected component, singletons included: a
// freshly created profile is a tree of one until its first edge.
// Ordered by size descending, then by id.
func (c *Detector) Trees(ctx context.Context) ([]Tree, error) {
	adj, ids, err := c.adjacency(ctx)
	if err != nil {
		return nil, err
	}

	visited := make(map[string]bool, len(ids))
	var trees []Tree
	for _, id := range ids {
		if visited[id] {
			continue
		}
		var members []string
		c.dfs(id, adj, visited, &members)
		sort.Strings(members)
		trees = append(trees, Tree{ID: members[0], Members: members, Size: len(members)})
	}

	sort.Slice(trees, func(i, j int) bool {
		if trees[i].Size != trees[j].Size {
			return trees[i].Size > trees[j].Size
		}
		return trees[i].ID < trees[j].ID
	})
	return trees, nil
}

// SameTree reports whether two profiles are already connected through
// recorded relationships.
func (c *Detector) SameTree(ctx context.Context, aID, bID string) (bool, error) {
	if aID == bID {
		return true, nil
	}
	adj, _, err := c.adjacency(ctx)
	if err != nil {
		return false, err
	}
	visited := make(map[string]bool)
	var members []string
	c.dfs(aID, adj, visited, &members)
	return visited[bID], nil
}

func (c *Detector) adjacency(ctx context.Context) (map[string][]string, []string, error) {
	persons, err := c.d.ListPersons(ctx)
	if err != nil {
		return nil, nil, err
	}

	present := make(map[string]bool, len(persons))
	var ids []string
	for _, p := range persons {
		if p.MergedIntoID != "" {
			continue
		}
		present[p.ID] = true
		ids = append(ids, p.ID)
	}

	adj := make(map[string][]string, len(ids))
	seen := make(map[string]bool)
	for _, id := range ids {
		edges, err := c.d.EdgesOf(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		for _, e := range edges {
			if seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			if !present[e.FromID] || !present[e.ToID] {
				continue
			}
			adj[e.FromID] = append(adj[e.FromID], e.ToID)
			adj[e.ToID] = append(adj[e.ToID], e.FromID)
		}
	}
	return adj, ids, nil
}

func (c *Detector) dfs(id string, adj map[string][]string, visited map[string]bool, members *[]string) {
	visited[id] = true
	*members = append(*members, id)
	for _, next := range adj[id] {
		if !visited[next] {
			c.dfs(next, adj, visited, members)
		}
	}
}
