package traverse

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// AncestorCache memoizes full-depth traversal results per person and
// direction. Entries never expire by time; only graph mutation
// invalidates them, through Invalidate. A cache miss recomputes against
// the current committed state, deduplicated via singleflight so a herd
// of readers triggers one walk.
type AncestorCache struct {
	traversal *Traversal

	mu      sync.RWMutex
	entries map[cacheKey]*Result
	// dependents maps a person id to every cache key whose stored paths
	// cross that person. Invalidate(p) drops exactly those entries.
	dependents map[string]map[cacheKey]struct{}
	// gen counts invalidations; invalidatedAt stamps each person with the
	// generation of their last one. A walk that began before a crossed
	// person's stamp computed against pre-commit state and must not be
	// cached. Stamps persist for the life of the process, like the
	// store's keyed locks.
	gen           uint64
	invalidatedAt map[string]uint64

	group singleflight.Group
}

type cacheKey struct {
	id  string
	dir Direction
}

func newAncestorCache(t *Traversal) *AncestorCache {
	return &AncestorCache{
		traversal:     t,
		entries:       make(map[cacheKey]*Result),
		dependents:    make(map[string]map[cacheKey]struct{}),
		invalidatedAt: make(map[string]uint64),
	}
}

// get serves a traversal bounded to maxDepth from the cache, computing
// and storing the full-depth result on miss. Results are always computed
// at the traversal's MaxDepth and narrowed on the way out, so one entry
// serves every shallower query.
func (c *AncestorCache) get(ctx context.Context, id string, dir Direction, maxDepth int) (*Result, error) {
	key := cacheKey{id: id, dir: dir}

	c.mu.RLock()
	cached, ok := c.entries[key]
	start := c.gen
	c.mu.RUnlock()
	if ok {
		return narrow(cached, maxDepth), nil
	}

	// The flight key carries the generation, so a walk started before an
	// invalidation is never joined by callers that need post-commit state.
	v, err, _ := c.group.Do(fmt.Sprintf("%d:%d:%s", start, dir, id), func() (any, error) {
		// Re-check: a concurrent caller may have populated the entry
		// between the read miss and the flight.
		c.mu.RLock()
		if hit, ok := c.entries[key]; ok {
			c.mu.RUnlock()
			return hit, nil
		}
		c.mu.RUnlock()

		res, err := c.traversal.walk(ctx, id, dir, c.traversal.MaxDepth)
		if err != nil {
			return nil, err
		}
		c.store(key, res, start)
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return narrow(v.(*Result), maxDepth), nil
}

// store caches res unless any person the walk crossed was invalidated
// after the walk began. The stale result still goes back to the caller
// that raced the commit, but it never outlives the flight.
func (c *AncestorCache) store(key cacheKey, res *Result, start uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.invalidatedAt[key.id] > start {
		return
	}
	for _, n := range res.Nodes {
		for _, path := range n.Paths {
			for _, personID := range path {
				if c.invalidatedAt[personID] > start {
					return
				}
			}
		}
	}
	c.entries[key] = res

	link := func(personID string) {
		set, ok := c.dependents[personID]
		if !ok {
			set = make(map[cacheKey]struct{})
			c.dependents[personID] = set
		}
		set[key] = struct{}{}
	}
	link(key.id)
	for _, n := range res.Nodes {
		for _, path := range n.Paths {
			for _, personID := range path {
				link(personID)
			}
		}
	}
}

// Invalidate drops every cached entry whose path crosses the mutated
// person, in both directions. Called by the store after each committed
// edge write or removal.
func (c *AncestorCache) Invalidate(personID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.invalidatedAt[personID] = c.gen
	for key := range c.dependents[personID] {
		delete(c.entries, key)
	}
	delete(c.dependents, personID)
	// Entries for the person itself, even if empty of paths.
	delete(c.entries, cacheKey{id: personID, dir: Up})
	delete(c.entries, cacheKey{id: personID, dir: Down})
}

// Len reports the number of live entries. Test hook.
func (c *AncestorCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// narrow trims a full-depth result to a shallower bound without copying
// the underlying path slices.
func narrow(full *Result, maxDepth int) *Result {
	if maxDepth <= 0 {
		return full
	}
	deeper := false
	for _, n := range full.Nodes {
		if n.Depth > maxDepth {
			deeper = true
			break
		}
	}
	if !deeper {
		return full
	}
	out := &Result{Root: full.Root, Direction: full.Direction, index: make(map[string]int)}
	for _, n := range full.Nodes {
		if n.Depth > maxDepth {
			out.Truncated = true
			continue
		}
		out.index[n.ID] = len(out.Nodes)
		out.Nodes = append(out.Nodes, n)
	}
	out.Truncated = out.Truncated || full.Truncated
	return out
}
