package store

import (
	"sort"
	"sync"
)

// keyedLocks hands out one mutex per key and acquires sets of keys in
// sorted order, so two writers locking overlapping closures can never
// deadlock. Mutexes persist for the life of the process; the key space
// is the person-id space, which is fine at this scale.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedLocks) lockFor(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	return l
}

// acquire locks every key (deduplicated, sorted) and returns the
// release function.
func (k *keyedLocks) acquire(keys []string) func() {
	uniq := make(map[string]bool, len(keys))
	ordered := make([]string, 0, len(keys))
	for _, key := range keys {
		if key != "" && !uniq[key] {
			uniq[key] = true
			ordered = append(ordered, key)
		}
	}
	sort.Strings(ordered)

	held := make([]*sync.Mutex, 0, len(ordered))
	for _, key := range ordered {
		l := k.lockFor(key)
		l.Lock()
		held = append(held, l)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
