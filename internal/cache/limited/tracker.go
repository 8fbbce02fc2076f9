package limited

import (
	"sort"
	"sync"
)

// Tracker tracks all keys written to a store.
type Tracker struct {
	trackedKeys sync.Map
}

// NewTracker creates a new Tracker instance.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Add adds a key to the tracker.
func (t *Tracker) Add(key string) {
	t.trackedKeys.Store(key, struct{}{})
}

// Remove removes a key from the tracker.
func (t *Tracker) Remove(key string) {
	t.trackedKeys.Delete(key)
}

// Keys returns the tracked keys in sorted order.
func (t *Tracker) Keys() []string {
	var keys []string
	t.trackedKeys.Range(func(k, _ any) bool {
		if s, ok := k.(string); ok {
			keys = append(keys, s)
		}
		return true
	})
	sort.Strings(keys)
	return keys
}
