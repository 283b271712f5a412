// SPDX-License-Identifier: MPL-2.0

package keyed

import (
	"hash/maphash"
	"sync"
)

// DefaultShards is the shard count used when NewMap is given zero.
const DefaultShards = 32

type (
	// Map is a concurrency-safe map split into independently locked shards.
	// Operations on the same key serialize; operations on keys in different
	// shards proceed in parallel.
	Map[K comparable, V any] struct {
		seed   maphash.Seed
		shards []*shard[K, V]
	}

	shard[K comparable, V any] struct {
		mu sync.RWMutex
		m  map[K]V
	}
)

// NewMap creates a Map with n shards (DefaultShards when n <= 0).
func NewMap[K comparable, V any](n int) *Map[K, V] {
	if n <= 0 {
		n = DefaultShards
	}
	m := &Map[K, V]{
		seed:   maphash.MakeSeed(),
		shards: make([]*shard[K, V], n),
	}
	for i := range m.shards {
		m.shards[i] = &shard[K, V]{m: make(map[K]V)}
	}
	return m
}

func (m *Map[K, V]) shardFor(key K) *shard[K, V] {
	h := maphash.Comparable(m.seed, key)
	return m.shards[h%uint64(len(m.shards))]
}

// Load returns the value stored for key.
func (m *Map[K, V]) Load(key K) (V, bool) {
	s := m.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	return v, ok
}

// Store sets the value for key.
func (m *Map[K, V]) Store(key K, value V) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
}

// LoadOrStore returns the existing value for key if present. Otherwise it
// stores and returns value. loaded reports whether the value was present.
func (m *Map[K, V]) LoadOrStore(key K, value V) (actual V, loaded bool) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.m[key]; ok {
		return v, true
	}
	s.m[key] = value
	return value, false
}

// Delete removes key and returns the value it held.
func (m *Map[K, V]) Delete(key K) (V, bool) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	if ok {
		delete(s.m, key)
	}
	return v, ok
}

// Update atomically replaces the value for key with fn's result. fn
// receives the current value and whether it exists; returning keep=false
// deletes the key. fn runs under the shard lock and must not call back
// into the Map.
func (m *Map[K, V]) Update(key K, fn func(current V, exists bool) (next V, keep bool)) V {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.m[key]
	next, keep := fn(cur, ok)
	if keep {
		s.m[key] = next
	} else {
		delete(s.m, key)
	}
	return next
}

// Range calls fn for every entry until fn returns false. Each shard is
// read-locked while it is visited, so fn must not modify the Map.
func (m *Map[K, V]) Range(fn func(key K, value V) bool) {
	for _, s := range m.shards {
		s.mu.RLock()
		for k, v := range s.m {
			if !fn(k, v) {
				s.mu.RUnlock()
				return
			}
		}
		s.mu.RUnlock()
	}
}

// Len returns the number of entries.
func (m *Map[K, V]) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		n += len(s.m)
		s.mu.RUnlock()
	}
	return n
}
