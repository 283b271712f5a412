// SPDX-License-Identifier: MPL-2.0

package keyed

import (
	"context"
	"sync"
)

type (
	// Mutex is a set of mutexes addressed by key. Entries exist only while
	// held or waited on, so the set does not grow with the number of keys
	// ever seen.
	Mutex[K comparable] struct {
		mu    sync.Mutex
		locks map[K]*lockEntry
	}

	lockEntry struct {
		sem  chan struct{}
		refs int
	}
)

// NewMutex creates an empty keyed mutex.
func NewMutex[K comparable]() *Mutex[K] {
	return &Mutex[K]{locks: make(map[K]*lockEntry)}
}

// Lock acquires the lock for key, waiting until ctx is done. On success
// the returned unlock func must be called exactly once.
func (m *Mutex[K]) Lock(ctx context.Context, key K) (unlock func(), err error) {
	e := m.acquireEntry(key)

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		m.releaseEntry(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			m.releaseEntry(key, e)
		})
	}, nil
}

// Held returns the number of keys currently locked or waited on.
func (m *Mutex[K]) Held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

func (m *Mutex[K]) acquireEntry(key K) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.locks[key]
	if !ok {
		e = &lockEntry{sem: make(chan struct{}, 1)}
		m.locks[key] = e
	}
	e.refs++
	return e
}

func (m *Mutex[K]) releaseEntry(key K, e *lockEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
}
