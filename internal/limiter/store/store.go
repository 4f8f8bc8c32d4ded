// Package store provides a concurrency-safe mapping from client key to
// per-key limiter state. Instead of a single global lock, entries are
// distributed across N shards based on a hash of the key, so calls for
// different keys rarely contend while calls for the same key always
// serialize around their read-modify-write.
package store

import "sync"

const shardCount = 32

type shard[S any] struct {
	mu      sync.Mutex
	entries map[string]*S
}

// Store is a sharded map owning per-key state of type S exclusively.
// Entries are only ever touched while the owning shard's lock is held;
// callers must not retain references past the callback.
type Store[S any] struct {
	shards [shardCount]shard[S]
}

// New creates an empty store.
func New[S any]() *Store[S] {
	s := &Store[S]{}
	for i := range s.shards {
		s.shards[i].entries = make(map[string]*S)
	}
	return s
}

// Update runs fn with exclusive access to the key's entry, creating it via
// create if absent. The check-and-mutate sequence inside fn is atomic with
// respect to all other operations on the same key.
func (s *Store[S]) Update(key string, create func() *S, fn func(entry *S)) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	entry, ok := sh.entries[key]
	if !ok {
		entry = create()
		sh.entries[key] = entry
	}
	fn(entry)
}

// View runs fn with exclusive access to the key's entry if it exists.
// Returns false when the key is absent.
func (s *Store[S]) View(key string, fn func(entry *S)) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	entry, ok := sh.entries[key]
	if !ok {
		return false
	}
	fn(entry)
	return true
}

// Delete removes the key's entry, if any.
func (s *Store[S]) Delete(key string) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.entries, key)
}

// Len returns the number of tracked keys.
func (s *Store[S]) Len() int {
	n := 0
	for i := range s.shards {
		s.shards[i].mu.Lock()
		n += len(s.shards[i].entries)
		s.shards[i].mu.Unlock()
	}
	return n
}

// Sweep visits every entry and evicts those for which fn returns true.
// The lock is yielded between shards so a large sweep never starves
// concurrent Update calls across the whole store.
func (s *Store[S]) Sweep(fn func(key string, entry *S) bool) (evicted int) {
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for key, entry := range sh.entries {
			if fn(key, entry) {
				delete(sh.entries, key)
				evicted++
			}
		}
		sh.mu.Unlock()
	}
	return evicted
}

func (s *Store[S]) shardFor(key string) *shard[S] {
	return &s.shards[hashString(key)%shardCount]
}

// hashString provides a simple hash for shard selection.
// Uses djb2-style hashing for good distribution.
func hashString(s string) uint32 {
	var h uint32
	for i := 0; i < len(s); i++ {
		h = h*31 + uint32(s[i])
	}
	return h
}
