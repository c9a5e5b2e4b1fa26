package report

import (
	"sync"

	"github.com/deixis/procman/internal/runner"
)

// LRUStore is an in-memory LRU cache that delegates to a backing Store on miss.
type LRUStore struct {
	mu   sync.Mutex
	cap  int
	back Store

	// Doubly-linked list for LRU ordering (most recent at head).
	head, tail *lruEntry
	items      map[string]*lruEntry
}

type lruEntry struct {
	key  string
	exec *runner.Execution
	prev *lruEntry
	next *lruEntry
}

// NewLRUStore creates an LRU cache with the given capacity that delegates
// to back on cache misses. Capacity must be >= 1.
func NewLRUStore(cap int, back Store) *LRUStore {
	if cap < 1 {
		cap = 1
	}
	return &LRUStore{
		cap:   cap,
		back:  back,
		items: make(map[string]*lruEntry, cap),
	}
}

// Save writes the execution to the cache and delegates to the backing store.
func (s *LRUStore) Save(e *runner.Execution) error {
	s.mu.Lock()
	s.put(e.RunID, e)
	s.mu.Unlock()

	return s.back.Save(e)
}

// Load checks the cache first. On miss, loads from the backing store and
// promotes the execution into the cache.
func (s *LRUStore) Load(runID string) (*runner.Execution, error) {
	s.mu.Lock()
	if e, ok := s.items[runID]; ok {
		s.moveToFront(e)
		r := e.exec
		s.mu.Unlock()
		return r, nil
	}
	s.mu.Unlock()

	exec, err := s.back.Load(runID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.put(runID, exec)
	s.mu.Unlock()

	return exec, nil
}

// List always reads through to the backing store.
func (s *LRUStore) List(q Query) ([]runner.Execution, error) {
	return s.back.List(q)
}

// Clear empties the cache and the backing store.
func (s *LRUStore) Clear() error {
	s.mu.Lock()
	s.head, s.tail = nil, nil
	s.items = make(map[string]*lruEntry, s.cap)
	s.mu.Unlock()

	return s.back.Clear()
}

func (s *LRUStore) Close() error {
	return s.back.Close()
}

// Len returns the number of cached entries.
func (s *LRUStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *LRUStore) put(key string, exec *runner.Execution) {
	if e, ok := s.items[key]; ok {
		e.exec = exec
		s.moveToFront(e)
		return
	}
	e := &lruEntry{key: key, exec: exec}
	s.items[key] = e
	s.pushFront(e)
	if len(s.items) > s.cap {
		s.evict()
	}
}

func (s *LRUStore) pushFront(e *lruEntry) {
	e.prev = nil
	e.next = s.head
	if s.head != nil {
		s.head.prev = e
	}
	s.head = e
	if s.tail == nil {
		s.tail = e
	}
}

func (s *LRUStore) moveToFront(e *lruEntry) {
	if s.head == e {
		return
	}
	s.remove(e)
	s.pushFront(e)
}

func (s *LRUStore) remove(e *lruEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		s.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		s.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

func (s *LRUStore) evict() {
	if s.tail == nil {
		return
	}
	e := s.tail
	s.remove(e)
	delete(s.items, e.key)
}
