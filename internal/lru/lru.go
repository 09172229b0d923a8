// Package lru is a minimal fixed-capacity LRU set, used by the Unified
// WebSocket Monitor to filter duplicate transaction hashes observed
// across overlapping log subscriptions (spec §4.2: "Duplicate tx hashes
// are filtered through an LRU of the last 1 000 observed").
//
// Plain container/list + map: the pack's teacher and siblings reach for
// third-party LRUs for caching HTTP/DB responses, not for this kind of
// small in-memory dedup set, so this stays stdlib (see DESIGN.md).
package lru

import (
	"container/list"
	"sync"
)

// Set is a bounded, concurrency-safe set with least-recently-used
// eviction.
type Set struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	index    map[interface{}]*list.Element
}

// New returns a Set that holds at most capacity entries.
func New(capacity int) *Set {
	return &Set{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[interface{}]*list.Element),
	}
}

// SeenOrAdd reports whether key was already present; if not, it is
// inserted and the oldest entry is evicted if the set is now over
// capacity.
func (s *Set) SeenOrAdd(key interface{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.index[key]; ok {
		s.order.MoveToFront(el)
		return true
	}

	el := s.order.PushFront(key)
	s.index[key] = el

	for s.order.Len() > s.capacity {
		back := s.order.Back()
		if back == nil {
			break
		}
		s.order.Remove(back)
		delete(s.index, back.Value)
	}
	return false
}
