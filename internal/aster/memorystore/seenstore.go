package memorystore

import "sync"

// SeenTrades remembers the most recent trade ids per symbol so that the
// same aggregate trade arriving from REST, a replayed stream or an earlier
// run is written once. Memory is bounded by window ids per symbol.
type SeenTrades struct {
	mu      sync.Mutex
	window  int
	symbols map[string]*idWindow
}

type idWindow struct {
	ids  map[int64]struct{}
	ring []int64
	next int
}

func NewSeenTrades(window int) *SeenTrades {
	if window <= 0 {
		window = 1
	}
	return &SeenTrades{
		window:  window,
		symbols: make(map[string]*idWindow),
	}
}

// MarkNew records id for symbol and reports whether it was not seen before.
func (s *SeenTrades) MarkNew(symbol string, id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.symbols[symbol]
	if !ok {
		w = &idWindow{ids: make(map[int64]struct{}, s.window)}
		s.symbols[symbol] = w
	}
	if _, dup := w.ids[id]; dup {
		return false
	}

	// Evict the oldest id once the ring is full
	if len(w.ring) < s.window {
		w.ring = append(w.ring, id)
	} else {
		delete(w.ids, w.ring[w.next])
		w.ring[w.next] = id
		w.next = (w.next + 1) % s.window
	}
	w.ids[id] = struct{}{}
	return true
}

// Seed marks every id as seen, oldest first.
func (s *SeenTrades) Seed(symbol string, ids []int64) {
	for _, id := range ids {
		s.MarkNew(symbol, id)
	}
}

// Count returns how many ids are remembered for symbol.
func (s *SeenTrades) Count(symbol string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.symbols[symbol]; ok {
		return len(w.ids)
	}
	return 0
}
