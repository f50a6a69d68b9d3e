package memorystore

import (
	"sort"
	"sync"
)

// RecordStore buffers records per symbol until they are drained.
// Each symbol has its own lock so producers for different symbols do not
// contend; the global lock only guards the symbol map.
type RecordStore[T any] struct {
	globalMu sync.RWMutex
	data     map[string]*symbolBuffer[T]
	max      int
}

type symbolBuffer[T any] struct {
	mu      sync.Mutex
	records []T
}

// NewRecordStore creates a store holding at most max records per symbol.
// A non-positive max means unbounded.
func NewRecordStore[T any](max int) *RecordStore[T] {
	return &RecordStore[T]{
		data: make(map[string]*symbolBuffer[T]),
		max:  max,
	}
}

func (s *RecordStore[T]) buffer(symbol string) *symbolBuffer[T] {
	// Fast path: shared lock for an existing symbol
	s.globalMu.RLock()
	buf, ok := s.data[symbol]
	s.globalMu.RUnlock()
	if ok {
		return buf
	}

	s.globalMu.Lock()
	defer s.globalMu.Unlock()
	if buf, ok = s.data[symbol]; !ok {
		buf = &symbolBuffer[T]{}
		s.data[symbol] = buf
	}
	return buf
}

// Add appends records for symbol. It returns the pending length after the
// append and how many of the oldest records were discarded to respect the cap.
func (s *RecordStore[T]) Add(symbol string, recs ...T) (pending, dropped int) {
	buf := s.buffer(symbol)

	buf.mu.Lock()
	defer buf.mu.Unlock()

	buf.records = append(buf.records, recs...)
	if s.max > 0 && len(buf.records) > s.max {
		dropped = len(buf.records) - s.max
		// Reslice; the next append that outgrows the array copies only live records
		clear(buf.records[:dropped])
		buf.records = buf.records[dropped:]
	}
	return len(buf.records), dropped
}

// Drain removes and returns every pending record for symbol, oldest first.
func (s *RecordStore[T]) Drain(symbol string) []T {
	s.globalMu.RLock()
	buf, ok := s.data[symbol]
	s.globalMu.RUnlock()
	if !ok {
		return nil
	}

	buf.mu.Lock()
	defer buf.mu.Unlock()

	out := buf.records
	buf.records = nil
	return out
}

// Requeue puts recs back ahead of anything buffered since they were drained.
// If the result exceeds the cap the oldest records are dropped; the number
// dropped is returned.
func (s *RecordStore[T]) Requeue(symbol string, recs []T) (dropped int) {
	if len(recs) == 0 {
		return 0
	}
	buf := s.buffer(symbol)

	buf.mu.Lock()
	defer buf.mu.Unlock()

	merged := make([]T, 0, len(recs)+len(buf.records))
	merged = append(merged, recs...)
	merged = append(merged, buf.records...)
	if s.max > 0 && len(merged) > s.max {
		dropped = len(merged) - s.max
		merged = merged[dropped:]
	}
	buf.records = merged
	return dropped
}

// GetBySymbol returns a copy of the pending records for symbol.
func (s *RecordStore[T]) GetBySymbol(symbol string) []T {
	s.globalMu.RLock()
	buf, ok := s.data[symbol]
	s.globalMu.RUnlock()
	if !ok {
		return nil
	}

	buf.mu.Lock()
	defer buf.mu.Unlock()

	cp := make([]T, len(buf.records))
	copy(cp, buf.records)
	return cp
}

// Symbols returns every symbol that has ever been buffered, sorted.
func (s *RecordStore[T]) Symbols() []string {
	s.globalMu.RLock()
	defer s.globalMu.RUnlock()

	out := make([]string, 0, len(s.data))
	for sym := range s.data {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// CountAll returns the total number of pending records across all symbols.
func (s *RecordStore[T]) CountAll() int {
	s.globalMu.RLock()
	defer s.globalMu.RUnlock()

	total := 0
	for _, buf := range s.data {
		buf.mu.Lock()
		total += len(buf.records)
		buf.mu.Unlock()
	}
	return total
}
