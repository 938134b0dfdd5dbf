package pipeline

import "sync"

// defaultStep is the sub-range width when a target does not set one.
const defaultStep = 10

// Span is one inclusive sub-range of street numbers.
type Span struct {
	Initial int
	Final   int
}

// Partition splits [start, end] into consecutive inclusive sub-ranges of
// width <= step. Returns nil when start > end; a non-positive step falls back
// to the default.
func Partition(start, end, step int) []Span {
	if start > end {
		return nil
	}
	if step <= 0 {
		step = defaultStep
	}

	var spans []Span
	for initial := start; initial <= end; initial += step {
		final := initial + step - 1
		if final > end {
			final = end
		}
		spans = append(spans, Span{Initial: initial, Final: final})
	}
	return spans
}

// RangeKey identifies a sub-range within a run.
type RangeKey struct {
	Street  string
	Initial int
	Final   int
	CityID  int
}

// ProcessedSet tracks sub-ranges already attempted in the current run so a
// repeated target skips them. It lives for the process lifetime only; a
// restart starts over.
type ProcessedSet struct {
	mu   sync.Mutex
	seen map[RangeKey]struct{}
}

// NewProcessedSet returns an empty set.
func NewProcessedSet() *ProcessedSet {
	return &ProcessedSet{seen: make(map[RangeKey]struct{})}
}

// Mark records a sub-range as attempted.
func (s *ProcessedSet) Mark(k RangeKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[k] = struct{}{}
}

// Contains reports whether a sub-range was already attempted.
func (s *ProcessedSet) Contains(k RangeKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[k]
	return ok
}

// Len returns the number of attempted sub-ranges.
func (s *ProcessedSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
