package stats

import "sync"

// CounterStats tracks the distribution of a sampled value: count, sum,
// minimum and maximum. Used for repack size statistics.
type CounterStats struct {
	mu    sync.Mutex
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// Set records one sample.
func (s *CounterStats) Set(value uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == 0 || value < s.min {
		s.min = value
	}
	if value > s.max {
		s.max = value
	}
	s.count++
	s.sum += value
}

// Count returns the number of samples recorded.
func (s *CounterStats) Count() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.count
}

// Average returns the mean of the recorded samples, 0 when empty.
func (s *CounterStats) Average() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == 0 {
		return 0
	}

	return s.sum / s.count
}

// Minimum returns the smallest recorded sample, 0 when empty.
func (s *CounterStats) Minimum() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.min
}

// Maximum returns the largest recorded sample, 0 when empty.
func (s *CounterStats) Maximum() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.max
}
