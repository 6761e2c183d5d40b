// Package baseline holds the rolling historical sample windows the
// anomaly scorer trains on. One bounded FIFO window per metric key.
package baseline

import (
	"math"
	"sync"

	"github.com/sentinelstack/sentinel-heal/internal/models"
)

// Stats are the derived statistics of one metric key's window. They are
// only as fresh as the moment they were computed.
type Stats struct {
	Count    int
	Mean     float64
	Variance float64
}

// StdDev returns the standard deviation for the window.
func (s Stats) StdDev() float64 {
	return math.Sqrt(s.Variance)
}

// Store owns the per-key baselines. Reads return copies so scoring never
// observes a half-appended window.
type Store struct {
	mu       sync.RWMutex
	capacity int
	series   map[string]*ring
}

// ring is a fixed-capacity FIFO of samples.
type ring struct {
	samples []models.MetricSample
	head    int
	count   int
}

// NewStore creates a Store whose windows hold up to capacity samples each.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Store{
		capacity: capacity,
		series:   make(map[string]*ring),
	}
}

// Append records a sample under its key, evicting the oldest sample when
// the window is full.
func (s *Store) Append(sample models.MetricSample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.series[sample.Key]
	if !ok {
		r = &ring{samples: make([]models.MetricSample, s.capacity)}
		s.series[sample.Key] = r
	}

	idx := (r.head + r.count) % len(r.samples)
	r.samples[idx] = sample
	if r.count < len(r.samples) {
		r.count++
	} else {
		r.head = (r.head + 1) % len(r.samples)
	}
}

// Window returns a copy of the key's samples, oldest first. Nil when the
// key is unknown.
func (s *Store) Window(key string) []models.MetricSample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.series[key]
	if !ok || r.count == 0 {
		return nil
	}
	out := make([]models.MetricSample, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.samples[(r.head+i)%len(r.samples)]
	}
	return out
}

// Latest returns the most recent sample for the key.
func (s *Store) Latest(key string) (models.MetricSample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.series[key]
	if !ok || r.count == 0 {
		return models.MetricSample{}, false
	}
	return r.samples[(r.head+r.count-1)%len(r.samples)], true
}

// Len returns the number of samples held for the key.
func (s *Store) Len(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.series[key]
	if !ok {
		return 0
	}
	return r.count
}

// Keys lists every tracked metric key.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.series))
	for k := range s.series {
		keys = append(keys, k)
	}
	return keys
}

// Stats computes mean and population variance over the key's window.
func (s *Store) Stats(key string) (Stats, bool) {
	window := s.Window(key)
	if len(window) == 0 {
		return Stats{}, false
	}

	mean := 0.0
	for _, sample := range window {
		mean += sample.Value
	}
	mean /= float64(len(window))

	variance := 0.0
	for _, sample := range window {
		diff := sample.Value - mean
		variance += diff * diff
	}
	variance /= float64(len(window))

	return Stats{Count: len(window), Mean: mean, Variance: variance}, true
}
