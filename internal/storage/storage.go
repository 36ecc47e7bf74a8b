package storage

import (
	"sort"
	"time"

	"sentinel/internal/models"
)

// Samples holds the latest Sample per key. No history is kept.
//
// Samples is not safe for concurrent use; the alert engine guards it with
// the same lock as its rule registry so that store, evaluate and dispatch
// happen atomically with respect to rule changes.
type Samples struct {
	latest map[string]models.Sample
}

// NewSamples creates an empty sample store
func NewSamples() *Samples {
	return &Samples{
		latest: make(map[string]models.Sample),
	}
}

// Put overwrites the sample for key.
func (s *Samples) Put(key string, value float64, at time.Time) models.Sample {
	sample := models.Sample{
		Key:       key,
		Value:     value,
		FetchedAt: at.UTC(),
	}
	s.latest[key] = sample
	return sample
}

// Get returns the latest sample for key, if one was ever stored.
func (s *Samples) Get(key string) (models.Sample, bool) {
	sample, ok := s.latest[key]
	return sample, ok
}

// All returns every stored sample ordered by key.
func (s *Samples) All() []models.Sample {
	out := make([]models.Sample, 0, len(s.latest))
	for _, sample := range s.latest {
		out = append(out, sample)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Len returns the number of keys with a sample.
func (s *Samples) Len() int {
	return len(s.latest)
}
