package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

type entry struct {
	id     string
	vector []float32
	tags   map[string]string
	seq    uint64 // insertion recency, breaks distance ties
}

// Memory is an in-process Index. It is safe for concurrent use and keeps
// query results deterministic: equal distances are ordered most recently
// upserted first.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*entry
	nextSeq uint64
}

// NewMemory creates an empty in-memory index
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]*entry),
	}
}

// Upsert stores or replaces the vector for id
func (m *Memory) Upsert(_ context.Context, id string, vector []float32, tags map[string]string) error {
	if len(vector) == 0 {
		return fmt.Errorf("empty vector for id %s", id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	v := make([]float32, len(vector))
	copy(v, vector)
	t := make(map[string]string, len(tags))
	for k, val := range tags {
		t[k] = val
	}

	m.nextSeq++
	m.entries[id] = &entry{id: id, vector: v, tags: t, seq: m.nextSeq}
	return nil
}

// Query returns up to k nearest neighbors matching tagFilter, ascending by
// cosine distance
func (m *Memory) Query(_ context.Context, vector []float32, k int, tagFilter map[string]string) ([]Neighbor, error) {
	if k <= 0 {
		return []Neighbor{}, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	type scored struct {
		Neighbor
		seq uint64
	}
	matches := make([]scored, 0, len(m.entries))
	for _, e := range m.entries {
		if !matchesTags(e.tags, tagFilter) {
			continue
		}
		matches = append(matches, scored{
			Neighbor: Neighbor{ID: e.id, Distance: cosineDistance(vector, e.vector)},
			seq:      e.seq,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].seq > matches[j].seq
	})

	if len(matches) > k {
		matches = matches[:k]
	}
	neighbors := make([]Neighbor, len(matches))
	for i, s := range matches {
		neighbors[i] = s.Neighbor
	}
	return neighbors, nil
}

// Delete removes the vector for id, if present
func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

// Len returns the number of stored vectors
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close is a no-op for the in-memory index
func (m *Memory) Close() error {
	return nil
}

func matchesTags(tags, filter map[string]string) bool {
	for k, v := range filter {
		if tags[k] != v {
			return false
		}
	}
	return true
}

// cosineDistance returns 1 - cosine similarity. Mismatched or zero-norm
// vectors are treated as maximally distant rather than an error.
func cosineDistance(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 2
	}
	return float32(1 - dot/(math.Sqrt(normA)*math.Sqrt(normB)))
}
