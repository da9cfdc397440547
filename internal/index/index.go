// Package index provides nearest-neighbor vector search keyed by receipt id.
//
// Both implementations use cosine distance (smaller is nearer) so that the
// write path and the read path agree on a single metric.
package index

import "context"

// Neighbor is one query hit
type Neighbor struct {
	ID       string
	Distance float32
}

// Index maintains one vector per id with optional string tags. Upsert
// replaces any existing vector for the id, so re-embedding a receipt never
// duplicates it.
type Index interface {
	// Upsert stores (or replaces) the vector for id
	Upsert(ctx context.Context, id string, vector []float32, tags map[string]string) error

	// Query returns up to k nearest neighbors restricted to entries
	// matching every key/value in tagFilter, ascending by distance.
	// Fewer than k matches returns all of them, not an error.
	Query(ctx context.Context, vector []float32, k int, tagFilter map[string]string) ([]Neighbor, error)

	// Delete removes the vector for id. Deleting an absent id is not an
	// error.
	Delete(ctx context.Context, id string) error

	// Close releases index resources
	Close() error
}
