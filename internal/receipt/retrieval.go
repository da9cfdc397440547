package receipt

import (
	"context"
	"log/slog"

	"github.com/raseedapp/raseed/internal/index"
	"github.com/raseedapp/raseed/internal/providers"
)

const defaultTopK = 5

// Retrieval answers free-text queries with the owner's semantically nearest
// receipts. It shares the embedding contract with the ingestion pipeline, so
// queries land in the same vector space the receipts were written into.
type Retrieval struct {
	embedder providers.Embedder
	index    index.Index
	store    DocumentStore
	topK     int
}

// NewRetrieval creates a Retrieval service
func NewRetrieval(embedder providers.Embedder, idx index.Index, store DocumentStore) *Retrieval {
	return &Retrieval{
		embedder: embedder,
		index:    idx,
		store:    store,
		topK:     defaultTopK,
	}
}

// Search returns up to topK matches for the query, nearest first, scoped to
// ownerID. Zero matches is a successful empty result. Index entries whose
// record is missing or belongs to another owner are silently dropped.
func (r *Retrieval) Search(ctx context.Context, ownerID, query string) ([]Match, error) {
	vec, err := r.embedder.Embed(ctx, query, providers.ModeQuery)
	if err != nil {
		return nil, &StageError{Stage: "retrieve", Kind: KindEmbeddingUnavailable, Err: err}
	}

	neighbors, err := r.index.Query(ctx, vec, r.topK, receiptTags)
	if err != nil {
		return nil, &StageError{Stage: "retrieve", Kind: KindIndexUnavailable, Err: err}
	}

	matches := make([]Match, 0, len(neighbors))
	for _, n := range neighbors {
		record, err := r.store.Get(ownerID, n.ID)
		if err != nil {
			// The index is shared across owners; a miss here usually
			// means the neighbor belongs to someone else
			slog.Debug("Dropping neighbor without owner-scoped record",
				"owner_id", ownerID,
				"receipt_id", n.ID,
			)
			continue
		}
		if record.OwnerID != "" && record.OwnerID != ownerID {
			continue
		}
		matches = append(matches, Match{
			ID:         n.ID,
			Distance:   n.Distance,
			Vendor:     record.Vendor,
			TotalPrice: record.TotalPrice,
		})
	}
	return matches, nil
}
