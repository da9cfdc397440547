// Package assistant answers user questions about their receipts by grounding
// an LLM prompt in semantically similar past receipts.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/raseedapp/raseed/internal/providers"
	"github.com/raseedapp/raseed/internal/receipt"
)

const systemPrompt = `You are Raseed, a helpful finance assistant. Answer the user's question using the receipt context below. If the context does not contain enough information, say so plainly. Keep answers short.`

// unavailableMessage is returned when retrieval itself is down. The chat
// surface never hard-fails just because the index has no usable data.
const unavailableMessage = "I couldn't search your receipts right now. Please try again in a moment."

// Searcher finds an owner's nearest receipts for a free-text query
type Searcher interface {
	Search(ctx context.Context, ownerID, query string) ([]receipt.Match, error)
}

// Assistant wires retrieval and an LLM chatter into the chat surface
type Assistant struct {
	searcher Searcher
	chatter  providers.Chatter
}

// New creates an Assistant
func New(searcher Searcher, chatter providers.Chatter) *Assistant {
	return &Assistant{
		searcher: searcher,
		chatter:  chatter,
	}
}

// Chat answers a user message, returning the answer text and the receipt
// matches that grounded it. Retrieval being unavailable degrades to an
// explanatory answer with no matches, not an error.
func (a *Assistant) Chat(ctx context.Context, ownerID, message string) (string, []receipt.Match, error) {
	matches, err := a.searcher.Search(ctx, ownerID, message)
	if err != nil {
		slog.Warn("Receipt search unavailable", "owner_id", ownerID, "error", err)
		return unavailableMessage, []receipt.Match{}, nil
	}

	answer, err := a.chatter.Answer(ctx, buildPrompt(message, matches))
	if err != nil {
		return "", nil, fmt.Errorf("generating answer: %w", err)
	}
	return answer, matches, nil
}

// buildPrompt renders the grounded prompt for the chatter
func buildPrompt(message string, matches []receipt.Match) string {
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\nReceipt context:\n")
	if len(matches) == 0 {
		b.WriteString("(no matching receipts found)\n")
	}
	for _, m := range matches {
		fmt.Fprintf(&b, "- %s, total %s (distance %.3f)\n", m.Vendor, m.TotalPrice, m.Distance)
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(message)
	return b.String()
}
