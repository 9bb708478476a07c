package ports

import (
	"context"

	"github.com/dolakin/tax-bills-assistant/internal/core/domain"
)

// ChunkStore is the indexed, already-segmented corpus. Read-only from the
// pipeline's perspective.
type ChunkStore interface {
	SimilaritySearch(ctx context.Context, query string, k int) ([]domain.Fragment, error)
	ScanAll(ctx context.Context) ([]domain.Fragment, error)
}

// FragmentScanner serves the full fragment set for keyword filtering,
// typically through a versioned read-through cache.
type FragmentScanner interface {
	Fragments(ctx context.Context) ([]domain.Fragment, error)
}

// Completer is the external language-model service. Output is untrusted text
// requiring structural validation by the caller.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Embedder builds vectors for fragment and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// SessionStore keeps per-session conversation state. State is never shared
// across sessions.
type SessionStore interface {
	State(sessionID string) (*domain.ConversationState, bool)
	Save(state *domain.ConversationState)
}

// ReingestBus broadcasts corpus re-ingestion so that full-scan caches are
// explicitly invalidated rather than time-expired.
type ReingestBus interface {
	PublishCorpusReingested(ctx context.Context, stats domain.IngestStats) error
	SubscribeCorpusReingested(ctx context.Context, handler func(context.Context) error) error
}
