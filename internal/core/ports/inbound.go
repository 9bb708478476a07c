package ports

import (
	"context"

	"github.com/dolakin/tax-bills-assistant/internal/core/domain"
)

// TurnHandler is the inbound contract for one conversational turn. It never
// fails for "no evidence found"; that is a refusal payload, not an error.
type TurnHandler interface {
	HandleTurn(ctx context.Context, sessionID, message string) (*domain.AnswerPayload, error)
}

// CorpusIngestor is the inbound contract for (re-)indexing the corpus.
type CorpusIngestor interface {
	Upsert(ctx context.Context, fragments []domain.Fragment) (domain.IngestStats, error)
}
