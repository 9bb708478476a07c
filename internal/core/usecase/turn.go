package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dolakin/tax-bills-assistant/internal/core/domain"
	"github.com/dolakin/tax-bills-assistant/internal/core/ports"
)

const (
	defaultHistoryWindow = 6
	maxStoredMessages    = 12
)

type routeClassifier interface {
	Classify(ctx context.Context, q domain.Query) (domain.Route, bool, error)
}

type fragmentRetriever interface {
	Retrieve(ctx context.Context, query string) ([]domain.Fragment, error)
}

type citationSource interface {
	Build(query string, fragments []domain.Fragment) []domain.Citation
}

// PipelineObserver receives pipeline outcomes for metrics.
type PipelineObserver interface {
	ObserveTurn(route string, refusal bool, citations int, seconds float64)
	ObserveGroundingViolation()
}

type noopObserver struct{}

func (noopObserver) ObserveTurn(string, bool, int, float64) {}
func (noopObserver) ObserveGroundingViolation()             {}

// TurnUseCase sequences classifier, retriever, citation builder, composer
// and verifier for one synchronous turn.
type TurnUseCase struct {
	classifier routeClassifier
	retriever  fragmentRetriever
	citations  citationSource
	completer  ports.Completer
	sessions   ports.SessionStore
	observer   PipelineObserver

	historyWindow int
}

func NewTurnUseCase(
	classifier routeClassifier,
	retriever fragmentRetriever,
	citations citationSource,
	completer ports.Completer,
	sessions ports.SessionStore,
) *TurnUseCase {
	return &TurnUseCase{
		classifier:    classifier,
		retriever:     retriever,
		citations:     citations,
		completer:     completer,
		sessions:      sessions,
		observer:      noopObserver{},
		historyWindow: defaultHistoryWindow,
	}
}

// WithObserver attaches a metrics observer.
func (uc *TurnUseCase) WithObserver(observer PipelineObserver) *TurnUseCase {
	if observer != nil {
		uc.observer = observer
	}
	return uc
}

// HandleTurn runs the full pipeline for one session turn. "No evidence" is a
// refusal payload, never an error; store unavailability, malformed classifier
// output after repair, and composer failures are errors.
func (uc *TurnUseCase) HandleTurn(ctx context.Context, sessionID, message string) (*domain.AnswerPayload, error) {
	started := time.Now()

	message = strings.TrimSpace(message)
	if message == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "handle turn", fmt.Errorf("empty message"))
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "handle turn", fmt.Errorf("empty session id"))
	}

	state, ok := uc.sessions.State(sessionID)
	if !ok {
		state = &domain.ConversationState{SessionID: sessionID}
	}

	query := domain.Query{
		Text:    message,
		History: state.HistoryWindow(uc.historyWindow),
	}

	route, needRetrieval, err := uc.classifier.Classify(ctx, query)
	if err != nil {
		return nil, err
	}

	var payload *domain.AnswerPayload
	if needRetrieval || route.NeedsRetrieval() {
		payload, err = uc.answerFromEvidence(ctx, route, message)
	} else {
		payload, err = uc.answerDirect(ctx, route, message)
	}
	if err != nil {
		return nil, err
	}

	state.Append("user", message, maxStoredMessages)
	state.Append("assistant", payload.Answer, maxStoredMessages)
	uc.sessions.Save(state)

	uc.observer.ObserveTurn(string(route), payload.Refusal, len(payload.Citations), time.Since(started).Seconds())
	return payload, nil
}

func (uc *TurnUseCase) answerDirect(ctx context.Context, route domain.Route, message string) (*domain.AnswerPayload, error) {
	var prompt string
	switch route {
	case domain.RouteSmalltalk:
		prompt = buildSmalltalkPrompt(message)
	default:
		prompt = buildClarifyPrompt(message)
	}

	answer, err := uc.completer.Complete(ctx, composerSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("compose %s answer: %w", route, err)
	}

	return &domain.AnswerPayload{
		Answer:    strings.TrimSpace(answer),
		Citations: []domain.Citation{},
		Refusal:   false,
		Route:     route,
	}, nil
}

func (uc *TurnUseCase) answerFromEvidence(ctx context.Context, route domain.Route, message string) (*domain.AnswerPayload, error) {
	fragments, err := uc.retriever.Retrieve(ctx, message)
	if err != nil {
		return nil, err
	}

	citations := uc.citations.Build(message, fragments)
	if len(citations) == 0 {
		return refusalPayload(route), nil
	}

	var prompt string
	switch route {
	case domain.RouteClaimCheck:
		claimed, hasClaim := ExtractClaimedPercent(message)
		verdict := ClaimVerdict(claimed, hasClaim, citations)
		prompt = buildClaimCheckPrompt(message, verdict, citations)
	case domain.RouteCompare:
		prompt = buildComparePrompt(message, citations)
	default:
		prompt = buildQAPrompt(message, citations)
	}

	answer, err := uc.completer.Complete(ctx, composerSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("compose %s answer: %w", route, err)
	}

	payload := &domain.AnswerPayload{
		Answer:    strings.TrimSpace(answer),
		Citations: citations,
		Refusal:   false,
		Route:     route,
	}

	// Hallucination backstop: an invalid payload never reaches the caller.
	// The turn degrades to a refusal instead of surfacing bad evidence.
	if err := VerifyGrounding(payload, fragments); err != nil {
		slog.Error("grounding_violation", "route", route, "error", err)
		uc.observer.ObserveGroundingViolation()
		return refusalPayload(route), nil
	}
	return payload, nil
}

func refusalPayload(route domain.Route) *domain.AnswerPayload {
	return &domain.AnswerPayload{
		Answer:    refusalGuidance,
		Citations: []domain.Citation{},
		Refusal:   true,
		Route:     route,
	}
}
