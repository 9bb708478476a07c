package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dolakin/tax-bills-assistant/internal/core/domain"
)

type stubClassifier struct {
	route         domain.Route
	needRetrieval bool
	err           error

	gotQueries []domain.Query
}

func (s *stubClassifier) Classify(_ context.Context, q domain.Query) (domain.Route, bool, error) {
	s.gotQueries = append(s.gotQueries, q)
	return s.route, s.needRetrieval, s.err
}

type stubRetriever struct {
	fragments []domain.Fragment
	err       error
	calls     int
}

func (s *stubRetriever) Retrieve(context.Context, string) ([]domain.Fragment, error) {
	s.calls++
	return s.fragments, s.err
}

type stubCitations struct {
	citations []domain.Citation
}

func (s *stubCitations) Build(string, []domain.Fragment) []domain.Citation {
	return s.citations
}

type memorySessionStore struct {
	states map[string]*domain.ConversationState
	saves  int
}

func newMemorySessionStore() *memorySessionStore {
	return &memorySessionStore{states: make(map[string]*domain.ConversationState)}
}

func (m *memorySessionStore) State(sessionID string) (*domain.ConversationState, bool) {
	s, ok := m.states[sessionID]
	return s, ok
}

func (m *memorySessionStore) Save(state *domain.ConversationState) {
	m.saves++
	m.states[state.SessionID] = state
}

type recordingObserver struct {
	turns      int
	lastRoute  string
	refusals   int
	violations int
}

func (r *recordingObserver) ObserveTurn(route string, refusal bool, _ int, _ float64) {
	r.turns++
	r.lastRoute = route
	if refusal {
		r.refusals++
	}
}

func (r *recordingObserver) ObserveGroundingViolation() { r.violations++ }

func evidenceFragments() []domain.Fragment {
	return []domain.Fragment{
		{
			ChunkID:   "nigeria-tax-bill-2024.pdf::c00146",
			Source:    "nigeria-tax-bill-2024.pdf",
			PageStart: 12,
			PageEnd:   12,
			Text:      "The rate of value added tax shall be seven and a half percent of the value of the taxable supply.",
		},
	}
}

func evidenceCitations() []domain.Citation {
	return []domain.Citation{
		{
			ChunkID: "nigeria-tax-bill-2024.pdf::c00146",
			Source:  "nigeria-tax-bill-2024.pdf",
			Pages:   "p.12",
			Quote:   "The rate of value added tax shall be seven and a half percent of the value of the taxable supply.",
		},
	}
}

func TestHandleTurnRejectsEmptyInput(t *testing.T) {
	uc := NewTurnUseCase(&stubClassifier{}, &stubRetriever{}, &stubCitations{}, &fakeCompleter{}, newMemorySessionStore())

	if _, err := uc.HandleTurn(context.Background(), "s1", "   "); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("empty message: expected ErrInvalidInput, got %v", err)
	}
	if _, err := uc.HandleTurn(context.Background(), "", "hello"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("empty session id: expected ErrInvalidInput, got %v", err)
	}
}

func TestHandleTurnSmalltalkSkipsRetrieval(t *testing.T) {
	retriever := &stubRetriever{}
	completer := &fakeCompleter{responses: []string{"Hello! Ask me about the tax reform bills."}}
	sessions := newMemorySessionStore()
	uc := NewTurnUseCase(
		&stubClassifier{route: domain.RouteSmalltalk, needRetrieval: false},
		retriever, &stubCitations{}, completer, sessions,
	)

	payload, err := uc.HandleTurn(context.Background(), "s1", "hi there")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if payload.Route != domain.RouteSmalltalk || payload.Refusal {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if len(payload.Citations) != 0 || payload.Citations == nil {
		t.Fatalf("smalltalk must carry an empty, non-nil citation list: %#v", payload.Citations)
	}
	if retriever.calls != 0 {
		t.Fatalf("smalltalk must not hit the retriever, got %d calls", retriever.calls)
	}
	if completer.calls != 1 {
		t.Fatalf("expected one composer call, got %d", completer.calls)
	}

	state, ok := sessions.State("s1")
	if !ok || len(state.History) != 2 {
		t.Fatalf("expected user+assistant stored, got %+v", state)
	}
	if state.History[0].Role != "user" || state.History[1].Role != "assistant" {
		t.Fatalf("unexpected history roles: %+v", state.History)
	}
}

func TestHandleTurnQAWithEvidence(t *testing.T) {
	completer := &fakeCompleter{responses: []string{"The VAT rate is seven and a half percent [nigeria-tax-bill-2024.pdf p.12]."}}
	observer := &recordingObserver{}
	uc := NewTurnUseCase(
		&stubClassifier{route: domain.RouteQA, needRetrieval: true},
		&stubRetriever{fragments: evidenceFragments()},
		&stubCitations{citations: evidenceCitations()},
		completer, newMemorySessionStore(),
	).WithObserver(observer)

	payload, err := uc.HandleTurn(context.Background(), "s1", "What is the VAT rate?")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if payload.Refusal || len(payload.Citations) != 1 {
		t.Fatalf("expected grounded answer with one citation, got %+v", payload)
	}
	if !strings.Contains(completer.gotUser[0], "seven and a half percent") {
		t.Fatalf("composer prompt missing evidence quote:\n%s", completer.gotUser[0])
	}
	if observer.turns != 1 || observer.lastRoute != "qa" || observer.violations != 0 {
		t.Fatalf("unexpected observer state: %+v", observer)
	}
}

func TestHandleTurnRefusesWithoutCitations(t *testing.T) {
	completer := &fakeCompleter{responses: []string{"should never be used"}}
	observer := &recordingObserver{}
	uc := NewTurnUseCase(
		&stubClassifier{route: domain.RouteQA, needRetrieval: true},
		&stubRetriever{fragments: evidenceFragments()},
		&stubCitations{citations: nil},
		completer, newMemorySessionStore(),
	).WithObserver(observer)

	payload, err := uc.HandleTurn(context.Background(), "s1", "What does the bill say about pet licensing?")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if !payload.Refusal || len(payload.Citations) != 0 {
		t.Fatalf("expected refusal payload, got %+v", payload)
	}
	if payload.Answer != refusalGuidance {
		t.Fatalf("refusal must use the fixed guidance text, got %q", payload.Answer)
	}
	if completer.calls != 0 {
		t.Fatalf("composer must not run without evidence, got %d calls", completer.calls)
	}
	if observer.refusals != 1 {
		t.Fatalf("expected one refusal observed, got %d", observer.refusals)
	}
}

func TestHandleTurnDegradesOnGroundingViolation(t *testing.T) {
	fabricated := []domain.Citation{
		{ChunkID: "nigeria-tax-bill-2024.pdf::c99999", Quote: "the rate shall be fifty percent"},
	}
	completer := &fakeCompleter{responses: []string{"The rate is fifty percent."}}
	observer := &recordingObserver{}
	uc := NewTurnUseCase(
		&stubClassifier{route: domain.RouteQA, needRetrieval: true},
		&stubRetriever{fragments: evidenceFragments()},
		&stubCitations{citations: fabricated},
		completer, newMemorySessionStore(),
	).WithObserver(observer)

	payload, err := uc.HandleTurn(context.Background(), "s1", "What is the VAT rate?")
	if err != nil {
		t.Fatalf("grounding violation must degrade, not error: %v", err)
	}
	if !payload.Refusal || len(payload.Citations) != 0 {
		t.Fatalf("expected refusal after violation, got %+v", payload)
	}
	if observer.violations != 1 {
		t.Fatalf("expected one violation observed, got %d", observer.violations)
	}
}

func TestHandleTurnRetrievalRouteOverridesClassifierFlag(t *testing.T) {
	retriever := &stubRetriever{fragments: evidenceFragments()}
	completer := &fakeCompleter{responses: []string{"grounded answer"}}
	uc := NewTurnUseCase(
		&stubClassifier{route: domain.RouteQA, needRetrieval: false},
		retriever,
		&stubCitations{citations: evidenceCitations()},
		completer, newMemorySessionStore(),
	)

	payload, err := uc.HandleTurn(context.Background(), "s1", "What is the VAT rate?")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if retriever.calls != 1 {
		t.Fatalf("qa turns must always go through retrieval, got %d calls", retriever.calls)
	}
	if payload.Refusal || len(payload.Citations) != 1 {
		t.Fatalf("expected grounded payload, got %+v", payload)
	}
}

func TestHandleTurnRouterModelCannotBypassRetrieval(t *testing.T) {
	completer := &fakeCompleter{responses: []string{`{"route":"qa","need_retrieval":false}`}}
	retriever := &stubRetriever{}
	uc := NewTurnUseCase(
		NewIntentClassifier(completer),
		retriever, &stubCitations{}, completer, newMemorySessionStore(),
	)

	payload, err := uc.HandleTurn(context.Background(), "s1",
		"Could you walk me through what these documents mean for my family?")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if retriever.calls != 1 {
		t.Fatalf("qa route must retrieve regardless of the model's flag, got %d calls", retriever.calls)
	}
	if payload.Route != domain.RouteQA || !payload.Refusal || len(payload.Citations) != 0 {
		t.Fatalf("expected refusal payload on empty evidence, got %+v", payload)
	}
}

func TestHandleTurnClaimCheckVerdictInPrompt(t *testing.T) {
	completer := &fakeCompleter{responses: []string{"Verdict: Not confirmed."}}
	uc := NewTurnUseCase(
		&stubClassifier{route: domain.RouteClaimCheck, needRetrieval: true},
		&stubRetriever{fragments: evidenceFragments()},
		&stubCitations{citations: evidenceCitations()},
		completer, newMemorySessionStore(),
	)

	if _, err := uc.HandleTurn(context.Background(), "s1", "I heard VAT is now 50%. Is it true?"); err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if !strings.Contains(completer.gotUser[0], "Verdict: Not confirmed") {
		t.Fatalf("claim-check prompt must carry the computed verdict:\n%s", completer.gotUser[0])
	}
}

func TestHandleTurnPassesHistoryWindow(t *testing.T) {
	classifier := &stubClassifier{route: domain.RouteSmalltalk, needRetrieval: false}
	completer := &fakeCompleter{responses: []string{"Hello!"}}
	uc := NewTurnUseCase(classifier, &stubRetriever{}, &stubCitations{}, completer, newMemorySessionStore())

	if _, err := uc.HandleTurn(context.Background(), "s1", "hi"); err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if _, err := uc.HandleTurn(context.Background(), "s1", "thanks"); err != nil {
		t.Fatalf("second turn: %v", err)
	}

	if len(classifier.gotQueries) != 2 {
		t.Fatalf("expected two classify calls, got %d", len(classifier.gotQueries))
	}
	if len(classifier.gotQueries[0].History) != 0 {
		t.Fatalf("first turn must see empty history, got %+v", classifier.gotQueries[0].History)
	}
	second := classifier.gotQueries[1].History
	if len(second) != 2 || second[0].Content != "hi" {
		t.Fatalf("second turn must see the first exchange, got %+v", second)
	}
}

func TestHandleTurnPropagatesRetrieverError(t *testing.T) {
	storeErr := domain.WrapError(domain.ErrStoreUnavailable, "similarity search", errors.New("connection refused"))
	sessions := newMemorySessionStore()
	uc := NewTurnUseCase(
		&stubClassifier{route: domain.RouteQA, needRetrieval: true},
		&stubRetriever{err: storeErr},
		&stubCitations{}, &fakeCompleter{}, sessions,
	)

	_, err := uc.HandleTurn(context.Background(), "s1", "What is the VAT rate?")
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if sessions.saves != 0 {
		t.Fatalf("failed turn must not be persisted, got %d saves", sessions.saves)
	}
}

func TestHandleTurnHistoryBounded(t *testing.T) {
	completer := &fakeCompleter{responses: []string{"ok"}}
	sessions := newMemorySessionStore()
	uc := NewTurnUseCase(
		&stubClassifier{route: domain.RouteSmalltalk, needRetrieval: false},
		&stubRetriever{}, &stubCitations{}, completer, sessions,
	)

	for i := 0; i < 10; i++ {
		if _, err := uc.HandleTurn(context.Background(), "s1", "hello again"); err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
	}

	state, _ := sessions.State("s1")
	if len(state.History) != maxStoredMessages {
		t.Fatalf("history must be capped at %d, got %d", maxStoredMessages, len(state.History))
	}
}
