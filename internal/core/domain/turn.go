package domain

import "time"

// Route is the handling strategy chosen for one conversational turn.
// It is immutable once chosen.
type Route string

const (
	RouteSmalltalk  Route = "smalltalk"
	RouteClarify    Route = "clarify"
	RouteQA         Route = "qa"
	RouteCompare    Route = "compare"
	RouteClaimCheck Route = "claim_check"
)

// NeedsRetrieval reports whether the route requires evidence lookup.
func (r Route) NeedsRetrieval() bool {
	switch r {
	case RouteQA, RouteCompare, RouteClaimCheck:
		return true
	default:
		return false
	}
}

func ValidRoute(r Route) bool {
	switch r {
	case RouteSmalltalk, RouteClarify, RouteQA, RouteCompare, RouteClaimCheck:
		return true
	default:
		return false
	}
}

type TurnMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Query is the raw user text plus a bounded window of prior turns used for
// context-aware classification.
type Query struct {
	Text    string        `json:"text"`
	History []TurnMessage `json:"history,omitempty"`
}

// Citation is a verbatim evidence span inside a retrieved fragment. Quote
// must be a substring, after whitespace normalization, of the fragment text
// identified by ChunkID. This is the grounding invariant.
type Citation struct {
	ChunkID string `json:"chunk_id"`
	Source  string `json:"source"`
	Pages   string `json:"pages"`
	Quote   string `json:"quote"`
}

// Verdict is the deterministic judgment for a claim-check turn.
type Verdict string

const (
	VerdictConfirmed    Verdict = "Confirmed"
	VerdictNotConfirmed Verdict = "Not confirmed"
	VerdictUnclear      Verdict = "Unclear"
)

// AnswerPayload is the pipeline output for one turn.
// Invariant for retrieval routes: Refusal == true exactly when Citations is
// empty; Citations and Refusal are never both set.
type AnswerPayload struct {
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
	Refusal   bool       `json:"refusal"`
	Route     Route      `json:"route"`
}

// ConversationState holds the per-session turn history. It is mutated only
// by the orchestrator processing that session's current turn.
type ConversationState struct {
	SessionID string        `json:"session_id"`
	History   []TurnMessage `json:"history"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// HistoryWindow returns the last n messages.
func (s *ConversationState) HistoryWindow(n int) []TurnMessage {
	if s == nil || n <= 0 || len(s.History) == 0 {
		return nil
	}
	if len(s.History) <= n {
		out := make([]TurnMessage, len(s.History))
		copy(out, s.History)
		return out
	}
	out := make([]TurnMessage, n)
	copy(out, s.History[len(s.History)-n:])
	return out
}

// Append records a turn message, keeping at most keep messages.
func (s *ConversationState) Append(role, content string, keep int) {
	s.History = append(s.History, TurnMessage{Role: role, Content: content})
	if keep > 0 && len(s.History) > keep {
		s.History = s.History[len(s.History)-keep:]
	}
	s.UpdatedAt = time.Now().UTC()
}
