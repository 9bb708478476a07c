package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dolakin/tax-bills-assistant/internal/core/domain"
)

type fakeCompleter struct {
	responses []string
	err       error

	calls     int
	gotSystem []string
	gotUser   []string
}

func (f *fakeCompleter) Complete(_ context.Context, systemPrompt, userPrompt string) (string, error) {
	f.calls++
	f.gotSystem = append(f.gotSystem, systemPrompt)
	f.gotUser = append(f.gotUser, userPrompt)
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "", errors.New("fakeCompleter: no response configured")
	}
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return resp, nil
}

func TestClassifyRulesInPriorityOrder(t *testing.T) {
	cases := []struct {
		name      string
		message   string
		wantRoute domain.Route
		wantNeed  bool
	}{
		{"greeting", "Hello! How are you?", domain.RouteSmalltalk, false},
		{"thanks", "thanks a lot", domain.RouteSmalltalk, false},
		{"compare", "Compare the old VAT sharing formula with the new one", domain.RouteCompare, true},
		{"rumor phrase", "I heard VAT is now 50%. Is it true?", domain.RouteClaimCheck, true},
		{"suspicious percent", "They told everyone the tax went up to 25% overnight", domain.RouteClaimCheck, true},
		{"bill reference", "Tell me about HB-1759", domain.RouteQA, true},
		{"policy keyword", "How does derivation work for states?", domain.RouteQA, true},
		{"short vague", "help me please", domain.RouteClarify, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			completer := &fakeCompleter{}
			classifier := NewIntentClassifier(completer)

			route, need, err := classifier.Classify(context.Background(), domain.Query{Text: tc.message})
			if err != nil {
				t.Fatalf("Classify() error = %v", err)
			}
			if route != tc.wantRoute || need != tc.wantNeed {
				t.Fatalf("got (%s, %v), want (%s, %v)", route, need, tc.wantRoute, tc.wantNeed)
			}
			if completer.calls != 0 {
				t.Fatalf("rule-based classification must not call the model")
			}
		})
	}
}

func TestClassifyFallsBackToModel(t *testing.T) {
	completer := &fakeCompleter{responses: []string{`{"route":"qa","need_retrieval":true}`}}
	classifier := NewIntentClassifier(completer)

	route, need, err := classifier.Classify(context.Background(),
		domain.Query{Text: "Could you walk me through what these documents mean for my family?"})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if route != domain.RouteQA || !need {
		t.Fatalf("got (%s, %v), want (qa, true)", route, need)
	}
	if completer.calls != 1 {
		t.Fatalf("expected one model call, got %d", completer.calls)
	}
}

func TestClassifyModelCannotDisableRetrieval(t *testing.T) {
	completer := &fakeCompleter{responses: []string{`{"route":"qa","need_retrieval":false}`}}
	classifier := NewIntentClassifier(completer)

	route, need, err := classifier.Classify(context.Background(),
		domain.Query{Text: "Could you walk me through what these documents mean for my family?"})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if route != domain.RouteQA || !need {
		t.Fatalf("got (%s, %v), want (qa, true): retrieval routes must always retrieve", route, need)
	}
}

func TestClassifyModelCanAddRetrieval(t *testing.T) {
	completer := &fakeCompleter{responses: []string{`{"route":"clarify","need_retrieval":true}`}}
	classifier := NewIntentClassifier(completer)

	route, need, err := classifier.Classify(context.Background(),
		domain.Query{Text: "Could you walk me through what these documents mean for my family?"})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if route != domain.RouteClarify || !need {
		t.Fatalf("got (%s, %v), want (clarify, true)", route, need)
	}
}

func TestClassifyRepairsWrappedJSON(t *testing.T) {
	completer := &fakeCompleter{
		responses: []string{`Sure, here you go: {"route":"clarify","need_retrieval":false} hope that helps!`},
	}
	classifier := NewIntentClassifier(completer)

	route, need, err := classifier.Classify(context.Background(),
		domain.Query{Text: "Could you walk me through what these documents mean for my family?"})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if route != domain.RouteClarify || need {
		t.Fatalf("got (%s, %v), want (clarify, false)", route, need)
	}
}

func TestClassifyMalformedModelOutputFails(t *testing.T) {
	completer := &fakeCompleter{responses: []string{`no json at all`}}
	classifier := NewIntentClassifier(completer)

	_, _, err := classifier.Classify(context.Background(),
		domain.Query{Text: "Could you walk me through what these documents mean for my family?"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrClassification) {
		t.Fatalf("expected ErrClassification, got %v", err)
	}
}

func TestClassifyUnknownRouteFails(t *testing.T) {
	completer := &fakeCompleter{responses: []string{`{"route":"banter"}`}}
	classifier := NewIntentClassifier(completer)

	_, _, err := classifier.Classify(context.Background(),
		domain.Query{Text: "Could you walk me through what these documents mean for my family?"})
	if !domain.IsKind(err, domain.ErrClassification) {
		t.Fatalf("expected ErrClassification, got %v", err)
	}
}

func TestClassifyModelPromptIncludesHistory(t *testing.T) {
	completer := &fakeCompleter{responses: []string{`{"route":"qa","need_retrieval":true}`}}
	classifier := NewIntentClassifier(completer)

	_, _, err := classifier.Classify(context.Background(), domain.Query{
		Text: "Could you walk me through what these documents mean for my family?",
		History: []domain.TurnMessage{
			{Role: "user", Content: "What is in the reform package?"},
			{Role: "assistant", Content: "There are four bills."},
		},
	})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	prompt := completer.gotUser[0]
	if !strings.Contains(prompt, "What is in the reform package?") || !strings.Contains(prompt, "There are four bills.") {
		t.Fatalf("expected history in router prompt, got %q", prompt)
	}
}
