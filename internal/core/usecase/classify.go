package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dolakin/tax-bills-assistant/internal/core/domain"
	"github.com/dolakin/tax-bills-assistant/internal/core/ports"
)

// IntentClassifier routes a turn. Deterministic pattern rules are tried in
// strict priority order, first match wins; only when no rule matches is the
// external language model consulted.
type IntentClassifier struct {
	completer ports.Completer
}

func NewIntentClassifier(completer ports.Completer) *IntentClassifier {
	return &IntentClassifier{completer: completer}
}

var (
	greetingRe = regexp.MustCompile(`(?i)^\s*(hi|hiya|hello|hey|yo|good\s+(morning|afternoon|evening|day)|greetings|thanks|thank\s+you|how\s+are\s+you)\b`)

	billRefRe = regexp.MustCompile(`(?i)\bhb[-\s]?\d{4}\b`)

	percentRe = regexp.MustCompile(`(\d{1,3}(?:\.\d+)?)\s*(?:%|percent|per\s?cent)`)
)

var compareSignals = []string{
	"compare", "difference", "differences", " vs ", " vs.", "versus", "old vs new", "what changed",
}

var rumorSignals = []string{
	"i heard", "is it true", "is that true", "they say", "people are saying",
	"someone said", "rumor", "rumour", "viral",
}

var policyKeywords = []string{
	"vat", "value added tax", "rate", "derivation", "allocation", "distribution",
	"exemption", "exempt", "penalty", "filing", "levy", "proceeds", "tax",
	"bill", "commencement", "effective date", "take effect",
}

// suspiciousPercentFloor: rumors tend to quote inflated round figures; a
// bare percentage at or above this with no other framing is treated as a
// claim to verify.
const suspiciousPercentFloor = 20.0

// Classify returns the route and whether retrieval is required.
func (c *IntentClassifier) Classify(ctx context.Context, q domain.Query) (domain.Route, bool, error) {
	text := strings.TrimSpace(q.Text)
	lowered := strings.ToLower(text)

	if greetingRe.MatchString(text) {
		return domain.RouteSmalltalk, false, nil
	}
	if containsAnyTerm(lowered, compareSignals) {
		return domain.RouteCompare, true, nil
	}
	if containsAnyTerm(lowered, rumorSignals) || hasSuspiciousPercent(lowered) {
		return domain.RouteClaimCheck, true, nil
	}
	if billRefRe.MatchString(text) || containsAnyTerm(lowered, policyKeywords) {
		return domain.RouteQA, true, nil
	}
	if len(strings.Fields(text)) <= 7 {
		return domain.RouteClarify, false, nil
	}

	return c.classifyWithModel(ctx, q)
}

func hasSuspiciousPercent(lowered string) bool {
	for _, m := range percentRe.FindAllStringSubmatch(lowered, -1) {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		if v >= suspiciousPercentFloor {
			return true
		}
	}
	return false
}

type routerOutput struct {
	Route         string `json:"route"`
	NeedRetrieval *bool  `json:"need_retrieval"`
}

func (c *IntentClassifier) classifyWithModel(ctx context.Context, q domain.Query) (domain.Route, bool, error) {
	raw, err := c.completer.Complete(ctx, routerSystemPrompt, routerUserPrompt(q))
	if err != nil {
		return "", false, fmt.Errorf("router model call: %w", err)
	}

	parsed, perr := parseRouterOutput(raw)
	if perr != nil {
		// One structural repair attempt: extract the outermost brace pair.
		repaired, ok := extractJSONObject(raw)
		if ok {
			parsed, perr = parseRouterOutput(repaired)
		}
		if perr != nil {
			return "", false, domain.WrapError(domain.ErrClassification, "parse router output", perr)
		}
	}

	route := domain.Route(strings.ToLower(strings.TrimSpace(parsed.Route)))
	if !domain.ValidRoute(route) {
		return "", false, domain.WrapError(domain.ErrClassification, "parse router output",
			fmt.Errorf("unknown route %q", parsed.Route))
	}

	// The model's need_retrieval can only add retrieval, never remove it:
	// qa/compare/claim_check turns always retrieve, otherwise a payload with
	// no citations and no refusal could reach the caller unverified.
	need := route.NeedsRetrieval()
	if !need && parsed.NeedRetrieval != nil && *parsed.NeedRetrieval {
		need = true
	}
	return route, need, nil
}

func parseRouterOutput(raw string) (routerOutput, error) {
	var out routerOutput
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &out); err != nil {
		return routerOutput{}, fmt.Errorf("malformed router json: %w", err)
	}
	if strings.TrimSpace(out.Route) == "" {
		return routerOutput{}, fmt.Errorf("router json missing route")
	}
	return out, nil
}

func extractJSONObject(raw string) (string, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1], true
	}
	return "", false
}
