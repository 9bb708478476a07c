package usecase

import (
	"math"
	"strconv"
	"strings"

	"github.com/dolakin/tax-bills-assistant/internal/core/domain"
)

// spelledPercents maps the spelled-out percentage phrasings legal drafting
// uses to their numeric value. The corpus writes "seven and a half percent"
// where a user writes "7.5%".
var spelledPercents = []struct {
	phrase string
	value  float64
}{
	{"seven and a half percent", 7.5},
	{"seven and a half per cent", 7.5},
	{"two and a half percent", 2.5},
	{"two and a half per cent", 2.5},
	{"one percent", 1},
	{"two percent", 2},
	{"three percent", 3},
	{"four percent", 4},
	{"five percent", 5},
	{"seven percent", 7},
	{"ten percent", 10},
	{"fifteen percent", 15},
	{"twenty percent", 20},
	{"twenty-five percent", 25},
	{"thirty percent", 30},
	{"fifty percent", 50},
}

// ExtractClaimedPercent pulls the first numeric percentage out of the query.
func ExtractClaimedPercent(query string) (float64, bool) {
	m := percentRe.FindStringSubmatch(strings.ToLower(query))
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ClaimVerdict compares a claimed percentage against the surviving evidence.
// Confirmed iff some quote contains the claimed value; Not confirmed iff some
// quote contains a different percentage but none the claimed one; Unclear
// otherwise. Deterministic; passed to the answer composer unaltered.
func ClaimVerdict(claimed float64, hasClaim bool, citations []domain.Citation) domain.Verdict {
	if len(citations) == 0 {
		return domain.VerdictUnclear
	}

	anyPercent := false
	for _, c := range citations {
		quote := strings.ToLower(c.Quote)
		if hasClaim && quoteContainsPercent(quote, claimed) {
			return domain.VerdictConfirmed
		}
		if quoteContainsAnyPercent(quote) {
			anyPercent = true
		}
	}

	if hasClaim && anyPercent {
		return domain.VerdictNotConfirmed
	}
	return domain.VerdictUnclear
}

func quoteContainsPercent(loweredQuote string, value float64) bool {
	for _, m := range percentRe.FindAllStringSubmatch(loweredQuote, -1) {
		v, err := strconv.ParseFloat(m[1], 64)
		if err == nil && math.Abs(v-value) < 1e-9 {
			return true
		}
	}
	for _, sp := range spelledPercents {
		if sp.value == value && strings.Contains(loweredQuote, sp.phrase) {
			return true
		}
	}
	return false
}

func quoteContainsAnyPercent(loweredQuote string) bool {
	if percentRe.MatchString(loweredQuote) {
		return true
	}
	for _, sp := range spelledPercents {
		if strings.Contains(loweredQuote, sp.phrase) {
			return true
		}
	}
	return false
}
