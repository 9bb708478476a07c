package usecase

import (
	"sort"
	"strings"
	"unicode"
)

// queryIntent is the dominant evidence intent detected in a query. The
// retriever and the citation builder derive it the same way so that ranking
// and quote extraction target the term a reader would expect evidence for.
type queryIntent int

const (
	intentGeneric queryIntent = iota
	intentRate
	intentDistribution
)

type weightedTerm struct {
	term     string
	weight   float64
	critical bool
}

var rateTerms = []string{"rate", "per cent", "percent", "%", "chargeable"}

var distributionTerms = []string{
	"derivation", "distribution", "distributed", "allocation", "sharing", "proceeds", "formula",
}

var genericPolicyTerms = []string{
	"tax", "exemption", "penalty", "filing", "levy", "commencement", "effective date",
}

// vatAliases are the levy names the corpus uses for the value added tax.
var vatAliases = []string{"value added tax", "vat"}

// otherTaxTerms mark quotes about a different tax type than the one asked
// about; used by the citation relevance guards.
var otherTaxTerms = []string{
	"income tax", "capital gains", "stamp dut", "excise", "petroleum profits", "withholding",
}

func detectIntent(query string) queryIntent {
	ql := strings.ToLower(query)

	rateHits := countTermHits(ql, rateTerms)
	distHits := countTermHits(ql, distributionTerms)

	switch {
	case rateHits == 0 && distHits == 0:
		return intentGeneric
	case rateHits >= distHits:
		return intentRate
	default:
		return intentDistribution
	}
}

// intentTerms returns the weighted term list for a query: terms matching the
// dominant intent are critical and carry the highest weight.
func intentTerms(query string) []weightedTerm {
	ql := strings.ToLower(query)
	intent := detectIntent(ql)

	out := make([]weightedTerm, 0, 12)
	add := func(terms []string, weight float64, critical bool) {
		for _, t := range terms {
			out = append(out, weightedTerm{term: t, weight: weight, critical: critical})
		}
	}

	switch intent {
	case intentRate:
		add(rateTerms, 3.0, true)
		add(distributionTerms, 1.0, false)
	case intentDistribution:
		add(distributionTerms, 3.0, true)
		add(rateTerms, 1.0, false)
	default:
		add(distributionTerms, 1.5, false)
		add(rateTerms, 1.5, false)
	}
	add(genericPolicyTerms, 0.5, false)

	if mentionsVAT(ql) {
		add(vatAliases, 2.0, true)
	}
	return out
}

func mentionsVAT(lowered string) bool {
	return containsAnyTerm(lowered, vatAliases)
}

func countTermHits(lowered string, terms []string) int {
	hits := 0
	for _, t := range terms {
		if strings.Contains(lowered, t) {
			hits++
		}
	}
	return hits
}

func containsAnyTerm(lowered string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(lowered, t) {
			return true
		}
	}
	return false
}

// domainRelevance scores a fragment by the weighted presence of the query's
// intent terms. Used for the retriever's final re-sort.
func domainRelevance(terms []weightedTerm, text string) float64 {
	tl := strings.ToLower(text)
	score := 0.0
	for _, wt := range terms {
		if strings.Contains(tl, wt.term) {
			score += wt.weight
		}
	}
	return score
}

// sortByRelevance orders fragments by descending domain relevance, keeping
// the original order for ties.
func sortByRelevanceIdx(scores []float64) []int {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return scores[idx[a]] > scores[idx[b]]
	})
	return idx
}

func toTokenSet(s string) map[string]struct{} {
	tokens := splitAlphaNumLower(s)
	out := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		out[token] = struct{}{}
	}
	return out
}

func splitAlphaNumLower(s string) []string {
	if s == "" {
		return nil
	}

	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}
