package usecase

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/dolakin/tax-bills-assistant/internal/core/domain"
)

const (
	defaultMaxCitations = 3
	defaultQuoteWindow  = 400
	defaultMaxQuoteLen  = 320
	minSnippetLen       = 80
)

// Ellipsis marks a quote truncated mid-sentence. The verifier strips it
// before the substring check; it is a marker, not quoted text.
const ellipsis = "…"

var trailingStopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "of": {}, "and": {}, "or": {}, "to": {},
	"in": {}, "for": {}, "on": {}, "by": {}, "shall": {}, "be": {}, "as": {},
	"any": {}, "such": {},
}

// explicitRateWords are the words a rate-claim quote must carry: a
// distribution-share percentage alone is not rate evidence.
var explicitRateWords = []string{"rate", "chargeable"}

type CitationBuilder struct {
	maxCitations int
	windowChars  int
	maxQuoteLen  int
}

func NewCitationBuilder(maxCitations, windowChars, maxQuoteLen int) *CitationBuilder {
	if maxCitations <= 0 {
		maxCitations = defaultMaxCitations
	}
	if windowChars < 300 {
		windowChars = defaultQuoteWindow
	}
	if maxQuoteLen <= 0 || maxQuoteLen > windowChars {
		maxQuoteLen = defaultMaxQuoteLen
	}
	return &CitationBuilder{
		maxCitations: maxCitations,
		windowChars:  windowChars,
		maxQuoteLen:  maxQuoteLen,
	}
}

type citationCandidate struct {
	citation domain.Citation
	score    float64
}

// Build locates the best evidence span per fragment, expands it to readable
// boundaries, applies the intent relevance guards and returns the top-scored
// citations. The result may be empty; the orchestrator turns that into a
// refusal.
func (b *CitationBuilder) Build(query string, fragments []domain.Fragment) []domain.Citation {
	if len(fragments) == 0 {
		return nil
	}

	terms := intentTerms(query)
	queryTokens := toTokenSet(query)

	// Anchor extraction on the terms the user actually asked with: a term
	// present in the query outweighs one merely typical for the intent.
	ql := strings.ToLower(query)
	anchorTerms := make([]weightedTerm, len(terms))
	copy(anchorTerms, terms)
	for i := range anchorTerms {
		if strings.Contains(ql, anchorTerms[i].term) {
			anchorTerms[i].weight *= 2
		}
	}

	candidates := make([]citationCandidate, 0, len(fragments))
	for _, f := range dedupeByChunkID(fragments) {
		pos, ok := locateBestTerm(f.Text, anchorTerms)
		if !ok {
			continue
		}

		quote := b.extractQuote(f.Text, pos)
		if quote == "" {
			continue
		}
		if !passesRelevanceGuards(query, quote) {
			continue
		}

		score := quoteScore(terms, queryTokens, query, quote)
		if score <= 0 {
			continue
		}

		candidates = append(candidates, citationCandidate{
			citation: domain.Citation{
				ChunkID: f.ChunkID,
				Source:  f.Source,
				Pages:   f.Pages(),
				Quote:   quote,
			},
			score: score,
		})
	}

	order := make([]float64, len(candidates))
	for i := range candidates {
		order[i] = candidates[i].score
	}

	out := make([]domain.Citation, 0, b.maxCitations)
	for _, i := range sortByRelevanceIdx(order) {
		out = append(out, candidates[i].citation)
		if len(out) == b.maxCitations {
			break
		}
	}
	return out
}

// locateBestTerm finds the highest-weighted term occurrence in the fragment
// text, searching the literal text first and a whitespace/hyphen-collapsed
// form second so that reflowed PDF text still matches; a compacted hit is
// mapped back to an approximate span in the original text.
func locateBestTerm(text string, terms []weightedTerm) (int, bool) {
	tl := strings.ToLower(text)

	best := -1
	bestWeight := 0.0
	for _, wt := range terms {
		i := strings.Index(tl, wt.term)
		if i < 0 {
			continue
		}
		if wt.weight > bestWeight || (wt.weight == bestWeight && (best < 0 || i < best)) {
			best = i
			bestWeight = wt.weight
		}
	}
	if best >= 0 {
		return best, true
	}

	compact, backMap := compactForMatching(tl)
	for _, wt := range terms {
		i := strings.Index(compact, wt.term)
		if i < 0 || i >= len(backMap) {
			continue
		}
		if wt.weight > bestWeight || best < 0 {
			best = backMap[i]
			bestWeight = wt.weight
		}
	}
	return best, best >= 0
}

// compactForMatching collapses whitespace runs to single spaces and removes
// line-break hyphenation, keeping a byte map back into the original text.
func compactForMatching(text string) (string, []int) {
	var b strings.Builder
	backMap := make([]int, 0, len(text))

	i := 0
	for i < len(text) {
		c := text[i]

		if c == '-' && i+1 < len(text) && (text[i+1] == '\n' || text[i+1] == '\r') {
			// hyphenated line break: "deriva-\ntion" reads as "derivation"
			i++
			for i < len(text) && isSpaceByte(text[i]) {
				i++
			}
			continue
		}

		if isSpaceByte(c) {
			j := i
			for j < len(text) && isSpaceByte(text[j]) {
				j++
			}
			if b.Len() > 0 && j < len(text) {
				b.WriteByte(' ')
				backMap = append(backMap, i)
			}
			i = j
			continue
		}

		b.WriteByte(c)
		backMap = append(backMap, i)
		i++
	}
	return b.String(), backMap
}

func isSpaceByte(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// extractQuote expands the match position to the nearest sentence-like
// boundaries within the window, clamps to the maximum quote length
// re-centering on the match, and cleans the result.
func (b *CitationBuilder) extractQuote(text string, pos int) string {
	if text == "" {
		return ""
	}
	if pos < 0 || pos >= len(text) {
		pos = 0
	}

	start := pos - b.windowChars/2
	if start < 0 {
		start = 0
	}
	end := pos + b.windowChars/2
	if end > len(text) {
		end = len(text)
	}
	window := text[start:end]
	relPos := pos - start

	left := -1
	for _, boundary := range []string{".", ";", ":", "\n"} {
		if i := strings.LastIndex(window[:relPos], boundary); i > left {
			left = i
		}
	}
	leftOpen := left < 0 && start > 0
	if left >= 0 {
		left++
	} else {
		left = 0
	}

	right := len(window)
	rightOpen := end < len(text)
	for _, boundary := range []string{".", ";", ":", "\n"} {
		if i := strings.Index(window[relPos:], boundary); i >= 0 && relPos+i < right {
			right = relPos + i + 1
			rightOpen = false
		}
	}

	snippet := strings.TrimSpace(window[left:right])
	if len(snippet) < minSnippetLen {
		expandedLeft := left - minSnippetLen
		if expandedLeft < 0 {
			expandedLeft = 0
		}
		expandedRight := right + minSnippetLen
		if expandedRight > len(window) {
			expandedRight = len(window)
		}
		snippet = strings.TrimSpace(window[expandedLeft:expandedRight])
		leftOpen = leftOpen || expandedLeft == 0 && start > 0
		rightOpen = rightOpen || expandedRight == len(window) && end < len(text)
	}

	matchRel := relPos - left
	clamped := false
	if len(snippet) > b.maxQuoteLen {
		clampStart := matchRel - b.maxQuoteLen/2
		if clampStart < 0 {
			clampStart = 0
		}
		if clampStart > len(snippet)-b.maxQuoteLen {
			clampStart = len(snippet) - b.maxQuoteLen
		}
		if clampStart > 0 {
			leftOpen = true
		}
		snippet = snippet[clampStart : clampStart+b.maxQuoteLen]
		clamped = true
		rightOpen = true
	}

	return cleanQuote(snippet, leftOpen, rightOpen || clamped)
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// cleanQuote normalizes whitespace and tidies the edges: no partial leading
// word when the left side was cut, no trailing mid-word cut or stray
// stopword, and an ellipsis only when truncation happened mid-sentence.
func cleanQuote(snippet string, leftOpen, rightOpen bool) string {
	quote := strings.TrimSpace(whitespaceRun.ReplaceAllString(snippet, " "))
	if quote == "" {
		return ""
	}

	if leftOpen {
		if i := strings.IndexByte(quote, ' '); i >= 0 && i < len(quote)-1 {
			quote = quote[i+1:]
		}
	}

	last, _ := utf8.DecodeLastRuneInString(quote)
	endsAtPunctuation := strings.ContainsRune(".;:!?", last)
	if rightOpen && !endsAtPunctuation {
		if i := strings.LastIndexByte(quote, ' '); i > 0 {
			quote = quote[:i]
		}
		words := strings.Fields(quote)
		for len(words) > 0 {
			if _, stop := trailingStopwords[strings.ToLower(words[len(words)-1])]; !stop {
				break
			}
			words = words[:len(words)-1]
		}
		quote = strings.Join(words, " ")
		if quote == "" {
			return ""
		}
		quote += ellipsis
	}
	return quote
}

// passesRelevanceGuards applies the hard intent filters: mismatched evidence
// is worse than no evidence, so failures drop the candidate outright.
func passesRelevanceGuards(query, quote string) bool {
	ql := strings.ToLower(query)
	tl := strings.ToLower(quote)

	if detectIntent(ql) != intentRate {
		return true
	}

	// A quote that only discusses distribution shares cannot support a rate
	// claim, whatever percentages it carries.
	if containsAnyTerm(tl, distributionTerms) && !containsAnyTerm(tl, explicitRateWords) {
		return false
	}

	// A VAT rate question must not be answered with another tax type's rate.
	if mentionsVAT(ql) && containsAnyTerm(tl, otherTaxTerms) && !containsAnyTerm(tl, vatAliases) {
		return false
	}

	return true
}

// quoteScore weighs query/quote term overlap, counting intent-critical terms
// double when they appear on both sides.
func quoteScore(terms []weightedTerm, queryTokens map[string]struct{}, query, quote string) float64 {
	ql := strings.ToLower(query)
	tl := strings.ToLower(quote)

	score := 0.0
	for _, wt := range terms {
		if !strings.Contains(tl, wt.term) {
			continue
		}
		score += wt.weight
		if wt.critical && strings.Contains(ql, wt.term) {
			score += wt.weight
		}
	}

	quoteTokens := toTokenSet(quote)
	overlap := 0
	for token := range queryTokens {
		if _, ok := quoteTokens[token]; ok {
			overlap++
		}
	}
	if len(queryTokens) > 0 {
		score += float64(overlap) / float64(len(queryTokens))
	}
	return score
}
