package usecase

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dolakin/tax-bills-assistant/internal/core/domain"
	"github.com/dolakin/tax-bills-assistant/internal/core/ports"
)

// strictTermPairs are the recognized high-precision intents: when a query
// mentions both terms of a pair, fragments containing both literally are
// surfaced ahead of pure vector matches, which under-rank exact legal
// phrasing.
var strictTermPairs = [][2]string{
	{"vat", "derivation"},
	{"vat", "allocation"},
	{"vat", "distribution"},
}

type HybridRetriever struct {
	store   ports.ChunkStore
	scanner ports.FragmentScanner

	topK       int
	candidateK int
}

func NewHybridRetriever(store ports.ChunkStore, scanner ports.FragmentScanner, topK, candidateK int) *HybridRetriever {
	if topK < 8 {
		topK = 8
	}
	if candidateK < 20 {
		candidateK = 20
	}
	if candidateK < topK {
		candidateK = topK
	}
	return &HybridRetriever{
		store:      store,
		scanner:    scanner,
		topK:       topK,
		candidateK: candidateK,
	}
}

// Retrieve runs the expanded queries against the chunk store, merges strict
// keyword matches in front, re-sorts by domain relevance and truncates.
// A variant failing does not abort the turn; only all variants failing does.
func (r *HybridRetriever) Retrieve(ctx context.Context, query string) ([]domain.Fragment, error) {
	queries := expandQuery(query)

	merged := make([]domain.Fragment, 0, r.candidateK*len(queries))
	var lastErr error
	failed := 0

	for _, qq := range queries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hits, err := r.store.SimilaritySearch(ctx, qq, r.candidateK)
		if err != nil {
			failed++
			lastErr = err
			slog.Warn("similarity_search_variant_failed", "query", qq, "error", err)
			continue
		}
		merged = append(merged, hits...)
	}
	if failed == len(queries) {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "similarity search", lastErr)
	}

	merged = dedupeByChunkID(merged)

	strict, scanErr := r.strictKeywordHits(ctx, query)
	if scanErr != nil {
		if len(merged) == 0 {
			return nil, domain.WrapError(domain.ErrStoreUnavailable, "full scan", scanErr)
		}
		slog.Warn("full_scan_unavailable", "error", scanErr)
	}
	if len(strict) > 0 {
		merged = dedupeByChunkID(append(strict, merged...))
	}

	terms := intentTerms(query)
	scores := make([]float64, len(merged))
	for i := range merged {
		scores[i] = domainRelevance(terms, merged[i].Text)
	}
	order := sortByRelevanceIdx(scores)

	out := make([]domain.Fragment, 0, r.topK)
	for _, i := range order {
		out = append(out, merged[i])
		if len(out) == r.topK {
			break
		}
	}
	return out, nil
}

// strictKeywordHits applies the full-scan filter requiring all pair terms to
// literally appear in the fragment text. The caller decides whether a scan
// failure degrades to vector-only retrieval or fails the turn.
func (r *HybridRetriever) strictKeywordHits(ctx context.Context, query string) ([]domain.Fragment, error) {
	must := requiredTerms(query)
	if len(must) == 0 {
		return nil, nil
	}

	fragments, err := r.scanner.Fragments(ctx)
	if err != nil {
		return nil, err
	}

	hits := make([]domain.Fragment, 0, 8)
	for _, f := range fragments {
		tl := strings.ToLower(f.Text)
		ok := true
		for _, m := range must {
			if !strings.Contains(tl, m) {
				ok = false
				break
			}
		}
		if ok {
			hits = append(hits, f)
		}
	}
	return hits, nil
}

func requiredTerms(query string) []string {
	ql := strings.ToLower(query)
	for _, pair := range strictTermPairs {
		if strings.Contains(ql, pair[0]) && strings.Contains(ql, pair[1]) {
			return []string{pair[0], pair[1]}
		}
	}
	return nil
}

func dedupeByChunkID(fragments []domain.Fragment) []domain.Fragment {
	seen := make(map[string]struct{}, len(fragments))
	out := make([]domain.Fragment, 0, len(fragments))
	for _, f := range fragments {
		if f.ChunkID != "" {
			if _, dup := seen[f.ChunkID]; dup {
				continue
			}
			seen[f.ChunkID] = struct{}{}
		}
		out = append(out, f)
	}
	return out
}
