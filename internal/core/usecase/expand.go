package usecase

import "strings"

// maxExpandedQueries bounds the fan-out per user query.
const maxExpandedQueries = 8

// expandQuery turns one query into a bounded, deduplicated list of related
// query strings, original first. Expansion is topic-conditioned: legal
// boilerplate phrasing rarely matches colloquial questions verbatim, so the
// canonical formulations are added for the detected topic.
func expandQuery(query string) []string {
	q := strings.TrimSpace(query)
	ql := strings.ToLower(q)

	expansions := []string{q}

	if mentionsVAT(ql) {
		expansions = append(expansions,
			"VAT derivation",
			"VAT allocation formula",
			"distribution of VAT proceeds",
			"VAT sharing formula",
			"derivation principle VAT",
		)
		if detectIntent(ql) == intentRate {
			expansions = append(expansions,
				"VAT rate",
				"rate of value added tax",
			)
		}
	}

	if strings.Contains(ql, "derivation") && !mentionsVAT(ql) {
		expansions = append(expansions,
			"VAT derivation",
			q+" VAT",
		)
	}

	seen := make(map[string]struct{}, len(expansions))
	out := make([]string, 0, len(expansions))
	for _, e := range expansions {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		key := strings.ToLower(e)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, e)
		if len(out) == maxExpandedQueries {
			break
		}
	}
	return out
}
