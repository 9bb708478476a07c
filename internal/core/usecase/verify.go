package usecase

import (
	"fmt"
	"strings"

	"github.com/dolakin/tax-bills-assistant/internal/core/domain"
)

// VerifyGrounding is the hallucination backstop. Every citation must quote,
// verbatim after whitespace normalization, a fragment that was actually
// retrieved for this turn; an empty citation list is valid only on refusal.
// It runs on every answer before it reaches a caller.
func VerifyGrounding(payload *domain.AnswerPayload, retrieved []domain.Fragment) error {
	if payload == nil {
		return domain.WrapError(domain.ErrGrounding, "verify payload", fmt.Errorf("nil payload"))
	}

	if len(payload.Citations) == 0 {
		if payload.Refusal {
			return nil
		}
		return domain.WrapError(domain.ErrGrounding, "verify payload",
			fmt.Errorf("no citations without refusal on route %s", payload.Route))
	}
	if payload.Refusal {
		return domain.WrapError(domain.ErrGrounding, "verify payload",
			fmt.Errorf("refusal set alongside %d citations", len(payload.Citations)))
	}

	byID := make(map[string]string, len(retrieved))
	for _, f := range retrieved {
		if f.ChunkID != "" {
			byID[f.ChunkID] = f.Text
		}
	}

	for _, c := range payload.Citations {
		text, ok := byID[c.ChunkID]
		if !ok {
			return domain.WrapError(domain.ErrGrounding, "verify citation",
				fmt.Errorf("chunk %s not in retrieved set", c.ChunkID))
		}

		quote := normalizeSpace(strings.TrimSuffix(strings.TrimSuffix(c.Quote, ellipsis), "..."))
		if quote == "" {
			return domain.WrapError(domain.ErrGrounding, "verify citation",
				fmt.Errorf("empty quote for chunk %s", c.ChunkID))
		}
		if !strings.Contains(normalizeSpace(text), quote) {
			return domain.WrapError(domain.ErrGrounding, "verify citation",
				fmt.Errorf("quote not found in chunk %s", c.ChunkID))
		}
	}
	return nil
}

func normalizeSpace(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}
