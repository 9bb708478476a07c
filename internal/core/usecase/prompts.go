package usecase

import (
	"fmt"
	"strings"

	"github.com/dolakin/tax-bills-assistant/internal/core/domain"
)

const routerSystemPrompt = `You are a router for a Nigerian Tax Reform Bills (2024) assistant.

Classify the user's message into exactly ONE route:
- "smalltalk": greetings, thanks, casual chat
- "clarify": very vague request with no clear tax topic
- "qa": a question that requires looking up the knowledge base
- "compare": user asks old vs new / differences / compare
- "claim_check": user repeats a rumor and wants verification

Rules:
- Output JSON only in this exact shape:
  {"route": "...", "need_retrieval": true/false}
- need_retrieval=true for qa/compare/claim_check; otherwise false.
- If the message mentions any tax topic at all (VAT, rate, derivation,
  exemption, filing, penalty, allocation, proceeds, HB-1756/1757/1758/1759),
  choose qa/claim_check/compare, NOT clarify.`

const composerSystemPrompt = `You are a Nigerian Tax Reform Bills (2024) assistant.
Use ONLY the evidence quotes you are given. Do not add facts not stated in
the quotes. Be friendly, calm, and plain-language.`

// refusalGuidance is the user-visible text for an evidence-free turn. A
// refusal always carries actionable retrieval hints, never a raw error.
const refusalGuidance = "I couldn’t find enough support for that in the tax reform bills.\n\n" +
	"Try:\n" +
	"• Mention the bill (HB-1759/HB-1756/HB-1757/HB-1758)\n" +
	"• Add keywords like “VAT allocation / derivation / distribution”\n" +
	"• Or paste the exact sentence you saw.\n"

func routerUserPrompt(q domain.Query) string {
	if len(q.History) == 0 {
		return q.Text
	}

	var b strings.Builder
	b.WriteString("Recent conversation:\n")
	for _, m := range q.History {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	b.WriteString("\nCurrent message:\n")
	b.WriteString(q.Text)
	return b.String()
}

func buildSmalltalkPrompt(message string) string {
	return fmt.Sprintf(`User said: %q

Write a warm, natural reply in 1-2 short sentences.
End with one helpful question like: "What would you like to know about the tax reform bills?"`, message)
}

func buildClarifyPrompt(message string) string {
	return fmt.Sprintf(`User said: %q

Respond warmly and ask ONE clarifying question to pinpoint what they mean.
Then give 3 example questions they can ask. The examples must include strong
keywords such as VAT derivation/distribution/proceeds, HB-1756/HB-1757/HB-1758/HB-1759,
or commencement/effective date. Keep it short and non-technical.`, message)
}

func buildQAPrompt(question string, citations []domain.Citation) string {
	return fmt.Sprintf(`Answer the user question using ONLY the evidence quotes.
If a detail is not stated in the quotes, say it is not confirmed in the provided excerpts.
Prefer 2-3 short paragraphs, about 120-190 words.

USER QUESTION:
%s

EVIDENCE QUOTES:
%s`, question, evidenceBlock(citations))
}

func buildComparePrompt(question string, citations []domain.Citation) string {
	return fmt.Sprintf(`The user asks for a comparison. Use ONLY the evidence quotes.

Write in this structure:
Summary: 1 short paragraph of what the excerpts show.
Current / extant (from the quotes): 1 short paragraph.
Proposed / new (from the quotes): 1 short paragraph.
Differences supported by the excerpts: 1 short paragraph.

USER QUESTION:
%s

EVIDENCE QUOTES:
%s`, question, evidenceBlock(citations))
}

func buildClaimCheckPrompt(claim string, verdict domain.Verdict, citations []domain.Citation) string {
	return fmt.Sprintf(`You are fact-checking a claim. The verdict is already computed; do not change it.

Write in this structure (exact headings):
Claim: repeat the claim in one short line.
Verdict: %s (1 short sentence explanation; no extra facts)
Evidence from the bills: include 1-3 quoted lines EXACTLY as provided.
Explanation (plain language): one short paragraph restating only what the evidence supports.

CLAIM:
%s

VERDICT:
%s

EVIDENCE QUOTES:
%s`, verdict, claim, verdict, evidenceBlock(citations))
}

func evidenceBlock(citations []domain.Citation) string {
	if len(citations) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, c := range citations {
		fmt.Fprintf(&b, "- (%s %s) %q\n", c.Source, c.Pages, c.Quote)
	}
	return b.String()
}
