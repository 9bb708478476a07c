package usecase

import (
	"errors"
	"testing"

	"github.com/dolakin/tax-bills-assistant/internal/core/domain"
)

func TestVerifyGroundingNilPayload(t *testing.T) {
	err := VerifyGrounding(nil, nil)
	if !errors.Is(err, domain.ErrGrounding) {
		t.Fatalf("expected ErrGrounding, got %v", err)
	}
}

func TestVerifyGroundingRefusalWithoutCitations(t *testing.T) {
	payload := &domain.AnswerPayload{
		Answer:    "I couldn’t find enough support for that.",
		Citations: []domain.Citation{},
		Refusal:   true,
		Route:     domain.RouteQA,
	}
	if err := VerifyGrounding(payload, nil); err != nil {
		t.Fatalf("refusal without citations should pass: %v", err)
	}
}

func TestVerifyGroundingNoCitationsNoRefusal(t *testing.T) {
	payload := &domain.AnswerPayload{
		Answer: "The rate is seven and a half percent.",
		Route:  domain.RouteQA,
	}
	err := VerifyGrounding(payload, nil)
	if !errors.Is(err, domain.ErrGrounding) {
		t.Fatalf("expected ErrGrounding for bare answer, got %v", err)
	}
}

func TestVerifyGroundingRefusalAlongsideCitations(t *testing.T) {
	fragments := []domain.Fragment{
		{ChunkID: "bill.pdf::c00001", Text: "The rate of the tax shall be seven and a half percent."},
	}
	payload := &domain.AnswerPayload{
		Answer:  "Mixed signals.",
		Refusal: true,
		Route:   domain.RouteQA,
		Citations: []domain.Citation{
			{ChunkID: "bill.pdf::c00001", Quote: "seven and a half percent"},
		},
	}
	err := VerifyGrounding(payload, fragments)
	if !errors.Is(err, domain.ErrGrounding) {
		t.Fatalf("expected ErrGrounding for refusal with citations, got %v", err)
	}
}

func TestVerifyGroundingUnknownChunk(t *testing.T) {
	fragments := []domain.Fragment{
		{ChunkID: "bill.pdf::c00001", Text: "The rate of the tax shall be seven and a half percent."},
	}
	payload := &domain.AnswerPayload{
		Answer: "The rate is 7.5%.",
		Route:  domain.RouteQA,
		Citations: []domain.Citation{
			{ChunkID: "bill.pdf::c00099", Quote: "seven and a half percent"},
		},
	}
	err := VerifyGrounding(payload, fragments)
	if !errors.Is(err, domain.ErrGrounding) {
		t.Fatalf("expected ErrGrounding for unknown chunk, got %v", err)
	}
}

func TestVerifyGroundingQuoteNotInChunk(t *testing.T) {
	fragments := []domain.Fragment{
		{ChunkID: "bill.pdf::c00001", Text: "The rate of the tax shall be seven and a half percent."},
	}
	payload := &domain.AnswerPayload{
		Answer: "The rate is fifty percent.",
		Route:  domain.RouteQA,
		Citations: []domain.Citation{
			{ChunkID: "bill.pdf::c00001", Quote: "the rate shall be fifty percent"},
		},
	}
	err := VerifyGrounding(payload, fragments)
	if !errors.Is(err, domain.ErrGrounding) {
		t.Fatalf("expected ErrGrounding for fabricated quote, got %v", err)
	}
}

func TestVerifyGroundingNormalizesWhitespaceAndEllipsis(t *testing.T) {
	fragments := []domain.Fragment{
		{
			ChunkID: "bill.pdf::c00007",
			Text:    "The net proceeds of the value added tax\nshall be distributed   applying the derivation principle.",
		},
	}
	payload := &domain.AnswerPayload{
		Answer: "Proceeds follow derivation.",
		Route:  domain.RouteQA,
		Citations: []domain.Citation{
			{ChunkID: "bill.pdf::c00007", Quote: "value added tax shall be distributed applying" + ellipsis},
		},
	}
	if err := VerifyGrounding(payload, fragments); err != nil {
		t.Fatalf("normalized quote with ellipsis marker should pass: %v", err)
	}

	payload.Citations[0].Quote = "value added tax shall be distributed applying..."
	if err := VerifyGrounding(payload, fragments); err != nil {
		t.Fatalf("ASCII ellipsis variant should pass: %v", err)
	}
}

func TestVerifyGroundingEmptyQuote(t *testing.T) {
	fragments := []domain.Fragment{
		{ChunkID: "bill.pdf::c00001", Text: "Some text."},
	}
	payload := &domain.AnswerPayload{
		Answer: "Answer.",
		Route:  domain.RouteQA,
		Citations: []domain.Citation{
			{ChunkID: "bill.pdf::c00001", Quote: "  " + ellipsis},
		},
	}
	err := VerifyGrounding(payload, fragments)
	if !errors.Is(err, domain.ErrGrounding) {
		t.Fatalf("expected ErrGrounding for empty quote, got %v", err)
	}
}
