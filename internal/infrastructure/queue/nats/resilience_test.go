package nats

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/dolakin/tax-bills-assistant/internal/core/domain"
)

func TestClassifyBusError(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		retryable  bool
		recordFail bool
	}{
		{"no servers", nats.ErrNoServers, true, true},
		{"wrapped timeout", fmt.Errorf("publish: %w", nats.ErrTimeout), true, true},
		{"context canceled", context.Canceled, false, false},
		{"bad subject", nats.ErrBadSubject, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyBusError(tc.err)
			if got.Retryable != tc.retryable || got.RecordFailure != tc.recordFail {
				t.Fatalf("classifyBusError(%v) = %+v, want retryable=%v record=%v",
					tc.err, got, tc.retryable, tc.recordFail)
			}
		})
	}
}

func TestMarkTemporary(t *testing.T) {
	if err := markTemporary(nats.ErrConnectionClosed); !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("connectivity failure must be tagged temporary, got %v", err)
	}

	permanent := errors.New("bad payload")
	if err := markTemporary(permanent); !errors.Is(err, permanent) || domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("permanent failure must pass through untagged, got %v", err)
	}

	wrapped := domain.WrapError(domain.ErrTemporary, "publish reingest event", nats.ErrTimeout)
	if err := markTemporary(wrapped); err != wrapped {
		t.Fatalf("already-tagged error must not be re-wrapped, got %v", err)
	}
}
