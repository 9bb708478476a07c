package nats

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/dolakin/tax-bills-assistant/internal/core/domain"
	"github.com/dolakin/tax-bills-assistant/internal/infrastructure/resilience"
)

// connectivityErrs are the transient connection states worth retrying a
// reingest publish over. Anything else is a protocol or usage error and
// retrying would not help.
var connectivityErrs = []error{
	nats.ErrNoServers,
	nats.ErrTimeout,
	nats.ErrConnectionClosed,
	nats.ErrDisconnected,
}

func classifyBusError(err error) resilience.ErrorClassification {
	switch {
	case err == nil:
		return resilience.ErrorClassification{}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.ErrorClassification{}
	case resilience.IsCircuitOpen(err), isConnectivityErr(err):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	default:
		return resilience.ErrorClassification{RecordFailure: true}
	}
}

func isConnectivityErr(err error) bool {
	for _, target := range connectivityErrs {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// markTemporary tags retryable publish failures so the ingest CLI can tell a
// transient bus outage from a hard error.
func markTemporary(err error) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if classifyBusError(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, "publish reingest event", err)
	}
	return err
}
