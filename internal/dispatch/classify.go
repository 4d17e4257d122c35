package dispatch

import (
	"context"
	"errors"
	"net"
	"net/http"

	"signalflow/internal/broker"
)

// Outcome classifies one transport attempt and decides what the retry
// state machine does next.
type Outcome int

const (
	Success Outcome = iota
	// FatalClientError: the request itself is wrong; retrying cannot help.
	FatalClientError
	// AuthExpired: the session token is stale; refresh once and retry once.
	AuthExpired
	// RateLimited: the venue is throttling; back off, honoring its hint.
	RateLimited
	// TransientServerError: venue-side failure worth bounded retries.
	TransientServerError
	// UpstreamUnavailable: gateway-class failure; retried like a transient
	// error but with a longer base delay.
	UpstreamUnavailable
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "SUCCESS"
	case FatalClientError:
		return "FATAL_CLIENT_ERROR"
	case AuthExpired:
		return "AUTH_EXPIRED"
	case RateLimited:
		return "RATE_LIMITED"
	case TransientServerError:
		return "TRANSIENT_SERVER_ERROR"
	case UpstreamUnavailable:
		return "UPSTREAM_UNAVAILABLE"
	default:
		return "UNKNOWN"
	}
}

// Retryable reports whether the outcome loops back to another attempt
// (after backoff). AuthExpired is handled separately: it allows exactly
// one refresh-then-retry per dispatch.
func (o Outcome) Retryable() bool {
	switch o {
	case RateLimited, TransientServerError, UpstreamUnavailable:
		return true
	default:
		return false
	}
}

// Classify maps a transport result to an outcome. Status codes follow the
// documented taxonomy: 200 success, 400 fatal, 403 auth expiry, 429 rate
// limit, 500 transient, 502/503/504 upstream. Timeouts count as transient
// server errors.
func Classify(err error) Outcome {
	if err == nil {
		return Success
	}
	if apiErr, ok := broker.AsAPIError(err); ok {
		return classifyStatus(apiErr.StatusCode)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TransientServerError
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return TransientServerError
	}
	// Unrecognized transport failures get bounded retries rather than an
	// immediate reject; the attempt budget still caps them.
	return TransientServerError
}

func classifyStatus(status int) Outcome {
	switch status {
	case http.StatusOK:
		return Success
	case http.StatusForbidden, http.StatusUnauthorized:
		return AuthExpired
	case http.StatusTooManyRequests:
		return RateLimited
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return UpstreamUnavailable
	}
	switch {
	case status >= 200 && status < 300:
		return Success
	case status >= 400 && status < 500:
		return FatalClientError
	default:
		return TransientServerError
	}
}
