// Package coreerrors is the core's error taxonomy (spec §7 "Error
// Handling Design"). Grounded on strategy/error_handling.go's
// ErrorType/StrategyError shape, renamed to this core's own kinds and
// trimmed of the LLM-API-specific categories (rate limit, quota) the
// teacher's version carried for its Gemini advisor.
package coreerrors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Kind categorizes a failure the way the Propagation Policy distinguishes
// them (spec §7): the core never throws past the writer boundary, so
// every failure is observed, logged, or surfaced as state instead — the
// Kind decides which of those three applies.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransientUpstream
	KindAuthExpiry
	KindMalformedPayload
	KindGeometryFailure
	KindStorageFailure
	KindReplayResourceMissing
)

func (k Kind) String() string {
	switch k {
	case KindTransientUpstream:
		return "transient_upstream"
	case KindAuthExpiry:
		return "auth_expiry"
	case KindMalformedPayload:
		return "malformed_payload"
	case KindGeometryFailure:
		return "geometry_failure"
	case KindStorageFailure:
		return "storage_failure"
	case KindReplayResourceMissing:
		return "replay_resource_missing"
	default:
		return "unknown"
	}
}

// CoreError is the error value every adapter/persistence/replay boundary
// wraps its failures in before logging them, so the logged Kind/Retryable
// fields line up with spec §7's error-kind table regardless of which
// component raised the error.
type CoreError struct {
	Kind       Kind
	Code       string
	Message    string
	Cause      error
	Retryable  bool
	RetryAfter time.Duration
	Timestamp  time.Time
}

func (e *CoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s [caused by: %v]", e.Kind, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
}

func (e *CoreError) Unwrap() error {
	return e.Cause
}

// New builds a CoreError directly, for call sites that already know the
// kind (e.g. a replay lookup missing its recording, a geometry builder
// returning ok=false).
func New(kind Kind, code, message string) *CoreError {
	return &CoreError{Kind: kind, Code: code, Message: message, Timestamp: time.Now()}
}

// Wrap builds a CoreError around cause, for call sites that already know
// the kind but want the underlying error preserved for logging/Unwrap.
func Wrap(kind Kind, code string, cause error) *CoreError {
	if cause == nil {
		return nil
	}
	return &CoreError{Kind: kind, Code: code, Message: cause.Error(), Cause: cause, Timestamp: time.Now()}
}

// ClassifyUpstream inspects an adapter connect/stream error and labels it
// transient-upstream or auth-expiry (spec §7's first two kinds), which is
// as far as that distinction can be made from a generic error value — the
// adapters themselves decide the concrete retry schedule (§7: "60s flat
// ... up to 3 attempts" for SignalR, "5s reconnect ... indefinite" for
// MQTT); this only tells the caller which of the two policies applies.
func ClassifyUpstream(err error) *CoreError {
	if err == nil {
		return nil
	}
	ce := &CoreError{Kind: KindTransientUpstream, Cause: err, Message: err.Error(), Timestamp: time.Now()}

	if errors.Is(err, context.DeadlineExceeded) {
		ce.Code = "TIMEOUT"
		ce.Retryable = true
		ce.RetryAfter = 5 * time.Second
		return ce
	}
	if errors.Is(err, context.Canceled) {
		ce.Code = "CANCELED"
		ce.Retryable = false
		return ce
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		ce.Code = "NETWORK"
		ce.Retryable = true
		ce.RetryAfter = 5 * time.Second
		return ce
	}
	if isAuthFailure(err) {
		ce.Kind = KindAuthExpiry
		ce.Code = "AUTH_EXPIRED"
		ce.Retryable = true
		return ce
	}
	ce.Code = "UNKNOWN"
	ce.Retryable = true
	ce.RetryAfter = 5 * time.Second
	return ce
}

func isAuthFailure(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"unauthorized", "401", "token expired", "authentication"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
