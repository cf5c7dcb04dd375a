// Package providers holds the four pluggable provider registries (LLM,
// TTS, web search, flight search). Providers share a uniform failure
// contract: calls return a *Error with a discriminated kind instead of
// panicking, and carry a usage blob the caller forwards to the usage
// tracker.
package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Error kinds. Every provider failure maps onto exactly one of these.
const (
	KindTimeout       = "timeout"
	KindRateLimited   = "rate_limited"
	KindAuthFailed    = "auth_failed"
	KindNotConfigured = "not_configured"
	KindUpstream      = "upstream_error"
)

// Error is the uniform provider failure.
type Error struct {
	Kind     string
	Provider string
	Detail   string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrKind extracts the kind from any error chain, defaulting to
// upstream_error for unclassified failures.
func ErrKind(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUpstream
}

// classifyHTTP maps an HTTP status onto an error kind.
func classifyHTTP(provider string, status int, body string) *Error {
	kind := KindUpstream
	switch {
	case status == 401 || status == 403:
		kind = KindAuthFailed
	case status == 429:
		kind = KindRateLimited
	}
	return &Error{Kind: kind, Provider: provider,
		Detail: fmt.Sprintf("http %d: %s", status, truncate(body, 300))}
}

// classifyTransport maps a transport-level error onto an error kind.
func classifyTransport(provider string, err error) *Error {
	kind := KindUpstream
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		kind = KindTimeout
	}
	return &Error{Kind: kind, Provider: provider, Err: err}
}

func notConfigured(provider, detail string) *Error {
	return &Error{Kind: KindNotConfigured, Provider: provider, Detail: detail}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Usage is the per-call unit count forwarded to the usage tracker.
// Units are tokens for LLMs, characters for TTS, requests for search.
type Usage struct {
	PromptUnits int `json:"prompt_units"`
	OutputUnits int `json:"output_units"`
}

// Health statuses.
const (
	HealthHealthy       = "healthy"
	HealthDegraded      = "degraded"
	HealthNotConfigured = "not_configured"
	HealthUnavailable   = "unavailable"
)

// Health is the result of a provider health probe.
type Health struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Detail    string `json:"detail,omitempty"`
}
