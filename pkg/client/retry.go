package client

import (
	"math"
	"net/http"
	"strconv"
	"time"
)

// ErrorClass represents a classification of call outcomes.
type ErrorClass string

const (
	// ClassRateLimit represents HTTP 429 responses. Always retried.
	ClassRateLimit ErrorClass = "rate_limit"

	// ClassServer represents 5xx server errors. Retried a bounded number
	// of times.
	ClassServer ErrorClass = "server"

	// ClassNetwork represents transport errors and timeouts. Retried a
	// bounded number of times.
	ClassNetwork ErrorClass = "network"

	// ClassClient represents non-429 4xx errors. Never retried; terminal
	// for the call.
	ClassClient ErrorClass = "client"
)

// Classify categorizes a call outcome. err is the transport error, resp
// the response when the transport succeeded. An empty class means success.
func Classify(resp *http.Response, err error) ErrorClass {
	if err != nil {
		return ClassNetwork
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ClassRateLimit
	case resp.StatusCode >= 500:
		return ClassServer
	case resp.StatusCode >= 400:
		return ClassClient
	default:
		return ""
	}
}

// Policy holds the retry parameters for one error class.
type Policy struct {
	// MaxRetries bounds the retry count. Unbounded < 0 means no ceiling.
	MaxRetries int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// Multiplier grows the delay per attempt; 1.0 keeps it fixed.
	Multiplier float64

	// CapDelay bounds the grown delay.
	CapDelay time.Duration
}

// Unbounded marks a policy with no retry ceiling.
const Unbounded = -1

// Policies maps error classes to their retry policy. Immutable after
// construction.
type Policies map[ErrorClass]Policy

// DefaultPolicies returns the retry policy table. Rate limiting is an
// expected steady-state condition under heavy harvesting, so it is never
// abandoned; other failures are retried a few times only so real faults
// stay visible.
func DefaultPolicies() Policies {
	return Policies{
		ClassRateLimit: {MaxRetries: Unbounded, BaseDelay: 5 * time.Second, Multiplier: 1.5, CapDelay: 300 * time.Second},
		ClassServer:    {MaxRetries: 3, BaseDelay: time.Second, Multiplier: 1.0, CapDelay: time.Second},
		ClassNetwork:   {MaxRetries: 3, BaseDelay: time.Second, Multiplier: 1.0, CapDelay: time.Second},
		ClassClient:    {MaxRetries: 0},
	}
}

// ShouldRetry reports whether the given class may be retried after its
// attempt-th failure (1-based). MaxRetries of 3 permits retries after
// the first three failures, so a call makes four attempts in total.
func (p Policies) ShouldRetry(class ErrorClass, attempt int) bool {
	policy, ok := p[class]
	if !ok {
		return false
	}
	if policy.MaxRetries < 0 {
		return true
	}
	return attempt <= policy.MaxRetries
}

// DelayFor computes the delay before the nth retry (1-based) of the given
// class: min(base × multiplier^(n-1), cap). Deterministic and
// non-decreasing in n.
func (p Policies) DelayFor(class ErrorClass, attempt int) time.Duration {
	policy, ok := p[class]
	if !ok || policy.BaseDelay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}

	mult := policy.Multiplier
	if mult <= 0 {
		mult = 1.0
	}

	delay := float64(policy.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if capDelay := float64(policy.CapDelay); capDelay > 0 && delay > capDelay {
		delay = capDelay
	}
	return time.Duration(delay)
}

// retryAfter extracts a 429 Retry-After header value in seconds. The
// header is authoritative when present and overrides the computed backoff.
func retryAfter(resp *http.Response) (time.Duration, bool) {
	if resp == nil {
		return 0, false
	}
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil || seconds < 0 {
		return 0, false
	}
	return time.Duration(seconds * float64(time.Second)), true
}
