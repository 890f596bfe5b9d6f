// Package client provides the core HTTP client for the Teams API with
// rate limiting, retry classification, and error handling.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stackharvest/harvester/pkg/ratelimit"
)

// Prometheus metrics for API client operations.
var (
	apiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_requests_total",
		Help: "Total API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	apiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harvest_request_duration_seconds",
		Help:    "API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	apiErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_errors_total",
		Help: "Total API errors by class",
	}, []string{"class"})

	apiRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	apiRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harvest_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 300},
	}, []string{"error_class"})

	apiRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// Config holds the client configuration.
type Config struct {
	// Token is the bearer token, constant for the run (REQUIRED).
	Token string

	// UserAgent header sent with every request.
	UserAgent string

	// Governor gates every outbound call (REQUIRED). All fetch streams of
	// a run must share one instance.
	Governor *ratelimit.Governor

	// RequestTimeout bounds each individual attempt. It is independent of
	// retry backoff sleeps; the run as a whole has no timeout.
	RequestTimeout time.Duration

	// Policies is the retry policy table. Nil selects DefaultPolicies.
	Policies Policies

	// MaxRateLimitWait caps the total wall-clock time a single call may
	// spend waiting out 429s. Zero means unlimited.
	MaxRateLimitWait time.Duration

	// HTTPClient overrides the underlying transport (for testing).
	HTTPClient *http.Client
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(token string, governor *ratelimit.Governor) Config {
	return Config{
		Token:          token,
		UserAgent:      "harvester/1.0",
		Governor:       governor,
		RequestTimeout: 30 * time.Second,
	}
}

// Client is the rate-limited Teams API HTTP client. A call that fails
// with a bounded class degrades to an error after its retries; a
// rate-limited call is waited out for as long as the budget allows.
type Client struct {
	httpClient       *http.Client
	governor         *ratelimit.Governor
	policies         Policies
	token            string
	userAgent        string
	requestTimeout   time.Duration
	maxRateLimitWait time.Duration
	logger           zerolog.Logger
}

// New creates a new API client.
func New(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("bearer token is required")
	}
	if cfg.Governor == nil {
		return nil, fmt.Errorf("rate governor is required")
	}

	if cfg.UserAgent == "" {
		cfg.UserAgent = "harvester/1.0"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.Policies == nil {
		cfg.Policies = DefaultPolicies()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		httpClient:       httpClient,
		governor:         cfg.Governor,
		policies:         cfg.Policies,
		token:            cfg.Token,
		userAgent:        cfg.UserAgent,
		requestTimeout:   cfg.RequestTimeout,
		maxRateLimitWait: cfg.MaxRateLimitWait,
		logger:           log.With().Str("component", "api-client").Logger(),
	}, nil
}

// GetJSON performs a GET against rawURL with the given query parameters
// and decodes the response body into out. Every attempt passes through
// the shared Governor first. Backoff state is scoped to this call and
// resets at the next call boundary.
func (c *Client) GetJSON(ctx context.Context, rawURL string, params url.Values, out any) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	if len(params) > 0 {
		q := u.Query()
		for key, values := range params {
			for _, v := range values {
				q.Add(key, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	endpoint := u.Path

	startTime := time.Now()
	defer func() {
		apiRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	var rateLimitDeadline time.Time
	if c.maxRateLimitWait > 0 {
		rateLimitDeadline = startTime.Add(c.maxRateLimitWait)
	}

	boundedAttempts := 0 // shared counter for server and network failures
	rateLimitAttempts := 0

	for {
		if err := c.governor.Acquire(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}

		resp, reqErr := c.doAttempt(ctx, u.String())
		class := Classify(resp, reqErr)

		if class == "" {
			apiRequestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", resp.StatusCode)).Inc()
			decodeErr := json.NewDecoder(resp.Body).Decode(out)
			resp.Body.Close()
			if decodeErr != nil {
				return fmt.Errorf("decode response from %s: %w", endpoint, decodeErr)
			}
			return nil
		}

		apiErrorsTotal.WithLabelValues(string(class)).Inc()

		var wait time.Duration
		switch class {
		case ClassRateLimit:
			rateLimitAttempts++
			if after, ok := retryAfter(resp); ok {
				wait = after
			} else {
				wait = c.policies.DelayFor(ClassRateLimit, rateLimitAttempts)
			}
			resp.Body.Close()
			apiRequestsTotal.WithLabelValues(endpoint, "429").Inc()

			if !rateLimitDeadline.IsZero() && time.Now().Add(wait).After(rateLimitDeadline) {
				apiRetryExhaustedTotal.WithLabelValues(string(ClassRateLimit)).Inc()
				return fmt.Errorf("%w after %d attempts on %s", ErrRateLimitBudget, rateLimitAttempts, endpoint)
			}

			c.logger.Warn().
				Str("endpoint", endpoint).
				Int("attempt", rateLimitAttempts).
				Dur("backoff", wait).
				Msg("Rate limited (429), backing off")

		case ClassClient:
			apiRequestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", resp.StatusCode)).Inc()
			apiErr := &APIError{
				StatusCode: resp.StatusCode,
				Class:      ClassClient,
				Message:    resp.Status,
			}
			resp.Body.Close()
			c.logger.Warn().
				Str("endpoint", endpoint).
				Int("status", apiErr.StatusCode).
				Msg("Client error, not retrying")
			return apiErr

		case ClassServer, ClassNetwork:
			boundedAttempts++

			var apiErr error
			if class == ClassServer {
				apiRequestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", resp.StatusCode)).Inc()
				apiErr = &APIError{StatusCode: resp.StatusCode, Class: ClassServer, Message: resp.Status}
				resp.Body.Close()
			} else {
				apiRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
				apiErr = &APIError{Class: ClassNetwork, Message: "transport failure", Err: reqErr}
			}

			if ctx.Err() != nil {
				return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
			}

			if !c.policies.ShouldRetry(class, boundedAttempts) {
				apiRetryExhaustedTotal.WithLabelValues(string(class)).Inc()
				c.logger.Warn().
					Str("endpoint", endpoint).
					Str("error_class", string(class)).
					Int("attempts", boundedAttempts).
					Msg("Retry attempts exhausted")
				return fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, boundedAttempts, apiErr)
			}

			wait = c.policies.DelayFor(class, boundedAttempts)
			c.logger.Warn().
				Str("endpoint", endpoint).
				Str("error_class", string(class)).
				Int("attempt", boundedAttempts).
				Dur("backoff", wait).
				Msg("Retrying request after backoff")
		}

		apiRetriesTotal.WithLabelValues(string(class)).Inc()
		apiRetryBackoffSeconds.WithLabelValues(string(class)).Observe(wait.Seconds())

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case <-time.After(wait):
		}
	}
}

// doAttempt executes one HTTP attempt under the per-attempt timeout.
func (c *Client) doAttempt(ctx context.Context, fullURL string) (*http.Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, fullURL, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}

	// Buffer the body so the attempt timeout cannot interrupt decoding.
	body, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	cancel()
	if readErr != nil {
		return nil, readErr
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	return resp, nil
}

// IsTerminal reports whether err is a per-call terminal failure: a client
// error, exhausted retries, or an expired rate-limit budget. Callers
// degrade such units to empty results instead of aborting the run.
func IsTerminal(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Class == ClassClient {
		return true
	}
	return errors.Is(err, ErrRetryExhausted) || errors.Is(err, ErrRateLimitBudget)
}
