// Package metrics provides the centralized Prometheus registry reference
// for the harvester. All metrics are defined in their respective packages
// (client, batch, cache, ratelimit) to maintain modularity and avoid
// circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the harvester.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - harvest_bucket_tokens_remaining (Gauge): Tokens left in the request budget bucket
//   - harvest_bucket_waits_total (Counter): Acquisitions that had to wait for a refill
//
// Request Metrics (pkg/client):
//   - harvest_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - harvest_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - harvest_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/client):
//   - harvest_retries_total{error_class} (Counter): Retry attempts by error class
//   - harvest_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - harvest_retry_exhausted_total{error_class} (Counter): Calls that ran out of retries or budget
//
// Batch Metrics (pkg/batch):
//   - harvest_batch_items_total{outcome} (Counter): Batch items by outcome (ok, failed)
//   - harvest_batch_duration_seconds (Histogram): Duration of full batch runs
//
// Cache Metrics (pkg/cache):
//   - harvest_cache_hits_total{kind} (Counter): Lookup cache hits by kind
//   - harvest_cache_misses_total{kind} (Counter): Lookup cache misses by kind
//   - harvest_cache_errors_total{operation} (Counter): Cache operation errors
//
// Example Prometheus Queries:
//
//   # Rate-limit pressure: how often calls hit the budget floor
//   rate(harvest_bucket_waits_total[5m])
//
//   # Cache Hit Rate
//   sum(rate(harvest_cache_hits_total[5m])) /
//   (sum(rate(harvest_cache_hits_total[5m])) + sum(rate(harvest_cache_misses_total[5m])))
//
//   # Request Error Rate
//   rate(harvest_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(harvest_request_duration_seconds_bucket[5m]))
//
//   # Silent batch loss
//   rate(harvest_batch_items_total{outcome="failed"}[5m])
