// Package observability provides OpenTelemetry metrics, tracing and log correlation for the buckets API.
package observability

// Metric names (Prometheus / OpenTelemetry).
const (
	MetricNameHTTPRequests                = "buckets_http_requests_total"
	MetricNameHTTPDuration                = "buckets_http_request_duration_seconds"
	MetricNameRequestBodyTooLarge         = "buckets_request_body_too_large_total"
	MetricNameClassifications             = "buckets_classifications_total"
	MetricNameClassificationDuration      = "buckets_classification_duration_seconds"
	MetricNameResolverFallbacks           = "buckets_resolver_fallbacks_total"
	MetricNameLabelingFallbacks           = "buckets_labeling_fallbacks_total"
	MetricNameCentroidRecomputeErrors     = "buckets_centroid_recompute_errors_total"
	MetricNameClassificationEnqueued      = "buckets_classification_jobs_enqueued_total"
	MetricNameClassificationEnqueueErrors = "buckets_classification_enqueue_errors_total"
	MetricNameRiverQueueDepth             = "buckets_river_queue_depth"
	MetricNameCacheHits                   = "buckets_cache_hits_total"
	MetricNameCacheMisses                 = "buckets_cache_misses_total"
)

// Attribute keys.
const (
	AttrOutcome = "outcome"
	AttrReason  = "reason"
	AttrMethod  = "method"
	AttrRoute   = "route"
	AttrStatus  = "status_class"
)

// Classification outcomes.
const (
	OutcomeAssigned = "assigned"
	OutcomeCreated  = "created"
	OutcomeFailed   = "failed"
)

// AllowedClassificationOutcomes for buckets_classifications_total and the duration histogram.
var AllowedClassificationOutcomes = map[string]bool{
	OutcomeAssigned: true,
	OutcomeCreated:  true,
	OutcomeFailed:   true,
}

// AllowedResolverFallbackReasons for buckets_resolver_fallbacks_total.
var AllowedResolverFallbackReasons = map[string]bool{
	"search_failed": true,
}

// AllowedLabelingFallbackReasons for buckets_labeling_fallbacks_total.
var AllowedLabelingFallbackReasons = map[string]bool{
	"disabled":       true,
	"upstream_error": true,
	"empty_label":    true,
	"lost_race":      true,
}

// AllowedCacheNames bounds the cache label.
var AllowedCacheNames = map[string]bool{
	"embedding": true,
}

// NormalizeReason returns reason if in allowed, otherwise "other".
func NormalizeReason(reason string, allowed map[string]bool) string {
	if allowed[reason] {
		return reason
	}

	return "other"
}

// NormalizeOutcome returns outcome if it is a known classification outcome, otherwise "unknown".
func NormalizeOutcome(outcome string) string {
	if AllowedClassificationOutcomes[outcome] {
		return outcome
	}

	return "unknown"
}

// NormalizeCacheName returns name if it is a known cache, otherwise "other".
func NormalizeCacheName(name string) string {
	return NormalizeReason(name, AllowedCacheNames)
}
