package observability

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric collectors. When metrics are disabled, the *Metrics itself is nil.
// Components that accept an interface (ClusteringMetrics, CacheMetrics, APIMetrics) receive
// the corresponding field; they already handle nil.
type Metrics struct {
	Clustering ClusteringMetrics
	Cache      CacheMetrics
	API        APIMetrics
}

// NewMetrics creates every collector from the given meter.
// Returns (nil, nil) when meter is nil (metrics disabled).
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	clustering, err := NewClusteringMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("clustering metrics: %w", err)
	}

	cache, err := NewCacheMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("cache metrics: %w", err)
	}

	api, err := NewAPIMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("api metrics: %w", err)
	}

	return &Metrics{
		Clustering: clustering,
		Cache:      cache,
		API:        api,
	}, nil
}
