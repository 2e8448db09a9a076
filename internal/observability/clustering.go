package observability

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ClusteringMetrics records classification pipeline metrics (service, worker, enqueuer).
// Methods accept ctx for future exemplar support.
type ClusteringMetrics interface {
	RecordClassification(ctx context.Context, outcome string, duration time.Duration)
	RecordResolverFallback(ctx context.Context, reason string)
	RecordLabelingFallback(ctx context.Context, reason string)
	RecordCentroidRecomputeError(ctx context.Context)
	RecordJobsEnqueued(ctx context.Context, count int64)
	RecordEnqueueError(ctx context.Context)
	SetRiverQueueDepth(depth int)
}

// clusteringMetrics implements ClusteringMetrics.
type clusteringMetrics struct {
	classifications   metric.Int64Counter
	duration          metric.Float64Histogram
	resolverFallbacks metric.Int64Counter
	labelingFallbacks metric.Int64Counter
	recomputeErrors   metric.Int64Counter
	jobsEnqueued      metric.Int64Counter
	enqueueErrors     metric.Int64Counter
	riverQueueDepth   atomic.Int64
}

// NewClusteringMetrics creates ClusteringMetrics and registers the queue depth gauge.
// Returns (nil, nil) when meter is nil (metrics disabled).
func NewClusteringMetrics(meter metric.Meter) (ClusteringMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	m := &clusteringMetrics{}

	var err error

	m.classifications, err = meter.Int64Counter(
		MetricNameClassifications,
		metric.WithDescription("Total classifications by outcome (assigned, created, failed)"),
	)
	if err != nil {
		return nil, fmt.Errorf("create classifications counter: %w", err)
	}

	m.duration, err = meter.Float64Histogram(
		MetricNameClassificationDuration,
		metric.WithDescription("Classification duration (seconds), embedding through commit"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create classification duration histogram: %w", err)
	}

	m.resolverFallbacks, err = meter.Int64Counter(
		MetricNameResolverFallbacks,
		metric.WithDescription("Similarity searches that failed and were treated as no match"),
	)
	if err != nil {
		return nil, fmt.Errorf("create resolver fallbacks counter: %w", err)
	}

	m.labelingFallbacks, err = meter.Int64Counter(
		MetricNameLabelingFallbacks,
		metric.WithDescription("New buckets labeled from the raw request instead of the generator"),
	)
	if err != nil {
		return nil, fmt.Errorf("create labeling fallbacks counter: %w", err)
	}

	m.recomputeErrors, err = meter.Int64Counter(
		MetricNameCentroidRecomputeErrors,
		metric.WithDescription("Centroid recomputations that failed after assignment"),
	)
	if err != nil {
		return nil, fmt.Errorf("create centroid recompute errors counter: %w", err)
	}

	m.jobsEnqueued, err = meter.Int64Counter(
		MetricNameClassificationEnqueued,
		metric.WithDescription("Total classification jobs enqueued"),
	)
	if err != nil {
		return nil, fmt.Errorf("create classification jobs enqueued counter: %w", err)
	}

	m.enqueueErrors, err = meter.Int64Counter(
		MetricNameClassificationEnqueueErrors,
		metric.WithDescription("Classification jobs that could not be enqueued"),
	)
	if err != nil {
		return nil, fmt.Errorf("create classification enqueue errors counter: %w", err)
	}

	_, err = meter.Int64ObservableGauge(
		MetricNameRiverQueueDepth,
		metric.WithDescription("Available classification jobs waiting in River"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(m.riverQueueDepth.Load())

			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create river queue depth gauge: %w", err)
	}

	return m, nil
}

func (m *clusteringMetrics) RecordClassification(ctx context.Context, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String(AttrOutcome, NormalizeOutcome(outcome)))
	m.classifications.Add(ctx, 1, attrs)
	m.duration.Record(ctx, duration.Seconds(), attrs)
}

func (m *clusteringMetrics) RecordResolverFallback(ctx context.Context, reason string) {
	reason = NormalizeReason(reason, AllowedResolverFallbackReasons)
	m.resolverFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrReason, reason)))
}

func (m *clusteringMetrics) RecordLabelingFallback(ctx context.Context, reason string) {
	reason = NormalizeReason(reason, AllowedLabelingFallbackReasons)
	m.labelingFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrReason, reason)))
}

func (m *clusteringMetrics) RecordCentroidRecomputeError(ctx context.Context) {
	m.recomputeErrors.Add(ctx, 1)
}

func (m *clusteringMetrics) RecordJobsEnqueued(ctx context.Context, count int64) {
	m.jobsEnqueued.Add(ctx, count)
}

func (m *clusteringMetrics) RecordEnqueueError(ctx context.Context) {
	m.enqueueErrors.Add(ctx, 1)
}

func (m *clusteringMetrics) SetRiverQueueDepth(depth int) {
	m.riverQueueDepth.Store(int64(depth))
}
