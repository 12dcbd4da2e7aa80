package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/polisai/polis-sandbox/pkg/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	metricsOnce          sync.Once
	metricsInitErr       error
	decisionCounter      metric.Int64Counter
	cacheClearCounter    metric.Int64Counter
	diagnosticsDropped   metric.Int64Counter
	resolveLatencyMillis metric.Float64Histogram
)

// DecisionMetrics captures the fields needed to record a trust decision.
type DecisionMetrics struct {
	Sandboxed bool
	Reason    domain.Reason
	// Resolve is the time spent canonicalizing the path; zero when no
	// resolution happened (cache hit or path-less origin).
	Resolve time.Duration
}

// RecordDecision emits counters and histograms that describe classifier behaviour.
func RecordDecision(ctx context.Context, m DecisionMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.Bool("sandbox.sandboxed", m.Sandboxed),
		attribute.String("sandbox.reason", string(m.Reason)),
	)

	decisionCounter.Add(ctx, 1, attrs)

	if m.Resolve > 0 {
		resolveLatencyMillis.Record(ctx, float64(m.Resolve)/float64(time.Millisecond), attrs)
	}
}

// RecordCacheClear counts an administrative or reload-driven cache clear.
func RecordCacheClear(ctx context.Context, entries int) {
	if err := ensureMetrics(); err != nil {
		return
	}
	cacheClearCounter.Add(ctx, 1, metric.WithAttributes(attribute.Int("sandbox.cache.entries", entries)))
}

// RecordDiagnosticsDropped counts diagnostic records discarded by a full sink.
func RecordDiagnosticsDropped(ctx context.Context, n int) {
	if n <= 0 {
		return
	}
	if err := ensureMetrics(); err != nil {
		return
	}
	diagnosticsDropped.Add(ctx, int64(n))
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("sandbox.trust")

		decisionCounter, metricsInitErr = meter.Int64Counter(
			"sandbox.decisions_total",
			metric.WithDescription("Trust decisions partitioned by outcome and reason"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		cacheClearCounter, metricsInitErr = meter.Int64Counter(
			"sandbox.cache.clears_total",
			metric.WithDescription("Trust cache clears"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		diagnosticsDropped, metricsInitErr = meter.Int64Counter(
			"sandbox.diagnostics.dropped_total",
			metric.WithDescription("Diagnostic records dropped because the sink was full"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		resolveLatencyMillis, metricsInitErr = meter.Float64Histogram(
			"sandbox.resolve.duration_ms",
			metric.WithDescription("Observed path canonicalization latency"),
			metric.WithUnit("ms"),
		)
	})

	return metricsInitErr
}

// RecordDecisionOnSpan annotates the provided span with the trust decision.
func RecordDecisionOnSpan(span trace.Span, decision domain.Decision) {
	if span == nil || !span.IsRecording() {
		return
	}

	span.SetAttributes(
		attribute.Bool("sandbox.sandboxed", decision.Sandboxed),
		attribute.String("sandbox.reason", string(decision.Reason)),
	)
	if decision.Canonical != "" {
		span.SetAttributes(attribute.String("sandbox.canonical_path", decision.Canonical))
	}
	if decision.Sandboxed {
		span.AddEvent("sandbox.enabled")
	}
}
