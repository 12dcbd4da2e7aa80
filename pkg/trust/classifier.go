package trust

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-sandbox/pkg/domain"
	"github.com/polisai/polis-sandbox/pkg/telemetry"
)

// classifierConfig holds configuration for the Classifier.
type classifierConfig struct {
	normalizer PathNormalizer
	sink       domain.DiagnosticsSink
	logger     *slog.Logger
	failClosed bool
	dir        string
}

func defaultClassifierConfig() classifierConfig {
	return classifierConfig{
		logger: slog.Default(),
	}
}

// Option configures a Classifier.
type Option func(*classifierConfig)

// WithNormalizer replaces the filesystem normalizer.
func WithNormalizer(n PathNormalizer) Option {
	return func(c *classifierConfig) {
		c.normalizer = n
	}
}

// WithSink sets the diagnostics sink that receives every decision.
func WithSink(s domain.DiagnosticsSink) Option {
	return func(c *classifierConfig) {
		c.sink = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *classifierConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithFailClosed sandboxes templates whose path cannot be resolved. The
// default is fail-open: unresolvable paths render unrestricted.
func WithFailClosed() Option {
	return func(c *classifierConfig) {
		c.failClosed = true
	}
}

// WithWorkingDirectory anchors relative origin paths (and a relative trusted
// root) to dir instead of the process working directory. Ignored when a
// custom normalizer is supplied.
func WithWorkingDirectory(dir string) Option {
	return func(c *classifierConfig) {
		c.dir = dir
	}
}

// Classifier maps a template origin to a sandbox decision.
type Classifier struct {
	root   string
	config classifierConfig
	cache  *Cache
	tracer trace.Tracer
}

// NewClassifier canonicalizes trustedRoot once and returns a Classifier bound
// to it. The root must exist.
func NewClassifier(trustedRoot string, opts ...Option) (*Classifier, error) {
	cfg := defaultClassifierConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.normalizer == nil {
		cfg.normalizer = FSNormalizer{Dir: cfg.dir}
	}

	if strings.TrimSpace(trustedRoot) == "" {
		return nil, fmt.Errorf("%w: trusted root is required", domain.ErrConfigInvalid)
	}

	root, err := cfg.normalizer.Normalize(context.Background(), trustedRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: trusted root: %w", domain.ErrConfigInvalid, err)
	}

	return &Classifier{
		root:   root,
		config: cfg,
		cache:  NewCache(),
		tracer: telemetry.Tracer(),
	}, nil
}

// TrustedRoot returns the canonical trusted root.
func (c *Classifier) TrustedRoot() string {
	return c.root
}

// FailClosed reports whether unresolvable paths are sandboxed.
func (c *Classifier) FailClosed() bool {
	return c.config.failClosed
}

// Classify reports whether the template must render sandboxed.
func (c *Classifier) Classify(origin domain.TemplateOrigin) bool {
	return c.Explain(context.Background(), origin).Sandboxed
}

// ClassifyContext is Classify with a context bounding path resolution.
func (c *Classifier) ClassifyContext(ctx context.Context, origin domain.TemplateOrigin) bool {
	return c.Explain(ctx, origin).Sandboxed
}

// ShouldSandbox implements domain.SandboxDecider.
func (c *Classifier) ShouldSandbox(ctx context.Context, origin domain.TemplateOrigin) bool {
	return c.Explain(ctx, origin).Sandboxed
}

// Explain classifies origin and reports how the decision was reached.
func (c *Classifier) Explain(ctx context.Context, origin domain.TemplateOrigin) domain.Decision {
	decision, resolve := c.decide(ctx, origin)

	telemetry.RecordDecision(ctx, telemetry.DecisionMetrics{
		Sandboxed: decision.Sandboxed,
		Reason:    decision.Reason,
		Resolve:   resolve,
	})
	c.emit(ctx, decision)

	return decision
}

func (c *Classifier) decide(ctx context.Context, origin domain.TemplateOrigin) (domain.Decision, time.Duration) {
	decision := domain.Decision{Origin: origin}

	if !origin.HasPath() {
		decision.Sandboxed = LooksDynamic(origin.Name)
		decision.Reason = domain.ReasonStaticName
		if decision.Sandboxed {
			decision.Reason = domain.ReasonDynamicName
		}
		return decision, 0
	}

	if cached, ok := c.cache.Get(origin.Path); ok {
		decision.Sandboxed = cached
		decision.Reason = domain.ReasonCacheHit
		return decision, 0
	}

	ctx, span := c.tracer.Start(ctx, "trust.resolve",
		trace.WithAttributes(attribute.String("sandbox.origin_path", origin.Path)))
	defer span.End()

	start := time.Now()
	canonical, err := c.config.normalizer.Normalize(ctx, origin.Path)
	elapsed := time.Since(start)

	switch {
	case err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		// Not cached: a later call with a live context must resolve for real.
		decision.Sandboxed = c.config.failClosed
		decision.Reason = domain.ReasonCancelled
	case err != nil:
		decision.Sandboxed = c.config.failClosed
		decision.Reason = domain.ReasonUnresolvable
		c.cache.Put(origin.Path, decision.Sandboxed)
		c.config.logger.Debug("Template path unresolvable",
			"path", origin.Path,
			"sandboxed", decision.Sandboxed,
			"error", err)
	default:
		decision.Canonical = canonical
		decision.Sandboxed = within(c.root, canonical)
		decision.Reason = domain.ReasonOutsideRoot
		if decision.Sandboxed {
			decision.Reason = domain.ReasonInsideRoot
		}
		c.cache.Put(origin.Path, decision.Sandboxed)
	}

	telemetry.RecordDecisionOnSpan(span, decision)
	return decision, elapsed
}

// emit hands the decision to the diagnostics sink. Sink failures never reach
// the caller.
func (c *Classifier) emit(ctx context.Context, decision domain.Decision) {
	if c.config.sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.config.logger.Warn("Diagnostics sink panicked", "panic", r)
		}
	}()
	c.config.sink.Record(ctx, domain.DiagnosticRecord{
		Path:      decision.Origin.Path,
		Name:      decision.Origin.Name,
		Sandboxed: decision.Sandboxed,
		Reason:    decision.Reason,
		At:        time.Now(),
	})
}

// ClearCache drops every memoized decision and returns the number removed.
func (c *Classifier) ClearCache() int {
	n := c.cache.Clear()
	telemetry.RecordCacheClear(context.Background(), n)
	c.config.logger.Info("Trust cache cleared", "entries", n)
	return n
}

// CacheLen returns the number of memoized decisions.
func (c *Classifier) CacheLen() int {
	return c.cache.Len()
}

// within reports whether p is root itself or a descendant of it.
func within(root, p string) bool {
	if p == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(p, prefix)
}
