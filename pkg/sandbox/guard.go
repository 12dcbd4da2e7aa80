package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/polisai/polis-sandbox/pkg/config"
	"github.com/polisai/polis-sandbox/pkg/diagnostics"
	"github.com/polisai/polis-sandbox/pkg/domain"
	"github.com/polisai/polis-sandbox/pkg/policy"
	"github.com/polisai/polis-sandbox/pkg/trust"
	"github.com/polisai/polis-sandbox/pkg/whitelist"
)

type explainer interface {
	Explain(ctx context.Context, origin domain.TemplateOrigin) domain.Decision
}

// state is everything rebuilt on reload. It is never mutated after build.
type state struct {
	cfg        *config.Config
	classifier *trust.Classifier
	engine     *policy.Engine
	decider    explainer
	spec       *whitelist.Spec
}

// Option configures a Guard.
type Option func(*Guard)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithSink adds a diagnostics sink next to the built-in ones.
func WithSink(s domain.DiagnosticsSink) Option {
	return func(g *Guard) {
		g.extra = append(g.extra, s)
	}
}

// Guard answers sandbox questions for a rendering engine. Safe for concurrent
// use; Reload swaps its state atomically.
type Guard struct {
	logger *slog.Logger
	extra  []domain.DiagnosticsSink

	recent *diagnostics.RecentSink
	async  *diagnostics.AsyncSink
	sink   domain.DiagnosticsSink

	mu    sync.RWMutex
	state *state
}

var _ domain.SandboxDecider = (*Guard)(nil)

// NewGuard builds a Guard from cfg. cfg must already be validated.
func NewGuard(ctx context.Context, cfg *config.Config, opts ...Option) (*Guard, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: configuration is required", domain.ErrConfigInvalid)
	}

	g := &Guard{logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}

	g.recent = diagnostics.NewRecentSink(cfg.Diagnostics.Recent)
	g.async = diagnostics.NewAsyncSink(diagnostics.NewLogSink(g.logger), cfg.Diagnostics.Buffer, g.logger)
	g.sink = diagnostics.Multi(append([]domain.DiagnosticsSink{g.recent, g.async}, g.extra...)...)

	st, err := g.build(ctx, cfg)
	if err != nil {
		_ = g.async.Close(ctx)
		return nil, err
	}
	g.state = st

	g.logger.Info("Sandbox guard ready",
		"trusted_root", st.classifier.TrustedRoot(),
		"unresolvable", string(cfg.Unresolvable),
		"policy", st.engine != nil)
	return g, nil
}

func (g *Guard) build(ctx context.Context, cfg *config.Config) (*state, error) {
	st := &state{cfg: cfg, spec: whitelist.Build(cfg.Whitelist)}

	if err := whitelist.Audit(st.spec); err != nil {
		// Audit findings are advisory.
		g.logger.Warn("Whitelist enables dangerous capabilities", "error", err)
	}

	copts := []trust.Option{
		trust.WithLogger(g.logger),
		trust.WithWorkingDirectory(cfg.WorkingDir),
	}
	if cfg.FailClosed() {
		copts = append(copts, trust.WithFailClosed())
	}
	if !cfg.Policy.Enabled() {
		copts = append(copts, trust.WithSink(g.sink))
	}

	classifier, err := trust.NewClassifier(cfg.TrustedRoot, copts...)
	if err != nil {
		return nil, err
	}
	st.classifier = classifier
	st.decider = classifier

	if cfg.Policy.Enabled() {
		modules, err := policy.LoadModules(cfg.Policy.Modules)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrConfigInvalid, err)
		}
		engine, err := policy.NewEngine(ctx, policy.EngineOptions{
			Entrypoint:      cfg.Policy.Entrypoint,
			Modules:         modules,
			CacheMaxEntries: cfg.Policy.CacheSize,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrConfigInvalid, err)
		}
		st.engine = engine
		st.decider = policy.NewOverride(classifier, engine,
			policy.WithSink(g.sink),
			policy.WithLogger(g.logger))
	}

	return st, nil
}

func (g *Guard) current() *state {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// ShouldSandbox implements domain.SandboxDecider.
func (g *Guard) ShouldSandbox(ctx context.Context, origin domain.TemplateOrigin) bool {
	return g.Explain(ctx, origin).Sandboxed
}

// Explain classifies origin and reports how the decision was reached.
func (g *Guard) Explain(ctx context.Context, origin domain.TemplateOrigin) domain.Decision {
	return g.current().decider.Explain(ctx, origin)
}

// Whitelist returns the effective capability whitelist.
func (g *Guard) Whitelist() *whitelist.Spec {
	return g.current().spec
}

// Config returns the configuration the guard currently runs with.
func (g *Guard) Config() *config.Config {
	return g.current().cfg
}

// TrustedRoot returns the canonical trusted root.
func (g *Guard) TrustedRoot() string {
	return g.current().classifier.TrustedRoot()
}

// CacheLen returns the number of memoized path decisions.
func (g *Guard) CacheLen() int {
	return g.current().classifier.CacheLen()
}

// Recent returns up to n recent decisions, newest first.
func (g *Guard) Recent(n int) []domain.DiagnosticRecord {
	return g.recent.Last(n)
}

// ClearCache drops memoized path and policy decisions and returns the number
// of path decisions removed.
func (g *Guard) ClearCache() int {
	st := g.current()
	n := st.classifier.ClearCache()
	if st.engine != nil {
		st.engine.FlushCache()
	}
	return n
}

// Reload rebuilds the guard from cfg. On failure the previous state stays in
// effect. A successful reload starts from empty caches.
func (g *Guard) Reload(ctx context.Context, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: configuration is required", domain.ErrConfigInvalid)
	}
	next, err := g.build(ctx, cfg)
	if err != nil {
		return fmt.Errorf("reload: %w", err)
	}

	g.mu.Lock()
	prev := g.state
	g.state = next
	g.mu.Unlock()

	// In-flight calls may still hold prev; both caches stay usable after a clear.
	prev.classifier.ClearCache()
	if prev.engine != nil {
		prev.engine.FlushCache()
	}

	g.logger.Info("Sandbox guard reloaded", "trusted_root", next.classifier.TrustedRoot())
	return nil
}

// Close flushes queued diagnostics and releases policy resources.
func (g *Guard) Close(ctx context.Context) error {
	var errs []error
	if err := g.async.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("diagnostics: %w", err))
	}
	if st := g.current(); st.engine != nil {
		if err := st.engine.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("policy: %w", err))
		}
	}
	return errors.Join(errs...)
}
