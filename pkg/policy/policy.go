package policy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/polisai/polis-sandbox/pkg/domain"
)

// Input is the document handed to the Rego module.
type Input struct {
	Path      string
	Name      string
	Canonical string
	Sandboxed bool
	Reason    string
}

func (in Input) toMap() map[string]any {
	return map[string]any{
		"path":      in.Path,
		"name":      in.Name,
		"canonical": in.Canonical,
		"sandboxed": in.Sandboxed,
		"reason":    in.Reason,
	}
}

// Result is the policy's verdict. A nil Sandbox keeps the built-in decision.
type Result struct {
	Sandbox *bool
	Reason  string
}

// Explainer produces the built-in decision the policy may override.
type Explainer interface {
	Explain(ctx context.Context, origin domain.TemplateOrigin) domain.Decision
}

// Evaluator evaluates a policy for one input.
type Evaluator interface {
	Evaluate(ctx context.Context, input Input) (Result, error)
}

// Override consults a policy after the built-in classifier.
type Override struct {
	base   Explainer
	eval   Evaluator
	sink   domain.DiagnosticsSink
	logger *slog.Logger
}

var _ domain.SandboxDecider = (*Override)(nil)

// OverrideOption configures an Override.
type OverrideOption func(*Override)

// WithSink records final decisions, after any override, to s.
func WithSink(s domain.DiagnosticsSink) OverrideOption {
	return func(o *Override) {
		o.sink = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) OverrideOption {
	return func(o *Override) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewOverride wraps base with eval.
func NewOverride(base Explainer, eval Evaluator, opts ...OverrideOption) *Override {
	o := &Override{base: base, eval: eval, logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ShouldSandbox implements domain.SandboxDecider.
func (o *Override) ShouldSandbox(ctx context.Context, origin domain.TemplateOrigin) bool {
	return o.Explain(ctx, origin).Sandboxed
}

// Explain returns the built-in decision, replaced when the policy says so.
func (o *Override) Explain(ctx context.Context, origin domain.TemplateOrigin) domain.Decision {
	decision := o.base.Explain(ctx, origin)
	decision = o.apply(ctx, decision)
	o.emit(ctx, decision)
	return decision
}

func (o *Override) apply(ctx context.Context, decision domain.Decision) domain.Decision {
	result, err := o.eval.Evaluate(ctx, Input{
		Path:      decision.Origin.Path,
		Name:      decision.Origin.Name,
		Canonical: decision.Canonical,
		Sandboxed: decision.Sandboxed,
		Reason:    string(decision.Reason),
	})
	if err != nil {
		o.logger.Warn("Sandbox policy evaluation failed; keeping built-in decision",
			"path", decision.Origin.Path,
			"name", decision.Origin.Name,
			"sandboxed", decision.Sandboxed,
			"error", err)
		return decision
	}
	if result.Sandbox == nil || *result.Sandbox == decision.Sandboxed {
		return decision
	}

	o.logger.Debug("Sandbox decision overridden by policy",
		"path", decision.Origin.Path,
		"name", decision.Origin.Name,
		"sandboxed", *result.Sandbox,
		"policy_reason", result.Reason)

	decision.Sandboxed = *result.Sandbox
	decision.Reason = domain.ReasonPolicy
	return decision
}

func (o *Override) emit(ctx context.Context, decision domain.Decision) {
	if o.sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Warn("Diagnostics sink panicked", "panic", r)
		}
	}()
	o.sink.Record(ctx, domain.DiagnosticRecord{
		Path:      decision.Origin.Path,
		Name:      decision.Origin.Name,
		Sandboxed: decision.Sandboxed,
		Reason:    decision.Reason,
		At:        time.Now(),
	})
}

// LoadModules reads Rego files from disk, keyed by base name. Entries may be
// doublestar globs such as "policies/**/*.rego"; a glob must match at least
// one file.
func LoadModules(paths []string) (map[string]string, error) {
	files, err := expandModules(paths)
	if err != nil {
		return nil, err
	}

	modules := make(map[string]string, len(files))
	for _, p := range files {
		//nolint:gosec // Module paths are controlled by admin/operator
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read rego module %s: %w", p, err)
		}
		name := filepath.Base(p)
		if _, dup := modules[name]; dup {
			name = p
		}
		modules[name] = string(data)
	}
	return modules, nil
}

func expandModules(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		if !strings.ContainsAny(p, "*?[{") {
			files = append(files, p)
			continue
		}
		if !doublestar.ValidatePattern(filepath.ToSlash(p)) {
			return nil, fmt.Errorf("invalid rego module pattern %q", p)
		}
		matches, err := doublestar.FilepathGlob(p, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("expand rego module pattern %q: %w", p, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("rego module pattern %q matched no files", p)
		}
		sort.Strings(matches)
		files = append(files, matches...)
	}
	return files, nil
}
