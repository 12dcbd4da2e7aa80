package policy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-sandbox/pkg/domain"
)

const sandboxModule = `package sandbox

decision := {"sandbox": true, "reason": "uploads are untrusted"} if {
	startswith(input.path, "/uploads/")
} else := {"sandbox": false, "reason": "vendor theme"} if {
	startswith(input.path, "/vendor/")
}
`

func newTestEngine(t *testing.T, capacity int) *Engine {
	t.Helper()
	engine, err := NewEngine(context.Background(), EngineOptions{
		Modules:         map[string]string{"sandbox.rego": sandboxModule},
		CacheMaxEntries: capacity,
	})
	require.NoError(t, err)
	return engine
}

func TestEngineEvaluate(t *testing.T) {
	engine := newTestEngine(t, 0)
	assert.Equal(t, DefaultEntrypoint, engine.Entrypoint())

	res, err := engine.Evaluate(context.Background(), Input{Path: "/uploads/a.html"})
	require.NoError(t, err)
	require.NotNil(t, res.Sandbox)
	assert.True(t, *res.Sandbox)
	assert.Equal(t, "uploads are untrusted", res.Reason)

	res, err = engine.Evaluate(context.Background(), Input{Path: "/vendor/x.html", Sandboxed: true})
	require.NoError(t, err)
	require.NotNil(t, res.Sandbox)
	assert.False(t, *res.Sandbox)

	res, err = engine.Evaluate(context.Background(), Input{Path: "/theme/x.html"})
	require.NoError(t, err)
	assert.Nil(t, res.Sandbox, "undefined decision means no override")
}

func TestEngineCacheAndFlush(t *testing.T) {
	engine := newTestEngine(t, 2)

	for _, p := range []string{"/uploads/a", "/uploads/b", "/uploads/c", "/uploads/a"} {
		_, err := engine.Evaluate(context.Background(), Input{Path: p})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, engine.cache.Len())
	assert.Equal(t, 2, engine.FlushCache())
	assert.Equal(t, 0, engine.cache.Len())
}

func TestEngineEvaluateAfterClose(t *testing.T) {
	engine := newTestEngine(t, 4)

	_, err := engine.Evaluate(context.Background(), Input{Path: "/uploads/a"})
	require.NoError(t, err)
	require.NoError(t, engine.Close(context.Background()))
	assert.Equal(t, 0, engine.cache.Len())

	res, err := engine.Evaluate(context.Background(), Input{Path: "/uploads/a"})
	require.NoError(t, err)
	require.NotNil(t, res.Sandbox)
	assert.True(t, *res.Sandbox)
}

func TestEngineCacheDisabled(t *testing.T) {
	engine := newTestEngine(t, -1)
	assert.Nil(t, engine.cache)
	assert.Zero(t, engine.FlushCache())
}

func TestNewEngineErrors(t *testing.T) {
	_, err := NewEngine(context.Background(), EngineOptions{})
	assert.Error(t, err)

	_, err = NewEngine(context.Background(), EngineOptions{
		Modules: map[string]string{"bad.rego": "package sandbox\n\ndecision := {"},
	})
	assert.Error(t, err)
}

func TestParseResult(t *testing.T) {
	res, err := parseResult(true)
	require.NoError(t, err)
	require.NotNil(t, res.Sandbox)
	assert.True(t, *res.Sandbox)

	res, err = parseResult(map[string]any{"reason": "noop"})
	require.NoError(t, err)
	assert.Nil(t, res.Sandbox)

	_, err = parseResult(map[string]any{"sandbox": "yes"})
	assert.Error(t, err)

	_, err = parseResult(42)
	assert.Error(t, err)
}

type fixedExplainer struct {
	decision domain.Decision
}

func (f fixedExplainer) Explain(_ context.Context, origin domain.TemplateOrigin) domain.Decision {
	d := f.decision
	d.Origin = origin
	return d
}

type failingEvaluator struct{}

func (failingEvaluator) Evaluate(context.Context, Input) (Result, error) {
	return Result{}, errors.New("policy unavailable")
}

type recordingSink struct {
	records []domain.DiagnosticRecord
}

func (r *recordingSink) Record(_ context.Context, rec domain.DiagnosticRecord) {
	r.records = append(r.records, rec)
}

func TestOverrideFlipsDecision(t *testing.T) {
	sink := &recordingSink{}
	base := fixedExplainer{decision: domain.Decision{Sandboxed: false, Reason: domain.ReasonOutsideRoot}}
	o := NewOverride(base, newTestEngine(t, 0), WithSink(sink))

	d := o.Explain(context.Background(), domain.TemplateOrigin{Path: "/uploads/evil.html"})
	assert.True(t, d.Sandboxed)
	assert.Equal(t, domain.ReasonPolicy, d.Reason)

	d = o.Explain(context.Background(), domain.TemplateOrigin{Path: "/theme/header.html"})
	assert.False(t, d.Sandboxed)
	assert.Equal(t, domain.ReasonOutsideRoot, d.Reason)

	require.Len(t, sink.records, 2)
	assert.True(t, sink.records[0].Sandboxed)
	assert.Equal(t, domain.ReasonPolicy, sink.records[0].Reason)
}

func TestOverrideKeepsDecisionOnError(t *testing.T) {
	base := fixedExplainer{decision: domain.Decision{Sandboxed: true, Reason: domain.ReasonInsideRoot}}
	o := NewOverride(base, failingEvaluator{})

	assert.True(t, o.ShouldSandbox(context.Background(), domain.TemplateOrigin{Path: "/srv/a"}))
}

func TestLoadModules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sandbox.rego")
	require.NoError(t, os.WriteFile(path, []byte(sandboxModule), 0o600))

	modules, err := LoadModules([]string{path})
	require.NoError(t, err)
	assert.Equal(t, sandboxModule, modules["sandbox.rego"])

	_, err = LoadModules([]string{filepath.Join(dir, "missing.rego")})
	assert.Error(t, err)
}

func TestLoadModulesGlob(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "policies", "uploads"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "policies", "sandbox.rego"), []byte(sandboxModule), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "policies", "uploads", "extra.rego"), []byte("package extra\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "policies", "README.md"), []byte("docs"), 0o600))

	modules, err := LoadModules([]string{filepath.Join(dir, "policies", "**", "*.rego")})
	require.NoError(t, err)
	assert.Len(t, modules, 2)
	assert.Contains(t, modules, "sandbox.rego")
	assert.Contains(t, modules, "extra.rego")

	_, err = LoadModules([]string{filepath.Join(dir, "nothing", "*.rego")})
	assert.Error(t, err)
}
