package sandbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-sandbox/pkg/config"
	"github.com/polisai/polis-sandbox/pkg/domain"
	"github.com/polisai/polis-sandbox/pkg/whitelist"
)

type fixture struct {
	root    string
	storage string
	theme   string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	f := fixture{
		root:    root,
		storage: filepath.Join(root, "storage"),
		theme:   filepath.Join(root, "theme"),
	}
	require.NoError(t, os.MkdirAll(filepath.Join(f.storage, "user42"), 0o755))
	require.NoError(t, os.MkdirAll(f.theme, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.storage, "user42", "t.html"), []byte("{{ x }}"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(f.theme, "header.html"), []byte("<h1>"), 0o600))
	return f
}

func newConfig(root string) *config.Config {
	cfg := config.Default()
	cfg.TrustedRoot = root
	return cfg
}

func newGuard(t *testing.T, cfg *config.Config) *Guard {
	t.Helper()
	require.NoError(t, cfg.Validate())
	g, err := NewGuard(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close(context.Background()) })
	return g
}

func TestGuardClassifies(t *testing.T) {
	f := newFixture(t)
	g := newGuard(t, newConfig(f.storage))
	ctx := context.Background()

	assert.True(t, g.ShouldSandbox(ctx, domain.TemplateOrigin{Path: filepath.Join(f.storage, "user42", "t.html")}))
	assert.False(t, g.ShouldSandbox(ctx, domain.TemplateOrigin{Path: filepath.Join(f.theme, "header.html")}))
	assert.True(t, g.ShouldSandbox(ctx, domain.TemplateOrigin{Path: f.storage}))
	assert.False(t, g.ShouldSandbox(ctx, domain.TemplateOrigin{Path: filepath.Join(f.root, "nonexistent")}))
	assert.True(t, g.ShouldSandbox(ctx, domain.TemplateOrigin{Name: "__string_template__abc"}))

	assert.Equal(t, f.storage, g.TrustedRoot())
	assert.Equal(t, 4, g.CacheLen())

	recent := g.Recent(0)
	require.Len(t, recent, 5)
	assert.Equal(t, domain.ReasonDynamicName, recent[0].Reason)
}

func TestGuardFailClosed(t *testing.T) {
	f := newFixture(t)
	cfg := newConfig(f.storage)
	cfg.Unresolvable = config.UnresolvableClosed
	g := newGuard(t, cfg)

	d := g.Explain(context.Background(), domain.TemplateOrigin{Path: filepath.Join(f.root, "missing.html")})
	assert.True(t, d.Sandboxed)
	assert.Equal(t, domain.ReasonUnresolvable, d.Reason)
}

func TestGuardWhitelist(t *testing.T) {
	f := newFixture(t)
	cfg := newConfig(f.storage)
	fns := whitelist.ParseFlat([]string{whitelist.Sentinel, "custom_fn"})
	cfg.Whitelist.Functions = &fns
	g := newGuard(t, cfg)

	spec := g.Whitelist()
	assert.True(t, spec.AllowsFunction("custom_fn"))
	assert.True(t, spec.AllowsFunction("range"))
	assert.False(t, spec.AllowsFunction("source"))
}

func TestGuardReloadSwapsRootAndClearsCache(t *testing.T) {
	f := newFixture(t)
	g := newGuard(t, newConfig(f.storage))
	ctx := context.Background()
	header := domain.TemplateOrigin{Path: filepath.Join(f.theme, "header.html")}

	assert.False(t, g.ShouldSandbox(ctx, header))
	assert.Equal(t, 1, g.CacheLen())

	next := newConfig(f.theme)
	require.NoError(t, next.Validate())
	require.NoError(t, g.Reload(ctx, next))

	assert.Zero(t, g.CacheLen())
	assert.Equal(t, f.theme, g.TrustedRoot())
	assert.True(t, g.ShouldSandbox(ctx, header))
	assert.Same(t, next, g.Config())
}

func TestGuardReloadFailureKeepsState(t *testing.T) {
	f := newFixture(t)
	g := newGuard(t, newConfig(f.storage))

	bad := newConfig(filepath.Join(f.root, "does-not-exist"))
	err := g.Reload(context.Background(), bad)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfigInvalid))
	assert.Equal(t, f.storage, g.TrustedRoot())

	assert.Error(t, g.Reload(context.Background(), nil))
}

func TestGuardClearCache(t *testing.T) {
	f := newFixture(t)
	g := newGuard(t, newConfig(f.storage))

	g.ShouldSandbox(context.Background(), domain.TemplateOrigin{Path: filepath.Join(f.theme, "header.html")})
	assert.Equal(t, 1, g.ClearCache())
	assert.Zero(t, g.CacheLen())
}

func TestGuardPolicyOverride(t *testing.T) {
	f := newFixture(t)
	module := filepath.Join(f.root, "sandbox.rego")
	require.NoError(t, os.WriteFile(module, []byte(`package sandbox

decision := {"sandbox": true, "reason": "header is editable"} if {
	endswith(input.path, "header.html")
}
`), 0o600))

	cfg := newConfig(f.storage)
	cfg.Policy.Modules = []string{module}
	g := newGuard(t, cfg)

	d := g.Explain(context.Background(), domain.TemplateOrigin{Path: filepath.Join(f.theme, "header.html")})
	assert.True(t, d.Sandboxed)
	assert.Equal(t, domain.ReasonPolicy, d.Reason)

	recent := g.Recent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, domain.ReasonPolicy, recent[0].Reason)
}

func TestNewGuardErrors(t *testing.T) {
	_, err := NewGuard(context.Background(), nil)
	assert.Error(t, err)

	f := newFixture(t)
	cfg := newConfig(f.storage)
	cfg.Policy.Modules = []string{filepath.Join(f.root, "missing.rego")}
	_, err = NewGuard(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfigInvalid))
}

func TestGuardReloadLeavesPreviousPolicyUsable(t *testing.T) {
	f := newFixture(t)
	module := filepath.Join(f.root, "sandbox.rego")
	require.NoError(t, os.WriteFile(module, []byte(`package sandbox

decision := {"sandbox": true, "reason": "header is editable"} if {
	endswith(input.path, "header.html")
}
`), 0o600))

	cfg := newConfig(f.storage)
	cfg.Policy.Modules = []string{module}
	g := newGuard(t, cfg)
	ctx := context.Background()
	header := domain.TemplateOrigin{Path: filepath.Join(f.theme, "header.html")}

	assert.True(t, g.ShouldSandbox(ctx, header))
	prev := g.current()

	next := newConfig(f.storage)
	next.Policy.Modules = []string{module}
	require.NoError(t, next.Validate())
	require.NoError(t, g.Reload(ctx, next))

	assert.Zero(t, prev.engine.FlushCache(), "previous policy cache is flushed on reload")
	d := prev.decider.Explain(ctx, header)
	assert.True(t, d.Sandboxed)
	assert.Equal(t, domain.ReasonPolicy, d.Reason)
}
