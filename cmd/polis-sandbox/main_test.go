package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/polisai/polis-sandbox/pkg/domain"
	"github.com/polisai/polis-sandbox/pkg/whitelist"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func templateTree(t *testing.T) (root, storage string) {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	storage = filepath.Join(root, "storage")
	require.NoError(t, os.MkdirAll(filepath.Join(storage, "user42"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "theme"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(storage, "user42", "t.html"), nil, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "theme", "header.html"), nil, 0o600))
	return root, storage
}

func TestClassifyCommand(t *testing.T) {
	root, storage := templateTree(t)

	out, err := execute(t, "classify", "--root", storage,
		filepath.Join(storage, "user42", "t.html"),
		filepath.Join(root, "theme", "header.html"),
		filepath.Join(root, "nonexistent"))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)

	var decisions []domain.Decision
	for _, line := range lines {
		var d domain.Decision
		require.NoError(t, json.Unmarshal([]byte(line), &d))
		decisions = append(decisions, d)
	}
	assert.True(t, decisions[0].Sandboxed)
	assert.False(t, decisions[1].Sandboxed)
	assert.False(t, decisions[2].Sandboxed)
	assert.Equal(t, domain.ReasonUnresolvable, decisions[2].Reason)
}

func TestClassifyCommandByName(t *testing.T) {
	_, storage := templateTree(t)

	out, err := execute(t, "classify", "--root", storage, "--name", "0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	var d domain.Decision
	require.NoError(t, json.Unmarshal([]byte(out), &d))
	assert.True(t, d.Sandboxed)
	assert.Equal(t, domain.ReasonDynamicName, d.Reason)
}

func TestClassifyCommandRequiresInput(t *testing.T) {
	_, err := execute(t, "classify", "--root", "/tmp")
	assert.Error(t, err)

	_, err = execute(t, "classify", "/srv/a.html")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfigInvalid))
}

func TestWhitelistCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "sandbox.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
whitelist:
  functions: ["@defaults", custom_fn]
`), 0o600))

	out, err := execute(t, "whitelist", "-c", cfgPath)
	require.NoError(t, err)

	var snap whitelist.Snapshot
	require.NoError(t, yaml.Unmarshal([]byte(out), &snap))
	assert.Contains(t, snap.Functions, "custom_fn")
	assert.Contains(t, snap.Functions, "range")

	out, err = execute(t, "whitelist", "-o", "json")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.NotContains(t, snap.Functions, "custom_fn")

	_, err = execute(t, "whitelist", "-o", "xml")
	assert.Error(t, err)
}

func TestAuditCommand(t *testing.T) {
	out, err := execute(t, "audit")
	require.NoError(t, err)
	assert.Contains(t, out, "no dangerous capabilities")

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "sandbox.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
whitelist:
  directives: ["@defaults", include]
  operators: {mode: extend, entries: [map]}
`), 0o600))

	out, err = execute(t, "audit", "-c", cfgPath)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDangerousEntry))
	assert.Contains(t, out, `"include"`)
	assert.Contains(t, out, `"map"`)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 2)
}
