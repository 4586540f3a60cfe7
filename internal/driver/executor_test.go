package driver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/depdb/internal/model"
)

func newTestExecutor(t *testing.T, toml string) *Executor {
	t.Helper()
	path := writeRuleFile(t, toml)
	rf, err := LoadRuleFile(path)
	require.NoError(t, err)
	return NewExecutor(rf)
}

func TestExecuteSourceKeyReturnsModTime(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "main.go")
	require.NoError(t, os.WriteFile(src, []byte("package main"), 0o644))
	info, err := os.Stat(src)
	require.NoError(t, err)

	e := newTestExecutor(t, `
[[rules]]
name = "app"
command = ["true"]
`)
	res, err := e.Execute(context.Background(), sourceKey(src))
	require.NoError(t, err)
	assert.Equal(t, info.ModTime().UnixNano(), res.Value)
}

func TestExecuteSourceKeyMissingFileErrors(t *testing.T) {
	e := newTestExecutor(t, `
[[rules]]
name = "app"
command = ["true"]
`)
	_, err := e.Execute(context.Background(), sourceKey(filepath.Join(t.TempDir(), "missing.go")))
	assert.Error(t, err)
}

func TestExecuteRuleRunsCommandAndDigestsOutput(t *testing.T) {
	e := newTestExecutor(t, `
[[rules]]
name = "app"
depends = ["lib"]
sources = ["main.go"]
command = ["echo", "built"]
`)
	res, err := e.Execute(context.Background(), "app")
	require.NoError(t, err)
	digest, ok := res.Value.(string)
	require.True(t, ok)
	assert.NotEmpty(t, digest)
	require.Len(t, res.Depends, 1)
	assert.Equal(t, model.DepGroup{"lib", sourceKey("main.go")}, res.Depends[0])
}

func TestExecuteRuleUnknownNameErrors(t *testing.T) {
	e := newTestExecutor(t, `
[[rules]]
name = "app"
command = ["true"]
`)
	_, err := e.Execute(context.Background(), "ghost")
	assert.Error(t, err)
}

func TestExecuteRulePermanentFailureDoesNotRetryForever(t *testing.T) {
	e := newTestExecutor(t, `
[[rules]]
name = "app"
command = ["this-binary-does-not-exist-anywhere"]
`)
	_, err := e.Execute(context.Background(), "app")
	assert.Error(t, err)
}

func TestExecuteNonStringKeyErrors(t *testing.T) {
	e := newTestExecutor(t, `
[[rules]]
name = "app"
command = ["true"]
`)
	_, err := e.Execute(context.Background(), 42)
	assert.Error(t, err)
}
