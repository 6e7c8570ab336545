package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	color.NoColor = true
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func withDataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("PLAYGROUND_DATA_DIR", dir)
	return dir
}

func TestConfigShowWithoutFile(t *testing.T) {
	dir := withDataDir(t)

	out, err := runCLI(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "Server config")
	assert.Contains(t, out, "level: info")
	assert.Contains(t, out, "configEvolution: true")
	assert.NoFileExists(t, filepath.Join(dir, "server-config.json"))
}

func TestConfigShowReadsFile(t *testing.T) {
	dir := withDataDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "server-config.json"),
		[]byte(`{"logging": {"level": "warn"}, "featureFlags": {"beta": true}}`), 0o600))

	out, err := runCLI(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "level: warn")
	assert.Contains(t, out, "beta: true")
}

func TestConfigValidate(t *testing.T) {
	dir := withDataDir(t)
	path := filepath.Join(dir, "server-config.json")

	out, err := runCLI(t, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "No config file")

	require.NoError(t, os.WriteFile(path, []byte(`{"logging": {"level": "debug"}}`), 0o600))
	out, err = runCLI(t, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "OK")

	require.NoError(t, os.WriteFile(path, []byte(`{"logging": {"level": "loud"}}`), 0o600))
	out, err = runCLI(t, "config", "validate")
	require.Error(t, err)
	assert.Contains(t, out, "fallback logging")

	require.NoError(t, os.WriteFile(path, []byte(`[1, 2]`), 0o600))
	_, err = runCLI(t, "config", "validate")
	require.Error(t, err)
}

func TestConfigDiffAgainstNewestBackup(t *testing.T) {
	dir := withDataDir(t)
	path := filepath.Join(dir, "server-config.json")

	out, err := runCLI(t, "config", "diff")
	require.NoError(t, err)
	assert.Contains(t, out, "No backups")

	require.NoError(t, os.WriteFile(path+".20260101T000000.000000000Z.bak", []byte("{\n  \"level\": \"error\"\n}\n"), 0o600))
	require.NoError(t, os.WriteFile(path+".20260102T000000.000000000Z.bak", []byte("{\n  \"level\": \"info\"\n}\n"), 0o600))
	require.NoError(t, os.WriteFile(path, []byte("{\n  \"level\": \"debug\"\n}\n"), 0o600))

	out, err = runCLI(t, "config", "diff")
	require.NoError(t, err)
	assert.Contains(t, out, "20260102T000000.000000000Z.bak")
	assert.Contains(t, out, "@@ -1,3 +1,3 @@")
	assert.Contains(t, out, `-  "level": "info"`)
	assert.Contains(t, out, `+  "level": "debug"`)
	assert.Contains(t, out, "+1 -1 lines")

	out, err = runCLI(t, "config", "diff", path+".20260101T000000.000000000Z.bak")
	require.NoError(t, err)
	assert.Contains(t, out, `-  "level": "error"`)
}

func TestServeRejectsBadBootstrapConfig(t *testing.T) {
	withDataDir(t)
	t.Setenv("PLAYGROUND_LLM_PROVIDER", "carrier-pigeon")

	_, err := runCLI(t, "serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported llm.provider")
}
