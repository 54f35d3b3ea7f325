package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// setupWorkspace redirects tx's data/config directories into a fresh
// temp dir and returns a workspace root containing one tracked file,
// mirroring the teacher's init_test.go pattern of isolating each test
// via t.TempDir()/t.Setenv rather than a shared fixture.
func setupWorkspace(t *testing.T) string {
	t.Helper()
	dataHome := t.TempDir()
	configHome := t.TempDir()
	t.Setenv("TX_DATA_HOME", dataHome)
	t.Setenv("TX_CONFIG_HOME", configHome)

	workspace := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "main.go"), []byte("package main\n"), 0o644))
	return workspace
}

// runTx executes rootCmd with args and returns combined stdout/stderr.
func runTx(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestScanThenWorkspaceStatus(t *testing.T) {
	workspace := setupWorkspace(t)

	out, err := runTx(t, "scan", "--workspace", workspace)
	require.NoError(t, err)
	require.Contains(t, out, "scanned")

	out, err = runTx(t, "workspace", "status", "--workspace", workspace)
	require.NoError(t, err)
	require.Contains(t, out, "Workspace")
}

func TestWorkspaceValidateCleanAfterScan(t *testing.T) {
	workspace := setupWorkspace(t)

	_, err := runTx(t, "scan", "--workspace", workspace)
	require.NoError(t, err)

	out, err := runTx(t, "workspace", "validate", "--workspace", workspace)
	require.NoError(t, err)
	require.Contains(t, out, "consistent")
}

func TestWorkspaceDeleteDryRunThenReal(t *testing.T) {
	workspace := setupWorkspace(t)
	_, err := runTx(t, "scan", "--workspace", workspace)
	require.NoError(t, err)

	out, err := runTx(t, "workspace", "delete", "main.go", "--workspace", workspace, "--dry-run")
	require.NoError(t, err)
	require.Contains(t, out, "nodes affected")

	out, err = runTx(t, "workspace", "status", "--workspace", workspace)
	require.NoError(t, err)
	require.Contains(t, out, "nodes: 2")

	_, err = runTx(t, "workspace", "delete", "main.go", "--workspace", workspace, "--dry-run=false")
	require.NoError(t, err)

	out, err = runTx(t, "workspace", "list-deleted", "--workspace", workspace)
	require.NoError(t, err)
	require.Contains(t, out, "main.go")

	_, err = runTx(t, "workspace", "restore", "main.go", "--workspace", workspace)
	require.NoError(t, err)

	out, err = runTx(t, "workspace", "list-deleted", "--workspace", workspace)
	require.NoError(t, err)
	require.NotContains(t, out, "main.go")
}

func TestWorkspaceCompactIsNoOpOnCleanStore(t *testing.T) {
	workspace := setupWorkspace(t)
	_, err := runTx(t, "scan", "--workspace", workspace)
	require.NoError(t, err)

	out, err := runTx(t, "workspace", "compact", "--workspace", workspace)
	require.NoError(t, err)
	require.Contains(t, out, "removed 0 dangling")
}

func TestWorkspaceIgnoreAddAndList(t *testing.T) {
	workspace := setupWorkspace(t)

	_, err := runTx(t, "workspace", "ignore", "*.log", "--workspace", workspace)
	require.NoError(t, err)

	out, err := runTx(t, "workspace", "ignore", "--workspace", workspace)
	require.NoError(t, err)
	require.Contains(t, out, "*.log")
}

func TestAgentCreateListShowRemove(t *testing.T) {
	workspace := setupWorkspace(t)

	_, err := runTx(t, "agent", "create", "reviewer",
		"--role", "code-reviewer", "--provider", "anthropic-default",
		"--system-prompt", "prompts/system.md",
		"--file-prompt", "prompts/file.md",
		"--directory-prompt", "prompts/dir.md",
		"--workspace", workspace)
	require.NoError(t, err)

	out, err := runTx(t, "agent", "list", "--workspace", workspace)
	require.NoError(t, err)
	require.Contains(t, out, "reviewer")

	out, err = runTx(t, "agent", "show", "reviewer", "--workspace", workspace)
	require.NoError(t, err)
	require.Contains(t, out, "code-reviewer")

	_, err = runTx(t, "agent", "remove", "reviewer", "--workspace", workspace)
	require.NoError(t, err)

	out, err = runTx(t, "agent", "list", "--workspace", workspace)
	require.NoError(t, err)
	require.False(t, strings.Contains(out, "reviewer"))
}

func TestProviderCreateListRemove(t *testing.T) {
	workspace := setupWorkspace(t)

	_, err := runTx(t, "provider", "create", "anthropic-default",
		"--kind", "anthropic", "--model", "claude-3-5-haiku-latest",
		"--api-key-env", "ANTHROPIC_API_KEY",
		"--workspace", workspace)
	require.NoError(t, err)

	out, err := runTx(t, "provider", "list", "--workspace", workspace)
	require.NoError(t, err)
	require.Contains(t, out, "anthropic-default")

	_, err = runTx(t, "provider", "remove", "anthropic-default", "--workspace", workspace)
	require.NoError(t, err)

	out, err = runTx(t, "provider", "list", "--workspace", workspace)
	require.NoError(t, err)
	require.False(t, strings.Contains(out, "anthropic-default"))
}

func TestInitListResolvesDirectories(t *testing.T) {
	workspace := setupWorkspace(t)

	out, err := runTx(t, "init", "--list", "--workspace", workspace)
	require.NoError(t, err)
	require.Contains(t, out, "data home:")
	require.Contains(t, out, "agents dir:")
	require.Contains(t, out, "providers dir:")
}
