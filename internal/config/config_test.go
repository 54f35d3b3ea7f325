package config_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/untoldecay/treectx/internal/config"
)

func TestLoadAppliesDefaults(t *testing.T) {
	root := t.TempDir()
	cfg, err := config.Load(root)
	require.NoError(t, err)

	require.Equal(t, root, cfg.WorkspaceRoot)
	require.NotEmpty(t, cfg.DataHome)
	require.Equal(t, 1024, cfg.QueueCapacity)
	require.Equal(t, 3, cfg.QueueMaxRetries)
	require.Equal(t, 4, cfg.ExecutorWorkers)
	require.Equal(t, 100, cfg.WatchDebounceMS)
}

func TestLoadIsDeterministicForSameRoot(t *testing.T) {
	root := t.TempDir()
	a, err := config.Load(root)
	require.NoError(t, err)
	b, err := config.Load(root)
	require.NoError(t, err)
	require.Equal(t, a.DataHome, b.DataHome)
}

func TestLoadKeepsDistinctWorkspacesSeparate(t *testing.T) {
	rootA := filepath.Join(t.TempDir(), "proj-a")
	rootB := filepath.Join(t.TempDir(), "proj-b")

	a, err := config.Load(rootA)
	require.NoError(t, err)
	b, err := config.Load(rootB)
	require.NoError(t, err)

	require.NotEqual(t, a.DataHome, b.DataHome)
}
