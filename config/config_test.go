package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Zero(t, cfg.Serving.Guided.DirichletEpsilon)
	require.Equal(t, float32(1.41), cfg.Serving.Rollout.C)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sidestacker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
guided:
  num_searches: 200
  dirichlet_epsilon: 0.5
selfplay:
  workers: 4
  out_dir: /tmp/samples
server:
  move_timeout: 5s
log:
  level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 200, cfg.Guided.NumSearches)
	require.Equal(t, 0.5, cfg.Guided.DirichletEpsilon)
	require.Equal(t, float32(2), cfg.Guided.C)
	require.Equal(t, 4, cfg.SelfPlay.Workers)
	require.Equal(t, "/tmp/samples", cfg.SelfPlay.OutDir)
	require.Equal(t, 5*time.Second, cfg.Server.MoveTimeout)
	require.Equal(t, "debug", cfg.Log.Level)

	mc := cfg.Guided.MCTS()
	require.Equal(t, 200, mc.NumSearches)
	require.Equal(t, 0.3, mc.DirichletAlpha)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("guided:\n  dirichlet_epsilon: 2\n"), 0o644))
	_, err := Load(path)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: loud\n"), 0o644))
	_, err = Load(path)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("rollout: [1, 2\n"), 0o644))
	_, err = Load(path)
	require.Error(t, err)
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sidestacker.yaml")
	require.NoError(t, WriteDefault(path))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)

	require.Error(t, WriteDefault(path))
}
