package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(envPort, "")
	t.Setenv(envPortFallback, "")
	t.Setenv(envWorkDir, "")
	t.Setenv(envWithoutTLS, "")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, defaultPort, cfg.Port)
	require.Contains(t, cfg.WorkDirRoot, tempRootLeaf)
	require.False(t, cfg.Insecure)
}

func TestLoadHonorsFallbackPortVar(t *testing.T) {
	t.Setenv(envPort, "")
	t.Setenv(envPortFallback, "9091")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 9091, cfg.Port)
}

func TestLoadPrefersPrimaryOverFallbackPortVar(t *testing.T) {
	t.Setenv(envPort, "9090")
	t.Setenv(envPortFallback, "9091")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Port)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv(envPort, "9090")
	t.Setenv(envWorkDir, "/tmp/custom-dir")
	t.Setenv(envWithoutTLS, "true")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Port)
	require.Equal(t, "/tmp/custom-dir", cfg.WorkDirRoot)
	require.True(t, cfg.Insecure)
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	t.Setenv(envPort, "not-a-number")
	_, err := Load()
	require.Error(t, err)
}
