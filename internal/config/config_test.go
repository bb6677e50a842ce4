package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_WithNoOverridesMatchesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults().Port, cfg.Port)
	assert.Equal(t, Defaults().RateLimitPerMinute, cfg.RateLimitPerMinute)
	assert.Equal(t, Defaults().MasteryStreakRequired, cfg.MasteryStreakRequired)
}

func TestLoad_EnvVarOverridesDefault(t *testing.T) {
	t.Setenv("CAC_PORT", "9090")
	t.Setenv("CAC_RATE_LIMIT_PER_MINUTE", "15")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 15, cfg.RateLimitPerMinute)
}

func TestLoad_MissingYAMLFileReturnsError(t *testing.T) {
	_, err := Load("/nonexistent/path/does-not-exist.yaml")
	assert.Error(t, err)
}

func TestLoad_YAMLFileOverridesDefaultAndIsOverriddenByEnv(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "cac-*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString("port: \"7070\"\nmax_turns: 10\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	t.Setenv("CAC_MAX_TURNS", "99")

	cfg, err := Load(f.Name())
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, 99, cfg.MaxTurns)
}
