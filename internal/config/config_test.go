package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_OverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[scenario]
duration_minutes = 10
tick_interval_seconds = 60
prediction_markets = 3
seed = 42
epoch = "2025-01-01T00:00:00Z"

[engine]
lookahead_ticks = 5

[runner]
agent = "momentum"
step_timeout = "5s"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Scenario.DurationMinutes)
	assert.Equal(t, 3, cfg.Scenario.NumPredictionMarkets)
	assert.Equal(t, uint64(42), cfg.Scenario.Seed)
	assert.Equal(t, 5, cfg.Engine.LookaheadTicks)
	assert.Equal(t, 2, cfg.Engine.OptimalityWindowTicks, "untouched keys keep defaults")
	assert.Equal(t, "momentum", cfg.Runner.Agent)
	assert.Equal(t, 5*time.Second, cfg.Runner.StepTimeout.Duration)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), cfg.Scenario.EpochTime())
}

func TestLoad_RejectsZeroTickInterval(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[scenario]\ntick_interval_seconds = 0\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_BadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[runner]\nstep_timeout = \"soon\"\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_AgentSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[agents.threshold]
buy_yes_below = 0.3

[agents.momentum]
fast_period = 4
slow_period = 12
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.3, cfg.Agents.Threshold.BuyYesBelow)
	assert.Equal(t, 0.6, cfg.Agents.Threshold.BuyNoAbove)
	assert.Equal(t, 12, cfg.Agents.Momentum.SlowPeriod)
}

func TestValidate_MomentumPeriods(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Agents.Momentum.FastPeriod = 8
	cfg.Agents.Momentum.SlowPeriod = 8
	assert.Error(t, cfg.Validate())

	assert.NoError(t, DefaultConfig().Validate())
}

func TestValidate_KellyFraction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Agents.Threshold.KellyFraction = 1.5
	assert.ErrorContains(t, cfg.Validate(), "kelly_fraction")

	cfg.Agents.Threshold.KellyFraction = 0.25
	assert.NoError(t, cfg.Validate())
}

func TestLoad_ExampleFileMatchesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config.example.toml"))
	require.NoError(t, err)

	want := DefaultConfig()
	want.Runner.AgentSeed = 1
	assert.Equal(t, want, cfg)
}
