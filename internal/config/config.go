package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full TOML configuration.
type Config struct {
	General   GeneralConfig   `toml:"general"`
	Scenario  ScenarioConfig  `toml:"scenario"`
	Engine    EngineConfig    `toml:"engine"`
	Runner    RunnerConfig    `toml:"runner"`
	Server    ServerConfig    `toml:"server"`
	Store     StoreConfig     `toml:"store"`
	Questions QuestionsConfig `toml:"questions"`
	Agents    AgentsConfig    `toml:"agents"`
}

type GeneralConfig struct {
	DataDir  string `toml:"data_dir"`
	DBPath   string `toml:"db_path"`
	LogLevel string `toml:"log_level"`
}

// ScenarioConfig controls scenario generation.
type ScenarioConfig struct {
	DurationMinutes      int    `toml:"duration_minutes"`
	TickIntervalSeconds  int    `toml:"tick_interval_seconds"`
	NumPredictionMarkets int    `toml:"prediction_markets"`
	NumPerpetualMarkets  int    `toml:"perpetual_markets"`
	NumAgents            int    `toml:"agents"`
	NumGroups            int    `toml:"groups"`
	Seed                 uint64 `toml:"seed"` // 0 picks a fresh seed and records it in the snapshot
	Epoch                string `toml:"epoch"`
	UseQuestionBank      bool   `toml:"use_question_bank"`
}

// EngineConfig holds the scoring windows. Both are tunable; neither has a
// calibrated derivation.
type EngineConfig struct {
	OptimalityWindowTicks int `toml:"optimality_window_ticks"`
	LookaheadTicks        int `toml:"lookahead_ticks"`
}

// RunnerConfig controls how agents are driven.
type RunnerConfig struct {
	Agent            string   `toml:"agent"`
	AgentSeed        uint64   `toml:"agent_seed"`
	StepTimeout      Duration `toml:"step_timeout"`
	Runs             int      `toml:"runs"`
	MaxConcurrent    int      `toml:"max_concurrent"`
	RecordTrajectory bool     `toml:"record_trajectory"`
}

// ServerConfig holds the JSON-RPC listener settings.
type ServerConfig struct {
	Addr         string   `toml:"addr"`
	ReadTimeout  Duration `toml:"read_timeout"`
	WriteTimeout Duration `toml:"write_timeout"`
}

// StoreConfig enables the optional Redis scenario cache.
type StoreConfig struct {
	RedisURL string   `toml:"redis_url"`
	RedisTTL Duration `toml:"redis_ttl"`
}

type QuestionsConfig struct {
	ImportLimit int `toml:"import_limit"`
}

// AgentsConfig tunes the built-in baseline agents.
type AgentsConfig struct {
	Threshold ThresholdConfig `toml:"threshold"`
	Random    RandomConfig    `toml:"random"`
	Momentum  MomentumConfig  `toml:"momentum"`
}

// ThresholdConfig tunes the threshold agent. A zero kelly_fraction bets the
// flat bet_amount; otherwise stakes are sized from the price edge.
type ThresholdConfig struct {
	BuyYesBelow    float64 `toml:"buy_yes_below"`
	BuyNoAbove     float64 `toml:"buy_no_above"`
	BetAmount      float64 `toml:"bet_amount"`
	KellyFraction  float64 `toml:"kelly_fraction"`
	MaxPositionPct float64 `toml:"max_position_pct"`
	MinBetAmount   float64 `toml:"min_bet_amount"`
}

type RandomConfig struct {
	ActProbability float64 `toml:"act_probability"`
	BetAmount      float64 `toml:"bet_amount"`
	MaxLeverage    float64 `toml:"max_leverage"`
}

type MomentumConfig struct {
	FastPeriod int     `toml:"fast_period"`
	SlowPeriod int     `toml:"slow_period"`
	Size       float64 `toml:"size"`
	Leverage   float64 `toml:"leverage"`
}

// Duration wraps time.Duration for TOML unmarshaling.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// Load reads the TOML file at path over the defaults. A missing file is not an
// error; the defaults are returned as-is.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the harness cannot run with.
func (c *Config) Validate() error {
	if c.Scenario.TickIntervalSeconds <= 0 {
		return fmt.Errorf("scenario.tick_interval_seconds must be positive, got %d", c.Scenario.TickIntervalSeconds)
	}
	if c.Scenario.DurationMinutes < 0 {
		return fmt.Errorf("scenario.duration_minutes must not be negative, got %d", c.Scenario.DurationMinutes)
	}
	if c.Engine.OptimalityWindowTicks < 0 || c.Engine.LookaheadTicks < 1 {
		return fmt.Errorf("engine windows out of range: optimality=%d lookahead=%d",
			c.Engine.OptimalityWindowTicks, c.Engine.LookaheadTicks)
	}
	if c.Runner.Runs < 1 {
		return fmt.Errorf("runner.runs must be at least 1, got %d", c.Runner.Runs)
	}
	if m := c.Agents.Momentum; m.FastPeriod < 2 || m.SlowPeriod <= m.FastPeriod {
		return fmt.Errorf("agents.momentum periods must satisfy 2 <= fast < slow, got fast=%d slow=%d",
			m.FastPeriod, m.SlowPeriod)
	}
	if th := c.Agents.Threshold; th.KellyFraction < 0 || th.KellyFraction > 1 {
		return fmt.Errorf("agents.threshold.kelly_fraction must be in [0,1], got %v", th.KellyFraction)
	}
	if c.Scenario.Epoch != "" {
		if _, err := time.Parse(time.RFC3339, c.Scenario.Epoch); err != nil {
			return fmt.Errorf("scenario.epoch: %w", err)
		}
	}
	return nil
}

// EpochTime returns the configured scenario epoch, or the zero time when unset.
func (c ScenarioConfig) EpochTime() time.Time {
	if c.Epoch == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, c.Epoch)
	if err != nil {
		return time.Time{}
	}
	return t
}

// DefaultConfig returns the configuration used when a file omits a value.
func DefaultConfig() *Config {
	return &Config{
		General: GeneralConfig{
			DataDir:  "./data",
			DBPath:   "./data/replaybench.db",
			LogLevel: "info",
		},
		Scenario: ScenarioConfig{
			DurationMinutes:      60,
			TickIntervalSeconds:  60,
			NumPredictionMarkets: 5,
			NumPerpetualMarkets:  3,
			NumAgents:            8,
			NumGroups:            3,
		},
		Engine: EngineConfig{
			OptimalityWindowTicks: 2,
			LookaheadTicks:        10,
		},
		Runner: RunnerConfig{
			Agent:            "threshold",
			StepTimeout:      Duration{30 * time.Second},
			Runs:             1,
			MaxConcurrent:    2,
			RecordTrajectory: true,
		},
		Server: ServerConfig{
			Addr:         ":8088",
			ReadTimeout:  Duration{10 * time.Second},
			WriteTimeout: Duration{10 * time.Second},
		},
		Store: StoreConfig{
			RedisTTL: Duration{24 * time.Hour},
		},
		Questions: QuestionsConfig{
			ImportLimit: 200,
		},
		Agents: AgentsConfig{
			Threshold: ThresholdConfig{
				BuyYesBelow:    0.4,
				BuyNoAbove:     0.6,
				BetAmount:      100,
				MaxPositionPct: 0.05,
				MinBetAmount:   1,
			},
			Random: RandomConfig{
				ActProbability: 0.5,
				BetAmount:      10,
				MaxLeverage:    5,
			},
			Momentum: MomentumConfig{
				FastPeriod: 3,
				SlowPeriod: 8,
				Size:       1,
				Leverage:   2,
			},
		},
	}
}
