// Package runner drives agents through scenario replays: single runs,
// repeated runs and head-to-head comparisons.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"replaybench/internal/agent"
	"replaybench/internal/bench"
	"replaybench/internal/config"
	"replaybench/internal/protocol"
	"replaybench/internal/replay"
	"replaybench/internal/scenario"
	"replaybench/internal/store"
	"replaybench/internal/telemetry"
)

// ErrStepTimeout marks a step that did not return within Options.StepTimeout.
var ErrStepTimeout = errors.New("agent step timed out")

// Options tunes scoring and the tick loop.
type Options struct {
	OptimalityWindow int
	LookaheadTicks   int
	StepTimeout      time.Duration
	MaxConcurrent    int
	RecordTrajectory bool
}

// OptionsFromConfig maps the engine and runner config sections.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		OptimalityWindow: cfg.Engine.OptimalityWindowTicks,
		LookaheadTicks:   cfg.Engine.LookaheadTicks,
		StepTimeout:      cfg.Runner.StepTimeout.Duration,
		MaxConcurrent:    cfg.Runner.MaxConcurrent,
		RecordTrajectory: cfg.Runner.RecordTrajectory,
	}
}

// Coordinator owns scenario resolution, the tick loop and persistence.
type Coordinator struct {
	files     *store.FileStore
	scenarios store.ScenarioStore
	catalog   *store.Catalog
	opts      Options
}

// NewCoordinator builds a coordinator. scenarios may wrap files with a cache;
// when nil, files serves scenarios directly. catalog may be nil.
func NewCoordinator(files *store.FileStore, scenarios store.ScenarioStore, catalog *store.Catalog, opts Options) *Coordinator {
	if scenarios == nil {
		scenarios = files
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = 30 * time.Second
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	return &Coordinator{files: files, scenarios: scenarios, catalog: catalog, opts: opts}
}

// GeneratorConfig maps the scenario config section. A zero seed is replaced
// by a time-derived one, which the generated snapshot records.
func GeneratorConfig(cfg config.ScenarioConfig, questions []string) scenario.GeneratorConfig {
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
		slog.Info("picked scenario seed", "seed", seed)
	}
	return scenario.GeneratorConfig{
		DurationMinutes:      cfg.DurationMinutes,
		TickIntervalSeconds:  cfg.TickIntervalSeconds,
		NumPredictionMarkets: cfg.NumPredictionMarkets,
		NumPerpetualMarkets:  cfg.NumPerpetualMarkets,
		NumAgents:            cfg.NumAgents,
		NumGroups:            cfg.NumGroups,
		Seed:                 seed,
		Epoch:                cfg.EpochTime(),
		Questions:            questions,
	}
}

// Generate builds, validates and persists a new scenario. Warnings are
// logged; hard validation errors and persistence failures are returned.
func (c *Coordinator) Generate(ctx context.Context, gcfg scenario.GeneratorConfig) (*scenario.Snapshot, error) {
	snap, err := scenario.Generate(gcfg)
	if err != nil {
		return nil, fmt.Errorf("generating scenario: %w", err)
	}
	r := scenario.Validate(snap)
	for _, w := range r.Warnings {
		slog.Warn("scenario warning", "scenario", snap.ID, "warning", w)
	}
	if !r.Valid {
		return nil, &scenario.ValidationError{ScenarioID: snap.ID, Errors: r.Errors}
	}
	if err := c.persistScenario(ctx, snap); err != nil {
		return nil, err
	}
	slog.Info("scenario generated", "scenario", snap.ID, "seed", snap.Seed, "ticks", len(snap.Ticks))
	return snap, nil
}

// LoadScenario returns a previously persisted scenario.
func (c *Coordinator) LoadScenario(ctx context.Context, id string) (*scenario.Snapshot, error) {
	snap, err := c.scenarios.LoadScenario(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading scenario: %w", err)
	}
	return snap, nil
}

func (c *Coordinator) persistScenario(ctx context.Context, snap *scenario.Snapshot) error {
	if err := c.scenarios.SaveScenario(ctx, snap); err != nil {
		return fmt.Errorf("persisting scenario: %w", err)
	}
	if c.catalog != nil {
		if err := c.catalog.RecordScenario(ctx, snap, c.files.ScenarioPath(snap.ID)); err != nil {
			return err
		}
	}
	return nil
}

// Run replays snap for one agent to completion or until ctx is done, then
// scores and persists the result. A cancelled run still returns a
// well-formed partial result.
func (c *Coordinator) Run(ctx context.Context, snap *scenario.Snapshot, ag agent.Agent) (*bench.Result, error) {
	return c.run(ctx, snap, ag)
}

func (c *Coordinator) run(ctx context.Context, snap *scenario.Snapshot, ag agent.Agent) (*bench.Result, error) {
	engine := c.newEngine(snap, ag.Name())
	adapter := protocol.NewAdapter(engine, ag.Name())
	client := protocol.NewClient(adapter)

	slog.Info("run starting",
		"run", engine.RunID(),
		"scenario", snap.ID,
		"agent", ag.Name(),
		"ticks", engine.TotalTicks(),
	)

	var (
		failures int
		pending  <-chan error
	)
	for !adapter.State().Complete {
		if ctx.Err() != nil {
			slog.Warn("run cancelled", "run", engine.RunID(), "tick", adapter.State().Tick, "error", ctx.Err())
			break
		}
		tick := adapter.State().Tick
		var err error
		pending, err = c.step(ctx, ag, client, pending)
		if err != nil && ctx.Err() == nil {
			failures++
			reason := "error"
			if errors.Is(err, ErrStepTimeout) {
				reason = "timeout"
			}
			telemetry.StepFailures.WithLabelValues(reason).Inc()
			slog.Warn("agent step failed", "run", engine.RunID(), "tick", tick, "error", err)
		}
		if ctx.Err() != nil {
			continue
		}
		// a step that made no call still costs a tick
		if adapter.State().Tick == tick {
			if err := adapter.Idle(); err != nil {
				return nil, fmt.Errorf("advancing idle tick: %w", err)
			}
		}
	}

	c.await(engine.RunID(), pending)
	adapter.Close()

	res, err := c.finalize(ctx, snap, engine)
	if err != nil {
		return nil, err
	}
	if failures > 0 {
		slog.Warn("run had failed steps", "run", res.ID, "failed_steps", failures)
	}
	return res, nil
}

// finalize scores the engine, counts the run and persists its artifacts.
func (c *Coordinator) finalize(ctx context.Context, snap *scenario.Snapshot, engine *replay.Engine) (*bench.Result, error) {
	res, err := engine.Run()
	if err != nil {
		return nil, fmt.Errorf("scoring run: %w", err)
	}
	status := bench.StatusCompleted
	if !res.Complete() {
		status = bench.StatusPartial
	}
	telemetry.RunsCompleted.WithLabelValues(status).Inc()
	if len(res.Actions) == 0 {
		slog.Warn("run recorded no actions", "run", res.ID, "agent", res.AgentID)
	}

	c.persistRun(context.WithoutCancel(ctx), snap, res, status, engine.EquityCurve())

	slog.Info("run finished",
		"run", res.ID,
		"status", status,
		"ticks", res.TicksProcessed,
		"actions", len(res.Actions),
		"total_pnl", res.Metrics.TotalPnL,
		"accuracy", res.Metrics.Predictions.Accuracy,
		"optimality", res.Metrics.OptimalityScore,
		"audit_passed", res.Metrics.Audit.Passed,
	)
	return res, nil
}

func (c *Coordinator) newEngine(snap *scenario.Snapshot, agentID string) *replay.Engine {
	engine := replay.New(snap, replay.Options{
		AgentID:          agentID,
		OptimalityWindow: c.opts.OptimalityWindow,
		LookaheadTicks:   c.opts.LookaheadTicks,
		RecordTrajectory: c.opts.RecordTrajectory,
	})
	engine.Initialize()
	return engine
}

// step gives the agent up to StepTimeout to finish a decision. When pending
// holds a step that outlived an earlier timeout, step waits on it instead of
// starting another, so one agent never runs two steps at once. The returned
// channel is non-nil while a step is still running.
func (c *Coordinator) step(ctx context.Context, ag agent.Agent, client *protocol.Client, pending <-chan error) (<-chan error, error) {
	late := pending != nil
	if !late {
		pending = launch(ctx, ag, client, c.opts.StepTimeout)
	}

	timer := time.NewTimer(c.opts.StepTimeout)
	defer timer.Stop()
	select {
	case err := <-pending:
		if late {
			// already counted as a timeout
			slog.Debug("late agent step returned", "agent", ag.Name(), "error", err)
			return nil, nil
		}
		return nil, err
	case <-timer.C:
		if late {
			return pending, fmt.Errorf("%w: previous step still running", ErrStepTimeout)
		}
		return pending, fmt.Errorf("%w after %s", ErrStepTimeout, c.opts.StepTimeout)
	case <-ctx.Done():
		return pending, ctx.Err()
	}
}

// launch starts ag.Step in its own goroutine. The step's context is cancelled
// after timeout, so protocol calls it makes later are rejected.
func launch(ctx context.Context, ag agent.Agent, client *protocol.Client, timeout time.Duration) <-chan error {
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	done := make(chan error, 1)
	go func() {
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("agent panicked: %v", r)
			}
		}()
		done <- ag.Step(stepCtx, client)
	}()
	return done
}

// await gives a step still running at the end of a run one more StepTimeout
// to return. A step that is still running after that is abandoned; its calls
// are rejected once the adapter closes.
func (c *Coordinator) await(runID string, pending <-chan error) {
	if pending == nil {
		return
	}
	timer := time.NewTimer(c.opts.StepTimeout)
	defer timer.Stop()
	select {
	case <-pending:
	case <-timer.C:
		slog.Warn("abandoning agent step still running at end of run", "run", runID)
	}
}

// persistRun writes artifacts and the catalog row. Failures are logged; the
// result itself is still returned to the caller.
func (c *Coordinator) persistRun(ctx context.Context, snap *scenario.Snapshot, res *bench.Result, status string, equity []float64) {
	dir, err := c.files.SaveRun(res)
	if err != nil {
		slog.Error("failed to persist run artifacts", "run", res.ID, "error", err)
		return
	}
	if c.catalog == nil {
		return
	}
	if err := c.catalog.RecordScenario(ctx, snap, c.files.ScenarioPath(snap.ID)); err != nil {
		slog.Error("failed to catalog scenario", "scenario", snap.ID, "error", err)
		return
	}
	if err := c.catalog.RecordRun(ctx, res, status, dir, equity); err != nil {
		slog.Error("failed to catalog run", "run", res.ID, "error", err)
	}
}
