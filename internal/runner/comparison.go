package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"replaybench/internal/agent"
	"replaybench/internal/bench"
	"replaybench/internal/scenario"
)

// AgentFactory builds a fresh agent for run i. Agents carry per-run state, so
// repeated runs never share one.
type AgentFactory func(i int) (agent.Agent, error)

// RunSummary identifies one run inside a comparison.
type RunSummary struct {
	RunID      string  `json:"runId"`
	Agent      string  `json:"agent"`
	Status     string  `json:"status"`
	TotalPnL   float64 `json:"totalPnl"`
	Accuracy   float64 `json:"accuracy"`
	WinRate    float64 `json:"winRate"`
	Optimality float64 `json:"optimalityScore"`
	Actions    int     `json:"actions"`
	Audit      bool    `json:"auditPassed"`
}

// Comparison aggregates repeated runs of one scenario.
type Comparison struct {
	ID            string       `json:"id"`
	ScenarioID    string       `json:"scenarioId"`
	Runs          []RunSummary `json:"runs"`
	AvgPnL        float64      `json:"avgPnl"`
	AvgAccuracy   float64      `json:"avgAccuracy"`
	AvgWinRate    float64      `json:"avgWinRate"`
	AvgOptimality float64      `json:"avgOptimality"`
	BestRunID     string       `json:"bestRunId"`
	WorstRunID    string       `json:"worstRunId"`
	Path          string       `json:"-"`
}

// Deltas are A minus B.
type Deltas struct {
	TotalPnL   float64 `json:"totalPnl"`
	Accuracy   float64 `json:"accuracy"`
	WinRate    float64 `json:"winRate"`
	Optimality float64 `json:"optimalityScore"`
	Actions    int     `json:"actions"`
}

// HeadToHead compares two agents on the same scenario.
type HeadToHead struct {
	ID         string     `json:"id"`
	ScenarioID string     `json:"scenarioId"`
	A          RunSummary `json:"a"`
	B          RunSummary `json:"b"`
	Deltas     Deltas     `json:"deltas"`
	Winner     string     `json:"winner"`

	ResultA *bench.Result `json:"-"`
	ResultB *bench.Result `json:"-"`
	Path    string        `json:"-"`
}

// RunRepeated replays snap n times with fresh agents, at most MaxConcurrent
// at once, and writes an aggregate comparison. Runs whose agent cannot be
// built fail the whole call.
func (c *Coordinator) RunRepeated(ctx context.Context, snap *scenario.Snapshot, factory AgentFactory, n int) (*Comparison, error) {
	if n < 1 {
		return nil, fmt.Errorf("runs must be at least 1, got %d", n)
	}
	results := make([]*bench.Result, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.MaxConcurrent)
	for i := range n {
		g.Go(func() error {
			ag, err := factory(i)
			if err != nil {
				return fmt.Errorf("building agent for run %d: %w", i, err)
			}
			res, err := c.run(gctx, snap, ag)
			if err != nil {
				return fmt.Errorf("run %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	cmp := aggregate(snap.ID, results)
	path, err := c.files.SaveComparison(cmp.ID, cmp)
	if err != nil {
		slog.Error("failed to persist comparison", "comparison", cmp.ID, "error", err)
	}
	cmp.Path = path

	slog.Info("=== REPEATED RUN SUMMARY ===",
		"scenario", snap.ID,
		"runs", n,
		"avg_pnl", cmp.AvgPnL,
		"avg_accuracy", cmp.AvgAccuracy,
		"avg_optimality", cmp.AvgOptimality,
		"best", cmp.BestRunID,
		"worst", cmp.WorstRunID,
	)
	return cmp, nil
}

// Compare runs two agents against the same persisted scenario. The scenario
// must be saved before either run starts; failing to save it is an error.
func (c *Coordinator) Compare(ctx context.Context, snap *scenario.Snapshot, a, b agent.Agent) (*HeadToHead, error) {
	if a == nil || b == nil {
		return nil, errors.New("compare needs two agents")
	}
	if err := c.persistScenario(ctx, snap); err != nil {
		return nil, fmt.Errorf("saving comparison baseline: %w", err)
	}

	var resA, resB *bench.Result
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.MaxConcurrent)
	g.Go(func() error {
		var err error
		resA, err = c.run(gctx, snap, a)
		return err
	})
	g.Go(func() error {
		var err error
		resB, err = c.run(gctx, snap, b)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	h := headToHead(snap.ID, resA, resB)
	path, err := c.files.SaveComparison(h.ID, h)
	if err != nil {
		slog.Error("failed to persist comparison", "comparison", h.ID, "error", err)
	}
	h.Path = path

	slog.Info("=== HEAD TO HEAD ===",
		"scenario", snap.ID,
		"a", h.A.Agent,
		"b", h.B.Agent,
		"pnl_delta", h.Deltas.TotalPnL,
		"accuracy_delta", h.Deltas.Accuracy,
		"optimality_delta", h.Deltas.Optimality,
		"winner", h.Winner,
	)
	return h, nil
}

func summarize(res *bench.Result) RunSummary {
	status := bench.StatusCompleted
	if !res.Complete() {
		status = bench.StatusPartial
	}
	return RunSummary{
		RunID:      res.ID,
		Agent:      res.AgentID,
		Status:     status,
		TotalPnL:   res.Metrics.TotalPnL,
		Accuracy:   res.Metrics.Predictions.Accuracy,
		WinRate:    res.Metrics.Perps.WinRate,
		Optimality: res.Metrics.OptimalityScore,
		Actions:    len(res.Actions),
		Audit:      res.Metrics.Audit.Passed,
	}
}

func aggregate(scenarioID string, results []*bench.Result) *Comparison {
	cmp := &Comparison{
		ID:         "cmp-" + uuid.NewString(),
		ScenarioID: scenarioID,
		Runs:       make([]RunSummary, 0, len(results)),
	}
	var best, worst *RunSummary
	for _, res := range results {
		cmp.Runs = append(cmp.Runs, summarize(res))
	}
	for i := range cmp.Runs {
		s := &cmp.Runs[i]
		cmp.AvgPnL += s.TotalPnL
		cmp.AvgAccuracy += s.Accuracy
		cmp.AvgWinRate += s.WinRate
		cmp.AvgOptimality += s.Optimality
		if best == nil || s.TotalPnL > best.TotalPnL {
			best = s
		}
		if worst == nil || s.TotalPnL < worst.TotalPnL {
			worst = s
		}
	}
	if n := float64(len(cmp.Runs)); n > 0 {
		cmp.AvgPnL /= n
		cmp.AvgAccuracy /= n
		cmp.AvgWinRate /= n
		cmp.AvgOptimality /= n
		cmp.BestRunID = best.RunID
		cmp.WorstRunID = worst.RunID
	}
	return cmp
}

func headToHead(scenarioID string, a, b *bench.Result) *HeadToHead {
	sa, sb := summarize(a), summarize(b)
	h := &HeadToHead{
		ID:         "h2h-" + uuid.NewString(),
		ScenarioID: scenarioID,
		A:          sa,
		B:          sb,
		ResultA:    a,
		ResultB:    b,
		Deltas: Deltas{
			TotalPnL:   sa.TotalPnL - sb.TotalPnL,
			Accuracy:   sa.Accuracy - sb.Accuracy,
			WinRate:    sa.WinRate - sb.WinRate,
			Optimality: sa.Optimality - sb.Optimality,
			Actions:    sa.Actions - sb.Actions,
		},
	}
	switch {
	case h.Deltas.TotalPnL > 0:
		h.Winner = "a"
	case h.Deltas.TotalPnL < 0:
		h.Winner = "b"
	default:
		h.Winner = "tie"
	}
	return h
}
