package replay

import (
	"encoding/json"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"replaybench/internal/audit"
	"replaybench/internal/bench"
	"replaybench/internal/performance"
	"replaybench/internal/scenario"
	"replaybench/internal/telemetry"
)

// Run scores the replay as it stands and returns the result. It may be called
// before the last tick for a partial result. Calling it again without new
// ticks or actions returns the same result.
func (e *Engine) Run() (*bench.Result, error) {
	if !e.initialized {
		return nil, ErrNotInitialized
	}
	if e.cached != nil && e.cachedTick == e.tick && e.cachedActions == len(e.actions) {
		return e.cached, nil
	}

	end := e.opts.Clock()
	metrics := e.computeMetrics()
	metrics.Timing.TotalDurationMs = max(end.Sub(e.startedAt).Milliseconds(), 0)

	metrics.Audit = audit.Validate(audit.Input{
		Actions:        e.actions,
		Metrics:        metrics,
		GroundTruth:    e.snap.GroundTruth,
		LookaheadTicks: e.opts.LookaheadTicks,
	})
	if !metrics.Audit.Passed {
		telemetry.AuditFailures.Inc()
		slog.Error("run metrics failed audit", "run", e.opts.RunID, "errors", metrics.Audit.Errors)
	}
	for _, w := range metrics.Audit.Warnings {
		slog.Warn("run audit warning", "run", e.opts.RunID, "warning", w)
	}

	res := &bench.Result{
		ID:             e.opts.RunID,
		ScenarioID:     e.snap.ID,
		AgentID:        e.opts.AgentID,
		StartTime:      e.startedAt.UnixMilli(),
		EndTime:        end.UnixMilli(),
		TicksProcessed: e.tick,
		TotalTicks:     len(e.snap.Ticks),
		Actions:        append(make([]bench.Action, 0, len(e.actions)), e.actions...),
		Metrics:        metrics,
	}
	if e.opts.RecordTrajectory {
		res.Trajectory = e.trajectory(res)
	}

	e.cached, e.cachedTick, e.cachedActions = res, e.tick, len(e.actions)
	return res, nil
}

// EquityCurve returns the marked perpetual P&L after each advanced tick.
func (e *Engine) EquityCurve() []float64 {
	return append([]float64(nil), e.equity...)
}

func (e *Engine) computeMetrics() bench.Metrics {
	var m bench.Metrics

	predPnL := decimal.Zero
	for _, p := range e.book.predictions {
		m.Predictions.TotalPositions++
		resolvedYes, ok := e.snap.GroundTruth.MarketOutcomes[p.MarketID]
		if !ok {
			continue
		}
		if p.Outcome == scenario.OutcomeFor(resolvedYes) {
			m.Predictions.Correct++
		} else {
			m.Predictions.Incorrect++
		}
		predPnL = predPnL.Add(decimal.NewFromFloat(settlePrediction(p, resolvedYes)))
	}
	m.Predictions.Accuracy = ratio(m.Predictions.Correct, m.Predictions.Correct+m.Predictions.Incorrect)
	m.Predictions.PnL = predPnL.Round(8).InexactFloat64()

	realized, unrealized := decimal.Zero, decimal.Zero
	for _, p := range e.book.perps {
		if p.Closed {
			realized = realized.Add(decimal.NewFromFloat(p.RealizedPnL))
		} else {
			m.Perps.OpenPositions++
			unrealized = unrealized.Add(decimal.NewFromFloat(p.UnrealizedPnL))
		}
	}
	m.Perps.TotalTrades = len(e.book.perps)
	var judged int
	for _, a := range e.actions {
		if a.Type != bench.ActionOpenPerp {
			continue
		}
		if a.Correctness == nil {
			continue
		}
		judged++
		if a.Correctness.Correct {
			m.Perps.WinningTrades++
		} else {
			m.Perps.LosingTrades++
		}
	}
	m.Perps.WinRate = ratio(m.Perps.WinningTrades, judged)
	m.Perps.RealizedPnL = realized.Round(8).InexactFloat64()
	m.Perps.UnrealizedPnL = unrealized.Round(8).InexactFloat64()
	m.Perps.MaxDrawdown = performance.MaxDrawdown(e.equity)

	m.TotalPnL = predPnL.Add(realized).Add(unrealized).Round(8).InexactFloat64()

	m.Social = e.socialMetrics()
	m.Timing = e.timing()
	m.OptimalityScore = e.optimality()
	return m
}

func (e *Engine) socialMetrics() bench.SocialMetrics {
	s := bench.SocialMetrics{GroupsJoined: len(e.social.joined)}
	var socialTicks []int
	for _, a := range e.actions {
		switch a.Type {
		case bench.ActionCreatePost:
			s.PostsCreated++
			socialTicks = append(socialTicks, a.Tick)
		case bench.ActionJoinGroup:
			socialTicks = append(socialTicks, a.Tick)
		}
	}
	for _, op := range e.snap.GroundTruth.SocialOpportunities {
		for _, t := range socialTicks {
			if abs(t-op.Tick) <= e.opts.OptimalityWindow {
				s.OpportunitiesTaken++
				break
			}
		}
	}
	return s
}

func (e *Engine) timing() bench.TimingMetrics {
	if len(e.actions) == 0 {
		return bench.TimingMetrics{}
	}
	lat := make([]int64, len(e.actions))
	var sum int64
	for i, a := range e.actions {
		lat[i] = a.LatencyMs
		sum += a.LatencyMs
	}
	sort.Slice(lat, func(i, j int) bool { return lat[i] < lat[j] })

	n := len(lat)
	median := float64(lat[n/2])
	if n%2 == 0 {
		median = float64(lat[n/2-1]+lat[n/2]) / 2
	}
	return bench.TimingMetrics{
		AvgResponseMs:    float64(sum) / float64(n),
		MedianResponseMs: median,
		MaxResponseMs:    lat[n-1],
	}
}

// optimality is the percentage of optimal actions the agent matched within
// the tick window.
func (e *Engine) optimality() float64 {
	optimal := e.snap.GroundTruth.OptimalActions
	if len(optimal) == 0 {
		return 0
	}
	var matched int
	for _, want := range optimal {
		if e.matches(want) {
			matched++
		}
	}
	return float64(matched) / float64(len(optimal)) * 100
}

func (e *Engine) matches(want scenario.OptimalAction) bool {
	for _, a := range e.actions {
		if string(a.Type) != want.Type || abs(a.Tick-want.Tick) > e.opts.OptimalityWindow {
			continue
		}
		if a.Type != bench.ActionBuyPrediction {
			return true
		}
		var p bench.BuyPredictionParams
		if json.Unmarshal(a.Params, &p) != nil {
			continue
		}
		if p.MarketID == want.Target && (want.Outcome == "" || p.Outcome == string(want.Outcome)) {
			return true
		}
	}
	return false
}

func (e *Engine) trajectory(res *bench.Result) *bench.Trajectory {
	t := &bench.Trajectory{
		ID:            "traj-" + e.opts.RunID,
		AgentID:       e.opts.AgentID,
		ScenarioID:    e.snap.ID,
		StartTime:     res.StartTime,
		EndTime:       res.EndTime,
		Steps:         make([]bench.TrajectoryStep, 0, len(e.actions)),
		FinalPnL:      res.Metrics.TotalPnL,
		EpisodeLength: e.tick,
		PostsCreated:  res.Metrics.Social.PostsCreated,
		FinalStatus:   bench.StatusPartial,
	}
	if res.Complete() {
		t.FinalStatus = bench.StatusCompleted
	}
	for i, a := range e.actions {
		var params map[string]any
		_ = json.Unmarshal(a.Params, &params)
		reward := a.Correctness.Reward()
		t.Steps = append(t.Steps, bench.TrajectoryStep{
			StepNumber:  i + 1,
			Tick:        a.Tick,
			Timestamp:   a.Timestamp,
			Environment: e.envs[i],
			Action: bench.TrajectoryAction{
				ActionType: string(a.Type),
				Parameters: params,
				Success:    true,
			},
			Reward: reward,
		})
		t.TotalReward += reward
		switch a.Type {
		case bench.ActionBuyPrediction, bench.ActionOpenPerp, bench.ActionClosePerp:
			t.TradesExecuted++
		}
	}
	return t
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
