// Package audit re-derives a run's headline numbers from the raw action log
// and ground truth, independently of the engine that reported them.
package audit

import (
	"encoding/json"
	"fmt"
	"math"

	"replaybench/internal/bench"
	"replaybench/internal/scenario"
)

// Tolerance is the largest accepted gap between a reported and a recomputed ratio.
const Tolerance = 0.01

// Input is everything the auditor reads. It holds no references back into an engine.
type Input struct {
	Actions        []bench.Action
	Metrics        bench.Metrics
	GroundTruth    scenario.GroundTruth
	LookaheadTicks int
}

// Validate audits reported metrics. Mismatches are errors; data gaps such as
// actions on markets without ground truth are warnings.
func Validate(in Input) bench.AuditSummary {
	a := &auditor{in: in}
	a.checkPredictions()
	a.checkPerps()
	a.checkSocial()
	a.checkRanges()
	return bench.AuditSummary{
		Passed:   len(a.errors) == 0,
		Errors:   nonNil(a.errors),
		Warnings: nonNil(a.warnings),
	}
}

type auditor struct {
	in       Input
	errors   []string
	warnings []string
}

func (a *auditor) errorf(format string, args ...any) {
	a.errors = append(a.errors, fmt.Sprintf(format, args...))
}

func (a *auditor) warnf(format string, args ...any) {
	a.warnings = append(a.warnings, fmt.Sprintf(format, args...))
}

func (a *auditor) checkPredictions() {
	var total, judged, correct int
	for _, act := range a.in.Actions {
		if act.Type != bench.ActionBuyPrediction {
			continue
		}
		total++
		var p bench.BuyPredictionParams
		if err := json.Unmarshal(act.Params, &p); err != nil {
			a.errorf("action %s: unreadable params: %v", act.ID, err)
			continue
		}
		resolvedYes, ok := a.in.GroundTruth.MarketOutcomes[p.MarketID]
		if !ok {
			a.warnf("action %s references market %s without ground truth", act.ID, p.MarketID)
			continue
		}
		judged++
		if p.Outcome == string(scenario.OutcomeFor(resolvedYes)) {
			correct++
		}
	}

	m := a.in.Metrics.Predictions
	if total != m.TotalPositions {
		a.errorf("prediction actions %d != reported positions %d", total, m.TotalPositions)
	}
	if correct != m.Correct {
		a.errorf("recomputed correct predictions %d != reported %d", correct, m.Correct)
	}
	if want := ratio(correct, judged); math.Abs(want-m.Accuracy) > Tolerance {
		a.errorf("prediction accuracy %.4f != recomputed %.4f", m.Accuracy, want)
	}
}

func (a *auditor) checkPerps() {
	var total, judged, wins int
	for _, act := range a.in.Actions {
		if act.Type != bench.ActionOpenPerp {
			continue
		}
		total++
		var p bench.OpenPerpParams
		if err := json.Unmarshal(act.Params, &p); err != nil {
			a.errorf("action %s: unreadable params: %v", act.ID, err)
			continue
		}
		path, ok := a.in.GroundTruth.PriceHistory[p.Ticker]
		if !ok || len(path) == 0 {
			a.warnf("action %s references ticker %s without ground truth", act.ID, p.Ticker)
			continue
		}
		judged++
		if DirectionCorrect(path, act.Tick, a.in.LookaheadTicks, p.Side) {
			wins++
		}
	}

	m := a.in.Metrics.Perps
	if total != m.TotalTrades {
		a.errorf("perp actions %d != reported trades %d", total, m.TotalTrades)
	}
	if want := ratio(wins, judged); math.Abs(want-m.WinRate) > Tolerance {
		a.errorf("perp win rate %.4f != recomputed %.4f", m.WinRate, want)
	}
	if m.MaxDrawdown < 0 {
		a.errorf("negative max drawdown %.4f", m.MaxDrawdown)
	}
}

func (a *auditor) checkSocial() {
	var posts int
	for _, act := range a.in.Actions {
		if act.Type == bench.ActionCreatePost {
			posts++
		}
	}
	if posts != a.in.Metrics.Social.PostsCreated {
		a.errorf("post actions %d != reported posts %d", posts, a.in.Metrics.Social.PostsCreated)
	}
}

func (a *auditor) checkRanges() {
	m := a.in.Metrics
	if m.OptimalityScore < 0 || m.OptimalityScore > 100 {
		a.errorf("optimality score %.2f outside [0,100]", m.OptimalityScore)
	}
	if m.Predictions.Accuracy < 0 || m.Predictions.Accuracy > 1 {
		a.errorf("prediction accuracy %.4f outside [0,1]", m.Predictions.Accuracy)
	}
	t := m.Timing
	if t.AvgResponseMs < 0 || t.MedianResponseMs < 0 || t.MaxResponseMs < 0 || t.TotalDurationMs < 0 {
		a.errorf("negative timing stats: %+v", t)
	}
	if float64(t.MaxResponseMs) < t.AvgResponseMs-Tolerance {
		a.warnf("max response time %dms below average %.2fms", t.MaxResponseMs, t.AvgResponseMs)
	}
	if len(a.in.Actions) == 0 {
		a.warnf("run recorded no actions")
	}
}

// DirectionCorrect judges a leveraged side against the realised price move
// from tick over the next lookahead ticks, clamped to the end of the path.
// A flat move is never correct.
func DirectionCorrect(path []scenario.PricePoint, tick, lookahead int, side string) bool {
	from := min(max(tick, 0), len(path)-1)
	to := min(from+lookahead, len(path)-1)
	move := path[to].Price - path[from].Price
	switch side {
	case "LONG":
		return move > 0
	case "SHORT":
		return move < 0
	default:
		return false
	}
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
