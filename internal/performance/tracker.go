package performance

import (
	"database/sql"
	"fmt"
	"math"
)

// Tracker computes per-agent performance across every run in the catalog.
type Tracker struct {
	db *sql.DB
}

func NewTracker(db *sql.DB) *Tracker {
	return &Tracker{db: db}
}

// Report contains cross-run performance metrics.
type Report struct {
	TotalRuns     int
	CompletedRuns int
	AuditFailures int
	TotalPnL      float64
	AvgPnL        float64
	AvgAccuracy   float64
	AvgWinRate    float64
	AvgOptimality float64
	WorstDrawdown float64
	AgentStats    map[string]AgentStats
}

// AgentStats contains per-agent performance.
type AgentStats struct {
	Runs          int
	AvgPnL        float64
	AvgAccuracy   float64
	AvgWinRate    float64
	AvgOptimality float64
	BestPnL       float64
	WorstPnL      float64
}

// Generate computes the full performance report.
func (t *Tracker) Generate() (*Report, error) {
	r := &Report{
		AgentStats: make(map[string]AgentStats),
	}

	if err := t.computeOverall(r); err != nil {
		return nil, fmt.Errorf("computing overall stats: %w", err)
	}
	if err := t.computeAgentStats(r); err != nil {
		return nil, fmt.Errorf("computing agent stats: %w", err)
	}
	if err := t.computeDrawdown(r); err != nil {
		return nil, fmt.Errorf("computing drawdown: %w", err)
	}

	return r, nil
}

func (t *Tracker) computeOverall(r *Report) error {
	row := t.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(total_pnl), 0), COALESCE(AVG(total_pnl), 0),
		       COALESCE(AVG(accuracy), 0), COALESCE(AVG(win_rate), 0), COALESCE(AVG(optimality), 0),
		       COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN audit_passed = 0 THEN 1 ELSE 0 END), 0)
		FROM runs`)
	return row.Scan(&r.TotalRuns, &r.TotalPnL, &r.AvgPnL,
		&r.AvgAccuracy, &r.AvgWinRate, &r.AvgOptimality,
		&r.CompletedRuns, &r.AuditFailures)
}

func (t *Tracker) computeAgentStats(r *Report) error {
	rows, err := t.db.Query(`
		SELECT agent, COUNT(*), AVG(total_pnl), AVG(accuracy), AVG(win_rate), AVG(optimality),
		       MAX(total_pnl), MIN(total_pnl)
		FROM runs GROUP BY agent`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var stats AgentStats
		if err := rows.Scan(&name, &stats.Runs, &stats.AvgPnL, &stats.AvgAccuracy,
			&stats.AvgWinRate, &stats.AvgOptimality, &stats.BestPnL, &stats.WorstPnL); err != nil {
			return err
		}
		r.AgentStats[name] = stats
	}
	return rows.Err()
}

// computeDrawdown replays each run's recorded equity curve and keeps the
// deepest peak-to-trough fall.
func (t *Tracker) computeDrawdown(r *Report) error {
	rows, err := t.db.Query(`SELECT run_id, value FROM run_equity ORDER BY run_id, tick ASC`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var current string
	var curve []float64
	flush := func() {
		r.WorstDrawdown = math.Max(r.WorstDrawdown, MaxDrawdown(curve))
		curve = curve[:0]
	}
	for rows.Next() {
		var runID string
		var value float64
		if err := rows.Scan(&runID, &value); err != nil {
			return err
		}
		if runID != current {
			flush()
			current = runID
		}
		curve = append(curve, value)
	}
	flush()
	return rows.Err()
}

// MaxDrawdown is the largest absolute fall from a running peak of a P&L
// curve. The peak starts at zero, so a curve that only loses still counts.
func MaxDrawdown(curve []float64) float64 {
	var peak, maxDD float64
	for _, value := range curve {
		if value > peak {
			peak = value
		}
		maxDD = math.Max(maxDD, peak-value)
	}
	return maxDD
}
