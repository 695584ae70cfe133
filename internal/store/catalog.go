package store

import (
	"context"
	"database/sql"
	"fmt"

	"replaybench/internal/bench"
	"replaybench/internal/scenario"
)

// Catalog indexes scenarios and runs in SQLite so they can be listed and
// aggregated without reading every artifact.
type Catalog struct {
	db *sql.DB
}

func NewCatalog(db *sql.DB) *Catalog {
	return &Catalog{db: db}
}

// RunRecord is one row of the runs table.
type RunRecord struct {
	ID             string
	ScenarioID     string
	Agent          string
	Status         string
	TicksProcessed int
	TotalTicks     int
	ActionCount    int
	TotalPnL       float64
	Accuracy       float64
	WinRate        float64
	Optimality     float64
	MaxDrawdown    float64
	AuditPassed    bool
	StartedAt      int64
	EndedAt        int64
	Path           string
}

// RecordScenario registers a snapshot. Recording the same id twice is a no-op.
func (c *Catalog) RecordScenario(ctx context.Context, s *scenario.Snapshot, path string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO scenarios (id, version, seed, num_ticks, tick_interval, num_markets, num_perps, path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Version, int64(s.Seed), len(s.Ticks), s.TickInterval,
		len(s.InitialState.PredictionMarkets), len(s.InitialState.PerpetualMarkets),
		path, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("recording scenario %s: %w", s.ID, err)
	}
	return nil
}

// RecordRun stores a run summary and its equity curve in one transaction.
func (c *Catalog) RecordRun(ctx context.Context, res *bench.Result, status, path string, equity []float64) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning run insert: %w", err)
	}
	defer tx.Rollback()

	m := res.Metrics
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, scenario_id, agent, status, ticks_processed, total_ticks, action_count,
		                  total_pnl, accuracy, win_rate, optimality, max_drawdown, audit_passed,
		                  started_at, ended_at, path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID, res.ScenarioID, res.AgentID, status, res.TicksProcessed, res.TotalTicks, len(res.Actions),
		m.TotalPnL, m.Predictions.Accuracy, m.Perps.WinRate, m.OptimalityScore, m.Perps.MaxDrawdown,
		boolToInt(m.Audit.Passed), res.StartTime, res.EndTime, path)
	if err != nil {
		return fmt.Errorf("recording run %s: %w", res.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO run_equity (run_id, tick, value) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing equity insert: %w", err)
	}
	defer stmt.Close()
	for i, v := range equity {
		if _, err := stmt.ExecContext(ctx, res.ID, i+1, v); err != nil {
			return fmt.Errorf("recording equity for run %s: %w", res.ID, err)
		}
	}

	return tx.Commit()
}

// ListRuns returns runs newest first, optionally filtered by agent.
func (c *Catalog) ListRuns(ctx context.Context, agent string) ([]RunRecord, error) {
	query := `
		SELECT id, scenario_id, agent, status, ticks_processed, total_ticks, action_count,
		       total_pnl, accuracy, win_rate, optimality, max_drawdown, audit_passed,
		       started_at, ended_at, path
		FROM runs`
	var args []any
	if agent != "" {
		query += ` WHERE agent = ?`
		args = append(args, agent)
	}
	query += ` ORDER BY started_at DESC, id`

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var passed int
		if err := rows.Scan(&r.ID, &r.ScenarioID, &r.Agent, &r.Status, &r.TicksProcessed, &r.TotalTicks,
			&r.ActionCount, &r.TotalPnL, &r.Accuracy, &r.WinRate, &r.Optimality, &r.MaxDrawdown,
			&passed, &r.StartedAt, &r.EndedAt, &r.Path); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.AuditPassed = passed == 1
		out = append(out, r)
	}
	return out, rows.Err()
}

// ScenarioPath returns where a recorded scenario was written.
func (c *Catalog) ScenarioPath(ctx context.Context, id string) (string, error) {
	var path string
	err := c.db.QueryRowContext(ctx, `SELECT path FROM scenarios WHERE id = ?`, id).Scan(&path)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("scenario %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("looking up scenario %s: %w", id, err)
	}
	return path, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
