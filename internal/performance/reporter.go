package performance

import (
	"log/slog"
)

// LogReport logs the performance report as structured JSON.
func LogReport(r *Report) {
	slog.Info("=== PERFORMANCE REPORT ===",
		"total_runs", r.TotalRuns,
		"completed_runs", r.CompletedRuns,
		"audit_failures", r.AuditFailures,
		"total_pnl", r.TotalPnL,
		"avg_pnl", r.AvgPnL,
		"avg_accuracy", r.AvgAccuracy,
		"avg_win_rate", r.AvgWinRate,
		"avg_optimality", r.AvgOptimality,
		"worst_drawdown", r.WorstDrawdown,
	)

	for name, stats := range r.AgentStats {
		slog.Info("agent performance",
			"agent", name,
			"runs", stats.Runs,
			"avg_pnl", stats.AvgPnL,
			"avg_accuracy", stats.AvgAccuracy,
			"avg_win_rate", stats.AvgWinRate,
			"avg_optimality", stats.AvgOptimality,
			"best_pnl", stats.BestPnL,
			"worst_pnl", stats.WorstPnL,
		)
	}
}
