package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
)

func TestMigrate_CreatesAllTables(t *testing.T) {
	database, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer database.Close()

	if err := Migrate(database); err != nil {
		t.Fatal(err)
	}

	tables := []string{
		"schema_version",
		"scenarios",
		"runs",
		"run_equity",
		"questions",
	}

	for _, table := range tables {
		row := database.QueryRow(
			`SELECT count(*) FROM sqlite_master WHERE type='table' AND name=?`, table)
		var count int
		if err := row.Scan(&count); err != nil {
			t.Fatalf("checking table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s not found", table)
		}
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	database, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer database.Close()

	// Run twice, should not error.
	if err := Migrate(database); err != nil {
		t.Fatal(err)
	}
	if err := Migrate(database); err != nil {
		t.Fatal(err)
	}
}

func TestMigrate_InsertAndQuery(t *testing.T) {
	database, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer database.Close()

	if err := Migrate(database); err != nil {
		t.Fatal(err)
	}

	// Insert a scenario.
	_, err = database.Exec(`
		INSERT INTO scenarios (id, version, seed, num_ticks, tick_interval, num_markets, num_perps, path, created_at)
		VALUES ('s1', '1.0.0', 42, 10, 60, 3, 2, 'scenarios/s1.json', 1735689600000)`)
	if err != nil {
		t.Fatal(err)
	}

	// Insert a run against it.
	_, err = database.Exec(`
		INSERT INTO runs (id, scenario_id, agent, status, ticks_processed, total_ticks, action_count,
		                  total_pnl, accuracy, win_rate, optimality, max_drawdown, audit_passed,
		                  started_at, ended_at, path)
		VALUES ('r1', 's1', 'threshold', 'completed', 10, 10, 4, 12.5, 0.75, 0.5, 66.7, 3.2, 1, 0, 1000, 'runs/r1')`)
	if err != nil {
		t.Fatal(err)
	}

	// Insert an equity point.
	_, err = database.Exec(`INSERT INTO run_equity (run_id, tick, value) VALUES ('r1', 1, 2.5)`)
	if err != nil {
		t.Fatal(err)
	}

	// Verify.
	var count int
	row := database.QueryRow(`SELECT COUNT(*) FROM runs`)
	if err := row.Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected 1 run, got %d", count)
	}
}

func TestMigrate_RunRequiresScenario(t *testing.T) {
	database, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer database.Close()

	if err := Migrate(database); err != nil {
		t.Fatal(err)
	}

	_, err = database.Exec(`
		INSERT INTO runs (id, scenario_id, agent, status, ticks_processed, total_ticks, action_count,
		                  total_pnl, accuracy, win_rate, optimality, max_drawdown, audit_passed,
		                  started_at, ended_at, path)
		VALUES ('r1', 'missing', 'idle', 'completed', 0, 0, 0, 0, 0, 0, 0, 0, 1, 0, 0, '')`)
	if err == nil {
		t.Error("expected foreign key violation for unknown scenario")
	}
}

func TestOpen_PragmasApplyToEveryConnection(t *testing.T) {
	database, err := OpenCatalog(filepath.Join(t.TempDir(), "nested", "catalog.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer database.Close()

	ctx := context.Background()
	first, err := database.Conn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()
	second, err := database.Conn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()

	for i, conn := range []*sql.Conn{first, second} {
		var fk, busy int
		if err := conn.QueryRowContext(ctx, `PRAGMA foreign_keys`).Scan(&fk); err != nil {
			t.Fatal(err)
		}
		if err := conn.QueryRowContext(ctx, `PRAGMA busy_timeout`).Scan(&busy); err != nil {
			t.Fatal(err)
		}
		if fk != 1 || busy != BusyTimeoutMs {
			t.Errorf("connection %d: foreign_keys=%d busy_timeout=%d", i, fk, busy)
		}
	}
}

func TestMigrate_RejectsNewerSchema(t *testing.T) {
	database, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer database.Close()

	if err := Migrate(database); err != nil {
		t.Fatal(err)
	}
	if _, err := database.Exec(`INSERT INTO schema_version (version) VALUES (?)`, SchemaVersion+1); err != nil {
		t.Fatal(err)
	}
	if err := Migrate(database); err == nil {
		t.Error("expected newer schema to be rejected")
	}
}
