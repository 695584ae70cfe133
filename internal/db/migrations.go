package db

const schemaSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS scenarios (
    id TEXT PRIMARY KEY,
    version TEXT NOT NULL,
    seed INTEGER NOT NULL,
    num_ticks INTEGER NOT NULL,
    tick_interval INTEGER NOT NULL,
    num_markets INTEGER NOT NULL,
    num_perps INTEGER NOT NULL,
    path TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    recorded_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    scenario_id TEXT NOT NULL REFERENCES scenarios(id),
    agent TEXT NOT NULL,
    status TEXT NOT NULL,
    ticks_processed INTEGER NOT NULL,
    total_ticks INTEGER NOT NULL,
    action_count INTEGER NOT NULL,
    total_pnl REAL NOT NULL,
    accuracy REAL NOT NULL,
    win_rate REAL NOT NULL,
    optimality REAL NOT NULL,
    max_drawdown REAL NOT NULL,
    audit_passed INTEGER NOT NULL,
    started_at INTEGER NOT NULL,
    ended_at INTEGER NOT NULL,
    path TEXT NOT NULL,
    recorded_at TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_runs_agent ON runs(agent);
CREATE INDEX IF NOT EXISTS idx_runs_scenario ON runs(scenario_id);

CREATE TABLE IF NOT EXISTS run_equity (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id),
    tick INTEGER NOT NULL,
    value REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_equity_run_tick ON run_equity(run_id, tick);

CREATE TABLE IF NOT EXISTS questions (
    id TEXT PRIMARY KEY,
    question TEXT NOT NULL,
    url TEXT NOT NULL,
    source TEXT NOT NULL,
    probability REAL,
    imported_at TEXT NOT NULL DEFAULT (datetime('now'))
);
`
