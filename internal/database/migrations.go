package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS reports (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    country TEXT NOT NULL,
    pillar_id INTEGER NOT NULL DEFAULT 3,
    status TEXT NOT NULL DEFAULT 'PLANNING',
    claimed_at TEXT,
    claimed_by TEXT,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS questions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    report_id INTEGER NOT NULL REFERENCES reports(id),
    question TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'PENDING',
    claimed_at TEXT,
    claimed_by TEXT,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS evidence_items (
    question_id INTEGER PRIMARY KEY REFERENCES questions(id),
    answer_summary TEXT NOT NULL,
    key_findings TEXT,
    sources TEXT,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS index_scores (
    report_id INTEGER PRIMARY KEY REFERENCES reports(id),
    country TEXT NOT NULL,
    overall_score REAL NOT NULL,
    score_matrix TEXT NOT NULL,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS narratives (
    report_id INTEGER PRIMARY KEY REFERENCES reports(id),
    narrative TEXT NOT NULL,
    updated_at TEXT DEFAULT (datetime('now'))
);

-- One in-flight report per country and pillar; the store enforces
-- this so concurrent planners cannot double-plan.
CREATE UNIQUE INDEX IF NOT EXISTS idx_reports_inflight
    ON reports(country, pillar_id)
    WHERE status IN ('PLANNING', 'RESEARCHING');

CREATE INDEX IF NOT EXISTS idx_reports_status ON reports(status);
CREATE INDEX IF NOT EXISTS idx_questions_report ON questions(report_id);
CREATE INDEX IF NOT EXISTS idx_questions_claim ON questions(status, claimed_at);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
