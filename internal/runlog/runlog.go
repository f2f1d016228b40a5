// Package runlog keeps a local sqlite history of extractor runs and the
// tables each run produced.
package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/adform-extractor/internal/model"
)

// Run statuses.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Entry is one row of the runs table.
type Entry struct {
	ID          string         `json:"id"`
	SetupID     string         `json:"setup_id"`
	Status      string         `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Tables      int            `json:"tables"`
	Rows        int64          `json:"rows"`
	Error       string         `json:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// TableEntry is one table recorded for a run.
type TableEntry struct {
	RunID       string   `json:"run_id"`
	Name        string   `json:"name"`
	Rows        int64    `json:"rows"`
	PrimaryKey  []string `json:"primary_key"`
	Incremental bool     `json:"incremental"`
}

// Summary is passed to Complete.
type Summary struct {
	Metadata map[string]any
}

// Log reads and writes the run history. A nil *Log is valid and records
// nothing, which is what Open returns for an empty path.
type Log struct {
	db    *sql.DB
	clock clockwork.Clock
}

// Open opens (and migrates) the sqlite database at dsn. An empty dsn
// disables the run log.
func Open(ctx context.Context, dsn string) (*Log, error) {
	if dsn == "" {
		return nil, nil
	}
	return OpenWithClock(ctx, dsn, clockwork.NewRealClock())
}

// OpenWithClock is Open with an explicit clock.
func OpenWithClock(ctx context.Context, dsn string, clock clockwork.Clock) (*Log, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: open")
	}
	// :memory: databases are per connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "runlog: exec %s", pragma)
		}
	}
	if _, err := db.ExecContext(ctx, migration); err != nil {
		_ = db.Close()
		return nil, eris.Wrap(err, "runlog: migrate")
	}
	return &Log{db: db, clock: clock}, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	setup_id     TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	started_at   DATETIME NOT NULL,
	completed_at DATETIME,
	tables       INTEGER NOT NULL DEFAULT 0,
	rows         INTEGER NOT NULL DEFAULT 0,
	error        TEXT,
	metadata     TEXT
);

CREATE TABLE IF NOT EXISTS run_tables (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	name        TEXT NOT NULL,
	rows        INTEGER NOT NULL,
	primary_key TEXT NOT NULL,
	incremental INTEGER NOT NULL,
	PRIMARY KEY (run_id, name)
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// Close closes the database.
func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	return l.db.Close()
}

// Start records the beginning of a run and returns its ID.
func (l *Log) Start(ctx context.Context, setupID string) (string, error) {
	id := uuid.New().String()
	if l == nil {
		return id, nil
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (id, setup_id, status, started_at) VALUES (?, ?, ?, ?)`,
		id, setupID, StatusRunning, l.clock.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "runlog: start run for %s", setupID)
	}
	return id, nil
}

// RecordTable records a table written by the run and adds its rows to the
// run totals.
func (l *Log) RecordTable(ctx context.Context, runID string, t model.OutputTable) error {
	if l == nil {
		return nil
	}
	pk, err := json.Marshal(t.PrimaryKey)
	if err != nil {
		return eris.Wrap(err, "runlog: marshal primary key")
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "runlog: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO run_tables (run_id, name, rows, primary_key, incremental) VALUES (?, ?, ?, ?, ?)`,
		runID, t.Name, t.Rows, string(pk), t.Incremental,
	); err != nil {
		return eris.Wrapf(err, "runlog: record table %s", t.Name)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE runs SET
			tables = (SELECT COUNT(*) FROM run_tables WHERE run_id = ?),
			rows = (SELECT COALESCE(SUM(rows), 0) FROM run_tables WHERE run_id = ?)
		 WHERE id = ?`,
		runID, runID, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: update totals of %s", runID)
	}
	if err := checkRowsAffected(res, runID); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "runlog: commit")
}

// Complete marks a run as successfully completed.
func (l *Log) Complete(ctx context.Context, runID string, summary *Summary) error {
	if l == nil {
		return nil
	}
	var meta any
	if summary != nil && summary.Metadata != nil {
		b, err := json.Marshal(summary.Metadata)
		if err != nil {
			return eris.Wrap(err, "runlog: marshal metadata")
		}
		meta = string(b)
	}

	res, err := l.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, completed_at = ?, metadata = ? WHERE id = ?`,
		StatusComplete, l.clock.Now().UTC(), meta, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: complete run %s", runID)
	}
	return checkRowsAffected(res, runID)
}

// Fail marks a run as failed with an error message.
func (l *Log) Fail(ctx context.Context, runID, errMsg string) error {
	if l == nil {
		return nil
	}
	res, err := l.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		StatusFailed, l.clock.Now().UTC(), errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: fail run %s", runID)
	}
	return checkRowsAffected(res, runID)
}

// List returns up to limit runs, most recent first. limit <= 0 returns all.
func (l *Log) List(ctx context.Context, limit int) ([]Entry, error) {
	if l == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, setup_id, status, started_at, completed_at, tables, rows, error, metadata
		 FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var entries []Entry
	for rows.Next() {
		var (
			e           Entry
			completedAt sql.NullTime
			errStr      sql.NullString
			metaJSON    sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.SetupID, &e.Status, &e.StartedAt, &completedAt, &e.Tables, &e.Rows, &errStr, &metaJSON); err != nil {
			return nil, eris.Wrap(err, "runlog: scan run")
		}
		if completedAt.Valid {
			t := completedAt.Time
			e.CompletedAt = &t
		}
		e.Error = errStr.String
		if metaJSON.Valid {
			_ = json.Unmarshal([]byte(metaJSON.String), &e.Metadata)
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "runlog: iterate runs")
}

// Tables returns the tables recorded for a run in insertion order.
func (l *Log) Tables(ctx context.Context, runID string) ([]TableEntry, error) {
	if l == nil {
		return nil, nil
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT run_id, name, rows, primary_key, incremental FROM run_tables WHERE run_id = ? ORDER BY rowid`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "runlog: list tables of %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var out []TableEntry
	for rows.Next() {
		var (
			t  TableEntry
			pk string
		)
		if err := rows.Scan(&t.RunID, &t.Name, &t.Rows, &pk, &t.Incremental); err != nil {
			return nil, eris.Wrap(err, "runlog: scan table")
		}
		if err := json.Unmarshal([]byte(pk), &t.PrimaryKey); err != nil {
			return nil, eris.Wrapf(err, "runlog: decode primary key of %s", t.Name)
		}
		out = append(out, t)
	}
	return out, eris.Wrap(rows.Err(), "runlog: iterate tables")
}

func checkRowsAffected(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "runlog: rows affected")
	}
	if n == 0 {
		return eris.Errorf("runlog: run %s not found", runID)
	}
	return nil
}
