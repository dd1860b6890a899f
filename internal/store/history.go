// Package store persists calibration run history in SQLite via
// modernc.org/sqlite.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// RunStatus tracks the lifecycle of a calibration run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one invocation of the calibrate command across a set of HUC units.
type Run struct {
	ID            string
	SourceTag     string
	Status        RunStatus
	Units         int
	UnitsAdjusted int
	UnitsSkipped  int
	UnitsFailed   int
	StartedAt     time.Time
	FinishedAt    *time.Time
}

// UnitOutcome is the per-HUC result of a run, including the full text log
// for later inspection.
type UnitOutcome struct {
	ID               string
	RunID            string
	HUC              string
	BranchID         string
	Skipped          bool
	SkipReason       string
	Error            string
	SegmentsAdjusted int
	ObservationsUsed int
	LogText          string
	RecordedAt       time.Time
}

// History stores run records in a SQLite database.
type History struct {
	db *sql.DB
}

// Open opens (or creates) the history database and configures WAL mode.
func Open(dsn string) (*History, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "store: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "store: exec %s", pragma)
		}
	}
	return &History{db: db}, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS runs (
	id             TEXT PRIMARY KEY,
	source_tag     TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'running',
	units          INTEGER NOT NULL DEFAULT 0,
	units_adjusted INTEGER NOT NULL DEFAULT 0,
	units_skipped  INTEGER NOT NULL DEFAULT 0,
	units_failed   INTEGER NOT NULL DEFAULT 0,
	started_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at    DATETIME
);

CREATE TABLE IF NOT EXISTS unit_outcomes (
	id                TEXT PRIMARY KEY,
	run_id            TEXT NOT NULL REFERENCES runs(id),
	huc               TEXT NOT NULL,
	branch_id         TEXT NOT NULL,
	skipped           INTEGER NOT NULL DEFAULT 0,
	skip_reason       TEXT,
	error             TEXT,
	segments_adjusted INTEGER NOT NULL DEFAULT 0,
	observations_used INTEGER NOT NULL DEFAULT 0,
	log_text          TEXT,
	recorded_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_unit_outcomes_run_id ON unit_outcomes(run_id);
CREATE INDEX IF NOT EXISTS idx_unit_outcomes_huc ON unit_outcomes(huc);
`

func (h *History) Migrate(ctx context.Context) error {
	_, err := h.db.ExecContext(ctx, migration)
	return eris.Wrap(err, "store: migrate")
}

func (h *History) Close() error {
	return h.db.Close()
}

// StartRun records a new running calibration run and returns it.
func (h *History) StartRun(ctx context.Context, sourceTag string, units int) (*Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := h.db.ExecContext(ctx,
		`INSERT INTO runs (id, source_tag, status, units, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, sourceTag, string(RunStatusRunning), units, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "store: insert run")
	}

	return &Run{
		ID:        id,
		SourceTag: sourceTag,
		Status:    RunStatusRunning,
		Units:     units,
		StartedAt: now,
	}, nil
}

// FinishRun stamps the final status and counters onto a run.
func (h *History) FinishRun(ctx context.Context, runID string, status RunStatus, adjusted, skipped, failed int) error {
	res, err := h.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, units_adjusted = ?, units_skipped = ?, units_failed = ?, finished_at = ? WHERE id = ?`,
		string(status), adjusted, skipped, failed, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "store: finish run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

// RecordUnit appends one unit outcome to a run.
func (h *History) RecordUnit(ctx context.Context, runID string, out UnitOutcome) (*UnitOutcome, error) {
	out.ID = uuid.New().String()
	out.RunID = runID
	out.RecordedAt = time.Now().UTC()

	_, err := h.db.ExecContext(ctx,
		`INSERT INTO unit_outcomes
			(id, run_id, huc, branch_id, skipped, skip_reason, error, segments_adjusted, observations_used, log_text, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		out.ID, out.RunID, out.HUC, out.BranchID, boolToInt(out.Skipped), out.SkipReason,
		out.Error, out.SegmentsAdjusted, out.ObservationsUsed, out.LogText, out.RecordedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "store: insert outcome for run %s", runID)
	}
	return &out, nil
}

// GetRun fetches a single run by id.
func (h *History) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := h.db.QueryRowContext(ctx,
		`SELECT id, source_tag, status, units, units_adjusted, units_skipped, units_failed, started_at, finished_at
		 FROM runs WHERE id = ?`,
		runID,
	)
	var r Run
	var status string
	var finished sql.NullTime
	err := row.Scan(&r.ID, &r.SourceTag, &status, &r.Units, &r.UnitsAdjusted, &r.UnitsSkipped, &r.UnitsFailed, &r.StartedAt, &finished)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("store: run %s not found", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "store: get run %s", runID)
	}
	r.Status = RunStatus(status)
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return &r, nil
}

// ListRuns returns the most recent runs, newest first.
func (h *History) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := h.db.QueryContext(ctx,
		`SELECT id, source_tag, status, units, units_adjusted, units_skipped, units_failed, started_at, finished_at
		 FROM runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "store: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var status string
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.SourceTag, &status, &r.Units, &r.UnitsAdjusted, &r.UnitsSkipped, &r.UnitsFailed, &r.StartedAt, &finished); err != nil {
			return nil, eris.Wrap(err, "store: scan run")
		}
		r.Status = RunStatus(status)
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "store: list runs iterate")
}

// ListUnitOutcomes returns the outcomes recorded for one run in insertion
// order.
func (h *History) ListUnitOutcomes(ctx context.Context, runID string) ([]UnitOutcome, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT id, run_id, huc, branch_id, skipped, skip_reason, error, segments_adjusted, observations_used, log_text, recorded_at
		 FROM unit_outcomes WHERE run_id = ? ORDER BY recorded_at, id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "store: list outcomes for run %s", runID)
	}
	defer rows.Close()

	var outs []UnitOutcome
	for rows.Next() {
		var o UnitOutcome
		var skipped int
		var reason, errText, logText sql.NullString
		if err := rows.Scan(&o.ID, &o.RunID, &o.HUC, &o.BranchID, &skipped, &reason, &errText, &o.SegmentsAdjusted, &o.ObservationsUsed, &logText, &o.RecordedAt); err != nil {
			return nil, eris.Wrap(err, "store: scan outcome")
		}
		o.Skipped = skipped != 0
		o.SkipReason = reason.String
		o.Error = errText.String
		o.LogText = logText.String
		outs = append(outs, o)
	}
	return outs, eris.Wrap(rows.Err(), "store: list outcomes iterate")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "store: rows affected for %s %s", entity, id)
	}
	if n == 0 {
		return eris.Errorf("store: %s %s not found", entity, id)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
