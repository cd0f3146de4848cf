package ledger

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id         TEXT PRIMARY KEY,
	exp_code       TEXT NOT NULL,
	results_dir    TEXT NOT NULL,
	k              INTEGER NOT NULL,
	k_start        INTEGER NOT NULL,
	k_end          INTEGER NOT NULL,
	settings_json  TEXT,
	status         TEXT NOT NULL,
	reason         TEXT,
	summary_path   TEXT,
	aggregate_json TEXT,
	started_at     TEXT NOT NULL,
	finished_at    TEXT
);

CREATE TABLE IF NOT EXISTS folds (
	run_id       TEXT NOT NULL,
	fold         INTEGER NOT NULL,
	seed         INTEGER NOT NULL,
	split        INTEGER NOT NULL,
	test_auc     REAL,
	val_auc      REAL,
	test_acc     REAL,
	val_acc      REAL,
	result_path  TEXT NOT NULL,
	created_at   TEXT NOT NULL,
	PRIMARY KEY (run_id, fold),
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);
`

// timeLayout is fixed width so timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// #endregion schema

// #region store-struct
// Store records runs and their completed folds in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Pragmas are per connection; the ledger is written from one goroutine.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// #endregion constructor

// #region start-run
// StartRun inserts a running run and returns it with a fresh ID.
func (s *Store) StartRun(rec RunRecord) (RunRecord, error) {
	rec.RunID = uuid.New().String()
	rec.Status = StatusRunning
	rec.StartedAt = s.now()

	_, err := s.db.Exec(
		`INSERT INTO runs (run_id, exp_code, results_dir, k, k_start, k_end, settings_json, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.ExpCode, rec.ResultsDir, rec.K, rec.KStart, rec.KEnd,
		nullIfEmpty(rec.SettingsJSON), rec.Status, rec.StartedAt.Format(timeLayout),
	)
	if err != nil {
		return RunRecord{}, fmt.Errorf("insert run: %w", err)
	}
	return rec, nil
}

// #endregion start-run

// #region record-fold
// RecordFold stores a completed fold. Recording the same fold twice
// replaces the earlier row.
func (s *Store) RecordFold(rec FoldRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	_, err := s.db.Exec(
		`INSERT INTO folds (run_id, fold, seed, split, test_auc, val_auc, test_acc, val_acc, result_path, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, fold) DO UPDATE SET
		   seed = excluded.seed, split = excluded.split,
		   test_auc = excluded.test_auc, val_auc = excluded.val_auc,
		   test_acc = excluded.test_acc, val_acc = excluded.val_acc,
		   result_path = excluded.result_path, created_at = excluded.created_at`,
		rec.RunID, rec.Fold, rec.Seed, rec.Split,
		nullIfNaN(rec.TestAUC), nullIfNaN(rec.ValAUC), nullIfNaN(rec.TestAcc), nullIfNaN(rec.ValAcc),
		rec.ResultPath, rec.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("record fold %d: %w", rec.Fold, err)
	}
	return nil
}

// #endregion record-fold

// #region finish-run
// FinishRun sets the terminal status of a run.
func (s *Store) FinishRun(runID, status, reason, summaryPath, aggregateJSON string) error {
	res, err := s.db.Exec(
		`UPDATE runs SET status = ?, reason = ?, summary_path = ?, aggregate_json = ?, finished_at = ?
		 WHERE run_id = ?`,
		status, nullIfEmpty(reason), nullIfEmpty(summaryPath), nullIfEmpty(aggregateJSON),
		s.now().Format(timeLayout), runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// #endregion finish-run

// #region queries
const runColumns = `run_id, exp_code, results_dir, k, k_start, k_end, settings_json, status, reason,
	summary_path, aggregate_json, started_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (RunRecord, error) {
	var rec RunRecord
	var settings, reason, summary, aggregate, finished sql.NullString
	var started string
	if err := row.Scan(&rec.RunID, &rec.ExpCode, &rec.ResultsDir, &rec.K, &rec.KStart, &rec.KEnd,
		&settings, &rec.Status, &reason, &summary, &aggregate, &started, &finished); err != nil {
		return RunRecord{}, err
	}
	rec.SettingsJSON = settings.String
	rec.Reason = reason.String
	rec.SummaryPath = summary.String
	rec.AggregateJSON = aggregate.String
	rec.StartedAt, _ = time.Parse(timeLayout, started)
	if finished.Valid {
		rec.FinishedAt, _ = time.Parse(timeLayout, finished.String)
	}
	return rec, nil
}

// GetRun retrieves one run by ID.
func (s *Store) GetRun(runID string) (RunRecord, error) {
	rec, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID))
	if err != nil {
		return RunRecord{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	return rec, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]RunRecord, error) {
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListFolds returns a run's completed folds in ascending fold order.
func (s *Store) ListFolds(runID string) ([]FoldRecord, error) {
	rows, err := s.db.Query(
		`SELECT run_id, fold, seed, split, test_auc, val_auc, test_acc, val_acc, result_path, created_at
		 FROM folds WHERE run_id = ? ORDER BY fold ASC`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list folds: %w", err)
	}
	defer rows.Close()

	var out []FoldRecord
	for rows.Next() {
		var rec FoldRecord
		var created string
		var testAUC, valAUC, testAcc, valAcc sql.NullFloat64
		if err := rows.Scan(&rec.RunID, &rec.Fold, &rec.Seed, &rec.Split,
			&testAUC, &valAUC, &testAcc, &valAcc, &rec.ResultPath, &created); err != nil {
			return nil, fmt.Errorf("scan fold: %w", err)
		}
		rec.TestAUC = nanIfNull(testAUC)
		rec.ValAUC = nanIfNull(valAUC)
		rec.TestAcc = nanIfNull(testAcc)
		rec.ValAcc = nanIfNull(valAcc)
		rec.CreatedAt, _ = time.Parse(timeLayout, created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// #endregion queries

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// Undefined metrics (NaN) are stored as NULL and read back as NaN.
func nullIfNaN(v float64) interface{} {
	if math.IsNaN(v) {
		return nil
	}
	return v
}

func nanIfNull(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

// #endregion helpers
