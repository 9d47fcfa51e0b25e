package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite (pure-Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens or creates a SQLite database at the given DSN.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Enable WAL mode and set busy timeout.
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	// SQLite only supports one writer at a time. Limit connections to avoid
	// contention and keep a small idle pool for read concurrency.
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS performance_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			provider_id TEXT NOT NULL,
			model_id TEXT NOT NULL,
			request_type TEXT NOT NULL DEFAULT '',
			complexity REAL NOT NULL DEFAULT 0,
			estimated_tokens INTEGER NOT NULL DEFAULT 0,
			cost_usd REAL NOT NULL DEFAULT 0,
			latency_ms REAL NOT NULL DEFAULT 0,
			quality REAL NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_performance_records_ts ON performance_records(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_performance_records_model ON performance_records(provider_id, model_id)`,
		`CREATE TABLE IF NOT EXISTS experiments (
			id TEXT PRIMARY KEY,
			config_json TEXT NOT NULL,
			status TEXT NOT NULL,
			start_time TEXT,
			end_time TEXT,
			stop_reason TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS experiment_results (
			id TEXT PRIMARY KEY,
			experiment_id TEXT NOT NULL,
			variant TEXT NOT NULL,
			cost_usd REAL NOT NULL DEFAULT 0,
			response_time_ms REAL NOT NULL DEFAULT 0,
			quality REAL NOT NULL DEFAULT 0,
			accuracy_json TEXT NOT NULL DEFAULT '',
			satisfaction REAL,
			success INTEGER NOT NULL DEFAULT 1,
			timestamp TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_experiment_results_exp ON experiment_results(experiment_id, timestamp)`,
		`CREATE TABLE IF NOT EXISTS assignments (
			experiment_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			variant TEXT NOT NULL,
			assigned_at TEXT NOT NULL,
			PRIMARY KEY (experiment_id, user_id)
		)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Performance records

func (s *SQLiteStore) SavePerformanceRecord(ctx context.Context, rec PerformanceRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO performance_records (timestamp, provider_id, model_id, request_type, complexity, estimated_tokens, cost_usd, latency_ms, quality)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp.UTC().Format(time.RFC3339Nano), rec.ProviderID, rec.ModelID,
		rec.RequestType, rec.Complexity, rec.EstimatedTokens,
		rec.CostUSD, rec.LatencyMs, rec.Quality)
	return err
}

// ListPerformanceRecords returns the most recent records in chronological
// order, oldest first, so a ledger seeded from them keeps FIFO semantics.
func (s *SQLiteStore) ListPerformanceRecords(ctx context.Context, limit int) ([]PerformanceRow, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, provider_id, model_id, request_type, complexity, estimated_tokens, cost_usd, latency_ms, quality
		 FROM (
			SELECT * FROM performance_records ORDER BY id DESC LIMIT ?
		 ) ORDER BY id ASC`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var recs []PerformanceRow
	for rows.Next() {
		var r PerformanceRow
		var ts string
		if err := rows.Scan(&r.ID, &ts, &r.ProviderID, &r.ModelID, &r.RequestType,
			&r.Complexity, &r.EstimatedTokens, &r.CostUSD, &r.LatencyMs, &r.Quality); err != nil {
			return nil, err
		}
		r.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// Experiments

func (s *SQLiteStore) UpsertExperiment(ctx context.Context, exp ExperimentRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO experiments (id, config_json, status, start_time, end_time, stop_reason)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   config_json=excluded.config_json,
		   status=excluded.status,
		   start_time=excluded.start_time,
		   end_time=excluded.end_time,
		   stop_reason=excluded.stop_reason`,
		exp.ID, exp.ConfigJSON, exp.Status,
		formatNullableTime(exp.StartTime), formatNullableTime(exp.EndTime), exp.StopReason)
	return err
}

func (s *SQLiteStore) ListExperiments(ctx context.Context) ([]ExperimentRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, config_json, status, start_time, end_time, stop_reason FROM experiments`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var exps []ExperimentRow
	for rows.Next() {
		var e ExperimentRow
		var start, end sql.NullString
		if err := rows.Scan(&e.ID, &e.ConfigJSON, &e.Status, &start, &end, &e.StopReason); err != nil {
			return nil, err
		}
		e.StartTime = parseNullableTime(start)
		e.EndTime = parseNullableTime(end)
		exps = append(exps, e)
	}
	return exps, rows.Err()
}

func (s *SQLiteStore) DeleteExperiment(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM experiment_results WHERE experiment_id = ?`, id); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM assignments WHERE experiment_id = ?`, id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM experiments WHERE id = ?`, id)
	return err
}

// Experiment results

func (s *SQLiteStore) SaveExperimentResult(ctx context.Context, res ResultRow) error {
	successInt := 0
	if res.Success {
		successInt = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO experiment_results (id, experiment_id, variant, cost_usd, response_time_ms, quality, accuracy_json, satisfaction, success, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		res.ID, res.ExperimentID, res.Variant, res.CostUSD, res.ResponseTimeMs,
		res.Quality, res.AccuracyJSON, res.Satisfaction, successInt,
		res.Timestamp.UTC().Format(time.RFC3339Nano))
	return err
}

func (s *SQLiteStore) ListExperimentResults(ctx context.Context, experimentID string, limit int) ([]ResultRow, error) {
	if limit <= 0 {
		limit = 10000
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, experiment_id, variant, cost_usd, response_time_ms, quality, accuracy_json, satisfaction, success, timestamp
		 FROM (
			SELECT * FROM experiment_results WHERE experiment_id = ? ORDER BY timestamp DESC LIMIT ?
		 ) ORDER BY timestamp ASC`, experimentID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []ResultRow
	for rows.Next() {
		var r ResultRow
		var ts string
		var sat sql.NullFloat64
		var successInt int
		if err := rows.Scan(&r.ID, &r.ExperimentID, &r.Variant, &r.CostUSD, &r.ResponseTimeMs,
			&r.Quality, &r.AccuracyJSON, &sat, &successInt, &ts); err != nil {
			return nil, err
		}
		if sat.Valid {
			v := sat.Float64
			r.Satisfaction = &v
		}
		r.Success = successInt != 0
		r.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		results = append(results, r)
	}
	return results, rows.Err()
}

// Assignments

func (s *SQLiteStore) SaveAssignment(ctx context.Context, a AssignmentRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO assignments (experiment_id, user_id, variant, assigned_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(experiment_id, user_id) DO NOTHING`,
		a.ExperimentID, a.UserID, a.Variant, a.AssignedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (s *SQLiteStore) ListAssignments(ctx context.Context, experimentID string) ([]AssignmentRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT experiment_id, user_id, variant, assigned_at FROM assignments WHERE experiment_id = ?`,
		experimentID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []AssignmentRow
	for rows.Next() {
		var a AssignmentRow
		var ts string
		if err := rows.Scan(&a.ExperimentID, &a.UserID, &a.Variant, &ts); err != nil {
			return nil, err
		}
		a.AssignedAt, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, a)
	}
	return out, rows.Err()
}

func formatNullableTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339Nano)
	return &s
}

func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}
