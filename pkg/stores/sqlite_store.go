package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/webpilot/webpilot/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements engine.RunStore on a SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	// Every pooled connection to an in-memory database would see its own
	// empty database, so those stores are pinned to a single connection.
	if strings.Contains(cfg.Path, ":memory:") || strings.Contains(cfg.Path, "mode=memory") {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
	}

	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

// Init opens the database connection with WAL mode and the per-connection
// pragmas applied through the DSN.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)&_time_format=sqlite&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	// Create migration source from embedded FS
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	// Create database driver
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	// Create migration instance
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	// Run migrations
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// SaveResult persists a frozen execution result and all its child records in
// a single transaction. Saving the same run ID twice is an error.
func (s *SQLiteStore) SaveResult(ctx context.Context, result *engine.ExecutionResult) error {
	if result == nil {
		return fmt.Errorf("result is required")
	}
	if result.RunID == "" {
		return fmt.Errorf("result has no run ID")
	}

	successCriteria, err := json.Marshal(result.SuccessCriteria)
	if err != nil {
		return fmt.Errorf("failed to encode success criteria: %w", err)
	}
	finalContext, err := json.Marshal(result.FinalContext)
	if err != nil {
		return fmt.Errorf("failed to encode final context: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	runQuery := `
		INSERT INTO runs (run_id, workflow_name, overall_success, final_state, success_criteria, final_context, start_time, end_time, duration_ns, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = tx.ExecContext(ctx, runQuery,
		result.RunID,
		result.WorkflowName,
		result.OverallSuccess,
		string(result.FinalState),
		string(successCriteria),
		string(finalContext),
		result.StartTime,
		result.EndTime,
		int64(result.Duration),
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", result.RunID, err)
	}

	phaseQuery := `
		INSERT INTO phase_results (run_id, seq, name, success, status, executed_steps, started_at, completed_at, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	for i, phase := range result.PhaseResults {
		executedSteps, err := json.Marshal(phase.ExecutedSteps)
		if err != nil {
			return fmt.Errorf("failed to encode executed steps for phase %s: %w", phase.Name, err)
		}

		_, err = tx.ExecContext(ctx, phaseQuery,
			result.RunID,
			i,
			phase.Name,
			phase.Success,
			string(phase.Status),
			string(executedSteps),
			phase.StartedAt,
			phase.CompletedAt,
			int64(phase.Duration),
		)
		if err != nil {
			return fmt.Errorf("failed to insert phase result %s: %w", phase.Name, err)
		}
	}

	stepQuery := `
		INSERT INTO step_records (id, run_id, seq, phase, action, status, optional, params, error, started_at, completed_at, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	for i, record := range result.ExecutionHistory {
		params, err := json.Marshal(record.Params)
		if err != nil {
			return fmt.Errorf("failed to encode params for step %s: %w", record.ID, err)
		}

		_, err = tx.ExecContext(ctx, stepQuery,
			record.ID,
			result.RunID,
			i,
			record.Phase,
			record.Action,
			string(record.Status),
			record.Optional,
			string(params),
			record.Error,
			record.StartedAt,
			record.CompletedAt,
			int64(record.Duration),
		)
		if err != nil {
			return fmt.Errorf("failed to insert step record %s: %w", record.ID, err)
		}
	}

	errorQuery := `
		INSERT INTO error_records (run_id, seq, phase, action, class, code, message, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	for i, record := range result.ErrorHistory {
		_, err = tx.ExecContext(ctx, errorQuery,
			result.RunID,
			i,
			record.Phase,
			record.Action,
			string(record.Class),
			record.Code,
			record.Message,
			record.OccurredAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert error record %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run %s: %w", result.RunID, err)
	}

	return nil
}

// GetResult retrieves a stored result by run ID.
func (s *SQLiteStore) GetResult(ctx context.Context, runID string) (*engine.ExecutionResult, error) {
	query := `
		SELECT workflow_name, overall_success, final_state, success_criteria, final_context, start_time, end_time, duration_ns
		FROM runs
		WHERE run_id = ?
	`

	var (
		finalState      string
		successCriteria string
		finalContext    string
		durationNS      int64
	)
	result := &engine.ExecutionResult{RunID: runID}
	err := s.db.QueryRowContext(ctx, query, runID).Scan(
		&result.WorkflowName,
		&result.OverallSuccess,
		&finalState,
		&successCriteria,
		&finalContext,
		&result.StartTime,
		&result.EndTime,
		&durationNS,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	result.FinalState = engine.RunState(finalState)
	result.Duration = time.Duration(durationNS)
	if err := json.Unmarshal([]byte(successCriteria), &result.SuccessCriteria); err != nil {
		return nil, fmt.Errorf("failed to decode success criteria: %w", err)
	}
	if err := json.Unmarshal([]byte(finalContext), &result.FinalContext); err != nil {
		return nil, fmt.Errorf("failed to decode final context: %w", err)
	}

	if result.PhaseResults, err = s.phaseResults(ctx, runID); err != nil {
		return nil, err
	}
	if result.ExecutionHistory, err = s.stepRecords(ctx, runID); err != nil {
		return nil, err
	}
	if result.ErrorHistory, err = s.errorRecords(ctx, runID); err != nil {
		return nil, err
	}

	return result, nil
}

// phaseResults loads the per-phase outcomes for a run in execution order.
func (s *SQLiteStore) phaseResults(ctx context.Context, runID string) ([]engine.PhaseResult, error) {
	query := `
		SELECT name, success, status, executed_steps, started_at, completed_at, duration_ns
		FROM phase_results
		WHERE run_id = ?
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list phase results: %w", err)
	}
	defer rows.Close()

	phases := []engine.PhaseResult{}
	for rows.Next() {
		var (
			phase         engine.PhaseResult
			status        string
			executedSteps string
			durationNS    int64
		)
		err := rows.Scan(
			&phase.Name,
			&phase.Success,
			&status,
			&executedSteps,
			&phase.StartedAt,
			&phase.CompletedAt,
			&durationNS,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan phase result: %w", err)
		}

		phase.Status = engine.PhaseStatus(status)
		phase.Duration = time.Duration(durationNS)
		if err := json.Unmarshal([]byte(executedSteps), &phase.ExecutedSteps); err != nil {
			return nil, fmt.Errorf("failed to decode executed steps for phase %s: %w", phase.Name, err)
		}
		phases = append(phases, phase)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating phase results: %w", err)
	}

	return phases, nil
}

// stepRecords loads the execution history for a run in start order.
func (s *SQLiteStore) stepRecords(ctx context.Context, runID string) ([]engine.StepRecord, error) {
	query := `
		SELECT id, phase, action, status, optional, params, error, started_at, completed_at, duration_ns
		FROM step_records
		WHERE run_id = ?
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list step records: %w", err)
	}
	defer rows.Close()

	records := []engine.StepRecord{}
	for rows.Next() {
		var (
			record     engine.StepRecord
			status     string
			params     string
			durationNS int64
		)
		err := rows.Scan(
			&record.ID,
			&record.Phase,
			&record.Action,
			&status,
			&record.Optional,
			&params,
			&record.Error,
			&record.StartedAt,
			&record.CompletedAt,
			&durationNS,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step record: %w", err)
		}

		record.Status = engine.StepStatus(status)
		record.Duration = time.Duration(durationNS)
		if err := json.Unmarshal([]byte(params), &record.Params); err != nil {
			return nil, fmt.Errorf("failed to decode params for step %s: %w", record.ID, err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating step records: %w", err)
	}

	return records, nil
}

// errorRecords loads the required-step failures for a run in occurrence order.
func (s *SQLiteStore) errorRecords(ctx context.Context, runID string) ([]engine.ErrorRecord, error) {
	query := `
		SELECT phase, action, class, code, message, occurred_at
		FROM error_records
		WHERE run_id = ?
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list error records: %w", err)
	}
	defer rows.Close()

	records := []engine.ErrorRecord{}
	for rows.Next() {
		var (
			record engine.ErrorRecord
			class  string
		)
		err := rows.Scan(
			&record.Phase,
			&record.Action,
			&class,
			&record.Code,
			&record.Message,
			&record.OccurredAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan error record: %w", err)
		}

		record.Class = engine.ErrorClass(class)
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating error records: %w", err)
	}

	return records, nil
}

// ListRuns lists stored run summaries, newest first. A non-positive limit
// returns every stored run.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]engine.RunSummary, error) {
	if limit <= 0 {
		limit = -1
	}

	query := `
		SELECT r.run_id, r.workflow_name, r.overall_success,
		       (SELECT COUNT(*) FROM phase_results p WHERE p.run_id = r.run_id),
		       (SELECT COUNT(*) FROM step_records sr WHERE sr.run_id = r.run_id),
		       r.start_time, r.duration_ns
		FROM runs r
		ORDER BY r.start_time DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	summaries := []engine.RunSummary{}
	for rows.Next() {
		var (
			summary    engine.RunSummary
			durationNS int64
		)
		err := rows.Scan(
			&summary.RunID,
			&summary.WorkflowName,
			&summary.OverallSuccess,
			&summary.Phases,
			&summary.Steps,
			&summary.StartTime,
			&durationNS,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run summary: %w", err)
		}

		summary.Duration = time.Duration(durationNS)
		summaries = append(summaries, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return summaries, nil
}

// DeleteRun deletes a stored run by ID. Child records follow through the
// cascade.
func (s *SQLiteStore) DeleteRun(ctx context.Context, runID string) error {
	query := `DELETE FROM runs WHERE run_id = ?`

	result, err := s.db.ExecContext(ctx, query, runID)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("run not found: %s", runID)
	}

	return nil
}

// PruneRuns deletes all but the newest keep runs and returns how many runs
// were removed.
func (s *SQLiteStore) PruneRuns(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		return 0, fmt.Errorf("keep must be non-negative")
	}

	query := `
		DELETE FROM runs
		WHERE run_id NOT IN (
			SELECT run_id FROM runs ORDER BY start_time DESC LIMIT ?
		)
	`

	result, err := s.db.ExecContext(ctx, query, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
