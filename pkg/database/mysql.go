package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"dev/bravebird/site-smoke/pkg/models"

	_ "github.com/go-sql-driver/mysql"
)

// DB represents the database connection
type DB struct {
	conn *sql.DB
}

// New creates a new database connection
func New(dsn string) (*DB, error) {
	conn, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{conn: conn}, nil
}

// NewWithConn wraps an existing connection
func NewWithConn(conn *sql.DB) *DB {
	return &DB{conn: conn}
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS smoke_runs (
		id VARCHAR(36) PRIMARY KEY,
		url VARCHAR(2048) NOT NULL,
		temporal_workflow_id VARCHAR(255) NOT NULL DEFAULT '',
		temporal_run_id VARCHAR(255) NOT NULL DEFAULT '',
		status VARCHAR(32) NOT NULL,
		outcome VARCHAR(32) NOT NULL DEFAULT '',
		last_progress INT NOT NULL DEFAULT -1,
		final_url VARCHAR(2048) NOT NULL DEFAULT '',
		screenshot_path VARCHAR(1024) NOT NULL DEFAULT '',
		error_message TEXT,
		started_at DATETIME NULL,
		completed_at DATETIME NULL,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS smoke_steps (
		run_id VARCHAR(36) NOT NULL,
		sequence INT NOT NULL,
		step VARCHAR(64) NOT NULL,
		status VARCHAR(32) NOT NULL,
		message TEXT,
		error_message TEXT,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, sequence)
	)`,
}

// Migrate creates the tables if they do not exist
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// ==================== Smoke Runs ====================

// CreateRun stores a new pending run
func (db *DB) CreateRun(ctx context.Context, run *models.SmokeRun) error {
	query := `
		INSERT INTO smoke_runs (id, url, temporal_workflow_id, temporal_run_id, status, last_progress, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	run.CreatedAt = time.Now()
	if run.Status == "" {
		run.Status = models.StatusPending
	}

	_, err := db.conn.ExecContext(ctx, query,
		run.RunID,
		run.URL,
		run.TemporalWorkflowID,
		run.TemporalRunID,
		run.Status,
		run.LastProgress,
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// SetTemporalRunID stores the Temporal run ID once the workflow has started
func (db *DB) SetTemporalRunID(ctx context.Context, id, temporalRunID string) error {
	query := `UPDATE smoke_runs SET temporal_run_id = ? WHERE id = ?`
	if _, err := db.conn.ExecContext(ctx, query, temporalRunID, id); err != nil {
		return fmt.Errorf("failed to set temporal run id: %w", err)
	}
	return nil
}

// UpdateRunProgress marks a run as running and stores its latest progress value
func (db *DB) UpdateRunProgress(ctx context.Context, id string, progress int) error {
	query := `UPDATE smoke_runs SET status = ?, last_progress = ? WHERE id = ?`
	_, err := db.conn.ExecContext(ctx, query, models.StatusRunning, progress, id)
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	return nil
}

// UpdateRunStatus updates the status of a run
func (db *DB) UpdateRunStatus(ctx context.Context, id string, status models.RunStatus, errorMsg string) error {
	query := `UPDATE smoke_runs SET status = ?, error_message = ? WHERE id = ?`
	_, err := db.conn.ExecContext(ctx, query, status, errorMsg, id)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	return nil
}

// SaveRunResult stores the final state of a run and its steps
func (db *DB) SaveRunResult(ctx context.Context, result *models.RunResult) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Runs started outside the API have no row yet
	upsert := `
		INSERT INTO smoke_runs (id, url, status, outcome, last_progress, final_url, screenshot_path,
		                        error_message, started_at, completed_at, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			status = VALUES(status), outcome = VALUES(outcome), last_progress = VALUES(last_progress),
			final_url = VALUES(final_url), screenshot_path = VALUES(screenshot_path),
			error_message = VALUES(error_message), started_at = VALUES(started_at),
			completed_at = VALUES(completed_at), duration_ms = VALUES(duration_ms)
	`
	_, err = tx.ExecContext(ctx, upsert,
		result.RunID,
		result.URL,
		result.Status,
		result.Outcome,
		result.LastProgress,
		result.FinalURL,
		result.ScreenshotPath,
		result.ErrorMessage,
		result.StartedAt,
		result.CompletedAt,
		result.TotalDuration,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM smoke_steps WHERE run_id = ?`, result.RunID); err != nil {
		return fmt.Errorf("failed to clear steps: %w", err)
	}

	if len(result.Steps) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO smoke_steps (run_id, sequence, step, status, message, error_message, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, s := range result.Steps {
			_, err := stmt.ExecContext(ctx,
				result.RunID,
				s.Sequence,
				s.Step,
				s.Status,
				s.Message,
				s.ErrorMessage,
				s.Duration,
			)
			if err != nil {
				return fmt.Errorf("failed to insert step: %w", err)
			}
		}
	}

	return tx.Commit()
}

const runColumns = `id, url, temporal_workflow_id, temporal_run_id, status, outcome, last_progress,
	final_url, screenshot_path, error_message, started_at, completed_at, duration_ms, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*models.SmokeRun, error) {
	var run models.SmokeRun
	var errMsg sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&run.RunID,
		&run.URL,
		&run.TemporalWorkflowID,
		&run.TemporalRunID,
		&run.Status,
		&run.Outcome,
		&run.LastProgress,
		&run.FinalURL,
		&run.ScreenshotPath,
		&errMsg,
		&startedAt,
		&completedAt,
		&run.TotalDuration,
		&run.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	run.ErrorMessage = errMsg.String
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return &run, nil
}

// GetRun retrieves a run by ID, or nil if it does not exist
func (db *DB) GetRun(ctx context.Context, id string) (*models.SmokeRun, error) {
	query := `SELECT ` + runColumns + ` FROM smoke_runs WHERE id = ?`

	run, err := scanRun(db.conn.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves the most recent runs
func (db *DB) ListRuns(ctx context.Context, limit int) ([]models.SmokeRun, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + runColumns + ` FROM smoke_runs ORDER BY created_at DESC LIMIT ?`

	rows, err := db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []models.SmokeRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	return runs, nil
}

// GetSteps retrieves the steps of a run in order
func (db *DB) GetSteps(ctx context.Context, runID string) ([]models.StepResult, error) {
	query := `
		SELECT sequence, step, status, message, error_message, duration_ms
		FROM smoke_steps
		WHERE run_id = ?
		ORDER BY sequence
	`

	rows, err := db.conn.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get steps: %w", err)
	}
	defer rows.Close()

	var steps []models.StepResult
	for rows.Next() {
		var s models.StepResult
		var message, errMsg sql.NullString
		if err := rows.Scan(&s.Sequence, &s.Step, &s.Status, &message, &errMsg, &s.Duration); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		s.Message = message.String
		s.ErrorMessage = errMsg.String
		steps = append(steps, s)
	}

	return steps, rows.Err()
}

// DeleteRun deletes a run and its steps
func (db *DB) DeleteRun(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM smoke_steps WHERE run_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete steps: %w", err)
	}
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM smoke_runs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}
