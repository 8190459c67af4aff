package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Axion-inc/DesktopAgent-sub001/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			execution_id TEXT PRIMARY KEY,
			template_name TEXT,
			status TEXT NOT NULL,
			autopilot_enabled INTEGER NOT NULL DEFAULT 0,
			expected_steps TEXT,
			manifest TEXT,
			decision TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			started_at DATETIME,
			ended_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status, created_at)`,
		`CREATE TABLE IF NOT EXISTS step_executions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			execution_id TEXT NOT NULL,
			step_index INTEGER NOT NULL,
			step_name TEXT NOT NULL,
			status TEXT NOT NULL,
			start_time DATETIME NOT NULL,
			end_time DATETIME,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			error_message TEXT,
			risks TEXT,
			domain TEXT,
			FOREIGN KEY (execution_id) REFERENCES executions(execution_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_step_executions_execution ON step_executions(execution_id, step_index)`,
		`CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			execution_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			type TEXT NOT NULL,
			payload TEXT,
			FOREIGN KEY (execution_id) REFERENCES executions(execution_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_execution ON events(execution_id, ts)`,
		`CREATE TABLE IF NOT EXISTS approvals (
			approval_id TEXT PRIMARY KEY,
			execution_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'PENDING',
			deviations TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			decided_at DATETIME,
			decided_by TEXT,
			reason TEXT,
			FOREIGN KEY (execution_id) REFERENCES executions(execution_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_approvals_status_created ON approvals(status, created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateExecution creates a new execution record.
func (s *SQLiteStore) CreateExecution(ctx context.Context, exec *domain.Execution) error {
	steps, err := json.Marshal(exec.ExpectedSteps)
	if err != nil {
		return fmt.Errorf("marshal expected steps: %w", err)
	}
	var manifest []byte
	if exec.Manifest != nil {
		if manifest, err = json.Marshal(exec.Manifest); err != nil {
			return fmt.Errorf("marshal manifest: %w", err)
		}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO executions (execution_id, template_name, status, autopilot_enabled, expected_steps, manifest, decision, created_at, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ExecutionID, nullString(exec.TemplateName), exec.Status, exec.AutopilotEnabled,
		string(steps), nullStringBytes(manifest), nullStringBytes(exec.Decision), exec.CreatedAt.UTC(), nullTime(exec.StartedAt))
	return err
}

const executionColumns = `execution_id, template_name, status, autopilot_enabled, expected_steps, manifest, decision, created_at, started_at, ended_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExecution(row rowScanner) (*domain.Execution, error) {
	var exec domain.Execution
	var templateName, steps, manifest, decision sql.NullString
	var startedAt, endedAt sql.NullTime
	if err := row.Scan(&exec.ExecutionID, &templateName, &exec.Status, &exec.AutopilotEnabled,
		&steps, &manifest, &decision, &exec.CreatedAt, &startedAt, &endedAt); err != nil {
		return nil, err
	}
	exec.TemplateName = templateName.String
	if steps.Valid && steps.String != "" {
		if err := json.Unmarshal([]byte(steps.String), &exec.ExpectedSteps); err != nil {
			return nil, fmt.Errorf("unmarshal expected steps: %w", err)
		}
	}
	if manifest.Valid && manifest.String != "" {
		exec.Manifest = &domain.TemplateManifest{}
		if err := json.Unmarshal([]byte(manifest.String), exec.Manifest); err != nil {
			return nil, fmt.Errorf("unmarshal manifest: %w", err)
		}
	}
	if decision.Valid {
		exec.Decision = json.RawMessage(decision.String)
	}
	if startedAt.Valid {
		exec.StartedAt = &startedAt.Time
	}
	if endedAt.Valid {
		exec.EndedAt = &endedAt.Time
	}
	return &exec, nil
}

// GetExecution retrieves an execution by ID.
func (s *SQLiteStore) GetExecution(ctx context.Context, executionID string) (*domain.Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE execution_id = ?`, executionID)
	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return exec, nil
}

// ListExecutions lists executions, newest first. An empty status lists all.
func (s *SQLiteStore) ListExecutions(ctx context.Context, status domain.ExecutionStatus, limit int) ([]domain.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *exec)
	}
	return out, rows.Err()
}

// UpdateExecutionStatus updates the status of an execution.
func (s *SQLiteStore) UpdateExecutionStatus(ctx context.Context, executionID string, status domain.ExecutionStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET status = ? WHERE execution_id = ?`, status, executionID)
	return affected(res, err)
}

// UpdateExecutionStarted marks an execution as running with its plan.
func (s *SQLiteStore) UpdateExecutionStarted(ctx context.Context, executionID string, expectedSteps []string, startedAt time.Time) (bool, error) {
	steps, err := json.Marshal(expectedSteps)
	if err != nil {
		return false, fmt.Errorf("marshal expected steps: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET status = ?, expected_steps = ?, started_at = ? WHERE execution_id = ?`,
		domain.ExecutionStatusRunning, string(steps), startedAt.UTC(), executionID)
	return affected(res, err)
}

// UpdateExecutionCompleted sets the final status of an execution.
func (s *SQLiteStore) UpdateExecutionCompleted(ctx context.Context, executionID string, status domain.ExecutionStatus, endedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET status = ?, ended_at = ? WHERE execution_id = ?`,
		status, endedAt.UTC(), executionID)
	return affected(res, err)
}

// CreateStepExecution records a step start.
func (s *SQLiteStore) CreateStepExecution(ctx context.Context, step *domain.StepExecution) error {
	risks, err := json.Marshal(step.Risks)
	if err != nil {
		return fmt.Errorf("marshal risks: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO step_executions (execution_id, step_index, step_name, status, start_time, risks, domain)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		step.ExecutionID, step.StepIndex, step.StepName, step.Status, step.StartTime.UTC(),
		string(risks), nullString(step.Domain))
	return err
}

// CompleteStepExecution closes the latest running record of a step.
func (s *SQLiteStore) CompleteStepExecution(ctx context.Context, step *domain.StepExecution) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE step_executions SET status = ?, end_time = ?, duration_ms = ?, error_message = ?
		WHERE id = (
			SELECT id FROM step_executions
			WHERE execution_id = ? AND step_index = ? AND status = ?
			ORDER BY id DESC LIMIT 1
		)`,
		step.Status, nullTime(step.EndTime), step.DurationMs, nullString(step.ErrorMessage),
		step.ExecutionID, step.StepIndex, domain.StepStatusRunning)
	return affected(res, err)
}

// ListStepExecutions lists the step records of an execution in start order.
func (s *SQLiteStore) ListStepExecutions(ctx context.Context, executionID string) ([]domain.StepExecution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT execution_id, step_index, step_name, status, start_time, end_time, duration_ms, error_message, risks, domain
		FROM step_executions WHERE execution_id = ? ORDER BY id ASC`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.StepExecution
	for rows.Next() {
		var step domain.StepExecution
		var endTime sql.NullTime
		var errMsg, risks, host sql.NullString
		if err := rows.Scan(&step.ExecutionID, &step.StepIndex, &step.StepName, &step.Status, &step.StartTime,
			&endTime, &step.DurationMs, &errMsg, &risks, &host); err != nil {
			return nil, err
		}
		if endTime.Valid {
			step.EndTime = &endTime.Time
		}
		step.ErrorMessage = errMsg.String
		step.Domain = host.String
		if risks.Valid && risks.String != "" && risks.String != "null" {
			if err := json.Unmarshal([]byte(risks.String), &step.Risks); err != nil {
				return nil, fmt.Errorf("unmarshal risks: %w", err)
			}
		}
		out = append(out, step)
	}
	return out, rows.Err()
}

// CreateEvent creates a new audit event.
func (s *SQLiteStore) CreateEvent(ctx context.Context, event *domain.Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (event_id, execution_id, ts, type, payload) VALUES (?, ?, ?, ?, ?)`,
		event.EventID, event.ExecutionID, event.Ts, event.Type, nullStringBytes(event.Payload))
	return err
}

// GetEvents retrieves events for an execution.
func (s *SQLiteStore) GetEvents(ctx context.Context, executionID string, afterTs int64, types []string, limit int) ([]domain.Event, error) {
	query := `SELECT event_id, execution_id, ts, type, payload FROM events WHERE execution_id = ?`
	args := []interface{}{executionID}

	if afterTs > 0 {
		query += ` AND ts > ?`
		args = append(args, afterTs)
	}

	if len(types) > 0 {
		placeholders := make([]string, len(types))
		for i, t := range types {
			placeholders[i] = "?"
			args = append(args, t)
		}
		query += fmt.Sprintf(" AND type IN (%s)", strings.Join(placeholders, ","))
	}

	query += ` ORDER BY ts ASC, rowid ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var event domain.Event
		var payload sql.NullString
		if err := rows.Scan(&event.EventID, &event.ExecutionID, &event.Ts, &event.Type, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			event.Payload = json.RawMessage(payload.String)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// CreateApproval creates a new approval.
func (s *SQLiteStore) CreateApproval(ctx context.Context, approval *domain.Approval) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO approvals (approval_id, execution_id, status, deviations, created_at) VALUES (?, ?, ?, ?, ?)`,
		approval.ApprovalID, approval.ExecutionID, approval.Status, nullStringBytes(approval.Deviations), approval.CreatedAt.UTC())
	return err
}

const approvalColumns = `approval_id, execution_id, status, deviations, created_at, decided_at, decided_by, reason`

func scanApproval(row rowScanner) (*domain.Approval, error) {
	var ap domain.Approval
	var deviations, decidedBy, reason sql.NullString
	var decidedAt sql.NullTime
	if err := row.Scan(&ap.ApprovalID, &ap.ExecutionID, &ap.Status, &deviations, &ap.CreatedAt,
		&decidedAt, &decidedBy, &reason); err != nil {
		return nil, err
	}
	if deviations.Valid {
		ap.Deviations = json.RawMessage(deviations.String)
	}
	if decidedAt.Valid {
		ap.DecidedAt = &decidedAt.Time
	}
	ap.DecidedBy = decidedBy.String
	ap.Reason = reason.String
	return &ap, nil
}

// GetApproval retrieves an approval by ID.
func (s *SQLiteStore) GetApproval(ctx context.Context, approvalID string) (*domain.Approval, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+approvalColumns+` FROM approvals WHERE approval_id = ?`, approvalID)
	ap, err := scanApproval(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ap, nil
}

// GetPendingApproval returns the newest pending approval of an execution.
func (s *SQLiteStore) GetPendingApproval(ctx context.Context, executionID string) (*domain.Approval, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+approvalColumns+` FROM approvals WHERE execution_id = ? AND status = ? ORDER BY created_at DESC LIMIT 1`,
		executionID, domain.ApprovalStatusPending)
	ap, err := scanApproval(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ap, nil
}

// DecideApprovalIfPending sets the outcome of a pending approval. It reports
// false when the approval was already decided.
func (s *SQLiteStore) DecideApprovalIfPending(ctx context.Context, approvalID string, status domain.ApprovalStatus, decidedBy, reason string, decidedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE approvals SET status = ?, decided_at = ?, decided_by = ?, reason = ? WHERE approval_id = ? AND status = ?`,
		status, decidedAt.UTC(), nullString(decidedBy), nullString(reason), approvalID, domain.ApprovalStatusPending)
	return affected(res, err)
}

// ListExpiredApprovals lists pending approvals created at or before createdBefore.
func (s *SQLiteStore) ListExpiredApprovals(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Approval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+approvalColumns+`
		FROM approvals
		WHERE status = ?
		  AND julianday(created_at) <= julianday(?)
		ORDER BY created_at ASC
		LIMIT ?
	`, domain.ApprovalStatusPending, createdBefore.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Approval
	for rows.Next() {
		ap, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringBytes(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
