package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xiaohan0616/acpd/internal/domain"
)

// SQLiteStore is the durable Store substitute. Run records and event logs
// live in SQLite; cancellation handles stay in memory because a cancel
// signal never outlives the process.
//
// Compound check-then-act sequences run inside a transaction, mirroring the
// single critical section of the in-memory store.
type SQLiteStore struct {
	db *sql.DB

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (and migrates) a SQLite-backed run store.
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

	store := &SQLiteStore{db: db, cancels: make(map[string]context.CancelFunc)}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			agent_name TEXT NOT NULL,
			status TEXT NOT NULL,
			session_id TEXT,
			output TEXT NOT NULL DEFAULT '[]',
			await_request TEXT,
			error TEXT,
			created_at DATETIME NOT NULL,
			finished_at DATETIME,
			metadata TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS run_events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			body TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events(run_id, seq)`,
		`CREATE TABLE IF NOT EXISTS run_awaits (
			run_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			request_id TEXT NOT NULL,
			session_id TEXT
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, run *domain.Run, cancel context.CancelFunc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	output, err := json.Marshal(run.Output)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	var awaitReq, runErr, metadata any
	if run.AwaitRequest != nil {
		b, _ := json.Marshal(run.AwaitRequest)
		awaitReq = string(b)
	}
	if run.Error != nil {
		b, _ := json.Marshal(run.Error)
		runErr = string(b)
	}
	if run.Metadata != nil {
		metadata = string(run.Metadata)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, agent_name, status, session_id, output, await_request, error, created_at, finished_at, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.AgentName, run.Status, run.SessionID, string(output),
		awaitReq, runErr, run.CreatedAt, run.FinishedAt, metadata)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	victims, err := evictCompletedTx(ctx, tx)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	s.mu.Lock()
	s.cancels[run.RunID] = cancel
	for _, id := range victims {
		delete(s.cancels, id)
	}
	s.mu.Unlock()
	return nil
}

// evictCompletedTx deletes the oldest-finished terminal runs beyond the cap
// and returns the evicted ids so the caller can drop their cancel handles.
// Non-terminal runs are never touched.
func evictCompletedTx(ctx context.Context, tx *sql.Tx) ([]string, error) {
	var terminal int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM runs WHERE status IN ('completed', 'failed', 'cancelled')`).Scan(&terminal)
	if err != nil {
		return nil, fmt.Errorf("failed to count terminal runs: %w", err)
	}
	if terminal <= MaxCompletedRuns {
		return nil, nil
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT run_id FROM runs WHERE status IN ('completed', 'failed', 'cancelled')
		 ORDER BY finished_at ASC LIMIT ?`, terminal-MaxCompletedRuns)
	if err != nil {
		return nil, fmt.Errorf("failed to select eviction victims: %w", err)
	}
	var victims []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		victims = append(victims, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range victims {
		if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, id); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM run_events WHERE run_id = ?`, id); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM run_awaits WHERE run_id = ?`, id); err != nil {
			return nil, err
		}
	}
	return victims, nil
}

func (s *SQLiteStore) Get(ctx context.Context, runID string) (*domain.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, agent_name, status, session_id, output, await_request, error, created_at, finished_at, metadata
		 FROM runs WHERE run_id = ?`, runID)
	return scanRun(row)
}

func scanRun(row *sql.Row) (*domain.Run, error) {
	var run domain.Run
	var sessionID, output sql.NullString
	var awaitReq, runErr, metadata sql.NullString
	var finishedAt sql.NullTime
	err := row.Scan(&run.RunID, &run.AgentName, &run.Status, &sessionID, &output,
		&awaitReq, &runErr, &run.CreatedAt, &finishedAt, &metadata)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	run.SessionID = sessionID.String
	if output.Valid {
		if err := json.Unmarshal([]byte(output.String), &run.Output); err != nil {
			return nil, fmt.Errorf("failed to decode output: %w", err)
		}
	}
	if awaitReq.Valid {
		var ar domain.AwaitRequest
		if err := json.Unmarshal([]byte(awaitReq.String), &ar); err != nil {
			return nil, fmt.Errorf("failed to decode await_request: %w", err)
		}
		run.AwaitRequest = &ar
	}
	if runErr.Valid {
		var re domain.RunError
		if err := json.Unmarshal([]byte(runErr.String), &re); err != nil {
			return nil, fmt.Errorf("failed to decode error: %w", err)
		}
		run.Error = &re
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	if metadata.Valid {
		run.Metadata = json.RawMessage(metadata.String)
	}
	return &run, nil
}

func (s *SQLiteStore) GetStatus(ctx context.Context, runID string) (domain.RunStatus, error) {
	var status domain.RunStatus
	err := s.db.QueryRowContext(ctx, `SELECT status FROM runs WHERE run_id = ?`, runID).Scan(&status)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get status: %w", err)
	}
	return status, nil
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, runID string, status domain.RunStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE runs SET status = ? WHERE run_id = ?`, status, runID)
	return err
}

func (s *SQLiteStore) SetAwaiting(ctx context.Context, runID string, req domain.AwaitRequest, meta domain.AwaitMetadata) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal await_request: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE runs SET status = ?, await_request = ? WHERE run_id = ?`,
		domain.RunStatusAwaiting, string(body), runID)
	if err != nil {
		return err
	}

	var kind, requestID, sessionID string
	switch m := meta.(type) {
	case domain.ElicitationAwait:
		kind, requestID = "elicitation", m.RequestID
	case domain.ToolConfirmationAwait:
		kind, requestID, sessionID = "tool_confirmation", m.RequestID, m.SessionID
	default:
		return fmt.Errorf("unknown await metadata %T", meta)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO run_awaits (run_id, kind, request_id, session_id) VALUES (?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET kind = excluded.kind, request_id = excluded.request_id, session_id = excluded.session_id`,
		runID, kind, requestID, sessionID)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) TakeAwaitIfAwaiting(ctx context.Context, runID string) (domain.AwaitMetadata, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	var status domain.RunStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM runs WHERE run_id = ?`, runID).Scan(&status)
	if err == sql.ErrNoRows {
		return nil, false, ErrNotFound
	}
	if err != nil {
		return nil, false, err
	}
	if status != domain.RunStatusAwaiting {
		return nil, false, nil
	}

	var kind, requestID string
	var sessionID sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT kind, request_id, session_id FROM run_awaits WHERE run_id = ?`, runID).
		Scan(&kind, &requestID, &sessionID)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM run_awaits WHERE run_id = ?`, runID); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}

	switch kind {
	case "elicitation":
		return domain.ElicitationAwait{RequestID: requestID}, true, nil
	default:
		return domain.ToolConfirmationAwait{RequestID: requestID, SessionID: sessionID.String}, true, nil
	}
}

func (s *SQLiteStore) ClearAwait(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE runs SET await_request = NULL WHERE run_id = ?`, runID)
	return err
}

func (s *SQLiteStore) Finish(ctx context.Context, runID string, status domain.RunStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ? WHERE run_id = ?`, status, time.Now(), runID)
	return err
}

func (s *SQLiteStore) SetError(ctx context.Context, runID string, runErr domain.RunError) error {
	body, err := json.Marshal(runErr)
	if err != nil {
		return fmt.Errorf("failed to marshal error: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE runs SET error = ? WHERE run_id = ?`, string(body), runID)
	return err
}

func (s *SQLiteStore) AppendOutput(ctx context.Context, runID string, msg domain.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	var output string
	err = tx.QueryRowContext(ctx, `SELECT output FROM runs WHERE run_id = ?`, runID).Scan(&output)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}

	var messages []domain.Message
	if err := json.Unmarshal([]byte(output), &messages); err != nil {
		return fmt.Errorf("failed to decode output: %w", err)
	}
	messages = append(messages, msg)
	body, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE runs SET output = ? WHERE run_id = ?`, string(body), runID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, runID string, event domain.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_events (run_id, body) VALUES (?, ?)`, runID, string(body))
	return err
}

func (s *SQLiteStore) GetEvents(ctx context.Context, runID string) ([]domain.Event, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE run_id = ?`, runID).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM run_events WHERE run_id = ? ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []domain.Event{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var event domain.Event
		if err := json.Unmarshal([]byte(body), &event); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) Cancel(_ context.Context, runID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cancel, ok := s.cancels[runID]
	if !ok {
		return false, nil
	}
	cancel()
	return true, nil
}

func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]domain.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id FROM runs ORDER BY run_id ASC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	runs := make([]domain.Run, 0, len(ids))
	for _, id := range ids {
		run, err := s.Get(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
