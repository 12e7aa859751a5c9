package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ashishlead/agent-runner/internal/runqueue"
	"github.com/ashishlead/agent-runner/internal/workspace"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// StoredWorkspace is a workspace definition row. Raw holds the original
// composite-key JSON document as uploaded, so it can be reloaded verbatim.
type StoredWorkspace struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	Raw       []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RunRecord is the audit row for one engine run.
type RunRecord struct {
	ID          int64      `json:"id"`
	RunUID      string     `json:"run_uid"`
	WorkspaceID int64      `json:"workspace_id,omitempty"`
	Status      string     `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	TotalTokens int64      `json:"total_tokens_consumed"`
	TimeTakenMS int64      `json:"total_time_taken_ms"`
	InputKwargs string     `json:"input_kwargs,omitempty"`
	Results     string     `json:"results,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// AuditStore persists workspaces, run audit trails, and queued jobs in a
// single SQLite database. It implements engine.Hooks and runqueue.Store.
type AuditStore struct {
	db *sql.DB

	// correlation between engine run/step/call identifiers and row ids,
	// populated by the hook callbacks
	mu       sync.Mutex
	runRows  map[string]int64
	stepRows map[string]int64
	callRows map[string]int64
}

func NewAuditStore(path string) (*AuditStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &AuditStore{
		db:       db,
		runRows:  make(map[string]int64),
		stepRows: make(map[string]int64),
		callRows: make(map[string]int64),
	}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *AuditStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *AuditStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	// Bootstrap schema_migrations table so we can track applied versions.
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

// CreateWorkspace stores a validated definition along with its raw JSON
// document and a normalized breakdown into function and step rows.
func (s *AuditStore) CreateWorkspace(ctx context.Context, def *workspace.Definition, raw []byte) (*StoredWorkspace, error) {
	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(
		ctx,
		`INSERT INTO workspaces (name, version, json_data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		def.Name, def.Version, string(raw), now, now,
	)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	if err = insertWorkspaceRows(ctx, tx, id, def); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return &StoredWorkspace{ID: id, Name: def.Name, Version: def.Version, Raw: raw, CreatedAt: now, UpdatedAt: now}, nil
}

// UpdateWorkspace replaces the stored document and its normalized rows.
func (s *AuditStore) UpdateWorkspace(ctx context.Context, id int64, def *workspace.Definition, raw []byte) (*StoredWorkspace, error) {
	existing, err := s.GetWorkspace(ctx, id)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(
		ctx,
		`UPDATE workspaces SET name = ?, version = ?, json_data = ?, updated_at = ? WHERE id = ?`,
		def.Name, def.Version, string(raw), now, id,
	); err != nil {
		return nil, err
	}
	if err = deleteWorkspaceRows(ctx, tx, id); err != nil {
		return nil, err
	}
	if err = insertWorkspaceRows(ctx, tx, id, def); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return &StoredWorkspace{ID: id, Name: def.Name, Version: def.Version, Raw: raw, CreatedAt: existing.CreatedAt, UpdatedAt: now}, nil
}

func (s *AuditStore) DeleteWorkspace(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = deleteWorkspaceRows(ctx, tx, id); err != nil {
		return err
	}
	var res sql.Result
	res, err = tx.ExecContext(ctx, `DELETE FROM workspaces WHERE id = ?`, id)
	if err != nil {
		return err
	}
	var affected int64
	affected, err = res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		err = ErrNotFound
		return err
	}
	return tx.Commit()
}

func (s *AuditStore) GetWorkspace(ctx context.Context, id int64) (*StoredWorkspace, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, name, version, json_data, created_at, updated_at FROM workspaces WHERE id = ?`,
		id,
	)
	return scanWorkspace(row)
}

func (s *AuditStore) ListWorkspaces(ctx context.Context) ([]*StoredWorkspace, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, name, version, json_data, created_at, updated_at FROM workspaces ORDER BY id ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*StoredWorkspace, 0)
	for rows.Next() {
		var item StoredWorkspace
		var raw string
		if err := rows.Scan(&item.ID, &item.Name, &item.Version, &raw, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, err
		}
		item.Raw = []byte(raw)
		ret = append(ret, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func scanWorkspace(row *sql.Row) (*StoredWorkspace, error) {
	var item StoredWorkspace
	var raw string
	if err := row.Scan(&item.ID, &item.Name, &item.Version, &raw, &item.CreatedAt, &item.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	item.Raw = []byte(raw)
	return &item, nil
}

func insertWorkspaceRows(ctx context.Context, tx *sql.Tx, workspaceID int64, def *workspace.Definition) error {
	funcRows := make(map[string]int64)
	names := make([]string, 0)
	for name := range def.Functions() {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fn, _ := def.Function(name)
		params, err := json.Marshal(fn.Parameters)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(
			ctx,
			`INSERT INTO workspace_functions (workspace_id, name, description, parameters, code) VALUES (?, ?, ?, ?, ?)`,
			workspaceID, fn.Name, fn.Description, string(params), fn.Code,
		)
		if err != nil {
			return err
		}
		rowID, err := res.LastInsertId()
		if err != nil {
			return err
		}
		funcRows[name] = rowID
	}

	for _, stepID := range def.StepOrder() {
		step, _ := def.Step(stepID)
		chat, err := json.Marshal(step.Chat)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(
			ctx,
			`INSERT INTO workspace_steps (workspace_id, name, chat, next_step, model, run_functions_in_parallel, pass_conversation_to_next_step)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			workspaceID, step.ID, string(chat), step.Next.String(), step.Model,
			boolToInt(step.RunFunctionsInParallel), boolToInt(step.PassConversation),
		)
		if err != nil {
			return err
		}
		stepRowID, err := res.LastInsertId()
		if err != nil {
			return err
		}
		for _, fnName := range step.Functions {
			if _, err := tx.ExecContext(
				ctx,
				`INSERT INTO workspace_step_functions (workspace_step_id, workspace_function_id) VALUES (?, ?)`,
				stepRowID, funcRows[fnName],
			); err != nil {
				return err
			}
		}
	}
	return nil
}

func deleteWorkspaceRows(ctx context.Context, tx *sql.Tx, workspaceID int64) error {
	if _, err := tx.ExecContext(
		ctx,
		`DELETE FROM workspace_step_functions WHERE workspace_step_id IN (SELECT id FROM workspace_steps WHERE workspace_id = ?)`,
		workspaceID,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM workspace_steps WHERE workspace_id = ?`, workspaceID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM workspace_functions WHERE workspace_id = ?`, workspaceID); err != nil {
		return err
	}
	return nil
}

// GetRun looks an audit record up by the engine run identifier.
func (s *AuditStore) GetRun(ctx context.Context, runUID string) (*RunRecord, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, run_uid, workspace_id, status, started_at, ended_at, total_tokens_consumed, total_time_taken_ms, input_kwargs, results, error
		 FROM runs WHERE run_uid = ?`,
		runUID,
	)
	item, err := scanRun(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return item, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *AuditStore) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, run_uid, workspace_id, status, started_at, ended_at, total_tokens_consumed, total_time_taken_ms, input_kwargs, results, error
		 FROM runs ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*RunRecord, 0)
	for rows.Next() {
		item, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		ret = append(ret, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func scanRun(scan func(dest ...any) error) (*RunRecord, error) {
	var item RunRecord
	var workspaceID sql.NullInt64
	var status, kwargs, results, runErr sql.NullString
	var startedAt, endedAt sql.NullTime
	if err := scan(
		&item.ID,
		&item.RunUID,
		&workspaceID,
		&status,
		&startedAt,
		&endedAt,
		&item.TotalTokens,
		&item.TimeTakenMS,
		&kwargs,
		&results,
		&runErr,
	); err != nil {
		return nil, err
	}
	item.WorkspaceID = workspaceID.Int64
	item.Status = status.String
	item.InputKwargs = kwargs.String
	item.Results = results.String
	item.Error = runErr.String
	if startedAt.Valid {
		t := startedAt.Time
		item.StartedAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		item.EndedAt = &t
	}
	return &item, nil
}

func (s *AuditStore) LoadJobs(ctx context.Context) ([]*runqueue.RunJob, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM run_jobs ORDER BY updated_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*runqueue.RunJob, 0)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var item runqueue.RunJob
		if err := json.Unmarshal([]byte(payload), &item); err != nil {
			return nil, err
		}
		ret = append(ret, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *AuditStore) UpsertJob(ctx context.Context, job *runqueue.RunJob) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO run_jobs (id, payload, status, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			payload=excluded.payload,
			status=excluded.status,
			updated_at=excluded.updated_at`,
		job.ID, string(payload), string(job.Status), job.UpdatedAt.UTC(),
	)
	return err
}

func (s *AuditStore) DeleteJob(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM run_jobs WHERE id = ?`, jobID)
	return err
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
