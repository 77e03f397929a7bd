package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ojobatch/ojo/pkg/models"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// ErrAtCapacity is returned by the claim query when the global running
// limit is reached.
var ErrAtCapacity = errors.New("at global task capacity")

// TaskStore persists task rows and per-task configuration.
type TaskStore struct {
	db *sql.DB
}

// NewTaskStore creates a TaskStore over the client's connection.
func NewTaskStore(c *Client) *TaskStore {
	return &TaskStore{db: c.db}
}

const taskColumns = `id, user_id, problem_id, status, stage, progress,
	source_judge, dest_judge, uploaded_url, error_message, retried_by,
	created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (*models.Task, error) {
	var t models.Task
	var retriedBy sql.NullInt64
	err := row.Scan(&t.ID, &t.UserID, &t.ProblemID, &t.Status, &t.Stage,
		&t.Progress, &t.SourceJudge, &t.DestJudge, &t.UploadedURL,
		&t.ErrorMessage, &retriedBy, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning task row: %w", err)
	}
	if retriedBy.Valid {
		t.RetriedBy = &retriedBy.Int64
	}
	return &t, nil
}

// Create inserts a pending task with its execution config.
func (s *TaskStore) Create(ctx context.Context, userID int64, problemID string, cfg models.TaskConfig) (*models.Task, error) {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encoding task config: %w", err)
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (user_id, problem_id, status, source_judge, dest_judge, config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		userID, problemID, models.TaskStatusPending, cfg.SourceAdapter, cfg.TargetAdapter, string(cfgJSON), now, now)
	if err != nil {
		return nil, fmt.Errorf("inserting task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading inserted task id: %w", err)
	}
	return s.Get(ctx, id)
}

// Get fetches one task by id.
func (s *TaskStore) Get(ctx context.Context, id int64) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

// Config fetches the stored execution config for a task.
func (s *TaskStore) Config(ctx context.Context, id int64) (models.TaskConfig, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT config FROM tasks WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return models.TaskConfig{}, ErrNotFound
	}
	if err != nil {
		return models.TaskConfig{}, fmt.Errorf("reading task config: %w", err)
	}
	var cfg models.TaskConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return models.TaskConfig{}, fmt.Errorf("decoding task config: %w", err)
	}
	return cfg, nil
}

// List returns a user's tasks, newest first, honoring the filter.
// userID 0 lists all users (admin listing).
func (s *TaskStore) List(ctx context.Context, userID int64, f models.TaskFilter) ([]*models.Task, error) {
	var conds []string
	var args []any
	if userID != 0 {
		conds = append(conds, "user_id = ?")
		args = append(args, userID)
	}
	if f.Search != "" {
		conds = append(conds, "problem_id LIKE ?")
		args = append(args, "%"+f.Search+"%")
	}
	if f.Status != nil {
		conds = append(conds, "status = ?")
		args = append(args, *f.Status)
	}
	if f.SourceJudge != "" {
		conds = append(conds, "source_judge = ?")
		args = append(args, f.SourceJudge)
	}
	if f.DestJudge != "" {
		conds = append(conds, "dest_judge = ?")
		args = append(args, f.DestJudge)
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ClaimNextPending atomically transitions the oldest pending task to
// running, respecting the global concurrency cap. Returns ErrNotFound
// when no task is pending and ErrAtCapacity when the cap is reached.
func (s *TaskStore) ClaimNextPending(ctx context.Context, maxGlobal int) (*models.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var running int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE status = ?`, models.TaskStatusRunning).Scan(&running); err != nil {
		return nil, fmt.Errorf("counting running tasks: %w", err)
	}
	if maxGlobal > 0 && running >= maxGlobal {
		return nil, ErrAtCapacity
	}

	var id int64
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM tasks WHERE status = ? ORDER BY created_at ASC, id ASC LIMIT 1`,
		models.TaskStatusPending).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("selecting pending task: %w", err)
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE tasks SET status = ?, started_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		models.TaskStatusRunning, now, now, id, models.TaskStatusPending)
	if err != nil {
		return nil, fmt.Errorf("claiming task %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Lost the race to another worker.
		return nil, ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}
	return s.Get(ctx, id)
}

// SetProgress updates the live stage and progress of a running task.
func (s *TaskStore) SetProgress(ctx context.Context, id int64, stage string, progress int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET stage = ?, progress = ?, updated_at = ? WHERE id = ?`,
		stage, progress, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating task progress: %w", err)
	}
	return nil
}

// SetUploadedURL records the public problem URL produced by the upload stage.
func (s *TaskStore) SetUploadedURL(ctx context.Context, id int64, url string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET uploaded_url = ?, updated_at = ? WHERE id = ?`,
		url, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating uploaded url: %w", err)
	}
	return nil
}

// Finish writes the terminal status, error message, and finish time.
func (s *TaskStore) Finish(ctx context.Context, id int64, status models.TaskStatus, errMsg string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, error_message = ?, finished_at = ?, updated_at = ? WHERE id = ?`,
		status, errMsg, now, now, id)
	if err != nil {
		return fmt.Errorf("finishing task %d: %w", id, err)
	}
	return nil
}

// Requeue resets a terminal task to pending for a retry, replacing its
// config and recording the acting admin when the retry is proxied.
func (s *TaskStore) Requeue(ctx context.Context, id int64, cfg models.TaskConfig, retriedBy *int64) error {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding task config: %w", err)
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, stage = '', progress = 0, error_message = '',
			config = ?, retried_by = ?, started_at = NULL, finished_at = NULL, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		models.TaskStatusPending, string(cfgJSON), retriedBy, now, id,
		models.TaskStatusCompleted, models.TaskStatusFailed)
	if err != nil {
		return fmt.Errorf("requeueing task %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a task row.
func (s *TaskStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting task %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountPending returns the number of tasks waiting to be claimed.
func (s *TaskStore) CountPending(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE status = ?`, models.TaskStatusPending).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting pending tasks: %w", err)
	}
	return n, nil
}

// CountRunning returns the number of tasks currently running.
func (s *TaskStore) CountRunning(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE status = ?`, models.TaskStatusRunning).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting running tasks: %w", err)
	}
	return n, nil
}

// ResetOrphanedRunning fails tasks left in running state by a previous
// process. Called once at startup before workers begin claiming.
func (s *TaskStore) ResetOrphanedRunning(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, error_message = ?, finished_at = ?, updated_at = ?
		WHERE status = ?`,
		models.TaskStatusFailed, "service restarted during processing", now, now,
		models.TaskStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("resetting orphaned tasks: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// UserStore manages user rows.
type UserStore struct {
	db *sql.DB
}

// NewUserStore creates a UserStore over the client's connection.
func NewUserStore(c *Client) *UserStore {
	return &UserStore{db: c.db}
}

// Ensure creates the user row if absent and returns its id.
func (s *UserStore) Ensure(ctx context.Context, username string) (int64, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username) VALUES (?) ON CONFLICT (username) DO NOTHING`, username)
	if err != nil {
		return 0, fmt.Errorf("ensuring user %s: %w", username, err)
	}
	var id int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT id FROM users WHERE username = ?`, username).Scan(&id); err != nil {
		return 0, fmt.Errorf("reading user id: %w", err)
	}
	return id, nil
}

// IsAdmin reports whether the user has the admin flag.
func (s *UserStore) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	var admin int
	err := s.db.QueryRowContext(ctx,
		`SELECT is_admin FROM users WHERE id = ?`, userID).Scan(&admin)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("reading admin flag: %w", err)
	}
	return admin != 0, nil
}

// AdapterConfigStore persists per-(user, adapter) key/value settings.
// Values arrive already encrypted when sensitive; this layer stores
// opaque strings.
type AdapterConfigStore struct {
	db *sql.DB
}

// NewAdapterConfigStore creates an AdapterConfigStore.
func NewAdapterConfigStore(c *Client) *AdapterConfigStore {
	return &AdapterConfigStore{db: c.db}
}

// Set upserts one setting.
func (s *AdapterConfigStore) Set(ctx context.Context, userID int64, adapter, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_adapter_configs (user_id, adapter, key, value, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, adapter, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		userID, adapter, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("storing adapter config %s/%s: %w", adapter, key, err)
	}
	return nil
}

// Get fetches one setting. Returns ErrNotFound when unset.
func (s *AdapterConfigStore) Get(ctx context.Context, userID int64, adapter, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM user_adapter_configs WHERE user_id = ? AND adapter = ? AND key = ?`,
		userID, adapter, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading adapter config %s/%s: %w", adapter, key, err)
	}
	return value, nil
}

// All fetches every setting for one (user, adapter) pair.
func (s *AdapterConfigStore) All(ctx context.Context, userID int64, adapter string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value FROM user_adapter_configs WHERE user_id = ? AND adapter = ?`,
		userID, adapter)
	if err != nil {
		return nil, fmt.Errorf("listing adapter config for %s: %w", adapter, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scanning adapter config: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// Delete removes every setting for one (user, adapter) pair.
func (s *AdapterConfigStore) Delete(ctx context.Context, userID int64, adapter string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM user_adapter_configs WHERE user_id = ? AND adapter = ?`, userID, adapter)
	if err != nil {
		return fmt.Errorf("deleting adapter config for %s: %w", adapter, err)
	}
	return nil
}

// SystemConfigStore persists service-wide key/value settings, e.g. the
// generated encryption key.
type SystemConfigStore struct {
	db *sql.DB
}

// NewSystemConfigStore creates a SystemConfigStore.
func NewSystemConfigStore(c *Client) *SystemConfigStore {
	return &SystemConfigStore{db: c.db}
}

// Get fetches one setting. Returns ErrNotFound when unset.
func (s *SystemConfigStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM system_configs WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading system config %s: %w", key, err)
	}
	return value, nil
}

// Set upserts one setting.
func (s *SystemConfigStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO system_configs (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("storing system config %s: %w", key, err)
	}
	return nil
}
