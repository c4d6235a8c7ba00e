package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/brandon/mail-sync/pkg/types"
)

type taskRow struct {
	ID        int64         `db:"id"`
	AccountID int64         `db:"account_id"`
	MessageID int64         `db:"message_id"`
	FolderID  sql.NullInt64 `db:"folder_id"`
	CopyID    sql.NullInt64 `db:"copy_id"`
	BatchID   string        `db:"batch_id"`
	Type      string        `db:"type"`
	Status    string        `db:"status"`
	OldValue  int           `db:"old_value"`
	Retries   int           `db:"retries"`
	Reason    string        `db:"reason"`
	CreatedAt time.Time     `db:"created_at"`
	UpdatedAt time.Time     `db:"updated_at"`
}

func (r taskRow) toTask() types.Task {
	t := types.Task{
		ID:        r.ID,
		AccountID: r.AccountID,
		MessageID: r.MessageID,
		BatchID:   r.BatchID,
		Type:      types.TaskType(r.Type),
		Status:    types.TaskStatus(r.Status),
		OldValue:  r.OldValue,
		Retries:   r.Retries,
		Reason:    r.Reason,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.FolderID.Valid {
		fid := r.FolderID.Int64
		t.FolderID = &fid
	}
	if r.CopyID.Valid {
		cid := r.CopyID.Int64
		t.CopyID = &cid
	}
	return t
}

const taskColumns = `id, account_id, message_id, folder_id, copy_id, batch_id, type, status,
	old_value, retries, reason, created_at, updated_at`

func validateTask(t *types.Task) error {
	switch {
	case !t.Type.Valid():
		return &ValidationError{Entity: "task", Field: "type", Reason: fmt.Sprintf("%q is not a task type", t.Type)}
	case t.AccountID == 0:
		return &ValidationError{Entity: "task", Field: "account_id", Reason: "is required"}
	case t.MessageID == 0:
		return &ValidationError{Entity: "task", Field: "message_id", Reason: "is required"}
	case t.Type == types.TaskCopy && t.FolderID == nil:
		return &ValidationError{Entity: "task", Field: "folder_id", Reason: "is required for copy"}
	}
	return nil
}

func createTask(ctx context.Context, ext sqlx.ExtContext, t *types.Task) (int64, error) {
	if err := validateTask(t); err != nil {
		return 0, err
	}
	if t.Status == "" {
		t.Status = types.TaskNew
	}
	now := time.Now().UTC()
	var folderID, copyID interface{}
	if t.FolderID != nil {
		folderID = *t.FolderID
	}
	if t.CopyID != nil {
		copyID = *t.CopyID
	}

	res, err := ext.ExecContext(ctx, `
		INSERT INTO tasks (account_id, message_id, folder_id, copy_id, batch_id, type, status, old_value, retries, reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.AccountID, t.MessageID, folderID, copyID, t.BatchID, string(t.Type), string(t.Status),
		t.OldValue, t.Retries, t.Reason, now, now)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	t.ID = id
	t.CreatedAt = now
	t.UpdatedAt = now
	return id, nil
}

func setTaskStatus(ctx context.Context, ext sqlx.ExtContext, id int64, status types.TaskStatus, reason string) error {
	_, err := ext.ExecContext(ctx, "UPDATE tasks SET status = ?, reason = ?, updated_at = ? WHERE id = ?",
		string(status), reason, time.Now().UTC(), id)
	return err
}

// CreateTask records a new task and returns its id
func (s *Store) CreateTask(ctx context.Context, t *types.Task) (int64, error) {
	var id int64
	err := s.do(func(db *sqlx.DB) error {
		var err error
		id, err = createTask(ctx, db, t)
		return err
	})
	if err != nil {
		if IsValidation(err) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to create %s task: %w", t.Type, err)
	}
	return id, nil
}

// GetTask returns a task by id
func (s *Store) GetTask(ctx context.Context, id int64) (*types.Task, error) {
	var row taskRow
	err := s.do(func(db *sqlx.DB) error {
		return db.GetContext(ctx, &row, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("task", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	t := row.toTask()
	return &t, nil
}

// TaskFilter narrows ListTasks
type TaskFilter struct {
	AccountID *int64
	BatchID   string
	Status    []types.TaskStatus
	Newest    bool
	Limit     int
}

// ListTasks returns tasks matching the filter, oldest first unless Newest is set
func (s *Store) ListTasks(ctx context.Context, filter TaskFilter) ([]types.Task, error) {
	query := "SELECT " + taskColumns + " FROM tasks WHERE 1 = 1"
	var args []interface{}
	if filter.AccountID != nil {
		query += " AND account_id = ?"
		args = append(args, *filter.AccountID)
	}
	if filter.BatchID != "" {
		query += " AND batch_id = ?"
		args = append(args, filter.BatchID)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, st := range filter.Status {
			statuses[i] = string(st)
		}
		in, inArgs, err := sqlx.In(" AND status IN (?)", statuses)
		if err != nil {
			return nil, fmt.Errorf("failed to build task query: %w", err)
		}
		query += in
		args = append(args, inArgs...)
	}
	if filter.Newest {
		query += " ORDER BY id DESC"
	} else {
		query += " ORDER BY id"
	}
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	var rows []taskRow
	err := s.do(func(db *sqlx.DB) error {
		return db.SelectContext(ctx, &rows, db.Rebind(query), args...)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	tasks := make([]types.Task, len(rows))
	for i, r := range rows {
		tasks[i] = r.toTask()
	}
	return tasks, nil
}

// PendingTasks returns the account's new tasks in creation order
func (s *Store) PendingTasks(ctx context.Context, accountID int64) ([]types.Task, error) {
	return s.ListTasks(ctx, TaskFilter{AccountID: &accountID, Status: []types.TaskStatus{types.TaskNew}})
}

// TasksByBatch returns the tasks of one batch, newest first
func (s *Store) TasksByBatch(ctx context.Context, batchID string) ([]types.Task, error) {
	if batchID == "" {
		return nil, &ValidationError{Entity: "task", Field: "batch_id", Reason: "is required"}
	}
	return s.ListTasks(ctx, TaskFilter{BatchID: batchID, Newest: true})
}

// MarkTasks sets the status of many tasks at once
func (s *Store) MarkTasks(ctx context.Context, ids []int64, status types.TaskStatus) error {
	err := chunkIDs(ids, func(part []int64) error {
		query, args, err := sqlx.In("UPDATE tasks SET status = ?, updated_at = ? WHERE id IN (?)",
			string(status), time.Now().UTC(), part)
		if err != nil {
			return err
		}
		return s.do(func(db *sqlx.DB) error {
			_, err := db.ExecContext(ctx, db.Rebind(query), args...)
			return err
		})
	})
	if err != nil {
		return fmt.Errorf("failed to mark tasks %s: %w", status, err)
	}
	return nil
}

// SetTaskStatus moves one task to status, recording reason
func (s *Store) SetTaskStatus(ctx context.Context, id int64, status types.TaskStatus, reason string) error {
	err := s.do(func(db *sqlx.DB) error {
		return setTaskStatus(ctx, db, id, status, reason)
	})
	if err != nil {
		return fmt.Errorf("failed to set task %d %s: %w", id, status, err)
	}
	return nil
}

// FailTask moves a task to error with a reason and its attempt count
func (s *Store) FailTask(ctx context.Context, id int64, reason string, retries int) error {
	err := s.do(func(db *sqlx.DB) error {
		_, err := db.ExecContext(ctx, "UPDATE tasks SET status = ?, reason = ?, retries = ?, updated_at = ? WHERE id = ?",
			string(types.TaskError), reason, retries, time.Now().UTC(), id)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to fail task %d: %w", id, err)
	}
	return nil
}

// ResetForRetry moves an error task with fewer than maxRetries attempts back
// to new. It reports whether the task was reset.
func (s *Store) ResetForRetry(ctx context.Context, id int64, maxRetries int) (bool, error) {
	var n int64
	err := s.do(func(db *sqlx.DB) error {
		res, err := db.ExecContext(ctx, `UPDATE tasks SET status = ?, reason = '', updated_at = ?
			WHERE id = ? AND status = ? AND retries < ?`,
			string(types.TaskNew), time.Now().UTC(), id, string(types.TaskError), maxRetries)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to reset task %d: %w", id, err)
	}
	return n > 0, nil
}
