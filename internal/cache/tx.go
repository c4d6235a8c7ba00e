package cache

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/brandon/mail-sync/pkg/types"
)

// Tx is a write transaction over the subset of the store that threading
// commits, local mutations and rollback need to apply atomically. Only Tx
// methods may be used until Commit or Rollback: the cache holds a single
// connection.
type Tx struct {
	tx         *sqlx.Tx
	statements int
}

// Begin starts a transaction
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	var tx *sqlx.Tx
	err := s.do(func(db *sqlx.DB) error {
		var err error
		tx, err = db.BeginTxx(ctx, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Statements returns the number of statements executed so far
func (t *Tx) Statements() int {
	return t.statements
}

// Commit commits the transaction
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Rollback aborts the transaction; it is a no-op after Commit
func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}

// SetThreadID stores the thread id of one message
func (t *Tx) SetThreadID(ctx context.Context, messageID, threadID int64) error {
	t.statements++
	if _, err := t.tx.ExecContext(ctx, "UPDATE messages SET thread_id = ? WHERE id = ?", threadID, messageID); err != nil {
		return fmt.Errorf("failed to set thread of message %d: %w", messageID, err)
	}
	return nil
}

// SetFlag sets a flag column for the given messages
func (t *Tx) SetFlag(ctx context.Context, ids []int64, flag string, value bool) error {
	t.statements++
	if _, err := setFlag(ctx, t.tx, ids, flag, value); err != nil {
		return fmt.Errorf("failed to set %s: %w", flag, err)
	}
	return nil
}

// InsertLocalCopy inserts a copy of src into folderID with no unique id
func (t *Tx) InsertLocalCopy(ctx context.Context, src *types.Message, folderID int64) (int64, error) {
	t.statements++
	cp := *src
	cp.ID = 0
	cp.FolderID = folderID
	if err := validateMessage(&cp, false); err != nil {
		return 0, err
	}
	id, err := insertLocalMessage(ctx, t.tx, &cp)
	if err != nil {
		return 0, fmt.Errorf("failed to copy message %d: %w", src.ID, err)
	}
	return id, nil
}

// InsertLocalMessage inserts a message the server has not seen yet
func (t *Tx) InsertLocalMessage(ctx context.Context, m *types.Message) (int64, error) {
	t.statements++
	if err := validateMessage(m, false); err != nil {
		return 0, err
	}
	id, err := insertLocalMessage(ctx, t.tx, m)
	if err != nil {
		return 0, fmt.Errorf("failed to insert local message: %w", err)
	}
	return id, nil
}

// DeleteMessage removes a message row
func (t *Tx) DeleteMessage(ctx context.Context, id int64) error {
	t.statements++
	if _, err := t.tx.ExecContext(ctx, "DELETE FROM messages WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete message %d: %w", id, err)
	}
	return nil
}

// CreateTask records a task inside the transaction
func (t *Tx) CreateTask(ctx context.Context, task *types.Task) (int64, error) {
	t.statements++
	id, err := createTask(ctx, t.tx, task)
	if err != nil {
		if IsValidation(err) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to create %s task: %w", task.Type, err)
	}
	return id, nil
}

// SetTaskStatus moves one task to status
func (t *Tx) SetTaskStatus(ctx context.Context, id int64, status types.TaskStatus, reason string) error {
	t.statements++
	if err := setTaskStatus(ctx, t.tx, id, status, reason); err != nil {
		return fmt.Errorf("failed to set task %d %s: %w", id, status, err)
	}
	return nil
}

// UpsertContacts adds tallies for the account's contacts
func (t *Tx) UpsertContacts(ctx context.Context, accountID int64, contacts []types.Contact) error {
	t.statements += len(contacts)
	if err := upsertContacts(ctx, t.tx, accountID, contacts); err != nil {
		return fmt.Errorf("failed to upsert contacts: %w", err)
	}
	return nil
}
