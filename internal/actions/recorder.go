// Package actions records local mutations as tasks, mirrors them to the
// server and reverses them on demand.
package actions

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-sync/internal/cache"
	"github.com/brandon/mail-sync/pkg/types"
)

// toggle is the local column a flag-type task changes and the value it sets
type toggle struct {
	column string
	value  bool
}

var toggles = map[types.TaskType]toggle{
	types.TaskRead:         {cache.FlagSeen, true},
	types.TaskUnread:       {cache.FlagSeen, false},
	types.TaskFlag:         {cache.FlagFlagged, true},
	types.TaskUnflag:       {cache.FlagFlagged, false},
	types.TaskDelete:       {cache.FlagDeleted, true},
	types.TaskUndelete:     {cache.FlagDeleted, false},
	types.TaskDeleteOutbox: {cache.FlagDeleted, true},
}

func flagValue(m *types.Message, column string) bool {
	switch column {
	case cache.FlagSeen:
		return m.Flags.Seen
	case cache.FlagFlagged:
		return m.Flags.Flagged
	case cache.FlagDeleted:
		return m.Flags.Deleted
	}
	return false
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Recorder applies local mutations and records the task that mirrors each
// one to the server
type Recorder struct {
	store  *cache.Store
	logger *logrus.Logger
}

// NewRecorder creates a task recorder
func NewRecorder(store *cache.Store, logger *logrus.Logger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

// NewBatch starts a logical user action. Every task recorded through the
// batch shares its id and can be undone together.
func (r *Recorder) NewBatch(accountID int64) *Batch {
	return &Batch{ID: uuid.NewString(), AccountID: accountID, recorder: r}
}

// Batch groups the tasks of one user action
type Batch struct {
	ID        string
	AccountID int64
	recorder  *Recorder
}

func (b *Batch) message(ctx context.Context, id int64) (*types.Message, error) {
	m, err := b.recorder.store.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.AccountID != b.AccountID {
		return nil, &cache.ValidationError{Entity: "task", Field: "message_id",
			Reason: fmt.Sprintf("message %d belongs to another account", id)}
	}
	return m, nil
}

// MarkRead sets \Seen on a message
func (b *Batch) MarkRead(ctx context.Context, messageID int64) (*types.Task, error) {
	return b.setFlag(ctx, messageID, types.TaskRead)
}

// MarkUnread clears \Seen on a message
func (b *Batch) MarkUnread(ctx context.Context, messageID int64) (*types.Task, error) {
	return b.setFlag(ctx, messageID, types.TaskUnread)
}

// Flag sets \Flagged on a message
func (b *Batch) Flag(ctx context.Context, messageID int64) (*types.Task, error) {
	return b.setFlag(ctx, messageID, types.TaskFlag)
}

// Unflag clears \Flagged on a message
func (b *Batch) Unflag(ctx context.Context, messageID int64) (*types.Task, error) {
	return b.setFlag(ctx, messageID, types.TaskUnflag)
}

// Delete marks a message deleted
func (b *Batch) Delete(ctx context.Context, messageID int64) (*types.Task, error) {
	return b.setFlag(ctx, messageID, types.TaskDelete)
}

// Undelete clears the deleted mark of a message
func (b *Batch) Undelete(ctx context.Context, messageID int64) (*types.Task, error) {
	return b.setFlag(ctx, messageID, types.TaskUndelete)
}

// DeleteOutbox discards a message from the outbox
func (b *Batch) DeleteOutbox(ctx context.Context, messageID int64) (*types.Task, error) {
	return b.setFlag(ctx, messageID, types.TaskDeleteOutbox)
}

func (b *Batch) setFlag(ctx context.Context, messageID int64, taskType types.TaskType) (*types.Task, error) {
	m, err := b.message(ctx, messageID)
	if err != nil {
		return nil, err
	}
	tg := toggles[taskType]
	task := &types.Task{
		AccountID: b.AccountID,
		MessageID: m.ID,
		BatchID:   b.ID,
		Type:      taskType,
		OldValue:  boolInt(flagValue(m, tg.column)),
	}

	err = b.apply(ctx, func(tx *cache.Tx) error {
		if err := tx.SetFlag(ctx, []int64{m.ID}, tg.column, tg.value); err != nil {
			return err
		}
		_, err := tx.CreateTask(ctx, task)
		return err
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// Copy inserts a local copy of a message into folderID and records the
// copy row on the task. The copy has no unique id until a later sync of the
// target folder confirms it.
func (b *Batch) Copy(ctx context.Context, messageID, folderID int64) (*types.Task, error) {
	m, err := b.message(ctx, messageID)
	if err != nil {
		return nil, err
	}
	target, err := b.recorder.store.GetFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	if target.AccountID != b.AccountID || target.Deleted {
		return nil, &cache.ValidationError{Entity: "task", Field: "folder_id",
			Reason: fmt.Sprintf("folder %d is not a live folder of the account", folderID)}
	}
	if target.ID == m.FolderID {
		return nil, &cache.ValidationError{Entity: "task", Field: "folder_id", Reason: "is the message's own folder"}
	}

	task := &types.Task{
		AccountID: b.AccountID,
		MessageID: m.ID,
		FolderID:  &target.ID,
		BatchID:   b.ID,
		Type:      types.TaskCopy,
	}
	err = b.apply(ctx, func(tx *cache.Tx) error {
		copyID, err := tx.InsertLocalCopy(ctx, m, target.ID)
		if err != nil {
			return err
		}
		task.CopyID = &copyID
		_, err = tx.CreateTask(ctx, task)
		return err
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// Send stores an outgoing message in folderID and records its delivery
func (b *Batch) Send(ctx context.Context, folderID int64, m *types.Message) (*types.Task, error) {
	return b.insert(ctx, folderID, m, types.TaskSend)
}

// Create stores a message that exists only locally, such as a draft
func (b *Batch) Create(ctx context.Context, folderID int64, m *types.Message) (*types.Task, error) {
	return b.insert(ctx, folderID, m, types.TaskCreate)
}

func (b *Batch) insert(ctx context.Context, folderID int64, m *types.Message, taskType types.TaskType) (*types.Task, error) {
	m.AccountID = b.AccountID
	m.FolderID = folderID
	if m.MessageID == "" {
		m.MessageID = fmt.Sprintf("%s@mail-sync", uuid.NewString())
	}

	task := &types.Task{
		AccountID: b.AccountID,
		BatchID:   b.ID,
		Type:      taskType,
	}
	err := b.apply(ctx, func(tx *cache.Tx) error {
		id, err := tx.InsertLocalMessage(ctx, m)
		if err != nil {
			return err
		}
		task.MessageID = id
		_, err = tx.CreateTask(ctx, task)
		return err
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// apply runs fn in one transaction so the local change and its task are
// saved together
func (b *Batch) apply(ctx context.Context, fn func(tx *cache.Tx) error) error {
	tx, err := b.recorder.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
