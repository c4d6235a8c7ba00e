package actions

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-sync/internal/cache"
	"github.com/brandon/mail-sync/pkg/types"
)

// Rollback reverses recorded tasks against the mirror
type Rollback struct {
	store      *cache.Store
	commitSize int
	logger     *logrus.Logger
}

// NewRollback creates a rollback; commitSize bounds the statements of one
// transaction
func NewRollback(store *cache.Store, commitSize int, logger *logrus.Logger) *Rollback {
	if commitSize <= 0 {
		commitSize = 500
	}
	return &Rollback{store: store, commitSize: commitSize, logger: logger}
}

type flagWrite struct {
	id     int64
	column string
	value  bool
}

// reversal is the local undo of one task, planned before any write
type reversal struct {
	task    types.Task
	flag    *flagWrite
	remove  int64
	enqueue *types.Task
}

// All discards every task of the account that has not reached the server,
// newest first, and returns the number reverted
func (r *Rollback) All(ctx context.Context, accountID int64) (int, error) {
	tasks, err := r.store.ListTasks(ctx, cache.TaskFilter{
		AccountID: &accountID,
		Status:    []types.TaskStatus{types.TaskNew},
		Newest:    true,
	})
	if err != nil {
		return 0, err
	}
	return r.revert(ctx, tasks, r.logger.WithField("account_id", accountID))
}

// Batch undoes one user action. Pending tasks are discarded; tasks already
// executed are inverted locally and followed by a task carrying the inverse
// to the server. Failed and ignored tasks are left alone.
func (r *Rollback) Batch(ctx context.Context, batchID string) (int, error) {
	tasks, err := r.store.TasksByBatch(ctx, batchID)
	if err != nil {
		return 0, err
	}
	return r.revert(ctx, tasks, r.logger.WithField("batch_id", batchID))
}

func (r *Rollback) revert(ctx context.Context, tasks []types.Task, log *logrus.Entry) (int, error) {
	inverseBatch := uuid.NewString()
	var plans []reversal
	for _, task := range tasks {
		if task.Status != types.TaskNew && task.Status != types.TaskDone {
			continue
		}
		p, err := r.plan(ctx, task, inverseBatch)
		if err != nil {
			log.WithError(err).WithField("task_id", task.ID).Warn("Cannot revert task")
			continue
		}
		if p == nil {
			log.WithFields(logrus.Fields{"task_id": task.ID, "type": task.Type}).Info("Task cannot be undone")
			continue
		}
		plans = append(plans, *p)
	}
	if len(plans) == 0 {
		return 0, nil
	}

	reverted, err := r.apply(ctx, plans)
	log.WithFields(logrus.Fields{"reverted": reverted, "planned": len(plans)}).Info("Rolled back tasks")
	return reverted, err
}

// plan works out the local undo of a task. A nil plan means the task cannot
// be undone and stays as it is.
func (r *Rollback) plan(ctx context.Context, task types.Task, inverseBatch string) (*reversal, error) {
	p := &reversal{task: task}
	done := task.Status == types.TaskDone

	if tg, ok := toggles[task.Type]; ok {
		p.flag = &flagWrite{id: task.MessageID, column: tg.column, value: task.OldValue != 0}
		if done {
			inverse, ok := task.Type.Inverse()
			if !ok {
				inverse = types.TaskUndelete
			}
			p.enqueue = &types.Task{
				AccountID: task.AccountID,
				MessageID: task.MessageID,
				BatchID:   inverseBatch,
				Type:      inverse,
				OldValue:  boolInt(tg.value),
			}
		}
		return p, nil
	}

	switch task.Type {
	case types.TaskCopy:
		if task.CopyID == nil {
			return p, nil
		}
		local, err := r.store.GetMessage(ctx, *task.CopyID)
		switch {
		case errors.Is(err, cache.ErrNotFound):
			return p, nil
		case err != nil:
			return nil, err
		case !local.HasUniqueID():
			p.remove = local.ID
		case done:
			p.flag = &flagWrite{id: local.ID, column: cache.FlagDeleted, value: true}
			p.enqueue = &types.Task{
				AccountID: task.AccountID,
				MessageID: local.ID,
				BatchID:   inverseBatch,
				Type:      types.TaskDelete,
				OldValue:  boolInt(local.Flags.Deleted),
			}
		}
		return p, nil

	case types.TaskSend, types.TaskCreate:
		if done && task.Type == types.TaskSend {
			return nil, nil
		}
		m, err := r.store.GetMessage(ctx, task.MessageID)
		switch {
		case errors.Is(err, cache.ErrNotFound):
			return p, nil
		case err != nil:
			return nil, err
		case !m.HasUniqueID():
			p.remove = m.ID
		}
		return p, nil
	}
	return nil, nil
}

// apply writes the plans in transactions of at most commitSize statements
func (r *Rollback) apply(ctx context.Context, plans []reversal) (int, error) {
	var tx *cache.Tx
	reverted, pending := 0, 0
	defer func() {
		if tx != nil {
			tx.Rollback() //nolint:errcheck
		}
	}()

	commit := func() error {
		if tx == nil {
			return nil
		}
		err := tx.Commit()
		tx = nil
		if err != nil {
			return err
		}
		reverted += pending
		pending = 0
		return nil
	}

	for _, p := range plans {
		if tx == nil {
			var err error
			if tx, err = r.store.Begin(ctx); err != nil {
				return reverted, err
			}
		}
		if p.flag != nil {
			if err := tx.SetFlag(ctx, []int64{p.flag.id}, p.flag.column, p.flag.value); err != nil {
				return reverted, err
			}
		}
		if p.remove != 0 {
			if err := tx.DeleteMessage(ctx, p.remove); err != nil {
				return reverted, err
			}
		}
		if p.enqueue != nil {
			if _, err := tx.CreateTask(ctx, p.enqueue); err != nil {
				return reverted, err
			}
		}
		if err := tx.SetTaskStatus(ctx, p.task.ID, types.TaskReverted, ""); err != nil {
			return reverted, err
		}
		pending++

		if tx.Statements() >= r.commitSize {
			if err := commit(); err != nil {
				return reverted, err
			}
		}
	}
	return reverted, commit()
}
