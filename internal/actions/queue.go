package actions

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-sync/internal/cache"
	"github.com/brandon/mail-sync/internal/checkpoint"
	"github.com/brandon/mail-sync/internal/email"
	"github.com/brandon/mail-sync/internal/metrics"
	"github.com/brandon/mail-sync/pkg/types"
)

// MaxRetries bounds the attempts of one task
const MaxRetries = 3

var (
	// ErrUIDMismatch means the server renumbered the message since it was
	// synced; the task fails without retries
	ErrUIDMismatch = errors.New("remote uid does not match the stored uid")
	// ErrRetryLimit is returned by Retry for a task out of attempts
	ErrRetryLimit = errors.New("task has no attempts left")
	// ErrNotRetryable is returned by Retry for a task not in error
	ErrNotRetryable = errors.New("only failed tasks can be retried")
)

// QueueResult counts the outcome of one drain of the queue
type QueueResult struct {
	Compacted int
	Done      int
	Failed    int
	Ignored   int
	Expunged  int
}

// Queue drains an account's pending tasks against its mailbox
type Queue struct {
	store   *cache.Store
	cp      *checkpoint.Checkpoint
	metrics *metrics.Metrics
	logger  *logrus.Logger
}

// NewQueue creates an action queue
func NewQueue(store *cache.Store, cp *checkpoint.Checkpoint, m *metrics.Metrics, logger *logrus.Logger) *Queue {
	return &Queue{
		store:   store,
		cp:      cp,
		metrics: m,
		logger:  logger,
	}
}

// Run compacts the pending tasks, then executes the survivors in creation
// order. Folders touched by deletes are expunged once at the end, also
// when the run is halted.
func (q *Queue) Run(ctx context.Context, mbox email.Mailbox, sender email.Sender, account *types.Account) (*QueueResult, error) {
	log := q.logger.WithField("account", account.Name)
	res := &QueueResult{}

	pending, err := q.store.PendingTasks(ctx, account.ID)
	if err != nil {
		return res, err
	}
	if len(pending) == 0 {
		return res, nil
	}

	tasks, ignored := Compact(pending)
	if len(ignored) > 0 {
		if err := q.store.MarkTasks(ctx, ignored, types.TaskIgnored); err != nil {
			return res, err
		}
		res.Compacted = len(ignored)
		log.WithField("count", len(ignored)).Debug("Compacted pending tasks")

		byID := make(map[int64]*types.Task, len(pending))
		for i := range pending {
			byID[pending[i].ID] = &pending[i]
		}
		for _, id := range ignored {
			q.dropCopy(ctx, byID[id], log)
		}
	}

	var expunge []string
	queued := make(map[string]struct{})
	var halted error

	for i := range tasks {
		task := &tasks[i]
		status, folder := q.execute(ctx, mbox, sender, account, task, log)
		switch status {
		case types.TaskDone:
			res.Done++
		case types.TaskIgnored:
			res.Ignored++
		case types.TaskError:
			res.Failed++
		}
		q.metrics.TaskFinished(string(task.Type), string(status))

		if status == types.TaskDone && task.Type.Expunges() && folder != "" {
			if _, ok := queued[folder]; !ok {
				queued[folder] = struct{}{}
				expunge = append(expunge, folder)
			}
		}
		if err := q.cp.Check(ctx); err != nil {
			halted = err
			break
		}
	}

	for _, folder := range expunge {
		if err := mbox.Expunge(folder); err != nil {
			log.WithError(err).WithField("folder", folder).Warn("Failed to expunge folder")
			continue
		}
		res.Expunged++
	}

	log.WithFields(logrus.Fields{
		"done":      res.Done,
		"failed":    res.Failed,
		"ignored":   res.Ignored,
		"compacted": res.Compacted,
	}).Info("Processed tasks")
	return res, halted
}

// execute runs one task and records its outcome. It returns the final
// status and the name of the folder acted on.
func (q *Queue) execute(ctx context.Context, mbox email.Mailbox, sender email.Sender, account *types.Account, task *types.Task, log *logrus.Entry) (types.TaskStatus, string) {
	log = log.WithFields(logrus.Fields{"task_id": task.ID, "type": task.Type, "message_id": task.MessageID})

	j, err := q.resolve(ctx, mbox, sender, account, task)
	folder := ""
	if j != nil && j.folder != nil {
		folder = j.folder.Name
	}
	switch {
	case errors.Is(err, errIgnore):
		q.dropCopy(ctx, task, log)
		return q.finish(ctx, task, types.TaskIgnored, "", log), folder
	case errors.Is(err, errDiscarded):
		return q.finish(ctx, task, types.TaskIgnored, err.Error(), log), folder
	case errors.Is(err, errLocalOnly):
		return q.finish(ctx, task, types.TaskDone, "", log), folder
	case errors.Is(err, ErrUIDMismatch), errors.Is(err, email.ErrUIDNotFound):
		return q.fail(ctx, task, err, MaxRetries, log), folder
	case err != nil:
		return q.fail(ctx, task, err, task.Retries+1, log), folder
	}

	run, ok := executors[task.Type]
	if !ok {
		return q.fail(ctx, task, fmt.Errorf("no executor for %s tasks", task.Type), MaxRetries, log), folder
	}
	if err := run(ctx, mbox, j); err != nil {
		return q.fail(ctx, task, err, task.Retries+1, log), folder
	}
	return q.finish(ctx, task, types.TaskDone, "", log), folder
}

var (
	errIgnore    = errors.New("message has no unique id")
	errLocalOnly = errors.New("task needs no server call")
	errDiscarded = errors.New("outgoing message was discarded")
)

// resolve loads what a task needs and locates its message on the server.
// Sends are delivered here.
func (q *Queue) resolve(ctx context.Context, mbox email.Mailbox, sender email.Sender, account *types.Account, task *types.Task) (*job, error) {
	m, err := q.store.GetMessage(ctx, task.MessageID)
	if err != nil {
		return nil, err
	}
	folder, err := q.store.GetFolder(ctx, m.FolderID)
	if err != nil {
		return nil, err
	}
	j := &job{task: task, message: m, folder: folder}

	switch task.Type {
	case types.TaskCreate:
		return j, errLocalOnly
	case types.TaskSend:
		if m.Flags.Deleted {
			return j, errDiscarded
		}
		if sender == nil {
			return j, fmt.Errorf("account %s has no sender", account.Name)
		}
		if err := sender.Send(outgoing(account, m)); err != nil {
			return j, err
		}
		return j, errLocalOnly
	}

	if !m.HasUniqueID() {
		return j, errIgnore
	}
	if task.Type == types.TaskCopy {
		if task.FolderID == nil {
			return j, fmt.Errorf("copy task has no target folder")
		}
		if j.target, err = q.store.GetFolder(ctx, *task.FolderID); err != nil {
			return j, err
		}
	}

	if _, err := mbox.Select(folder.Name); err != nil {
		return j, err
	}
	seqNum, err := mbox.SeqNumByUID(*m.UniqueID)
	if err != nil {
		return j, err
	}
	uid, err := mbox.FetchUID(seqNum)
	if err != nil {
		return j, err
	}
	if uid != *m.UniqueID {
		return j, fmt.Errorf("%w: stored %d, server %d", ErrUIDMismatch, *m.UniqueID, uid)
	}
	j.seqNum = seqNum
	return j, nil
}

// dropCopy removes the row an ignored copy task inserted, unless a sync has
// confirmed it since
func (q *Queue) dropCopy(ctx context.Context, task *types.Task, log *logrus.Entry) {
	if task == nil || task.Type != types.TaskCopy || task.CopyID == nil {
		return
	}
	local, err := q.store.GetMessage(ctx, *task.CopyID)
	if err != nil || local.HasUniqueID() {
		return
	}
	if err := q.store.DeleteMessage(ctx, local.ID); err != nil {
		log.WithError(err).WithField("copy_id", local.ID).Warn("Failed to drop copy of ignored task")
		return
	}
	log.WithFields(logrus.Fields{"task_id": task.ID, "copy_id": local.ID}).Debug("Dropped copy of ignored task")
}

func (q *Queue) finish(ctx context.Context, task *types.Task, status types.TaskStatus, reason string, log *logrus.Entry) types.TaskStatus {
	if err := q.store.SetTaskStatus(ctx, task.ID, status, reason); err != nil {
		log.WithError(err).Error("Failed to record task status")
	}
	task.Status = status
	log.WithField("status", status).Debug("Finished task")
	return status
}

func (q *Queue) fail(ctx context.Context, task *types.Task, cause error, retries int, log *logrus.Entry) types.TaskStatus {
	log.WithError(cause).WithField("retries", retries).Warn("Task failed")
	if err := q.store.FailTask(ctx, task.ID, cause.Error(), retries); err != nil {
		log.WithError(err).Error("Failed to record task failure")
	}
	task.Status = types.TaskError
	task.Retries = retries
	task.Reason = cause.Error()
	return types.TaskError
}

// Retry puts a failed task back in the queue if it has attempts left
func (q *Queue) Retry(ctx context.Context, taskID int64) (*types.Task, error) {
	task, err := q.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != types.TaskError {
		return task, fmt.Errorf("task %d is %s: %w", taskID, task.Status, ErrNotRetryable)
	}
	if task.Retries >= MaxRetries {
		return task, fmt.Errorf("task %d failed %d times: %w", taskID, task.Retries, ErrRetryLimit)
	}

	ok, err := q.store.ResetForRetry(ctx, taskID, MaxRetries)
	if err != nil {
		return task, err
	}
	if !ok {
		return task, fmt.Errorf("task %d changed while retrying: %w", taskID, ErrNotRetryable)
	}
	return q.store.GetTask(ctx, taskID)
}
