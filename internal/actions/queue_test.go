package actions_test

import (
	"context"
	"errors"
	"testing"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mail-sync/internal/actions"
	"github.com/brandon/mail-sync/internal/cache"
	"github.com/brandon/mail-sync/internal/checkpoint"
	"github.com/brandon/mail-sync/internal/email"
	"github.com/brandon/mail-sync/internal/mailsync"
	"github.com/brandon/mail-sync/internal/metrics"
	"github.com/brandon/mail-sync/internal/testutil"
	"github.com/brandon/mail-sync/pkg/types"
)

type fakeSender struct {
	sent []*email.OutgoingMessage
	err  error
}

func (f *fakeSender) Send(msg *email.OutgoingMessage) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

type env struct {
	store    *cache.Store
	account  *types.Account
	inbox    int64
	archive  int64
	mbox     *testutil.FakeMailbox
	sender   *fakeSender
	recorder *actions.Recorder
	queue    *actions.Queue
	rollback *actions.Rollback
}

func newEnv(t *testing.T) *env {
	t.Helper()
	s := testutil.NewTestStore(t)
	accountID := testutil.SeedAccount(t, s, "work")
	account, err := s.GetAccount(context.Background(), accountID)
	require.NoError(t, err)
	logger := testutil.NewLogger()

	return &env{
		store:    s,
		account:  account,
		inbox:    testutil.SeedFolder(t, s, accountID, "INBOX"),
		archive:  testutil.SeedFolder(t, s, accountID, "Archive"),
		mbox:     testutil.NewFakeMailbox("INBOX", "Archive"),
		sender:   &fakeSender{},
		recorder: actions.NewRecorder(s, logger),
		queue:    actions.NewQueue(s, checkpoint.New(0), metrics.New(), logger),
		rollback: actions.NewRollback(s, 2, logger),
	}
}

// message seeds a synced INBOX message and its server twin
func (e *env) message(t *testing.T, uid uint32, flags ...string) *types.Message {
	t.Helper()
	remote := &email.RemoteMessage{UID: uid, MessageID: "m" + string(rune('a'+uid)) + "@example.com", Flags: flags}
	e.mbox.AddMessage("INBOX", remote)
	return testutil.SeedMessage(t, e.store, e.account.ID, e.inbox, uid,
		testutil.WithMessageID(remote.MessageID),
		testutil.WithFlags(types.Flags{
			Seen:    remote.HasFlag(imap.SeenFlag),
			Flagged: remote.HasFlag(imap.FlaggedFlag),
		}))
}

func (e *env) run(t *testing.T) *actions.QueueResult {
	t.Helper()
	res, err := e.queue.Run(context.Background(), e.mbox, e.sender, e.account)
	require.NoError(t, err)
	return res
}

func (e *env) task(t *testing.T, id int64) *types.Task {
	t.Helper()
	task, err := e.store.GetTask(context.Background(), id)
	require.NoError(t, err)
	return task
}

func (e *env) stored(t *testing.T, id int64) *types.Message {
	t.Helper()
	m, err := e.store.GetMessage(context.Background(), id)
	require.NoError(t, err)
	return m
}

func TestBatchRecordsLocalChangeAndTask(t *testing.T) {
	e := newEnv(t)
	m := e.message(t, 5)
	ctx := context.Background()

	batch := e.recorder.NewBatch(e.account.ID)
	assert.NotEmpty(t, batch.ID)
	task, err := batch.MarkRead(ctx, m.ID)
	require.NoError(t, err)

	assert.True(t, e.stored(t, m.ID).Flags.Seen)
	saved := e.task(t, task.ID)
	assert.Equal(t, types.TaskRead, saved.Type)
	assert.Equal(t, types.TaskNew, saved.Status)
	assert.Equal(t, 0, saved.OldValue)
	assert.Equal(t, batch.ID, saved.BatchID)

	_, err = batch.MarkRead(ctx, 9999)
	assert.ErrorIs(t, err, cache.ErrNotFound)

	other := e.recorder.NewBatch(e.account.ID + 1)
	_, err = other.Flag(ctx, m.ID)
	assert.True(t, cache.IsValidation(err))
}

func TestQueueExecutesFlagTask(t *testing.T) {
	e := newEnv(t)
	m := e.message(t, 5)

	task, err := e.recorder.NewBatch(e.account.ID).Flag(context.Background(), m.ID)
	require.NoError(t, err)

	res := e.run(t)
	assert.Equal(t, 1, res.Done)
	assert.Equal(t, types.TaskDone, e.task(t, task.ID).Status)
	assert.True(t, e.mbox.Message("INBOX", 5).HasFlag(imap.FlaggedFlag))

	again := e.run(t)
	assert.Zero(t, again.Done)
}

func TestQueueCompactsInversePair(t *testing.T) {
	e := newEnv(t)
	m := e.message(t, 5)
	ctx := context.Background()

	batch := e.recorder.NewBatch(e.account.ID)
	flag, err := batch.Flag(ctx, m.ID)
	require.NoError(t, err)
	unflag, err := batch.Unflag(ctx, m.ID)
	require.NoError(t, err)

	res := e.run(t)
	assert.Equal(t, 2, res.Compacted)
	assert.Equal(t, types.TaskIgnored, e.task(t, flag.ID).Status)
	assert.Equal(t, types.TaskIgnored, e.task(t, unflag.ID).Status)
	assert.Zero(t, e.mbox.CallCount("AddFlags"))
	assert.Zero(t, e.mbox.CallCount("RemoveFlags"))
}

func TestQueueUIDMismatchIsHardFailure(t *testing.T) {
	e := newEnv(t)
	m := e.message(t, 5)
	e.mbox.UIDOverride[5] = 6

	task, err := e.recorder.NewBatch(e.account.ID).MarkRead(context.Background(), m.ID)
	require.NoError(t, err)

	res := e.run(t)
	assert.Equal(t, 1, res.Failed)
	failed := e.task(t, task.ID)
	assert.Equal(t, types.TaskError, failed.Status)
	assert.Equal(t, actions.MaxRetries, failed.Retries)
	assert.Contains(t, failed.Reason, "does not match")
	assert.False(t, e.mbox.Message("INBOX", 5).HasFlag(imap.SeenFlag))

	_, err = e.queue.Retry(context.Background(), task.ID)
	assert.ErrorIs(t, err, actions.ErrRetryLimit)
}

func TestQueueRetryIsBounded(t *testing.T) {
	e := newEnv(t)
	m := e.message(t, 5)
	e.mbox.FetchErrors[5] = errors.New("connection reset")
	ctx := context.Background()

	task, err := e.recorder.NewBatch(e.account.ID).MarkRead(ctx, m.ID)
	require.NoError(t, err)

	for attempt := 1; attempt <= actions.MaxRetries; attempt++ {
		e.run(t)
		failed := e.task(t, task.ID)
		require.Equal(t, types.TaskError, failed.Status)
		require.Equal(t, attempt, failed.Retries)
		assert.Equal(t, "connection reset", failed.Reason)

		_, err := e.queue.Retry(ctx, task.ID)
		if attempt < actions.MaxRetries {
			require.NoError(t, err)
			assert.Equal(t, types.TaskNew, e.task(t, task.ID).Status)
		} else {
			assert.ErrorIs(t, err, actions.ErrRetryLimit)
		}
	}
	assert.Equal(t, types.TaskError, e.task(t, task.ID).Status)
}

func TestRetryRecoversAndRejectsFinishedTasks(t *testing.T) {
	e := newEnv(t)
	m := e.message(t, 5)
	e.mbox.FetchErrors[5] = errors.New("connection reset")
	ctx := context.Background()

	task, err := e.recorder.NewBatch(e.account.ID).MarkRead(ctx, m.ID)
	require.NoError(t, err)
	e.run(t)

	_, err = e.queue.Retry(ctx, task.ID)
	require.NoError(t, err)
	delete(e.mbox.FetchErrors, 5)
	e.run(t)
	assert.Equal(t, types.TaskDone, e.task(t, task.ID).Status)

	_, err = e.queue.Retry(ctx, task.ID)
	assert.ErrorIs(t, err, actions.ErrNotRetryable)
	_, err = e.queue.Retry(ctx, 9999)
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestQueueCopyAndUnconfirmedCopy(t *testing.T) {
	e := newEnv(t)
	m := e.message(t, 5)
	ctx := context.Background()

	batch := e.recorder.NewBatch(e.account.ID)
	copyTask, err := batch.Copy(ctx, m.ID, e.archive)
	require.NoError(t, err)

	local, err := e.store.FindLocalCopy(ctx, e.archive, m.MessageID)
	require.NoError(t, err)
	assert.False(t, local.HasUniqueID())

	flagCopy, err := batch.Flag(ctx, local.ID)
	require.NoError(t, err)

	res := e.run(t)
	assert.Equal(t, 1, res.Done)
	assert.Equal(t, 1, res.Ignored)
	assert.Equal(t, types.TaskDone, e.task(t, copyTask.ID).Status)
	assert.Equal(t, types.TaskIgnored, e.task(t, flagCopy.ID).Status)
	assert.NotNil(t, e.mbox.Message("Archive", 1))

	_, err = batch.Copy(ctx, m.ID, e.inbox)
	assert.True(t, cache.IsValidation(err))
}

func TestQueueExpungesEachFolderOnce(t *testing.T) {
	e := newEnv(t)
	first := e.message(t, 5)
	second := e.message(t, 6)
	ctx := context.Background()

	batch := e.recorder.NewBatch(e.account.ID)
	_, err := batch.Delete(ctx, first.ID)
	require.NoError(t, err)
	_, err = batch.Delete(ctx, second.ID)
	require.NoError(t, err)

	res := e.run(t)
	assert.Equal(t, 2, res.Done)
	assert.Equal(t, 1, res.Expunged)
	assert.Equal(t, []string{"INBOX"}, e.mbox.Expunged)
	assert.Nil(t, e.mbox.Message("INBOX", 5))
	assert.Nil(t, e.mbox.Message("INBOX", 6))
}

func TestQueueFailsTaskForMissingMessage(t *testing.T) {
	e := newEnv(t)
	m := e.message(t, 5)
	ctx := context.Background()

	task, err := e.recorder.NewBatch(e.account.ID).Flag(ctx, m.ID)
	require.NoError(t, err)
	require.NoError(t, e.store.DeleteMessage(ctx, m.ID))

	res := e.run(t)
	assert.Equal(t, 1, res.Failed)
	failed := e.task(t, task.ID)
	assert.Equal(t, types.TaskError, failed.Status)
	assert.Contains(t, failed.Reason, "not found")
}

func TestQueueSendsOutboxMessage(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sent := testutil.SeedFolder(t, e.store, e.account.ID, "Sent")

	task, err := e.recorder.NewBatch(e.account.ID).Send(ctx, sent, &types.Message{
		Subject:  "Lunch",
		To:       []types.Address{{Email: "bob@example.com"}},
		BodyText: "Noon?",
	})
	require.NoError(t, err)

	res := e.run(t)
	assert.Equal(t, 1, res.Done)
	assert.Equal(t, types.TaskDone, e.task(t, task.ID).Status)
	require.Len(t, e.sender.sent, 1)
	out := e.sender.sent[0]
	assert.Equal(t, "work@example.com", out.From)
	assert.Equal(t, []string{"bob@example.com"}, out.To)
	assert.Equal(t, "Lunch", out.Subject)
	assert.NotEmpty(t, out.MessageID)
}

func TestQueueSkipsDiscardedOutboxMessage(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sent := testutil.SeedFolder(t, e.store, e.account.ID, "Sent")

	batch := e.recorder.NewBatch(e.account.ID)
	send, err := batch.Send(ctx, sent, &types.Message{
		Subject: "Offer",
		To:      []types.Address{{Email: "bob@example.com"}},
	})
	require.NoError(t, err)
	discard, err := e.recorder.NewBatch(e.account.ID).DeleteOutbox(ctx, send.MessageID)
	require.NoError(t, err)

	res := e.run(t)
	assert.Zero(t, res.Done)
	assert.Equal(t, 2, res.Ignored)
	assert.Empty(t, e.sender.sent)
	skipped := e.task(t, send.ID)
	assert.Equal(t, types.TaskIgnored, skipped.Status)
	assert.Contains(t, skipped.Reason, "discarded")
	assert.Equal(t, types.TaskIgnored, e.task(t, discard.ID).Status)
}

func TestQueueDropsCopyOfRepeatedCopy(t *testing.T) {
	e := newEnv(t)
	m := e.message(t, 5)
	ctx := context.Background()

	batch := e.recorder.NewBatch(e.account.ID)
	first, err := batch.Copy(ctx, m.ID, e.archive)
	require.NoError(t, err)
	second, err := batch.Copy(ctx, m.ID, e.archive)
	require.NoError(t, err)
	require.NotNil(t, first.CopyID)
	require.NotNil(t, second.CopyID)

	res := e.run(t)
	assert.Equal(t, 1, res.Compacted)
	assert.Equal(t, 1, res.Done)
	assert.Equal(t, types.TaskIgnored, e.task(t, second.ID).Status)
	_, err = e.store.GetMessage(ctx, *second.CopyID)
	assert.ErrorIs(t, err, cache.ErrNotFound)
	assert.False(t, e.stored(t, *first.CopyID).HasUniqueID())

	archive, err := e.store.GetFolder(ctx, e.archive)
	require.NoError(t, err)
	sync := mailsync.NewMessageSync(e.store, checkpoint.New(0), nil, testutil.NewLogger())
	_, err = sync.Run(ctx, e.mbox, e.account, archive)
	require.NoError(t, err)

	rows, err := e.store.Search(ctx, cache.SearchOptions{AccountID: &e.account.ID, FolderID: &e.archive})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	confirmed := e.task(t, first.ID)
	require.NotNil(t, confirmed.CopyID)
	assert.Equal(t, rows[0].ID, *confirmed.CopyID)
	assert.True(t, e.stored(t, rows[0].ID).HasUniqueID())

	n, err := e.rollback.Batch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, e.stored(t, rows[0].ID).Flags.Deleted)
	pending, err := e.store.PendingTasks(ctx, e.account.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, types.TaskDelete, pending[0].Type)
	assert.Equal(t, rows[0].ID, pending[0].MessageID)
}
