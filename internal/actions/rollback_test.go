package actions_test

import (
	"context"
	"testing"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mail-sync/internal/cache"
	"github.com/brandon/mail-sync/internal/testutil"
	"github.com/brandon/mail-sync/pkg/types"
)

func TestRollbackBatchOfExecutedFlag(t *testing.T) {
	e := newEnv(t)
	m := e.message(t, 5)
	ctx := context.Background()

	batch := e.recorder.NewBatch(e.account.ID)
	task, err := batch.Flag(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, task.OldValue)
	e.run(t)
	require.Equal(t, types.TaskDone, e.task(t, task.ID).Status)

	n, err := e.rollback.Batch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, e.stored(t, m.ID).Flags.Flagged)
	assert.Equal(t, types.TaskReverted, e.task(t, task.ID).Status)

	pending, err := e.store.PendingTasks(ctx, e.account.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, types.TaskUnflag, pending[0].Type)
	assert.Equal(t, 1, pending[0].OldValue)
	assert.NotEqual(t, batch.ID, pending[0].BatchID)

	e.run(t)
	assert.False(t, e.mbox.Message("INBOX", 5).HasFlag(imap.FlaggedFlag))
}

func TestRollbackAllDiscardsPendingTasks(t *testing.T) {
	e := newEnv(t)
	seen := e.message(t, 5, imap.SeenFlag)
	other := e.message(t, 6)
	ctx := context.Background()

	batch := e.recorder.NewBatch(e.account.ID)
	unread, err := batch.MarkUnread(ctx, seen.ID)
	require.NoError(t, err)
	deleted, err := batch.Delete(ctx, other.ID)
	require.NoError(t, err)
	copied, err := batch.Copy(ctx, other.ID, e.archive)
	require.NoError(t, err)

	n, err := e.rollback.All(ctx, e.account.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.True(t, e.stored(t, seen.ID).Flags.Seen)
	assert.False(t, e.stored(t, other.ID).Flags.Deleted)
	_, err = e.store.FindLocalCopy(ctx, e.archive, other.MessageID)
	assert.ErrorIs(t, err, cache.ErrNotFound)

	for _, id := range []int64{unread.ID, deleted.ID, copied.ID} {
		assert.Equal(t, types.TaskReverted, e.task(t, id).Status)
	}
	pending, err := e.store.PendingTasks(ctx, e.account.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRollbackBatchRestoresOldestValue(t *testing.T) {
	e := newEnv(t)
	m := e.message(t, 5)
	ctx := context.Background()

	batch := e.recorder.NewBatch(e.account.ID)
	_, err := batch.MarkRead(ctx, m.ID)
	require.NoError(t, err)
	_, err = batch.MarkUnread(ctx, m.ID)
	require.NoError(t, err)
	_, err = batch.MarkRead(ctx, m.ID)
	require.NoError(t, err)

	n, err := e.rollback.Batch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.False(t, e.stored(t, m.ID).Flags.Seen)
}

func TestRollbackBatchLeavesFailedTasks(t *testing.T) {
	e := newEnv(t)
	m := e.message(t, 5)
	e.mbox.UIDOverride[5] = 9
	ctx := context.Background()

	batch := e.recorder.NewBatch(e.account.ID)
	task, err := batch.Flag(ctx, m.ID)
	require.NoError(t, err)
	e.run(t)

	n, err := e.rollback.Batch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, types.TaskError, e.task(t, task.ID).Status)
	assert.True(t, e.stored(t, m.ID).Flags.Flagged)

	_, err = e.rollback.Batch(ctx, "")
	assert.True(t, cache.IsValidation(err))
}

func TestRollbackBatchOfExecutedCopy(t *testing.T) {
	e := newEnv(t)
	m := e.message(t, 5)
	ctx := context.Background()

	batch := e.recorder.NewBatch(e.account.ID)
	task, err := batch.Copy(ctx, m.ID, e.archive)
	require.NoError(t, err)
	e.run(t)

	n, err := e.rollback.Batch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, types.TaskReverted, e.task(t, task.ID).Status)
	_, err = e.store.FindLocalCopy(ctx, e.archive, m.MessageID)
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestRollbackOfCopyWithoutMessageID(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	m := testutil.SeedMessage(t, e.store, e.account.ID, e.inbox, 7)
	require.Empty(t, m.MessageID)

	batch := e.recorder.NewBatch(e.account.ID)
	task, err := batch.Copy(ctx, m.ID, e.archive)
	require.NoError(t, err)
	require.NotNil(t, task.CopyID)
	assert.Equal(t, e.archive, e.stored(t, *task.CopyID).FolderID)

	n, err := e.rollback.Batch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, types.TaskReverted, e.task(t, task.ID).Status)
	_, err = e.store.GetMessage(ctx, *task.CopyID)
	assert.ErrorIs(t, err, cache.ErrNotFound)
	assert.Equal(t, e.inbox, e.stored(t, m.ID).FolderID)
}

func TestRollbackOfSendRemovesUnsentMessage(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sent := e.inbox

	batch := e.recorder.NewBatch(e.account.ID)
	task, err := batch.Send(ctx, sent, &types.Message{
		Subject: "Draft",
		To:      []types.Address{{Email: "bob@example.com"}},
	})
	require.NoError(t, err)

	n, err := e.rollback.Batch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = e.store.GetMessage(ctx, task.MessageID)
	assert.ErrorIs(t, err, cache.ErrNotFound)
	assert.Empty(t, e.sender.sent)
}
