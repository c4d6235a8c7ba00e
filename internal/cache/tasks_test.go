package cache_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mail-sync/internal/cache"
	"github.com/brandon/mail-sync/internal/testutil"
	"github.com/brandon/mail-sync/pkg/types"
)

func TestCreateTaskValidation(t *testing.T) {
	s, accountID, folderID := seedFolder(t)
	m := testutil.SeedMessage(t, s, accountID, folderID, 1)
	ctx := context.Background()

	tests := []struct {
		name string
		task types.Task
	}{
		{"unknown type", types.Task{AccountID: accountID, MessageID: m.ID, Type: "archive"}},
		{"missing account", types.Task{MessageID: m.ID, Type: types.TaskRead}},
		{"missing message", types.Task{AccountID: accountID, Type: types.TaskRead}},
		{"copy without target", types.Task{AccountID: accountID, MessageID: m.ID, Type: types.TaskCopy}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CreateTask(ctx, &tt.task)
			assert.True(t, cache.IsValidation(err), "got %v", err)
		})
	}
}

func TestTaskLifecycle(t *testing.T) {
	s, accountID, folderID := seedFolder(t)
	m := testutil.SeedMessage(t, s, accountID, folderID, 1)
	ctx := context.Background()

	first := &types.Task{AccountID: accountID, MessageID: m.ID, BatchID: "b1", Type: types.TaskRead}
	second := &types.Task{AccountID: accountID, MessageID: m.ID, BatchID: "b1", Type: types.TaskFlag}
	_, err := s.CreateTask(ctx, first)
	require.NoError(t, err)
	_, err = s.CreateTask(ctx, second)
	require.NoError(t, err)

	pending, err := s.PendingTasks(ctx, accountID)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, types.TaskNew, pending[0].Status)

	batch, err := s.TasksByBatch(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, second.ID, batch[0].ID)

	require.NoError(t, s.FailTask(ctx, first.ID, "connection reset", 1))
	got, err := s.GetTask(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskError, got.Status)
	assert.Equal(t, "connection reset", got.Reason)

	reset, err := s.ResetForRetry(ctx, first.ID, 3)
	require.NoError(t, err)
	assert.True(t, reset)

	require.NoError(t, s.FailTask(ctx, first.ID, "connection reset", 3))
	reset, err = s.ResetForRetry(ctx, first.ID, 3)
	require.NoError(t, err)
	assert.False(t, reset)

	require.NoError(t, s.MarkTasks(ctx, []int64{first.ID, second.ID}, types.TaskIgnored))
	pending, err = s.PendingTasks(ctx, accountID)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = s.GetTask(ctx, 12345)
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestUpsertContactsAddsTally(t *testing.T) {
	s, accountID, _ := seedFolder(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertContacts(ctx, accountID, []types.Contact{
		{Address: "Alice@Example.com", Name: "Alice", Tally: 2},
		{Address: "bob@example.com", Tally: 3},
	}))
	require.NoError(t, s.UpsertContacts(ctx, accountID, []types.Contact{
		{Address: "alice@example.com", Tally: 4},
	}))

	contacts, err := s.GetContacts(ctx, accountID)
	require.NoError(t, err)
	require.Len(t, contacts, 2)
	assert.Equal(t, "alice@example.com", contacts[0].Address)
	assert.Equal(t, 6, contacts[0].Tally)
	assert.Equal(t, "Alice", contacts[0].Name)
	assert.Equal(t, 3, contacts[1].Tally)
}
