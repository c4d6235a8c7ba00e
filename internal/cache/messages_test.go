package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mail-sync/internal/cache"
	"github.com/brandon/mail-sync/internal/testutil"
	"github.com/brandon/mail-sync/pkg/types"
)

func seedFolder(t *testing.T) (*cache.Store, int64, int64) {
	t.Helper()
	s := testutil.NewTestStore(t)
	accountID := testutil.SeedAccount(t, s, "work")
	return s, accountID, testutil.SeedFolder(t, s, accountID, "INBOX")
}

func TestUpsertMessageByNaturalKey(t *testing.T) {
	s, accountID, folderID := seedFolder(t)
	ctx := context.Background()

	m := testutil.SeedMessage(t, s, accountID, folderID, 42,
		testutil.WithMessageID("a@example.com"),
		testutil.WithReferences("root@example.com", "parent@example.com"),
		testutil.WithParticipants("alice@example.com", "bob@example.com"))

	uid := uint32(42)
	again := &types.Message{
		AccountID: accountID,
		FolderID:  folderID,
		UniqueID:  &uid,
		MessageID: "a@example.com",
		Subject:   "changed",
		Flags:     types.Flags{Seen: true},
	}
	id, err := s.UpsertMessage(ctx, again)
	require.NoError(t, err)
	assert.Equal(t, m.ID, id)

	got, err := s.GetMessage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "changed", got.Subject)
	assert.True(t, got.Flags.Seen)
	assert.True(t, got.Synced)
	require.NotNil(t, got.UniqueID)
	assert.Equal(t, uint32(42), *got.UniqueID)
}

func TestUpsertMessageKeepsThreadID(t *testing.T) {
	s, accountID, folderID := seedFolder(t)
	ctx := context.Background()

	m := testutil.SeedMessage(t, s, accountID, folderID, 1)
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.SetThreadID(ctx, m.ID, 99))
	require.NoError(t, tx.Commit())

	testutil.SeedMessage(t, s, accountID, folderID, 1, testutil.WithSubject("resynced"))

	got, err := s.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ThreadID)
	assert.Equal(t, int64(99), *got.ThreadID)
}

func TestUpsertMessageValidation(t *testing.T) {
	s, accountID, folderID := seedFolder(t)

	_, err := s.UpsertMessage(context.Background(), &types.Message{AccountID: accountID, FolderID: folderID})
	assert.True(t, cache.IsValidation(err))
}

func TestMarkDeletedAndSyncedUIDs(t *testing.T) {
	s, accountID, folderID := seedFolder(t)
	ctx := context.Background()
	for _, uid := range []uint32{10, 11, 12} {
		testutil.SeedMessage(t, s, accountID, folderID, uid)
	}

	n, err := s.MarkDeleted(ctx, accountID, folderID, []uint32{11})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.MarkDeleted(ctx, accountID, folderID, []uint32{11})
	require.NoError(t, err)
	assert.Zero(t, n)

	uids, err := s.GetSyncedUIDs(ctx, accountID, folderID)
	require.NoError(t, err)
	assert.Equal(t, []uint32{10, 11, 12}, uids)

	states, err := s.GetFlagStates(ctx, accountID, folderID)
	require.NoError(t, err)
	assert.Len(t, states, 2)
}

func TestSetFlagSkipsUnchangedRows(t *testing.T) {
	s, accountID, folderID := seedFolder(t)
	ctx := context.Background()
	a := testutil.SeedMessage(t, s, accountID, folderID, 1, testutil.WithFlags(types.Flags{Seen: true}))
	b := testutil.SeedMessage(t, s, accountID, folderID, 2)

	n, err := s.SetFlag(ctx, []int64{a.ID, b.ID}, cache.FlagSeen, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.SetFlag(ctx, []int64{a.ID}, "draft; DROP TABLE messages", true)
	assert.Error(t, err)
}

func TestLocalCopyLifecycle(t *testing.T) {
	s, accountID, folderID := seedFolder(t)
	ctx := context.Background()
	archive := testutil.SeedFolder(t, s, accountID, "Archive")
	m := testutil.SeedMessage(t, s, accountID, folderID, 7, testutil.WithMessageID("copy@example.com"))

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	copyID, err := tx.InsertLocalCopy(ctx, m, archive)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	found, err := s.FindLocalCopy(ctx, archive, "copy@example.com")
	require.NoError(t, err)
	assert.Equal(t, copyID, found.ID)
	assert.False(t, found.HasUniqueID())
	assert.False(t, found.Synced)

	require.NoError(t, s.DeleteMessage(ctx, copyID))
	_, err = s.GetMessage(ctx, copyID)
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestThreadBatchPagesByID(t *testing.T) {
	s, accountID, folderID := seedFolder(t)
	ctx := context.Background()
	var ids []int64
	for uid := uint32(1); uid <= 5; uid++ {
		m := testutil.SeedMessage(t, s, accountID, folderID, uid,
			testutil.WithDate(time.Date(2024, 2, int(uid), 0, 0, 0, 0, time.UTC)))
		ids = append(ids, m.ID)
	}

	first, err := s.ThreadBatch(ctx, accountID, 0, 3)
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.Equal(t, ids[0], first[0].ID)

	rest, err := s.ThreadBatch(ctx, accountID, first[2].ID, 3)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, ids[4], rest[1].ID)
	assert.Equal(t, 5, rest[1].Date.Day())
}

func TestSearchAndThreadMembers(t *testing.T) {
	s, accountID, folderID := seedFolder(t)
	ctx := context.Background()
	a := testutil.SeedMessage(t, s, accountID, folderID, 1, testutil.WithSubject("Quarterly report"))
	testutil.SeedMessage(t, s, accountID, folderID, 2, testutil.WithSubject("Lunch"))

	subject := "report"
	results, err := s.Search(ctx, cache.SearchOptions{AccountID: &accountID, Subject: &subject})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, a.ID, results[0].ID)
	assert.Equal(t, "INBOX", results[0].FolderName)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.SetThreadID(ctx, a.ID, a.ID))
	require.NoError(t, tx.Commit())

	members, err := s.ThreadMembers(ctx, accountID, a.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "Quarterly report", members[0].Subject)
}
