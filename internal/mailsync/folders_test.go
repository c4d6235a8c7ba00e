package mailsync_test

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mail-sync/internal/checkpoint"
	"github.com/brandon/mail-sync/internal/config"
	"github.com/brandon/mail-sync/internal/mailsync"
	"github.com/brandon/mail-sync/internal/testutil"
)

func TestFolderSyncReconciles(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	accountID := testutil.SeedAccount(t, s, "work")
	account, err := s.GetAccount(ctx, accountID)
	require.NoError(t, err)
	inboxID := testutil.SeedFolder(t, s, accountID, "INBOX")
	testutil.SeedFolder(t, s, accountID, "Old Projects")

	cfg := &config.Config{IgnoreFolders: []string{"[Gmail]"}}
	fs := mailsync.NewFolderSync(s, cfg, checkpoint.New(0), testutil.NewLogger())
	remote := []string{"INBOX", "Archive", "[gmail]", "Archive"}

	res, err := fs.Run(ctx, account, remote)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Added)
	assert.Equal(t, 1, res.Ignored)
	assert.Equal(t, 1, res.Removed)

	folders, err := s.GetFolders(ctx, accountID)
	require.NoError(t, err)
	var names []string
	ignored := map[string]bool{}
	for _, f := range folders {
		names = append(names, f.Name)
		ignored[f.Name] = f.Ignored
		if f.Name == "INBOX" {
			assert.Equal(t, inboxID, f.ID)
		}
	}
	sort.Strings(names)
	assert.Equal(t, []string{"Archive", "INBOX", "[gmail]"}, names)
	assert.True(t, ignored["[gmail]"])
	assert.False(t, ignored["Archive"])

	again, err := fs.Run(ctx, account, remote)
	require.NoError(t, err)
	assert.Equal(t, &mailsync.FolderResult{}, again)
}

func TestFolderSyncReaddsFolderAfterRemoval(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	accountID := testutil.SeedAccount(t, s, "work")
	account, err := s.GetAccount(ctx, accountID)
	require.NoError(t, err)

	fs := mailsync.NewFolderSync(s, &config.Config{}, checkpoint.New(0), testutil.NewLogger())
	_, err = fs.Run(ctx, account, []string{"INBOX", "Trips"})
	require.NoError(t, err)
	_, err = fs.Run(ctx, account, []string{"INBOX"})
	require.NoError(t, err)

	res, err := fs.Run(ctx, account, []string{"INBOX", "Trips"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)

	_, err = fs.Run(context.Background(), account, nil)
	require.NoError(t, err)
	folders, err := s.GetFolders(ctx, accountID)
	require.NoError(t, err)
	assert.Empty(t, folders)
}
