package worker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mail-sync/internal/actions"
	"github.com/brandon/mail-sync/internal/cache"
	"github.com/brandon/mail-sync/internal/config"
	"github.com/brandon/mail-sync/internal/email"
	"github.com/brandon/mail-sync/internal/mailsync"
	"github.com/brandon/mail-sync/internal/metrics"
	mstest "github.com/brandon/mail-sync/internal/testutil"
	"github.com/brandon/mail-sync/internal/worker"
)

func TestRunCycle(t *testing.T) {
	s := mstest.NewTestStore(t)
	ctx := context.Background()
	logger := mstest.NewLogger()
	accountID := mstest.SeedAccount(t, s, "work")
	account, err := s.GetAccount(ctx, accountID)
	require.NoError(t, err)

	inbox := mstest.SeedFolder(t, s, accountID, "INBOX")
	local := mstest.SeedMessage(t, s, accountID, inbox, 1, mstest.WithMessageID("old@example.com"))

	start := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	mbox := mstest.NewFakeMailbox("INBOX", "[Gmail]", "Broken")
	mbox.AddMessage("INBOX", &email.RemoteMessage{UID: 1, MessageID: "old@example.com", Subject: "message"})
	mbox.AddMessage("INBOX", &email.RemoteMessage{UID: 2, MessageID: "a@example.com", Subject: "Launch", Date: start})
	mbox.AddMessage("INBOX", &email.RemoteMessage{UID: 3, MessageID: "b@example.com", Subject: "Re: Launch",
		Date: start.Add(time.Hour), InReplyTo: "a@example.com", References: []string{"a@example.com"}})
	mbox.AddMessage("[Gmail]", &email.RemoteMessage{UID: 1, MessageID: "virtual@example.com"})
	mbox.SelectErrors["Broken"] = errors.New("mailbox unavailable")

	_, err = actions.NewRecorder(s, logger).NewBatch(accountID).MarkRead(ctx, local.ID)
	require.NoError(t, err)

	cfg := &config.Config{IgnoreFolders: []string{"[Gmail]"}, SyncInterval: time.Minute}
	m := metrics.New()
	w, err := worker.New(s, cfg, account, mbox, nil, m, logger)
	require.NoError(t, err)

	res, err := w.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Tasks.Done)
	assert.Equal(t, 2, res.Folders.Added)
	assert.Equal(t, 2, res.Messages.Downloaded)
	assert.Equal(t, 1, res.FailedFolders)
	count, err := testutil.GatherAndCount(m.Registry(), "mailsync_folder_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// the task reached the server before the flag re-sync
	assert.True(t, mbox.Message("INBOX", 1).HasFlag(imap.SeenFlag))
	got, err := s.GetMessage(ctx, local.ID)
	require.NoError(t, err)
	assert.True(t, got.Flags.Seen)

	subject := "Launch"
	members, err := s.Search(ctx, cache.SearchOptions{AccountID: &accountID, Subject: &subject})
	require.NoError(t, err)
	require.Len(t, members, 2)
	require.NotNil(t, members[0].ThreadID)
	require.NotNil(t, members[1].ThreadID)
	assert.Equal(t, *members[0].ThreadID, *members[1].ThreadID)

	second, err := w.RunCycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, second.Messages.Downloaded)
	assert.Zero(t, second.Messages.FlagWrites)
	assert.Zero(t, second.Threads.Changed)

	mbox.RemoveMessage("INBOX", 2)
	mbox.RemoveFolder("Broken")
	mbox.AddFolder("Archive")
	third, err := w.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, &mailsync.FolderResult{Added: 1, Removed: 1}, third.Folders)
	assert.Equal(t, 1, third.Messages.Deleted)
	assert.Zero(t, third.FailedFolders)
}

func TestRunStopsOnCancel(t *testing.T) {
	s := mstest.NewTestStore(t)
	accountID := mstest.SeedAccount(t, s, "work")
	account, err := s.GetAccount(context.Background(), accountID)
	require.NoError(t, err)

	cfg := &config.Config{SyncInterval: time.Hour}
	w, err := worker.New(s, cfg, account, mstest.NewFakeMailbox("INBOX"), nil, nil, mstest.NewLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}
