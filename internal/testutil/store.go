// Package testutil provides the in-memory cache and fake mailbox used by
// package tests.
package testutil

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-sync/internal/cache"
	"github.com/brandon/mail-sync/internal/config"
	"github.com/brandon/mail-sync/pkg/types"
)

// NewLogger returns a logger that discards its output
func NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.DebugLevel)
	return logger
}

// NewTestStore creates an in-memory store with the schema applied.
// It automatically closes the cache when the test completes.
func NewTestStore(t *testing.T) *cache.Store {
	t.Helper()

	logger := NewLogger()
	c, err := cache.NewCache(":memory:", logger)
	if err != nil {
		t.Fatalf("creating test cache: %v", err)
	}

	t.Cleanup(func() {
		if err := c.Close(); err != nil {
			t.Errorf("closing test cache: %v", err)
		}
	})

	return cache.NewStore(c, logger)
}

// SeedAccount saves an account named name and returns its id
func SeedAccount(t *testing.T, s *cache.Store, name string) int64 {
	t.Helper()

	id, err := s.UpsertAccount(context.Background(), &config.AccountConfig{
		Name:         name,
		Email:        name + "@example.com",
		Active:       true,
		IMAPHost:     "imap.example.com",
		IMAPPort:     993,
		IMAPUsername: name,
		SMTPHost:     "smtp.example.com",
		SMTPPort:     587,
		SMTPUsername: name,
	})
	if err != nil {
		t.Fatalf("seeding account: %v", err)
	}
	return id
}

// SeedFolder saves a live folder and returns its id
func SeedFolder(t *testing.T, s *cache.Store, accountID int64, name string) int64 {
	t.Helper()

	id, err := s.InsertFolder(context.Background(), &types.Folder{AccountID: accountID, Name: name})
	if err != nil {
		t.Fatalf("seeding folder: %v", err)
	}
	return id
}

// MessageOption customizes a seeded message
type MessageOption func(*types.Message)

// WithMessageID sets the Message-ID header
func WithMessageID(id string) MessageOption {
	return func(m *types.Message) { m.MessageID = id }
}

// WithReferences sets In-Reply-To to the last reference and References to all
func WithReferences(refs ...string) MessageOption {
	return func(m *types.Message) {
		m.References = refs
		if len(refs) > 0 {
			m.InReplyTo = refs[len(refs)-1]
		}
	}
}

// WithSubject sets the subject
func WithSubject(subject string) MessageOption {
	return func(m *types.Message) { m.Subject = subject }
}

// WithDate sets the sent date
func WithDate(date time.Time) MessageOption {
	return func(m *types.Message) { m.Date = date }
}

// WithFlags sets the flag set
func WithFlags(flags types.Flags) MessageOption {
	return func(m *types.Message) { m.Flags = flags }
}

// WithParticipants sets the sender and recipients
func WithParticipants(from string, to ...string) MessageOption {
	return func(m *types.Message) {
		m.From = types.Address{Email: from}
		m.To = nil
		for _, addr := range to {
			m.To = append(m.To, types.Address{Email: addr})
		}
	}
}

// SeedMessage saves a synced message with the given UID and returns it
func SeedMessage(t *testing.T, s *cache.Store, accountID, folderID int64, uid uint32, opts ...MessageOption) *types.Message {
	t.Helper()

	m := &types.Message{
		AccountID: accountID,
		FolderID:  folderID,
		UniqueID:  &uid,
		Subject:   "message",
		From:      types.Address{Email: "sender@example.com"},
		Date:      time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		Size:      100,
	}
	for _, opt := range opts {
		opt(m)
	}
	if _, err := s.UpsertMessage(context.Background(), m); err != nil {
		t.Fatalf("seeding message: %v", err)
	}
	return m
}
