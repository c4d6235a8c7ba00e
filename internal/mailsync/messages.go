package mailsync

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/emersion/go-imap"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-sync/internal/cache"
	"github.com/brandon/mail-sync/internal/checkpoint"
	"github.com/brandon/mail-sync/internal/email"
	"github.com/brandon/mail-sync/internal/metrics"
	"github.com/brandon/mail-sync/pkg/types"
)

// Result counts what one MessageSync run wrote. A run against an unchanged
// folder writes nothing.
type Result struct {
	Downloaded int
	Skipped    int
	Deleted    int
	FlagWrites int
	StatWrites int
}

// Writes returns the number of rows written
func (r *Result) Writes() int {
	return r.Downloaded + r.Deleted + r.FlagWrites + r.StatWrites
}

// syncedFlags are the flags re-synced from the server on every run
var syncedFlags = []struct {
	imap   string
	column string
}{
	{imap.SeenFlag, cache.FlagSeen},
	{imap.FlaggedFlag, cache.FlagFlagged},
}

// MessageSync mirrors the messages and flags of one folder
type MessageSync struct {
	store   *cache.Store
	cp      *checkpoint.Checkpoint
	metrics *metrics.Metrics
	logger  *logrus.Logger
}

// NewMessageSync creates a message synchronizer
func NewMessageSync(store *cache.Store, cp *checkpoint.Checkpoint, m *metrics.Metrics, logger *logrus.Logger) *MessageSync {
	return &MessageSync{
		store:   store,
		cp:      cp,
		metrics: m,
		logger:  logger,
	}
}

// Run downloads messages the mirror lacks, newest first, marks messages the
// server no longer has as deleted and re-syncs the seen and flagged flags.
// Failures selecting the folder or listing it are returned; failures on a
// single message are logged and the message is skipped.
func (s *MessageSync) Run(ctx context.Context, mbox email.Mailbox, account *types.Account, folder *types.Folder) (*Result, error) {
	log := s.logger.WithFields(logrus.Fields{"account": account.Name, "folder": folder.Name})

	status, err := mbox.Select(folder.Name)
	if err != nil {
		return nil, err
	}
	remote, err := mbox.ListUIDs()
	if err != nil {
		return nil, err
	}
	local, err := s.store.GetSyncedUIDs(ctx, account.ID, folder.ID)
	if err != nil {
		return nil, err
	}

	toDownload := difference(remote, local)
	toDelete := difference(local, remote)
	sort.Slice(toDownload, func(i, j int) bool { return toDownload[i] > toDownload[j] })

	res := &Result{}
	count := int(status.Messages)

	if len(toDownload) > 0 {
		log.WithField("count", len(toDownload)).Info("Downloading messages")
	}
	for _, uid := range toDownload {
		if s.download(ctx, mbox, account, folder, uid, log) {
			res.Downloaded++
		} else {
			res.Skipped++
		}
		if err := s.updateStats(ctx, folder.ID, count, res); err != nil {
			return res, err
		}
		if err := s.cp.Check(ctx); err != nil {
			return res, err
		}
	}

	if len(toDelete) > 0 {
		n, err := s.store.MarkDeleted(ctx, account.ID, folder.ID, toDelete)
		if err != nil {
			return res, err
		}
		res.Deleted = int(n)
		log.WithField("count", n).Info("Marked vanished messages deleted")
	}

	if err := s.syncFlags(ctx, mbox, account, folder, res); err != nil {
		return res, err
	}
	if err := s.updateStats(ctx, folder.ID, count, res); err != nil {
		return res, err
	}

	log.WithFields(logrus.Fields{
		"downloaded": res.Downloaded,
		"skipped":    res.Skipped,
		"deleted":    res.Deleted,
		"flags":      res.FlagWrites,
	}).Info("Synced folder")
	return res, nil
}

// download fetches and saves one message and reports whether it was saved
func (s *MessageSync) download(ctx context.Context, mbox email.Mailbox, account *types.Account, folder *types.Folder, uid uint32, log *logrus.Entry) bool {
	log = log.WithField("uid", uid)

	seqNum, err := mbox.SeqNumByUID(uid)
	if err != nil {
		log.WithError(err).Warn("Failed to resolve message")
		s.metrics.MessageSkipped(account.Name, "transport")
		return false
	}
	remote, err := mbox.FetchMessage(seqNum)
	if err != nil {
		if email.IsSizeLimit(err) {
			log.WithError(err).Warn("Skipping message over size limit")
			s.metrics.MessageSkipped(account.Name, "size_limit")
			return false
		}
		log.WithError(err).Warn("Failed to fetch message")
		s.metrics.MessageSkipped(account.Name, "transport")
		return false
	}
	if remote.UID != uid {
		log.WithField("fetched_uid", remote.UID).Warn("Fetched message has a different uid, skipping")
		s.metrics.MessageSkipped(account.Name, "uid_mismatch")
		return false
	}

	msg := toMessage(account.ID, folder.ID, remote)
	if _, err := s.store.UpsertMessage(ctx, msg); err != nil {
		log.WithError(err).WithField("message_id", msg.MessageID).Warn("Failed to save message")
		s.metrics.MessageSkipped(account.Name, "invalid")
		return false
	}
	s.confirmLocalCopy(ctx, folder, msg, log)

	log.WithFields(logrus.Fields{
		"id":   msg.ID,
		"size": humanize.IBytes(uint64(msg.Size)),
	}).Debug("Message downloaded")
	s.metrics.MessageDownloaded(account.Name)
	return true
}

// confirmLocalCopy drops the unconfirmed local copy a downloaded message
// replaces: a copy task's row first, else an outgoing message with the same
// Message-ID
func (s *MessageSync) confirmLocalCopy(ctx context.Context, folder *types.Folder, msg *types.Message, log *logrus.Entry) {
	local, err := s.store.FindPendingCopy(ctx, folder.ID, msg)
	if errors.Is(err, cache.ErrNotFound) && msg.MessageID != "" {
		local, err = s.store.FindLocalCopy(ctx, folder.ID, msg.MessageID)
	}
	if err != nil || local.HasUniqueID() {
		return
	}
	if err := s.store.ConfirmCopy(ctx, local.ID, msg.ID); err != nil {
		log.WithError(err).WithField("copy_id", local.ID).Warn("Failed to drop confirmed local copy")
		return
	}
	log.WithField("copy_id", local.ID).Debug("Local copy confirmed")
}

func (s *MessageSync) updateStats(ctx context.Context, folderID int64, count int, res *Result) error {
	changed, err := s.store.UpdateFolderStats(ctx, folderID, count)
	if err != nil {
		return err
	}
	if changed {
		res.StatWrites++
	}
	return nil
}

// syncFlags makes the stored seen and flagged columns match the server. The
// whole folder is compared every run; only differing rows are written.
func (s *MessageSync) syncFlags(ctx context.Context, mbox email.Mailbox, account *types.Account, folder *types.Folder, res *Result) error {
	states, err := s.store.GetFlagStates(ctx, account.ID, folder.ID)
	if err != nil {
		return err
	}

	for _, flag := range syncedFlags {
		lacking, err := mbox.SearchWithout(flag.imap)
		if err != nil {
			return fmt.Errorf("failed to search %s in %s: %w", flag.imap, folder.Name, err)
		}
		without := make(map[uint32]bool, len(lacking))
		for _, uid := range lacking {
			without[uid] = true
		}

		var unset, set []int64
		for _, st := range states {
			have := st.Seen
			if flag.column == cache.FlagFlagged {
				have = st.Flagged
			}
			want := !without[st.UniqueID]
			switch {
			case have && !want:
				unset = append(unset, st.ID)
			case !have && want:
				set = append(set, st.ID)
			}
		}

		if len(unset) > 0 {
			n, err := s.store.SetFlag(ctx, unset, flag.column, false)
			if err != nil {
				return err
			}
			res.FlagWrites += int(n)
		}
		if len(set) > 0 {
			n, err := s.store.SetFlag(ctx, set, flag.column, true)
			if err != nil {
				return err
			}
			res.FlagWrites += int(n)
		}
	}
	return nil
}

// toMessage maps a fetched message onto the stored representation
func toMessage(accountID, folderID int64, r *email.RemoteMessage) *types.Message {
	uid := r.UID
	m := &types.Message{
		AccountID:    accountID,
		FolderID:     folderID,
		UniqueID:     &uid,
		MessageNo:    r.SeqNum,
		MessageID:    r.MessageID,
		InReplyTo:    r.InReplyTo,
		References:   r.References,
		Subject:      r.Subject,
		From:         r.From,
		To:           r.To,
		Cc:           r.Cc,
		ReplyTo:      r.ReplyTo,
		Size:         r.Size,
		Date:         r.Date,
		ReceivedDate: r.InternalDate,
		Attachments:  r.Attachments,
		BodyText:     r.BodyText,
		BodyHTML:     r.BodyHTML,
		Flags: types.Flags{
			Seen:     r.HasFlag(imap.SeenFlag),
			Flagged:  r.HasFlag(imap.FlaggedFlag),
			Deleted:  r.HasFlag(imap.DeletedFlag),
			Draft:    r.HasFlag(imap.DraftFlag),
			Answered: r.HasFlag(imap.AnsweredFlag),
			Recent:   r.HasFlag(imap.RecentFlag),
		},
	}
	if m.Date.IsZero() {
		m.Date = r.InternalDate
	}
	return m
}

// difference returns the members of a missing from b
func difference(a, b []uint32) []uint32 {
	in := make(map[uint32]struct{}, len(b))
	for _, v := range b {
		in[v] = struct{}{}
	}
	var out []uint32
	for _, v := range a {
		if _, ok := in[v]; !ok {
			out = append(out, v)
		}
	}
	return out
}
