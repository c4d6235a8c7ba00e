package actions

import (
	"context"
	"fmt"

	"github.com/emersion/go-imap"

	"github.com/brandon/mail-sync/internal/email"
	"github.com/brandon/mail-sync/pkg/types"
)

// job is one task resolved against the mirror and the selected folder
type job struct {
	task    *types.Task
	message *types.Message
	folder  *types.Folder
	target  *types.Folder
	seqNum  uint32
}

// executor mirrors one task type to the server
type executor func(ctx context.Context, mbox email.Mailbox, j *job) error

func storeFlag(add bool, flag string) executor {
	return func(_ context.Context, mbox email.Mailbox, j *job) error {
		seqs := []uint32{j.seqNum}
		if add {
			return mbox.AddFlags(seqs, []string{flag}, j.folder.Name)
		}
		return mbox.RemoveFlags(seqs, []string{flag}, j.folder.Name)
	}
}

func copyMessage(_ context.Context, mbox email.Mailbox, j *job) error {
	if j.target == nil {
		return fmt.Errorf("copy task %d has no target folder", j.task.ID)
	}
	return mbox.Copy([]uint32{j.seqNum}, j.target.Name)
}

var executors = map[types.TaskType]executor{
	types.TaskCopy:         copyMessage,
	types.TaskDelete:       storeFlag(true, imap.DeletedFlag),
	types.TaskUndelete:     storeFlag(false, imap.DeletedFlag),
	types.TaskFlag:         storeFlag(true, imap.FlaggedFlag),
	types.TaskUnflag:       storeFlag(false, imap.FlaggedFlag),
	types.TaskRead:         storeFlag(true, imap.SeenFlag),
	types.TaskUnread:       storeFlag(false, imap.SeenFlag),
	types.TaskDeleteOutbox: storeFlag(true, imap.DeletedFlag),
}

// outgoing composes the stored message for delivery
func outgoing(account *types.Account, m *types.Message) *email.OutgoingMessage {
	out := &email.OutgoingMessage{
		From:       account.Email,
		FromName:   m.From.Name,
		Subject:    m.Subject,
		BodyText:   m.BodyText,
		BodyHTML:   m.BodyHTML,
		MessageID:  m.MessageID,
		InReplyTo:  m.InReplyTo,
		References: m.References,
	}
	if m.From.Email != "" {
		out.From = m.From.Email
	}
	for _, a := range m.To {
		out.To = append(out.To, a.Email)
	}
	for _, a := range m.Cc {
		out.Cc = append(out.Cc, a.Email)
	}
	if len(m.ReplyTo) > 0 {
		out.ReplyTo = m.ReplyTo[0].Email
	}
	return out
}
