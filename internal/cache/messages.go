package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/brandon/mail-sync/pkg/types"
)

// Flag columns that can be toggled by sync and by local mutations
const (
	FlagSeen    = "seen"
	FlagFlagged = "flagged"
	FlagDeleted = "deleted"
)

func flagColumn(flag string) (string, error) {
	switch flag {
	case FlagSeen, FlagFlagged, FlagDeleted:
		return flag, nil
	}
	return "", fmt.Errorf("unknown flag column %q", flag)
}

type messageRow struct {
	ID           int64          `db:"id"`
	AccountID    int64          `db:"account_id"`
	FolderID     int64          `db:"folder_id"`
	UniqueID     sql.NullInt64  `db:"unique_id"`
	MessageNo    int64          `db:"message_no"`
	MessageID    string         `db:"message_id"`
	ThreadID     sql.NullInt64  `db:"thread_id"`
	InReplyTo    string         `db:"in_reply_to"`
	Refs         string         `db:"refs"`
	Subject      string         `db:"subject"`
	FromName     string         `db:"from_name"`
	FromEmail    string         `db:"from_email"`
	ToList       string         `db:"to_list"`
	CcList       string         `db:"cc_list"`
	ReplyTo      string         `db:"reply_to"`
	Seen         bool           `db:"seen"`
	Flagged      bool           `db:"flagged"`
	Deleted      bool           `db:"deleted"`
	Draft        bool           `db:"draft"`
	Answered     bool           `db:"answered"`
	Recent       bool           `db:"recent"`
	Synced       bool           `db:"synced"`
	Size         int64          `db:"size"`
	Date         sql.NullTime   `db:"date"`
	ReceivedDate sql.NullTime   `db:"received_date"`
	Attachments  string         `db:"attachments"`
	BodyText     string         `db:"body_text"`
	BodyHTML     string         `db:"body_html"`
}

const messageColumns = `id, account_id, folder_id, unique_id, message_no, message_id, thread_id,
	in_reply_to, refs, subject, from_name, from_email, to_list, cc_list, reply_to,
	seen, flagged, deleted, draft, answered, recent, synced, size, date, received_date,
	attachments, body_text, body_html`

// toMessage maps a row onto the typed message, decoding the JSON columns
func (r messageRow) toMessage() (*types.Message, error) {
	m := &types.Message{
		ID:        r.ID,
		AccountID: r.AccountID,
		FolderID:  r.FolderID,
		MessageNo: uint32(r.MessageNo),
		MessageID: r.MessageID,
		InReplyTo: r.InReplyTo,
		Subject:   r.Subject,
		From:      types.Address{Name: r.FromName, Email: r.FromEmail},
		Flags: types.Flags{
			Seen:     r.Seen,
			Flagged:  r.Flagged,
			Deleted:  r.Deleted,
			Draft:    r.Draft,
			Answered: r.Answered,
			Recent:   r.Recent,
		},
		Synced:   r.Synced,
		Size:     r.Size,
		BodyText: r.BodyText,
		BodyHTML: r.BodyHTML,
	}
	if r.UniqueID.Valid {
		uid := uint32(r.UniqueID.Int64)
		m.UniqueID = &uid
	}
	if r.ThreadID.Valid {
		tid := r.ThreadID.Int64
		m.ThreadID = &tid
	}
	if r.Date.Valid {
		m.Date = r.Date.Time
	}
	if r.ReceivedDate.Valid {
		m.ReceivedDate = r.ReceivedDate.Time
	}

	for _, field := range []struct {
		raw  string
		dest interface{}
	}{
		{r.Refs, &m.References},
		{r.ToList, &m.To},
		{r.CcList, &m.Cc},
		{r.ReplyTo, &m.ReplyTo},
		{r.Attachments, &m.Attachments},
	} {
		if err := unmarshalList(field.raw, field.dest); err != nil {
			return nil, fmt.Errorf("failed to decode message %d: %w", r.ID, err)
		}
	}
	return m, nil
}

// encodedMessage holds the JSON columns of a message ready for binding
type encodedMessage struct {
	refs, to, cc, replyTo, attachments string
}

func encodeMessage(m *types.Message) (*encodedMessage, error) {
	var enc encodedMessage
	var err error
	if enc.refs, err = marshalList(m.References); err != nil {
		return nil, fmt.Errorf("failed to marshal references: %w", err)
	}
	if enc.to, err = marshalList(m.To); err != nil {
		return nil, fmt.Errorf("failed to marshal recipients: %w", err)
	}
	if enc.cc, err = marshalList(m.Cc); err != nil {
		return nil, fmt.Errorf("failed to marshal cc: %w", err)
	}
	if enc.replyTo, err = marshalList(m.ReplyTo); err != nil {
		return nil, fmt.Errorf("failed to marshal reply-to: %w", err)
	}
	if enc.attachments, err = marshalList(m.Attachments); err != nil {
		return nil, fmt.Errorf("failed to marshal attachments: %w", err)
	}
	return &enc, nil
}

func validateMessage(m *types.Message, requireUID bool) error {
	switch {
	case m.AccountID == 0:
		return &ValidationError{Entity: "message", Field: "account_id", Reason: "is required"}
	case m.FolderID == 0:
		return &ValidationError{Entity: "message", Field: "folder_id", Reason: "is required"}
	case requireUID && !m.HasUniqueID():
		return &ValidationError{Entity: "message", Field: "unique_id", Reason: "is required"}
	case m.Size < 0:
		return &ValidationError{Entity: "message", Field: "size", Reason: "must not be negative"}
	case len(m.Subject) > 4096:
		return &ValidationError{Entity: "message", Field: "subject", Reason: "exceeds 4096 bytes"}
	}
	return nil
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

// UpsertMessage inserts or updates a synced message keyed by
// (folder_id, unique_id, account_id) and returns its id. The thread id
// is owned by the threading engine and never overwritten here.
func (s *Store) UpsertMessage(ctx context.Context, m *types.Message) (int64, error) {
	if err := validateMessage(m, true); err != nil {
		return 0, err
	}
	enc, err := encodeMessage(m)
	if err != nil {
		return 0, err
	}

	query := `
		INSERT INTO messages (account_id, folder_id, unique_id, message_no, message_id, in_reply_to, refs,
			subject, from_name, from_email, to_list, cc_list, reply_to,
			seen, flagged, deleted, draft, answered, recent, synced, size, date, received_date,
			attachments, body_text, body_html)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(folder_id, unique_id, account_id) WHERE unique_id IS NOT NULL DO UPDATE SET
			message_no = excluded.message_no,
			message_id = excluded.message_id,
			in_reply_to = excluded.in_reply_to,
			refs = excluded.refs,
			subject = excluded.subject,
			from_name = excluded.from_name,
			from_email = excluded.from_email,
			to_list = excluded.to_list,
			cc_list = excluded.cc_list,
			reply_to = excluded.reply_to,
			seen = excluded.seen,
			flagged = excluded.flagged,
			deleted = excluded.deleted,
			draft = excluded.draft,
			answered = excluded.answered,
			recent = excluded.recent,
			synced = 1,
			size = excluded.size,
			date = excluded.date,
			received_date = excluded.received_date,
			attachments = excluded.attachments,
			body_text = excluded.body_text,
			body_html = excluded.body_html
	`
	var id int64
	err = s.do(func(db *sqlx.DB) error {
		if _, err := db.ExecContext(ctx, query,
			m.AccountID, m.FolderID, int64(*m.UniqueID), m.MessageNo, m.MessageID, m.InReplyTo, enc.refs,
			m.Subject, m.From.Name, m.From.Email, enc.to, enc.cc, enc.replyTo,
			m.Flags.Seen, m.Flags.Flagged, m.Flags.Deleted, m.Flags.Draft, m.Flags.Answered, m.Flags.Recent,
			m.Size, nullTime(m.Date), nullTime(m.ReceivedDate),
			enc.attachments, m.BodyText, m.BodyHTML,
		); err != nil {
			return err
		}
		return db.GetContext(ctx, &id,
			"SELECT id FROM messages WHERE folder_id = ? AND unique_id = ? AND account_id = ?",
			m.FolderID, int64(*m.UniqueID), m.AccountID)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upsert message uid %d: %w", *m.UniqueID, err)
	}
	m.ID = id
	return id, nil
}

// InsertLocalMessage saves a message that has no server UID yet, such as a
// local copy or an outbox message, and returns its id
func (s *Store) InsertLocalMessage(ctx context.Context, m *types.Message) (int64, error) {
	if err := validateMessage(m, false); err != nil {
		return 0, err
	}
	var id int64
	err := s.do(func(db *sqlx.DB) error {
		var err error
		id, err = insertLocalMessage(ctx, db, m)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to insert local message: %w", err)
	}
	return id, nil
}

func insertLocalMessage(ctx context.Context, ext sqlx.ExtContext, m *types.Message) (int64, error) {
	enc, err := encodeMessage(m)
	if err != nil {
		return 0, err
	}
	var threadID interface{}
	if m.ThreadID != nil {
		threadID = *m.ThreadID
	}
	res, err := ext.ExecContext(ctx, `
		INSERT INTO messages (account_id, folder_id, unique_id, message_no, message_id, thread_id, in_reply_to, refs,
			subject, from_name, from_email, to_list, cc_list, reply_to,
			seen, flagged, deleted, draft, answered, recent, synced, size, date, received_date,
			attachments, body_text, body_html)
		VALUES (?, ?, NULL, 0, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?, ?, ?, ?, ?)`,
		m.AccountID, m.FolderID, m.MessageID, threadID, m.InReplyTo, enc.refs,
		m.Subject, m.From.Name, m.From.Email, enc.to, enc.cc, enc.replyTo,
		m.Flags.Seen, m.Flags.Flagged, m.Flags.Deleted, m.Flags.Draft, m.Flags.Answered,
		m.Size, nullTime(m.Date), nullTime(m.ReceivedDate),
		enc.attachments, m.BodyText, m.BodyHTML,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	m.ID = id
	m.UniqueID = nil
	m.Synced = false
	return id, nil
}

// GetMessage retrieves a message by ID
func (s *Store) GetMessage(ctx context.Context, id int64) (*types.Message, error) {
	var row messageRow
	err := s.do(func(db *sqlx.DB) error {
		return db.GetContext(ctx, &row, "SELECT "+messageColumns+" FROM messages WHERE id = ?", id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("message", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return row.toMessage()
}

// FindLocalCopy returns the newest copy of messageID in the folder that the
// server has not confirmed yet
func (s *Store) FindLocalCopy(ctx context.Context, folderID int64, messageID string) (*types.Message, error) {
	var row messageRow
	err := s.do(func(db *sqlx.DB) error {
		return db.GetContext(ctx, &row, "SELECT "+messageColumns+` FROM messages
			WHERE folder_id = ? AND message_id = ?
			ORDER BY unique_id IS NOT NULL, id DESC LIMIT 1`, folderID, messageID)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("local copy", messageID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find local copy: %w", err)
	}
	return row.toMessage()
}

// FindPendingCopy returns the oldest unconfirmed row a copy task inserted
// into folderID for a message like m. Without a Message-ID the row must also
// match the subject, sender and size.
func (s *Store) FindPendingCopy(ctx context.Context, folderID int64, m *types.Message) (*types.Message, error) {
	query := "SELECT " + messageColumns + ` FROM messages
		WHERE folder_id = ? AND unique_id IS NULL AND message_id = ?
		AND id IN (SELECT copy_id FROM tasks WHERE copy_id IS NOT NULL AND type = ?)`
	args := []interface{}{folderID, m.MessageID, string(types.TaskCopy)}
	if m.MessageID == "" {
		query += " AND subject = ? AND from_email = ? AND size = ?"
		args = append(args, m.Subject, m.From.Email, m.Size)
	}
	query += " ORDER BY id LIMIT 1"

	var row messageRow
	err := s.do(func(db *sqlx.DB) error {
		return db.GetContext(ctx, &row, query, args...)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("pending copy", folderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pending copy: %w", err)
	}
	return row.toMessage()
}

// ConfirmCopy replaces the unconfirmed row copyID with the synced row
// messageID, moving the copy tasks that recorded it along
func (s *Store) ConfirmCopy(ctx context.Context, copyID, messageID int64) error {
	err := s.do(func(db *sqlx.DB) error {
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback() //nolint:errcheck

		if _, err := tx.ExecContext(ctx, "UPDATE tasks SET copy_id = ? WHERE copy_id = ?", messageID, copyID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE id = ? AND unique_id IS NULL", copyID); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("failed to confirm copy %d: %w", copyID, err)
	}
	return nil
}

// GetSyncedUIDs returns the UIDs recorded as synced for a folder
func (s *Store) GetSyncedUIDs(ctx context.Context, accountID, folderID int64) ([]uint32, error) {
	var raw []int64
	err := s.do(func(db *sqlx.DB) error {
		return db.SelectContext(ctx, &raw, `SELECT unique_id FROM messages
			WHERE account_id = ? AND folder_id = ? AND synced = 1 AND unique_id IS NOT NULL
			ORDER BY unique_id`, accountID, folderID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get synced uids: %w", err)
	}
	uids := make([]uint32, len(raw))
	for i, u := range raw {
		uids[i] = uint32(u)
	}
	return uids, nil
}

// MarkDeleted sets deleted=1 on the folder's messages with the given UIDs
// and returns the number of rows changed
func (s *Store) MarkDeleted(ctx context.Context, accountID, folderID int64, uids []uint32) (int64, error) {
	var total int64
	err := chunkIDs(uids, func(part []uint32) error {
		query, args, err := sqlx.In(`UPDATE messages SET deleted = 1
			WHERE account_id = ? AND folder_id = ? AND deleted = 0 AND unique_id IN (?)`,
			accountID, folderID, part)
		if err != nil {
			return err
		}
		return s.do(func(db *sqlx.DB) error {
			res, err := db.ExecContext(ctx, db.Rebind(query), args...)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			total += n
			return err
		})
	})
	if err != nil {
		return total, fmt.Errorf("failed to mark messages deleted: %w", err)
	}
	return total, nil
}

// FlagState is the stored flag state of one synced message
type FlagState struct {
	ID       int64  `db:"id"`
	UniqueID uint32 `db:"unique_id"`
	Seen     bool   `db:"seen"`
	Flagged  bool   `db:"flagged"`
}

// GetFlagStates returns the flags of the folder's live synced messages
func (s *Store) GetFlagStates(ctx context.Context, accountID, folderID int64) ([]FlagState, error) {
	var states []FlagState
	err := s.do(func(db *sqlx.DB) error {
		return db.SelectContext(ctx, &states, `SELECT id, unique_id, seen, flagged FROM messages
			WHERE account_id = ? AND folder_id = ? AND deleted = 0 AND unique_id IS NOT NULL`,
			accountID, folderID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get flag states: %w", err)
	}
	return states, nil
}

// SetFlag sets a flag column to value for the given message ids
func (s *Store) SetFlag(ctx context.Context, ids []int64, flag string, value bool) (int64, error) {
	var total int64
	err := s.do(func(db *sqlx.DB) error {
		var err error
		total, err = setFlag(ctx, db, ids, flag, value)
		return err
	})
	if err != nil {
		return total, fmt.Errorf("failed to set %s: %w", flag, err)
	}
	return total, nil
}

func setFlag(ctx context.Context, ext sqlx.ExtContext, ids []int64, flag string, value bool) (int64, error) {
	col, err := flagColumn(flag)
	if err != nil {
		return 0, err
	}
	var total int64
	err = chunkIDs(ids, func(part []int64) error {
		query, args, err := sqlx.In("UPDATE messages SET "+col+" = ? WHERE "+col+" != ? AND id IN (?)",
			value, value, part)
		if err != nil {
			return err
		}
		res, err := ext.ExecContext(ctx, ext.Rebind(query), args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		total += n
		return err
	})
	return total, err
}

// ThreadRow carries the fields the threading engine needs
type ThreadRow struct {
	ID        int64
	MessageID string
	InReplyTo string
	Refs      []string
	Subject   string
	Date      time.Time
	ThreadID  int64
	From      types.Address
	To        []types.Address
	Cc        []types.Address
}

type threadRow struct {
	ID        int64         `db:"id"`
	MessageID string        `db:"message_id"`
	InReplyTo string        `db:"in_reply_to"`
	Refs      string        `db:"refs"`
	Subject   string        `db:"subject"`
	Date      sql.NullTime  `db:"date"`
	ThreadID  sql.NullInt64 `db:"thread_id"`
	FromName  string        `db:"from_name"`
	FromEmail string        `db:"from_email"`
	ToList    string        `db:"to_list"`
	CcList    string        `db:"cc_list"`
}

// ThreadBatch loads up to limit messages with id > afterID, in id order
func (s *Store) ThreadBatch(ctx context.Context, accountID, afterID int64, limit int) ([]ThreadRow, error) {
	var rows []threadRow
	err := s.do(func(db *sqlx.DB) error {
		return db.SelectContext(ctx, &rows, `SELECT id, message_id, in_reply_to, refs, subject, date,
				thread_id, from_name, from_email, to_list, cc_list
			FROM messages WHERE account_id = ? AND id > ? ORDER BY id LIMIT ?`, accountID, afterID, limit)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load thread batch: %w", err)
	}

	out := make([]ThreadRow, len(rows))
	for i, r := range rows {
		tr := ThreadRow{
			ID:        r.ID,
			MessageID: r.MessageID,
			InReplyTo: r.InReplyTo,
			Subject:   r.Subject,
			ThreadID:  r.ThreadID.Int64,
			From:      types.Address{Name: r.FromName, Email: r.FromEmail},
		}
		if r.Date.Valid {
			tr.Date = r.Date.Time
		}
		if err := unmarshalList(r.Refs, &tr.Refs); err != nil {
			return nil, fmt.Errorf("failed to decode references of message %d: %w", r.ID, err)
		}
		if err := unmarshalList(r.ToList, &tr.To); err != nil {
			return nil, fmt.Errorf("failed to decode recipients of message %d: %w", r.ID, err)
		}
		if err := unmarshalList(r.CcList, &tr.Cc); err != nil {
			return nil, fmt.Errorf("failed to decode cc of message %d: %w", r.ID, err)
		}
		out[i] = tr
	}
	return out, nil
}

// DeleteMessage removes a message row
func (s *Store) DeleteMessage(ctx context.Context, id int64) error {
	err := s.do(func(db *sqlx.DB) error {
		_, err := db.ExecContext(ctx, "DELETE FROM messages WHERE id = ?", id)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete message %d: %w", id, err)
	}
	return nil
}
