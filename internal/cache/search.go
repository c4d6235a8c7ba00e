package cache

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/brandon/mail-sync/pkg/types"
)

// SearchOptions contains search parameters
type SearchOptions struct {
	AccountID *int64
	FolderID  *int64
	ThreadID  *int64
	Sender    *string
	Recipient *string
	Subject   *string
	Body      *string
	DateFrom  *time.Time
	DateTo    *time.Time
	Unread    bool
	Flagged   bool
	Limit     int
}

type summaryRow struct {
	ID          int64         `db:"id"`
	AccountName string        `db:"account_name"`
	FolderName  string        `db:"folder_name"`
	ThreadID    sql.NullInt64 `db:"thread_id"`
	Subject     string        `db:"subject"`
	SenderName  string        `db:"from_name"`
	SenderEmail string        `db:"from_email"`
	Date        sql.NullTime  `db:"date"`
	Seen        bool          `db:"seen"`
	Flagged     bool          `db:"flagged"`
	BodyText    string        `db:"body_text"`
}

func (r summaryRow) toSummary() types.MessageSummary {
	summary := types.MessageSummary{
		ID:          r.ID,
		AccountName: r.AccountName,
		FolderName:  r.FolderName,
		Subject:     r.Subject,
		SenderName:  r.SenderName,
		SenderEmail: r.SenderEmail,
		Seen:        r.Seen,
		Flagged:     r.Flagged,
	}
	if r.ThreadID.Valid {
		tid := r.ThreadID.Int64
		summary.ThreadID = &tid
	}
	if r.Date.Valid {
		summary.Date = r.Date.Time
	}

	// Create snippet from body
	if snippet := strings.TrimSpace(r.BodyText); snippet != "" {
		if len(snippet) > 200 {
			snippet = snippet[:200] + "..."
		}
		summary.Snippet = snippet
	}
	return summary
}

const summaryQuery = `
	SELECT m.id, a.name AS account_name, f.name AS folder_name, m.thread_id, m.subject,
		m.from_name, m.from_email, m.date, m.seen, m.flagged, m.body_text
	FROM messages m
	JOIN accounts a ON m.account_id = a.id
	JOIN folders f ON m.folder_id = f.id
`

// Search performs a search on mirrored messages that are not deleted
func (s *Store) Search(ctx context.Context, opts SearchOptions) ([]types.MessageSummary, error) {
	conditions := []string{"m.deleted = 0", "f.deleted = 0"}
	var args []interface{}

	if opts.AccountID != nil {
		conditions = append(conditions, "m.account_id = ?")
		args = append(args, *opts.AccountID)
	}

	if opts.FolderID != nil {
		conditions = append(conditions, "m.folder_id = ?")
		args = append(args, *opts.FolderID)
	}

	if opts.ThreadID != nil {
		conditions = append(conditions, "m.thread_id = ?")
		args = append(args, *opts.ThreadID)
	}

	if opts.Sender != nil {
		conditions = append(conditions, "(m.from_email LIKE ? OR m.from_name LIKE ?)")
		searchTerm := "%" + *opts.Sender + "%"
		args = append(args, searchTerm, searchTerm)
	}

	if opts.Recipient != nil {
		conditions = append(conditions, "(m.to_list LIKE ? OR m.cc_list LIKE ?)")
		searchTerm := "%" + *opts.Recipient + "%"
		args = append(args, searchTerm, searchTerm)
	}

	if opts.Subject != nil {
		conditions = append(conditions, "m.subject LIKE ?")
		args = append(args, "%"+*opts.Subject+"%")
	}

	if opts.Body != nil {
		conditions = append(conditions, "(m.body_text LIKE ? OR m.body_html LIKE ?)")
		searchTerm := "%" + *opts.Body + "%"
		args = append(args, searchTerm, searchTerm)
	}

	if opts.DateFrom != nil {
		conditions = append(conditions, "m.date >= ?")
		args = append(args, opts.DateFrom.UTC())
	}

	if opts.DateTo != nil {
		conditions = append(conditions, "m.date <= ?")
		args = append(args, opts.DateTo.UTC())
	}

	if opts.Unread {
		conditions = append(conditions, "m.seen = 0")
	}

	if opts.Flagged {
		conditions = append(conditions, "m.flagged = 1")
	}

	// Set default limit
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := fmt.Sprintf(`%s WHERE %s ORDER BY m.date DESC, m.id DESC LIMIT ?`,
		summaryQuery, strings.Join(conditions, " AND "))
	args = append(args, limit)

	var rows []summaryRow
	err := s.do(func(db *sqlx.DB) error {
		return db.SelectContext(ctx, &rows, query, args...)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}

	results := make([]types.MessageSummary, len(rows))
	for i, r := range rows {
		results[i] = r.toSummary()
	}
	return results, nil
}

// ThreadMembers returns the live messages sharing a thread id, oldest first
func (s *Store) ThreadMembers(ctx context.Context, accountID, threadID int64) ([]types.MessageSummary, error) {
	var rows []summaryRow
	err := s.do(func(db *sqlx.DB) error {
		return db.SelectContext(ctx, &rows, summaryQuery+`
			WHERE m.account_id = ? AND m.thread_id = ? AND m.deleted = 0
			ORDER BY m.date, m.id`, accountID, threadID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load thread %d: %w", threadID, err)
	}

	members := make([]types.MessageSummary, len(rows))
	for i, r := range rows {
		members[i] = r.toSummary()
	}
	return members, nil
}
