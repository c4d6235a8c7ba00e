package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-sync/internal/config"
	"github.com/brandon/mail-sync/pkg/types"
)

// chunkSize bounds the number of bound parameters in one IN (...) list
const chunkSize = 500

// Store provides methods for storing and retrieving data from the cache
type Store struct {
	cache  *Cache
	logger *logrus.Logger
}

// NewStore creates a new store instance
func NewStore(cache *Cache, logger *logrus.Logger) *Store {
	return &Store{
		cache:  cache,
		logger: logger,
	}
}

// do runs op against the current handle. When the driver reports a lost
// connection it reconnects once and retries; a second failure is fatal.
func (s *Store) do(op func(db *sqlx.DB) error) error {
	err := op(s.cache.DB())
	if !isConnectionLost(err) {
		return err
	}

	s.logger.WithError(err).Warn("Database connection lost")
	if rerr := s.cache.Reconnect(); rerr != nil {
		return rerr
	}

	err = op(s.cache.DB())
	if isConnectionLost(err) {
		return fmt.Errorf("%v: %w", err, ErrConnectionLost)
	}
	return err
}

type accountRow struct {
	ID           int64  `db:"id"`
	Name         string `db:"name"`
	Email        string `db:"email"`
	IMAPHost     string `db:"imap_host"`
	IMAPPort     int    `db:"imap_port"`
	IMAPUsername string `db:"imap_username"`
	SMTPHost     string `db:"smtp_host"`
	SMTPPort     int    `db:"smtp_port"`
	SMTPUsername string `db:"smtp_username"`
	Active       bool   `db:"active"`
}

func (r accountRow) toAccount() types.Account {
	return types.Account{
		ID:           r.ID,
		Name:         r.Name,
		Email:        r.Email,
		IMAPHost:     r.IMAPHost,
		IMAPPort:     r.IMAPPort,
		IMAPUsername: r.IMAPUsername,
		SMTPHost:     r.SMTPHost,
		SMTPPort:     r.SMTPPort,
		SMTPUsername: r.SMTPUsername,
		Active:       r.Active,
	}
}

const accountColumns = `id, name, email, imap_host, imap_port, imap_username,
	smtp_host, smtp_port, smtp_username, active`

// UpsertAccount upserts an account in the cache and returns its id
func (s *Store) UpsertAccount(ctx context.Context, acc *config.AccountConfig) (int64, error) {
	if acc.Name == "" {
		return 0, &ValidationError{Entity: "account", Field: "name", Reason: "is required"}
	}

	query := `
		INSERT INTO accounts (name, email, imap_host, imap_port, imap_username, smtp_host, smtp_port, smtp_username, active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET
			email = excluded.email,
			imap_host = excluded.imap_host,
			imap_port = excluded.imap_port,
			imap_username = excluded.imap_username,
			smtp_host = excluded.smtp_host,
			smtp_port = excluded.smtp_port,
			smtp_username = excluded.smtp_username,
			active = excluded.active,
			updated_at = CURRENT_TIMESTAMP
	`
	var id int64
	err := s.do(func(db *sqlx.DB) error {
		if _, err := db.ExecContext(ctx, query, acc.Name, acc.Email, acc.IMAPHost, acc.IMAPPort, acc.IMAPUsername,
			acc.SMTPHost, acc.SMTPPort, acc.SMTPUsername, acc.Active); err != nil {
			return err
		}
		return db.GetContext(ctx, &id, "SELECT id FROM accounts WHERE name = ?", acc.Name)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upsert account: %w", err)
	}
	return id, nil
}

// GetAccount returns an account by id
func (s *Store) GetAccount(ctx context.Context, id int64) (*types.Account, error) {
	var row accountRow
	err := s.do(func(db *sqlx.DB) error {
		return db.GetContext(ctx, &row, "SELECT "+accountColumns+" FROM accounts WHERE id = ?", id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("account", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	acc := row.toAccount()
	return &acc, nil
}

// GetAccountID returns the account ID by name
func (s *Store) GetAccountID(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.do(func(db *sqlx.DB) error {
		return db.GetContext(ctx, &id, "SELECT id FROM accounts WHERE name = ?", name)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return 0, notFound("account", name)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get account id: %w", err)
	}
	return id, nil
}

// ListActiveAccounts returns every account with the active flag set
func (s *Store) ListActiveAccounts(ctx context.Context) ([]types.Account, error) {
	var rows []accountRow
	err := s.do(func(db *sqlx.DB) error {
		return db.SelectContext(ctx, &rows, "SELECT "+accountColumns+" FROM accounts WHERE active = 1 ORDER BY id")
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	accounts := make([]types.Account, len(rows))
	for i, r := range rows {
		accounts[i] = r.toAccount()
	}
	return accounts, nil
}

type folderRow struct {
	ID          int64          `db:"id"`
	AccountID   int64          `db:"account_id"`
	AccountName sql.NullString `db:"account_name"`
	Name        string         `db:"name"`
	Count       int            `db:"count"`
	Synced      int            `db:"synced"`
	Ignored     bool           `db:"ignored"`
	Deleted     bool           `db:"deleted"`
	LastSynced  sql.NullTime   `db:"last_synced"`
}

func (r folderRow) toFolder() types.Folder {
	f := types.Folder{
		ID:          r.ID,
		AccountID:   r.AccountID,
		AccountName: r.AccountName.String,
		Name:        r.Name,
		Count:       r.Count,
		Synced:      r.Synced,
		Ignored:     r.Ignored,
		Deleted:     r.Deleted,
	}
	if r.LastSynced.Valid {
		t := r.LastSynced.Time
		f.LastSynced = &t
	}
	return f
}

const folderColumns = `f.id, f.account_id, a.name AS account_name, f.name, f.count, f.synced,
	f.ignored, f.deleted, f.last_synced`

// ListFolders lists live folders, optionally for one account
func (s *Store) ListFolders(ctx context.Context, accountID *int64) ([]types.Folder, error) {
	query := `SELECT ` + folderColumns + `
		FROM folders f
		JOIN accounts a ON f.account_id = a.id
		WHERE f.deleted = 0`
	var args []interface{}
	if accountID != nil {
		query += " AND f.account_id = ?"
		args = append(args, *accountID)
	}
	query += " ORDER BY a.name, f.name"

	return s.selectFolders(ctx, query, args...)
}

// GetFolders returns the account's saved, non-deleted folders
func (s *Store) GetFolders(ctx context.Context, accountID int64) ([]types.Folder, error) {
	return s.selectFolders(ctx, `SELECT `+folderColumns+`
		FROM folders f
		JOIN accounts a ON f.account_id = a.id
		WHERE f.account_id = ? AND f.deleted = 0
		ORDER BY f.name`, accountID)
}

func (s *Store) selectFolders(ctx context.Context, query string, args ...interface{}) ([]types.Folder, error) {
	var rows []folderRow
	err := s.do(func(db *sqlx.DB) error {
		return db.SelectContext(ctx, &rows, query, args...)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query folders: %w", err)
	}
	folders := make([]types.Folder, len(rows))
	for i, r := range rows {
		folders[i] = r.toFolder()
	}
	return folders, nil
}

// GetFolder returns a folder by id, deleted or not
func (s *Store) GetFolder(ctx context.Context, id int64) (*types.Folder, error) {
	var row folderRow
	err := s.do(func(db *sqlx.DB) error {
		return db.GetContext(ctx, &row, `SELECT `+folderColumns+`
			FROM folders f
			JOIN accounts a ON f.account_id = a.id
			WHERE f.id = ?`, id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("folder", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get folder: %w", err)
	}
	f := row.toFolder()
	return &f, nil
}

// FindFolderByName returns the live folder with the given name
func (s *Store) FindFolderByName(ctx context.Context, accountID int64, name string) (*types.Folder, error) {
	var row folderRow
	err := s.do(func(db *sqlx.DB) error {
		return db.GetContext(ctx, &row, `SELECT `+folderColumns+`
			FROM folders f
			JOIN accounts a ON f.account_id = a.id
			WHERE f.account_id = ? AND f.name = ? AND f.deleted = 0`, accountID, name)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("folder", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find folder: %w", err)
	}
	f := row.toFolder()
	return &f, nil
}

// InsertFolder saves a new folder and returns its id
func (s *Store) InsertFolder(ctx context.Context, f *types.Folder) (int64, error) {
	if f.AccountID == 0 {
		return 0, &ValidationError{Entity: "folder", Field: "account_id", Reason: "is required"}
	}
	if f.Name == "" {
		return 0, &ValidationError{Entity: "folder", Field: "name", Reason: "is required"}
	}

	var id int64
	err := s.do(func(db *sqlx.DB) error {
		res, err := db.ExecContext(ctx,
			"INSERT INTO folders (account_id, name, ignored) VALUES (?, ?, ?)",
			f.AccountID, f.Name, f.Ignored)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to insert folder %s: %w", f.Name, err)
	}
	f.ID = id
	return id, nil
}

// SoftDeleteFolder marks a folder deleted without removing its messages
func (s *Store) SoftDeleteFolder(ctx context.Context, id int64) error {
	err := s.do(func(db *sqlx.DB) error {
		_, err := db.ExecContext(ctx, "UPDATE folders SET deleted = 1 WHERE id = ?", id)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete folder %d: %w", id, err)
	}
	return nil
}

// UpdateFolderStats stores the remote count and recomputes the local synced
// count. It reports whether anything changed; unchanged stats are not written.
func (s *Store) UpdateFolderStats(ctx context.Context, folderID int64, count int) (bool, error) {
	const synced = `(SELECT COUNT(*) FROM messages
		WHERE folder_id = ? AND synced = 1 AND deleted = 0 AND unique_id IS NOT NULL)`
	query := `UPDATE folders SET count = ?, synced = ` + synced + `, last_synced = ?
		WHERE id = ? AND (count != ? OR synced != ` + synced + `)`

	var n int64
	err := s.do(func(db *sqlx.DB) error {
		res, err := db.ExecContext(ctx, query, count, folderID, time.Now().UTC(), folderID, count, folderID)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to update folder stats %d: %w", folderID, err)
	}
	return n > 0, nil
}

func marshalList(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(b) == "null" {
		return "[]", nil
	}
	return string(b), nil
}

func unmarshalList(s string, v interface{}) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}

func chunkIDs[T any](ids []T, fn func(part []T) error) error {
	for start := 0; start < len(ids); start += chunkSize {
		end := start + chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		if err := fn(ids[start:end]); err != nil {
			return err
		}
	}
	return nil
}
