package cache

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/brandon/mail-sync/pkg/types"
)

const upsertContact = `
	INSERT INTO contacts (account_id, address, name, tally, updated_at)
	VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(account_id, address) DO UPDATE SET
		tally = tally + excluded.tally,
		name = CASE WHEN excluded.name != '' THEN excluded.name ELSE name END,
		updated_at = CURRENT_TIMESTAMP
`

// UpsertContacts adds each contact's tally to the stored one, creating
// missing contacts, in one transaction
func (s *Store) UpsertContacts(ctx context.Context, accountID int64, contacts []types.Contact) error {
	if len(contacts) == 0 {
		return nil
	}
	err := s.do(func(db *sqlx.DB) error {
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback() //nolint:errcheck

		if err := upsertContacts(ctx, tx, accountID, contacts); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("failed to upsert contacts: %w", err)
	}
	return nil
}

func upsertContacts(ctx context.Context, tx *sqlx.Tx, accountID int64, contacts []types.Contact) error {
	stmt, err := tx.PreparexContext(ctx, upsertContact)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range contacts {
		addr := strings.ToLower(strings.TrimSpace(c.Address))
		if addr == "" || c.Tally <= 0 {
			continue
		}
		if _, err := stmt.ExecContext(ctx, accountID, addr, c.Name, c.Tally); err != nil {
			return fmt.Errorf("contact %s: %w", addr, err)
		}
	}
	return nil
}

// GetContacts returns the account's contacts, most frequent first
func (s *Store) GetContacts(ctx context.Context, accountID int64) ([]types.Contact, error) {
	var contacts []types.Contact
	err := s.do(func(db *sqlx.DB) error {
		return db.SelectContext(ctx, &contacts, `SELECT id, account_id, address, name, tally
			FROM contacts WHERE account_id = ? ORDER BY tally DESC, address`, accountID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get contacts: %w", err)
	}
	return contacts, nil
}
