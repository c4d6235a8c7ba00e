package email

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-sync/internal/config"
)

// AccountManager manages multiple email accounts
type AccountManager struct {
	accounts map[string]*Account
}

// Account represents an email account with IMAP and SMTP clients. The IMAP
// connection is owned by the account's worker and used serially.
type Account struct {
	Config *config.AccountConfig
	IMAP   *IMAPClient
	SMTP   *SMTPClient
}

// NewAccountManager creates clients for every active configured account
func NewAccountManager(cfg *config.Config, logger *logrus.Logger) *AccountManager {
	manager := &AccountManager{
		accounts: make(map[string]*Account),
	}

	for i := range cfg.Accounts {
		accCfg := &cfg.Accounts[i]
		if !accCfg.Active {
			continue
		}

		manager.accounts[accCfg.Name] = &Account{
			Config: accCfg,
			IMAP:   NewIMAPClient(accCfg, cfg.MaxMessageSize, logger),
			SMTP:   NewSMTPClient(accCfg, logger),
		}
	}

	return manager
}

// GetAccount returns an account by name
func (m *AccountManager) GetAccount(name string) (*Account, error) {
	account, exists := m.accounts[name]
	if !exists {
		return nil, fmt.Errorf("account not found: %s", name)
	}
	return account, nil
}

// Close closes all account connections
func (m *AccountManager) Close() error {
	var firstErr error
	for _, account := range m.accounts {
		if account.IMAP != nil {
			if err := account.IMAP.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
