package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/brandon/mail-sync/internal/credential"
)

// Config holds the application configuration
type Config struct {
	// Cache settings
	CachePath         string
	SearchResultLimit int
	LogLevel          string

	// Sync settings
	IgnoreFolders     []string
	SyncInterval      time.Duration
	MaxMessageSize    int64
	ThreadBatchSize   int
	CommitBatchSize   int
	CheckpointGCEvery int

	// Optional prometheus listener, disabled when empty
	MetricsAddr string

	// Accounts
	Accounts []AccountConfig
}

// AccountConfig holds configuration for a single email account
type AccountConfig struct {
	Name   string
	Email  string
	Active bool

	// IMAP settings
	IMAPHost     string
	IMAPPort     int
	IMAPUsername string
	IMAPPassword string

	// SMTP settings
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
}

// lookupPassword resolves passwords missing from the environment.
var lookupPassword = credential.Get

// LoadConfig loads configuration from environment variables and, when
// CONFIG_FILE is set, from a YAML file using the same keys
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("CACHE_PATH", "/data/mail_sync.db")
	v.SetDefault("SEARCH_RESULT_LIMIT", 100)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("IGNORE_FOLDERS", "[Gmail]")
	v.SetDefault("SYNC_INTERVAL", 300)
	v.SetDefault("MAX_MESSAGE_SIZE", 25*1024*1024)
	v.SetDefault("THREAD_BATCH_SIZE", 1000)
	v.SetDefault("COMMIT_BATCH_SIZE", 500)
	v.SetDefault("CHECKPOINT_GC_EVERY", 100)

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &Config{
		CachePath:         v.GetString("CACHE_PATH"),
		SearchResultLimit: v.GetInt("SEARCH_RESULT_LIMIT"),
		LogLevel:          v.GetString("LOG_LEVEL"),
		IgnoreFolders:     splitList(v.GetString("IGNORE_FOLDERS")),
		SyncInterval:      time.Duration(v.GetInt("SYNC_INTERVAL")) * time.Second,
		MaxMessageSize:    v.GetInt64("MAX_MESSAGE_SIZE"),
		ThreadBatchSize:   v.GetInt("THREAD_BATCH_SIZE"),
		CommitBatchSize:   v.GetInt("COMMIT_BATCH_SIZE"),
		CheckpointGCEvery: v.GetInt("CHECKPOINT_GC_EVERY"),
		MetricsAddr:       v.GetString("METRICS_ADDR"),
	}

	// Load accounts
	accounts, err := loadAccounts(v)
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}

	if len(accounts) == 0 {
		return nil, fmt.Errorf("no email accounts configured")
	}

	cfg.Accounts = accounts
	return cfg, nil
}

// loadAccounts loads email account configurations
func loadAccounts(v *viper.Viper) ([]AccountConfig, error) {
	var accounts []AccountConfig

	// First, try single account configuration (for backward compatibility)
	if v.GetString("IMAP_HOST") != "" && v.GetString("SMTP_HOST") != "" {
		name := v.GetString("ACCOUNT_NAME")
		if name == "" {
			name = "default"
		}
		account, err := loadAccount(v, "", name)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
		return accounts, nil
	}

	// Load multiple accounts (ACCOUNT_1_*, ACCOUNT_2_*, etc.)
	for num := 1; ; num++ {
		prefix := fmt.Sprintf("ACCOUNT_%d_", num)
		name := v.GetString(prefix + "NAME")
		if name == "" {
			break // No more accounts
		}
		account, err := loadAccount(v, prefix, name)
		if err != nil {
			return nil, fmt.Errorf("account %d: %w", num, err)
		}
		accounts = append(accounts, *account)
	}

	if len(accounts) == 0 {
		return nil, fmt.Errorf("no accounts found in environment variables")
	}

	return accounts, nil
}

// loadAccount reads one account's keys under prefix
func loadAccount(v *viper.Viper, prefix, name string) (*AccountConfig, error) {
	acc := &AccountConfig{
		Name:         name,
		Email:        v.GetString(prefix + "EMAIL"),
		Active:       true,
		IMAPHost:     v.GetString(prefix + "IMAP_HOST"),
		IMAPPort:     intOr(v, prefix+"IMAP_PORT", 993),
		IMAPUsername: v.GetString(prefix + "IMAP_USERNAME"),
		IMAPPassword: v.GetString(prefix + "IMAP_PASSWORD"),
		SMTPHost:     v.GetString(prefix + "SMTP_HOST"),
		SMTPPort:     intOr(v, prefix+"SMTP_PORT", 587),
		SMTPUsername: v.GetString(prefix + "SMTP_USERNAME"),
		SMTPPassword: v.GetString(prefix + "SMTP_PASSWORD"),
	}
	if v.IsSet(prefix + "ACTIVE") {
		acc.Active = v.GetBool(prefix + "ACTIVE")
	}

	if acc.IMAPHost == "" || acc.SMTPHost == "" {
		return nil, fmt.Errorf("IMAP_HOST and SMTP_HOST are required")
	}

	if acc.IMAPUsername == "" || acc.SMTPUsername == "" {
		return nil, fmt.Errorf("IMAP_USERNAME and SMTP_USERNAME are required")
	}

	if acc.Email == "" {
		acc.Email = acc.IMAPUsername
	}

	if acc.IMAPPassword == "" {
		pw, err := lookupPassword(name + "/imap")
		if err != nil {
			return nil, fmt.Errorf("IMAP_PASSWORD not set and keyring lookup failed: %w", err)
		}
		acc.IMAPPassword = pw
	}
	if acc.SMTPPassword == "" {
		pw, err := lookupPassword(name + "/smtp")
		if err != nil {
			return nil, fmt.Errorf("SMTP_PASSWORD not set and keyring lookup failed: %w", err)
		}
		acc.SMTPPassword = pw
	}

	return acc, nil
}

func intOr(v *viper.Viper, key string, def int) int {
	if !v.IsSet(key) {
		return def
	}
	if n := v.GetInt(key); n != 0 {
		return n
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// GetAccountByName finds an account by name
func (c *Config) GetAccountByName(name string) (*AccountConfig, error) {
	for i := range c.Accounts {
		if c.Accounts[i].Name == name {
			return &c.Accounts[i], nil
		}
	}
	return nil, fmt.Errorf("account not found: %s", name)
}

// IsIgnoredFolder reports whether a remote folder is on the ignore list
func (c *Config) IsIgnoredFolder(name string) bool {
	for _, ignored := range c.IgnoreFolders {
		if strings.EqualFold(ignored, name) {
			return true
		}
	}
	return false
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.CachePath == "" {
		return fmt.Errorf("CACHE_PATH is required")
	}

	if c.SearchResultLimit < 1 || c.SearchResultLimit > 1000 {
		return fmt.Errorf("SEARCH_RESULT_LIMIT must be between 1 and 1000")
	}

	if c.SyncInterval <= 0 {
		return fmt.Errorf("SYNC_INTERVAL must be positive")
	}

	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("MAX_MESSAGE_SIZE must be positive")
	}

	if c.ThreadBatchSize < 1 || c.CommitBatchSize < 1 {
		return fmt.Errorf("THREAD_BATCH_SIZE and COMMIT_BATCH_SIZE must be positive")
	}

	if c.CheckpointGCEvery < 1 {
		return fmt.Errorf("CHECKPOINT_GC_EVERY must be positive")
	}

	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account must be configured")
	}

	// Validate each account
	seen := make(map[string]bool, len(c.Accounts))
	for i := range c.Accounts {
		acc := &c.Accounts[i]
		if seen[acc.Name] {
			return fmt.Errorf("account %s: duplicate name", acc.Name)
		}
		seen[acc.Name] = true
		if acc.IMAPHost == "" {
			return fmt.Errorf("account %s: IMAP_HOST is required", acc.Name)
		}
		if acc.SMTPHost == "" {
			return fmt.Errorf("account %s: SMTP_HOST is required", acc.Name)
		}
		if acc.IMAPPort < 1 || acc.IMAPPort > 65535 {
			return fmt.Errorf("account %s: invalid IMAP_PORT", acc.Name)
		}
		if acc.SMTPPort < 1 || acc.SMTPPort > 65535 {
			return fmt.Errorf("account %s: invalid SMTP_PORT", acc.Name)
		}
	}

	return nil
}

// AccountNames returns a list of all account names
func (c *Config) AccountNames() []string {
	names := make([]string, len(c.Accounts))
	for i := range c.Accounts {
		names[i] = c.Accounts[i].Name
	}
	return names
}
