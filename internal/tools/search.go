package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-sync/internal/cache"
	"github.com/brandon/mail-sync/internal/config"
)

// SearchMessagesTool searches mirrored messages
type SearchMessagesTool struct {
	config *config.Config
	store  *cache.Store
	logger *logrus.Logger
}

// NewSearchMessagesTool creates a new search messages tool
func NewSearchMessagesTool(cfg *config.Config, store *cache.Store, logger *logrus.Logger) *SearchMessagesTool {
	return &SearchMessagesTool{
		config: cfg,
		store:  store,
		logger: logger,
	}
}

// Name returns the tool name
func (t *SearchMessagesTool) Name() string {
	return "search_messages"
}

// Description returns the tool description
func (t *SearchMessagesTool) Description() string {
	return "Search mirrored messages with flexible filters (sender, recipient, subject, body, date range, thread)"
}

// InputSchema returns the JSON schema for tool inputs
func (t *SearchMessagesTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Filter by specific account",
			},
			"folder": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Filter by folder name (requires account_name)",
			},
			"thread_id": map[string]interface{}{
				"type":        "integer",
				"description": "Optional: Only messages of this conversation",
			},
			"sender": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Filter by sender email/name",
			},
			"recipient": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Filter by recipient email",
			},
			"subject": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Filter by subject (substring match)",
			},
			"body": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Filter by body content",
			},
			"date_from": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Start date (ISO 8601 format)",
			},
			"date_to": map[string]interface{}{
				"type":        "string",
				"description": "Optional: End date (ISO 8601 format)",
			},
			"unread": map[string]interface{}{
				"type":        "boolean",
				"description": "Optional: Only unread messages",
			},
			"flagged": map[string]interface{}{
				"type":        "boolean",
				"description": "Optional: Only flagged messages",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Optional: Result limit (default: SEARCH_RESULT_LIMIT, max: 1000)",
				"minimum":     1,
				"maximum":     1000,
			},
		},
	}
}

// Execute executes the tool
func (t *SearchMessagesTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	opts := cache.SearchOptions{}

	if name := stringParam(params, "account_name"); name != "" {
		id, err := t.store.GetAccountID(ctx, name)
		if err != nil {
			return nil, err
		}
		opts.AccountID = &id
	}

	if folderName := stringParam(params, "folder"); folderName != "" {
		if opts.AccountID == nil {
			return nil, fmt.Errorf("folder filter requires account_name")
		}
		folder, err := t.store.FindFolderByName(ctx, *opts.AccountID, folderName)
		if err != nil {
			return nil, err
		}
		opts.FolderID = &folder.ID
	}

	if _, ok := params["thread_id"]; ok {
		id, err := int64Param(params, "thread_id")
		if err != nil {
			return nil, err
		}
		opts.ThreadID = &id
	}

	for key, dst := range map[string]**string{
		"sender":    &opts.Sender,
		"recipient": &opts.Recipient,
		"subject":   &opts.Subject,
		"body":      &opts.Body,
	} {
		if v := stringParam(params, key); v != "" {
			*dst = &v
		}
	}

	for key, dst := range map[string]**time.Time{
		"date_from": &opts.DateFrom,
		"date_to":   &opts.DateTo,
	} {
		s := stringParam(params, key)
		if s == "" {
			continue
		}
		d, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, fmt.Errorf("invalid %s format: %w", key, err)
		}
		*dst = &d
	}

	opts.Unread, _ = params["unread"].(bool)
	opts.Flagged, _ = params["flagged"].(bool)

	if _, ok := params["limit"]; ok {
		limit, err := int64Param(params, "limit")
		if err != nil {
			return nil, err
		}
		opts.Limit = int(limit)
	}
	if opts.Limit == 0 {
		opts.Limit = t.config.SearchResultLimit
	}

	results, err := t.store.Search(ctx, opts)
	if err != nil {
		return nil, err
	}
	t.logger.WithField("results", len(results)).Debug("Search finished")

	return results, nil
}
