package tools

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-sync/internal/cache"
)

// ListContactsTool lists the addresses an account corresponds with most
type ListContactsTool struct {
	store  *cache.Store
	logger *logrus.Logger
}

// NewListContactsTool creates a new list contacts tool
func NewListContactsTool(store *cache.Store, logger *logrus.Logger) *ListContactsTool {
	return &ListContactsTool{
		store:  store,
		logger: logger,
	}
}

// Name returns the tool name
func (t *ListContactsTool) Name() string {
	return "list_contacts"
}

// Description returns the tool description
func (t *ListContactsTool) Description() string {
	return "List an account's frequent correspondents, most frequent first"
}

// InputSchema returns the JSON schema for tool inputs
func (t *ListContactsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": map[string]interface{}{
				"type":        "string",
				"description": "Account name",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Optional: Maximum number of contacts",
				"minimum":     1,
			},
		},
		"required": []string{"account_name"},
	}
}

// Execute executes the tool
func (t *ListContactsTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	accountID, err := lookupAccount(ctx, t.store, params)
	if err != nil {
		return nil, err
	}

	contacts, err := t.store.GetContacts(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if _, ok := params["limit"]; ok {
		limit, err := int64Param(params, "limit")
		if err != nil {
			return nil, err
		}
		if limit > 0 && int(limit) < len(contacts) {
			contacts = contacts[:limit]
		}
	}

	return contacts, nil
}
