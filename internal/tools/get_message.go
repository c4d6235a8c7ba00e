package tools

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-sync/internal/cache"
	"github.com/brandon/mail-sync/pkg/types"
)

// GetMessageTool retrieves a full mirrored message and its conversation
type GetMessageTool struct {
	store  *cache.Store
	logger *logrus.Logger
}

// NewGetMessageTool creates a new get message tool
func NewGetMessageTool(store *cache.Store, logger *logrus.Logger) *GetMessageTool {
	return &GetMessageTool{
		store:  store,
		logger: logger,
	}
}

// Name returns the tool name
func (t *GetMessageTool) Name() string {
	return "get_message"
}

// Description returns the tool description
func (t *GetMessageTool) Description() string {
	return "Retrieve a full message by ID together with the other messages of its thread"
}

// InputSchema returns the JSON schema for tool inputs
func (t *GetMessageTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"message_id": map[string]interface{}{
				"type":        "integer",
				"description": "Message ID (from search results)",
			},
		},
		"required": []string{"message_id"},
	}
}

// messageResult is the get_message response
type messageResult struct {
	*types.Message
	Thread []types.MessageSummary `json:"thread,omitempty"`
}

// Execute executes the tool
func (t *GetMessageTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	id, err := int64Param(params, "message_id")
	if err != nil {
		return nil, err
	}

	msg, err := t.store.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}

	result := &messageResult{Message: msg}
	if msg.ThreadID != nil {
		members, err := t.store.ThreadMembers(ctx, msg.AccountID, *msg.ThreadID)
		if err != nil {
			t.logger.WithError(err).WithField("message_id", id).Warn("Could not load thread members")
		} else {
			result.Thread = members
		}
	}

	return result, nil
}
