package tools

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-sync/internal/actions"
	"github.com/brandon/mail-sync/internal/cache"
)

// CopyMessageTool copies a message into another folder of its account
type CopyMessageTool struct {
	store    *cache.Store
	recorder *actions.Recorder
	logger   *logrus.Logger
}

// NewCopyMessageTool creates a new copy message tool
func NewCopyMessageTool(store *cache.Store, recorder *actions.Recorder, logger *logrus.Logger) *CopyMessageTool {
	return &CopyMessageTool{
		store:    store,
		recorder: recorder,
		logger:   logger,
	}
}

// Name returns the tool name
func (t *CopyMessageTool) Name() string {
	return "copy_message"
}

// Description returns the tool description
func (t *CopyMessageTool) Description() string {
	return "Copy a message into another folder of the same account"
}

// InputSchema returns the JSON schema for tool inputs
func (t *CopyMessageTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": map[string]interface{}{
				"type":        "string",
				"description": "Account owning the message",
			},
			"message_id": map[string]interface{}{
				"type":        "integer",
				"description": "Message ID (from search results)",
			},
			"folder": map[string]interface{}{
				"type":        "string",
				"description": "Target folder name",
			},
		},
		"required": []string{"account_name", "message_id", "folder"},
	}
}

// Execute executes the tool
func (t *CopyMessageTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	accountID, err := lookupAccount(ctx, t.store, params)
	if err != nil {
		return nil, err
	}
	messageID, err := int64Param(params, "message_id")
	if err != nil {
		return nil, err
	}
	folderName, err := requiredString(params, "folder")
	if err != nil {
		return nil, err
	}
	folder, err := t.store.FindFolderByName(ctx, accountID, folderName)
	if err != nil {
		return nil, err
	}

	task, err := t.recorder.NewBatch(accountID).Copy(ctx, messageID, folder.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to copy message %d: %w", messageID, err)
	}
	t.logger.WithFields(logrus.Fields{
		"task_id": task.ID,
		"folder":  folder.Name,
	}).Info("Recorded message copy")

	return taskResult(task), nil
}
