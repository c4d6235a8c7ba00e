package tools

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-sync/internal/actions"
)

// UndoBatchTool reverts every change recorded under one batch id
type UndoBatchTool struct {
	rollback *actions.Rollback
	logger   *logrus.Logger
}

// NewUndoBatchTool creates a new undo batch tool
func NewUndoBatchTool(rollback *actions.Rollback, logger *logrus.Logger) *UndoBatchTool {
	return &UndoBatchTool{
		rollback: rollback,
		logger:   logger,
	}
}

// Name returns the tool name
func (t *UndoBatchTool) Name() string {
	return "undo_batch"
}

// Description returns the tool description
func (t *UndoBatchTool) Description() string {
	return "Undo the changes of a batch returned by update_flags, copy_message or send_email"
}

// InputSchema returns the JSON schema for tool inputs
func (t *UndoBatchTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"batch_id": map[string]interface{}{
				"type":        "string",
				"description": "Batch ID to undo",
			},
		},
		"required": []string{"batch_id"},
	}
}

// Execute executes the tool
func (t *UndoBatchTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	batchID, err := requiredString(params, "batch_id")
	if err != nil {
		return nil, err
	}

	n, err := t.rollback.Batch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"batch_id": batchID,
		"reverted": n,
	}, nil
}
