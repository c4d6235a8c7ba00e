package tools

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-sync/internal/actions"
)

// RetryTaskTool puts a failed task back in the queue
type RetryTaskTool struct {
	queue  *actions.Queue
	logger *logrus.Logger
}

// NewRetryTaskTool creates a new retry task tool
func NewRetryTaskTool(queue *actions.Queue, logger *logrus.Logger) *RetryTaskTool {
	return &RetryTaskTool{
		queue:  queue,
		logger: logger,
	}
}

// Name returns the tool name
func (t *RetryTaskTool) Name() string {
	return "retry_task"
}

// Description returns the tool description
func (t *RetryTaskTool) Description() string {
	return "Retry a failed task; each task gets at most three attempts"
}

// InputSchema returns the JSON schema for tool inputs
func (t *RetryTaskTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task_id": map[string]interface{}{
				"type":        "integer",
				"description": "Task ID",
			},
		},
		"required": []string{"task_id"},
	}
}

// Execute executes the tool
func (t *RetryTaskTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	id, err := int64Param(params, "task_id")
	if err != nil {
		return nil, err
	}

	task, err := t.queue.Retry(ctx, id)
	if err != nil {
		return nil, err
	}
	t.logger.WithField("task_id", id).Info("Task queued for retry")

	return task, nil
}
