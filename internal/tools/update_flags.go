package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-sync/internal/actions"
	"github.com/brandon/mail-sync/internal/cache"
	"github.com/brandon/mail-sync/pkg/types"
)

type flagAction func(b *actions.Batch, ctx context.Context, messageID int64) (*types.Task, error)

var flagActions = map[string]flagAction{
	"read":     (*actions.Batch).MarkRead,
	"unread":   (*actions.Batch).MarkUnread,
	"flag":     (*actions.Batch).Flag,
	"unflag":   (*actions.Batch).Unflag,
	"delete":   (*actions.Batch).Delete,
	"undelete": (*actions.Batch).Undelete,
	"discard":  (*actions.Batch).DeleteOutbox,
}

func flagActionNames() []string {
	names := make([]string, 0, len(flagActions))
	for name := range flagActions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UpdateFlagsTool changes a flag on several messages as one undoable batch
type UpdateFlagsTool struct {
	store    *cache.Store
	recorder *actions.Recorder
	logger   *logrus.Logger
}

// NewUpdateFlagsTool creates a new update flags tool
func NewUpdateFlagsTool(store *cache.Store, recorder *actions.Recorder, logger *logrus.Logger) *UpdateFlagsTool {
	return &UpdateFlagsTool{
		store:    store,
		recorder: recorder,
		logger:   logger,
	}
}

// Name returns the tool name
func (t *UpdateFlagsTool) Name() string {
	return "update_flags"
}

// Description returns the tool description
func (t *UpdateFlagsTool) Description() string {
	return "Mark messages read/unread, flag/unflag, delete/undelete them, or discard an unsent email; the change is applied locally at once and returns a batch_id for undo_batch"
}

// InputSchema returns the JSON schema for tool inputs
func (t *UpdateFlagsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": map[string]interface{}{
				"type":        "string",
				"description": "Account owning the messages",
			},
			"message_ids": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "integer"},
				"description": "Message IDs (from search results)",
			},
			"action": map[string]interface{}{
				"type":        "string",
				"enum":        flagActionNames(),
				"description": "Flag change to apply",
			},
		},
		"required": []string{"account_name", "message_ids", "action"},
	}
}

// Execute executes the tool
func (t *UpdateFlagsTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	accountID, err := lookupAccount(ctx, t.store, params)
	if err != nil {
		return nil, err
	}
	ids, err := int64List(params, "message_ids")
	if err != nil {
		return nil, err
	}
	name := strings.ToLower(stringParam(params, "action"))
	apply, ok := flagActions[name]
	if !ok {
		return nil, fmt.Errorf("invalid action %q: expected one of %s", name, strings.Join(flagActionNames(), ", "))
	}

	batch := t.recorder.NewBatch(accountID)
	tasks := make([]*types.Task, 0, len(ids))
	for _, id := range ids {
		task, err := apply(batch, ctx, id)
		if err != nil {
			if len(tasks) > 0 {
				return nil, fmt.Errorf("message %d: %w (batch %s holds the %d earlier changes)", id, err, batch.ID, len(tasks))
			}
			return nil, fmt.Errorf("message %d: %w", id, err)
		}
		tasks = append(tasks, task)
	}

	t.logger.WithFields(logrus.Fields{
		"batch_id": batch.ID,
		"action":   name,
		"count":    len(tasks),
	}).Info("Recorded flag changes")

	return taskResult(tasks...), nil
}
