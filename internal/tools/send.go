package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-sync/internal/actions"
	"github.com/brandon/mail-sync/internal/cache"
	"github.com/brandon/mail-sync/pkg/types"
)

const (
	defaultSentFolder  = "Sent"
	defaultDraftFolder = "Drafts"
)

// SendEmailTool stores an outgoing message and queues its delivery
type SendEmailTool struct {
	store    *cache.Store
	recorder *actions.Recorder
	logger   *logrus.Logger
}

// NewSendEmailTool creates a new send email tool
func NewSendEmailTool(store *cache.Store, recorder *actions.Recorder, logger *logrus.Logger) *SendEmailTool {
	return &SendEmailTool{
		store:    store,
		recorder: recorder,
		logger:   logger,
	}
}

// Name returns the tool name
func (t *SendEmailTool) Name() string {
	return "send_email"
}

// Description returns the tool description
func (t *SendEmailTool) Description() string {
	return "Queue a new email for delivery; it is sent on the account's next sync cycle and can be undone until then. With draft set, the email is only saved locally"
}

// InputSchema returns the JSON schema for tool inputs
func (t *SendEmailTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": map[string]interface{}{
				"type":        "string",
				"description": "Account to send from",
			},
			"to": map[string]interface{}{
				"type":        "string",
				"description": "Recipient email address(es) (comma-separated)",
			},
			"cc": map[string]interface{}{
				"type":        "string",
				"description": "Optional: CC recipients (comma-separated)",
			},
			"subject": map[string]interface{}{
				"type":        "string",
				"description": "Email subject",
			},
			"body_text": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Plain text body",
			},
			"body_html": map[string]interface{}{
				"type":        "string",
				"description": "Optional: HTML body",
			},
			"in_reply_to": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Message-ID this email replies to",
			},
			"folder": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Folder holding the outgoing copy (default: Sent, or Drafts for drafts)",
			},
			"draft": map[string]interface{}{
				"type":        "boolean",
				"description": "Optional: Save as a local draft instead of sending",
			},
		},
		"required": []string{"account_name", "to", "subject"},
	}
}

// Execute executes the tool
func (t *SendEmailTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	accountID, err := lookupAccount(ctx, t.store, params)
	if err != nil {
		return nil, err
	}

	to, err := addresses(params, "to")
	if err != nil {
		return nil, err
	}
	if len(to) == 0 {
		return nil, fmt.Errorf("to is required")
	}
	cc, err := addresses(params, "cc")
	if err != nil {
		return nil, err
	}

	subject, err := requiredString(params, "subject")
	if err != nil {
		return nil, err
	}

	msg := &types.Message{
		Subject:  subject,
		To:       to,
		Cc:       cc,
		BodyText: stringParam(params, "body_text"),
		BodyHTML: stringParam(params, "body_html"),
		Date:     time.Now().UTC(),
	}
	if msg.BodyText == "" && msg.BodyHTML == "" {
		return nil, fmt.Errorf("either body_text or body_html is required")
	}
	if parent := strings.Trim(stringParam(params, "in_reply_to"), "<>"); parent != "" {
		msg.InReplyTo = parent
		msg.References = []string{parent}
	}

	draft, _ := params["draft"].(bool)
	folderName := stringParam(params, "folder")
	switch {
	case folderName != "":
	case draft:
		folderName = defaultDraftFolder
	default:
		folderName = defaultSentFolder
	}
	folder, err := t.store.FindFolderByName(ctx, accountID, folderName)
	if err != nil {
		return nil, fmt.Errorf("%w: pass the account's %s folder as folder", err, strings.ToLower(folderName))
	}

	batch := t.recorder.NewBatch(accountID)
	store := batch.Send
	if draft {
		store = batch.Create
	}
	task, err := store(ctx, folder.ID, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to queue email: %w", err)
	}
	t.logger.WithFields(logrus.Fields{
		"task_id":    task.ID,
		"message_id": msg.MessageID,
		"draft":      draft,
	}).Info("Stored outgoing email")

	result := taskResult(task)
	result["message_id"] = task.MessageID
	return result, nil
}
