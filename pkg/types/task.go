package types

import "time"

// TaskType identifies the mutation a task mirrors to the server
type TaskType string

const (
	TaskCopy         TaskType = "copy"
	TaskFlag         TaskType = "flag"
	TaskUnflag       TaskType = "unflag"
	TaskRead         TaskType = "read"
	TaskUnread       TaskType = "unread"
	TaskDelete       TaskType = "delete"
	TaskUndelete     TaskType = "undelete"
	TaskCreate       TaskType = "create"
	TaskSend         TaskType = "send"
	TaskDeleteOutbox TaskType = "delete_outbox"
)

// Valid reports whether t is a known task type
func (t TaskType) Valid() bool {
	switch t {
	case TaskCopy, TaskFlag, TaskUnflag, TaskRead, TaskUnread,
		TaskDelete, TaskUndelete, TaskCreate, TaskSend, TaskDeleteOutbox:
		return true
	}
	return false
}

// Inverse returns the type that cancels t, if there is one
func (t TaskType) Inverse() (TaskType, bool) {
	switch t {
	case TaskFlag:
		return TaskUnflag, true
	case TaskUnflag:
		return TaskFlag, true
	case TaskRead:
		return TaskUnread, true
	case TaskUnread:
		return TaskRead, true
	case TaskDelete:
		return TaskUndelete, true
	case TaskUndelete:
		return TaskDelete, true
	}
	return "", false
}

// Expunges reports whether a folder touched by this type needs an EXPUNGE
func (t TaskType) Expunges() bool {
	return t == TaskDelete || t == TaskDeleteOutbox
}

// TaskStatus is the lifecycle state of a task
type TaskStatus string

const (
	TaskNew      TaskStatus = "new"
	TaskDone     TaskStatus = "done"
	TaskError    TaskStatus = "error"
	TaskReverted TaskStatus = "reverted"
	TaskIgnored  TaskStatus = "ignored"
)

// Task is a local mutation to be mirrored to the remote mailbox
type Task struct {
	ID        int64      `json:"id"`
	AccountID int64      `json:"account_id"`
	MessageID int64      `json:"message_id"`
	FolderID  *int64     `json:"folder_id,omitempty"`
	CopyID    *int64     `json:"copy_id,omitempty"`
	BatchID   string     `json:"batch_id"`
	Type      TaskType   `json:"type"`
	Status    TaskStatus `json:"status"`
	OldValue  int        `json:"old_value"`
	Retries   int        `json:"retries"`
	Reason    string     `json:"reason,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
