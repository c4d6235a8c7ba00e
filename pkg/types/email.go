package types

import "time"

// Account represents a mirrored mailbox account
type Account struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	IMAPHost     string `json:"imap_host"`
	IMAPPort     int    `json:"imap_port"`
	IMAPUsername string `json:"imap_username"`
	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `json:"smtp_port"`
	SMTPUsername string `json:"smtp_username"`
	Active       bool   `json:"active"`
}

// Folder represents an email folder/mailbox
type Folder struct {
	ID          int64      `json:"id"`
	AccountID   int64      `json:"account_id"`
	AccountName string     `json:"account_name,omitempty"`
	Name        string     `json:"name"`
	Count       int        `json:"count"`
	Synced      int        `json:"synced"`
	Ignored     bool       `json:"ignored"`
	Deleted     bool       `json:"deleted"`
	LastSynced  *time.Time `json:"last_synced,omitempty"`
}

// Address is a single mailbox address from a message header
type Address struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// Attachment describes an attachment without its content
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	ContentID   string `json:"content_id,omitempty"`
	Size        int64  `json:"size"`
}

// Flags holds the IMAP system flags mirrored locally
type Flags struct {
	Seen     bool `json:"seen"`
	Flagged  bool `json:"flagged"`
	Deleted  bool `json:"deleted"`
	Draft    bool `json:"draft"`
	Answered bool `json:"answered"`
	Recent   bool `json:"recent"`
}

// Message represents a mirrored email message
type Message struct {
	ID           int64        `json:"id"`
	AccountID    int64        `json:"account_id"`
	FolderID     int64        `json:"folder_id"`
	UniqueID     *uint32      `json:"unique_id,omitempty"`
	MessageNo    uint32       `json:"message_no"`
	MessageID    string       `json:"message_id"`
	ThreadID     *int64       `json:"thread_id,omitempty"`
	InReplyTo    string       `json:"in_reply_to,omitempty"`
	References   []string     `json:"references,omitempty"`
	Subject      string       `json:"subject"`
	From         Address      `json:"from"`
	To           []Address    `json:"to,omitempty"`
	Cc           []Address    `json:"cc,omitempty"`
	ReplyTo      []Address    `json:"reply_to,omitempty"`
	Flags        Flags        `json:"flags"`
	Synced       bool         `json:"synced"`
	Size         int64        `json:"size"`
	Date         time.Time    `json:"date"`
	ReceivedDate time.Time    `json:"received_date"`
	Attachments  []Attachment `json:"attachments,omitempty"`
	BodyText     string       `json:"body_text,omitempty"`
	BodyHTML     string       `json:"body_html,omitempty"`
}

// HasUniqueID reports whether the server has confirmed this message
func (m *Message) HasUniqueID() bool {
	return m.UniqueID != nil && *m.UniqueID != 0
}

// MessageSummary represents a summary of a message (for search results)
type MessageSummary struct {
	ID          int64     `json:"id"`
	AccountName string    `json:"account_name"`
	FolderName  string    `json:"folder_name"`
	ThreadID    *int64    `json:"thread_id,omitempty"`
	Subject     string    `json:"subject"`
	SenderName  string    `json:"sender_name"`
	SenderEmail string    `json:"sender_email"`
	Date        time.Time `json:"date"`
	Seen        bool      `json:"seen"`
	Flagged     bool      `json:"flagged"`
	Snippet     string    `json:"snippet"`
}

// Contact is an address seen more than once in an account's mail
type Contact struct {
	ID        int64  `json:"id" db:"id"`
	AccountID int64  `json:"account_id" db:"account_id"`
	Address   string `json:"address" db:"address"`
	Name      string `json:"name,omitempty" db:"name"`
	Tally     int    `json:"tally" db:"tally"`
}
