package email

import (
	"crypto/tls"
	"fmt"
	"io"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-sync/internal/config"
)

// IMAPClient wraps an IMAP client connection and implements Mailbox
type IMAPClient struct {
	config         *config.AccountConfig
	client         *client.Client
	logger         *logrus.Logger
	maxMessageSize int64
	selected       string
	connected      bool
}

// NewIMAPClient creates a new IMAP client (does not connect immediately)
func NewIMAPClient(cfg *config.AccountConfig, maxMessageSize int64, logger *logrus.Logger) *IMAPClient {
	return &IMAPClient{
		config:         cfg,
		logger:         logger,
		maxMessageSize: maxMessageSize,
	}
}

// Connect establishes a connection to the IMAP server
func (c *IMAPClient) Connect() error {
	if c.connected && c.client != nil {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", c.config.IMAPHost, c.config.IMAPPort)

	// Connect to server
	cl, err := client.DialTLS(addr, &tls.Config{
		ServerName: c.config.IMAPHost,
		MinVersion: tls.VersionTLS12,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	c.client = cl

	// Login
	if err := c.client.Login(c.config.IMAPUsername, c.config.IMAPPassword); err != nil {
		c.logger.WithError(err).WithField("account", c.config.Name).Error("Failed to login to IMAP server, check IMAP credentials")
		c.client.Logout() //nolint:errcheck
		c.client = nil
		return fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	c.connected = true
	c.selected = ""
	c.logger.WithField("account", c.config.Name).Info("Connected to IMAP server")
	return nil
}

// Close closes the IMAP connection
func (c *IMAPClient) Close() error {
	if c.client != nil {
		err := c.client.Logout()
		c.client = nil
		c.connected = false
		c.selected = ""
		return err
	}
	return nil
}

// ListFolders lists all mailbox names
func (c *IMAPClient) ListFolders() ([]string, error) {
	if err := c.Connect(); err != nil {
		return nil, err
	}

	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)

	go func() {
		done <- c.client.List("", "*", mailboxes)
	}()

	var names []string
	for m := range mailboxes {
		names = append(names, m.Name)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}

	return names, nil
}

// Select opens a folder read-write
func (c *IMAPClient) Select(folder string) (*FolderStatus, error) {
	if err := c.Connect(); err != nil {
		return nil, err
	}

	mbox, err := c.client.Select(folder, false)
	if err != nil {
		c.selected = ""
		return nil, fmt.Errorf("failed to select folder %s: %w", folder, err)
	}
	c.selected = folder

	return &FolderStatus{
		Name:        mbox.Name,
		Messages:    mbox.Messages,
		UIDValidity: mbox.UidValidity,
		UIDNext:     mbox.UidNext,
	}, nil
}

func (c *IMAPClient) ensureSelected(folder string) error {
	if folder == "" || (c.connected && c.selected == folder) {
		return nil
	}
	_, err := c.Select(folder)
	return err
}

// ListUIDs returns every UID in the selected folder
func (c *IMAPClient) ListUIDs() ([]uint32, error) {
	if err := c.Connect(); err != nil {
		return nil, err
	}

	uids, err := c.client.UidSearch(imap.NewSearchCriteria())
	if err != nil {
		return nil, fmt.Errorf("failed to list uids: %w", err)
	}
	return uids, nil
}

// SeqNumByUID resolves a UID to its current sequence number
func (c *IMAPClient) SeqNumByUID(uid uint32) (uint32, error) {
	if err := c.Connect(); err != nil {
		return 0, err
	}

	criteria := imap.NewSearchCriteria()
	criteria.Uid = new(imap.SeqSet)
	criteria.Uid.AddNum(uid)

	seqNums, err := c.client.Search(criteria)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve uid %d: %w", uid, err)
	}
	if len(seqNums) == 0 {
		return 0, fmt.Errorf("uid %d: %w", uid, ErrUIDNotFound)
	}
	return seqNums[0], nil
}

// fetch runs one FETCH against a single sequence number
func (c *IMAPClient) fetch(seqNum uint32, items []imap.FetchItem) (*imap.Message, error) {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(seqNum)

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)

	go func() {
		done <- c.client.Fetch(seqSet, items, messages)
	}()

	var msg *imap.Message
	for m := range messages {
		if msg == nil {
			msg = m
		}
	}

	if err := <-done; err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, fmt.Errorf("message %d: %w", seqNum, ErrUIDNotFound)
	}
	return msg, nil
}

// FetchUID returns the UID the server currently reports for seqNum
func (c *IMAPClient) FetchUID(seqNum uint32) (uint32, error) {
	if err := c.Connect(); err != nil {
		return 0, err
	}
	msg, err := c.fetch(seqNum, []imap.FetchItem{imap.FetchUid})
	if err != nil {
		return 0, fmt.Errorf("failed to fetch uid of message %d: %w", seqNum, err)
	}
	return msg.Uid, nil
}

// FetchMessage downloads one message from the selected folder. The size is
// checked before the body is requested; the fetch does not set \Seen.
func (c *IMAPClient) FetchMessage(seqNum uint32) (*RemoteMessage, error) {
	if err := c.Connect(); err != nil {
		return nil, err
	}

	head, err := c.fetch(seqNum, []imap.FetchItem{imap.FetchUid, imap.FetchRFC822Size})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch size of message %d: %w", seqNum, err)
	}
	if c.maxMessageSize > 0 && int64(head.Size) > c.maxMessageSize {
		return nil, &SizeLimitError{UID: head.Uid, Size: int64(head.Size), Limit: c.maxMessageSize}
	}

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchFlags, imap.FetchInternalDate, imap.FetchRFC822Size, section.FetchItem()}
	msg, err := c.fetch(seqNum, items)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch message %d: %w", seqNum, err)
	}

	remote := &RemoteMessage{
		UID:          msg.Uid,
		SeqNum:       msg.SeqNum,
		Flags:        msg.Flags,
		Size:         int64(msg.Size),
		InternalDate: msg.InternalDate,
	}

	literal := msg.GetBody(section)
	if literal == nil {
		c.logger.WithField("uid", msg.Uid).Warn("Message has no body")
		return remote, nil
	}
	raw, err := io.ReadAll(literal)
	if err != nil {
		return nil, fmt.Errorf("failed to read message %d: %w", seqNum, err)
	}
	if err := parseRaw(raw, remote); err != nil {
		c.logger.WithError(err).WithField("uid", msg.Uid).Warn("Failed to parse message headers")
	}
	return remote, nil
}

// SearchWithout returns the UIDs in the selected folder lacking flag
func (c *IMAPClient) SearchWithout(flag string) ([]uint32, error) {
	if err := c.Connect(); err != nil {
		return nil, err
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{flag}

	uids, err := c.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search without %s: %w", flag, err)
	}
	return uids, nil
}

func (c *IMAPClient) storeFlags(op imap.FlagsOp, seqNums []uint32, flags []string, folder string) error {
	if len(seqNums) == 0 {
		return nil
	}
	if err := c.Connect(); err != nil {
		return err
	}
	if err := c.ensureSelected(folder); err != nil {
		return err
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(seqNums...)

	values := make([]interface{}, len(flags))
	for i, f := range flags {
		values[i] = f
	}
	return c.client.Store(seqSet, imap.FormatFlagsOp(op, true), values, nil)
}

// AddFlags adds flags to messages in folder
func (c *IMAPClient) AddFlags(seqNums []uint32, flags []string, folder string) error {
	if err := c.storeFlags(imap.AddFlags, seqNums, flags, folder); err != nil {
		return fmt.Errorf("failed to add flags %v: %w", flags, err)
	}
	return nil
}

// RemoveFlags removes flags from messages in folder
func (c *IMAPClient) RemoveFlags(seqNums []uint32, flags []string, folder string) error {
	if err := c.storeFlags(imap.RemoveFlags, seqNums, flags, folder); err != nil {
		return fmt.Errorf("failed to remove flags %v: %w", flags, err)
	}
	return nil
}

// Copy copies messages from the selected folder into folder
func (c *IMAPClient) Copy(seqNums []uint32, folder string) error {
	if err := c.Connect(); err != nil {
		return err
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(seqNums...)
	if err := c.client.Copy(seqSet, folder); err != nil {
		return fmt.Errorf("failed to copy to %s: %w", folder, err)
	}
	return nil
}

// Expunge permanently removes \Deleted messages from folder
func (c *IMAPClient) Expunge(folder string) error {
	if err := c.Connect(); err != nil {
		return err
	}
	if err := c.ensureSelected(folder); err != nil {
		return err
	}
	if err := c.client.Expunge(nil); err != nil {
		return fmt.Errorf("failed to expunge %s: %w", folder, err)
	}
	return nil
}
