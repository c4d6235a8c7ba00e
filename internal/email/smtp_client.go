package email

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/jhillyerd/enmime"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-sync/internal/config"
)

// Sender delivers a composed message
type Sender interface {
	Send(msg *OutgoingMessage) error
}

// OutgoingMessage represents an email to be sent
type OutgoingMessage struct {
	From       string
	FromName   string
	To         []string
	Cc         []string
	Bcc        []string
	Subject    string
	BodyText   string
	BodyHTML   string
	ReplyTo    string
	MessageID  string
	InReplyTo  string
	References []string
}

// Recipients returns every envelope recipient
func (m *OutgoingMessage) Recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	out = append(out, m.To...)
	out = append(out, m.Cc...)
	return append(out, m.Bcc...)
}

// SMTPClient wraps an SMTP client
type SMTPClient struct {
	config *config.AccountConfig
	logger *logrus.Logger
}

// NewSMTPClient creates a new SMTP client
func NewSMTPClient(cfg *config.AccountConfig, logger *logrus.Logger) *SMTPClient {
	return &SMTPClient{
		config: cfg,
		logger: logger,
	}
}

// Send sends an email
func (c *SMTPClient) Send(msg *OutgoingMessage) error {
	if len(msg.Recipients()) == 0 {
		return fmt.Errorf("message has no recipients")
	}

	// Create message
	emailBytes, err := c.createMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}

	client, err := c.dial()
	if err != nil {
		return err
	}
	defer client.Close()

	if c.config.SMTPPassword != "" {
		auth := smtp.PlainAuth("", c.config.SMTPUsername, c.config.SMTPPassword, c.config.SMTPHost)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("failed to authenticate, check SMTP credentials: %w", err)
		}
	}

	// Set sender
	if err := client.Mail(c.envelopeFrom(msg)); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}

	// Set recipients
	for _, to := range msg.Recipients() {
		if err := client.Rcpt(to); err != nil {
			return fmt.Errorf("failed to set recipient %s: %w", to, err)
		}
	}

	// Send data
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to send data command: %w", err)
	}

	if _, err := w.Write(emailBytes); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"account":    c.config.Name,
		"message_id": msg.MessageID,
		"recipients": len(msg.Recipients()),
	}).Info("Message sent")
	return client.Quit()
}

// dial connects with implicit TLS on port 465 and STARTTLS otherwise
func (c *SMTPClient) dial() (*smtp.Client, error) {
	addr := fmt.Sprintf("%s:%d", c.config.SMTPHost, c.config.SMTPPort)
	tlsConfig := &tls.Config{
		ServerName: c.config.SMTPHost,
		MinVersion: tls.VersionTLS12,
	}

	if c.config.SMTPPort == 465 {
		conn, err := tls.Dial("tcp", addr, tlsConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to SMTP server: %w", err)
		}
		client, err := smtp.NewClient(conn, c.config.SMTPHost)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create SMTP client: %w", err)
		}
		return client, nil
	}

	client, err := smtp.Dial(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	if err := client.StartTLS(tlsConfig); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to start TLS: %w", err)
	}
	return client, nil
}

func (c *SMTPClient) envelopeFrom(msg *OutgoingMessage) string {
	if msg.From != "" {
		return msg.From
	}
	if c.config.Email != "" {
		return c.config.Email
	}
	return c.config.SMTPUsername
}

// createMessage creates an email message in MIME format
func (c *SMTPClient) createMessage(msg *OutgoingMessage) ([]byte, error) {
	builder := enmime.Builder().
		From(msg.FromName, c.envelopeFrom(msg)).
		Subject(msg.Subject).
		Text([]byte(msg.BodyText))

	for _, to := range msg.To {
		builder = builder.To("", to)
	}
	for _, cc := range msg.Cc {
		builder = builder.CC("", cc)
	}
	for _, bcc := range msg.Bcc {
		builder = builder.BCC("", bcc)
	}
	if msg.BodyHTML != "" {
		builder = builder.HTML([]byte(msg.BodyHTML))
	}
	if msg.ReplyTo != "" {
		builder = builder.ReplyTo("", msg.ReplyTo)
	}
	if msg.MessageID != "" {
		builder = builder.Header("Message-ID", "<"+strings.Trim(msg.MessageID, "<>")+">")
	}
	if msg.InReplyTo != "" {
		builder = builder.Header("In-Reply-To", "<"+strings.Trim(msg.InReplyTo, "<>")+">")
	}
	if len(msg.References) > 0 {
		refs := make([]string, len(msg.References))
		for i, r := range msg.References {
			refs[i] = "<" + strings.Trim(r, "<>") + ">"
		}
		builder = builder.Header("References", strings.Join(refs, " "))
	}

	part, err := builder.Build()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := part.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
