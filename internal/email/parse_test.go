package email

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mail-sync/internal/config"
	"github.com/brandon/mail-sync/pkg/types"
)

const multipartMessage = "From: Alice Example <Alice@Example.com>\r\n" +
	"To: bob@example.com, \"Carol\" <carol@example.com>\r\n" +
	"Cc: dave@example.com\r\n" +
	"Subject: =?UTF-8?Q?Re:_Caf=C3=A9_plans?=\r\n" +
	"Date: Mon, 03 Jun 2024 09:30:00 +0200\r\n" +
	"Message-ID: <reply@example.com>\r\n" +
	"In-Reply-To: <parent@example.com>\r\n" +
	"References: <root@example.com>\r\n <parent@example.com>\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"outer\"\r\n" +
	"\r\n" +
	"--outer\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"See you at noon.\r\n" +
	"--outer\r\n" +
	"Content-Type: application/pdf\r\n" +
	"Content-Disposition: attachment; filename=\"menu.pdf\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"JVBERi0xLjQ=\r\n" +
	"--outer--\r\n"

func TestParseRawMultipart(t *testing.T) {
	var msg RemoteMessage
	require.NoError(t, parseRaw([]byte(multipartMessage), &msg))

	assert.Equal(t, "reply@example.com", msg.MessageID)
	assert.Equal(t, "parent@example.com", msg.InReplyTo)
	assert.Equal(t, []string{"root@example.com", "parent@example.com"}, msg.References)
	assert.Equal(t, "Re: Café plans", msg.Subject)
	assert.Equal(t, int64(1717399800), msg.Date.Unix())

	assert.Equal(t, types.Address{Name: "Alice Example", Email: "alice@example.com"}, msg.From)
	assert.Equal(t, []types.Address{{Email: "bob@example.com"}, {Name: "Carol", Email: "carol@example.com"}}, msg.To)
	assert.Equal(t, []types.Address{{Email: "dave@example.com"}}, msg.Cc)

	assert.Equal(t, "See you at noon.", strings.TrimSpace(msg.BodyText))
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "menu.pdf", msg.Attachments[0].Filename)
	assert.Equal(t, "application/pdf", msg.Attachments[0].ContentType)
	assert.Equal(t, int64(8), msg.Attachments[0].Size)
}

func TestParseRawWithoutThreadHeaders(t *testing.T) {
	raw := "From: bob@example.com\r\nSubject: hello\r\n\r\nplain body\r\n"
	var msg RemoteMessage
	require.NoError(t, parseRaw([]byte(raw), &msg))

	assert.Empty(t, msg.MessageID)
	assert.Empty(t, msg.InReplyTo)
	assert.Empty(t, msg.References)
	assert.True(t, msg.Date.IsZero())
	assert.Equal(t, "hello", msg.Subject)
	assert.Contains(t, msg.BodyText, "plain body")
}

func TestComposedMessageParsesBack(t *testing.T) {
	c := NewSMTPClient(&config.AccountConfig{Name: "work", Email: "me@work.example"}, nil)
	raw, err := c.createMessage(&OutgoingMessage{
		To:         []string{"bob@example.com"},
		Subject:    "Status",
		BodyText:   "On track.",
		BodyHTML:   "<p>On track.</p>",
		InReplyTo:  "<parent@example.com>",
		References: []string{"root@example.com", "parent@example.com"},
	})
	require.NoError(t, err)

	var msg RemoteMessage
	require.NoError(t, parseRaw(raw, &msg))
	assert.Equal(t, "me@work.example", msg.From.Email)
	assert.Equal(t, "parent@example.com", msg.InReplyTo)
	assert.Equal(t, []string{"root@example.com", "parent@example.com"}, msg.References)
	assert.Contains(t, msg.BodyText, "On track.")
	assert.Contains(t, msg.BodyHTML, "<p>On track.</p>")
}
