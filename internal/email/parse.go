package email

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/jhillyerd/enmime"

	"github.com/brandon/mail-sync/pkg/types"
)

// parseRaw fills the header, body and attachment fields of msg from a raw
// RFC 5322 message
func parseRaw(raw []byte, msg *RemoteMessage) error {
	ent, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return fmt.Errorf("failed to read message header: %w", err)
	}
	h := mail.Header{Header: ent.Header}

	msg.MessageID, _ = h.MessageID()
	if ids, err := h.MsgIDList("In-Reply-To"); err == nil && len(ids) > 0 {
		msg.InReplyTo = ids[0]
	}
	if refs, err := h.MsgIDList("References"); err == nil {
		msg.References = refs
	}
	if subject, err := h.Subject(); err == nil {
		msg.Subject = subject
	} else {
		msg.Subject = h.Get("Subject")
	}
	if date, err := h.Date(); err == nil {
		msg.Date = date
	}
	if from := addressList(h, "From"); len(from) > 0 {
		msg.From = from[0]
	}
	msg.To = addressList(h, "To")
	msg.Cc = addressList(h, "Cc")
	msg.ReplyTo = addressList(h, "Reply-To")

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		// Fallback: keep the raw body as text
		if i := bytes.Index(raw, []byte("\r\n\r\n")); i >= 0 {
			msg.BodyText = string(raw[i+4:])
		}
		return nil
	}
	msg.BodyText = env.Text
	msg.BodyHTML = env.HTML

	parts := make([]*enmime.Part, 0, len(env.Attachments)+len(env.Inlines))
	parts = append(parts, env.Attachments...)
	parts = append(parts, env.Inlines...)
	for _, p := range parts {
		msg.Attachments = append(msg.Attachments, types.Attachment{
			Filename:    p.FileName,
			ContentType: p.ContentType,
			ContentID:   strings.Trim(p.ContentID, "<>"),
			Size:        int64(len(p.Content)),
		})
	}
	return nil
}

func addressList(h mail.Header, key string) []types.Address {
	list, err := h.AddressList(key)
	if err != nil {
		return nil
	}
	out := make([]types.Address, 0, len(list))
	for _, a := range list {
		out = append(out, types.Address{Name: a.Name, Email: strings.ToLower(a.Address)})
	}
	return out
}
