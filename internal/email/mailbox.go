package email

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/brandon/mail-sync/pkg/types"
)

// ErrUIDNotFound is returned when a UID no longer exists in the selected folder
var ErrUIDNotFound = errors.New("uid not found in folder")

// Mailbox is the remote side of the mirror. Calls act on the folder chosen
// by the last Select unless they name one.
type Mailbox interface {
	ListFolders() ([]string, error)
	Select(folder string) (*FolderStatus, error)
	ListUIDs() ([]uint32, error)
	SeqNumByUID(uid uint32) (uint32, error)
	FetchUID(seqNum uint32) (uint32, error)
	FetchMessage(seqNum uint32) (*RemoteMessage, error)
	// SearchWithout returns the UIDs of messages lacking flag
	SearchWithout(flag string) ([]uint32, error)
	AddFlags(seqNums []uint32, flags []string, folder string) error
	RemoveFlags(seqNums []uint32, flags []string, folder string) error
	Copy(seqNums []uint32, folder string) error
	Expunge(folder string) error
	Close() error
}

// FolderStatus describes a selected folder
type FolderStatus struct {
	Name        string
	Messages    uint32
	UIDValidity uint32
	UIDNext     uint32
}

// RemoteMessage is a message as fetched from the server
type RemoteMessage struct {
	UID          uint32
	SeqNum       uint32
	Flags        []string
	Size         int64
	InternalDate time.Time

	MessageID   string
	InReplyTo   string
	References  []string
	Subject     string
	Date        time.Time
	From        types.Address
	To          []types.Address
	Cc          []types.Address
	ReplyTo     []types.Address
	BodyText    string
	BodyHTML    string
	Attachments []types.Attachment
}

// HasFlag reports whether the message carries flag
func (m *RemoteMessage) HasFlag(flag string) bool {
	for _, f := range m.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// SizeLimitError is returned by FetchMessage for a message over the limit
type SizeLimitError struct {
	UID   uint32
	Size  int64
	Limit int64
}

func (e *SizeLimitError) Error() string {
	return fmt.Sprintf("message uid %d is %s, over the %s limit",
		e.UID, humanize.IBytes(uint64(e.Size)), humanize.IBytes(uint64(e.Limit)))
}

// IsSizeLimit reports whether err is a SizeLimitError
func IsSizeLimit(err error) bool {
	var serr *SizeLimitError
	return errors.As(err, &serr)
}
