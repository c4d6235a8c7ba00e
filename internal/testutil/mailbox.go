package testutil

import (
	"fmt"
	"sort"
	"sync"

	"github.com/brandon/mail-sync/internal/email"
)

// FakeFolder is one folder of a FakeMailbox. Messages are kept in UID
// order; a message's sequence number is its position plus one.
type FakeFolder struct {
	Messages []*email.RemoteMessage
}

// FakeMailbox is an in-memory Mailbox that records the calls it receives
type FakeMailbox struct {
	mu       sync.Mutex
	folders  map[string]*FakeFolder
	order    []string
	selected string

	// Calls lists method names in call order
	Calls []string
	// Expunged lists the folders passed to Expunge
	Expunged []string
	// FetchErrors fails FetchUID and FetchMessage for the given UIDs
	FetchErrors map[uint32]error
	// SelectErrors fails Select for the given folders
	SelectErrors map[string]error
	// StoreError fails AddFlags, RemoveFlags and Copy when set
	StoreError error
	// UIDOverride makes FetchUID and FetchMessage report a different UID, keyed by the real one
	UIDOverride map[uint32]uint32
}

// NewFakeMailbox returns a mailbox holding the given empty folders
func NewFakeMailbox(folders ...string) *FakeMailbox {
	f := &FakeMailbox{
		folders:      make(map[string]*FakeFolder),
		FetchErrors:  make(map[uint32]error),
		SelectErrors: make(map[string]error),
		UIDOverride:  make(map[uint32]uint32),
	}
	for _, name := range folders {
		f.AddFolder(name)
	}
	return f
}

// AddFolder creates an empty folder if it does not exist
func (f *FakeMailbox) AddFolder(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.folders[name]; !ok {
		f.folders[name] = &FakeFolder{}
		f.order = append(f.order, name)
	}
}

// RemoveFolder drops a folder and its messages
func (f *FakeMailbox) RemoveFolder(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.folders, name)
	for i, n := range f.order {
		if n == name {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
}

// AddMessage stores msg in folder, creating the folder when missing
func (f *FakeMailbox) AddMessage(folder string, msg *email.RemoteMessage) {
	f.AddFolder(folder)
	f.mu.Lock()
	defer f.mu.Unlock()
	fld := f.folders[folder]
	fld.Messages = append(fld.Messages, msg)
	sort.Slice(fld.Messages, func(i, j int) bool { return fld.Messages[i].UID < fld.Messages[j].UID })
}

// RemoveMessage drops one UID from folder
func (f *FakeMailbox) RemoveMessage(folder string, uid uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fld, ok := f.folders[folder]
	if !ok {
		return
	}
	for i, m := range fld.Messages {
		if m.UID == uid {
			fld.Messages = append(fld.Messages[:i], fld.Messages[i+1:]...)
			return
		}
	}
}

// Message returns the stored message with uid, or nil
func (f *FakeMailbox) Message(folder string, uid uint32) *email.RemoteMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	fld, ok := f.folders[folder]
	if !ok {
		return nil
	}
	for _, m := range fld.Messages {
		if m.UID == uid {
			return m
		}
	}
	return nil
}

// CallCount returns how many times method was called
func (f *FakeMailbox) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if c == method {
			n++
		}
	}
	return n
}

func (f *FakeMailbox) record(method string) {
	f.Calls = append(f.Calls, method)
}

func (f *FakeMailbox) current() (*FakeFolder, error) {
	fld, ok := f.folders[f.selected]
	if !ok {
		return nil, fmt.Errorf("no folder selected")
	}
	return fld, nil
}

func (f *FakeMailbox) ListFolders() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ListFolders")
	return append([]string(nil), f.order...), nil
}

func (f *FakeMailbox) Select(folder string) (*email.FolderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Select")
	if err := f.SelectErrors[folder]; err != nil {
		return nil, err
	}
	fld, ok := f.folders[folder]
	if !ok {
		return nil, fmt.Errorf("folder %s does not exist", folder)
	}
	f.selected = folder
	status := &email.FolderStatus{Name: folder, Messages: uint32(len(fld.Messages))}
	if n := len(fld.Messages); n > 0 {
		status.UIDNext = fld.Messages[n-1].UID + 1
	}
	return status, nil
}

func (f *FakeMailbox) ListUIDs() ([]uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ListUIDs")
	fld, err := f.current()
	if err != nil {
		return nil, err
	}
	uids := make([]uint32, len(fld.Messages))
	for i, m := range fld.Messages {
		uids[i] = m.UID
	}
	return uids, nil
}

func (f *FakeMailbox) SeqNumByUID(uid uint32) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SeqNumByUID")
	fld, err := f.current()
	if err != nil {
		return 0, err
	}
	for i, m := range fld.Messages {
		if m.UID == uid {
			return uint32(i + 1), nil
		}
	}
	return 0, fmt.Errorf("uid %d: %w", uid, email.ErrUIDNotFound)
}

func (f *FakeMailbox) FetchUID(seqNum uint32) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("FetchUID")
	fld, err := f.current()
	if err != nil {
		return 0, err
	}
	if seqNum == 0 || int(seqNum) > len(fld.Messages) {
		return 0, fmt.Errorf("message %d: %w", seqNum, email.ErrUIDNotFound)
	}
	uid := fld.Messages[seqNum-1].UID
	if err := f.FetchErrors[uid]; err != nil {
		return 0, err
	}
	if override, ok := f.UIDOverride[uid]; ok {
		return override, nil
	}
	return uid, nil
}

func (f *FakeMailbox) FetchMessage(seqNum uint32) (*email.RemoteMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("FetchMessage")
	fld, err := f.current()
	if err != nil {
		return nil, err
	}
	if seqNum == 0 || int(seqNum) > len(fld.Messages) {
		return nil, fmt.Errorf("message %d: %w", seqNum, email.ErrUIDNotFound)
	}
	stored := fld.Messages[seqNum-1]
	if err := f.FetchErrors[stored.UID]; err != nil {
		return nil, err
	}
	cp := *stored
	cp.SeqNum = seqNum
	cp.Flags = append([]string(nil), stored.Flags...)
	if uid, ok := f.UIDOverride[stored.UID]; ok {
		cp.UID = uid
	}
	return &cp, nil
}

func (f *FakeMailbox) SearchWithout(flag string) ([]uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SearchWithout")
	fld, err := f.current()
	if err != nil {
		return nil, err
	}
	var uids []uint32
	for _, m := range fld.Messages {
		if !m.HasFlag(flag) {
			uids = append(uids, m.UID)
		}
	}
	return uids, nil
}

func (f *FakeMailbox) messagesAt(folder string, seqNums []uint32) ([]*email.RemoteMessage, error) {
	fld, ok := f.folders[folder]
	if !ok {
		return nil, fmt.Errorf("folder %s does not exist", folder)
	}
	out := make([]*email.RemoteMessage, 0, len(seqNums))
	for _, seq := range seqNums {
		if seq == 0 || int(seq) > len(fld.Messages) {
			return nil, fmt.Errorf("message %d: %w", seq, email.ErrUIDNotFound)
		}
		out = append(out, fld.Messages[seq-1])
	}
	return out, nil
}

func (f *FakeMailbox) AddFlags(seqNums []uint32, flags []string, folder string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("AddFlags")
	if f.StoreError != nil {
		return f.StoreError
	}
	msgs, err := f.messagesAt(folder, seqNums)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		for _, flag := range flags {
			if !m.HasFlag(flag) {
				m.Flags = append(m.Flags, flag)
			}
		}
	}
	return nil
}

func (f *FakeMailbox) RemoveFlags(seqNums []uint32, flags []string, folder string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("RemoveFlags")
	if f.StoreError != nil {
		return f.StoreError
	}
	msgs, err := f.messagesAt(folder, seqNums)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		kept := m.Flags[:0]
		for _, existing := range m.Flags {
			drop := false
			for _, flag := range flags {
				if existing == flag {
					drop = true
				}
			}
			if !drop {
				kept = append(kept, existing)
			}
		}
		m.Flags = kept
	}
	return nil
}

func (f *FakeMailbox) Copy(seqNums []uint32, folder string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Copy")
	if f.StoreError != nil {
		return f.StoreError
	}
	msgs, err := f.messagesAt(f.selected, seqNums)
	if err != nil {
		return err
	}
	dst, ok := f.folders[folder]
	if !ok {
		return fmt.Errorf("folder %s does not exist", folder)
	}
	next := uint32(1)
	if n := len(dst.Messages); n > 0 {
		next = dst.Messages[n-1].UID + 1
	}
	for _, m := range msgs {
		cp := *m
		cp.UID = next
		cp.Flags = append([]string(nil), m.Flags...)
		dst.Messages = append(dst.Messages, &cp)
		next++
	}
	return nil
}

func (f *FakeMailbox) Expunge(folder string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Expunge")
	f.Expunged = append(f.Expunged, folder)
	fld, ok := f.folders[folder]
	if !ok {
		return fmt.Errorf("folder %s does not exist", folder)
	}
	kept := fld.Messages[:0]
	for _, m := range fld.Messages {
		if !m.HasFlag(`\Deleted`) {
			kept = append(kept, m)
		}
	}
	fld.Messages = kept
	return nil
}

func (f *FakeMailbox) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Close")
	f.selected = ""
	return nil
}

var _ email.Mailbox = (*FakeMailbox)(nil)
