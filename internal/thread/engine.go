// Package thread groups an account's messages into conversations. Each run
// only loads messages past the last one processed; state for earlier
// messages is kept in memory between runs.
package thread

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-sync/internal/cache"
	"github.com/brandon/mail-sync/internal/checkpoint"
	"github.com/brandon/mail-sync/pkg/types"
)

// closeThreshold is the largest gap between two same-subject threads that
// still merges them
const closeThreshold = 5 * 24 * time.Hour

// Notifier is told about every message whose thread id changed
type Notifier interface {
	ThreadChanged(account string, messageID, threadID int64)
}

// Options bounds the work done per batch
type Options struct {
	BatchSize       int
	CommitBatchSize int
	SubjectMemo     int
}

// Result counts the work of one run
type Result struct {
	Loaded   int
	Changed  int
	Merged   int
	Contacts int
}

// Engine assigns thread ids. It is not safe for concurrent use; each worker
// owns one engine.
type Engine struct {
	store    *cache.Store
	opts     Options
	cp       *checkpoint.Checkpoint
	notifier Notifier
	logger   *logrus.Logger
	subjects *subjects
	states   map[int64]*state
}

// NewEngine creates a threading engine
func NewEngine(store *cache.Store, opts Options, cp *checkpoint.Checkpoint, notifier Notifier, logger *logrus.Logger) (*Engine, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
	if opts.CommitBatchSize <= 0 {
		opts.CommitBatchSize = 500
	}
	if opts.SubjectMemo <= 0 {
		opts.SubjectMemo = 4096
	}
	subj, err := newSubjects(opts.SubjectMemo)
	if err != nil {
		return nil, fmt.Errorf("failed to create subject memo: %w", err)
	}
	return &Engine{
		store:    store,
		opts:     opts,
		cp:       cp,
		notifier: notifier,
		logger:   logger,
		subjects: subj,
		states:   make(map[int64]*state),
	}, nil
}

// Reset drops the in-memory state of an account; the next run reloads
// every message
func (e *Engine) Reset(accountID int64) {
	delete(e.states, accountID)
}

// Run threads the account's messages added since the previous run
func (e *Engine) Run(ctx context.Context, account *types.Account) (*Result, error) {
	st, ok := e.states[account.ID]
	if !ok {
		st = newState()
		e.states[account.ID] = st
	}

	log := e.logger.WithField("account", account.Name)
	res := &Result{}
	for {
		rows, err := e.store.ThreadBatch(ctx, account.ID, st.lastID, e.opts.BatchSize)
		if err != nil {
			e.Reset(account.ID)
			return res, err
		}
		if len(rows) == 0 {
			break
		}

		if err := e.runBatch(ctx, account, st, rows, res); err != nil {
			// A partly applied batch leaves the index ahead of the database
			e.Reset(account.ID)
			return res, err
		}
		st.lastID = rows[len(rows)-1].ID
		res.Loaded += len(rows)

		if err := e.cp.Check(ctx); err != nil {
			return res, err
		}
		if len(rows) < e.opts.BatchSize {
			break
		}
	}

	if res.Loaded > 0 {
		log.WithFields(logrus.Fields{
			"loaded":   res.Loaded,
			"changed":  res.Changed,
			"merged":   res.Merged,
			"contacts": res.Contacts,
		}).Info("Threaded messages")
	}
	return res, nil
}

type batch struct {
	seeds    []*node
	touched  map[int64]struct{}
	contacts map[string]*types.Contact
}

func (e *Engine) runBatch(ctx context.Context, account *types.Account, st *state, rows []cache.ThreadRow, res *Result) error {
	b := &batch{
		touched:  make(map[int64]struct{}),
		contacts: make(map[string]*types.Contact),
	}

	e.load(st, rows, b)

	for _, seed := range b.seeds {
		if seed.processed {
			continue
		}
		res.Merged += e.walk(st, seed, b)
		if err := e.cp.Check(ctx); err != nil {
			return err
		}
	}

	res.Merged += e.mergeSubjects(st, b)

	changes := e.changes(st, b)
	contacts := e.frequentContacts(b)
	if err := e.commit(ctx, account, changes, contacts); err != nil {
		return err
	}
	res.Changed += len(changes)
	res.Contacts += len(contacts)
	return nil
}

// load merges a batch of rows into the index
func (e *Engine) load(st *state, rows []cache.ThreadRow, b *batch) {
	queued := make(map[*node]struct{}, len(rows))

	for _, r := range rows {
		key := messageKey(r.MessageID, r.ID)
		own := r.ID
		if r.ThreadID > 0 && r.ThreadID < own {
			own = r.ThreadID
		}
		subject := e.subjects.normalize(r.Subject)

		n, ok := st.index[key]
		switch {
		case !ok:
			n = &node{
				key:     key,
				rows:    map[int64]int64{r.ID: r.ThreadID},
				refs:    make(map[string]struct{}),
				subject: subject,
				hash:    subjectHash(subject),
				date:    r.Date,
			}
			st.index[key] = n
			st.join(n, own)
		case n.placeholder:
			// A referenced id arrived; it starts its own thread and joins
			// the referrers through the walk
			n.placeholder = false
			n.subject = subject
			n.hash = subjectHash(subject)
			n.date = r.Date
			n.rows[r.ID] = r.ThreadID
			st.join(n, own)
		default:
			if _, dup := n.rows[r.ID]; !dup {
				n.rows[r.ID] = r.ThreadID
			}
			st.ensure(own, n.hash).extend(r.Date)
			st.union(n.thread, own)
		}
		b.touched[st.find(n.thread)] = struct{}{}

		candidates := make([]string, 0, len(r.Refs)+1)
		candidates = append(candidates, r.Refs...)
		candidates = append(candidates, r.InReplyTo)
		refs := make([]string, 0, len(candidates))
		for _, ref := range candidates {
			k := refKey(ref)
			if k == "" || k == key {
				continue
			}
			if _, known := n.refs[k]; known {
				continue
			}
			refs = append(refs, k)
			st.referrers[k] = append(st.referrers[k], key)
		}
		n.addRefs(refs)
		n.processed = false

		if _, ok := queued[n]; !ok {
			queued[n] = struct{}{}
			b.seeds = append(b.seeds, n)
		}

		// a stored thread id means an earlier run already counted the row
		if r.ThreadID == 0 {
			e.tally(b, r)
		}
	}
}

// walk follows references out from seed with an explicit stack. A
// reference is followed only when the node's subject is similar to the
// seed's; unknown ids become placeholders carrying the seed's subject.
func (e *Engine) walk(st *state, seed *node, b *batch) int {
	merged := 0
	visited := map[string]struct{}{seed.key: {}}
	stack := []*node{seed}

	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n.processed && n != seed {
			continue
		}
		n.processed = true

		neighbors := make([]string, 0, len(n.refs)+len(st.referrers[n.key]))
		for k := range n.refs {
			neighbors = append(neighbors, k)
		}
		neighbors = append(neighbors, st.referrers[n.key]...)
		sort.Strings(neighbors)

		for _, k := range neighbors {
			if _, ok := visited[k]; ok {
				continue
			}
			m, ok := st.index[k]
			if !ok {
				m = &node{
					key:         k,
					rows:        make(map[int64]int64),
					refs:        make(map[string]struct{}),
					subject:     seed.subject,
					placeholder: true,
				}
				st.index[k] = m
			}
			if !similar(seed.subject, m.subject) {
				continue
			}
			visited[k] = struct{}{}

			if m.thread == 0 {
				st.join(m, seed.thread)
			} else if root, ok := st.union(seed.thread, m.thread); ok {
				b.touched[root] = struct{}{}
				merged++
			}
			if !m.processed {
				stack = append(stack, m)
			}
		}
	}
	b.touched[st.find(seed.thread)] = struct{}{}
	return merged
}

// mergeSubjects joins same-subject threads whose time windows are close
func (e *Engine) mergeSubjects(st *state, b *batch) int {
	hashes := make(map[uint64]struct{})
	for root := range b.touched {
		if m, ok := st.metas[st.find(root)]; ok && m.hash != 0 {
			hashes[m.hash] = struct{}{}
		}
	}

	merged := 0
	for hash := range hashes {
		var roots []int64
		for _, r := range st.roots(hash) {
			if !st.metas[r].start.IsZero() {
				roots = append(roots, r)
			}
		}
		if len(roots) < 2 {
			continue
		}
		sort.Slice(roots, func(i, j int) bool {
			a, c := st.metas[roots[i]], st.metas[roots[j]]
			if a.start.Equal(c.start) {
				return roots[i] < roots[j]
			}
			return a.start.Before(c.start)
		})

		cur := roots[0]
		for _, next := range roots[1:] {
			if near(st.metas[st.find(cur)], st.metas[next]) {
				root, _ := st.union(cur, next)
				b.touched[root] = struct{}{}
				cur = root
				merged++
				continue
			}
			cur = next
		}
	}
	return merged
}

// near reports whether b, starting no earlier than a, belongs with a
func near(a, b *meta) bool {
	switch {
	case !b.start.After(a.end):
		return true
	case !b.end.Before(a.start) && !b.end.After(a.end):
		return true
	}
	return b.start.Sub(a.end) < closeThreshold
}

type change struct {
	n      *node
	row    int64
	thread int64
}

// changes lists every stored row whose thread id differs from its node's
func (e *Engine) changes(st *state, b *batch) []change {
	var out []change
	seen := make(map[*node]struct{})
	done := make(map[int64]struct{})

	for t := range b.touched {
		root := st.find(t)
		if _, ok := done[root]; ok {
			continue
		}
		done[root] = struct{}{}

		live := st.members[root][:0]
		for _, n := range st.members[root] {
			if _, dup := seen[n]; dup || st.find(n.thread) != root {
				continue
			}
			seen[n] = struct{}{}
			live = append(live, n)
			n.thread = root
			for row, saved := range n.rows {
				if saved != root {
					out = append(out, change{n: n, row: row, thread: root})
				}
			}
		}
		st.members[root] = live
	}

	sort.Slice(out, func(i, j int) bool { return out[i].row < out[j].row })
	return out
}

// tally counts every participant of a row
func (e *Engine) tally(b *batch, r cache.ThreadRow) {
	addrs := make([]types.Address, 0, 1+len(r.To)+len(r.Cc))
	addrs = append(addrs, r.From)
	addrs = append(addrs, r.To...)
	addrs = append(addrs, r.Cc...)
	for _, a := range addrs {
		addr := strings.ToLower(strings.TrimSpace(a.Email))
		if addr == "" {
			continue
		}
		c, ok := b.contacts[addr]
		if !ok {
			c = &types.Contact{Address: addr}
			b.contacts[addr] = c
		}
		c.Tally++
		if c.Name == "" {
			c.Name = a.Name
		}
	}
}

// frequentContacts returns the addresses seen more than once in the batch
func (e *Engine) frequentContacts(b *batch) []types.Contact {
	var out []types.Contact
	for _, c := range b.contacts {
		if c.Tally > 1 {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// commit writes the changed thread ids in transactions of at most
// CommitBatchSize statements, then the contact tallies
func (e *Engine) commit(ctx context.Context, account *types.Account, changes []change, contacts []types.Contact) error {
	var tx *cache.Tx
	var pending []change

	flush := func() error {
		if tx == nil {
			return nil
		}
		err := tx.Commit()
		tx = nil
		if err != nil {
			return err
		}
		for _, c := range pending {
			c.n.rows[c.row] = c.thread
			if e.notifier != nil {
				e.notifier.ThreadChanged(account.Name, c.row, c.thread)
			}
		}
		pending = pending[:0]
		return nil
	}
	begin := func() error {
		if tx != nil {
			return nil
		}
		var err error
		tx, err = e.store.Begin(ctx)
		return err
	}
	defer func() {
		if tx != nil {
			tx.Rollback() //nolint:errcheck
		}
	}()

	for _, c := range changes {
		if err := begin(); err != nil {
			return err
		}
		if err := tx.SetThreadID(ctx, c.row, c.thread); err != nil {
			return err
		}
		pending = append(pending, c)
		if tx.Statements() >= e.opts.CommitBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}

	if len(contacts) > 0 {
		if err := begin(); err != nil {
			return err
		}
		if err := tx.UpsertContacts(ctx, account.ID, contacts); err != nil {
			return err
		}
	}
	return flush()
}
