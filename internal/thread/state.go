package thread

import (
	"strconv"
	"strings"
	"time"
)

// node is one entry of the message-id index. Copies of a message in
// several folders share a node; a placeholder stands for a referenced id
// no loaded message carries.
type node struct {
	key         string
	rows        map[int64]int64 // message row id -> saved thread id
	refs        map[string]struct{}
	subject     string
	hash        uint64
	date        time.Time
	thread      int64
	placeholder bool
	processed   bool
}

func (n *node) addRefs(refs []string) {
	for _, r := range refs {
		if r != "" && r != n.key {
			n.refs[r] = struct{}{}
		}
	}
}

// meta spans a thread: its time window, subject hash and the thread ids
// folded into it
type meta struct {
	start, end time.Time
	hash       uint64
	family     map[int64]struct{}
}

func (m *meta) extend(t time.Time) {
	if t.IsZero() {
		return
	}
	if m.start.IsZero() || t.Before(m.start) {
		m.start = t
	}
	if m.end.IsZero() || t.After(m.end) {
		m.end = t
	}
}

// state is the per-account threading state kept between runs
type state struct {
	lastID    int64
	index     map[string]*node
	referrers map[string][]string
	parent    map[int64]int64
	metas     map[int64]*meta
	members   map[int64][]*node
	byHash    map[uint64][]int64
}

func newState() *state {
	return &state{
		index:     make(map[string]*node),
		referrers: make(map[string][]string),
		parent:    make(map[int64]int64),
		metas:     make(map[int64]*meta),
		members:   make(map[int64][]*node),
		byHash:    make(map[uint64][]int64),
	}
}

// messageKey normalizes a Message-ID; a blank id falls back to the
// internal row id
func messageKey(messageID string, rowID int64) string {
	key := strings.ToLower(strings.Trim(strings.TrimSpace(messageID), "<>"))
	if key == "" {
		return "#" + strconv.FormatInt(rowID, 10)
	}
	return key
}

func refKey(ref string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(ref), "<>"))
}

// find returns the surviving thread id of t
func (s *state) find(t int64) int64 {
	root := t
	for {
		p, ok := s.parent[root]
		if !ok || p == root {
			break
		}
		root = p
	}
	for t != root {
		next := s.parent[t]
		s.parent[t] = root
		t = next
	}
	return root
}

// ensure registers a thread id as its own root
func (s *state) ensure(t int64, hash uint64) *meta {
	root := s.find(t)
	if _, ok := s.parent[root]; !ok {
		s.parent[root] = root
	}
	m, ok := s.metas[root]
	if !ok {
		m = &meta{hash: hash, family: map[int64]struct{}{root: {}}}
		s.metas[root] = m
		if hash != 0 {
			s.byHash[hash] = append(s.byHash[hash], root)
		}
	}
	return m
}

// join attaches n to thread t
func (s *state) join(n *node, t int64) {
	root := s.find(t)
	n.thread = root
	s.members[root] = append(s.members[root], n)
	if !n.placeholder {
		s.ensure(root, n.hash).extend(n.date)
	}
}

// union merges the threads of a and b; the lower id survives. It returns
// the surviving id and whether two distinct threads were merged.
func (s *state) union(a, b int64) (int64, bool) {
	ra, rb := s.find(a), s.find(b)
	if ra == rb {
		return ra, false
	}
	if rb < ra {
		ra, rb = rb, ra
	}
	s.parent[rb] = ra
	if _, ok := s.parent[ra]; !ok {
		s.parent[ra] = ra
	}

	winner, loser := s.metas[ra], s.metas[rb]
	switch {
	case winner == nil && loser != nil:
		s.metas[ra] = loser
		loser.family[ra] = struct{}{}
	case winner != nil && loser != nil:
		winner.extend(loser.start)
		winner.extend(loser.end)
		for f := range loser.family {
			winner.family[f] = struct{}{}
		}
		if winner.hash == 0 && loser.hash != 0 {
			winner.hash = loser.hash
			s.byHash[loser.hash] = append(s.byHash[loser.hash], ra)
		}
	}
	delete(s.metas, rb)

	s.members[ra] = append(s.members[ra], s.members[rb]...)
	delete(s.members, rb)
	return ra, true
}

// roots returns the distinct live roots registered under hash, compacting
// the stored list
func (s *state) roots(hash uint64) []int64 {
	seen := make(map[int64]struct{})
	var out []int64
	for _, t := range s.byHash[hash] {
		root := s.find(t)
		if _, dup := seen[root]; dup {
			continue
		}
		m, ok := s.metas[root]
		if !ok || m.hash != hash {
			continue
		}
		seen[root] = struct{}{}
		out = append(out, root)
	}
	s.byHash[hash] = out
	return out
}
