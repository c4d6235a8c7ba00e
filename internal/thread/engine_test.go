package thread

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mail-sync/internal/cache"
	"github.com/brandon/mail-sync/internal/checkpoint"
	"github.com/brandon/mail-sync/internal/testutil"
	"github.com/brandon/mail-sync/pkg/types"
)

type recordingNotifier struct {
	changes map[int64]int64
}

func (r *recordingNotifier) ThreadChanged(account string, messageID, threadID int64) {
	r.changes[messageID] = threadID
}

type fixture struct {
	store    *cache.Store
	account  *types.Account
	folderID int64
	engine   *Engine
	notifier *recordingNotifier
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	s := testutil.NewTestStore(t)
	accountID := testutil.SeedAccount(t, s, "work")
	account, err := s.GetAccount(context.Background(), accountID)
	require.NoError(t, err)

	notifier := &recordingNotifier{changes: make(map[int64]int64)}
	engine, err := NewEngine(s, opts, checkpoint.New(0), notifier, testutil.NewLogger())
	require.NoError(t, err)

	return &fixture{
		store:    s,
		account:  account,
		folderID: testutil.SeedFolder(t, s, accountID, "INBOX"),
		engine:   engine,
		notifier: notifier,
	}
}

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func (f *fixture) add(t *testing.T, uid uint32, id, subject string, date time.Time, refs ...string) *types.Message {
	t.Helper()
	return testutil.SeedMessage(t, f.store, f.account.ID, f.folderID, uid,
		testutil.WithMessageID(id),
		testutil.WithSubject(subject),
		testutil.WithDate(date),
		testutil.WithReferences(refs...))
}

func (f *fixture) threadOf(t *testing.T, m *types.Message) int64 {
	t.Helper()
	got, err := f.store.GetMessage(context.Background(), m.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ThreadID, "message %d has no thread", m.ID)
	return *got.ThreadID
}

func (f *fixture) run(t *testing.T) *Result {
	t.Helper()
	res, err := f.engine.Run(context.Background(), f.account)
	require.NoError(t, err)
	return res
}

func TestReferenceChainAndSubjectJoin(t *testing.T) {
	f := newFixture(t, Options{})
	a := f.add(t, 1, "a@example.com", "Project plan", base)
	b := f.add(t, 2, "b@example.com", "Re: Project plan", base.Add(time.Hour), "a@example.com")
	c := f.add(t, 3, "c@example.com", "RE: Re: Project plan", base.Add(2*time.Hour), "a@example.com", "b@example.com")
	d := f.add(t, 4, "d@example.com", "Project plan", base.Add(72*time.Hour))

	res := f.run(t)
	assert.Equal(t, 4, res.Loaded)

	for _, m := range []*types.Message{a, b, c, d} {
		assert.Equal(t, a.ID, f.threadOf(t, m))
	}
}

func TestSameSubjectFarApartStaysSeparate(t *testing.T) {
	f := newFixture(t, Options{})
	x := f.add(t, 1, "x@example.com", "Weekly report", base)
	y := f.add(t, 2, "y@example.com", "Weekly report", base.Add(10*24*time.Hour))

	f.run(t)
	assert.Equal(t, x.ID, f.threadOf(t, x))
	assert.Equal(t, y.ID, f.threadOf(t, y))
}

func TestDissimilarSubjectReferenceNotFollowed(t *testing.T) {
	f := newFixture(t, Options{})
	e := f.add(t, 1, "e@example.com", "Invoice 2024", base)
	g := f.add(t, 2, "g@example.com", "Lunch on friday?", base.Add(time.Hour), "e@example.com")

	f.run(t)
	assert.NotEqual(t, f.threadOf(t, e), f.threadOf(t, g))
}

func TestPlaceholderConnectsSiblings(t *testing.T) {
	f := newFixture(t, Options{})
	g := f.add(t, 1, "g@example.com", "Trip", base, "missing@example.com")
	h := f.add(t, 2, "h@example.com", "Re: Trip", base.Add(20*24*time.Hour), "missing@example.com")

	f.run(t)
	assert.Equal(t, g.ID, f.threadOf(t, g))
	assert.Equal(t, g.ID, f.threadOf(t, h))
}

func TestCyclicReferencesTerminate(t *testing.T) {
	f := newFixture(t, Options{})
	i := f.add(t, 1, "i@example.com", "Loop", base, "j@example.com")
	j := f.add(t, 2, "j@example.com", "Re: Loop", base.Add(30*24*time.Hour), "i@example.com", "j@example.com")

	f.run(t)
	assert.Equal(t, i.ID, f.threadOf(t, j))
}

func TestBlankMessageIDUsesRowID(t *testing.T) {
	f := newFixture(t, Options{})
	one := f.add(t, 1, "", "First", base)
	two := f.add(t, 2, "", "Second unrelated", base)

	f.run(t)
	assert.Equal(t, one.ID, f.threadOf(t, one))
	assert.Equal(t, two.ID, f.threadOf(t, two))
}

func TestIncrementalRunJoinsLateReply(t *testing.T) {
	f := newFixture(t, Options{CommitBatchSize: 1})
	root := f.add(t, 1, "root@example.com", "Budget", base)
	other := f.add(t, 2, "other@example.com", "Holiday", base)

	first := f.run(t)
	assert.Equal(t, 2, first.Changed)

	reply := f.add(t, 3, "reply@example.com", "Re: Budget", base.Add(40*24*time.Hour), "root@example.com")
	second := f.run(t)
	assert.Equal(t, 1, second.Loaded)
	assert.Equal(t, 1, second.Changed)
	assert.Equal(t, root.ID, f.threadOf(t, reply))
	assert.Equal(t, other.ID, f.threadOf(t, other))
	assert.Equal(t, root.ID, f.notifier.changes[reply.ID])

	third := f.run(t)
	assert.Zero(t, third.Loaded)
	assert.Zero(t, third.Changed)
}

func TestEarlyReplyJoinsWhenParentArrives(t *testing.T) {
	f := newFixture(t, Options{BatchSize: 1})
	reply := f.add(t, 1, "reply@example.com", "Re: Offsite agenda", base.Add(30*24*time.Hour), "parent@example.com")
	parent := f.add(t, 2, "parent@example.com", "Offsite agenda", base)

	f.run(t)
	assert.Equal(t, f.threadOf(t, reply), f.threadOf(t, parent))
	assert.Equal(t, reply.ID, f.threadOf(t, parent))
}

func TestResetRebuildsWithoutChanges(t *testing.T) {
	f := newFixture(t, Options{})
	f.add(t, 1, "a@example.com", "Status", base)
	f.add(t, 2, "b@example.com", "Re: Status", base.Add(time.Hour), "a@example.com")
	f.run(t)

	f.engine.Reset(f.account.ID)
	res := f.run(t)
	assert.Equal(t, 2, res.Loaded)
	assert.Zero(t, res.Changed)
}

func TestFrequentParticipantsBecomeContacts(t *testing.T) {
	f := newFixture(t, Options{})
	for uid := uint32(1); uid <= 2; uid++ {
		testutil.SeedMessage(t, f.store, f.account.ID, f.folderID, uid,
			testutil.WithParticipants("alice@example.com", "bob@example.com"))
	}
	testutil.SeedMessage(t, f.store, f.account.ID, f.folderID, 3,
		testutil.WithParticipants("alice@example.com", "carol@example.com"))

	res := f.run(t)
	assert.Equal(t, 2, res.Contacts)

	contacts, err := f.store.GetContacts(context.Background(), f.account.ID)
	require.NoError(t, err)
	require.Len(t, contacts, 2)
	assert.Equal(t, "alice@example.com", contacts[0].Address)
	assert.Equal(t, 3, contacts[0].Tally)
	assert.Equal(t, "bob@example.com", contacts[1].Address)
	assert.Equal(t, 2, contacts[1].Tally)
}

func TestContactsCountedOnceAcrossEngines(t *testing.T) {
	f := newFixture(t, Options{})
	for uid := uint32(1); uid <= 2; uid++ {
		testutil.SeedMessage(t, f.store, f.account.ID, f.folderID, uid,
			testutil.WithParticipants("alice@example.com", "bob@example.com"))
	}
	f.run(t)

	for i := 0; i < 2; i++ {
		fresh, err := NewEngine(f.store, Options{}, checkpoint.New(0), nil, testutil.NewLogger())
		require.NoError(t, err)
		res, err := fresh.Run(context.Background(), f.account)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Loaded)
		assert.Zero(t, res.Contacts)
	}
	f.engine.Reset(f.account.ID)
	f.run(t)

	contacts, err := f.store.GetContacts(context.Background(), f.account.ID)
	require.NoError(t, err)
	require.Len(t, contacts, 2)
	for _, c := range contacts {
		assert.Equal(t, 2, c.Tally, c.Address)
	}
}

func TestCancelledRunDropsState(t *testing.T) {
	f := newFixture(t, Options{})
	f.add(t, 1, "a@example.com", "Status", base)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.engine.Run(ctx, f.account)
	require.ErrorIs(t, err, context.Canceled)
	_, kept := f.engine.states[f.account.ID]
	assert.False(t, kept)
}
