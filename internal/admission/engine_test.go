package admission

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"guestlist/internal/model"
	"guestlist/internal/notify"
	"guestlist/internal/repo"
	"guestlist/internal/repo/kvdb"
)

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (f *fakeNotifier) Notify(_ context.Context, msg notify.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
}

func (f *fakeNotifier) kinds() []notify.Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []notify.Kind
	for _, m := range f.msgs {
		out = append(out, m.Kind)
	}
	return out
}

// countingStore counts CountConfirmed calls made through any unit of work.
type countingStore struct {
	repo.Store
	counts atomic.Int64
}

type countingTx struct {
	repo.Tx
	counts *atomic.Int64
}

func (c countingTx) CountConfirmed(ctx context.Context) (int, error) {
	c.counts.Add(1)
	return c.Tx.CountConfirmed(ctx)
}

func (s *countingStore) AdmissionTx(ctx context.Context, fn func(repo.Tx) error) error {
	return s.Store.AdmissionTx(ctx, func(tx repo.Tx) error {
		return fn(countingTx{Tx: tx, counts: &s.counts})
	})
}

type downStore struct {
	repo.Store
}

func (downStore) View(context.Context, func(repo.Tx) error) error {
	return fmt.Errorf("dial tcp: %w", repo.ErrUnavailable)
}

func (downStore) Tx(context.Context, func(repo.Tx) error) error {
	return fmt.Errorf("dial tcp: %w", repo.ErrUnavailable)
}

func (downStore) AdmissionTx(context.Context, func(repo.Tx) error) error {
	return fmt.Errorf("dial tcp: %w", repo.ErrUnavailable)
}

func openStore(t *testing.T) *kvdb.Store {
	t.Helper()
	s, err := kvdb.Open(filepath.Join(t.TempDir(), "rsvp.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newEngine(t *testing.T, store repo.Store, capacity int, whitelist ...string) (*Engine, *fakeNotifier) {
	t.Helper()
	log := zerolog.Nop()
	n := &fakeNotifier{}
	e := New(store, Config{Capacity: capacity, RequireWhitelist: true}, &log, n)
	for _, p := range whitelist {
		_, err := e.AllowPhone(context.Background(), p, "", "")
		require.NoError(t, err)
	}
	return e, n
}

func phoneN(i int) string {
	return fmt.Sprintf("07%08d", i)
}

func phones(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = phoneN(i + 1)
	}
	return out
}

func attend(p string) SubmitRequest {
	return SubmitRequest{Phone: p, Name: "Guest " + p, Attending: true}
}

func TestScenarioPromotionAfterDecline(t *testing.T) {
	ctx := context.Background()
	e, n := newEngine(t, openStore(t), 2, phones(3)...)

	r1, err := e.Submit(ctx, attend(phoneN(1)))
	require.NoError(t, err)
	r2, err := e.Submit(ctx, attend(phoneN(2)))
	require.NoError(t, err)
	r3, err := e.Submit(ctx, attend(phoneN(3)))
	require.NoError(t, err)

	assert.Equal(t, model.StatusConfirmed, r1.Status)
	assert.Equal(t, model.StatusConfirmed, r2.Status)
	assert.Equal(t, model.StatusWaitlisted, r3.Status)

	decline := attend(phoneN(1))
	decline.Attending = false
	res, err := e.Submit(ctx, decline)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDeclined, res.Status)
	require.NotNil(t, res.Promoted)
	assert.Equal(t, r3.Guest.ID, res.Promoted.ID)

	got, err := e.Lookup(ctx, phoneN(3))
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, got.Status)

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Capacity: 2, Confirmed: 2, Declined: 1, Available: 0}, *stats)

	assert.Empty(t, n.kinds(), "guests without email get no notifications")
}

func TestScenarioConcurrentFirstSubmissions(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	e, _ := newEngine(t, store, DefaultCapacity, phones(DefaultCapacity)...)

	var g errgroup.Group
	for _, p := range phones(DefaultCapacity) {
		g.Go(func() error {
			_, err := e.Submit(ctx, attend(p))
			return err
		})
	}
	require.NoError(t, g.Wait())

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultCapacity, stats.Confirmed)
	assert.Zero(t, stats.Waitlisted)

	all, err := e.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, DefaultCapacity)
	seen := map[int64]bool{}
	for _, gr := range all {
		assert.False(t, seen[gr.Guest.ID], "duplicate rsvp for guest %d", gr.Guest.ID)
		seen[gr.Guest.ID] = true
	}
}

func TestScenarioNotWhitelisted(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	e, _ := newEngine(t, store, 2)

	_, err := e.Submit(ctx, attend("+254700000001"))
	require.ErrorIs(t, err, ErrNotWhitelisted)

	err = store.View(ctx, func(tx repo.Tx) error {
		_, err := tx.GetGuestByPhone(ctx, "+254700000001")
		return err
	})
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestScenarioEditKeepsSeatWithoutRecount(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{Store: openStore(t)}
	e, _ := newEngine(t, store, 1, phoneN(1))

	first, err := e.Submit(ctx, attend(phoneN(1)))
	require.NoError(t, err)
	require.Equal(t, model.StatusConfirmed, first.Status)
	before := store.counts.Load()

	edit := attend(phoneN(1))
	edit.DietaryNeeds = "vegetarian"
	second, err := e.Submit(ctx, edit)
	require.NoError(t, err)

	assert.Equal(t, before, store.counts.Load(), "no capacity recheck on edit")
	assert.Equal(t, model.StatusConfirmed, second.Status)
	assert.False(t, second.RSVP.IsWaitlisted)
	assert.Equal(t, first.RSVP.ID, second.RSVP.ID)
	assert.Equal(t, "vegetarian", second.RSVP.DietaryNeeds)

	all, err := e.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSubmitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, openStore(t), 1, phones(2)...)

	_, err := e.Submit(ctx, attend(phoneN(1)))
	require.NoError(t, err)
	a, err := e.Submit(ctx, attend(phoneN(2)))
	require.NoError(t, err)
	b, err := e.Submit(ctx, attend(phoneN(2)))
	require.NoError(t, err)

	assert.Equal(t, model.StatusWaitlisted, a.Status)
	assert.Equal(t, a.Status, b.Status)
	assert.Equal(t, a.RSVP.ID, b.RSVP.ID)
	assert.Equal(t, a.Guest.ID, b.Guest.ID)
}

func TestSubmitAcceptsEquivalentPhoneForms(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, openStore(t), 5, "0712345678")

	a, err := e.Submit(ctx, attend("+254 712 345 678"))
	require.NoError(t, err)
	b, err := e.Submit(ctx, attend("712345678"))
	require.NoError(t, err)

	assert.Equal(t, a.Guest.ID, b.Guest.ID)
	assert.Equal(t, "+254712345678", b.Guest.Phone)
}

func TestWaitlistIsFIFO(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, openStore(t), 1, phones(4)...)

	var ids []int64
	for i := 1; i <= 4; i++ {
		r, err := e.Submit(ctx, attend(phoneN(i)))
		require.NoError(t, err)
		ids = append(ids, r.Guest.ID)
	}

	for i := 1; i <= 3; i++ {
		decline := attend(phoneN(i))
		decline.Attending = false
		res, err := e.Submit(ctx, decline)
		require.NoError(t, err)
		require.NotNil(t, res.Promoted, "decline %d", i)
		assert.Equal(t, ids[i], res.Promoted.ID)
	}
}

func TestDeclineClearsWaitlistFlag(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, openStore(t), 1, phones(2)...)

	_, err := e.Submit(ctx, attend(phoneN(1)))
	require.NoError(t, err)
	w, err := e.Submit(ctx, attend(phoneN(2)))
	require.NoError(t, err)
	require.True(t, w.RSVP.IsWaitlisted)

	decline := attend(phoneN(2))
	decline.Attending = false
	res, err := e.Submit(ctx, decline)
	require.NoError(t, err)
	assert.False(t, res.RSVP.IsWaitlisted)
	assert.Equal(t, model.StatusDeclined, res.Status)
	assert.Nil(t, res.Promoted, "a waitlisted decline frees no seat")
}

func TestReattendAfterDeclineRechecksCapacity(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, openStore(t), 1, phones(2)...)

	decline := attend(phoneN(1))
	decline.Attending = false
	_, err := e.Submit(ctx, decline)
	require.NoError(t, err)
	_, err = e.Submit(ctx, attend(phoneN(2)))
	require.NoError(t, err)

	res, err := e.Submit(ctx, attend(phoneN(1)))
	require.NoError(t, err)
	assert.Equal(t, model.StatusWaitlisted, res.Status)
}

func TestConcurrentSubmissionsOfOneGuest(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, openStore(t), 3, phoneN(1))

	var g errgroup.Group
	for range 20 {
		g.Go(func() error {
			_, err := e.Submit(ctx, attend(phoneN(1)))
			return err
		})
	}
	require.NoError(t, g.Wait())

	all, err := e.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, model.StatusConfirmed, model.StatusOf(&all[0].RSVP))
}

func TestCapacityNeverExceeded(t *testing.T) {
	ctx := context.Background()
	const guests, capacity = 30, 7
	e, _ := newEngine(t, openStore(t), capacity, phones(guests)...)

	rnd := rand.New(rand.NewSource(42))
	plan := make([][]bool, guests)
	for i := range plan {
		plan[i] = make([]bool, 4)
		for j := range plan[i] {
			plan[i][j] = rnd.Intn(3) > 0
		}
	}

	var g errgroup.Group
	for i, answers := range plan {
		g.Go(func() error {
			for _, a := range answers {
				req := attend(phoneN(i + 1))
				req.Attending = a
				if _, err := e.Submit(ctx, req); err != nil {
					return err
				}
				stats, err := e.Stats(ctx)
				if err != nil {
					return err
				}
				if stats.Confirmed > capacity {
					return fmt.Errorf("over capacity: %d", stats.Confirmed)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, stats.Confirmed, capacity)
	if stats.Waitlisted > 0 {
		assert.Equal(t, capacity, stats.Confirmed, "nobody waits while a seat is free")
	}
}

func TestNotificationsAfterCommit(t *testing.T) {
	ctx := context.Background()
	e, n := newEngine(t, openStore(t), 1, phones(2)...)

	withMail := func(i int, attending bool) SubmitRequest {
		r := attend(phoneN(i))
		r.Email = fmt.Sprintf("guest%d@example.com", i)
		r.Attending = attending
		return r
	}

	_, err := e.Submit(ctx, withMail(1, true))
	require.NoError(t, err)
	_, err = e.Submit(ctx, withMail(2, true))
	require.NoError(t, err)
	_, err = e.Submit(ctx, withMail(1, false))
	require.NoError(t, err)

	assert.Equal(t, []notify.Kind{
		notify.KindReceived, notify.KindReceived, notify.KindPromoted, notify.KindReceived,
	}, n.kinds())

	n.mu.Lock()
	defer n.mu.Unlock()
	assert.Equal(t, "waitlisted", n.msgs[1].Status)
	assert.Equal(t, "guest2@example.com", n.msgs[2].Email)
	assert.Equal(t, "declined", n.msgs[3].Status)
}

func TestUnconfirmPromotesNext(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, openStore(t), 1, phones(2)...)

	_, err := e.Submit(ctx, attend(phoneN(1)))
	require.NoError(t, err)
	w, err := e.Submit(ctx, attend(phoneN(2)))
	require.NoError(t, err)

	res, err := e.Unconfirm(ctx, phoneN(1))
	require.NoError(t, err)
	assert.Equal(t, model.StatusDeclined, res.Status)
	require.NotNil(t, res.Promoted)
	assert.Equal(t, w.Guest.ID, res.Promoted.ID)

	again, err := e.Unconfirm(ctx, phoneN(1))
	require.NoError(t, err)
	assert.Nil(t, again.Promoted)

	_, err = e.Unconfirm(ctx, "0799999999")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteConfirmedGuestPromotes(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, openStore(t), 1, phones(2)...)

	_, err := e.Submit(ctx, attend(phoneN(1)))
	require.NoError(t, err)
	w, err := e.Submit(ctx, attend(phoneN(2)))
	require.NoError(t, err)

	promoted, err := e.DeleteGuest(ctx, phoneN(1))
	require.NoError(t, err)
	require.NotNil(t, promoted)
	assert.Equal(t, w.Guest.ID, promoted.ID)

	_, err = e.Lookup(ctx, phoneN(1))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPromoteNext(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	e, _ := newEngine(t, store, 1, phones(2)...)

	g, err := e.PromoteNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, g, "empty waitlist")

	_, err = e.Submit(ctx, attend(phoneN(1)))
	require.NoError(t, err)
	_, err = e.Submit(ctx, attend(phoneN(2)))
	require.NoError(t, err)

	g, err = e.PromoteNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, g, "no free seat")

	bigger := New(store, Config{Capacity: 2, RequireWhitelist: true}, nil, nil)
	g, err = bigger.PromoteNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, "+254700000002", g.Phone)
}

func TestListFiltersByStatus(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, openStore(t), 1, phones(3)...)

	for i := 1; i <= 3; i++ {
		req := attend(phoneN(i))
		req.Attending = i != 3
		_, err := e.Submit(ctx, req)
		require.NoError(t, err)
	}

	for st, want := range map[model.Status]int{
		model.StatusConfirmed:  1,
		model.StatusWaitlisted: 1,
		model.StatusDeclined:   1,
		"":                     3,
	} {
		got, err := e.List(ctx, st)
		require.NoError(t, err)
		assert.Len(t, got, want, "status %q", st)
	}
}

func TestSubmitValidation(t *testing.T) {
	e, _ := newEngine(t, openStore(t), 1, phoneN(1))

	tt := []struct {
		name string
		req  SubmitRequest
	}{
		{"bad phone", SubmitRequest{Phone: "12345", Name: "x", Attending: true}},
		{"landline", SubmitRequest{Phone: "0201234567", Name: "x", Attending: true}},
		{"missing name", SubmitRequest{Phone: phoneN(1), Name: "  ", Attending: true}},
		{"bad email", SubmitRequest{Phone: phoneN(1), Name: "x", Email: "not-an-email", Attending: true}},
		{"negative pledge", SubmitRequest{Phone: phoneN(1), Name: "x", PledgeAmount: -1, Attending: true}},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.Submit(context.Background(), tc.req)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestWhitelistGatingDisabled(t *testing.T) {
	log := zerolog.Nop()
	e := New(openStore(t), Config{Capacity: 1}, &log, nil)

	res, err := e.Submit(context.Background(), attend(phoneN(9)))
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, res.Status)
}

func TestWhitelistAdmin(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, openStore(t), 1)

	entry, err := e.AllowPhone(ctx, "0711111111", " Aunt Njeri ", "bride side")
	require.NoError(t, err)
	assert.Equal(t, "+254711111111", entry.Phone)
	assert.Equal(t, "Aunt Njeri", entry.Name)

	_, err = e.AllowPhone(ctx, "+254711111111", "", "")
	assert.ErrorIs(t, err, ErrValidation)

	list, err := e.ListWhitelist(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, e.RevokePhone(ctx, "711111111"))
	assert.ErrorIs(t, e.RevokePhone(ctx, "711111111"), ErrNotFound)
}

func TestStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	log := zerolog.Nop()
	e := New(downStore{}, Config{}, &log, nil)

	_, err := e.Submit(ctx, attend(phoneN(1)))
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	_, err = e.Lookup(ctx, phoneN(1))
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	_, err = e.Stats(ctx)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.True(t, errors.Is(err, repo.ErrUnavailable))
}

func TestLookupWithoutAnswer(t *testing.T) {
	_, err := New(openStore(t), Config{}, nil, nil).Lookup(context.Background(), phoneN(1))
	assert.ErrorIs(t, err, ErrNotFound)
}

// cancelOnCommitStore cancels the caller's context as soon as an admission
// unit of work commits, like a client that hangs up once its answer is saved.
type cancelOnCommitStore struct {
	repo.Store
	cancel context.CancelFunc
}

func (s cancelOnCommitStore) AdmissionTx(ctx context.Context, fn func(repo.Tx) error) error {
	err := s.Store.AdmissionTx(ctx, fn)
	if err == nil {
		s.cancel()
	}
	return err
}

// failingPromotionStore breaks the waitlist flag flip.
type failingPromotionStore struct {
	repo.Store
}

type failingPromotionTx struct {
	repo.Tx
}

func (failingPromotionTx) SetWaitlisted(context.Context, int64, bool) error {
	return fmt.Errorf("connection reset: %w", repo.ErrUnavailable)
}

func (s failingPromotionStore) AdmissionTx(ctx context.Context, fn func(repo.Tx) error) error {
	return s.Store.AdmissionTx(ctx, func(tx repo.Tx) error {
		return fn(failingPromotionTx{Tx: tx})
	})
}

func TestPromotionSurvivesCallerCancelAfterCommit(t *testing.T) {
	store := openStore(t)
	setup, _ := newEngine(t, store, 1, phones(2)...)

	_, err := setup.Submit(context.Background(), attend(phoneN(1)))
	require.NoError(t, err)
	r2, err := setup.Submit(context.Background(), attend(phoneN(2)))
	require.NoError(t, err)
	require.Equal(t, model.StatusWaitlisted, r2.Status)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e, _ := newEngine(t, cancelOnCommitStore{Store: store, cancel: cancel}, 1)

	decline := attend(phoneN(1))
	decline.Attending = false
	res, err := e.Submit(ctx, decline)
	require.NoError(t, err)
	require.Error(t, ctx.Err())
	require.NotNil(t, res.Promoted)
	assert.Equal(t, r2.Guest.ID, res.Promoted.ID)

	got, err := setup.Lookup(context.Background(), phoneN(2))
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, got.Status)

	stats, err := setup.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Capacity: 1, Confirmed: 1, Declined: 1, Available: 0}, *stats)
}

func TestFreedSeatNeverVisibleToNewcomer(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	e, _ := newEngine(t, store, 1, phones(3)...)

	_, err := e.Submit(ctx, attend(phoneN(1)))
	require.NoError(t, err)
	_, err = e.Submit(ctx, attend(phoneN(2)))
	require.NoError(t, err)

	var (
		g        errgroup.Group
		newcomer *Result
	)
	g.Go(func() error {
		decline := attend(phoneN(1))
		decline.Attending = false
		_, err := e.Submit(ctx, decline)
		return err
	})
	g.Go(func() error {
		var err error
		newcomer, err = e.Submit(ctx, attend(phoneN(3)))
		return err
	})
	require.NoError(t, g.Wait())

	assert.Equal(t, model.StatusWaitlisted, newcomer.Status)
	got, err := e.Lookup(ctx, phoneN(2))
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, got.Status)
}

func TestFailedPromotionRollsBackDecline(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	setup, _ := newEngine(t, store, 1, phones(2)...)

	_, err := setup.Submit(ctx, attend(phoneN(1)))
	require.NoError(t, err)
	_, err = setup.Submit(ctx, attend(phoneN(2)))
	require.NoError(t, err)

	e, n := newEngine(t, failingPromotionStore{Store: store}, 1)
	decline := attend(phoneN(1))
	decline.Attending = false
	_, err = e.Submit(ctx, decline)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Empty(t, n.kinds())

	got, err := setup.Lookup(ctx, phoneN(1))
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, got.Status)
	got, err = setup.Lookup(ctx, phoneN(2))
	require.NoError(t, err)
	assert.Equal(t, model.StatusWaitlisted, got.Status)
}
