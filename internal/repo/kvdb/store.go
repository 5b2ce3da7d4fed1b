package kvdb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.opentelemetry.io/otel/trace"

	"guestlist/internal/model"
	"guestlist/internal/repo"
)

const (
	bucketGuests       = "guests"
	bucketGuestPhones  = "guests_by_phone"
	bucketWhitelist    = "phone_whitelist"
	bucketRSVPs        = "rsvps"
	bucketRSVPsByGuest = "rsvps_by_guest"
)

var buckets = []string{bucketGuests, bucketGuestPhones, bucketWhitelist, bucketRSVPs, bucketRSVPsByGuest}

// Store keeps guests, whitelist and RSVPs in a single bbolt file. bbolt
// allows one writer at a time, so every read-write unit of work is already
// serialised and AdmissionTx needs no extra lock.
type Store struct {
	db  *bolt.DB
	now func() time.Time
}

func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db %s: %w", path, err)
	}
	s, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func New(db *bolt.DB) (*Store, error) {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, db.Update(func(tx *bolt.Tx) error {
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(b)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) View(ctx context.Context, fn func(repo.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", repo.ErrUnavailable, err)
	}
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(&boltTx{tx: tx, now: s.now})
	})
}

func (s *Store) Tx(ctx context.Context, fn func(repo.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", repo.ErrUnavailable, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&boltTx{tx: tx, now: s.now})
	})
}

func (s *Store) AdmissionTx(ctx context.Context, fn func(repo.Tx) error) error {
	var span trace.Span
	ctx, span = tracer.Start(ctx, "AdmissionTx")
	defer span.End()
	return s.Tx(ctx, fn)
}

type boltTx struct {
	tx  *bolt.Tx
	now func() time.Time
}

func (t *boltTx) bucket(name string) *bolt.Bucket {
	return t.tx.Bucket([]byte(name))
}

func (t *boltTx) IsWhitelisted(ctx context.Context, phone string) (bool, error) {
	_, span := tracer.Start(ctx, "IsWhitelisted")
	defer span.End()
	return t.bucket(bucketWhitelist).Get([]byte(phone)) != nil, nil
}

func (t *boltTx) AddWhitelist(ctx context.Context, e *model.WhitelistEntry) error {
	_, span := tracer.Start(ctx, "AddWhitelist")
	defer span.End()

	b := t.bucket(bucketWhitelist)
	if b.Get([]byte(e.Phone)) != nil {
		return fmt.Errorf("whitelist %s: %w", e.Phone, repo.ErrDuplicate)
	}
	e.CreatedAt = t.now()
	return putJSON(b, []byte(e.Phone), e)
}

func (t *boltTx) RemoveWhitelist(ctx context.Context, phone string) error {
	_, span := tracer.Start(ctx, "RemoveWhitelist")
	defer span.End()

	b := t.bucket(bucketWhitelist)
	if b.Get([]byte(phone)) == nil {
		return fmt.Errorf("whitelist %s: %w", phone, repo.ErrNotFound)
	}
	return b.Delete([]byte(phone))
}

func (t *boltTx) ListWhitelist(ctx context.Context) ([]model.WhitelistEntry, error) {
	_, span := tracer.Start(ctx, "ListWhitelist")
	defer span.End()

	var entries []model.WhitelistEntry
	err := t.bucket(bucketWhitelist).ForEach(func(_, v []byte) error {
		var e model.WhitelistEntry
		if err := json.Unmarshal(v, &e); err != nil {
			span.RecordError(err)
			return err
		}
		entries = append(entries, e)
		return nil
	})
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].CreatedAt.Before(entries[j].CreatedAt) })
	return entries, err
}

func (t *boltTx) UpsertGuest(ctx context.Context, g *model.Guest) (*model.Guest, error) {
	_, span := tracer.Start(ctx, "UpsertGuest")
	defer span.End()

	phones := t.bucket(bucketGuestPhones)
	guests := t.bucket(bucketGuests)
	now := t.now()

	if id := phones.Get([]byte(g.Phone)); id != nil {
		var existing model.Guest
		if err := getJSON(guests, id, &existing); err != nil {
			return nil, err
		}
		if g.Name != "" {
			existing.Name = g.Name
		}
		if g.Email != "" {
			existing.Email = g.Email
		}
		existing.LastLogin = now
		span.AddEvent("refresh existing guest")
		return &existing, putJSON(guests, id, &existing)
	}

	seq, err := guests.NextSequence()
	if err != nil {
		return nil, err
	}
	out := *g
	out.ID = int64(seq)
	out.CreatedAt = now
	out.LastLogin = now
	key := itob(out.ID)
	if err := phones.Put([]byte(out.Phone), key); err != nil {
		return nil, err
	}
	span.AddEvent("create guest")
	return &out, putJSON(guests, key, &out)
}

func (t *boltTx) GetGuestByPhone(ctx context.Context, phone string) (*model.Guest, error) {
	_, span := tracer.Start(ctx, "GetGuestByPhone")
	defer span.End()

	id := t.bucket(bucketGuestPhones).Get([]byte(phone))
	if id == nil {
		return nil, fmt.Errorf("guest %s: %w", phone, repo.ErrNotFound)
	}
	var g model.Guest
	return &g, getJSON(t.bucket(bucketGuests), id, &g)
}

func (t *boltTx) GetGuestByID(ctx context.Context, id int64) (*model.Guest, error) {
	_, span := tracer.Start(ctx, "GetGuestByID")
	defer span.End()

	var g model.Guest
	return &g, getJSON(t.bucket(bucketGuests), itob(id), &g)
}

func (t *boltTx) DeleteGuest(ctx context.Context, id int64) error {
	_, span := tracer.Start(ctx, "DeleteGuest")
	defer span.End()

	g, err := t.GetGuestByID(ctx, id)
	if err != nil {
		return err
	}
	key := itob(id)
	if rid := t.bucket(bucketRSVPsByGuest).Get(key); rid != nil {
		span.AddEvent("cascade rsvp")
		if err := t.bucket(bucketRSVPs).Delete(rid); err != nil {
			return err
		}
		if err := t.bucket(bucketRSVPsByGuest).Delete(key); err != nil {
			return err
		}
	}
	if err := t.bucket(bucketGuestPhones).Delete([]byte(g.Phone)); err != nil {
		return err
	}
	return t.bucket(bucketGuests).Delete(key)
}

func (t *boltTx) GetRSVPByGuestID(ctx context.Context, guestID int64) (*model.RSVP, error) {
	_, span := tracer.Start(ctx, "GetRSVPByGuestID")
	defer span.End()

	rid := t.bucket(bucketRSVPsByGuest).Get(itob(guestID))
	if rid == nil {
		return nil, fmt.Errorf("rsvp for guest %d: %w", guestID, repo.ErrNotFound)
	}
	var r model.RSVP
	return &r, getJSON(t.bucket(bucketRSVPs), rid, &r)
}

func (t *boltTx) UpsertRSVP(ctx context.Context, r *model.RSVP) (*model.RSVP, error) {
	_, span := tracer.Start(ctx, "UpsertRSVP")
	defer span.End()

	if t.bucket(bucketGuests).Get(itob(r.GuestID)) == nil {
		return nil, fmt.Errorf("guest %d: %w", r.GuestID, repo.ErrNotFound)
	}

	out := *r
	out.Normalize()
	now := t.now()
	rsvps := t.bucket(bucketRSVPs)
	byGuest := t.bucket(bucketRSVPsByGuest)

	if rid := byGuest.Get(itob(r.GuestID)); rid != nil {
		var existing model.RSVP
		if err := getJSON(rsvps, rid, &existing); err != nil {
			return nil, err
		}
		out.ID = existing.ID
		out.CreatedAt = existing.CreatedAt
		out.UpdatedAt = now
		span.AddEvent("update rsvp in place")
		return &out, putJSON(rsvps, rid, &out)
	}

	seq, err := rsvps.NextSequence()
	if err != nil {
		return nil, err
	}
	out.ID = int64(seq)
	out.CreatedAt = now
	out.UpdatedAt = now
	key := itob(out.ID)
	if err := byGuest.Put(itob(out.GuestID), key); err != nil {
		return nil, err
	}
	span.AddEvent("insert rsvp")
	return &out, putJSON(rsvps, key, &out)
}

func (t *boltTx) SetWaitlisted(ctx context.Context, rsvpID int64, waitlisted bool) error {
	_, span := tracer.Start(ctx, "SetWaitlisted")
	defer span.End()

	rsvps := t.bucket(bucketRSVPs)
	key := itob(rsvpID)
	var r model.RSVP
	if err := getJSON(rsvps, key, &r); err != nil {
		return err
	}
	if !r.Attending {
		return fmt.Errorf("rsvp %d is declined: %w", rsvpID, repo.ErrNotFound)
	}
	r.IsWaitlisted = waitlisted
	r.UpdatedAt = t.now()
	return putJSON(rsvps, key, &r)
}

func (t *boltTx) CountConfirmed(ctx context.Context) (int, error) {
	c, err := t.CountByStatus(ctx)
	return c.Confirmed, err
}

func (t *boltTx) CountByStatus(ctx context.Context) (model.Counts, error) {
	_, span := tracer.Start(ctx, "CountByStatus")
	defer span.End()

	var c model.Counts
	err := t.forEachRSVP(func(r *model.RSVP) error {
		switch model.StatusOf(r) {
		case model.StatusConfirmed:
			c.Confirmed++
		case model.StatusWaitlisted:
			c.Waitlisted++
		case model.StatusDeclined:
			c.Declined++
		}
		return nil
	})
	return c, err
}

func (t *boltTx) OldestWaitlisted(ctx context.Context) (*model.RSVP, error) {
	_, span := tracer.Start(ctx, "OldestWaitlisted")
	defer span.End()

	var oldest *model.RSVP
	err := t.forEachRSVP(func(r *model.RSVP) error {
		if model.StatusOf(r) != model.StatusWaitlisted {
			return nil
		}
		if oldest == nil || before(r, oldest) {
			oldest = r
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if oldest == nil {
		return nil, fmt.Errorf("waitlisted rsvp: %w", repo.ErrNotFound)
	}
	return oldest, nil
}

func (t *boltTx) ListRSVPs(ctx context.Context) ([]model.GuestRSVP, error) {
	_, span := tracer.Start(ctx, "ListRSVPs")
	defer span.End()

	var out []model.GuestRSVP
	guests := t.bucket(bucketGuests)
	err := t.forEachRSVP(func(r *model.RSVP) error {
		var g model.Guest
		if err := getJSON(guests, itob(r.GuestID), &g); err != nil {
			span.RecordError(err)
			return err
		}
		out = append(out, model.GuestRSVP{Guest: g, RSVP: *r})
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return before(&out[i].RSVP, &out[j].RSVP) })
	return out, err
}

func (t *boltTx) forEachRSVP(fn func(*model.RSVP) error) error {
	return t.bucket(bucketRSVPs).ForEach(func(_, v []byte) error {
		r := &model.RSVP{}
		if err := json.Unmarshal(v, r); err != nil {
			return err
		}
		return fn(r)
	})
}

func before(a, b *model.RSVP) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	j, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, j)
}

func getJSON(b *bolt.Bucket, key []byte, v any) error {
	res := b.Get(key)
	if res == nil {
		return fmt.Errorf("record %x: %w", key, repo.ErrNotFound)
	}
	if err := json.Unmarshal(res, v); err != nil {
		return fmt.Errorf("decode record %x: %w", key, err)
	}
	return nil
}
