package admission

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"guestlist/internal/model"
	"guestlist/internal/notify"
	"guestlist/internal/phone"
	"guestlist/internal/repo"
	"guestlist/pkg/validator"
)

const DefaultCapacity = 70

const maxNameLen = 255

type Config struct {
	Capacity         int
	RequireWhitelist bool
}

type SubmitRequest struct {
	Phone        string
	Name         string
	Email        string
	Attending    bool
	Note         string
	DietaryNeeds string
	PledgeAmount int64
	HotelChoice  string
}

type Result struct {
	Guest    *model.Guest `json:"guest"`
	RSVP     *model.RSVP  `json:"rsvp,omitempty"`
	Status   model.Status `json:"status"`
	Promoted *model.Guest `json:"promoted,omitempty"`
}

type Stats struct {
	Capacity   int `json:"capacity"`
	Confirmed  int `json:"confirmed"`
	Waitlisted int `json:"waitlisted"`
	Declined   int `json:"declined"`
	Available  int `json:"available"`
}

type Engine struct {
	store    repo.Store
	registry Registry
	ledger   Ledger
	counter  Counter
	promoter *Promoter
	notifier notify.Notifier
	log      *zerolog.Logger
}

func New(store repo.Store, cfg Config, log *zerolog.Logger, notifier notify.Notifier) *Engine {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	counter := Counter{capacity: cfg.Capacity}
	return &Engine{
		store:    store,
		registry: Registry{requireWhitelist: cfg.RequireWhitelist},
		counter:  counter,
		promoter: &Promoter{store: store, counter: counter, log: log},
		notifier: notifier,
		log:      log,
	}
}

func (e *Engine) Capacity() int { return e.counter.Capacity() }

func (e *Engine) validate(req *SubmitRequest) error {
	p, err := phone.Normalize(req.Phone)
	if err != nil {
		return validationError("phone %q is not a valid Kenyan mobile number", req.Phone)
	}
	req.Phone = p

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return validationError("name is required")
	}
	if len(req.Name) > maxNameLen {
		return validationError("name exceeds %d characters", maxNameLen)
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Email != "" {
		if err := validator.Validator().Var(req.Email, "email"); err != nil {
			return validationError("email %q is malformed", req.Email)
		}
	}

	if req.PledgeAmount < 0 {
		return validationError("pledge amount cannot be negative")
	}
	return nil
}

// Submit records the guest's answer and decides admission in one serialised
// unit of work. Promotion and notifications run after it commits.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*Result, error) {
	ctx, span := tracer.Start(ctx, "Engine.Submit")
	defer span.End()

	if err := e.validate(&req); err != nil {
		return nil, err
	}

	var (
		res        Result
		transition model.Transition
	)
	err := e.store.AdmissionTx(ctx, func(tx repo.Tx) error {
		g, err := e.registry.ResolveOrCreate(ctx, tx, req.Phone, req.Name, req.Email)
		if err != nil {
			return err
		}

		current, err := e.ledger.Lookup(ctx, tx, g.ID)
		if err != nil {
			return err
		}

		transition, err = model.Decide(model.StatusOf(current), req.Attending, func() (bool, error) {
			return e.counter.SeatAvailable(ctx, tx)
		})
		if err != nil {
			return err
		}

		saved, err := e.ledger.Upsert(ctx, tx, &model.RSVP{
			GuestID:      g.ID,
			Attending:    req.Attending,
			IsWaitlisted: transition.Waitlisted(),
			Note:         req.Note,
			DietaryNeeds: req.DietaryNeeds,
			PledgeAmount: req.PledgeAmount,
			HotelChoice:  req.HotelChoice,
		})
		if err != nil {
			return err
		}

		res = Result{Guest: g, RSVP: saved, Status: model.StatusOf(saved)}
		if transition.FreesSeat() {
			res.Promoted, err = e.fillFreedSeat(ctx, tx)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotWhitelisted) {
			e.log.Info().Str("phone", req.Phone).Msg("rsvp refused, phone not whitelisted")
		}
		return nil, storeError(err)
	}

	span.SetAttributes(
		attribute.String("rsvp.from", string(transition.From)),
		attribute.String("rsvp.to", string(transition.To)),
	)
	e.log.Info().
		Int64("guest_id", res.Guest.ID).
		Str("from", string(transition.From)).
		Str("to", string(transition.To)).
		Msg("rsvp recorded")

	e.announcePromotion(ctx, res.Promoted)
	e.notifyReceived(ctx, res.Guest, res.Status)
	return &res, nil
}

// fillFreedSeat promotes the head of the waitlist in the same unit of work
// as the write that freed the seat, so no newcomer can take it in between.
// A failed promotion aborts the whole unit, including the freeing write.
func (e *Engine) fillFreedSeat(ctx context.Context, tx repo.Tx) (*model.Guest, error) {
	g, err := e.promoter.promoteWithin(ctx, tx)
	if skipped(err) {
		return nil, nil
	}
	return g, err
}

// announcePromotion runs after commit.
func (e *Engine) announcePromotion(ctx context.Context, g *model.Guest) {
	if g == nil {
		return
	}
	e.promoter.logPromoted(g)
	e.notifyPromoted(ctx, g)
}

func (e *Engine) notifyReceived(ctx context.Context, g *model.Guest, st model.Status) {
	if e.notifier == nil || g.Email == "" {
		return
	}
	e.notifier.Notify(ctx, notify.Message{
		Kind:    notify.KindReceived,
		GuestID: g.ID,
		Name:    g.Name,
		Email:   g.Email,
		Status:  string(st),
	})
}

func (e *Engine) notifyPromoted(ctx context.Context, g *model.Guest) {
	if e.notifier == nil || g.Email == "" {
		return
	}
	e.notifier.Notify(ctx, notify.Message{
		Kind:    notify.KindPromoted,
		GuestID: g.ID,
		Name:    g.Name,
		Email:   g.Email,
		Status:  string(model.StatusConfirmed),
	})
}

// Lookup returns the guest's current RSVP. Guests who never answered are
// ErrNotFound.
func (e *Engine) Lookup(ctx context.Context, rawPhone string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "Engine.Lookup")
	defer span.End()

	p, err := phone.Normalize(rawPhone)
	if err != nil {
		return nil, validationError("phone %q is not a valid Kenyan mobile number", rawPhone)
	}

	var res Result
	err = e.store.View(ctx, func(tx repo.Tx) error {
		g, err := e.registry.Find(ctx, tx, p)
		if err != nil {
			return err
		}
		r, err := e.ledger.Lookup(ctx, tx, g.ID)
		if err != nil {
			return err
		}
		if r == nil {
			return ErrNotFound
		}
		res = Result{Guest: g, RSVP: r, Status: model.StatusOf(r)}
		return nil
	})
	if err != nil {
		return nil, storeError(err)
	}
	return &res, nil
}

// Unconfirm moves a confirmed guest to declined and offers the seat to the
// waitlist. Guests in any other state are left untouched.
func (e *Engine) Unconfirm(ctx context.Context, rawPhone string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "Engine.Unconfirm")
	defer span.End()

	p, err := phone.Normalize(rawPhone)
	if err != nil {
		return nil, validationError("phone %q is not a valid Kenyan mobile number", rawPhone)
	}

	var (
		res   Result
		freed bool
	)
	err = e.store.AdmissionTx(ctx, func(tx repo.Tx) error {
		g, err := e.registry.Find(ctx, tx, p)
		if err != nil {
			return err
		}
		r, err := e.ledger.Lookup(ctx, tx, g.ID)
		if err != nil {
			return err
		}
		if r == nil {
			return ErrNotFound
		}
		if model.StatusOf(r) == model.StatusConfirmed {
			r.Attending = false
			if r, err = e.ledger.Upsert(ctx, tx, r); err != nil {
				return err
			}
			freed = true
		}
		res = Result{Guest: g, RSVP: r, Status: model.StatusOf(r)}
		if freed {
			res.Promoted, err = e.fillFreedSeat(ctx, tx)
		}
		return err
	})
	if err != nil {
		return nil, storeError(err)
	}

	if freed {
		e.log.Info().Int64("guest_id", res.Guest.ID).Msg("guest unconfirmed by admin")
		e.announcePromotion(ctx, res.Promoted)
	}
	return &res, nil
}

// PromoteNext fills one free seat from the waitlist, if there is both.
func (e *Engine) PromoteNext(ctx context.Context) (*model.Guest, error) {
	g, err := e.promoter.TryPromoteOne(ctx)
	if err != nil {
		return nil, err
	}
	if g != nil {
		e.notifyPromoted(ctx, g)
	}
	return g, nil
}

func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	var c model.Counts
	err := e.store.View(ctx, func(tx repo.Tx) error {
		var err error
		c, err = tx.CountByStatus(ctx)
		return err
	})
	if err != nil {
		return nil, storeError(err)
	}

	available := e.counter.Capacity() - c.Confirmed
	if available < 0 {
		available = 0
	}
	return &Stats{
		Capacity:   e.counter.Capacity(),
		Confirmed:  c.Confirmed,
		Waitlisted: c.Waitlisted,
		Declined:   c.Declined,
		Available:  available,
	}, nil
}

// List returns guests with an RSVP ordered by RSVP creation. An empty filter
// returns everyone.
func (e *Engine) List(ctx context.Context, filter model.Status) ([]model.GuestRSVP, error) {
	var all []model.GuestRSVP
	err := e.store.View(ctx, func(tx repo.Tx) error {
		var err error
		all, err = tx.ListRSVPs(ctx)
		return err
	})
	if err != nil {
		return nil, storeError(err)
	}
	if filter == "" {
		return all, nil
	}

	out := make([]model.GuestRSVP, 0, len(all))
	for _, gr := range all {
		r := gr.RSVP
		if model.StatusOf(&r) == filter {
			out = append(out, gr)
		}
	}
	return out, nil
}

// DeleteGuest removes the guest and its RSVP. A freed seat goes to the waitlist.
func (e *Engine) DeleteGuest(ctx context.Context, rawPhone string) (*model.Guest, error) {
	p, err := phone.Normalize(rawPhone)
	if err != nil {
		return nil, validationError("phone %q is not a valid Kenyan mobile number", rawPhone)
	}

	var (
		freed    bool
		promoted *model.Guest
	)
	err = e.store.AdmissionTx(ctx, func(tx repo.Tx) error {
		g, err := e.registry.Find(ctx, tx, p)
		if err != nil {
			return err
		}
		r, err := e.ledger.Lookup(ctx, tx, g.ID)
		if err != nil {
			return err
		}
		freed = model.StatusOf(r) == model.StatusConfirmed
		if err := tx.DeleteGuest(ctx, g.ID); err != nil {
			return err
		}
		if freed {
			promoted, err = e.fillFreedSeat(ctx, tx)
		}
		return err
	})
	if err != nil {
		return nil, storeError(err)
	}

	e.log.Info().Str("phone", p).Bool("freed_seat", freed).Msg("guest deleted")
	e.announcePromotion(ctx, promoted)
	return promoted, nil
}

func (e *Engine) AllowPhone(ctx context.Context, rawPhone, name, notes string) (*model.WhitelistEntry, error) {
	p, err := phone.Normalize(rawPhone)
	if err != nil {
		return nil, validationError("phone %q is not a valid Kenyan mobile number", rawPhone)
	}
	entry := &model.WhitelistEntry{Phone: p, Name: strings.TrimSpace(name), Notes: strings.TrimSpace(notes)}
	err = e.store.Tx(ctx, func(tx repo.Tx) error {
		return tx.AddWhitelist(ctx, entry)
	})
	if err != nil {
		return nil, storeError(err)
	}
	return entry, nil
}

func (e *Engine) RevokePhone(ctx context.Context, rawPhone string) error {
	p, err := phone.Normalize(rawPhone)
	if err != nil {
		return validationError("phone %q is not a valid Kenyan mobile number", rawPhone)
	}
	return storeError(e.store.Tx(ctx, func(tx repo.Tx) error {
		return tx.RemoveWhitelist(ctx, p)
	}))
}

func (e *Engine) ListWhitelist(ctx context.Context) ([]model.WhitelistEntry, error) {
	var entries []model.WhitelistEntry
	err := e.store.View(ctx, func(tx repo.Tx) error {
		var err error
		entries, err = tx.ListWhitelist(ctx)
		return err
	})
	if err != nil {
		return nil, storeError(err)
	}
	return entries, nil
}
