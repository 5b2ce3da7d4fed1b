package admission

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"guestlist/internal/model"
	"guestlist/internal/repo"
)

var errWaitlistEmpty = errors.New("waitlist is empty")

// Promoter moves the earliest waitlisted guest onto a freed seat.
type Promoter struct {
	store   repo.Store
	counter Counter
	log     *zerolog.Logger
}

// TryPromoteOne returns the promoted guest, or nil when nobody is waiting or
// the seat was taken by a concurrent decision.
func (p *Promoter) TryPromoteOne(ctx context.Context) (*model.Guest, error) {
	ctx, span := tracer.Start(ctx, "Promoter.TryPromoteOne")
	defer span.End()

	var promoted *model.Guest
	err := p.store.AdmissionTx(ctx, func(tx repo.Tx) error {
		var err error
		promoted, err = p.promoteWithin(ctx, tx)
		return err
	})
	if skipped(err) {
		p.logSkipped(err)
		return nil, nil
	}
	if err != nil {
		return nil, storeError(err)
	}
	p.logPromoted(promoted)
	return promoted, nil
}

// promoteWithin runs inside an admission unit of work that is already open,
// so the seat check and the flag flip see the same ledger as the caller.
// It fails with ErrCapacityRaceLost or errWaitlistEmpty when there is
// nothing to do.
func (p *Promoter) promoteWithin(ctx context.Context, tx repo.Tx) (*model.Guest, error) {
	ok, err := p.counter.SeatAvailable(ctx, tx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrCapacityRaceLost
	}

	next, err := tx.OldestWaitlisted(ctx)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, errWaitlistEmpty
	}
	if err != nil {
		return nil, err
	}
	if err := tx.SetWaitlisted(ctx, next.ID, false); err != nil {
		return nil, err
	}
	return tx.GetGuestByID(ctx, next.GuestID)
}

func skipped(err error) bool {
	return errors.Is(err, ErrCapacityRaceLost) || errors.Is(err, errWaitlistEmpty)
}

func (p *Promoter) logSkipped(err error) {
	if errors.Is(err, ErrCapacityRaceLost) {
		p.log.Info().Msg("promotion skipped, no free seat")
		return
	}
	p.log.Debug().Msg("promotion skipped, waitlist is empty")
}

func (p *Promoter) logPromoted(g *model.Guest) {
	p.log.Info().
		Int64("guest_id", g.ID).
		Str("phone", g.Phone).
		Msg("guest promoted from waitlist")
}
