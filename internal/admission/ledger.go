package admission

import (
	"context"
	"errors"
	"fmt"

	"guestlist/internal/model"
	"guestlist/internal/repo"
)

// Ledger is the durable table of RSVPs, one row per guest.
type Ledger struct{}

// Lookup returns the guest's RSVP, or nil when the guest has not answered yet.
func (Ledger) Lookup(ctx context.Context, tx repo.Tx, guestID int64) (*model.RSVP, error) {
	r, err := tx.GetRSVPByGuestID(ctx, guestID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	return r, err
}

// Upsert writes r in place of any existing RSVP of the same guest.
func (Ledger) Upsert(ctx context.Context, tx repo.Tx, r *model.RSVP) (*model.RSVP, error) {
	if _, err := tx.GetGuestByID(ctx, r.GuestID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("guest %d: %w", r.GuestID, ErrNotFound)
		}
		return nil, err
	}
	r.Normalize()
	return tx.UpsertRSVP(ctx, r)
}
