package repo

import (
	"context"
	"errors"

	"guestlist/internal/model"
)

var (
	ErrNotFound    = errors.New("record not found")
	ErrDuplicate   = errors.New("duplicate record")
	ErrUnavailable = errors.New("store unavailable")
)

// Tx is the set of operations available inside one unit of work.
type Tx interface {
	IsWhitelisted(ctx context.Context, phone string) (bool, error)
	AddWhitelist(ctx context.Context, e *model.WhitelistEntry) error
	RemoveWhitelist(ctx context.Context, phone string) error
	ListWhitelist(ctx context.Context) ([]model.WhitelistEntry, error)

	// UpsertGuest inserts a guest or refreshes name, email (when given) and
	// last_login of the guest holding the same phone.
	UpsertGuest(ctx context.Context, g *model.Guest) (*model.Guest, error)
	GetGuestByPhone(ctx context.Context, phone string) (*model.Guest, error)
	GetGuestByID(ctx context.Context, id int64) (*model.Guest, error)
	DeleteGuest(ctx context.Context, id int64) error

	GetRSVPByGuestID(ctx context.Context, guestID int64) (*model.RSVP, error)
	// UpsertRSVP writes the RSVP of r.GuestID in place, creating it on first use.
	UpsertRSVP(ctx context.Context, r *model.RSVP) (*model.RSVP, error)
	SetWaitlisted(ctx context.Context, rsvpID int64, waitlisted bool) error
	CountConfirmed(ctx context.Context) (int, error)
	CountByStatus(ctx context.Context) (model.Counts, error)
	// OldestWaitlisted returns the waitlisted RSVP with the earliest created_at.
	OldestWaitlisted(ctx context.Context) (*model.RSVP, error)
	ListRSVPs(ctx context.Context) ([]model.GuestRSVP, error)
}

// Store runs units of work against the durable store. A failed fn rolls the
// whole unit back.
type Store interface {
	View(ctx context.Context, fn func(Tx) error) error
	Tx(ctx context.Context, fn func(Tx) error) error
	// AdmissionTx is serialised against every other AdmissionTx.
	AdmissionTx(ctx context.Context, fn func(Tx) error) error
	Close() error
}
