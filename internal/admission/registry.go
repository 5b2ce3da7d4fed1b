package admission

import (
	"context"
	"errors"
	"fmt"

	"guestlist/internal/model"
	"guestlist/internal/repo"
)

// Registry resolves a phone number to a guest, gated by the phone whitelist.
type Registry struct {
	requireWhitelist bool
}

// ResolveOrCreate expects phone in canonical form. The whitelist is checked
// before any guest row is touched.
func (r Registry) ResolveOrCreate(ctx context.Context, tx repo.Tx, phone, name, email string) (*model.Guest, error) {
	if r.requireWhitelist {
		ok, err := tx.IsWhitelisted(ctx, phone)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrNotWhitelisted
		}
	}

	g, err := tx.UpsertGuest(ctx, &model.Guest{Phone: phone, Name: name, Email: email})
	if err != nil {
		return nil, fmt.Errorf("resolve guest: %w", err)
	}
	return g, nil
}

// Find returns the guest holding phone.
func (r Registry) Find(ctx context.Context, tx repo.Tx, phone string) (*model.Guest, error) {
	g, err := tx.GetGuestByPhone(ctx, phone)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("guest %s: %w", phone, ErrNotFound)
	}
	return g, err
}
