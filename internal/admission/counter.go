package admission

import (
	"context"

	"guestlist/internal/repo"
)

// Counter derives seat occupancy from the ledger. It must be read inside the
// same AdmissionTx as the write that depends on it.
type Counter struct {
	capacity int
}

func (c Counter) Capacity() int { return c.capacity }

func (c Counter) CurrentConfirmed(ctx context.Context, tx repo.Tx) (int, error) {
	return tx.CountConfirmed(ctx)
}

func (c Counter) SeatAvailable(ctx context.Context, tx repo.Tx) (bool, error) {
	n, err := c.CurrentConfirmed(ctx, tx)
	if err != nil {
		return false, err
	}
	return n < c.capacity, nil
}
