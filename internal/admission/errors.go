package admission

import (
	"errors"
	"fmt"

	"guestlist/internal/repo"
)

var (
	ErrValidation       = errors.New("validation error")
	ErrNotWhitelisted   = errors.New("phone number is not on the guest list")
	ErrNotFound         = errors.New("not found")
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrCapacityRaceLost is returned inside an admission unit of work to roll
	// it back when capacity no longer allows the planned write. It never
	// leaves the package.
	ErrCapacityRaceLost = errors.New("capacity race lost")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// storeError lifts repo sentinels into the admission taxonomy.
func storeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotWhitelisted),
		errors.Is(err, ErrNotFound), errors.Is(err, ErrStoreUnavailable):
		return err
	case errors.Is(err, repo.ErrUnavailable):
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	case errors.Is(err, repo.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, repo.ErrDuplicate):
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return err
}
