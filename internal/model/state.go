package model

import "fmt"

type Status string

const (
	StatusNoResponse Status = "no_response"
	StatusDeclined   Status = "declined"
	StatusConfirmed  Status = "confirmed"
	StatusWaitlisted Status = "waitlisted"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusNoResponse, StatusDeclined, StatusConfirmed, StatusWaitlisted:
		return st, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// StatusOf derives the admission status from a stored RSVP; nil means no response yet.
func StatusOf(r *RSVP) Status {
	switch {
	case r == nil:
		return StatusNoResponse
	case !r.Attending:
		return StatusDeclined
	case r.IsWaitlisted:
		return StatusWaitlisted
	default:
		return StatusConfirmed
	}
}

type Transition struct {
	From Status
	To   Status
}

// FreesSeat reports whether the transition releases a confirmed seat.
func (t Transition) FreesSeat() bool {
	return t.From == StatusConfirmed && t.To != StatusConfirmed
}

// Waitlisted is the is_waitlisted value to persist for the target state.
func (t Transition) Waitlisted() bool {
	return t.To == StatusWaitlisted
}

// Decide applies the admission state machine. seatAvailable is consulted only
// when a guest without a held decision asks to attend; confirmed and
// waitlisted guests keep their place on edits.
func Decide(from Status, attending bool, seatAvailable func() (bool, error)) (Transition, error) {
	t := Transition{From: from}
	if !attending {
		t.To = StatusDeclined
		return t, nil
	}

	switch from {
	case StatusConfirmed, StatusWaitlisted:
		t.To = from
		return t, nil
	case StatusNoResponse, StatusDeclined:
		ok, err := seatAvailable()
		if err != nil {
			return Transition{}, err
		}
		if ok {
			t.To = StatusConfirmed
		} else {
			t.To = StatusWaitlisted
		}
		return t, nil
	}
	return Transition{}, fmt.Errorf("unknown status %q", from)
}
