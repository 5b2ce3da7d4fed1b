package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecide(t *testing.T) {
	tt := []struct {
		name      string
		from      Status
		attending bool
		seat      bool
		want      Status
		asked     bool
		frees     bool
	}{
		{name: "first decline", from: StatusNoResponse, attending: false, want: StatusDeclined},
		{name: "first attend with seat", from: StatusNoResponse, attending: true, seat: true, want: StatusConfirmed, asked: true},
		{name: "first attend when full", from: StatusNoResponse, attending: true, seat: false, want: StatusWaitlisted, asked: true},
		{name: "confirmed cancels", from: StatusConfirmed, attending: false, want: StatusDeclined, frees: true},
		{name: "waitlisted cancels", from: StatusWaitlisted, attending: false, want: StatusDeclined},
		{name: "re-attend after decline", from: StatusDeclined, attending: true, seat: true, want: StatusConfirmed, asked: true},
		{name: "re-attend after decline when full", from: StatusDeclined, attending: true, seat: false, want: StatusWaitlisted, asked: true},
		{name: "confirmed edits", from: StatusConfirmed, attending: true, seat: false, want: StatusConfirmed},
		{name: "waitlisted edits stay waitlisted", from: StatusWaitlisted, attending: true, seat: true, want: StatusWaitlisted},
		{name: "declined stays declined", from: StatusDeclined, attending: false, want: StatusDeclined},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			asked := false
			tr, err := Decide(tc.from, tc.attending, func() (bool, error) {
				asked = true
				return tc.seat, nil
			})
			require.NoError(t, err)
			assert.Equal(t, tc.want, tr.To)
			assert.Equal(t, tc.asked, asked, "capacity consulted")
			assert.Equal(t, tc.frees, tr.FreesSeat())
			assert.Equal(t, tc.want == StatusWaitlisted, tr.Waitlisted())
		})
	}
}

func TestDecidePropagatesCapacityError(t *testing.T) {
	boom := errors.New("count failed")
	_, err := Decide(StatusNoResponse, true, func() (bool, error) { return false, boom })
	require.ErrorIs(t, err, boom)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, StatusNoResponse, StatusOf(nil))
	assert.Equal(t, StatusDeclined, StatusOf(&RSVP{Attending: false, IsWaitlisted: true}))
	assert.Equal(t, StatusWaitlisted, StatusOf(&RSVP{Attending: true, IsWaitlisted: true}))
	assert.Equal(t, StatusConfirmed, StatusOf(&RSVP{Attending: true}))

	r := &RSVP{Attending: false, IsWaitlisted: true}
	r.Normalize()
	assert.False(t, r.IsWaitlisted)
}
