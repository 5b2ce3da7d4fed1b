package model

import "time"

type Guest struct {
	ID        int64     `db:"id" json:"id"`
	Phone     string    `db:"phone" json:"phone"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email,omitempty" json:"email,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	LastLogin time.Time `db:"last_login" json:"last_login"`
}

type WhitelistEntry struct {
	Phone     string    `db:"phone" json:"phone"`
	Name      string    `db:"name,omitempty" json:"name,omitempty"`
	Notes     string    `db:"notes,omitempty" json:"notes,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type RSVP struct {
	ID           int64     `db:"id" json:"id"`
	GuestID      int64     `db:"guest_id" json:"guest_id"`
	Attending    bool      `db:"attending" json:"attending"`
	IsWaitlisted bool      `db:"is_waitlisted" json:"is_waitlisted"`
	Note         string    `db:"note,omitempty" json:"note,omitempty"`
	DietaryNeeds string    `db:"dietary_needs,omitempty" json:"dietary_needs,omitempty"`
	PledgeAmount int64     `db:"pledge_amount" json:"pledge_amount"`
	HotelChoice  string    `db:"hotel_choice,omitempty" json:"hotel_choice,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Normalize clears the waitlist flag of a declined RSVP.
func (r *RSVP) Normalize() {
	if !r.Attending {
		r.IsWaitlisted = false
	}
}

// GuestRSVP is a guest joined with its RSVP, as shown on the admin dashboard.
type GuestRSVP struct {
	Guest Guest `json:"guest"`
	RSVP  RSVP  `json:"rsvp"`
}

type Counts struct {
	Confirmed  int `json:"confirmed"`
	Waitlisted int `json:"waitlisted"`
	Declined   int `json:"declined"`
}
