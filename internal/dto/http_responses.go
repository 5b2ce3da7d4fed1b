package dto

import (
	"net/http"
	"time"

	"github.com/wb-go/wbf/ginext"
)

const (
	FieldBadFormat     = "FIELD_BADFORMAT"
	FieldIncorrect     = "FIELD_INCORRECT"
	ServiceUnavailable = "SERVICE_UNAVAILABLE"
	InternalError      = "Service is currently unavailable. Please try again later."

	NotWhitelisted = "NOT_WHITELISTED"
	RSVPNotFound   = "RSVP_NOT_FOUND"
)

type SubmitRSVPRequest struct {
	Phone        string `json:"phone" validate:"required,kephone"`
	Name         string `json:"name" validate:"required,max=255"`
	Email        string `json:"email" validate:"omitempty,email,max=255"`
	Attending    *bool  `json:"attending" validate:"required"`
	Note         string `json:"note" validate:"max=2000"`
	DietaryNeeds string `json:"dietary_needs" validate:"max=500"`
	PledgeAmount int64  `json:"pledge_amount" validate:"gte=0"`
	HotelChoice  string `json:"hotel_choice" validate:"max=255"`
}

type ListRSVPQuery struct {
	Status string `form:"status" validate:"rsvpstatus"`
}

type GuestResponse struct {
	ID    int64  `json:"id"`
	Phone string `json:"phone"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

type RSVPResponse struct {
	Guest        GuestResponse  `json:"guest"`
	Status       string         `json:"status"`
	Attending    bool           `json:"attending"`
	IsWaitlisted bool           `json:"is_waitlisted"`
	Note         string         `json:"note,omitempty"`
	DietaryNeeds string         `json:"dietary_needs,omitempty"`
	PledgeAmount int64          `json:"pledge_amount"`
	HotelChoice  string         `json:"hotel_choice,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	Promoted     *GuestResponse `json:"promoted,omitempty"`
}

type StatsResponse struct {
	Capacity   int `json:"capacity"`
	Confirmed  int `json:"confirmed"`
	Waitlisted int `json:"waitlisted"`
	Declined   int `json:"declined"`
	Available  int `json:"available"`
}

type PromoteResponse struct {
	Promoted *GuestResponse `json:"promoted"`
}

type Response struct {
	Status string `json:"status"`
	Error  *Error `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

type Error struct {
	Code string `json:"code"`
	Desc string `json:"desc"`
}

func ErrorResponse(c *ginext.Context, status int, code, desc string) {
	c.JSON(status, Response{
		Status: "error",
		Error: &Error{
			Code: code,
			Desc: desc,
		},
	})
}

func BadResponseError(c *ginext.Context, code, desc string) {
	ErrorResponse(c, http.StatusBadRequest, code, desc)
}

func InternalServerError(c *ginext.Context) {
	ErrorResponse(c, http.StatusInternalServerError, ServiceUnavailable, InternalError)
}

func UnavailableError(c *ginext.Context) {
	ErrorResponse(c, http.StatusServiceUnavailable, ServiceUnavailable, InternalError)
}

func NotWhitelistedError(c *ginext.Context) {
	ErrorResponse(c, http.StatusForbidden, NotWhitelisted, "This phone number is not on the guest list")
}

func RSVPNotFoundError(c *ginext.Context) {
	ErrorResponse(c, http.StatusNotFound, RSVPNotFound, "No RSVP found for this phone number")
}

func SuccessResponse(c *ginext.Context, data any) {
	c.JSON(http.StatusOK, Response{
		Status: "ok",
		Data:   data,
	})
}
