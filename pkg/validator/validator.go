package validator

import (
	"context"
	"errors"

	"github.com/go-playground/validator"

	"guestlist/internal/phone"
)

var global *validator.Validate

const (
	ErrInvalidFormat      = "Invalid format"
	ErrInvalidPhone       = "Invalid Kenyan mobile number"
	ErrInvalidEmail       = "Invalid e-mail address"
	ErrInvalidStatus      = "Unknown RSVP status"
	ErrFieldRequired      = "Field is required"
	ErrFieldExceedsMaxLen = "Field exceeds maximum length"
	ErrFieldBelowMinLen   = "Field is below minimum length"
	ErrFieldExceedsMaxVal = "Field exceeds maximum value"
	ErrFieldBelowMinVal   = "Field is below minimum value"
	ErrUnknownValidation  = "Unknown validation error"
)

func init() {
	SetValidator(New())
}

func New() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("kephone", validateKenyanPhone)
	_ = v.RegisterValidation("rsvpstatus", validateStatus)
	return v
}

func SetValidator(v *validator.Validate) {
	global = v
}

func Validator() *validator.Validate {
	return global
}

func validateKenyanPhone(fl validator.FieldLevel) bool {
	return phone.Valid(fl.Field().String())
}

func validateStatus(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "", "no_response", "declined", "confirmed", "waitlisted":
		return true
	}
	return false
}

func Validate(ctx context.Context, structure any) error {
	return parseValidationErrors(Validator().StructCtx(ctx, structure))
}

func parseValidationErrors(err error) error {
	if err == nil {
		return nil
	}
	vErrors, ok := err.(validator.ValidationErrors)
	if !ok || len(vErrors) == 0 {
		return err
	}
	ve := vErrors[0]
	var msg string
	switch ve.Tag() {
	case "kephone":
		msg = ErrInvalidPhone
	case "email":
		msg = ErrInvalidEmail
	case "rsvpstatus":
		msg = ErrInvalidStatus
	case "required":
		msg = ErrFieldRequired
	case "max":
		msg = ErrFieldExceedsMaxLen
	case "min":
		msg = ErrFieldBelowMinLen
	case "lt", "lte":
		msg = ErrFieldExceedsMaxVal
	case "gt", "gte":
		msg = ErrFieldBelowMinVal
	default:
		msg = ErrUnknownValidation
	}
	return errors.New(msg + ": " + ve.Namespace())
}
