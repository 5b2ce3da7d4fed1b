package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/ginext"

	"guestlist/internal/admission"
	"guestlist/internal/dto"
	"guestlist/internal/model"
	"guestlist/pkg/validator"
)

type Service interface {
	SubmitRSVP(ctx *ginext.Context)
	GetRSVP(ctx *ginext.Context)
	Stats(ctx *ginext.Context)
	ListRSVPs(ctx *ginext.Context)
	Unconfirm(ctx *ginext.Context)
	PromoteNext(ctx *ginext.Context)
	DeleteGuest(ctx *ginext.Context)
	Health(ctx *ginext.Context)
}

// Admission is the part of admission.Engine the HTTP layer drives.
type Admission interface {
	Submit(ctx context.Context, req admission.SubmitRequest) (*admission.Result, error)
	Lookup(ctx context.Context, phone string) (*admission.Result, error)
	Unconfirm(ctx context.Context, phone string) (*admission.Result, error)
	PromoteNext(ctx context.Context) (*model.Guest, error)
	Stats(ctx context.Context) (*admission.Stats, error)
	List(ctx context.Context, filter model.Status) ([]model.GuestRSVP, error)
	DeleteGuest(ctx context.Context, phone string) (*model.Guest, error)
}

type service struct {
	engine Admission
	log    *zerolog.Logger
}

func NewService(engine Admission, logger *zerolog.Logger) Service {
	return &service{
		engine: engine,
		log:    logger,
	}
}

func (s *service) SubmitRSVP(ctx *ginext.Context) {
	var req dto.SubmitRSVPRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		s.log.Error().Err(err).Msg("failed to parse rsvp request")
		dto.BadResponseError(ctx, dto.FieldBadFormat, "Invalid JSON format")
		return
	}

	if verr := validator.Validate(ctx, req); verr != nil {
		s.log.Warn().Msgf("validation failed: %v", verr)
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}

	res, err := s.engine.Submit(ctx.Request.Context(), admission.SubmitRequest{
		Phone:        req.Phone,
		Name:         req.Name,
		Email:        req.Email,
		Attending:    *req.Attending,
		Note:         req.Note,
		DietaryNeeds: req.DietaryNeeds,
		PledgeAmount: req.PledgeAmount,
		HotelChoice:  req.HotelChoice,
	})
	if err != nil {
		s.fail(ctx, err, "failed to submit rsvp")
		return
	}

	s.log.Info().
		Int64("guest_id", res.Guest.ID).
		Str("status", string(res.Status)).
		Msg("rsvp submitted")
	dto.SuccessResponse(ctx, toRSVPResponse(res))
}

func (s *service) GetRSVP(ctx *ginext.Context) {
	res, err := s.engine.Lookup(ctx.Request.Context(), ctx.Param("phone"))
	if err != nil {
		s.fail(ctx, err, "failed to look up rsvp")
		return
	}
	dto.SuccessResponse(ctx, toRSVPResponse(res))
}

func (s *service) Stats(ctx *ginext.Context) {
	st, err := s.engine.Stats(ctx.Request.Context())
	if err != nil {
		s.fail(ctx, err, "failed to count rsvps")
		return
	}
	dto.SuccessResponse(ctx, dto.StatsResponse{
		Capacity:   st.Capacity,
		Confirmed:  st.Confirmed,
		Waitlisted: st.Waitlisted,
		Declined:   st.Declined,
		Available:  st.Available,
	})
}

func (s *service) ListRSVPs(ctx *ginext.Context) {
	var q dto.ListRSVPQuery
	if err := ctx.ShouldBindQuery(&q); err != nil {
		dto.BadResponseError(ctx, dto.FieldBadFormat, "Invalid query")
		return
	}
	if verr := validator.Validate(ctx, q); verr != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}

	list, err := s.engine.List(ctx.Request.Context(), model.Status(q.Status))
	if err != nil {
		s.fail(ctx, err, "failed to list rsvps")
		return
	}

	resp := make([]dto.RSVPResponse, 0, len(list))
	for _, gr := range list {
		g, r := gr.Guest, gr.RSVP
		resp = append(resp, toRSVPResponse(&admission.Result{Guest: &g, RSVP: &r, Status: model.StatusOf(&r)}))
	}
	dto.SuccessResponse(ctx, resp)
}

func (s *service) Unconfirm(ctx *ginext.Context) {
	res, err := s.engine.Unconfirm(ctx.Request.Context(), ctx.Param("phone"))
	if err != nil {
		s.fail(ctx, err, "failed to unconfirm guest")
		return
	}
	dto.SuccessResponse(ctx, toRSVPResponse(res))
}

func (s *service) PromoteNext(ctx *ginext.Context) {
	g, err := s.engine.PromoteNext(ctx.Request.Context())
	if err != nil {
		s.fail(ctx, err, "failed to promote from waitlist")
		return
	}
	dto.SuccessResponse(ctx, dto.PromoteResponse{Promoted: toGuestResponse(g)})
}

func (s *service) DeleteGuest(ctx *ginext.Context) {
	promoted, err := s.engine.DeleteGuest(ctx.Request.Context(), ctx.Param("phone"))
	if err != nil {
		s.fail(ctx, err, "failed to delete guest")
		return
	}
	dto.SuccessResponse(ctx, dto.PromoteResponse{Promoted: toGuestResponse(promoted)})
}

func (s *service) Health(ctx *ginext.Context) {
	if _, err := s.engine.Stats(ctx.Request.Context()); err != nil {
		s.log.Error().Err(err).Msg("health check failed")
		dto.UnavailableError(ctx)
		return
	}
	dto.SuccessResponse(ctx, map[string]string{"store": "up"})
}

func (s *service) fail(ctx *ginext.Context, err error, msg string) {
	switch {
	case errors.Is(err, admission.ErrValidation):
		dto.BadResponseError(ctx, dto.FieldIncorrect, err.Error())
	case errors.Is(err, admission.ErrNotWhitelisted):
		dto.NotWhitelistedError(ctx)
	case errors.Is(err, admission.ErrNotFound):
		dto.RSVPNotFoundError(ctx)
	case errors.Is(err, admission.ErrStoreUnavailable):
		s.log.Error().Err(err).Msg(msg)
		dto.UnavailableError(ctx)
	default:
		s.log.Error().Err(err).Msg(msg)
		dto.InternalServerError(ctx)
	}
}

func toGuestResponse(g *model.Guest) *dto.GuestResponse {
	if g == nil {
		return nil
	}
	return &dto.GuestResponse{ID: g.ID, Phone: g.Phone, Name: g.Name, Email: g.Email}
}

func toRSVPResponse(res *admission.Result) dto.RSVPResponse {
	out := dto.RSVPResponse{
		Guest:    *toGuestResponse(res.Guest),
		Status:   string(res.Status),
		Promoted: toGuestResponse(res.Promoted),
	}
	if r := res.RSVP; r != nil {
		out.Attending = r.Attending
		out.IsWaitlisted = r.IsWaitlisted
		out.Note = r.Note
		out.DietaryNeeds = r.DietaryNeeds
		out.PledgeAmount = r.PledgeAmount
		out.HotelChoice = r.HotelChoice
		out.CreatedAt = r.CreatedAt
		out.UpdatedAt = r.UpdatedAt
	}
	return out
}
