package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/chama/core/booking"
)

type bookingApi struct {
	svc      *booking.Service
	validate *validator.Validate
}

func registerBookingAPI(g *echo.Group, svc *booking.Service, validate *validator.Validate) {
	api := bookingApi{
		svc:      svc,
		validate: validate,
	}

	sg := g.Group("/sessions/:id")
	sg.PUT("/rsvp", api.setRsvp)
	sg.GET("/rsvp", api.getRsvp)
	sg.GET("/rsvps", api.queryRsvps)
}

// Handlers

func (api *bookingApi) setRsvp(ctx echo.Context) error {
	var data booking.SetRsvp
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SetRsvp")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	res, err := api.svc.SetRsvp(ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *bookingApi) getRsvp(ctx echo.Context) error {
	personID := ctx.QueryParam("person_id")
	if personID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "person_id is required")
	}

	rsvp, err := api.svc.GetRsvp(personID, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, rsvp)
}

func (api *bookingApi) queryRsvps(ctx echo.Context) error {
	rsvps, err := api.svc.QueryInstanceRsvps(ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "querying responses")
	}
	if rsvps == nil {
		rsvps = []booking.Rsvp{}
	}
	return ctx.JSON(http.StatusOK, rsvps)
}
