package echoapi

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/chama/core/booking"
	"github.com/trezcool/chama/core/schedule"
)

type scheduleApi struct {
	svc        *schedule.Service
	bookingSvc *booking.Service
	validate   *validator.Validate
}

func registerScheduleAPI(g *echo.Group, svc *schedule.Service, bookingSvc *booking.Service, validate *validator.Validate) {
	api := scheduleApi{
		svc:        svc,
		bookingSvc: bookingSvc,
		validate:   validate,
	}

	tg := g.Group("/templates")
	tg.POST("", api.create)
	tg.GET("", api.query)
	tg.GET("/:id", api.retrieve)
	tg.PUT("/:id", api.update)
	tg.POST("/:id/generate", api.generate)
	tg.GET("/:id/invitations", api.queryInvitations)
	tg.POST("/:id/invitations", api.addInvitation)
	tg.DELETE("/:id/invitations/:inviteeID", api.removeInvitation)

	sg := g.Group("/sessions")
	sg.GET("", api.querySessions)
	sg.GET("/:id", api.retrieveSession)
	sg.GET("/:id/invitations", api.querySessionInvitations)
	sg.POST("/:id/cancel", api.cancelSession)
}

// Handlers

func (api *scheduleApi) create(ctx echo.Context) error {
	var data schedule.NewTemplate
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewTemplate")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	tpl, err := api.svc.CreateTemplate(data)
	if err != nil {
		return errors.Wrap(err, "creating template")
	}
	return ctx.JSON(http.StatusCreated, tpl)
}

func (api *scheduleApi) query(ctx echo.Context) error {
	ordering := new(Ordering)
	ordering.Bind(ctx)

	tpls, err := api.svc.QueryTemplates(ctx.QueryParam("club_id"), ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying templates")
	}
	if tpls == nil {
		tpls = []schedule.Template{}
	}
	return ctx.JSON(http.StatusOK, tpls)
}

func (api *scheduleApi) retrieve(ctx echo.Context) error {
	tpl, err := api.svc.GetTemplate(ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, tpl)
}

func (api *scheduleApi) update(ctx echo.Context) error {
	var data schedule.UpdateTemplate
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateTemplate")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	tpl, err := api.svc.UpdateTemplate(ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, tpl)
}

func (api *scheduleApi) generate(ctx echo.Context) error {
	var data GenerateRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to GenerateRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	today := time.Now().UTC()
	windowStart := today
	if data.From != "" {
		d, err := time.ParseInLocation(dateParamLayout, data.From, time.UTC)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "from must be a YYYY-MM-DD date")
		}
		windowStart = d
	}

	created, err := api.svc.Generate(ctx.Param("id"), windowStart, data.Weeks, today)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, GenerateResponse{Created: created})
}

func (api *scheduleApi) queryInvitations(ctx echo.Context) error {
	invs, err := api.svc.QueryInvitations(ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "querying invitations")
	}
	if invs == nil {
		invs = []schedule.StandingInvitation{}
	}
	return ctx.JSON(http.StatusOK, invs)
}

func (api *scheduleApi) addInvitation(ctx echo.Context) error {
	var data schedule.NewStandingInvitation
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewStandingInvitation")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	inv, err := api.svc.AddInvitation(ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, inv)
}

func (api *scheduleApi) removeInvitation(ctx echo.Context) error {
	if err := api.svc.RemoveInvitation(ctx.Param("id"), ctx.Param("inviteeID")); err != nil {
		return errors.Wrap(err, "removing invitation")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *scheduleApi) querySessions(ctx echo.Context) error {
	filter := schedule.InstanceFilter{ClubID: ctx.QueryParam("club_id")}

	var err error
	if filter.From, err = bindDateParam(ctx, "from"); err != nil {
		return err
	}
	if filter.To, err = bindDateParam(ctx, "to"); err != nil {
		return err
	}
	// members only see sessions whose visibility window has opened;
	// `all=true` is the organizer view
	if ctx.QueryParam("all") != "true" {
		filter.VisibleAt = time.Now().UTC()
	}

	insts, err := api.svc.FilterInstances(filter)
	if err != nil {
		return errors.Wrap(err, "querying sessions")
	}
	if insts == nil {
		insts = []schedule.Instance{}
	}
	return ctx.JSON(http.StatusOK, insts)
}

func (api *scheduleApi) retrieveSession(ctx echo.Context) error {
	inst, err := api.svc.GetInstance(ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, inst)
}

func (api *scheduleApi) querySessionInvitations(ctx echo.Context) error {
	invs, err := api.svc.QueryInstanceInvitations(ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "querying session invitations")
	}
	if invs == nil {
		invs = []schedule.InstanceInvitation{}
	}
	return ctx.JSON(http.StatusOK, invs)
}

func (api *scheduleApi) cancelSession(ctx echo.Context) error {
	if err := api.svc.CancelInstance(ctx.Param("id")); err != nil {
		return err
	}
	// cancellation must hand reserved slots back to their weekly pools
	if err := api.bookingSvc.ReleaseInstanceSlots(ctx.Param("id")); err != nil {
		return errors.Wrap(err, "releasing session slots")
	}
	return ctx.NoContent(http.StatusNoContent)
}

type (
	GenerateRequest struct {
		Weeks int `json:"weeks" validate:"required,gt=0"`
		// From optionally re-anchors the window; defaults to today.
		From string `json:"from"`
	}

	GenerateResponse struct {
		Created int `json:"created"`
	}
)

func (gr *GenerateRequest) Validate(validate *validator.Validate) error {
	return validate.Struct(gr)
}
