package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/classboard/core/developer"
)

type developerApi struct {
	svc      *developer.Service
	validate *validator.Validate
}

func registerDeveloperAPI(g *echo.Group, deps ServerDeps) {
	api := developerApi{
		svc:      deps.DeveloperSvc,
		validate: deps.Validate,
	}

	ag := g.Group("/apps", developerOnly)
	ag.POST("", api.create)
	ag.GET("", api.query)

	dg := ag.Group("/:app_id", api.ownedAppMiddleware)
	dg.GET("", api.retrieve)
	dg.POST("/reset-secret", api.resetSecret)
	dg.DELETE("", api.destroy)
}

// ownedAppMiddleware loads the app in the path. Another developer's app is reported as not found.
func (api *developerApi) ownedAppMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		usr, err := getContextUser(ctx)
		if err != nil {
			return err
		}
		app, err := api.svc.GetOwned(ctx.Request().Context(), ctx.Param("app_id"), usr.ID)
		if err != nil {
			return errors.Wrap(err, "finding app")
		}
		ctx.Set(contextObjectKey, app)
		return next(ctx)
	}
}

func (api *developerApi) create(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	var data developer.NewApp
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewApp")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	issued, err := api.svc.Create(ctx.Request().Context(), usr.ID, data)
	if err != nil {
		return errors.Wrap(err, "creating app")
	}
	return ctx.JSON(http.StatusCreated, issued)
}

func (api *developerApi) query(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	apps, err := api.svc.QueryByDeveloper(ctx.Request().Context(), usr.ID)
	if err != nil {
		return errors.Wrap(err, "querying apps")
	}
	if apps == nil {
		apps = []developer.App{}
	}
	return ctx.JSON(http.StatusOK, apps)
}

func (api *developerApi) retrieve(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, ctx.Get(contextObjectKey).(developer.App))
}

func (api *developerApi) resetSecret(ctx echo.Context) error {
	app := ctx.Get(contextObjectKey).(developer.App)
	issued, err := api.svc.RotateSecret(ctx.Request().Context(), app.AppID)
	if err != nil {
		return errors.Wrap(err, "rotating app secret")
	}
	return ctx.JSON(http.StatusOK, issued)
}

func (api *developerApi) destroy(ctx echo.Context) error {
	app := ctx.Get(contextObjectKey).(developer.App)
	if err := api.svc.Delete(ctx.Request().Context(), app.AppID); err != nil {
		return errors.Wrap(err, "deleting app")
	}
	return ctx.NoContent(http.StatusNoContent)
}
