package echoapi

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/classboard/core"
	"github.com/trezcool/classboard/core/class"
	"github.com/trezcool/classboard/core/presence"
	"github.com/trezcool/classboard/core/user"
	"github.com/trezcool/classboard/core/whiteboard"
)

const contextObjectKey = "object"

// dashboardApi serves the teacher's session: classes, whiteboards and the user token.
type dashboardApi struct {
	users       *user.Service
	classes     *class.Service
	whiteboards *whiteboard.Service
	tracker     *presence.Tracker
	validate    *validator.Validate
	loc         *time.Location
}

func registerDashboardAPI(g *echo.Group, deps ServerDeps) {
	api := dashboardApi{
		users:       deps.UserSvc,
		classes:     deps.ClassSvc,
		whiteboards: deps.WhiteboardSvc,
		tracker:     deps.Tracker,
		validate:    deps.Validate,
		loc:         deps.Conf.Presence.Location(),
	}

	tg := g.Group("", teacherOnly)

	cg := tg.Group("/classes")
	cg.POST("", api.createClass)
	cg.GET("", api.queryClasses)
	cdg := cg.Group("/:id", api.ownedClassMiddleware)
	cdg.DELETE("", api.destroyClass)
	cdg.POST("/whiteboards", api.createWhiteboard)

	wg := tg.Group("/whiteboards")
	wg.GET("", api.queryWhiteboards)
	wdg := wg.Group("/:id", api.ownedWhiteboardMiddleware)
	wdg.GET("", api.retrieveWhiteboard)
	wdg.DELETE("", api.destroyWhiteboard)
	wdg.GET("/status", api.whiteboardStatus)
	wdg.GET("/status-history", api.whiteboardHistory)
	wdg.POST("/token", api.whiteboardToken)
	wdg.POST("/reset-token", api.resetWhiteboardToken)
	wdg.POST("/reset-secret", api.resetWhiteboardSecret)
	wdg.POST("/activate", api.activateWhiteboard)
	wdg.POST("/deactivate", api.deactivateWhiteboard)

	ug := tg.Group("/user-token")
	ug.GET("", api.userTokenStatus)
	ug.POST("", api.generateUserToken)
	ug.DELETE("", api.revokeUserToken)
}

// ownedClassMiddleware loads the class in the path and checks the session user teaches it.
func (api *dashboardApi) ownedClassMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		usr, err := getContextUser(ctx)
		if err != nil {
			return err
		}
		cls, err := api.classes.GetOwned(ctx.Request().Context(), ctx.Param("id"), usr.ID)
		if err != nil {
			return errors.Wrap(err, "finding class")
		}
		ctx.Set(contextObjectKey, cls)
		return next(ctx)
	}
}

// ownedWhiteboardMiddleware loads the whiteboard in the path and checks the session user owns it.
func (api *dashboardApi) ownedWhiteboardMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		usr, err := getContextUser(ctx)
		if err != nil {
			return err
		}
		wb, err := api.whiteboards.GetOwned(ctx.Request().Context(), ctx.Param("id"), usr.ID)
		if err != nil {
			return errors.Wrap(err, "finding whiteboard")
		}
		ctx.Set(contextObjectKey, wb)
		return next(ctx)
	}
}

// Classes

func (api *dashboardApi) createClass(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	var data class.NewClass
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewClass")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	cls, err := api.classes.Create(ctx.Request().Context(), usr.ID, data)
	if err != nil {
		return errors.Wrap(err, "creating class")
	}
	return ctx.JSON(http.StatusCreated, cls)
}

func (api *dashboardApi) queryClasses(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	classes, err := api.classes.QueryByTeacher(ctx.Request().Context(), usr.ID)
	if err != nil {
		return errors.Wrap(err, "querying classes")
	}
	if classes == nil {
		classes = []class.Class{}
	}
	return ctx.JSON(http.StatusOK, classes)
}

func (api *dashboardApi) destroyClass(ctx echo.Context) error {
	cls := ctx.Get(contextObjectKey).(class.Class)
	if err := api.classes.Delete(ctx.Request().Context(), cls.ID); err != nil {
		return errors.Wrap(err, "deleting class")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *dashboardApi) createWhiteboard(ctx echo.Context) error {
	cls := ctx.Get(contextObjectKey).(class.Class)
	var data whiteboard.NewWhiteboard
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewWhiteboard")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	wb, err := api.whiteboards.Create(ctx.Request().Context(), cls.ID, data)
	if err != nil {
		return errors.Wrap(err, "creating whiteboard")
	}
	return ctx.JSON(http.StatusCreated, newBoardCredentials(wb, api.loc))
}

// Whiteboards

func (api *dashboardApi) queryWhiteboards(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	boards, err := api.whiteboards.QueryByTeacher(ctx.Request().Context(), usr.ID)
	if err != nil {
		return errors.Wrap(err, "querying whiteboards")
	}
	return ctx.JSON(http.StatusOK, newBoardCredentialsList(boards, api.loc))
}

func (api *dashboardApi) retrieveWhiteboard(ctx echo.Context) error {
	wb := ctx.Get(contextObjectKey).(whiteboard.Whiteboard)
	return ctx.JSON(http.StatusOK, newBoardCredentials(wb, api.loc))
}

func (api *dashboardApi) destroyWhiteboard(ctx echo.Context) error {
	wb := ctx.Get(contextObjectKey).(whiteboard.Whiteboard)
	if err := api.whiteboards.Delete(ctx.Request().Context(), wb.ID); err != nil {
		return errors.Wrap(err, "deleting whiteboard")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *dashboardApi) whiteboardStatus(ctx echo.Context) error {
	wb := ctx.Get(contextObjectKey).(whiteboard.Whiteboard)
	wb, err := api.tracker.Status(ctx.Request().Context(), wb)
	if err != nil {
		return errors.Wrap(err, "computing status")
	}
	return ctx.JSON(http.StatusOK, newStatusResponse(wb, api.loc))
}

func (api *dashboardApi) whiteboardHistory(ctx echo.Context) error {
	wb := ctx.Get(contextObjectKey).(whiteboard.Whiteboard)
	var query HistoryQuery
	if err := ctx.Bind(&query); err != nil {
		return errors.Wrap(err, "binding to HistoryQuery")
	}
	if err := query.Validate(api.validate); err != nil {
		return err
	}
	from, to, err := core.ParseDay(query.Date, api.loc)
	if err != nil {
		return core.NewValidationError(nil, core.FieldError{Field: "date", Error: err.Error()})
	}

	history, err := api.whiteboards.History(ctx.Request().Context(), wb.ID, from, to)
	if err != nil {
		return errors.Wrap(err, "querying status history")
	}
	if history == nil {
		history = []whiteboard.StatusHistory{}
	}
	return ctx.JSON(http.StatusOK, HistoryResponse{Success: true, Date: query.Date, Data: history})
}

func (api *dashboardApi) whiteboardToken(ctx echo.Context) error {
	wb := ctx.Get(contextObjectKey).(whiteboard.Whiteboard)
	wb, err := api.whiteboards.EnsureToken(ctx.Request().Context(), wb)
	if err != nil {
		return errors.Wrap(err, "ensuring board token")
	}
	return ctx.JSON(http.StatusOK, BoardTokenResponse{WhiteboardID: wb.ID, Token: wb.Token})
}

func (api *dashboardApi) resetWhiteboardToken(ctx echo.Context) error {
	wb := ctx.Get(contextObjectKey).(whiteboard.Whiteboard)
	wb, err := api.whiteboards.RotateToken(ctx.Request().Context(), wb.ID)
	if err != nil {
		return errors.Wrap(err, "rotating board token")
	}
	return ctx.JSON(http.StatusOK, BoardTokenResponse{WhiteboardID: wb.ID, Token: wb.Token})
}

func (api *dashboardApi) resetWhiteboardSecret(ctx echo.Context) error {
	wb := ctx.Get(contextObjectKey).(whiteboard.Whiteboard)
	wb, err := api.whiteboards.RotateSecret(ctx.Request().Context(), wb.ID)
	if err != nil {
		return errors.Wrap(err, "rotating secret key")
	}
	return ctx.JSON(http.StatusOK, newBoardCredentials(wb, api.loc))
}

// User token

func (api *dashboardApi) userTokenStatus(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, UserTokenStatus{HasToken: usr.HasToken(), TokenCreatedAt: usr.TokenCreatedAt})
}

func (api *dashboardApi) generateUserToken(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	issued, err := api.users.GenerateToken(ctx.Request().Context(), usr)
	if err != nil {
		return errors.Wrap(err, "generating user token")
	}
	return ctx.JSON(http.StatusCreated, issued)
}

func (api *dashboardApi) revokeUserToken(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	if _, err = api.users.RevokeToken(ctx.Request().Context(), usr); err != nil {
		return errors.Wrap(err, "revoking user token")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *dashboardApi) activateWhiteboard(ctx echo.Context) error {
	return api.setWhiteboardActive(ctx, true)
}

func (api *dashboardApi) deactivateWhiteboard(ctx echo.Context) error {
	return api.setWhiteboardActive(ctx, false)
}

func (api *dashboardApi) setWhiteboardActive(ctx echo.Context, active bool) error {
	wb := ctx.Get(contextObjectKey).(whiteboard.Whiteboard)
	wb, err := api.whiteboards.SetActive(ctx.Request().Context(), wb.ID, active)
	if err != nil {
		return errors.Wrap(err, "updating is_active")
	}
	return ctx.JSON(http.StatusOK, newBoardCredentials(wb, api.loc))
}
