package echoapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/classboard/core"
	"github.com/trezcool/classboard/core/auth"
	"github.com/trezcool/classboard/core/presence"
	"github.com/trezcool/classboard/core/whiteboard"
)

// whiteboardApi serves the devices and the third-party frameworks acting for them.
type whiteboardApi struct {
	gate    *auth.Gate
	tracker *presence.Tracker
	svc     *whiteboard.Service
	loc     *time.Location
}

func registerWhiteboardAPI(g *echo.Group, deps ServerDeps) {
	api := whiteboardApi{
		gate:    deps.Gate,
		tracker: deps.Tracker,
		svc:     deps.WhiteboardSvc,
		loc:     deps.Conf.Presence.Location(),
	}

	board := gateMiddleware(api.gate, auth.SchemeBoard)
	userToken := gateMiddleware(api.gate, auth.SchemeUserToken)
	// a user token takes priority over board credentials
	userTokenOrBoard := gateMiddleware(api.gate, auth.SchemeUserToken, auth.SchemeBoard)

	g.POST("/heartbeat", api.heartbeat, board)
	g.GET("/status", api.status, userTokenOrBoard)
	g.GET("/user/whiteboards", api.userWhiteboards, userToken)

	// these authenticate from the request body
	g.POST("/reset-secret", api.resetSecret)
	g.POST("/framework/auth", api.frameworkAuth)
	g.POST("/framework/auth-with-token", api.frameworkAuthWithToken)
}

func (api *whiteboardApi) heartbeat(ctx echo.Context) error {
	p, err := contextPrincipal(ctx)
	if err != nil {
		return err
	}
	wp, ok := p.(auth.WhiteboardPrincipal)
	if !ok {
		return core.ErrUnauthenticated
	}
	if _, err = api.tracker.Heartbeat(ctx.Request().Context(), wp.Whiteboard.ID, presence.SourceHTTP); err != nil {
		return errors.Wrap(err, "recording heartbeat")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: true, Message: "heartbeat received"})
}

func (api *whiteboardApi) status(ctx echo.Context) error {
	p, err := contextPrincipal(ctx)
	if err != nil {
		return err
	}

	switch p := p.(type) {
	case auth.UserPrincipal:
		boards, err := api.svc.QueryByTeacher(ctx.Request().Context(), p.User.ID)
		if err != nil {
			return errors.Wrap(err, "querying whiteboards")
		}
		boards, err = api.tracker.StatusAll(ctx.Request().Context(), boards)
		if err != nil {
			return errors.Wrap(err, "computing statuses")
		}
		resp := StatusListResponse{Success: true, Whiteboards: make([]StatusResponse, 0, len(boards)), Count: len(boards)}
		for _, wb := range boards {
			resp.Whiteboards = append(resp.Whiteboards, newStatusResponse(wb, api.loc))
		}
		return ctx.JSON(http.StatusOK, resp)

	case auth.WhiteboardPrincipal:
		wb, err := api.tracker.Status(ctx.Request().Context(), p.Whiteboard)
		if err != nil {
			return errors.Wrap(err, "computing status")
		}
		return ctx.JSON(http.StatusOK, newStatusResponse(wb, api.loc))
	}
	return core.ErrUnauthenticated
}

func (api *whiteboardApi) userWhiteboards(ctx echo.Context) error {
	p, err := contextPrincipal(ctx)
	if err != nil {
		return err
	}
	up, ok := p.(auth.UserPrincipal)
	if !ok {
		return core.ErrUnauthenticated
	}

	boards, err := api.svc.QueryByTeacher(ctx.Request().Context(), up.User.ID)
	if err != nil {
		return errors.Wrap(err, "querying whiteboards")
	}
	data := newBoardCredentialsList(boards, api.loc)
	return ctx.JSON(http.StatusOK, AccessibleBoardsResponse{
		Success: true,
		Data:    data,
		Count:   len(data),
		User:    newUserSummary(up.User),
	})
}

func (api *whiteboardApi) resetSecret(ctx echo.Context) error {
	var data ResetSecretRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ResetSecretRequest")
	}

	wb, err := api.svc.RotateSecretByToken(ctx.Request().Context(), data.ID, data.Token)
	observeAuth(schemeBoardToken, err)
	if err != nil {
		return errors.Wrap(err, "rotating secret key")
	}
	return ctx.JSON(http.StatusOK, ResetSecretResponse{
		Success:        true,
		Message:        "secret key reset",
		NewSecretKey:   wb.SecretKey,
		WhiteboardID:   wb.ID,
		WhiteboardName: wb.Name,
	})
}

func (api *whiteboardApi) frameworkAuth(ctx echo.Context) error {
	var data FrameworkAuthRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to FrameworkAuthRequest")
	}

	p, err := api.gate.AuthenticateAppBoard(ctx.Request().Context(), data.AppID, data.AppSecret, data.ID, data.Token)
	observeAuth(auth.SchemeAppBoardToken, err)
	if err != nil {
		return errors.Wrap(err, "authenticating app")
	}
	wb := p.(auth.AppWhiteboardPrincipal).Whiteboard
	return ctx.JSON(http.StatusOK, FrameworkAuthResponse{
		Success:        true,
		BoardID:        wb.BoardID,
		SecretKey:      wb.SecretKey,
		WhiteboardName: wb.Name,
		ClassName:      wb.ClassName,
	})
}

func (api *whiteboardApi) frameworkAuthWithToken(ctx echo.Context) error {
	var data FrameworkAuthWithTokenRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to FrameworkAuthWithTokenRequest")
	}

	p, err := api.gate.AuthenticateAppUser(ctx.Request().Context(), data.AppID, data.AppSecret, data.UserToken)
	observeAuth(auth.SchemeAppUserToken, err)
	if err != nil {
		return errors.Wrap(err, "authenticating app")
	}
	ap := p.(auth.AppUserPrincipal)
	boards := newBoardCredentialsList(ap.Whiteboards, api.loc)
	return ctx.JSON(http.StatusOK, FrameworkBoardsResponse{
		Success:     true,
		Whiteboards: boards,
		Count:       len(boards),
		User:        newUserSummary(ap.User),
	})
}
