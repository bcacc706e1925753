package echoapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/classboard/core"
	"github.com/trezcool/classboard/core/auth"
	"github.com/trezcool/classboard/core/presence"
	"github.com/trezcool/classboard/core/user"
	"github.com/trezcool/classboard/core/whiteboard"
	"github.com/trezcool/classboard/services/notify"
)

// Push channel events
const (
	EventConnected = "connected"
	EventHeartbeat = "heartbeat"
)

const socketWriteTimeout = 5 * time.Second

type ConnectedEvent struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// socketApi upgrades push channel connections of whiteboards and teachers.
type socketApi struct {
	gate     *auth.Gate
	sessions *auth.Sessions
	users    *user.Service
	tracker  *presence.Tracker
	hub      *notify.Hub
	log      core.Logger
	upgrader websocket.Upgrader
}

func registerSocket(app *echo.Echo, deps ServerDeps) {
	api := socketApi{
		gate:     deps.Gate,
		sessions: deps.Sessions,
		users:    deps.UserSvc,
		tracker:  deps.Tracker,
		hub:      deps.Hub,
		log:      deps.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(deps.Conf.Server.AllowedOrigins),
		},
	}
	app.GET("/socket", api.connect)
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get(echo.HeaderOrigin)
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// connect authenticates before upgrading: a board with board_id and secret_key query params,
// otherwise a teacher with a session token (`token` query param or bearer header).
func (api *socketApi) connect(ctx echo.Context) error {
	boardID, secretKey := ctx.QueryParam("board_id"), ctx.QueryParam("secret_key")
	if boardID != "" || secretKey != "" {
		p, err := api.gate.AuthenticateBoard(ctx.Request().Context(), boardID, secretKey)
		observeAuth(auth.SchemeBoard, err)
		if err != nil {
			return errors.Wrap(err, "authenticating board")
		}
		return api.serveBoard(ctx, p.(auth.WhiteboardPrincipal).Whiteboard)
	}

	token := ctx.QueryParam("token")
	if token == "" {
		token = bearerToken(ctx)
	}
	usr, err := sessionUser(ctx, api.sessions, api.users, token)
	if err != nil {
		return err
	}
	if !usr.IsTeacher() {
		return errHTTPForbidden
	}
	return api.serveTeacher(ctx, usr)
}

// upgrade returns nil if the upgrade failed. The upgrader has already replied to the client then.
func (api *socketApi) upgrade(ctx echo.Context) *websocket.Conn {
	conn, err := api.upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		api.log.Debug("push channel upgrade failed", err)
		return nil
	}
	return conn
}

func (api *socketApi) serveBoard(ctx echo.Context, wb whiteboard.Whiteboard) error {
	conn := api.upgrade(ctx)
	if conn == nil {
		return nil
	}
	client := api.hub.Register(conn, notify.KindBoard, wb.Room())
	defer client.Release()
	go client.WritePump()
	_ = client.Send(EventConnected, ConnectedEvent{Status: "success"})

	if _, err := api.tracker.Connect(ctx.Request().Context(), wb.ID); err != nil {
		api.log.Error("recording connect", err, map[string]interface{}{"whiteboard_id": wb.ID})
	}

	client.ReadPump(func(f notify.Frame) {
		if f.Event != EventHeartbeat {
			return
		}
		if _, err := api.tracker.Heartbeat(context.Background(), wb.ID, presence.SourceSocket); err != nil {
			api.log.Error("recording heartbeat", err, map[string]interface{}{"whiteboard_id": wb.ID})
		}
	})

	dctx, cancel := context.WithTimeout(context.Background(), socketWriteTimeout)
	defer cancel()
	if _, err := api.tracker.Disconnect(dctx, wb.ID); err != nil {
		api.log.Error("recording disconnect", err, map[string]interface{}{"whiteboard_id": wb.ID})
	}
	return nil
}

func (api *socketApi) serveTeacher(ctx echo.Context, usr user.User) error {
	conn := api.upgrade(ctx)
	if conn == nil {
		return nil
	}
	client := api.hub.Register(conn, notify.KindTeacher, whiteboard.TeacherRoom(usr.ID))
	defer client.Release()
	go client.WritePump()
	_ = client.Send(EventConnected, ConnectedEvent{Status: "success"})

	// snapshot of every board, delivered through the teacher's room
	if _, err := api.tracker.RefreshTeacher(ctx.Request().Context(), usr.ID); err != nil {
		api.log.Error("refreshing teacher boards", err, usr)
	}

	client.ReadPump(func(notify.Frame) {})
	return nil
}
