package echoapi

import (
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/classboard/core"
	"github.com/trezcool/classboard/core/auth"
	"github.com/trezcool/classboard/core/metrics"
	"github.com/trezcool/classboard/core/user"
)

// Credential headers
const (
	HeaderBoardID   = "X-Board-ID"
	HeaderSecretKey = "X-Secret-Key"
	HeaderUserToken = "X-User-Token"
)

const contextUserKey = "user"

// schemeBoardToken labels the (whiteboard id, board token) pair accepted by the secret reset endpoint.
const schemeBoardToken auth.Scheme = "board_token"

// metricsMiddleware records the request count and latency per route.
func metricsMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		start := time.Now()
		if err := next(ctx); err != nil {
			// render the error now so that its status code is recorded
			ctx.Error(err)
		}

		status := ctx.Response().Status
		endpoint := ctx.Path()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		method := ctx.Request().Method
		metrics.HTTPRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(time.Since(start).Seconds())
		return nil
	}
}

// observeAuth counts an authentication attempt of scheme.
func observeAuth(scheme auth.Scheme, err error) {
	status := "ok"
	switch {
	case err == nil:
	case errors.Cause(err) == core.ErrUnauthenticated:
		status = "rejected"
	default:
		status = "error"
	}
	metrics.AuthRequestsTotal.WithLabelValues(string(scheme), status).Inc()
}

func headerCredentials(ctx echo.Context) auth.Credentials {
	h := ctx.Request().Header
	return auth.Credentials{
		BoardID:   strings.TrimSpace(h.Get(HeaderBoardID)),
		SecretKey: strings.TrimSpace(h.Get(HeaderSecretKey)),
		UserToken: strings.TrimSpace(h.Get(HeaderUserToken)),
	}
}

// gateMiddleware authenticates the request with the first of schemes whose headers are present,
// and stores the resulting Principal in the request context.
func gateMiddleware(gate *auth.Gate, schemes ...auth.Scheme) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			creds := headerCredentials(ctx)
			scheme := schemes[0]
			for _, s := range schemes {
				if creds.Has(s) {
					scheme = s
					break
				}
			}

			p, err := gate.Authenticate(ctx.Request().Context(), creds, schemes...)
			observeAuth(scheme, err)
			if err != nil {
				return errors.Wrap(err, "authenticating request")
			}
			ctx.SetRequest(ctx.Request().WithContext(auth.NewContext(ctx.Request().Context(), p)))
			return next(ctx)
		}
	}
}

func contextPrincipal(ctx echo.Context) (auth.Principal, error) {
	if p, ok := auth.FromContext(ctx.Request().Context()); ok {
		return p, nil
	}
	return nil, core.ErrUnauthenticated
}

func bearerToken(ctx echo.Context) string {
	h := ctx.Request().Header.Get(echo.HeaderAuthorization)
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// sessionMiddleware resolves the active user of a session token sent as a bearer token.
func sessionMiddleware(sessions *auth.Sessions, svc *user.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			usr, err := sessionUser(ctx, sessions, svc, bearerToken(ctx))
			if err != nil {
				return err
			}
			ctx.Set(contextUserKey, usr)
			return next(ctx)
		}
	}
}

func sessionUser(ctx echo.Context, sessions *auth.Sessions, svc *user.Service, token string) (user.User, error) {
	claims, err := sessions.Parse(token)
	if err != nil {
		return user.User{}, err
	}
	usr, err := svc.GetByID(ctx.Request().Context(), claims.Subject)
	if err != nil {
		if core.IsNotFound(err) {
			return user.User{}, core.ErrUnauthenticated
		}
		return user.User{}, errors.Wrap(err, "finding session user")
	}
	if !usr.IsActive {
		return user.User{}, core.ErrUnauthenticated
	}
	return usr, nil
}

func getContextUser(ctx echo.Context) (user.User, error) {
	if usr, ok := ctx.Get(contextUserKey).(user.User); ok {
		return usr, nil
	}
	return user.User{}, core.ErrUnauthenticated
}

// roleMiddleware only lets through session users holding the role checked by has.
func roleMiddleware(has func(*user.User) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			usr, err := getContextUser(ctx)
			if err != nil {
				return err
			}
			if !has(&usr) {
				return errHTTPForbidden
			}
			return next(ctx)
		}
	}
}

var (
	teacherOnly   = roleMiddleware((*user.User).IsTeacher)
	developerOnly = roleMiddleware((*user.User).IsDeveloper)
)
