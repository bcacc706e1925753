// Package auth validates inbound credentials and produces the request Principal.
//
// Every scheme reports a credential failure as core.ErrUnauthenticated, whatever the
// failing factor was. Store failures are returned wrapped and must be treated as internal errors.
package auth

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/classboard/core"
	"github.com/trezcool/classboard/core/developer"
	"github.com/trezcool/classboard/core/user"
	"github.com/trezcool/classboard/core/whiteboard"
)

// Scheme names an authentication scheme.
type Scheme string

const (
	SchemeBoard         Scheme = "board"
	SchemeUserToken     Scheme = "user_token"
	SchemeAppBoardToken Scheme = "app_board_token"
	SchemeAppUserToken  Scheme = "app_user_token"
)

// Credentials holds everything a caller may present. Unused fields stay empty.
type Credentials struct {
	BoardID      string
	SecretKey    string
	UserToken    string
	AppID        string
	AppSecret    string
	WhiteboardID string
	BoardToken   string
}

// Has reports whether every input of scheme is present.
func (c Credentials) Has(scheme Scheme) bool {
	switch scheme {
	case SchemeBoard:
		return c.BoardID != "" && c.SecretKey != ""
	case SchemeUserToken:
		return c.UserToken != ""
	case SchemeAppBoardToken:
		return c.AppID != "" && c.AppSecret != "" && c.WhiteboardID != "" && c.BoardToken != ""
	case SchemeAppUserToken:
		return c.AppID != "" && c.AppSecret != "" && c.UserToken != ""
	}
	return false
}

type Gate struct {
	users       *user.Service
	whiteboards *whiteboard.Service
	apps        *developer.Service
}

func NewGate(users *user.Service, whiteboards *whiteboard.Service, apps *developer.Service) *Gate {
	return &Gate{users: users, whiteboards: whiteboards, apps: apps}
}

// Authenticate tries schemes in the given order and runs the first one whose inputs are all present.
// A failure of that scheme is final: lower-priority schemes are not tried.
func (g *Gate) Authenticate(ctx context.Context, creds Credentials, schemes ...Scheme) (Principal, error) {
	for _, scheme := range schemes {
		if !creds.Has(scheme) {
			continue
		}
		switch scheme {
		case SchemeBoard:
			return g.AuthenticateBoard(ctx, creds.BoardID, creds.SecretKey)
		case SchemeUserToken:
			return g.AuthenticateUser(ctx, creds.UserToken)
		case SchemeAppBoardToken:
			return g.AuthenticateAppBoard(ctx, creds.AppID, creds.AppSecret, creds.WhiteboardID, creds.BoardToken)
		case SchemeAppUserToken:
			return g.AuthenticateAppUser(ctx, creds.AppID, creds.AppSecret, creds.UserToken)
		}
	}
	return nil, core.ErrUnauthenticated
}

// AuthenticateBoard accepts an active whiteboard matching both board_id and secret_key.
func (g *Gate) AuthenticateBoard(ctx context.Context, boardID, secretKey string) (Principal, error) {
	if boardID == "" || secretKey == "" {
		return nil, core.ErrUnauthenticated
	}
	wb, err := g.whiteboards.GetActiveByCredentials(ctx, boardID, secretKey)
	if err != nil {
		return nil, unauthenticated(err, "finding whiteboard")
	}
	return WhiteboardPrincipal{Whiteboard: wb}, nil
}

// AuthenticateUser accepts an active teacher owning token.
func (g *Gate) AuthenticateUser(ctx context.Context, token string) (Principal, error) {
	usr, err := g.teacherByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return UserPrincipal{User: usr}, nil
}

// AuthenticateAppBoard accepts an approved app together with a valid (whiteboard id, board token) pair.
func (g *Gate) AuthenticateAppBoard(ctx context.Context, appID, appSecret, whiteboardID, boardToken string) (Principal, error) {
	if whiteboardID == "" || boardToken == "" {
		return nil, core.ErrUnauthenticated
	}
	app, err := g.apps.Authenticate(ctx, appID, appSecret)
	if err != nil {
		return nil, err
	}
	wb, err := g.whiteboards.GetActiveByToken(ctx, whiteboardID, boardToken)
	if err != nil {
		return nil, unauthenticated(err, "finding whiteboard")
	}
	return AppWhiteboardPrincipal{App: app, Whiteboard: wb}, nil
}

// AuthenticateAppUser accepts an approved app together with a teacher's user token,
// and resolves every whiteboard that teacher can reach.
func (g *Gate) AuthenticateAppUser(ctx context.Context, appID, appSecret, userToken string) (Principal, error) {
	if userToken == "" {
		return nil, core.ErrUnauthenticated
	}
	app, err := g.apps.Authenticate(ctx, appID, appSecret)
	if err != nil {
		return nil, err
	}
	usr, err := g.teacherByToken(ctx, userToken)
	if err != nil {
		return nil, err
	}
	boards, err := g.whiteboards.QueryByTeacher(ctx, usr.ID)
	if err != nil {
		return nil, errors.Wrap(err, "querying whiteboards")
	}
	return AppUserPrincipal{App: app, User: usr, Whiteboards: boards}, nil
}

func (g *Gate) teacherByToken(ctx context.Context, token string) (user.User, error) {
	if token == "" {
		return user.User{}, core.ErrUnauthenticated
	}
	usr, err := g.users.GetByToken(ctx, token)
	if err != nil {
		return user.User{}, unauthenticated(err, "finding user")
	}
	if !usr.IsActive || !usr.IsTeacher() {
		return user.User{}, core.ErrUnauthenticated
	}
	return usr, nil
}

// unauthenticated turns a lookup miss into core.ErrUnauthenticated and wraps any other error.
func unauthenticated(err error, msg string) error {
	if core.IsNotFound(err) {
		return core.ErrUnauthenticated
	}
	return errors.Wrap(err, msg)
}
