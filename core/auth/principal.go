package auth

import (
	"context"

	"github.com/trezcool/classboard/core/developer"
	"github.com/trezcool/classboard/core/user"
	"github.com/trezcool/classboard/core/whiteboard"
)

// Principal is the authenticated caller of a request. It is one of
// WhiteboardPrincipal, UserPrincipal, AppWhiteboardPrincipal or AppUserPrincipal.
type Principal interface {
	Scheme() Scheme
	principal()
}

type (
	// WhiteboardPrincipal is a device authenticated with its board credentials.
	WhiteboardPrincipal struct {
		Whiteboard whiteboard.Whiteboard
	}

	// UserPrincipal is a teacher authenticated with a user token or a session.
	UserPrincipal struct {
		User user.User
	}

	// AppWhiteboardPrincipal is an approved app acting for one board through its board token.
	AppWhiteboardPrincipal struct {
		App        developer.App
		Whiteboard whiteboard.Whiteboard
	}

	// AppUserPrincipal is an approved app acting for a teacher through the teacher's user token.
	AppUserPrincipal struct {
		App         developer.App
		User        user.User
		Whiteboards []whiteboard.Whiteboard
	}
)

func (WhiteboardPrincipal) Scheme() Scheme    { return SchemeBoard }
func (UserPrincipal) Scheme() Scheme          { return SchemeUserToken }
func (AppWhiteboardPrincipal) Scheme() Scheme { return SchemeAppBoardToken }
func (AppUserPrincipal) Scheme() Scheme       { return SchemeAppUserToken }

func (WhiteboardPrincipal) principal()    {}
func (UserPrincipal) principal()          {}
func (AppWhiteboardPrincipal) principal() {}
func (AppUserPrincipal) principal()       {}

type ctxKey int

const principalKey ctxKey = iota

// NewContext returns a copy of ctx carrying p.
func NewContext(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// FromContext returns the principal stored in ctx, if any.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok && p != nil
}
