package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/trezcool/classboard/core"
	"github.com/trezcool/classboard/core/user"
)

const sessionAudience = "classboard"

// SessionClaims are carried by the signed session token of a teacher or developer web session.
type SessionClaims struct {
	jwt.RegisteredClaims
	Username string   `json:"username,omitempty"`
	Roles    []string `json:"roles,omitempty"`
}

// Sessions issues and verifies HS256 session tokens.
type Sessions struct {
	issuer string
	key    []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSessions(conf *core.Config) *Sessions {
	return &Sessions{
		issuer: conf.AppName,
		key:    []byte(conf.SecretKey),
		ttl:    conf.Server.SessionExpirationDelta,
		now:    time.Now,
	}
}

// Issue signs a session token for usr.
func (s *Sessions) Issue(usr user.User) (string, error) {
	now := s.now()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   usr.ID,
			Audience:  jwt.ClaimStrings{sessionAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Username: usr.Username,
		Roles:    usr.Roles,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", errors.Wrap(err, "signing session token")
	}
	return token, nil
}

// Parse verifies a session token. Any invalid token gives core.ErrUnauthenticated.
func (s *Sessions) Parse(token string) (*SessionClaims, error) {
	if token == "" {
		return nil, core.ErrUnauthenticated
	}
	claims := new(SessionClaims)
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(*jwt.Token) (interface{}, error) { return s.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(sessionAudience),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return nil, core.ErrUnauthenticated
	}
	return claims, nil
}
