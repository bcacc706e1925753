package user

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/classboard/core"
	"github.com/trezcool/classboard/core/credential"
)

var (
	ErrNotFound   = core.NewNotFoundError("user")
	ErrUserExists = errors.New("a user with this username or email already exists")
)

type (
	Repository interface {
		CreateUser(ctx context.Context, usr User) (User, error)
		GetUserByID(ctx context.Context, id string) (User, error)
		GetUserByTokenHash(ctx context.Context, hash string) (User, error)
		// SetUserToken replaces the token digest of a user in a single write.
		// A nil hash revokes the token.
		SetUserToken(ctx context.Context, id string, hash *string, createdAt *time.Time) (User, error)
		SetLastLogin(ctx context.Context, id string, at time.Time) (User, error)
	}

	Service struct {
		repo Repository
		now  func() time.Time
	}
)

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

func (svc *Service) Create(ctx context.Context, nu NewUser) (User, error) {
	usr := User{
		ID:        uuid.New().String(),
		Name:      nu.Name,
		Username:  nu.Username,
		Email:     nu.Email,
		IsActive:  true,
		Roles:     nu.Roles,
		CreatedAt: svc.now().UTC(),
	}
	return svc.repo.CreateUser(ctx, usr)
}

func (svc *Service) GetByID(ctx context.Context, id string) (User, error) {
	if !core.ValidID(id) {
		return User{}, ErrNotFound
	}
	return svc.repo.GetUserByID(ctx, id)
}

// GetByToken finds the user owning a plain token.
func (svc *Service) GetByToken(ctx context.Context, token string) (User, error) {
	if token == "" {
		return User{}, ErrNotFound
	}
	return svc.repo.GetUserByTokenHash(ctx, credential.HashToken(token))
}

func (svc *Service) SetLastLogin(ctx context.Context, usr User) (User, error) {
	return svc.repo.SetLastLogin(ctx, usr.ID, svc.now().UTC())
}

// GenerateToken issues a new user token for a teacher, replacing any previous one.
// The previous token stops authenticating as soon as the write commits.
func (svc *Service) GenerateToken(ctx context.Context, usr User) (IssuedToken, error) {
	if !usr.IsTeacher() {
		return IssuedToken{}, core.ErrForbidden
	}
	token, err := credential.GenerateUserToken()
	if err != nil {
		return IssuedToken{}, errors.Wrap(err, "generating user token")
	}
	hash := credential.HashToken(token)
	now := svc.now().UTC()
	if _, err = svc.repo.SetUserToken(ctx, usr.ID, &hash, &now); err != nil {
		return IssuedToken{}, errors.Wrap(err, "storing user token")
	}
	return IssuedToken{Token: token, CreatedAt: now}, nil
}

// RevokeToken clears the user token and its issuance timestamp.
func (svc *Service) RevokeToken(ctx context.Context, usr User) (User, error) {
	return svc.repo.SetUserToken(ctx, usr.ID, nil, nil)
}
