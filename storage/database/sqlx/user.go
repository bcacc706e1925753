package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/classboard/core"
	"github.com/trezcool/classboard/core/user"
)

const userColumns = `id, name, username, email, is_active, roles, token_hash, token_created_at, created_at, last_login`

type userRow struct {
	ID             string         `db:"id"`
	Name           string         `db:"name"`
	Username       string         `db:"username"`
	Email          null.String    `db:"email"`
	IsActive       bool           `db:"is_active"`
	Roles          pq.StringArray `db:"roles"`
	TokenHash      null.String    `db:"token_hash"`
	TokenCreatedAt null.Time      `db:"token_created_at"`
	CreatedAt      time.Time      `db:"created_at"`
	LastLogin      null.Time      `db:"last_login"`
}

func (r userRow) user() user.User {
	return user.User{
		ID:             r.ID,
		Name:           r.Name,
		Username:       r.Username,
		Email:          r.Email.String,
		IsActive:       r.IsActive,
		Roles:          []string(r.Roles),
		TokenHash:      r.TokenHash.String,
		TokenCreatedAt: r.TokenCreatedAt.Ptr(),
		CreatedAt:      r.CreatedAt.UTC(),
		LastLogin:      r.LastLogin.Ptr(),
	}
}

type userRepository struct {
	db core.DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db core.DB) *userRepository {
	return &userRepository{db: db}
}

func (repo userRepository) get(ctx context.Context, msg, query string, args ...interface{}) (user.User, error) {
	var row userRow
	if err := sqlx.GetContext(ctx, repo.db, &row, query, args...); err != nil {
		return user.User{}, trapNoRowsErr(err, user.ErrNotFound, msg)
	}
	return row.user(), nil
}

func (repo userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	usr, err := repo.get(
		ctx, "inserting user",
		`INSERT INTO "user" (id, name, username, email, is_active, roles, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+userColumns,
		usr.ID, usr.Name, usr.Username, null.NewString(usr.Email, usr.Email != ""), usr.IsActive,
		pq.StringArray(usr.Roles), usr.CreatedAt.UTC(),
	)
	if isUniqueViolation(err, "user_username_key") || isUniqueViolation(err, "user_email_key") {
		return user.User{}, user.ErrUserExists
	}
	return usr, err
}

func (repo userRepository) GetUserByID(ctx context.Context, id string) (user.User, error) {
	return repo.get(ctx, "selecting user", `SELECT `+userColumns+` FROM "user" WHERE id = $1`, id)
}

func (repo userRepository) GetUserByTokenHash(ctx context.Context, hash string) (user.User, error) {
	if hash == "" {
		return user.User{}, user.ErrNotFound
	}
	return repo.get(ctx, "selecting user", `SELECT `+userColumns+` FROM "user" WHERE token_hash = $1`, hash)
}

func (repo userRepository) SetUserToken(ctx context.Context, id string, hash *string, createdAt *time.Time) (user.User, error) {
	return repo.get(
		ctx, "updating user token",
		`UPDATE "user" SET token_hash = $2, token_created_at = $3 WHERE id = $1 RETURNING `+userColumns,
		id, null.StringFromPtr(hash), null.TimeFromPtr(createdAt),
	)
}

func (repo userRepository) SetLastLogin(ctx context.Context, id string, at time.Time) (user.User, error) {
	return repo.get(
		ctx, "updating user last login",
		`UPDATE "user" SET last_login = $2 WHERE id = $1 RETURNING `+userColumns,
		id, at.UTC(),
	)
}
