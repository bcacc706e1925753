package inmemdb

import (
	"context"
	"time"

	"github.com/trezcool/classboard/core/user"
)

type userRepository struct {
	db *DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *DB) *userRepository {
	return &userRepository{db: db}
}

func (repo *userRepository) CreateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for _, u := range repo.db.users {
		if u.Username == usr.Username || (usr.Email != "" && u.Email == usr.Email) {
			return user.User{}, user.ErrUserExists
		}
	}
	usr.Roles = append([]string(nil), usr.Roles...)
	repo.db.users[usr.ID] = &usr
	return usr, nil
}

func (repo *userRepository) GetUserByID(_ context.Context, id string) (user.User, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if usr, ok := repo.db.users[id]; ok {
		return *usr, nil
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) GetUserByTokenHash(_ context.Context, hash string) (user.User, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if hash == "" {
		return user.User{}, user.ErrNotFound
	}
	for _, usr := range repo.db.users {
		if usr.TokenHash == hash {
			return *usr, nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) SetUserToken(_ context.Context, id string, hash *string, createdAt *time.Time) (user.User, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	usr, ok := repo.db.users[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	usr.TokenHash = ""
	if hash != nil {
		usr.TokenHash = *hash
	}
	usr.TokenCreatedAt = createdAt
	return *usr, nil
}

func (repo *userRepository) SetLastLogin(_ context.Context, id string, at time.Time) (user.User, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	usr, ok := repo.db.users[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	usr.LastLogin = &at
	return *usr, nil
}
