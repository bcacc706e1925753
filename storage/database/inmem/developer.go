package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/trezcool/classboard/core/developer"
)

type appRepository struct {
	db *DB
}

var _ developer.Repository = (*appRepository)(nil) // interface compliance check

func NewAppRepository(db *DB) *appRepository {
	return &appRepository{db: db}
}

func (repo *appRepository) AppIDExists(_ context.Context, appID string) (bool, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	_, ok := repo.db.apps[appID]
	return ok, nil
}

func (repo *appRepository) CreateApp(_ context.Context, app developer.App) (developer.App, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.apps[app.AppID]; ok {
		return developer.App{}, developer.ErrAppIDExists
	}
	repo.db.apps[app.AppID] = &app
	return app, nil
}

func (repo *appRepository) GetAppByAppID(_ context.Context, appID string) (developer.App, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if app, ok := repo.db.apps[appID]; ok {
		return *app, nil
	}
	return developer.App{}, developer.ErrNotFound
}

func (repo *appRepository) QueryAppsByDeveloper(_ context.Context, developerID string) ([]developer.App, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	apps := make([]developer.App, 0)
	for _, app := range repo.db.apps {
		if app.DeveloperID == developerID {
			apps = append(apps, *app)
		}
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].CreatedAt.Before(apps[j].CreatedAt) })
	return apps, nil
}

func (repo *appRepository) UpdateAppSecretHash(_ context.Context, appID string, hash []byte) (developer.App, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	app, ok := repo.db.apps[appID]
	if !ok {
		return developer.App{}, developer.ErrNotFound
	}
	app.SecretHash = hash
	return *app, nil
}

func (repo *appRepository) UpdateAppStatus(_ context.Context, appID, status string, approvedAt *time.Time) (developer.App, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	app, ok := repo.db.apps[appID]
	if !ok {
		return developer.App{}, developer.ErrNotFound
	}
	app.Status = status
	app.ApprovedAt = approvedAt
	return *app, nil
}

func (repo *appRepository) DeleteApp(_ context.Context, appID string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.apps[appID]; !ok {
		return developer.ErrNotFound
	}
	delete(repo.db.apps, appID)
	return nil
}
