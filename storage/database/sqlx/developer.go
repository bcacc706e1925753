package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/classboard/core"
	"github.com/trezcool/classboard/core/developer"
)

const appColumns = `id, developer_id, name, app_id, secret_hash, description, callback_url, status, created_at, approved_at`

type appRow struct {
	ID          string    `db:"id"`
	DeveloperID string    `db:"developer_id"`
	Name        string    `db:"name"`
	AppID       string    `db:"app_id"`
	SecretHash  []byte    `db:"secret_hash"`
	Description string    `db:"description"`
	CallbackURL string    `db:"callback_url"`
	Status      string    `db:"status"`
	CreatedAt   time.Time `db:"created_at"`
	ApprovedAt  null.Time `db:"approved_at"`
}

func (r appRow) app() developer.App {
	return developer.App{
		ID:          r.ID,
		DeveloperID: r.DeveloperID,
		Name:        r.Name,
		AppID:       r.AppID,
		SecretHash:  r.SecretHash,
		Description: r.Description,
		CallbackURL: r.CallbackURL,
		Status:      r.Status,
		CreatedAt:   r.CreatedAt.UTC(),
		ApprovedAt:  r.ApprovedAt.Ptr(),
	}
}

type appRepository struct {
	db core.DB
}

var _ developer.Repository = (*appRepository)(nil) // interface compliance check

func NewAppRepository(db core.DB) *appRepository {
	return &appRepository{db: db}
}

func (repo appRepository) get(ctx context.Context, msg, query string, args ...interface{}) (developer.App, error) {
	var row appRow
	if err := sqlx.GetContext(ctx, repo.db, &row, query, args...); err != nil {
		return developer.App{}, trapNoRowsErr(err, developer.ErrNotFound, msg)
	}
	return row.app(), nil
}

func (repo appRepository) AppIDExists(ctx context.Context, appID string) (bool, error) {
	var found bool
	if err := sqlx.GetContext(ctx, repo.db, &found, `SELECT EXISTS (SELECT 1 FROM developer_app WHERE app_id = $1)`, appID); err != nil {
		return false, errors.Wrap(err, "checking app_id")
	}
	return found, nil
}

func (repo appRepository) CreateApp(ctx context.Context, app developer.App) (developer.App, error) {
	app, err := repo.get(
		ctx, "inserting app",
		`INSERT INTO developer_app (id, developer_id, name, app_id, secret_hash, description, callback_url, status, created_at, approved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+appColumns,
		app.ID, app.DeveloperID, app.Name, app.AppID, app.SecretHash, app.Description, app.CallbackURL,
		app.Status, app.CreatedAt.UTC(), null.TimeFromPtr(app.ApprovedAt),
	)
	if isUniqueViolation(err, "developer_app_app_id_key") {
		return developer.App{}, developer.ErrAppIDExists
	}
	return app, err
}

func (repo appRepository) GetAppByAppID(ctx context.Context, appID string) (developer.App, error) {
	return repo.get(ctx, "selecting app", `SELECT `+appColumns+` FROM developer_app WHERE app_id = $1`, appID)
}

func (repo appRepository) QueryAppsByDeveloper(ctx context.Context, developerID string) ([]developer.App, error) {
	var rows []appRow
	err := sqlx.SelectContext(
		ctx, repo.db, &rows,
		`SELECT `+appColumns+` FROM developer_app WHERE developer_id = $1 ORDER BY created_at`,
		developerID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "selecting apps")
	}
	apps := make([]developer.App, 0, len(rows))
	for _, r := range rows {
		apps = append(apps, r.app())
	}
	return apps, nil
}

func (repo appRepository) UpdateAppSecretHash(ctx context.Context, appID string, hash []byte) (developer.App, error) {
	return repo.get(
		ctx, "updating app secret",
		`UPDATE developer_app SET secret_hash = $2 WHERE app_id = $1 RETURNING `+appColumns,
		appID, hash,
	)
}

func (repo appRepository) UpdateAppStatus(ctx context.Context, appID, status string, approvedAt *time.Time) (developer.App, error) {
	return repo.get(
		ctx, "updating app status",
		`UPDATE developer_app SET status = $2, approved_at = $3 WHERE app_id = $1 RETURNING `+appColumns,
		appID, status, null.TimeFromPtr(approvedAt),
	)
}

func (repo appRepository) DeleteApp(ctx context.Context, appID string) error {
	res, err := repo.db.ExecContext(ctx, `DELETE FROM developer_app WHERE app_id = $1`, appID)
	return trapDeleteErr(res, err, developer.ErrNotFound, "deleting app")
}
