package developer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/classboard/core"
	"github.com/trezcool/classboard/core/credential"
)

var (
	ErrNotFound = core.NewNotFoundError("app")

	// ErrAppIDExists is returned by repositories when an insert races another app on the same app_id.
	ErrAppIDExists = errors.New("an app with this app_id already exists")

	dummyHash     []byte
	dummyHashOnce sync.Once
)

type (
	Repository interface {
		AppIDExists(ctx context.Context, appID string) (bool, error)
		CreateApp(ctx context.Context, app App) (App, error)
		GetAppByAppID(ctx context.Context, appID string) (App, error)
		QueryAppsByDeveloper(ctx context.Context, developerID string) ([]App, error)
		// UpdateAppSecretHash replaces the secret digest in a single write.
		UpdateAppSecretHash(ctx context.Context, appID string, hash []byte) (App, error)
		UpdateAppStatus(ctx context.Context, appID, status string, approvedAt *time.Time) (App, error)
		DeleteApp(ctx context.Context, appID string) error
	}

	Service struct {
		repo        Repository
		autoApprove bool
		maxAttempts int
		hashCost    int
		now         func() time.Time
	}
)

func NewService(repo Repository, conf *core.Config) *Service {
	cost := bcrypt.DefaultCost
	if conf.TestMode {
		cost = bcrypt.MinCost
	}
	return &Service{
		repo:        repo,
		autoApprove: conf.Developer.AutoApprove,
		maxAttempts: conf.Credentials.MaxGenerateAttempts,
		hashCost:    cost,
		now:         time.Now,
	}
}

func (svc *Service) hashSecret(secret string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(secret), svc.hashCost)
}

// Create registers an app for developerID and returns its credentials.
func (svc *Service) Create(ctx context.Context, developerID string, na NewApp) (IssuedCredentials, error) {
	for attempt := 0; attempt < svc.maxAttempts; attempt++ {
		appID, err := credential.GenerateUnique(ctx, svc.maxAttempts, credential.GenerateAppID, svc.repo.AppIDExists)
		if err != nil {
			return IssuedCredentials{}, errors.Wrap(err, "generating app_id")
		}
		secret, err := credential.GenerateAppSecret()
		if err != nil {
			return IssuedCredentials{}, errors.Wrap(err, "generating app_secret")
		}
		hash, err := svc.hashSecret(secret)
		if err != nil {
			return IssuedCredentials{}, errors.Wrap(err, "hashing app_secret")
		}

		now := svc.now().UTC()
		app := App{
			ID:          uuid.New().String(),
			DeveloperID: developerID,
			Name:        na.Name,
			AppID:       appID,
			SecretHash:  hash,
			Description: na.Description,
			CallbackURL: na.CallbackURL,
			Status:      StatusPending,
			CreatedAt:   now,
		}
		if svc.autoApprove {
			app.Status = StatusApproved
			app.ApprovedAt = &now
		}

		app, err = svc.repo.CreateApp(ctx, app)
		if errors.Cause(err) == ErrAppIDExists {
			continue
		}
		if err != nil {
			return IssuedCredentials{}, errors.Wrap(err, "inserting app")
		}
		return IssuedCredentials{App: app, AppSecret: secret}, nil
	}
	return IssuedCredentials{}, errors.Wrap(credential.ErrExhausted, "inserting app")
}

func (svc *Service) GetByAppID(ctx context.Context, appID string) (App, error) {
	return svc.repo.GetAppByAppID(ctx, appID)
}

// GetOwned returns the app if it belongs to developerID.
func (svc *Service) GetOwned(ctx context.Context, appID, developerID string) (App, error) {
	app, err := svc.repo.GetAppByAppID(ctx, appID)
	if err != nil {
		return App{}, err
	}
	if app.DeveloperID != developerID {
		return App{}, ErrNotFound
	}
	return app, nil
}

func (svc *Service) QueryByDeveloper(ctx context.Context, developerID string) ([]App, error) {
	return svc.repo.QueryAppsByDeveloper(ctx, developerID)
}

// RotateSecret replaces the app_secret. The previous secret stops authenticating once the write commits.
func (svc *Service) RotateSecret(ctx context.Context, appID string) (IssuedCredentials, error) {
	secret, err := credential.GenerateAppSecret()
	if err != nil {
		return IssuedCredentials{}, errors.Wrap(err, "generating app_secret")
	}
	hash, err := svc.hashSecret(secret)
	if err != nil {
		return IssuedCredentials{}, errors.Wrap(err, "hashing app_secret")
	}
	app, err := svc.repo.UpdateAppSecretHash(ctx, appID, hash)
	if err != nil {
		return IssuedCredentials{}, errors.Wrap(err, "updating app_secret")
	}
	return IssuedCredentials{App: app, AppSecret: secret}, nil
}

func (svc *Service) Approve(ctx context.Context, appID string) (App, error) {
	now := svc.now().UTC()
	return svc.repo.UpdateAppStatus(ctx, appID, StatusApproved, &now)
}

func (svc *Service) Reject(ctx context.Context, appID string) (App, error) {
	return svc.repo.UpdateAppStatus(ctx, appID, StatusRejected, nil)
}

func (svc *Service) Delete(ctx context.Context, appID string) error {
	return svc.repo.DeleteApp(ctx, appID)
}

// Authenticate checks an (app_id, app_secret) pair against approved apps.
// Every credential failure gives core.ErrUnauthenticated, and an unknown app_id costs a hash comparison
// like a known one does.
func (svc *Service) Authenticate(ctx context.Context, appID, secret string) (App, error) {
	if appID == "" || secret == "" {
		return App{}, core.ErrUnauthenticated
	}
	app, err := svc.repo.GetAppByAppID(ctx, appID)
	if err != nil {
		if !core.IsNotFound(err) {
			return App{}, errors.Wrap(err, "finding app")
		}
		dummyHashOnce.Do(func() { dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dummy"), svc.hashCost) })
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(secret))
		return App{}, core.ErrUnauthenticated
	}
	if err = bcrypt.CompareHashAndPassword(app.SecretHash, []byte(secret)); err != nil {
		return App{}, core.ErrUnauthenticated
	}
	if !app.IsApproved() {
		return App{}, core.ErrUnauthenticated
	}
	return app, nil
}
