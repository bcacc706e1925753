package whiteboard

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/classboard/core"
	"github.com/trezcool/classboard/core/credential"
)

var (
	ErrNotFound = core.NewNotFoundError("whiteboard")

	// ErrBoardIDExists is returned by repositories when an insert races another whiteboard on the same board_id.
	ErrBoardIDExists = errors.New("a whiteboard with this board_id already exists")
)

type (
	Repository interface {
		BoardIDExists(ctx context.Context, boardID string) (bool, error)
		CreateWhiteboard(ctx context.Context, wb Whiteboard) (Whiteboard, error)
		GetWhiteboardByID(ctx context.Context, id string) (Whiteboard, error)
		// GetActiveWhiteboardByCredentials matches board_id and secret_key exactly, on active boards only.
		GetActiveWhiteboardByCredentials(ctx context.Context, boardID, secretKey string) (Whiteboard, error)
		// GetActiveWhiteboardByToken matches the board token exactly, on active boards only.
		GetActiveWhiteboardByToken(ctx context.Context, id, token string) (Whiteboard, error)
		QueryWhiteboardsByTeacher(ctx context.Context, teacherID string) ([]Whiteboard, error)
		UpdateSecretKey(ctx context.Context, id, secretKey string) (Whiteboard, error)
		// RotateSecretKeyByToken replaces the secret_key only if the board is active and token matches.
		RotateSecretKeyByToken(ctx context.Context, id, token, secretKey string) (Whiteboard, error)
		UpdateToken(ctx context.Context, id, token string) (Whiteboard, error)
		// SetTokenIfUnset stores token unless the board already has one, and returns the stored board.
		SetTokenIfUnset(ctx context.Context, id, token string) (Whiteboard, error)
		// SetWhiteboardActive toggles is_active. Presence is left untouched.
		SetWhiteboardActive(ctx context.Context, id string, active bool) (Whiteboard, error)
		// DeleteWhiteboard removes the board and its status history.
		DeleteWhiteboard(ctx context.Context, id string) error

		// RecordHeartbeat marks the board online at `at` and appends an online history row, atomically.
		// The returned bool reports whether the board was offline before.
		RecordHeartbeat(ctx context.Context, id string, at time.Time) (Whiteboard, bool, error)
		// MarkOffline marks the board offline and appends an offline history row, atomically, only if it
		// is still online and, when staleBefore is set, its last heartbeat is older than staleBefore.
		// The returned bool reports whether the transition happened.
		MarkOffline(ctx context.Context, id string, staleBefore *time.Time, at time.Time) (Whiteboard, bool, error)
		// QueryStaleOnline lists the boards marked online whose last heartbeat is older than cutoff.
		QueryStaleOnline(ctx context.Context, cutoff time.Time) ([]Whiteboard, error)
		QueryStatusHistory(ctx context.Context, id string, from, to time.Time) ([]StatusHistory, error)
	}

	Service struct {
		repo        Repository
		maxAttempts int
		now         func() time.Time
	}
)

func NewService(repo Repository, conf *core.Config) *Service {
	return &Service{
		repo:        repo,
		maxAttempts: conf.Credentials.MaxGenerateAttempts,
		now:         time.Now,
	}
}

// Create registers a whiteboard under classID with fresh credentials and a unique board_id.
func (svc *Service) Create(ctx context.Context, classID string, nw NewWhiteboard) (Whiteboard, error) {
	for attempt := 0; attempt < svc.maxAttempts; attempt++ {
		boardID, err := credential.GenerateUnique(ctx, svc.maxAttempts, credential.GenerateBoardID, svc.repo.BoardIDExists)
		if err != nil {
			return Whiteboard{}, errors.Wrap(err, "generating board_id")
		}
		secretKey, err := credential.GenerateSecretKey()
		if err != nil {
			return Whiteboard{}, errors.Wrap(err, "generating secret_key")
		}
		wb, err := svc.repo.CreateWhiteboard(ctx, Whiteboard{
			ID:        uuid.New().String(),
			ClassID:   classID,
			Name:      nw.Name,
			BoardID:   boardID,
			SecretKey: secretKey,
			IsActive:  true,
			CreatedAt: svc.now().UTC(),
		})
		if errors.Cause(err) == ErrBoardIDExists {
			continue
		}
		if err != nil {
			return Whiteboard{}, errors.Wrap(err, "inserting whiteboard")
		}
		return wb, nil
	}
	return Whiteboard{}, errors.Wrap(credential.ErrExhausted, "inserting whiteboard")
}

func (svc *Service) GetByID(ctx context.Context, id string) (Whiteboard, error) {
	if !core.ValidID(id) {
		return Whiteboard{}, ErrNotFound
	}
	return svc.repo.GetWhiteboardByID(ctx, id)
}

// GetActiveByCredentials finds the active board matching both board_id and secret_key.
func (svc *Service) GetActiveByCredentials(ctx context.Context, boardID, secretKey string) (Whiteboard, error) {
	return svc.repo.GetActiveWhiteboardByCredentials(ctx, boardID, secretKey)
}

// GetActiveByToken finds the active board with this id and board token.
func (svc *Service) GetActiveByToken(ctx context.Context, id, token string) (Whiteboard, error) {
	if !core.ValidID(id) {
		return Whiteboard{}, ErrNotFound
	}
	return svc.repo.GetActiveWhiteboardByToken(ctx, id, token)
}

// GetOwned returns the whiteboard if its class is taught by teacherID.
func (svc *Service) GetOwned(ctx context.Context, id, teacherID string) (Whiteboard, error) {
	wb, err := svc.GetByID(ctx, id)
	if err != nil {
		return Whiteboard{}, err
	}
	if wb.TeacherID != teacherID {
		return Whiteboard{}, core.ErrForbidden
	}
	return wb, nil
}

func (svc *Service) QueryByTeacher(ctx context.Context, teacherID string) ([]Whiteboard, error) {
	return svc.repo.QueryWhiteboardsByTeacher(ctx, teacherID)
}

// RotateSecret replaces the secret_key. The previous key stops authenticating once the write commits.
func (svc *Service) RotateSecret(ctx context.Context, id string) (Whiteboard, error) {
	if !core.ValidID(id) {
		return Whiteboard{}, ErrNotFound
	}
	secretKey, err := credential.GenerateSecretKey()
	if err != nil {
		return Whiteboard{}, errors.Wrap(err, "generating secret_key")
	}
	return svc.repo.UpdateSecretKey(ctx, id, secretKey)
}

// RotateSecretByToken replaces the secret_key for the holder of the board token.
func (svc *Service) RotateSecretByToken(ctx context.Context, id, token string) (Whiteboard, error) {
	if !core.ValidID(id) || token == "" {
		return Whiteboard{}, core.ErrUnauthenticated
	}
	secretKey, err := credential.GenerateSecretKey()
	if err != nil {
		return Whiteboard{}, errors.Wrap(err, "generating secret_key")
	}
	wb, err := svc.repo.RotateSecretKeyByToken(ctx, id, token, secretKey)
	if core.IsNotFound(err) {
		return Whiteboard{}, core.ErrUnauthenticated
	}
	return wb, err
}

// EnsureToken returns the board with a token, generating one if it has none yet.
func (svc *Service) EnsureToken(ctx context.Context, wb Whiteboard) (Whiteboard, error) {
	if wb.Token != "" {
		return wb, nil
	}
	token, err := credential.GenerateBoardToken()
	if err != nil {
		return Whiteboard{}, errors.Wrap(err, "generating board token")
	}
	return svc.repo.SetTokenIfUnset(ctx, wb.ID, token)
}

// RotateToken replaces the board token. The previous token stops authenticating once the write commits.
func (svc *Service) RotateToken(ctx context.Context, id string) (Whiteboard, error) {
	if !core.ValidID(id) {
		return Whiteboard{}, ErrNotFound
	}
	token, err := credential.GenerateBoardToken()
	if err != nil {
		return Whiteboard{}, errors.Wrap(err, "generating board token")
	}
	return svc.repo.UpdateToken(ctx, id, token)
}

// SetActive enables or disables every board credential scheme for the board.
func (svc *Service) SetActive(ctx context.Context, id string, active bool) (Whiteboard, error) {
	if !core.ValidID(id) {
		return Whiteboard{}, ErrNotFound
	}
	return svc.repo.SetWhiteboardActive(ctx, id, active)
}

func (svc *Service) Delete(ctx context.Context, id string) error {
	if !core.ValidID(id) {
		return ErrNotFound
	}
	return svc.repo.DeleteWhiteboard(ctx, id)
}

// History returns the status history rows of a board recorded in [from, to).
func (svc *Service) History(ctx context.Context, id string, from, to time.Time) ([]StatusHistory, error) {
	return svc.repo.QueryStatusHistory(ctx, id, from.UTC(), to.UTC())
}
