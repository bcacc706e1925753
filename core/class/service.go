package class

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/classboard/core"
	"github.com/trezcool/classboard/core/credential"
)

var (
	ErrNotFound = core.NewNotFoundError("class")

	// ErrCodeExists is returned by repositories when an insert races another class on the same code.
	ErrCodeExists = errors.New("a class with this code already exists")
)

type (
	Repository interface {
		CodeExists(ctx context.Context, code string) (bool, error)
		CreateClass(ctx context.Context, cls Class) (Class, error)
		GetClassByID(ctx context.Context, id string) (Class, error)
		QueryClassesByTeacher(ctx context.Context, teacherID string) ([]Class, error)
		// DeleteClass removes the class with its whiteboards and their status history.
		DeleteClass(ctx context.Context, id string) error
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

// Create creates a class owned by teacherID under a fresh, unique class code.
func (svc *Service) Create(ctx context.Context, teacherID string, nc NewClass) (Class, error) {
	for attempt := 0; attempt < svc.maxAttempts; attempt++ {
		code, err := credential.GenerateUnique(ctx, svc.maxAttempts, credential.GenerateClassCode, svc.repo.CodeExists)
		if err != nil {
			return Class{}, errors.Wrap(err, "generating class code")
		}
		cls, err := svc.repo.CreateClass(ctx, Class{
			ID:          uuid.New().String(),
			Name:        nc.Name,
			Description: nc.Description,
			Code:        code,
			TeacherID:   teacherID,
			CreatedAt:   svc.now().UTC(),
		})
		if errors.Cause(err) == ErrCodeExists {
			continue
		}
		if err != nil {
			return Class{}, errors.Wrap(err, "inserting class")
		}
		return cls, nil
	}
	return Class{}, errors.Wrap(credential.ErrExhausted, "inserting class")
}

func (svc *Service) GetByID(ctx context.Context, id string) (Class, error) {
	if !core.ValidID(id) {
		return Class{}, ErrNotFound
	}
	return svc.repo.GetClassByID(ctx, id)
}

func (svc *Service) QueryByTeacher(ctx context.Context, teacherID string) ([]Class, error) {
	return svc.repo.QueryClassesByTeacher(ctx, teacherID)
}

// GetOwned returns the class if it is taught by teacherID.
func (svc *Service) GetOwned(ctx context.Context, id, teacherID string) (Class, error) {
	cls, err := svc.GetByID(ctx, id)
	if err != nil {
		return Class{}, err
	}
	if cls.TeacherID != teacherID {
		return Class{}, core.ErrForbidden
	}
	return cls, nil
}

func (svc *Service) Delete(ctx context.Context, id string) error {
	if !core.ValidID(id) {
		return ErrNotFound
	}
	return svc.repo.DeleteClass(ctx, id)
}
