package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/classboard/core"
	"github.com/trezcool/classboard/core/class"
)

const classColumns = `id, name, description, code, teacher_id, created_at`

type classRow struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	Code        string    `db:"code"`
	TeacherID   string    `db:"teacher_id"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r classRow) class() class.Class {
	return class.Class{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Code:        r.Code,
		TeacherID:   r.TeacherID,
		CreatedAt:   r.CreatedAt.UTC(),
	}
}

type classRepository struct {
	db core.DB
}

var _ class.Repository = (*classRepository)(nil) // interface compliance check

func NewClassRepository(db core.DB) *classRepository {
	return &classRepository{db: db}
}

func (repo classRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	var found bool
	if err := sqlx.GetContext(ctx, repo.db, &found, `SELECT EXISTS (SELECT 1 FROM class WHERE code = $1)`, code); err != nil {
		return false, errors.Wrap(err, "checking class code")
	}
	return found, nil
}

func (repo classRepository) CreateClass(ctx context.Context, cls class.Class) (class.Class, error) {
	var row classRow
	err := sqlx.GetContext(
		ctx, repo.db, &row,
		`INSERT INTO class (id, name, description, code, teacher_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+classColumns,
		cls.ID, cls.Name, cls.Description, cls.Code, cls.TeacherID, cls.CreatedAt.UTC(),
	)
	if isUniqueViolation(err, "class_code_key") {
		return class.Class{}, class.ErrCodeExists
	}
	if err != nil {
		return class.Class{}, errors.Wrap(err, "inserting class")
	}
	return row.class(), nil
}

func (repo classRepository) GetClassByID(ctx context.Context, id string) (class.Class, error) {
	var row classRow
	if err := sqlx.GetContext(ctx, repo.db, &row, `SELECT `+classColumns+` FROM class WHERE id = $1`, id); err != nil {
		return class.Class{}, trapNoRowsErr(err, class.ErrNotFound, "selecting class")
	}
	return row.class(), nil
}

func (repo classRepository) QueryClassesByTeacher(ctx context.Context, teacherID string) ([]class.Class, error) {
	var rows []classRow
	err := sqlx.SelectContext(
		ctx, repo.db, &rows,
		`SELECT `+classColumns+` FROM class WHERE teacher_id = $1 ORDER BY created_at`,
		teacherID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "selecting classes")
	}
	classes := make([]class.Class, 0, len(rows))
	for _, r := range rows {
		classes = append(classes, r.class())
	}
	return classes, nil
}

// DeleteClass relies on ON DELETE CASCADE to remove whiteboards and their history.
func (repo classRepository) DeleteClass(ctx context.Context, id string) error {
	res, err := repo.db.ExecContext(ctx, `DELETE FROM class WHERE id = $1`, id)
	return trapDeleteErr(res, err, class.ErrNotFound, "deleting class")
}
