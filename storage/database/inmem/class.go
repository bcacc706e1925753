package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/classboard/core/class"
)

type classRepository struct {
	db *DB
}

var _ class.Repository = (*classRepository)(nil) // interface compliance check

func NewClassRepository(db *DB) *classRepository {
	return &classRepository{db: db}
}

func (repo *classRepository) CodeExists(_ context.Context, code string) (bool, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, cls := range repo.db.classes {
		if cls.Code == code {
			return true, nil
		}
	}
	return false, nil
}

func (repo *classRepository) CreateClass(_ context.Context, cls class.Class) (class.Class, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for _, c := range repo.db.classes {
		if c.Code == cls.Code {
			return class.Class{}, class.ErrCodeExists
		}
	}
	repo.db.classes[cls.ID] = &cls
	return cls, nil
}

func (repo *classRepository) GetClassByID(_ context.Context, id string) (class.Class, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if cls, ok := repo.db.classes[id]; ok {
		return *cls, nil
	}
	return class.Class{}, class.ErrNotFound
}

func (repo *classRepository) QueryClassesByTeacher(_ context.Context, teacherID string) ([]class.Class, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	classes := make([]class.Class, 0)
	for _, cls := range repo.db.classes {
		if cls.TeacherID == teacherID {
			classes = append(classes, *cls)
		}
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i].CreatedAt.Before(classes[j].CreatedAt) })
	return classes, nil
}

func (repo *classRepository) DeleteClass(_ context.Context, id string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.classes[id]; !ok {
		return class.ErrNotFound
	}
	for wbID, wb := range repo.db.whiteboards {
		if wb.ClassID == id {
			repo.db.deleteWhiteboard(wbID)
		}
	}
	delete(repo.db.classes, id)
	return nil
}
