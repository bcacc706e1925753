package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/trezcool/classboard/core/whiteboard"
)

type whiteboardRepository struct {
	db *DB
}

var _ whiteboard.Repository = (*whiteboardRepository)(nil) // interface compliance check

func NewWhiteboardRepository(db *DB) *whiteboardRepository {
	return &whiteboardRepository{db: db}
}

// join fills the fields read from the owning class. Callers hold the lock.
func (db *DB) join(wb *whiteboard.Whiteboard) whiteboard.Whiteboard {
	res := *wb
	if wb.LastHeartbeat != nil {
		hb := *wb.LastHeartbeat
		res.LastHeartbeat = &hb
	}
	if cls, ok := db.classes[wb.ClassID]; ok {
		res.ClassName = cls.Name
		res.TeacherID = cls.TeacherID
	}
	return res
}

// deleteWhiteboard removes the board and its history. Callers hold the write lock.
func (db *DB) deleteWhiteboard(id string) {
	delete(db.whiteboards, id)
	history := db.history[:0]
	for _, h := range db.history {
		if h.WhiteboardID != id {
			history = append(history, h)
		}
	}
	db.history = history
}

func (db *DB) appendHistory(id string, online bool, at time.Time) {
	db.historySeq++
	db.history = append(db.history, whiteboard.StatusHistory{
		ID:           db.historySeq,
		WhiteboardID: id,
		IsOnline:     online,
		CreatedAt:    at,
	})
}

func (repo *whiteboardRepository) BoardIDExists(_ context.Context, boardID string) (bool, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, wb := range repo.db.whiteboards {
		if wb.BoardID == boardID {
			return true, nil
		}
	}
	return false, nil
}

func (repo *whiteboardRepository) CreateWhiteboard(_ context.Context, wb whiteboard.Whiteboard) (whiteboard.Whiteboard, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for _, w := range repo.db.whiteboards {
		if w.BoardID == wb.BoardID {
			return whiteboard.Whiteboard{}, whiteboard.ErrBoardIDExists
		}
	}
	repo.db.whiteboards[wb.ID] = &wb
	return repo.db.join(&wb), nil
}

func (repo *whiteboardRepository) GetWhiteboardByID(_ context.Context, id string) (whiteboard.Whiteboard, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if wb, ok := repo.db.whiteboards[id]; ok {
		return repo.db.join(wb), nil
	}
	return whiteboard.Whiteboard{}, whiteboard.ErrNotFound
}

func (repo *whiteboardRepository) GetActiveWhiteboardByCredentials(_ context.Context, boardID, secretKey string) (whiteboard.Whiteboard, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, wb := range repo.db.whiteboards {
		if wb.IsActive && wb.BoardID == boardID && wb.SecretKey == secretKey {
			return repo.db.join(wb), nil
		}
	}
	return whiteboard.Whiteboard{}, whiteboard.ErrNotFound
}

func (repo *whiteboardRepository) GetActiveWhiteboardByToken(_ context.Context, id, token string) (whiteboard.Whiteboard, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if wb, ok := repo.db.whiteboards[id]; ok && wb.IsActive && wb.Token != "" && wb.Token == token {
		return repo.db.join(wb), nil
	}
	return whiteboard.Whiteboard{}, whiteboard.ErrNotFound
}

func (repo *whiteboardRepository) QueryWhiteboardsByTeacher(_ context.Context, teacherID string) ([]whiteboard.Whiteboard, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	boards := make([]whiteboard.Whiteboard, 0)
	for _, wb := range repo.db.whiteboards {
		if cls, ok := repo.db.classes[wb.ClassID]; ok && cls.TeacherID == teacherID {
			boards = append(boards, repo.db.join(wb))
		}
	}
	sort.Slice(boards, func(i, j int) bool { return boards[i].CreatedAt.Before(boards[j].CreatedAt) })
	return boards, nil
}

func (repo *whiteboardRepository) update(id string, fn func(wb *whiteboard.Whiteboard) bool) (whiteboard.Whiteboard, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	wb, ok := repo.db.whiteboards[id]
	if !ok || !fn(wb) {
		return whiteboard.Whiteboard{}, whiteboard.ErrNotFound
	}
	return repo.db.join(wb), nil
}

func (repo *whiteboardRepository) UpdateSecretKey(_ context.Context, id, secretKey string) (whiteboard.Whiteboard, error) {
	return repo.update(id, func(wb *whiteboard.Whiteboard) bool {
		wb.SecretKey = secretKey
		return true
	})
}

func (repo *whiteboardRepository) RotateSecretKeyByToken(_ context.Context, id, token, secretKey string) (whiteboard.Whiteboard, error) {
	return repo.update(id, func(wb *whiteboard.Whiteboard) bool {
		if !wb.IsActive || wb.Token == "" || wb.Token != token {
			return false
		}
		wb.SecretKey = secretKey
		return true
	})
}

func (repo *whiteboardRepository) UpdateToken(_ context.Context, id, token string) (whiteboard.Whiteboard, error) {
	return repo.update(id, func(wb *whiteboard.Whiteboard) bool {
		wb.Token = token
		return true
	})
}

func (repo *whiteboardRepository) SetTokenIfUnset(_ context.Context, id, token string) (whiteboard.Whiteboard, error) {
	return repo.update(id, func(wb *whiteboard.Whiteboard) bool {
		if wb.Token == "" {
			wb.Token = token
		}
		return true
	})
}

func (repo *whiteboardRepository) SetWhiteboardActive(_ context.Context, id string, active bool) (whiteboard.Whiteboard, error) {
	return repo.update(id, func(wb *whiteboard.Whiteboard) bool {
		wb.IsActive = active
		return true
	})
}

func (repo *whiteboardRepository) DeleteWhiteboard(_ context.Context, id string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.whiteboards[id]; !ok {
		return whiteboard.ErrNotFound
	}
	repo.db.deleteWhiteboard(id)
	return nil
}

func (repo *whiteboardRepository) RecordHeartbeat(_ context.Context, id string, at time.Time) (whiteboard.Whiteboard, bool, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	wb, ok := repo.db.whiteboards[id]
	if !ok {
		return whiteboard.Whiteboard{}, false, whiteboard.ErrNotFound
	}
	cameOnline := !wb.IsOnline
	wb.IsOnline = true
	wb.LastHeartbeat = &at
	repo.db.appendHistory(id, true, at)
	return repo.db.join(wb), cameOnline, nil
}

func (repo *whiteboardRepository) MarkOffline(_ context.Context, id string, staleBefore *time.Time, at time.Time) (whiteboard.Whiteboard, bool, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	wb, ok := repo.db.whiteboards[id]
	if !ok {
		return whiteboard.Whiteboard{}, false, whiteboard.ErrNotFound
	}
	if !wb.IsOnline {
		return repo.db.join(wb), false, nil
	}
	if staleBefore != nil && wb.LastHeartbeat != nil && !wb.LastHeartbeat.Before(*staleBefore) {
		return repo.db.join(wb), false, nil
	}
	wb.IsOnline = false
	repo.db.appendHistory(id, false, at)
	return repo.db.join(wb), true, nil
}

func (repo *whiteboardRepository) QueryStaleOnline(_ context.Context, cutoff time.Time) ([]whiteboard.Whiteboard, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	boards := make([]whiteboard.Whiteboard, 0)
	for _, wb := range repo.db.whiteboards {
		if wb.IsOnline && wb.LastHeartbeat != nil && wb.LastHeartbeat.Before(cutoff) {
			boards = append(boards, repo.db.join(wb))
		}
	}
	return boards, nil
}

func (repo *whiteboardRepository) QueryStatusHistory(_ context.Context, id string, from, to time.Time) ([]whiteboard.StatusHistory, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	rows := make([]whiteboard.StatusHistory, 0)
	for _, h := range repo.db.history {
		if h.WhiteboardID == id && !h.CreatedAt.Before(from) && h.CreatedAt.Before(to) {
			rows = append(rows, h)
		}
	}
	return rows, nil
}
