package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/classboard/core"
	"github.com/trezcool/classboard/core/whiteboard"
	"github.com/trezcool/classboard/storage/database"
)

// whiteboardSelect reads boards from `w`, a table or CTE with the whiteboard columns.
const whiteboardSelect = `SELECT w.id, w.class_id, c.name AS class_name, c.teacher_id, w.name, w.board_id,
	w.secret_key, w.token, w.is_active, w.is_online, w.last_heartbeat, w.created_at
	FROM w JOIN class c ON c.id = w.class_id`

type whiteboardRow struct {
	ID            string      `db:"id"`
	ClassID       string      `db:"class_id"`
	ClassName     string      `db:"class_name"`
	TeacherID     string      `db:"teacher_id"`
	Name          string      `db:"name"`
	BoardID       string      `db:"board_id"`
	SecretKey     string      `db:"secret_key"`
	Token         null.String `db:"token"`
	IsActive      bool        `db:"is_active"`
	IsOnline      bool        `db:"is_online"`
	LastHeartbeat null.Time   `db:"last_heartbeat"`
	CreatedAt     time.Time   `db:"created_at"`
}

func (r whiteboardRow) whiteboard() whiteboard.Whiteboard {
	wb := whiteboard.Whiteboard{
		ID:        r.ID,
		ClassID:   r.ClassID,
		ClassName: r.ClassName,
		TeacherID: r.TeacherID,
		Name:      r.Name,
		BoardID:   r.BoardID,
		SecretKey: r.SecretKey,
		Token:     r.Token.String,
		IsActive:  r.IsActive,
		IsOnline:  r.IsOnline,
		CreatedAt: r.CreatedAt.UTC(),
	}
	if r.LastHeartbeat.Valid {
		hb := r.LastHeartbeat.Time.UTC()
		wb.LastHeartbeat = &hb
	}
	return wb
}

type historyRow struct {
	ID           int64     `db:"id"`
	WhiteboardID string    `db:"whiteboard_id"`
	IsOnline     bool      `db:"is_online"`
	CreatedAt    time.Time `db:"created_at"`
}

type whiteboardRepository struct {
	db core.DB
}

var _ whiteboard.Repository = (*whiteboardRepository)(nil) // interface compliance check

func NewWhiteboardRepository(db core.DB) *whiteboardRepository {
	return &whiteboardRepository{db: db}
}

// selectWhere reads boards matching cond.
func selectWhere(cond string) string {
	return `WITH w AS (SELECT * FROM whiteboard WHERE ` + cond + `) ` + whiteboardSelect
}

// updateWhere updates the boards matching cond and reads them back with their class.
func updateWhere(set, cond string) string {
	return `WITH w AS (UPDATE whiteboard SET ` + set + ` WHERE ` + cond + ` RETURNING *) ` + whiteboardSelect
}

func (repo whiteboardRepository) get(ctx context.Context, exec core.DBExecutor, msg, query string, args ...interface{}) (whiteboard.Whiteboard, error) {
	var row whiteboardRow
	if err := sqlx.GetContext(ctx, exec, &row, query, args...); err != nil {
		return whiteboard.Whiteboard{}, trapNoRowsErr(err, whiteboard.ErrNotFound, msg)
	}
	return row.whiteboard(), nil
}

func (repo whiteboardRepository) query(ctx context.Context, msg, query string, args ...interface{}) ([]whiteboard.Whiteboard, error) {
	var rows []whiteboardRow
	if err := sqlx.SelectContext(ctx, repo.db, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, msg)
	}
	boards := make([]whiteboard.Whiteboard, 0, len(rows))
	for _, r := range rows {
		boards = append(boards, r.whiteboard())
	}
	return boards, nil
}

func (repo whiteboardRepository) BoardIDExists(ctx context.Context, boardID string) (bool, error) {
	var found bool
	if err := sqlx.GetContext(ctx, repo.db, &found, `SELECT EXISTS (SELECT 1 FROM whiteboard WHERE board_id = $1)`, boardID); err != nil {
		return false, errors.Wrap(err, "checking board_id")
	}
	return found, nil
}

func (repo whiteboardRepository) CreateWhiteboard(ctx context.Context, wb whiteboard.Whiteboard) (whiteboard.Whiteboard, error) {
	wb, err := repo.get(
		ctx, repo.db, "inserting whiteboard",
		`WITH w AS (
			INSERT INTO whiteboard (id, class_id, name, board_id, secret_key, token, is_active, is_online, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8)
			RETURNING *
		) `+whiteboardSelect,
		wb.ID, wb.ClassID, wb.Name, wb.BoardID, wb.SecretKey, null.NewString(wb.Token, wb.Token != ""),
		wb.IsActive, wb.CreatedAt.UTC(),
	)
	if isUniqueViolation(err, "whiteboard_board_id_key") {
		return whiteboard.Whiteboard{}, whiteboard.ErrBoardIDExists
	}
	return wb, err
}

func (repo whiteboardRepository) GetWhiteboardByID(ctx context.Context, id string) (whiteboard.Whiteboard, error) {
	return repo.get(ctx, repo.db, "selecting whiteboard", selectWhere(`id = $1`), id)
}

func (repo whiteboardRepository) GetActiveWhiteboardByCredentials(ctx context.Context, boardID, secretKey string) (whiteboard.Whiteboard, error) {
	return repo.get(
		ctx, repo.db, "selecting whiteboard",
		selectWhere(`board_id = $1 AND secret_key = $2 AND is_active`),
		boardID, secretKey,
	)
}

func (repo whiteboardRepository) GetActiveWhiteboardByToken(ctx context.Context, id, token string) (whiteboard.Whiteboard, error) {
	return repo.get(
		ctx, repo.db, "selecting whiteboard",
		selectWhere(`id = $1 AND token = $2 AND is_active`),
		id, token,
	)
}

func (repo whiteboardRepository) QueryWhiteboardsByTeacher(ctx context.Context, teacherID string) ([]whiteboard.Whiteboard, error) {
	return repo.query(
		ctx, "selecting whiteboards",
		selectWhere(`class_id IN (SELECT id FROM class WHERE teacher_id = $1)`)+` ORDER BY w.created_at`,
		teacherID,
	)
}

func (repo whiteboardRepository) UpdateSecretKey(ctx context.Context, id, secretKey string) (whiteboard.Whiteboard, error) {
	return repo.get(ctx, repo.db, "updating secret_key", updateWhere(`secret_key = $2`, `id = $1`), id, secretKey)
}

func (repo whiteboardRepository) RotateSecretKeyByToken(ctx context.Context, id, token, secretKey string) (whiteboard.Whiteboard, error) {
	return repo.get(
		ctx, repo.db, "updating secret_key",
		updateWhere(`secret_key = $3`, `id = $1 AND token = $2 AND is_active`),
		id, token, secretKey,
	)
}

func (repo whiteboardRepository) UpdateToken(ctx context.Context, id, token string) (whiteboard.Whiteboard, error) {
	return repo.get(ctx, repo.db, "updating token", updateWhere(`token = $2`, `id = $1`), id, token)
}

func (repo whiteboardRepository) SetTokenIfUnset(ctx context.Context, id, token string) (whiteboard.Whiteboard, error) {
	return repo.get(ctx, repo.db, "updating token", updateWhere(`token = COALESCE(token, $2)`, `id = $1`), id, token)
}

func (repo whiteboardRepository) SetWhiteboardActive(ctx context.Context, id string, active bool) (whiteboard.Whiteboard, error) {
	return repo.get(ctx, repo.db, "updating is_active", updateWhere(`is_active = $2`, `id = $1`), id, active)
}

// DeleteWhiteboard relies on ON DELETE CASCADE to remove the status history.
func (repo whiteboardRepository) DeleteWhiteboard(ctx context.Context, id string) error {
	res, err := repo.db.ExecContext(ctx, `DELETE FROM whiteboard WHERE id = $1`, id)
	return trapDeleteErr(res, err, whiteboard.ErrNotFound, "deleting whiteboard")
}

func insertHistory(ctx context.Context, exec core.DBExecutor, id string, online bool, at time.Time) error {
	_, err := exec.ExecContext(
		ctx,
		`INSERT INTO whiteboard_status_history (whiteboard_id, is_online, created_at) VALUES ($1, $2, $3)`,
		id, online, at.UTC(),
	)
	return errors.Wrap(err, "inserting status history")
}

func (repo whiteboardRepository) RecordHeartbeat(ctx context.Context, id string, at time.Time) (whiteboard.Whiteboard, bool, error) {
	var (
		wb        whiteboard.Whiteboard
		wasOnline bool
	)
	err := database.WithTx(ctx, repo.db, func(tx core.DBTransactor) error {
		// lock the row so that the previous state is the one this update replaces
		err := sqlx.GetContext(ctx, tx, &wasOnline, `SELECT is_online FROM whiteboard WHERE id = $1 FOR UPDATE`, id)
		if err != nil {
			return trapNoRowsErr(err, whiteboard.ErrNotFound, "locking whiteboard")
		}
		wb, err = repo.get(
			ctx, tx, "recording heartbeat",
			updateWhere(`is_online = TRUE, last_heartbeat = $2`, `id = $1`),
			id, at.UTC(),
		)
		if err != nil {
			return err
		}
		return insertHistory(ctx, tx, id, true, at)
	})
	if err != nil {
		return whiteboard.Whiteboard{}, false, err
	}
	return wb, !wasOnline, nil
}

func (repo whiteboardRepository) MarkOffline(ctx context.Context, id string, staleBefore *time.Time, at time.Time) (whiteboard.Whiteboard, bool, error) {
	var (
		wb      whiteboard.Whiteboard
		changed bool
	)
	err := database.WithTx(ctx, repo.db, func(tx core.DBTransactor) error {
		var err error
		wb, err = repo.get(
			ctx, tx, "marking whiteboard offline",
			updateWhere(
				`is_online = FALSE`,
				`id = $1 AND is_online AND ($2::timestamptz IS NULL OR last_heartbeat IS NULL OR last_heartbeat < $2)`,
			),
			id, null.TimeFromPtr(staleBefore),
		)
		if err == whiteboard.ErrNotFound {
			// missing, already offline or refreshed meanwhile
			wb, err = repo.get(ctx, tx, "selecting whiteboard", selectWhere(`id = $1`), id)
			return err
		}
		if err != nil {
			return err
		}
		changed = true
		return insertHistory(ctx, tx, id, false, at)
	})
	if err != nil {
		return whiteboard.Whiteboard{}, false, err
	}
	return wb, changed, nil
}

func (repo whiteboardRepository) QueryStaleOnline(ctx context.Context, cutoff time.Time) ([]whiteboard.Whiteboard, error) {
	return repo.query(
		ctx, "selecting stale whiteboards",
		selectWhere(`is_online AND last_heartbeat < $1`),
		cutoff.UTC(),
	)
}

func (repo whiteboardRepository) QueryStatusHistory(ctx context.Context, id string, from, to time.Time) ([]whiteboard.StatusHistory, error) {
	var rows []historyRow
	err := sqlx.SelectContext(
		ctx, repo.db, &rows,
		`SELECT id, whiteboard_id, is_online, created_at FROM whiteboard_status_history
		WHERE whiteboard_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at, id`,
		id, from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "selecting status history")
	}
	history := make([]whiteboard.StatusHistory, 0, len(rows))
	for _, r := range rows {
		history = append(history, whiteboard.StatusHistory{
			ID:           r.ID,
			WhiteboardID: r.WhiteboardID,
			IsOnline:     r.IsOnline,
			CreatedAt:    r.CreatedAt.UTC(),
		})
	}
	return history, nil
}
