// Package presence maintains the online state of whiteboards.
//
// A board goes online on a heartbeat or a push channel connect, and goes offline on a disconnect,
// on a status read that finds its heartbeat older than the online threshold, or when the Sweeper
// finds it older than the sweep cutoff. Every write goes through a single conditional repository
// call so that concurrent writers never lose an update.
package presence

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/classboard/core"
	"github.com/trezcool/classboard/core/metrics"
	"github.com/trezcool/classboard/core/whiteboard"
)

// Heartbeat sources
const (
	SourceHTTP   = "http"
	SourceSocket = "socket"
)

// Offline transition reasons
const (
	reasonDisconnect = "disconnect"
	reasonStatusRead = "status_read"
	reasonSweep      = "sweep"
)

type Tracker struct {
	repo      whiteboard.Repository
	emitter   Emitter
	log       core.Logger
	threshold time.Duration
	loc       *time.Location
	now       func() time.Time
}

func NewTracker(repo whiteboard.Repository, emitter Emitter, logger core.Logger, conf *core.Config) *Tracker {
	return &Tracker{
		repo:      repo,
		emitter:   emitter,
		log:       logger,
		threshold: conf.Presence.OnlineThreshold,
		loc:       conf.Presence.Location(),
		now:       time.Now,
	}
}

// Heartbeat records a heartbeat of the board from source. Every call appends a history row
// and emits the board's status, even when it was already online.
func (t *Tracker) Heartbeat(ctx context.Context, id, source string) (whiteboard.Whiteboard, error) {
	wb, cameOnline, err := t.repo.RecordHeartbeat(ctx, id, t.now().UTC())
	if err != nil {
		return whiteboard.Whiteboard{}, errors.Wrap(err, "recording heartbeat")
	}
	metrics.HeartbeatsTotal.WithLabelValues(source).Inc()
	if cameOnline {
		metrics.PresenceTransitionsTotal.WithLabelValues("online", source).Inc()
	}
	t.emit(wb)
	return wb, nil
}

// Connect handles a board opening its push channel. It counts as a heartbeat.
func (t *Tracker) Connect(ctx context.Context, id string) (whiteboard.Whiteboard, error) {
	return t.Heartbeat(ctx, id, SourceSocket)
}

// Disconnect handles a board closing its push channel. Nothing is written or emitted
// if the board is already offline.
func (t *Tracker) Disconnect(ctx context.Context, id string) (whiteboard.Whiteboard, error) {
	wb, changed, err := t.markOffline(ctx, id, nil, reasonDisconnect)
	if err != nil {
		return whiteboard.Whiteboard{}, err
	}
	if changed {
		t.emit(wb)
	}
	return wb, nil
}

// Status returns the board with IsOnline recomputed against the online threshold.
// A board marked online with a stale heartbeat is demoted, which appends history and emits.
func (t *Tracker) Status(ctx context.Context, wb whiteboard.Whiteboard) (whiteboard.Whiteboard, error) {
	wb, changed, err := t.recompute(ctx, wb)
	if err != nil {
		return whiteboard.Whiteboard{}, err
	}
	if changed {
		t.emit(wb)
	}
	return wb, nil
}

// StatusAll is Status over many boards.
func (t *Tracker) StatusAll(ctx context.Context, boards []whiteboard.Whiteboard) ([]whiteboard.Whiteboard, error) {
	result := make([]whiteboard.Whiteboard, 0, len(boards))
	for _, wb := range boards {
		wb, err := t.Status(ctx, wb)
		if err != nil {
			return nil, err
		}
		result = append(result, wb)
	}
	return result, nil
}

// RefreshTeacher recomputes every board of a teacher and emits each status to the teacher room.
// It runs when a teacher session connects, to give it a snapshot.
func (t *Tracker) RefreshTeacher(ctx context.Context, teacherID string) ([]whiteboard.Whiteboard, error) {
	boards, err := t.repo.QueryWhiteboardsByTeacher(ctx, teacherID)
	if err != nil {
		return nil, errors.Wrap(err, "querying whiteboards")
	}
	result := make([]whiteboard.Whiteboard, 0, len(boards))
	for _, wb := range boards {
		wb, _, err = t.recompute(ctx, wb)
		if err != nil {
			return nil, err
		}
		t.emitTo(wb, whiteboard.TeacherRoom(teacherID))
		result = append(result, wb)
	}
	return result, nil
}

// recompute demotes wb if its heartbeat is older than the online threshold.
// A stored offline flag is never promoted by a read.
func (t *Tracker) recompute(ctx context.Context, wb whiteboard.Whiteboard) (whiteboard.Whiteboard, bool, error) {
	now := t.now().UTC()
	if !wb.IsOnline || wb.HeartbeatFresh(now, t.threshold) {
		return wb, false, nil
	}
	staleBefore := now.Add(-t.threshold)
	updated, changed, err := t.markOffline(ctx, wb.ID, &staleBefore, reasonStatusRead)
	if err != nil {
		return whiteboard.Whiteboard{}, false, err
	}
	if !changed {
		// a heartbeat landed in between
		return updated, false, nil
	}
	return updated, true, nil
}

// expire forces the board offline if it is still online with a heartbeat older than cutoff.
func (t *Tracker) expire(ctx context.Context, id string, cutoff time.Time) (bool, error) {
	wb, changed, err := t.markOffline(ctx, id, &cutoff, reasonSweep)
	if err != nil {
		return false, err
	}
	if changed {
		t.emit(wb)
	}
	return changed, nil
}

func (t *Tracker) markOffline(ctx context.Context, id string, staleBefore *time.Time, reason string) (whiteboard.Whiteboard, bool, error) {
	wb, changed, err := t.repo.MarkOffline(ctx, id, staleBefore, t.now().UTC())
	if err != nil {
		return whiteboard.Whiteboard{}, false, errors.Wrap(err, "marking whiteboard offline")
	}
	if changed {
		metrics.PresenceTransitionsTotal.WithLabelValues("offline", reason).Inc()
	}
	return wb, changed, nil
}

func (t *Tracker) emit(wb whiteboard.Whiteboard) {
	if wb.TeacherID == "" {
		t.log.Warn("whiteboard has no teacher to notify", map[string]interface{}{"whiteboard_id": wb.ID})
		return
	}
	t.emitTo(wb, wb.TeacherRoom())
}

func (t *Tracker) emitTo(wb whiteboard.Whiteboard, room string) {
	t.emitter.Emit(EventStatusUpdate, NewStatusEvent(wb, t.loc), room)
}
