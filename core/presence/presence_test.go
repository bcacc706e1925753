package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/classboard/core"
	"github.com/trezcool/classboard/core/class"
	"github.com/trezcool/classboard/core/metrics"
	"github.com/trezcool/classboard/core/user"
	"github.com/trezcool/classboard/core/whiteboard"
	"github.com/trezcool/classboard/tests"
)

var t0 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

type fixture struct {
	conf    *core.Config
	repos   testutil.Repos
	emitter *testutil.Emitter
	logger  *testutil.Logger
	tracker *Tracker
	clock   time.Time
	teacher user.User
	wbSvc   *whiteboard.Service
	cls     class.Class
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		conf:    core.NewTestConfig(),
		repos:   testutil.NewRepos(),
		emitter: &testutil.Emitter{},
		logger:  &testutil.Logger{},
		clock:   t0,
	}
	f.wbSvc = whiteboard.NewService(f.repos.Whiteboards, f.conf)
	f.teacher = testutil.CreateTeacher(t, f.repos.Users, "teacher")
	f.cls = testutil.CreateClass(t, class.NewService(f.repos.Classes, f.conf), f.teacher.ID, "Math")
	f.tracker = NewTracker(f.repos.Whiteboards, f.emitter, f.logger, f.conf)
	f.tracker.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) board(t *testing.T, name string) whiteboard.Whiteboard {
	return testutil.CreateWhiteboard(t, f.wbSvc, f.cls.ID, name)
}

func (f *fixture) history(t *testing.T, id string) []whiteboard.StatusHistory {
	rows, err := f.repos.Whiteboards.QueryStatusHistory(context.Background(), id, time.Time{}, t0.Add(24*time.Hour))
	require.NoError(t, err)
	return rows
}

func (f *fixture) reload(t *testing.T, id string) whiteboard.Whiteboard {
	wb, err := f.repos.Whiteboards.GetWhiteboardByID(context.Background(), id)
	require.NoError(t, err)
	return wb
}

func formatted(tm time.Time) *string {
	s := tm.Format(core.DisplayTimeLayout)
	return &s
}

func TestTracker_Heartbeat(t *testing.T) {
	f := newFixture(t)
	wb := f.board(t, "Board 1")
	ctx := context.Background()

	got, err := f.tracker.Heartbeat(ctx, wb.ID, SourceHTTP)
	require.NoError(t, err)
	assert.True(t, got.IsOnline)
	if assert.NotNil(t, got.LastHeartbeat) {
		assert.True(t, got.LastHeartbeat.Equal(t0))
	}

	f.clock = t0.Add(5 * time.Second)
	_, err = f.tracker.Heartbeat(ctx, wb.ID, SourceHTTP)
	require.NoError(t, err)

	// every heartbeat appends history and re-emits, even while already online
	rows := f.history(t, wb.ID)
	if assert.Len(t, rows, 2) {
		assert.True(t, rows[0].IsOnline)
		assert.True(t, rows[1].IsOnline)
	}

	events := f.emitter.Events()
	if assert.Len(t, events, 2) {
		assert.Equal(t, EventStatusUpdate, events[1].Event)
		assert.Equal(t, "teacher_"+f.teacher.ID, events[1].Room)
		assert.Equal(t, StatusEvent{
			WhiteboardID:  wb.ID,
			IsOnline:      true,
			LastHeartbeat: formatted(t0.Add(5 * time.Second)),
		}, events[1].Payload)
	}
}

func TestTracker_HeartbeatCountsTransitions(t *testing.T) {
	f := newFixture(t)
	wb := f.board(t, "Board 1")
	ctx := context.Background()

	online := metrics.PresenceTransitionsTotal.WithLabelValues("online", SourceHTTP)
	beats := metrics.HeartbeatsTotal.WithLabelValues(SourceHTTP)
	onlineBefore, beatsBefore := promtest.ToFloat64(online), promtest.ToFloat64(beats)

	// offline -> online, then two refreshes
	for i := 0; i < 3; i++ {
		f.clock = t0.Add(time.Duration(i) * time.Second)
		_, err := f.tracker.Heartbeat(ctx, wb.ID, SourceHTTP)
		require.NoError(t, err)
	}
	assert.Equal(t, 1.0, promtest.ToFloat64(online)-onlineBefore)
	assert.Equal(t, 3.0, promtest.ToFloat64(beats)-beatsBefore)

	// online again after a disconnect
	_, err := f.tracker.Disconnect(ctx, wb.ID)
	require.NoError(t, err)
	_, err = f.tracker.Heartbeat(ctx, wb.ID, SourceHTTP)
	require.NoError(t, err)
	assert.Equal(t, 2.0, promtest.ToFloat64(online)-onlineBefore)
}

func TestTracker_HeartbeatUnknownBoard(t *testing.T) {
	f := newFixture(t)

	_, err := f.tracker.Heartbeat(context.Background(), "missing", SourceHTTP)
	assert.True(t, core.IsNotFound(err))
	assert.Empty(t, f.emitter.Events())
}

func TestTracker_Status(t *testing.T) {
	tests := []struct {
		name        string
		after       time.Duration
		wantOnline  bool
		wantHistory int
		wantEmits   int
	}{
		{name: "fresh heartbeat", after: 29 * time.Second, wantOnline: true, wantHistory: 1, wantEmits: 1},
		{name: "stale heartbeat", after: 31 * time.Second, wantOnline: false, wantHistory: 2, wantEmits: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			wb := f.board(t, "Board 1")
			ctx := context.Background()

			wb, err := f.tracker.Heartbeat(ctx, wb.ID, SourceHTTP)
			require.NoError(t, err)

			f.clock = t0.Add(tt.after)
			got, err := f.tracker.Status(ctx, wb)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOnline, got.IsOnline)
			assert.Equal(t, tt.wantOnline, f.reload(t, wb.ID).IsOnline)
			assert.Len(t, f.history(t, wb.ID), tt.wantHistory)
			assert.Len(t, f.emitter.Events(), tt.wantEmits)

			// reading again without any change writes nothing
			_, err = f.tracker.Status(ctx, f.reload(t, wb.ID))
			require.NoError(t, err)
			assert.Len(t, f.history(t, wb.ID), tt.wantHistory)
			assert.Len(t, f.emitter.Events(), tt.wantEmits)
		})
	}
}

func TestTracker_StatusNeverPromotes(t *testing.T) {
	f := newFixture(t)
	wb := f.board(t, "Board 1")
	ctx := context.Background()

	_, err := f.tracker.Heartbeat(ctx, wb.ID, SourceHTTP)
	require.NoError(t, err)
	_, err = f.tracker.Disconnect(ctx, wb.ID)
	require.NoError(t, err)

	f.clock = t0.Add(5 * time.Second)
	got, err := f.tracker.Status(ctx, f.reload(t, wb.ID))
	require.NoError(t, err)
	assert.False(t, got.IsOnline)
	assert.Len(t, f.history(t, wb.ID), 2)
}

func TestTracker_Disconnect(t *testing.T) {
	f := newFixture(t)
	wb := f.board(t, "Board 1")
	ctx := context.Background()

	_, err := f.tracker.Connect(ctx, wb.ID)
	require.NoError(t, err)

	f.clock = t0.Add(10 * time.Second)
	got, err := f.tracker.Disconnect(ctx, wb.ID)
	require.NoError(t, err)
	assert.False(t, got.IsOnline)

	rows := f.history(t, wb.ID)
	if assert.Len(t, rows, 2) {
		assert.False(t, rows[1].IsOnline)
		assert.True(t, rows[1].CreatedAt.Equal(f.clock))
	}
	events := f.emitter.Events()
	if assert.Len(t, events, 2) {
		assert.Equal(t, StatusEvent{
			WhiteboardID:  wb.ID,
			IsOnline:      false,
			LastHeartbeat: formatted(t0),
		}, events[1].Payload)
	}

	// already offline
	_, err = f.tracker.Disconnect(ctx, wb.ID)
	require.NoError(t, err)
	assert.Len(t, f.history(t, wb.ID), 2)
	assert.Len(t, f.emitter.Events(), 2)
}

func TestTracker_RefreshTeacher(t *testing.T) {
	f := newFixture(t)
	stale := f.board(t, "Stale")
	fresh := f.board(t, "Fresh")
	never := f.board(t, "Never")
	ctx := context.Background()

	_, err := f.tracker.Heartbeat(ctx, stale.ID, SourceHTTP)
	require.NoError(t, err)
	f.clock = t0.Add(20 * time.Second)
	_, err = f.tracker.Heartbeat(ctx, fresh.ID, SourceHTTP)
	require.NoError(t, err)
	f.emitter.Reset()

	f.clock = t0.Add(40 * time.Second)
	boards, err := f.tracker.RefreshTeacher(ctx, f.teacher.ID)
	require.NoError(t, err)

	online := make(map[string]bool)
	for _, wb := range boards {
		online[wb.ID] = wb.IsOnline
	}
	assert.Equal(t, map[string]bool{stale.ID: false, fresh.ID: true, never.ID: false}, online)

	events := f.emitter.Events()
	assert.Len(t, events, 3)
	for _, e := range events {
		assert.Equal(t, whiteboard.TeacherRoom(f.teacher.ID), e.Room)
	}
	assert.Len(t, f.history(t, stale.ID), 2)
	assert.Len(t, f.history(t, never.ID), 0)
}

func newSweeper(f *fixture) *Sweeper {
	return NewSweeper(f.tracker, f.logger, f.conf)
}

func TestSweeper_Tick(t *testing.T) {
	f := newFixture(t)
	wb := f.board(t, "Board 1")
	idle := f.board(t, "Idle")
	ctx := context.Background()
	sweeper := newSweeper(f)

	_, err := f.tracker.Heartbeat(ctx, wb.ID, SourceHTTP)
	require.NoError(t, err)

	f.clock = t0.Add(10 * time.Second)
	n, err := sweeper.Tick(ctx, f.clock)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.True(t, f.reload(t, wb.ID).IsOnline)

	f.clock = t0.Add(16 * time.Second)
	n, err = sweeper.Tick(ctx, f.clock)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, f.reload(t, wb.ID).IsOnline)

	rows := f.history(t, wb.ID)
	if assert.Len(t, rows, 2) {
		assert.False(t, rows[1].IsOnline)
	}
	assert.Len(t, f.emitter.Events(), 2)

	// a second tick without a new heartbeat changes nothing
	f.clock = t0.Add(76 * time.Second)
	n, err = sweeper.Tick(ctx, f.clock)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, f.history(t, wb.ID), 2)
	assert.Len(t, f.emitter.Events(), 2)
	assert.Len(t, f.history(t, idle.ID), 0)
}

type failingRepo struct {
	whiteboard.Repository
	failID string
}

func (r failingRepo) MarkOffline(ctx context.Context, id string, staleBefore *time.Time, at time.Time) (whiteboard.Whiteboard, bool, error) {
	if id == r.failID {
		return whiteboard.Whiteboard{}, false, errors.New("connection reset")
	}
	return r.Repository.MarkOffline(ctx, id, staleBefore, at)
}

func TestSweeper_TickContinuesOnFailure(t *testing.T) {
	f := newFixture(t)
	broken := f.board(t, "Broken")
	ok := f.board(t, "OK")
	ctx := context.Background()

	for _, wb := range []whiteboard.Whiteboard{broken, ok} {
		_, err := f.tracker.Heartbeat(ctx, wb.ID, SourceHTTP)
		require.NoError(t, err)
	}
	f.tracker.repo = failingRepo{Repository: f.repos.Whiteboards, failID: broken.ID}

	f.clock = t0.Add(time.Minute)
	n, err := newSweeper(f).Tick(ctx, f.clock)
	assert.Error(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, f.reload(t, ok.ID).IsOnline)
	assert.True(t, f.reload(t, broken.ID).IsOnline)
	assert.Len(t, f.logger.Errors(), 1)
}

func TestSweeper_HeartbeatWinsRace(t *testing.T) {
	f := newFixture(t)
	wb := f.board(t, "Board 1")
	ctx := context.Background()

	_, err := f.tracker.Heartbeat(ctx, wb.ID, SourceHTTP)
	require.NoError(t, err)

	// the sweeper has listed the board as stale when a heartbeat lands
	f.clock = t0.Add(20 * time.Second)
	cutoff := f.clock.Add(-f.conf.Presence.SweepCutoff)
	stale, err := f.repos.Whiteboards.QueryStaleOnline(ctx, cutoff)
	require.NoError(t, err)
	require.Len(t, stale, 1)

	_, err = f.tracker.Heartbeat(ctx, wb.ID, SourceHTTP)
	require.NoError(t, err)

	changed, err := f.tracker.expire(ctx, wb.ID, cutoff)
	require.NoError(t, err)
	assert.False(t, changed)

	got := f.reload(t, wb.ID)
	assert.True(t, got.IsOnline)
	rows := f.history(t, wb.ID)
	assert.True(t, rows[len(rows)-1].IsOnline)
}

func TestSweeper_ConcurrentHeartbeats(t *testing.T) {
	f := newFixture(t)
	wb := f.board(t, "Board 1")
	ctx := context.Background()
	sweeper := newSweeper(f)

	var clockMu sync.Mutex
	tick := 0
	f.tracker.now = func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		tick++
		return t0.Add(time.Duration(tick) * 10 * time.Second)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = f.tracker.Heartbeat(ctx, wb.ID, SourceHTTP)
		}()
		go func() {
			defer wg.Done()
			_, _ = sweeper.Tick(ctx, f.tracker.now())
		}()
	}
	wg.Wait()

	got := f.reload(t, wb.ID)
	rows := f.history(t, wb.ID)
	require.NotEmpty(t, rows)
	assert.Equal(t, rows[len(rows)-1].IsOnline, got.IsOnline)
	assert.Empty(t, f.logger.Errors())
}

func TestSweeper_StartStop(t *testing.T) {
	f := newFixture(t)
	wb := f.board(t, "Board 1")
	ctx := context.Background()

	_, err := f.tracker.Heartbeat(ctx, wb.ID, SourceHTTP)
	require.NoError(t, err)
	f.clock = t0.Add(time.Minute)

	f.conf.Presence.SweepInterval = 10 * time.Millisecond
	sweeper := newSweeper(f)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	assert.Eventually(t, func() bool {
		wb, err := f.repos.Whiteboards.GetWhiteboardByID(ctx, wb.ID)
		return err == nil && !wb.IsOnline
	}, time.Second, 10*time.Millisecond)

	sweeper.Stop()
	sweeper.Stop() // no-op once stopped
}
