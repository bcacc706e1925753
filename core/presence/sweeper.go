package presence

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/classboard/core"
	"github.com/trezcool/classboard/core/metrics"
)

// Sweeper periodically forces offline the boards still marked online whose heartbeat
// is older than the sweep cutoff. Ticks never overlap.
type Sweeper struct {
	tracker  *Tracker
	log      core.Logger
	interval time.Duration
	cutoff   time.Duration
	timeout  time.Duration

	tickMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSweeper(tracker *Tracker, logger core.Logger, conf *core.Config) *Sweeper {
	interval := conf.Presence.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	timeout := conf.Presence.SweepTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Sweeper{
		tracker:  tracker,
		log:      logger,
		interval: interval,
		cutoff:   conf.Presence.SweepCutoff,
		timeout:  timeout,
	}
}

// Start runs the sweeper loop in its own goroutine until ctx is done or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	ticker := time.NewTicker(s.interval)
	go func() {
		defer close(s.done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tickCtx, cancel := context.WithTimeout(ctx, s.timeout)
				n, err := s.Tick(tickCtx, s.tracker.now())
				cancel()
				if err != nil {
					s.log.Error("presence sweep failed", err)
					continue
				}
				if n > 0 {
					s.log.Info("presence sweep", map[string]interface{}{"expired": n})
				}
			}
		}
	}()
}

// Stop ends the loop and waits for a running tick to return.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Tick runs one sweep as of now and returns how many boards it forced offline.
// A failure on one board is logged and does not stop the others.
func (s *Sweeper) Tick(ctx context.Context, now time.Time) (int, error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	start := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	cutoff := now.UTC().Add(-s.cutoff)
	stale, err := s.tracker.repo.QueryStaleOnline(ctx, cutoff)
	if err != nil {
		metrics.SweepRunsTotal.WithLabelValues("error").Inc()
		return 0, errors.Wrap(err, "querying stale whiteboards")
	}

	var expired, failed int
	for _, wb := range stale {
		changed, err := s.tracker.expire(ctx, wb.ID, cutoff)
		if err != nil {
			failed++
			s.log.Error("expiring whiteboard", err, map[string]interface{}{"whiteboard_id": wb.ID})
			continue
		}
		if changed {
			expired++
		}
	}
	metrics.SweepExpiredTotal.Add(float64(expired))

	if failed > 0 {
		metrics.SweepRunsTotal.WithLabelValues("error").Inc()
		return expired, errors.Errorf("%d of %d whiteboards could not be expired", failed, len(stale))
	}
	metrics.SweepRunsTotal.WithLabelValues("ok").Inc()
	return expired, nil
}
