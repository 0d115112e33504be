package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/SorenWeile/comfyui-gallery/internal/events"
	"github.com/SorenWeile/comfyui-gallery/internal/logging"
	"github.com/SorenWeile/comfyui-gallery/internal/retry"
	"github.com/SorenWeile/comfyui-gallery/internal/store"
)

// maxFollowUps bounds how many extra passes one trigger may run for
// requests that arrived while a pass was in progress.
const maxFollowUps = 3

// Invalidator is implemented by caches that depend on the directory layout.
type Invalidator interface {
	Invalidate()
}

// Publisher receives a notification after every successful pass.
type Publisher interface {
	Publish(events.Event)
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	// Interval between periodic passes; zero disables them.
	Interval time.Duration
	// Watch enables fsnotify-triggered passes.
	Watch    bool
	Debounce time.Duration
	Retry    retry.Config
	Cache    Invalidator
	Events   Publisher
}

// Scheduler serializes every reconciliation trigger for one root: startup,
// the periodic ticker, file system events and explicit refresh requests. At
// most one pass runs at a time and concurrent callers share its result.
type Scheduler struct {
	rec  *Reconciler
	root string
	opts SchedulerOptions

	group   singleflight.Group
	pending atomic.Bool
	last    atomic.Pointer[Result]

	// requests counts Trigger calls; served is the requests value observed
	// just before the latest successful pass started.
	requests atomic.Uint64
	served   atomic.Uint64

	wg sync.WaitGroup
}

// NewScheduler creates a scheduler running rec against root.
func NewScheduler(rec *Reconciler, root string, opts SchedulerOptions) *Scheduler {
	if opts.Retry.MaxAttempts == 0 && opts.Retry.InitialWait == 0 {
		opts.Retry = retry.DefaultConfig()
	}
	if opts.Retry.Retryable == nil {
		opts.Retry.Retryable = retry.On(store.ErrStoreBusy)
	}
	return &Scheduler{rec: rec, root: root, opts: opts}
}

// Trigger requests a pass and waits for the result. If a pass is already
// running the request is folded into a follow-up pass of the same flight.
// The returned result always comes from a pass that started after the call.
func (s *Scheduler) Trigger(ctx context.Context, reason string) (*Result, error) {
	want := s.requests.Add(1)
	s.pending.Store(true)

	for {
		ch := s.group.DoChan("reconcile", func() (any, error) {
			return s.drain(context.WithoutCancel(ctx), reason)
		})

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case r := <-ch:
			if r.Err != nil {
				return nil, r.Err
			}
			if s.served.Load() >= want {
				return r.Val.(*Result), nil
			}
			// Joined a flight that was already finishing.
			reason = "follow-up"
		}
	}
}

// Last returns the result of the most recent successful pass, or nil.
func (s *Scheduler) Last() *Result {
	return s.last.Load()
}

func (s *Scheduler) drain(ctx context.Context, reason string) (*Result, error) {
	var res *Result
	for i := 0; i <= maxFollowUps && s.pending.Swap(false); i++ {
		gen := s.requests.Load()
		r, err := s.runOnce(ctx, reason)
		if err != nil {
			return nil, err
		}
		s.served.Store(gen)
		res = r
		reason = "follow-up"
	}
	if res == nil {
		res = s.current()
	}
	return res, nil
}

func (s *Scheduler) current() *Result {
	if r := s.last.Load(); r != nil {
		return r
	}
	return &Result{}
}

func (s *Scheduler) runOnce(ctx context.Context, reason string) (*Result, error) {
	cfg := s.opts.Retry
	cfg.OnRetry = func(attempt int, wait time.Duration, err error) {
		logging.Warn("store busy, retrying reconciliation",
			zap.String("reason", reason),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait))
	}

	res, err := retry.DoWithResult(ctx, cfg, func() (*Result, error) {
		return s.rec.Reconcile(ctx, s.root)
	})
	if err != nil {
		logging.Error("reconciliation failed", zap.String("reason", reason), zap.Error(err))
		return nil, err
	}

	s.last.Store(res)
	if s.opts.Cache != nil && (res.Added > 0 || res.Deleted > 0) {
		s.opts.Cache.Invalidate()
	}
	if s.opts.Events != nil {
		s.opts.Events.Publish(events.Sync(res.Added, res.Updated, res.Deleted))
	}
	logging.Debug("reconciliation trigger served", zap.String("reason", reason))
	return res, nil
}

// Run performs the startup pass and then serves periodic and watch
// triggers until ctx is cancelled. A failing startup pass is logged, not
// returned, so a temporarily missing root does not stop the server.
func (s *Scheduler) Run(ctx context.Context) error {
	if _, err := s.Trigger(ctx, "startup"); err != nil && !errors.Is(err, context.Canceled) {
		logging.Warn("initial reconciliation failed", zap.Error(err))
	}

	if s.opts.Watch {
		w, err := NewWatcher(s.root, s.rec.opts, s.opts.Debounce, func() {
			s.background(ctx, "watch")
		})
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			logging.Warn("file watching disabled", zap.Error(err))
			_ = w.Stop()
		} else {
			defer w.Stop()
			logging.Info("watching gallery root", zap.String("root", s.root))
		}
	}

	var tick <-chan time.Time
	if s.opts.Interval > 0 {
		ticker := time.NewTicker(s.opts.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			// Joining the flight waits for a pass still in progress.
			s.group.Do("reconcile", func() (any, error) {
				return s.current(), nil
			})
			return nil
		case <-tick:
			s.background(ctx, "interval")
		}
	}
}

// background starts a pass without waiting for it.
func (s *Scheduler) background(ctx context.Context, reason string) {
	if ctx.Err() != nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, _ = s.Trigger(ctx, reason)
	}()
}
