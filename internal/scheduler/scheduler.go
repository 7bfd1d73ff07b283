package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/jmehdipour/clinic-recall/internal/metrics"
)

// Job is one scheduler tick. A returned error is logged; the loop keeps going.
type Job func(ctx context.Context) error

// Locker serializes ticks of the same job across processes.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// Scheduler runs a Job on a cron cadence, once immediately on Start, and
// whenever TriggerNow is called.
type Scheduler struct {
	name  string
	sched cron.Schedule
	job   Job

	clock   Clock
	locker  Locker
	lockTTL time.Duration
	log     *zap.Logger

	running atomic.Bool
	trigger chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Scheduler)

func WithClock(c Clock) Option { return func(s *Scheduler) { s.clock = c } }

func WithLogger(l *zap.Logger) Option { return func(s *Scheduler) { s.log = l } }

// WithLocker makes each tick take a lease of ttl before running the job.
func WithLocker(l Locker, ttl time.Duration) Option {
	return func(s *Scheduler) {
		s.locker = l
		s.lockTTL = ttl
	}
}

// New parses spec with the standard cron parser, which accepts five-field
// expressions as well as descriptors such as "@every 30s" and "@hourly".
func New(name, spec string, job Job, opts ...Option) (*Scheduler, error) {
	if job == nil {
		return nil, errors.New("job must not be nil")
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("scheduler %s: parse %q: %w", name, spec, err)
	}
	s := &Scheduler{
		name:    name,
		sched:   sched,
		job:     job,
		clock:   RealClock,
		log:     zap.NewNop(),
		trigger: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.Named("scheduler").With(zap.String("job", name))
	if s.locker != nil && s.lockTTL <= 0 {
		s.lockTTL = time.Minute
	}
	return s, nil
}

func (s *Scheduler) Name() string { return s.name }

// Next is the first fire time after t.
func (s *Scheduler) Next(t time.Time) time.Time { return s.sched.Next(t) }

func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go func() {
		defer close(s.done)

		s.log.Info("scheduler started")
		s.safeTick(ctx)

		for {
			now := s.clock.Now()
			wait := s.sched.Next(now).Sub(now)
			select {
			case <-ctx.Done():
				s.log.Info("scheduler stopping")
				return
			case <-s.clock.After(wait):
				s.safeTick(ctx)
			case <-s.trigger:
				s.safeTick(ctx)
			}
		}
	}()

	return true
}

// Stop cancels the loop and waits for an in-flight tick to return.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}

	s.cancel()
	<-s.done
	s.running.Store(false)

	s.log.Info("scheduler stopped")
	return true
}

func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

// TriggerNow asks the loop for an extra tick. It never blocks; a trigger
// that arrives while one is already queued is coalesced.
func (s *Scheduler) TriggerNow() bool {
	if !s.running.Load() {
		return false
	}
	select {
	case s.trigger <- struct{}{}:
	default:
	}
	return true
}

func (s *Scheduler) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduler tick panic recovered", zap.Any("panic", r))
		}
	}()

	if s.locker != nil {
		release, ok, err := s.locker.TryLock(ctx, "recall:lock:"+s.name, s.lockTTL)
		if err != nil {
			s.log.Warn("scheduler lock failed", zap.Error(err))
			return
		}
		if !ok {
			s.log.Debug("tick skipped, lease held elsewhere")
			return
		}
		defer release()
	}

	start := time.Now()
	err := s.job(ctx)
	elapsed := time.Since(start)
	metrics.SchedulerTick.WithLabelValues(s.name).Observe(elapsed.Seconds())
	if err != nil {
		s.log.Error("scheduler tick failed", zap.Error(err), zap.Duration("duration", elapsed))
		return
	}
	s.log.Debug("scheduler tick completed", zap.Duration("duration", elapsed))
}
