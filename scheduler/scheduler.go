package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"transitmon.dev/transitmon/metrics"
)

const (
	DefaultTickInterval = 1 * time.Second
	DefaultMaxWorkers   = 8
)

// TaskFunc runs one occurrence of a job. Errors are logged and
// counted, never fatal: the job stays scheduled.
type TaskFunc func(ctx context.Context, args json.RawMessage) error

type Scheduler struct {
	Store        Store
	Logger       *slog.Logger
	TickInterval time.Duration
	MaxWorkers   int
	Location     *time.Location

	// Overridable in tests.
	Now func() time.Time

	tasks map[string]TaskFunc
}

func New(store Store, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		Store:        store,
		Logger:       logger,
		TickInterval: DefaultTickInterval,
		MaxWorkers:   DefaultMaxWorkers,
		Location:     time.UTC,
		Now:          time.Now,
		tasks:        map[string]TaskFunc{},
	}
}

// Register binds a task name to its implementation. Jobs referring to
// unregistered names are skipped with a warning at dispatch time.
func (s *Scheduler) Register(name string, fn TaskFunc) {
	s.tasks[name] = fn
}

// Run ticks until ctx is canceled. Each tick walks every job's trigger
// occurrences since the persisted checkpoint: occurrences older than
// the job's misfire grace are skipped, the rest are dispatched to
// worker goroutines. The checkpoint advances only after a tick has
// been fully processed, so occurrences missed during downtime are
// recovered on restart (subject to grace).
func (s *Scheduler) Run(ctx context.Context) error {
	jobs, err := s.Store.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("loading jobs: %w", err)
	}
	s.Logger.Info("scheduler starting", "jobs", len(jobs), "tick", s.TickInterval)

	lastTick, err := s.Store.Checkpoint(ctx)
	if err != nil {
		return fmt.Errorf("loading checkpoint: %w", err)
	}
	if lastTick.IsZero() {
		lastTick = s.Now()
		if err := s.Store.SetCheckpoint(ctx, lastTick); err != nil {
			return fmt.Errorf("initializing checkpoint: %w", err)
		}
	}

	group, groupCtx := errgroup.WithContext(context.WithoutCancel(ctx))
	group.SetLimit(s.MaxWorkers)

	ticker := time.NewTicker(s.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Let in-flight tasks finish.
			if err := group.Wait(); err != nil {
				return err
			}
			return ctx.Err()
		case <-ticker.C:
			now := s.Now()
			if err := s.ProcessTick(groupCtx, group, jobs, lastTick, now); err != nil {
				return err
			}
			lastTick = now
		}
	}
}

// ProcessTick handles the (lastTick, now] window for all jobs. Exposed
// so tests can drive the scheduler without real time.
func (s *Scheduler) ProcessTick(ctx context.Context, group *errgroup.Group, jobs []Job, lastTick, now time.Time) error {
	for _, job := range jobs {
		for t := job.Trigger.Next(lastTick, s.Location); !t.IsZero() && !t.After(now); t = job.Trigger.Next(t, s.Location) {
			if job.MisfireGrace > 0 && now.Sub(t) > job.MisfireGrace {
				s.Logger.Warn("job misfired",
					"job", job.ID,
					"due", t,
					"late", now.Sub(t))
				metrics.JobsMisfired.Inc()
				continue
			}
			s.dispatch(ctx, group, job, t)
		}
	}

	if err := s.Store.SetCheckpoint(ctx, now); err != nil {
		return fmt.Errorf("advancing checkpoint: %w", err)
	}
	return nil
}

func (s *Scheduler) dispatch(ctx context.Context, group *errgroup.Group, job Job, due time.Time) {
	fn, found := s.tasks[job.Task]
	if !found {
		s.Logger.Warn("job refers to unregistered task", "job", job.ID, "task", job.Task)
		return
	}

	execution := uuid.NewString()
	metrics.JobsFired.Inc()

	group.Go(func() error {
		logger := s.Logger.With("job", job.ID, "task", job.Task, "execution", execution)

		defer func() {
			if r := recover(); r != nil {
				logger.Error("task panicked", "panic", r)
				metrics.JobErrors.Inc()
			}
		}()

		started := s.Now()
		logger.Debug("task starting", "due", due)
		if err := fn(ctx, job.Args); err != nil {
			logger.Error("task failed", "error", err, "duration", s.Now().Sub(started))
			metrics.JobErrors.Inc()
			return nil
		}
		logger.Debug("task finished", "duration", s.Now().Sub(started))
		return nil
	})
}
