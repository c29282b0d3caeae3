// Package scheduler drives the tracker's periodic jobs: refreshes,
// health checks, cache pruning, the backup poll, portfolio auto-sync,
// and the daily UTC-scheduled jobs.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"
)

// shutdownGrace bounds how long Stop waits for running jobs.
const shutdownGrace = 10 * time.Second

// Job is one scheduled unit of work.
type Job func(ctx context.Context)

type task struct {
	name   string
	cancel context.CancelFunc
}

// Scheduler runs interval and daily jobs, each independently cancellable.
type Scheduler struct {
	logger *log.Logger
	now    func() time.Time

	mu    sync.Mutex
	tasks []task
	wg    sync.WaitGroup
	root  context.Context
	stop  context.CancelFunc
}

// New creates a scheduler. Jobs start running as they are added.
func New(logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	root, stop := context.WithCancel(context.Background())
	return &Scheduler{
		logger: logger,
		now:    time.Now,
		root:   root,
		stop:   stop,
	}
}

// Every schedules job at a fixed interval. The first run happens after
// one interval, not immediately.
func (s *Scheduler) Every(name string, interval time.Duration, job Job) {
	ctx, cancel := context.WithCancel(s.root)
	s.register(name, cancel)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.run(ctx, name, job)
			}
		}
	}()
}

// Daily schedules job at the given UTC wall-clock time, once per day.
func (s *Scheduler) Daily(name string, hour, minute int, job Job) {
	ctx, cancel := context.WithCancel(s.root)
	s.register(name, cancel)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			wait := untilNext(s.now().UTC(), hour, minute)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
				s.run(ctx, name, job)
			}
		}
	}()
}

// Cancel stops one named job; the rest keep running.
func (s *Scheduler) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.tasks {
		if t.name == name {
			t.cancel()
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
			return
		}
	}
}

// Stop cancels every job and waits up to the shutdown grace period.
// Returns false if jobs were still running when the grace expired.
func (s *Scheduler) Stop() bool {
	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(shutdownGrace):
		s.logger.Printf("[scheduler] forced shutdown after %s", shutdownGrace)
		return false
	}
}

func (s *Scheduler) register(name string, cancel context.CancelFunc) {
	s.mu.Lock()
	s.tasks = append(s.tasks, task{name: name, cancel: cancel})
	s.mu.Unlock()
}

func (s *Scheduler) run(ctx context.Context, name string, job Job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Printf("[scheduler] job %s panicked: %v", name, r)
		}
	}()
	job(ctx)
}

// untilNext returns the duration until the next UTC hh:mm, at least one
// second in the future so a just-fired job does not refire.
func untilNext(now time.Time, hour, minute int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
	if !next.After(now.Add(time.Second)) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}
