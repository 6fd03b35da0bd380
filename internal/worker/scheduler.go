// Package worker runs the per-transaction background tasks: confirmation
// reconciliation and withdrawal dispatch. Tasks are delivered at least
// once with a bounded number of redeliveries and a fixed delay between
// them; each task must therefore be safe to re-run at any point.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RetryPolicy is the immutable retry budget of one scheduled task: at most
// MaxAttempts invocations, Delay apart.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// Task is one unit of at-least-once background work. Invoke is called with
// a 1-based attempt counter and reports whether the task wants to run again
// after the policy delay. Returning false stops redelivery.
type Task interface {
	Name() string
	Invoke(ctx context.Context, attempt int) bool
}

// Scheduler runs tasks on their own goroutines. Rescheduling is a timer
// wait, not a blocking sleep on shared workers; shutdown cancels the shared
// context and drains in-flight tasks.
type Scheduler struct {
	logger zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(logger zerolog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Schedule starts task under policy. The first attempt runs immediately.
func (s *Scheduler) Schedule(task Task, policy RetryPolicy) {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(task, policy)
	}()
}

func (s *Scheduler) run(task Task, policy RetryPolicy) {
	for attempt := 1; ; attempt++ {
		retry := s.invoke(task, attempt)
		if !retry {
			return
		}

		if attempt >= policy.MaxAttempts {
			// The task wanted another attempt after its final one. Tasks
			// terminate their transaction before this point; reaching it
			// means operator follow-up is needed.
			s.logger.Error().
				Str("task", task.Name()).
				Int("attempts", attempt).
				Bool("alert", true).
				Msg("Task exhausted redelivery budget without resolving")
			return
		}

		select {
		case <-time.After(policy.Delay):
		case <-s.ctx.Done():
			s.logger.Info().Str("task", task.Name()).Msg("Scheduler shutting down, dropping task")
			return
		}
	}
}

func (s *Scheduler) invoke(task Task, attempt int) (retry bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("task", task.Name()).
				Int("attempt", attempt).
				Interface("panic", r).
				Msg("Task panicked")
			retry = true
		}
	}()
	return task.Invoke(s.ctx, attempt)
}

// Shutdown stops redelivery and waits for in-flight invocations.
func (s *Scheduler) Shutdown() {
	s.cancel()
	s.wg.Wait()
}
