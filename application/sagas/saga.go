// Package sagas coordinates writes that span several stores with no
// shared transaction. A saga runs its steps in order; when one fails,
// the undo hooks of the steps already completed run in reverse so the
// stores converge back toward their prior state.
package sagas

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Step is one stage of a saga. Run must tolerate repetition when
// Attempts is above one. Undo is optional and runs only when a later
// step fails.
type Step struct {
	Name       string
	Run        func(ctx context.Context) error
	Undo       func(ctx context.Context) error
	Attempts   int
	RetryDelay time.Duration
}

// Saga executes steps in a fixed order and unwinds completed steps
// when a later one fails.
type Saga struct {
	name   string
	steps  []Step
	logger *zap.Logger
}

// New creates an empty saga
func New(name string, logger *zap.Logger) *Saga {
	return &Saga{name: name, logger: logger}
}

// Then appends a step
func (s *Saga) Then(step Step) *Saga {
	s.steps = append(s.steps, step)
	return s
}

// Execute runs the steps in order. On failure the undo hooks of the
// completed steps run in reverse, detached from the caller's
// cancellation so an aborted request still unwinds.
func (s *Saga) Execute(ctx context.Context) error {
	for i, step := range s.steps {
		if err := s.runStep(ctx, step); err != nil {
			s.logger.Error("saga step failed",
				zap.String("saga", s.name),
				zap.String("step", step.Name),
				zap.Int("completedSteps", i),
				zap.Error(err))
			s.unwind(ctx, i)
			return fmt.Errorf("saga %s failed at step %s: %w", s.name, step.Name, err)
		}
	}
	return nil
}

func (s *Saga) runStep(ctx context.Context, step Step) error {
	attempts := step.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			s.logger.Debug("retrying saga step",
				zap.String("saga", s.name),
				zap.String("step", step.Name),
				zap.Int("attempt", attempt))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(step.RetryDelay):
			}
		}
		if lastErr = step.Run(ctx); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

// unwind runs the undo hooks of the first completed steps in reverse
// order. A failed undo is logged and skipped; the remaining hooks
// still run.
func (s *Saga) unwind(ctx context.Context, completed int) {
	undoCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	for i := completed - 1; i >= 0; i-- {
		step := s.steps[i]
		if step.Undo == nil {
			continue
		}
		if err := step.Undo(undoCtx); err != nil {
			s.logger.Error("saga undo failed",
				zap.String("saga", s.name),
				zap.String("step", step.Name),
				zap.Error(err))
			continue
		}
		s.logger.Debug("saga step undone",
			zap.String("saga", s.name),
			zap.String("step", step.Name))
	}
}
