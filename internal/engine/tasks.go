package engine

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Task is an independently schedulable unit of the engine: the scoring loop
// and the retrain loop each run as one. Tasks share no locks; the only
// cross-task interaction is the model manager's atomic promotion.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// taskRunner starts tasks and waits for them on shutdown. Each task runs
// inside a recover so a panicking task cannot take the process down with it.
type taskRunner struct {
	logger zerolog.Logger
	wg     sync.WaitGroup
}

func newTaskRunner(logger zerolog.Logger) *taskRunner {
	return &taskRunner{
		logger: logger.With().Str("component", "task_runner").Logger(),
	}
}

// StartAll launches every task in its own goroutine.
func (r *taskRunner) StartAll(ctx context.Context, tasks []Task) {
	for _, task := range tasks {
		task := task
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error().
						Str("task", task.Name).
						Interface("panic", rec).
						Msg("TASK PANIC — task stopped, engine still running")
				}
			}()

			r.logger.Info().Str("task", task.Name).Msg("task started")
			if err := task.Run(ctx); err != nil {
				r.logger.Error().Err(err).Str("task", task.Name).Msg("task exited with error")
				return
			}
			r.logger.Info().Str("task", task.Name).Msg("task stopped")
		}()
	}
}

// Wait blocks until all tasks have returned.
func (r *taskRunner) Wait() {
	r.wg.Wait()
}
