package pipeline

import (
	"context"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// TaskGroup runs the goroutines that belong to one run. Tasks share the
// run context; Wait blocks until all of them have returned. A panicking
// task is logged and does not take its siblings down.
type TaskGroup struct {
	ctx   context.Context
	runID string
	group errgroup.Group
}

func NewTaskGroup(ctx context.Context, runID string) *TaskGroup {
	return &TaskGroup{ctx: ctx, runID: runID}
}

// Go starts fn unless the group context is already done.
func (g *TaskGroup) Go(name string, fn func(ctx context.Context)) bool {
	if g.ctx.Err() != nil {
		log.Debug().Str("component", "pipeline").Str("run_id", g.runID).Str("task", name).Msg("run finished, task not started")
		return false
	}
	g.group.Go(func() error {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("component", "pipeline").Str("run_id", g.runID).Str("task", name).Interface("panic", r).Msg("run task panicked")
			}
		}()
		fn(g.ctx)
		return nil
	})
	return true
}

func (g *TaskGroup) Wait() {
	_ = g.group.Wait()
}
