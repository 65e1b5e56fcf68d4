package service

import (
	"context"
	"sync"
)

// RunScheduler executes begun generation runs outside the request that
// started them. Schedule does not block on the run.
type RunScheduler interface {
	Schedule(run *GenerationRun) error
	Shutdown()
}

// LocalScheduler runs each generation on its own goroutine.
type LocalScheduler struct {
	ctx context.Context
	wg  sync.WaitGroup
}

// NewLocalScheduler executes runs under ctx; cancel it to stop them.
func NewLocalScheduler(ctx context.Context) *LocalScheduler {
	return &LocalScheduler{ctx: ctx}
}

func (l *LocalScheduler) Schedule(run *GenerationRun) error {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		// failures are already recorded on the session
		_, _ = run.Execute(l.ctx)
	}()
	return nil
}

// Wait blocks until every scheduled run has returned.
func (l *LocalScheduler) Wait() {
	l.wg.Wait()
}

func (l *LocalScheduler) Shutdown() {
	l.Wait()
}
