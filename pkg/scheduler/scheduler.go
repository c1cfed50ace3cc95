// Package scheduler multiplexes many cooperative tasks over a fixed pool of worker goroutines.
//
// A task runs one bounded step at a time. After each step the worker puts the task back at the
// tail of the run queue: that re-enqueue is the yield point which lets every other task make
// progress before the same task runs again.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/eapache/queue"
	"go.uber.org/zap"
)

// Returned by Spawn and Stop once the scheduler is stopping.
var ErrStopped = errors.New("scheduler stopped")

// A cooperatively scheduled unit of work.
type Task interface {
	// Run one bounded iteration. Return false once the task has completed.
	// ctx is cancelled when the scheduler starts stopping.
	Step(ctx context.Context) bool
	// Called instead of further steps when the task panics or the scheduler gives up on it.
	// Abort must release the task resources and must not block.
	Abort(err error)
}

// Fixed pool of workers sharing one FIFO run queue.
type Scheduler struct {
	mu   sync.Mutex
	cond *sync.Cond
	// Runnable tasks
	runQueue *queue.Queue
	// Number of tasks alive, queued or running
	active int
	// Set when Stop is called, no more tasks accepted
	stopping bool
	// Set when workers must exit
	terminated bool
	// Closed when active drops to 0 while stopping
	drained     chan struct{}
	drainClosed bool
	// Context given to task steps, cancelled by Stop
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.Logger
}

// # Description
//
// Create a scheduler and start its workers.
//
// # Inputs
//
//   - workers: Number of worker goroutines. Values below 1 are raised to 1.
//   - logger: Logger used to report aborted tasks. A Nop logger is used if nil.
//
// # Returns
//
// The running scheduler.
func New(workers int, logger *zap.Logger) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		runQueue: queue.New(),
		drained:  make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
	}
	s.cond = sync.NewCond(&s.mu)
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.work()
	}
	return s
}

// Spawn adds a task at the tail of the run queue.
func (s *Scheduler) Spawn(task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return ErrStopped
	}
	s.active++
	s.runQueue.Add(task)
	s.cond.Signal()
	return nil
}

// Len returns the number of tasks alive.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// # Description
//
// Stop the scheduler. The step context is cancelled so tasks can wind down by themselves, then
// Stop waits until every task has completed or ctx is done. Tasks still alive at that point are
// aborted with ErrStopped. Stop returns once all workers have exited.
//
// # Returns
//
// Nil if all tasks completed, ctx.Err() if some had to be aborted, ErrStopped if Stop was
// already called.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return ErrStopped
	}
	s.stopping = true
	s.closeDrainedLocked()
	s.mu.Unlock()
	s.cancel()
	var result error
	select {
	case <-s.drained:
	case <-ctx.Done():
		result = ctx.Err()
	}
	// Terminate workers and abort whatever is still queued
	s.mu.Lock()
	s.terminated = true
	leftovers := []Task{}
	for s.runQueue.Length() > 0 {
		leftovers = append(leftovers, s.runQueue.Remove().(Task))
		s.active--
	}
	s.cond.Broadcast()
	s.mu.Unlock()
	for _, task := range leftovers {
		s.abort(task, ErrStopped)
	}
	s.wg.Wait()
	return result
}

func (s *Scheduler) work() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		for s.runQueue.Length() == 0 && !s.terminated {
			s.cond.Wait()
		}
		if s.terminated {
			s.mu.Unlock()
			return
		}
		task := s.runQueue.Remove().(Task)
		s.mu.Unlock()

		again := s.step(task)

		s.mu.Lock()
		requeue := again && !s.terminated
		if requeue {
			s.runQueue.Add(task)
			s.cond.Signal()
		} else {
			s.active--
			s.closeDrainedLocked()
		}
		s.mu.Unlock()
		if again && !requeue {
			s.abort(task, ErrStopped)
		}
	}
}

// Run one step, aborting the task if it panics.
func (s *Scheduler) step(task Task) (again bool) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("task panicked: %v", r)
			s.logger.Error("task panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			s.abort(task, err)
			again = false
		}
	}()
	return task.Step(s.ctx)
}

func (s *Scheduler) abort(task Task, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task abort panicked", zap.Any("panic", r))
		}
	}()
	task.Abort(err)
}

func (s *Scheduler) closeDrainedLocked() {
	if s.stopping && s.active == 0 && !s.drainClosed {
		s.drainClosed = true
		close(s.drained)
	}
}
