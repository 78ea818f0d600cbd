// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fiber

import (
	"log/slog"
	"runtime/debug"
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
)

// Scheduler decides when a fiber's next execution step runs.
// Schedule must not block and must be safe for concurrent use.
type Scheduler interface {
	Schedule(task func())
}

// DefaultScheduler is the process-wide asynchronous scheduler.
var DefaultScheduler = NewAsyncScheduler()

// AsyncScheduler runs tasks on a drain goroutine started on demand.
//
// Tasks run one at a time in FIFO order, so fibers sharing the scheduler
// interleave cooperatively at their yield and suspension points.
// The drain goroutine exits when the queue is empty; the next Schedule
// starts a new one.
type AsyncScheduler struct {
	queue   *mpscQueue[func()]
	running atomix.Uint32
}

// NewAsyncScheduler returns an idle asynchronous scheduler.
func NewAsyncScheduler() *AsyncScheduler {
	return &AsyncScheduler{queue: newMPSCQueue[func()]()}
}

// Schedule enqueues task and returns immediately.
func (s *AsyncScheduler) Schedule(task func()) {
	s.queue.Push(task)
	if s.running.CompareAndSwap(0, 1) {
		go s.drain()
	}
}

// Pending returns the number of tasks waiting to run.
func (s *AsyncScheduler) Pending() int {
	return s.queue.Len()
}

// drain runs queued tasks while holding the running flag.
// After releasing the flag it re-checks the queue so that a task pushed
// concurrently with the release is never stranded. A producer that has
// counted its task but not yet enqueued it is waited out with backoff.
func (s *AsyncScheduler) drain() {
	var bo iox.Backoff
	for {
		ran := false
		for {
			task, ok := s.queue.Pop()
			if !ok {
				break
			}
			ran = true
			runTask(task)
		}
		if ran {
			bo.Reset()
		} else if s.queue.Len() > 0 {
			bo.Wait()
			continue
		}
		s.running.Store(0)
		if s.queue.Len() == 0 || !s.running.CompareAndSwap(0, 1) {
			return
		}
	}
}

// SyncScheduler queues tasks until Flush drains them on the calling goroutine.
//
// Tasks scheduled while Flush runs are executed by the same Flush.
// Once Flush has returned the scheduler is deferred: later tasks, such as
// the resumption of a fiber woken by an external callback, are forwarded
// to the fallback scheduler.
type SyncScheduler struct {
	mu       sync.Mutex
	tasks    []func()
	deferred bool
	fallback Scheduler
}

// NewSyncScheduler returns a synchronous scheduler that falls back to
// [DefaultScheduler] after its flush.
func NewSyncScheduler() *SyncScheduler {
	return &SyncScheduler{fallback: DefaultScheduler}
}

// Schedule queues task, or forwards it to the fallback once deferred.
func (s *SyncScheduler) Schedule(task func()) {
	s.mu.Lock()
	if s.deferred {
		s.mu.Unlock()
		s.fallback.Schedule(task)
		return
	}
	s.tasks = append(s.tasks, task)
	s.mu.Unlock()
}

// Flush runs queued tasks until none remain, then marks the scheduler deferred.
func (s *SyncScheduler) Flush() {
	for {
		s.runPending()
		s.mu.Lock()
		if len(s.tasks) == 0 {
			s.deferred = true
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
	}
}

// runPending runs the tasks queued so far and reports whether there were any.
func (s *SyncScheduler) runPending() bool {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = nil
	s.mu.Unlock()
	for _, task := range tasks {
		runTask(task)
	}
	return len(tasks) > 0
}

// runTask isolates the scheduler from a panicking task.
// Fiber steps recover their own panics; this only guards foreign tasks.
func runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Default().Error("fiber: scheduled task panicked",
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	task()
}
