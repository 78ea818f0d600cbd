// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fiber

import (
	"context"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/kont"
)

// Canceler interrupts the fiber started by [RunCallback] on behalf of id,
// using [None] for an unspecified interruptor. onExit, if non-nil, receives
// the interrupted fiber's exit. The returned fiber performs the interruption.
type Canceler[A any] func(id FiberID, onExit func(Exit[A])) *Fiber[Exit[A]]

// RunCallback starts body as a root fiber, calls onExit with its exit if
// onExit is non-nil, and returns a function that cancels it.
func RunCallback[A any](r *Runtime, body kont.Expr[A], onExit func(Exit[A])) Canceler[A] {
	f := RunFork(r, body)
	if onExit != nil {
		f.AddObserver(onExit)
	}
	return func(id FiberID, onInterrupted func(Exit[A])) *Fiber[Exit[A]] {
		interrupter := RunFork(r, InterruptAs(f, id))
		if onInterrupted != nil {
			interrupter.AddObserver(func(e Exit[Exit[A]]) { onInterrupted(FlattenExit(e)) })
		}
		return interrupter
	}
}

// RunSync runs body on the calling goroutine and returns its value, or a
// [*FiberFailure] if it failed. If body is still suspended on external
// input once every ready step has run, RunSync returns an
// [*AsyncFiberError] instead of blocking.
func RunSync[A any](r *Runtime, body kont.Expr[A]) (A, error) {
	exit, err := runSync(r, body)
	if err != nil {
		var zero A
		return zero, err
	}
	return unwrapExit(exit)
}

// RunSyncExit is like [RunSync] but returns the exit itself. The only
// error it returns is [*AsyncFiberError].
func RunSyncExit[A any](r *Runtime, body kont.Expr[A]) (Exit[A], error) {
	exit, err := runSync(r, ExitOf(body))
	if err != nil {
		return Exit[A]{}, err
	}
	return FlattenExit(exit), nil
}

func runSync[A any](r *Runtime, body kont.Expr[A]) (Exit[A], error) {
	s := NewSyncScheduler()
	f := RunFork(r, body, WithScheduler(s))
	s.Flush()
	if exit, ok := f.Poll(); ok {
		return exit, nil
	}
	return Exit[A]{}, &AsyncFiberError{Fiber: f}
}

// Promise is the settled-once result of [RunPromise] or [RunPromiseExit].
type Promise[A any] struct {
	done  chan struct{}
	value A
	err   error
}

func newPromise[A any]() *Promise[A] {
	return &Promise[A]{done: make(chan struct{})}
}

func (p *Promise[A]) settle(value A, err error) {
	p.value, p.err = value, err
	close(p.done)
}

// Done is closed once the promise is settled.
func (p *Promise[A]) Done() <-chan struct{} {
	return p.done
}

// Result returns the settled value or error, or iox.ErrWouldBlock while
// the promise is pending.
func (p *Promise[A]) Result() (A, error) {
	select {
	case <-p.done:
		return p.value, p.err
	default:
		var zero A
		return zero, iox.ErrWouldBlock
	}
}

// Wait blocks until the promise settles or ctx is done.
func (p *Promise[A]) Wait(ctx context.Context) (A, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		var zero A
		return zero, ctx.Err()
	}
}

// RunPromise starts body as a root fiber. The promise resolves with its
// value or rejects with a [*FiberFailure].
func RunPromise[A any](r *Runtime, body kont.Expr[A]) *Promise[A] {
	p := newPromise[A]()
	RunFork(r, body).AddObserver(func(e Exit[A]) {
		p.settle(unwrapExit(e))
	})
	return p
}

// RunPromiseExit starts body as a root fiber. The promise resolves with
// its exit; it rejects with a [*FiberFailure] only when the fiber was
// interrupted before its exit could be captured.
func RunPromiseExit[A any](r *Runtime, body kont.Expr[A]) *Promise[Exit[A]] {
	p := newPromise[Exit[A]]()
	RunFork(r, ExitOf(body)).AddObserver(func(e Exit[Exit[A]]) {
		p.settle(unwrapExit(e))
	})
	return p
}
