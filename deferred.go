// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fiber

import (
	"errors"
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/kont"
)

// ErrDeferredDone reports a completion attempt on a deferred that is
// already done.
var ErrDeferredDone = errors.New("fiber: deferred already completed")

// Deferred is a write-once cell. It starts pending and completes exactly
// once with an [Exit]; fibers awaiting it are released in registration
// order, and later awaits see the stored exit immediately.
type Deferred[A any] struct {
	done    atomix.Uint32
	mu      sync.Mutex
	exit    Exit[A]
	waiters []func(Exit[A])
}

// NewDeferred returns a pending deferred.
func NewDeferred[A any]() *Deferred[A] {
	return &Deferred[A]{}
}

// Complete stores exit and releases the waiters. It reports false, leaving
// the stored exit unchanged, when d is already done.
func (d *Deferred[A]) Complete(exit Exit[A]) bool {
	d.mu.Lock()
	if d.done.Load() != 0 {
		d.mu.Unlock()
		return false
	}
	d.exit = exit
	d.done.Store(1)
	waiters := d.waiters
	d.waiters = nil
	d.mu.Unlock()
	for _, w := range waiters {
		w(exit)
	}
	return true
}

// Succeed completes d with a.
func (d *Deferred[A]) Succeed(a A) bool {
	return d.Complete(ExitSucceed(a))
}

// Fail completes d with the typed failure err.
func (d *Deferred[A]) Fail(err any) bool {
	return d.Complete(ExitFail[A](err))
}

// FailCause completes d with cause.
func (d *Deferred[A]) FailCause(cause Cause) bool {
	return d.Complete(ExitFailCause[A](cause))
}

// Poll returns the stored exit once d is done.
func (d *Deferred[A]) Poll() (Exit[A], bool) {
	if d.done.Load() == 0 {
		return Exit[A]{}, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.exit, true
}

// TryAwait returns the stored value, a [*FiberFailure] when d failed, or
// iox.ErrWouldBlock while d is pending.
func (d *Deferred[A]) TryAwait() (A, error) {
	e, ok := d.Poll()
	if !ok {
		var zero A
		return zero, iox.ErrWouldBlock
	}
	return unwrapExit(e)
}

// observe calls w with the exit once d is done; immediately if it already is.
func (d *Deferred[A]) observe(w func(Exit[A])) {
	d.mu.Lock()
	if d.done.Load() != 0 {
		exit := d.exit
		d.mu.Unlock()
		w(exit)
		return
	}
	d.waiters = append(d.waiters, w)
	d.mu.Unlock()
}

// MakeDeferred creates a pending deferred inside a computation.
func MakeDeferred[A any]() kont.Expr[*Deferred[A]] {
	return Sync(NewDeferred[A])
}

// DeferredAwait suspends until d is done and completes with its exit.
func DeferredAwait[A any](d *Deferred[A]) kont.Expr[Exit[A]] {
	return kont.ExprPerform(parkOp[Exit[A]]{register: func(_ *fiberRuntime, wake func(kont.Erased, Cause)) {
		d.observe(func(e Exit[A]) { wake(e, nil) })
	}})
}

// DeferredJoin suspends until d is done and succeeds or fails as d did.
func DeferredJoin[A any](d *Deferred[A]) kont.Expr[A] {
	return kont.ExprBind(DeferredAwait(d), FromExit[A])
}

// DeferredComplete completes d with exit and reports whether this call won.
func DeferredComplete[A any](d *Deferred[A], exit Exit[A]) kont.Expr[bool] {
	return Sync(func() bool { return d.Complete(exit) })
}
