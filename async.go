// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fiber

import (
	"time"

	"code.hybscloud.com/kont"
)

// Async bridges a callback-style registration into the fiber.
//
// register receives a callback; the first computation passed to it is run
// on the current runtime and its exit becomes the result of Async. The
// registration itself runs as a child fiber begun uninterruptibly, so it
// cannot be abandoned halfway, and a failure or defect raised while
// registering fails the bridge. The wait for the callback is interruptible.
func Async[A, X any](register func(callback func(kont.Expr[A])) kont.Expr[X]) kont.Expr[A] {
	return kont.ExprBind(MakeDeferred[A](), func(d *Deferred[A]) kont.Expr[A] {
		return kont.ExprBind(CurrentRuntime(), func(r *Runtime) kont.Expr[A] {
			callback := func(body kont.Expr[A]) {
				RunCallback(r, intoDeferred(body, d), nil)
			}
			return UninterruptibleMask(func(m Mask) kont.Expr[A] {
				registration := CatchAllCause(
					Suspend(func() kont.Expr[struct{}] {
						return kont.ExprThen(register(callback), Unit())
					}),
					func(c Cause) kont.Expr[struct{}] {
						return kont.ExprThen(DeferredComplete(d, ExitFailCause[A](c)), Unit())
					},
				)
				return kont.ExprThen(Fork(Restore(m, registration)), Restore(m, DeferredJoin(d)))
			})
		})
	})
}

// intoDeferred runs body and completes d with its exit.
func intoDeferred[A any](body kont.Expr[A], d *Deferred[A]) kont.Expr[bool] {
	return kont.ExprBind(ExitOf(body), func(e Exit[A]) kont.Expr[bool] {
		return DeferredComplete(d, e)
	})
}

// Sleep suspends the fiber for at least dur. Interrupting the sleep stops
// its timer.
func Sleep(dur time.Duration) kont.Expr[struct{}] {
	return kont.ExprBind(MakeDeferred[struct{}](), func(d *Deferred[struct{}]) kont.Expr[struct{}] {
		return UninterruptibleMask(func(m Mask) kont.Expr[struct{}] {
			start := Sync(func() *time.Timer {
				return time.AfterFunc(dur, func() { d.Succeed(struct{}{}) })
			})
			return kont.ExprBind(start, func(t *time.Timer) kont.Expr[struct{}] {
				return Ensuring(Restore(m, DeferredJoin(d)), func() { t.Stop() })
			})
		})
	})
}
