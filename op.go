// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fiber

import (
	"context"
	"log/slog"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/kont"
	"github.com/reusee/dscope"
)

// failOp is the primitive that abandons the computation with a cause.
type failOp[A any] struct {
	kont.Phantom[A]
	cause Cause
}

// DispatchFiber unwinds to the nearest cause handler.
func (o failOp[A]) DispatchFiber(rt *fiberRuntime) (kont.Resumed, error) {
	rt.unwind(o.cause, false)
	return nil, iox.ErrWouldBlock
}

// nestOp runs body as a nested computation and resumes with its value.
// body is built before onEnter runs, so it observes the state outside the
// region. The frame's hooks run when body ends, normally or by unwinding.
type nestOp[A any] struct {
	kont.Phantom[A]
	body    func(rt *fiberRuntime) kont.Expr[kont.Erased]
	onEnter func(rt *fiberRuntime) frame
}

// DispatchFiber pushes the frame and enters body.
func (o nestOp[A]) DispatchFiber(rt *fiberRuntime) (kont.Resumed, error) {
	body := o.body(rt)
	var fr frame
	if o.onEnter != nil {
		fr = o.onEnter(rt)
	}
	rt.push(fr, body)
	return nil, iox.ErrWouldBlock
}

// syncOp resumes with the result of a side effect run on the fiber.
type syncOp[A any] struct {
	kont.Phantom[A]
	f func(rt *fiberRuntime) A
}

// DispatchFiber runs f. A panic in f becomes a defect.
func (o syncOp[A]) DispatchFiber(rt *fiberRuntime) (kont.Resumed, error) {
	return o.f(rt), nil
}

// yieldOp hands the scheduler back before the next primitive.
type yieldOp struct {
	kont.Phantom[struct{}]
}

// DispatchFiber marks the fiber to yield and resumes immediately.
func (yieldOp) DispatchFiber(rt *fiberRuntime) (kont.Resumed, error) {
	rt.forceYield = true
	return struct{}{}, nil
}

// parkOp suspends the fiber until register's wake function is called.
type parkOp[A any] struct {
	kont.Phantom[A]
	register func(rt *fiberRuntime, wake func(v kont.Erased, cause Cause))
}

// DispatchFiber parks the fiber and hands the wake function to register.
func (o parkOp[A]) DispatchFiber(rt *fiberRuntime) (kont.Resumed, error) {
	o.register(rt, rt.park())
	return nil, iox.ErrWouldBlock
}

// Succeed returns a computation that completes with a.
func Succeed[A any](a A) kont.Expr[A] {
	return kont.ExprReturn(a)
}

// Unit returns a computation that completes with the empty struct.
func Unit() kont.Expr[struct{}] {
	return kont.ExprReturn(struct{}{})
}

// FailCause returns a computation that fails with cause.
func FailCause[A any](cause Cause) kont.Expr[A] {
	if cause == nil {
		cause = CauseEmpty{}
	}
	return kont.ExprPerform(failOp[A]{cause: cause})
}

// Fail returns a computation that fails with the typed error err.
func Fail[A any](err any) kont.Expr[A] {
	return FailCause[A](CauseFail{Error: err})
}

// Die returns a computation that fails with the defect defect.
func Die[A any](defect any) kont.Expr[A] {
	return FailCause[A](die(defect))
}

// FromExit returns a computation that succeeds or fails as e does.
func FromExit[A any](e Exit[A]) kont.Expr[A] {
	if v, ok := e.Value(); ok {
		return kont.ExprReturn(v)
	}
	return FailCause[A](e.Cause())
}

// FromEither fails with the left side of e as a typed failure, or
// succeeds with its right side.
func FromEither[E, A any](e kont.Either[E, A]) kont.Expr[A] {
	if l, ok := e.GetLeft(); ok {
		return Fail[A](l)
	}
	r, _ := e.GetRight()
	return kont.ExprReturn(r)
}

// Suspend defers building a computation until the fiber reaches it.
// A panic while building is a defect.
func Suspend[A any](f func() kont.Expr[A]) kont.Expr[A] {
	return kont.ExprPerform(nestOp[A]{
		body: func(*fiberRuntime) kont.Expr[kont.Erased] { return erase(f()) },
	})
}

// Sync runs f on the fiber and completes with its result.
// A panic in f is a defect.
func Sync[A any](f func() A) kont.Expr[A] {
	return kont.ExprPerform(syncOp[A]{f: func(*fiberRuntime) A { return f() }})
}

// Try runs f on the fiber; a non-nil error becomes a typed failure.
func Try[A any](f func() (A, error)) kont.Expr[A] {
	return kont.ExprBind(Sync(func() kont.Either[error, A] {
		a, err := f()
		if err != nil {
			return kont.Left[error, A](err)
		}
		return kont.Right[error](a)
	}), FromEither[error, A])
}

// Yield reschedules the fiber behind other pending work.
func Yield() kont.Expr[struct{}] {
	return kont.ExprPerform(yieldOp{})
}

// ID returns the identity of the running fiber.
func ID() kont.Expr[FiberID] {
	return kont.ExprPerform(syncOp[FiberID]{f: func(rt *fiberRuntime) FiberID { return rt.id }})
}

// Fork starts body as a child of the running fiber and completes with
// the child immediately. A child still running when its parent ends is
// interrupted as the parent.
func Fork[A any](body kont.Expr[A]) kont.Expr[*Fiber[A]] {
	return kont.ExprPerform(syncOp[*Fiber[A]]{f: func(rt *fiberRuntime) *Fiber[A] {
		return &Fiber[A]{rt.forkChild(erase(body), body)}
	}})
}

// Await suspends until f is done and completes with its exit.
func Await[A any](f *Fiber[A]) kont.Expr[Exit[A]] {
	return kont.ExprPerform(parkOp[Exit[A]]{register: func(_ *fiberRuntime, wake func(kont.Erased, Cause)) {
		f.AddObserverAny(func(e Exit[any]) { wake(unerase[A](e), nil) })
	}})
}

// Join suspends until f is done and succeeds or fails as f did.
func Join[A any](f *Fiber[A]) kont.Expr[A] {
	return kont.ExprBind(Await(f), FromExit[A])
}

// Interrupt interrupts f as the running fiber and awaits its exit.
func Interrupt[A any](f *Fiber[A]) kont.Expr[Exit[A]] {
	return kont.ExprBind(ID(), func(id FiberID) kont.Expr[Exit[A]] {
		return InterruptAs(f, id)
	})
}

// InterruptAs interrupts f on behalf of id and awaits its exit.
func InterruptAs[A any](f *Fiber[A], id FiberID) kont.Expr[Exit[A]] {
	return kont.ExprThen(Sync(func() struct{} {
		f.InterruptAsFork(id)
		return struct{}{}
	}), Await(f))
}

// InterruptSelf interrupts the running fiber. Outside an uninterruptible
// region the computation never continues past it.
func InterruptSelf() kont.Expr[struct{}] {
	return kont.ExprPerform(syncOp[struct{}]{f: func(rt *fiberRuntime) struct{} {
		rt.InterruptAsFork(rt.id)
		return struct{}{}
	}})
}

// CatchAllCause runs body and, if it fails with a typed failure or a
// defect, continues with h of the cause. Interruption of an interruptible
// fiber is not caught.
func CatchAllCause[A any](body kont.Expr[A], h func(Cause) kont.Expr[A]) kont.Expr[A] {
	return kont.ExprPerform(nestOp[A]{
		body: func(*fiberRuntime) kont.Expr[kont.Erased] { return erase(body) },
		onEnter: func(*fiberRuntime) frame {
			return frame{onCause: func(c Cause) kont.Expr[kont.Erased] { return erase(h(c)) }}
		},
	})
}

// CatchAll is like [CatchAllCause] but only handles typed failures.
// Other causes are re-raised unchanged.
func CatchAll[A any](body kont.Expr[A], h func(err any) kont.Expr[A]) kont.Expr[A] {
	return CatchAllCause(body, func(c Cause) kont.Expr[A] {
		if err, ok := FailureOrCause(c); ok {
			return h(err)
		}
		return FailCause[A](c)
	})
}

// ExitOf runs body and completes with its exit instead of failing.
func ExitOf[A any](body kont.Expr[A]) kont.Expr[Exit[A]] {
	return CatchAllCause(kont.ExprMap(body, ExitSucceed[A]), func(c Cause) kont.Expr[Exit[A]] {
		return kont.ExprReturn(ExitFailCause[A](c))
	})
}

// Ensuring runs finalizer after body however body ends, including
// interruption. The finalizer runs uninterruptibly and its result is
// discarded.
func Ensuring[A any](body kont.Expr[A], finalizer func()) kont.Expr[A] {
	return kont.ExprPerform(nestOp[A]{
		body: func(*fiberRuntime) kont.Expr[kont.Erased] { return erase(body) },
		onEnter: func(*fiberRuntime) frame {
			return frame{onExit: func(rt *fiberRuntime) {
				defer func() {
					if r := recover(); r != nil {
						loggerOf(rt.refs).Error("fiber: finalizer panicked",
							"fiber", rt.id.String(),
							"panic", r,
						)
					}
				}()
				finalizer()
			}}
		},
	})
}

// Mask is the interruptibility captured by [UninterruptibleMask].
type Mask struct {
	interruptible bool
}

func region[A any](body func(rt *fiberRuntime) kont.Expr[kont.Erased], interruptible func(rt *fiberRuntime) bool) kont.Expr[A] {
	return kont.ExprPerform(nestOp[A]{
		body: body,
		onEnter: func(rt *fiberRuntime) frame {
			prev := rt.flags
			if interruptible(rt) {
				rt.flags = rt.flags.Enable(Interruption)
			} else {
				rt.flags = rt.flags.Disable(Interruption)
			}
			return frame{onExit: func(rt *fiberRuntime) {
				rt.flags = rt.flags.Disable(Interruption) | prev&Interruption
			}}
		},
	})
}

// Uninterruptible runs body with interruption deferred until body ends.
func Uninterruptible[A any](body kont.Expr[A]) kont.Expr[A] {
	return region[A](func(*fiberRuntime) kont.Expr[kont.Erased] { return erase(body) },
		func(*fiberRuntime) bool { return false })
}

// Interruptible runs body with interruption enabled.
func Interruptible[A any](body kont.Expr[A]) kont.Expr[A] {
	return region[A](func(*fiberRuntime) kont.Expr[kont.Erased] { return erase(body) },
		func(*fiberRuntime) bool { return true })
}

// UninterruptibleMask runs f uninterruptibly. Inside, [Restore] with the
// given mask brings back the interruptibility in effect before the region.
func UninterruptibleMask[A any](f func(m Mask) kont.Expr[A]) kont.Expr[A] {
	return region[A](func(rt *fiberRuntime) kont.Expr[kont.Erased] {
		return erase(f(Mask{interruptible: rt.flags.Interruptible()}))
	}, func(*fiberRuntime) bool { return false })
}

// Restore runs body with the interruptibility captured by m.
func Restore[A any](m Mask, body kont.Expr[A]) kont.Expr[A] {
	return region[A](func(*fiberRuntime) kont.Expr[kont.Erased] { return erase(body) },
		func(*fiberRuntime) bool { return m.interruptible })
}

// Get reads ref in the running fiber.
func Get[T any](ref *FiberRef[T]) kont.Expr[T] {
	return kont.ExprPerform(syncOp[T]{f: func(rt *fiberRuntime) T { return GetRef(rt.refs, ref) }})
}

// Set writes ref in the running fiber. Fibers forked earlier keep the
// value they inherited.
func Set[T any](ref *FiberRef[T], v T) kont.Expr[struct{}] {
	return kont.ExprPerform(syncOp[struct{}]{f: func(rt *fiberRuntime) struct{} {
		rt.refs = UpdatedAs(rt.refs, rt.id, ref, v)
		return struct{}{}
	}})
}

// Update applies f to ref in the running fiber and completes with the new value.
func Update[T any](ref *FiberRef[T], f func(T) T) kont.Expr[T] {
	return kont.ExprPerform(syncOp[T]{f: func(rt *fiberRuntime) T {
		v := f(GetRef(rt.refs, ref))
		rt.refs = UpdatedAs(rt.refs, rt.id, ref, v)
		return v
	}})
}

// Locally runs body with ref set to v, then restores the previous value.
func Locally[T, A any](ref *FiberRef[T], v T, body kont.Expr[A]) kont.Expr[A] {
	return kont.ExprPerform(nestOp[A]{
		body: func(*fiberRuntime) kont.Expr[kont.Erased] { return erase(body) },
		onEnter: func(rt *fiberRuntime) frame {
			prev := GetRef(rt.refs, ref)
			rt.refs = UpdatedAs(rt.refs, rt.id, ref, v)
			return frame{onExit: func(rt *fiberRuntime) {
				rt.refs = UpdatedAs(rt.refs, rt.id, ref, prev)
			}}
		},
	})
}

// Environment returns the running fiber's environment.
func Environment() kont.Expr[Env] {
	return Get(CurrentEnvironment)
}

// Service looks up a T in the running fiber's environment.
// A missing definition is a defect.
func Service[T any]() kont.Expr[T] {
	return kont.ExprPerform(syncOp[T]{f: func(rt *fiberRuntime) T {
		return dscope.Get[T](GetRef(rt.refs, CurrentEnvironment))
	}})
}

// Provide runs body with the environment extended by defs.
func Provide[A any](body kont.Expr[A], defs ...any) kont.Expr[A] {
	return kont.ExprBind(Environment(), func(env Env) kont.Expr[A] {
		return Locally(CurrentEnvironment, env.Fork(defs...), body)
	})
}

// Log writes msg to the running fiber's logger with the fiber attribute.
func Log(level slog.Level, msg string, args ...any) kont.Expr[struct{}] {
	return kont.ExprPerform(syncOp[struct{}]{f: func(rt *fiberRuntime) struct{} {
		l := loggerOf(rt.refs)
		l.Log(context.Background(), level, msg, append([]any{"fiber", rt.id.String()}, args...)...)
		return struct{}{}
	}})
}
