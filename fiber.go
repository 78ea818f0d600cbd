// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fiber

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/kont"
)

// Handle is the type-erased view of a fiber, used by supervisors,
// registries and diagnostics.
type Handle interface {
	// ID returns the fiber's identity.
	ID() FiberID
	// Parent returns the forking fiber, or None for root fibers.
	Parent() FiberID
	// Flags returns the runtime flags the fiber was forked with.
	Flags() RuntimeFlags
	// Refs returns the snapshot the fiber was forked with.
	Refs() FiberRefs
	// PollAny returns the exit once the fiber is done.
	PollAny() (Exit[any], bool)
	// AddObserverAny registers a completion callback.
	AddObserverAny(func(Exit[any]))
	// InterruptAsFork requests interruption on behalf of id and returns immediately.
	InterruptAsFork(id FiberID)
	// Done is closed when the fiber completes.
	Done() <-chan struct{}
}

type msgKind uint8

const (
	msgStart msgKind = iota
	msgResume
	msgInterrupt
)

// message is a mailbox entry. Wakeups carry the park epoch they belong to
// so that a wakeup for an abandoned wait is dropped.
type message struct {
	kind  msgKind
	epoch uint32
	body  kont.Expr[kont.Erased]
	value kont.Erased
	cause Cause
}

// frame is a computation waiting for a nested one to finish.
type frame struct {
	parent  *kont.Suspension[kont.Erased]
	onExit  func(rt *fiberRuntime)
	onCause func(Cause) kont.Expr[kont.Erased]
}

// fiberDispatcher is the structural interface for fiber primitives.
//
// DispatchFiber returns the value to resume the computation with, or
// iox.ErrWouldBlock when the primitive took over control: it parked the
// fiber, entered a nested computation, or started unwinding a failure.
type fiberDispatcher interface {
	DispatchFiber(rt *fiberRuntime) (kont.Resumed, error)
}

// fiberRuntime is the untyped fiber state machine behind [Fiber].
//
// Interpreter fields are owned by whichever goroutine holds the running flag;
// at most one goroutine drives a fiber at a time. Completion state,
// observers, interruptors and children are guarded by mu.
type fiberRuntime struct {
	id         FiberID
	parent     FiberID
	startFlags RuntimeFlags
	startRefs  FiberRefs
	scheduler  Scheduler
	supervisor Supervisor
	maxOps     int

	mailbox   *mpscQueue[message]
	running   atomix.Uint32
	interrupt atomix.Uint32
	done      chan struct{}

	mu           sync.Mutex
	exit         *Exit[any]
	observers    []func(Exit[any])
	interruptors []FiberID
	children     map[*fiberRuntime]struct{}

	flags      RuntimeFlags
	refs       FiberRefs
	cur        *kont.Suspension[kont.Erased]
	val        kont.Erased
	frames     []frame
	parked     bool
	epoch      uint32
	ops        int
	forceYield bool
	yielded    bool
	finished   bool
}

func newFiberRuntime(id FiberID, refs FiberRefs, flags RuntimeFlags, parent FiberID) *fiberRuntime {
	sched := GetRef(refs, CurrentScheduler)
	if sched == nil {
		sched = DefaultScheduler
	}
	sup := GetRef(refs, CurrentSupervisor)
	if sup == nil {
		sup = NoSupervisor
	}
	return &fiberRuntime{
		id:         id,
		parent:     parent,
		startFlags: flags,
		startRefs:  refs,
		scheduler:  sched,
		supervisor: sup,
		maxOps:     GetRef(refs, MaxOpsBeforeYield),
		mailbox:    newMPSCQueue[message](),
		done:       make(chan struct{}),
		flags:      flags,
		refs:       refs,
	}
}

func (rt *fiberRuntime) ID() FiberID           { return rt.id }
func (rt *fiberRuntime) Parent() FiberID       { return rt.parent }
func (rt *fiberRuntime) Flags() RuntimeFlags   { return rt.startFlags }
func (rt *fiberRuntime) Refs() FiberRefs       { return rt.startRefs }
func (rt *fiberRuntime) Done() <-chan struct{} { return rt.done }

func (rt *fiberRuntime) String() string {
	return "Fiber" + rt.id.String()
}

// PollAny returns the stored exit if the fiber is done.
func (rt *fiberRuntime) PollAny() (Exit[any], bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.exit == nil {
		return Exit[any]{}, false
	}
	return *rt.exit, true
}

// AddObserverAny fires cb immediately when the fiber is already done,
// otherwise queues it to fire once, in registration order, at completion.
func (rt *fiberRuntime) AddObserverAny(cb func(Exit[any])) {
	rt.mu.Lock()
	if rt.exit != nil {
		exit := *rt.exit
		rt.mu.Unlock()
		cb(exit)
		return
	}
	rt.observers = append(rt.observers, cb)
	rt.mu.Unlock()
}

// InterruptAsFork records id as an interruptor and signals the fiber.
// Repeated requests from the same id are recorded once. A done fiber is
// left untouched.
func (rt *fiberRuntime) InterruptAsFork(id FiberID) {
	rt.mu.Lock()
	if rt.exit != nil {
		rt.mu.Unlock()
		return
	}
	if !slices.Contains(rt.interruptors, id) {
		rt.interruptors = append(rt.interruptors, id)
	}
	rt.mu.Unlock()
	rt.interrupt.Store(1)
	rt.tell(message{kind: msgInterrupt})
}

func (rt *fiberRuntime) interruptCause() Cause {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	var c Cause = CauseEmpty{}
	for _, id := range rt.interruptors {
		c = Par(c, CauseInterrupt{FiberID: id})
	}
	return c
}

func (rt *fiberRuntime) shouldInterrupt() bool {
	return rt.flags.Interruptible() && rt.interrupt.Load() != 0
}

func (rt *fiberRuntime) start(body kont.Expr[kont.Erased]) {
	rt.tell(message{kind: msgStart, body: body})
}

// tell delivers m and makes sure a drain is scheduled.
func (rt *fiberRuntime) tell(m message) {
	rt.mailbox.Push(m)
	if rt.running.CompareAndSwap(0, 1) {
		rt.scheduler.Schedule(rt.drain)
	}
}

// drain processes the mailbox while holding the running flag.
// A cooperative yield keeps the flag and hands it to a rescheduled drain.
func (rt *fiberRuntime) drain() {
	for {
		if rt.yielded {
			rt.yielded = false
			rt.evaluate()
		}
		for !rt.yielded {
			m, ok := rt.mailbox.Pop()
			if !ok {
				break
			}
			rt.process(m)
		}
		if rt.yielded {
			rt.scheduler.Schedule(rt.drain)
			return
		}
		rt.running.Store(0)
		if rt.mailbox.Len() == 0 || !rt.running.CompareAndSwap(0, 1) {
			return
		}
	}
}

func (rt *fiberRuntime) process(m message) {
	if rt.finished {
		return
	}
	switch m.kind {
	case msgStart:
		if rt.shouldInterrupt() {
			rt.complete(ExitFailCause[any](rt.interruptCause()))
			return
		}
		rt.enter(m.body)
	case msgResume:
		if !rt.parked || m.epoch != rt.epoch {
			return
		}
		rt.parked = false
		if m.cause != nil {
			rt.unwind(m.cause, false)
		} else {
			rt.resume(m.value)
		}
	case msgInterrupt:
		if !rt.parked || !rt.shouldInterrupt() {
			return
		}
		rt.parked = false
		rt.epoch++
		rt.unwind(rt.interruptCause(), true)
	}
	rt.evaluate()
}

// evaluate steps the computation until it completes, parks or yields.
func (rt *fiberRuntime) evaluate() {
	for !rt.finished && !rt.parked {
		if rt.cur == nil {
			if len(rt.frames) == 0 {
				rt.complete(ExitSucceed[any](rt.val))
				return
			}
			fr := rt.popFrame()
			if fr.onExit != nil {
				fr.onExit(rt)
			}
			rt.cur = fr.parent
			if rt.shouldInterrupt() {
				rt.unwind(rt.interruptCause(), true)
				continue
			}
			rt.resume(rt.val)
			continue
		}
		if rt.shouldInterrupt() {
			rt.unwind(rt.interruptCause(), true)
			continue
		}
		if rt.forceYield || (rt.maxOps > 0 && rt.ops >= rt.maxOps && rt.flags.IsEnabled(CooperativeYielding)) {
			rt.forceYield = false
			rt.ops = 0
			rt.yielded = true
			return
		}
		rt.ops++
		op := rt.cur.Op()
		d, ok := op.(fiberDispatcher)
		if !ok {
			rt.unwind(die(fmt.Sprintf("fiber: unhandled effect %T", op)), false)
			continue
		}
		if rt.flags.IsEnabled(OpSupervision) {
			loggerOf(rt.refs).Debug("fiber op", "fiber", rt.id.String(), "op", fmt.Sprintf("%T", op))
		}
		v, err := rt.dispatch(d)
		if err != nil {
			continue
		}
		rt.resume(v)
	}
}

// dispatch runs a primitive, folding a panic into a defect.
func (rt *fiberRuntime) dispatch(d fiberDispatcher) (v kont.Resumed, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, iox.ErrWouldBlock
			rt.unwind(die(r), false)
		}
	}()
	return d.DispatchFiber(rt)
}

// enter starts stepping body as the current computation.
func (rt *fiberRuntime) enter(body kont.Expr[kont.Erased]) {
	defer func() {
		if r := recover(); r != nil {
			rt.cur = nil
			rt.unwind(die(r), false)
		}
	}()
	rt.val, rt.cur = kont.StepExpr(body)
}

// resume advances the current suspension with v.
func (rt *fiberRuntime) resume(v kont.Resumed) {
	susp := rt.cur
	rt.cur = nil
	defer func() {
		if r := recover(); r != nil {
			rt.cur = nil
			rt.unwind(die(r), false)
		}
	}()
	rt.val, rt.cur = susp.Resume(v)
}

// push suspends the current computation behind fr and enters body.
func (rt *fiberRuntime) push(fr frame, body kont.Expr[kont.Erased]) {
	fr.parent = rt.cur
	rt.cur = nil
	rt.frames = append(rt.frames, fr)
	rt.enter(body)
}

func (rt *fiberRuntime) popFrame() frame {
	n := len(rt.frames) - 1
	fr := rt.frames[n]
	rt.frames[n] = frame{}
	rt.frames = rt.frames[:n]
	return fr
}

// unwind abandons the current computation with cause. The nearest frame
// with a cause handler resumes its parent with the handler's result;
// self-interruption skips handlers and terminates the fiber.
func (rt *fiberRuntime) unwind(cause Cause, interrupting bool) {
	if rt.cur != nil {
		rt.cur.Discard()
		rt.cur = nil
	}
	for len(rt.frames) > 0 {
		fr := rt.popFrame()
		if fr.onExit != nil {
			fr.onExit(rt)
		}
		if fr.onCause != nil && !interrupting {
			rt.cur = fr.parent
			rt.push(frame{}, rt.handle(fr.onCause, cause))
			return
		}
		fr.parent.Discard()
	}
	rt.complete(ExitFailCause[any](cause))
}

// handle runs a cause handler; a panicking handler dies with its defect.
func (rt *fiberRuntime) handle(h func(Cause) kont.Expr[kont.Erased], cause Cause) (body kont.Expr[kont.Erased]) {
	defer func() {
		if r := recover(); r != nil {
			body = erase(FailCause[kont.Erased](Seq(cause, die(r))))
		}
	}()
	return h(cause)
}

// park suspends the fiber until the returned wake function is called.
// Only the first wake for this park has an effect.
func (rt *fiberRuntime) park() func(v kont.Erased, cause Cause) {
	rt.parked = true
	rt.epoch++
	epoch := rt.epoch
	return func(v kont.Erased, cause Cause) {
		rt.tell(message{kind: msgResume, epoch: epoch, value: v, cause: cause})
	}
}

// complete records exit, interrupts remaining children and fires observers.
// Only the first call has an effect. Done is closed after the observers
// have run, even if one of them panics.
func (rt *fiberRuntime) complete(exit Exit[any]) {
	rt.mu.Lock()
	if rt.exit != nil {
		rt.mu.Unlock()
		return
	}
	rt.finished = true
	rt.frames = nil
	rt.exit = &exit
	observers := rt.observers
	rt.observers = nil
	children := make([]*fiberRuntime, 0, len(rt.children))
	for c := range rt.children {
		children = append(children, c)
	}
	rt.children = nil
	rt.mu.Unlock()
	defer close(rt.done)
	for _, c := range children {
		c.InterruptAsFork(rt.id)
	}
	for _, o := range observers {
		rt.notify(o, exit)
	}
}

// notify runs a completion observer; a panic is logged and swallowed so
// the remaining observers still fire.
func (rt *fiberRuntime) notify(o func(Exit[any]), exit Exit[any]) {
	defer func() {
		if r := recover(); r != nil {
			loggerOf(rt.refs).Error("fiber: observer panicked",
				"fiber", rt.id.String(),
				"panic", r,
			)
		}
	}()
	o(exit)
}

// forkChild starts body as a child fiber supervised by rt's supervisor.
func (rt *fiberRuntime) forkChild(body kont.Expr[kont.Erased], computation any) *fiberRuntime {
	id := NewFiberID()
	child := newFiberRuntime(id, rt.refs.ForkAs(id), rt.flags, rt.id)
	if sup := child.supervisor; sup != NoSupervisor {
		sup.OnStart(GetRef(rt.refs, CurrentEnvironment), computation, rt.id, child)
		child.AddObserverAny(func(exit Exit[any]) { sup.OnEnd(exit, child) })
	}
	rt.mu.Lock()
	if rt.children == nil {
		rt.children = make(map[*fiberRuntime]struct{})
	}
	rt.children[child] = struct{}{}
	rt.mu.Unlock()
	child.AddObserverAny(func(Exit[any]) {
		rt.mu.Lock()
		delete(rt.children, child)
		rt.mu.Unlock()
	})
	child.start(body)
	return child
}

func die(defect any) CauseDie {
	return CauseDie{Defect: defect, Stack: string(debug.Stack())}
}

// Fiber is a running computation producing A.
type Fiber[A any] struct {
	*fiberRuntime
}

// AddObserver registers cb to receive the fiber's exit.
// If the fiber is already done cb fires immediately on the calling goroutine;
// otherwise it fires once, in registration order, when the fiber completes.
func (f *Fiber[A]) AddObserver(cb func(Exit[A])) {
	f.AddObserverAny(func(e Exit[any]) { cb(unerase[A](e)) })
}

// Poll returns the fiber's exit without blocking.
func (f *Fiber[A]) Poll() (Exit[A], bool) {
	e, ok := f.PollAny()
	if !ok {
		return Exit[A]{}, false
	}
	return unerase[A](e), true
}

// TryJoin returns the fiber's value, a [*FiberFailure] if it failed, or
// iox.ErrWouldBlock while it is still running.
func (f *Fiber[A]) TryJoin() (A, error) {
	e, ok := f.Poll()
	if !ok {
		var zero A
		return zero, iox.ErrWouldBlock
	}
	return unwrapExit(e)
}

// Wait blocks until the fiber completes or ctx is done.
// Cancelling ctx does not interrupt the fiber.
func (f *Fiber[A]) Wait(ctx context.Context) (Exit[A], error) {
	select {
	case <-f.done:
		e, _ := f.Poll()
		return e, nil
	case <-ctx.Done():
		return Exit[A]{}, ctx.Err()
	}
}

// Interrupt requests interruption as None and returns immediately.
func (f *Fiber[A]) Interrupt() {
	f.InterruptAsFork(None)
}

func erase[A any](e kont.Expr[A]) kont.Expr[kont.Erased] {
	return kont.ExprMap(e, func(a A) kont.Erased { return a })
}
