// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fiber_test

import (
	"bytes"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"

	"code.hybscloud.com/fiber"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/kont"
)

func TestRunForkCompletes(t *testing.T) {
	skipRace(t)
	f := fiber.RunFork(fiber.Default(), fiber.Succeed(7))
	e := waitExit(t, f)
	if v, ok := e.Value(); !ok || v != 7 {
		t.Fatalf("got %v, want 7", v)
	}
	if f.Parent() != fiber.None {
		t.Fatalf("root parent = %v, want None", f.Parent())
	}
}

func TestObserverAfterDoneFiresSynchronously(t *testing.T) {
	skipRace(t)
	f := fiber.RunFork(fiber.Default(), fiber.Succeed(1))
	waitExit(t, f)
	called := false
	f.AddObserver(func(e fiber.Exit[int]) { called = e.IsSuccess() })
	if !called {
		t.Fatal("observer added after completion did not fire synchronously")
	}
}

func TestObserversFireInRegistrationOrder(t *testing.T) {
	skipRace(t)
	d := fiber.NewDeferred[int]()
	f := fiber.RunFork(fiber.Default(), fiber.DeferredJoin(d))
	var mu sync.Mutex
	var order []int
	for i := range 3 {
		f.AddObserver(func(fiber.Exit[int]) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	d.Succeed(5)
	waitExit(t, f)
	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(order, []int{0, 1, 2}) {
		t.Fatalf("got %v, want [0 1 2]", order)
	}
}

func TestObserverPanicDoesNotStopCompletion(t *testing.T) {
	for _, tc := range []struct {
		name string
		body func() kont.Expr[int]
		ok   bool
	}{
		{"failure", func() kont.Expr[int] { return fiber.Fail[int]("boom") }, false},
		{"success", func() kont.Expr[int] { return fiber.Succeed(7) }, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			rt := fiber.New(fiber.WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
			s := fiber.NewSyncScheduler()
			f := fiber.RunFork(rt, tc.body(), fiber.WithScheduler(s))
			fired := 0
			f.AddObserver(func(fiber.Exit[int]) { panic("observer") })
			f.AddObserver(func(fiber.Exit[int]) { fired++ })
			s.Flush()

			e, ok := f.Poll()
			if !ok {
				t.Fatal("fiber not done after Flush")
			}
			if e.IsSuccess() != tc.ok || fiber.IsDie(e.Cause()) {
				t.Fatalf("exit = %s, want the body's own exit", fiber.Pretty(e.Cause()))
			}
			if fired != 1 {
				t.Fatalf("second observer fired %d times, want 1", fired)
			}
			select {
			case <-f.Done():
			default:
				t.Fatal("Done not closed")
			}
			if !strings.Contains(buf.String(), "observer panicked") {
				t.Fatalf("panic not logged: %q", buf.String())
			}
		})
	}
}

func TestTryJoin(t *testing.T) {
	skipRace(t)
	d := fiber.NewDeferred[int]()
	f := fiber.RunFork(fiber.Default(), fiber.DeferredJoin(d))
	if _, err := f.TryJoin(); !errors.Is(err, iox.ErrWouldBlock) {
		t.Fatalf("got %v, want ErrWouldBlock", err)
	}
	d.Fail("late")
	waitExit(t, f)
	if _, err := f.TryJoin(); !fiber.IsFiberFailure(err) {
		t.Fatalf("got %v, want FiberFailure", err)
	}
}

func TestInterruptAfterDoneIsNoop(t *testing.T) {
	skipRace(t)
	f := fiber.RunFork(fiber.Default(), fiber.Succeed(1))
	waitExit(t, f)
	f.InterruptAsFork(fiber.NewFiberID())
	e, _ := f.Poll()
	if v, ok := e.Value(); !ok || v != 1 {
		t.Fatalf("got %s, want success 1", fiber.Pretty(e.Cause()))
	}
}

func TestInterruptSuspendedFiber(t *testing.T) {
	skipRace(t)
	f := fiber.RunFork(fiber.Default(), never[int]())
	f.Interrupt()
	e := waitExit(t, f)
	if !fiber.IsInterruptedOnly(e.Cause()) {
		t.Fatalf("got %s, want interruption", fiber.Pretty(e.Cause()))
	}
	if got := fiber.Interruptors(e.Cause()); !slices.Equal(got, []fiber.FiberID{fiber.None}) {
		t.Fatalf("got interruptors %v, want [None]", got)
	}
}

func TestInterruptorsAccumulate(t *testing.T) {
	skipRace(t)
	started := make(chan struct{})
	d := fiber.NewDeferred[int]()
	f := fiber.RunFork(fiber.Default(),
		fiber.Uninterruptible(kont.ExprThen(signal(started), fiber.DeferredJoin(d))))
	recv(t, started)
	a, b := fiber.NewFiberID(), fiber.NewFiberID()
	f.InterruptAsFork(b)
	f.InterruptAsFork(a)
	f.InterruptAsFork(b)
	d.Succeed(1)
	e := waitExit(t, f)
	if got := fiber.Interruptors(e.Cause()); !slices.Equal(got, []fiber.FiberID{a, b}) {
		t.Fatalf("got interruptors %v, want [%v %v]", got, a, b)
	}
}

func TestUninterruptibleDefersInterruption(t *testing.T) {
	skipRace(t)
	started := make(chan struct{})
	d := fiber.NewDeferred[int]()
	f := fiber.RunFork(fiber.Default(),
		fiber.Uninterruptible(kont.ExprThen(signal(started), fiber.DeferredJoin(d))))
	recv(t, started)
	f.InterruptAsFork(fiber.None)
	if _, done := f.Poll(); done {
		t.Fatal("fiber ended while uninterruptible")
	}
	d.Succeed(3)
	e := waitExit(t, f)
	if !fiber.IsInterruptedOnly(e.Cause()) {
		t.Fatalf("got %s, want interruption at the region end", fiber.Pretty(e.Cause()))
	}
}

func TestUninterruptibleMaskRestore(t *testing.T) {
	skipRace(t)
	started := make(chan struct{})
	cleaned := make(chan struct{})
	f := fiber.RunFork(fiber.Default(), fiber.UninterruptibleMask(func(m fiber.Mask) kont.Expr[int] {
		waited := fiber.Restore(m, kont.ExprThen(signal(started), never[int]()))
		return fiber.CatchAllCause(waited, func(fiber.Cause) kont.Expr[int] {
			return kont.ExprThen(signal(cleaned), fiber.Succeed(0))
		})
	}))
	recv(t, started)
	f.Interrupt()
	e := waitExit(t, f)
	if !fiber.IsInterruptedOnly(e.Cause()) {
		t.Fatalf("got %s, want interruption", fiber.Pretty(e.Cause()))
	}
	select {
	case <-cleaned:
		t.Fatal("interruption was handled as a failure")
	default:
	}
}

func TestRunCallbackCanceler(t *testing.T) {
	skipRace(t)
	t.Run("none", func(t *testing.T) {
		exits := make(chan fiber.Exit[int], 1)
		cancel := fiber.RunCallback(fiber.Default(), never[int](), func(e fiber.Exit[int]) { exits <- e })
		cancel(fiber.None, nil)
		e := recv(t, exits)
		if got := fiber.Interruptors(e.Cause()); !fiber.IsInterruptedOnly(e.Cause()) || !slices.Equal(got, []fiber.FiberID{fiber.None}) {
			t.Fatalf("got %s, want interruption by None", fiber.Pretty(e.Cause()))
		}
	})
	t.Run("id", func(t *testing.T) {
		exits := make(chan fiber.Exit[int], 1)
		interrupted := make(chan fiber.Exit[int], 1)
		cancel := fiber.RunCallback(fiber.Default(), never[int](), func(e fiber.Exit[int]) { exits <- e })
		id := fiber.NewFiberID()
		cancel(id, func(e fiber.Exit[int]) { interrupted <- e })
		for _, e := range []fiber.Exit[int]{recv(t, exits), recv(t, interrupted)} {
			if got := fiber.Interruptors(e.Cause()); !slices.Equal(got, []fiber.FiberID{id}) {
				t.Fatalf("got interruptors %v, want [%v]", got, id)
			}
		}
	})
}

func TestChildrenInterruptedWithParent(t *testing.T) {
	skipRace(t)
	children := make(chan *fiber.Fiber[int], 1)
	parent := fiber.RunFork(fiber.Default(), kont.ExprBind(fiber.Fork(never[int]()), func(c *fiber.Fiber[int]) kont.Expr[int] {
		return fiber.Sync(func() int {
			children <- c
			return 1
		})
	}))
	if v, _ := waitExit(t, parent).Value(); v != 1 {
		t.Fatalf("parent got %d, want 1", v)
	}
	c := recv(t, children)
	e := waitExit(t, c)
	if got := fiber.Interruptors(e.Cause()); !slices.Equal(got, []fiber.FiberID{parent.ID()}) {
		t.Fatalf("got interruptors %v, want [%v]", got, parent.ID())
	}
	if c.Parent() != parent.ID() {
		t.Fatalf("child parent = %v, want %v", c.Parent(), parent.ID())
	}
}

func TestInterruptChildFromParent(t *testing.T) {
	prog := kont.ExprBind(fiber.Fork(never[int]()), func(c *fiber.Fiber[int]) kont.Expr[[]fiber.FiberID] {
		return kont.ExprBind(fiber.Interrupt(c), func(e fiber.Exit[int]) kont.Expr[[]fiber.FiberID] {
			return kont.ExprMap(fiber.ID(), func(self fiber.FiberID) []fiber.FiberID {
				return append(fiber.Interruptors(e.Cause()), self)
			})
		})
	})
	got := mustRunSync(t, prog)
	if len(got) != 2 || got[0] != got[1] {
		t.Fatalf("got %v, want child interrupted by the parent", got)
	}
}

func TestAwaitChildFailure(t *testing.T) {
	prog := kont.ExprBind(fiber.Fork(fiber.Fail[int]("child")), fiber.Await[int])
	mustFailure(t, mustRunSync(t, prog), "child")
}

func TestYieldInterleavesFibers(t *testing.T) {
	var log []string
	step := func(s string) kont.Expr[struct{}] {
		return fiber.Sync(func() struct{} {
			log = append(log, s)
			return struct{}{}
		})
	}
	worker := func(name string) kont.Expr[struct{}] {
		return kont.ExprThen(step(name+"1"), kont.ExprThen(fiber.Yield(), step(name+"2")))
	}
	prog := kont.ExprBind(fiber.Fork(worker("a")), func(a *fiber.Fiber[struct{}]) kont.Expr[struct{}] {
		return kont.ExprBind(fiber.Fork(worker("b")), func(b *fiber.Fiber[struct{}]) kont.Expr[struct{}] {
			return kont.ExprThen(fiber.Join(a), fiber.Join(b))
		})
	})
	mustRunSync(t, prog)
	if want := []string{"a1", "b1", "a2", "b2"}; !slices.Equal(log, want) {
		t.Fatalf("got %v, want %v", log, want)
	}
}

func TestCooperativeYieldingByCount(t *testing.T) {
	var log []string
	counter := func(name string, n int) kont.Expr[int] {
		return fiber.Repeat(n, func() kont.Expr[int] {
			return fiber.Sync(func() int {
				log = append(log, name)
				return len(log)
			})
		})
	}
	rt := fiber.New(fiber.WithMaxOpsBeforeYield(4))
	prog := fiber.All(counter("a", 50), counter("b", 50))
	if _, err := fiber.RunSync(rt, prog); err != nil {
		t.Fatal(err)
	}
	first := slices.Index(log, "b")
	if first < 0 || first >= 50 {
		t.Fatalf("b first ran at %d; a was not preempted", first)
	}
}

func TestRuntimeRegistry(t *testing.T) {
	skipRace(t)
	f := fiber.RunFork(fiber.Default(), never[int]())
	contains := func() bool {
		return slices.ContainsFunc(fiber.Default().Fibers(), func(h fiber.Handle) bool { return h.ID() == f.ID() })
	}
	if !contains() {
		t.Fatal("root fiber missing from the registry")
	}
	f.Interrupt()
	waitExit(t, f)
	if contains() {
		t.Fatal("completed fiber still in the registry")
	}

	rt := fiber.New(fiber.WithFlags(fiber.DefaultFlags.Disable(fiber.FiberRoots)))
	g := fiber.RunFork(rt, never[int]())
	defer g.Interrupt()
	if slices.ContainsFunc(rt.Fibers(), func(h fiber.Handle) bool { return h.ID() == g.ID() }) {
		t.Fatal("fiber registered without FiberRoots")
	}
}

func TestForkWithUpdateRefs(t *testing.T) {
	ref := fiber.NewFiberRef("tag", "")
	s := fiber.NewSyncScheduler()
	var seen fiber.FiberID
	f := fiber.RunFork(fiber.Default(), fiber.Get(ref),
		fiber.WithScheduler(s),
		fiber.WithUpdateRefs(func(refs fiber.FiberRefs, id fiber.FiberID) fiber.FiberRefs {
			seen = id
			return fiber.UpdatedAs(refs, id, ref, "custom")
		}))
	s.Flush()
	e, ok := f.Poll()
	if !ok {
		t.Fatal("fiber not done after Flush")
	}
	if v, _ := e.Value(); v != "custom" || seen != f.ID() {
		t.Fatalf("got %q for %v, want custom for %v", v, seen, f.ID())
	}
}

func TestCurrentRuntimeCapturesRefs(t *testing.T) {
	ref := fiber.NewFiberRef("tag", "root")
	prog := fiber.Locally(ref, "inner", fiber.CurrentRuntime())
	r := mustRunSync(t, prog)
	if got := fiber.GetRef(r.Refs(), ref); got != "inner" {
		t.Fatalf("got %q, want inner", got)
	}
	if !r.Flags().Interruptible() {
		t.Fatal("captured runtime lost interruptibility")
	}
}
