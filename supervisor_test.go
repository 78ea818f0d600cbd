// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fiber_test

import (
	"bytes"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"

	"code.hybscloud.com/fiber"
	"code.hybscloud.com/kont"
	"github.com/reusee/dscope"
)

// recorder logs supervisor events as strings.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) OnStart(_ dscope.Scope, _ any, parent fiber.FiberID, child fiber.Handle) {
	r.mu.Lock()
	r.events = append(r.events, fmt.Sprintf("start %s parent %s", child.ID(), parent))
	r.mu.Unlock()
}

func (r *recorder) OnEnd(exit fiber.Exit[any], f fiber.Handle) {
	r.mu.Lock()
	r.events = append(r.events, fmt.Sprintf("end %s ok=%v", f.ID(), exit.IsSuccess()))
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

func TestSupervisorSeesRootAndChild(t *testing.T) {
	rec := &recorder{}
	rt := fiber.New(fiber.WithSupervisor(rec))
	s := fiber.NewSyncScheduler()
	var childID fiber.FiberID
	prog := kont.ExprBind(fiber.Fork(fiber.Fail[int]("x")), func(c *fiber.Fiber[int]) kont.Expr[fiber.Exit[int]] {
		childID = c.ID()
		return fiber.Await(c)
	})
	root := fiber.RunFork(rt, prog, fiber.WithScheduler(s))
	s.Flush()
	if _, ok := root.Poll(); !ok {
		t.Fatal("root not done after Flush")
	}
	want := []string{
		fmt.Sprintf("start %s parent %s", root.ID(), fiber.None),
		fmt.Sprintf("start %s parent %s", childID, root.ID()),
		fmt.Sprintf("end %s ok=false", childID),
		fmt.Sprintf("end %s ok=true", root.ID()),
	}
	if got := rec.snapshot(); !slices.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestFanout(t *testing.T) {
	if fiber.Fanout() != fiber.NoSupervisor || fiber.Fanout(fiber.NoSupervisor, nil) != fiber.NoSupervisor {
		t.Fatal("empty fanout is not NoSupervisor")
	}
	a := &recorder{}
	if fiber.Fanout(fiber.NoSupervisor, a) != fiber.Supervisor(a) {
		t.Fatal("single supervisor was wrapped")
	}
	b := &recorder{}
	rt := fiber.New(fiber.WithSupervisor(fiber.Fanout(a, b)))
	if _, err := fiber.RunSync(rt, fiber.Succeed(1)); err != nil {
		t.Fatal(err)
	}
	if len(a.snapshot()) != 2 || !slices.Equal(a.snapshot(), b.snapshot()) {
		t.Fatalf("got %v and %v, want the same two events", a.snapshot(), b.snapshot())
	}
}

func TestTracker(t *testing.T) {
	skipRace(t)
	tr := fiber.NewTracker()
	rt := fiber.New(fiber.WithSupervisor(tr))
	d := fiber.NewDeferred[int]()
	f := fiber.RunFork(rt, fiber.DeferredJoin(d))
	live := tr.Fibers()
	if len(live) != 1 || live[0].ID() != f.ID() {
		t.Fatalf("got %v, want [%v]", live, f.ID())
	}
	d.Succeed(1)
	waitExit(t, f)
	if n := len(tr.Fibers()); n != 0 {
		t.Fatalf("got %d live fibers, want 0", n)
	}
}

func TestLogSupervisor(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	rt := fiber.New(fiber.WithSupervisor(fiber.NewLogSupervisor(logger)))
	fiber.RunSyncExit(rt, fiber.Fail[int]("boom"))
	fiber.RunSyncExit(rt, kont.ExprThen(fiber.InterruptSelf(), fiber.Succeed(1)))
	fiber.RunSync(rt, fiber.Succeed(1))
	out := buf.String()
	for _, want := range []string{"fiber started", "fiber failed", "Error: boom", "fiber interrupted", "fiber ended"} {
		if !strings.Contains(out, want) {
			t.Fatalf("log missing %q:\n%s", want, out)
		}
	}
}
