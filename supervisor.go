// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fiber

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/reusee/dscope"
)

// Supervisor observes fibers starting and ending.
//
// OnStart is called once, synchronously, before the child begins running.
// parent is [None] for root fibers forked by a [Runtime].
// OnEnd is called once, synchronously, as a completion observer.
// Implementations must be safe for concurrent use.
type Supervisor interface {
	OnStart(env dscope.Scope, computation any, parent FiberID, child Handle)
	OnEnd(exit Exit[any], fiber Handle)
}

type noSupervisor struct{ _ byte }

func (*noSupervisor) OnStart(dscope.Scope, any, FiberID, Handle) {}
func (*noSupervisor) OnEnd(Exit[any], Handle)                    {}

// NoSupervisor observes nothing. The fork path compares against it by
// identity and skips supervision entirely.
var NoSupervisor Supervisor = &noSupervisor{}

type fanout struct {
	sups []Supervisor
}

// Fanout returns a supervisor that notifies each of sups in order.
// NoSupervisor entries are dropped; with nothing left it returns NoSupervisor.
func Fanout(sups ...Supervisor) Supervisor {
	var out []Supervisor
	for _, s := range sups {
		if s == nil || s == NoSupervisor {
			continue
		}
		out = append(out, s)
	}
	switch len(out) {
	case 0:
		return NoSupervisor
	case 1:
		return out[0]
	}
	return &fanout{sups: out}
}

func (f *fanout) OnStart(env dscope.Scope, computation any, parent FiberID, child Handle) {
	for _, s := range f.sups {
		s.OnStart(env, computation, parent, child)
	}
}

func (f *fanout) OnEnd(exit Exit[any], fiber Handle) {
	for _, s := range f.sups {
		s.OnEnd(exit, fiber)
	}
}

// Tracker is a supervisor that keeps the set of live fibers.
type Tracker struct {
	mu     sync.Mutex
	fibers map[FiberID]Handle
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{fibers: make(map[FiberID]Handle)}
}

func (t *Tracker) OnStart(_ dscope.Scope, _ any, _ FiberID, child Handle) {
	t.mu.Lock()
	t.fibers[child.ID()] = child
	t.mu.Unlock()
}

func (t *Tracker) OnEnd(_ Exit[any], fiber Handle) {
	t.mu.Lock()
	delete(t.fibers, fiber.ID())
	t.mu.Unlock()
}

// Fibers returns the live fibers ordered by identity.
func (t *Tracker) Fibers() []Handle {
	t.mu.Lock()
	out := make([]Handle, 0, len(t.fibers))
	for _, h := range t.fibers {
		out = append(out, h)
	}
	t.mu.Unlock()
	sortHandles(out)
	return out
}

// LogSupervisor logs fiber lifecycle events.
// Starts and successful ends are logged at debug level, interruptions at
// info, failures at warn with the rendered cause.
type LogSupervisor struct {
	logger *slog.Logger
}

// NewLogSupervisor returns a supervisor logging to logger, or to
// slog.Default() when logger is nil.
func NewLogSupervisor(logger *slog.Logger) *LogSupervisor {
	return &LogSupervisor{logger: logger}
}

func (s *LogSupervisor) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

func (s *LogSupervisor) OnStart(_ dscope.Scope, _ any, parent FiberID, child Handle) {
	s.log().Debug("fiber started",
		"fiber", child.ID().String(),
		"parent", parent.String(),
		"flags", child.Flags().String(),
	)
}

func (s *LogSupervisor) OnEnd(exit Exit[any], fiber Handle) {
	cause := exit.Cause()
	switch {
	case cause == nil:
		s.log().Debug("fiber ended", "fiber", fiber.ID().String())
	case IsInterruptedOnly(cause):
		s.log().Info("fiber interrupted",
			"fiber", fiber.ID().String(),
			"by", interruptorNames(cause),
		)
	default:
		s.log().Warn("fiber failed",
			"fiber", fiber.ID().String(),
			"cause", Pretty(cause),
		)
	}
}

func interruptorNames(c Cause) []string {
	ids := Interruptors(c)
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = id.String()
	}
	return names
}

func sortHandles(hs []Handle) {
	slices.SortFunc(hs, func(a, b Handle) int {
		switch {
		case a.ID().Less(b.ID()):
			return -1
		case b.ID().Less(a.ID()):
			return 1
		}
		return 0
	})
}
