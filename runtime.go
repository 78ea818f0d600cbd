// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fiber

import (
	"log/slog"

	"code.hybscloud.com/kont"
	"github.com/reusee/dscope"
)

// Runtime bundles the environment, runtime flags and ref snapshot that
// root fibers start from. A Runtime is immutable and safe for concurrent use.
type Runtime struct {
	env   Env
	flags RuntimeFlags
	refs  FiberRefs
}

// Option configures a [Runtime].
type Option func(*runtimeConfig)

type runtimeConfig struct {
	env   Env
	flags RuntimeFlags
	refs  FiberRefs
}

func defaultRuntimeConfig() runtimeConfig {
	return runtimeConfig{
		env:   dscope.New(),
		flags: DefaultFlags,
		refs:  EmptyRefs(),
	}
}

// WithEnvironment sets the environment root fibers run with.
func WithEnvironment(env Env) Option {
	return func(c *runtimeConfig) { c.env = env }
}

// WithFlags sets the runtime flags root fibers run with.
func WithFlags(flags RuntimeFlags) Option {
	return func(c *runtimeConfig) { c.flags = flags }
}

// WithRefs replaces the base ref snapshot. Options applied after it
// update the new snapshot.
func WithRefs(refs FiberRefs) Option {
	return func(c *runtimeConfig) { c.refs = refs }
}

// WithSupervisor attaches sup to every fiber forked by the runtime and
// by its fibers.
func WithSupervisor(sup Supervisor) Option {
	return func(c *runtimeConfig) { c.refs = UpdatedAs(c.refs, None, CurrentSupervisor, sup) }
}

// WithLogger sets the logger fibers log through.
func WithLogger(logger *slog.Logger) Option {
	return func(c *runtimeConfig) { c.refs = UpdatedAs(c.refs, None, CurrentLogger, logger) }
}

// WithDefaultScheduler sets the scheduler fibers run on unless a fork overrides it.
func WithDefaultScheduler(s Scheduler) Option {
	return func(c *runtimeConfig) { c.refs = UpdatedAs(c.refs, None, CurrentScheduler, s) }
}

// WithMaxOpsBeforeYield sets how many primitives a fiber dispatches before
// a cooperative yield. Zero or less disables yielding by count.
func WithMaxOpsBeforeYield(n int) Option {
	return func(c *runtimeConfig) { c.refs = UpdatedAs(c.refs, None, MaxOpsBeforeYield, n) }
}

// New returns a runtime configured by opts.
func New(opts ...Option) *Runtime {
	cfg := defaultRuntimeConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Runtime{env: cfg.env, flags: cfg.flags, refs: cfg.refs}
}

var defaultRuntime = New()

// Default returns the process-wide runtime: empty environment,
// [DefaultFlags], [DefaultScheduler] and no supervisor.
func Default() *Runtime {
	return defaultRuntime
}

// Env returns the runtime's environment.
func (r *Runtime) Env() Env { return r.env }

// Flags returns the runtime's flags.
func (r *Runtime) Flags() RuntimeFlags { return r.flags }

// Refs returns the runtime's base ref snapshot.
func (r *Runtime) Refs() FiberRefs { return r.refs }

// Fibers returns the live root fibers of the process-wide registry,
// ordered by identity.
func (r *Runtime) Fibers() []Handle {
	return globalScope.snapshot()
}

// InterruptAllAs interrupts every live root fiber on behalf of id.
func (r *Runtime) InterruptAllAs(id FiberID) {
	for _, h := range globalScope.snapshot() {
		h.InterruptAsFork(id)
	}
}

// CurrentRuntime captures the running fiber's environment, flags and refs
// as a runtime.
func CurrentRuntime() kont.Expr[*Runtime] {
	return kont.ExprPerform(syncOp[*Runtime]{f: func(rt *fiberRuntime) *Runtime {
		return &Runtime{env: GetRef(rt.refs, CurrentEnvironment), flags: rt.flags, refs: rt.refs}
	}})
}

// ForkOption configures a single fork.
type ForkOption func(*forkConfig)

type forkConfig struct {
	scheduler  Scheduler
	updateRefs func(refs FiberRefs, id FiberID) FiberRefs
}

// WithScheduler runs the forked fiber on s.
func WithScheduler(s Scheduler) ForkOption {
	return func(c *forkConfig) { c.scheduler = s }
}

// WithUpdateRefs transforms the derived snapshot before the fiber starts.
// f receives the new fiber's identity.
func WithUpdateRefs(f func(refs FiberRefs, id FiberID) FiberRefs) ForkOption {
	return func(c *forkConfig) { c.updateRefs = f }
}

// RunFork starts body as a root fiber and returns it without waiting.
func RunFork[A any](r *Runtime, body kont.Expr[A], opts ...ForkOption) *Fiber[A] {
	return &Fiber[A]{r.fork(erase(body), body, opts)}
}

// fork derives the child snapshot, wires the supervisor before the fiber
// can run, registers the fiber and starts it.
func (r *Runtime) fork(body kont.Expr[kont.Erased], computation any, opts []ForkOption) *fiberRuntime {
	var cfg forkConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	id := NewFiberID()
	refs := UpdatedAs(r.refs, id, CurrentEnvironment, r.env)
	if cfg.scheduler != nil {
		refs = UpdatedAs(refs, id, CurrentScheduler, cfg.scheduler)
	}
	if cfg.updateRefs != nil {
		refs = cfg.updateRefs(refs, id)
	}
	f := newFiberRuntime(id, refs.ForkAs(id), r.flags, None)
	if sup := f.supervisor; sup != NoSupervisor {
		sup.OnStart(r.env, computation, None, f)
		f.AddObserverAny(func(exit Exit[any]) { sup.OnEnd(exit, f) })
	}
	globalScope.add(r.flags, f)
	f.start(body)
	return f
}
