// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fiber

import (
	"log/slog"
	"maps"

	"github.com/reusee/dscope"
)

// Env is the read-only, type-indexed lookup table a fiber runs with.
// Extending it with Fork returns a new table and leaves the original intact.
type Env = dscope.Scope

// FiberRef is a typed key for a fiber-inheritable value.
// Refs are compared by identity; create them once with [NewFiberRef].
type FiberRef[T any] struct {
	name    string
	initial T
	fork    func(T) T
}

// NewFiberRef returns a ref whose value is initial until set,
// and which children inherit unchanged.
func NewFiberRef[T any](name string, initial T) *FiberRef[T] {
	return &FiberRef[T]{name: name, initial: initial}
}

// NewFiberRefWithFork is like [NewFiberRef] but applies fork to the
// value each time a child fiber inherits it.
func NewFiberRefWithFork[T any](name string, initial T, fork func(T) T) *FiberRef[T] {
	return &FiberRef[T]{name: name, initial: initial, fork: fork}
}

// Name returns the diagnostic name of the ref.
func (r *FiberRef[T]) Name() string {
	return r.name
}

// Initial returns the value a snapshot yields when the ref was never set.
func (r *FiberRef[T]) Initial() T {
	return r.initial
}

func (r *FiberRef[T]) forkAny(v any) any {
	if r.fork == nil {
		return v
	}
	return r.fork(cast[T](v))
}

// anyRef is the type-erased view of *FiberRef[T] used as a snapshot key.
type anyRef interface {
	forkAny(v any) any
	Name() string
}

// Built-in refs read by the runtime.
var (
	// CurrentEnvironment is the environment lookup table of the fiber.
	CurrentEnvironment = NewFiberRef[Env]("environment", dscope.New())
	// CurrentScheduler drives the fiber's execution steps.
	CurrentScheduler = NewFiberRef[Scheduler]("scheduler", DefaultScheduler)
	// CurrentSupervisor is notified when fibers start and end.
	CurrentSupervisor = NewFiberRef("supervisor", NoSupervisor)
	// CurrentLogger is the fiber's logger; nil means slog.Default().
	CurrentLogger = NewFiberRef[*slog.Logger]("logger", nil)
	// MaxOpsBeforeYield bounds primitive dispatches between cooperative yields.
	MaxOpsBeforeYield = NewFiberRef("maxOpsBeforeYield", 2048)
)

type refEntry struct {
	owner FiberID
	value any
}

// FiberRefs is an immutable snapshot of fiber ref values, each keyed under
// the fiber that set or inherited it.
// Every update returns a new snapshot; snapshots never share mutable state.
// The zero value is an empty snapshot.
type FiberRefs struct {
	entries map[anyRef]refEntry
}

// EmptyRefs returns a snapshot in which every ref holds its initial value.
func EmptyRefs() FiberRefs {
	return FiberRefs{}
}

// Len returns the number of refs explicitly present in refs.
func (refs FiberRefs) Len() int {
	return len(refs.entries)
}

// GetRef returns the value of ref in refs, or its initial value.
func GetRef[T any](refs FiberRefs, ref *FiberRef[T]) T {
	if v, ok := LookupRef(refs, ref); ok {
		return v
	}
	return ref.initial
}

// LookupRef returns the value of ref if it is present in refs.
func LookupRef[T any](refs FiberRefs, ref *FiberRef[T]) (T, bool) {
	e, ok := refs.entries[ref]
	if !ok {
		var zero T
		return zero, false
	}
	return cast[T](e.value), true
}

// RefOwner returns the fiber under which ref is keyed in refs.
func RefOwner[T any](refs FiberRefs, ref *FiberRef[T]) (FiberID, bool) {
	e, ok := refs.entries[ref]
	return e.owner, ok
}

// UpdatedAs returns a copy of refs in which ref holds v, keyed under id.
func UpdatedAs[T any](refs FiberRefs, id FiberID, ref *FiberRef[T], v T) FiberRefs {
	next := make(map[anyRef]refEntry, len(refs.entries)+1)
	maps.Copy(next, refs.entries)
	next[ref] = refEntry{owner: id, value: v}
	return FiberRefs{entries: next}
}

// ForkAs derives the snapshot a child fiber starts with: each value passes
// through its ref's fork function and is re-keyed under child.
func (refs FiberRefs) ForkAs(child FiberID) FiberRefs {
	next := make(map[anyRef]refEntry, len(refs.entries))
	for ref, e := range refs.entries {
		next[ref] = refEntry{owner: child, value: ref.forkAny(e.value)}
	}
	return FiberRefs{entries: next}
}

// Names returns the diagnostic names of the refs present in refs.
func (refs FiberRefs) Names() []string {
	names := make([]string, 0, len(refs.entries))
	for ref := range refs.entries {
		names = append(names, ref.Name())
	}
	return names
}

func loggerOf(refs FiberRefs) *slog.Logger {
	if l := GetRef(refs, CurrentLogger); l != nil {
		return l
	}
	return slog.Default()
}
