// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fiber

import "sync"

// fiberScope is the process-wide registry of root fibers.
// It is created with the process; entries are added when a runtime forks
// a fiber with [FiberRoots] enabled and removed when that fiber completes.
// Access goes through [Runtime].
type fiberScope struct {
	mu    sync.Mutex
	roots map[FiberID]*fiberRuntime
}

var globalScope = &fiberScope{roots: make(map[FiberID]*fiberRuntime)}

func (s *fiberScope) add(flags RuntimeFlags, f *fiberRuntime) {
	if !flags.IsEnabled(FiberRoots) {
		return
	}
	s.mu.Lock()
	s.roots[f.id] = f
	s.mu.Unlock()
	f.AddObserverAny(func(Exit[any]) {
		s.mu.Lock()
		delete(s.roots, f.id)
		s.mu.Unlock()
	})
}

func (s *fiberScope) snapshot() []Handle {
	s.mu.Lock()
	out := make([]Handle, 0, len(s.roots))
	for _, f := range s.roots {
		out = append(out, f)
	}
	s.mu.Unlock()
	sortHandles(out)
	return out
}
