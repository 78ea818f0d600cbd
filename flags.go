// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fiber

import "strings"

// RuntimeFlags is the bit set of runtime behaviors a fiber runs with.
type RuntimeFlags uint32

const (
	// Interruption lets the fiber observe interruption requests.
	// It is cleared inside uninterruptible regions.
	Interruption RuntimeFlags = 1 << iota
	// CooperativeYielding makes long-running fibers yield to their scheduler.
	CooperativeYielding
	// RuntimeMetrics lets metric supervisors record the fiber.
	RuntimeMetrics
	// FiberRoots registers root fibers in the global fiber registry.
	FiberRoots
	// OpSupervision logs every primitive dispatch at debug level.
	OpSupervision
)

// DefaultFlags are the flags of [Default].
const DefaultFlags = Interruption | CooperativeYielding | RuntimeMetrics | FiberRoots

// NoFlags disables every behavior.
const NoFlags RuntimeFlags = 0

var flagNames = []struct {
	flag RuntimeFlags
	name string
}{
	{Interruption, "Interruption"},
	{CooperativeYielding, "CooperativeYielding"},
	{RuntimeMetrics, "RuntimeMetrics"},
	{FiberRoots, "FiberRoots"},
	{OpSupervision, "OpSupervision"},
}

// Enable returns f with flag set.
func (f RuntimeFlags) Enable(flag RuntimeFlags) RuntimeFlags {
	return f | flag
}

// Disable returns f with flag cleared.
func (f RuntimeFlags) Disable(flag RuntimeFlags) RuntimeFlags {
	return f &^ flag
}

// IsEnabled reports whether every bit of flag is set in f.
func (f RuntimeFlags) IsEnabled(flag RuntimeFlags) bool {
	return f&flag == flag
}

// Interruptible reports whether a fiber running with f observes interruption.
func (f RuntimeFlags) Interruptible() bool {
	return f.IsEnabled(Interruption)
}

func (f RuntimeFlags) String() string {
	var names []string
	for _, fn := range flagNames {
		if f.IsEnabled(fn.flag) {
			names = append(names, fn.name)
		}
	}
	if len(names) == 0 {
		return "RuntimeFlags()"
	}
	return "RuntimeFlags(" + strings.Join(names, "|") + ")"
}
