// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fiber

import (
	"fmt"
	"slices"
	"strings"
)

// Cause describes why a fiber did not succeed.
//
// Cause is a closed sum: [CauseEmpty], [CauseFail], [CauseDie],
// [CauseInterrupt], [CauseSequential] and [CauseParallel].
// Values are immutable and may be shared freely between fibers.
type Cause interface {
	isCause()
}

// CauseEmpty is the cause that carries no information.
type CauseEmpty struct{}

// CauseFail is an expected, typed failure raised by the computation.
type CauseFail struct {
	Error any
}

// CauseDie is an unexpected fault (a defect), typically a recovered panic.
// Stack holds the goroutine trace captured where the defect was observed.
type CauseDie struct {
	Defect any
	Stack  string
}

// CauseInterrupt records cooperative cancellation requested by FiberID.
type CauseInterrupt struct {
	FiberID FiberID
}

// CauseSequential composes causes that happened one after another.
type CauseSequential struct {
	Left, Right Cause
}

// CauseParallel composes causes that happened concurrently.
type CauseParallel struct {
	Left, Right Cause
}

func (CauseEmpty) isCause()      {}
func (CauseFail) isCause()       {}
func (CauseDie) isCause()        {}
func (CauseInterrupt) isCause()  {}
func (CauseSequential) isCause() {}
func (CauseParallel) isCause()   {}

// Seq composes left then right. Empty operands are dropped.
func Seq(left, right Cause) Cause {
	if IsEmpty(left) {
		return right
	}
	if IsEmpty(right) {
		return left
	}
	return CauseSequential{Left: left, Right: right}
}

// Par composes left and right as concurrent causes. Empty operands are dropped.
func Par(left, right Cause) Cause {
	if IsEmpty(left) {
		return right
	}
	if IsEmpty(right) {
		return left
	}
	return CauseParallel{Left: left, Right: right}
}

// IsEmpty reports whether c contains no leaf other than [CauseEmpty].
func IsEmpty(c Cause) bool {
	if c == nil {
		return true
	}
	for _, leaf := range Flatten(c) {
		if _, ok := leaf.(CauseEmpty); !ok {
			return false
		}
	}
	return true
}

// Flatten returns the leaves of c from left to right.
// Composite nodes are dissolved; empty leaves are kept.
func Flatten(c Cause) []Cause {
	var out []Cause
	stack := []Cause{c}
	for len(stack) > 0 {
		n := len(stack) - 1
		cur := stack[n]
		stack = stack[:n]
		switch v := cur.(type) {
		case nil:
		case CauseSequential:
			stack = append(stack, v.Right, v.Left)
		case CauseParallel:
			stack = append(stack, v.Right, v.Left)
		default:
			out = append(out, v)
		}
	}
	return out
}

// IsInterrupted reports whether c contains an interruption.
func IsInterrupted(c Cause) bool {
	for _, leaf := range Flatten(c) {
		if _, ok := leaf.(CauseInterrupt); ok {
			return true
		}
	}
	return false
}

// IsInterruptedOnly reports whether every non-empty leaf of c is an interruption.
func IsInterruptedOnly(c Cause) bool {
	found := false
	for _, leaf := range Flatten(c) {
		switch leaf.(type) {
		case CauseEmpty:
		case CauseInterrupt:
			found = true
		default:
			return false
		}
	}
	return found
}

// IsFailure reports whether c contains a typed failure.
func IsFailure(c Cause) bool {
	return len(Failures(c)) > 0
}

// IsDie reports whether c contains a defect.
func IsDie(c Cause) bool {
	return len(Defects(c)) > 0
}

// Failures returns the typed failure values in c.
func Failures(c Cause) []any {
	var out []any
	for _, leaf := range Flatten(c) {
		if f, ok := leaf.(CauseFail); ok {
			out = append(out, f.Error)
		}
	}
	return out
}

// Defects returns the defect values in c.
func Defects(c Cause) []any {
	var out []any
	for _, leaf := range Flatten(c) {
		if d, ok := leaf.(CauseDie); ok {
			out = append(out, d.Defect)
		}
	}
	return out
}

// Interruptors returns the distinct fibers that interrupted, ordered by sequence.
func Interruptors(c Cause) []FiberID {
	var out []FiberID
	for _, leaf := range Flatten(c) {
		if i, ok := leaf.(CauseInterrupt); ok && !slices.Contains(out, i.FiberID) {
			out = append(out, i.FiberID)
		}
	}
	slices.SortFunc(out, func(a, b FiberID) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		}
		return 0
	})
	return out
}

// FailureOrCause returns the first typed failure of c, or reports false.
func FailureOrCause(c Cause) (any, bool) {
	if fs := Failures(c); len(fs) > 0 {
		return fs[0], true
	}
	return nil, false
}

// PrettyError is one rendered leaf of a cause.
// Message has the shape "Title: detail"; Stack may be empty.
type PrettyError struct {
	Message string
	Stack   string
}

// PrettyErrors renders each failure, defect and interruption of c.
// Failures and defects come first, in cause order, followed by interruptions.
func PrettyErrors(c Cause) []PrettyError {
	var errs, interrupts []PrettyError
	for _, leaf := range Flatten(c) {
		switch v := leaf.(type) {
		case CauseEmpty:
		case CauseFail:
			errs = append(errs, PrettyError{Message: "Error: " + render(v.Error)})
		case CauseDie:
			errs = append(errs, PrettyError{Message: "Defect: " + render(v.Defect), Stack: v.Stack})
		case CauseInterrupt:
			interrupts = append(interrupts, PrettyError{
				Message: "InterruptedException: Interrupted by fiber " + v.FiberID.String(),
			})
		}
	}
	return append(errs, interrupts...)
}

// Pretty renders c as a human-readable multi-line report.
func Pretty(c Cause) string {
	pretty := PrettyErrors(c)
	if len(pretty) == 0 {
		return "All fibers interrupted without errors."
	}
	var b strings.Builder
	for i, p := range pretty {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(p.Message)
		if p.Stack != "" {
			b.WriteByte('\n')
			b.WriteString(strings.TrimRight(p.Stack, "\n"))
		}
	}
	return b.String()
}

func render(v any) string {
	switch x := v.(type) {
	case error:
		return x.Error()
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprintf("%v", v)
}
