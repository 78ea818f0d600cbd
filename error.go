// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fiber

import (
	"errors"
	"strings"
)

// FiberFailure is the host-side error for a fiber that ended with a failure.
//
// Title and Message split the first rendered failure at its first ": ".
// Trace is the full rendered cause, led by that failure and its stack.
// Error renders the same report.
type FiberFailure struct {
	Title   string
	Message string
	Trace   string
	cause   Cause
}

// NewFiberFailure wraps cause for the host's error channel.
func NewFiberFailure(cause Cause) *FiberFailure {
	if cause == nil {
		cause = CauseEmpty{}
	}
	f := &FiberFailure{cause: cause}
	if pretty := PrettyErrors(cause); len(pretty) > 0 {
		first := pretty[0]
		title, message, _ := strings.Cut(first.Message, ": ")
		f.Title = title
		f.Message = message
		f.Trace = Pretty(cause)
	}
	return f
}

// Cause returns the cause the failure was built from.
func (f *FiberFailure) Cause() Cause {
	return f.cause
}

func (f *FiberFailure) Error() string {
	return Pretty(f.cause)
}

// Unwrap returns the first typed failure or defect that is itself an error.
func (f *FiberFailure) Unwrap() error {
	for _, v := range append(Failures(f.cause), Defects(f.cause)...) {
		if err, ok := v.(error); ok {
			return err
		}
	}
	return nil
}

// AsyncFiberError reports that a synchronous run drained its scheduler
// while the fiber was still suspended on external input. It marks a caller
// contract violation and is never retryable.
type AsyncFiberError struct {
	Fiber Handle
}

// FiberID returns the identity of the still-running fiber.
func (e *AsyncFiberError) FiberID() FiberID {
	return e.Fiber.ID()
}

func (e *AsyncFiberError) Error() string {
	return "fiber: fiber " + e.Fiber.ID().String() + " has suspended work asynchronously"
}

// IsFiberFailure reports whether err wraps a [*FiberFailure].
func IsFiberFailure(err error) bool {
	var f *FiberFailure
	return errors.As(err, &f)
}

// IsAsyncFiberError reports whether err wraps an [*AsyncFiberError].
func IsAsyncFiberError(err error) bool {
	var a *AsyncFiberError
	return errors.As(err, &a)
}

// unwrapExit returns the value of e, or a [*FiberFailure] for its cause.
func unwrapExit[A any](e Exit[A]) (A, error) {
	if v, ok := e.Value(); ok {
		return v, nil
	}
	var zero A
	return zero, NewFiberFailure(e.Cause())
}
