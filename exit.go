// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fiber

// Exit is the terminal result of a fiber: Success(value) or Failure(cause).
// The zero value is a success carrying the zero A.
type Exit[A any] struct {
	value A
	cause Cause
}

// ExitSucceed returns a successful exit carrying a.
func ExitSucceed[A any](a A) Exit[A] {
	return Exit[A]{value: a}
}

// ExitFailCause returns a failed exit carrying cause.
// A nil cause is normalized to [CauseEmpty].
func ExitFailCause[A any](cause Cause) Exit[A] {
	if cause == nil {
		cause = CauseEmpty{}
	}
	return Exit[A]{cause: cause}
}

// ExitFail returns a failed exit with a typed failure.
func ExitFail[A any](err any) Exit[A] {
	return ExitFailCause[A](CauseFail{Error: err})
}

// ExitInterrupt returns a failed exit interrupted by id.
func ExitInterrupt[A any](id FiberID) Exit[A] {
	return ExitFailCause[A](CauseInterrupt{FiberID: id})
}

// IsSuccess reports whether e is a success.
func (e Exit[A]) IsSuccess() bool {
	return e.cause == nil
}

// IsFailure reports whether e is a failure.
func (e Exit[A]) IsFailure() bool {
	return e.cause != nil
}

// Value returns the success value, or the zero A and false on failure.
func (e Exit[A]) Value() (A, bool) {
	return e.value, e.cause == nil
}

// Cause returns the failure cause, or nil on success.
func (e Exit[A]) Cause() Cause {
	return e.cause
}

// Erase drops the static type of the success value.
func (e Exit[A]) Erase() Exit[any] {
	if e.cause != nil {
		return Exit[any]{cause: e.cause}
	}
	return Exit[any]{value: e.value}
}

// MatchExit folds e with onFailure or onSuccess.
func MatchExit[A, B any](e Exit[A], onFailure func(Cause) B, onSuccess func(A) B) B {
	if e.cause != nil {
		return onFailure(e.cause)
	}
	return onSuccess(e.value)
}

// FlattenExit collapses a nested exit. An outer failure wins.
func FlattenExit[A any](e Exit[Exit[A]]) Exit[A] {
	if e.cause != nil {
		return ExitFailCause[A](e.cause)
	}
	return e.value
}

func unerase[A any](e Exit[any]) Exit[A] {
	if e.cause != nil {
		return Exit[A]{cause: e.cause}
	}
	return Exit[A]{value: cast[A](e.value)}
}

// cast recovers A from a type-erased value.
// nil maps to the zero A, following the kont nil-completion convention.
func cast[A any](v any) A {
	if v == nil {
		var zero A
		return zero
	}
	return v.(A)
}
