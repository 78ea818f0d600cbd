// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fiber

import (
	"code.hybscloud.com/kont"
)

// Loop runs a recursive computation.
// step returns Left(nextState) to continue or Right(result) to finish.
// Each iteration is a primitive dispatch, so long loops take part in
// cooperative yielding and observe interruption between iterations.
func Loop[S, A any](initial S, step func(S) kont.Expr[kont.Either[S, A]]) kont.Expr[A] {
	return kont.ExprBind(Suspend(func() kont.Expr[kont.Either[S, A]] { return step(initial) }),
		func(e kont.Either[S, A]) kont.Expr[A] {
			if next, ok := e.GetLeft(); ok {
				return Loop(next, step)
			}
			result, _ := e.GetRight()
			return kont.ExprReturn(result)
		})
}

// Repeat runs the computation built by body n times and completes with the
// last result, or the zero value when n is not positive. body is called
// once per iteration; a computation value is never run twice.
func Repeat[A any](n int, body func() kont.Expr[A]) kont.Expr[A] {
	type state struct {
		i    int
		last A
	}
	return Loop(state{}, func(s state) kont.Expr[kont.Either[state, A]] {
		if s.i >= n {
			return kont.ExprReturn(kont.Right[state](s.last))
		}
		return kont.ExprMap(body(), func(a A) kont.Either[state, A] {
			return kont.Left[state, A](state{i: s.i + 1, last: a})
		})
	})
}

// Forever runs the computation built by body until it fails or the fiber
// is interrupted.
func Forever[A any](body func() kont.Expr[A]) kont.Expr[struct{}] {
	return Loop(struct{}{}, func(struct{}) kont.Expr[kont.Either[struct{}, struct{}]] {
		return kont.ExprMap(body(), func(A) kont.Either[struct{}, struct{}] {
			return kont.Left[struct{}, struct{}](struct{}{})
		})
	})
}
