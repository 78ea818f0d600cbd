// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fiber

import (
	"code.hybscloud.com/kont"
)

// ForkJoin forks body, runs next with the child, then joins the child
// and combines both results. Fuses Fork + Bind + Join.
func ForkJoin[A, B, C any](body kont.Expr[A], next func(*Fiber[A]) kont.Expr[B], combine func(A, B) C) kont.Expr[C] {
	return kont.ExprBind(Fork(body), func(f *Fiber[A]) kont.Expr[C] {
		return kont.ExprBind(next(f), func(b B) kont.Expr[C] {
			return kont.ExprMap(Join(f), func(a A) C { return combine(a, b) })
		})
	})
}

// All runs bodies concurrently as children and completes with their
// values in order. The first failure in order fails All; the remaining
// children are interrupted when the calling fiber ends.
func All[A any](bodies ...kont.Expr[A]) kont.Expr[[]A] {
	return kont.ExprBind(forkAll(bodies), func(fs []*Fiber[A]) kont.Expr[[]A] {
		return joinAll(fs, make([]A, 0, len(fs)))
	})
}

func forkAll[A any](bodies []kont.Expr[A]) kont.Expr[[]*Fiber[A]] {
	return kont.ExprPerform(syncOp[[]*Fiber[A]]{f: func(rt *fiberRuntime) []*Fiber[A] {
		fs := make([]*Fiber[A], len(bodies))
		for i, body := range bodies {
			fs[i] = &Fiber[A]{rt.forkChild(erase(body), body)}
		}
		return fs
	}})
}

func joinAll[A any](fs []*Fiber[A], acc []A) kont.Expr[[]A] {
	if len(fs) == 0 {
		return kont.ExprReturn(acc)
	}
	return kont.ExprBind(Join(fs[0]), func(a A) kont.Expr[[]A] {
		return joinAll(fs[1:], append(acc, a))
	})
}
