// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fiber_test

import (
	"context"
	"testing"

	"code.hybscloud.com/fiber"
	"code.hybscloud.com/kont"
)

// BenchmarkRunSyncSucceed measures the fixed cost of a synchronous run.
func BenchmarkRunSyncSucceed(b *testing.B) {
	b.ReportAllocs()
	rt := fiber.Default()
	for b.Loop() {
		fiber.RunSync(rt, fiber.Succeed(42))
	}
}

// BenchmarkSyncChain measures dispatching a chain of Sync primitives.
func BenchmarkSyncChain(b *testing.B) {
	b.ReportAllocs()
	rt := fiber.Default()
	for b.Loop() {
		prog := fiber.Sync(func() int { return 0 })
		for range 16 {
			prog = kont.ExprBind(prog, func(n int) kont.Expr[int] {
				return fiber.Sync(func() int { return n + 1 })
			})
		}
		fiber.RunSync(rt, prog)
	}
}

// BenchmarkForkJoin measures forking and joining one child.
func BenchmarkForkJoin(b *testing.B) {
	b.ReportAllocs()
	rt := fiber.Default()
	for b.Loop() {
		prog := fiber.ForkJoin(fiber.Succeed(1), func(*fiber.Fiber[int]) kont.Expr[int] {
			return fiber.Succeed(2)
		}, func(x, y int) int { return x + y })
		fiber.RunSync(rt, prog)
	}
}

// BenchmarkCatchAllCause measures failing into a handler.
func BenchmarkCatchAllCause(b *testing.B) {
	b.ReportAllocs()
	rt := fiber.Default()
	for b.Loop() {
		prog := fiber.CatchAllCause(fiber.Fail[int]("x"), func(fiber.Cause) kont.Expr[int] {
			return fiber.Succeed(0)
		})
		fiber.RunSync(rt, prog)
	}
}

// BenchmarkLoop1K measures a thousand loop iterations.
func BenchmarkLoop1K(b *testing.B) {
	b.ReportAllocs()
	rt := fiber.Default()
	for b.Loop() {
		prog := fiber.Loop(0, func(i int) kont.Expr[kont.Either[int, int]] {
			if i == 1000 {
				return fiber.Succeed(kont.Right[int](i))
			}
			return fiber.Succeed(kont.Left[int, int](i + 1))
		})
		fiber.RunSync(rt, prog)
	}
}

// BenchmarkAll8 measures fan-out to eight children.
func BenchmarkAll8(b *testing.B) {
	b.ReportAllocs()
	rt := fiber.Default()
	bodies := make([]kont.Expr[int], 8)
	for b.Loop() {
		for i := range bodies {
			bodies[i] = fiber.Succeed(i)
		}
		fiber.RunSync(rt, fiber.All(bodies...))
	}
}

// BenchmarkRunPromise measures a round trip through the async scheduler.
func BenchmarkRunPromise(b *testing.B) {
	skipRace(b)
	b.ReportAllocs()
	rt := fiber.Default()
	ctx := context.Background()
	for b.Loop() {
		fiber.RunPromise(rt, fiber.Succeed(1)).Wait(ctx)
	}
}

// BenchmarkFiberRefsFork measures snapshot derivation for a child.
func BenchmarkFiberRefsFork(b *testing.B) {
	b.ReportAllocs()
	refs := fiber.EmptyRefs()
	for i := range 8 {
		refs = fiber.UpdatedAs(refs, fiber.None, fiber.NewFiberRef("r", 0), i)
	}
	id := fiber.NewFiberID()
	for b.Loop() {
		refs.ForkAs(id)
	}
}
