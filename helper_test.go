// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fiber_test

import (
	"context"
	"testing"
	"time"

	"code.hybscloud.com/fiber"
	"code.hybscloud.com/kont"
)

// mustRunSync runs body with RunSync on the default runtime and fails the
// test on any error.
func mustRunSync[A any](tb testing.TB, body kont.Expr[A]) A {
	tb.Helper()
	v, err := fiber.RunSync(fiber.Default(), body)
	if err != nil {
		tb.Fatalf("RunSync: %v", err)
	}
	return v
}

// mustRunSyncExit is like mustRunSync but returns the exit.
func mustRunSyncExit[A any](tb testing.TB, body kont.Expr[A]) fiber.Exit[A] {
	tb.Helper()
	e, err := fiber.RunSyncExit(fiber.Default(), body)
	if err != nil {
		tb.Fatalf("RunSyncExit: %v", err)
	}
	return e
}

// waitExit blocks until f completes, failing the test after five seconds.
func waitExit[A any](tb testing.TB, f *fiber.Fiber[A]) fiber.Exit[A] {
	tb.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	e, err := f.Wait(ctx)
	if err != nil {
		tb.Fatalf("fiber %s did not complete: %v", f.ID(), err)
	}
	return e
}

// recv receives from ch, failing the test after five seconds.
func recv[T any](tb testing.TB, ch <-chan T) T {
	tb.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		tb.Fatal("timed out waiting for a value")
		panic("unreachable")
	}
}

// never suspends until the fiber is interrupted.
func never[A any]() kont.Expr[A] {
	return kont.ExprBind(fiber.MakeDeferred[A](), fiber.DeferredJoin[A])
}

// signal closes ch when the fiber reaches it.
func signal(ch chan struct{}) kont.Expr[struct{}] {
	return fiber.Sync(func() struct{} {
		close(ch)
		return struct{}{}
	})
}

// mustFailure asserts e failed with the single typed failure want.
func mustFailure[A any](tb testing.TB, e fiber.Exit[A], want any) {
	tb.Helper()
	if e.IsSuccess() {
		tb.Fatalf("got success, want failure %v", want)
	}
	got, ok := fiber.FailureOrCause(e.Cause())
	if !ok || got != want {
		tb.Fatalf("got cause %s, want failure %v", fiber.Pretty(e.Cause()), want)
	}
}
