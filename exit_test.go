// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fiber_test

import (
	"testing"

	"code.hybscloud.com/fiber"
)

func TestExitAccessors(t *testing.T) {
	ok := fiber.ExitSucceed(3)
	if v, isOK := ok.Value(); !isOK || v != 3 || !ok.IsSuccess() || ok.Cause() != nil {
		t.Fatalf("success exit misreports: %v %v", v, isOK)
	}
	bad := fiber.ExitFail[int]("e")
	if _, isOK := bad.Value(); isOK || !bad.IsFailure() {
		t.Fatal("failure exit reports a value")
	}
	if fiber.ExitFailCause[int](nil).Cause() == nil {
		t.Fatal("nil cause not normalised to empty")
	}
	id := fiber.NewFiberID()
	if got := fiber.Interruptors(fiber.ExitInterrupt[int](id).Cause()); len(got) != 1 || got[0] != id {
		t.Fatalf("got interruptors %v, want [%v]", got, id)
	}
}

func TestMatchExit(t *testing.T) {
	render := func(e fiber.Exit[int]) string {
		return fiber.MatchExit(e,
			func(c fiber.Cause) string { return "fail:" + fiber.Pretty(c) },
			func(v int) string { return "ok" },
		)
	}
	if got := render(fiber.ExitSucceed(1)); got != "ok" {
		t.Fatalf("got %q", got)
	}
	if got := render(fiber.ExitFail[int]("x")); got != "fail:Error: x" {
		t.Fatalf("got %q", got)
	}
}

func TestFlattenExitAndErase(t *testing.T) {
	inner := fiber.ExitFail[int]("inner")
	if got := fiber.FlattenExit(fiber.ExitSucceed(inner)); got.Cause() != inner.Cause() {
		t.Fatalf("got %v, want inner cause", got.Cause())
	}
	outer := fiber.ExitFail[fiber.Exit[int]]("outer")
	mustFailure(t, fiber.FlattenExit(outer), "outer")

	erased := fiber.ExitSucceed(5).Erase()
	if v, ok := erased.Value(); !ok || v != 5 {
		t.Fatalf("got %v, want 5", v)
	}
}
