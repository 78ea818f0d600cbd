// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package fiber runs [code.hybscloud.com/kont] computations as fibers:
// lightweight, cooperatively scheduled tasks that can be forked, observed,
// interrupted and supervised.
//
// A fiber steps its computation one primitive at a time with kont.StepExpr.
// Primitives are kont operations dispatched by the fiber; any other
// operation is a defect.
//
// # Architecture
//
//   - Results: every fiber ends with an [Exit], a success value or a [Cause].
//     Causes distinguish typed failures, defects (recovered panics) and
//     interruptions, and compose sequentially or in parallel.
//   - State: each fiber owns an immutable [FiberRefs] snapshot and its
//     [RuntimeFlags]. Forking copies the snapshot and re-keys it under the
//     child, so later changes in the parent never reach the child.
//   - Scheduling: a [Scheduler] drives fiber steps. [AsyncScheduler] drains
//     a lock-free run queue on demand; [SyncScheduler] drains on the caller.
//     Each fiber has a mailbox, and at most one goroutine drives it at a time.
//   - Interruption: cooperative. A request is observed at the next primitive
//     or wakes a suspended fiber, and is deferred inside uninterruptible regions.
//   - Supervision: a [Supervisor] sees every fiber start and end.
//     [NoSupervisor] is skipped by identity.
//
// # API Topologies
//
//   - Primitives: [Succeed], [Fail], [Die], [FailCause], [Sync], [Suspend],
//     [Yield], [ID], [Fork], [Join], [Await], [Interrupt], [InterruptAs],
//     [CatchAllCause], [ExitOf], [Ensuring], [Uninterruptible],
//     [Interruptible], [UninterruptibleMask], [Get], [Set], [Locally],
//     [Service], [Provide], [CurrentRuntime], [Log].
//   - Bridging: [Deferred] cells with [DeferredAwait]; [Async] turns a
//     callback registration into a computation; [Sleep] parks on a timer.
//   - Recursion and fan-out: [Loop], [Repeat], [Forever], [All], [ForkJoin].
//
// # Integration
//
//   - [RunFork] and [RunCallback] start root fibers without waiting.
//   - [RunSync] and [RunSyncExit] run on the calling goroutine and never
//     block: a computation still waiting on external input yields an
//     [*AsyncFiberError].
//   - [RunPromise] and [RunPromiseExit] settle a [Promise].
//   - [Exec] runs on the calling goroutine and waits out suspensions with
//     adaptive backoff.
//   - Failures cross to the host as [*FiberFailure].
//
// # Example
//
//	prog := kont.ExprBind(fiber.Fork(fiber.Succeed(20)), func(f *fiber.Fiber[int]) kont.Expr[int] {
//		return kont.ExprMap(fiber.Join(f), func(n int) int { return n + 22 })
//	})
//	v, err := fiber.RunSync(fiber.Default(), prog) // 42, nil
package fiber
