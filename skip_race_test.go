// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build race

package fiber_test

import "testing"

// skipRace skips tests that hand fibers across goroutines.
// Mailboxes and run queues are built on lfq SPSC rings; the race detector
// tracks per-variable happens-before and cannot see their cross-variable
// memory ordering (store-release on data, load-acquire on index),
// producing false positives.
func skipRace(tb testing.TB) {
	tb.Helper()
	tb.Skip("skip: SPSC uses cross-variable memory ordering")
}
