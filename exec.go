// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fiber

import (
	"context"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/kont"
)

// Exec runs body to completion on the calling goroutine and returns its
// value, or a [*FiberFailure] if it failed.
//
// Unlike [RunSync], Exec waits out suspensions on external input with
// adaptive backoff (iox.Backoff). The fiber and the children it forks run
// only on the calling goroutine. When ctx is done the fiber is interrupted
// as [None] and Exec keeps waiting until it has ended.
func Exec[A any](ctx context.Context, r *Runtime, body kont.Expr[A]) (A, error) {
	s := NewSyncScheduler()
	f := RunFork(r, body, WithScheduler(s))
	cancelled := ctx.Done()
	var bo iox.Backoff
	for {
		if s.runPending() {
			bo.Reset()
			continue
		}
		select {
		case <-f.done:
			s.Flush()
			exit, _ := f.Poll()
			return unwrapExit(exit)
		case <-cancelled:
			cancelled = nil
			f.InterruptAsFork(None)
		default:
			bo.Wait()
		}
	}
}
