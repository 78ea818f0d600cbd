// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fiber

import (
	"strconv"
	"time"

	"code.hybscloud.com/atomix"
)

// FiberID identifies a fiber by a monotonically increasing sequence number
// and the wall-clock millisecond at which it was created.
// The zero value is [None].
type FiberID struct {
	Seq         uint32
	StartMillis int64
}

// None is the sentinel identity used when no fiber is responsible,
// e.g. interruption requested from outside any fiber.
var None = FiberID{}

// counter is the global monotonic counter for fiber sequence numbers.
var counter atomix.Uint32

// NewFiberID returns the next fiber identity.
func NewFiberID() FiberID {
	return FiberID{
		Seq:         counter.Add(1),
		StartMillis: time.Now().UnixMilli(),
	}
}

// IsNone reports whether id is the [None] sentinel.
func (id FiberID) IsNone() bool {
	return id.Seq == 0
}

// Less orders identities by sequence number.
func (id FiberID) Less(other FiberID) bool {
	return id.Seq < other.Seq
}

func (id FiberID) String() string {
	if id.IsNone() {
		return "#none"
	}
	return "#" + strconv.FormatUint(uint64(id.Seq), 10)
}
