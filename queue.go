// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fiber

import (
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/lfq"
)

// queueCapacity is the bounded ring capacity of a run queue or mailbox.
// Bursts beyond it spill into an overflow list that preserves FIFO order.
const queueCapacity = 256

// mpscQueue is a multi-producer single-consumer FIFO.
//
// Producers serialize on mu and enqueue into a bounded lock-free SPSC ring,
// so the ring always sees exactly one producer. The consumer dequeues
// without taking the lock until the ring runs dry.
// Whoever holds mu acts as the ring's producer, including the consumer
// when it refills the ring from overflow.
type mpscQueue[T any] struct {
	mu       sync.Mutex
	ring     lfq.SPSC[T]
	overflow []T
	size     atomix.Uint32
	slot     T
}

func newMPSCQueue[T any]() *mpscQueue[T] {
	q := &mpscQueue[T]{}
	q.ring.Init(queueCapacity)
	return q
}

// Push appends v. Safe for concurrent use.
func (q *mpscQueue[T]) Push(v T) {
	q.size.Add(1)
	q.mu.Lock()
	if len(q.overflow) > 0 {
		q.overflow = append(q.overflow, v)
	} else {
		q.slot = v
		if err := q.ring.Enqueue(&q.slot); err != nil {
			q.overflow = append(q.overflow, v)
		}
	}
	var zero T
	q.slot = zero
	q.mu.Unlock()
}

// Pop removes the oldest element. Only the consumer may call Pop.
func (q *mpscQueue[T]) Pop() (T, bool) {
	v, err := q.ring.Dequeue()
	if err == nil {
		q.size.Add(^uint32(0))
		return v, true
	}
	if !q.refill() {
		var zero T
		return zero, false
	}
	v, err = q.ring.Dequeue()
	if err != nil {
		var zero T
		return zero, false
	}
	q.size.Add(^uint32(0))
	return v, true
}

// refill moves overflow into the ring and reports whether anything moved.
func (q *mpscQueue[T]) refill() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	moved := 0
	for moved < len(q.overflow) {
		q.slot = q.overflow[moved]
		if err := q.ring.Enqueue(&q.slot); err != nil {
			break
		}
		moved++
	}
	var zero T
	q.slot = zero
	clear(q.overflow[:moved])
	q.overflow = q.overflow[moved:]
	return moved > 0
}

// Len returns the number of queued elements. It may be stale by the time
// the caller observes it.
func (q *mpscQueue[T]) Len() int {
	return int(q.size.Load())
}
