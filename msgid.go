package docsync

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// MsgID is the sole ack-matching key of the sink.
type MsgID = uint64

// MsgIDCounter mints strictly increasing message ids. Counters are
// injected, never ambient, so tests can substitute SeqCounter.
type MsgIDCounter interface {
	Next() MsgID
}

const randomMask = (1 << 12) - 1

// TimeSeededCounter seeds from wall-clock millis in the high bits and
// 12 random low bits, then only ever increments: ids stay strictly
// increasing within a process even if the wall clock regresses, and
// stay collision-resistant across restarts.
type TimeSeededCounter struct {
	mu   sync.Mutex
	last MsgID
}

func NewTimeSeededCounter() *TimeSeededCounter {
	millis := uint64(time.Now().UnixMilli())
	random := uint64(rand.Uint32()) & randomMask
	return &TimeSeededCounter{last: millis<<16 | random}
}

func (c *TimeSeededCounter) Next() MsgID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last++
	return c.last
}

// SeqCounter counts from 1; deterministic, for tests.
type SeqCounter struct {
	last atomic.Uint64
}

func (c *SeqCounter) Next() MsgID {
	return c.last.Add(1)
}
