package docsync

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTimeSeededCounterIncreases(t *testing.T) {
	c := NewTimeSeededCounter()
	prev := c.Next()
	for i := 0; i < 1000; i++ {
		next := c.Next()
		assert.Greater(t, next, prev)
		prev = next
	}
}

func TestTimeSeededCounterConcurrent(t *testing.T) {
	c := NewTimeSeededCounter()
	const workers, perWorker = 8, 500

	ids := make(chan MsgID, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				ids <- c.Next()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[MsgID]struct{}, workers*perWorker)
	for id := range ids {
		_, dup := seen[id]
		assert.False(t, dup)
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, workers*perWorker)
}

func TestSeqCounter(t *testing.T) {
	var c SeqCounter
	assert.Equal(t, MsgID(1), c.Next())
	assert.Equal(t, MsgID(2), c.Next())
	assert.Equal(t, MsgID(3), c.Next())
}
