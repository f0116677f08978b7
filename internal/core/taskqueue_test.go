package core

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSerialTaskQueueRunsInOrder(t *testing.T) {
	q := NewSerialTaskQueue()
	defer q.Stop()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(5)

	for i := 0; i < 5; i++ {
		i := i
		q.Submit(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestSerialTaskQueueDrainsBeforeStopReturns(t *testing.T) {
	q := NewSerialTaskQueue()

	ran := false
	done := make(chan struct{})
	q.Submit(func() {
		ran = true
		close(done)
	})

	q.Stop()
	<-done
	assert.True(t, ran)
}

func TestSerialTaskQueueRejectsWorkAfterStop(t *testing.T) {
	q := NewSerialTaskQueue()
	q.Stop()

	ran := false
	q.Submit(func() { ran = true })
	assert.False(t, ran)
}
