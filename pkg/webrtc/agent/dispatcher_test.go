package agent

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDispatcher_OrderPerKey(t *testing.T) {
	d := newDispatcher()
	var mu sync.Mutex
	var got []int

	for i := 0; i < 100; i++ {
		i := i
		d.Submit("v1", func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	d.Flush()

	assert.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestDispatcher_KeysRunIndependently(t *testing.T) {
	d := newDispatcher()
	release := make(chan struct{})
	done := make(chan struct{})

	d.Submit("slow", func() { <-release })
	d.Submit("fast", func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("a blocked key held up another key")
	}
	close(release)
	d.Flush()
}

func TestDispatcher_CloseDiscards(t *testing.T) {
	d := newDispatcher()
	release := make(chan struct{})
	started := make(chan struct{})
	ran := make(chan int, 2)

	d.Submit("v1", func() { close(started); <-release; ran <- 1 })
	d.Submit("v1", func() { ran <- 2 })
	<-started
	d.Close()
	close(release)
	d.Flush()

	assert.False(t, d.Submit("v1", func() { ran <- 3 }))
	close(ran)
	var got []int
	for v := range ran {
		got = append(got, v)
	}
	assert.Equal(t, []int{1}, got)
}

func TestDispatcher_FlushWaitsForFollowUps(t *testing.T) {
	d := newDispatcher()
	var mu sync.Mutex
	var got []string

	record := func(s string) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	}
	d.Submit("v1", func() {
		record("first")
		d.Submit("*", func() {
			time.Sleep(20 * time.Millisecond)
			record("follow-up")
		})
	})

	// concurrent submitters while a flush is waiting
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Submit("v2", func() {})
		}()
	}
	d.Flush()
	wg.Wait()
	d.Flush()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "follow-up"}, got)
}
