package git

import (
	"sync"
	"testing"
	"time"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()
	unlock := km.Lock("repo-1:task-1")

	acquired := make(chan struct{})
	go func() {
		u := km.Lock("repo-1:task-1")
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first still held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock not acquired after release")
	}
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	km := NewKeyedMutex()
	unlock := km.Lock("repo-1:task-a")
	defer unlock()

	done := make(chan struct{})
	go func() {
		u := km.Lock("repo-1:task-b")
		u()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("different key blocked by an unrelated holder")
	}
}

func TestKeyedMutexMutualExclusion(t *testing.T) {
	km := NewKeyedMutex()
	const workers = 50

	var count int
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("shared")
			count++
			unlock()
		}()
	}
	wg.Wait()

	if count != workers {
		t.Errorf("count = %d, want %d", count, workers)
	}
}
