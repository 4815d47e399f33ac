package lane

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestQueueFIFOWithinPriority(t *testing.T) {
	q := NewQueue()
	var mu sync.Mutex
	var order []int

	var wg sync.WaitGroup
	wg.Add(3)
	for i := 1; i <= 3; i++ {
		i := i
		q.Submit(0, nil, func(ctx context.Context) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	waitOrTimeout(t, &wg)
	q.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("order = %v, want [1 2 3]", order)
	}
}

func TestQueueHigherPriorityDispatchesFirst(t *testing.T) {
	q := NewQueue()
	q.Suspend()

	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup
	wg.Add(2)

	q.Submit(0, nil, func(ctx context.Context) {
		mu.Lock()
		order = append(order, "low")
		mu.Unlock()
		wg.Done()
	})
	q.Submit(5, nil, func(ctx context.Context) {
		mu.Lock()
		order = append(order, "high")
		mu.Unlock()
		wg.Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	q.Resume()
	waitOrTimeout(t, &wg)
	q.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "high" {
		t.Fatalf("order = %v, want [high low]", order)
	}
}

func TestQueueCancellationSkipsTask(t *testing.T) {
	q := NewQueue()
	ran := false
	var wg sync.WaitGroup
	wg.Add(1)

	q.Submit(0, func() bool { return true }, func(ctx context.Context) {
		ran = true
	})
	q.Submit(0, nil, func(ctx context.Context) {
		wg.Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	waitOrTimeout(t, &wg)
	q.Close()
	if ran {
		t.Errorf("expected cancelled task to be skipped")
	}
}

func TestResumeWithoutSuspendPanics(t *testing.T) {
	q := NewQueue()
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic calling Resume without Suspend")
		}
	}()
	q.Resume()
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for tasks")
	}
}
