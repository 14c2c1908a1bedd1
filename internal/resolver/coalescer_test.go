package resolver

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCoalescer_ConcurrentCallsShareOneRun(t *testing.T) {
	c := NewCoalescer()
	var calls int32

	start := make(chan struct{})
	var wg sync.WaitGroup
	results := make([][]Answer, 10)
	errs := make([]error, 10)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = c.Do("example.com#1", func() ([]Answer, error) {
				atomic.AddInt32(&calls, 1)
				// Stay in flight long enough for the other goroutines to join.
				time.Sleep(50 * time.Millisecond)
				return []Answer{unboundedAnswer("10.0.0.1", TypeA)}, nil
			})
		}(i)
	}
	close(start)
	wg.Wait()

	if calls != 1 {
		t.Errorf("fn ran %d times, want 1", calls)
	}
	for i, err := range errs {
		if err != nil {
			t.Errorf("call %d: unexpected error %v", i, err)
		}
		if len(results[i]) != 1 || results[i][0].Data != "10.0.0.1" {
			t.Errorf("call %d: unexpected result %+v", i, results[i])
		}
	}
}

func TestCoalescer_SequentialCallsRunIndependently(t *testing.T) {
	c := NewCoalescer()
	var calls int32

	for i := 0; i < 3; i++ {
		_, err := c.Do("example.com#1", func() ([]Answer, error) {
			atomic.AddInt32(&calls, 1)
			return nil, nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if calls != 3 {
		t.Errorf("fn ran %d times, want 3", calls)
	}
}
