package fn

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func TestResult(t *testing.T) {
	r := Ok(42)
	if !r.IsOk() || r.IsErr() {
		t.Fatal("expected ok")
	}
	if v, err := r.Unwrap(); v != 42 || err != nil {
		t.Fatalf("Unwrap = %v, %v", v, err)
	}

	e := Err[int](errBoom)
	if e.IsOk() || !e.IsErr() {
		t.Fatal("expected err")
	}
	if _, err := e.Unwrap(); !errors.Is(err, errBoom) {
		t.Fatalf("err = %v", err)
	}

	if FromPair(1, errBoom).IsOk() || !FromPair(1, nil).IsOk() {
		t.Fatal("FromPair mismatch")
	}
}

func TestCollect(t *testing.T) {
	all := Collect([]Result[int]{Ok(1), Ok(2)})
	if v, err := all.Unwrap(); err != nil || !slices.Equal(v, []int{1, 2}) {
		t.Fatalf("Collect = %v, %v", v, err)
	}
	if _, err := Collect([]Result[int]{Ok(1), Err[int](errBoom)}).Unwrap(); !errors.Is(err, errBoom) {
		t.Fatalf("err = %v", err)
	}
}

func TestSliceHelpers(t *testing.T) {
	doubled := Map([]int{1, 2, 3}, func(v int) int { return v * 2 })
	if !slices.Equal(doubled, []int{2, 4, 6}) {
		t.Errorf("Map = %v", doubled)
	}
	even := Filter([]int{1, 2, 3, 4}, func(v int) bool { return v%2 == 0 })
	if !slices.Equal(even, []int{2, 4}) {
		t.Errorf("Filter = %v", even)
	}

	tests := []struct {
		n    int
		want int
	}{
		{2, 3},
		{5, 1},
		{10, 1},
		{0, 0},
	}
	for _, tt := range tests {
		got := Chunk([]int{1, 2, 3, 4, 5}, tt.n)
		if len(got) != tt.want {
			t.Errorf("Chunk(n=%d) = %d chunks, want %d", tt.n, len(got), tt.want)
		}
	}
	if last := Chunk([]int{1, 2, 3, 4, 5}, 2)[2]; !slices.Equal(last, []int{5}) {
		t.Errorf("last chunk = %v", last)
	}
	if flat := Flatten(Chunk([]int{1, 2, 3, 4, 5}, 2)); !slices.Equal(flat, []int{1, 2, 3, 4, 5}) {
		t.Errorf("Flatten = %v", flat)
	}
	if flat := Flatten[int](nil); flat == nil || len(flat) != 0 {
		t.Errorf("Flatten(nil) = %#v", flat)
	}
}

func TestParMapResult(t *testing.T) {
	var running, peak atomic.Int32
	out := ParMapResult([]int{1, 2, 3, 4, 5, 6}, 2, func(v int) Result[int] {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		if v == 4 {
			return Err[int](errBoom)
		}
		return Ok(v * 10)
	})

	if peak.Load() > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak.Load())
	}
	if v, _ := out[0].Unwrap(); v != 10 {
		t.Errorf("out[0] = %d", v)
	}
	if out[3].IsOk() {
		t.Error("out[3] should be an error")
	}
	if len(ParMapResult([]int{}, 4, func(int) Result[int] { return Ok(0) })) != 0 {
		t.Error("empty input should give empty output")
	}
}

func fastRetry(attempts int) RetryOpts {
	return RetryOpts{MaxAttempts: attempts, InitialWait: time.Millisecond, MaxWait: 2 * time.Millisecond}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	var retried []int
	opts := fastRetry(3)
	opts.OnRetry = func(attempt int, _ error) { retried = append(retried, attempt) }

	r := Retry(context.Background(), opts, func(context.Context) Result[string] {
		calls++
		if calls < 3 {
			return Err[string](errBoom)
		}
		return Ok("done")
	})
	if v, err := r.Unwrap(); err != nil || v != "done" {
		t.Fatalf("Retry = %q, %v", v, err)
	}
	if !slices.Equal(retried, []int{1, 2}) {
		t.Errorf("OnRetry attempts = %v", retried)
	}
}

func TestRetryExhausted(t *testing.T) {
	calls := 0
	r := Retry(context.Background(), fastRetry(3), func(context.Context) Result[int] {
		calls++
		return Err[int](errBoom)
	})
	if calls != 3 || !errors.Is(errOf(r), errBoom) {
		t.Errorf("calls = %d, err = %v", calls, errOf(r))
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("bad request")
	opts := fastRetry(5)
	opts.Retryable = func(err error) bool { return !errors.Is(err, permanent) }

	calls := 0
	r := Retry(context.Background(), opts, func(context.Context) Result[int] {
		calls++
		return Err[int](permanent)
	})
	if calls != 1 || !errors.Is(errOf(r), permanent) {
		t.Errorf("calls = %d, err = %v", calls, errOf(r))
	}
}

func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	opts := RetryOpts{MaxAttempts: 5, InitialWait: time.Hour, MaxWait: time.Hour}

	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	r := Retry(ctx, opts, func(context.Context) Result[int] {
		calls++
		return Err[int](errBoom)
	})
	if calls != 1 || !errors.Is(errOf(r), context.Canceled) {
		t.Errorf("calls = %d, err = %v", calls, errOf(r))
	}
}

func TestRetryZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	Retry(context.Background(), RetryOpts{}, func(context.Context) Result[int] {
		calls++
		return Err[int](errBoom)
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func errOf[T any](r Result[T]) error {
	_, err := r.Unwrap()
	return err
}
