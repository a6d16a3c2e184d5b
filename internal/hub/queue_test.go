package hub

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/yilhu/DRID-modules/internal/errors"
)

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue[int]("q", 0, false)
	ctx := context.Background()

	for i := range 5 {
		if err := q.Put(ctx, i, false); err != nil {
			t.Fatalf("Put(%d) error = %v", i, err)
		}
	}
	for want := range 5 {
		got, err := q.Get(0)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got != want {
			t.Errorf("Get() = %d, want %d", got, want)
		}
	}
}

func TestQueue_DropOldestKeepsNewest(t *testing.T) {
	tests := []struct {
		capacity int
		pushes   int
	}{
		{1, 5},
		{3, 3},
		{3, 10},
		{20, 57},
	}

	for _, tt := range tests {
		q := NewQueue[int]("q", tt.capacity, true)
		for i := range tt.pushes {
			if err := q.Put(context.Background(), i, true); err != nil {
				t.Fatalf("Put() error = %v", err)
			}
		}

		want := min(tt.capacity, tt.pushes)
		if q.Len() != want {
			t.Errorf("cap=%d pushes=%d: Len() = %d, want %d", tt.capacity, tt.pushes, q.Len(), want)
		}

		items, _ := q.Drain(0)
		var expected []int
		for i := tt.pushes - want; i < tt.pushes; i++ {
			expected = append(expected, i)
		}
		if !slices.Equal(items, expected) {
			t.Errorf("cap=%d pushes=%d: contents = %v, want %v", tt.capacity, tt.pushes, items, expected)
		}
		if got := q.Dropped(); got != uint64(tt.pushes-want) {
			t.Errorf("Dropped() = %d, want %d", got, tt.pushes-want)
		}
	}
}

func TestQueue_TryPutFull(t *testing.T) {
	q := NewQueue[string]("lora.tx", 1, false)
	if err := q.TryPut("a"); err != nil {
		t.Fatalf("TryPut() error = %v", err)
	}

	err := q.TryPut("b")
	if !errors.Is(err, errors.ErrQueueFull) {
		t.Fatalf("TryPut() on full queue = %v, want ErrQueueFull", err)
	}
	var qe *errors.QueueError
	if !errors.As(err, &qe) || qe.Queue != "lora.tx" {
		t.Errorf("expected QueueError naming the queue, got %v", err)
	}
}

func TestQueue_BlockingPutWaitsForSpace(t *testing.T) {
	q := NewQueue[int]("q", 1, false)
	ctx := context.Background()
	q.Put(ctx, 1, false)

	done := make(chan error, 1)
	go func() {
		done <- q.Put(ctx, 2, false)
	}()

	select {
	case <-done:
		t.Fatal("Put should block while the queue is full")
	case <-time.After(20 * time.Millisecond):
	}

	if v, err := q.Get(0); err != nil || v != 1 {
		t.Fatalf("Get() = %d, %v", v, err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("blocked Put error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Put did not resume after space freed")
	}
	if v, _ := q.Get(0); v != 2 {
		t.Errorf("Get() = %d, want 2", v)
	}
}

func TestQueue_BlockingPutHonorsContext(t *testing.T) {
	q := NewQueue[int]("q", 1, false)
	q.Put(context.Background(), 1, false)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := q.Put(ctx, 2, false)
	if !errors.Is(err, errors.ErrQueueFull) {
		t.Errorf("error = %v, want ErrQueueFull", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want DeadlineExceeded in chain", err)
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1", q.Len())
	}
}

func TestQueue_GetTimeouts(t *testing.T) {
	q := NewQueue[int]("q", 3, true)

	t.Run("non-blocking empty", func(t *testing.T) {
		start := time.Now()
		_, err := q.Get(0)
		if !errors.Is(err, errors.ErrQueueEmpty) {
			t.Errorf("Get(0) = %v, want ErrQueueEmpty", err)
		}
		if time.Since(start) > 50*time.Millisecond {
			t.Error("Get(0) should return immediately")
		}
	})

	t.Run("bounded wait expires", func(t *testing.T) {
		start := time.Now()
		_, err := q.Get(30 * time.Millisecond)
		if !errors.Is(err, errors.ErrQueueEmpty) {
			t.Errorf("Get(30ms) = %v, want ErrQueueEmpty", err)
		}
		if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
			t.Errorf("Get(30ms) returned after %v, expected to wait", elapsed)
		}
	})

	t.Run("forever receives item", func(t *testing.T) {
		go func() {
			time.Sleep(10 * time.Millisecond)
			q.Put(context.Background(), 42, true)
		}()
		v, err := q.Get(Forever)
		if err != nil || v != 42 {
			t.Errorf("Get(Forever) = %d, %v, want 42", v, err)
		}
	})
}

func TestQueue_DrainLimit(t *testing.T) {
	q := NewQueue[int]("q", 0, false)
	for i := range 10 {
		q.Put(context.Background(), i, false)
	}

	got, err := q.Drain(4)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, []int{0, 1, 2, 3}) {
		t.Errorf("Drain(4) = %v", got)
	}
	if q.Len() != 6 {
		t.Errorf("Len() = %d, want 6", q.Len())
	}

	rest, _ := q.Drain(0)
	if len(rest) != 6 || rest[0] != 4 {
		t.Errorf("Drain(0) = %v", rest)
	}
	if empty, err := q.Drain(5); err != nil || empty != nil {
		t.Errorf("Drain on empty = %v, %v", empty, err)
	}
}

func TestQueue_Latest(t *testing.T) {
	q := NewQueue[string]("processed", 3, true)
	for _, s := range []string{"A", "B", "C"} {
		q.Put(context.Background(), s, true)
	}

	got, ok, err := q.Latest()
	if err != nil || !ok {
		t.Fatalf("Latest() = %q, %v, %v", got, ok, err)
	}
	if got != "C" {
		t.Errorf("Latest() = %q, want C", got)
	}
	if q.Len() != 0 {
		t.Errorf("Len() after Latest = %d, want 0", q.Len())
	}

	if _, ok, _ := q.Latest(); ok {
		t.Error("Latest() on empty queue should report ok=false")
	}
}

func TestQueue_CloseInvalidatesAndWakes(t *testing.T) {
	q := NewQueue[int]("q", 1, false)

	got := make(chan error, 1)
	go func() {
		_, err := q.Get(Forever)
		got <- err
	}()
	time.Sleep(10 * time.Millisecond)

	q.Close()
	q.Close()

	select {
	case err := <-got:
		if !errors.Is(err, errors.ErrInvalidQueue) {
			t.Errorf("blocked Get after Close = %v, want ErrInvalidQueue", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not wake blocked Get")
	}

	ops := map[string]error{
		"Put":    q.Put(context.Background(), 1, true),
		"TryPut": q.TryPut(1),
	}
	_, ops["Get"] = q.Get(0)
	_, ops["Drain"] = q.Drain(0)
	for name, err := range ops {
		if !errors.Is(err, errors.ErrInvalidQueue) {
			t.Errorf("%s after Close = %v, want ErrInvalidQueue", name, err)
		}
	}
	if errors.IsRetryable(ops["Put"]) {
		t.Error("invalid queue errors should not be retryable")
	}
}

func TestQueue_ConcurrentProducersConsumers(t *testing.T) {
	q := NewQueue[int]("q", 8, false)
	ctx := context.Background()

	const producers, perProducer = 4, 250
	var wg sync.WaitGroup
	for p := range producers {
		wg.Go(func() {
			for i := range perProducer {
				if err := q.Put(ctx, p*perProducer+i, false); err != nil {
					t.Errorf("Put error = %v", err)
					return
				}
			}
		})
	}

	seen := make(map[int]bool)
	for range producers * perProducer {
		v, err := q.Get(time.Second)
		if err != nil {
			t.Fatalf("Get error = %v", err)
		}
		if seen[v] {
			t.Fatalf("duplicate item %d", v)
		}
		seen[v] = true
		if n := q.Len(); n > 8 {
			t.Fatalf("Len() = %d exceeds capacity", n)
		}
	}
	wg.Wait()
}

func TestQueue_NegativeCapacityIsUnbounded(t *testing.T) {
	q := NewQueue[int]("q", -3, false)
	if q.Cap() != 0 {
		t.Errorf("Cap() = %d, want 0", q.Cap())
	}
	for i := range 100 {
		if err := q.TryPut(i); err != nil {
			t.Fatalf("TryPut() on unbounded queue error = %v", err)
		}
	}
}
