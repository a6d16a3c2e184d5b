package hub

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yilhu/DRID-modules/internal/errors"
)

func TestGetOrCreate_ConcurrentCallersShareOneInstance(t *testing.T) {
	h := New()
	defer h.Close()

	var calls atomic.Int32
	factory := func() (any, error) {
		calls.Add(1)
		time.Sleep(10 * time.Millisecond)
		return &struct{ n int }{n: 1}, nil
	}

	const callers = 32
	results := make([]any, callers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := range callers {
		wg.Go(func() {
			<-start
			v, err := h.GetOrCreate("shared", factory)
			if err != nil {
				t.Errorf("GetOrCreate error = %v", err)
			}
			results[i] = v
		})
	}
	close(start)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("factory called %d times, want 1", calls.Load())
	}
	for i := 1; i < callers; i++ {
		if results[i] != results[0] {
			t.Fatalf("caller %d got a different instance", i)
		}
	}
}

func TestGetOrCreate_FailureAllowsRetry(t *testing.T) {
	h := New()
	defer h.Close()

	boom := fmt.Errorf("device busy")
	_, err := h.GetOrCreate("camera", func() (any, error) { return nil, boom })
	if !errors.Is(err, errors.ErrFactoryFailed) || !errors.Is(err, boom) {
		t.Fatalf("error = %v, want ErrFactoryFailed wrapping cause", err)
	}
	if h.HasKey("camera") {
		t.Error("failed factory should leave key unset")
	}
	if slices.Contains(h.ListKeys(), "camera") {
		t.Error("failed key should not be listed")
	}

	v, err := h.GetOrCreate("camera", func() (any, error) { return "ok", nil })
	if err != nil || v != "ok" {
		t.Errorf("retry = %v, %v", v, err)
	}
	if !h.HasKey("camera") {
		t.Error("successful retry should set key")
	}
}

func TestGetOrCreate_PanickingFactory(t *testing.T) {
	h := New()
	defer h.Close()

	_, err := h.GetOrCreate("bad", func() (any, error) { panic("kaboom") })
	if !errors.Is(err, errors.ErrFactoryFailed) {
		t.Errorf("error = %v, want ErrFactoryFailed", err)
	}
	if h.HasKey("bad") {
		t.Error("panicking factory should leave key unset")
	}
}

func TestGetOrCreate_UnrelatedKeysDoNotBlock(t *testing.T) {
	h := New()
	defer h.Close()

	release := make(chan struct{})
	go h.GetOrCreate("slow", func() (any, error) {
		<-release
		return 1, nil
	})
	time.Sleep(10 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		h.GetOrCreate("fast", func() (any, error) { return 2, nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("construction of an unrelated key was blocked")
	}
	close(release)
}

func TestGetOrCreateAs_WrongType(t *testing.T) {
	h := New()
	defer h.Close()

	if _, err := RegisterQueue[string](h, "lora.rx", 10, true); err != nil {
		t.Fatal(err)
	}
	_, err := RegisterQueue[int](h, "lora.rx", 10, true)
	if !errors.Is(err, errors.ErrWrongType) {
		t.Errorf("error = %v, want ErrWrongType", err)
	}
}

func TestRegisterQueue_ReturnsSameQueue(t *testing.T) {
	h := New()
	defer h.Close()

	a, err := RegisterQueue[string](h, "lora.tx", 10, true)
	if err != nil {
		t.Fatal(err)
	}
	b, err := RegisterQueue[string](h, "lora.tx", 99, false)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("second registration should return the existing queue")
	}
	if b.Cap() != 10 || !b.DropsOldest() {
		t.Error("existing queue settings should be kept")
	}
	if a.Name() != "lora.tx" {
		t.Errorf("Name() = %q", a.Name())
	}
}

func TestListKeys_Sorted(t *testing.T) {
	h := New()
	defer h.Close()

	for _, k := range []string{"zeta", "alpha", "mid"} {
		h.GetOrCreate(k, func() (any, error) { return k, nil })
	}

	want := []string{"alpha", "config", "mid", "zeta"}
	if got := h.ListKeys(); !slices.Equal(got, want) {
		t.Errorf("ListKeys() = %v, want %v", got, want)
	}
}
