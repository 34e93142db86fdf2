package volume

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// dispatchRecorder captures executed updates in order.
type dispatchRecorder struct {
	mu     sync.Mutex
	events []string
	vols   []int
}

func (r *dispatchRecorder) broadcast(stream Stream, vol int, _ Flag) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "broadcast:"+stream.String())
	r.vols = append(r.vols, vol)
}

func (r *dispatchRecorder) push(_ context.Context, _ CarStream, vol int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "push")
	r.vols = append(r.vols, vol)
	return nil
}

func (r *dispatchRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

func TestNewDispatcher_RequiresCallbacks(t *testing.T) {
	_, err := NewDispatcher(DispatcherOptions{})
	if !errors.Is(err, ErrNilDispatch) {
		t.Errorf("expected ErrNilDispatch, got %v", err)
	}

	rec := &dispatchRecorder{}
	_, err = NewDispatcher(DispatcherOptions{Broadcast: rec.broadcast})
	if !errors.Is(err, ErrNilDispatch) {
		t.Errorf("expected ErrNilDispatch without push, got %v", err)
	}
}

func TestDispatcher_FIFOOrder(t *testing.T) {
	rec := &dispatchRecorder{}
	d, err := NewDispatcher(DispatcherOptions{
		Broadcast: rec.broadcast,
		Push:      rec.push,
	})
	if err != nil {
		t.Fatalf("NewDispatcher failed: %v", err)
	}

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer d.Stop()

	d.EnqueueHALPush(CarStream(0), 10)
	d.EnqueueBroadcast(StreamMedia, 10, FlagShowUI)
	d.EnqueueHALPush(CarStream(0), 11)
	d.EnqueueBroadcast(StreamMedia, 11, FlagShowUI)

	time.Sleep(50 * time.Millisecond)

	got := rec.snapshot()
	want := []string{"push", "broadcast:media", "push", "broadcast:media"}
	if len(got) != len(want) {
		t.Fatalf("executed %d updates, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("update[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDispatcher_PushErrorDoesNotStopWorker(t *testing.T) {
	var mu sync.Mutex
	var calls int

	d, err := NewDispatcher(DispatcherOptions{
		Broadcast: func(Stream, int, Flag) {},
		Push: func(_ context.Context, _ CarStream, _ int) error {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if calls == 1 {
				return errors.New("bus write failed")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("NewDispatcher failed: %v", err)
	}

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer d.Stop()

	d.EnqueueHALPush(CarStream(0), 5)
	d.EnqueueHALPush(CarStream(0), 6)

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	got := calls
	mu.Unlock()
	if got != 2 {
		t.Errorf("push calls = %d, want 2", got)
	}

	stats := d.Stats()
	if stats.Processed != 2 {
		t.Errorf("Processed = %d, want 2", stats.Processed)
	}
}

func TestDispatcher_QueueFullDrops(t *testing.T) {
	rec := &dispatchRecorder{}
	d, err := NewDispatcher(DispatcherOptions{
		Broadcast: rec.broadcast,
		Push:      rec.push,
		QueueSize: 2,
	})
	if err != nil {
		t.Fatalf("NewDispatcher failed: %v", err)
	}

	// Not started: nothing drains, so the third enqueue must drop.
	d.EnqueueBroadcast(StreamMedia, 1, 0)
	d.EnqueueBroadcast(StreamMedia, 2, 0)
	d.EnqueueBroadcast(StreamMedia, 3, 0)

	stats := d.Stats()
	if stats.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", stats.Dropped)
	}
	if stats.Enqueued != 2 {
		t.Errorf("Enqueued = %d, want 2", stats.Enqueued)
	}
}

func TestDispatcher_EnqueueAfterStopDrops(t *testing.T) {
	rec := &dispatchRecorder{}
	d, err := NewDispatcher(DispatcherOptions{
		Broadcast: rec.broadcast,
		Push:      rec.push,
	})
	if err != nil {
		t.Fatalf("NewDispatcher failed: %v", err)
	}

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	d.EnqueueBroadcast(StreamMedia, 1, 0)

	stats := d.Stats()
	if stats.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", stats.Dropped)
	}
}

func TestDispatcher_Lifecycle(t *testing.T) {
	rec := &dispatchRecorder{}
	d, err := NewDispatcher(DispatcherOptions{
		Broadcast: rec.broadcast,
		Push:      rec.push,
	})
	if err != nil {
		t.Fatalf("NewDispatcher failed: %v", err)
	}

	if err := d.Stop(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Stop before Start = %v, want ErrNotStarted", err)
	}

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := d.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}

	if err := d.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	// Stop is idempotent once started.
	if err := d.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
}
