package whatsapp

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestDispatcherRunsJobs(t *testing.T) {
	d := NewDispatcher(DispatcherOptions{QueueSize: 8, Workers: 2})

	var (
		mu   sync.Mutex
		seen []string
	)
	for _, id := range []string{"a", "b", "c"} {
		err := d.Enqueue(context.Background(), Event{SubjectID: id}, func(_ context.Context, ev Event) error {
			mu.Lock()
			seen = append(seen, ev.SubjectID)
			mu.Unlock()
			return nil
		})
		if err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}
	d.Close()

	if len(seen) != 3 {
		t.Fatalf("processed = %d, want 3", len(seen))
	}
	if d.ErrorCount() != 0 {
		t.Fatalf("errors = %d, want 0", d.ErrorCount())
	}
}

func TestDispatcherQueueFull(t *testing.T) {
	d := NewDispatcher(DispatcherOptions{QueueSize: 1, Workers: 1})
	defer d.Close()

	block := make(chan struct{})
	defer close(block)

	// Occupy the worker, then fill the single queue slot.
	_ = d.Enqueue(context.Background(), Event{}, func(context.Context, Event) error {
		<-block
		return nil
	})
	var sawFull bool
	for i := 0; i < 3; i++ {
		err := d.Enqueue(context.Background(), Event{}, func(context.Context, Event) error {
			<-block
			return nil
		})
		if errors.Is(err, ErrQueueFull) {
			sawFull = true
			break
		}
	}
	if !sawFull {
		t.Fatal("expected ErrQueueFull with a stalled worker")
	}
}

func TestDispatcherClosedRejectsEnqueue(t *testing.T) {
	d := NewDispatcher(DispatcherOptions{})
	d.Close()
	err := d.Enqueue(context.Background(), Event{}, func(context.Context, Event) error { return nil })
	if !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("error = %v, want ErrQueueClosed", err)
	}
}

func TestDispatcherConfinesPanicsAndCountsErrors(t *testing.T) {
	d := NewDispatcher(DispatcherOptions{QueueSize: 4, Workers: 1})

	_ = d.Enqueue(context.Background(), Event{SubjectID: "p"}, func(context.Context, Event) error {
		panic("job exploded")
	})
	_ = d.Enqueue(context.Background(), Event{SubjectID: "e"}, func(context.Context, Event) error {
		return errors.New("job failed")
	})
	done := false
	_ = d.Enqueue(context.Background(), Event{SubjectID: "ok"}, func(context.Context, Event) error {
		done = true
		return nil
	})
	d.Close()

	if !done {
		t.Fatal("jobs after a panic did not run")
	}
	if d.ErrorCount() != 2 {
		t.Fatalf("errors = %d, want 2", d.ErrorCount())
	}
}
