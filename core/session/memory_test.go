package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryStoreSetGetMerge(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := newMemoryStore(5*time.Minute, clock.Now)

	flow := Flow("recharge")
	state := State("await_amount")
	if _, err := store.Set(ctx, "alice", Partial{Flow: &flow, State: &state, Data: map[string]any{"a": 1, "b": 2}}); err != nil {
		t.Fatalf("set: %v", err)
	}

	sess, err := store.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sess == nil {
		t.Fatal("expected session")
	}
	if sess.Flow != flow || sess.State != state {
		t.Fatalf("flow/state = %s/%s", sess.Flow, sess.State)
	}
	if sess.Data["a"] != 1 || sess.Data["b"] != 2 {
		t.Fatalf("data = %v", sess.Data)
	}
	wantExpiry := clock.Now().Add(5 * time.Minute)
	if !sess.ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("expires = %v, want %v", sess.ExpiresAt, wantExpiry)
	}
}

func TestMemoryStoreTopLevelMerge(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(5*time.Minute, newFakeClock().Now)

	if _, err := store.Set(ctx, "alice", Partial{Data: map[string]any{"a": 1, "b": 2}}); err != nil {
		t.Fatalf("set: %v", err)
	}
	sess, err := store.Update(ctx, "alice", map[string]any{"b": 3})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if sess.Data["a"] != 1 || sess.Data["b"] != 3 {
		t.Fatalf("data = %v, want {a:1 b:3}", sess.Data)
	}

	// A nested value under one key is replaced wholesale, not deep-merged.
	if _, err := store.Update(ctx, "alice", map[string]any{"order": map[string]any{"id": 7, "qty": 2}}); err != nil {
		t.Fatalf("update nested: %v", err)
	}
	sess, err = store.Update(ctx, "alice", map[string]any{"order": map[string]any{"qty": 5}})
	if err != nil {
		t.Fatalf("update nested replace: %v", err)
	}
	order := sess.Data["order"].(map[string]any)
	if _, still := order["id"]; still {
		t.Fatalf("nested merge leaked prior keys: %v", order)
	}
	if order["qty"] != 5 {
		t.Fatalf("order = %v", order)
	}
}

func TestMemoryStoreUpdateWithoutSessionIsNoop(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(5*time.Minute, newFakeClock().Now)

	sess, err := store.Update(ctx, "ghost", map[string]any{"x": 1})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if sess != nil {
		t.Fatalf("expected no-op, got %v", sess)
	}
	if got, _ := store.Get(ctx, "ghost"); got != nil {
		t.Fatalf("update must not create a session, got %v", got)
	}
}

func TestMemoryStoreSlidingExpiry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	ttl := 5 * time.Minute
	store := newMemoryStore(ttl, clock.Now)

	if _, err := store.Set(ctx, "alice", Partial{}); err != nil {
		t.Fatalf("set: %v", err)
	}

	// Reads inside the window keep the conversation alive indefinitely.
	for i := 0; i < 4; i++ {
		clock.Advance(4 * time.Minute)
		sess, err := store.Get(ctx, "alice")
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		if sess == nil {
			t.Fatalf("session lost after %d refreshes", i)
		}
		if want := clock.Now().Add(ttl); !sess.ExpiresAt.Equal(want) {
			t.Fatalf("expiry not refreshed on read: %v want %v", sess.ExpiresAt, want)
		}
	}

	clock.Advance(ttl)
	sess, err := store.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("get after ttl: %v", err)
	}
	if sess != nil {
		t.Fatal("expected expired session to be absent")
	}
	active, _ := store.Active(ctx)
	if len(active) != 0 {
		t.Fatalf("index not pruned on expiry: %v", active)
	}
}

func TestMemoryStoreClear(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(5*time.Minute, newFakeClock().Now)

	if _, err := store.Set(ctx, "alice", Partial{Data: map[string]any{"a": 1}}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Clear(ctx, "alice"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if sess, _ := store.Get(ctx, "alice"); sess != nil {
		t.Fatal("expected cleared session to be absent")
	}
	if active, _ := store.Active(ctx); len(active) != 0 {
		t.Fatalf("index entry survived clear: %v", active)
	}
	// Idempotent.
	if err := store.Clear(ctx, "alice"); err != nil {
		t.Fatalf("second clear: %v", err)
	}
}

func TestMemoryStoreConcurrentUpdatesNoLostWrite(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(5*time.Minute, time.Now)

	if _, err := store.Set(ctx, "alice", Partial{}); err != nil {
		t.Fatalf("set: %v", err)
	}

	const writers = 32
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%02d", i)
			if _, err := store.Update(ctx, "alice", map[string]any{key: i}); err != nil {
				t.Errorf("update %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	sess, err := store.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sess == nil {
		t.Fatal("session missing")
	}
	// The final data is the union of all writers' keys.
	for i := 0; i < writers; i++ {
		key := fmt.Sprintf("k%02d", i)
		if sess.Data[key] != i {
			t.Fatalf("lost update for %s: %v", key, sess.Data[key])
		}
	}
}

func TestMemoryStoreGetResetsReminderMarker(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := newMemoryStore(5*time.Minute, clock.Now)

	if _, err := store.Set(ctx, "alice", Partial{}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.MarkReminded(ctx, "alice", clock.Now()); err != nil {
		t.Fatalf("mark: %v", err)
	}
	sess, _ := store.Peek(ctx, "alice")
	if sess.RemindedAt == nil {
		t.Fatal("marker not set")
	}

	// Activity opens a new idle episode.
	if _, err := store.Get(ctx, "alice"); err != nil {
		t.Fatalf("get: %v", err)
	}
	sess, _ = store.Peek(ctx, "alice")
	if sess.RemindedAt != nil {
		t.Fatal("marker should reset on activity")
	}
}

func TestMemoryStorePeekDoesNotSlide(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := newMemoryStore(5*time.Minute, clock.Now)

	if _, err := store.Set(ctx, "alice", Partial{}); err != nil {
		t.Fatalf("set: %v", err)
	}
	before, _ := store.Peek(ctx, "alice")

	clock.Advance(2 * time.Minute)
	after, err := store.Peek(ctx, "alice")
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if !after.ExpiresAt.Equal(before.ExpiresAt) || !after.LastActivity.Equal(before.LastActivity) {
		t.Fatal("peek must not refresh activity or expiry")
	}
}
