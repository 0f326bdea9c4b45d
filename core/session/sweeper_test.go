package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingNotifier struct {
	mu        sync.Mutex
	reminds   map[string]int
	expiries  map[string]int
	remindErr error
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{
		reminds:  make(map[string]int),
		expiries: make(map[string]int),
	}
}

func (n *recordingNotifier) Remind(_ context.Context, subjectID string, _ time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.remindErr != nil {
		return n.remindErr
	}
	n.reminds[subjectID]++
	return nil
}

func (n *recordingNotifier) Expired(_ context.Context, subjectID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.expiries[subjectID]++
	return nil
}

func (n *recordingNotifier) remindCount(id string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.reminds[id]
}

func (n *recordingNotifier) expiredCount(id string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.expiries[id]
}

func newTestSweeper(ttl time.Duration, clock *fakeClock, store Store, notifier Notifier) *Sweeper {
	return NewSweeper(SweeperOptions{
		Store:    store,
		Notifier: notifier,
		TTL:      ttl,
		Interval: time.Minute,
		now:      clock.Now,
	})
}

func TestSweeperRemindsOncePerIdleEpisode(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	ttl := 10 * time.Minute
	store := newMemoryStore(ttl, clock.Now)
	notifier := newRecordingNotifier()
	sw := newTestSweeper(ttl, clock, store, notifier)

	if _, err := store.Set(ctx, "alice", Partial{}); err != nil {
		t.Fatalf("set: %v", err)
	}

	// Exactly half the timeout idle: warn.
	clock.Advance(ttl / 2)
	for i := 0; i < 3; i++ {
		if err := sw.Sweep(ctx); err != nil {
			t.Fatalf("sweep %d: %v", i, err)
		}
		clock.Advance(time.Minute)
	}
	if got := notifier.remindCount("alice"); got != 1 {
		t.Fatalf("reminders = %d, want exactly 1 per idle episode", got)
	}
	if got := notifier.expiredCount("alice"); got != 0 {
		t.Fatalf("unexpected expiry notices: %d", got)
	}

	// Renewed activity opens a new idle episode: one more warning later.
	if _, err := store.Get(ctx, "alice"); err != nil {
		t.Fatalf("get: %v", err)
	}
	clock.Advance(ttl / 2)
	if err := sw.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if got := notifier.remindCount("alice"); got != 2 {
		t.Fatalf("reminders after new episode = %d, want 2", got)
	}
}

func TestSweeperExpiresIdleSessions(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	ttl := 10 * time.Minute
	store := newMemoryStore(ttl, clock.Now)
	notifier := newRecordingNotifier()
	sw := newTestSweeper(ttl, clock, store, notifier)

	if _, err := store.Set(ctx, "alice", Partial{Data: map[string]any{"step": 1}}); err != nil {
		t.Fatalf("set: %v", err)
	}

	clock.Advance(ttl)
	if err := sw.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if got := notifier.expiredCount("alice"); got != 1 {
		t.Fatalf("expiry notices = %d", got)
	}
	if sess, _ := store.Peek(ctx, "alice"); sess != nil {
		t.Fatal("session should be cleared after expiry")
	}
	active, _ := store.Active(ctx)
	if len(active) != 0 {
		t.Fatalf("index should be compacted, got %v", active)
	}
}

func TestSweeperFreshSessionUntouched(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	ttl := 10 * time.Minute
	store := newMemoryStore(ttl, clock.Now)
	notifier := newRecordingNotifier()
	sw := newTestSweeper(ttl, clock, store, notifier)

	if _, err := store.Set(ctx, "alice", Partial{}); err != nil {
		t.Fatalf("set: %v", err)
	}
	clock.Advance(ttl/2 - time.Second)
	if err := sw.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if notifier.remindCount("alice") != 0 || notifier.expiredCount("alice") != 0 {
		t.Fatal("session under half the timeout must not be touched")
	}
}

func TestSweeperRetriesReminderAfterNotifyFailure(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	ttl := 10 * time.Minute
	store := newMemoryStore(ttl, clock.Now)
	notifier := newRecordingNotifier()
	notifier.remindErr = errors.New("provider down")
	sw := newTestSweeper(ttl, clock, store, notifier)

	if _, err := store.Set(ctx, "alice", Partial{}); err != nil {
		t.Fatalf("set: %v", err)
	}
	clock.Advance(ttl / 2)
	if err := sw.Sweep(ctx); err == nil {
		t.Fatal("expected aggregated sweep error")
	}
	// Marker must not be set when the notice failed.
	sess, _ := store.Peek(ctx, "alice")
	if sess.RemindedAt != nil {
		t.Fatal("reminder marker set despite failed notice")
	}

	notifier.remindErr = nil
	if err := sw.Sweep(ctx); err != nil {
		t.Fatalf("sweep retry: %v", err)
	}
	if got := notifier.remindCount("alice"); got != 1 {
		t.Fatalf("reminders = %d", got)
	}
}

func TestSweeperAggregatesErrorsAcrossSubjects(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	ttl := 10 * time.Minute
	store := newMemoryStore(ttl, clock.Now)
	notifier := newRecordingNotifier()
	notifier.remindErr = errors.New("provider down")
	sw := newTestSweeper(ttl, clock, store, notifier)

	for _, id := range []string{"alice", "bob"} {
		if _, err := store.Set(ctx, id, Partial{}); err != nil {
			t.Fatalf("set %s: %v", id, err)
		}
	}
	clock.Advance(ttl / 2)
	err := sw.Sweep(ctx)
	if err == nil {
		t.Fatal("expected error")
	}
	// Both subjects were attempted; neither failure masked the other.
	if c := notifier.remindCount("alice") + notifier.remindCount("bob"); c != 0 {
		t.Fatalf("reminders sent despite failures: %d", c)
	}
}
