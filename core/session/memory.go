package session

import (
	"context"
	"sync"
	"time"
)

// memoryStore is the in-memory Store used for tests and single-instance
// development runs.
//
// Two levels of locking: byKey serializes the whole get-modify-set
// sequence for one subject, mu guards the shared maps themselves.
type memoryStore struct {
	ttl   time.Duration
	now   func() time.Time
	byKey *keyMutex

	mu      sync.RWMutex
	records map[string]*Session
	index   map[string]struct{}
}

// NewMemoryStore constructs an in-memory Store with the given TTL.
func NewMemoryStore(ttl time.Duration) Store {
	return newMemoryStore(ttl, time.Now)
}

func newMemoryStore(ttl time.Duration, now func() time.Time) *memoryStore {
	return &memoryStore{
		ttl:     ttl,
		now:     now,
		byKey:   newKeyMutex(),
		records: make(map[string]*Session),
		index:   make(map[string]struct{}),
	}
}

func (m *memoryStore) lookup(subjectID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.records[subjectID]
	return sess, ok
}

func (m *memoryStore) store(subjectID string, sess *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[subjectID] = sess
	m.index[subjectID] = struct{}{}
}

func (m *memoryStore) remove(subjectID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, subjectID)
	delete(m.index, subjectID)
}

// Get returns the live session, sliding its expiry forward. Expired
// records are deleted and reported as absent.
func (m *memoryStore) Get(_ context.Context, subjectID string) (*Session, error) {
	unlock := m.byKey.Lock(subjectID)
	defer unlock()

	sess, ok := m.lookup(subjectID)
	if !ok {
		// Prune a stale index entry on lookup failure.
		m.remove(subjectID)
		return nil, nil
	}

	now := m.now()
	if !now.Before(sess.ExpiresAt) {
		m.remove(subjectID)
		return nil, nil
	}

	// Sliding expiry: reading keeps the conversation alive and opens a
	// fresh idle episode.
	sess.LastActivity = now
	sess.ExpiresAt = now.Add(m.ttl)
	sess.RemindedAt = nil
	return sess.Clone(), nil
}

// Peek reads without refreshing or deleting anything.
func (m *memoryStore) Peek(_ context.Context, subjectID string) (*Session, error) {
	unlock := m.byKey.Lock(subjectID)
	defer unlock()

	sess, ok := m.lookup(subjectID)
	if !ok {
		return nil, nil
	}
	return sess.Clone(), nil
}

// Set creates or merge-updates the session and resets its TTL window.
func (m *memoryStore) Set(_ context.Context, subjectID string, partial Partial) (*Session, error) {
	unlock := m.byKey.Lock(subjectID)
	defer unlock()

	now := m.now()
	sess, ok := m.lookup(subjectID)
	if !ok || !now.Before(sess.ExpiresAt) {
		sess = &Session{
			SubjectID: subjectID,
			Data:      make(map[string]any),
			CreatedAt: now,
		}
	}

	if partial.Flow != nil {
		sess.Flow = *partial.Flow
	}
	if partial.State != nil {
		sess.State = *partial.State
	}
	// Top-level merge: incoming keys replace same-named keys wholesale,
	// other keys are untouched.
	for k, v := range partial.Data {
		sess.Data[k] = v
	}

	sess.LastActivity = now
	sess.ExpiresAt = now.Add(m.ttl)
	sess.RemindedAt = nil
	m.store(subjectID, sess)

	return sess.Clone(), nil
}

// Update merges data into an existing session; absent subjects are a no-op.
func (m *memoryStore) Update(_ context.Context, subjectID string, data map[string]any) (*Session, error) {
	unlock := m.byKey.Lock(subjectID)
	defer unlock()

	now := m.now()
	sess, ok := m.lookup(subjectID)
	if !ok || !now.Before(sess.ExpiresAt) {
		return nil, nil
	}

	for k, v := range data {
		sess.Data[k] = v
	}
	sess.LastActivity = now
	sess.ExpiresAt = now.Add(m.ttl)
	sess.RemindedAt = nil
	return sess.Clone(), nil
}

// Clear removes the session and its index entry.
func (m *memoryStore) Clear(_ context.Context, subjectID string) error {
	unlock := m.byKey.Lock(subjectID)
	defer unlock()

	m.remove(subjectID)
	return nil
}

// Active snapshots the possibly-active subject set.
func (m *memoryStore) Active(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.index))
	for id := range m.index {
		out = append(out, id)
	}
	return out, nil
}

// MarkReminded stamps the idle-warning marker without touching activity.
func (m *memoryStore) MarkReminded(_ context.Context, subjectID string, at time.Time) error {
	unlock := m.byKey.Lock(subjectID)
	defer unlock()

	sess, ok := m.lookup(subjectID)
	if !ok {
		return nil
	}
	sess.RemindedAt = &at
	return nil
}
