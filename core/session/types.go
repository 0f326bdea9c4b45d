// Package session implements the per-subject conversation state engine:
// a TTL-backed store with sliding expiry and merge-style updates, plus the
// background sweeper that reminds and expires idle conversations.
package session

import (
	"context"
	"time"
)

// Flow categorizes a multi-turn conversation (recharge, order, admin...).
type Flow string

// State identifies the step a flow is waiting on. States are an open,
// string-tagged set owned by flow handlers; StateNone means the subject is
// not inside any flow step.
type State string

// StateNone indicates no explicit mid-flow state.
const StateNone State = ""

// Session stores conversation state and accumulated data for one subject.
type Session struct {
	SubjectID    string         `db:"subject_id"`
	Flow         Flow           `db:"flow"`
	State        State          `db:"current_state"`
	Data         map[string]any `db:"-"`
	CreatedAt    time.Time      `db:"created_at"`
	LastActivity time.Time      `db:"last_activity"`
	ExpiresAt    time.Time      `db:"expires_at"`
	// RemindedAt marks that an idle-warning was sent during the current
	// idle episode. Any activity resets it.
	RemindedAt *time.Time `db:"reminder_sent_at"`
}

// Clone returns a deep-enough copy: the Data map is copied one level down,
// matching the top-level merge semantics of Set/Update.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Data = make(map[string]any, len(s.Data))
	for k, v := range s.Data {
		cp.Data[k] = v
	}
	if s.RemindedAt != nil {
		at := *s.RemindedAt
		cp.RemindedAt = &at
	}
	return &cp
}

// Partial carries the fields of a merge-style Set. Nil pointers leave the
// prior value untouched; Data keys override same-named keys and a nested
// value is replaced wholesale, never deep-merged.
type Partial struct {
	Flow  *Flow
	State *State
	Data  map[string]any
}

// WithFlow returns a Partial entering the given flow at the given state.
func WithFlow(flow Flow, state State) Partial {
	return Partial{Flow: &flow, State: &state}
}

// WithState returns a Partial moving to the given state.
func WithState(state State) Partial {
	return Partial{State: &state}
}

// Store is the durable per-subject conversation state with sliding TTL.
//
// Get-modify-set for one subject is serialized by every implementation:
// two near-simultaneous deliveries for the same subject can never produce
// a lost update.
type Store interface {
	// Get returns nil when no live session exists. Expired records are
	// deleted on read. A hit slides ExpiresAt forward by the full TTL and
	// clears the reminder marker before returning.
	Get(ctx context.Context, subjectID string) (*Session, error)

	// Peek reads without sliding the expiry or deleting expired records.
	// The sweeper observes sessions through Peek so that its scans do not
	// keep idle conversations alive.
	Peek(ctx context.Context, subjectID string) (*Session, error)

	// Set creates or updates the session, merging Data at the top level
	// and replacing only the fields present in the partial. It always
	// resets the TTL window and registers the subject as active.
	Set(ctx context.Context, subjectID string, partial Partial) (*Session, error)

	// Update merges data into an existing session. When no session exists
	// it is a no-op and returns (nil, nil); flows that need a session call
	// Set first.
	Update(ctx context.Context, subjectID string, data map[string]any) (*Session, error)

	// Clear removes the session and its active-index entry. Clearing an
	// absent subject is not an error.
	Clear(ctx context.Context, subjectID string) error

	// Active returns the subjects that may have a live session. The index
	// is eventually consistent; stale entries are pruned lazily and by
	// the sweeper.
	Active(ctx context.Context) ([]string, error)

	// MarkReminded records that the idle-warning for the current idle
	// episode has been sent.
	MarkReminded(ctx context.Context, subjectID string, at time.Time) error
}
