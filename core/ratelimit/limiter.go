// Package ratelimit caps inbound requests per subject with a fixed window,
// protecting the engine and the provider API from abusive senders.
package ratelimit

import (
	"math/rand"
	"sync"
	"time"

	"github.com/jubayershuvo/wa-bot-sub000/core/logger"
	"log/slog"
)

// cleanupChance is the denominator of the probabilistic sweep: roughly one
// in this many requests pays for reclaiming dead windows, keeping the
// request path O(1).
const cleanupChance = 100

// Options configures a Limiter.
type Options struct {
	// Limit is the number of requests allowed inside one window.
	Limit int
	// Window is the fixed window length; the counter resets entirely when
	// it passes, it does not slide.
	Window time.Duration
}

// Result reports the limiter's decision plus the values user-facing
// messaging needs (how many requests remain, when the window reopens).
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RetryIn returns how long the subject must wait before the window reopens.
func (r Result) RetryIn(now time.Time) time.Duration {
	if d := r.ResetAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

type window struct {
	count   int
	resetAt time.Time
}

// Limiter enforces a per-subject fixed-window request cap. State is
// process-local; running multiple instances requires moving windows into a
// shared store first.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	opts    Options
	now     func() time.Time
	chance  func() int
}

// New constructs a Limiter with the given options.
func New(opts Options) *Limiter {
	return &Limiter{
		windows: make(map[string]*window),
		opts:    opts,
		now:     time.Now,
		chance:  func() int { return rand.Intn(cleanupChance) },
	}
}

// Allow records one request for the subject and reports whether it may
// proceed. The (limit+1)-th request inside a window is denied; once the
// window passes the next request reopens it with a count of one.
func (l *Limiter) Allow(subjectID string) Result {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[subjectID]
	if !ok || now.After(w.resetAt) {
		w = &window{count: 1, resetAt: now.Add(l.opts.Window)}
		l.windows[subjectID] = w
	} else {
		w.count++
	}

	if l.chance() == 0 {
		l.cleanupLocked(now)
	}

	remaining := l.opts.Limit - w.count
	if remaining < 0 {
		remaining = 0
	}
	res := Result{
		Allowed:   w.count <= l.opts.Limit,
		Remaining: remaining,
		ResetAt:   w.resetAt,
	}
	if !res.Allowed {
		logger.Warn(logger.Background(), "ratelimit", "rate.limited",
			slog.String("status", "rate_limited"),
			slog.String("subject_id", subjectID),
			slog.Int("count", w.count),
			slog.Duration("reset_in", logger.RoundMS(res.RetryIn(now))),
		)
	}
	return res
}

// cleanupLocked drops windows whose reset time has passed. Amortized via
// the random trigger in Allow rather than run on every request.
func (l *Limiter) cleanupLocked(now time.Time) {
	for id, w := range l.windows {
		if now.After(w.resetAt) {
			delete(l.windows, id)
		}
	}
}

// Size reports the number of tracked windows, for diagnostics.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
