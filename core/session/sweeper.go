package session

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/robfig/cron/v3"

	"github.com/jubayershuvo/wa-bot-sub000/core/logger"
	"log/slog"
)

// Notifier delivers sweeper-originated messages to a subject. The engine
// adapts its resilient outbound client to this interface.
type Notifier interface {
	// Remind warns the subject that the conversation is about to expire.
	Remind(ctx context.Context, subjectID string, idle time.Duration) error
	// Expired tells the subject the conversation timed out.
	Expired(ctx context.Context, subjectID string) error
}

// SweeperOptions configures the background sweep loop.
type SweeperOptions struct {
	Store    Store
	Notifier Notifier
	// TTL is the session timeout. It must be the same value the store was
	// built with; there is deliberately no second timeout knob.
	TTL      time.Duration
	Interval time.Duration

	// now is injectable for tests.
	now func() time.Time
}

// Sweeper periodically scans active sessions, sends one idle-warning per
// idle episode, and expires sessions past the timeout. It runs against the
// same Store as live traffic and relies on the store's per-subject
// serialization when clearing.
type Sweeper struct {
	store    Store
	notifier Notifier
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time

	cron *cron.Cron
}

// NewSweeper validates options and constructs a stopped Sweeper.
func NewSweeper(opts SweeperOptions) *Sweeper {
	now := opts.now
	if now == nil {
		now = time.Now
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		store:    opts.Store,
		notifier: opts.Notifier,
		ttl:      opts.TTL,
		interval: interval,
		now:      now,
	}
}

// Start schedules sweep passes on the configured interval until Stop.
func (s *Sweeper) Start(ctx context.Context) error {
	if s.cron != nil {
		return nil
	}
	c := cron.New()
	spec := "@every " + s.interval.String()
	if _, err := c.AddFunc(spec, func() {
		if err := s.Sweep(ctx); err != nil {
			logger.Sweep.Error("sweep pass failed",
				slog.String("event", "sweep.pass"),
				slog.String("status", "fail"),
				slog.String("err", err.Error()),
			)
		}
	}); err != nil {
		return err
	}
	s.cron = c
	c.Start()
	logger.Sweep.Info("sweeper started",
		slog.String("event", "sweep.start"),
		slog.Duration("interval", s.interval),
		slog.Duration("ttl", s.ttl),
	)
	return nil
}

// Stop halts scheduling and waits for a running pass to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
	logger.Sweep.Info("sweeper stopped", slog.String("event", "sweep.stop"))
}

// Sweep runs a single pass. Per-subject failures are collected and
// reported together; one broken subject never blocks the rest.
func (s *Sweeper) Sweep(ctx context.Context) error {
	start := s.now()
	subjects, err := s.store.Active(ctx)
	if err != nil {
		return err
	}

	var (
		errs     *multierror.Error
		reminded int
		cleared  int
	)
	for _, subjectID := range subjects {
		if ctx.Err() != nil {
			errs = multierror.Append(errs, ctx.Err())
			break
		}
		didRemind, didClear, err := s.sweepSubject(ctx, subjectID)
		if err != nil {
			errs = multierror.Append(errs, err)
		}
		if didRemind {
			reminded++
		}
		if didClear {
			cleared++
		}
	}

	logger.Sweep.Debug("sweep pass",
		slog.String("event", "sweep.pass"),
		slog.Int("active", len(subjects)),
		slog.Int("reminded", reminded),
		slog.Int("cleared", cleared),
		slog.Duration("duration", logger.Took(start)),
	)
	return errs.ErrorOrNil()
}

func (s *Sweeper) sweepSubject(ctx context.Context, subjectID string) (reminded, cleared bool, err error) {
	sess, err := s.store.Peek(ctx, subjectID)
	if err != nil {
		return false, false, err
	}
	if sess == nil {
		// Stale index entry: compact it.
		return false, false, s.store.Clear(ctx, subjectID)
	}

	idle := s.now().Sub(sess.LastActivity)
	switch {
	case idle >= s.ttl:
		// Notify first, then clear: if the notice fails the next pass
		// retries, and an extra notice beats a silently vanished chat.
		if err := s.notifier.Expired(ctx, subjectID); err != nil {
			return false, false, err
		}
		if err := s.store.Clear(ctx, subjectID); err != nil {
			return false, false, err
		}
		logger.Sweep.Info("session expired",
			slog.String("event", "sweep.expire"),
			slog.String("status", "expired"),
			slog.String("subject_id", subjectID),
			slog.Duration("idle", logger.RoundMS(idle)),
		)
		return false, true, nil

	case idle >= s.ttl/2:
		if sess.RemindedAt != nil {
			// Already warned during this idle episode.
			return false, false, nil
		}
		if err := s.notifier.Remind(ctx, subjectID, idle); err != nil {
			return false, false, err
		}
		if err := s.store.MarkReminded(ctx, subjectID, s.now()); err != nil {
			return false, false, err
		}
		logger.Sweep.Info("idle warning sent",
			slog.String("event", "sweep.remind"),
			slog.String("status", "reminded"),
			slog.String("subject_id", subjectID),
			slog.Duration("idle", logger.RoundMS(idle)),
		)
		return true, false, nil
	}

	return false, false, nil
}
