package whatsapp

import (
	"context"
	"fmt"
	"time"

	"github.com/jubayershuvo/wa-bot-sub000/core/logger"
	"github.com/jubayershuvo/wa-bot-sub000/core/ratelimit"
	"github.com/jubayershuvo/wa-bot-sub000/core/session"
	"log/slog"
)

// Messages are the engine's user-facing texts. Zero values fall back to
// the defaults below.
type Messages struct {
	RateLimited func(retryIn time.Duration) string
	Apology     string
	Cancelled   string
	IdleWarning string
	Expired     string
}

func defaultRateLimited(retryIn time.Duration) string {
	return fmt.Sprintf("You're sending messages too quickly. Please wait %d seconds and try again.", int(retryIn.Seconds())+1)
}

const (
	defaultApology     = "Something went wrong on our side. Please start over."
	defaultCancelled   = "Okay, cancelled. Send any message to see the menu."
	defaultIdleWarning = "Are you still there? This conversation will expire soon."
	defaultExpired     = "This conversation expired due to inactivity. Send any message to start again."
)

func (m *Messages) normalize() {
	if m.RateLimited == nil {
		m.RateLimited = defaultRateLimited
	}
	if m.Apology == "" {
		m.Apology = defaultApology
	}
	if m.Cancelled == "" {
		m.Cancelled = defaultCancelled
	}
	if m.IdleWarning == "" {
		m.IdleWarning = defaultIdleWarning
	}
	if m.Expired == "" {
		m.Expired = defaultExpired
	}
}

// EngineOptions wires the engine's collaborators. Store, Limiter and
// Sender are required; the Resolver is mounted after the router has been
// populated with handlers that close over the engine.
type EngineOptions struct {
	Store    session.Store
	Limiter  *ratelimit.Limiter
	Sender   Sender
	Messages Messages
}

// Engine is the per-event pipeline: rate-limit gate, session read with
// sliding refresh, route resolution, handler execution, error boundary.
// It is constructed once at process start and shared across workers.
type Engine struct {
	store    session.Store
	limiter  *ratelimit.Limiter
	sender   Sender
	resolver Resolver
	messages Messages
}

// NewEngine validates options and constructs an Engine without a resolver.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("whatsapp engine: nil session store")
	}
	if opts.Limiter == nil {
		return nil, fmt.Errorf("whatsapp engine: nil rate limiter")
	}
	if opts.Sender == nil {
		return nil, fmt.Errorf("whatsapp engine: nil sender")
	}
	msgs := opts.Messages
	msgs.normalize()
	return &Engine{
		store:    opts.Store,
		limiter:  opts.Limiter,
		sender:   opts.Sender,
		messages: msgs,
	}, nil
}

// Mount installs the resolver. Called once during wiring, after the
// router's handlers (which close over the engine) are registered.
func (e *Engine) Mount(r Resolver) {
	e.resolver = r
}

// Store exposes the session store to flow handlers.
func (e *Engine) Store() session.Store { return e.store }

// Sender exposes the outbound client to flow handlers.
func (e *Engine) Sender() Sender { return e.sender }

// Handle processes one normalized inbound event. Recoverable conditions
// (rate limit, expired session, unknown input) are handled internally;
// the returned error only reports failures that are worth a log line at
// the dispatch boundary.
func (e *Engine) Handle(ctx context.Context, ev Event) error {
	start := time.Now()

	if res := e.limiter.Allow(ev.SubjectID); !res.Allowed {
		// Control signal, not an error: tell the subject when to retry.
		if err := e.sender.SendText(ctx, ev.SubjectID, e.messages.RateLimited(res.RetryIn(time.Now()))); err != nil {
			return fmt.Errorf("rate limit notice: %w", err)
		}
		e.logHandled(ctx, ev, "rate_limit", "rate_limited", start, nil)
		return nil
	}

	sess, err := e.store.Get(ctx, ev.SubjectID)
	if err != nil {
		return fmt.Errorf("session read for %s: %w", ev.SubjectID, err)
	}

	if e.resolver == nil {
		return fmt.Errorf("whatsapp engine: no resolver mounted")
	}
	name, handler, ok := e.resolver.Resolve(ev, sess)
	if !ok {
		e.logHandled(ctx, ev, "unrouted", "skip", start, nil)
		return nil
	}

	ctx = logger.WithHandler(ctx, name)
	err = e.runHandler(ctx, handler, ev, sess)
	e.logHandled(ctx, ev, name, "", start, err)
	if err != nil {
		// Do not strand the subject in a broken flow: drop the session
		// and apologize. The webhook was acked long ago, so nothing here
		// can trigger provider-side redelivery.
		if clearErr := e.store.Clear(ctx, ev.SubjectID); clearErr != nil {
			logger.Error(ctx, "wa", "session.clear.fail",
				slog.String("status", "fail"),
				slog.String("subject_id", ev.SubjectID),
				slog.String("err", clearErr.Error()),
			)
		}
		if sendErr := e.sender.SendText(ctx, ev.SubjectID, e.messages.Apology); sendErr != nil {
			logger.Error(ctx, "wa", "apology.fail",
				slog.String("status", "fail"),
				slog.String("subject_id", ev.SubjectID),
				slog.String("err", sendErr.Error()),
			)
		}
		return err
	}
	return nil
}

// runHandler confines handler panics to this event.
func (e *Engine) runHandler(ctx context.Context, h HandlerFunc, ev Event, sess *session.Session) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, ev, sess)
}

func (e *Engine) logHandled(ctx context.Context, ev Event, handler, statusOverride string, start time.Time, err error) {
	status := statusOverride
	if status == "" {
		status = logger.Status(err)
	}
	attrs := []slog.Attr{
		slog.String("status", status),
		slog.String("subject_id", ev.SubjectID),
		slog.String("kind", string(ev.Kind)),
		slog.String("handler", handler),
		slog.Duration("duration", logger.Took(start)),
	}
	if err != nil {
		attrs = append(attrs,
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			slog.String("err_code", deriveErrorCode(err)),
		)
	}
	logger.Info(ctx, "wa", "event.handled", attrs...)
}

// Cancel clears the session and confirms; a universal override valid at
// any state and nesting depth. An outbound call already in flight is not
// aborted; only future transitions are affected.
func (e *Engine) Cancel(ctx context.Context, ev Event, _ *session.Session) error {
	if err := e.store.Clear(ctx, ev.SubjectID); err != nil {
		return fmt.Errorf("cancel %s: %w", ev.SubjectID, err)
	}
	logger.Info(ctx, "wa", "session.cancelled",
		slog.String("status", "cancelled"),
		slog.String("subject_id", ev.SubjectID),
	)
	return e.sender.SendText(ctx, ev.SubjectID, e.messages.Cancelled)
}

// Remind implements session.Notifier over the outbound client.
func (e *Engine) Remind(ctx context.Context, subjectID string, _ time.Duration) error {
	return e.sender.SendText(ctx, subjectID, e.messages.IdleWarning)
}

// Expired implements session.Notifier over the outbound client.
func (e *Engine) Expired(ctx context.Context, subjectID string) error {
	return e.sender.SendText(ctx, subjectID, e.messages.Expired)
}
