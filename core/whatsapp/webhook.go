package whatsapp

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/jubayershuvo/wa-bot-sub000/core/logger"
	"log/slog"
)

// maxWebhookBody caps inbound payload size; the Cloud API batches at most
// a handful of messages per delivery.
const maxWebhookBody = 1 << 20

// WebhookOptions configures the provider-facing HTTP handler.
type WebhookOptions struct {
	// VerifyToken is the shared secret echoed during the GET handshake.
	VerifyToken string
	// Decode turns a raw payload into normalized events. Defaults to
	// DecodeCloudAPI.
	Decode DecodeFunc
	// Dispatcher queues decoded events for asynchronous processing.
	Dispatcher *Dispatcher
	// Process handles one event on a worker goroutine.
	Process func(ctx context.Context, ev Event) error
}

// Webhook terminates the provider callback. GET serves the subscription
// handshake; POST acks immediately and hands events to the dispatcher, so
// slow handlers and outbound retries never delay the provider response.
type Webhook struct {
	verifyToken string
	decode      DecodeFunc
	dispatcher  *Dispatcher
	process     func(ctx context.Context, ev Event) error
}

// NewWebhook validates options and builds the handler.
func NewWebhook(opts WebhookOptions) (*Webhook, error) {
	if opts.VerifyToken == "" {
		return nil, errors.New("whatsapp webhook: empty verify token")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("whatsapp webhook: nil dispatcher")
	}
	if opts.Process == nil {
		return nil, errors.New("whatsapp webhook: nil process function")
	}
	decode := opts.Decode
	if decode == nil {
		decode = DecodeCloudAPI
	}
	return &Webhook{
		verifyToken: opts.VerifyToken,
		decode:      decode,
		dispatcher:  opts.Dispatcher,
		process:     opts.Process,
	}, nil
}

// ServeHTTP implements http.Handler.
func (wh *Webhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		wh.handleVerify(w, r)
	case http.MethodPost:
		wh.handleDelivery(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleVerify answers the subscription handshake: echo hub.challenge
// when the mode is "subscribe" and the token matches, refuse otherwise.
func (wh *Webhook) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	ok := mode == "subscribe" &&
		subtle.ConstantTimeCompare([]byte(token), []byte(wh.verifyToken)) == 1

	if !ok {
		logger.Warn(r.Context(), "wa", "webhook.verify.reject",
			slog.String("status", "fail"),
			slog.String("mode", logger.SanitizeLimit(mode, 32)),
		)
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}

	logger.Info(r.Context(), "wa", "webhook.verify.ok",
		slog.String("status", "ok"),
	)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, challenge)
}

// handleDelivery acks the provider and queues the decoded events. The ack
// goes out regardless of processing outcome; a dropped event costs one
// conversation turn, a delayed ack costs a redelivery storm.
func (wh *Webhook) handleDelivery(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		logger.Warn(r.Context(), "wa", "webhook.read.fail",
			slog.String("status", "fail"),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	events, err := wh.decode(body)
	if err != nil {
		// Malformed or unrelated payloads still get a 200: the provider
		// retries on anything else and the payload will not improve.
		logger.Warn(r.Context(), "wa", "webhook.decode.fail",
			slog.String("status", "fail"),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			slog.Int("body_bytes", len(body)),
		)
		w.WriteHeader(http.StatusOK)
		return
	}

	w.WriteHeader(http.StatusOK)

	queued := 0
	for _, ev := range events {
		// Each event gets its own correlation id; the request context dies
		// with the response, so workers start from a background context.
		ctx := logger.WithRID(context.Background(), logger.NewRID())
		ctx = logger.WithSubject(ctx, ev.SubjectID, ev.DeliveryID)

		if err := wh.dispatcher.Enqueue(ctx, ev, wh.process); err != nil {
			logger.Error(ctx, "wa", "webhook.enqueue.fail",
				slog.String("status", "fail"),
				slog.String("subject_id", ev.SubjectID),
				slog.String("kind", string(ev.Kind)),
				slog.String("err", err.Error()),
			)
			continue
		}
		queued++
		logger.Debug(ctx, "wa", "webhook.enqueue",
			slog.String("subject_id", ev.SubjectID),
			slog.String("kind", string(ev.Kind)),
		)
	}

	logger.Info(r.Context(), "wa", "webhook.delivery",
		slog.String("status", "ok"),
		slog.Int("events", len(events)),
		slog.Int("queued", queued),
		slog.Duration("duration", logger.Took(start)),
	)
}
