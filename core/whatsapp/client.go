package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jubayershuvo/wa-bot-sub000/core/logger"
	"github.com/jubayershuvo/wa-bot-sub000/core/whatsapp/netutil"
	"log/slog"
)

// Sender is the outbound capability the engine and sweeper depend on.
type Sender interface {
	SendText(ctx context.Context, subjectID, body string) error
}

// APIError is the terminal failure of one logical send: either a
// non-retryable 4xx, or retry exhaustion. It carries the last status and
// body for diagnostics; callers must treat it as final, not transient.
type APIError struct {
	StatusCode int
	Body       string
	Attempts   int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider api: status %d after %d attempt(s): %s", e.StatusCode, e.Attempts, e.Body)
}

// Code lets the logging layer derive a stable err_code.
func (e *APIError) Code() string { return "TERMINAL_API_ERROR" }

// Retryable reports whether the final status would have been retried had
// attempts remained.
func (e *APIError) Retryable() bool { return netutil.RetryableStatus(e.StatusCode) }

// ClientOptions configures the resilient outbound client.
type ClientOptions struct {
	BaseURL       string
	Token         string
	PhoneNumberID string

	// MaxAttempts bounds retries of one logical send (default 3).
	MaxAttempts int
	// BaseDelay is the first backoff step; attempt n waits
	// BaseDelay * 2^(n-1) (default 500ms).
	BaseDelay time.Duration

	HTTPClient *http.Client
}

// Client wraps one logical provider send with bounded retry and
// exponential backoff. 429, 5xx and transient network failures retry;
// any other 4xx is terminal immediately.
type Client struct {
	opts  ClientOptions
	http  *http.Client
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient constructs a Client, applying defaults to zeroed options.
func NewClient(opts ClientOptions) *Client {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 500 * time.Millisecond
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = BuildHTTPClient()
	}
	return &Client{
		opts:  opts,
		http:  httpClient,
		sleep: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// textPayload is the provider message body for a plain text send.
type textPayload struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

// SendText sends a plain text message to the subject.
func (c *Client) SendText(ctx context.Context, subjectID, body string) error {
	payload := textPayload{
		MessagingProduct: "whatsapp",
		To:               subjectID,
		Type:             "text",
	}
	payload.Text.Body = body
	return c.Send(ctx, subjectID, payload)
}

// Send posts an arbitrary message payload with bounded retry. The payload
// must marshal to the provider's message schema.
func (c *Client) Send(ctx context.Context, subjectID string, payload any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("send encode: %w", err)
	}
	url := fmt.Sprintf("%s/%s/messages", c.opts.BaseURL, c.opts.PhoneNumberID)

	var (
		lastStatus int
		lastBody   string
		lastErr    error
	)

	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		start := time.Now()
		status, respBody, err := c.post(ctx, url, encoded)
		took := logger.Took(start)

		switch {
		case err == nil && status >= 200 && status < 300:
			if attempt > 1 {
				logger.Info(ctx, "wa.sender", "send.retry.success",
					slog.String("status", "ok"),
					slog.String("subject_id", subjectID),
					slog.Int("attempt", attempt),
					slog.Duration("duration", took),
				)
			} else {
				logger.Debug(ctx, "wa.sender", "send.ok",
					slog.String("status", "ok"),
					slog.String("subject_id", subjectID),
					slog.Duration("duration", took),
				)
			}
			return nil

		case err != nil:
			lastErr, lastStatus, lastBody = err, 0, ""
			if !netutil.ShouldRetry(err) {
				logger.Error(ctx, "wa.sender", "send.fail",
					slog.String("status", "fail"),
					slog.String("subject_id", subjectID),
					slog.Int("attempt", attempt),
					slog.String("err", err.Error()),
					slog.Bool("retryable", false),
				)
				return fmt.Errorf("send to %s: %w", subjectID, err)
			}

		default:
			lastErr, lastStatus, lastBody = nil, status, respBody
			if !netutil.RetryableStatus(status) {
				apiErr := &APIError{StatusCode: status, Body: respBody, Attempts: attempt}
				logger.Error(ctx, "wa.sender", "send.fail",
					slog.String("status", "fail"),
					slog.String("subject_id", subjectID),
					slog.Int("attempt", attempt),
					slog.Int("http_code", status),
					slog.Bool("retryable", false),
				)
				return apiErr
			}
		}

		if attempt == c.opts.MaxAttempts {
			break
		}

		delay := c.opts.BaseDelay << (attempt - 1)
		logger.Warn(ctx, "wa.sender", "send.retry.backoff",
			slog.String("status", "retry"),
			slog.String("subject_id", subjectID),
			slog.Int("attempt", attempt),
			slog.Int("http_code", lastStatus),
			slog.Duration("delay", delay),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return fmt.Errorf("send to %s: %w", subjectID, err)
		}
	}

	if lastErr != nil {
		logger.Error(ctx, "wa.sender", "send.exhausted",
			slog.String("status", "fail"),
			slog.String("subject_id", subjectID),
			slog.Int("attempts", c.opts.MaxAttempts),
			slog.String("err", lastErr.Error()),
		)
		return fmt.Errorf("send to %s after %d attempts: %w", subjectID, c.opts.MaxAttempts, lastErr)
	}

	apiErr := &APIError{StatusCode: lastStatus, Body: lastBody, Attempts: c.opts.MaxAttempts}
	logger.Error(ctx, "wa.sender", "send.exhausted",
		slog.String("status", "fail"),
		slog.String("subject_id", subjectID),
		slog.Int("attempts", c.opts.MaxAttempts),
		slog.Int("http_code", lastStatus),
	)
	return apiErr
}

func (c *Client) post(ctx context.Context, url string, body []byte) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.opts.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 8192))
	if err != nil {
		return resp.StatusCode, "", err
	}
	return resp.StatusCode, string(respBody), nil
}
