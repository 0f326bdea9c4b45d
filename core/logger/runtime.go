package logger

import (
	"context"
	"log/slog"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// contextKey is a private type to avoid collisions in context.
type contextKey string

const (
	ctxRID        contextKey = "rid"
	ctxSubjectID  contextKey = "subject_id"
	ctxDeliveryID contextKey = "delivery_id"
	ctxLogger     contextKey = "logger"
	ctxHandler    contextKey = "handler"
)

// WithLogger stores the provided slog.Logger in context for propagation across layers.
func WithLogger(ctx context.Context, log *slog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if log == nil {
		return ctx
	}
	return context.WithValue(ctx, ctxLogger, log)
}

// FromContext extracts slog.Logger from context or returns the global default.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return L
	}
	if l, ok := ctx.Value(ctxLogger).(*slog.Logger); ok {
		return l
	}
	return L
}

// NewRID returns a fresh correlation identifier for one unit of work.
func NewRID() string {
	return uuid.NewString()
}

// WithRID attaches a correlation id to the context.
func WithRID(ctx context.Context, rid string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxRID, rid)
}

// RIDFrom extracts the correlation id from context if present.
func RIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if s, ok := ctx.Value(ctxRID).(string); ok {
		return s
	}
	return ""
}

// WithSubject attaches subject and provider delivery identifiers to context.
func WithSubject(ctx context.Context, subjectID, deliveryID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if subjectID != "" {
		ctx = context.WithValue(ctx, ctxSubjectID, subjectID)
	}
	if deliveryID != "" {
		ctx = context.WithValue(ctx, ctxDeliveryID, deliveryID)
	}
	return ctx
}

// SubjectFrom extracts the subject id from context.
func SubjectFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if s, ok := ctx.Value(ctxSubjectID).(string); ok {
		return s
	}
	return ""
}

// DeliveryFrom extracts the provider delivery id from context.
func DeliveryFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if s, ok := ctx.Value(ctxDeliveryID).(string); ok {
		return s
	}
	return ""
}

// WithHandler records the resolved handler name in context.
func WithHandler(ctx context.Context, handler string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if handler == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxHandler, handler)
}

// HandlerFrom extracts the handler name from context.
func HandlerFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if s, ok := ctx.Value(ctxHandler).(string); ok {
		return s
	}
	return ""
}

// Sanitize trims non-printable runes from s to keep logs clean.
// It removes control characters (Unicode categories Cc, Cf) except for tab and newline.
func Sanitize(s string) string {
	if s == "" {
		return s
	}
	b := strings.Builder{}
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if unicode.IsControl(r) || unicode.Is(unicode.Cf, r) || r == 0x7F {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SanitizeLimit applies Sanitize and limits the output length in runes.
func SanitizeLimit(s string, max int) string {
	if max <= 0 {
		return ""
	}
	cleaned := Sanitize(s)
	r := []rune(cleaned)
	if len(r) <= max {
		return cleaned
	}
	return string(r[:max])
}

// ShortRID abbreviates a UUID correlation id to its first segment for
// human-oriented KV output. Non-UUID values are returned unchanged.
func ShortRID(rid string) string {
	rid = strings.TrimSpace(rid)
	if rid == "" {
		return ""
	}
	if _, err := uuid.Parse(rid); err != nil {
		return rid
	}
	if idx := strings.IndexByte(rid, '-'); idx > 0 {
		return rid[:idx]
	}
	return rid
}
