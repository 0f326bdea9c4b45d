// Package whatsapp hosts the provider-facing surface of the engine: the
// normalized inbound event model, the webhook listener, the detached
// dispatch pool, the resilient outbound client, and the engine that ties
// them to the session store.
package whatsapp

import (
	"context"

	"github.com/jubayershuvo/wa-bot-sub000/core/session"
)

// EventKind classifies a normalized inbound event.
type EventKind string

const (
	// KindText is a plain text message.
	KindText EventKind = "text"
	// KindInteractive is a list or button reply.
	KindInteractive EventKind = "interactive"
	// KindMedia is an image, document, audio or video message.
	KindMedia EventKind = "media"
	// KindOther covers everything the engine does not route specially.
	KindOther EventKind = "other"
)

// Event is the normalized inbound unit of work the engine consumes.
// Translating the provider's raw webhook payload into this form is the
// decoder's job; everything past the webhook sees only this.
type Event struct {
	// SubjectID is the conversation key, e.g. the sender's phone handle.
	SubjectID string
	// Kind selects the routing family.
	Kind EventKind
	// Text is the message body for text events.
	Text string
	// ReplyID is the interactive selection identifier (list row or
	// button id); id-prefix routing matches against it.
	ReplyID string
	// ReplyTitle is the human label of the interactive selection.
	ReplyTitle string
	// MediaID references provider-hosted media for media events.
	MediaID string
	// MediaType is the provider media category (image, document, ...).
	MediaType string
	// DeliveryID is the provider's message id, used for log correlation.
	// The provider may redeliver the same id on timeout.
	DeliveryID string
}

// HandlerFunc is one step of business logic bound to a route. Handlers
// close over their dependencies (store, client) at registration time.
type HandlerFunc func(ctx context.Context, ev Event, sess *session.Session) error

// Resolver picks the handler for an event given the current session.
// The router package provides the standard implementation.
type Resolver interface {
	Resolve(ev Event, sess *session.Session) (name string, h HandlerFunc, ok bool)
}
