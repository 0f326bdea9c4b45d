// Package router resolves normalized inbound events to flow handlers.
// It is not a fixed state machine: states are an open, string-tagged set
// owned by the flows; the dispatch table here is the single source of
// truth mapping them to handlers.
package router

import (
	"sort"
	"strings"

	"github.com/jubayershuvo/wa-bot-sub000/core/session"
	wa "github.com/jubayershuvo/wa-bot-sub000/core/whatsapp"
)

// Router implements wa.Resolver with an ordered, first-match table:
//
//  1. universal override commands (cancel, home/menu) on text events,
//     regardless of state;
//  2. no session → the top-level command handler;
//  3. exact current-state match;
//  4. event-kind match;
//  5. id-prefix match on interactive reply ids (longest prefix first);
//  6. fallback for unrecognized input.
type Router struct {
	overrides map[string]route
	commands  route
	states    map[session.State]route
	kinds     map[wa.EventKind]route
	prefixes  []prefixRoute
	fallback  route
}

type route struct {
	name string
	h    wa.HandlerFunc
}

type prefixRoute struct {
	prefix string
	route
}

// New constructs an empty Router; register handlers before first use.
// Registration is wiring-time only, the Router is read-only afterwards.
func New() *Router {
	return &Router{
		overrides: make(map[string]route),
		states:    make(map[session.State]route),
		kinds:     make(map[wa.EventKind]route),
	}
}

// Override registers a universal command recognized at any state and any
// nesting depth, e.g. "cancel" or "home". Matching is case-insensitive on
// the trimmed text body.
func (r *Router) Override(command string, h wa.HandlerFunc) {
	if h == nil {
		return
	}
	key := strings.ToLower(strings.TrimSpace(command))
	if key == "" {
		return
	}
	r.overrides[key] = route{name: "override_" + key, h: h}
}

// Commands registers the top-level command parser used when the subject
// has no session (initial/terminal state).
func (r *Router) Commands(h wa.HandlerFunc) {
	r.commands = route{name: "commands", h: h}
}

// State binds a handler to an exact current-state tag.
func (r *Router) State(st session.State, h wa.HandlerFunc) {
	if h == nil || st == session.StateNone {
		return
	}
	r.states[st] = route{name: "state_" + string(st), h: h}
}

// Kind binds a handler to an event kind (interactive, media, ...).
func (r *Router) Kind(kind wa.EventKind, h wa.HandlerFunc) {
	if h == nil {
		return
	}
	r.kinds[kind] = route{name: "kind_" + string(kind), h: h}
}

// Prefix binds a handler to interactive reply ids beginning with the
// given namespace, e.g. "svc:". Longer prefixes win over shorter ones.
func (r *Router) Prefix(prefix string, h wa.HandlerFunc) {
	if h == nil || prefix == "" {
		return
	}
	name := "prefix_" + strings.TrimRight(prefix, ":")
	r.prefixes = append(r.prefixes, prefixRoute{prefix: prefix, route: route{name: name, h: h}})
	sort.SliceStable(r.prefixes, func(i, j int) bool {
		return len(r.prefixes[i].prefix) > len(r.prefixes[j].prefix)
	})
}

// Fallback registers the unrecognized-input handler.
func (r *Router) Fallback(h wa.HandlerFunc) {
	r.fallback = route{name: "fallback", h: h}
}

// Resolve picks the handler for the event. It never dispatches; the
// engine owns execution, logging and the error boundary.
func (r *Router) Resolve(ev wa.Event, sess *session.Session) (string, wa.HandlerFunc, bool) {
	if ev.Kind == wa.KindText {
		key := strings.ToLower(strings.TrimSpace(ev.Text))
		if rt, ok := r.overrides[key]; ok {
			return rt.name, rt.h, true
		}
	}

	midFlow := sess != nil && sess.State != session.StateNone
	if !midFlow {
		// Initial/terminal state: text goes to the top-level command
		// parser; interactive and media events still route by kind and
		// reply-id prefix (a menu tap needs no prior session).
		if ev.Kind == wa.KindText && r.commands.h != nil {
			return r.commands.name, r.commands.h, true
		}
	} else if rt, ok := r.states[sess.State]; ok {
		return rt.name, rt.h, true
	}

	if rt, ok := r.kinds[ev.Kind]; ok {
		return rt.name, rt.h, true
	}

	if ev.ReplyID != "" {
		for _, pr := range r.prefixes {
			if strings.HasPrefix(ev.ReplyID, pr.prefix) {
				return pr.name, pr.h, true
			}
		}
	}

	return r.resolveFallback()
}

func (r *Router) resolveFallback() (string, wa.HandlerFunc, bool) {
	if r.fallback.h != nil {
		return r.fallback.name, r.fallback.h, true
	}
	return "", nil, false
}
