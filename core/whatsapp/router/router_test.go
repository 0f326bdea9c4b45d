package router

import (
	"context"
	"testing"

	"github.com/jubayershuvo/wa-bot-sub000/core/session"
	wa "github.com/jubayershuvo/wa-bot-sub000/core/whatsapp"
)

func noop(string) wa.HandlerFunc {
	return func(context.Context, wa.Event, *session.Session) error { return nil }
}

func buildRouter() *Router {
	r := New()
	r.Override("cancel", noop("cancel"))
	r.Override("home", noop("home"))
	r.Commands(noop("commands"))
	r.State("order:qty", noop("qty"))
	r.Kind(wa.KindMedia, noop("media"))
	r.Prefix("order:", noop("order"))
	r.Prefix("order:extra:", noop("extra"))
	r.Fallback(noop("fallback"))
	return r
}

func midFlowSession(state session.State) *session.Session {
	return &session.Session{SubjectID: "s1", Flow: "order", State: state}
}

func TestResolveOverrideBeatsState(t *testing.T) {
	r := buildRouter()

	// "cancel" wins even deep inside a flow, regardless of case and
	// surrounding whitespace.
	for _, text := range []string{"cancel", "CANCEL", "  Cancel  "} {
		name, _, ok := r.Resolve(wa.Event{Kind: wa.KindText, Text: text}, midFlowSession("order:qty"))
		if !ok || name != "override_cancel" {
			t.Fatalf("text %q resolved to %q, want override_cancel", text, name)
		}
	}
}

func TestResolveOverrideIgnoresNonText(t *testing.T) {
	r := buildRouter()
	ev := wa.Event{Kind: wa.KindInteractive, ReplyID: "cancel"}
	name, _, ok := r.Resolve(ev, nil)
	if !ok || name == "override_cancel" {
		t.Fatalf("interactive event resolved to %q; overrides are text-only", name)
	}
}

func TestResolveNoSessionTextGoesToCommands(t *testing.T) {
	r := buildRouter()
	name, _, ok := r.Resolve(wa.Event{Kind: wa.KindText, Text: "order"}, nil)
	if !ok || name != "commands" {
		t.Fatalf("resolved to %q, want commands", name)
	}

	// A terminal-state session (no explicit state) behaves like no session.
	name, _, ok = r.Resolve(wa.Event{Kind: wa.KindText, Text: "order"}, &session.Session{SubjectID: "s1"})
	if !ok || name != "commands" {
		t.Fatalf("terminal-state resolved to %q, want commands", name)
	}
}

func TestResolveStateMatch(t *testing.T) {
	r := buildRouter()
	name, _, ok := r.Resolve(wa.Event{Kind: wa.KindText, Text: "3"}, midFlowSession("order:qty"))
	if !ok || name != "state_order:qty" {
		t.Fatalf("resolved to %q, want state_order:qty", name)
	}
}

func TestResolveUnknownStateFallsThrough(t *testing.T) {
	r := buildRouter()
	name, _, ok := r.Resolve(wa.Event{Kind: wa.KindText, Text: "hm"}, midFlowSession("order:unknown"))
	if !ok || name != "fallback" {
		t.Fatalf("resolved to %q, want fallback", name)
	}
}

func TestResolveKindMatchWithoutSession(t *testing.T) {
	r := buildRouter()
	name, _, ok := r.Resolve(wa.Event{Kind: wa.KindMedia, MediaID: "m1"}, nil)
	if !ok || name != "kind_media" {
		t.Fatalf("resolved to %q, want kind_media", name)
	}
}

func TestResolveLongestPrefixWins(t *testing.T) {
	r := buildRouter()

	name, _, ok := r.Resolve(wa.Event{Kind: wa.KindInteractive, ReplyID: "order:extra:cream"}, nil)
	if !ok || name != "prefix_order:extra" {
		t.Fatalf("resolved to %q, want prefix_order:extra", name)
	}

	name, _, ok = r.Resolve(wa.Event{Kind: wa.KindInteractive, ReplyID: "order:coffee"}, nil)
	if !ok || name != "prefix_order" {
		t.Fatalf("resolved to %q, want prefix_order", name)
	}
}

func TestResolveFallback(t *testing.T) {
	r := buildRouter()
	name, _, ok := r.Resolve(wa.Event{Kind: wa.KindInteractive, ReplyID: "unrelated:x"}, nil)
	if !ok || name != "fallback" {
		t.Fatalf("resolved to %q, want fallback", name)
	}
}

func TestResolveNoMatchWithoutFallback(t *testing.T) {
	r := New()
	if _, _, ok := r.Resolve(wa.Event{Kind: wa.KindOther}, nil); ok {
		t.Fatal("empty router must not resolve")
	}
}
