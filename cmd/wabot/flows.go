package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jubayershuvo/wa-bot-sub000/core/session"
	"github.com/jubayershuvo/wa-bot-sub000/core/whatsapp"
)

const flowOrder session.Flow = "order"

const (
	stateOrderItem    session.State = "order:item"
	stateOrderQty     session.State = "order:qty"
	stateOrderConfirm session.State = "order:confirm"
)

const menuText = "Hi! Send *order* to place an order, or *help* for this menu.\n" +
	"You can send *cancel* at any point to abort."

// orderFlows is a minimal multi-turn flow exercising the conversation
// engine: enter on a command, advance through states accumulating data,
// finish or abort. Real deployments register their own flows the same way.
type orderFlows struct {
	engine *whatsapp.Engine
}

func newOrderFlows(e *whatsapp.Engine) *orderFlows {
	return &orderFlows{engine: e}
}

func (f *orderFlows) send(ctx context.Context, to, body string) error {
	return f.engine.Sender().SendText(ctx, to, body)
}

// Home clears any flow in progress and shows the menu.
func (f *orderFlows) Home(ctx context.Context, ev whatsapp.Event, _ *session.Session) error {
	if err := f.engine.Store().Clear(ctx, ev.SubjectID); err != nil {
		return fmt.Errorf("home %s: %w", ev.SubjectID, err)
	}
	return f.send(ctx, ev.SubjectID, menuText)
}

// Commands is the top-level parser for subjects with no flow in progress.
func (f *orderFlows) Commands(ctx context.Context, ev whatsapp.Event, _ *session.Session) error {
	switch strings.ToLower(strings.TrimSpace(ev.Text)) {
	case "order":
		return f.startOrder(ctx, ev.SubjectID)
	default:
		return f.send(ctx, ev.SubjectID, menuText)
	}
}

func (f *orderFlows) startOrder(ctx context.Context, subjectID string) error {
	if _, err := f.engine.Store().Set(ctx, subjectID, session.WithFlow(flowOrder, stateOrderItem)); err != nil {
		return fmt.Errorf("start order %s: %w", subjectID, err)
	}
	return f.send(ctx, subjectID, "What would you like to order?")
}

// OrderPick handles interactive list taps with "order:" reply ids; the
// suffix is the item. A tap works with or without a prior session.
func (f *orderFlows) OrderPick(ctx context.Context, ev whatsapp.Event, _ *session.Session) error {
	item := strings.TrimPrefix(ev.ReplyID, "order:")
	if item == "" {
		return f.send(ctx, ev.SubjectID, "That item is no longer available.")
	}
	partial := session.WithFlow(flowOrder, stateOrderQty)
	partial.Data = map[string]any{"item": item}
	if _, err := f.engine.Store().Set(ctx, ev.SubjectID, partial); err != nil {
		return fmt.Errorf("order pick %s: %w", ev.SubjectID, err)
	}
	return f.send(ctx, ev.SubjectID, fmt.Sprintf("How many %q would you like?", item))
}

// OrderItem captures the free-text item and asks for a quantity.
func (f *orderFlows) OrderItem(ctx context.Context, ev whatsapp.Event, _ *session.Session) error {
	item := strings.TrimSpace(ev.Text)
	if item == "" {
		return f.send(ctx, ev.SubjectID, "Please type the item you want to order.")
	}
	partial := session.WithState(stateOrderQty)
	partial.Data = map[string]any{"item": item}
	if _, err := f.engine.Store().Set(ctx, ev.SubjectID, partial); err != nil {
		return fmt.Errorf("order item %s: %w", ev.SubjectID, err)
	}
	return f.send(ctx, ev.SubjectID, fmt.Sprintf("How many %q would you like?", item))
}

// OrderQty validates the quantity and asks for confirmation. Invalid input
// re-prompts without losing the accumulated data.
func (f *orderFlows) OrderQty(ctx context.Context, ev whatsapp.Event, sess *session.Session) error {
	qty, err := strconv.Atoi(strings.TrimSpace(ev.Text))
	if err != nil || qty <= 0 || qty > 1000 {
		return f.send(ctx, ev.SubjectID, "Please send a quantity between 1 and 1000.")
	}
	partial := session.WithState(stateOrderConfirm)
	partial.Data = map[string]any{"qty": qty}
	updated, err := f.engine.Store().Set(ctx, ev.SubjectID, partial)
	if err != nil {
		return fmt.Errorf("order qty %s: %w", ev.SubjectID, err)
	}
	item, _ := updated.Data["item"].(string)
	return f.send(ctx, ev.SubjectID, fmt.Sprintf("Confirm order: %d x %q? (yes/no)", qty, item))
}

// OrderConfirm finishes or aborts; both terminal paths clear the session
// so the next message starts from the menu.
func (f *orderFlows) OrderConfirm(ctx context.Context, ev whatsapp.Event, sess *session.Session) error {
	answer := strings.ToLower(strings.TrimSpace(ev.Text))
	switch answer {
	case "yes", "y":
		item, _ := sess.Data["item"].(string)
		if err := f.engine.Store().Clear(ctx, ev.SubjectID); err != nil {
			return fmt.Errorf("order confirm %s: %w", ev.SubjectID, err)
		}
		return f.send(ctx, ev.SubjectID, fmt.Sprintf("Order placed: %q. Thank you!", item))
	case "no", "n":
		if err := f.engine.Store().Clear(ctx, ev.SubjectID); err != nil {
			return fmt.Errorf("order abort %s: %w", ev.SubjectID, err)
		}
		return f.send(ctx, ev.SubjectID, "Order discarded. "+menuText)
	default:
		return f.send(ctx, ev.SubjectID, "Please answer yes or no.")
	}
}

// Media politely declines attachments outside any flow that expects them.
func (f *orderFlows) Media(ctx context.Context, ev whatsapp.Event, _ *session.Session) error {
	return f.send(ctx, ev.SubjectID, "I can't process attachments here. "+menuText)
}

// Fallback handles anything nothing else claimed.
func (f *orderFlows) Fallback(ctx context.Context, ev whatsapp.Event, _ *session.Session) error {
	return f.send(ctx, ev.SubjectID, "Sorry, I didn't understand that. "+menuText)
}
