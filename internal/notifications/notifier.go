// Package notifications pushes processing alerts to chat channels and the
// event bus. Delivery is best effort: callers log errors and move on.
package notifications

import (
	"context"
	"errors"
	"time"
)

// Kind of notification.
type Kind string

const (
	KindFailure  Kind = "failure"
	KindApproval Kind = "approval"
	KindSummary  Kind = "summary"
)

// Field is a labelled value shown under the message.
type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Event is one notification about one processed call.
type Event struct {
	Kind      Kind      `json:"kind"`
	CallID    string    `json:"call_id"`
	LeadID    string    `json:"lead_id,omitempty"`
	UserName  string    `json:"user_name,omitempty"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Fields    []Field   `json:"fields,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier delivers an Event somewhere.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Multi fans an event out to every notifier. All notifiers are tried; the
// errors are joined.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards events.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

func color(k Kind) int {
	switch k {
	case KindFailure:
		return 0xFF0000
	case KindApproval:
		return 0xFFA500
	}
	return 0x00FF00
}
