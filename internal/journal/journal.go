// Package journal
package journal

import (
	"context"
	"time"
)

// Event types recorded by the engine.
const (
	EventPositionOpened      = "position_opened"
	EventPositionClosed      = "position_closed"
	EventPartialClose        = "partial_close"
	EventOrderRejected       = "order_rejected"
	EventModeChanged         = "mode_changed"
	EventReset               = "reset"
	EventReadinessTransition = "readiness_transition"
	EventFeedError           = "feed_error"
)

// Event is one append-only audit record.
type Event struct {
	Time        time.Time      `json:"time"`
	Type        string         `json:"type"`
	Symbol      string         `json:"symbol,omitempty"`
	Description string         `json:"description"`
	Data        map[string]any `json:"data,omitempty"`
}

// Journaler persists events.
type Journaler interface {
	LogEvent(ctx context.Context, event Event) error
	GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]Event, error)
}
