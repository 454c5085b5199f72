// Package watch turns file changes, in-page mutations and HMR traffic into a
// stream of watch events, and decides when the UI is ready after a burst.
package watch

import (
	"time"

	"github.com/neboloop/canvas/internal/protocol"
)

// Event types.
const (
	EventFileChanged = "file_changed"
	EventHMRStart    = "hmr_start"
	EventHMRComplete = "hmr_complete"
	EventUIChanged   = "ui_changed"
	EventUIReady     = "ui_ready"
	EventScreenshot  = "screenshot"
	EventNavigation  = "navigation"
)

// AllEvents lists every event type in a stable order.
var AllEvents = []string{
	EventFileChanged, EventHMRStart, EventHMRComplete, EventUIChanged,
	EventUIReady, EventScreenshot, EventNavigation,
}

// IsEventType reports whether t names a known event.
func IsEventType(t string) bool {
	for _, e := range AllEvents {
		if e == t {
			return true
		}
	}
	return false
}

// startsBurst reports whether events of type t move the debouncer from idle
// to pending.
func startsBurst(t string) bool {
	switch t {
	case EventFileChanged, EventHMRComplete, EventUIChanged:
		return true
	}
	return false
}

// extendsBurst reports whether events of type t only restart the quiet
// window of a burst already in progress. A build that has started but not
// finished must not declare the UI ready on its own.
func extendsBurst(t string) bool {
	return t == EventHMRStart
}

// Event is one watch event.
type Event struct {
	Type   string
	TS     time.Time
	Fields map[string]any
}

// NewEvent builds an event stamped now.
func NewEvent(typ string, fields map[string]any) Event {
	return Event{Type: typ, TS: time.Now(), Fields: fields}
}

// Envelope renders e for subscription sub.
func (e Event) Envelope(sub string) protocol.Event {
	data := make(map[string]any, len(e.Fields)+2)
	for k, v := range e.Fields {
		data[k] = v
	}
	data["type"] = e.Type
	data["ts"] = e.TS.UTC().Format(time.RFC3339Nano)
	return protocol.Event{Event: e.Type, Subscription: sub, Data: data}
}
