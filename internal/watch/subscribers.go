package watch

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/neboloop/canvas/internal/protocol"
)

// Sink receives events for one subscriber, normally a client connection or
// a viewer websocket.
type Sink interface {
	Send(ev protocol.Event) error
}

// SubscribeOptions configures a subscription.
type SubscribeOptions struct {
	// Events filters delivery; empty means every type.
	Events []string
	// Live asks for periodic screenshots while subscribed.
	Live bool
}

type subscriber struct {
	id     string
	sink   Sink
	live   bool
	events map[string]bool
}

func (s *subscriber) wants(typ string) bool {
	return len(s.events) == 0 || s.events[typ]
}

// hub fans events out to subscribers. A subscriber whose sink fails is
// dropped; the others keep receiving.
type hub struct {
	mu     sync.Mutex
	subs   map[string]*subscriber
	order  []string
	logger *slog.Logger

	// onLiveChange is called outside mu with the live subscriber count
	// whenever it may have changed. Calls are serialised by liveMu and the
	// count is read inside it, so the last call sees the latest state.
	onLiveChange func(live int)
	liveMu       sync.Mutex
}

func newHub(logger *slog.Logger) *hub {
	return &hub{subs: make(map[string]*subscriber), logger: logger}
}

func (h *hub) add(sink Sink, opts SubscribeOptions) string {
	sub := &subscriber{id: uuid.NewString(), sink: sink, live: opts.Live}
	if len(opts.Events) > 0 {
		sub.events = make(map[string]bool, len(opts.Events))
		for _, e := range opts.Events {
			sub.events[e] = true
		}
	}

	h.mu.Lock()
	h.subs[sub.id] = sub
	h.order = append(h.order, sub.id)
	h.mu.Unlock()

	if opts.Live {
		h.liveChanged()
	}
	return sub.id
}

// remove drops the subscriber with id and reports whether it existed.
func (h *hub) remove(id string) bool {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		h.removeLocked(id)
	}
	h.mu.Unlock()

	if ok && sub.live {
		h.liveChanged()
	}
	return ok
}

// removeSink drops every subscriber bound to sink.
func (h *hub) removeSink(sink Sink) int {
	h.mu.Lock()
	var (
		ids     []string
		hadLive bool
	)
	for _, id := range h.order {
		if sub := h.subs[id]; sub.sink == sink {
			ids = append(ids, id)
			hadLive = hadLive || sub.live
		}
	}
	for _, id := range ids {
		h.removeLocked(id)
	}
	h.mu.Unlock()

	if hadLive {
		h.liveChanged()
	}
	return len(ids)
}

// emit delivers ev to each interested subscriber in subscription order.
func (h *hub) emit(ev Event) int {
	h.mu.Lock()
	targets := make([]*subscriber, 0, len(h.order))
	for _, id := range h.order {
		if sub := h.subs[id]; sub.wants(ev.Type) {
			targets = append(targets, sub)
		}
	}
	h.mu.Unlock()

	delivered := 0
	for _, sub := range targets {
		if err := sub.sink.Send(ev.Envelope(sub.id)); err != nil {
			h.logger.Info("dropping watch subscriber", "subscription", sub.id, "error", err)
			h.remove(sub.id)
			continue
		}
		delivered++
	}
	return delivered
}

func (h *hub) count() (total, live int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs), h.liveCountLocked()
}

func (h *hub) removeLocked(id string) {
	delete(h.subs, id)
	for i, o := range h.order {
		if o == id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

func (h *hub) liveCountLocked() int {
	n := 0
	for _, s := range h.subs {
		if s.live {
			n++
		}
	}
	return n
}

func (h *hub) liveChanged() {
	if h.onLiveChange != nil {
		h.syncLive(h.onLiveChange)
	}
}

// syncLive runs fn with the current live count while holding liveMu.
func (h *hub) syncLive(fn func(live int)) {
	h.liveMu.Lock()
	defer h.liveMu.Unlock()
	_, live := h.count()
	fn(live)
}
