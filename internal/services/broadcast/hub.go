// -----------------------------------------------------------------------
// Package broadcast fans progress events out to realtime subscribers
// -----------------------------------------------------------------------

package broadcast

import (
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/webpscan/internal/interfaces"
	"github.com/ternarybob/webpscan/internal/models"
)

// Hub routes events to named subscription groups. Subscriber slices are
// copy-on-write: Broadcast iterates a snapshot without holding the lock,
// so a slow subscriber never blocks the crawler.
type Hub struct {
	mu     sync.RWMutex
	groups map[string][]interfaces.Subscriber
	logger arbor.ILogger
}

// NewHub creates an empty broadcast hub
func NewHub(logger arbor.ILogger) *Hub {
	return &Hub{
		groups: make(map[string][]interfaces.Subscriber),
		logger: logger,
	}
}

// Subscribe adds sub to group. Re-subscribing the same ID is a no-op.
func (h *Hub) Subscribe(group string, sub interfaces.Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	existing := h.groups[group]
	for _, s := range existing {
		if s.ID() == sub.ID() {
			return
		}
	}

	next := make([]interfaces.Subscriber, len(existing), len(existing)+1)
	copy(next, existing)
	h.groups[group] = append(next, sub)

	h.logger.Debug().
		Str("group", group).
		Str("subscriber", sub.ID()).
		Int("group_size", len(next)+1).
		Msg("Subscriber added")
}

// Unsubscribe removes the subscriber ID from group
func (h *Hub) Unsubscribe(group string, subscriberID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	existing := h.groups[group]
	next := make([]interfaces.Subscriber, 0, len(existing))
	for _, s := range existing {
		if s.ID() != subscriberID {
			next = append(next, s)
		}
	}
	if len(next) == 0 {
		delete(h.groups, group)
	} else {
		h.groups[group] = next
	}
}

// UnsubscribeAll removes the subscriber from every group, used when a
// connection closes.
func (h *Hub) UnsubscribeAll(subscriberID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for group, subs := range h.groups {
		next := make([]interfaces.Subscriber, 0, len(subs))
		for _, s := range subs {
			if s.ID() != subscriberID {
				next = append(next, s)
			}
		}
		if len(next) == 0 {
			delete(h.groups, group)
		} else {
			h.groups[group] = next
		}
	}
}

// Broadcast delivers the event to every subscriber of group. Sends are
// best effort; a failed send drops the subscriber from all groups.
func (h *Hub) Broadcast(group string, event models.EventType, payload interface{}) {
	h.mu.RLock()
	subs := h.groups[group]
	h.mu.RUnlock()

	var failed []string
	for _, sub := range subs {
		if err := sub.Send(event, payload); err != nil {
			h.logger.Debug().
				Err(err).
				Str("group", group).
				Str("subscriber", sub.ID()).
				Str("event", string(event)).
				Msg("Dropping subscriber after failed send")
			failed = append(failed, sub.ID())
		}
	}
	for _, id := range failed {
		h.UnsubscribeAll(id)
	}
}

// SubscriberCount returns the current size of a group
func (h *Hub) SubscriberCount(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}
