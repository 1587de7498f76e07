package interfaces

import (
	"github.com/ternarybob/webpscan/internal/models"
)

// Subscriber receives progress events for the groups it joined. Send must
// not block the caller; implementations buffer or drop, and return an
// error only when the subscriber is gone for good.
type Subscriber interface {
	ID() string
	Send(event models.EventType, payload interface{}) error
}

// Broadcaster fans progress events out to subscription groups. Emission
// is best-effort: a slow or failed subscriber never blocks the crawler.
type Broadcaster interface {
	Subscribe(group string, sub Subscriber)
	Unsubscribe(group string, subID string)
	// UnsubscribeAll removes the subscriber from every group
	UnsubscribeAll(subID string)
	Broadcast(group string, event models.EventType, payload interface{})
	// SubscriberCount reports current membership of a group (diagnostics)
	SubscriberCount(group string) int
}
