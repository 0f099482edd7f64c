// Package events fans navigation events out to in-process subscribers
// and, optionally, to a NATS subject tree for analytics.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	EventRouteEntered      = "route_entered"
	EventFolderNavigated   = "folder_navigated"
	EventProvenanceCleared = "provenance_cleared"
	EventTrailResolved     = "trail_resolved"
	EventItemDeleted       = "item_deleted"
)

// Event describes one change to, or use of, a navigation context.
type Event struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Session   string `json:"session"` // fingerprint, never the raw session id
	ItemID    string `json:"item_id,omitempty"`
	Route     string `json:"route,omitempty"`
	Source    string `json:"source,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Broadcaster manages subscribers and publishes events.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]string
}

// NewBroadcaster creates a new event broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]string),
	}
}

// Subscribe adds a subscriber for every event.
// The caller must call Unsubscribe when done.
func (b *Broadcaster) Subscribe() chan Event {
	return b.SubscribeSession("")
}

// SubscribeSession adds a subscriber that only sees events of one
// session. An empty session matches all events.
func (b *Broadcaster) SubscribeSession(session string) chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subscribers[ch] = session
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish sends an event to all matching subscribers. Non-blocking:
// drops events for slow consumers.
func (b *Broadcaster) Publish(event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch, session := range b.subscribers {
		if session != "" && session != event.Session {
			continue
		}
		select {
		case ch <- event:
		default:
		}
	}
}

// Count returns the current number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// MarshalEvent serializes an event to JSON.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}
