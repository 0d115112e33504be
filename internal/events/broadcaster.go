// Package events fans gallery change notifications out to SSE clients.
package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/SorenWeile/comfyui-gallery/internal/metrics"
)

// Event types.
const (
	EventSync     = "sync"
	EventFavorite = "favorite"
)

const subscriberBuffer = 64

// Event describes a change clients may want to refresh for. Sync events
// carry the pass counts; favorite events carry the affected paths.
type Event struct {
	ID         uint64   `json:"id"`
	Type       string   `json:"type"`
	Paths      []string `json:"paths,omitempty"`
	IsFavorite *bool    `json:"is_favorite,omitempty"`
	Added      int      `json:"added,omitempty"`
	Updated    int      `json:"updated,omitempty"`
	Deleted    int      `json:"deleted,omitempty"`
	Timestamp  int64    `json:"timestamp"`
}

// Sync builds the event published after a reconciliation pass.
func Sync(added, updated, deleted int) Event {
	return Event{Type: EventSync, Added: added, Updated: updated, Deleted: deleted}
}

// Favorite builds the event published when favorite flags change.
func Favorite(paths []string, value bool) Event {
	return Event{Type: EventFavorite, Paths: paths, IsFavorite: &value}
}

// Frame encodes e as one text/event-stream message.
func (e Event) Frame() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "id: %d\nevent: %s\ndata: %s\n\n", e.ID, e.Type, data)
	return buf.Bytes(), nil
}

// Subscription is one client's view of the event stream.
type Subscription struct {
	C <-chan Event

	ch   chan Event
	b    *Broadcaster
	once sync.Once
}

// Close detaches the subscription and closes C. It is safe to call more
// than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.b.remove(s.ch) })
}

// Broadcaster publishes events to every subscriber. The most recent sync
// event is replayed to new subscribers so they start from the current
// counts.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[chan Event]struct{}
	seq         uint64
	lastSync    *Event
}

// NewBroadcaster creates a new event broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe registers a subscriber. The caller must Close it when done.
func (b *Broadcaster) Subscribe() *Subscription {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	if b.lastSync != nil {
		ch <- *b.lastSync
	}
	n := len(b.subscribers)
	b.mu.Unlock()

	metrics.SetSSEConnectionsActive(int64(n))
	return &Subscription{C: ch, ch: ch, b: b}
}

func (b *Broadcaster) remove(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
	n := len(b.subscribers)
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(int64(n))
}

// Publish stamps event with a sequence number and delivers it to every
// subscriber. Subscribers whose buffer is full miss the event.
func (b *Broadcaster) Publish(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}

	b.mu.Lock()
	b.seq++
	event.ID = b.seq
	if event.Type == EventSync {
		last := event
		b.lastSync = &last
	}
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
	b.mu.Unlock()

	metrics.RecordSSEEvent(event.Type)
}

// Count returns the current number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
