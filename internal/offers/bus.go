package offers

import (
	"encoding/json"
	"sync"

	"github.com/TerraScore/TerraScore/internal/api"
)

// Event is a push notification about the offer set or a job lifecycle
// change. Data carries the raw frame payload for typed socket events; Offers
// is set on refreshed-list events.
type Event struct {
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data,omitempty"`
	Offers []api.Offer     `json:"-"`
}

// Event types forwarded to subscribers.
const (
	EventOffersChanged   = "offers.changed"
	EventJobAccepted     = "job.accepted"
	EventSurveySubmitted = "job.survey_submitted"
)

// Bus fans events out to in-process subscribers: the status server, the UI
// layer, tests. Delivery is best effort; a full subscriber channel drops the
// event rather than blocking the publisher.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs map[int]chan Event
}

func NewBus() *Bus {
	return &Bus{subs: map[int]chan Event{}}
}

// Subscribe registers a listener. The cancel function removes it and closes
// the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, 8)
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

// Publish delivers the event to every current subscriber.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	subs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		subs = append(subs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
