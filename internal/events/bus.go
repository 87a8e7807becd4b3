// Package events is the bridge's in-process event bus. Lifecycle and message
// events are fanned out to operator clients (SSE, websocket).
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	TypeStatus  = "status"  // connection state changes
	TypeQR      = "qr"      // pairing challenge available
	TypeChat    = "chat"    // inbound/outbound message
	TypeError   = "error"   // error notification
	TypeCleanup = "cleanup" // housekeeping reports
)

// Event is what operator clients receive.
type Event struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Level   string `json:"level,omitempty"` // info, warn or error
	TS      string `json:"ts"`

	// Chat events only.
	Role    string `json:"role,omitempty"` // user or assistant
	UserID  string `json:"user_id,omitempty"`
	Content string `json:"content,omitempty"`
}

// Marshal encodes e for the SSE and websocket streams.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Publisher is implemented by Bus. Components that only emit take this.
type Publisher interface {
	Publish(e Event)
}

// Discard is a Publisher that drops everything.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}

// historySize is how many past events a newly attached client is replayed.
const historySize = 200

// Subscription is one operator client attached to a Bus.
type Subscription struct {
	// C delivers events. It is closed by Close.
	C <-chan Event

	bus     *Bus
	ch      chan Event
	dropped int
}

// Close detaches s from its bus. Calling it more than once is harmless.
func (s *Subscription) Close() {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		close(s.ch)
	}
}

// Dropped reports how many events s missed because its buffer was full.
func (s *Subscription) Dropped() int {
	s.bus.mu.RLock()
	defer s.bus.mu.RUnlock()
	return s.dropped
}

// Bus fans events out to every Subscription and keeps a short history for
// late joiners. Publish never waits on a subscriber.
type Bus struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	history []Event
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Publish fills in ID and TS when unset, records e in the history and hands
// it to every subscriber with room in its buffer.
func (b *Bus) Publish(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.TS == "" {
		e.TS = time.Now().Format(time.RFC3339)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.history = append(b.history, e)
	if over := len(b.history) - historySize; over > 0 {
		b.history = append(b.history[:0], b.history[over:]...)
	}

	for s := range b.subs {
		select {
		case s.ch <- e:
		default:
			s.dropped++
		}
	}
}

// Subscribe attaches a new client. The caller owns the returned Subscription
// and must Close it.
func (b *Bus) Subscribe() *Subscription {
	ch := make(chan Event, 64)
	s := &Subscription{C: ch, bus: b, ch: ch}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Recent returns up to n of the latest events, oldest first. n <= 0 means
// the whole history.
func (b *Bus) Recent(n int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 || n > len(b.history) {
		n = len(b.history)
	}
	out := make([]Event, n)
	copy(out, b.history[len(b.history)-n:])
	return out
}

// SubscriberCount returns the number of attached clients.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
