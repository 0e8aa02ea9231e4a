// Package events fans typed caption events out to in-process subscribers:
// the UI layer, the translation consumer, or anything else observing a
// session.
package events

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/rs/xid"
)

// Publisher delivers typed events to local subscribers. Delivery is
// non-blocking: a subscriber that stops draining its channel loses events
// rather than stalling the session's dispatch path.
type Publisher struct {
	source string

	subMu       sync.RWMutex
	subscribers map[string]chan Envelope
}

// NewPublisher creates a publisher whose envelopes carry the given source.
func NewPublisher(source string) *Publisher {
	return &Publisher{
		source:      source,
		subscribers: make(map[string]chan Envelope),
	}
}

// Emit publishes a typed event to all current subscribers.
func (p *Publisher) Emit(eventType EventType, sessionID string, data interface{}) error {
	envelope := Envelope{
		ID:        xid.New().String(),
		Type:      eventType,
		Source:    p.source,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	envelope.Data = raw

	p.subMu.RLock()
	for id, ch := range p.subscribers {
		select {
		case ch <- envelope:
		default:
			slog.Warn("event dropped: subscriber buffer full",
				slog.String("subscriber", id), slog.String("event_type", string(eventType)))
		}
	}
	p.subMu.RUnlock()

	return nil
}

// Subscribe creates a local subscription and returns its id plus the
// receiving channel. The caller must call Unsubscribe with the same id to
// clean up.
func (p *Publisher) Subscribe(bufSize int) (string, <-chan Envelope) {
	if bufSize <= 0 {
		bufSize = 64
	}
	id := xid.New().String()
	ch := make(chan Envelope, bufSize)
	p.subMu.Lock()
	p.subscribers[id] = ch
	p.subMu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscription and closes its channel.
func (p *Publisher) Unsubscribe(id string) {
	p.subMu.Lock()
	if ch, ok := p.subscribers[id]; ok {
		close(ch)
		delete(p.subscribers, id)
	}
	p.subMu.Unlock()
}
