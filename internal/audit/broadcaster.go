// Package audit owns the append-only scan trail: recording scan events,
// fanning them out live to dashboard subscribers, and serving read-only
// analytics projections over the log.
package audit

import (
	"log/slog"
	"sync"

	"github.com/gatepass/backend/internal/metrics"
	"github.com/gatepass/backend/internal/store"
)

// subBuffer is the per-subscriber send queue depth. A subscriber whose
// queue is full is considered stalled and is dropped.
const subBuffer = 32

// Envelope is the neutral wire frame pushed to subscribers.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// ScanEvent is a scan record enriched with the student identity, the
// shape dashboards render directly.
type ScanEvent struct {
	store.Scan
	StudentName string `json:"student_name,omitempty"`
	SubjectCode string `json:"student_code,omitempty"`
}

// Broadcaster fans scan events out to live subscribers. Sends are
// non-blocking: a subscriber that cannot keep up is removed without
// affecting the others.
type Broadcaster struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Envelope

	metrics *metrics.Metrics
}

func NewBroadcaster(m *metrics.Metrics) *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Envelope), metrics: m}
}

// Subscribe registers a new subscriber and returns its id and receive
// channel. The channel is closed when the subscriber is dropped or
// unsubscribes.
func (b *Broadcaster) Subscribe() (int, <-chan Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	ch := make(chan Envelope, subBuffer)
	b.subs[id] = ch
	if b.metrics != nil {
		b.metrics.Subscribers.Set(float64(len(b.subs)))
	}
	return id, ch
}

// Unsubscribe removes a subscriber. Safe to call after a drop.
func (b *Broadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropLocked(id)
}

// Publish delivers env to every subscriber without blocking. Full
// queues drop their subscriber.
func (b *Broadcaster) Publish(env Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- env:
			if b.metrics != nil {
				b.metrics.BroadcastsSent.Inc()
			}
		default:
			slog.Warn("audit: dropping stalled subscriber", "subscriber_id", id)
			if b.metrics != nil {
				b.metrics.BroadcastsDrops.Inc()
			}
			b.dropLocked(id)
		}
	}
}

// SubscriberCount returns the current live subscriber count.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broadcaster) dropLocked(id int) {
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
		if b.metrics != nil {
			b.metrics.Subscribers.Set(float64(len(b.subs)))
		}
	}
}
