// Package bus fans one update stream out to every connected subscriber.
// Delivery is per-subscriber FIFO with a bounded buffer; a consumer that
// cannot keep up loses its oldest pending update rather than stalling the
// publisher or its peers.
package bus

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pulsefeed/marketfan/internal/metrics"
)

// DefaultBufferSize is the per-subscriber pending-update capacity.
const DefaultBufferSize = 1000

// Subscription is one consumer's handle. Updates arrives in publish order;
// the channel is closed after Unsubscribe.
type Subscription struct {
	ID      string
	Updates <-chan []byte

	ch chan []byte
}

// Bus is the fan-out hub. The zero value is not usable; call New.
type Bus struct {
	mu      sync.Mutex
	subs    map[string]*Subscription
	bufSize int
	dropped uint64
}

// New builds a bus with the default per-subscriber buffer.
func New() *Bus {
	return &Bus{
		subs:    make(map[string]*Subscription),
		bufSize: DefaultBufferSize,
	}
}

// Subscribe registers a new consumer and returns its handle.
func (b *Bus) Subscribe() *Subscription {
	ch := make(chan []byte, b.bufSize)
	sub := &Subscription{
		ID:      uuid.NewString(),
		Updates: ch,
		ch:      ch,
	}
	b.mu.Lock()
	b.subs[sub.ID] = sub
	n := len(b.subs)
	b.mu.Unlock()

	log.Debug().Str("subscriber_id", sub.ID).Int("subscribers", n).Msg("Subscriber registered")
	return sub
}

// Unsubscribe removes the consumer and closes its channel. Safe to call
// more than once.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	n := len(b.subs)
	b.mu.Unlock()

	if ok {
		close(sub.ch)
		log.Debug().Str("subscriber_id", id).Int("subscribers", n).Msg("Subscriber removed")
	}
}

// Broadcast sends payload to every subscriber and returns the number
// reached. A full buffer sheds its oldest entry so the newest update is
// always enqueued. The bus lock is held for the whole delivery pass, which
// keeps each subscriber's stream FIFO under concurrent publishers.
func (b *Bus) Broadcast(payload []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		for {
			select {
			case sub.ch <- payload:
			default:
				select {
				case <-sub.ch:
					b.dropped++
					metrics.BroadcastDrops.Inc()
					log.Warn().Str("subscriber_id", sub.ID).Msg("Slow subscriber, dropped oldest pending update")
				default:
				}
				continue
			}
			break
		}
	}
	return len(b.subs)
}

// SubscriberCount returns the number of registered consumers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Dropped returns the total updates shed to slow consumers.
func (b *Bus) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
