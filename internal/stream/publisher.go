// Package stream appends each published snapshot to a capped Redis stream
// so late-joining consumers can replay recent history.
package stream

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/pulsefeed/marketfan/internal/cache"
)

const (
	// StreamKey is the Redis stream holding recent snapshots.
	StreamKey = "market_data_stream"

	// MaxLen caps the stream; trimming is approximate.
	MaxLen = 1000

	payloadField = "data"
)

// Publisher appends snapshot payloads to the history stream. A nil store
// turns every publish into a logged no-op, matching tier-1-only operation.
type Publisher struct {
	store     *cache.RedisStore
	streamKey string
	maxLen    int64
}

// NewPublisher builds a publisher over the shared store. store may be nil.
func NewPublisher(store *cache.RedisStore) *Publisher {
	return &Publisher{
		store:     store,
		streamKey: StreamKey,
		maxLen:    MaxLen,
	}
}

// Publish appends one serialized snapshot under the "data" field. Failures
// are returned for the caller to count; history is best-effort and never
// blocks the broadcast path.
func (p *Publisher) Publish(ctx context.Context, payload []byte) error {
	if p.store == nil {
		log.Debug().Msg("Stream publish skipped, no shared store configured")
		return nil
	}
	fields := map[string]interface{}{payloadField: payload}
	if err := p.store.PublishToStream(ctx, p.streamKey, fields, p.maxLen); err != nil {
		log.Warn().Err(err).Str("stream", p.streamKey).Msg("Snapshot stream append failed")
		return err
	}
	return nil
}
