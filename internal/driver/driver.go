// Package driver runs the periodic fetch/broadcast loop. On every tick the
// leader aggregates a fresh snapshot, persists it, appends it to the history
// stream, and broadcasts it; followers relay the leader's latest cached
// snapshot so every instance's subscribers see the same data.
package driver

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pulsefeed/marketfan/internal/aggregator"
	"github.com/pulsefeed/marketfan/internal/cache"
)

// LatestSnapshotKey holds the most recent serialized snapshot in the cache.
// Followers read it; only the leader writes it.
const LatestSnapshotKey = "latest_market_data"

const defaultInterval = 5 * time.Second

// Envelope is the wire frame pushed to subscribers.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
	Source    string          `json:"source"`
}

// NewEnvelope wraps a serialized snapshot in the dashboard update frame.
func NewEnvelope(payload []byte) Envelope {
	return Envelope{
		Type:      "dashboard_update",
		Data:      payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Source:    "external_apis",
	}
}

// Snapshotter produces dashboard snapshots. *aggregator.Aggregator
// implements it.
type Snapshotter interface {
	FetchSnapshot(ctx context.Context, forceRealtime bool) *aggregator.Snapshot
}

// Leadership reports whether this instance drives fetching.
type Leadership interface {
	IsLeader() bool
}

// Broadcaster fans a frame out to local subscribers.
type Broadcaster interface {
	Broadcast(payload []byte) int
}

// HistoryPublisher appends snapshots to the replay stream.
type HistoryPublisher interface {
	Publish(ctx context.Context, payload []byte) error
}

// SnapshotCache is the slice of the tiered cache the driver needs.
type SnapshotCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, payload []byte, strategy cache.Strategy)
	Purge() int
}

// Driver owns the tick loop. All collaborators are injected.
type Driver struct {
	snapshots Snapshotter
	election  Leadership
	bus       Broadcaster
	history   HistoryPublisher
	cache     SnapshotCache
	interval  time.Duration
}

// New builds a driver. A non-positive interval falls back to the default.
func New(snapshots Snapshotter, election Leadership, bus Broadcaster, history HistoryPublisher, snapCache SnapshotCache, interval time.Duration) *Driver {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Driver{
		snapshots: snapshots,
		election:  election,
		bus:       bus,
		history:   history,
		cache:     snapCache,
		interval:  interval,
	}
}

// Run ticks until ctx is canceled. The first tick fires immediately so a
// fresh instance serves data without waiting a full interval. No tick
// failure stops the loop.
func (d *Driver) Run(ctx context.Context) {
	log.Info().Dur("interval", d.interval).Msg("Fetch driver started")
	d.Tick(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Fetch driver stopped")
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick runs one leader or follower pass. Each tick also reclaims expired
// tier-1 entries; the tick cadence makes a separate janitor unnecessary.
func (d *Driver) Tick(ctx context.Context) {
	if removed := d.cache.Purge(); removed > 0 {
		log.Debug().Int("removed", removed).Msg("Expired cache entries purged")
	}
	if d.election.IsLeader() {
		d.leaderTick(ctx)
		return
	}
	d.followerTick(ctx)
}

func (d *Driver) leaderTick(ctx context.Context) {
	snap := d.snapshots.FetchSnapshot(ctx, true)
	payload, err := json.Marshal(snap)
	if err != nil {
		log.Error().Err(err).Msg("Snapshot serialization failed, tick skipped")
		return
	}

	d.cache.Set(ctx, LatestSnapshotKey, payload, cache.RealTime)
	if err := d.history.Publish(ctx, payload); err != nil {
		log.Warn().Err(err).Msg("History stream append failed, broadcast continues")
	}
	d.broadcast(payload, "leader")
}

func (d *Driver) followerTick(ctx context.Context) {
	payload, ok := d.cache.Get(ctx, LatestSnapshotKey)
	if !ok {
		log.Warn().Msg("No leader snapshot available yet, follower tick skipped")
		return
	}
	d.broadcast(payload, "follower")
}

func (d *Driver) broadcast(payload []byte, role string) {
	frame, err := json.Marshal(NewEnvelope(payload))
	if err != nil {
		log.Error().Err(err).Msg("Update frame serialization failed")
		return
	}
	reached := d.bus.Broadcast(frame)
	log.Debug().Str("role", role).Int("subscribers", reached).Msg("Snapshot broadcast")
}
