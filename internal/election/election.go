// Package election provides Redis-backed leader election for the fetch
// driver. Exactly one instance holds the leader key at a time; followers
// keep retrying acquisition so a crashed leader is replaced within one
// key TTL.
package election

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/pulsefeed/marketfan/internal/metrics"
)

const (
	// LeaderKey is the shared lock key. The value is the holder's node ID.
	LeaderKey = "websocket:leader"

	defaultKeyTTL    = 10 * time.Second
	defaultHeartbeat = 5 * time.Second
)

// Renewal and release compare the stored value against the caller's node
// ID so an instance can never refresh or delete a lock it lost.
const (
	renewScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("pexpire", KEYS[1], ARGV[2])
else
  return 0
end`
	releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`
)

// Elector contends for the leader key on behalf of one node.
type Elector struct {
	client    redis.Cmdable
	nodeID    string
	keyTTL    time.Duration
	heartbeat time.Duration

	leader atomic.Bool
}

// New builds an elector with the default TTL and heartbeat cadence.
func New(client redis.Cmdable, nodeID string) *Elector {
	return &Elector{
		client:    client,
		nodeID:    nodeID,
		keyTTL:    defaultKeyTTL,
		heartbeat: defaultHeartbeat,
	}
}

// IsLeader reports the last observed leadership state. It is safe to call
// from any goroutine.
func (e *Elector) IsLeader() bool { return e.leader.Load() }

// NodeID returns the identity this elector contends with.
func (e *Elector) NodeID() string { return e.nodeID }

// TryAcquire attempts to take the leader key. It returns true only when
// this call created the key; an existing key held by anyone, including
// this node, leaves ownership to the renewal path.
func (e *Elector) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := e.client.SetNX(ctx, LeaderKey, e.nodeID, e.keyTTL).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Renew extends the key TTL if and only if this node still holds it.
func (e *Elector) Renew(ctx context.Context) (bool, error) {
	res, err := e.client.Eval(ctx, renewScript, []string{LeaderKey},
		e.nodeID, e.keyTTL.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// Release deletes the key if this node holds it. Called on shutdown so a
// follower can take over immediately instead of waiting out the TTL.
func (e *Elector) Release(ctx context.Context) (bool, error) {
	res, err := e.client.Eval(ctx, releaseScript, []string{LeaderKey}, e.nodeID).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// Run drives the acquire/renew loop until ctx is canceled. A leader that
// fails to renew (Redis error or lost key) demotes itself on the spot; a
// follower retries acquisition every heartbeat. Run never returns an
// error: election trouble is logged and retried forever.
func (e *Elector) Run(ctx context.Context) {
	e.tick(ctx)

	ticker := time.NewTicker(e.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.demote("shutdown")
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Elector) tick(ctx context.Context) {
	if e.leader.Load() {
		ok, err := e.Renew(ctx)
		if err != nil {
			e.demote("renewal error")
			log.Error().Err(err).Str("node_id", e.nodeID).Msg("Leader renewal failed, demoting")
			return
		}
		if !ok {
			e.demote("key lost")
			return
		}
		return
	}

	ok, err := e.TryAcquire(ctx)
	if err != nil {
		log.Warn().Err(err).Str("node_id", e.nodeID).Msg("Leader acquisition attempt failed")
		return
	}
	if ok {
		e.leader.Store(true)
		metrics.LeaderGauge.Set(1)
		log.Info().Str("node_id", e.nodeID).Msg("Acquired leadership, this node drives fetching")
	}
}

func (e *Elector) demote(reason string) {
	if e.leader.CompareAndSwap(true, false) {
		metrics.LeaderGauge.Set(0)
		log.Warn().Str("node_id", e.nodeID).Str("reason", reason).Msg("Lost leadership, falling back to follower")
	}
}
