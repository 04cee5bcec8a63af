package driver

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pulsefeed/marketfan/internal/aggregator"
	"github.com/pulsefeed/marketfan/internal/cache"
)

type fakeSnapshotter struct {
	mu     sync.Mutex
	calls  int
	forced []bool
}

func (f *fakeSnapshotter) FetchSnapshot(ctx context.Context, forceRealtime bool) *aggregator.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.forced = append(f.forced, forceRealtime)
	return &aggregator.Snapshot{BTCPriceUSD: 67000, Timestamp: "2026-08-24T00:00:00Z"}
}

type fakeLeadership struct{ leader bool }

func (f *fakeLeadership) IsLeader() bool { return f.leader }

type fakeBus struct {
	mu     sync.Mutex
	frames [][]byte
}

func (f *fakeBus) Broadcast(payload []byte) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, payload)
	return 1
}

func (f *fakeBus) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

type fakeHistory struct {
	mu       sync.Mutex
	payloads [][]byte
	err      error
}

func (f *fakeHistory) Publish(ctx context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	return f.err
}

type fakeCache struct {
	mu         sync.Mutex
	store      map[string][]byte
	purgeCalls int
	expired    int
}

func newFakeCache() *fakeCache { return &fakeCache{store: make(map[string][]byte)} }

func (f *fakeCache) Get(ctx context.Context, key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.store[key]
	return v, ok
}

func (f *fakeCache) Set(ctx context.Context, key string, payload []byte, strategy cache.Strategy) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store[key] = payload
}

func (f *fakeCache) Purge() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purgeCalls++
	n := f.expired
	f.expired = 0
	return n
}

func TestLeaderTickPersistsPublishesAndBroadcasts(t *testing.T) {
	snaps := &fakeSnapshotter{}
	bus := &fakeBus{}
	history := &fakeHistory{}
	store := newFakeCache()
	d := New(snaps, &fakeLeadership{leader: true}, bus, history, store, time.Second)

	d.Tick(context.Background())

	if snaps.calls != 1 || !snaps.forced[0] {
		t.Fatalf("leader must force a realtime fetch, got calls=%d forced=%v", snaps.calls, snaps.forced)
	}
	cached, ok := store.Get(context.Background(), LatestSnapshotKey)
	if !ok {
		t.Fatal("leader tick must cache the latest snapshot")
	}
	if len(history.payloads) != 1 || string(history.payloads[0]) != string(cached) {
		t.Fatal("history stream must receive the same payload that was cached")
	}
	if bus.count() != 1 {
		t.Fatalf("broadcast count %d, want 1", bus.count())
	}

	var env Envelope
	if err := json.Unmarshal(bus.frames[0], &env); err != nil {
		t.Fatalf("broadcast frame is not a valid envelope: %v", err)
	}
	if env.Type != "dashboard_update" || env.Source != "external_apis" {
		t.Fatalf("envelope type=%q source=%q", env.Type, env.Source)
	}
	var snap aggregator.Snapshot
	if err := json.Unmarshal(env.Data, &snap); err != nil {
		t.Fatalf("envelope data is not a snapshot: %v", err)
	}
	if snap.BTCPriceUSD != 67000 {
		t.Fatalf("snapshot btc price %v, want 67000", snap.BTCPriceUSD)
	}
}

func TestFollowerTickRelaysCachedSnapshot(t *testing.T) {
	snaps := &fakeSnapshotter{}
	bus := &fakeBus{}
	store := newFakeCache()
	store.Set(context.Background(), LatestSnapshotKey, []byte(`{"btc_price_usd":68000}`), cache.RealTime)
	d := New(snaps, &fakeLeadership{leader: false}, bus, &fakeHistory{}, store, time.Second)

	d.Tick(context.Background())

	if snaps.calls != 0 {
		t.Fatal("follower must never hit upstream")
	}
	if bus.count() != 1 {
		t.Fatalf("broadcast count %d, want 1", bus.count())
	}
	var env Envelope
	if err := json.Unmarshal(bus.frames[0], &env); err != nil {
		t.Fatal(err)
	}
	if string(env.Data) != `{"btc_price_usd":68000}` {
		t.Fatalf("follower relayed %s", env.Data)
	}
}

func TestFollowerTickWithoutSnapshotSkipsBroadcast(t *testing.T) {
	bus := &fakeBus{}
	d := New(&fakeSnapshotter{}, &fakeLeadership{leader: false}, bus, &fakeHistory{}, newFakeCache(), time.Second)

	d.Tick(context.Background())

	if bus.count() != 0 {
		t.Fatal("nothing to relay, nothing should be broadcast")
	}
}

func TestHistoryFailureDoesNotBlockBroadcast(t *testing.T) {
	bus := &fakeBus{}
	history := &fakeHistory{err: errors.New("stream down")}
	d := New(&fakeSnapshotter{}, &fakeLeadership{leader: true}, bus, history, newFakeCache(), time.Second)

	d.Tick(context.Background())

	if bus.count() != 1 {
		t.Fatal("broadcast must proceed when the history append fails")
	}
}

func TestTickReclaimsExpiredCacheEntries(t *testing.T) {
	store := newFakeCache()
	store.expired = 3
	d := New(&fakeSnapshotter{}, &fakeLeadership{leader: true}, &fakeBus{}, &fakeHistory{}, store, time.Second)

	d.Tick(context.Background())
	d.Tick(context.Background())

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.purgeCalls != 2 {
		t.Fatalf("purge ran %d times, want once per tick", store.purgeCalls)
	}
}

func TestRunTicksImmediatelyAndStopsOnCancel(t *testing.T) {
	snaps := &fakeSnapshotter{}
	bus := &fakeBus{}
	d := New(snaps, &fakeLeadership{leader: true}, bus, &fakeHistory{}, newFakeCache(), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	time.Sleep(35 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
	if bus.count() < 2 {
		t.Fatalf("expected an immediate tick plus interval ticks, got %d", bus.count())
	}
}
