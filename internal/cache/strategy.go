package cache

import "time"

// Strategy names a fixed TTL class for a cache key. Data classes map to
// strategies rather than raw durations so freshness policy lives in one
// place.
type Strategy struct {
	name string
	ttl  time.Duration
}

var (
	// RealTime covers crypto prices and the latest-snapshot key.
	RealTime = Strategy{name: "realtime", ttl: 10 * time.Second}
	// ShortTerm covers sentiment and stock indices.
	ShortTerm = Strategy{name: "short_term", ttl: 5 * time.Minute}
	// MediumTerm covers global market metrics.
	MediumTerm = Strategy{name: "medium_term", ttl: time.Hour}
	// LongTerm covers slow-moving technicals such as RSI.
	LongTerm = Strategy{name: "long_term", ttl: 3 * time.Hour}
)

// Custom builds a one-off strategy with an explicit duration.
func Custom(d time.Duration) Strategy {
	return Strategy{name: "custom", ttl: d}
}

// TTL returns the duration entries under this strategy stay fresh.
func (s Strategy) TTL() time.Duration { return s.ttl }

func (s Strategy) String() string { return s.name }
