// Package server exposes the external surface: the /ws fan-out endpoint,
// the /health report, and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/pulsefeed/marketfan/internal/bus"
	"github.com/pulsefeed/marketfan/internal/cache"
	"github.com/pulsefeed/marketfan/internal/metrics"
	"github.com/pulsefeed/marketfan/internal/sources"
)

const (
	serviceName = "marketfan"

	writeTimeout  = 10 * time.Second
	pongTimeout   = 60 * time.Second
	pingInterval  = 30 * time.Second
	maxInboundMsg = 512
)

// upgrader accepts any origin; the service sits behind an edge proxy that
// enforces origin policy.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Aggregation reports fetch counters for the health payload.
type Aggregation interface {
	Stats() (total, partials uint64)
}

// Upstream reports per-source health and traffic.
type Upstream interface {
	Healthy() bool
	Stats() map[string]sources.SourceStats
}

// Leadership reports this node's election state.
type Leadership interface {
	IsLeader() bool
	NodeID() string
}

// Server wires the router over the fan-out bus and the health inputs.
type Server struct {
	bus        *bus.Bus
	cache      *cache.Tiered
	upstream   Upstream
	aggregator Aggregation
	election   Leadership

	activeConns atomic.Int64
	httpServer  *http.Server
}

// New builds the server for addr.
func New(addr string, b *bus.Bus, tiered *cache.Tiered, upstream Upstream, agg Aggregation, election Leadership) *Server {
	s := &Server{
		bus:        b,
		cache:      tiered,
		upstream:   upstream,
		aggregator: agg,
		election:   election,
	}
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // websocket connections outlive any fixed deadline
	}
	return s
}

// Router builds the route table. Exposed for handler tests.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWebSocket)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("HTTP server listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ActiveConnections returns the live websocket count.
func (s *Server) ActiveConnections() int64 {
	return s.activeConns.Load()
}

type greeting struct {
	Type      string `json:"type"`
	ClientID  string `json:"client_id"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	sub := s.bus.Subscribe()
	n := s.activeConns.Add(1)
	metrics.ActiveConnections.Set(float64(n))
	log.Info().Str("client_id", sub.ID).Str("remote", r.RemoteAddr).Int64("active", n).Msg("WebSocket client connected")

	defer func() {
		s.bus.Unsubscribe(sub.ID)
		conn.Close()
		n := s.activeConns.Add(-1)
		metrics.ActiveConnections.Set(float64(n))
		log.Info().Str("client_id", sub.ID).Int64("active", n).Msg("WebSocket client disconnected")
	}()

	hello := greeting{
		Type:      "connection_established",
		ClientID:  sub.ID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(hello); err != nil {
		log.Warn().Err(err).Str("client_id", sub.ID).Msg("Greeting write failed")
		return
	}

	// Inbound frames are ignored but must be drained for close and pong
	// handling to run.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		conn.SetReadLimit(maxInboundMsg)
		conn.SetReadDeadline(time.Now().Add(pongTimeout))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongTimeout))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pinger := time.NewTicker(pingInterval)
	defer pinger.Stop()

	for {
		select {
		case frame, ok := <-sub.Updates:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Debug().Err(err).Str("client_id", sub.ID).Msg("Update write failed, dropping client")
				return
			}
		case <-pinger.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-readerDone:
			return
		}
	}
}

type healthResponse struct {
	Status            string                 `json:"status"`
	Service           string                 `json:"service"`
	ActiveConnections int64                  `json:"active_connections"`
	Details           map[string]interface{} `json:"details"`
}

// handleHealth reports degraded-but-alive states as healthy: a rate-limited
// upstream or a missing shared cache tier still serves subscribers. Only an
// open crypto breaker, meaning no price data at all, returns 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	total, partials := s.aggregator.Stats()
	details := map[string]interface{}{
		"cache":              s.cache.Stats(),
		"cache_degraded":     s.cache.Degraded(),
		"redis_reachable":    s.cache.Healthy(r.Context()),
		"sources":            s.upstream.Stats(),
		"aggregations_total": total,
		"partial_aggregates": partials,
		"is_leader":          s.election.IsLeader(),
		"node_id":            s.election.NodeID(),
	}

	resp := healthResponse{
		Status:            "healthy",
		Service:           serviceName,
		ActiveConnections: s.activeConns.Load(),
		Details:           details,
	}
	code := http.StatusOK
	if !s.upstream.Healthy() {
		resp.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Warn().Err(err).Msg("Health response write failed")
	}
}
