// Package limits implements admission control for inbound connections.
package limits

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/luminet-im/luminet/internal/monitoring"
)

// Default bucket parameters. Both buckets refill continuously and clamp at
// their burst capacity.
const (
	DefaultGlobalCapacity = 500
	DefaultGlobalRate     = 500.0 // tokens per second
	DefaultPeerCapacity   = 5
	DefaultPeerRate       = 5.0 // tokens per second

	sweepInterval = 30 * time.Second
	peerTTL       = time.Minute
)

// RateLimiter admits connections through two token buckets: one global and
// one per source address. A connection is admitted only when both buckets
// have a token.
type RateLimiter struct {
	peersMu sync.Mutex
	peers   map[string]*peerBucket

	global *rate.Limiter

	peerRate       float64
	peerCapacity   int
	globalRate     float64
	globalCapacity int

	logger zerolog.Logger

	sweepTicker *time.Ticker
	stopSweep   chan struct{}
	stopOnce    sync.Once

	// test hook, defaults to time.Now
	now func() time.Time
}

type peerBucket struct {
	limiter    *rate.Limiter
	lastUpdate time.Time
}

// Config overrides the default bucket parameters. Zero fields keep the
// defaults.
type Config struct {
	GlobalCapacity int
	GlobalRate     float64
	PeerCapacity   int
	PeerRate       float64
	Logger         zerolog.Logger
}

// NewRateLimiter creates the limiter and starts its background sweep, which
// drops per-address buckets idle for a minute. Stop must be called on
// shutdown.
func NewRateLimiter(cfg Config) *RateLimiter {
	if cfg.GlobalCapacity == 0 {
		cfg.GlobalCapacity = DefaultGlobalCapacity
	}
	if cfg.GlobalRate == 0 {
		cfg.GlobalRate = DefaultGlobalRate
	}
	if cfg.PeerCapacity == 0 {
		cfg.PeerCapacity = DefaultPeerCapacity
	}
	if cfg.PeerRate == 0 {
		cfg.PeerRate = DefaultPeerRate
	}

	rl := &RateLimiter{
		peers:          make(map[string]*peerBucket),
		global:         rate.NewLimiter(rate.Limit(cfg.GlobalRate), cfg.GlobalCapacity),
		peerRate:       cfg.PeerRate,
		peerCapacity:   cfg.PeerCapacity,
		globalRate:     cfg.GlobalRate,
		globalCapacity: cfg.GlobalCapacity,
		logger:         cfg.Logger.With().Str("component", "rate_limiter").Logger(),
		stopSweep:      make(chan struct{}),
		now:            time.Now,
	}

	rl.sweepTicker = time.NewTicker(sweepInterval)
	go rl.sweepLoop()

	rl.logger.Info().
		Int("global_capacity", cfg.GlobalCapacity).
		Float64("global_rate", cfg.GlobalRate).
		Int("peer_capacity", cfg.PeerCapacity).
		Float64("peer_rate", cfg.PeerRate).
		Msg("Rate limiter initialized")

	return rl
}

// Allow reports whether a connection from addr is admitted. The per-address
// bucket is consulted first, then the global bucket.
func (rl *RateLimiter) Allow(addr string) bool {
	if !rl.peerLimiter(addr).Allow() {
		rl.logger.Debug().Str("addr", addr).Msg("Connection rejected: per-address rate limit")
		monitoring.IncrementRejectedConnections("per_addr")
		return false
	}
	if !rl.global.Allow() {
		rl.logger.Debug().Str("addr", addr).Msg("Connection rejected: global rate limit")
		monitoring.IncrementRejectedConnections("global")
		return false
	}
	return true
}

func (rl *RateLimiter) peerLimiter(addr string) *rate.Limiter {
	rl.peersMu.Lock()
	defer rl.peersMu.Unlock()

	if entry, ok := rl.peers[addr]; ok {
		entry.lastUpdate = rl.now()
		return entry.limiter
	}

	limiter := rate.NewLimiter(rate.Limit(rl.peerRate), rl.peerCapacity)
	rl.peers[addr] = &peerBucket{limiter: limiter, lastUpdate: rl.now()}
	return limiter
}

func (rl *RateLimiter) sweepLoop() {
	for {
		select {
		case <-rl.sweepTicker.C:
			rl.sweep()
		case <-rl.stopSweep:
			rl.sweepTicker.Stop()
			return
		}
	}
}

func (rl *RateLimiter) sweep() {
	rl.peersMu.Lock()
	defer rl.peersMu.Unlock()

	cutoff := rl.now().Add(-peerTTL)
	removed := 0
	for addr, entry := range rl.peers {
		if entry.lastUpdate.Before(cutoff) {
			delete(rl.peers, addr)
			removed++
		}
	}
	if removed > 0 {
		rl.logger.Debug().
			Int("removed", removed).
			Int("remaining", len(rl.peers)).
			Msg("Swept idle address buckets")
	}
}

// TrackedPeers returns the number of per-address buckets currently held.
func (rl *RateLimiter) TrackedPeers() int {
	rl.peersMu.Lock()
	defer rl.peersMu.Unlock()
	return len(rl.peers)
}

// Stop halts the background sweep. Idempotent.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopSweep)
	})
}
