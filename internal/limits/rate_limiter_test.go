package limits

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestLimiter(cfg Config) *RateLimiter {
	cfg.Logger = zerolog.Nop()
	rl := NewRateLimiter(cfg)
	rl.sweepTicker.Stop()
	return rl
}

func TestPerAddressBucketExhausts(t *testing.T) {
	rl := newTestLimiter(Config{})
	defer rl.Stop()

	for i := 0; i < DefaultPeerCapacity; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatalf("connection %d rejected within peer capacity", i)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Fatal("connection above peer capacity admitted")
	}
	// A different address has its own bucket.
	if !rl.Allow("10.0.0.2") {
		t.Fatal("fresh address rejected")
	}
}

func TestGlobalBucketExhausts(t *testing.T) {
	rl := newTestLimiter(Config{GlobalCapacity: 3, GlobalRate: 0.001, PeerCapacity: 100, PeerRate: 100})
	defer rl.Stop()

	admitted := 0
	for i := 0; i < 10; i++ {
		if rl.Allow(fmt.Sprintf("10.0.0.%d", i)) {
			admitted++
		}
	}
	if admitted != 3 {
		t.Fatalf("admitted %d, want 3", admitted)
	}
}

func TestSweepDropsIdleBuckets(t *testing.T) {
	rl := newTestLimiter(Config{})
	defer rl.Stop()

	base := time.Now()
	rl.now = func() time.Time { return base }
	rl.Allow("10.0.0.1")
	rl.Allow("10.0.0.2")
	if rl.TrackedPeers() != 2 {
		t.Fatalf("tracked %d, want 2", rl.TrackedPeers())
	}

	// One address stays active past the TTL cut.
	rl.now = func() time.Time { return base.Add(peerTTL) }
	rl.Allow("10.0.0.2")

	rl.now = func() time.Time { return base.Add(peerTTL + time.Second) }
	rl.sweep()

	if rl.TrackedPeers() != 1 {
		t.Fatalf("tracked %d after sweep, want 1", rl.TrackedPeers())
	}
	if !rl.Allow("10.0.0.1") {
		t.Fatal("swept address must start with a fresh bucket")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	rl := newTestLimiter(Config{})
	rl.Stop()
	rl.Stop()
}
