package server

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/glowlabs-org/demo-master/demo"
)

// maxTrackedPeers bounds the memory spent on rate limiting. When more peers
// than this are active, the least recently seen lose their history.
const maxTrackedPeers = 16384

// peerLimiter applies a sliding window limit to each peer IP.
type peerLimiter struct {
	limit  int
	window time.Duration
	peers  *lru.Cache[string, *demo.RateLimiter]
	mu     sync.Mutex
}

// newPeerLimiter returns nil when limit is zero, and a nil peerLimiter
// allows everything.
func newPeerLimiter(limit int, window time.Duration) *peerLimiter {
	if limit == 0 {
		return nil
	}
	peers, err := lru.New[string, *demo.RateLimiter](maxTrackedPeers)
	if err != nil {
		panic(err)
	}
	return &peerLimiter{
		limit:  limit,
		window: window,
		peers:  peers,
	}
}

// Allow records a request from ip and reports whether it is within limits.
func (pl *peerLimiter) Allow(ip string) bool {
	if pl == nil {
		return true
	}
	pl.mu.Lock()
	rl, ok := pl.peers.Get(ip)
	if !ok {
		rl = demo.NewRateLimiter(pl.limit, pl.window)
		pl.peers.Add(ip, rl)
	}
	pl.mu.Unlock()
	return rl.Allow()
}
