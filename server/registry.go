package server

// The registry is the list of game servers that announced themselves with
// ADD. Entries are kept in an expiring LRU: a server that has not sent ADD
// within the server timeout silently disappears from QUERY results.
//
// Each entry also caches the server's answer to a game query (name,
// version, player limit). The master asks for it when a server first
// registers and again once the cached answer is older than the metadata
// refresh time. Only servers that have answered are listed by
// GET_METADATA.

import (
	"net"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/samber/lo"

	"github.com/glowlabs-org/demo-master/demo"
)

// maxQueryRetry caps how long the master waits before asking a silent
// server for its metadata again.
const maxQueryRetry = 30 * time.Second

type registeredServer struct {
	addr     *net.UDPAddr
	lastSeen time.Time

	metadata     *demo.QueryData // nil until the server answers a query
	metadataTime time.Time
	lastQuery    time.Time
}

// Registry tracks live game servers. It is safe for concurrent use.
type Registry struct {
	servers         *expirable.LRU[string, *registeredServer]
	capacity        int
	metadataRefresh time.Duration
	queryRetry      time.Duration
	now             func() time.Time
	mu              sync.Mutex
}

// NewRegistry creates a registry holding at most capacity servers, each for
// timeout after its last ADD. Cached metadata is considered stale after
// metadataRefresh.
func NewRegistry(capacity int, timeout, metadataRefresh time.Duration) *Registry {
	return &Registry{
		servers:         expirable.NewLRU[string, *registeredServer](capacity, nil, timeout),
		capacity:        capacity,
		metadataRefresh: metadataRefresh,
		queryRetry:      min(metadataRefresh, maxQueryRetry),
		now:             time.Now,
	}
}

// Add registers or refreshes addr. It returns false if addr is new and the
// registry is full; existing entries are never pushed out by new ones.
func (r *Registry) Add(addr *net.UDPAddr) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := addr.String()
	s, ok := r.servers.Peek(key)
	if !ok {
		if len(r.servers.Keys()) >= r.capacity {
			return false
		}
		s = &registeredServer{addr: addr}
	}
	s.lastSeen = r.now()
	r.servers.Add(key, s)
	return true
}

// SetMetadata stores a game query answer from addr. Answers from addresses
// that are not registered are ignored and false is returned.
func (r *Registry) SetMetadata(addr *net.UDPAddr, q demo.QueryData) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.servers.Peek(addr.String())
	if !ok {
		return false
	}
	s.metadata = &q
	s.metadataTime = r.now()
	return true
}

// ClaimQuery reports whether addr's metadata is missing or stale and no
// query was sent recently. A true result records that a query is being
// sent now.
func (r *Registry) ClaimQuery(addr *net.UDPAddr) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.servers.Peek(addr.String())
	return ok && r.claim(s, r.now())
}

// DueForQuery claims every server whose metadata is missing or stale and
// returns their addresses.
func (r *Registry) DueForQuery() []*net.UDPAddr {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var due []*net.UDPAddr
	for _, s := range r.servers.Values() {
		if r.claim(s, now) {
			due = append(due, s.addr)
		}
	}
	return due
}

func (r *Registry) claim(s *registeredServer, now time.Time) bool {
	if !s.lastQuery.IsZero() && now.Sub(s.lastQuery) < r.queryRetry {
		return false
	}
	if s.metadata != nil && now.Sub(s.metadataTime) < r.metadataRefresh {
		return false
	}
	s.lastQuery = now
	return true
}

// Len returns the number of live servers.
func (r *Registry) Len() int {
	return len(r.servers.Keys())
}

// live returns copies of the live servers sorted by address.
func (r *Registry) live() []registeredServer {
	r.mu.Lock()
	servers := lo.Map(r.servers.Values(), func(s *registeredServer, _ int) registeredServer {
		return *s
	})
	r.mu.Unlock()

	slices.SortFunc(servers, func(a, b registeredServer) int {
		return strings.Compare(a.addr.String(), b.addr.String())
	})
	return servers
}

// Addresses returns "ip:port" for every live server.
func (r *Registry) Addresses() []string {
	return lo.Map(r.live(), func(s registeredServer, _ int) string {
		return s.addr.String()
	})
}

// Metadata describes every live server that has answered a game query.
func (r *Registry) Metadata() []demo.ServerMetadata {
	now := r.now()
	known := lo.Filter(r.live(), func(s registeredServer, _ int) bool {
		return s.metadata != nil
	})
	return lo.Map(known, func(s registeredServer, _ int) demo.ServerMetadata {
		return demo.ServerMetadata{
			Address:    s.addr.IP.String(),
			Port:       s.addr.Port,
			Age:        int64(now.Sub(s.lastSeen) / time.Second),
			Name:       s.metadata.Description,
			Version:    s.metadata.Version,
			MaxPlayers: int(s.metadata.MaxPlayers),
		}
	})
}
