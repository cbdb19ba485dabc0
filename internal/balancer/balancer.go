// Package balancer implements the three load-balancer families of spec.md
// §4.2: RoundRobin, Weighted (Nginx-style smooth weighted round robin), and
// Random. All three share the Balancer interface and a no-op ReportFailure,
// mirroring the teacher's small-interface style (internal/resolvers.Resolver)
// and grounded algorithmically on the Rust original's src/balancer.rs.
package balancer

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jroosing/loadants/internal/apperrors"
	"github.com/jroosing/loadants/internal/upstream/server"
)

// Balancer selects one upstream server per call.
type Balancer interface {
	// Select returns the next server to use, or ErrNoUpstreamAvailable if
	// the server list is empty.
	Select() (server.Spec, error)

	// ReportFailure is advisory; all three variants treat it as a no-op
	// today so a future circuit breaker can be added without changing
	// callers, per spec.md §4.2.
	ReportFailure(server.Spec)
}

// RoundRobin cycles through servers using a single atomic counter.
type RoundRobin struct {
	servers []server.Spec
	next    uint64
}

// NewRoundRobin constructs a RoundRobin balancer over servers.
func NewRoundRobin(servers []server.Spec) *RoundRobin {
	return &RoundRobin{servers: servers}
}

// Select returns servers[counter % len(servers)], incrementing the counter
// atomically.
func (b *RoundRobin) Select() (server.Spec, error) {
	if len(b.servers) == 0 {
		return server.Spec{}, apperrors.ErrNoUpstreamAvailable
	}
	idx := atomic.AddUint64(&b.next, 1) - 1
	return b.servers[idx%uint64(len(b.servers))], nil
}

// ReportFailure is a no-op for RoundRobin.
func (b *RoundRobin) ReportFailure(server.Spec) {}

// Weighted implements smooth weighted round robin (the Nginx variant): each
// server accumulates `current += weight` every call; the server with the
// greatest current wins and has total_weight subtracted from its current.
// This amortises selection proportional to weight while avoiding bursts of
// consecutive picks of the heaviest server.
type Weighted struct {
	mu          sync.Mutex
	servers     []server.Spec
	current     []int64
	totalWeight int64
}

// NewWeighted constructs a Weighted balancer. A zero total weight is a
// construction error (apperrors.ErrConfig), per spec.md §4.2.
func NewWeighted(servers []server.Spec) (*Weighted, error) {
	var total int64
	for _, s := range servers {
		total += int64(s.Weight)
	}
	if total == 0 {
		return nil, apperrors.ErrConfig
	}
	return &Weighted{
		servers:     servers,
		current:     make([]int64, len(servers)),
		totalWeight: total,
	}, nil
}

// Select runs one step of smooth weighted round robin.
func (b *Weighted) Select() (server.Spec, error) {
	if len(b.servers) == 0 {
		return server.Spec{}, apperrors.ErrNoUpstreamAvailable
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	maxIdx := 0
	var maxWeight int64 = -1 << 62
	for i, s := range b.servers {
		b.current[i] += int64(s.Weight)
		if b.current[i] > maxWeight {
			maxWeight = b.current[i]
			maxIdx = i
		}
	}
	b.current[maxIdx] -= b.totalWeight
	return b.servers[maxIdx], nil
}

// ReportFailure is a no-op for Weighted.
func (b *Weighted) ReportFailure(server.Spec) {}

// Random chooses uniformly at random using a per-process PRNG.
type Random struct {
	mu      sync.Mutex
	servers []server.Spec
	rng     *rand.Rand
}

// NewRandom constructs a Random balancer over servers.
func NewRandom(servers []server.Spec) *Random {
	return &Random{
		servers: servers,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Select returns a uniformly random server.
func (b *Random) Select() (server.Spec, error) {
	if len(b.servers) == 0 {
		return server.Spec{}, apperrors.ErrNoUpstreamAvailable
	}
	b.mu.Lock()
	idx := b.rng.Intn(len(b.servers))
	b.mu.Unlock()
	return b.servers[idx], nil
}

// ReportFailure is a no-op for Random.
func (b *Random) ReportFailure(server.Spec) {}
