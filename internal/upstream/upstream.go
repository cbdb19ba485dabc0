// Package upstream owns upstream group state and implements forward(), per
// spec.md §4.6: resolve the group, select a server via its load balancer,
// drive the DoH codec over the group's HTTP client, and report failures
// back to the balancer. Grounded on the teacher's
// internal/resolvers/forwarding_resolver.go for the Go idiom of a manager
// struct holding named upstream state behind a read-mostly map, and on the
// Rust original's src/upstream/manager.rs for the forward algorithm itself.
package upstream

import (
	"context"
	"fmt"
	"time"

	"github.com/miekg/dns"

	"github.com/jroosing/loadants/internal/apperrors"
	"github.com/jroosing/loadants/internal/balancer"
	"github.com/jroosing/loadants/internal/doh"
	"github.com/jroosing/loadants/internal/httpclient"
	"github.com/jroosing/loadants/internal/metrics"
	"github.com/jroosing/loadants/internal/upstream/server"
)

// Strategy selects which balancer family a group uses.
type Strategy int

const (
	StrategyRoundRobin Strategy = iota
	StrategyWeighted
	StrategyRandom
)

// GroupConfig describes one upstream group, per spec.md §3.
type GroupConfig struct {
	Name     string
	Strategy Strategy
	Servers  []server.Spec
	Client   httpclient.Config
}

// group is the constructed runtime state for one upstream group: its
// balancer and its own pooled HTTP client (never shared across groups).
type group struct {
	name        string
	lb          balancer.Balancer
	doh         *doh.Client
	serverCount int
}

// Manager owns every configured upstream group.
type Manager struct {
	groups map[string]*group
	order  []string
	met    *metrics.Registry
}

// GroupStatus summarises one upstream group for admin-API introspection.
type GroupStatus struct {
	Name      string
	Servers   int
	Reachable bool
}

// Groups reports every configured group's server count, in configuration
// order. Reachable is a static judgement (servers > 0) since balancers
// don't track upstream health beyond ReportFailure today.
func (m *Manager) Groups() []GroupStatus {
	out := make([]GroupStatus, 0, len(m.order))
	for _, name := range m.order {
		g := m.groups[name]
		out = append(out, GroupStatus{Name: g.name, Servers: g.serverCount, Reachable: g.serverCount > 0})
	}
	return out
}

// NewManager constructs a Manager from validated group configs. It is the
// GroupExists implementation the router uses at compile time to validate
// Forward targets. met may be nil, matching the handler's nil-safe metrics
// convention.
func NewManager(configs []GroupConfig, met *metrics.Registry) (*Manager, error) {
	groups := make(map[string]*group, len(configs))
	order := make([]string, 0, len(configs))
	for _, cfg := range configs {
		lb, err := newBalancer(cfg.Strategy, cfg.Servers)
		if err != nil {
			return nil, fmt.Errorf("group %q: %w", cfg.Name, err)
		}
		hc, err := httpclient.New(cfg.Client)
		if err != nil {
			return nil, fmt.Errorf("group %q: %w", cfg.Name, err)
		}
		groups[cfg.Name] = &group{name: cfg.Name, lb: lb, doh: doh.New(hc), serverCount: len(cfg.Servers)}
		order = append(order, cfg.Name)
	}
	return &Manager{groups: groups, order: order, met: met}, nil
}

func newBalancer(strategy Strategy, servers []server.Spec) (balancer.Balancer, error) {
	switch strategy {
	case StrategyRoundRobin:
		return balancer.NewRoundRobin(servers), nil
	case StrategyWeighted:
		return balancer.NewWeighted(servers)
	case StrategyRandom:
		return balancer.NewRandom(servers), nil
	default:
		return nil, apperrors.ErrConfig
	}
}

// GroupExists reports whether name is a configured upstream group, used by
// internal/router.Compile to validate Forward rule targets.
func (m *Manager) GroupExists(name string) bool {
	_, ok := m.groups[name]
	return ok
}

// Forward implements spec.md §4.6's algorithm: resolve the group, select a
// server, drive the DoH exchange, and report failure back to the balancer
// on error.
func (m *Manager) Forward(ctx context.Context, query *dns.Msg, groupName string) (*dns.Msg, error) {
	g, ok := m.groups[groupName]
	if !ok {
		return nil, fmt.Errorf("group %q: %w", groupName, apperrors.ErrUpstreamGroupNotFound)
	}

	srv, err := g.lb.Select()
	if err != nil {
		return nil, err
	}

	if m.met != nil {
		m.met.UpstreamRequest(groupName, srv.URL)
	}
	start := time.Now()
	resp, err := g.doh.SendRequest(ctx, query, srv)
	if m.met != nil {
		m.met.UpstreamDuration(groupName, srv.URL, time.Since(start))
	}
	if err != nil {
		g.lb.ReportFailure(srv)
		if m.met != nil {
			m.met.UpstreamError(groupName, srv.URL)
		}
		return nil, err
	}
	return resp, nil
}
