// Package metrics registers the labelled counters/gauges/histograms of
// spec.md §6 against github.com/prometheus/client_golang, promoting a dep
// that was only indirect in the teacher's own go.mod. The core only emits;
// aggregation is external per spec.md §5/§9 ("the only process-wide object
// is the metric registry, which the core does not own").
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the process-wide metric handle, passed by reference into
// every core component rather than used as a package-level singleton, per
// spec.md §9.
type Registry struct {
	reg *prometheus.Registry

	dnsRequestsTotal   *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	requestErrorsTotal *prometheus.CounterVec

	cacheEntries          prometheus.Gauge
	cacheCapacity         prometheus.Gauge
	cacheOperationsTotal  *prometheus.CounterVec
	cacheTTLSeconds       *prometheus.HistogramVec
	queryTypesTotal       *prometheus.CounterVec
	responseCodesTotal    *prometheus.CounterVec
	upstreamRequestsTotal *prometheus.CounterVec
	upstreamErrorsTotal   *prometheus.CounterVec
	upstreamDuration      *prometheus.HistogramVec
	routeMatchesTotal     *prometheus.CounterVec
	routeRulesCount       *prometheus.GaugeVec
}

// New builds a Registry and registers every metric against a fresh
// prometheus.Registry (never the global DefaultRegisterer, so tests can
// construct independent instances).
func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		dnsRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dns_requests_total",
			Help: "DNS requests received, by protocol.",
		}, []string{"protocol"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dns_request_duration_seconds",
			Help:    "Request handling duration by protocol and query type.",
			Buckets: prometheus.DefBuckets,
		}, []string{"protocol", "qtype"}),
		requestErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dns_request_errors_total",
			Help: "Request errors by kind.",
		}, []string{"kind"}),
		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cache_entries",
			Help: "Current number of cache entries.",
		}),
		cacheCapacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cache_capacity",
			Help: "Configured maximum cache entries.",
		}),
		cacheOperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_operations_total",
			Help: "Cache operations by kind.",
		}, []string{"op"}),
		cacheTTLSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cache_ttl_seconds",
			Help:    "Cache TTL seconds observed, by source.",
			Buckets: []float64{1, 5, 30, 60, 300, 3600, 86400},
		}, []string{"source"}),
		queryTypesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dns_query_types_total",
			Help: "Query counts by record type.",
		}, []string{"qtype"}),
		responseCodesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dns_response_codes_total",
			Help: "Response counts by rcode.",
		}, []string{"rcode"}),
		upstreamRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upstream_requests_total",
			Help: "Upstream requests by group and server.",
		}, []string{"group", "server"}),
		upstreamErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upstream_errors_total",
			Help: "Upstream errors by group and server.",
		}, []string{"group", "server"}),
		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "upstream_request_duration_seconds",
			Help:    "Upstream request duration by group and server.",
			Buckets: prometheus.DefBuckets,
		}, []string{"group", "server"}),
		routeMatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "route_matches_total",
			Help: "Route matches by rule type and target.",
		}, []string{"rule_type", "target"}),
		routeRulesCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "route_rules_count",
			Help: "Compiled rule count by rule type and source.",
		}, []string{"rule_type", "source"}),
	}

	reg.MustRegister(
		m.dnsRequestsTotal, m.requestDuration, m.requestErrorsTotal,
		m.cacheEntries, m.cacheCapacity, m.cacheOperationsTotal, m.cacheTTLSeconds,
		m.queryTypesTotal, m.responseCodesTotal,
		m.upstreamRequestsTotal, m.upstreamErrorsTotal, m.upstreamDuration,
		m.routeMatchesTotal, m.routeRulesCount,
	)
	return m
}

// Gatherer exposes the underlying prometheus.Gatherer for promhttp.Handler.
func (m *Registry) Gatherer() prometheus.Gatherer { return m.reg }

// RequestTotal records one inbound request on protocol ("udp", "tcp",
// "doh", "doh-json").
func (m *Registry) RequestTotal(protocol string) {
	m.dnsRequestsTotal.WithLabelValues(protocol).Inc()
}

// RequestDuration records how long one request took to handle.
func (m *Registry) RequestDuration(protocol, qtype string, d time.Duration) {
	m.requestDuration.WithLabelValues(protocol, qtype).Observe(d.Seconds())
}

// RequestError records a request error by kind: empty_query, route_error,
// missing_target, upstream_error, unsupported_opcode,
// unsupported_message_type, handler_error.
func (m *Registry) RequestError(kind string) {
	m.requestErrorsTotal.WithLabelValues(kind).Inc()
}

// QueryType records one query's record type.
func (m *Registry) QueryType(qtype string) {
	m.queryTypesTotal.WithLabelValues(qtype).Inc()
}

// ResponseCode records one response's rcode.
func (m *Registry) ResponseCode(rcode string) {
	m.responseCodesTotal.WithLabelValues(rcode).Inc()
}

// UpstreamRequest records one upstream request attempt.
func (m *Registry) UpstreamRequest(group, server string) {
	m.upstreamRequestsTotal.WithLabelValues(group, server).Inc()
}

// UpstreamError records one upstream request failure.
func (m *Registry) UpstreamError(group, server string) {
	m.upstreamErrorsTotal.WithLabelValues(group, server).Inc()
}

// UpstreamDuration records one upstream request's duration.
func (m *Registry) UpstreamDuration(group, server string, d time.Duration) {
	m.upstreamDuration.WithLabelValues(group, server).Observe(d.Seconds())
}

// RouteMatch records one router decision by rule type and target.
func (m *Registry) RouteMatch(ruleType, target string) {
	if target == "" {
		target = "none"
	}
	m.routeMatchesTotal.WithLabelValues(ruleType, target).Inc()
}

// SetRouteRuleCounts replaces the route_rules_count gauge values after a
// router (re)compile, labelled by rule type and rule "source" ("static"
// for the initial compile, "remote" after a remote-rule refresh).
func (m *Registry) SetRouteRuleCounts(source string, counts map[string]int) {
	for ruleType, n := range counts {
		m.routeRulesCount.WithLabelValues(ruleType, source).Set(float64(n))
	}
}

// CacheOp implements cache.Recorder: hit, miss, insert, insert_error,
// adjusted, clear, negative_ttl.
func (m *Registry) CacheOp(op string) {
	m.cacheOperationsTotal.WithLabelValues(op).Inc()
}

// CacheTTL implements cache.Recorder: records an observed TTL by source
// (original, min_ttl, adjusted, negative_ttl).
func (m *Registry) CacheTTL(source string, seconds float64) {
	m.cacheTTLSeconds.WithLabelValues(source).Observe(seconds)
}

// CacheEntries implements cache.Recorder: updates the current entry count
// gauge.
func (m *Registry) CacheEntries(n int) {
	m.cacheEntries.Set(float64(n))
}

// SetCacheCapacity records the configured maximum cache size.
func (m *Registry) SetCacheCapacity(n int) {
	m.cacheCapacity.Set(float64(n))
}
