package metrics_test

import (
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/loadants/internal/metrics"
)

// findCounter locates the counter value for metricName carrying
// label=value among the gathered metric families.
func findCounter(t *testing.T, mfs []*dto.MetricFamily, metricName, label, value string) float64 {
	t.Helper()
	for _, mf := range mfs {
		if mf.GetName() != metricName {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestRegistry_RequestAndResponseCounters(t *testing.T) {
	m := metrics.New()
	m.RequestTotal("udp")
	m.RequestTotal("udp")
	m.QueryType("A")
	m.ResponseCode("NOERROR")
	m.RequestDuration("udp", "A", 5*time.Millisecond)

	mfs, err := m.Gatherer().Gather()
	require.NoError(t, err)
	assert.Equal(t, float64(2), findCounter(t, mfs, "dns_requests_total", "protocol", "udp"))
	assert.Equal(t, float64(1), findCounter(t, mfs, "dns_query_types_total", "qtype", "A"))
	assert.Equal(t, float64(1), findCounter(t, mfs, "dns_response_codes_total", "rcode", "NOERROR"))
}

func TestRegistry_RequestError(t *testing.T) {
	m := metrics.New()
	m.RequestError("unsupported_opcode")
	m.RequestError("unsupported_message_type")

	mfs, err := m.Gatherer().Gather()
	require.NoError(t, err)
	assert.Equal(t, float64(1), findCounter(t, mfs, "dns_request_errors_total", "kind", "unsupported_opcode"))
	assert.Equal(t, float64(1), findCounter(t, mfs, "dns_request_errors_total", "kind", "unsupported_message_type"))
}

func TestRegistry_CacheTTLBySource(t *testing.T) {
	// spec.md §6: cache TTL observed by source (original, min_ttl,
	// adjusted, negative_ttl) — exercises what internal/cache's
	// computeTTL/adjustTTLs now call.
	m := metrics.New()
	m.CacheOp("hit")
	m.CacheTTL("original", 60)
	m.CacheTTL("negative_ttl", 30)
	m.CacheEntries(42)
	m.SetCacheCapacity(1000)

	mfs, err := m.Gatherer().Gather()
	require.NoError(t, err)
	var sawTTLHistogram bool
	for _, mf := range mfs {
		if mf.GetName() == "cache_ttl_seconds" {
			sawTTLHistogram = true
			assert.Len(t, mf.GetMetric(), 2)
		}
	}
	assert.True(t, sawTTLHistogram)
}

func TestRegistry_UpstreamMetrics(t *testing.T) {
	// Exercises the metrics upstream.Manager.Forward now drives, per
	// spec.md §6's "upstream requests/errors/duration by group and
	// server" table.
	m := metrics.New()
	m.UpstreamRequest("primary", "https://doh.example/dns-query")
	m.UpstreamError("primary", "https://doh.example/dns-query")
	m.UpstreamDuration("primary", "https://doh.example/dns-query", 10*time.Millisecond)

	mfs, err := m.Gatherer().Gather()
	require.NoError(t, err)
	assert.Equal(t, float64(1), findCounter(t, mfs, "upstream_requests_total", "group", "primary"))
	assert.Equal(t, float64(1), findCounter(t, mfs, "upstream_errors_total", "group", "primary"))

	var sawDuration bool
	for _, mf := range mfs {
		if mf.GetName() == "upstream_request_duration_seconds" {
			sawDuration = true
		}
	}
	assert.True(t, sawDuration)
}

func TestRegistry_SetRouteRuleCounts(t *testing.T) {
	m := metrics.New()
	m.SetRouteRuleCounts("static", map[string]int{"exact": 3, "wildcard": 1})
	m.SetRouteRuleCounts("remote", map[string]int{"exact": 2})

	mfs, err := m.Gatherer().Gather()
	require.NoError(t, err)
	var found int
	for _, mf := range mfs {
		if mf.GetName() == "route_rules_count" {
			found = len(mf.GetMetric())
		}
	}
	assert.Equal(t, 3, found)
}

func TestRegistry_RouteMatch_EmptyTargetBecomesNone(t *testing.T) {
	m := metrics.New()
	m.RouteMatch("exact", "")

	mfs, err := m.Gatherer().Gather()
	require.NoError(t, err)
	assert.Equal(t, float64(1), findCounter(t, mfs, "route_matches_total", "target", "none"))
}
