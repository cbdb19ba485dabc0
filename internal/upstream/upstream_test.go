package upstream_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/loadants/internal/apperrors"
	"github.com/jroosing/loadants/internal/httpclient"
	"github.com/jroosing/loadants/internal/metrics"
	"github.com/jroosing/loadants/internal/upstream"
	"github.com/jroosing/loadants/internal/upstream/server"
)

func testQuery() *dns.Msg {
	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	q.Id = 55
	return q
}

func TestManager_Forward_UnknownGroup(t *testing.T) {
	m, err := upstream.NewManager(nil, nil)
	require.NoError(t, err)

	_, err = m.Forward(context.Background(), testQuery(), "ghost")
	assert.ErrorIs(t, err, apperrors.ErrUpstreamGroupNotFound)
}

func TestManager_GroupExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := new(dns.Msg)
		resp.SetReply(testQuery())
		out, _ := resp.Pack()
		w.Write(out)
	}))
	defer srv.Close()

	cfg := []upstream.GroupConfig{{
		Name:     "g1",
		Strategy: upstream.StrategyRoundRobin,
		Servers: []server.Spec{{
			URL: srv.URL, Weight: 1, Method: server.MethodGet, ContentType: server.ContentTypeDNSMessage,
		}},
		Client: httpclient.Config{ConnectTimeout: time.Second, RequestTimeout: 2 * time.Second},
	}}
	m, err := upstream.NewManager(cfg, nil)
	require.NoError(t, err)

	assert.True(t, m.GroupExists("g1"))
	assert.False(t, m.GroupExists("g2"))
}

func TestManager_Forward_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := new(dns.Msg)
		resp.SetReply(testQuery())
		resp.Answer = append(resp.Answer, &dns.A{Hdr: dns.RR_Header{Name: "example.com.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60}, A: []byte{1, 2, 3, 4}})
		out, err := resp.Pack()
		require.NoError(t, err)
		w.Write(out)
	}))
	defer srv.Close()

	cfg := []upstream.GroupConfig{{
		Name:     "g1",
		Strategy: upstream.StrategyRoundRobin,
		Servers: []server.Spec{{
			URL: srv.URL, Weight: 1, Method: server.MethodGet, ContentType: server.ContentTypeDNSMessage,
		}},
		Client: httpclient.Config{ConnectTimeout: time.Second, RequestTimeout: 2 * time.Second},
	}}
	m, err := upstream.NewManager(cfg, nil)
	require.NoError(t, err)

	q := testQuery()
	resp, err := m.Forward(context.Background(), q, "g1")
	require.NoError(t, err)
	assert.Equal(t, q.Id, resp.Id)
	require.Len(t, resp.Answer, 1)
}

func TestManager_Forward_NoUpstreamAvailable(t *testing.T) {
	cfg := []upstream.GroupConfig{{
		Name:     "empty",
		Strategy: upstream.StrategyRoundRobin,
		Servers:  nil,
		Client:   httpclient.Config{ConnectTimeout: time.Second, RequestTimeout: time.Second},
	}}
	m, err := upstream.NewManager(cfg, nil)
	require.NoError(t, err)

	_, err = m.Forward(context.Background(), testQuery(), "empty")
	assert.ErrorIs(t, err, apperrors.ErrNoUpstreamAvailable)
}

func TestManager_WeightedConstructionError(t *testing.T) {
	cfg := []upstream.GroupConfig{{
		Name:     "bad",
		Strategy: upstream.StrategyWeighted,
		Servers: []server.Spec{
			{URL: "http://a.invalid/dns-query", Weight: 0, Method: server.MethodGet, ContentType: server.ContentTypeDNSMessage},
		},
		Client: httpclient.Config{ConnectTimeout: time.Second, RequestTimeout: time.Second},
	}}
	_, err := upstream.NewManager(cfg, nil)
	assert.Error(t, err)
}

func TestManager_Forward_RecordsUpstreamMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := new(dns.Msg)
		resp.SetReply(testQuery())
		out, err := resp.Pack()
		require.NoError(t, err)
		w.Write(out)
	}))
	defer srv.Close()

	met := metrics.New()
	cfg := []upstream.GroupConfig{{
		Name:     "g1",
		Strategy: upstream.StrategyRoundRobin,
		Servers: []server.Spec{{
			URL: srv.URL, Weight: 1, Method: server.MethodGet, ContentType: server.ContentTypeDNSMessage,
		}},
		Client: httpclient.Config{ConnectTimeout: time.Second, RequestTimeout: 2 * time.Second},
	}}
	m, err := upstream.NewManager(cfg, met)
	require.NoError(t, err)

	_, err = m.Forward(context.Background(), testQuery(), "g1")
	require.NoError(t, err)

	mfs, err := met.Gatherer().Gather()
	require.NoError(t, err)
	var sawRequest, sawDuration bool
	for _, mf := range mfs {
		switch mf.GetName() {
		case "upstream_requests_total":
			sawRequest = true
		case "upstream_request_duration_seconds":
			sawDuration = true
		}
	}
	assert.True(t, sawRequest, "expected an upstream_requests_total sample")
	assert.True(t, sawDuration, "expected an upstream_request_duration_seconds sample")
}

func TestManager_Forward_RecordsUpstreamErrorMetric(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	met := metrics.New()
	cfg := []upstream.GroupConfig{{
		Name:     "g1",
		Strategy: upstream.StrategyRoundRobin,
		Servers: []server.Spec{{
			URL: srv.URL, Weight: 1, Method: server.MethodGet, ContentType: server.ContentTypeDNSMessage,
		}},
		Client: httpclient.Config{ConnectTimeout: time.Second, RequestTimeout: 2 * time.Second},
	}}
	m, err := upstream.NewManager(cfg, met)
	require.NoError(t, err)

	_, err = m.Forward(context.Background(), testQuery(), "g1")
	require.Error(t, err)

	mfs, err := met.Gatherer().Gather()
	require.NoError(t, err)
	var sawErrors bool
	for _, mf := range mfs {
		if mf.GetName() == "upstream_errors_total" {
			sawErrors = true
		}
	}
	assert.True(t, sawErrors, "expected an upstream_errors_total sample")
}

func TestManager_Groups_ReportsServerCounts(t *testing.T) {
	cfg := []upstream.GroupConfig{{
		Name:     "g1",
		Strategy: upstream.StrategyRoundRobin,
		Servers: []server.Spec{
			{URL: "http://a.invalid/dns-query", Weight: 1, Method: server.MethodGet, ContentType: server.ContentTypeDNSMessage},
		},
		Client: httpclient.Config{ConnectTimeout: time.Second, RequestTimeout: time.Second},
	}}
	m, err := upstream.NewManager(cfg, nil)
	require.NoError(t, err)

	groups := m.Groups()
	require.Len(t, groups, 1)
	assert.Equal(t, "g1", groups[0].Name)
	assert.Equal(t, 1, groups[0].Servers)
	assert.True(t, groups[0].Reachable)
}
