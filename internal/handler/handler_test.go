package handler_test

import (
	"context"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/loadants/internal/cache"
	"github.com/jroosing/loadants/internal/handler"
	"github.com/jroosing/loadants/internal/router"
)

type fakeUpstream struct {
	resp *dns.Msg
	err  error
	hits int
}

func (f *fakeUpstream) Forward(ctx context.Context, query *dns.Msg, group string) (*dns.Msg, error) {
	f.hits++
	if f.err != nil {
		return nil, f.err
	}
	resp := f.resp.Copy()
	resp.Id = query.Id
	return resp, nil
}

func groupsAlways() router.GroupExists { return fakeGroupExists(true) }

type fakeGroupExists bool

func (f fakeGroupExists) GroupExists(string) bool { return bool(f) }

func newTestCache() *cache.Cache {
	return cache.New(cache.Config{Enabled: true, MaxSize: 100, MinTTL: time.Second, MaxTTL: time.Hour, NegativeTTL: 300 * time.Second}, nil)
}

func aQuery(name string) *dns.Msg {
	q := new(dns.Msg)
	q.SetQuestion(dns.Fqdn(name), dns.TypeA)
	q.Id = 5
	return q
}

func TestHandle_EmptyQuestionReturnsFormErr(t *testing.T) {
	r, err := router.Compile(nil, groupsAlways())
	require.NoError(t, err)
	h := handler.New(r, newTestCache(), &fakeUpstream{}, nil, nil, 0)

	q := new(dns.Msg)
	resp := h.Handle(context.Background(), "udp", q)
	assert.Equal(t, dns.RcodeFormatError, resp.Rcode)
}

func TestHandle_NonQueryReturnsNotImp(t *testing.T) {
	r, err := router.Compile(nil, groupsAlways())
	require.NoError(t, err)
	h := handler.New(r, newTestCache(), &fakeUpstream{}, nil, nil, 0)

	q := aQuery("example.com")
	q.Response = true
	resp := h.Handle(context.Background(), "udp", q)
	assert.Equal(t, dns.RcodeNotImplemented, resp.Rcode)
}

func TestHandle_NoRouteMatchReturnsServFail(t *testing.T) {
	r, err := router.Compile(nil, groupsAlways())
	require.NoError(t, err)
	h := handler.New(r, newTestCache(), &fakeUpstream{}, nil, nil, 0)

	resp := h.Handle(context.Background(), "udp", aQuery("example.com"))
	assert.Equal(t, dns.RcodeServerFailure, resp.Rcode)
}

func TestHandle_BlockReturnsNXDomain(t *testing.T) {
	rules := []router.Rule{
		{MatchType: router.MatchExact, Patterns: []string{"blocked.example.com"}, Action: router.ActionBlock},
	}
	r, err := router.Compile(rules, groupsAlways())
	require.NoError(t, err)
	up := &fakeUpstream{}
	h := handler.New(r, newTestCache(), up, nil, nil, 0)

	resp := h.Handle(context.Background(), "udp", aQuery("blocked.example.com"))
	assert.Equal(t, dns.RcodeNameError, resp.Rcode)
	assert.Equal(t, 0, up.hits, "blocked domains must never reach the upstream")
}

func TestHandle_ForwardSuccess_CachesResponse(t *testing.T) {
	rules := []router.Rule{
		{MatchType: router.MatchExact, Patterns: []string{"example.com"}, Action: router.ActionForward, Target: "g1"},
	}
	r, err := router.Compile(rules, groupsAlways())
	require.NoError(t, err)

	upResp := new(dns.Msg)
	upResp.Answer = append(upResp.Answer, &dns.A{Hdr: dns.RR_Header{Name: "example.com.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300}, A: []byte{1, 2, 3, 4}})
	up := &fakeUpstream{resp: upResp}

	h := handler.New(r, newTestCache(), up, nil, nil, 0)

	q := aQuery("example.com")
	resp := h.Handle(context.Background(), "udp", q)
	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
	assert.Equal(t, q.Id, resp.Id)
	assert.Equal(t, 1, up.hits)

	// Second query should be served from cache, not hit the upstream again.
	resp2 := h.Handle(context.Background(), "udp", aQuery("example.com"))
	assert.Equal(t, dns.RcodeSuccess, resp2.Rcode)
	assert.Equal(t, 1, up.hits, "expected cache hit, not a second upstream forward")
}

func TestHandle_ForwardFailure_ReturnsServFail(t *testing.T) {
	rules := []router.Rule{
		{MatchType: router.MatchExact, Patterns: []string{"example.com"}, Action: router.ActionForward, Target: "g1"},
	}
	r, err := router.Compile(rules, groupsAlways())
	require.NoError(t, err)

	up := &fakeUpstream{err: assertErr{}}
	h := handler.New(r, newTestCache(), up, nil, nil, 0)

	resp := h.Handle(context.Background(), "udp", aQuery("example.com"))
	assert.Equal(t, dns.RcodeServerFailure, resp.Rcode)
}

func TestSetRouter_SwapsActiveGeneration(t *testing.T) {
	r1, err := router.Compile(nil, groupsAlways())
	require.NoError(t, err)
	h := handler.New(r1, newTestCache(), &fakeUpstream{}, nil, nil, 0)

	resp := h.Handle(context.Background(), "udp", aQuery("example.com"))
	assert.Equal(t, dns.RcodeServerFailure, resp.Rcode)

	rules := []router.Rule{
		{MatchType: router.MatchExact, Patterns: []string{"example.com"}, Action: router.ActionBlock},
	}
	r2, err := router.Compile(rules, groupsAlways())
	require.NoError(t, err)
	h.SetRouter(r2)

	resp2 := h.Handle(context.Background(), "udp", aQuery("example.com"))
	assert.Equal(t, dns.RcodeNameError, resp2.Rcode)
}

type assertErr struct{}

func (assertErr) Error() string { return "forward failed" }
