package cache_test

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/loadants/internal/cache"
)

type fakeRecorder struct {
	ops     []string
	ttls    map[string][]float64
	entries int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{ttls: make(map[string][]float64)}
}

func (f *fakeRecorder) CacheOp(op string) { f.ops = append(f.ops, op) }
func (f *fakeRecorder) CacheTTL(source string, seconds float64) {
	f.ttls[source] = append(f.ttls[source], seconds)
}
func (f *fakeRecorder) CacheEntries(n int) { f.entries = n }

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	return cache.New(cache.Config{
		Enabled:     true,
		MaxSize:     100,
		MinTTL:      1 * time.Second,
		MaxTTL:      86400 * time.Second,
		NegativeTTL: 300 * time.Second,
	}, nil)
}

func aQuery(name string) *dns.Msg {
	q := new(dns.Msg)
	q.SetQuestion(dns.Fqdn(name), dns.TypeA)
	q.Id = 1234
	return q
}

func successResponse(query *dns.Msg, ttl uint32, ips ...string) *dns.Msg {
	resp := new(dns.Msg)
	resp.SetReply(query)
	for _, ip := range ips {
		resp.Answer = append(resp.Answer, &dns.A{
			Hdr: dns.RR_Header{Name: query.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: ttl},
			A:   net.ParseIP(ip).To4(),
		})
	}
	return resp
}

func TestCache_InsertGet_RoundTripsWithQueryID(t *testing.T) {
	c := newTestCache(t)
	q := aQuery("example.com")
	resp := successResponse(q, 300, "1.2.3.4")

	require.NoError(t, c.Insert(q, resp))

	got, ok := c.Get(q)
	require.True(t, ok)
	assert.Equal(t, q.Id, got.Id)
}

func TestCache_Get_MissWithoutInsert(t *testing.T) {
	c := newTestCache(t)
	_, ok := c.Get(aQuery("nope.example.com"))
	assert.False(t, ok)
}

func TestCache_Insert_NoQuestionFails(t *testing.T) {
	c := newTestCache(t)
	empty := new(dns.Msg)
	err := c.Insert(empty, empty)
	assert.Error(t, err)
}

func TestCache_TTLAdjustment(t *testing.T) {
	c := newTestCache(t)
	q := aQuery("example.com")
	resp := successResponse(q, 300, "1.2.3.4")
	require.NoError(t, c.Insert(q, resp))

	got, ok := c.Get(q)
	require.True(t, ok)
	require.Len(t, got.Answer, 1)
	ttl := got.Answer[0].Header().Ttl
	assert.LessOrEqual(t, ttl, uint32(300))
	assert.GreaterOrEqual(t, ttl, uint32(1))
}

func TestCache_NegativeCaching(t *testing.T) {
	c := newTestCache(t)
	q := aQuery("nope.example.com")
	resp := new(dns.Msg)
	resp.SetRcode(q, dns.RcodeNameError)

	require.NoError(t, c.Insert(q, resp))

	got, ok := c.Get(q)
	require.True(t, ok)
	assert.Equal(t, dns.RcodeNameError, got.Rcode)
}

func TestCache_NegativeCaching_EmptyAnswerOnNoError(t *testing.T) {
	c := newTestCache(t)
	q := aQuery("empty.example.com")
	resp := new(dns.Msg)
	resp.SetReply(q)
	// NoError but zero answers is still treated as negative per spec.md §4.3.

	require.NoError(t, c.Insert(q, resp))
	_, ok := c.Get(q)
	assert.True(t, ok)
}

func TestCache_AnswerShuffling_PreservesSetMembership(t *testing.T) {
	c := newTestCache(t)
	q := aQuery("example.com")
	resp := successResponse(q, 300, "1.0.0.1", "1.0.0.2", "1.0.0.3", "1.0.0.4")
	require.NoError(t, c.Insert(q, resp))

	seen := map[string]bool{}
	for i := 0; i < 30; i++ {
		got, ok := c.Get(q)
		require.True(t, ok)
		require.Len(t, got.Answer, 4)
		var ips []string
		for _, rr := range got.Answer {
			ips = append(ips, rr.(*dns.A).A.String())
		}
		seen[fmt.Sprint(ips)] = true
	}
	// Over many gets, at least one different ordering should appear.
	assert.Greater(t, len(seen), 1)
}

func TestCache_MaxSizeClamped(t *testing.T) {
	c := cache.New(cache.Config{Enabled: true, MaxSize: 2, MinTTL: time.Second, MaxTTL: time.Hour, NegativeTTL: time.Minute}, nil)
	assert.Equal(t, 10, c.Capacity()) // clamped up to the [10, 1_000_000] floor
}

func TestCache_RecordsTTLBySource(t *testing.T) {
	rec := newFakeRecorder()
	c := cache.New(cache.Config{
		Enabled:     true,
		MaxSize:     100,
		MinTTL:      5 * time.Second,
		MaxTTL:      86400 * time.Second,
		NegativeTTL: 300 * time.Second,
	}, rec)

	q := aQuery("example.com")
	resp := successResponse(q, 1, "1.2.3.4") // below MinTTL, exercises the min_ttl source
	require.NoError(t, c.Insert(q, resp))
	require.NotEmpty(t, rec.ttls["original"])
	assert.Equal(t, float64(1), rec.ttls["original"][0])
	require.NotEmpty(t, rec.ttls["min_ttl"])
	assert.Equal(t, float64(5), rec.ttls["min_ttl"][0])

	_, ok := c.Get(q)
	require.True(t, ok)
	require.NotEmpty(t, rec.ttls["adjusted"])
}

func TestCache_RecordsNegativeTTLSource(t *testing.T) {
	rec := newFakeRecorder()
	c := cache.New(cache.Config{
		Enabled:     true,
		MaxSize:     100,
		MinTTL:      time.Second,
		MaxTTL:      86400 * time.Second,
		NegativeTTL: 300 * time.Second,
	}, rec)

	q := aQuery("nope.example.com")
	resp := new(dns.Msg)
	resp.SetRcode(q, dns.RcodeNameError)
	require.NoError(t, c.Insert(q, resp))

	require.NotEmpty(t, rec.ttls["negative_ttl"])
	assert.Equal(t, float64(300), rec.ttls["negative_ttl"][0])
}

func TestCache_Eviction_BoundsSize(t *testing.T) {
	c := cache.New(cache.Config{Enabled: true, MaxSize: 10, MinTTL: time.Second, MaxTTL: time.Hour, NegativeTTL: time.Minute}, nil)
	for i := 0; i < 50; i++ {
		q := aQuery(fmt.Sprintf("host%d.example.com", i))
		resp := successResponse(q, 300, "1.2.3.4")
		require.NoError(t, c.Insert(q, resp))
	}
	assert.LessOrEqual(t, c.Len(), 10)
}
