// Package cache implements the fingerprint → response cache of spec.md
// §4.3: admission, TTL computation on insert, TTL adjustment on get, A/AAAA
// answer shuffling, and approximate-LRU eviction bounded by an absolute
// max_ttl lifetime.
//
// The generic TTLCache[K,V] shape is kept from the teacher's
// internal/resolvers/cache.go (container/list LRU guarded by a mutex,
// hit/miss counters) but is specialised here directly to
// dnsmsg.Fingerprint → *dns.Msg rather than kept generic, since the cache
// now owns DNS-specific TTL and shuffle logic that a generic cache cannot
// express.
package cache

import (
	"container/list"
	"math/rand"
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/jroosing/loadants/internal/apperrors"
	"github.com/jroosing/loadants/internal/dnsmsg"
	"github.com/jroosing/loadants/internal/helpers"
)

// Recorder receives cache telemetry events. internal/metrics implements it;
// a nil Recorder is a valid no-op, matching the teacher's nil-safe logger
// convention.
type Recorder interface {
	CacheOp(op string)
	CacheTTL(source string, seconds float64)
	CacheEntries(n int)
}

// Config holds the validated, already-range-checked settings from spec.md
// §6's `cache` block. Range validation itself happens in internal/config;
// Cache only clamps MaxSize defensively per spec.md §4.3.
type Config struct {
	Enabled     bool
	MaxSize     int
	MinTTL      time.Duration
	MaxTTL      time.Duration
	NegativeTTL time.Duration
}

type entry struct {
	response   *dns.Msg
	insertedAt time.Time
	storedTTL  time.Duration
	elem       *list.Element
}

// Cache is a thread-safe, TTL-aware LRU cache of DNS responses keyed by
// dnsmsg.Fingerprint.
type Cache struct {
	mu  sync.Mutex
	cfg Config

	lru  *list.List
	data map[dnsmsg.Fingerprint]*entry

	rng *rand.Rand

	rec Recorder

	hits   int
	misses int
}

// New constructs a Cache. MaxSize is clamped to [10, 1_000_000] per
// spec.md §4.3's capacity invariant.
func New(cfg Config, rec Recorder) *Cache {
	cfg.MaxSize = helpers.ClampInt(cfg.MaxSize, 10, 1_000_000)
	return &Cache{
		cfg:  cfg,
		lru:  list.New(),
		data: make(map[dnsmsg.Fingerprint]*entry),
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
		rec:  rec,
	}
}

func (c *Cache) record(op string) {
	if c.rec != nil {
		c.rec.CacheOp(op)
	}
}

func (c *Cache) recordTTL(source string, ttl time.Duration) {
	if c.rec != nil {
		c.rec.CacheTTL(source, ttl.Seconds())
	}
}

// Get returns a cache hit for query, with every record's TTL adjusted for
// elapsed time (floored at one second, OPT records untouched) and the
// response id patched to query's id. The returned message is a private
// copy; the stored entry is never mutated.
func (c *Cache) Get(query *dns.Msg) (*dns.Msg, bool) {
	fp, ok := dnsmsg.FingerprintOf(query)
	if !ok {
		c.record("miss")
		return nil, false
	}

	now := time.Now()

	c.mu.Lock()
	e := c.data[fp]
	if e == nil {
		c.misses++
		c.mu.Unlock()
		c.record("miss")
		return nil, false
	}
	elapsed := now.Sub(e.insertedAt)
	if elapsed >= e.storedTTL {
		c.lru.Remove(e.elem)
		delete(c.data, fp)
		c.misses++
		c.mu.Unlock()
		c.record("miss")
		return nil, false
	}
	c.lru.MoveToBack(e.elem)
	c.hits++
	resp := e.response.Copy()
	c.mu.Unlock()

	c.record("hit")
	c.adjustTTLs(resp, elapsed)
	c.maybeShuffle(resp)
	dnsmsg.PatchID(resp, query.Id)
	return resp, true
}

// adjustTTLs applies new_ttl = max(1, original_ttl - elapsed) to every
// answer/authority/additional record, skipping OPT records, per the TTL
// adjustment rule in spec.md §4.3.
func (c *Cache) adjustTTLs(msg *dns.Msg, elapsed time.Duration) {
	elapsedSec := uint32(elapsed / time.Second)
	adjust := func(rrs []dns.RR) {
		for _, rr := range rrs {
			if rr.Header().Rrtype == dns.TypeOPT {
				continue
			}
			orig := rr.Header().Ttl
			var newTTL uint32
			if orig > elapsedSec {
				newTTL = orig - elapsedSec
			} else {
				newTTL = 0
			}
			if newTTL < 1 {
				newTTL = 1
			}
			rr.Header().Ttl = newTTL
			c.recordTTL("adjusted", time.Duration(newTTL)*time.Second)
		}
	}
	adjust(msg.Answer)
	adjust(msg.Ns)
	adjust(msg.Extra)
	c.record("adjusted")
}

// maybeShuffle permutes A or AAAA answer records uniformly at random while
// preserving the relative order of records of other types, per spec.md
// §4.3's load-spreading rule. Shuffling only applies when the question is
// itself A or AAAA and there are at least two matching answer records.
func (c *Cache) maybeShuffle(msg *dns.Msg) {
	if len(msg.Question) == 0 {
		return
	}
	qtype := msg.Question[0].Qtype
	if qtype != dns.TypeA && qtype != dns.TypeAAAA {
		return
	}

	var targetIdx []int
	for i, rr := range msg.Answer {
		if rr.Header().Rrtype == qtype {
			targetIdx = append(targetIdx, i)
		}
	}
	if len(targetIdx) < 2 {
		return
	}

	targets := make([]dns.RR, len(targetIdx))
	for i, idx := range targetIdx {
		targets[i] = msg.Answer[idx]
	}
	c.rng.Shuffle(len(targets), func(i, j int) {
		targets[i], targets[j] = targets[j], targets[i]
	})
	for i, idx := range targetIdx {
		msg.Answer[idx] = targets[i]
	}
}

// Insert admits response under the fingerprint derived from query, computing
// its stored TTL per spec.md §4.3. It fails only when no fingerprint can be
// derived (no question) — apperrors.ErrCache, logged and suppressed by the
// handler, never surfaced to the client.
func (c *Cache) Insert(query *dns.Msg, response *dns.Msg) error {
	fp, ok := dnsmsg.FingerprintOf(query)
	if !ok {
		c.record("insert_error")
		return apperrors.ErrCache
	}

	ttl := c.computeTTL(response)
	if ttl > c.cfg.MaxTTL {
		ttl = c.cfg.MaxTTL
	}

	e := &entry{
		response:   response.Copy(),
		insertedAt: time.Now(),
		storedTTL:  ttl,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing := c.data[fp]; existing != nil {
		existing.response = e.response
		existing.insertedAt = e.insertedAt
		existing.storedTTL = e.storedTTL
		c.lru.MoveToBack(existing.elem)
	} else {
		e.elem = c.lru.PushBack(fp)
		c.data[fp] = e
	}
	c.evictOldest()

	c.record("insert")
	if c.rec != nil {
		c.rec.CacheEntries(len(c.data))
	}
	return nil
}

// computeTTL implements spec.md §4.3's "TTL computation (on insert)" rule.
func (c *Cache) computeTTL(response *dns.Msg) time.Duration {
	if response.Rcode != dns.RcodeSuccess || len(response.Answer) == 0 {
		neg := c.cfg.NegativeTTL
		if neg < c.cfg.MinTTL {
			neg = c.cfg.MinTTL
		}
		if neg > c.cfg.MaxTTL {
			neg = c.cfg.MaxTTL
		}
		c.record("negative_ttl")
		c.recordTTL("negative_ttl", neg)
		return neg
	}

	min := response.Answer[0].Header().Ttl
	for _, rr := range response.Answer[1:] {
		if rr.Header().Ttl < min {
			min = rr.Header().Ttl
		}
	}
	ttl := time.Duration(min) * time.Second
	c.recordTTL("original", ttl)
	if ttl < c.cfg.MinTTL {
		ttl = c.cfg.MinTTL
		c.recordTTL("min_ttl", ttl)
	}
	return ttl
}

// evictOldest removes least-recently-used entries until the cache is back
// under MaxSize. Must be called with c.mu held.
func (c *Cache) evictOldest() {
	for len(c.data) > c.cfg.MaxSize {
		front := c.lru.Front()
		if front == nil {
			break
		}
		fp := front.Value.(dnsmsg.Fingerprint)
		c.lru.Remove(front)
		delete(c.data, fp)
	}
}

// Clear empties the cache, e.g. on admin API request or router reload.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.data = make(map[dnsmsg.Fingerprint]*entry)
	c.lru = list.New()
	c.mu.Unlock()
	c.record("clear")
}

// Len returns the current number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// Stats returns cumulative hit/miss counters for the admin stats endpoint.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Enabled reports whether the cache is active, per spec.md's "if cache
// enabled" handler guard.
func (c *Cache) Enabled() bool { return c.cfg.Enabled }

// Capacity returns the configured MaxSize, for the admin stats endpoint.
func (c *Cache) Capacity() int { return c.cfg.MaxSize }
