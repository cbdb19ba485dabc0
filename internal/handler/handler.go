// Package handler implements the request handler state machine of
// spec.md §4.7: classify -> cache-get -> route -> decide -> admit -> return.
// Every transition records one labelled metric event and no error ever
// escapes the handler as anything but a synthesised DNS response, per
// spec.md §7. Grounded on the teacher's internal/server/query_handler.go
// for the Go shape of a handler struct holding Router/Cache/Upstream by
// reference with a bounded per-query context.Context.
package handler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"

	"github.com/jroosing/loadants/internal/cache"
	"github.com/jroosing/loadants/internal/dnsmsg"
	"github.com/jroosing/loadants/internal/metrics"
	"github.com/jroosing/loadants/internal/router"
	"github.com/jroosing/loadants/internal/upstream"
)

// Upstream is the subset of *upstream.Manager the handler needs, letting
// tests supply a fake.
type Upstream interface {
	Forward(ctx context.Context, query *dns.Msg, group string) (*dns.Msg, error)
}

// Handler composes the Router, Cache and Upstream manager into spec.md
// §4.7's state machine. The active Router is held behind an atomic pointer
// so internal/remoterule can swap in a freshly compiled generation without
// interrupting in-flight requests, per spec.md §5's "Router replacement"
// rule.
type Handler struct {
	router atomic.Pointer[router.Router]
	cache  *cache.Cache
	up     Upstream
	log    *slog.Logger
	met    *metrics.Registry

	queryTimeout time.Duration
}

// New constructs a Handler. log and met may be nil; both are treated
// nil-safely, matching the teacher's logging convention.
func New(r *router.Router, c *cache.Cache, up Upstream, log *slog.Logger, met *metrics.Registry, queryTimeout time.Duration) *Handler {
	h := &Handler{cache: c, up: up, log: log, met: met, queryTimeout: queryTimeout}
	h.router.Store(r)
	return h
}

// SetRouter atomically replaces the active Router. Requests already in
// flight keep using the Router they loaded at the start of Handle.
func (h *Handler) SetRouter(r *router.Router) {
	h.router.Store(r)
}

// Router returns the currently active Router, for admin-API introspection.
func (h *Handler) Router() *router.Router {
	return h.router.Load()
}

// Cache returns the handler's Cache, for admin-API introspection. May be
// nil if the Handler was built without one; a disabled cache is a non-nil
// Cache whose Enabled reports false.
func (h *Handler) Cache() *cache.Cache {
	return h.cache
}

func (h *Handler) logf(msg string, args ...any) {
	if h.log != nil {
		h.log.Debug(msg, args...)
	}
}

func (h *Handler) recordError(kind string) {
	if h.met != nil {
		h.met.RequestError(kind)
	}
}

// Handle runs one DNS query through the full state machine and always
// returns a syntactically valid DNS response, per spec.md §7.
func (h *Handler) Handle(ctx context.Context, protocol string, query *dns.Msg) *dns.Msg {
	start := time.Now()
	qtype := "unknown"
	if len(query.Question) > 0 {
		qtype = dns.TypeToString[query.Question[0].Qtype]
	}
	if h.met != nil {
		h.met.RequestTotal(protocol)
		h.met.QueryType(qtype)
	}
	defer func() {
		if h.met != nil {
			h.met.RequestDuration(protocol, qtype, time.Since(start))
		}
	}()

	resp := h.handle(ctx, query)

	if h.met != nil {
		h.met.ResponseCode(dns.RcodeToString[resp.Rcode])
	}
	return resp
}

func (h *Handler) handle(ctx context.Context, query *dns.Msg) *dns.Msg {
	// classify
	if query.Response {
		h.recordError("unsupported_message_type")
		return dnsmsg.NotImp(query)
	}
	if query.Opcode != dns.OpcodeQuery {
		h.recordError("unsupported_opcode")
		return dnsmsg.NotImp(query)
	}
	if len(query.Question) == 0 {
		h.recordError("empty_query")
		return dnsmsg.FormErr(query)
	}

	// cache-get
	if h.cache != nil && h.cache.Enabled() {
		if resp, ok := h.cache.Get(query); ok {
			dnsmsg.PatchID(resp, query.Id)
			return resp
		}
	}

	// route
	r := h.router.Load()
	name := query.Question[0].Name
	match, err := r.FindMatch(name)
	if h.met != nil {
		if err == nil {
			h.met.RouteMatch(match.RuleType, match.Target)
		}
	}
	if err != nil {
		h.recordError("route_error")
		h.logf("no route match", "name", name)
		return dnsmsg.ServFail(query)
	}

	// decide
	var resp *dns.Msg
	switch match.Action {
	case router.ActionBlock:
		resp = dnsmsg.Blocked(query)
	case router.ActionForward:
		if match.Target == "" {
			h.recordError("missing_target")
			return dnsmsg.ServFail(query)
		}
		fctx := ctx
		var cancel context.CancelFunc
		if h.queryTimeout > 0 {
			fctx, cancel = context.WithTimeout(ctx, h.queryTimeout)
			defer cancel()
		}
		fresp, ferr := h.up.Forward(fctx, query, match.Target)
		if ferr != nil {
			h.recordError("upstream_error")
			h.logf("upstream forward failed", "target", match.Target, "err", ferr)
			return dnsmsg.ServFail(query)
		}
		resp = fresp
		dnsmsg.PatchID(resp, query.Id)
	default:
		h.recordError("handler_error")
		return dnsmsg.ServFail(query)
	}

	// admit
	if h.cache != nil && h.cache.Enabled() && resp.Rcode == dns.RcodeSuccess {
		if err := h.cache.Insert(query, resp); err != nil {
			h.logf("cache insert failed", "err", err)
		}
	}

	return resp
}
