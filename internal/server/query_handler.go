// Package server implements the UDP and TCP DNS listeners that sit in
// front of the request handler state machine: socket plumbing, worker
// pools, and graceful shutdown, adapted from the teacher's own UDP/TCP
// server goroutine model onto github.com/miekg/dns wire messages and
// internal/handler.Handler instead of the teacher's hand-rolled parser.
//
// Goroutine Model:
//
// The server spawns multiple goroutines for handling incoming queries:
//   - UDPServer: 1 receiver + N workers per CPU core
//   - TCPServer: 1 listener per CPU core + 1 handler per active connection
//
// All goroutines are coordinated through a shared context, cancelled on
// shutdown signal (SIGINT/SIGTERM); all goroutines check context regularly
// and exit cleanly.
package server

import (
	"context"
	"log/slog"

	"github.com/miekg/dns"
)

// Handler is the subset of *handler.Handler the listeners need.
type Handler interface {
	Handle(ctx context.Context, protocol string, query *dns.Msg) *dns.Msg
}

// QueryHandler adapts raw wire bytes to the handler state machine: unpack,
// dispatch, pack. Malformed requests that cannot even be unpacked are
// dropped rather than answered, matching spec.md §7's scope (a response
// always requires a parseable query to patch the transaction ID onto).
type QueryHandler struct {
	Logger  *slog.Logger
	Handler Handler
}

// Handle processes one raw DNS request for the given transport ("udp" or
// "tcp") and returns the packed response, or nil if the request could not
// be unpacked at all.
func (h *QueryHandler) Handle(ctx context.Context, transport string, src string, reqBytes []byte) []byte {
	query := new(dns.Msg)
	if err := query.Unpack(reqBytes); err != nil {
		if h.Logger != nil {
			h.Logger.Debug("dropping malformed dns request", "transport", transport, "src", src, "err", err)
		}
		return nil
	}

	resp := h.Handler.Handle(ctx, transport, query)
	out, err := resp.Pack()
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("failed to pack dns response", "transport", transport, "src", src, "err", err)
		}
		return nil
	}

	if h.Logger != nil && h.Logger.Enabled(ctx, slog.LevelDebug) {
		qname, qtype := "<no-question>", "unknown"
		if len(query.Question) > 0 {
			qname = query.Question[0].Name
			qtype = dns.TypeToString[query.Question[0].Qtype]
		}
		h.Logger.DebugContext(ctx, "dns request",
			"transport", transport, "src", src, "id", query.Id,
			"qname", qname, "qtype", qtype, "rcode", dns.RcodeToString[resp.Rcode])
	}

	return out
}
