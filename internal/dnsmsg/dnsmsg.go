// Package dnsmsg adapts github.com/miekg/dns, the external "DNS message"
// type spec.md §3 leaves out of scope, into the small set of helpers the
// rest of the core needs: fingerprinting a query for the cache, and
// synthesising well-formed responses (NXDOMAIN, SERVFAIL, FormErr, NotImp)
// that always preserve id/opcode/RD/questions.
//
// This package plays the role the teacher's internal/dns package played
// (name normalization, response synthesis helpers) but delegates wire
// parsing/encoding itself to miekg/dns rather than a hand-rolled codec.
package dnsmsg

import (
	"strings"

	"github.com/miekg/dns"
)

// Fingerprint is the cache key derived from a query's first question:
// (name-lowercased-without-trailing-dot, record type, record class).
// Equality is structural, so Fingerprint is directly usable as a map key.
type Fingerprint struct {
	Name  string
	Type  uint16
	Class uint16
}

// NormalizeName lowercases a domain name and strips a single trailing dot,
// matching the cache key's definition in spec.md §3.
func NormalizeName(name string) string {
	name = strings.ToLower(name)
	return strings.TrimSuffix(name, ".")
}

// FingerprintOf derives the cache key for msg. ok is false if msg carries no
// question, per spec.md §3 ("queries with no question never produce a
// key").
func FingerprintOf(msg *dns.Msg) (Fingerprint, bool) {
	if msg == nil || len(msg.Question) == 0 {
		return Fingerprint{}, false
	}
	q := msg.Question[0]
	return Fingerprint{
		Name:  NormalizeName(q.Name),
		Type:  q.Qtype,
		Class: q.Qclass,
	}, true
}

// IsQuery reports whether msg is a query (QR=0) with opcode Query, the
// classification test at the top of the request handler's state machine.
func IsQuery(msg *dns.Msg) bool {
	return !msg.Response && msg.Opcode == dns.OpcodeQuery
}

// synthesize builds a response that copies id, opcode, RD and the question
// section from req, and sets rcode. Every error path in the handler
// produces its response this way so a DNS client always gets a
// syntactically valid message back.
func synthesize(req *dns.Msg, rcode int) *dns.Msg {
	resp := new(dns.Msg)
	resp.SetRcode(req, rcode)
	resp.Authoritative = false
	resp.RecursionAvailable = true
	return resp
}

// FormErr synthesises a FORMERR response (malformed query: zero questions).
func FormErr(req *dns.Msg) *dns.Msg { return synthesize(req, dns.RcodeFormatError) }

// NotImp synthesises a NOTIMP response (not a standard query).
func NotImp(req *dns.Msg) *dns.Msg { return synthesize(req, dns.RcodeNotImplemented) }

// ServFail synthesises a SERVFAIL response, the catch-all for every
// post-classification error per spec.md §7.
func ServFail(req *dns.Msg) *dns.Msg { return synthesize(req, dns.RcodeServerFailure) }

// Blocked synthesises the NXDOMAIN response a Block rule produces.
func Blocked(req *dns.Msg) *dns.Msg {
	resp := synthesize(req, dns.RcodeNameError)
	resp.RecursionAvailable = true
	return resp
}

// PatchID overwrites the transaction id of msg with id, the final step
// before returning any response (cache hit or fresh forward) to a client.
func PatchID(msg *dns.Msg, id uint16) {
	msg.Id = id
}
