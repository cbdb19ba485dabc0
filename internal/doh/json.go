package doh

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/miekg/dns"

	"github.com/jroosing/loadants/internal/apperrors"
)

// jsonResponse mirrors the Google-style DNS JSON response shape:
// https://developers.google.com/speed/public-dns/docs/doh/json
type jsonResponse struct {
	Status   int            `json:"Status"`
	TC       *bool          `json:"TC"`
	RD       *bool          `json:"RD"`
	RA       *bool          `json:"RA"`
	AD       *bool          `json:"AD"`
	CD       *bool          `json:"CD"`
	Question []jsonQuestion `json:"Question"`

	Answer     []jsonRR `json:"Answer"`
	Authority  []jsonRR `json:"Authority"`
	Additional []jsonRR `json:"Additional"`

	Comment          string `json:"Comment"`
	EDNSClientSubnet string `json:"edns_client_subnet"`
}

type jsonQuestion struct {
	Name string `json:"name"`
	Type uint16 `json:"type"`
}

type jsonRR struct {
	Name string `json:"name"`
	Type uint16 `json:"type"`
	TTL  uint32 `json:"TTL"`
	Data string `json:"data"`
}

// statusToRcode maps the Google JSON "Status" integer to an RFC 1035
// response code, per spec.md §4.5's table. Unrecognised values map to
// ServFail.
func statusToRcode(status int) int {
	switch status {
	case 0:
		return dns.RcodeSuccess
	case 1:
		return dns.RcodeFormatError
	case 2:
		return dns.RcodeServerFailure
	case 3:
		return dns.RcodeNameError
	case 4:
		return dns.RcodeNotImplemented
	case 5:
		return dns.RcodeRefused
	default:
		return dns.RcodeServerFailure
	}
}

// JSONToMessage decodes a Google-style DNS JSON response body into a
// *dns.Msg, applying the field mapping and per-type record decoding of
// spec.md §4.5. query supplies the id, opcode and default RD; unparsable
// records are skipped with a warning, never fatal, matching the Rust
// original's json_to_message.
func JSONToMessage(body []byte, query *dns.Msg) (*dns.Msg, error) {
	var jr jsonResponse
	if err := json.Unmarshal(body, &jr); err != nil {
		return nil, fmt.Errorf("parsing dns-json response: %w: %v", apperrors.ErrDNSProto, err)
	}

	resp := new(dns.Msg)
	resp.Id = query.Id
	resp.Response = true
	resp.Opcode = query.Opcode

	if jr.TC != nil {
		resp.Truncated = *jr.TC
	}
	if jr.RD != nil {
		resp.RecursionDesired = *jr.RD
	} else {
		resp.RecursionDesired = query.RecursionDesired
	}
	if jr.RA != nil {
		resp.RecursionAvailable = *jr.RA
	} else {
		resp.RecursionAvailable = true
	}
	if jr.AD != nil {
		resp.AuthenticatedData = *jr.AD
	}
	if jr.CD != nil {
		resp.CheckingDisabled = *jr.CD
	}

	resp.Question = append(resp.Question, query.Question...)
	resp.Rcode = statusToRcode(jr.Status)

	if resp.Rcode != dns.RcodeSuccess {
		for _, q := range jr.Question {
			name := dns.Fqdn(q.Name)
			resp.Question = append(resp.Question, dns.Question{
				Name:   name,
				Qtype:  q.Type,
				Qclass: dns.ClassINET,
			})
		}
		return resp, nil
	}

	for _, rr := range jr.Answer {
		if parsed, ok := decodeRR(rr); ok {
			resp.Answer = append(resp.Answer, parsed)
		} else {
			slog.Warn("skipping unparsable dns-json record", "name", rr.Name, "type", rr.Type)
		}
	}
	for _, rr := range jr.Authority {
		if parsed, ok := decodeRR(rr); ok {
			resp.Ns = append(resp.Ns, parsed)
		} else {
			slog.Warn("skipping unparsable dns-json record", "name", rr.Name, "type", rr.Type)
		}
	}
	for _, rr := range jr.Additional {
		if parsed, ok := decodeRR(rr); ok {
			resp.Extra = append(resp.Extra, parsed)
		} else {
			slog.Warn("skipping unparsable dns-json record", "name", rr.Name, "type", rr.Type)
		}
	}

	return resp, nil
}

// decodeRR decodes one JSON-encoded record by its numeric type, per
// spec.md §4.5's per-type mapping. ok is false when the record's data
// cannot be parsed for its declared type; the caller skips it with a
// warning rather than failing the whole response.
func decodeRR(rr jsonRR) (dns.RR, bool) {
	name := dns.Fqdn(rr.Name)
	hdr := dns.RR_Header{Name: name, Rrtype: rr.Type, Class: dns.ClassINET, Ttl: rr.TTL}

	switch rr.Type {
	case dns.TypeA:
		ip := net.ParseIP(rr.Data).To4()
		if ip == nil {
			return nil, false
		}
		return &dns.A{Hdr: hdr, A: ip}, true

	case dns.TypeAAAA:
		ip := net.ParseIP(rr.Data).To16()
		if ip == nil {
			return nil, false
		}
		return &dns.AAAA{Hdr: hdr, AAAA: ip}, true

	case dns.TypeCNAME:
		return &dns.CNAME{Hdr: hdr, Target: dns.Fqdn(rr.Data)}, true

	case dns.TypeNS:
		return &dns.NS{Hdr: hdr, Ns: dns.Fqdn(rr.Data)}, true

	case dns.TypePTR:
		return &dns.PTR{Hdr: hdr, Ptr: dns.Fqdn(rr.Data)}, true

	case dns.TypeMX:
		parts := strings.Fields(rr.Data)
		if len(parts) < 2 {
			return nil, false
		}
		pref, err := strconv.ParseUint(parts[0], 10, 16)
		if err != nil {
			return nil, false
		}
		return &dns.MX{Hdr: hdr, Preference: uint16(pref), Mx: dns.Fqdn(parts[1])}, true

	case dns.TypeSRV:
		parts := strings.Fields(rr.Data)
		if len(parts) < 4 {
			return nil, false
		}
		prio, err1 := strconv.ParseUint(parts[0], 10, 16)
		weight, err2 := strconv.ParseUint(parts[1], 10, 16)
		port, err3 := strconv.ParseUint(parts[2], 10, 16)
		if err1 != nil || err2 != nil || err3 != nil {
			return nil, false
		}
		return &dns.SRV{
			Hdr:      hdr,
			Priority: uint16(prio),
			Weight:   uint16(weight),
			Port:     uint16(port),
			Target:   dns.Fqdn(parts[3]),
		}, true

	case dns.TypeTXT:
		return &dns.TXT{Hdr: hdr, Txt: []string{stripOuterQuotes(rr.Data)}}, true

	default:
		return nil, false
	}
}

// stripOuterQuotes removes unescaped double quotes from a TXT record's
// character data, keeping the literal text between them, per spec.md
// §4.5's "TXT keeps the character data after stripping outer unescaped
// double quotes" rule.
func stripOuterQuotes(data string) string {
	var out strings.Builder
	inQuotes := false
	escaped := false
	for _, c := range data {
		switch {
		case c == '"' && !escaped:
			inQuotes = !inQuotes
		case c == '\\' && !escaped:
			escaped = true
			continue
		default:
			if inQuotes || c != ' ' {
				out.WriteRune(c)
			}
		}
		escaped = false
	}
	return out.String()
}
