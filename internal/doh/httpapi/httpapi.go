// Package httpapi exposes the DoH HTTP surface of spec.md §6: binary DoH on
// GET/POST /dns-query and Google-style JSON DoH on GET /resolve, both
// routed into the same request handler state machine a UDP/TCP listener
// would use. Built on gin-gonic/gin, the way the teacher's internal/api
// wires its own admin surface, since spec.md never distinguishes the
// protocol's HTTP transport from the rest of the listener plumbing.
package httpapi

import (
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/miekg/dns"

	"github.com/jroosing/loadants/internal/handler"
)

const (
	contentTypeDNSMessage = "application/dns-message"
	contentTypeDNSJSON    = "application/dns-json"
)

type server struct {
	h *handler.Handler
}

// Register mounts the DoH endpoints onto r. The server runner gives them
// their own gin.Engine, separate from the admin API's.
func Register(r *gin.Engine, h *handler.Handler) {
	s := &server{h: h}
	r.GET("/dns-query", s.getDNSMessage)
	r.POST("/dns-query", s.postDNSMessage)
	r.GET("/resolve", s.resolveJSON)
}

// getDNSMessage godoc
// @Summary Binary DoH over GET
// @Description RFC 8484 binary DNS-over-HTTPS using the base64url dns parameter
// @Tags dns
// @Produce application/dns-message
// @Param dns query string true "base64url-encoded, unpadded DNS wire message"
// @Success 200 {string} string "binary DNS message"
// @Failure 400 {object} map[string]string
// @Router /dns-query [get]
func (s *server) getDNSMessage(c *gin.Context) {
	encoded := c.Query("dns")
	if encoded == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing dns parameter"})
		return
	}
	wire, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid base64url dns parameter"})
		return
	}
	s.serveWire(c, wire)
}

// postDNSMessage godoc
// @Summary Binary DoH over POST
// @Description RFC 8484 binary DNS-over-HTTPS with a raw wire-format body
// @Tags dns
// @Accept application/dns-message
// @Produce application/dns-message
// @Success 200 {string} string "binary DNS message"
// @Failure 415 {object} map[string]string
// @Router /dns-query [post]
func (s *server) postDNSMessage(c *gin.Context) {
	if ct := c.ContentType(); ct != contentTypeDNSMessage {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "Content-Type must be application/dns-message"})
		return
	}
	wire, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}
	s.serveWire(c, wire)
}

func (s *server) serveWire(c *gin.Context, wire []byte) {
	query := new(dns.Msg)
	if err := query.Unpack(wire); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed DNS message"})
		return
	}

	resp := s.h.Handle(c.Request.Context(), "doh", query)
	out, err := resp.Pack()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode response"})
		return
	}
	c.Data(http.StatusOK, contentTypeDNSMessage, out)
}

// resolveJSON godoc
// @Summary JSON DoH
// @Description Google-style JSON DNS-over-HTTPS
// @Tags dns
// @Produce application/dns-json
// @Param name query string true "Query name"
// @Param type query string false "Query type, name or numeric (default A)"
// @Success 200 {object} map[string]any
// @Failure 400 {object} map[string]string
// @Router /resolve [get]
func (s *server) resolveJSON(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing name parameter"})
		return
	}

	qtype, ok := parseQType(c.DefaultQuery("type", "1"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid type parameter"})
		return
	}

	query := new(dns.Msg)
	query.SetQuestion(dns.Fqdn(name), qtype)

	resp := s.h.Handle(c.Request.Context(), "doh-json", query)
	c.JSON(http.StatusOK, messageToJSON(resp))
}

func parseQType(raw string) (uint16, bool) {
	if t, ok := dns.StringToType[raw]; ok {
		return t, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > 65535 {
		return 0, false
	}
	return uint16(n), true
}

func messageToJSON(m *dns.Msg) gin.H {
	answers := make([]gin.H, 0, len(m.Answer))
	for _, rr := range m.Answer {
		hdr := rr.Header()
		answers = append(answers, gin.H{
			"name": hdr.Name,
			"type": hdr.Rrtype,
			"TTL":  hdr.Ttl,
			"data": rrData(rr),
		})
	}
	question := gin.H{}
	if len(m.Question) > 0 {
		question = gin.H{"name": m.Question[0].Name, "type": m.Question[0].Qtype}
	}
	return gin.H{
		"Status":   m.Rcode,
		"TC":       m.Truncated,
		"RD":       m.RecursionDesired,
		"RA":       m.RecursionAvailable,
		"AD":       m.AuthenticatedData,
		"CD":       m.CheckingDisabled,
		"Question": []gin.H{question},
		"Answer":   answers,
	}
}

func rrData(rr dns.RR) string {
	full := rr.String()
	hdr := rr.Header()
	prefix := hdr.Name + "\t" + strconv.FormatInt(int64(hdr.Ttl), 10) + "\t" + dns.ClassToString[hdr.Class] + "\t" + dns.TypeToString[hdr.Rrtype] + "\t"
	if len(full) > len(prefix) {
		return full[len(prefix):]
	}
	return full
}
