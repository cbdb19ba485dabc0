package dnsmsg_test

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/loadants/internal/dnsmsg"
)

func TestFingerprintOf_NormalizesCaseAndTrailingDot(t *testing.T) {
	q := new(dns.Msg)
	q.SetQuestion("Example.COM.", dns.TypeA)

	fp, ok := dnsmsg.FingerprintOf(q)
	require.True(t, ok)
	assert.Equal(t, "example.com", fp.Name)
	assert.Equal(t, dns.TypeA, fp.Type)
	assert.Equal(t, uint16(dns.ClassINET), fp.Class)
}

func TestFingerprintOf_NoQuestionFails(t *testing.T) {
	q := new(dns.Msg)
	_, ok := dnsmsg.FingerprintOf(q)
	assert.False(t, ok)
}

func TestFingerprintOf_EqualityIsStructural(t *testing.T) {
	a := new(dns.Msg)
	a.SetQuestion("example.com.", dns.TypeA)
	b := new(dns.Msg)
	b.SetQuestion("EXAMPLE.COM.", dns.TypeA)

	fpA, _ := dnsmsg.FingerprintOf(a)
	fpB, _ := dnsmsg.FingerprintOf(b)
	assert.Equal(t, fpA, fpB)
}

func TestIsQuery(t *testing.T) {
	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	assert.True(t, dnsmsg.IsQuery(q))

	resp := new(dns.Msg)
	resp.SetReply(q)
	assert.False(t, dnsmsg.IsQuery(resp))

	notify := new(dns.Msg)
	notify.SetQuestion("example.com.", dns.TypeA)
	notify.Opcode = dns.OpcodeNotify
	assert.False(t, dnsmsg.IsQuery(notify))
}

func TestSynthesizedResponses_PreserveIDOpcodeAndQuestions(t *testing.T) {
	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	q.Id = 777
	q.RecursionDesired = true

	for _, resp := range []*dns.Msg{
		dnsmsg.FormErr(q),
		dnsmsg.NotImp(q),
		dnsmsg.ServFail(q),
		dnsmsg.Blocked(q),
	} {
		assert.Equal(t, q.Id, resp.Id)
		assert.Equal(t, q.Opcode, resp.Opcode)
		require.Len(t, resp.Question, 1)
		assert.Equal(t, q.Question[0], resp.Question[0])
	}
}

func TestBlocked_IsNXDomain(t *testing.T) {
	q := new(dns.Msg)
	q.SetQuestion("blocked.example.com.", dns.TypeA)
	resp := dnsmsg.Blocked(q)
	assert.Equal(t, dns.RcodeNameError, resp.Rcode)
	assert.True(t, resp.RecursionAvailable)
}

func TestPatchID(t *testing.T) {
	msg := new(dns.Msg)
	msg.Id = 1
	dnsmsg.PatchID(msg, 42)
	assert.Equal(t, uint16(42), msg.Id)
}
