package codec

import (
	"net"
	"testing"

	"github.com/miekg/dns"
)

func TestNewQuery_SingleType(t *testing.T) {
	m := NewQuery(0x1234, "example.com", TypeA)

	if got := m.ID(); got != 0x1234 {
		t.Errorf("ID() = %x, want %x", got, 0x1234)
	}
	if !m.RecursionDesired() {
		t.Error("expected recursion-desired to be set")
	}
	names := m.QuestionNames()
	if len(names) != 1 || names[0] != "example.com." {
		t.Errorf("QuestionNames() = %v, want [example.com.]", names)
	}
}

func TestNewQuery_Batch(t *testing.T) {
	m := NewQuery(1, "example.com", TypeA, TypeAAAA)

	if len(m.msg.Question) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(m.msg.Question))
	}
	if m.msg.Question[0].Qtype != dns.TypeA || m.msg.Question[1].Qtype != dns.TypeAAAA {
		t.Errorf("unexpected question types: %+v", m.msg.Question)
	}
}

func TestMiekgCodec_RoundTrip(t *testing.T) {
	q := NewQuery(42, "example.com", TypeA)
	var c MiekgCodec

	encoded, err := c.Encode(q)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	resp := new(dns.Msg)
	resp.SetReply(q.msg)
	resp.Answer = append(resp.Answer, &dns.A{
		Hdr: dns.RR_Header{Name: "example.com.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
		A:   net.ParseIP("10.0.0.1"),
	})
	packed, err := resp.Pack()
	if err != nil {
		t.Fatalf("pack reply: %v", err)
	}
	_ = encoded

	decoded, err := c.Decode(packed)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Type() != Response {
		t.Errorf("expected Response, got %v", decoded.Type())
	}
	answers, err := decoded.Answers()
	if err != nil {
		t.Fatalf("Answers: %v", err)
	}
	if len(answers) != 1 || answers[0].Data != "10.0.0.1" || answers[0].TTL != 60 {
		t.Errorf("unexpected answers: %+v", answers)
	}
}
