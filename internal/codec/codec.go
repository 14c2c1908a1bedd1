// Package codec implements the external Message Codec collaborator from the
// resolver's contract: encoding a query and decoding a response into a
// structured form the core never has to know the wire bits of. The core only
// ever talks to the Codec interface; this file is the one concrete adapter,
// built on top of github.com/miekg/dns rather than a hand-rolled RR parser.
package codec

import (
	"fmt"

	"github.com/miekg/dns"
)

// RecordType mirrors the DNS RR type space. Only A, AAAA, CNAME and DNAME are
// surfaced by the resolver's public contract; All is a sentinel meaning "every
// type returned", aliased onto the standard ANY qtype. Arbitrary values may
// still be passed through the low-level query path.
type RecordType uint16

const (
	TypeA     RecordType = RecordType(dns.TypeA)
	TypeNS    RecordType = RecordType(dns.TypeNS)
	TypeCNAME RecordType = RecordType(dns.TypeCNAME)
	TypeSOA   RecordType = RecordType(dns.TypeSOA)
	TypePTR   RecordType = RecordType(dns.TypePTR)
	TypeMX    RecordType = RecordType(dns.TypeMX)
	TypeTXT   RecordType = RecordType(dns.TypeTXT)
	TypeAAAA  RecordType = RecordType(dns.TypeAAAA)
	TypeDNAME RecordType = RecordType(dns.TypeDNAME)
	TypeALL   RecordType = RecordType(dns.TypeANY)
)

func (t RecordType) String() string {
	return dns.TypeToString[uint16(t)]
}

// MessageType distinguishes a query from a response, mirroring the QR bit.
type MessageType int

const (
	Query MessageType = iota
	Response
)

// ResourceRecord is a decoded answer entry: its canonical string form, its
// type, and its TTL in seconds.
type ResourceRecord struct {
	Name string
	Type RecordType
	TTL  uint32
	Data string
}

// Message is the structured form the codec produces and consumes. It wraps
// *dns.Msg instead of re-deriving header/question/answer bookkeeping the
// teacher's hand-rolled parser used to own.
type Message struct {
	msg *dns.Msg
}

// NewQuery builds a recursion-desired query for one or more (name, type)
// pairs against the IN class, matching the "assemble question records ...
// issue all remaining questions as a single query batch" step of the lookup
// pipeline: a single wire message may carry more than one question.
func NewQuery(id uint16, name string, qtypes ...RecordType) *Message {
	m := new(dns.Msg)
	m.Id = id
	m.RecursionDesired = true
	fqdn := dns.Fqdn(name)
	for _, qt := range qtypes {
		m.Question = append(m.Question, dns.Question{
			Name:   fqdn,
			Qtype:  uint16(qt),
			Qclass: dns.ClassINET,
		})
	}
	return &Message{msg: m}
}

// wrapMessage constructs a Message around an already-unpacked *dns.Msg.
func wrapMessage(m *dns.Msg) *Message {
	return &Message{msg: m}
}

func (m *Message) ID() uint16 {
	return m.msg.Id
}

func (m *Message) SetID(id uint16) {
	m.msg.Id = id
}

func (m *Message) Type() MessageType {
	if m.msg.Response {
		return Response
	}
	return Query
}

// Rcode returns the 4-bit DNS response status (0 = NOERROR, 3 = NXDOMAIN).
func (m *Message) Rcode() int {
	return m.msg.Rcode
}

func (m *Message) Truncated() bool {
	return m.msg.Truncated
}

func (m *Message) RecursionDesired() bool {
	return m.msg.RecursionDesired
}

// QuestionNames returns the queried names, in question order.
func (m *Message) QuestionNames() []string {
	names := make([]string, 0, len(m.msg.Question))
	for _, q := range m.msg.Question {
		names = append(names, q.Name)
	}
	return names
}

// Answers decodes the message's answer section into canonical-string records,
// in wire order, the order the resolver's Result preserves.
func (m *Message) Answers() ([]ResourceRecord, error) {
	out := make([]ResourceRecord, 0, len(m.msg.Answer))
	for _, rr := range m.msg.Answer {
		rec, err := toResourceRecord(rr)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func toResourceRecord(rr dns.RR) (ResourceRecord, error) {
	hdr := rr.Header()
	rec := ResourceRecord{
		Name: hdr.Name,
		Type: RecordType(hdr.Rrtype),
		TTL:  hdr.Ttl,
	}
	switch v := rr.(type) {
	case *dns.A:
		rec.Data = v.A.String()
	case *dns.AAAA:
		rec.Data = v.AAAA.String()
	case *dns.CNAME:
		rec.Data = v.Target
	case *dns.DNAME:
		rec.Data = v.Target
	case *dns.NS:
		rec.Data = v.Ns
	case *dns.PTR:
		rec.Data = v.Ptr
	case *dns.MX:
		rec.Data = v.Mx
	case *dns.TXT:
		rec.Data = fmt.Sprint(v.Txt)
	case *dns.SOA:
		rec.Data = v.Ns
	default:
		rec.Data = rr.String()
	}
	return rec, nil
}

// Codec is the external Message Codec contract: encode a query / decode a
// response. The core depends only on this interface.
type Codec interface {
	Encode(m *Message) ([]byte, error)
	Decode(b []byte) (*Message, error)
}

// MiekgCodec implements Codec on top of github.com/miekg/dns.
type MiekgCodec struct{}

func (MiekgCodec) Encode(m *Message) ([]byte, error) {
	return m.msg.Pack()
}

func (MiekgCodec) Decode(b []byte) (*Message, error) {
	mm := new(dns.Msg)
	if err := mm.Unpack(b); err != nil {
		return nil, fmt.Errorf("decode dns message: %w", err)
	}
	return wrapMessage(mm), nil
}
