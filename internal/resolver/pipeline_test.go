package resolver

import (
	"testing"

	"go.uber.org/zap"

	"github.com/lomackie/dns-resolver/internal/hostsfile"
	"github.com/lomackie/dns-resolver/internal/sysconfig"
)

type fakeHosts struct {
	data hostsfile.Data
	err  error
}

func (f *fakeHosts) Load(reload bool) (hostsfile.Data, error) { return f.data, f.err }

// fakeSysConfig reports no nameservers: every test here either short-circuits
// before the upstream walk (IP literal, hosts hit, validation error) or talks
// to a server it supplies explicitly, so no real network config is needed.
type fakeSysConfig struct{}

func (fakeSysConfig) Load() (sysconfig.Config, error) { return sysconfig.Config{}, nil }

func newTestResolver(t *testing.T, hosts hostsfile.Loader) *Resolver {
	t.Helper()
	r, err := New(zap.NewNop(), newFakeCache(), hosts, fakeSysConfig{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(r.Close)
	return r
}

func TestResolver_ResolveIPLiteralShortCircuitsWithoutNetwork(t *testing.T) {
	r := newTestResolver(t, &fakeHosts{data: hostsfile.Data{A: map[string]string{}, AAAA: map[string]string{}}})

	answers, err := r.Resolve("93.184.216.34", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(answers) != 1 || answers[0].Data != "93.184.216.34" || answers[0].Type != TypeA || !answers[0].Unbounded {
		t.Errorf("unexpected answers: %+v", answers)
	}
}

func TestResolver_ResolveInvalidNameIsRejectedSynchronously(t *testing.T) {
	r := newTestResolver(t, &fakeHosts{data: hostsfile.Data{A: map[string]string{}, AAAA: map[string]string{}}})

	_, err := r.Resolve("-bad-.example.com", Options{})
	if _, ok := err.(*InvalidNameError); !ok {
		t.Fatalf("expected *InvalidNameError, got %v (%T)", err, err)
	}
}

func TestResolver_ResolveHostsHitSkipsNetwork(t *testing.T) {
	r := newTestResolver(t, &fakeHosts{data: hostsfile.Data{
		A:    map[string]string{"router.lan": "192.168.1.1"},
		AAAA: map[string]string{},
	}})

	answers, err := r.Resolve("router.lan", Options{Types: []RecordType{TypeA}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(answers) != 1 || answers[0].Data != "192.168.1.1" || !answers[0].Unbounded {
		t.Errorf("unexpected answers: %+v", answers)
	}
}

func TestResolver_ResolveInvalidTypeRejected(t *testing.T) {
	r := newTestResolver(t, &fakeHosts{data: hostsfile.Data{A: map[string]string{}, AAAA: map[string]string{}}})

	_, err := r.Resolve("example.com", Options{Types: []RecordType{TypeCNAME}})
	if _, ok := err.(*InvalidTypeError); !ok {
		t.Fatalf("expected *InvalidTypeError, got %v (%T)", err, err)
	}
}

func TestResolver_ParseCustomServerClearsOppositeProtocolBit(t *testing.T) {
	r := newTestResolver(t, &fakeHosts{data: hostsfile.Data{A: map[string]string{}, AAAA: map[string]string{}}})

	udpOnly, err := r.parseCustomServer("udp://9.9.9.9:53")
	if err != nil {
		t.Fatalf("parseCustomServer: %v", err)
	}
	if !udpOnly.Protocols.allowsUDP() || udpOnly.Protocols.allowsTCP() {
		t.Errorf("udp:// server should be UDP-only, got mask %v", udpOnly.Protocols)
	}

	tcpOnly, err := r.parseCustomServer("tcp://9.9.9.10:53")
	if err != nil {
		t.Fatalf("parseCustomServer: %v", err)
	}
	if !tcpOnly.Protocols.allowsTCP() || tcpOnly.Protocols.allowsUDP() {
		t.Errorf("tcp:// server should be TCP-only, got mask %v", tcpOnly.Protocols)
	}

	both, err := r.parseCustomServer("9.9.9.11:53")
	if err != nil {
		t.Fatalf("parseCustomServer: %v", err)
	}
	if !both.Protocols.allowsTCP() || !both.Protocols.allowsUDP() {
		t.Errorf("schemeless server should allow both transports, got mask %v", both.Protocols)
	}
}
