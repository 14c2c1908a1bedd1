package resolver

import (
	"net"

	"go.uber.org/zap"

	"github.com/lomackie/dns-resolver/internal/codec"
)

const udpReadBufferSize = 1024

// udpSend is one queued outbound datagram: the encoded packet and its
// destination, mirroring the design's "(data, length, dest)" write-queue
// entry (§4.3).
type udpSend struct {
	data []byte
	dest net.Addr
}

// udpSocket is one shared, non-blocking-in-spirit UDP socket for an address
// family. Go's net.PacketConn doesn't expose readiness callbacks the way the
// source runtime's event loop does, so the "FIFO write queue drained on
// writability" design is expressed here as a buffered channel drained by a
// dedicated writer goroutine — same ordering guarantee, idiomatic Go shape.
type udpSocket struct {
	family string
	conn   net.PacketConn
	queue  chan udpSend
	done   chan struct{}
}

func (s *udpSocket) close() {
	select {
	case <-s.done:
		return
	default:
	}
	close(s.done)
	_ = s.conn.Close()
}

// udpMultiplexer owns the two shared UDP sockets (§4.3) and demultiplexes
// inbound datagrams back to the originating server entry via the Request
// Table.
type udpMultiplexer struct {
	logger   *zap.Logger
	codec    codec.Codec
	registry *Registry
	reqTable *RequestTable

	v4 *udpSocket
	v6 *udpSocket // nil when the IPv6 socket couldn't be opened
}

func newUDPMultiplexer(logger *zap.Logger, c codec.Codec, registry *Registry, reqTable *RequestTable) (*udpMultiplexer, error) {
	v4, err := newUDPSocket("udp4")
	if err != nil {
		return nil, &SocketError{Family: "ip4", Cause: err}
	}

	m := &udpMultiplexer{
		logger:   logger,
		codec:    c,
		registry: registry,
		reqTable: reqTable,
		v4:       v4,
	}

	v6, err := newUDPSocket("udp6")
	if err != nil {
		logger.Warn("IPv6 UDP socket unavailable, IPv6 servers will be unreachable", zap.Error(err))
	} else {
		m.v6 = v6
	}

	go m.readLoop(m.v4)
	go m.writeLoop(m.v4)
	if m.v6 != nil {
		go m.readLoop(m.v6)
		go m.writeLoop(m.v6)
	}
	return m, nil
}

func newUDPSocket(network string) (*udpSocket, error) {
	conn, err := net.ListenPacket(network, ":0")
	if err != nil {
		return nil, err
	}
	family := "ip4"
	if network == "udp6" {
		family = "ip6"
	}
	return &udpSocket{
		family: family,
		conn:   conn,
		queue:  make(chan udpSend, 256),
		done:   make(chan struct{}),
	}, nil
}

func (m *udpMultiplexer) socketFor(family string) *udpSocket {
	if family == "ip6" {
		return m.v6
	}
	return m.v4
}

// Send queues an already-encoded query for addr on the socket matching
// family; the family's writer goroutine transmits it. Send blocks while that
// queue is full.
func (m *udpMultiplexer) Send(family string, data []byte, addr net.Addr) error {
	sock := m.socketFor(family)
	if sock == nil {
		return resolutionErrorf("no UDP socket available for %s", family)
	}
	select {
	case sock.queue <- udpSend{data: data, dest: addr}:
		return nil
	case <-sock.done:
		return resolutionErrorf("UDP socket for %s is closed", family)
	}
}

func (m *udpMultiplexer) writeLoop(sock *udpSocket) {
	for {
		select {
		case <-sock.done:
			return
		case send := <-sock.queue:
			if _, err := sock.conn.WriteTo(send.data, send.dest); err != nil {
				m.logger.Debug("UDP write failed", zap.String("dest", send.dest.String()), zap.Error(err))
			}
		}
	}
}

func (m *udpMultiplexer) readLoop(sock *udpSocket) {
	buf := make([]byte, udpReadBufferSize)
	for {
		n, addr, err := sock.conn.ReadFrom(buf)
		select {
		case <-sock.done:
			return
		default:
		}
		if err != nil {
			m.logger.Debug("UDP read failed", zap.Error(err))
			continue
		}
		m.handleDatagram(addr, append([]byte(nil), buf[:n]...))
	}
}

func (m *udpMultiplexer) handleDatagram(addr net.Addr, data []byte) {
	endpoint := normalizeAddr(addr)
	msg, err := m.codec.Decode(data)
	if err != nil {
		m.logger.Debug("failed to decode UDP response", zap.String("from", endpoint), zap.Error(err))
		if _, ok := m.registry.Get(endpoint); ok {
			m.registry.Unload(endpoint, err)
		}
		return
	}
	m.reqTable.Deliver(msg)
}

// normalizeAddr bracket-normalizes an IPv6 peer address and strips any zone
// identifier, the way §9 requires before using it as a registry lookup key.
func normalizeAddr(addr net.Addr) string {
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	if zone := indexZone(host); zone >= 0 {
		host = host[:zone]
	}
	return net.JoinHostPort(host, port)
}

func indexZone(host string) int {
	for i := 0; i < len(host); i++ {
		if host[i] == '%' {
			return i
		}
	}
	return -1
}
