package resolver

import (
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/lomackie/dns-resolver/internal/codec"
)

// TransportSelector decides, for a given server and its allowed-protocol
// mask, whether to use UDP or TCP first and how to fall back, per §4.2's
// decision table.
type TransportSelector struct {
	logger   *zap.Logger
	codec    codec.Codec
	mux      *udpMultiplexer
	reqTable *RequestTable
	registry *Registry
}

func NewTransportSelector(logger *zap.Logger, c codec.Codec, mux *udpMultiplexer, reqTable *RequestTable, registry *Registry) *TransportSelector {
	return &TransportSelector{logger: logger, codec: c, mux: mux, reqTable: reqTable, registry: registry}
}

// Exchange issues the given question batch to server and returns the merged
// per-type Result, applying §4.2's decision table.
func (ts *TransportSelector) Exchange(server *ServerEntry, name string, types []RecordType, timeout time.Duration) (Result, error) {
	mask := server.Protocols
	switch {
	case !mask.allowsTCP():
		return ts.viaUDP(server, name, types, timeout)
	case !mask.allowsUDP():
		return ts.viaTCP(server, name, types, timeout)
	case server.tcpHasFailed():
		return ts.viaUDP(server, name, types, timeout)
	case server.tcpIsEstablished():
		result, err := ts.viaTCP(server, name, types, timeout)
		if err != nil {
			return ts.viaUDP(server, name, types, timeout)
		}
		return result, nil
	default:
		result, err := ts.viaUDP(server, name, types, timeout)
		if err != nil {
			return ts.viaTCP(server, name, types, timeout)
		}
		go ts.backgroundConnectTCP(server)
		return result, nil
	}
}

// viaUDP runs one UDP exchange, retransmitting over TCP at the same server
// if the response came back truncated.
func (ts *TransportSelector) viaUDP(server *ServerEntry, name string, types []RecordType, timeout time.Duration) (Result, error) {
	result, truncated, err := ts.exchangeUDP(server, name, types, timeout)
	if err != nil {
		return nil, err
	}
	if truncated {
		ts.logger.Debug("UDP response truncated, retrying over TCP", zap.String("endpoint", server.Endpoint))
		return ts.viaTCP(server, name, types, timeout)
	}
	return result, nil
}

// viaTCP runs one TCP exchange. A truncated TCP response is fatal (§4.2).
func (ts *TransportSelector) viaTCP(server *ServerEntry, name string, types []RecordType, timeout time.Duration) (Result, error) {
	result, truncated, err := ts.exchangeTCP(server, name, types, timeout)
	if err != nil {
		return nil, err
	}
	if truncated {
		return nil, resolutionErrorf("Server returned truncated response")
	}
	return result, nil
}

func (ts *TransportSelector) exchangeUDP(server *ServerEntry, name string, types []RecordType, timeout time.Duration) (Result, bool, error) {
	addr, err := net.ResolveUDPAddr("udp", server.Endpoint)
	if err != nil {
		return nil, false, resolutionErrorf("resolve UDP address %s: %v", server.Endpoint, err)
	}

	proceed, wait := server.awaitFirstUDPContact()
	if !proceed {
		<-wait
	}

	req := ts.reqTable.Dispatch(server, name, types, timeout)
	query := codec.NewQuery(req.id, name, types...)
	encoded, err := ts.codec.Encode(query)
	if err != nil {
		return nil, false, err
	}

	start := time.Now()
	if err := ts.mux.Send(server.Family, encoded, addr); err != nil {
		return nil, false, err
	}

	outcome := <-req.done
	if proceed {
		server.releaseFirstUDPContact()
	}
	if outcome.err != nil {
		return nil, false, outcome.err
	}
	server.recordRTT(time.Since(start))
	return outcome.result, outcome.truncated, nil
}

func (ts *TransportSelector) exchangeTCP(server *ServerEntry, name string, types []RecordType, timeout time.Duration) (Result, bool, error) {
	conn, err := server.connectTCP(ts.dialTCP)
	if err != nil {
		return nil, false, resolutionErrorf("TCP connect to %s: %v", server.Endpoint, err)
	}

	req := ts.reqTable.Dispatch(server, name, types, timeout)
	query := codec.NewQuery(req.id, name, types...)
	encoded, err := ts.codec.Encode(query)
	if err != nil {
		return nil, false, err
	}

	start := time.Now()
	if err := conn.Send(encoded); err != nil {
		return nil, false, err
	}

	outcome := <-req.done
	if outcome.err != nil {
		return nil, false, outcome.err
	}
	server.recordRTT(time.Since(start))
	return outcome.result, outcome.truncated, nil
}

func (ts *TransportSelector) dialTCP(endpoint string) (*tcpConnection, error) {
	return dialTCPConnection(endpoint, ts.logger, ts.codec, ts.reqTable, ts.registry)
}

// backgroundConnectTCP starts a TCP connect for server without blocking the
// caller, per §4.2's "on UDP success, start TCP connect in background for
// future requests".
func (ts *TransportSelector) backgroundConnectTCP(server *ServerEntry) {
	if _, err := server.connectTCP(ts.dialTCP); err != nil {
		ts.logger.Debug("background TCP connect failed", zap.String("endpoint", server.Endpoint), zap.Error(err))
	}
}
