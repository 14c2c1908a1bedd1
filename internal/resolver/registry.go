package resolver

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// protoMask is the allowed-protocol mask for a server entry.
type protoMask uint8

const (
	protoUDP protoMask = 1 << iota
	protoTCP
	protoAny = protoUDP | protoTCP
)

func (m protoMask) allowsUDP() bool { return m&protoUDP != 0 }
func (m protoMask) allowsTCP() bool { return m&protoTCP != 0 }

// tcpState is the tagged-variant state of a server's TCP connection, per
// §3's data model ("TCP state: one of {none, connecting, established,
// failed}").
type tcpState int

const (
	tcpNone tcpState = iota
	tcpConnecting
	tcpEstablished
	tcpFailed
)

// ServerEntry is the resolver-side bookkeeping for one upstream endpoint
// (§3's "Server entry"). It generalizes the teacher's stateless
// server.SendMessage into the stateful per-endpoint record the design notes
// call for: a tagged record type in place of a dynamic attribute bag.
type ServerEntry struct {
	Endpoint  string
	Family    string // "ip4" or "ip6"
	Protocols protoMask

	mu sync.Mutex

	tcpState   tcpState
	tcpConn    *tcpConnection
	tcpWaiters []chan error

	udpFirstContactPending bool
	udpFirstContactDone    bool
	udpFirstContactWaiters []chan struct{}

	pending      map[uint16]struct{}
	idleDeadline time.Time // zero value: not idle

	lastRTT time.Duration
}

func newServerEntry(endpoint, family string, mask protoMask) *ServerEntry {
	return &ServerEntry{
		Endpoint:  endpoint,
		Family:    family,
		Protocols: mask,
		pending:   make(map[uint16]struct{}),
	}
}

func (s *ServerEntry) addPending(id uint16) {
	s.mu.Lock()
	s.pending[id] = struct{}{}
	s.idleDeadline = time.Time{}
	s.mu.Unlock()
}

func (s *ServerEntry) removePending(id uint16, idleTimeout time.Duration) {
	s.mu.Lock()
	delete(s.pending, id)
	if len(s.pending) == 0 {
		s.idleDeadline = time.Now().Add(idleTimeout)
	}
	s.mu.Unlock()
}

func (s *ServerEntry) pendingIDs() []uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint16, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	return ids
}

func (s *ServerEntry) isIdleExpired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.idleDeadline.IsZero() && now.After(s.idleDeadline)
}

func (s *ServerEntry) recordRTT(d time.Duration) {
	s.mu.Lock()
	s.lastRTT = d
	s.mu.Unlock()
}

// awaitFirstUDPContact implements the first-UDP-contact gate (§4.3, §9): the
// first send to a server proceeds immediately and marks the gate pending;
// every later sender blocks on the returned channel until the gate is
// released. Once proven reachable the gate never re-arms.
func (s *ServerEntry) awaitFirstUDPContact() (proceed bool, wait <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.udpFirstContactDone {
		return true, nil
	}
	if !s.udpFirstContactPending {
		s.udpFirstContactPending = true
		return true, nil
	}
	ch := make(chan struct{})
	s.udpFirstContactWaiters = append(s.udpFirstContactWaiters, ch)
	return false, ch
}

// releaseFirstUDPContact lifts the gate permanently and wakes every waiter.
func (s *ServerEntry) releaseFirstUDPContact() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.udpFirstContactDone {
		return
	}
	s.udpFirstContactDone = true
	waiters := s.udpFirstContactWaiters
	s.udpFirstContactWaiters = nil
	for _, ch := range waiters {
		close(ch)
	}
}

// connectTCP returns the server's established TCP connection, dialing one if
// none exists yet. Concurrent callers on a server already in the
// "connecting" state share the in-flight attempt via tcpWaiters — the
// pending-connect notification sink from §3's data model — rather than
// dialing twice.
func (s *ServerEntry) connectTCP(dial func(endpoint string) (*tcpConnection, error)) (*tcpConnection, error) {
	s.mu.Lock()
	switch s.tcpState {
	case tcpEstablished:
		conn := s.tcpConn
		s.mu.Unlock()
		return conn, nil
	case tcpFailed:
		s.mu.Unlock()
		return nil, resolutionErrorf("TCP previously failed for server %s", s.Endpoint)
	case tcpConnecting:
		ch := make(chan error, 1)
		s.tcpWaiters = append(s.tcpWaiters, ch)
		s.mu.Unlock()
		if err := <-ch; err != nil {
			return nil, err
		}
		s.mu.Lock()
		conn := s.tcpConn
		s.mu.Unlock()
		return conn, nil
	default:
		s.tcpState = tcpConnecting
		s.mu.Unlock()
	}

	conn, err := dial(s.Endpoint)

	s.mu.Lock()
	waiters := s.tcpWaiters
	s.tcpWaiters = nil
	if err != nil {
		s.tcpState = tcpFailed
		s.mu.Unlock()
		for _, w := range waiters {
			w <- err
		}
		return nil, err
	}
	s.tcpState = tcpEstablished
	s.tcpConn = conn
	s.mu.Unlock()
	for _, w := range waiters {
		w <- nil
	}
	return conn, nil
}

// tcpHasFailed reports whether TCP has previously failed for this server —
// the Transport Selector's "TCP previously failed on this server" condition.
func (s *ServerEntry) tcpHasFailed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tcpState == tcpFailed
}

// tcpIsEstablished reports whether TCP is already connected — the
// Selector's "TCP connection already established" condition.
func (s *ServerEntry) tcpIsEstablished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tcpState == tcpEstablished
}

// Registry owns the per-endpoint ServerEntry set (§2's Server Registry).
// failPending is invoked with the IDs of requests abandoned when a server is
// unloaded, letting the Request Table own completion delivery without the
// registry reaching into it directly.
type Registry struct {
	mu          sync.Mutex
	servers     map[string]*ServerEntry
	logger      *zap.Logger
	idleTimeout time.Duration
	failPending func(ids []uint16, endpoint string, err error)
}

func NewRegistry(logger *zap.Logger, idleTimeout time.Duration) *Registry {
	return &Registry{
		servers:     make(map[string]*ServerEntry),
		logger:      logger,
		idleTimeout: idleTimeout,
	}
}

// GetOrCreate returns the existing entry for endpoint, or creates one.
func (r *Registry) GetOrCreate(endpoint, family string, mask protoMask) *ServerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.servers[endpoint]; ok {
		return s
	}
	s := newServerEntry(endpoint, family, mask)
	r.servers[endpoint] = s
	r.logger.Debug("server entry created", zap.String("endpoint", endpoint))
	return s
}

func (r *Registry) Get(endpoint string) (*ServerEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.servers[endpoint]
	return s, ok
}

// Unload removes a server entry — because its socket failed or its idle
// window elapsed — closing its TCP connection and failing every request
// still pending against it.
func (r *Registry) Unload(endpoint string, err error) {
	r.mu.Lock()
	s, ok := r.servers[endpoint]
	if ok {
		delete(r.servers, endpoint)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	conn := s.tcpConn
	s.tcpConn = nil
	s.tcpState = tcpFailed
	s.mu.Unlock()

	if conn != nil {
		conn.close()
	}

	ids := s.pendingIDs()
	if len(ids) > 0 && r.failPending != nil {
		r.failPending(ids, endpoint, err)
	}
	r.logger.Debug("server entry unloaded", zap.String("endpoint", endpoint), zap.Error(err))
}

// SweepIdle unloads every server whose pending set has been empty for
// longer than the idle timeout, matching the 1Hz idle-scan design (§5).
func (r *Registry) SweepIdle(now time.Time) {
	r.mu.Lock()
	var expired []string
	for endpoint, s := range r.servers {
		if s.isIdleExpired(now) {
			expired = append(expired, endpoint)
		}
	}
	r.mu.Unlock()

	for _, endpoint := range expired {
		r.Unload(endpoint, nil)
	}
}

// Len reports how many servers are currently loaded. The resolver's idle
// sweep does not consult it: the sweep ticker runs from New until Close
// whether or not any server is loaded.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.servers)
}

// CloseAll unloads every server entry, closing its TCP connection and
// failing every request still pending against it with err. Used by
// Resolver.Close for a full shutdown, the same way SweepIdle unloads a
// subset of servers on the ordinary idle path.
func (r *Registry) CloseAll(err error) {
	r.mu.Lock()
	endpoints := make([]string, 0, len(r.servers))
	for endpoint := range r.servers {
		endpoints = append(endpoints, endpoint)
	}
	r.mu.Unlock()

	for _, endpoint := range endpoints {
		r.Unload(endpoint, err)
	}
}
