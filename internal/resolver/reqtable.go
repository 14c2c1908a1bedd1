package resolver

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lomackie/dns-resolver/internal/cache"
	"github.com/lomackie/dns-resolver/internal/codec"
)

// maxRequestID is the 16-bit ID space the Request Table's counter wraps
// within (§3: "a monotonically advancing 16-bit counter wrapping at a
// constant MAX_REQUEST_ID, skipping any ID currently in use").
const maxRequestID = 0xFFFF

// requestOutcome is what a pendingRequest's completion channel carries.
type requestOutcome struct {
	result    Result
	truncated bool
	err       error
}

// pendingRequest is a Request Table entry (§3): completion sink, question
// name/types, and the originating server endpoint.
type pendingRequest struct {
	id       uint16
	name     string
	types    []RecordType
	endpoint string
	server   *ServerEntry

	done chan requestOutcome

	mu      sync.Mutex
	settled bool
	timer   *time.Timer
}

func (p *pendingRequest) complete(o requestOutcome) {
	p.mu.Lock()
	if p.settled {
		p.mu.Unlock()
		return
	}
	p.settled = true
	if p.timer != nil {
		p.timer.Stop()
	}
	p.mu.Unlock()
	p.done <- o
}

// RequestTable allocates request IDs, tracks in-flight questions, and
// dispatches decoded answers back to their awaiting callers (§4.5).
type RequestTable struct {
	mu      sync.Mutex
	nextID  uint16
	pending map[uint16]*pendingRequest

	logger      *zap.Logger
	registry    *Registry
	cacheStore  cache.Cache
	idleTimeout time.Duration
}

func NewRequestTable(logger *zap.Logger, registry *Registry, cacheStore cache.Cache, idleTimeout time.Duration) *RequestTable {
	rt := &RequestTable{
		pending:     make(map[uint16]*pendingRequest),
		logger:      logger,
		registry:    registry,
		cacheStore:  cacheStore,
		idleTimeout: idleTimeout,
	}
	registry.failPending = rt.failAll
	return rt
}

// allocateID returns the next unused 16-bit ID, skipping any ID currently
// present in the table, per §4.5/§9 ("per-resolver-instance, not
// process-wide").
func (rt *RequestTable) allocateID() uint16 {
	for i := 0; i <= maxRequestID; i++ {
		id := rt.nextID
		rt.nextID++
		if _, inUse := rt.pending[id]; !inUse {
			return id
		}
	}
	// Every ID in use: exceedingly unlikely given maxRequestID in-flight
	// requests, but return the next slot anyway rather than deadlock.
	return rt.nextID
}

// Dispatch records a new in-flight request and arms its timeout timer. The
// caller sends the wire query (tagged with the returned ID) after Dispatch
// returns, then awaits req.done.
func (rt *RequestTable) Dispatch(server *ServerEntry, name string, types []RecordType, timeout time.Duration) *pendingRequest {
	rt.mu.Lock()
	id := rt.allocateID()
	req := &pendingRequest{
		id:       id,
		name:     name,
		types:    types,
		endpoint: server.Endpoint,
		server:   server,
		done:     make(chan requestOutcome, 1),
	}
	rt.pending[id] = req
	rt.mu.Unlock()

	server.addPending(id)

	req.timer = time.AfterFunc(timeout, func() {
		rt.timeoutRequest(id, timeout)
	})
	return req
}

func (rt *RequestTable) timeoutRequest(id uint16, timeout time.Duration) {
	rt.mu.Lock()
	req, ok := rt.pending[id]
	if ok {
		delete(rt.pending, id)
	}
	rt.mu.Unlock()
	if !ok {
		return
	}
	req.server.removePending(id, rt.idleTimeout)
	req.complete(requestOutcome{err: &TimeoutError{TimeoutMs: int(timeout / time.Millisecond)}})
}

// Deliver matches an inbound response to its request by ID and processes it
// per §4.5. A response whose ID is unknown is discarded silently — it may
// reflect a cancelled or timed-out request.
func (rt *RequestTable) Deliver(msg *codec.Message) {
	rt.mu.Lock()
	req, ok := rt.pending[msg.ID()]
	if ok {
		delete(rt.pending, msg.ID())
	}
	rt.mu.Unlock()
	if !ok {
		rt.logger.Debug("discarding response with unknown id", zap.Uint16("id", msg.ID()))
		return
	}
	req.server.removePending(req.id, rt.idleTimeout)

	if msg.Type() != codec.Response {
		err := resolutionErrorf("Server sent a non-response message")
		req.complete(requestOutcome{err: err})
		rt.registry.Unload(req.endpoint, err)
		return
	}

	if msg.Truncated() {
		req.complete(requestOutcome{truncated: true})
		return
	}

	rcode := msg.Rcode()
	if rcode != 0 && rcode != rcodeNXDomain {
		req.complete(requestOutcome{err: resolutionErrorf("Server returned error code: %d", rcode)})
		return
	}

	answers, err := msg.Answers()
	if err != nil {
		req.complete(requestOutcome{err: err})
		rt.registry.Unload(req.endpoint, err)
		return
	}

	result := rt.bucketAndCache(req.name, req.types, answers)
	if !result.hasAny() {
		req.complete(requestOutcome{err: &NoRecordError{Name: req.name}})
		return
	}
	req.complete(requestOutcome{result: result})
}

// rcodeNXDomain is RFC 1035's NXDOMAIN status. A response carrying it is
// processed as a normal (possibly empty) answer set rather than the generic
// RCODE error path, so RFC 2308-style negative caching can apply to it —
// see DESIGN.md's resolution of this ambiguity between §4.5 and §8 scenario 7.
const rcodeNXDomain = 3

// bucketAndCache groups decoded answers by type, writes per-type cache
// entries (negative entries get the fixed 300s TTL), and returns the
// resulting per-type Result.
func (rt *RequestTable) bucketAndCache(name string, requestedTypes []RecordType, answers []codec.ResourceRecord) Result {
	byType := make(map[RecordType][]Answer)
	minTTL := make(map[RecordType]uint32)
	for _, rec := range answers {
		a := boundedAnswer(rec.Data, rec.Type, rec.TTL)
		byType[rec.Type] = append(byType[rec.Type], a)
		if cur, ok := minTTL[rec.Type]; !ok || rec.TTL < cur {
			minTTL[rec.Type] = rec.TTL
		}
	}

	for _, t := range requestedTypes {
		entries := byType[t]
		key := cacheKey(name, t)
		if len(entries) == 0 {
			rt.cacheStore.Set(key, nil, cache.NegativeTTL)
			continue
		}
		rt.cacheStore.Set(key, toCacheAnswers(entries), time.Duration(minTTL[t])*time.Second)
	}
	// Cache any extra types the server volunteered too (e.g. a CNAME riding
	// along with the A record), using the same positive/negative rule.
	for t, entries := range byType {
		if containsType(requestedTypes, t) {
			continue
		}
		rt.cacheStore.Set(cacheKey(name, t), toCacheAnswers(entries), time.Duration(minTTL[t])*time.Second)
	}

	result := make(Result, len(byType))
	for t, entries := range byType {
		result[t] = entries
	}
	return result
}

func containsType(types []RecordType, t RecordType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

func toCacheAnswers(answers []Answer) []cache.Answer {
	out := make([]cache.Answer, len(answers))
	for i, a := range answers {
		out[i] = cache.Answer{Data: a.Data, Type: uint16(a.Type), TTL: uint32(a.TTL)}
	}
	return out
}

// failAll fails every ID in ids with err — used when a server is unloaded.
func (rt *RequestTable) failAll(ids []uint16, endpoint string, err error) {
	if err == nil {
		err = resolutionErrorf("server %s unloaded", endpoint)
	}
	for _, id := range ids {
		rt.mu.Lock()
		req, ok := rt.pending[id]
		if ok {
			delete(rt.pending, id)
		}
		rt.mu.Unlock()
		if ok {
			req.complete(requestOutcome{err: err})
		}
	}
}
