package resolver

import (
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lomackie/dns-resolver/internal/cache"
	"github.com/lomackie/dns-resolver/internal/codec"
	"github.com/lomackie/dns-resolver/internal/hostsfile"
	"github.com/lomackie/dns-resolver/internal/sysconfig"
)

// maxCNAMEHops bounds the low-level Query path's CNAME/DNAME chase (§4.1,
// §8 scenario "CNAME chain exceeding 30 hops").
const maxCNAMEHops = 30

// idleSweepInterval is the Scheduler glue's tick rate for expiring idle
// server entries (§5's 1Hz idle scan).
const idleSweepInterval = time.Second

// Options controls one resolve/query call. Zero value means "use the
// resolver's defaults": both hosts file and cache are consulted, the
// resolver's own server list and default timeout apply.
type Options struct {
	// Types restricts Resolve to a subset of {A, AAAA}. Empty means both.
	Types []RecordType
	// Server overrides the resolver's configured server list with a single
	// endpoint, optionally prefixed with "udp://" or "tcp://" to restrict
	// the allowed transport (§9).
	Server string
	// Timeout overrides the resolver's default per-exchange timeout.
	Timeout time.Duration
	// DisableHosts skips the hosts-file lookup for this call.
	DisableHosts bool
	// DisableCache skips the cache read. Answers received from upstream are
	// still written to the cache by the Request Table.
	DisableCache bool
	// ReloadHosts forces the hosts loader to re-read its backing file.
	ReloadHosts bool
}

// QueryOptions extends Options with the low-level Query path's recursion
// switch: following CNAME/DNAME chains locally instead of relying on the
// upstream server having already resolved them.
type QueryOptions struct {
	Options
	Recurse bool
}

// Resolver is the public entry point: the Lookup Pipeline (§4.1) wired to
// the Server Registry, Request Table, Transport Selector and Coalescer that
// make up the resolver core, plus the Cache/Hosts/SysConfig collaborators.
type Resolver struct {
	logger *zap.Logger

	cacheStore cache.Cache
	hosts      hostsfile.Loader
	sysConfig  sysconfig.Loader

	registry  *Registry
	reqTable  *RequestTable
	mux       *udpMultiplexer
	selector  *TransportSelector
	coalescer *Coalescer

	defaultTimeout time.Duration

	mu                sync.Mutex
	serverList        []*ServerEntry
	serverListLoaded  bool
	serverListLoading chan struct{}

	idleStop chan struct{}
	idleDone chan struct{}
}

// New builds a Resolver. Opening the shared IPv4 UDP socket is the only
// step that can fail fatally (§4.3); an unavailable IPv6 socket is merely
// logged, matching newUDPMultiplexer's contract.
func New(logger *zap.Logger, cacheStore cache.Cache, hosts hostsfile.Loader, sysConfig sysconfig.Loader) (*Resolver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	const idleTimeout = 30 * time.Second
	registry := NewRegistry(logger, idleTimeout)
	reqTable := NewRequestTable(logger, registry, cacheStore, idleTimeout)

	c := codec.MiekgCodec{}
	mux, err := newUDPMultiplexer(logger, c, registry, reqTable)
	if err != nil {
		return nil, err
	}
	selector := NewTransportSelector(logger, c, mux, reqTable, registry)

	r := &Resolver{
		logger:         logger,
		cacheStore:     cacheStore,
		hosts:          hosts,
		sysConfig:      sysConfig,
		registry:       registry,
		reqTable:       reqTable,
		mux:            mux,
		selector:       selector,
		coalescer:      NewCoalescer(),
		defaultTimeout: 3000 * time.Millisecond,
		idleStop:       make(chan struct{}),
		idleDone:       make(chan struct{}),
	}
	go r.idleSweepLoop()
	return r, nil
}

// Close shuts down the idle sweeper, closes every server's TCP connection,
// fails any request still in flight with a shutdown error, and closes both
// UDP sockets. Grounded on owasp-amass's connections.Close() shutdown
// pattern: close first, let read/write loops observe the closed channel and
// unwind on their own.
func (r *Resolver) Close() {
	select {
	case <-r.idleStop:
	default:
		close(r.idleStop)
		<-r.idleDone
	}
	r.registry.CloseAll(resolutionErrorf("resolver is shutting down"))
	r.mux.v4.close()
	if r.mux.v6 != nil {
		r.mux.v6.close()
	}
}

func (r *Resolver) idleSweepLoop() {
	defer close(r.idleDone)
	ticker := time.NewTicker(idleSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.idleStop:
			return
		case now := <-ticker.C:
			r.registry.SweepIdle(now)
		}
	}
}

// Resolve is the high-level lookup: A and/or AAAA records for name, hosts
// file and cache consulted first (§4.1).
func (r *Resolver) Resolve(name string, opts Options) ([]Answer, error) {
	if isIPLiteral(name) {
		t := TypeA
		if strings.Contains(name, ":") {
			t = TypeAAAA
		}
		return []Answer{unboundedAnswer(name, t)}, nil
	}
	if !validateName(name) {
		return nil, &InvalidNameError{Name: name}
	}

	types := opts.Types
	if len(types) == 0 {
		types = []RecordType{TypeA, TypeAAAA}
	}
	for _, t := range types {
		if t != TypeA && t != TypeAAAA {
			return nil, &InvalidTypeError{Type: t}
		}
	}

	name = strings.ToLower(name)
	key := coalescerKey(name, types)
	return r.coalescer.Do(key, func() ([]Answer, error) {
		result, err := r.resolveTypes(name, types, opts)
		if err != nil {
			return nil, err
		}
		return result.flatten(types), nil
	})
}

// Query is the low-level single-type lookup underlying Resolve, additionally
// supporting recursion through CNAME/DNAME chains when opts.Recurse is set
// (§4.1). Arbitrary record types beyond A/AAAA/CNAME/DNAME may be passed;
// only CNAME and DNAME answers are chased.
func (r *Resolver) Query(name string, qtype RecordType, opts QueryOptions) ([]Answer, error) {
	if !opts.Recurse {
		if isIPLiteral(name) && (qtype == TypeA || qtype == TypeAAAA) {
			return []Answer{unboundedAnswer(name, qtype)}, nil
		}
		if !validateName(name) {
			return nil, &InvalidNameError{Name: name}
		}
		lname := strings.ToLower(name)
		key := coalescerKey(lname, []RecordType{qtype})
		return r.coalescer.Do(key, func() ([]Answer, error) {
			result, err := r.resolveTypes(lname, []RecordType{qtype}, opts.Options)
			if err != nil {
				return nil, err
			}
			return result.flatten([]RecordType{qtype}), nil
		})
	}

	current := name
	for hop := 0; hop <= maxCNAMEHops; hop++ {
		if hop == maxCNAMEHops {
			return nil, resolutionErrorf("CNAME/DNAME chain for %s exceeded %d hops", name, maxCNAMEHops)
		}
		if !validateName(current) {
			return nil, &InvalidNameError{Name: current}
		}
		lname := strings.ToLower(current)
		key := coalescerKey(lname, []RecordType{qtype, TypeCNAME, TypeDNAME})
		result, err := r.coalescer.Do(key, func() ([]Answer, error) {
			res, err := r.resolveTypes(lname, []RecordType{qtype, TypeCNAME, TypeDNAME}, opts.Options)
			if err != nil {
				return nil, err
			}
			return res.flatten([]RecordType{qtype, TypeCNAME, TypeDNAME}), nil
		})
		if err != nil {
			return nil, err
		}
		var direct []Answer
		var next string
		for _, a := range result {
			switch a.Type {
			case qtype:
				direct = append(direct, a)
			case TypeCNAME, TypeDNAME:
				if next == "" {
					next = a.Data
				}
			}
		}
		if len(direct) > 0 {
			return direct, nil
		}
		if next == "" {
			return nil, &NoRecordError{Name: current}
		}
		current = next
	}
	return nil, resolutionErrorf("CNAME/DNAME chain for %s exceeded %d hops", name, maxCNAMEHops)
}

// resolveTypes runs the hosts -> cache -> upstream-walk pipeline for the
// given (already-lowercased) name and type set, per §4.1 steps 4-7.
func (r *Resolver) resolveTypes(name string, types []RecordType, opts Options) (Result, error) {
	result := make(Result)

	if !opts.DisableHosts {
		result.merge(r.lookupHosts(name, types, opts.ReloadHosts))
	}

	remaining := make([]RecordType, 0, len(types))
	for _, t := range types {
		if len(result[t]) > 0 {
			continue
		}
		if !opts.DisableCache {
			if cached, ok := r.cacheStore.Get(cacheKey(name, t)); ok {
				result[t] = fromCacheAnswers(cached, t)
				continue
			}
		}
		remaining = append(remaining, t)
	}

	if len(remaining) == 0 {
		if result.hasAny() {
			return result, nil
		}
		return nil, &NoRecordError{Name: name}
	}

	servers, err := r.serverListFor(opts)
	if err != nil {
		return nil, err
	}
	if len(servers) == 0 {
		return nil, resolutionErrorf("no upstream servers configured")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}

	walkErrs := &serverWalkErrors{}
	for _, server := range servers {
		upstream, err := r.selector.Exchange(server, name, remaining, timeout)
		if err != nil {
			walkErrs.add(server.Endpoint, err)
			continue
		}
		result.merge(upstream)
		return result, nil
	}

	if result.hasAny() {
		return result, nil
	}
	if err := walkErrs.finalError(); err != nil {
		return nil, err
	}
	return nil, &NoRecordError{Name: name}
}

func (r *Resolver) lookupHosts(name string, types []RecordType, reload bool) Result {
	data, err := r.hosts.Load(reload)
	if err != nil {
		r.logger.Debug("hosts file load failed", zap.Error(err))
		return nil
	}
	result := make(Result)
	for _, t := range types {
		switch t {
		case TypeA:
			if ip, ok := data.A[name]; ok {
				result[TypeA] = []Answer{unboundedAnswer(ip, TypeA)}
			}
		case TypeAAAA:
			if ip, ok := data.AAAA[name]; ok {
				result[TypeAAAA] = []Answer{unboundedAnswer(ip, TypeAAAA)}
			}
		}
	}
	return result
}

func fromCacheAnswers(cached []cache.Answer, t RecordType) []Answer {
	out := make([]Answer, len(cached))
	for i, c := range cached {
		out[i] = boundedAnswer(c.Data, t, c.TTL)
	}
	return out
}

// serverListFor returns the servers to walk for one resolveTypes call: the
// caller's override if opts.Server is set, otherwise the resolver's
// memoized default list (§4.7).
func (r *Resolver) serverListFor(opts Options) ([]*ServerEntry, error) {
	if opts.Server != "" {
		entry, err := r.parseCustomServer(opts.Server)
		if err != nil {
			return nil, err
		}
		return []*ServerEntry{entry}, nil
	}
	return r.defaultServerList()
}

// defaultServerList loads and memoizes the system resolver configuration.
// Concurrent first callers coalesce onto a single sysConfig.Load() via
// serverListLoading, mirroring the Coalescer's shape at a coarser grain.
func (r *Resolver) defaultServerList() ([]*ServerEntry, error) {
	r.mu.Lock()
	if r.serverListLoaded {
		list := r.serverList
		r.mu.Unlock()
		return list, nil
	}
	if ch := r.serverListLoading; ch != nil {
		r.mu.Unlock()
		<-ch
		r.mu.Lock()
		list := r.serverList
		r.mu.Unlock()
		return list, nil
	}
	ch := make(chan struct{})
	r.serverListLoading = ch
	r.mu.Unlock()

	cfg, _ := r.sysConfig.Load()
	if cfg.Timeout > 0 {
		r.mu.Lock()
		r.defaultTimeout = cfg.Timeout
		r.mu.Unlock()
	}

	list := make([]*ServerEntry, 0, len(cfg.Nameservers))
	for _, ns := range cfg.Nameservers {
		family, endpoint, err := classifyEndpoint(ns)
		if err != nil {
			r.logger.Warn("skipping unparseable nameserver", zap.String("nameserver", ns), zap.Error(err))
			continue
		}
		if family == "ip6" && r.mux.v6 == nil {
			continue
		}
		list = append(list, r.registry.GetOrCreate(endpoint, family, protoAny))
	}

	r.mu.Lock()
	r.serverList = list
	r.serverListLoaded = true
	r.serverListLoading = nil
	r.mu.Unlock()
	close(ch)
	return list, nil
}

// parseCustomServer parses a caller-supplied server override. A "udp://" or
// "tcp://" scheme restricts the allowed transport for that server entry by
// clearing the opposite protocol bit — the §9 fix for a server that only
// speaks one of the two transports.
func (r *Resolver) parseCustomServer(uri string) (*ServerEntry, error) {
	mask := protoAny
	rest := uri
	if idx := strings.Index(uri, "://"); idx >= 0 {
		switch uri[:idx] {
		case "udp":
			mask = protoUDP
		case "tcp":
			mask = protoTCP
		default:
			return nil, resolutionErrorf("invalid server scheme in %q", uri)
		}
		rest = uri[idx+3:]
	}
	family, endpoint, err := classifyEndpoint(rest)
	if err != nil {
		return nil, resolutionErrorf("invalid server address %q: %v", uri, err)
	}
	if family == "ip6" && r.mux.v6 == nil {
		return nil, resolutionErrorf("IPv6 server %q requested but no IPv6 socket is available", uri)
	}
	return r.registry.GetOrCreate(endpoint, family, mask), nil
}

// classifyEndpoint splits a host[:port] nameserver address, defaulting the
// port to 53 and reporting whether the host is an IPv4 or IPv6 literal.
func classifyEndpoint(addr string) (family, endpoint string, err error) {
	host, port, splitErr := net.SplitHostPort(addr)
	if splitErr != nil {
		host, port = addr, "53"
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return "", "", resolutionErrorf("%q is not an IP literal", host)
	}
	family = "ip4"
	if ip.To4() == nil {
		family = "ip6"
	}
	return family, net.JoinHostPort(host, port), nil
}
