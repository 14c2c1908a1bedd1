// Package resolver is the core: the single-threaded-cooperative design of
// the specification is expressed in idiomatic Go as a small set of
// goroutines coordinated by channels and mutexes rather than an event loop,
// but every suspension point, ordering guarantee and invariant from the
// design carries over (see the package's component files).
package resolver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lomackie/dns-resolver/internal/codec"
)

// RecordType is the resolver's public record-type surface. Only A, AAAA,
// CNAME and DNAME are named; All is the sentinel meaning "every type
// returned". Arbitrary values may still flow through Query.
type RecordType = codec.RecordType

const (
	TypeA     = codec.TypeA
	TypeAAAA  = codec.TypeAAAA
	TypeCNAME = codec.TypeCNAME
	TypeDNAME = codec.TypeDNAME
	TypeAll   = codec.TypeALL
)

// unboundedTTL marks an Answer whose lifetime is not governed by the cache —
// hosts-file and IP-literal results, per the data model's "unbounded" TTL.
const unboundedTTL = -1

// Answer is the (data, type, ttl) triple returned to callers. TTL is the
// record's TTL in seconds as received from upstream; a cache hit reports the
// TTL the entry was stored with, not the time left before it expires.
// Unbounded is true (and TTL is unboundedTTL) for synthetic/hosts results
// where the wire TTL concept doesn't apply.
type Answer struct {
	Data      string
	Type      RecordType
	TTL       int
	Unbounded bool
}

func boundedAnswer(data string, t RecordType, ttl uint32) Answer {
	return Answer{Data: data, Type: t, TTL: int(ttl)}
}

func unboundedAnswer(data string, t RecordType) Answer {
	return Answer{Data: data, Type: t, TTL: unboundedTTL, Unbounded: true}
}

// Result is a mapping from record type to its ordered answer sequence, order
// preserved from the upstream response.
type Result map[RecordType][]Answer

// merge folds src into r, appending src's slices after r's existing ones for
// the same type so a later upstream answer doesn't clobber a hosts/cache hit
// gathered earlier in the pipeline.
func (r Result) merge(src Result) {
	for t, answers := range src {
		r[t] = append(r[t], answers...)
	}
}

func (r Result) hasAny() bool {
	for _, answers := range r {
		if len(answers) > 0 {
			return true
		}
	}
	return false
}

// flatten walks requestedTypes in caller order, concatenating their answer
// sequences, then appends any answers of types not requested (typically
// CNAMEs riding along with an A/AAAA response) at the end.
func (r Result) flatten(requestedTypes []RecordType) []Answer {
	out := make([]Answer, 0)
	seen := make(map[RecordType]bool, len(requestedTypes))
	for _, t := range requestedTypes {
		out = append(out, r[t]...)
		seen[t] = true
	}
	extra := make([]RecordType, 0)
	for t := range r {
		if !seen[t] {
			extra = append(extra, t)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	for _, t := range extra {
		out = append(out, r[t]...)
	}
	return out
}

// cacheKey is "{lowercased-name}#{type}".
func cacheKey(name string, t RecordType) string {
	return fmt.Sprintf("%s#%d", name, t)
}

// coalescerKey is "{lowercased-name}#{type1}/{type2}/..." over the sorted
// requested types.
func coalescerKey(name string, types []RecordType) string {
	sorted := append([]RecordType(nil), types...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	parts := make([]string, len(sorted))
	for i, t := range sorted {
		parts[i] = fmt.Sprintf("%d", t)
	}
	return name + "#" + strings.Join(parts, "/")
}
