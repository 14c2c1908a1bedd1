package resolver

import (
	"fmt"

	"go.uber.org/multierr"
)

// InvalidNameError reports a host name that fails validation (§4.8).
type InvalidNameError struct {
	Name string
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("invalid host name %q", e.Name)
}

// InvalidTypeError reports that resolve was asked for a type outside A/AAAA.
type InvalidTypeError struct {
	Type RecordType
}

func (e *InvalidTypeError) Error() string {
	return fmt.Sprintf("invalid record type for resolve: %v", e.Type)
}

// NoRecordError reports that every consulted source (cache or every tried
// server) returned zero records for every requested type.
type NoRecordError struct {
	Name string
}

func (e *NoRecordError) Error() string {
	return fmt.Sprintf("No records returned for %s (cached result)", e.Name)
}

// TimeoutError reports that a request exceeded its budget on every tried
// transport/server.
type TimeoutError struct {
	TimeoutMs int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("Request timed out after %dms", e.TimeoutMs)
}

// ResolutionError is the catch-all for upstream failures: non-zero RCODE,
// truncated TCP response, malformed packet, socket failure, invalid custom
// server URI, TCP connect failure, recursion-depth exceeded, or "all servers
// failed".
type ResolutionError struct {
	Message string
	Cause   error
}

func (e *ResolutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ResolutionError) Unwrap() error { return e.Cause }

func resolutionErrorf(format string, args ...any) *ResolutionError {
	return &ResolutionError{Message: fmt.Sprintf(format, args...)}
}

// SocketError reports a local socket creation failure. An IPv4 UDP socket
// failure is fatal to the resolver; an IPv6 failure is tolerated (IPv6
// servers simply become unreachable).
type SocketError struct {
	Family string
	Cause  error
}

func (e *SocketError) Error() string {
	return fmt.Sprintf("failed to open %s UDP socket: %v", e.Family, e.Cause)
}

func (e *SocketError) Unwrap() error { return e.Cause }

// serverWalkErrors accumulates one error per failed server in the upstream
// walk (§4.1 step 6) using go.uber.org/multierr, then decides the error
// surfaced to the caller once every server has failed: the preserved
// NoRecordError is surfaced only when no server failed any other way;
// otherwise the combined ResolutionError is, matching §7's propagation
// policy.
type serverWalkErrors struct {
	combined  error
	sawNoRec  *NoRecordError
	anyServer bool
}

func (w *serverWalkErrors) add(endpoint string, err error) {
	w.anyServer = true
	if nr, ok := err.(*NoRecordError); ok {
		w.sawNoRec = nr
		return
	}
	w.combined = multierr.Append(w.combined, fmt.Errorf("%s: %w", endpoint, err))
}

// finalError returns nil if no server was tried, the preserved NoRecordError
// if every tried server reported "no records", or a combined
// ResolutionError naming every per-server failure otherwise.
func (w *serverWalkErrors) finalError() error {
	if !w.anyServer {
		return nil
	}
	if w.combined == nil && w.sawNoRec != nil {
		return w.sawNoRec
	}
	if w.combined == nil {
		return nil
	}
	return &ResolutionError{
		Message: "all name-resolution requests failed",
		Cause:   w.combined,
	}
}
