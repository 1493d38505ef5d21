package ze

import (
	"errors"
	"fmt"
)

// ErrorKind is the machine-readable class of a pipeline failure.
type ErrorKind string

const (
	// KindOrdering marks an operation invoked before its prerequisites.
	KindOrdering ErrorKind = "ordering"
	// KindAuth marks a missing or rejected credential.
	KindAuth ErrorKind = "auth"
	// KindTransport marks an HTTP status failure or unreachable server.
	KindTransport ErrorKind = "transport"
	// KindProtocol marks a response that lacks the expected payload.
	KindProtocol ErrorKind = "protocol"
	// KindConfig marks missing or invalid configuration.
	KindConfig ErrorKind = "config"
	// KindUpload marks a failure inside an upload strategy.
	KindUpload ErrorKind = "upload"
)

// ErrNoBuildID is returned when a snapshot is requested before the
// server has issued a build id for the current build.
var ErrNoBuildID = errors.New("cannot snapshot before build_id is assigned")

// Error is a pipeline-stage failure carrying its kind and originating cause.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// newError wraps err as a stage failure. If err already carries a kind
// (a transport or protocol error, or a nested *Error), that kind is kept
// unless the caller supplied an explicit one.
func newError(kind ErrorKind, op string, err error) *Error {
	if kind == "" {
		kind = KindOf(err)
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// TransportError reports an HTTP exchange that completed with a failing status.
type TransportError struct {
	Status int
	Method string
	URL    string
	Body   string
}

func (e *TransportError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.Status)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Status, e.Body)
}

// Unauthorized reports whether the server rejected the credential.
func (e *TransportError) Unauthorized() bool { return e.Status == 401 }

// Forbidden reports whether the credential lacks access to the resource.
func (e *TransportError) Forbidden() bool { return e.Status == 403 }

// ProtocolError reports a response whose body lacks the expected shape.
type ProtocolError struct {
	URL    string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("unexpected response from %s: %s", e.URL, e.Reason)
}

// KindOf classifies err. Unclassified errors report KindTransport when
// they wrap a TransportError, and the empty kind otherwise.
func KindOf(err error) ErrorKind {
	var zerr *Error
	if errors.As(err, &zerr) && zerr.Kind != "" {
		return zerr.Kind
	}
	if errors.Is(err, ErrNoBuildID) {
		return KindOrdering
	}
	var terr *TransportError
	if errors.As(err, &terr) {
		if terr.Unauthorized() || terr.Forbidden() {
			return KindAuth
		}
		return KindTransport
	}
	var perr *ProtocolError
	if errors.As(err, &perr) {
		return KindProtocol
	}
	return ""
}
