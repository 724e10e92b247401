package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure seen by the synchronization core.
type Kind int

const (
	// KindAuth: the credential is missing, invalid, or expired. Not retried; the user must
	// authenticate again.
	KindAuth Kind = iota + 1

	// KindNetwork: a transient transport or server failure. Retrying the same call is safe.
	KindNetwork

	// KindValidation: the input was rejected locally (or by the server as malformed) and must not
	// be resent unchanged.
	KindValidation

	// KindConnection: the push channel could not be established.
	KindConnection
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "AuthError"
	case KindNetwork:
		return "NetworkError"
	case KindValidation:
		return "ValidationError"
	case KindConnection:
		return "ConnectionError"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Sentinels for errors.Is. A *SyncError matches the sentinel of its Kind:
//
//	if errors.Is(err, errs.AuthError) { ... }
var (
	AuthError       = &SyncError{Kind: KindAuth}
	NetworkError    = &SyncError{Kind: KindNetwork}
	ValidationError = &SyncError{Kind: KindValidation}
	ConnectionError = &SyncError{Kind: KindConnection}
)

// SyncError is the typed outcome surfaced by the snapshot client, the realtime channel, and the
// session store.
type SyncError struct {
	Kind Kind

	// Op names the failed operation, e.g. "fetch chat list".
	Op string

	// Status is the HTTP status of a failed snapshot call, zero otherwise.
	Status int

	Err error
}

func (e *SyncError) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a SyncError of the same Kind with no operation attached,
// which is how the package sentinels are shaped.
func (e *SyncError) Is(target error) bool {
	t, ok := target.(*SyncError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// New wraps err as a SyncError of the given kind.
func New(kind Kind, op string, err error) *SyncError {
	return &SyncError{Kind: kind, Op: op, Err: err}
}

// Newf builds a SyncError whose cause is a formatted message.
func Newf(kind Kind, op string, format string, args ...any) *SyncError {
	return &SyncError{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of the first SyncError in err's chain, or zero.
func KindOf(err error) Kind {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Kind
	}
	return 0
}

// IsKind reports whether err carries a SyncError of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
