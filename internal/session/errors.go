package session

import (
	"errors"
	"fmt"
)

// FailureKind enumerates why a fetch produced no payload.
type FailureKind string

const (
	// FailureNone is the zero value, carried by successful results.
	FailureNone FailureKind = ""
	// FailureTokenNotFound means the bootstrap document was reached but no
	// credential could be extracted from it.
	FailureTokenNotFound FailureKind = "token_not_found"
	// FailureTransport means navigation or the origin call itself failed,
	// callers may retry at a higher level.
	FailureTransport FailureKind = "transport_error"
	// FailureEmptyResponse means the origin kept answering with an implausible
	// payload even after the token was refreshed.
	FailureEmptyResponse FailureKind = "empty_response"
	// FailureSessionUnavailable means no valid resource could be produced,
	// even after a refresh.
	FailureSessionUnavailable FailureKind = "session_unavailable"
	// FailureNotFound means the origin answered with a valid session but does
	// not know the requested keys. It is never retried. A request with no
	// keys at all is also reported as not found, with ErrNoKeys, and never
	// reaches the origin.
	FailureNotFound FailureKind = "not_found"
)

var (
	ErrTokenNotFound      = errors.New("session: token not found")
	ErrSessionUnavailable = errors.New("session: unavailable")
	ErrOriginMismatch     = errors.New("session: request origin does not match session origin")
	ErrNoKeys             = errors.New("session: no target keys given")
	ErrTransportClosed    = errors.New("session: transport closed")
)

// FetchError carries a FailureKind across package boundaries, use
// errors.As to recover it.
type FetchError struct {
	Kind FailureKind
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch failed: %s", e.Kind)
	}
	return fmt.Sprintf("fetch failed: %s: %s", e.Kind, e.Err.Error())
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// TransportError wraps a navigation/network failure.
func TransportError(err error) error {
	return &FetchError{Kind: FailureTransport, Err: err}
}

// KindOf maps an error returned by this package onto a FailureKind.
func KindOf(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Kind
	}
	switch {
	case errors.Is(err, ErrTokenNotFound):
		return FailureTokenNotFound
	case errors.Is(err, ErrSessionUnavailable):
		return FailureSessionUnavailable
	}
	return FailureTransport
}
