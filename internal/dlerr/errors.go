// Package dlerr defines the error taxonomy shared by every layer of the
// download engine: transport, storage, and the engine's own lifecycle.
// Callers compare against Kind rather than sentinel values so that a
// segment failure can be classified once, at the boundary where it
// occurred, and carried upward unchanged.
package dlerr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	// Transport
	KindNetworkError     Kind = "network_error"
	KindTimeout          Kind = "timeout"
	KindRefused          Kind = "refused"
	KindDNSError         Kind = "dns_error"
	KindSSLError         Kind = "ssl_error"
	KindConnectionLost   Kind = "connection_lost"
	KindTooManyRedirects Kind = "too_many_redirects"

	// Protocol
	KindNotFound         Kind = "not_found"
	KindServerError      Kind = "server_error"
	KindPermissionDenied Kind = "permission_denied"
	KindInvalidRange     Kind = "invalid_range"

	// Identity
	KindInvalidURL Kind = "invalid_url"

	// Filesystem
	KindDiskFull      Kind = "disk_full"
	KindFileExists    Kind = "file_exists"
	KindWriteError    Kind = "write_error"
	KindReadError     Kind = "read_error"
	KindHandleInvalid Kind = "handle_invalid"

	// Lifecycle
	KindCancelled      Kind = "cancelled"
	KindStallDetected  Kind = "stall_detected"
	KindResumeFailed   Kind = "resume_failed"
	KindNoBandwidth    Kind = "no_bandwidth"
	KindAlreadyRunning Kind = "already_running"
	KindWrongState     Kind = "wrong_state"
)

// Error wraps an underlying error with a classification and the
// operation that produced it, e.g. "http/client".
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var de *Error
	for errors.As(err, &de) {
		if de.Kind == kind {
			return true
		}
		err = de.Err
		if err == nil {
			return false
		}
	}
	return false
}

// KindOf returns the classification carried by err, or "" if err does
// not wrap a *Error.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// Retryable reports whether a worker should retry the operation that
// produced this Kind rather than surface it as terminal.
func Retryable(kind Kind) bool {
	switch kind {
	case KindNetworkError, KindTimeout, KindConnectionLost, KindSSLError, KindDNSError, KindRefused, KindStallDetected:
		return true
	default:
		return false
	}
}
