// Package apperr defines the small typed-error taxonomy shared by every
// component that can fail in a way callers need to distinguish (§7 of the
// design spec): bad user input, missing endpoint credentials, transient
// endpoint failures, path-traversal attempts, and unexpected transport
// closes.
package apperr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the taxonomy's error classes.
type Kind int

const (
	KindConfig Kind = iota
	KindEndpointConfig
	KindEndpointRuntime
	KindPathUnsafe
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindEndpointConfig:
		return "endpoint_config"
	case KindEndpointRuntime:
		return "endpoint_runtime"
	case KindPathUnsafe:
		return "path_unsafe"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind so callers can branch on it
// with errors.As without string-matching messages.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(k Kind, msg string, err error) *Error {
	return &Error{Kind: k, Msg: msg, Err: err}
}

// Config reports invalid user input: an empty token, a malformed URL, a PSK
// or SSID outside its allowed length range. Callers surface it as a 4xx or
// UI validation error; it is never persisted.
func Config(msg string, err error) error { return newErr(KindConfig, msg, err) }

// EndpointConfig reports a command endpoint that could not be constructed
// because required credentials are missing. The factory sets the active
// endpoint to nil and the server keeps running.
func EndpointConfig(msg string, err error) error { return newErr(KindEndpointConfig, msg, err) }

// EndpointRuntime reports a transient send failure (disconnected MQTT,
// timeout, 5xx). Callers report {ok:false, speech:"Error!"} to the satellite.
func EndpointRuntime(msg string, err error) error { return newErr(KindEndpointRuntime, msg, err) }

// PathUnsafe reports a request whose resolved path escapes its declared
// root. Callers return 400 and log it.
func PathUnsafe(msg string) error { return newErr(KindPathUnsafe, msg, nil) }

// Transport reports an unexpected connection close (not a normal WebSocket
// close, which is silent). Callers log at warn and disconnect.
func Transport(msg string, err error) error { return newErr(KindTransport, msg, err) }

// Is reports whether err (or anything it wraps) is an *Error of kind k.
func Is(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}
