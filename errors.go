package parlance

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidCfg = errors.New("parlance: invalid options")

	ErrNoDefaultChannel = errors.New("channel: no default channel registered for this kind of call")
	ErrChannelNotFound  = errors.New("channel: no channel registered under this name")
	ErrChannelKind      = errors.New("channel: unsupported channel kind")
	ErrChannelClosed    = errors.New("channel: channel is not connected")
	ErrNotConnectable   = errors.New("channel: this channel kind has no connection lifecycle")

	ErrDialectNotFound    = errors.New("dialect: no dialect registered under this name and no default")
	ErrDialectUnsupported = errors.New("dialect: dialect not in the channel's allow list")
	ErrDialectNoHandler   = errors.New("dialect: dialect has no handler for method channels")

	ErrHeaderNotFound = errors.New("header: no header registered under this name")

	ErrTimeout   = errors.New("rpc: no response within the retry budget")
	ErrTransport = errors.New("rpc: transport failure")
	ErrNoRPC     = errors.New("rpc: channel has no rpc configuration")

	ErrNotFound          = errors.New("session: no such client or token")
	ErrValidatorRequired = errors.New("session: authenticated channels need a token validator")
	ErrServerChannelKind = errors.New("server: only socket channels can be served")
	ErrHTTPOnlyRequest   = errors.New("rpc: http dialects only support request calls")
	ErrDialectNotHTTP    = errors.New("rpc: dialect is not usable on an http channel")
)

// TimeoutError reports which pending call ran out of its
// `RetryInterval × MaxRetries` budget.
type TimeoutError struct {
	Channel string
	ID      string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("rpc: maximum retries exceeded for message %s on channel %s", e.ID, e.Channel)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// AppError carries the `error` payload of an rpcError frame, or the failure
// returned by a dialect handler. It is surfaced verbatim to the caller.
type AppError struct {
	Payload any
}

func (e *AppError) Error() string {
	return fmt.Sprintf("rpc: application error: %v", e.Payload)
}

// HTTPError is returned by the HTTP verbs when the backend answers with a
// non-2xx status. Body is kept so callers can inspect the failure without
// a second round-trip.
type HTTPError struct {
	Status  int
	Headers http.Header
	Body    []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http: unexpected status %d", e.Status)
}

// TransportError wraps a connect or send failure with the channel it
// happened on.
type TransportError struct {
	Channel string
	Cause   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("rpc: transport failure on channel %s: %s", e.Channel, e.Cause)
}

func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Cause} }
