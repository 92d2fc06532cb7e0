package parlance

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/raskyld/parlance/pkg/loader"
)

// ChannelKind discriminates the transport strategy of a channel.
type ChannelKind string

const (
	// KindHTTP is a stateless request/response endpoint.
	KindHTTP ChannelKind = "http"

	// KindSocket is a persistent full-duplex endpoint with a connection
	// lifecycle.
	KindSocket ChannelKind = "socket"

	// KindMethod invokes the dialect's handler in-process.
	KindMethod ChannelKind = "method"
)

// RPCConfig opts a channel into rpc dispatch.
type RPCConfig struct {
	// Dialects is the allow list of dialect names usable on this channel.
	Dialects []string

	// RetryInterval and MaxRetries bound how long a pending call waits:
	// the budget is their product. Defaults: 1s × 10.
	RetryInterval time.Duration
	MaxRetries    int

	// IDGenerator overrides correlation ID generation for this channel.
	IDGenerator func() string

	// HeaderHandler is invoked, best-effort, with the `headers` bag of
	// every inbound frame.
	HeaderHandler func(Fields)
}

func (rc *RPCConfig) allows(dialect string) bool {
	return slices.Contains(rc.Dialects, dialect)
}

func (rc *RPCConfig) budget() time.Duration {
	return rc.RetryInterval * time.Duration(rc.MaxRetries)
}

// ChannelCallbacks observe the connection lifecycle of a socket channel.
// Nil entries are skipped.
type ChannelCallbacks struct {
	OnOpen        func()
	OnClose       func()
	OnError       func(error)
	OnTermination func()
}

// ChannelSpec declares a channel on the client.
type ChannelSpec struct {
	Name string
	Kind ChannelKind

	// TLS switches the scheme to https/wss.
	TLS bool

	// URI is the host[:port][/path] the scheme is prepended to.
	URI string

	// Default promotes the channel to default for its kind and, when it
	// declares rpc, to default rpc channel. Last writer wins.
	Default bool

	// Auth attaches the value of the registered header named by
	// AuthHeader to the websocket handshake subprotocol.
	Auth       bool
	AuthHeader string

	RPC *RPCConfig

	// OnError is the channel-wide best-effort error hook.
	OnError func(error)

	// Loader is the progress strategy ran around outbound calls.
	Loader loader.Loader

	// HeaderHandler taps the response headers of the HTTP verbs.
	HeaderHandler func(http.Header)

	Callbacks ChannelCallbacks

	// Dialer overrides the transport for this socket channel.
	Dialer Dialer
}

func (spec *ChannelSpec) normalize() {
	if spec.RPC != nil {
		if spec.RPC.RetryInterval == 0 {
			spec.RPC.RetryInterval = time.Second
		}
		if spec.RPC.MaxRetries == 0 {
			spec.RPC.MaxRetries = 10
		}
	}
	if spec.Loader == nil {
		spec.Loader = loader.Noop{}
	}
}

// channel is the common capability set of the per-kind strategies.
type channel interface {
	Name() string
	Kind() ChannelKind
	Spec() *ChannelSpec
	Alive() bool
	Connect(ctx context.Context) error
	Terminate() error
}
