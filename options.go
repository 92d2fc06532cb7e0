package parlance

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-metrics"

	"github.com/raskyld/parlance/pkg/loader"
)

type config struct {
	logHandler   slog.Handler
	msink        metrics.MetricSink
	metricLabels []metrics.Label
	idGenerator  func() string
	httpClient   *http.Client
	dialer       Dialer
	upgrader     *websocket.Upgrader
	introspector *Introspector
}

// Option to pass to `NewClient` or `NewServer`.
type Option func(*config) error

// WithLog specifies which `slog.Handler` to use.
func WithLog(handler slog.Handler) Option {
	return func(c *config) error {
		c.logHandler = handler
		return nil
	}
}

// WithMetricSink allows you to chose how to collect the emitted metrics.
func WithMetricSink(ms metrics.MetricSink) Option {
	return func(c *config) error {
		if ms == nil {
			ms = &metrics.BlackholeSink{}
		}
		c.msink = ms
		return nil
	}
}

// WithMetricLabels adds static labels to all emitted metrics.
func WithMetricLabels(labels []metrics.Label) Option {
	return func(c *config) error {
		c.metricLabels = labels
		return nil
	}
}

// WithIDGenerator replaces the process-wide default generator used for
// correlation IDs (client) and client IDs (server). Generated IDs MUST be
// universally unique across concurrent calls on the same channel.
func WithIDGenerator(gen func() string) Option {
	return func(c *config) error {
		c.idGenerator = gen
		return nil
	}
}

// WithHTTPClient replaces the `http.Client` driving http channels.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) error {
		c.httpClient = hc
		return nil
	}
}

// WithDialer replaces the transport dialer used by socket channels which
// do not carry their own.
func WithDialer(d Dialer) Option {
	return func(c *config) error {
		c.dialer = d
		return nil
	}
}

// WithUpgrader replaces the websocket upgrader the server answers
// handshakes with.
func WithUpgrader(up *websocket.Upgrader) Option {
	return func(c *config) error {
		c.upgrader = up
		return nil
	}
}

// WithIntrospection registers the instance on the given `Introspector`
// for the duration of its life.
func WithIntrospection(in *Introspector) Option {
	return func(c *config) error {
		c.introspector = in
		return nil
	}
}

// CallOptions carries the per-call knobs of the public call surface.
// Dialect optioners receive it and may translate any of it, plus the
// free-form `Values`, into wire message fields.
type CallOptions struct {
	// Channel selects a non-default channel.
	Channel string

	// Dialect selects a non-default dialect.
	Dialect string

	// Loader overrides the channel's progress strategy for this call.
	Loader loader.Loader

	// DisableLoader silences the progress strategy for this call.
	DisableLoader bool

	// OnError is a best-effort side channel invoked before the error is
	// returned to the caller. It never suppresses the error.
	OnError func(error)

	// HTTPHeaders are added to outbound requests of the HTTP verbs.
	HTTPHeaders http.Header

	// Values is a free-form bag consumed by dialect optioners.
	Values Fields
}

// CallOption mutates the options of one call.
type CallOption func(*CallOptions)

func newCallOptions(opts []CallOption) *CallOptions {
	co := &CallOptions{}
	for _, opt := range opts {
		opt(co)
	}
	return co
}

// OnChannel routes the call over a non-default channel.
func OnChannel(name string) CallOption {
	return func(co *CallOptions) { co.Channel = name }
}

// WithDialect compiles the call with a non-default dialect.
func WithDialect(name string) CallOption {
	return func(co *CallOptions) { co.Dialect = name }
}

// WithCallLoader overrides the progress strategy for this call.
func WithCallLoader(l loader.Loader) CallOption {
	return func(co *CallOptions) { co.Loader = l }
}

// WithoutLoader disables the progress strategy for this call.
func WithoutLoader() CallOption {
	return func(co *CallOptions) { co.DisableLoader = true }
}

// OnCallError attaches a best-effort error hook to this call.
func OnCallError(fn func(error)) CallOption {
	return func(co *CallOptions) { co.OnError = fn }
}

// WithHTTPHeaders adds headers to the outbound request of an HTTP verb.
func WithHTTPHeaders(h http.Header) CallOption {
	return func(co *CallOptions) { co.HTTPHeaders = h }
}

// WithValue stashes a key for dialect optioners to consume.
func WithValue(key string, val any) CallOption {
	return func(co *CallOptions) {
		if co.Values == nil {
			co.Values = make(Fields)
		}
		co.Values[key] = val
	}
}
