package parlance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-metrics"

	"github.com/raskyld/parlance/pkg/loader"
)

// caller is the rpc capability shared by every channel kind.
type caller interface {
	channel
	call(ctx context.Context, typ MessageType, dialect *Dialect, route string, data any, opts *CallOptions) (any, error)
}

// Client is the call-site facade: it owns the dialect registry, the
// channel registry and the header table, and exposes the public call
// surface.
type Client struct {
	config     config
	logger     *slog.Logger
	msink      metrics.MetricSink
	instanceID string

	dialects *dialectRegistry

	lk        sync.Mutex
	channels  map[string]caller
	headers   map[string]*HeaderSpec
	defHTTP   string
	defSocket string
	defRPC    string
}

func NewClient(opts ...Option) (*Client, error) {
	c := &Client{
		dialects: newDialectRegistry(),
		channels: make(map[string]caller),
		headers:  make(map[string]*HeaderSpec),
	}

	for _, opt := range opts {
		if err := opt(&c.config); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCfg, err)
		}
	}

	if c.config.logHandler != nil {
		c.logger = slog.New(c.config.logHandler)
	} else {
		c.logger = slog.Default()
	}
	if c.config.msink == nil {
		c.config.msink = metrics.Default()
	}
	c.msink = c.config.msink
	if c.config.idGenerator == nil {
		c.config.idGenerator = uuid.NewString
	}
	if c.config.httpClient == nil {
		c.config.httpClient = http.DefaultClient
	}
	if c.config.dialer == nil {
		c.config.dialer = newWSDialer(nil)
	}

	c.instanceID = uuid.NewString()
	if c.config.introspector != nil {
		c.config.introspector.register(c)
	}
	return c, nil
}

// InstanceID identifies this client instance, e.g. in an Introspector.
func (c *Client) InstanceID() string { return c.instanceID }

// Close terminates every socket channel and leaves the introspection
// registry. The client itself stays usable; channels reconnect lazily.
func (c *Client) Close() error {
	if c.config.introspector != nil {
		c.config.introspector.deregister(c.instanceID)
	}

	c.lk.Lock()
	sockets := make([]caller, 0, len(c.channels))
	for _, ch := range c.channels {
		if ch.Kind() == KindSocket {
			sockets = append(sockets, ch)
		}
	}
	c.lk.Unlock()

	var errs []error
	for _, ch := range sockets {
		if ch.Alive() {
			errs = append(errs, ch.Terminate())
		}
	}
	return errors.Join(errs...)
}

// RegisterDialect stores the dialect, defaulting missing strategies to
// identity-shaped no-ops. The first registered dialect, or any marked
// Default, becomes the process default.
func (c *Client) RegisterDialect(d Dialect) {
	c.dialects.register(d)
}

// RegisterChannel validates the spec and builds the channel record via
// the strategy matching its kind. A later registration with Default set
// steals the default flag for that kind (last writer wins).
func (c *Client) RegisterChannel(spec ChannelSpec) error {
	spec.normalize()

	var ch caller
	switch spec.Kind {
	case KindHTTP:
		ch = &httpChannel{spec: &spec, client: c.config.httpClient}
	case KindSocket:
		dialer := spec.Dialer
		if dialer == nil {
			dialer = c.config.dialer
		}
		ch = &socketChannel{
			spec:        &spec,
			logger:      c.logger,
			msink:       c.msink,
			labels:      c.config.metricLabels,
			dialer:      dialer,
			headerValue: c.headerValue,
			defaultGen:  c.config.idGenerator,
			answers:     make(map[string]chan *answer),
			listeners:   make(map[string][]*Subscription),
		}
	case KindMethod:
		ch = &methodChannel{spec: &spec}
	default:
		return fmt.Errorf("%w: %q", ErrChannelKind, spec.Kind)
	}

	c.lk.Lock()
	defer c.lk.Unlock()
	c.channels[spec.Name] = ch
	if spec.Default {
		switch spec.Kind {
		case KindHTTP:
			c.defHTTP = spec.Name
		case KindSocket:
			c.defSocket = spec.Name
		}
		if spec.RPC != nil {
			c.defRPC = spec.Name
		}
	}
	return nil
}

// Channels lists the registered channel names.
func (c *Client) Channels() []string {
	c.lk.Lock()
	defer c.lk.Unlock()
	names := make([]string, 0, len(c.channels))
	for name := range c.channels {
		names = append(names, name)
	}
	return names
}

// Connect eagerly connects every socket channel which is not alive.
// Channels are independent: one failing does not stop the others, and all
// failures are joined.
func (c *Client) Connect(ctx context.Context) error {
	c.lk.Lock()
	sockets := make([]caller, 0, len(c.channels))
	for _, ch := range c.channels {
		if ch.Kind() == KindSocket && !ch.Alive() {
			sockets = append(sockets, ch)
		}
	}
	c.lk.Unlock()

	errCh := make(chan error, len(sockets))
	var wg sync.WaitGroup
	for _, ch := range sockets {
		wg.Add(1)
		go func(ch caller) {
			defer wg.Done()
			errCh <- ch.Connect(ctx)
		}(ch)
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Request sends a correlated call and suspends the caller until a
// response arrives or the channel's retry budget elapses.
func (c *Client) Request(ctx context.Context, route string, data any, opts ...CallOption) (any, error) {
	return c.rpc(ctx, TypeRequest, route, data, newCallOptions(opts))
}

// Inform is the fire-and-forget variant: no response frame will ever be
// sent for it, so it returns as soon as the message is on the wire.
func (c *Client) Inform(ctx context.Context, route string, data any, opts ...CallOption) error {
	_, err := c.rpc(ctx, TypeInform, route, data, newCallOptions(opts))
	return err
}

func (c *Client) rpc(ctx context.Context, typ MessageType, route string, data any, co *CallOptions) (any, error) {
	ch, err := c.resolveRPCChannel(co.Channel)
	if err != nil {
		return nil, err
	}
	dialect, err := c.dialects.resolve(co.Dialect)
	if err != nil {
		return nil, err
	}

	ld := c.pickLoader(ch, co)
	tok := ld.Work()
	defer ld.Terminate(tok)

	result, err := ch.call(ctx, typ, dialect, route, data, co)
	if err != nil {
		c.fireCallError(ch, co, err)
		return nil, err
	}
	return result, nil
}

// Get issues a GET against an http channel. A uri already carrying an
// http(s) scheme bypasses the channel base URL.
func (c *Client) Get(ctx context.Context, uri string, opts ...CallOption) (*HTTPResponse, error) {
	return c.http(ctx, http.MethodGet, uri, nil, newCallOptions(opts))
}

func (c *Client) Post(ctx context.Context, uri string, data any, opts ...CallOption) (*HTTPResponse, error) {
	return c.http(ctx, http.MethodPost, uri, data, newCallOptions(opts))
}

func (c *Client) Put(ctx context.Context, uri string, data any, opts ...CallOption) (*HTTPResponse, error) {
	return c.http(ctx, http.MethodPut, uri, data, newCallOptions(opts))
}

func (c *Client) Delete(ctx context.Context, uri string, opts ...CallOption) (*HTTPResponse, error) {
	return c.http(ctx, http.MethodDelete, uri, nil, newCallOptions(opts))
}

func (c *Client) http(ctx context.Context, method, uri string, data any, co *CallOptions) (*HTTPResponse, error) {
	ch, err := c.resolveHTTPChannel(co.Channel)
	if err != nil {
		return nil, err
	}

	ld := c.pickLoader(ch, co)
	tok := ld.Work()
	defer ld.Terminate(tok)

	resp, err := ch.do(ctx, method, uri, data, co)
	if err != nil {
		c.fireCallError(ch, co, err)
		return nil, err
	}
	return resp, nil
}

// SubscribeToEvent appends the callback to the channel's listener list
// for the event. The returned handle is the subscription's identity.
func (c *Client) SubscribeToEvent(event string, fn func(message any), opts ...CallOption) (*Subscription, error) {
	co := newCallOptions(opts)
	ch, err := c.resolveRPCChannel(co.Channel)
	if err != nil {
		return nil, err
	}
	sock, ok := ch.(*socketChannel)
	if !ok {
		return nil, fmt.Errorf("%w: events need a socket channel, %s is %s", ErrChannelKind, ch.Name(), ch.Kind())
	}
	return sock.subscribe(event, fn), nil
}

// UnsubscribeFromEvent removes the subscription; unknown or already
// removed handles are a no-op.
func (c *Client) UnsubscribeFromEvent(sub *Subscription) {
	if sub == nil {
		return
	}
	sub.ch.unsubscribe(sub)
}

// ChannelHandle is the narrow per-channel surface handed to applications.
type ChannelHandle struct {
	client *Client
	ch     caller
}

// Channel resolves a handle for a registered channel.
func (c *Client) Channel(name string) (*ChannelHandle, error) {
	c.lk.Lock()
	ch, ok := c.channels[name]
	c.lk.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrChannelNotFound, name)
	}
	return &ChannelHandle{client: c, ch: ch}, nil
}

func (h *ChannelHandle) Name() string { return h.ch.Name() }

func (h *ChannelHandle) Alive() bool { return h.ch.Alive() }

func (h *ChannelHandle) Connect(ctx context.Context) error { return h.ch.Connect(ctx) }

func (h *ChannelHandle) Terminate() error { return h.ch.Terminate() }

// RegisterCallback re-binds the runtime lifecycle callbacks of a socket
// channel; nil entries keep the current binding.
func (h *ChannelHandle) RegisterCallback(cbs ChannelCallbacks) error {
	sock, ok := h.ch.(*socketChannel)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotConnectable, h.ch.Name())
	}
	sock.registerCallbacks(cbs)
	return nil
}

func (c *Client) resolveRPCChannel(name string) (caller, error) {
	c.lk.Lock()
	defer c.lk.Unlock()
	if name == "" {
		name = c.defRPC
	}
	if name == "" {
		return nil, fmt.Errorf("%w: rpc", ErrNoDefaultChannel)
	}
	ch, ok := c.channels[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrChannelNotFound, name)
	}
	return ch, nil
}

func (c *Client) resolveHTTPChannel(name string) (*httpChannel, error) {
	c.lk.Lock()
	defer c.lk.Unlock()
	if name == "" {
		name = c.defHTTP
	}
	if name == "" {
		return nil, fmt.Errorf("%w: http", ErrNoDefaultChannel)
	}
	ch, ok := c.channels[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrChannelNotFound, name)
	}
	hch, ok := ch.(*httpChannel)
	if !ok {
		return nil, fmt.Errorf("%w: %s is %s, want http", ErrChannelKind, name, ch.Kind())
	}
	return hch, nil
}

func (c *Client) pickLoader(ch channel, co *CallOptions) loader.Loader {
	if co.DisableLoader {
		return loader.Noop{}
	}
	if co.Loader != nil {
		return co.Loader
	}
	if ch.Spec().Loader != nil {
		return ch.Spec().Loader
	}
	return loader.Noop{}
}

// fireCallError runs the per-call or channel error hook. Hooks are a
// best-effort side channel and never suppress the error.
func (c *Client) fireCallError(ch channel, co *CallOptions, err error) {
	hook := co.OnError
	if hook == nil {
		hook = ch.Spec().OnError
	}
	if hook != nil {
		hook(err)
	}
}
