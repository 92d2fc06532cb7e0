package parlance

import (
	"context"
	"fmt"
	"sync"
)

// Handler runs a call of a `method` channel in-process, without touching
// the network.
type Handler func(ctx context.Context, route string, data any, opts *CallOptions) (any, error)

// RequestHandler is the server-side entry point of a dialect. It receives
// the full parsed frame plus the session context of the connection the
// frame arrived on.
type RequestHandler func(ctx context.Context, req *Request) (any, error)

// HTTPRequestBuilder compiles a call into a plain HTTP request, for
// dialects usable on `http` channels.
type HTTPRequestBuilder func(ctx context.Context, route string, data any, opts *CallOptions) (*HTTPRequest, error)

// Request is what a `RequestHandler` receives for every inbound frame.
type Request struct {
	ID       string
	Type     MessageType
	Dialect  string
	Message  Fields
	Token    string
	ClientID string
}

// Dialect is a named strategy turning `(route, data, options)` into wire
// message fields and, on the server, an incoming message into a handler
// invocation.
//
// Dialects are immutable after registration; registering the same name
// twice is last-writer-wins. The first registered dialect, or any with
// `Default` set, becomes the process-wide default.
type Dialect struct {
	Name    string
	Default bool

	// OmitMeta suppresses the `_dialect`/`_type` envelope fields. The zero
	// value emits them, matching what well-behaved peers expect.
	OmitMeta bool

	Router    func(route string) Fields
	Parameter func(data any) Fields
	Optioner  func(opts *CallOptions) Fields

	// Interface holds static fields merged into every message before the
	// router/parameter/optioner steps.
	Interface Fields

	// Handler serves `method` channels.
	Handler Handler

	// HTTPRequest serves `http` channels carrying rpc configuration.
	HTTPRequest HTTPRequestBuilder

	// IDGenerator overrides correlation ID generation for this dialect.
	IDGenerator func() string

	// OnRequest serves inbound frames on the server side.
	OnRequest RequestHandler
}

type dialectRegistry struct {
	lk       sync.Mutex
	dialects map[string]*Dialect
	def      string
}

func newDialectRegistry() *dialectRegistry {
	return &dialectRegistry{dialects: make(map[string]*Dialect)}
}

// register stores a copy of the dialect, defaulting missing strategies to
// identity-shaped no-ops.
func (reg *dialectRegistry) register(d Dialect) {
	if d.Router == nil {
		d.Router = func(route string) Fields { return Fields{"path": route} }
	}
	if d.Parameter == nil {
		d.Parameter = func(data any) Fields { return Fields{"parameters": data} }
	}
	if d.Optioner == nil {
		d.Optioner = func(*CallOptions) Fields { return Fields{} }
	}

	reg.lk.Lock()
	defer reg.lk.Unlock()
	reg.dialects[d.Name] = &d
	if d.Default || reg.def == "" {
		reg.def = d.Name
	}
}

// resolve returns the named dialect, or the process default when name is
// empty.
func (reg *dialectRegistry) resolve(name string) (*Dialect, error) {
	reg.lk.Lock()
	defer reg.lk.Unlock()
	if name == "" {
		name = reg.def
	}
	if name == "" {
		return nil, ErrDialectNotFound
	}
	d, ok := reg.dialects[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrDialectNotFound, name)
	}
	return d, nil
}
