package parlance

import (
	"context"
	"fmt"
)

// methodChannel short-circuits the network: calls are served by the
// dialect's in-process handler. It still honors the channel's dialect
// allow list so call sites behave the same against a stubbed backend.
type methodChannel struct {
	spec *ChannelSpec
}

func (ch *methodChannel) Name() string       { return ch.spec.Name }
func (ch *methodChannel) Kind() ChannelKind  { return KindMethod }
func (ch *methodChannel) Spec() *ChannelSpec { return ch.spec }
func (ch *methodChannel) Alive() bool        { return true }

func (ch *methodChannel) Connect(context.Context) error {
	return fmt.Errorf("%w: %s", ErrNotConnectable, ch.spec.Name)
}

func (ch *methodChannel) Terminate() error {
	return fmt.Errorf("%w: %s", ErrNotConnectable, ch.spec.Name)
}

func (ch *methodChannel) call(ctx context.Context, typ MessageType, dialect *Dialect, route string, data any, opts *CallOptions) (any, error) {
	rc := ch.spec.RPC
	if rc == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoRPC, ch.spec.Name)
	}
	if !rc.allows(dialect.Name) {
		return nil, fmt.Errorf("%w: %s on channel %s", ErrDialectUnsupported, dialect.Name, ch.spec.Name)
	}
	if dialect.Handler == nil {
		return nil, fmt.Errorf("%w: %s", ErrDialectNoHandler, dialect.Name)
	}
	return dialect.Handler(ctx, route, data, opts)
}
