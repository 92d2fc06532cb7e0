package parlance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-metrics"
)

// answer is the resolution of one pending call.
type answer struct {
	result any
	err    error
}

// Subscription identifies one event listener. Go funcs are not comparable,
// so the handle is the identity used by unsubscribe.
type Subscription struct {
	ch    *socketChannel
	event string
	fn    func(message any)
}

// Event reports which event the subscription listens to.
func (s *Subscription) Event() string { return s.event }

// socketChannel owns a persistent full-duplex connection. All mutable
// state (conn handle, answers table, listeners table) is guarded by one
// mutex; inbound frames are processed in arrival order by a single reader
// goroutine per connection.
//
// Invariant: conn == nil ⇔ alive == false, and at most one live
// connection handle exists per channel.
type socketChannel struct {
	spec   *ChannelSpec
	logger *slog.Logger
	msink  metrics.MetricSink
	labels []metrics.Label

	dialer Dialer

	// headerValue resolves the registered auth header at connect time.
	headerValue func(name string) (string, error)

	// defaultGen is the process-wide correlation ID generator.
	defaultGen func() string

	lk        sync.Mutex
	conn      Conn
	alive     bool
	answers   map[string]chan *answer
	listeners map[string][]*Subscription
	runtime   ChannelCallbacks
}

func (ch *socketChannel) Name() string       { return ch.spec.Name }
func (ch *socketChannel) Kind() ChannelKind  { return KindSocket }
func (ch *socketChannel) Spec() *ChannelSpec { return ch.spec }

func (ch *socketChannel) Alive() bool {
	ch.lk.Lock()
	defer ch.lk.Unlock()
	return ch.alive
}

func (ch *socketChannel) url() string {
	scheme := "ws://"
	if ch.spec.TLS {
		scheme = "wss://"
	}
	return scheme + ch.spec.URI
}

// Connect is idempotent: it returns immediately when a connection handle
// already exists. The caller is suspended until the transport is open or
// the dial fails.
func (ch *socketChannel) Connect(ctx context.Context) error {
	ch.lk.Lock()
	if ch.conn != nil {
		ch.lk.Unlock()
		return nil
	}

	var subprotocols []string
	if ch.spec.Auth {
		credential, err := ch.headerValue(ch.spec.AuthHeader)
		if err != nil {
			ch.lk.Unlock()
			return err
		}
		subprotocols = append(subprotocols, credential)
	}

	conn, err := ch.dialer.DialContext(ctx, ch.url(), subprotocols)
	if err != nil {
		ch.lk.Unlock()
		terr := &TransportError{Channel: ch.spec.Name, Cause: err}
		ch.fireError(terr)
		return terr
	}

	ch.conn = conn
	ch.alive = true
	ch.lk.Unlock()

	go ch.readLoop(conn)
	ch.fireOpen()
	ch.logger.Debug("channel connected", LabelChannelName.L(ch.spec.Name))
	return nil
}

// Terminate closes the transport and clears all transient state: every
// pending call is abandoned with ErrChannelClosed and every listener is
// dropped. The channel stays registered and can connect again.
func (ch *socketChannel) Terminate() error {
	ch.lk.Lock()
	conn := ch.conn
	ch.conn = nil
	ch.alive = false
	for id, reply := range ch.answers {
		reply <- &answer{err: fmt.Errorf("%w: %s", ErrChannelClosed, id)}
	}
	ch.answers = make(map[string]chan *answer)
	ch.listeners = make(map[string][]*Subscription)
	ch.lk.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	ch.fireTermination()
	ch.logger.Debug("channel terminated", LabelChannelName.L(ch.spec.Name))
	return err
}

// call is the client-side correlation engine.
func (ch *socketChannel) call(ctx context.Context, typ MessageType, dialect *Dialect, route string, data any, opts *CallOptions) (any, error) {
	rc := ch.spec.RPC
	if rc == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoRPC, ch.spec.Name)
	}
	if !rc.allows(dialect.Name) {
		return nil, fmt.Errorf("%w: %s on channel %s", ErrDialectUnsupported, dialect.Name, ch.spec.Name)
	}

	gen := dialect.IDGenerator
	if gen == nil {
		gen = rc.IDGenerator
	}
	if gen == nil {
		gen = ch.defaultGen
	}
	id := gen()

	payload, err := encodeMessage(composeMessage(id, typ, dialect, route, data, opts))
	if err != nil {
		return nil, err
	}

	if err := ch.Connect(ctx); err != nil {
		return nil, err
	}

	reply := make(chan *answer, 1)

	ch.lk.Lock()
	conn := ch.conn
	if conn == nil {
		ch.lk.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrChannelClosed, ch.spec.Name)
	}
	if typ == TypeRequest {
		ch.answers[id] = reply
	}
	ch.lk.Unlock()

	ch.msink.IncrCounterWithLabels(MetricRPCOutCount, 1.0, append(
		[]metrics.Label{
			LabelChannelName.M(ch.spec.Name),
			LabelDialectName.M(dialect.Name),
			LabelMessageType.M(string(typ)),
		},
		ch.labels...,
	))

	if err := conn.WriteMessage(payload); err != nil {
		ch.abandon(id)
		terr := &TransportError{Channel: ch.spec.Name, Cause: err}
		ch.fireError(terr)
		return nil, terr
	}

	// Informs are fire-and-forget: no response frame will ever carry this
	// ID, so there is nothing to wait for.
	if typ != TypeRequest {
		return nil, nil
	}

	// Race the pending call against the retry budget. Whichever completes
	// first wins; the loser's eventual resolution is dropped on the floor:
	// abandon removes the table entry under the lock, so a late frame
	// finds nothing to resolve.
	timer := time.NewTimer(rc.budget())
	defer timer.Stop()

	select {
	case ans := <-reply:
		if ans.err != nil {
			return nil, ans.err
		}
		return ans.result, nil
	case <-timer.C:
		ch.abandon(id)
		ch.msink.IncrCounterWithLabels(MetricRPCTimeoutCount, 1.0, append(
			[]metrics.Label{LabelChannelName.M(ch.spec.Name)},
			ch.labels...,
		))
		return nil, &TimeoutError{Channel: ch.spec.Name, ID: id}
	case <-ctx.Done():
		ch.abandon(id)
		return nil, ctx.Err()
	}
}

func (ch *socketChannel) abandon(id string) {
	ch.lk.Lock()
	delete(ch.answers, id)
	ch.lk.Unlock()
}

func (ch *socketChannel) subscribe(event string, fn func(message any)) *Subscription {
	sub := &Subscription{ch: ch, event: event, fn: fn}
	ch.lk.Lock()
	ch.listeners[event] = append(ch.listeners[event], sub)
	ch.lk.Unlock()
	return sub
}

// unsubscribe removes by handle identity; unknown handles and events are
// no-ops.
func (ch *socketChannel) unsubscribe(sub *Subscription) {
	ch.lk.Lock()
	defer ch.lk.Unlock()
	subs, ok := ch.listeners[sub.event]
	if !ok {
		return
	}
	for i, candidate := range subs {
		if candidate == sub {
			ch.listeners[sub.event] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

func (ch *socketChannel) registerCallbacks(cbs ChannelCallbacks) {
	ch.lk.Lock()
	defer ch.lk.Unlock()
	if cbs.OnOpen != nil {
		ch.runtime.OnOpen = cbs.OnOpen
	}
	if cbs.OnClose != nil {
		ch.runtime.OnClose = cbs.OnClose
	}
	if cbs.OnError != nil {
		ch.runtime.OnError = cbs.OnError
	}
	if cbs.OnTermination != nil {
		ch.runtime.OnTermination = cbs.OnTermination
	}
}

// readLoop is the single reader of one connection handle. It exits on the
// first read error; when the handle is still the channel's current one,
// the channel is marked dead and close callbacks fire. After a Terminate
// the handle has already been detached and the exit is silent.
func (ch *socketChannel) readLoop(conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			ch.lk.Lock()
			current := ch.conn == conn
			if current {
				ch.conn = nil
				ch.alive = false
			}
			ch.lk.Unlock()
			if current {
				ch.fireError(&TransportError{Channel: ch.spec.Name, Cause: err})
				ch.fireClose()
			}
			return
		}
		ch.handleFrame(data)
	}
}

// handleFrame is the inbound demultiplexer: parse, feed the header
// handler, then branch on `_type`. A malformed frame is logged and
// dropped, never crashing the connection.
func (ch *socketChannel) handleFrame(data []byte) {
	fr, err := parseFrame(data)
	if err != nil {
		ch.msink.IncrCounterWithLabels(MetricFrameMalformedCount, 1.0, append(
			[]metrics.Label{LabelChannelName.M(ch.spec.Name)},
			ch.labels...,
		))
		ch.logger.Error("dropping malformed frame",
			LabelChannelName.L(ch.spec.Name),
			LabelError.L(err),
		)
		return
	}

	if rc := ch.spec.RPC; rc != nil && rc.HeaderHandler != nil {
		headers := fr.Headers
		if headers == nil {
			headers = Fields{}
		}
		rc.HeaderHandler(headers)
	}

	switch {
	case fr.correlated():
		ch.resolvePending(fr)
	case fr.Type == TypeEvent:
		ch.fanOut(fr)
	}
}

func (ch *socketChannel) resolvePending(fr *frame) {
	ch.lk.Lock()
	reply, ok := ch.answers[fr.ID]
	if ok {
		delete(ch.answers, fr.ID)
	}
	ch.lk.Unlock()

	if !ok {
		// Stale or unknown ID, e.g. a response arriving after its call
		// timed out.
		ch.msink.IncrCounterWithLabels(MetricRPCDroppedCount, 1.0, append(
			[]metrics.Label{LabelChannelName.M(ch.spec.Name)},
			ch.labels...,
		))
		ch.logger.Debug("dropping uncorrelated frame",
			LabelChannelName.L(ch.spec.Name),
			LabelMessageID.L(fr.ID),
		)
		return
	}

	ch.msink.IncrCounterWithLabels(MetricRPCInCount, 1.0, append(
		[]metrics.Label{LabelChannelName.M(ch.spec.Name)},
		ch.labels...,
	))

	if fr.HasResult {
		reply <- &answer{result: fr.Result}
	} else {
		ch.msink.IncrCounterWithLabels(MetricRPCErrorCount, 1.0, append(
			[]metrics.Label{LabelChannelName.M(ch.spec.Name)},
			ch.labels...,
		))
		reply <- &answer{err: &AppError{Payload: fr.ErrVal}}
	}
}

// fanOut invokes every subscriber of the event synchronously, in
// registration order. The list is snapshotted under the lock so a
// subscriber may unsubscribe itself mid-dispatch.
func (ch *socketChannel) fanOut(fr *frame) {
	ch.lk.Lock()
	subs := append([]*Subscription(nil), ch.listeners[fr.Event]...)
	ch.lk.Unlock()

	if len(subs) == 0 {
		ch.msink.IncrCounterWithLabels(MetricEventOrphanCount, 1.0, append(
			[]metrics.Label{
				LabelChannelName.M(ch.spec.Name),
				LabelEventName.M(fr.Event),
			},
			ch.labels...,
		))
		return
	}

	for _, sub := range subs {
		sub.fn(fr.Message)
	}
	ch.msink.IncrCounterWithLabels(MetricEventDeliveredCount, float32(len(subs)), append(
		[]metrics.Label{
			LabelChannelName.M(ch.spec.Name),
			LabelEventName.M(fr.Event),
		},
		ch.labels...,
	))
}

func (ch *socketChannel) fireOpen() {
	ch.lk.Lock()
	runtime := ch.runtime.OnOpen
	ch.lk.Unlock()
	fire(ch.spec.Callbacks.OnOpen, runtime)
}

func (ch *socketChannel) fireClose() {
	ch.lk.Lock()
	runtime := ch.runtime.OnClose
	ch.lk.Unlock()
	fire(ch.spec.Callbacks.OnClose, runtime)
}

func (ch *socketChannel) fireTermination() {
	ch.lk.Lock()
	runtime := ch.runtime.OnTermination
	ch.lk.Unlock()
	fire(ch.spec.Callbacks.OnTermination, runtime)
}

func (ch *socketChannel) fireError(err error) {
	ch.lk.Lock()
	runtime := ch.runtime.OnError
	ch.lk.Unlock()
	if ch.spec.Callbacks.OnError != nil {
		ch.spec.Callbacks.OnError(err)
	}
	if runtime != nil {
		runtime(err)
	}
}

func fire(cbs ...func()) {
	for _, cb := range cbs {
		if cb != nil {
			cb()
		}
	}
}
