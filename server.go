package parlance

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-metrics"
)

// TokenValidator decides whether a handshake credential may open a
// session. Returning false or an error closes the connection without a
// session being created.
type TokenValidator func(ctx context.Context, token string) (bool, error)

// HeaderInjector produces the `headers` bag attached to every response
// frame of a connection. Failing aborts the frame with an rpcError.
type HeaderInjector func(ctx context.Context, token string) (Fields, error)

// ServerChannelSpec declares a served channel. Only socket channels can
// be served.
type ServerChannelSpec struct {
	Name string
	Kind ChannelKind

	// Auth requires a subprotocol credential on the handshake, checked by
	// Validator before any session exists.
	Auth      bool
	Validator TokenValidator

	// Dialects is the allow list of dialect names accepted on this
	// channel.
	Dialects []string

	HeaderInjector HeaderInjector
}

func (spec *ServerChannelSpec) allows(dialect string) bool {
	for _, name := range spec.Dialects {
		if name == dialect {
			return true
		}
	}
	return false
}

// Server owns the server-side dialect registry, the per-channel session
// tables and the per-connection dispatch loops.
type Server struct {
	config config
	logger *slog.Logger
	msink  metrics.MetricSink

	dialects *dialectRegistry
	upgrader *websocket.Upgrader

	lk       sync.Mutex
	channels map[string]*serverChannel
}

type serverChannel struct {
	spec     ServerChannelSpec
	sessions *sessionTable

	lk    sync.Mutex
	conns map[string]*serverConn
}

// serverConn is one accepted connection. Writers are serialized by
// writeLk; cleanup runs exactly once no matter how the close was
// triggered.
type serverConn struct {
	ws       *websocket.Conn
	clientID string
	token    string

	writeLk sync.Mutex
	cleanup sync.Once
}

func (sc *serverConn) write(msg Fields) error {
	payload, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	sc.writeLk.Lock()
	defer sc.writeLk.Unlock()
	return sc.ws.WriteMessage(websocket.TextMessage, payload)
}

func NewServer(opts ...Option) (*Server, error) {
	s := &Server{
		dialects: newDialectRegistry(),
		channels: make(map[string]*serverChannel),
	}

	for _, opt := range opts {
		if err := opt(&s.config); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCfg, err)
		}
	}

	if s.config.logHandler != nil {
		s.logger = slog.New(s.config.logHandler)
	} else {
		s.logger = slog.Default()
	}
	if s.config.msink == nil {
		s.config.msink = metrics.Default()
	}
	s.msink = s.config.msink
	if s.config.idGenerator == nil {
		s.config.idGenerator = uuid.NewString
	}
	if s.config.upgrader != nil {
		s.upgrader = s.config.upgrader
	} else {
		s.upgrader = &websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		}
	}
	return s, nil
}

func (s *Server) RegisterDialect(d Dialect) {
	s.dialects.register(d)
}

// RegisterChannel validates and stores a served channel. Authenticated
// channels need a token validator.
func (s *Server) RegisterChannel(spec ServerChannelSpec) error {
	if spec.Kind != KindSocket {
		return fmt.Errorf("%w: %q", ErrServerChannelKind, spec.Kind)
	}
	if spec.Auth && spec.Validator == nil {
		return fmt.Errorf("%w: %s", ErrValidatorRequired, spec.Name)
	}
	s.lk.Lock()
	defer s.lk.Unlock()
	s.channels[spec.Name] = &serverChannel{
		spec:     spec,
		sessions: newSessionTable(),
		conns:    make(map[string]*serverConn),
	}
	return nil
}

// Handler returns the http.Handler upgrading requests into connections of
// the named channel.
func (s *Server) Handler(channelName string) (http.Handler, error) {
	chn, err := s.channel(channelName)
	if err != nil {
		return nil, err
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.serve(chn, w, r)
	}), nil
}

// serve is the per-connection accept path: upgrade, authenticate, bind a
// session, then loop over inbound frames in arrival order.
func (s *Server) serve(chn *serverChannel, w http.ResponseWriter, r *http.Request) {
	// The credential travels as the first offered subprotocol; echo it so
	// strict clients accept the handshake.
	var token string
	var respHeader http.Header
	if protocols := websocket.Subprotocols(r); len(protocols) > 0 {
		token = protocols[0]
		respHeader = http.Header{"Sec-WebSocket-Protocol": {token}}
	}

	ws, err := s.upgrader.Upgrade(w, r, respHeader)
	if err != nil {
		s.logger.Error("websocket upgrade failed",
			LabelChannelName.L(chn.spec.Name),
			LabelError.L(err),
		)
		return
	}

	if chn.spec.Auth {
		ok := token != ""
		if ok {
			ok, err = chn.spec.Validator(r.Context(), token)
			if err != nil {
				s.logger.Warn("token validation failed",
					LabelChannelName.L(chn.spec.Name),
					LabelError.L(err),
				)
				ok = false
			}
		}
		if !ok {
			// No session, no error frame: the socket simply closes.
			s.msink.IncrCounterWithLabels(MetricSessionRejectedCount, 1.0, append(
				[]metrics.Label{LabelChannelName.M(chn.spec.Name)},
				s.config.metricLabels...,
			))
			ws.Close()
			return
		}
	}

	sc := &serverConn{ws: ws, clientID: s.config.idGenerator(), token: token}
	chn.sessions.bind(sc.clientID, sc.token)
	chn.lk.Lock()
	chn.conns[sc.clientID] = sc
	chn.lk.Unlock()
	s.msink.SetGaugeWithLabels(MetricSessionActiveCount, float32(chn.sessions.size()), append(
		[]metrics.Label{LabelChannelName.M(chn.spec.Name)},
		s.config.metricLabels...,
	))
	s.logger.Debug("session opened",
		LabelChannelName.L(chn.spec.Name),
		LabelClientID.L(sc.clientID),
	)

	defer s.closeConn(chn, sc)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		s.dispatch(r.Context(), chn, sc, data)
	}
}

// closeConn tears a connection down exactly once: both session directions
// are removed whether the close was client-initiated, an error, or
// server-initiated.
func (s *Server) closeConn(chn *serverChannel, sc *serverConn) {
	sc.cleanup.Do(func() {
		chn.sessions.drop(sc.clientID)
		chn.lk.Lock()
		delete(chn.conns, sc.clientID)
		chn.lk.Unlock()
		sc.ws.Close()
		s.msink.SetGaugeWithLabels(MetricSessionActiveCount, float32(chn.sessions.size()), append(
			[]metrics.Label{LabelChannelName.M(chn.spec.Name)},
			s.config.metricLabels...,
		))
		s.logger.Debug("session closed",
			LabelChannelName.L(chn.spec.Name),
			LabelClientID.L(sc.clientID),
		)
	})
}

// SendEventTo pushes an event frame to exactly one connected client,
// asynchronously. There is no delivery guarantee beyond the socket still
// being open.
func (s *Server) SendEventTo(channelName, clientID, event string, message any) error {
	chn, err := s.channel(channelName)
	if err != nil {
		return err
	}
	chn.lk.Lock()
	sc, ok := chn.conns[clientID]
	chn.lk.Unlock()
	if !ok {
		return fmt.Errorf("%w: client %q on channel %s", ErrNotFound, clientID, channelName)
	}

	go func() {
		err := sc.write(Fields{
			fieldType:    string(TypeEvent),
			fieldEvent:   event,
			fieldMessage: message,
		})
		if err != nil {
			s.logger.Warn("event delivery failed",
				LabelChannelName.L(channelName),
				LabelClientID.L(clientID),
				LabelEventName.L(event),
				LabelError.L(err),
			)
		}
	}()
	return nil
}

// ClientIDFor resolves the most recent session bound to the token.
func (s *Server) ClientIDFor(channelName, token string) (string, error) {
	chn, err := s.channel(channelName)
	if err != nil {
		return "", err
	}
	return chn.sessions.clientIDFor(token)
}

// TokenFor resolves the token of a live session.
func (s *Server) TokenFor(channelName, clientID string) (string, error) {
	chn, err := s.channel(channelName)
	if err != nil {
		return "", err
	}
	return chn.sessions.tokenFor(clientID)
}

func (s *Server) IsTokenActive(channelName, token string) (bool, error) {
	chn, err := s.channel(channelName)
	if err != nil {
		return false, err
	}
	return chn.sessions.isTokenActive(token), nil
}

func (s *Server) IsClientActive(channelName, clientID string) (bool, error) {
	chn, err := s.channel(channelName)
	if err != nil {
		return false, err
	}
	return chn.sessions.isClientActive(clientID), nil
}

// Shutdown closes every live connection; their loops run the per-connection
// cleanup.
func (s *Server) Shutdown() {
	s.lk.Lock()
	channels := make([]*serverChannel, 0, len(s.channels))
	for _, chn := range s.channels {
		channels = append(channels, chn)
	}
	s.lk.Unlock()

	for _, chn := range channels {
		chn.lk.Lock()
		conns := make([]*serverConn, 0, len(chn.conns))
		for _, sc := range chn.conns {
			conns = append(conns, sc)
		}
		chn.lk.Unlock()
		for _, sc := range conns {
			s.closeConn(chn, sc)
		}
	}
}

func (s *Server) channel(name string) (*serverChannel, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	chn, ok := s.channels[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrChannelNotFound, name)
	}
	return chn, nil
}
