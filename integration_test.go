package parlance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const testToken = "tok-s3cret"

// startTestServer serves an authenticated "main" channel speaking the
// "echo" dialect on /rpc and returns the websocket URI (host:port/rpc).
func startTestServer(t *testing.T, tweak func(*Server)) (*Server, string) {
	t.Helper()

	server, err := NewServer()
	require.NoError(t, err)

	server.RegisterDialect(Dialect{
		Name: "echo",
		OnRequest: func(_ context.Context, req *Request) (any, error) {
			if req.Message["path"] == "fail" {
				return nil, errors.New("the handler rejected the call")
			}
			return req.Message["parameters"], nil
		},
	})
	require.NoError(t, server.RegisterChannel(ServerChannelSpec{
		Name:     "main",
		Kind:     KindSocket,
		Auth:     true,
		Dialects: []string{"echo"},
		Validator: func(_ context.Context, token string) (bool, error) {
			return strings.HasPrefix(token, "tok-"), nil
		},
	}))
	if tweak != nil {
		tweak(server)
	}

	handler, err := server.Handler("main")
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.Handle("/rpc", handler)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		server.Shutdown()
		ts.Close()
	})

	return server, strings.TrimPrefix(ts.URL, "http://") + "/rpc"
}

func startTestClient(t *testing.T, uri, token string, tweak func(*ChannelSpec)) *Client {
	t.Helper()

	client, err := NewClient()
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	client.RegisterDialect(Dialect{Name: "echo"})
	require.NoError(t, client.RegisterHeader(HeaderSpec{
		Name:  "session",
		Key:   "session-token",
		Value: token,
	}))

	spec := ChannelSpec{
		Name:       "main",
		Kind:       KindSocket,
		URI:        uri,
		Default:    true,
		Auth:       true,
		AuthHeader: "session",
		RPC: &RPCConfig{
			Dialects:      []string{"echo"},
			RetryInterval: 100 * time.Millisecond,
			MaxRetries:    5,
		},
	}
	if tweak != nil {
		tweak(&spec)
	}
	require.NoError(t, client.RegisterChannel(spec))
	return client
}

func TestClientServer(t *testing.T) {
	t.Run("a request is echoed back through the full stack", func(t *testing.T) {
		_, uri := startTestServer(t, nil)
		client := startTestClient(t, uri, testToken, nil)

		result, err := client.Request(context.Background(), "ping", map[string]any{"n": 1})
		require.NoError(t, err)
		require.Equal(t, map[string]any{"n": 1.0}, result)
	})

	t.Run("a handler failure surfaces as the application error", func(t *testing.T) {
		_, uri := startTestServer(t, nil)
		client := startTestClient(t, uri, testToken, nil)

		_, err := client.Request(context.Background(), "fail", nil)
		var appErr *AppError
		require.ErrorAs(t, err, &appErr)
		require.Contains(t, appErr.Payload, "rejected")
	})

	t.Run("a dialect outside the server allow list aborts the frame", func(t *testing.T) {
		_, uri := startTestServer(t, nil)
		client := startTestClient(t, uri, testToken, func(spec *ChannelSpec) {
			spec.RPC.Dialects = append(spec.RPC.Dialects, "other")
		})
		client.RegisterDialect(Dialect{Name: "other"})

		_, err := client.Request(context.Background(), "ping", nil, WithDialect("other"))
		var appErr *AppError
		require.ErrorAs(t, err, &appErr)
		require.Contains(t, appErr.Payload, "not supported")
	})

	t.Run("response headers reach the channel's header handler", func(t *testing.T) {
		_, uri := startTestServer(t, func(s *Server) {
			s.lk.Lock()
			s.channels["main"].spec.HeaderInjector = func(_ context.Context, token string) (Fields, error) {
				return Fields{"region": "eu", "token-seen": token}, nil
			}
			s.lk.Unlock()
		})

		var headers atomic.Pointer[Fields]
		client := startTestClient(t, uri, testToken, func(spec *ChannelSpec) {
			spec.RPC.HeaderHandler = func(h Fields) { headers.Store(&h) }
		})

		_, err := client.Request(context.Background(), "ping", nil)
		require.NoError(t, err)

		require.Eventually(t, func() bool { return headers.Load() != nil }, time.Second, time.Millisecond)
		got := *headers.Load()
		require.Equal(t, "eu", got["region"])
		require.Equal(t, testToken, got["token-seen"])
		require.Contains(t, got, "serverTime")
	})

	t.Run("informs are delivered without any response frame", func(t *testing.T) {
		var informs atomic.Int64
		_, uri := startTestServer(t, func(s *Server) {
			s.RegisterDialect(Dialect{
				Name: "audit",
				OnRequest: func(_ context.Context, req *Request) (any, error) {
					informs.Add(1)
					return nil, errors.New("informs never answer, not even this")
				},
			})
			s.lk.Lock()
			s.channels["main"].spec.Dialects = append(s.channels["main"].spec.Dialects, "audit")
			s.lk.Unlock()
		})

		client := startTestClient(t, uri, testToken, func(spec *ChannelSpec) {
			spec.RPC.Dialects = append(spec.RPC.Dialects, "audit")
		})
		client.RegisterDialect(Dialect{Name: "audit"})

		require.NoError(t, client.Inform(context.Background(), "trail", map[string]any{"op": "x"}, WithDialect("audit")))
		require.Eventually(t, func() bool { return informs.Load() == 1 }, time.Second, time.Millisecond)

		// The handler error above was swallowed server-side; the connection
		// must still serve correlated calls.
		result, err := client.Request(context.Background(), "ping", map[string]any{"after": "inform"})
		require.NoError(t, err)
		require.Equal(t, map[string]any{"after": "inform"}, result)
	})

	t.Run("a rejected credential closes the socket without a session", func(t *testing.T) {
		server, uri := startTestServer(t, nil)
		client := startTestClient(t, uri, "wrong", nil)

		handle, err := client.Channel("main")
		require.NoError(t, err)
		require.NoError(t, handle.Connect(context.Background()))

		require.Eventually(t, func() bool { return !handle.Alive() }, time.Second, time.Millisecond)

		active, err := server.IsTokenActive("main", "wrong")
		require.NoError(t, err)
		require.False(t, active)
	})

	t.Run("events are pushed to exactly the targeted client", func(t *testing.T) {
		server, uri := startTestServer(t, nil)
		client := startTestClient(t, uri, testToken, nil)
		bystander := startTestClient(t, uri, "tok-other", nil)

		var got, bystanderGot atomic.Int64
		_, err := client.SubscribeToEvent("alert", func(any) { got.Add(1) })
		require.NoError(t, err)
		_, err = bystander.SubscribeToEvent("alert", func(any) { bystanderGot.Add(1) })
		require.NoError(t, err)

		require.NoError(t, client.Connect(context.Background()))
		require.NoError(t, bystander.Connect(context.Background()))

		clientID, err := server.ClientIDFor("main", testToken)
		require.NoError(t, err)
		require.NoError(t, server.SendEventTo("main", clientID, "alert", map[string]any{"sev": "high"}))

		require.Eventually(t, func() bool { return got.Load() == 1 }, time.Second, time.Millisecond)
		time.Sleep(50 * time.Millisecond)
		require.EqualValues(t, 1, got.Load())
		require.EqualValues(t, 0, bystanderGot.Load())

		require.ErrorIs(t, server.SendEventTo("main", "ghost", "alert", nil), ErrNotFound)
	})

	t.Run("sessions track live connections exactly", func(t *testing.T) {
		server, uri := startTestServer(t, nil)

		tokens := []string{"tok-1", "tok-2", "tok-3"}
		clients := make([]*Client, len(tokens))
		for i, token := range tokens {
			clients[i] = startTestClient(t, uri, token, nil)
			require.NoError(t, clients[i].Connect(context.Background()))
		}

		for _, token := range tokens {
			require.Eventually(t, func() bool {
				active, err := server.IsTokenActive("main", token)
				return err == nil && active
			}, time.Second, time.Millisecond, token)
		}

		// Both lookup directions agree.
		clientID, err := server.ClientIDFor("main", "tok-2")
		require.NoError(t, err)
		token, err := server.TokenFor("main", clientID)
		require.NoError(t, err)
		require.Equal(t, "tok-2", token)

		handle, err := clients[0].Channel("main")
		require.NoError(t, err)
		require.NoError(t, handle.Terminate())

		require.Eventually(t, func() bool {
			active, err := server.IsTokenActive("main", "tok-1")
			return err == nil && !active
		}, time.Second, time.Millisecond)
		for _, token := range tokens[1:] {
			active, err := server.IsTokenActive("main", token)
			require.NoError(t, err)
			require.True(t, active, token)
		}
	})

	t.Run("shutdown closes every live connection", func(t *testing.T) {
		server, uri := startTestServer(t, nil)
		client := startTestClient(t, uri, testToken, nil)
		require.NoError(t, client.Connect(context.Background()))

		require.Eventually(t, func() bool {
			active, err := server.IsTokenActive("main", testToken)
			return err == nil && active
		}, time.Second, time.Millisecond)

		server.Shutdown()

		handle, err := client.Channel("main")
		require.NoError(t, err)
		require.Eventually(t, func() bool { return !handle.Alive() }, time.Second, time.Millisecond)
		active, err := server.IsTokenActive("main", testToken)
		require.NoError(t, err)
		require.False(t, active)
	})
}

// TestRawPeer drives the server with a bare websocket client, covering
// frames a strict SDK would never send.
func TestRawPeer(t *testing.T) {
	dialRaw := func(t *testing.T, uri string) *websocket.Conn {
		t.Helper()
		dialer := websocket.Dialer{Subprotocols: []string{testToken}}
		ws, _, err := dialer.Dial("ws://"+uri, nil)
		require.NoError(t, err)
		t.Cleanup(func() { ws.Close() })
		return ws
	}

	t.Run("frames without a dialect are ignored, not answered", func(t *testing.T) {
		_, uri := startTestServer(t, nil)
		ws := dialRaw(t, uri)

		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"hello":"server"}`)))
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`not even json`)))
		require.NoError(t, ws.WriteMessage(websocket.TextMessage,
			[]byte(`{"id":"r1","_dialect":"echo","_type":"request","path":"ping","parameters":{"n":2}}`)))

		// Only the proper request gets a frame back, proving the two
		// oddballs were dropped and the connection survived them.
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(time.Second)))
		var reply Fields
		require.NoError(t, ws.ReadJSON(&reply))
		require.Equal(t, "r1", reply[fieldID])
		require.Equal(t, string(TypeResponse), reply[fieldType])
		require.Equal(t, map[string]any{"n": 2.0}, reply[fieldResult])
	})

	t.Run("an unregistered dialect is answered with an error frame", func(t *testing.T) {
		_, uri := startTestServer(t, func(s *Server) {
			s.lk.Lock()
			s.channels["main"].spec.Dialects = append(s.channels["main"].spec.Dialects, "ghost")
			s.lk.Unlock()
		})
		ws := dialRaw(t, uri)

		require.NoError(t, ws.WriteMessage(websocket.TextMessage,
			[]byte(`{"id":"r2","_dialect":"ghost","_type":"request"}`)))

		require.NoError(t, ws.SetReadDeadline(time.Now().Add(time.Second)))
		var reply Fields
		require.NoError(t, ws.ReadJSON(&reply))
		require.Equal(t, "r2", reply[fieldID])
		require.Equal(t, string(TypeError), reply[fieldType])
		require.Contains(t, reply[fieldError], "no handler")
	})

	t.Run("the credential subprotocol is echoed on the handshake", func(t *testing.T) {
		_, uri := startTestServer(t, nil)
		dialer := websocket.Dialer{Subprotocols: []string{testToken}}
		ws, resp, err := dialer.Dial("ws://"+uri, nil)
		require.NoError(t, err)
		defer ws.Close()
		require.Equal(t, testToken, resp.Header.Get("Sec-WebSocket-Protocol"))
	})
}
