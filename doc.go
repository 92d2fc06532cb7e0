// *Parlance* is an RPC runtime which lets a client and a server exchange
// requests, responses and push events over interchangeable transports,
// while keeping the wire message shape itself pluggable.
//
// ## How it works
//
// The two moving parts you configure are `Dialect`s and channels.
//
// A `Dialect` is a *named* strategy which compiles a generic
// `(route, data, options)` call into the fields of a wire message and, on
// the server side, dispatches an incoming message to a handler. Because the
// dialect decides what goes on the wire, the same call site can speak to a
// plain REST backend, a framed RPC protocol, or an event-bus flavoured
// protocol.
//
// A channel is a *named* transport endpoint. Three kinds exist:
//
//   - `http` channels are stateless request/response endpoints.
//   - `socket` channels own a persistent full-duplex websocket, with lazy
//     connection, liveness tracking and termination.
//   - `method` channels short-circuit the network and invoke the dialect's
//     handler in-process.
//
// On top of socket channels the client runs a correlation engine: every
// request gets a universally unique ID, is raced against a
// `RetryInterval × MaxRetries` timeout budget, and is resolved by whichever
// inbound frame carries the same ID. Server-pushed `event` frames are fanned
// out to subscribers through a per-channel multiplexer.
//
// The server keeps a per-channel session table mapping client IDs to
// authentication tokens. Connections are validated during the websocket
// handshake (the credential travels in the subprotocol header) and are
// closed without a session when validation fails.
//
// ## Design Principles
//
// APIs MUST NOT model an *infallible* network: every public operation
// returns a typed error carrying enough context (channel name, dialect
// name, correlation ID) to diagnose failures without internal inspection.
// A lost socket loses its in-flight correlations; reconnection starts a
// fresh session. There is no hidden retry: the timeout budget is the only
// clock a pending call races against.
//
// Dependencies are *kept* minimal, actually, I can enumerate them:
//
//   - [`gorilla/websocket`][dep-ws], the socket transport.
//   - [`hashicorp/go-metrics`][dep-met], to let you chose how metrics are sunk.
//   - [`google/uuid`][dep-uuid], correlation and client identifiers.
//   - [`spf13/afero`][dep-afero], the durable credential store backend.
//
// [dep-ws]: https://pkg.go.dev/github.com/gorilla/websocket
// [dep-met]: https://pkg.go.dev/github.com/hashicorp/go-metrics
// [dep-uuid]: https://pkg.go.dev/github.com/google/uuid
// [dep-afero]: https://pkg.go.dev/github.com/spf13/afero
package parlance
