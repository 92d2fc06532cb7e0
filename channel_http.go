package parlance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
)

var absoluteURL = regexp.MustCompile(`^https?://`)

// HTTPRequest is what an http-capable dialect compiles a call into.
type HTTPRequest struct {
	Method  string
	URL     string
	Headers http.Header
	Body    any
}

// HTTPResponse is the outcome of an HTTP verb.
type HTTPResponse struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// JSON decodes the response body into v.
func (r *HTTPResponse) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// httpChannel is stateless: no connection lifecycle, every call is one
// round-trip bound to the base URI and scheme.
type httpChannel struct {
	spec   *ChannelSpec
	client *http.Client
}

func (ch *httpChannel) Name() string       { return ch.spec.Name }
func (ch *httpChannel) Kind() ChannelKind  { return KindHTTP }
func (ch *httpChannel) Spec() *ChannelSpec { return ch.spec }
func (ch *httpChannel) Alive() bool        { return true }

func (ch *httpChannel) Connect(context.Context) error {
	return fmt.Errorf("%w: %s", ErrNotConnectable, ch.spec.Name)
}

func (ch *httpChannel) Terminate() error {
	return fmt.Errorf("%w: %s", ErrNotConnectable, ch.spec.Name)
}

func (ch *httpChannel) baseURL() string {
	scheme := "http://"
	if ch.spec.TLS {
		scheme = "https://"
	}
	return scheme + ch.spec.URI
}

// resolveURL joins uri to the channel base, unless uri already carries an
// http(s) scheme, in which case it is used as-is.
func (ch *httpChannel) resolveURL(uri string) string {
	if absoluteURL.MatchString(uri) {
		return uri
	}
	return ch.baseURL() + "/" + strings.TrimPrefix(uri, "/")
}

func (ch *httpChannel) do(ctx context.Context, method, uri string, body any, opts *CallOptions) (*HTTPResponse, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, ch.resolveURL(uri), reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, vals := range opts.HTTPHeaders {
		for _, val := range vals {
			req.Header.Add(key, val)
		}
	}

	resp, err := ch.client.Do(req)
	if err != nil {
		return nil, &TransportError{Channel: ch.spec.Name, Cause: err}
	}
	defer resp.Body.Close()

	if ch.spec.HeaderHandler != nil {
		ch.spec.HeaderHandler(resp.Header)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Channel: ch.spec.Name, Cause: err}
	}

	if resp.StatusCode >= 400 {
		return nil, &HTTPError{Status: resp.StatusCode, Headers: resp.Header, Body: payload}
	}

	return &HTTPResponse{Status: resp.StatusCode, Headers: resp.Header, Body: payload}, nil
}

// call serves Request on an http channel through the dialect's HTTP
// request builder. Informs have no meaning on a request/response
// transport.
func (ch *httpChannel) call(ctx context.Context, typ MessageType, dialect *Dialect, route string, data any, opts *CallOptions) (any, error) {
	rc := ch.spec.RPC
	if rc == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoRPC, ch.spec.Name)
	}
	if dialect.HTTPRequest == nil {
		return nil, fmt.Errorf("%w: %s", ErrDialectNotHTTP, dialect.Name)
	}
	if typ != TypeRequest {
		return nil, fmt.Errorf("%w: %s", ErrHTTPOnlyRequest, dialect.Name)
	}
	if !rc.allows(dialect.Name) {
		return nil, fmt.Errorf("%w: %s on channel %s", ErrDialectUnsupported, dialect.Name, ch.spec.Name)
	}

	hreq, err := dialect.HTTPRequest(ctx, route, data, opts)
	if err != nil {
		return nil, err
	}

	resp, err := ch.do(ctx, hreq.Method, hreq.URL, hreq.Body, &CallOptions{HTTPHeaders: hreq.Headers})
	if err != nil {
		return nil, err
	}

	var result any
	if len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, &result); err != nil {
			return nil, err
		}
	}
	return result, nil
}
