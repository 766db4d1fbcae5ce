package reqcontext

import (
	"bytes"
	"encoding/json"
	"net/url"

	"github.com/dispatchkit/dispatch/internal/apperr"
)

// RequestView wraps the inbound side of a message: method, path, query,
// headers, and a lazily-read body. It is shared by every concrete Context
// variant; transports that have no concept of one field (e.g. AMQP has no
// query string) simply leave it zero-valued.
type RequestView struct {
	Method  string
	Path    string
	Query   url.Values
	Headers map[string][]string

	bodyLoaded bool
	body       []byte
	loadBody   func() ([]byte, error)
}

// NewRequestView builds a view whose Body is read lazily via loadBody (HTTP
// bodies are streamed off the wire; this mirrors the spec's "bodies are
// lazily-read bytes" requirement without forcing every listener to buffer
// eagerly). Pass a nil loadBody and call SetBody for transports that already
// have the bytes in hand (WebSocket frames, AMQP deliveries).
func NewRequestView(method, path string, query url.Values, headers map[string][]string, loadBody func() ([]byte, error)) *RequestView {
	return &RequestView{Method: method, Path: path, Query: query, Headers: headers, loadBody: loadBody}
}

// SetBody installs body bytes directly, bypassing the lazy loader.
func (r *RequestView) SetBody(body []byte) {
	r.body = body
	r.bodyLoaded = true
}

// Body returns the raw request bytes, reading them on first access.
func (r *RequestView) Body() ([]byte, error) {
	if r.bodyLoaded {
		return r.body, nil
	}
	if r.loadBody == nil {
		r.bodyLoaded = true
		return nil, nil
	}
	body, err := r.loadBody()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConnectorIO, "reqcontext: read request body", err)
	}
	r.body = body
	r.bodyLoaded = true
	return r.body, nil
}

// DecodeJSON decodes the body into dst. Per spec.md §8's empty-body
// boundary, a zero-length body decodes as an empty JSON object rather than
// failing, so a handler expecting e.g. an optional-fields struct sees its
// zero value instead of an error.
func (r *RequestView) DecodeJSON(dst any) error {
	body, err := r.Body()
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return apperr.SchemaValidation(err.Error())
	}
	return nil
}

// Header returns the first value for key, if any.
func (r *RequestView) Header(key string) (string, bool) {
	vals, ok := r.Headers[key]
	if !ok || len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

// ResponseView accumulates the outbound side. Concrete Context types expose
// typed setters (SetJSON, SetHTML, ...); the Dispatcher reads StatusCode,
// ContentType, and Raw to flush the transport response.
type ResponseView struct {
	StatusCode  int
	ContentType string
	Headers     map[string][]string

	// Raw holds the encoded response bytes once a context-specific setter
	// has run. JSONValue holds the pre-encode value for round-trip tests
	// that want to inspect it without re-parsing Raw.
	Raw       []byte
	JSONValue any
}

// NewResponseView returns a view defaulted to 200 with no body.
func NewResponseView() *ResponseView {
	return &ResponseView{StatusCode: 200, Headers: map[string][]string{}}
}

// SetHeader sets (overwriting) a single response header.
func (r *ResponseView) SetHeader(key, value string) {
	r.Headers[key] = []string{value}
}

// SetJSON encodes v and sets the RESTful content type.
func (r *ResponseView) SetJSON(v any) error {
	if v == nil {
		v = map[string]any{}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return apperr.Internal(err)
	}
	r.JSONValue = v
	r.Raw = data
	r.ContentType = "application/json; charset=utf-8"
	return nil
}

// SetHTML sets the Web content type with a plain string body.
func (r *ResponseView) SetHTML(body string) {
	r.Raw = []byte(body)
	r.ContentType = "text/html; charset=utf-8"
}

// SetBuffer sets an opaque byte body (Socket contexts).
func (r *ResponseView) SetBuffer(body []byte) {
	r.Raw = body
}
