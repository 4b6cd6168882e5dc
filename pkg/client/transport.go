package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Default response body limits. Attachments are the only binary payloads.
const (
	DefaultMaxTextBody   = 1 << 20
	DefaultMaxBinaryBody = 128 << 20
)

// ErrBodyTooLarge is wrapped by BodyLimitError.
var ErrBodyTooLarge = errors.New("response body too large")

// BodyLimitError reports a response whose body was longer than the
// transport accepts. The body is discarded rather than returned short.
type BodyLimitError struct {
	Status int
	Limit  int64
}

func (e *BodyLimitError) Error() string {
	return fmt.Sprintf("response body exceeds %d bytes (status %d)", e.Limit, e.Status)
}

func (e *BodyLimitError) Unwrap() error { return ErrBodyTooLarge }

// ResponseType selects how a response body is captured and decoded.
type ResponseType int

const (
	ResponseJSON ResponseType = iota
	ResponseText
	ResponseBinary
)

// Exchange is a single, fully built HTTP exchange.
type Exchange struct {
	Method   string
	URL      string
	Header   http.Header
	Body     []byte // sent verbatim; nil means no body
	Response ResponseType
}

// Response is what a Transport reports for a completed exchange.
type Response struct {
	Status int
	Body   []byte
}

// Transport performs one HTTP exchange. It returns an error only when no
// response was received; any HTTP status, including 4xx and 5xx, is a
// successful exchange from the transport's point of view.
type Transport interface {
	Do(ctx context.Context, ex *Exchange) (*Response, error)
}

// HTTPTransport is the Transport backed by net/http.
type HTTPTransport struct {
	httpClient *http.Client

	// MaxTextBody and MaxBinaryBody cap the bytes read from a response.
	// Zero selects the package default.
	MaxTextBody   int64
	MaxBinaryBody int64
}

// NewHTTPTransport wraps hc. A nil hc uses http.DefaultClient.
func NewHTTPTransport(hc *http.Client) *HTTPTransport {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &HTTPTransport{httpClient: hc}
}

// Do implements Transport.
func (t *HTTPTransport) Do(ctx context.Context, ex *Exchange) (*Response, error) {
	var body io.Reader
	if ex.Body != nil {
		body = bytes.NewReader(ex.Body)
	}

	req, err := http.NewRequestWithContext(ctx, ex.Method, ex.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range ex.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	limit := t.limit(ex.Response)
	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if int64(len(respBytes)) > limit {
		return nil, &BodyLimitError{Status: resp.StatusCode, Limit: limit}
	}
	return &Response{Status: resp.StatusCode, Body: respBytes}, nil
}

func (t *HTTPTransport) limit(rt ResponseType) int64 {
	if rt == ResponseBinary {
		if t.MaxBinaryBody > 0 {
			return t.MaxBinaryBody
		}
		return DefaultMaxBinaryBody
	}
	if t.MaxTextBody > 0 {
		return t.MaxTextBody
	}
	return DefaultMaxTextBody
}
