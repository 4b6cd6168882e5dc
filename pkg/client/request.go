package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

type authMode int

const (
	authNone authMode = iota
	authExplicit
	authDerived
)

// Auth selects where the Basic-Auth credentials of a request come from.
// Build one with NoAuth, ExplicitAuth or DerivedAuth.
type Auth struct {
	mode     authMode
	identity string
	secret   string
}

// NoAuth sends no Authorization header.
func NoAuth() Auth { return Auth{mode: authNone} }

// ExplicitAuth authenticates with a caller-supplied identity and secret.
func ExplicitAuth(identity, secret string) Auth {
	return Auth{mode: authExplicit, identity: identity, secret: secret}
}

// DerivedAuth authenticates with the device identity and password held by
// the client's CredentialStore, looked up when the request is built.
func DerivedAuth() Auth { return Auth{mode: authDerived} }

// Request describes one exchange with the messaging server.
type Request struct {
	Call   Endpoint
	Method string
	// Suffix is appended to the endpoint path as-is. It is neither
	// validated nor escaped.
	Suffix   string
	JSON     any // nil sends no body
	Auth     Auth
	Response ResponseType
}

// ResultKind tags the variant held by a Result.
type ResultKind int

const (
	// ResultEmpty is a successful exchange with no body.
	ResultEmpty ResultKind = iota
	// ResultDecoded holds a body that parsed as JSON.
	ResultDecoded
	// ResultRaw holds a text body that was not valid JSON, or text that was
	// never meant to be parsed.
	ResultRaw
	// ResultBinary holds raw bytes.
	ResultBinary
)

// Result is the outcome of a successful exchange.
type Result struct {
	Kind   ResultKind
	Status int
	JSON   json.RawMessage
	Text   string
	Bytes  []byte
}

// errNotDecoded is returned by Result.Decode for non-JSON results.
var errNotDecoded = errors.New("response body is not JSON")

// Decode unmarshals a ResultDecoded body into v.
func (r *Result) Decode(v any) error {
	if r.Kind != ResultDecoded {
		return errNotDecoded
	}
	return json.Unmarshal(r.JSON, v)
}

// Do builds the exchange described by req, performs it and classifies the
// outcome. Credential, transport and status failures are returned as
// *Error; a malformed Request yields a plain error.
func (c *Client) Do(ctx context.Context, req Request) (*Result, error) {
	ex, err := c.build(ctx, req)
	if err != nil {
		return nil, err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, networkError(fmt.Errorf("rate limiter: %w", err))
		}
	}

	resp, err := c.exchange(ctx, string(req.Call), ex)
	if err != nil {
		return nil, transportError(err)
	}

	status := NormalizeStatus(resp.Status)
	if !IsSuccess(status) {
		apiErr := Classify(status, resp.Body)
		c.logger.Warn("request rejected",
			zap.String("call", string(req.Call)),
			zap.String("method", req.Method),
			zap.Int("status", status),
			zap.Stringer("kind", apiErr.Kind),
		)
		return nil, apiErr
	}
	return decodeResult(status, resp.Body, req.Response), nil
}

// build turns req into a concrete Exchange. Building the same Request twice
// yields identical URLs and headers.
func (c *Client) build(ctx context.Context, req Request) (*Exchange, error) {
	path, ok := req.Call.Path()
	if !ok {
		return nil, fmt.Errorf("unknown endpoint %q", req.Call)
	}

	header := make(http.Header)
	switch req.Auth.mode {
	case authExplicit:
		header.Set("Authorization", basicAuth(req.Auth.identity, req.Auth.secret))
	case authDerived:
		identity, secret, err := c.derivedCredentials(ctx)
		if err != nil {
			return nil, err
		}
		header.Set("Authorization", basicAuth(identity, secret))
	}

	var body []byte
	if req.JSON != nil {
		b, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		body = b
		header.Set("Content-Type", "application/json")
	}

	return &Exchange{
		Method:   req.Method,
		URL:      c.baseURL + path + req.Suffix,
		Header:   header,
		Body:     body,
		Response: req.Response,
	}, nil
}

// derivedCredentials reads the stored identity and password. Both must be
// present.
func (c *Client) derivedCredentials(ctx context.Context) (identity, secret string, err error) {
	if c.creds == nil {
		return "", "", authUnavailable(errors.New("no credential store configured"))
	}
	identity, err = c.creds.DeviceIdentity(ctx)
	if err != nil {
		return "", "", authUnavailable(err)
	}
	secret, err = c.creds.Password(ctx)
	if err != nil {
		return "", "", authUnavailable(err)
	}
	if identity == "" || secret == "" {
		return "", "", authUnavailable(errors.New("stored identity or password is empty"))
	}
	return identity, secret, nil
}

// exchange runs ex through the transport, recording latency and status.
func (c *Client) exchange(ctx context.Context, call string, ex *Exchange) (*Response, error) {
	start := time.Now()
	resp, err := c.transport.Do(ctx, ex)
	elapsed := time.Since(start)

	status := NoResponse
	if err == nil {
		status = NormalizeStatus(resp.Status)
	}
	if c.observer != nil {
		c.observer.ObserveExchange(call, status, elapsed)
	}
	c.logger.Debug("exchange",
		zap.String("call", call),
		zap.String("method", ex.Method),
		zap.Int("status", status),
		zap.Duration("latency", elapsed),
	)
	if err != nil {
		c.logger.Warn("exchange failed", zap.String("call", call), zap.Error(err))
	}
	return resp, err
}

// decodeResult applies the lenient decoding rules: empty bodies are Empty,
// JSON that does not parse is returned as Raw text rather than an error.
func decodeResult(status int, body []byte, rt ResponseType) *Result {
	if rt == ResponseBinary {
		return &Result{Kind: ResultBinary, Status: status, Bytes: body}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return &Result{Kind: ResultEmpty, Status: status}
	}
	if rt == ResponseJSON && json.Valid(body) {
		return &Result{Kind: ResultDecoded, Status: status, JSON: json.RawMessage(body)}
	}
	return &Result{Kind: ResultRaw, Status: status, Text: string(body)}
}

func basicAuth(identity, secret string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(identity+":"+secret))
}
