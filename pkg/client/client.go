package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultAttachmentHost is the storage host that issues attachment redirects
// on the production service.
const DefaultAttachmentHost = "whispersystems-textsecure-attachments.s3.amazonaws.com"

// CredentialStore is the read-only view of the registered device's
// credentials. Both lookups fail when the device is not registered yet.
type CredentialStore interface {
	// DeviceIdentity returns "{number}.{deviceId}".
	DeviceIdentity(ctx context.Context) (string, error)
	Password(ctx context.Context) (string, error)
}

// Observer receives exchange and transfer events. Implementations must be
// safe for concurrent use.
type Observer interface {
	// ObserveExchange is called once per exchange with the normalized
	// status, NoResponse when the exchange failed.
	ObserveExchange(call string, status int, elapsed time.Duration)
	// ObserveTransfer is called on every attachment phase transition.
	ObserveTransfer(direction TransferDirection, phase TransferPhase)
}

// Client is the SDK entry point. It holds no per-request state and is safe
// for concurrent use.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	transport      Transport
	creds          CredentialStore
	limiter        *rate.Limiter
	observer       Observer
	logger         *zap.Logger
	attachmentHost string
	attachmentID   *regexp.Regexp
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets the http.Client used by the default transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithTimeout sets the timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %s", d)
		}
		c.httpClient = &http.Client{Timeout: d}
		return nil
	}
}

// WithTransport replaces the HTTP transport entirely. It takes precedence
// over WithHTTPClient.
func WithTransport(t Transport) Option {
	return func(c *Client) error {
		c.transport = t
		return nil
	}
}

// WithCredentialStore sets the store consulted for DerivedAuth requests.
func WithCredentialStore(s CredentialStore) Option {
	return func(c *Client) error {
		c.creds = s
		return nil
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) error {
		c.logger = l
		return nil
	}
}

// WithObserver registers an Observer for metrics collection.
func WithObserver(o Observer) Option {
	return func(c *Client) error {
		c.observer = o
		return nil
	}
}

// WithRateLimit throttles requests to the messaging server to rps requests
// per second with the given burst. Storage-host exchanges are not throttled.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) error {
		if rps <= 0 || burst < 1 {
			return fmt.Errorf("invalid rate limit %v/s burst %d", rps, burst)
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		return nil
	}
}

// WithAttachmentHost sets the storage host that upload locations must point
// at. The host may include a port.
func WithAttachmentHost(host string) Option {
	return func(c *Client) error {
		if host == "" || strings.ContainsAny(host, "/?#") {
			return fmt.Errorf("invalid attachment host %q", host)
		}
		c.attachmentHost = host
		return nil
	}
}

// New creates a Client for the server at baseURL.
//
//	c, err := client.New("https://localhost:8443",
//	    client.WithCredentialStore(store),
//	    client.WithRateLimit(5, 10),
//	)
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported base URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("base URL %q has no host", baseURL)
	}

	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		logger:         zap.NewNop(),
		attachmentHost: DefaultAttachmentHost,
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	if c.transport == nil {
		c.transport = NewHTTPTransport(c.httpClient)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	c.attachmentID = attachmentIDPattern(c.attachmentHost)
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(baseURL string, opts ...Option) *Client {
	c, err := New(baseURL, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// BaseURL returns the server address the client was configured with.
func (c *Client) BaseURL() string { return c.baseURL }
