// Package fakeserver is an in-memory stand-in for a TextSecure messaging
// server and its attachment storage host, for local development and
// integration tests.
package fakeserver

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxAttachmentBytes bounds a single upload to the storage host.
const maxAttachmentBytes = 128 << 20

// Server owns the store and builds the API and storage handlers.
type Server struct {
	store       *Store
	logger      *zap.Logger
	rps         int
	corsOrigins []string
	metrics     *HTTPMetrics

	mu         sync.RWMutex
	storageURL string

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithRateLimit enables per-IP throttling of the API at rps requests per
// second with a burst of twice that. Zero disables it.
func WithRateLimit(rps int) Option {
	return func(s *Server) { s.rps = rps }
}

// WithCORSOrigins allows browser clients from origins.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithMetrics records per-request metrics on both handlers.
func WithMetrics(m *HTTPMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithStore replaces the default store.
func WithStore(st *Store) Option {
	return func(s *Server) { s.store = st }
}

// New creates a Server. storageURL is the base URL of the storage host
// (e.g. "https://attachments.example.org") and may be set later with
// SetStorageURL when it is only known after the listener starts.
func New(storageURL string, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		logger:     zap.NewNop(),
		storageURL: strings.TrimRight(storageURL, "/"),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, o := range opts {
		o(s)
	}
	if s.store == nil {
		s.store = NewStore(0)
	}
	return s
}

// Close stops the background work of every handler built from s. The
// handlers keep serving, without cleanup. Close is idempotent.
func (s *Server) Close() { s.cancel() }

// Store returns the server state.
func (s *Server) Store() *Store { return s.store }

// SetStorageURL changes the base URL handed out in attachment locations.
func (s *Server) SetStorageURL(u string) {
	s.mu.Lock()
	s.storageURL = strings.TrimRight(u, "/")
	s.mu.Unlock()
}

// locationExpiry mimics the signed query string of an S3 presigned URL.
const locationExpiry = "X-Amz-Expires=3600"

func (s *Server) location(id string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.storageURL + "/" + id + "?" + locationExpiry
}

func (s *Server) baseEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if s.metrics != nil {
		r.Use(s.metrics.Middleware())
	}
	r.Use(requestLogger(s.logger))
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return r
}

// APIHandler returns the messaging server routes.
func (s *Server) APIHandler() http.Handler {
	r := s.baseEngine()

	if len(s.corsOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     s.corsOrigins,
			AllowMethods:     []string{"GET", "PUT", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: !containsWildcard(s.corsOrigins),
			MaxAge:           12 * time.Hour,
		}))
	}
	r.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20)
		c.Next()
	})
	if s.rps > 0 {
		r.Use(RateLimiter(s.ctx, s.rps, s.rps*2))
	}

	auth := s.requireDevice()

	v1 := r.Group("/v1")
	{
		accounts := v1.Group("/accounts")
		accounts.GET("/:transport/code/:number", s.requestCode)
		accounts.PUT("/code/:code", s.confirmAccount)

		devices := v1.Group("/devices")
		devices.GET("/provisioning/code", auth, s.provisioningCode)
		devices.PUT("/:code", s.confirmDevice)

		v1.PUT("/messages/:destination", auth, s.sendMessages)

		v1.GET("/attachments", auth, s.allocateAttachment)
		v1.GET("/attachments/:id", auth, s.attachmentLocation)
	}

	v2 := r.Group("/v2")
	{
		v2.PUT("/keys", auth, s.putKeys)
		v2.GET("/keys", auth, s.keyCount)
		v2.GET("/keys/:number/:device", auth, s.getKeys)
	}
	return r
}

// StorageHandler returns the attachment storage routes. Requests are not
// authenticated; knowing the id is the capability.
func (s *Server) StorageHandler() http.Handler {
	r := s.baseEngine()
	r.PUT("/:id", s.putBlob)
	r.GET("/:id", s.getBlob)
	return r
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}
