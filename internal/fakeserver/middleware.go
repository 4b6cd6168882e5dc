package fakeserver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/textsecure/pkg/address"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const ctxDevice = "textsecure_device"

const (
	limiterSweepEvery = 5 * time.Minute
	limiterIdleTTL    = 10 * time.Minute
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipLimiters is the per-IP token bucket table behind RateLimiter.
type ipLimiters struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*ipLimiter
}

func newIPLimiters(rps, burst int) *ipLimiters {
	return &ipLimiters{
		rps:      rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*ipLimiter),
	}
}

func (l *ipLimiters) get(ip string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.limiters[ip]
	if !ok {
		e = &ipLimiter{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.limiters[ip] = e
	}
	e.lastSeen = now
	return e.limiter
}

// sweep drops entries idle for longer than ttl and returns how many remain.
func (l *ipLimiters) sweep(now time.Time, ttl time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, e := range l.limiters {
		if now.Sub(e.lastSeen) > ttl {
			delete(l.limiters, ip)
		}
	}
	return len(l.limiters)
}

// run sweeps every interval until ctx is done.
func (l *ipLimiters) run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.sweep(now, limiterIdleTTL)
		}
	}
}

// RateLimiter returns a Gin middleware that enforces per-IP token-bucket
// rate limiting. Throttled requests get 413, which is what TextSecure
// clients expect. Stale entries are cleaned every 5 minutes until ctx is
// done.
func RateLimiter(ctx context.Context, rps, burst int) gin.HandlerFunc {
	limiters := newIPLimiters(rps, burst)
	go limiters.run(ctx, limiterSweepEvery)

	return func(c *gin.Context) {
		if !limiters.get(c.ClientIP(), time.Now()).Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// basicCredentials parses the Authorization header into an address and
// password. A login without a device suffix addresses the primary device.
func basicCredentials(c *gin.Context) (*address.Address, string, bool) {
	login, password, ok := c.Request.BasicAuth()
	if !ok || password == "" {
		return nil, "", false
	}
	addr, err := address.Parse(login)
	if err != nil {
		return nil, "", false
	}
	return addr, password, true
}

// requireDevice authenticates the caller as a registered device and stores
// its address in the context.
func (s *Server) requireDevice() gin.HandlerFunc {
	return func(c *gin.Context) {
		addr, password, ok := basicCredentials(c)
		if !ok || !s.store.Authenticate(addr.Number, addr.DeviceID, password) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		c.Set(ctxDevice, addr)
		c.Next()
	}
}

// callerOf returns the device authenticated by requireDevice.
func callerOf(c *gin.Context) *address.Address {
	return c.MustGet(ctxDevice).(*address.Address)
}

// requestLogger logs each request with zap. The query string is left out
// since it may carry credentials.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
