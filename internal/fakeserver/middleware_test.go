package fakeserver

import (
	"context"
	"testing"
	"time"
)

func TestIPLimiters_sharesBucketPerIP(t *testing.T) {
	l := newIPLimiters(1, 1)
	now := time.Now()

	if !l.get("10.0.0.1", now).Allow() {
		t.Fatal("first request should pass")
	}
	if l.get("10.0.0.1", now).Allow() {
		t.Error("second request from the same IP should be throttled")
	}
	if !l.get("10.0.0.2", now).Allow() {
		t.Error("another IP has its own bucket")
	}
}

func TestIPLimiters_sweepDropsIdleEntries(t *testing.T) {
	l := newIPLimiters(1, 1)
	start := time.Now()
	l.get("10.0.0.1", start)
	l.get("10.0.0.2", start.Add(9*time.Minute))

	if n := l.sweep(start.Add(11*time.Minute), limiterIdleTTL); n != 1 {
		t.Fatalf("remaining: got %d, want 1", n)
	}
	if _, ok := l.limiters["10.0.0.2"]; !ok {
		t.Error("recently seen IP was dropped")
	}
}

func TestIPLimiters_runStopsWithContext(t *testing.T) {
	l := newIPLimiters(1, 1)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		l.run(ctx, time.Hour)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}

func TestServer_closeStopsRateLimiterSweeper(t *testing.T) {
	srv := New("https://storage.test", WithRateLimit(1))
	srv.APIHandler()
	srv.Close()
	srv.Close()

	select {
	case <-srv.ctx.Done():
	default:
		t.Fatal("Close did not cancel the server context")
	}
}
