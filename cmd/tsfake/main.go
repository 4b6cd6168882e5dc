package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/textsecure/internal/config"
	"github.com/jmerrifield20/textsecure/internal/devca"
	"github.com/jmerrifield20/textsecure/internal/fakeserver"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	cfgFile := flag.String("config", "", "config file (default ~/.textsecure/config.yaml)")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(*cfgFile, logger); err != nil {
		logger.Fatal("tsfake exited with error", zap.Error(err))
	}
}

func run(cfgFile string, logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	fc := cfg.Fake

	// ── Storage TLS ──────────────────────────────────────────────────────────
	ca := devca.New(fc.CertDir)
	if err := ca.LoadOrCreate(); err != nil {
		return fmt.Errorf("CA setup failed: %w", err)
	}
	storageCert, err := ca.ServerCertificate([]string{fc.StorageHost, "127.0.0.1", "::1"}, 0)
	if err != nil {
		return fmt.Errorf("issue storage certificate: %w", err)
	}
	logger.Info("development CA ready; point server.ca_file at it",
		zap.String("ca_file", ca.CertPath()),
	)

	// ── Metrics ──────────────────────────────────────────────────────────────
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// ── Fake server ──────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	storageHost := net.JoinHostPort(fc.StorageHost, strconv.Itoa(fc.StoragePort))
	srv := fakeserver.New("https://"+storageHost,
		fakeserver.WithLogger(logger),
		fakeserver.WithRateLimit(fc.RateLimitRPS),
		fakeserver.WithCORSOrigins(fc.CORSOrigins),
		fakeserver.WithMetrics(fakeserver.NewHTTPMetrics(reg)),
	)
	defer srv.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/", srv.APIHandler())

	apiSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", fc.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	storageSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", fc.StoragePort),
		Handler:           srv.StorageHandler(),
		TLSConfig:         devca.TLSConfig(storageCert),
		ReadHeaderTimeout: 10 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("tsfake API listening", zap.Int("port", fc.Port))
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("API listen error", zap.Error(err))
		}
	}()
	go func() {
		logger.Info("tsfake storage listening",
			zap.Int("port", fc.StoragePort),
			zap.String("attachment_host", storageHost),
		)
		if err := storageSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("storage listen error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	<-quit
	logger.Info("shutting down tsfake...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := apiSrv.Shutdown(ctx); err != nil {
		logger.Error("API shutdown error", zap.Error(err))
	}
	if err := storageSrv.Shutdown(ctx); err != nil {
		logger.Error("storage shutdown error", zap.Error(err))
	}

	logger.Info("tsfake stopped")
	return nil
}
