package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/textsecure/internal/config"
	"github.com/jmerrifield20/textsecure/internal/credentials"
	"github.com/jmerrifield20/textsecure/internal/devca"
	"github.com/jmerrifield20/textsecure/internal/metrics"
	"github.com/jmerrifield20/textsecure/pkg/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile   string
	serverURL string
	verbose   bool
	format    string
)

// session is everything a command needs, built once per invocation.
type session struct {
	cfg     *config.Config
	logger  *zap.Logger
	api     *client.Client
	cleanup []func()
}

var sess *session

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tsctl",
	Short: "TextSecure server client",
	Long: `tsctl talks to a TextSecure messaging server.

It registers a device, manages its pre-keys, sends encrypted message
batches and moves attachments. Settings come from ~/.textsecure/config.yaml
and TEXTSECURE_* environment variables; flags override both.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd == versionCmd {
			return nil
		}
		if format != "text" && format != "json" {
			return fmt.Errorf("--format must be text or json, got %q", format)
		}
		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		sess = s
		return nil
	},
}

func init() {
	cobra.OnFinalize(func() {
		if sess != nil {
			sess.close()
			sess = nil
		}
	})

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.textsecure/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server URL (overrides server.url)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log every exchange to stderr")
	rootCmd.PersistentFlags().StringVar(&format, "format", "text", "output format: text or json")

	rootCmd.AddCommand(requestCodeCmd)
	rootCmd.AddCommand(confirmCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(attachmentCmd)
	rootCmd.AddCommand(wsURLCmd)
	rootCmd.AddCommand(versionCmd)
}

func newLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

func openSession(ctx context.Context) (*session, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if serverURL != "" {
		cfg.Server.URL = serverURL
	}

	logger, err := newLogger()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	s := &session{cfg: cfg, logger: logger}
	s.cleanup = append(s.cleanup, func() { _ = logger.Sync() })

	store, err := s.openCredentials(ctx)
	if err != nil {
		s.close()
		return nil, err
	}

	hc := &http.Client{Timeout: cfg.Server.Timeout}
	if cfg.Server.CAFile != "" {
		pool, err := devca.LoadCertPool(cfg.Server.CAFile)
		if err != nil {
			s.close()
			return nil, err
		}
		hc.Transport = &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12},
		}
	}

	opts := []client.Option{
		client.WithHTTPClient(hc),
		client.WithLogger(logger),
		client.WithCredentialStore(store),
		client.WithAttachmentHost(cfg.Server.AttachmentHost),
	}
	if cfg.Server.RateLimitRPS > 0 {
		opts = append(opts, client.WithRateLimit(cfg.Server.RateLimitRPS, 1))
	}
	if cfg.Metrics.Port > 0 {
		opts = append(opts, client.WithObserver(s.serveMetrics(cfg.Metrics.Port)))
	}

	api, err := client.New(cfg.Server.URL, opts...)
	if err != nil {
		s.close()
		return nil, err
	}
	s.api = api
	return s, nil
}

func (s *session) openCredentials(ctx context.Context) (client.CredentialStore, error) {
	c := s.cfg.Credentials
	switch c.Source {
	case config.SourcePostgres:
		pool, err := pgxpool.New(ctx, s.cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		s.cleanup = append(s.cleanup, pool.Close)
		return credentials.NewPostgresStore(pool, c.Profile, s.logger), nil
	default:
		return credentials.NewStaticStore(c.Number, c.DeviceID, c.Password)
	}
}

// serveMetrics exposes exchange metrics for the lifetime of the command,
// which matters for long uploads and downloads.
func (s *session) serveMetrics(port int) client.Observer {
	reg := prometheus.NewRegistry()
	rec := metrics.NewRecorder(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{
		Addr:              net.JoinHostPort("127.0.0.1", strconv.Itoa(port)),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("metrics listener failed", zap.Error(err))
		}
	}()
	s.cleanup = append(s.cleanup, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return rec
}

func (s *session) close() {
	for i := len(s.cleanup) - 1; i >= 0; i-- {
		s.cleanup[i]()
	}
	s.cleanup = nil
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the tsctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "tsctl %s\n", version)
	},
}
