// Command navigator serves breadcrumb trails and navigation menus for
// the drive explorer.
package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mosacloud/drive/internal/api"
	"github.com/mosacloud/drive/internal/auth"
	"github.com/mosacloud/drive/internal/config"
	"github.com/mosacloud/drive/internal/drive"
	"github.com/mosacloud/drive/internal/events"
	"github.com/mosacloud/drive/internal/logging"
	"github.com/mosacloud/drive/internal/metrics"
	"github.com/mosacloud/drive/internal/navigation"
	"github.com/mosacloud/drive/internal/ratelimit"
	"github.com/mosacloud/drive/internal/retry"
	"github.com/mosacloud/drive/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("navigator starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("drive_api", cfg.DriveAPIURL))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Session storage
	sessions, err := session.NewBackend(ctx, session.Options{
		Kind:          cfg.SessionBackend,
		DatabaseURL:   cfg.DatabaseURL,
		SQLitePath:    cfg.SQLitePath,
		MigrationsDir: cfg.MigrationsDir,
		Secret:        cfg.SessionSecret,
		Cookie:        session.CookieOptions{Secure: cfg.SessionCookieSecure},
	})
	if err != nil {
		logging.Fatal("session backend init failed", zap.Error(err))
	}
	defer sessions.Close()
	logging.Info("session backend initialized", zap.String("backend", sessions.Name()))

	// Drive API
	client := drive.NewClient(drive.Config{
		BaseURL:     cfg.DriveAPIURL,
		Timeout:     cfg.DriveAPITimeout,
		RetryConfig: retry.DefaultConfig(),
	})
	defer client.Close()
	cached := drive.NewCachedLookup(client, cfg.LookupCacheTTL, cfg.LookupCacheSize)
	lookup := auth.PrincipalLookup{Lookup: cached}

	// Auth (optional)
	var oidcVerifier *auth.OIDCVerifier
	if cfg.OIDCIssuerURL != "" {
		oidcVerifier, err = auth.NewOIDCVerifier(ctx, auth.OIDCConfig{
			IssuerURL: cfg.OIDCIssuerURL,
			ClientID:  cfg.OIDCClientID,
		})
		if err != nil {
			logging.Fatal("OIDC provider init failed", zap.Error(err))
		}
	}
	authenticator := auth.New(auth.NewJWTVerifier(cfg.JWTSecret), oidcVerifier)
	if authenticator.Enabled() {
		logging.Info("bearer token verification enabled")
	}

	// Events
	broadcaster := events.NewBroadcaster()
	if cfg.NATSURL != "" {
		nc, err := events.ConnectNATS(cfg.NATSURL, "drive-navigator")
		if err != nil {
			logging.Fatal("NATS connection failed", zap.Error(err))
		}
		defer nc.Drain()
		relay := events.NewRelay(broadcaster, nc, cfg.NATSSubjectPrefix)
		go relay.Run(ctx)
		logging.Info("NATS relay started",
			zap.String("url", cfg.NATSURL),
			zap.String("subjects", relay.Subject(">")))
	}

	tracker := navigation.NewTracker(lookup,
		navigation.WithPublisher(broadcaster),
		navigation.WithLookupTimeout(cfg.LookupTimeout),
	)

	limiter := ratelimit.New()
	srv := api.NewServer(api.Deps{
		Tracker:           tracker,
		Lookup:            lookup,
		Sessions:          sessions,
		Auth:              authenticator,
		Limiter:           limiter,
		RequestsPerMinute: cfg.RequestsPerMinute,
		Broadcaster:       broadcaster,
		Pinger:            client,
	})

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.TLSEnabled() {
		httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()

		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		httpServer.Shutdown(shutdownCtx)
		metricsServer.Close()
	}()

	// SIGHUP re-reads LOG_LEVEL
	go func() {
		hupCh := make(chan os.Signal, 1)
		signal.Notify(hupCh, syscall.SIGHUP)
		for {
			select {
			case <-ctx.Done():
				return
			case <-hupCh:
				reloaded, err := config.Load()
				if err != nil {
					logging.Error("config reload failed", zap.Error(err))
					continue
				}
				if err := logging.SetLevel(reloaded.LogLevel); err != nil {
					logging.Error("invalid log level", zap.String("level", reloaded.LogLevel), zap.Error(err))
					continue
				}
				logging.Info("log level reloaded", zap.String("level", logging.Level()))
			}
		}
	}()

	// Idle session purge and rate limiter cleanup
	go func() {
		ticker := time.NewTicker(15 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				limiter.Cleanup(time.Hour)
				n, err := sessions.Purge(ctx, cfg.SessionTTL)
				if err != nil {
					logging.Error("session purge failed", zap.Error(err))
					continue
				}
				if n > 0 {
					logging.Info("purged idle navigation sessions", logging.Int("count", int(n)))
				}
			}
		}
	}()

	if cfg.TLSEnabled() {
		logging.Info("server listening (TLS 1.3)",
			zap.String("addr", cfg.ListenAddr),
			zap.String("cert", cfg.TLSCertFile))
		if err := httpServer.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile); err != http.ErrServerClosed {
			logging.Fatal("server error", zap.Error(err))
		}
	} else {
		logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Fatal("server error", zap.Error(err))
		}
	}
}
