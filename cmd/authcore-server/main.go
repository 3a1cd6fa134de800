// Command authcore-server serves the auth routes backed by Postgres and
// Redis. Configuration comes from the environment; see internal/config.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/counterstore"
	"github.com/MrEthical07/authcore/httpapi"
	"github.com/MrEthical07/authcore/internal/config"
	"github.com/MrEthical07/authcore/mailer"
	otelexport "github.com/MrEthical07/authcore/metrics/export/otel"
	"github.com/MrEthical07/authcore/metrics/export/prometheus"
	"github.com/MrEthical07/authcore/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
	logger.Info().Msg("server stopped")
}

func newLogger(cfg config.Config) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.LogPretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(cfg.Level()).With().Timestamp().Str("service", "authcore").Logger()
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}

	rdb, err := counterstore.New(cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()
	if err := counterstore.Ping(ctx, rdb); err != nil {
		return err
	}

	var notifier mailer.Notifier = mailer.NewLogNotifier(logger, cfg.Mail.AppURL)
	if cfg.MailEnabled() {
		if notifier, err = mailer.NewSMTPNotifier(cfg.Mail, logger); err != nil {
			return err
		}
	} else {
		logger.Warn().Msg("SMTP_HOST not set, mail is logged instead of sent")
	}

	engineCfg := authcore.DefaultConfig()
	engineCfg.Password.BreachCheck = cfg.BreachCheck
	engineCfg.Passkey.RPID = cfg.PasskeyRPID
	engineCfg.Passkey.Origins = cfg.PasskeyOrigins
	engineCfg.TwoFactor.Issuer = cfg.TOTPIssuer
	engineCfg.Audit.Enabled = cfg.AuditLog
	engineCfg.Metrics.Enabled = cfg.Metrics != "none"

	engine, err := authcore.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithStore(postgres.New(pool)).
		WithNotifier(notifier).
		WithAuditSink(authcore.NewZerologAuditSink(logger)).
		WithLogger(logger).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	trusted, err := httpapi.ParseTrustedProxies(cfg.HTTP.TrustedProxies)
	if err != nil {
		return fmt.Errorf("trusted proxies: %w", err)
	}
	api := httpapi.NewHandler(engine, httpapi.Config{
		CookieSecure:   cfg.HTTP.CookieSecure,
		TrustedProxies: trusted,
	}, logger)

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := counterstore.Ping(req.Context(), rdb); err != nil {
			http.Error(w, "counter store unavailable", http.StatusServiceUnavailable)
			return
		}
		if err := pool.Ping(req.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	switch cfg.Metrics {
	case "prometheus":
		r.Handle("/metrics", prometheus.New(engine).Handler())
	case "otel":
		// Reports through whatever MeterProvider the process installed
		// globally.
		exp, err := otelexport.New(otel.GetMeterProvider().Meter("github.com/MrEthical07/authcore"), engine)
		if err != nil {
			return fmt.Errorf("otel exporter: %w", err)
		}
		defer exp.Close()
	}
	r.Mount("/", api.Router())

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTP.Addr).Str("metrics", cfg.Metrics).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
