package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/codicle/authcore"
	"github.com/codicle/authcore/identity"
	"github.com/codicle/authcore/identity/postgres"
	"github.com/codicle/authcore/internal/config"
	"github.com/codicle/authcore/metrics/export/prometheus"
	"github.com/codicle/authcore/notify"
	"github.com/codicle/authcore/transport/httpapi"
)

const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API. With --dev the server uses an in-process Redis,
an in-memory identity store and logs outgoing mail instead of sending it.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, f)
		},
	}

	def := config.Default()
	cmd.Flags().Bool("dev", false, "use in-process Redis, in-memory identities and logged mail")
	cmd.Flags().String("listen", def.Listen, "HTTP listen address")
	cmd.Flags().String("log_format", def.LogFormat, "log format (json or text)")
	cmd.Flags().String("log_level", def.LogLevel, "log level (debug, info, warn, error)")
	cmd.Flags().String("redis.addr", def.Redis.Addr, "Redis address")
	cmd.Flags().String("database_url", "", "PostgreSQL URL (default: $DATABASE_URL)")
	cmd.Flags().Bool("migrate", false, "apply identity migrations before serving")

	return cmd
}

// backends are the collaborators the Engine is built over.
type backends struct {
	redis      redis.UniversalClient
	identities identity.Store
	notifier   notify.Notifier
	closers    []func()
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func openBackends(ctx context.Context, f config.File, logger *slog.Logger) (*backends, error) {
	b := &backends{}

	if f.Dev {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, oops.Code("REDIS_UNAVAILABLE").With("operation", "start embedded redis").Wrap(err)
		}
		b.closers = append(b.closers, mr.Close)
		b.redis = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		b.identities = identity.NewMemoryStore()
		b.notifier = notify.NewLogNotifier(logger)
		logger.Warn("dev mode: state is in memory and mail is logged, not sent", "redis", mr.Addr())
	} else {
		b.redis = redis.NewClient(&redis.Options{Addr: f.Redis.Addr, Password: f.Redis.Password, DB: f.Redis.DB})

		pool, err := pgxpool.New(ctx, f.DatabaseURL)
		if err != nil {
			_ = b.redis.Close()
			return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
		}
		b.closers = append(b.closers, pool.Close)
		b.identities = postgres.NewStore(pool)

		smtp, err := notify.NewSMTPNotifier(f.SMTPConfig())
		if err != nil {
			b.close()
			_ = b.redis.Close()
			return nil, oops.Code("CONFIG_INVALID").With("operation", "configure smtp").Wrap(err)
		}
		b.notifier = notify.NewRetrying(smtp, f.RetryConfig())
	}
	b.closers = append(b.closers, func() { _ = b.redis.Close() })

	if err := b.redis.Ping(ctx).Err(); err != nil {
		b.close()
		return nil, oops.Code("REDIS_UNAVAILABLE").With("operation", "ping redis").With("addr", f.Redis.Addr).Wrap(err)
	}
	return b, nil
}

func buildEngine(f config.File, b *backends, logger *slog.Logger) (*authcore.Engine, error) {
	cfg, err := f.EngineConfig()
	if err != nil {
		return nil, err
	}

	builder := authcore.New().
		WithConfig(cfg).
		WithRedis(b.redis).
		WithIdentityStore(b.identities).
		WithNotifier(b.notifier).
		WithLogger(logger)
	switch f.Audit.Sink {
	case "slog":
		builder = builder.WithAuditSink(authcore.NewSlogSink(logger.With("component", "audit")))
	case "json":
		builder = builder.WithAuditSink(authcore.NewJSONWriterSink(os.Stdout))
	}

	engine, err := builder.Build()
	if err != nil {
		return nil, oops.Code("ENGINE_INVALID").With("operation", "build engine").Wrap(err)
	}
	return engine, nil
}

func runServe(ctx context.Context, f config.File) error {
	logger := newLogger(os.Stderr, f.LogFormat, f.LogLevel)

	if f.Migrate && !f.Dev {
		if err := applyMigrations(f.DatabaseURL, logger); err != nil {
			return err
		}
	}

	b, err := openBackends(ctx, f, logger)
	if err != nil {
		return err
	}
	defer b.close()

	engine, err := buildEngine(f, b, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	report := engine.SecurityReport()
	for _, w := range report.Warnings {
		logger.Warn("security posture", "warning", w)
	}

	opts := httpapi.Options{
		Logger:         logger,
		ExternalSecret: f.ExternalSecret,
		TrustProxy:     f.TrustProxy,
	}
	if f.Metrics.Enabled {
		exp, err := prometheus.NewExporter(engine)
		if err != nil {
			return oops.Code("METRICS_INVALID").Wrap(err)
		}
		opts.Metrics = exp.Handler()
	}

	srv := &http.Server{
		Addr:              f.Listen,
		Handler:           httpapi.NewRouter(engine, opts),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", f.Listen, "dev", f.Dev)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return oops.Code("LISTEN_FAILED").With("addr", f.Listen).Wrap(err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return oops.Code("SHUTDOWN_FAILED").Wrap(err)
	}
	if err := engine.Shutdown(shutdownCtx); err != nil {
		logger.Warn("audit events not flushed before exit", "error", err, "dropped", engine.AuditDroppedByType())
	}
	return nil
}
