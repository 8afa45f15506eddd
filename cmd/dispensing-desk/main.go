package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/dispensing-desk/internal/config"
	"github.com/ehr/dispensing-desk/internal/domain/dispensing"
	"github.com/ehr/dispensing-desk/internal/domain/returns"
	"github.com/ehr/dispensing-desk/internal/platform/audittrail"
	"github.com/ehr/dispensing-desk/internal/platform/auth"
	"github.com/ehr/dispensing-desk/internal/platform/db"
	"github.com/ehr/dispensing-desk/internal/platform/metrics"
	"github.com/ehr/dispensing-desk/internal/platform/middleware"
	"github.com/ehr/dispensing-desk/internal/platform/pharmacyapi"
	"github.com/ehr/dispensing-desk/internal/platform/telemetry"
	"github.com/ehr/dispensing-desk/internal/platform/workspace"
)

var version = "dev"

const (
	requestTimeout  = 30 * time.Second
	janitorInterval = time.Minute
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dispensing-desk",
		Short: "Pharmacy dispensing and returns desk",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the dispensing desk API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run audit database migrations",
	}
	cmd.PersistentFlags().String("dir", "./migrations", "Path to migrations directory")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withMigrator(cmd.Context(), dir, func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withMigrator(cmd.Context(), dir, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				for _, s := range statuses {
					status, appliedAt := "pending", ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	})

	return cmd
}

func withMigrator(ctx context.Context, dir string, fn func(context.Context, *db.Migrator) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, db.NewMigrator(pool, dir))
}

func poolConfig(cfg *config.Config) db.PoolConfig {
	return db.PoolConfig{
		URL:             cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		ApplicationName: "dispensing-desk",
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV"))

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "dispensing-desk",
		ServiceVersion: version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     cfg.OTELSampleRate,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise tracing")
	}

	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to audit database")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a := newApp(cfg, logger, pool, reg)
	go a.sessions.RunJanitor(ctx, janitorInterval, func(n int) {
		a.metrics.SessionsClosed(n)
		logger.Info().Int("count", n).Msg("expired dispensing sessions dropped")
	})
	go a.drafts.RunJanitor(ctx, janitorInterval, func(n int) {
		logger.Info().Int("count", n).Msg("expired return drafts dropped")
	})

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("auth_mode", cfg.ResolvedAuthMode()).Msg("starting server")
		if err := a.e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("tracer shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// app is the wired HTTP surface of the desk.
type app struct {
	e        *echo.Echo
	sessions *workspace.Store[*dispensing.Session]
	drafts   *workspace.Store[*returns.Draft]
	metrics  *metrics.Metrics
}

// newApp wires the desk. Without a pool, audit entries go to the log and
// the audit listing and database health routes are not registered.
func newApp(cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool, reg *prometheus.Registry) *app {
	m := metrics.New(reg)

	backend := pharmacyapi.NewClient(cfg.PharmacyAPIURL,
		pharmacyapi.WithHTTPClient(&http.Client{Timeout: cfg.PharmacyAPITimeout}),
		pharmacyapi.WithLogger(logger.With().Str("component", "pharmacyapi").Logger()),
		pharmacyapi.WithMetrics(m),
		pharmacyapi.WithBreaker(pharmacyapi.BreakerConfig{
			FailureThreshold: cfg.BreakerFailureThreshold,
			OpenTimeout:      cfg.BreakerOpenTimeout,
			HalfOpenRequests: 1,
		}),
		pharmacyapi.WithTokenSource(auth.TokenFromContext),
	)

	var recorder audittrail.Recorder = audittrail.LogRecorder{Logger: logger.With().Str("component", "audit").Logger()}
	var auditStore *audittrail.PGStore
	if pool != nil {
		auditStore = audittrail.NewPGStore(pool)
		recorder = auditStore
	}

	sessions := workspace.NewStore[*dispensing.Session](cfg.SessionTTL)
	dispensingSvc := dispensing.NewService(backend, sessions, logger)
	dispensingSvc.SetAuditRecorder(recorder)
	dispensingSvc.SetMetrics(m)

	drafts := workspace.NewStore[*returns.Draft](cfg.SessionTTL)
	returnsSvc := returns.NewService(backend, drafts, logger)
	returnsSvc.SetAuditRecorder(recorder)
	returnsSvc.SetMetrics(m)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(telemetry.TracingMiddleware(nil))
	e.Use(m.Middleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1MB"))
	e.Use(middleware.RequestTimeout(requestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	// Operational endpoints
	e.GET("/metrics", echo.WrapHandler(metrics.Handler(reg)))
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	if pool != nil {
		e.GET("/health/db", db.HealthHandler(pool))
	}

	// Auth applies to the API only
	jwtCfg := auth.JWTConfig{
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
		JWKSURL:  cfg.AuthJWKSURL,
	}
	if cfg.AuthSigningKey != "" {
		jwtCfg.SigningKey = []byte(cfg.AuthSigningKey)
	}
	var authMW echo.MiddlewareFunc
	if cfg.ResolvedAuthMode() == "development" {
		authMW = auth.DevAuthMiddleware(jwtCfg)
	} else {
		authMW = auth.JWTMiddleware(jwtCfg)
	}

	apiV1 := e.Group("/api/v1", authMW)
	dispensing.NewHandler(dispensingSvc).RegisterRoutes(apiV1)
	returns.NewHandler(returnsSvc).RegisterRoutes(apiV1)
	if auditStore != nil {
		audittrail.NewHandler(auditStore).RegisterRoutes(apiV1)
	}

	return &app{e: e, sessions: sessions, drafts: drafts, metrics: m}
}
