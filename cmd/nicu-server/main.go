package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nicu/nicu/internal/config"
	"github.com/nicu/nicu/internal/domain/alarm"
	"github.com/nicu/nicu/internal/domain/escalation"
	"github.com/nicu/nicu/internal/domain/ingestlog"
	"github.com/nicu/nicu/internal/domain/vitals"
	"github.com/nicu/nicu/internal/platform/auth"
	"github.com/nicu/nicu/internal/platform/db"
	"github.com/nicu/nicu/internal/platform/events"
	"github.com/nicu/nicu/internal/platform/metrics"
	"github.com/nicu/nicu/internal/platform/middleware"
	"github.com/nicu/nicu/internal/platform/mqtt"
	"github.com/nicu/nicu/migrations"
)

const version = "0.1.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "nicu-server",
		Short: "NICU vitals ingestion and alarm server",
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(mqttCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API (and the MQTT bridge when MQTT_BROKER is set)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func mqttCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mqtt",
		Short: "Run only the MQTT bridge and ingestion pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBridge()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})

	return cmd
}

func connect(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// services is the pipeline shared by the HTTP server and the MQTT bridge.
type services struct {
	metrics    *metrics.Metrics
	vitals     *vitals.Service
	alarms     *alarm.Service
	escalation *escalation.Service
	ingestLog  *ingestlog.Service
	redis      *redis.Client
}

func buildServices(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) *services {
	s := &services{}
	if cfg.MetricsEnabled {
		s.metrics = metrics.New(prometheus.NewRegistry())
	}

	s.ingestLog = ingestlog.NewService(ingestlog.NewEntryRepoPG(pool), logger, s.metrics)
	s.escalation = escalation.NewService(
		escalation.NewStaffDirectoryPG(pool), escalation.NewNotificationRepoPG(pool), logger, s.metrics)
	s.alarms = alarm.NewService(alarm.NewLimitsRepoPG(pool), alarm.NewAlarmRepoPG(pool), logger, s.metrics)

	if cfg.RedisURL != "" {
		client, err := events.Connect(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, alarm stream disabled")
		} else {
			s.redis = client
			s.alarms.SetPublisher(events.NewStreamPublisher(client, cfg.AlarmStream))
			logger.Info().Str("stream", cfg.AlarmStream).Msg("alarm stream enabled")
		}
	}

	s.vitals = vitals.NewService(
		vitals.NewRecordRepoPG(pool),
		vitals.NewPatientRepoPG(pool),
		s.alarms,
		s.escalation,
		s.ingestLog,
		vitals.Config{
			ConfidenceThreshold: cfg.ConfidenceThreshold,
			SmoothingEnabled:    cfg.TemporalSmoothingEnabled,
			WindowSize:          cfg.SmoothingWindowSize,
			Timeout:             cfg.IngestTimeout,
		},
		logger,
		s.metrics,
	)
	return s
}

func (s *services) close() {
	if s.redis != nil {
		s.redis.Close()
	}
}

func bridgeConfig(cfg *config.Config) mqtt.Config {
	return mqtt.Config{
		Broker:   cfg.MQTTBroker,
		ClientID: cfg.MQTTClientID,
		Username: cfg.MQTTUsername,
		Password: cfg.MQTTPassword,
		Topic:    cfg.MQTTTopic,
	}
}

// isIngestRoute exempts the ingest endpoints from the staff rate limiter;
// they carry their own per-device limiter.
func isIngestRoute(c echo.Context) bool {
	return strings.HasSuffix(c.Path(), "/vitals/ingest")
}

func loadRuntime() (*config.Config, zerolog.Logger, error) {
	logger := newLogger(os.Getenv("ENV"))
	cfg, err := config.Load()
	if err != nil {
		return nil, logger, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, logger, err
	}
	return cfg, newLogger(cfg.Env), nil
}

func runServer() error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	pool, err := db.NewPool(rootCtx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	svc := buildServices(rootCtx, cfg, pool, logger)
	defer svc.close()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	if svc.metrics != nil {
		e.Use(svc.metrics.Middleware())
		e.GET("/metrics", echo.WrapHandler(svc.metrics.Handler()))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool, func() *db.PoolStats { return db.GetPoolStats(pool) }))

	var authMW echo.MiddlewareFunc
	if cfg.IsDev() {
		authMW = auth.DevAuthMiddleware()
	} else {
		authMW = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		})
	}

	staffLimit := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if staffLimit.RequestsPerSecond <= 0 {
		staffLimit = middleware.DefaultRateLimitConfig()
	}
	staffLimit.Skipper = isIngestRoute

	apiV1 := e.Group("/api/v1", authMW, middleware.RateLimit(staffLimit))
	legacy := e.Group("/api", authMW)

	ingestLimit := middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.IngestRateLimitRPS,
		BurstSize:         cfg.IngestRateLimitBurst,
		KeyFunc:           middleware.DeviceKey,
	})

	vitals.NewHandler(svc.vitals).RegisterRoutes(apiV1, legacy, ingestLimit)
	alarm.NewHandler(svc.alarms).RegisterRoutes(apiV1)
	escalation.NewHandler(svc.escalation).RegisterRoutes(apiV1)
	ingestlog.NewHandler(svc.ingestLog).RegisterRoutes(apiV1)

	if cfg.MQTTEnabled() {
		bridge := mqtt.NewBridge(bridgeConfig(cfg), svc.vitals, logger, svc.metrics)
		if err := bridge.Start(rootCtx); err != nil {
			logger.Error().Err(err).Msg("MQTT bridge failed to start, continuing with HTTP only")
		} else {
			defer bridge.Stop()
		}
	}

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	waitForSignal()

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func runBridge() error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if !cfg.MQTTEnabled() {
		return fmt.Errorf("MQTT_BROKER must be set to run the bridge")
	}

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	pool, err := db.NewPool(rootCtx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	svc := buildServices(rootCtx, cfg, pool, logger)
	defer svc.close()

	bridge := mqtt.NewBridge(bridgeConfig(cfg), svc.vitals, logger, svc.metrics)
	if err := bridge.Start(rootCtx); err != nil {
		return err
	}
	defer bridge.Stop()

	waitForSignal()
	logger.Info().Msg("bridge stopping")
	return nil
}

func waitForSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
}
