package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredislib "github.com/redis/go-redis/v9"

	"github.com/coinhost/billing/internal/api"
	"github.com/coinhost/billing/internal/billing"
	"github.com/coinhost/billing/internal/db"
	"github.com/coinhost/billing/internal/lock"
	"github.com/coinhost/billing/internal/metrics"
	"github.com/coinhost/billing/internal/pterodactyl"
)

const sweepLockName = "coinhost:billing-sweep"

// Config holds the process configuration.
type Config struct {
	Port              string
	DatabaseURL       string
	LogLevel          string
	PanelURL          string
	PanelAPIKey       string
	RedisURL          string
	BillingInterval   time.Duration
	SweepConcurrency  int
	GatewayTimeout    time.Duration
	RunMigrations     bool
	RateLimitRPS      float64
	RateLimitBurst    int
	ShutdownTimeout   time.Duration
	SweepLockDuration time.Duration
}

func main() {
	// .env is optional; real environment variables take precedence
	_ = godotenv.Load()

	cfg := loadConfig()
	setupLogging(cfg.LogLevel)

	if err := run(cfg); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if cfg.PanelURL == "" || cfg.PanelAPIKey == "" {
		return errors.New("PANEL_URL and PANEL_API_KEY are required")
	}

	slog.Info("starting coinhost billing server",
		"port", cfg.Port,
		"log_level", cfg.LogLevel,
		"billing_interval", cfg.BillingInterval.String(),
		"sweep_concurrency", cfg.SweepConcurrency,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Database
	dbClient, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer dbClient.Close()

	if cfg.RunMigrations {
		if err := dbClient.RunMigrations(ctx); err != nil {
			return err
		}
	}

	// 2. Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	billingMetrics := metrics.New(registry)

	// 3. Panel gateway
	panel := pterodactyl.New(cfg.PanelURL, cfg.PanelAPIKey)
	gateway := billing.NewPanelGateway(panel)

	// 4. Sweep lock
	locker, closeLocker, err := newLocker(cfg)
	if err != nil {
		return err
	}
	defer closeLocker()

	// 5. Billing engine
	hub := billing.NewHub()
	defer hub.Close()

	service := billing.NewService(dbClient, gateway,
		billing.WithLogger(slog.Default()),
		billing.WithMetrics(billingMetrics),
		billing.WithEvents(hub),
		billing.WithGatewayTimeout(cfg.GatewayTimeout),
		billing.WithSweepConcurrency(cfg.SweepConcurrency),
	)

	scheduler := billing.NewScheduler(service, locker,
		billing.WithInterval(cfg.BillingInterval),
		billing.WithSchedulerLogger(slog.Default()),
		billing.WithSchedulerMetrics(billingMetrics),
	)
	if err := scheduler.Start(ctx); err != nil {
		return err
	}

	// 6. HTTP server
	rateLimiter := api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go rateLimiter.Cleanup(ctx, 5*time.Minute, time.Hour)

	server, err := api.NewServer(&api.Config{
		DB:          dbClient,
		Engine:      service,
		Sweeper:     scheduler,
		Events:      hub,
		RateLimiter: rateLimiter,
		Metrics:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Long enough for an unpause: charge, panel call and refund
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", httpServer.Addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			<-scheduler.Stop().Done()
			return err
		}
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Ends event streams; Shutdown does not track hijacked connections
	hub.Close()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
		if err := httpServer.Close(); err != nil {
			slog.Error("server close failed", "error", err)
		}
	}

	// Wait for in-flight sweeps to return; each charge is atomic
	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		slog.Warn("billing sweep still running at shutdown")
	}

	slog.Info("server stopped gracefully")
	return nil
}

// newLocker returns the distributed Redis lock when REDIS_URL is set and an
// in-process lock otherwise.
func newLocker(cfg *Config) (lock.Locker, func(), error) {
	if cfg.RedisURL == "" {
		slog.Warn("REDIS_URL not set, billing sweep lock is process-local")
		return lock.NewLocal(), func() {}, nil
	}

	opts, err := goredislib.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	client := goredislib.NewClient(opts)
	closeFn := func() {
		if err := client.Close(); err != nil {
			slog.Warn("failed to close redis client", "error", err)
		}
	}
	return lock.NewRedis(client, sweepLockName, cfg.SweepLockDuration), closeFn, nil
}

// loadConfig reads configuration from environment variables with sensible defaults.
func loadConfig() *Config {
	return &Config{
		Port:              getEnv("PORT", "8080"),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		PanelURL:          getEnv("PANEL_URL", ""),
		PanelAPIKey:       getEnv("PANEL_API_KEY", ""),
		RedisURL:          getEnv("REDIS_URL", ""),
		BillingInterval:   getEnvDuration("BILLING_INTERVAL", billing.DefaultSweepInterval),
		SweepConcurrency:  getEnvInt("BILLING_SWEEP_CONCURRENCY", 1),
		GatewayTimeout:    getEnvDuration("GATEWAY_TIMEOUT", 15*time.Second),
		RunMigrations:     getEnvBool("RUN_MIGRATIONS", true),
		RateLimitRPS:      getEnvFloat("RATE_LIMIT_RPS", api.DefaultRateLimit),
		RateLimitBurst:    getEnvInt("RATE_LIMIT_BURST", api.DefaultRateBurst),
		ShutdownTimeout:   getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		SweepLockDuration: getEnvDuration("SWEEP_LOCK_EXPIRY", lock.DefaultExpiry),
	}
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration, using default", "key", key, "value", raw, "default", defaultValue.String())
		return defaultValue
	}
	return d
}

func getEnvInt(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		slog.Warn("invalid integer, using default", "key", key, "value", raw, "default", defaultValue)
		return defaultValue
	}
	return n
}

func getEnvFloat(key string, defaultValue float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f <= 0 {
		slog.Warn("invalid number, using default", "key", key, "value", raw, "default", defaultValue)
		return defaultValue
	}
	return f
}

func getEnvBool(key string, defaultValue bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		slog.Warn("invalid boolean, using default", "key", key, "value", raw, "default", defaultValue)
		return defaultValue
	}
	return b
}

// setupLogging configures the global slog logger with the specified level.
func setupLogging(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
