package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"okoshko/internal/api"
	"okoshko/internal/config"
	"okoshko/internal/events"
	"okoshko/internal/metrics"
	"okoshko/internal/service"
	"okoshko/internal/slots"
	"okoshko/internal/storage"
	"okoshko/internal/storage/sheets"
	"okoshko/internal/storage/sqlite"
	"okoshko/internal/webhook"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

func main() {
	_ = godotenv.Load()

	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("OKOSHKO_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	local, err := sqlite.New(cfg.Database.Path, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open sqlite store")
	}
	defer local.Close()

	backup := sqlite.NewBackupService(cfg.Database.Path, sqlite.BackupConfig{
		Enabled:       cfg.Backup.Enabled,
		IntervalHours: cfg.Backup.IntervalHours,
		Path:          cfg.Backup.Path,
		RetentionDays: cfg.Backup.RetentionDays,
	}, &logger)
	go backup.Start(ctx)

	var store storage.Store = local
	if cfg.Sheets.SpreadsheetID != "" && cfg.Sheets.CredentialsFile != "" {
		primary, err := sheets.New(ctx, cfg.Sheets.CredentialsFile, cfg.Sheets.SpreadsheetID, &logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("open sheets store")
		}
		store = storage.NewFailoverStore(primary, local, &logger)
	} else {
		logger.Warn().Msg("sheets not configured, using sqlite only")
	}

	loc := time.Local
	if cfg.Booking.Timezone != "" {
		loc, err = time.LoadLocation(cfg.Booking.Timezone)
		if err != nil {
			logger.Fatal().Err(err).Str("timezone", cfg.Booking.Timezone).Msg("load timezone")
		}
	}

	bus := events.NewBus()
	notifier := webhook.NewNotifier(cfg.Webhook.CallbackURL, &logger)
	notifier.Subscribe(bus)

	svc := service.New(store, bus, slots.NewGenerator(loc), &logger)

	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.Booking.PurgeSchedule, func() {
		if _, err := svc.PurgeExpired(context.Background(), time.Now()); err != nil {
			logger.Error().Err(err).Msg("purge expired slots")
		}
	})
	if err != nil {
		logger.Fatal().Err(err).Str("schedule", cfg.Booking.PurgeSchedule).Msg("bad purge schedule")
	}
	scheduler.Start()
	defer scheduler.Stop()

	metrics.Register()
	go startMetricsServer(ctx, cfg.Server.MetricsPort, &logger)

	adminIDs := make(map[string]struct{}, len(cfg.Admin.IDs))
	for _, id := range cfg.Admin.IDs {
		adminIDs[strconv.FormatInt(id, 10)] = struct{}{}
	}
	server := api.NewServer(svc, api.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
		AdminIDs:       adminIDs,
	}, &logger)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: server.Router(),
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()

	logger.Info().Int("port", cfg.Server.Port).Msg("booking API started")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("api server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
