package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"fotoagenda/internal/agenda"
	"fotoagenda/internal/api"
	"fotoagenda/internal/booking"
	"fotoagenda/internal/config"
	"fotoagenda/internal/database"
	"fotoagenda/internal/events"
	"fotoagenda/internal/flow"
	"fotoagenda/internal/google"
	"fotoagenda/internal/metrics"
	"fotoagenda/internal/notify"
	"fotoagenda/internal/state"
)

func main() {
	_ = godotenv.Load()

	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("FOTOAGENDA_CONFIG"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Logging.Format == "json" {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		logger = logger.Level(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer db.Close()

	err = config.WatchCatalog(ctx, cfg.CatalogPath, cfg.CatalogWatchInterval(), &logger, func(c *config.CatalogConfig) {
		if err := db.SyncCatalog(ctx, c); err != nil {
			logger.Error().Err(err).Msg("Failed to sync catalog")
			return
		}
		logger.Info().Int("services", len(c.Services)).Msg("Catalog synced")
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("load catalog error")
	}

	loc := cfg.Location()
	bus := events.NewEventBus(&logger)
	core := booking.NewService(db, loc, bus, &logger)
	core.AllowPastManual(cfg.Booking.AllowPastManual)

	var rdb *redis.Client
	var states state.Store = state.NewDBStore(db)
	var limiter state.Limiter = state.NewMemoryLimiter(cfg.WhatsApp.MessagesPerMinute)
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		states = state.NewFailoverStore(state.NewRedisStore(rdb, cfg.StateTTL()), states, &logger)
		limiter = state.FailOpen{Limiter: state.NewRedisLimiter(rdb, cfg.WhatsApp.MessagesPerMinute, time.Minute)}
	}

	chatFlow, err := flow.LoadOrDefault(cfg.FlowPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("load flow error")
	}
	router := flow.NewRouter(chatFlow, db.Queries, db.Queries, core, states, bus, flow.RouterConfig{
		BaseURL:         cfg.Server.PublicBaseURL,
		DefaultQuoteURL: cfg.WhatsApp.DefaultQuoteURL,
	}, &logger)

	if cfg.Telegram.BotToken != "" {
		botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
		if err != nil {
			logger.Fatal().Err(err).Msg("create telegram bot error")
		}
		notifier := notify.NewNotifier(botAPI, cfg.Telegram.ManagerChats, cfg.Server.PublicBaseURL, db.Queries, loc, &logger)
		notifier.Subscribe(bus)
		go notifier.StartDigest(ctx, cfg.Telegram.DigestHour)
	}

	if cfg.Sheets.Enabled {
		sheets, err := google.NewSheetsService(ctx, cfg.Sheets.CredentialsFile, cfg.Sheets.SpreadsheetID, cfg.Sheets.SheetName, &logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("create sheets service error")
		}
		sheets.Subscribe(bus)
	}

	if cfg.Backup.Enabled {
		go database.NewBackupService(db, cfg.Backup, &logger).Start(ctx, cfg.BackupInterval())
	}

	if cfg.Monitoring.HealthCheckPort == 0 {
		cfg.Monitoring.HealthCheckPort = 8090
	}
	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, db, rdb, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	server := api.NewHTTPServer(api.Config{
		Port:               cfg.Server.Port,
		APIKeys:            cfg.Server.APIKeys,
		VerifyToken:        cfg.WhatsApp.VerifyToken,
		RateLimitPerSecond: cfg.Server.RateLimitPerSecond,
		RateLimitBurst:     cfg.Server.RateLimitBurst,
		TrustedProxies:     cfg.Server.TrustedProxies,
	}, agenda.New(core, db.Queries, cfg.Booking.DashboardPerPage, &logger), router, flow.NewLogSender(&logger), limiter, &logger)

	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctxShutdown)
	}()

	logger.Info().Str("flow", chatFlow.Name).Msg("Booking assistant started")
	if err := server.Start(); err != nil {
		logger.Error().Err(err).Msg("http server error")
	}
}

func startHealthServer(ctx context.Context, port int, db *database.DB, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := db.PingContext(ctxPing); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
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
