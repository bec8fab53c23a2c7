package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/speedwagon-io/vmc/internal/api"
	"github.com/speedwagon-io/vmc/internal/archive"
	"github.com/speedwagon-io/vmc/internal/auth"
	"github.com/speedwagon-io/vmc/internal/buffer"
	"github.com/speedwagon-io/vmc/internal/cache"
	"github.com/speedwagon-io/vmc/internal/collector"
	"github.com/speedwagon-io/vmc/internal/collector/adapters"
	"github.com/speedwagon-io/vmc/internal/config"
	"github.com/speedwagon-io/vmc/internal/health"
	"github.com/speedwagon-io/vmc/internal/history"
	"github.com/speedwagon-io/vmc/internal/lib/logger/sl"
	"github.com/speedwagon-io/vmc/internal/sender"
	"github.com/speedwagon-io/vmc/internal/storage/mysql"
	"github.com/speedwagon-io/vmc/internal/websocket"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config file")
	dryRun := flag.Bool("dry-run", false, "log snapshots instead of publishing them")
	flag.Parse()

	cfg := config.MustLoad(*configPath)

	log := sl.SetupLogger(cfg.Log.Level, cfg.Log.Format)

	log.Info("starting VMC server",
		slog.String("env", cfg.Env),
		slog.Bool("dry_run", *dryRun),
	)

	device := config.MustLoadDevice(cfg.Device.ConfigPath)

	log.Info("loaded device config",
		slog.String("device_id", device.DeviceID),
		slog.String("device_name", device.DeviceName),
		slog.String("address", device.Connection.Address),
		slog.Int("sensors", len(device.Sensors)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := mysql.Open(ctx, &cfg.MySQL)
	if err != nil {
		log.Error("failed to open mysql", sl.Err(err))
		os.Exit(1)
	}
	users := mysql.NewUserRepository(db)
	sessions := mysql.NewSessionRepository(db)

	modbus := adapters.NewModbusAdapter(log, device)

	var dataSender sender.Sender
	switch {
	case *dryRun || !cfg.Sender.Enabled:
		dataSender = sender.NewLogSender(log)
		log.Info("snapshots will be logged instead of published")
	default:
		mqttSender, err := sender.NewMQTTSender(log, &cfg.Sender)
		if err != nil {
			log.Error("failed to create mqtt sender", sl.Err(err))
			os.Exit(1)
		}
		dataSender = mqttSender
	}

	var buf buffer.Buffer
	var sqliteBuf *buffer.SQLiteBuffer
	if cfg.Buffer.Enabled && cfg.Sender.Enabled && !*dryRun {
		sqliteBuf, err = buffer.NewSQLiteBuffer(log, cfg.Buffer.Path)
		if err != nil {
			log.Error("failed to create buffer", sl.Err(err))
			os.Exit(1)
		}
		buf = sqliteBuf
		log.Info("buffer enabled", slog.String("path", cfg.Buffer.Path))
	}

	memory := history.NewMemoryStore(cfg.History.Capacity)
	hub := websocket.NewHub(log)
	go hub.Run(ctx)

	sinks := []collector.Sink{memory, hub}
	var latest api.LatestProvider = memory
	var values api.SensorValues

	var redisCache *cache.RedisCache
	if cfg.Cache.Enabled {
		redisCache, err = cache.NewRedisCache(ctx, &cfg.Cache)
		if err != nil {
			log.Error("failed to connect to redis", sl.Err(err))
			os.Exit(1)
		}
		sinks = append(sinks, redisCache)
		latest = redisCache
		values = redisCache
		log.Info("redis cache enabled", slog.String("addr", cfg.Cache.Addr))
	}

	var pgArchive *archive.PostgresArchive
	var archiveReader api.ArchiveReader
	if cfg.Archive.Enabled {
		pgArchive, err = archive.NewPostgresArchive(ctx, log, cfg.Archive.URL)
		if err != nil {
			log.Error("failed to open archive", sl.Err(err))
			os.Exit(1)
		}
		sinks = append(sinks, pgArchive)
		archiveReader = pgArchive
		log.Info("postgres archive enabled")
	}

	healthServer := health.NewServer(log, cfg.Health.Address)
	healthServer.AddChecker(health.NewCriticalChecker("mysql", db.PingContext))
	healthServer.AddChecker(health.NewOptionalChecker("modbus", modbus.Ping))
	healthServer.AddChecker(health.NewOptionalChecker("sender", dataSender.Health))
	if sqliteBuf != nil {
		healthServer.AddChecker(health.NewBufferHealthChecker(sqliteBuf.Count, health.DefaultBufferThreshold))
	}
	if redisCache != nil {
		healthServer.AddChecker(health.NewOptionalChecker("redis", redisCache.Ping))
	}
	if pgArchive != nil {
		healthServer.AddChecker(health.NewOptionalChecker("archive", pgArchive.Ping))
	}

	if err := healthServer.Start(); err != nil {
		log.Error("failed to start health server", sl.Err(err))
		os.Exit(1)
	}

	handler := api.NewHandler(api.Deps{
		Log:            log,
		Auth:           auth.NewManager(&cfg.Auth),
		Users:          users,
		Sessions:       sessions,
		Reader:         modbus,
		Latest:         latest,
		Values:         values,
		Recent:         memory,
		Archive:        archiveReader,
		Hub:            hub,
		BcryptCost:     cfg.Auth.BcryptCost,
		SecureCookie:   cfg.HTTP.SecureCookie,
		ReadTimeout:    device.Polling.Timeout,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      api.NewRouter(handler),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		log.Info("starting http server", slog.String("address", cfg.HTTP.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", sl.Err(err))
			cancel()
		}
	}()

	manager := collector.NewManager(log, cfg, device, modbus, sinks, dataSender, buf)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			log.Info("received signal, shutting down", slog.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	manager.Start(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop http server", sl.Err(err))
	}

	manager.Stop()

	if err := healthServer.Stop(shutdownCtx); err != nil {
		log.Error("failed to stop health server", sl.Err(err))
	}

	if err := dataSender.Close(); err != nil {
		log.Error("failed to close sender", sl.Err(err))
	}

	if buf != nil {
		if err := buf.Close(); err != nil {
			log.Error("failed to close buffer", sl.Err(err))
		}
	}

	if redisCache != nil {
		if err := redisCache.Close(); err != nil {
			log.Error("failed to close redis", sl.Err(err))
		}
	}

	if pgArchive != nil {
		pgArchive.Close()
	}

	if err := db.Close(); err != nil {
		log.Error("failed to close mysql", sl.Err(err))
	}

	log.Info("server stopped")
}
