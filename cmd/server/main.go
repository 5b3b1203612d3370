package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
	"gopkg.in/natefinch/lumberjack.v2"

	apihttp "streamgate/internal/api/http"
	"streamgate/internal/app"
	"streamgate/internal/domain/ports"
	"streamgate/internal/metrics"
	mongorepo "streamgate/internal/repository/mongo"
	"streamgate/internal/services/session"
	"streamgate/internal/services/torrent/engine/anacrolix"
	"streamgate/internal/telemetry"
	"streamgate/internal/usecase"
)

func main() {
	cfg := app.LoadConfig()
	logger, closeLog := newLogger(cfg)
	defer closeLog()
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), telemetry.Config{
		Endpoint:   cfg.OTLPEndpoint,
		SampleRate: cfg.TraceSampleRate,
	})
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", telemetry.ServiceName),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("mediaDir", cfg.MediaDir),
		slog.String("dataDir", cfg.TorrentDataDir),
		slog.Int("maxSessions", cfg.MaxSessions),
		slog.Duration("idleTimeout", cfg.SessionIdleTimeout),
		slog.Duration("disconnectGrace", cfg.DisconnectGrace),
		slog.Bool("journal", cfg.MongoURI != ""),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mongoClient, journal := openJournal(rootCtx, cfg, logger)

	engine, err := anacrolix.New(anacrolix.Config{DataDir: cfg.TorrentDataDir}, logger)
	if err != nil {
		logger.Error("torrent engine init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	tracker := session.NewTracker(cfg.DisconnectGrace, logger)
	acquirer := session.NewAcquirer(engine, cfg.AcquireTimeout, logger)
	registryOpts := []session.RegistryOption{session.WithLogger(logger)}
	if journal != nil {
		registryOpts = append(registryOpts, session.WithJournal(journal))
	}
	registry := session.NewRegistry(session.Config{
		MaxSessions: cfg.MaxSessions,
		IdleTimeout: cfg.SessionIdleTimeout,
	}, engine, acquirer, tracker, registryOpts...)
	sweeper := session.NewOrphanSweeper(afero.NewOsFs(), cfg.TorrentDataDir, registry, logger)

	// Nothing survives a restart; storage left by a previous run is orphaned.
	if removed := sweeper.Sweep(); removed > 0 {
		logger.Info("removed storage from previous run", slog.Int("entries", removed))
	}

	if err := os.MkdirAll(cfg.MediaDir, 0o755); err != nil {
		logger.Warn("media dir create failed", slog.String("error", err.Error()))
	}
	mediaFs := afero.NewBasePathFs(afero.NewOsFs(), cfg.MediaDir)

	status := usecase.GetStatus{Sessions: registry, Connections: tracker}
	serverOpts := []apihttp.ServerOption{
		apihttp.WithLogger(logger),
		apihttp.WithAllowedOrigins(cfg.CORSAllowedOrigins),
		apihttp.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		apihttp.WithStreamTorrent(usecase.StreamTorrent{
			Sessions:    registry,
			Tracker:     tracker,
			ChunkSize:   cfg.StreamChunkSize,
			MaxFileSize: cfg.MaxStreamFileSize,
		}),
		apihttp.WithStreamLocal(usecase.StreamLocal{
			Fs:          mediaFs,
			Tracker:     tracker,
			ChunkSize:   cfg.StreamChunkSize,
			MaxFileSize: cfg.MaxStreamFileSize,
		}),
	}
	if journal != nil {
		serverOpts = append(serverOpts, apihttp.WithSessionHistory(usecase.ListSessionHistory{Journal: journal}))
	}
	handler := apihttp.NewServer(status, serverOpts...)

	bgCtx, stopBackground := context.WithCancel(rootCtx)
	defer stopBackground()
	janitor := usecase.Janitor{
		Sessions: registry,
		Storage:  sweeper,
		Logger:   logger,
		Interval: cfg.SweepInterval,
	}
	go janitor.Run(bgCtx)
	go handler.RunStatusPush(bgCtx, cfg.StatusPushInterval)
	go refreshMetrics(bgCtx, status, cfg.StatusPushInterval)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	stopBackground()
	// Evicting first cancels in-flight streams so Shutdown is not held open
	// by long-running responses.
	if err := registry.Close(shutdownCtx); err != nil {
		logger.Warn("session registry close error", slog.String("error", err.Error()))
	}
	handler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	if err := engine.Close(); err != nil {
		logger.Warn("engine close error", slog.String("error", err.Error()))
	}
	if mongoClient != nil {
		if err := mongoClient.Disconnect(shutdownCtx); err != nil {
			logger.Warn("mongo disconnect error", slog.String("error", err.Error()))
		}
	}

	logger.Info("server stopped")
}

// openJournal connects the session journal. The journal is optional: an
// empty MONGO_URI or an unreachable server leaves it disabled.
func openJournal(ctx context.Context, cfg app.Config, logger *slog.Logger) (*mongo.Client, ports.SessionJournal) {
	if cfg.MongoURI == "" {
		return nil, nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongorepo.Connect(connectCtx, cfg.MongoURI, options.Client().SetMonitor(otelmongo.NewMonitor()))
	if err != nil {
		logger.Warn("mongo connect failed, session journal disabled", slog.String("error", err.Error()))
		return nil, nil
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		logger.Warn("mongo ping failed, session journal disabled", slog.String("error", err.Error()))
		_ = client.Disconnect(context.Background())
		return nil, nil
	}

	journal := mongorepo.NewJournal(client, cfg.MongoDatabase, cfg.MongoCollection)
	if err := journal.EnsureIndexes(connectCtx); err != nil {
		logger.Warn("mongo ensure indexes failed", slog.String("error", err.Error()))
	}
	return client, journal
}

// refreshMetrics keeps the transfer gauges current when nobody polls /status.
func refreshMetrics(ctx context.Context, status usecase.GetStatus, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status.Execute()
		}
	}
}

func newLogger(cfg app.Config) (*slog.Logger, func()) {
	var out io.Writer = os.Stdout
	closeFn := func() {}
	if cfg.LogFile != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogFileMaxMB,
			MaxBackups: cfg.LogFileMaxBackups,
			MaxAge:     cfg.LogFileMaxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rotating)
		closeFn = func() { _ = rotating.Close() }
	}

	options := &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)}
	if strings.ToLower(strings.TrimSpace(cfg.LogFormat)) == "json" {
		return slog.New(slog.NewJSONHandler(out, options)), closeFn
	}
	return slog.New(slog.NewTextHandler(out, options)), closeFn
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
