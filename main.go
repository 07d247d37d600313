// Command mod-tender is the live chat moderation service.
// It:
//   - Loads configuration and initializes structured logging, metrics and tracing.
//   - Opens the audit store (memory, Postgres with versioned migrations, or MongoDB).
//   - Builds the moderation engine, the dispatch broker and the slow mode limiter.
//   - Starts the configured chat source (Twitch IRC, optionally following the
//     stream's live status, YouTube live chat, or a simulated generator).
//   - Serves the moderator API, the feed webhook, /healthz, /readyz and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/mod-tender/audit"
	"github.com/onnwee/mod-tender/chat"
	"github.com/onnwee/mod-tender/config"
	"github.com/onnwee/mod-tender/db"
	"github.com/onnwee/mod-tender/dispatch"
	"github.com/onnwee/mod-tender/moderation"
	"github.com/onnwee/mod-tender/server"
	"github.com/onnwee/mod-tender/slowmode"
	"github.com/onnwee/mod-tender/telemetry"
	"github.com/onnwee/mod-tender/twitchapi"
	"github.com/onnwee/mod-tender/youtubeapi"
)

const serviceName = "mod-tender"

var version = "dev"

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	telemetry.InitLogging(telemetry.LogOptionsFromEnv(serviceName, version))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing(serviceName, version)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openAuditStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open audit store", slog.String("backend", cfg.AuditBackend), slog.Any("err", err))
		os.Exit(1)
	}
	defer closeStore()

	limiter := slowmode.New()
	go limiter.StartSweeper(ctx, cfg.CooldownSweepInterval, time.Hour, time.Now)

	broker := dispatch.New(cfg.DispatchBuffer)
	engine := moderation.New(limiter,
		moderation.WithBroker(broker),
		moderation.WithRecorder(audit.NewRecorder(store, cfg.AuditWriteTimeout)),
		moderation.WithMaxMessages(cfg.MaxMessagesPerChannel),
		moderation.WithDefaultSlowMode(cfg.SlowModeDefaultSeconds),
	)
	pump := chat.NewPump(engine)

	if err := startChatSource(ctx, cfg, engine, pump); err != nil {
		slog.Error("failed to start chat source", slog.String("source", cfg.ChatSource), slog.Any("err", err))
		os.Exit(1)
	}

	handler := server.NewRouter(ctx, server.Deps{Engine: engine, Pump: pump, Audit: store, Config: cfg})
	served := make(chan struct{})
	go func() {
		defer close(served)
		if err := server.Start(ctx, cfg.HTTPAddr, handler); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
			stop()
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
	<-served
}

// openAuditStore returns the configured audit backend and a func releasing it.
func openAuditStore(ctx context.Context, cfg *config.Config) (audit.Store, func(), error) {
	switch cfg.AuditBackend {
	case config.AuditPostgres:
		database, err := db.Connect(cfg.DBDsn)
		if err != nil {
			return nil, nil, err
		}
		closeDB := func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}
		slog.Info("running database migrations", slog.String("component", "db_migrate"))
		if err := db.RunMigrations(database); err != nil {
			slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
				slog.Any("err", err),
				slog.String("component", "db_migrate"))
			if err := db.Migrate(ctx, database); err != nil {
				closeDB()
				return nil, nil, fmt.Errorf("migrate: %w", err)
			}
		}
		return audit.NewPostgresStore(database), closeDB, nil

	case config.AuditMongo:
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		mdb, err := audit.ConnectMongo(cctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, err
		}
		disconnect := func() {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := mdb.Client().Disconnect(dctx); err != nil {
				slog.Error("failed to disconnect mongo", slog.Any("err", err))
			}
		}
		store, err := audit.NewMongoStore(cctx, mdb)
		if err != nil {
			disconnect()
			return nil, nil, err
		}
		return store, disconnect, nil
	}
	slog.Warn("audit log kept in memory; entries are lost on restart", slog.String("component", "audit"))
	return audit.NewMemoryStore(), func() {}, nil
}

// startChatSource starts the configured platform source in the background.
func startChatSource(ctx context.Context, cfg *config.Config, engine *moderation.Engine, pump *chat.Pump) error {
	run := func(src chat.Source) {
		go func() {
			if err := pump.Run(ctx, src); err != nil {
				slog.Error("chat source stopped", slog.String("source", src.Name()), slog.Any("err", err))
			}
		}()
	}

	switch cfg.ChatSource {
	case config.SourceTwitch:
		twitchSource := func(channels ...string) chat.Source {
			return &chat.TwitchSource{Username: cfg.TwitchBotUsername, OAuthToken: cfg.TwitchOAuthToken, Channels: channels}
		}
		if !cfg.ChatAutoStart {
			run(twitchSource(cfg.TwitchChannels...))
			return nil
		}
		helix := &twitchapi.HelixClient{
			AppTokenSource: &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret},
			ClientID:       cfg.TwitchClientID,
		}
		watcher := &chat.LiveWatcher{
			Streams:   helix,
			Engine:    engine,
			Pump:      pump,
			Logins:    cfg.TwitchChannels,
			Interval:  cfg.ChatAutoPoll,
			NewSource: func(login string) chat.Source { return twitchSource(login) },
		}
		go func() { _ = watcher.Run(ctx) }()

	case config.SourceYouTube:
		client, err := youtubeapi.New(ctx, youtubeapi.Config{
			ClientID:     cfg.YTClientID,
			ClientSecret: cfg.YTClientSecret,
			RefreshToken: cfg.YTRefreshToken,
		})
		if err != nil {
			return err
		}
		run(&chat.YouTubeSource{Client: client, ChannelID: cfg.YTChannel, LiveChatID: cfg.YTLiveChatID, VideoID: cfg.YTVideoID})

	case config.SourceSimulated:
		run(&chat.SimulatedSource{ChannelID: cfg.SimChannel, Interval: cfg.SimInterval})

	default:
		slog.Info("no chat source configured; events arrive through the feed webhook only")
	}
	return nil
}
