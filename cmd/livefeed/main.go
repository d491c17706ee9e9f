package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/nexuslearn/livefeed/internal/archive"
	"github.com/nexuslearn/livefeed/internal/auth"
	"github.com/nexuslearn/livefeed/internal/cache"
	"github.com/nexuslearn/livefeed/internal/config"
	"github.com/nexuslearn/livefeed/internal/connection"
	"github.com/nexuslearn/livefeed/internal/database"
	"github.com/nexuslearn/livefeed/internal/display"
	"github.com/nexuslearn/livefeed/internal/feed"
	"github.com/nexuslearn/livefeed/internal/notify"
	"github.com/nexuslearn/livefeed/internal/status"
	"github.com/nexuslearn/livefeed/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/livefeed.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting livefeed agent",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Optional .env for secrets referenced by the config file
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"site", cfg.Site.BaseURL,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Derive the channel endpoint from the site URL
	channelURL, err := connection.ChannelURL(cfg.Site.BaseURL, cfg.Channel.Path)
	if err != nil {
		logger.Error("invalid site url", "error", err)
		os.Exit(1)
	}

	// Mint the service token when a shared secret is configured
	var token string
	if cfg.Auth.Secret != "" {
		token, err = auth.NewServiceToken(cfg.Auth.Secret, cfg.Auth.Subject, cfg.Auth.TokenTTL)
		if err != nil {
			logger.Error("failed to mint service token", "error", err)
			os.Exit(1)
		}
	}

	// Optional event archive
	var (
		archiver *archive.Archiver
		pool     *pgxpool.Pool
	)
	if cfg.Database.Enabled() {
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)

		pool, err = database.Connect(ctx, cfg.Database)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		archiver = archive.NewArchiver(cfg.Archive, pool, logger)
		if err := archiver.Start(ctx); err != nil {
			logger.Error("failed to start archiver", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Info("database not configured, archival disabled")
	}

	// Optional cache snapshot
	var snapshot *cache.Snapshot
	if cfg.Cache.Enabled() {
		snapshot, err = cache.NewSnapshot(cfg.Cache, cfg.Instance.ID, logger)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		if err := snapshot.Start(ctx); err != nil {
			logger.Error("failed to start cache snapshot", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Info("cache not configured, snapshot disabled")
	}

	// UI surfaces
	surface := notify.NewSurface(cfg.Notifications.DismissAfter, logger)
	board := display.NewBoard()

	// Connection manager
	mgr := connection.NewManager(connection.ManagerConfig{
		URL:               channelURL,
		Token:             token,
		HeartbeatInterval: cfg.Channel.HeartbeatInterval,
		ReconnectDelay:    cfg.Channel.ReconnectDelay,
		HandshakeTimeout:  cfg.Channel.HandshakeTimeout,
		WriteTimeout:      cfg.Channel.WriteTimeout,
		BufferSize:        cfg.Channel.BufferSize,
	}, logger)

	if err := mgr.Start(ctx); err != nil {
		logger.Error("failed to start connection manager", "error", err)
		os.Exit(1)
	}

	// Dispatcher fans messages out to the surfaces and optional sinks
	var sinks []feed.Sink
	if archiver != nil {
		sinks = append(sinks, archiver)
	}
	if snapshot != nil {
		sinks = append(sinks, snapshot)
	}

	dispatcher := feed.NewDispatcher(mgr.Messages(), surface, board, logger, sinks...)
	if err := dispatcher.Start(ctx); err != nil {
		logger.Error("failed to start dispatcher", "error", err)
		os.Exit(1)
	}

	// Status server
	statusServer := status.NewServer(cfg.Status.Port, status.Components{
		Manager:    mgr,
		Dispatcher: dispatcher,
		Board:      board,
		Surface:    surface,
		Archiver:   archiver,
		Cache:      snapshot,
		DB:         pool,
	}, logger)
	statusServer.Start(ctx)

	logger.Info("livefeed agent running",
		"instance_id", cfg.Instance.ID,
		"channel", channelURL,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Status.Port),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	statusServer.Stop(shutdownCtx)
	mgr.Stop(shutdownCtx)
	dispatcher.Stop(shutdownCtx)
	if archiver != nil {
		archiver.Stop(shutdownCtx)
	}
	if snapshot != nil {
		snapshot.Stop(shutdownCtx)
	}
	surface.Close()

	logger.Info("livefeed agent stopped")
}
