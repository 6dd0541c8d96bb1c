package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/farzinnasiri/the-council-sub001/internal/config"
	"github.com/farzinnasiri/the-council-sub001/internal/directory"
	"github.com/farzinnasiri/the-council-sub001/internal/handlers"
	"github.com/farzinnasiri/the-council-sub001/internal/hub"
	"github.com/farzinnasiri/the-council-sub001/internal/roundtable"
	"github.com/farzinnasiri/the-council-sub001/internal/server"
	"github.com/farzinnasiri/the-council-sub001/internal/storage"
)

func main() {
	_ = godotenv.Load()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load(".")
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		logger.Error("database open failed", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	dir, err := directory.NewStore(db)
	if err != nil {
		logger.Error("directory store init failed", "error", err)
		os.Exit(1)
	}
	store, err := roundtable.NewStore(db)
	if err != nil {
		logger.Error("roundtable store init failed", "error", err)
		os.Exit(1)
	}

	events := hub.New()
	orch := roundtable.NewOrchestrator(roundtable.OrchestratorConfig{
		Store:              store,
		Directory:          dir,
		Notifier:           events,
		Logger:             logger,
		DefaultMaxSpeakers: cfg.DefaultMaxSpeakers,
	})

	app := fiber.New()
	app.Use(fiberlogger.New())
	handlers.New(dir, orch, logger).Register(app)
	ws := handlers.NewWebSocketHandler(events)
	app.Get("/ws/:conversation", ws.Middleware, websocket.New(ws.Handle))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("http listening", "addr", cfg.ListenAddr)
		return app.Listen(cfg.ListenAddr)
	})
	group.Go(func() error {
		<-ctx.Done()
		return app.Shutdown()
	})
	if cfg.MCPStdio {
		srv := server.NewMCPServer(server.Config{Logger: logger, Directory: dir, Orchestrator: orch})
		group.Go(func() error {
			return srv.Run(ctx)
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated", "error", err)
		os.Exit(1)
	}
}
