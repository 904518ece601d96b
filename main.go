package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"social-inbox/config"
	"social-inbox/handlers"
	"social-inbox/services"
	"social-inbox/webhooks"
)

func main() {
	// Initialize structured logger
	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	slog.SetDefault(slog.New(logHandler))

	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	openCtx, cancelOpen := context.WithTimeout(rootCtx, 10*time.Second)
	store, err := openStore(openCtx, cfg)
	cancelOpen()
	if err != nil {
		slog.Error("Failed to open store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			slog.Error("Failed to close store", "error", err)
		}
	}()

	// Seed agents and page credentials
	pages := services.NewPageTokenCache(store)
	agents, err := services.NewAgentDirectory(nil)
	if err != nil {
		slog.Error("Failed to create agent directory", "error", err)
		os.Exit(1)
	}
	if seed, err := config.LoadSeed(cfg.SeedFile); err != nil {
		slog.Warn("Seed file not loaded", "path", cfg.SeedFile, "error", err)
	} else {
		applySeed(rootCtx, seed, agents, pages)
	}
	if err := pages.Refresh(rootCtx); err != nil {
		slog.Error("Failed to load page credentials", "error", err)
	}
	pages.StartRefresher(rootCtx, cfg.PageRefreshPeriod)

	if err := config.WatchSeed(rootCtx, cfg.SeedFile, func(seed *config.Seed) {
		applySeed(rootCtx, seed, agents, pages)
	}); err != nil {
		slog.Warn("Seed file will not be reloaded", "error", err)
	}

	// Real-time fan-out
	sockets := services.NewWebSocketManager(1024)
	defer sockets.Close()

	fanout := services.NewFanout()
	fanout.Attach(sockets)
	if cfg.AMQPURL != "" {
		broker, err := services.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, slog.Default())
		if err != nil {
			slog.Error("Failed to connect to AMQP broker", "error", err)
		} else {
			defer broker.Close()
			fanout.Attach(broker)
		}
	}

	// Core services
	ledger := services.NewLedger(store)
	locks := services.NewLockService(store)
	receipts := services.NewReceiptTracker(store)
	dedupe := services.NewDedupeCache(cfg.DedupeWindow, cfg.DedupeHighWater, cfg.DedupeHardLimit)
	services.StartDedupeCleanup(rootCtx, dedupe, cfg.DedupeWindow)
	graph := services.NewGraphClient(cfg.GraphAPIURL, pages, services.NewRateLimiter(cfg.SendRateLimit))

	media, err := services.NewMediaStore(cfg.MediaDir, cfg.MediaPublicURL, cfg.MediaMaxBytes)
	if err != nil {
		slog.Error("Failed to prepare media directory", "dir", cfg.MediaDir, "error", err)
		os.Exit(1)
	}

	pipeline := services.NewPipeline(services.PipelineConfig{
		Dedupe:   dedupe,
		Ledger:   ledger,
		Convs:    store,
		Receipts: receipts,
		Identity: services.NewIdentityResolver(store, graph, ledger),
		Media:    media,
		Fanout:   fanout,
		Pages:    pages,
	})

	replies := services.NewReplyService(services.ReplyConfig{
		Locks:  locks,
		Ledger: ledger,
		Convs:  store,
		Sender: graph,
		Media:  media,
		Dedupe: dedupe,
		Fanout: fanout,
	})

	// Create Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: int(cfg.MediaMaxBytes) * 4,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			slog.Error("Request error", "error", err, "status", code)
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.CORSOrigins, ", "),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With",
		AllowCredentials: true,
		MaxAge:           86400,
	}))
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${method} ${path}\n",
	}))

	webhooks.RegisterRoutes(app, webhooks.NewHandler(pipeline, cfg.VerifyToken, cfg.AppSecret))

	handlers.RegisterRoutes(app, &handlers.Handler{
		Convs:    store,
		Locks:    locks,
		Ledger:   ledger,
		Receipts: receipts,
		Replies:  replies,
		Pipeline: pipeline,
		Fanout:   fanout,
		Agents:   agents,
		Tokens:   services.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL),
		Sockets:  sockets,
		Pages:    pages,
	})

	app.Static(strings.TrimSuffix(services.MediaRoute, "/"), media.Dir())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "social-inbox",
			"store":   cfg.StoreDriver,
		})
	})

	go func() {
		<-rootCtx.Done()
		slog.Info("Shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			slog.Error("Shutdown failed", "error", err)
		}
	}()

	slog.Info("Server starting", "port", cfg.Port, "store", cfg.StoreDriver)
	if err := app.Listen(":" + cfg.Port); err != nil {
		slog.Error("Server failed to start", "error", err)
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg *config.Config) (services.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		return services.NewSQLiteStore(ctx, cfg.SQLitePath)
	case config.DriverPostgres:
		return services.NewPostgresStore(ctx, cfg.PostgresDSN)
	}

	client, err := services.InitMongoDB(ctx, cfg.MongoURI)
	if err != nil {
		return nil, err
	}
	return services.NewMongoStore(ctx, client, cfg.DatabaseName)
}

func applySeed(ctx context.Context, seed *config.Seed, agents *services.AgentDirectory, pages *services.PageTokenCache) {
	if err := agents.Replace(seed.Agents); err != nil {
		slog.Error("Rejected agent seed", "error", err)
	}
	for _, page := range seed.Pages {
		if err := pages.Upsert(ctx, page); err != nil {
			slog.Error("Failed to store page", "pageID", page.PageID, "error", err)
		}
	}
	slog.Info("Seed applied", "agents", len(seed.Agents), "pages", len(seed.Pages))
}
