package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"remindai/internal/aitime"
	"remindai/internal/config"
	"remindai/internal/database"
	"remindai/internal/handlers"
	"remindai/internal/logging"
	"remindai/internal/middleware"
	"remindai/internal/preflight"
	"remindai/internal/prompts"
	"remindai/internal/services"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "remindai",
	Short: "Chat-driven reminder service",
	Long: `remindai turns chat messages into scheduled reminders.

Commands:
  (default)   Start the HTTP and WebSocket server
  pending     List incomplete reminders from the store`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	rootCmd.AddCommand(pendingCmd)
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// bootstrap loads .env and configuration
func bootstrap() *config.Config {
	logging.Init()

	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	return config.Load()
}

// openStore connects to MongoDB, falling back to the in-memory store when it is unreachable
// outside production.
func openStore(cfg *config.Config) (services.ReminderStore, *database.MongoDB, error) {
	mongoDB, err := database.NewMongoDB(cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		if cfg.IsProduction() {
			return nil, nil, err
		}
		log.Printf("⚠️  MongoDB unavailable, using in-memory reminder store: %v", err)
		return services.NewMemoryReminderStore(), nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := mongoDB.Initialize(ctx); err != nil {
		log.Printf("⚠️  Failed to create MongoDB indexes: %v", err)
	}

	return services.NewMongoReminderStore(mongoDB.Collection(database.CollectionReminders)), mongoDB, nil
}

func runServer() error {
	cfg := bootstrap()
	log.Println("🚀 Starting remindai server...")
	log.Printf("📋 Configuration loaded (Port: %s, Timezone: %s, Model: %s)", cfg.Port, cfg.Timezone, cfg.LLMModel)

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", cfg.Timezone, err)
	}

	store, mongoDB, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	var storePinger preflight.Pinger
	if mongoDB != nil {
		storePinger = mongoDB
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := mongoDB.Close(ctx); err != nil {
				log.Printf("⚠️ Error closing MongoDB: %v", err)
			}
		}()
	}

	delivery, err := services.NewDeliveryScheduler(loc)
	if err != nil {
		return fmt.Errorf("failed to create delivery scheduler: %w", err)
	}
	delivery.SetReminderLookup(store.Get)

	var redisPinger preflight.Pinger
	if cfg.RedisURL != "" {
		redisService, err := services.NewRedisService(cfg.RedisURL)
		if err != nil {
			log.Printf("⚠️  Redis unavailable, fire-once guard disabled: %v", err)
		} else {
			instanceID := uuid.New().String()
			delivery.SetFireGuard(services.NewRedisFireGuard(redisService, instanceID, 24*time.Hour))
			redisPinger = redisService
			defer redisService.Close()
			log.Printf("🔒 Fire-once guard enabled (instance %s)", instanceID)
		}
	}

	promptStore, err := prompts.NewStore(cfg.PromptVersion, cfg.PromptFile)
	if err != nil {
		return fmt.Errorf("failed to load prompt templates: %w", err)
	}
	log.Printf("📝 Prompt version %s loaded", promptStore.Version())

	checker := preflight.NewChecker(cfg, storePinger, redisPinger, promptStore)
	if preflight.HasFailures(checker.RunAll()) {
		return fmt.Errorf("pre-flight checks failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.PromptFile != "" && cfg.PromptWatch {
		if err := promptStore.Watch(ctx); err != nil {
			log.Printf("⚠️  Prompt hot-reload disabled: %v", err)
		}
	}

	connManager := services.NewConnectionManager()
	services.InitMetrics(connManager.Count, delivery.Pending)

	completion := services.NewOpenAICompletionClient(services.CompletionConfig{
		BaseURL:  cfg.LLMBaseURL,
		APIKey:   cfg.LLMAPIKey,
		Model:    cfg.LLMModel,
		JSONMode: true,
	})
	extraction := services.NewExtractionService(completion, promptStore, services.ExtractionConfig{
		Timeout:       cfg.ExtractionTimeout,
		RatePerMinute: cfg.ExtractionRate,
		Location:      loc,
	})
	reminderService := services.NewReminderService(store, delivery, connManager)
	orchestrator := services.NewOrchestrator(extraction, aitime.NewResolverInLocation(loc), reminderService, delivery)

	delivery.Start()
	if _, err := reminderService.Rehydrate(ctx, cfg.OverduePolicy); err != nil {
		log.Printf("⚠️  Failed to rehydrate pending reminders: %v", err)
	}

	app := fiber.New(fiber.Config{
		AppName:      "remindai",
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	})

	app.Use(recover.New())
	app.Use(logger.New())

	prometheus := fiberprometheus.New("remindai")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	rateLimitConfig := middleware.LoadRateLimitConfig(cfg)
	log.Printf("🛡️  [RATE-LIMIT] Loaded config: API=%d/min, WS=%d/min",
		rateLimitConfig.APIMax, rateLimitConfig.WebSocketMax)

	allowedOrigins := cfg.AllowedOrigins
	allowCredentials := allowedOrigins != "*"
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept",
		AllowCredentials: allowCredentials,
	}))
	log.Printf("🔒 [SECURITY] CORS allowed origins: %s", allowedOrigins)

	healthHandler := handlers.NewHealthHandler(connManager, delivery)
	reminderHandler := handlers.NewReminderHandler(reminderService, loc, cfg.ListLimitDefault, cfg.ListLimitMax)
	wsHandler := handlers.NewWebSocketHandler(connManager, orchestrator, reminderService)

	app.Get("/health", healthHandler.Handle)

	reminders := app.Group("/reminders", middleware.APIRateLimiter(rateLimitConfig))
	reminders.Get("/", reminderHandler.List)
	reminders.Get("/:id", reminderHandler.Get)
	reminders.Patch("/:id", reminderHandler.Toggle)
	reminders.Put("/:id", reminderHandler.Update)
	reminders.Delete("/:id", reminderHandler.Delete)
	reminders.Get("/:id/delivery", reminderHandler.Delivery)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			c.Locals("client_ip", c.IP())
			c.Locals("session_id", handlers.SessionIDFromQuery(c.Query("session")))
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Use("/ws", middleware.WebSocketRateLimiter(rateLimitConfig))

	wsConfig := websocket.Config{}
	if allowedOrigins != "*" {
		wsConfig.Origins = strings.Split(allowedOrigins, ",")
	}
	app.Get("/ws", websocket.New(wsHandler.Handle, wsConfig))

	log.Printf("✅ Server ready on port %s", cfg.Port)
	log.Printf("🔗 WebSocket endpoint: ws://localhost:%s/ws", cfg.Port)
	log.Printf("📡 Health check: http://localhost:%s/health", cfg.Port)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("🛑 Shutting down server...")
		cancel()

		if err := delivery.Stop(); err != nil {
			log.Printf("⚠️ Error stopping delivery scheduler: %v", err)
		}

		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}
