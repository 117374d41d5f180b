package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"scorekeeper/config"
	"scorekeeper/handlers"
	"scorekeeper/models"
	"scorekeeper/services"
	"scorekeeper/utils"
	"scorekeeper/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/jonboulle/clockwork"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration:", err)
	}

	db, err := models.Open(cfg)
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}
	if cfg.AutoMigrate {
		if err := models.Migrate(db); err != nil {
			log.Fatal("failed to migrate database:", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()
	resolver := services.NewResolver(db)
	eventService := services.NewEventService(db, clock, cfg)
	teamService := services.NewTeamService(db, clock)
	ledger := services.NewLedger(db, clock)

	if cfg.NotifyWebhookURL != "" {
		eventService.Notifier = services.NewWebhookNotifier(cfg.NotifyWebhookURL, cfg.NotifyServiceToken)
	} else {
		log.Println("⚠️  NOTIFY_WEBHOOK_URL not set, notifications will only be logged")
	}

	if cfg.R2.Enabled() {
		store, err := utils.NewR2Store(ctx, cfg.R2)
		if err != nil {
			log.Fatal("failed to initialize R2 client:", err)
		}
		eventService.Avatars = store
		teamService.Avatars = store
	} else {
		log.Println("⚠️  R2 settings incomplete, avatar uploads are disabled")
	}

	cleanupWorker := workers.NewCleanupWorker(eventService, clock, cfg.CleanupInterval)
	if err := cleanupWorker.Start(ctx); err != nil {
		log.Fatal("failed to start cleanup worker:", err)
	}

	app := fiber.New(fiber.Config{
		BodyLimit:    4 * 1024 * 1024,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	})
	app.Use(recover.New())
	app.Use(requestid.New())

	allowedOrigins := strings.Join(cfg.AllowedOrigins, ",")
	app.Use(cors.New(cors.Config{
		AllowOrigins:  allowedOrigins,
		AllowMethods:  "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-ADMIN-TOKEN, X-SCORER-TOKEN, X-PUBLIC-TOKEN",
		ExposeHeaders: "Content-Length, Content-Type, X-Request-ID",
		MaxAge:        86400,
	}))

	handlers.SetupHealthRoutes(app, db)
	handlers.SetupEventRoutes(app, resolver, eventService)
	handlers.SetupTeamRoutes(app, resolver, teamService)
	handlers.SetupScoreRoutes(app, resolver, ledger, cfg.SubmitRateLimit)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost:%s", cfg.Port)
	log.Printf("✅ Cleanup sweep every %s (quick retention %s)", cfg.CleanupInterval, cfg.QuickRetention)
	log.Printf("✅ CORS configured for origins: %s", allowedOrigins)

	<-ctx.Done()
	log.Println("Shutting down server...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}
