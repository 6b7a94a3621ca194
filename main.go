package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"code-duel-backend/handlers"
	"code-duel-backend/realtime"
	"code-duel-backend/services"
	"code-duel-backend/store"
	"code-duel-backend/utils"
	"code-duel-backend/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		AppName: "code-duel-backend",
	})

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Primary store: Postgres when DATABASE_URL is set, in-memory otherwise.
	// The in-memory store is enough for local development, state just does
	// not survive a restart.
	var docStore store.DocumentStore
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err != nil {
			log.Fatal("failed to connect to database:", err)
		}
		if err := db.AutoMigrate(&store.Document{}, &store.Subdocument{}); err != nil {
			log.Fatal("failed to migrate database:", err)
		}
		docStore = store.NewGormStore(db)
		log.Println("✅ Using Postgres document store")
	} else {
		docStore = store.NewMemoryStore()
		log.Println("⚠️  DATABASE_URL not set, using in-memory store")
	}

	authService := services.NewAuthService(docStore, os.Getenv("JWT_SECRET_KEY"))
	questionService := services.NewQuestionService(os.Getenv("GEMINI_API_KEY"))
	registry := services.NewDuelRegistry(docStore)

	hub := realtime.NewHub()

	duelService := services.NewDuelService(docStore, registry, questionService, hub)
	if archiver, err := utils.NewR2Archiver(); err == nil {
		duelService.SetArchiver(archiver)
		log.Println("✅ R2 duel archive enabled")
	} else {
		log.Printf("⚠️  Running without duel archive: %v", err)
	}

	matchmakingService := services.NewMatchmakingService(duelService, hub)
	matchmakingService.StartMaintenanceScheduler(questionService)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prewarmWorker := workers.NewQuestionPrewarmWorker(questionService, handlers.Topics)
	go prewarmWorker.Start(ctx)

	handlers.SetupAuthRoutes(app, authService)
	handlers.SetupDuelRoutes(app, matchmakingService, duelService, authService)
	handlers.SetupRealtimeRoutes(app, hub, matchmakingService, duelService, authService)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8000"
	}

	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost:%s", port)
	log.Println("✅ Question prewarm worker running")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
}
