package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	appconfig "github.com/dagornc/DagBot/config"
	"github.com/dagornc/DagBot/internal/api/handlers"
	"github.com/dagornc/DagBot/internal/api/middleware"
	"github.com/dagornc/DagBot/internal/api/routes"
	"github.com/dagornc/DagBot/internal/cache"
	applog "github.com/dagornc/DagBot/internal/logger"
	mongorepo "github.com/dagornc/DagBot/internal/repositories/mongo"
	pgrepo "github.com/dagornc/DagBot/internal/repositories/postgres"
	"github.com/dagornc/DagBot/internal/relay"
	"github.com/dagornc/DagBot/internal/services"
)

func main() {
	_ = godotenv.Load()

	logger := applog.New()

	cfg, err := appconfig.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	if err := appconfig.InitPostgres(); err != nil {
		log.Fatalf("PostgreSQL init error: %v", err)
	}
	logger.Info("PostgreSQL connected")

	if err := appconfig.InitMongo(); err != nil {
		log.Fatalf("MongoDB init error: %v", err)
	}
	logger.Info("MongoDB connected")

	if err := appconfig.InitRedis(); err != nil {
		log.Fatalf("Redis init error: %v", err)
	}
	logger.Info("Redis connected")

	mongoDB := appconfig.MongoDatabase()
	{
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := mongorepo.EnsureIndexes(ctx, mongoDB); err != nil {
			log.Fatalf("Mongo index error: %v", err)
		}
		cancel()
	}

	// Repositories
	convRepo := pgrepo.NewConversationRepo(appconfig.PostgresDB)
	promptRepo := pgrepo.NewPromptRepo(appconfig.PostgresDB)
	settingsRepo := pgrepo.NewSettingsRepo(appconfig.PostgresDB)
	providerRepo := mongorepo.NewProviderRepo(mongoDB)
	redisCache := cache.NewRedisCache(appconfig.RedisClient)

	// Services
	convSvc := services.NewConversationService(convRepo)
	promptSvc := services.NewPromptService(promptRepo)
	providerSvc := services.NewProviderService(cfg.Providers, providerRepo, redisCache, logger)
	settingsSvc := services.NewSettingsService(settingsRepo, providerSvc)

	rl := relay.New(convSvc, logger)

	// Handlers
	chatHandler := handlers.NewChatHandler(providerSvc, settingsSvc, convSvc, rl, cfg.Defaults, logger)
	deps := routes.Deps{
		Chat:         chatHandler,
		WS:           handlers.NewWSHandler(chatHandler, logger),
		Provider:     handlers.NewProviderHandler(providerSvc, settingsSvc),
		Conversation: handlers.NewConversationHandler(convSvc),
		Prompt:       handlers.NewPromptHandler(promptSvc),
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))
	routes.RegisterRoutes(r, deps)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	if port == "" {
		port = "8080"
	}
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
