package main

import (
	"fmt"
	"os"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"lab-report-server/internal/config"
	"lab-report-server/internal/crypto"
	"lab-report-server/internal/events"
	"lab-report-server/internal/extraction"
	"lab-report-server/internal/logger"
	"lab-report-server/internal/middleware"
	"lab-report-server/internal/models"
	"lab-report-server/internal/routes"
	"lab-report-server/internal/store"
	"lab-report-server/internal/workflow"
)

func main() {
	// Load environment variables
	_ = godotenv.Load()

	// Initialize configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Environment)

	// The codec is constructed first: a bad encryption key must stop the
	// service before it accepts any traffic.
	codec, err := crypto.NewCodec(cfg.LabDataEncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid lab data encryption key")
	}

	// Initialize database connection
	db, err := models.InitDB(models.DatabaseConfig{DSN: cfg.Database.DSN})
	if err != nil {
		log.Fatal().Err(err).Msg("error connecting to database")
	}

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.UploadDir).Msg("error creating upload directory")
	}

	// Sample-created announcements go out over Redis when configured.
	var publisher events.Publisher = events.NopPublisher{}
	if cfg.RedisURL != "" {
		redisPublisher, err := events.NewRedisPublisher(cfg.RedisURL, log)
		if err != nil {
			log.Fatal().Err(err).Msg("error connecting to redis")
		}
		defer redisPublisher.Close()
		publisher = redisPublisher
	}

	st := store.New(db, codec, log)
	ex := extraction.NewCommandExtractor(cfg.Extractor.Command, cfg.Extractor.Script, log)
	wf := workflow.New(st, ex, publisher, log)

	// Initialize Gin router
	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RequestLogger(log), gin.Recovery())

	// Configure CORS
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{cfg.Origin}
	corsConfig.AllowCredentials = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	router.Use(cors.New(corsConfig))

	// Set up routes
	routes.SetupRoutes(router, wf, st, ex, cfg)

	// Start server
	log.Info().Str("port", cfg.Port).Msgf("%s is running", cfg.ServiceName)
	if err := router.Run(fmt.Sprintf(":%s", cfg.Port)); err != nil {
		log.Fatal().Err(err).Msg("failed to start server")
	}
}
