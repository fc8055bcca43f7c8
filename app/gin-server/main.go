package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/denizyuce/callscribe/config"
	"github.com/denizyuce/callscribe/internal/api/handlers"
	"github.com/denizyuce/callscribe/internal/api/middleware"
	"github.com/denizyuce/callscribe/internal/api/routes"
	"github.com/denizyuce/callscribe/internal/cache"
	"github.com/denizyuce/callscribe/internal/logger"
	"github.com/denizyuce/callscribe/internal/models"
	"github.com/denizyuce/callscribe/internal/presence"
	"github.com/denizyuce/callscribe/internal/providers/llm"
	"github.com/denizyuce/callscribe/internal/providers/stt"
	mongorepo "github.com/denizyuce/callscribe/internal/repositories/mongo"
	pgrepo "github.com/denizyuce/callscribe/internal/repositories/postgres"
	"github.com/denizyuce/callscribe/internal/services"
	"github.com/denizyuce/callscribe/internal/stream"
	"github.com/denizyuce/callscribe/internal/transcribe"
	"github.com/denizyuce/callscribe/internal/utils"
)

func main() {
	_ = godotenv.Load()

	logg := logger.New()

	// Init PostgreSQL
	if err := config.InitPostgres(); err != nil {
		log.Fatalf("PostgreSQL init error: %v", err)
	}
	if err := config.PostgresDB.AutoMigrate(&models.SessionLog{}); err != nil {
		log.Fatalf("PostgreSQL migrate error: %v", err)
	}
	logg.Info("PostgreSQL connected")

	// Init Redis
	if err := config.InitRedis(); err != nil {
		log.Fatalf("Redis init error: %v", err)
	}
	logg.Info("Redis connected")

	// Init MongoDB
	if err := config.InitMongo(); err != nil {
		log.Fatalf("MongoDB init error: %v", err)
	}
	if err := config.EnsureMongoIndexes(); err != nil {
		log.Fatalf("MongoDB index error: %v", err)
	}
	logg.Info("MongoDB connected")

	ctx := context.Background()
	ps := config.LoadPipelineSettings()

	// Providers
	speech, err := stt.NewGoogleSpeech(ctx, ps.SampleRate)
	if err != nil {
		log.Fatalf("Speech client init error: %v", err)
	}
	defer speech.Close()

	var summarizer llm.Provider
	if project := os.Getenv("VERTEX_PROJECT_ID"); project != "" {
		location := os.Getenv("VERTEX_LOCATION")
		if location == "" {
			location = "us-central1"
		}
		model := os.Getenv("VERTEX_MODEL")
		if model == "" {
			model = "gemini-1.5-flash"
		}
		summarizer, err = llm.NewVertexGemini(ctx, project, location, model)
		if err != nil {
			log.Fatalf("Vertex init error: %v", err)
		}
		defer summarizer.Close()
	} else {
		logg.Warn("VERTEX_PROJECT_ID not set, summarization disabled")
	}

	// Repositories and services
	mongoDB := config.MongoClient.Database(config.MongoDatabaseName())
	logRepo := pgrepo.NewSessionLogRepo(config.PostgresDB)
	segmentRepo := mongorepo.NewSegmentRepo(mongoDB)
	dir := presence.NewDirectory(config.RedisClient)
	redisCache := cache.NewRedisCache(config.RedisClient)

	box, err := utils.NewSecretBoxFromEnv()
	if err != nil {
		log.Fatalf("transcript key error: %v", err)
	}
	if box == nil {
		logg.Warn("TRANSCRIPT_KEY not set, transcripts stored in plaintext")
	}

	logSvc := services.NewSessionLogService(logRepo, summarizer, redisCache, dir, box, logg)

	gate := transcribe.NewRateGate(ps.STTRPM)
	transcriber := transcribe.NewTranscriber(speech, gate, transcribe.Options{
		MaxAttempts: ps.STTMaxAttempts,
		BaseBackoff: time.Duration(ps.STTBackoffBaseMS) * time.Millisecond,
		MaxBackoff:  time.Duration(ps.STTBackoffCapMS) * time.Millisecond,
		Language:    ps.STTLanguage,
	})

	manager := stream.NewManager(transcriber, logSvc, segmentRepo, dir, logg, stream.Config{
		SampleRate:  ps.SampleRate,
		FrameMS:     ps.FrameMS,
		SilenceTail: time.Duration(ps.SilenceTailMS) * time.Millisecond,
		MinSegment:  time.Duration(ps.MinSegmentMS) * time.Millisecond,
	})

	// HTTP
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logg))

	routes.RegisterRoutes(r, routes.Deps{
		SessionLog: handlers.NewSessionLogHandler(logSvc),
		Call:       handlers.NewCallHandler(segmentRepo, dir),
		CallWS:     handlers.NewCallWSHandler(manager, dir, logg),
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	go func() {
		if err := r.Run(":" + port); err != nil {
			log.Fatalf("server error: %v", err)
		}
	}()
	logg.WithField("port", port).Info("server started")

	// Flush live calls before exit
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	manager.Shutdown(shutdownCtx)
	logg.Info("server stopped")
}
