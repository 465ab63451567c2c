package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/yourorg/portfolio-cms/internal/autosave"
	"github.com/yourorg/portfolio-cms/internal/client"
	"github.com/yourorg/portfolio-cms/internal/config"
	"github.com/yourorg/portfolio-cms/internal/events"
	"github.com/yourorg/portfolio-cms/internal/handle"
	"github.com/yourorg/portfolio-cms/internal/handler"
	"github.com/yourorg/portfolio-cms/internal/imaging"
	"github.com/yourorg/portfolio-cms/internal/media"
	"github.com/yourorg/portfolio-cms/internal/middleware"
	"github.com/yourorg/portfolio-cms/internal/model"
	"github.com/yourorg/portfolio-cms/internal/netwatch"
	"github.com/yourorg/portfolio-cms/internal/storage"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Set up logger
	logger, err := createLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	handles := handle.NewRegistry()
	cms := client.NewCMSClient(cfg.CMS.URL, cfg.CMS.ServiceKey, cfg.CMS.Timeout, logger)
	publisher := setupPublisher(cfg, logger)

	compressor := imaging.NewImageCompressor(cfg.Compression)

	uploader, err := storage.NewUploader(cfg, cms, logger)
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}

	mediaManager := media.NewManager(cfg, compressor, uploader, handles, publisher, logger)

	imageCache, err := imaging.NewCache(cfg.Cache, cfg.Compression, compressor, handles, logger)
	if err != nil {
		logger.Fatal("Failed to initialize image cache", zap.Error(err))
	}
	imageCache.Start()

	// Connectivity to the CMS
	var prober netwatch.Prober = cms
	if cfg.Network.ProbeURL != "" {
		prober = netwatch.NewHTTPProber(cfg.Network.ProbeURL, cfg.Network.Timeout)
	}
	monitor := netwatch.NewMonitor(prober, cfg.Network.Interval, cfg.Network.Timeout, logger)

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	go monitor.Run(monitorCtx)

	backup, err := autosave.NewBackupStore(cfg.Backup, logger)
	if err != nil {
		logger.Error("Failed to set up auto-save backup", zap.Error(err))
		// Continue without local backup
	}

	autoSave := autosave.New(cfg.AutoSave, backup, publisher, logger)
	autoSave.SetSaveCallback(func(ctx context.Context, data model.SaveData) error {
		return cms.SaveContent(ctx, data.ProjectID, data.Content)
	})
	autoSave.Start(monitor)

	router := setupRouter(cfg, logger, routes{
		media:    handler.NewMediaHandler(mediaManager, logger),
		images:   handler.NewImageHandler(imageCache, logger),
		autoSave: handler.NewAutoSaveHandler(autoSave, monitor, logger),
		blobs:    handler.NewBlobHandler(handles),
		health:   handler.NewHealthHandler(monitor, handles, cfg.Kafka.Enabled),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start the server in a goroutine
	go func() {
		logger.Info("Starting portfolio CMS server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Create a deadline for server shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	// Last chance for unsaved editor content
	if message, pending := autoSave.BeforeUnload(); pending {
		logger.Warn(message)
		if err := autoSave.ForceSave(ctx); err != nil {
			logger.Error("Final auto-save failed", zap.Error(err))
		}
	}

	autoSave.Stop()
	stopMonitor()
	imageCache.Stop()
	mediaManager.Close()

	if err := publisher.Close(); err != nil {
		logger.Error("Failed to close event publisher", zap.Error(err))
	}
	if closer, ok := backup.(io.Closer); ok {
		closer.Close()
	}

	logger.Info("Server exited properly")
}

// setupPublisher returns a Kafka publisher when enabled, a no-op one otherwise
func setupPublisher(cfg *config.Config, logger *zap.Logger) events.Publisher {
	if !cfg.Kafka.Enabled || len(cfg.Kafka.Brokers) == 0 {
		return events.NopPublisher{}
	}

	publisher := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.ClientID, logger)
	logger.Info("Initialized Kafka publisher", zap.Strings("brokers", cfg.Kafka.Brokers))
	return publisher
}

type routes struct {
	media    *handler.MediaHandler
	images   *handler.ImageHandler
	autoSave *handler.AutoSaveHandler
	blobs    *handler.BlobHandler
	health   *handler.HealthHandler
}

func setupRouter(cfg *config.Config, logger *zap.Logger, h routes) *gin.Engine {
	router := gin.New()

	// Use standard middlewares
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger, "/health", "/metrics"))
	router.Use(middleware.BlobURLRewriter(cfg.Server.PublicURL))

	// Public routes
	router.GET("/health", h.health.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/blob/:id", h.blobs.Get)

	// Uploads and re-encodes are the expensive calls
	limited := []gin.HandlerFunc{}
	if cfg.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.BurstSize)
		limited = append(limited, middleware.RateLimit(limiter))
	}

	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(cfg.Auth, logger))
	{
		mediaRoutes := api.Group("/media")
		mediaRoutes.POST("/upload", append(limited, h.media.Upload)...)
		mediaRoutes.POST("/validate", h.media.Validate)
		mediaRoutes.GET("/stats", h.media.Stats)
		mediaRoutes.GET("/projects/:projectId", h.media.ProjectFiles)
		mediaRoutes.DELETE("/cache", h.media.ClearCache)
		mediaRoutes.GET("/:id", h.media.Get)
		mediaRoutes.DELETE("/:id", h.media.Delete)

		images := api.Group("/images")
		images.POST("/optimize", append(limited, h.images.Optimize)...)
		images.POST("/preload", append(limited, h.images.Preload)...)
		images.POST("/thumbnail", append(limited, h.images.Thumbnail)...)
		images.DELETE("/handles/:id", h.images.Release)
		images.GET("/stats", h.images.Stats)
		images.DELETE("/cache", h.images.ClearCache)

		autoSave := api.Group("/autosave")
		autoSave.POST("", h.autoSave.Save)
		autoSave.POST("/force", h.autoSave.Force)
		autoSave.GET("/status", h.autoSave.Status)
		autoSave.GET("/backup", h.autoSave.Backup)
		autoSave.DELETE("/backup", h.autoSave.ClearBackup)
		autoSave.POST("/network", h.autoSave.Network)
		autoSave.GET("/unload", h.autoSave.Unload)
	}

	return router
}

func createLogger(level, format string) (*zap.Logger, error) {
	// Parse log level
	var zapLevel zap.AtomicLevel
	switch level {
	case "debug":
		zapLevel = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		zapLevel = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapLevel = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	if format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	} else {
		format = "json"
	}

	config := zap.Config{
		Level:            zapLevel,
		Development:      false,
		Encoding:         format,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return config.Build()
}
