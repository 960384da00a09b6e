package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Fullstackdeveloper4545/aws/config"
	"github.com/Fullstackdeveloper4545/aws/handler"
	"github.com/Fullstackdeveloper4545/aws/middleware"
	"github.com/Fullstackdeveloper4545/aws/model"
	"github.com/Fullstackdeveloper4545/aws/pkg/logger"
	"github.com/Fullstackdeveloper4545/aws/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.Init(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	slog.Info("configuration loaded successfully")

	// Open the relational store
	store, err := service.NewStore(cfg.Database.Path)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Seed certificate bundles declared in config
	if err := seedBundles(cfg, store); err != nil {
		slog.Error("failed to seed certificate bundles", "error", err)
		os.Exit(1)
	}

	// Optional payload archive
	var archive service.Archiver
	if cfg.Archive.Enabled {
		archiveSvc, err := service.NewArchiveService(&cfg.Archive)
		if err != nil {
			slog.Error("failed to initialize archive service", "error", err)
			os.Exit(1)
		}
		if err := archiveSvc.EnsureBucket(context.Background()); err != nil {
			slog.Error("failed to ensure archive bucket", "error", err)
			os.Exit(1)
		}
		archive = archiveSvc
	}

	// Fetch orchestration
	progress := service.NewProgressStore(&cfg.Progress)
	fetcher := service.NewFetcher(store, store, archive, progress, cfg)
	fetchHandler := handler.NewFetchHandler(fetcher, store)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New() // Use New() instead of Default() to avoid default middleware

	// Add custom middleware
	router.Use(middleware.RequestID())                 // Request ID for tracing
	router.Use(middleware.Recovery())                  // Panic recovery
	router.Use(middleware.RequestLogger())             // Access logging
	router.Use(corsMiddleware())                       // CORS
	router.Use(middleware.RateLimit(100, time.Minute)) // Rate limiting: 100 requests per minute

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	api := router.Group("/api")
	{
		api.POST("/fetch/start", fetchHandler.StartFetch)
		api.GET("/fetch/progress/:job_id", fetchHandler.GetProgress)
		api.POST("/waybills/fetch", fetchHandler.FetchWaybill)
		api.GET("/waybills", fetchHandler.ListWaybills)
	}

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server exited gracefully")
}

// seedBundles upserts the certificate bundles declared in config so
// deployments can ship credentials without the dashboard screens.
func seedBundles(cfg *config.Config, store *service.Store) error {
	for _, seed := range cfg.Bundles {
		pfx, err := os.ReadFile(seed.PFXPath)
		if err != nil {
			return fmt.Errorf("bundle %q: %w", seed.Name, err)
		}

		var serverCert []byte
		if seed.ServerCertPath != "" {
			serverCert, err = os.ReadFile(seed.ServerCertPath)
			if err != nil {
				return fmt.Errorf("bundle %q: %w", seed.Name, err)
			}
		}

		bundle := &model.CertificateBundle{
			Name:        seed.Name,
			ClientPFX:   pfx,
			PFXPassword: seed.PFXPassword,
			ServerCert:  serverCert,
			CarsURL:     seed.CarsURL,
			WaybillURL:  seed.WaybillURL,
			SkipVerify:  seed.SkipVerify,
			IsActive:    true,
		}
		if err := store.UpsertBundle(context.Background(), bundle); err != nil {
			return fmt.Errorf("bundle %q: %w", seed.Name, err)
		}
		slog.Info("certificate bundle seeded", "name", seed.Name, "id", bundle.ID)
	}
	return nil
}

// corsMiddleware handles CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
