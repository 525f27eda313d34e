// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andresuchdata/gdrive-helper/internal/api"
	"github.com/andresuchdata/gdrive-helper/internal/config"
	"github.com/andresuchdata/gdrive-helper/internal/drive"
	"github.com/andresuchdata/gdrive-helper/internal/tokenstore"
	"github.com/andresuchdata/gdrive-helper/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/mux"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	logger.Configure(os.Stderr, cfg.Server.LogFormat)
	logger.SetLevel(cfg.Server.LogLevel)
	if cfg.Server.Mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Load OAuth client credentials once; they are immutable afterwards
	doc, err := cfg.Google.CredentialsDocument()
	if err != nil {
		logger.Log.Fatal().Err(err).Str("path", cfg.Google.CredentialsPath).Msg("Failed to read OAuth credentials")
	}
	creds, err := drive.ParseCredentials(doc)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Invalid OAuth credentials")
	}

	// Initialize token store
	store, closeStore, err := tokenstore.Open(context.Background(), cfg)
	if err != nil {
		logger.Log.Fatal().Err(err).Str("backend", cfg.TokenStore.Backend).Msg("Failed to open token store")
	}
	defer closeStore()

	// Register drive routes
	driveRoutes := mux.NewRouter()
	driveHandler := drive.NewHandler(drive.NewAuthorizer(nil), creds, store, cfg.App.UploadDir, cfg.App.PageSize)
	driveHandler.RegisterRoutes(driveRoutes)

	router := api.NewRouter(driveRoutes, cfg.Server.AllowedOrigins)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Log.Info().
			Str("port", cfg.Server.Port).
			Str("token_store", cfg.TokenStore.Backend).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info().Msg("Shutting down server...")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Log.Info().Msg("Server exiting")
}
