package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"warelay/config"
	"warelay/database"
	"warelay/internal/credstore"
	"warelay/internal/handler"
	"warelay/internal/media"
	customMiddleware "warelay/internal/middleware"
	"warelay/internal/service"
	"warelay/internal/transport"
	"warelay/internal/ws"
)

func main() {
	// .env is optional, production injects the environment directly.
	_ = godotenv.Load()

	cfg := config.Load()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	if cfg.DatabaseURL == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}
	if cfg.JWTSecret == "" {
		logger.Fatal().Msg("JWT_SECRET is not set")
	}

	database.InitWhatsmeow(cfg.DatabaseURL)
	database.InitAppDB(cfg.DatabaseURL)

	creds := &credstore.Postgres{
		DB:        database.AppDB,
		Container: database.Container,
		Log:       logger,
	}
	ctx := context.Background()
	if err := creds.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to ensure schema")
	}

	service.InitAuthConfig(service.AuthConfig{
		JWTSecret:    []byte(cfg.JWTSecret),
		Username:     cfg.AdminUsername,
		PasswordHash: cfg.AdminPasswordHash,
	})

	transport.SetDeviceProps(cfg.DeviceName)
	factory := &transport.WhatsmeowFactory{
		Container: database.Container,
		Log:       logger,
		Thumbs:    true,
	}

	dispatcher := service.NewDispatcher(service.RetryPolicy{
		MaxRetries:      cfg.WebhookMaxRetries,
		InitialInterval: cfg.WebhookInitialInterval,
		BackoffFactor:   cfg.WebhookBackoffFactor,
	}, logger)

	var audio media.AudioConverter
	if cfg.FFmpegPath != "" {
		audio = &media.FFmpegConverter{Binary: cfg.FFmpegPath}
	}

	hub := ws.NewHub()
	go hub.Run()

	registry := service.NewRegistry(service.Deps{
		Factory:     factory,
		Creds:       creds,
		Dispatcher:  dispatcher,
		Audio:       audio,
		Realtime:    hub,
		Passthrough: cfg.PassthroughEvents,
		Log:         logger,
	})
	registry.RestoreStagger = cfg.RestoreStagger

	logger.Info().Msg("restoring saved sessions")
	if err := registry.RestoreAll(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to restore saved sessions")
	}

	// Setup Echo
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	if len(cfg.CORSAllowOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: cfg.CORSAllowOrigins,
			AllowMethods: []string{
				echo.GET,
				echo.POST,
				echo.PUT,
				echo.PATCH,
				echo.DELETE,
				echo.OPTIONS,
			},
			AllowHeaders: []string{
				echo.HeaderOrigin,
				echo.HeaderContentType,
				echo.HeaderAccept,
				echo.HeaderAuthorization,
			},
			AllowCredentials: true,
		}))
	}

	e.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(cfg.RateLimitPerSecond),
				Burst:     cfg.RateLimitBurst,
				ExpiresIn: cfg.RateLimitWindow,
			},
		),
	}))

	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		message := "Internal Server Error"
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			message = fmt.Sprintf("%v", he.Message)
		}
		response := map[string]interface{}{
			"success": false,
			"error":   message,
		}
		switch code {
		case http.StatusUnauthorized:
			response["message"] = "Authentication required. Please login first."
		case http.StatusMethodNotAllowed:
			response["message"] = "Method not allowed for this endpoint"
		case http.StatusNotFound:
			response["message"] = "Endpoint not found"
		}
		_ = c.JSON(code, response)
	}

	// Public routes
	e.POST("/login", handler.Login)
	e.GET("/ws", handler.WebSocketHandler(hub))
	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"success": true,
			"message": "Warelay gateway is running",
		})
	})

	// Everything else requires a JWT
	api := e.Group("/api", customMiddleware.JWTAuthMiddleware())

	api.POST("/connect/:identity", handler.Connect(registry))
	api.GET("/status/:identity", handler.SessionStatus(registry))
	api.GET("/sessions", handler.ListSessions(registry))
	api.POST("/logout/:identity", handler.Logout(registry))
	api.POST("/webhook-setconfig/:identity", handler.SetWebhookConfig(registry))

	api.POST("/send/:identity", handler.SendMessage(registry))
	api.POST("/presence/:identity", handler.SendPresence(registry))
	api.POST("/read/:identity", handler.ReadMessages(registry))
	api.POST("/chat-modify/:identity", handler.ChatModify(registry))
	api.POST("/history/:identity", handler.FetchMessageHistory(registry))
	api.POST("/receipts/:identity", handler.SendReceipts(registry))
	api.GET("/profile-picture/:identity", handler.ProfilePicture(registry))
	api.POST("/lookup/:identity", handler.Lookup(registry))

	go func() {
		logger.Info().Str("port", cfg.Port).Str("base_url", cfg.BaseURL).Msg("server starting")
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down, logging out all sessions")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	registry.ShutdownAll(shutdownCtx)
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown failed")
	}
}
