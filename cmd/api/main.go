package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/Ad-Bean/airouter-sub000/internal/adapter/repo"
	"github.com/Ad-Bean/airouter-sub000/internal/generation"
	"github.com/Ad-Bean/airouter-sub000/internal/http/handlers"
	"github.com/Ad-Bean/airouter-sub000/internal/http/httpapi"
	"github.com/Ad-Bean/airouter-sub000/internal/images"
	"github.com/Ad-Bean/airouter-sub000/internal/infra"
	"github.com/Ad-Bean/airouter-sub000/internal/infra/geoip"
	"github.com/Ad-Bean/airouter-sub000/internal/middleware"
	"github.com/Ad-Bean/airouter-sub000/internal/providers/genai"
	provider "github.com/Ad-Bean/airouter-sub000/internal/providers/image"
	"github.com/Ad-Bean/airouter-sub000/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	messageRepo := repo.NewMessageRepository(dbpool)
	imageRepo := repo.NewImageRepository(dbpool)
	userRepo := repo.NewUserRepository(dbpool)

	fileStore, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize file storage")
	}

	// GeoIP is optional; without a database the locale falls back to headers.
	var countryLookup middleware.CountryLookup
	if cfg.GeoIPDBPath != "" {
		resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
		if err != nil {
			logger.Warn().Err(err).Msg("geoip database unavailable, locale detection degraded")
		} else {
			defer resolver.Close()
			countryLookup = resolver.CountryCode
		}
	}

	providers := map[string]provider.Generator{}
	if cfg.OpenAIAPIKey != "" {
		openai, err := provider.NewOpenAIGenerator(provider.OpenAIOptions{
			APIKey:       cfg.OpenAIAPIKey,
			BaseURL:      cfg.OpenAIBaseURL,
			Model:        cfg.OpenAIModel,
			Organization: cfg.OpenAIOrg,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure openai provider")
		}
		providers[openai.Name()] = openai
	}
	if cfg.GeminiAPIKey != "" {
		genaiClient, err := genai.NewClient(genai.Options{
			APIKey:  cfg.GeminiAPIKey,
			BaseURL: cfg.GeminiBaseURL,
			Model:   cfg.GeminiModel,
			Logger:  &logger,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure google provider")
		}
		google := provider.NewGoogleGenerator(genaiClient)
		providers[google.Name()] = google
	}
	if len(providers) == 0 {
		logger.Warn().Msg("no image providers configured, generation requests will be rejected")
	}

	imageService := images.NewService(imageRepo, userRepo, fileStore, images.TTLPolicy{
		Free: cfg.ImageTTLFree,
		Paid: cfg.ImageTTLPaid,
	}, logger)

	orchestrator := generation.New(messageRepo, userRepo, imageService, providers, cfg.GenerateTimeout, logger)

	app := &handlers.App{
		Logger:       logger,
		Orchestrator: orchestrator,
		Messages:     messageRepo,
		Images:       imageRepo,
		Blobs:        fileStore,
	}

	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:          logger,
		JWTSecret:       cfg.JWTSecret,
		AllowedOrigins:  cfg.AllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		CountryLookup:   countryLookup,
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}

	// Detached generations keep running after the listener closes; give them
	// time to merge and settle before the process exits.
	orchestrator.Wait()
	logger.Info().Msg("server stopped")
}
