package main

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"atomic-guide-cac/internal/actor"
	"atomic-guide-cac/internal/catalog"
	"atomic-guide-cac/internal/config"
	"atomic-guide-cac/internal/engine"
	"atomic-guide-cac/internal/handlers"
	"atomic-guide-cac/internal/kv"
	"atomic-guide-cac/internal/llm"
	"atomic-guide-cac/internal/logging"
	"atomic-guide-cac/internal/metrics"
	"atomic-guide-cac/internal/seed"
	"atomic-guide-cac/internal/store"
)

func main() {
	cfg, err := config.Load(os.Getenv("CAC_CONFIG_FILE"))
	if err != nil {
		panic(err)
	}

	logger := logging.New(envOr("LOG_LEVEL", "info"), os.Getenv("LOG_PRETTY") == "true")
	logger.Info().Str("port", cfg.Port).Msg("starting atomic-guide-cac")

	sessionStore, db := mustStore(cfg, logger)
	if db != nil {
		defer db.Close()
	}

	kvStore := mustKV(cfg, logger)
	provider := mustLLMProvider(logger)
	cat := catalog.NewMemory()

	if err := seed.Baseline(context.Background(), cat, logger); err != nil {
		logger.Fatal().Err(err).Msg("seeding baseline assessment configs")
	}

	eng := engine.New(cfg, sessionStore, cat, kvStore, provider)
	actors := actor.NewRegistry()
	handler := handlers.NewHandler(eng, actors, sessionStore, logger, cfg.ConflictRetryBudget)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			status := fiber.StatusInternalServerError
			message := "internal error"
			var fiberErr *fiber.Error
			if errors.As(err, &fiberErr) {
				status = fiberErr.Code
				message = fiberErr.Message
			}
			logger.Error().Err(err).Int("status", status).Str("path", c.Path()).Msg("request failed")
			return c.Status(status).JSON(fiber.Map{"error": message})
		},
	})

	app.Use(requestLogger(logger))

	app.Get("/health", handler.Health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	sessions := app.Group("/sessions", handlers.RequireAuth(cfg.JWTSecret))
	sessions.Post("/", handler.CreateSession)
	sessions.Get("/:id", handler.GetSession)
	sessions.Post("/:id/respond", handler.Respond)
	sessions.Post("/:id/retry", handler.Retry)
	sessions.Post("/:id/grade", handler.Grade)
	sessions.Get("/:id/audit", handler.Audit)

	app.Use("/sessions/:id/stream", handlers.RequireAuth(cfg.JWTSecret), handlers.StreamUpgrade)
	app.Get("/sessions/:id/stream", websocket.New(handler.Stream))

	metrics.ActiveSessions.Set(0)

	go gracefulShutdown(app, logger)

	if err := app.Listen("0.0.0.0:" + cfg.Port); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}

func mustStore(cfg *config.Config, logger zerolog.Logger) (store.Store, *sql.DB) {
	if os.Getenv("CAC_STORE") == "memory" {
		logger.Warn().Msg("using in-memory store (CAC_STORE=memory); not for production")
		return store.NewMemory(), nil
	}

	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("opening database")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := store.Migrate(ctx, db); err != nil {
		logger.Fatal().Err(err).Msg("running migrations")
	}
	return store.NewPostgres(db), db
}

func mustKV(cfg *config.Config, logger zerolog.Logger) kv.KV {
	if os.Getenv("CAC_KV") == "memory" {
		logger.Warn().Msg("using in-memory kv (CAC_KV=memory); not for production")
		return kv.NewMemory()
	}
	opts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parsing redis url")
	}
	return kv.NewRedisFromClient(goredis.NewClient(opts))
}

func mustLLMProvider(logger zerolog.Logger) llm.Provider {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		logger.Warn().Msg("OPENAI_API_KEY not set; falling back to FakeProvider")
		return &llm.FakeProvider{Responses: []string{
			"Welcome! Let's get started with this assessment.",
		}}
	}
	return llm.NewOpenAIProvider(apiKey, os.Getenv("OPENAI_MODEL"))
}

func requestLogger(logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		logger.Info().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", c.Response().StatusCode()).
			Dur("latency", time.Since(start)).
			Msg("request")
		return err
	}
}

func gracefulShutdown(app *fiber.App, logger zerolog.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	logger.Info().Msg("shutting down")
	if err := app.ShutdownWithTimeout(15 * time.Second); err != nil {
		logger.Error().Err(err).Msg("error during shutdown")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
