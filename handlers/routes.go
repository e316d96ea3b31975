package handlers

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/karthikraju391/teamchat-gateway/auth"
	"github.com/karthikraju391/teamchat-gateway/encryption"
	"github.com/karthikraju391/teamchat-gateway/hub"
	"github.com/karthikraju391/teamchat-gateway/metrics"
	"github.com/karthikraju391/teamchat-gateway/store"
)

type AppConfig struct {
	WSPath   string
	Gateway  *Gateway
	Hub      *hub.Hub
	Verifier *auth.Verifier
	History  store.HistoryReader
	Cipher   *encryption.Cipher
	Access   ChannelReader // nil skips the history read check
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	// AccessLog enables Fiber's request logger.
	AccessLog bool
}

// NewApp builds the Fiber app serving the chat socket, message history,
// health and metrics.
func NewApp(cfg AppConfig) *fiber.App {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.WSPath == "" {
		cfg.WSPath = "/ws"
	}

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(recover.New())
	if cfg.AccessLog {
		app.Use(logger.New())
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		s := cfg.Hub.Stats()
		return c.JSON(fiber.Map{
			"status":      "ok",
			"connections": s.Connections,
			"rooms":       len(s.Rooms),
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	h := &historyHandler{
		reader:  cfg.History,
		cipher:  cfg.Cipher,
		access:  cfg.Access,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
	api := app.Group("/api", auth.Middleware(cfg.Verifier))
	api.Get("/channels/:channelId/messages", h.get)

	app.Use(cfg.WSPath, cfg.Gateway.Authenticate)
	app.Get(cfg.WSPath, cfg.Gateway.Handler())

	return app
}
