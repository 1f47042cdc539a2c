package api

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/waconnect/waconnect-go/internal/api/handlers"
	"github.com/waconnect/waconnect-go/internal/api/middleware"
	"github.com/waconnect/waconnect-go/internal/session"
	"github.com/waconnect/waconnect-go/internal/webhookqueue"
	"go.uber.org/zap"
)

// ServerConfig holds server configuration.
type ServerConfig struct {
	Port     string
	APIKey   string
	Logger   *zap.SugaredLogger
	Registry *session.Registry
	Webhooks *webhookqueue.Engine
}

// Server is the gateway's HTTP surface.
type Server struct {
	app            *fiber.App
	config         ServerConfig
	sessionHandler *handlers.SessionHandler
	messageHandler *handlers.MessageHandler
	webhookHandler *handlers.WebhookHandler
}

// NewServer creates a new API server wired to the session registry and
// webhook delivery engine.
func NewServer(config ServerConfig) *Server {
	app := fiber.New(fiber.Config{
		AppName:      "WAConnect Go",
		ServerHeader: "WAConnect",
		ErrorHandler: customErrorHandler,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${method} ${path} (${latency})\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, X-API-Key, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	sessionHandler := handlers.NewSessionHandler(config.Registry, config.Logger)
	messageHandler := handlers.NewMessageHandler(config.Registry, config.Logger)
	webhookHandler := handlers.NewWebhookHandler(config.Webhooks, config.Logger)

	server := &Server{
		app:            app,
		config:         config,
		sessionHandler: sessionHandler,
		messageHandler: messageHandler,
		webhookHandler: webhookHandler,
	}

	server.setupRoutes()

	return server
}

// setupRoutes configures every route named in the external interfaces spec.
func (s *Server) setupRoutes() {
	s.app.Get("/health", s.healthHandler)

	api := s.app.Group("/api/v1", middleware.APIKeyAuth(s.config.APIKey))

	sessions := api.Group("/sessions")
	sessions.Post("/:id/init", s.sessionHandler.Init)
	sessions.Get("/", s.sessionHandler.List)
	sessions.Get("/:id", s.sessionHandler.Get)
	sessions.Get("/:id/qr", s.sessionHandler.GetQR)
	sessions.Post("/:id/restart", s.sessionHandler.Restart)
	sessions.Delete("/:id", s.sessionHandler.Delete)
	sessions.Post("/:id/pairing-code", s.sessionHandler.PairingCode)
	sessions.Post("/:id/send/text", s.messageHandler.SendText)

	webhooks := api.Group("/webhooks")
	webhooks.Get("/stats", s.webhookHandler.Stats)
	webhooks.Post("/retry", s.webhookHandler.Retry)
}

// healthHandler reports process liveness plus session/webhook counts.
func (s *Server) healthHandler(c *fiber.Ctx) error {
	stats, err := s.config.Webhooks.Stats(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"status": "degraded",
			"error":  err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"status":   "ok",
		"version":  "1.0.0",
		"sessions": len(s.config.Registry.List()),
		"webhooks": stats,
	})
}

// Start starts the server.
func (s *Server) Start() error {
	return s.app.Listen(fmt.Sprintf(":%s", s.config.Port))
}

// Stop stops the server.
func (s *Server) Stop() error {
	return s.app.Shutdown()
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	return c.Status(code).JSON(fiber.Map{
		"success": false,
		"error":   err.Error(),
	})
}
