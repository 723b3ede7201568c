// Package api exposes the categorization engine over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Veraticus/ledgerline/internal/common"
	"github.com/Veraticus/ledgerline/internal/engine"
	"github.com/Veraticus/ledgerline/internal/remote"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// MaxBatchSize caps the number of transactions in one batch request.
const MaxBatchSize = 1000

// Remote is the part of the remote adapter the API uses.
type Remote interface {
	State() remote.State
	Ask(ctx context.Context, question string) (string, error)
}

// Config configures the HTTP server.
type Config struct {
	Version      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BodyLimit    int
}

// Server serves the engine's HTTP API.
type Server struct {
	engine *engine.Engine
	remote Remote
	app    *fiber.App
	logger *slog.Logger
	cfg    Config
}

// New builds a server around eng. remote may be nil when no provider is configured.
func New(eng *engine.Engine, rem Remote, cfg Config, logger *slog.Logger) *Server {
	s := &Server{
		engine: eng,
		remote: rem,
		logger: common.LoggerOrDefault(logger),
		cfg:    cfg,
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "ledgerline",
		DisableStartupMessage: true,
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		BodyLimit:             cfg.BodyLimit,
		ErrorHandler:          s.handleError,
	})
	s.app.Use(recover.New())
	s.app.Use(s.logRequests)
	s.routes()

	return s
}

func (s *Server) routes() {
	api := s.app.Group("/api")

	api.Get("/health", s.handleHealth)
	api.Get("/stats", s.handleStats)

	api.Post("/classify", s.handleClassify)
	api.Post("/classify/batch", s.handleClassifyBatch)
	api.Post("/corrections", s.handleCorrection)
	api.Post("/ask", s.handleAsk)

	api.Get("/accounts/:jurisdiction", s.handleAccounts)

	api.Get("/rules", s.handleListRules)
	api.Post("/rules", s.handleAddRule)
	api.Get("/rules/export", s.handleExportRules)
	api.Post("/rules/import", s.handleImportRules)
	api.Patch("/rules/:id", s.handleUpdateRule)
	api.Delete("/rules/:id", s.handleRemoveRule)
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown is called.
func (s *Server) Listen(addr string) error {
	s.logger.Info("HTTP API listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) logRequests(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()

	status := c.Response().StatusCode()
	var fe *fiber.Error
	if errors.As(err, &fe) {
		status = fe.Code
	}
	s.logger.Debug("HTTP request",
		"method", c.Method(),
		"path", c.Path(),
		"status", status,
		"duration", time.Since(start))
	return err
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleError maps engine errors onto HTTP status codes.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		code = fe.Code
	case errors.Is(err, common.ErrInvalidRequest),
		errors.Is(err, common.ErrInvalidRule),
		errors.Is(err, common.ErrInvalidAccountCode),
		errors.Is(err, common.ErrUnsupportedSnapshot):
		code = fiber.StatusBadRequest
	case errors.Is(err, common.ErrRuleNotFound),
		errors.Is(err, common.ErrUnknownJurisdiction):
		code = fiber.StatusNotFound
	case errors.Is(err, common.ErrRemoteUnavailable):
		code = fiber.StatusServiceUnavailable
	}

	if code >= fiber.StatusInternalServerError {
		s.logger.Error("Request failed", "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(errorResponse{Error: err.Error()})
}
