// Package server exposes the command pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/health"
	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/pipeline"
	"github.com/Veraticus/the-books-must-balance/internal/ratelimit"
	"github.com/Veraticus/the-books-must-balance/internal/response"
)

// Caller identity headers. The subscription tier is never read from the
// request; the rate guard resolves it from configuration.
const (
	HeaderUserID   = "X-User-ID"
	HeaderCallerID = "X-Caller-ID"
)

// Pipeline handles commands and approvals.
type Pipeline interface {
	Command(ctx context.Context, cmd pipeline.Command) response.Response
	Approve(ctx context.Context, req pipeline.ApproveRequest) response.Response
}

// Admitter decides whether a request may proceed.
type Admitter interface {
	Admit(ctx context.Context, caller ratelimit.Caller) ratelimit.Decision
}

// HealthReporter summarizes dependency health.
type HealthReporter interface {
	Report(ctx context.Context) health.Report
}

// Config tunes the HTTP server.
type Config struct {
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	BodyLimit       int           `mapstructure:"body_limit"`
}

// DefaultConfig returns the production server settings.
func DefaultConfig() Config {
	return Config{
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    90 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		BodyLimit:       64 * 1024,
	}
}

// Server is the HTTP front door.
type Server struct {
	app      *fiber.App
	pipeline Pipeline
	guard    Admitter
	health   HealthReporter
	logger   *slog.Logger
	cfg      Config
}

// New builds the fiber app and its routes. guard may be nil to disable throttling.
func New(p Pipeline, guard Admitter, reporter HealthReporter, cfg Config, logger *slog.Logger) *Server {
	def := DefaultConfig()
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = def.BodyLimit
	}

	s := &Server{
		pipeline: p,
		guard:    guard,
		health:   reporter,
		logger:   common.OrDefault(logger),
		cfg:      cfg,
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "books",
		DisableStartupMessage: true,
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		BodyLimit:             cfg.BodyLimit,
		ErrorHandler:          s.handleError,
	})

	s.app.Get("/health", s.handleHealth)

	api := s.app.Group("/api", s.admit)
	v1 := api.Group("/v1")
	v1.Post("/command", s.handleCommand)
	v1.Post("/approve", s.handleApprove)

	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener, which may terminate TLS.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", ln.Addr().String())
		errCh <- s.app.Listener(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	return s.app.ShutdownWithContext(shutdownCtx)
}

func callerFrom(c *fiber.Ctx) ratelimit.Caller {
	return ratelimit.Caller{
		ID:     c.Get(HeaderCallerID),
		UserID: c.Get(HeaderUserID),
		IP:     c.IP(),
	}
}

// admit runs the rate guard in front of every /api route.
func (s *Server) admit(c *fiber.Ctx) error {
	if s.guard == nil {
		return c.Next()
	}

	decision := s.guard.Admit(c.UserContext(), callerFrom(c))
	if decision.Allowed {
		return c.Next()
	}

	seconds := int(math.Ceil(decision.RetryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	c.Set(fiber.HeaderRetryAfter, strconv.Itoa(seconds))
	return s.respond(c, response.FromError(decision.Err()))
}

type commandBody struct {
	Context     map[string]any `json:"context"`
	Message     string         `json:"message"`
	AutoApprove bool           `json:"auto_approve"`
}

func (s *Server) handleCommand(c *fiber.Ctx) error {
	var body commandBody
	if err := c.BodyParser(&body); err != nil {
		return s.respond(c, response.FromError(badBody(err)))
	}

	resp := s.pipeline.Command(c.UserContext(), pipeline.Command{
		Message:     body.Message,
		Context:     body.Context,
		AutoApprove: body.AutoApprove,
		Caller:      callerFrom(c),
	})
	return s.respond(c, resp)
}

type approveBody struct {
	TransactionID string `json:"transaction_id"`
	Confirmation  string `json:"confirmation"`
	Approved      bool   `json:"approved"`
}

func (s *Server) handleApprove(c *fiber.Ctx) error {
	var body approveBody
	if err := c.BodyParser(&body); err != nil {
		return s.respond(c, response.FromError(badBody(err)))
	}

	resp := s.pipeline.Approve(c.UserContext(), pipeline.ApproveRequest{
		TransactionID: body.TransactionID,
		Approved:      body.Approved,
		Confirmation:  parseConfirmation(body.Confirmation),
		Caller:        callerFrom(c),
	})
	return s.respond(c, resp)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	if s.health == nil {
		return c.JSON(health.Report{Status: health.StatusHealthy, CheckedAt: time.Now().UTC()})
	}

	report := s.health.Report(c.UserContext())
	status := http.StatusOK
	if report.Status == health.StatusUnavailable {
		status = http.StatusServiceUnavailable
	}
	return c.Status(status).JSON(report)
}

func (s *Server) respond(c *fiber.Ctx, resp response.Response) error {
	if resp.Error != nil && resp.Error.RetryAfterSeconds > 0 && c.GetRespHeader(fiber.HeaderRetryAfter) == "" {
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(resp.Error.RetryAfterSeconds))
	}
	return c.Status(response.HTTPStatus(resp)).JSON(resp)
}

// handleError renders errors that escaped a handler, such as unknown routes.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(response.Response{
			Type: response.TypeError,
			Error: &response.ErrorBody{
				Code:    "HTTP_" + strconv.Itoa(fe.Code),
				Kind:    string(common.KindValidation),
				Message: fe.Message,
			},
		})
	}

	s.logger.Error("unhandled request error", "path", c.Path(), "error", err)
	return s.respond(c, response.FromError(err))
}

func badBody(err error) error {
	return common.NewValidationError("INVALID_BODY", "the request body is not valid JSON", err)
}

// parseConfirmation keeps unknown levels so they are denied rather than
// read as an omitted field.
func parseConfirmation(s string) model.Confirmation {
	return model.Confirmation(strings.ToLower(strings.TrimSpace(s)))
}
