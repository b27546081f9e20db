// Package server assembles the fiber application serving the submission
// and status API.
package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/voxoff/pipeline/internal/handler"
	"github.com/voxoff/pipeline/internal/middleware"
	"github.com/voxoff/pipeline/internal/service"
	ws "github.com/voxoff/pipeline/internal/websocket"
	"github.com/voxoff/pipeline/pkg/response"
)

// Options carries everything the HTTP surface depends on.
type Options struct {
	Submissions       *service.SubmissionService
	Redis             redis.UniversalClient
	Hub               *ws.Hub
	Logger            *zap.Logger
	LogLevel          string
	SubmissionsPerMin int
}

// New builds the fiber app and registers every route.
func New(opts Options) *fiber.App {
	validate := validator.New()
	jobHandler := handler.NewJobHandler(opts.Submissions, validate, opts.Logger)
	historyHandler := handler.NewHistoryHandler(opts.Submissions, validate, opts.Logger)
	rateLimiter := middleware.NewRateLimiter(opts.Redis, opts.Logger)

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    1024 * 1024,
	})

	// Global middleware
	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if strings.EqualFold(opts.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body}\n"
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		redisOK := opts.Redis.Ping(ctx).Err() == nil

		status := fiber.StatusOK
		body := fiber.Map{"status": "ok", "services": fiber.Map{"redis": redisOK}}
		if !redisOK {
			status = fiber.StatusServiceUnavailable
			body["status"] = "degraded"
		}
		return c.Status(status).JSON(body)
	})

	api := app.Group("/api")

	jobs := api.Group("/jobs")
	jobs.Post("/", rateLimiter.SubmissionLimit(opts.SubmissionsPerMin), jobHandler.Submit)
	jobs.Get("/:jobId", jobHandler.Status)

	history := api.Group("/history")
	history.Post("/", historyHandler.Record)
	history.Get("/:userEmail", historyHandler.List)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")
		current, err := opts.Submissions.Status(context.Background(), jobID)
		if err != nil && !errors.Is(err, service.ErrJobNotFound) {
			opts.Logger.Warn("Failed to read job for subscriber", zap.String("job_id", jobID), zap.Error(err))
		}
		opts.Hub.HandleConnection(c, jobID, current)
	}))

	return app
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	errCode := response.CodeServiceError
	if code == fiber.StatusNotFound {
		errCode = response.CodeNotFound
	}
	return c.Status(code).JSON(response.ErrorResponse{
		Error: response.ErrorDetail{
			Code:    errCode,
			Message: message,
		},
	})
}
