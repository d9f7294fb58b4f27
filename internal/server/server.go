// Package server exposes the BilimShare HTTP API, the live feed WebSocket and
// the single-page app bundle.
package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "bilimshare/docs" // swagger docs
	"bilimshare/internal/cache"
	"bilimshare/internal/config"
	"bilimshare/internal/database"
	"bilimshare/internal/feed"
	"bilimshare/internal/middleware"
	"bilimshare/internal/models"
	"bilimshare/internal/notifications"
	"bilimshare/internal/repository"
	"bilimshare/internal/service"
	"bilimshare/internal/state"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/swagger"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc
	userRepo       repository.UserRepository
	postRepo       repository.PostRepository
	commentRepo    repository.CommentRepository
	likeRepo       repository.LikeRepository
	store          *state.Store
	actions        *service.Actions
	auth           *service.AuthService
	notifier       *notifications.Notifier
	hub            *notifications.Hub
}

// NewServer connects the store and Redis from cfg and builds the server.
func NewServer(cfg *config.Config) (*Server, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to store: %w", err)
	}

	// Redis is optional: without it the cache, the rate limiter and
	// cross-instance events are disabled.
	redisClient := cache.InitRedis(cfg.RedisURL)

	return NewServerWithDeps(cfg, db, redisClient)
}

// NewServerWithDeps builds the server over existing connections. redisClient
// may be nil.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	if db == nil {
		return nil, errors.New("server: nil database")
	}

	userRepo := repository.NewUserRepository(db)
	postRepo := repository.NewPostRepository(db)
	commentRepo := repository.NewCommentRepository(db)
	likeRepo := repository.NewLikeRepository(db)

	cache.SetClient(redisClient)

	store := state.New(feed.NewFetcher(feed.FetcherInput{
		Posts:    postRepo,
		Users:    userRepo,
		Comments: commentRepo,
		Likes:    likeRepo,
		Timeout:  cfg.StoreTimeout(),
	}))

	notifier := notifications.NewNotifier(redisClient)
	hub := notifications.NewHub()
	store.AddInvalidator(cache.NewInvalidator())
	store.AddObserver(notifications.NewFeedObserver(hub, notifier))

	server := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: middleware.InitMetrics("bilimshare-api"),
		userRepo:       userRepo,
		postRepo:       postRepo,
		commentRepo:    commentRepo,
		likeRepo:       likeRepo,
		store:          store,
		notifier:       notifier,
		hub:            hub,
	}

	server.actions = service.NewActions(service.ActionsInput{
		Users:    userRepo,
		Posts:    postRepo,
		Comments: commentRepo,
		Likes:    likeRepo,
		State:    store,
		Timeout:  cfg.StoreTimeout(),
	})
	server.auth = service.NewAuthService(userRepo, cfg.JWTSecret, cfg.TokenTTL())

	return server, nil
}

// SetupMiddleware installs the global middleware chain.
func (s *Server) SetupMiddleware(app *fiber.App) {
	// Panic recovery
	app.Use(recover.New())

	// Request ID for tracing
	app.Use(requestid.New())

	app.Use(middleware.TracingMiddleware())

	// Context Middleware to propagate Request ID and Trace ID
	app.Use(middleware.ContextMiddleware())

	// Prometheus Metrics
	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	// Security headers. Post images come from other hosts.
	app.Use(helmet.New(helmet.Config{
		CrossOriginEmbedderPolicy: "unsafe-none",
		CrossOriginResourcePolicy: "cross-origin",
	}))

	// Structured Logging middleware (after requestid and context middleware)
	app.Use(middleware.StructuredLogger())

	// Unknown origins are rejected before routing.
	origins := s.config.Origins()
	app.Use(middleware.OriginGuard(origins))

	allowOrigins := "*"
	if len(origins) > 0 {
		allowOrigins = strings.Join(origins, ",")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		MaxAge:       86400, // 24 hours
	}))

	// Global rate limiting (300 requests per minute per IP)
	app.Use(limiter.New(limiter.Config{
		Max:        300,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions || s.config.Env == "test"
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	// Health checks
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)

	// Metrics endpoint for Prometheus
	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	api := app.Group("/api")

	// Swagger documentation
	api.Get("/swagger/*", swagger.HandlerDefault)

	// Routes kept compatible with the original web client
	api.Get("/posts", s.GetPosts)
	api.Get("/likes/:postId", s.GetLikesCount)
	api.Post("/like", s.OptionalAuth(), s.ToggleLike)
	api.Post("/comments", s.OptionalAuth(), s.AddComment)
	api.Post("/signup", middleware.RateLimit(
		s.redis, 5, 10*time.Minute, "signup"), s.Signup)

	api.Post("/login", middleware.RateLimit(
		s.redis, 10, 5*time.Minute, "login"), s.Login)

	// Feed
	api.Get("/feed", s.OptionalAuth(), s.GetFeed)
	api.Get("/ws", s.OptionalAuth(), s.FeedWebSocket())

	api.Get("/me", s.AuthRequired(), s.GetMe)

	api.Post("/posts", s.AuthRequired(), middleware.RateLimit(
		s.redis, 10, 5*time.Minute, "create_post"), s.CreatePost)
	api.Delete("/posts/:id", s.AuthRequired(), s.DeletePost)
	api.Delete("/comments/:id", s.AuthRequired(), s.DeleteComment)

	// Users. The admin listing sits on the bare path, the public profile on /:id.
	api.Get("/users", s.AuthRequired(), s.AdminRequired(), s.ListUsers)
	api.Put("/users/:id/role", s.AuthRequired(), s.ChangeRole)
	api.Delete("/users/:id", s.AuthRequired(), s.DeleteUser)
	api.Get("/users/:id", s.OptionalAuth(), s.GetUserProfile)

	api.All("/*", func(c *fiber.Ctx) error {
		return models.RespondWithError(c, fiber.StatusNotFound,
			&models.AppError{Code: models.CodeNotFound, Message: "Route not found"})
	})

	s.SetupStatic(app)
}

// App returns the configured Fiber application, building it on first use.
func (s *Server) App() *fiber.App {
	if s.app != nil {
		return s.app
	}

	app := fiber.New(fiber.Config{
		AppName:      "BilimShare API",
		ErrorHandler: s.errorHandler,
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	s.app = app
	return app
}

func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code := models.CodeInternal
		switch fe.Code {
		case fiber.StatusNotFound:
			code = models.CodeNotFound
		case fiber.StatusBadRequest, fiber.StatusUnprocessableEntity:
			code = models.CodeValidation
		case fiber.StatusUnauthorized:
			code = models.CodeUnauthorized
		case fiber.StatusForbidden:
			code = models.CodeForbidden
		}
		return models.RespondWithError(c, fe.Code, &models.AppError{Code: code, Message: fe.Message})
	}

	middleware.Logger.ErrorContext(c.UserContext(), "Unhandled request error", "path", c.Path(), "error", err)
	return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
}

// LivenessCheck reports that the process is serving requests.
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ok",
		"time":   time.Now(),
	})
}

// ReadinessCheck pings the store and, when configured, Redis.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	if err := database.Ping(ctx, s.db); err != nil {
		dbStatus = "unhealthy"
	}

	// Redis is optional, so its absence does not fail readiness.
	redisStatus := "disabled"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	var generation uint64
	if snap := s.store.Current(); snap != nil {
		generation = snap.Generation
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus != "healthy" || redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"feed_generation": generation,
		"time":            time.Now(),
	})
}

// Start builds the app, wires cross-instance events and listens on the
// configured port. It blocks until the listener stops.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.shutdownCtx = ctx
	s.shutdownFn = cancel

	app := s.App()

	if s.redis != nil {
		if err := notifications.StartWiring(s.shutdownCtx, s.notifier, s.store); err != nil {
			middleware.Logger.Error("Failed to subscribe to feed events", "error", err)
		}
	}

	// Warm the snapshot so the first visitor does not pay for the fetch.
	go func() {
		if _, err := s.store.Load(s.shutdownCtx); err != nil {
			middleware.Logger.Warn("Initial feed load failed", "error", err)
		}
	}()

	middleware.Logger.Info("Server starting", "port", s.config.Port, "env", s.config.Env)
	return app.Listen(":" + s.config.Port)
}

// Shutdown stops the listener, closes WebSocket clients and releases the
// store and Redis connections.
func (s *Server) Shutdown(ctx context.Context) error {
	// Cancel the server-scoped context to stop the event subscriber
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			middleware.Logger.Error("Error shutting down HTTP server", "error", err)
		}
	}

	if err := s.hub.Shutdown(ctx); err != nil {
		middleware.Logger.Error("Error shutting down feed hub", "error", err)
	}

	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			middleware.Logger.Error("Error closing store connection", "error", cerr)
		}
	}

	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			middleware.Logger.Error("Error closing redis", "error", rerr)
		}
	}

	middleware.Logger.Info("Server shutdown complete")
	return nil
}
