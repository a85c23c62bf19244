package server

import (
	"time"

	"backend-triptrack/internal/auth"
	"backend-triptrack/internal/config"
	"backend-triptrack/internal/session"
	"backend-triptrack/internal/store"
	"backend-triptrack/internal/stream"
	"backend-triptrack/internal/trip"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	App      *fiber.App
	Cfg      config.Config
	DB       *pgxpool.Pool
	Redis    *redis.Client
	Hub      *stream.Hub
	Sessions *session.Manager
}

func NewServer(cfg config.Config, db *pgxpool.Pool, redisClient *redis.Client) *Server {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	ttl := time.Duration(cfg.SessionTTLHours) * time.Hour
	sessions := session.NewManager(store.New(redisClient, ttl))

	s := &Server{
		App:      app,
		Cfg:      cfg,
		DB:       db,
		Redis:    redisClient,
		Hub:      stream.NewHub(redisClient),
		Sessions: sessions,
	}

	registerRoutes(s)
	return s
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	tripSvc := trip.NewService(trip.NewRepository(s.DB), s.Sessions)
	trip.RegisterRoutes(s.App.Group("/trips"), tripSvc, jwtMiddleware)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Hub, s.Sessions)
}
