package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ROMARIC12/chatfull/internal/api/middleware"
	"github.com/ROMARIC12/chatfull/internal/config"
	"github.com/ROMARIC12/chatfull/internal/crypto"
	"github.com/ROMARIC12/chatfull/internal/delivery"
	"github.com/ROMARIC12/chatfull/internal/handlers"
	"github.com/ROMARIC12/chatfull/internal/presence"
	"github.com/ROMARIC12/chatfull/internal/realtime"
	"github.com/ROMARIC12/chatfull/internal/store"
)

const jsonBodyLimit = 64 * 1024

// Deps are the services the router exposes. Redis may be nil.
type Deps struct {
	Config      *config.Config
	Logger      zerolog.Logger
	Store       store.DataStore
	Redis       *store.RedisStore
	Tokens      *crypto.TokenIssuer
	Hub         *realtime.Hub
	Registry    *presence.Registry
	Coordinator *delivery.Coordinator
	Media       *delivery.MediaStore
}

// NewRouter creates and configures the HTTP router.
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(d.Logger))
	r.Use(chimw.Recoverer)

	// Rate limiting, in process when Redis is not configured
	var redisClient *redis.Client
	var revoked middleware.Revocations
	if d.Redis != nil {
		redisClient = d.Redis.Client()
		revoked = d.Redis
	}
	limiter := middleware.NewRateLimiter(redisClient, d.Logger, middleware.RateLimiterConfig{
		Whitelist:        d.Config.RateLimitWhitelist,
		AutoBlockEnabled: d.Config.AutoBlockEnabled,
	})
	r.Use(limiter.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{d.Config.ClientURL},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(handlers.Deps{
		Store:       d.Store,
		Redis:       d.Redis,
		Tokens:      d.Tokens,
		Coordinator: d.Coordinator,
		Registry:    d.Registry,
		Hub:         d.Hub,
		Origins:     realtime.NewOriginPolicy(d.Config.ClientURL, d.Config.BaseURL),
		Logger:      d.Logger,
	})
	auth := middleware.NewAuthMiddleware(d.Tokens, d.Store, revoked)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/health", h.Health)
	r.Get("/api", h.Root)
	r.Get("/api/stats", h.Stats)
	r.Handle("/uploads/*", http.StripPrefix("/uploads", http.FileServer(d.Media.FileSystem())))

	// Public routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.MaxBodySize(jsonBodyLimit))
		r.Post("/api/auth/register", h.Register)
		r.Post("/api/auth/login", h.Login)
	})

	// Media uploads carry several files
	uploadLimit := int64(d.Media.MaxFiles())*d.Media.MaxBytes() + 1<<20
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)
		r.Use(middleware.MaxBodySize(uploadLimit))
		r.Post("/api/messages/media", h.SendMedia)
		r.Put("/api/users/profile", h.UpdateProfile)
	})

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)
		r.Use(middleware.MaxBodySize(jsonBodyLimit))

		r.Get("/ws", h.Socket)
		r.Post("/api/auth/logout", h.Logout)

		r.Get("/api/users/all", h.AllUsers)
		r.Get("/api/users/search", h.SearchUser)
		r.Get("/api/users/presence", h.Presence)
		r.Get("/api/users/{id}", h.Who)

		r.Route("/api/messages", func(r chi.Router) {
			r.Post("/", h.SendMessage)
			r.Get("/{id}", h.Messages)
			r.Put("/{id}/read", h.MarkRead)
		})

		r.Route("/api/conversations", func(r chi.Router) {
			r.Post("/", h.CreateDirect)
			r.Get("/", h.Conversations)
			r.Post("/group", h.CreateGroup)
			r.Get("/groups", h.Groups)
			r.Put("/{id}/pin", h.Pin)
			r.Put("/{id}/archive", h.Archive)
			r.Get("/{id}/media", h.Media)
		})

		r.Route("/api/groups/{id}", func(r chi.Router) {
			r.Put("/", h.UpdateGroup)
			r.Delete("/", h.DeleteGroup)
			r.Put("/add", h.AddMember)
			r.Put("/remove", h.RemoveMember)
			r.Put("/transfer-admin", h.TransferAdmin)
			r.Get("/participants", h.Participants)
		})
	})

	return r
}
