package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/timber-server/timber-server-pro/internal/access"
	"github.com/timber-server/timber-server-pro/internal/auth"
	"github.com/timber-server/timber-server-pro/internal/config"
	"github.com/timber-server/timber-server-pro/internal/license"
	"github.com/timber-server/timber-server-pro/internal/models"
	"github.com/timber-server/timber-server-pro/internal/server"
	"github.com/timber-server/timber-server-pro/internal/storage"
	syncengine "github.com/timber-server/timber-server-pro/internal/sync"
	"github.com/timber-server/timber-server-pro/internal/validation"
)

type contextKey string

const userContextKey contextKey = "user"

// RESTServer represents the REST API server
type RESTServer struct {
	config    *config.Config
	store     storage.Store
	auth      *auth.JWTManager
	validator *validation.Validator

	resolver    *access.Resolver
	registry    *license.Registry
	activations *license.Manager
	gatekeeper  *license.Gatekeeper
	engine      *syncengine.Engine
	events      *server.EventPublisher

	router chi.Router
	server *http.Server
}

// NewRESTServer creates a new REST API server
func NewRESTServer(cfg *config.Config, store storage.Store, events *server.EventPublisher) *RESTServer {
	s := &RESTServer{
		config:      cfg,
		store:       store,
		auth:        auth.NewJWTManager(&cfg.JWT),
		validator:   validation.NewValidator(),
		resolver:    access.NewResolver(store),
		registry:    license.NewRegistry(store, cfg.License),
		activations: license.NewManager(store),
		gatekeeper:  license.NewGatekeeper(store),
		engine:      syncengine.NewEngine(store),
		events:      events,
		router:      chi.NewRouter(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all routes
func (s *RESTServer) setupRoutes() {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		s.setupAPIRoutes(r)
	})
}

// ListenAndServe starts the server
func (s *RESTServer) ListenAndServe(addr string) error {
	s.server.Addr = addr
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *RESTServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// authMiddleware resolves the bearer token to a live user record. The
// token alone is not enough: deactivated users are rejected even while
// their tokens are unexpired.
func (s *RESTServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.respondError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			s.respondError(w, http.StatusUnauthorized, "invalid authorization header")
			return
		}

		claims, err := s.auth.ValidateToken(parts[1])
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		user, err := s.store.GetUser(r.Context(), claims.UserID)
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusForbidden, "invalid or inactive user")
			return
		}
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, "failed to resolve user")
			return
		}
		if !user.IsActive {
			s.respondError(w, http.StatusForbidden, "invalid or inactive user")
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin gates admin-only routes; it must run after
// authMiddleware
func (s *RESTServer) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := currentUser(r)
		if user == nil || !user.IsAdmin() {
			s.respondError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// currentUser returns the authenticated user, or nil on public routes
func currentUser(r *http.Request) *models.User {
	user, _ := r.Context().Value(userContextKey).(*models.User)
	return user
}
