package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/llm-orchestrator/handlers"
)

// Setup configures all application routes and middleware
func Setup(generateHandler *handlers.GenerateHandler) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	// Health check endpoint
	r.Get("/healthz", handlers.Healthz)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/generate", generateHandler.Generate)
		r.Get("/providers/health", generateHandler.ProviderHealth)
	})

	return r
}
