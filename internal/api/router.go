/**
 * @description
 * This file sets up the HTTP router for the settlement-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies the
 * middleware for logging, CORS, client sessions and internal authentication.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS for the client portal.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig groups the security settings applied by the router.
type RouterConfig struct {
	ClientJWTSecret string
	InternalAPIKey  string
	AllowedOrigins  []string
}

// NewRouter creates the settlement-service router.
func NewRouter(h *Handlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"https://*", "http://*"}
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Content-Disposition", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Provider callbacks authenticate by signature or API fetch-back, never by session.
	r.Post("/webhooks/{provider}", h.WebhookHandler)

	// Client portal routes.
	r.Group(func(r chi.Router) {
		r.Use(ClientAuthMiddleware(cfg.ClientJWTSecret))

		r.Post("/contracts/sign", h.SignContractHandler)
		r.Post("/payment-links", h.CreatePaymentLinkHandler)
		r.Get("/bookings/{bookingID}/contracts/{reference}/pdf", h.ContractPDFHandler)
	})

	// Internal operator routes.
	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(cfg.InternalAPIKey))

		r.Post("/internal/payment-links/expire", h.ExpirePaymentLinksHandler)
	})

	return r
}
