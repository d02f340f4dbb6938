package middleware

import (
	"net/http"
	"slices"

	"rentflow/internal/config"

	"github.com/go-chi/cors"
)

// CORS builds the browser policy for the API. Without configured origins it
// is a no-op. Credentials are never combined with a wildcard origin.
func CORS(cfg config.Config) func(http.Handler) http.Handler {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	wildcard := slices.Contains(cfg.CORSAllowedOrigins, "*")
	return cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: cfg.CORSAllowCredentials && !wildcard,
		MaxAge:           600,
	})
}
