package middleware

import (
	"net/http"

	"github.com/go-chi/cors"

	"github.com/angelmondragon/eventpass-backend/api/responses"
)

// CORS applies the configured origins and exposes the headers clients read
// back: request id, idempotent replay marker and Retry-After.
func CORS(origins []string) func(http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", IdempotencyKeyHeader, responses.RequestIDHeader},
		ExposedHeaders:   []string{responses.RequestIDHeader, IdempotentReplayHeader, "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler
}
