package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// CORS restricts browser access to the configured dashboard origins. The
// API surface only uses GET and POST, plus OPTIONS for preflight.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	})

	return c.Handler
}
