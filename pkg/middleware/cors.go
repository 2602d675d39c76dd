package middleware

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

func WithCORS(origins []string) mux.MiddlewareFunc {
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "If-Match", TenantHeader, UserHeader, RoleHeader, "X-Request-ID"},
		ExposedHeaders:   []string{"ETag", "X-Request-Id", "X-Trace-Id"},
		AllowCredentials: false,
	})
	return c.Handler
}
