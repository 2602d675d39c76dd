package middleware

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nzwater/compliance-core/pkg/composables"
)

// Provide puts the pool and RLS mode in the request context. Transactions are opened by services.
func Provide(pool *pgxpool.Pool, rlsMode string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if pool != nil {
				ctx = composables.WithPool(ctx, pool)
			}
			ctx = composables.WithRLSMode(ctx, rlsMode)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
