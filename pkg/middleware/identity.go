package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/nzwater/compliance-core/pkg/composables"
	"github.com/nzwater/compliance-core/pkg/httpapi"
)

const (
	TenantHeader = "X-Tenant-ID"
	UserHeader   = "X-User-ID"
	RoleHeader   = "X-User-Role"
)

// RequireIdentity reads the tenant and actor forwarded by the authenticating gateway.
// Requests without a valid tenant or user id are rejected with 401.
func RequireIdentity() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID, err := uuid.Parse(strings.TrimSpace(r.Header.Get(TenantHeader)))
			if err != nil || tenantID == uuid.Nil {
				unauthenticated(w, r, "missing or invalid "+TenantHeader)
				return
			}
			userID, err := uuid.Parse(strings.TrimSpace(r.Header.Get(UserHeader)))
			if err != nil || userID == uuid.Nil {
				unauthenticated(w, r, "missing or invalid "+UserHeader)
				return
			}
			role := strings.ToUpper(strings.TrimSpace(r.Header.Get(RoleHeader)))

			ctx := composables.WithTenantID(r.Context(), tenantID)
			ctx = composables.WithActor(ctx, composables.Actor{ID: userID, Role: role})
			ctx = composables.WithLogger(ctx, composables.UseLogger(ctx).WithField("actor-id", userID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthenticated(w http.ResponseWriter, r *http.Request, msg string) {
	composables.UseLogger(r.Context()).WithField("path", r.URL.Path).Warn(msg)
	_ = httpapi.WriteError(w, http.StatusUnauthorized, "UNAUTHENTICATED", msg,
		map[string]string{"request_id": composables.UseRequestID(r.Context())})
}
