package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/nzwater/compliance-core/pkg/application"
	"github.com/nzwater/compliance-core/pkg/httpapi"
)

// HealthCheck pings one dependency.
type HealthCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

func PoolCheck(pool *pgxpool.Pool) HealthCheck {
	return HealthCheck{Name: "database", Ping: pool.Ping}
}

func RedisCheck(client *redis.Client) HealthCheck {
	return HealthCheck{Name: "redis", Ping: func(ctx context.Context) error { return client.Ping(ctx).Err() }}
}

type HealthController struct {
	checks  []HealthCheck
	timeout time.Duration
}

func NewHealthController(checks ...HealthCheck) application.Controller {
	return &HealthController{checks: checks, timeout: 3 * time.Second}
}

func (c *HealthController) Key() string {
	return "/health"
}

func (c *HealthController) Register(r *mux.Router) {
	r.HandleFunc("/health", c.Health).Methods(http.MethodGet)
}

type healthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks,omitempty"`
	Message string            `json:"message,omitempty"`
}

func (c *HealthController) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), c.timeout)
	defer cancel()

	checks := make(map[string]string, len(c.checks))
	allOK := true
	for _, check := range c.checks {
		if err := check.Ping(ctx); err != nil {
			checks[check.Name] = "down: " + err.Error()
			allOK = false
			continue
		}
		checks[check.Name] = "ok"
	}

	if !allOK {
		_ = httpapi.WriteJSON(w, http.StatusServiceUnavailable, healthResponse{
			Status:  "unhealthy",
			Checks:  checks,
			Message: "one or more checks failed",
		})
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, healthResponse{Status: "ok", Checks: checks})
}
