package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/nzwater/compliance-core/pkg/composables"
	"github.com/nzwater/compliance-core/pkg/configuration"
	"github.com/nzwater/compliance-core/pkg/httpapi"
)

func testConf() *configuration.Configuration {
	return &configuration.Configuration{
		RequestIDHeader:  "X-Request-ID",
		RealIPHeader:     "X-Real-IP",
		GoAppEnvironment: configuration.Production,
		OpsGuardEnabled:  true,
	}
}

func TestRequireIdentity(t *testing.T) {
	t.Parallel()

	tenantID, userID := uuid.New(), uuid.New()
	var got composables.Actor
	var gotTenant uuid.UUID
	h := RequireIdentity()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error
		gotTenant, err = composables.UseTenantID(r.Context())
		require.NoError(t, err)
		got, err = composables.UseActor(r.Context())
		require.NoError(t, err)
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/compliance/api/plans", nil)
	req.Header.Set(TenantHeader, tenantID.String())
	req.Header.Set(UserHeader, userID.String())
	req.Header.Set(RoleHeader, " compliance_manager ")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, tenantID, gotTenant)
	require.Equal(t, userID, got.ID)
	require.Equal(t, "COMPLIANCE_MANAGER", got.Role)
}

func TestRequireIdentity_Rejects(t *testing.T) {
	t.Parallel()

	h := RequireIdentity()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))

	for name, headers := range map[string]map[string]string{
		"no tenant":   {UserHeader: uuid.NewString()},
		"bad tenant":  {TenantHeader: "acme", UserHeader: uuid.NewString()},
		"nil user":    {TenantHeader: uuid.NewString(), UserHeader: uuid.Nil.String()},
		"no identity": {},
	} {
		req := httptest.NewRequest(http.MethodGet, "/compliance/api/plans", nil)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		require.Equal(t, http.StatusUnauthorized, rec.Code, name)
		var env httpapi.ErrorEnvelope
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&env), name)
		require.Equal(t, "UNAUTHENTICATED", env.Code, name)
	}
}

func TestWithLogger_RecoversPanicsAsJSON(t *testing.T) {
	t.Parallel()

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	opts := DefaultLoggerOptions()
	opts.APIPrefixes = []string{"/compliance/api"}
	h := WithLogger(logger, testConf(), opts)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/compliance/api/plans", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "req-1", rec.Header().Get("X-Request-Id"))
	var env httpapi.ErrorEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	require.Equal(t, "INTERNAL_SERVER_ERROR", env.Code)
	require.Equal(t, "req-1", env.Meta["request_id"])
	require.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestWithLogger_PreservesBodyAndRequestID(t *testing.T) {
	t.Parallel()

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	var body string
	var requestID string
	h := WithLogger(logger, testConf(), DefaultLoggerOptions())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		requestID = composables.UseRequestID(r.Context())
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/compliance/api/plans", strings.NewReader(`{"title":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, `{"title":"x"}`, body)
	require.NotEmpty(t, requestID)
	require.Equal(t, requestID, rec.Header().Get("X-Request-Id"))
	require.Equal(t, 201, hook.LastEntry().Data["status-code"])
}

func TestOpsGuard(t *testing.T) {
	t.Parallel()

	conf := testConf()
	conf.OpsGuardToken = "s3cret"
	conf.OpsGuardCIDRs = "10.0.0.0/8"
	h := OpsGuard(conf, "/metrics")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	cases := []struct {
		name   string
		path   string
		setup  func(r *http.Request)
		status int
	}{
		{"unguarded path", "/compliance/api/plans", func(*http.Request) {}, http.StatusOK},
		{"no credentials", "/metrics", func(*http.Request) {}, http.StatusNotFound},
		{"bearer token", "/metrics", func(r *http.Request) { r.Header.Set("Authorization", "Bearer s3cret") }, http.StatusOK},
		{"wrong token", "/metrics", func(r *http.Request) { r.Header.Set("X-Ops-Token", "nope") }, http.StatusNotFound},
		{"allowed network", "/metrics", func(r *http.Request) { r.Header.Set("X-Real-IP", "10.1.2.3") }, http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		tc.setup(req)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, tc.status, rec.Code, tc.name)
	}
}
