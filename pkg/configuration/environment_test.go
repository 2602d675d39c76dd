package configuration

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

func TestLoadEnv_FallsBackToGoModRoot(t *testing.T) {
	tmp := t.TempDir()

	requireWriteFile(t, filepath.Join(tmp, "go.mod"), "module example.com/test\n\ngo 1.22\n")
	requireWriteFile(t, filepath.Join(tmp, ".env.local"), "COMPLIANCE_TEST_ENV_LOAD=ok\n")

	sub := filepath.Join(tmp, "modules", "compliance")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	origWd, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(origWd) })
	require.NoError(t, os.Chdir(sub))

	_ = os.Unsetenv("COMPLIANCE_TEST_ENV_LOAD")
	t.Cleanup(func() { _ = os.Unsetenv("COMPLIANCE_TEST_ENV_LOAD") })

	n, err := LoadEnv(DefaultEnvFiles)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, "ok", os.Getenv("COMPLIANCE_TEST_ENV_LOAD"))
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	conf, err := Load(".env.none")
	require.NoError(t, err)
	t.Cleanup(conf.Unload)

	require.Equal(t, SubmitPolicyAdvisory, conf.Compliance.SubmitPolicy)
	require.Equal(t, 10*time.Minute, conf.Compliance.CacheTTL)
	require.Equal(t, 7*365*24*time.Hour, conf.Compliance.AuditRetention)
	require.Equal(t, "localhost:3200", conf.SocketAddress)
	require.Equal(t, pgx.Identifier{"public", "compliance_outbox"}, conf.OutboxTable())
	require.NotNil(t, conf.Logger())
}

func TestLoad_RejectsUnknownSubmitPolicy(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("COMPLIANCE_SUBMIT_POLICY", "sometimes")

	_, err := Load(".env.none")
	require.Error(t, err)
	require.Contains(t, err.Error(), "COMPLIANCE_SUBMIT_POLICY")
}

func TestLoad_NormalizesModes(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("COMPLIANCE_SUBMIT_POLICY", " Enforce ")
	t.Setenv("AUTHZ_MODE", "SHADOW")

	conf, err := Load(".env.none")
	require.NoError(t, err)
	require.Equal(t, SubmitPolicyEnforce, conf.Compliance.SubmitPolicy)
	require.Equal(t, "shadow", conf.Authz.Mode)
}

func TestLoad_RejectsBadOutboxTable(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("OUTBOX_TABLE", "public.outbox;drop")

	_, err := Load(".env.none")
	require.ErrorContains(t, err, "OUTBOX_TABLE")
}

func TestComplianceOptions_Validate(t *testing.T) {
	opts := ComplianceOptions{SubmitPolicy: "advisory", MinCompleteness: 101, AuditRetention: time.Hour, DefaultPageSize: 1, MaxPageSize: 1}
	require.Error(t, opts.Validate())

	opts.MinCompleteness = 80
	require.NoError(t, opts.Validate())
}

func requireWriteFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
