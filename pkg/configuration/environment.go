package configuration

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/iota-uz/utils/fs"
	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/nzwater/compliance-core/pkg/logging"
	"github.com/nzwater/compliance-core/pkg/outbox"
)

const (
	Production = "production"

	SubmitPolicyAdvisory = "advisory"
	SubmitPolicyEnforce  = "enforce"
)

var DefaultEnvFiles = []string{".env", ".env.local"}

// LoadEnv loads the env files that exist. Files are looked up in the working directory first,
// then in the nearest ancestor containing go.mod.
func LoadEnv(envFiles []string) (int, error) {
	existing := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		if fs.FileExists(file) {
			existing = append(existing, file)
		}
	}
	if len(existing) == 0 {
		if root, ok := findModuleRoot(); ok {
			for _, file := range envFiles {
				p := filepath.Join(root, file)
				if fs.FileExists(p) {
					existing = append(existing, p)
				}
			}
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

func findModuleRoot() (string, bool) {
	dir, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for {
		if fs.FileExists(filepath.Join(dir, "go.mod")) {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

type DatabaseOptions struct {
	Opts     string `env:"-"`
	Name     string `env:"DB_NAME" envDefault:"compliance"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
}

func (d *DatabaseOptions) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s dbname=%s password=%s sslmode=disable",
		d.Host, d.Port, d.User, d.Name, d.Password,
	)
}

type OpenTelemetryOptions struct {
	Enabled     bool   `env:"OTEL_ENABLED" envDefault:"false"`
	Endpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"compliance-core"`
}

type PrometheusOptions struct {
	Enabled bool   `env:"PROMETHEUS_METRICS_ENABLED" envDefault:"true"`
	Path    string `env:"PROMETHEUS_METRICS_PATH" envDefault:"/metrics"`
}

type AuthzOptions struct {
	ModelPath      string `env:"AUTHZ_MODEL_PATH" envDefault:"config/access/model.conf"`
	PolicyPath     string `env:"AUTHZ_POLICY_PATH" envDefault:"config/access/policy.csv"`
	FlagConfigPath string `env:"AUTHZ_FLAG_CONFIG" envDefault:"config/access/authz_flags.yaml"`
	Mode           string `env:"AUTHZ_MODE" envDefault:"enforce"`
}

type ComplianceOptions struct {
	SubmitPolicy    string        `env:"COMPLIANCE_SUBMIT_POLICY" envDefault:"advisory"`
	MinCompleteness int           `env:"COMPLIANCE_MIN_COMPLETENESS" envDefault:"100"`
	CacheTTL        time.Duration `env:"COMPLIANCE_CACHE_TTL" envDefault:"10m"`
	CacheEnabled    bool          `env:"COMPLIANCE_CACHE_ENABLED" envDefault:"true"`
	AuditRetention  time.Duration `env:"AUDIT_RETENTION" envDefault:"61320h"`
	AuditCleanEvery time.Duration `env:"AUDIT_CLEANER_INTERVAL" envDefault:"24h"`
	DefaultPageSize int           `env:"PAGE_SIZE" envDefault:"25"`
	MaxPageSize     int           `env:"MAX_PAGE_SIZE" envDefault:"100"`
}

func (c *ComplianceOptions) Validate() error {
	policy := strings.ToLower(strings.TrimSpace(c.SubmitPolicy))
	if policy == "" {
		policy = SubmitPolicyAdvisory
	}
	switch policy {
	case SubmitPolicyAdvisory, SubmitPolicyEnforce:
	default:
		return fmt.Errorf("invalid COMPLIANCE_SUBMIT_POLICY=%q (expected advisory|enforce)", c.SubmitPolicy)
	}
	c.SubmitPolicy = policy
	if c.MinCompleteness < 0 || c.MinCompleteness > 100 {
		return fmt.Errorf("COMPLIANCE_MIN_COMPLETENESS must be within 0..100, got %d", c.MinCompleteness)
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("COMPLIANCE_CACHE_TTL must be non-negative, got %s", c.CacheTTL)
	}
	if c.AuditRetention <= 0 {
		return fmt.Errorf("AUDIT_RETENTION must be positive, got %s", c.AuditRetention)
	}
	if c.DefaultPageSize <= 0 || c.MaxPageSize < c.DefaultPageSize {
		return fmt.Errorf("invalid page sizes PAGE_SIZE=%d MAX_PAGE_SIZE=%d", c.DefaultPageSize, c.MaxPageSize)
	}
	return nil
}

type OutboxOptions struct {
	Table string `env:"OUTBOX_TABLE" envDefault:"public.compliance_outbox"`

	RelayEnabled         bool          `env:"OUTBOX_RELAY_ENABLED" envDefault:"true"`
	RelayPollInterval    time.Duration `env:"OUTBOX_RELAY_POLL_INTERVAL" envDefault:"1s"`
	RelayBatchSize       int           `env:"OUTBOX_RELAY_BATCH_SIZE" envDefault:"100"`
	RelayLockTTL         time.Duration `env:"OUTBOX_RELAY_LOCK_TTL" envDefault:"60s"`
	RelayMaxAttempts     int           `env:"OUTBOX_RELAY_MAX_ATTEMPTS" envDefault:"25"`
	RelaySingleActive    bool          `env:"OUTBOX_RELAY_SINGLE_ACTIVE" envDefault:"true"`
	RelayDispatchTimeout time.Duration `env:"OUTBOX_RELAY_DISPATCH_TIMEOUT" envDefault:"30s"`

	LastErrorMaxBytes int `env:"OUTBOX_LAST_ERROR_MAX_BYTES" envDefault:"2048"`

	CleanerEnabled       bool          `env:"OUTBOX_CLEANER_ENABLED" envDefault:"true"`
	CleanerInterval      time.Duration `env:"OUTBOX_CLEANER_INTERVAL" envDefault:"1m"`
	CleanerRetention     time.Duration `env:"OUTBOX_CLEANER_RETENTION" envDefault:"168h"`
	CleanerDeadRetention time.Duration `env:"OUTBOX_CLEANER_DEAD_RETENTION" envDefault:"0"`
}

// OutboxTable returns the validated OUTBOX_TABLE identifier.
func (c *Configuration) OutboxTable() pgx.Identifier {
	table, _ := outbox.ParseIdentifier(c.Outbox.Table)
	return table
}

type Configuration struct {
	Database      DatabaseOptions
	OpenTelemetry OpenTelemetryOptions
	Prometheus    PrometheusOptions
	Authz         AuthzOptions
	Outbox        OutboxOptions
	Compliance    ComplianceOptions

	RedisURL         string   `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	ServerPort       int      `env:"PORT" envDefault:"3200"`
	GoAppEnvironment string   `env:"GO_APP_ENV" envDefault:"development"`
	SocketAddress    string   `env:"-"`
	LogLevel         string   `env:"LOG_LEVEL" envDefault:"error"`
	LogPath          string   `env:"LOG_PATH" envDefault:""`
	CORSOrigins      []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	// The service looks for this header in the request, if it's not present, it will generate a random uuidv4
	RequestIDHeader string `env:"REQUEST_ID_HEADER" envDefault:"X-Request-ID"`
	// The service looks for this header in the request, if it's not present, it will use request.RemoteAddr
	RealIPHeader string `env:"REAL_IP_HEADER" envDefault:"X-Real-IP"`

	OpsGuardEnabled bool   `env:"OPS_GUARD_ENABLED" envDefault:"true"`
	OpsGuardCIDRs   string `env:"OPS_GUARD_CIDRS" envDefault:""`
	OpsGuardToken   string `env:"OPS_GUARD_TOKEN" envDefault:""`

	// RLS enforcement mode (disabled/enforce). Policies themselves live in the database.
	RLSEnforce string `env:"RLS_ENFORCE" envDefault:"disabled"`

	logFile *os.File
	logger  *logrus.Logger
}

// Load reads env files and the process environment into a new Configuration.
func Load(envFiles ...string) (*Configuration, error) {
	if len(envFiles) == 0 {
		envFiles = DefaultEnvFiles
	}
	c := &Configuration{}
	if err := c.load(envFiles); err != nil {
		c.Unload()
		return nil, err
	}
	return c, nil
}

func (c *Configuration) Logger() *logrus.Logger {
	return c.logger
}

func (c *Configuration) LogrusLogLevel() logrus.Level {
	switch c.LogLevel {
	case "silent":
		return logrus.PanicLevel
	case "error":
		return logrus.ErrorLevel
	case "warn":
		return logrus.WarnLevel
	case "info":
		return logrus.InfoLevel
	case "debug":
		return logrus.DebugLevel
	default:
		return logrus.ErrorLevel
	}
}

func (c *Configuration) load(envFiles []string) error {
	n, err := LoadEnv(envFiles)
	if err != nil {
		return err
	}
	if n == 0 {
		wd, _ := os.Getwd()
		log.Println("No .env files found. Tried:")
		for _, file := range envFiles {
			log.Println(filepath.Join(wd, file))
		}
	}
	if err := env.Parse(c); err != nil {
		return err
	}

	if err := c.Compliance.Validate(); err != nil {
		return fmt.Errorf("compliance configuration error: %w", err)
	}
	if err := c.validateRLS(); err != nil {
		return err
	}
	if err := c.validateAuthz(); err != nil {
		return err
	}
	if _, err := outbox.ParseIdentifier(c.Outbox.Table); err != nil {
		return fmt.Errorf("invalid OUTBOX_TABLE: %w", err)
	}

	if c.GoAppEnvironment == Production {
		f, logger, err := logging.FileLogger(c.LogrusLogLevel(), c.LogPath)
		if err != nil {
			return err
		}
		c.logFile = f
		c.logger = logger
	} else {
		c.logger = logging.ConsoleLogger(c.LogrusLogLevel())
	}

	c.Database.Opts = c.Database.ConnectionString()
	if c.GoAppEnvironment == Production {
		c.SocketAddress = fmt.Sprintf(":%d", c.ServerPort)
	} else {
		c.SocketAddress = fmt.Sprintf("localhost:%d", c.ServerPort)
	}
	return nil
}

func (c *Configuration) validateRLS() error {
	mode := strings.ToLower(strings.TrimSpace(c.RLSEnforce))
	if mode == "" {
		mode = "disabled"
	}
	switch mode {
	case "disabled", "enforce":
	default:
		return fmt.Errorf("invalid RLS_ENFORCE=%q (expected disabled|enforce)", c.RLSEnforce)
	}

	if mode == "enforce" && strings.EqualFold(strings.TrimSpace(c.Database.User), "postgres") {
		return fmt.Errorf("RLS_ENFORCE=enforce requires a non-superuser DB_USER (postgres will bypass RLS)")
	}

	c.RLSEnforce = mode
	return nil
}

func (c *Configuration) validateAuthz() error {
	mode := strings.ToLower(strings.TrimSpace(c.Authz.Mode))
	switch mode {
	case "disabled", "shadow", "enforce":
	default:
		return fmt.Errorf("invalid AUTHZ_MODE=%q (expected disabled|shadow|enforce)", c.Authz.Mode)
	}
	c.Authz.Mode = mode
	return nil
}

// Unload handles a graceful shutdown.
func (c *Configuration) Unload() {
	if c.logFile != nil {
		if err := c.logFile.Close(); err != nil {
			log.Printf("Failed to close log file: %v", err)
		}
	}
}
