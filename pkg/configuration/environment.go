package configuration

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/AlazabDev/UberFix.shop-sub000/pkg/logging"
)

const Production = "production"

const (
	StorageBackendPostgres = "postgres"
	StorageBackendMemory   = "memory"

	GeoIndexNone  = "none"
	GeoIndexRedis = "redis"
)

var singleton = sync.OnceValue(func() *Configuration {
	c := &Configuration{}
	if err := c.load([]string{".env", ".env.local"}); err != nil {
		c.Unload()
		panic(err)
	}
	return c
})

// LoadEnv loads the env files that exist, looking in the working directory first
// and then in the nearest parent holding a go.mod.
func LoadEnv(envFiles []string) (int, error) {
	existing := existingFiles("", envFiles)
	if len(existing) == 0 {
		if root := moduleRoot(); root != "" {
			existing = existingFiles(root, envFiles)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

func existingFiles(dir string, files []string) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		p := f
		if dir != "" {
			p = filepath.Join(dir, f)
		}
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			out = append(out, p)
		}
	}
	return out
}

func moduleRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

type DatabaseOptions struct {
	Opts     string `env:"-"`
	Name     string `env:"DB_NAME" envDefault:"uberfix"`
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

type RedisOptions struct {
	URL      string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	GeoIndex string `env:"DISPATCH_GEO_INDEX" envDefault:"none"`
	GeoKey   string `env:"DISPATCH_GEO_KEY" envDefault:"maintenance:technicians:geo"`
}

type SLAOptions struct {
	// PolicyPath points to a YAML or TOML policy table. Empty means built-in defaults.
	PolicyPath string `env:"SLA_POLICY_PATH" envDefault:""`
}

type DispatchOptions struct {
	DefaultCapacity int     `env:"DISPATCH_DEFAULT_CAPACITY" envDefault:"3"`
	MaxAttempts     int     `env:"DISPATCH_MAX_ATTEMPTS" envDefault:"3"`
	SearchRadiusKm  float64 `env:"DISPATCH_SEARCH_RADIUS_KM" envDefault:"50"`
}

type RetryOptions struct {
	StaleAttempts int           `env:"STALE_RETRY_ATTEMPTS" envDefault:"3"`
	StaleBackoff  time.Duration `env:"STALE_RETRY_BACKOFF" envDefault:"25ms"`
}

type OpenTelemetryOptions struct {
	Enabled     bool   `env:"OTEL_ENABLED" envDefault:"false"`
	TempoURL    string `env:"OTEL_TEMPO_URL" envDefault:"localhost:4318"`
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"uberfix-maintenance"`
}

type PrometheusOptions struct {
	Enabled bool   `env:"PROMETHEUS_METRICS_ENABLED" envDefault:"false"`
	Path    string `env:"PROMETHEUS_METRICS_PATH" envDefault:"/debug/prometheus"`
}

type RateLimitOptions struct {
	Enabled   bool   `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	GlobalRPS int    `env:"RATE_LIMIT_GLOBAL_RPS" envDefault:"1000"`
	Storage   string `env:"RATE_LIMIT_STORAGE" envDefault:"memory"` // memory or redis
	RedisURL  string `env:"RATE_LIMIT_REDIS_URL"`
}

// Validate checks the rate limit configuration for errors
func (r *RateLimitOptions) Validate() error {
	if r.GlobalRPS < 0 {
		return fmt.Errorf("rate limit GlobalRPS must be non-negative, got %d", r.GlobalRPS)
	}
	if r.Storage != "memory" && r.Storage != "redis" {
		return fmt.Errorf("rate limit Storage must be 'memory' or 'redis', got '%s'", r.Storage)
	}
	if r.Storage == "redis" && r.RedisURL == "" {
		return fmt.Errorf("rate limit RedisURL is required when Storage is 'redis'")
	}
	return nil
}

type OutboxOptions struct {
	Table                string        `env:"OUTBOX_TABLE" envDefault:"public.maintenance_outbox"`
	RelayEnabled         bool          `env:"OUTBOX_RELAY_ENABLED" envDefault:"true"`
	RelayPollInterval    time.Duration `env:"OUTBOX_RELAY_POLL_INTERVAL" envDefault:"1s"`
	RelayBatchSize       int           `env:"OUTBOX_RELAY_BATCH_SIZE" envDefault:"100"`
	RelayLockTTL         time.Duration `env:"OUTBOX_RELAY_LOCK_TTL" envDefault:"60s"`
	RelayMaxAttempts     int           `env:"OUTBOX_RELAY_MAX_ATTEMPTS" envDefault:"25"`
	RelaySingleActive    bool          `env:"OUTBOX_RELAY_SINGLE_ACTIVE" envDefault:"true"`
	RelayDispatchTimeout time.Duration `env:"OUTBOX_RELAY_DISPATCH_TIMEOUT" envDefault:"30s"`

	LastErrorMaxBytes int `env:"OUTBOX_LAST_ERROR_MAX_BYTES" envDefault:"2048"`

	CleanerEnabled   bool          `env:"OUTBOX_CLEANER_ENABLED" envDefault:"true"`
	CleanerInterval  time.Duration `env:"OUTBOX_CLEANER_INTERVAL" envDefault:"1m"`
	CleanerRetention time.Duration `env:"OUTBOX_CLEANER_RETENTION" envDefault:"168h"`
	// CleanerDeadRetention of zero keeps exhausted rows until someone looks at them.
	CleanerDeadRetention time.Duration `env:"OUTBOX_CLEANER_DEAD_RETENTION" envDefault:"0s"`
}

type TrackingOptions struct {
	WebhookSecret string        `env:"TRACKING_WEBHOOK_SECRET"`
	MaxSkew       time.Duration `env:"TRACKING_WEBHOOK_MAX_SKEW" envDefault:"5m"`
	ReplayTTL     time.Duration `env:"TRACKING_WEBHOOK_REPLAY_TTL" envDefault:"10m"`
}

type OpsGuardOptions struct {
	Enabled       bool   `env:"OPS_GUARD_ENABLED" envDefault:"false"`
	CIDRs         string `env:"OPS_GUARD_CIDRS"`
	Token         string `env:"OPS_GUARD_TOKEN"`
	BasicAuthUser string `env:"OPS_GUARD_BASIC_AUTH_USER"`
	BasicAuthPass string `env:"OPS_GUARD_BASIC_AUTH_PASS"`
}

type CORSOptions struct {
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
}

type Configuration struct {
	Database      DatabaseOptions
	Redis         RedisOptions
	SLA           SLAOptions
	Dispatch      DispatchOptions
	Retry         RetryOptions
	OpenTelemetry OpenTelemetryOptions
	Prometheus    PrometheusOptions
	RateLimit     RateLimitOptions
	Outbox        OutboxOptions
	Tracking      TrackingOptions
	CORS          CORSOptions
	OpsGuard      OpsGuardOptions

	StorageBackend   string `env:"STORAGE_BACKEND" envDefault:"postgres"`
	MigrateOnStart   bool   `env:"MIGRATE_ON_START" envDefault:"false"`
	ServerPort       int    `env:"PORT" envDefault:"3200"`
	GoAppEnvironment string `env:"GO_APP_ENV" envDefault:"development"`
	SocketAddress    string `env:"-"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"error"`
	LogPath          string `env:"LOG_PATH" envDefault:"./logs/app.log"`
	// Looked up on every request; a fresh uuid is generated when absent.
	RequestIDHeader string `env:"REQUEST_ID_HEADER" envDefault:"X-Request-ID"`
	RealIPHeader    string `env:"REAL_IP_HEADER" envDefault:"X-Real-IP"`
	// Codes from pkg/intl; the first one is the fallback locale.
	SupportedLanguages []string `env:"SUPPORTED_LANGUAGES" envSeparator:"," envDefault:"en,ar"`

	logFile *os.File
	logger  *logrus.Logger
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

func Use() *Configuration {
	return singleton()
}

// Load builds a standalone Configuration from the given env files. Used by the
// CLI and tests; the server goes through Use.
func Load(envFiles ...string) (*Configuration, error) {
	c := &Configuration{}
	if err := c.load(envFiles); err != nil {
		c.Unload()
		return nil, err
	}
	return c, nil
}

func (c *Configuration) load(envFiles []string) error {
	n, err := LoadEnv(envFiles)
	if err != nil {
		return err
	}
	if n == 0 && len(envFiles) > 0 {
		wd, _ := os.Getwd()
		log.Println("No .env files found. Tried:")
		for _, file := range envFiles {
			log.Println(filepath.Join(wd, file))
		}
	}
	if err := env.Parse(c); err != nil {
		return err
	}
	if err := c.validate(); err != nil {
		return err
	}

	if c.LogPath == "" {
		c.logger = logging.ConsoleLogger(c.LogrusLogLevel())
	} else {
		f, logger, err := logging.FileLogger(c.LogrusLogLevel(), c.LogPath)
		if err != nil {
			return err
		}
		c.logFile = f
		c.logger = logger
	}

	c.Database.Opts = c.Database.ConnectionString()
	if c.GoAppEnvironment == Production {
		c.SocketAddress = fmt.Sprintf(":%d", c.ServerPort)
	} else {
		c.SocketAddress = fmt.Sprintf("localhost:%d", c.ServerPort)
	}
	return nil
}

func (c *Configuration) validate() error {
	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("rate limit configuration error: %w", err)
	}
	return errors.Join(
		c.validateStorage(),
		c.validateDispatch(),
		c.validateRetry(),
	)
}

func (c *Configuration) validateStorage() error {
	backend := strings.ToLower(strings.TrimSpace(c.StorageBackend))
	switch backend {
	case StorageBackendPostgres, StorageBackendMemory:
	default:
		return fmt.Errorf("invalid STORAGE_BACKEND=%q (expected postgres|memory)", c.StorageBackend)
	}
	c.StorageBackend = backend

	geo := strings.ToLower(strings.TrimSpace(c.Redis.GeoIndex))
	if geo == "" {
		geo = GeoIndexNone
	}
	switch geo {
	case GeoIndexNone, GeoIndexRedis:
	default:
		return fmt.Errorf("invalid DISPATCH_GEO_INDEX=%q (expected none|redis)", c.Redis.GeoIndex)
	}
	if geo == GeoIndexRedis && strings.TrimSpace(c.Redis.URL) == "" {
		return fmt.Errorf("DISPATCH_GEO_INDEX=redis requires REDIS_URL")
	}
	c.Redis.GeoIndex = geo
	return nil
}

func (c *Configuration) validateDispatch() error {
	if c.Dispatch.DefaultCapacity < 1 {
		return fmt.Errorf("DISPATCH_DEFAULT_CAPACITY must be >= 1, got %d", c.Dispatch.DefaultCapacity)
	}
	if c.Dispatch.MaxAttempts < 1 {
		return fmt.Errorf("DISPATCH_MAX_ATTEMPTS must be >= 1, got %d", c.Dispatch.MaxAttempts)
	}
	if c.Dispatch.SearchRadiusKm <= 0 {
		return fmt.Errorf("DISPATCH_SEARCH_RADIUS_KM must be > 0, got %v", c.Dispatch.SearchRadiusKm)
	}
	return nil
}

func (c *Configuration) validateRetry() error {
	if c.Retry.StaleAttempts < 1 {
		return fmt.Errorf("STALE_RETRY_ATTEMPTS must be >= 1, got %d", c.Retry.StaleAttempts)
	}
	if c.Retry.StaleBackoff < 0 {
		return fmt.Errorf("STALE_RETRY_BACKOFF must be non-negative, got %s", c.Retry.StaleBackoff)
	}
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
