package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// ServiceName identifies this process in events, logs and traces.
const ServiceName = "devis-service"

// ServiceVersion is reported as a trace resource attribute.
const ServiceVersion = "1.0.0"

// Config represents the full application configuration surface.
type Config struct {
	Server     ServerConfig
	MongoDB    MongoDBConfig
	Kafka      KafkaConfig
	Redis      RedisConfig
	ERP        ERPConfig
	Dispatcher DispatcherConfig
	Pricing    PricingConfig
	Reporting  ReportingConfig
	Sheets     SheetsConfig
	Telemetry  TelemetryConfig
}

// ServerConfig holds HTTP server related options.
type ServerConfig struct {
	Port     string
	LogLevel string
}

// MongoDBConfig holds settings for MongoDB. An empty URI selects the
// in-memory repositories.
type MongoDBConfig struct {
	URI    string
	DBName string
}

// Enabled reports whether MongoDB persistence is configured.
func (c MongoDBConfig) Enabled() bool { return c.URI != "" }

// KafkaConfig holds the broker settings. No brokers means events travel
// through the in-process bus.
type KafkaConfig struct {
	Brokers []string
	GroupID string
}

// Enabled reports whether a Kafka broker is configured.
func (c KafkaConfig) Enabled() bool { return len(c.Brokers) > 0 }

// RedisConfig holds the optional Redis used for cross-instance quote locks.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

// Enabled reports whether Redis locking is configured.
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// ERPConfig contains the webhook endpoints of the downstream ERPs.
type ERPConfig struct {
	WagonLitsURL    string
	DevMaterielsURL string
	// ExtraEndpoints maps additional target names to their base URL.
	ExtraEndpoints  map[string]string
	Timeout         time.Duration
}

// DispatcherConfig tunes notification delivery.
type DispatcherConfig struct {
	WorkersPerTarget int
	QueueSize        int
	MaxRetries       int
	BaseBackoff      time.Duration
	MaxBackoff       time.Duration
	SweepSchedule    string
	SweepBatchSize   int
}

// PricingConfig holds the default tariff applied to generated quotes.
type PricingConfig struct {
	HourlyRate        decimal.Decimal
	InspectionForfait decimal.Decimal
	// CatalogSeedPath optionally points at a JSON array of parts loaded at
	// startup.
	CatalogSeedPath string
}

// ReportingConfig holds scheduler-related settings.
type ReportingConfig struct {
	CronSchedule string
	Timezone     string
}

// SheetsConfig contains configuration required to export the delivery audit
// to Google Sheets. The export is disabled when either field is empty.
type SheetsConfig struct {
	CredentialsPath string
	SpreadsheetID   string
}

// Enabled reports whether the Sheets export is configured.
func (c SheetsConfig) Enabled() bool { return c.CredentialsPath != "" && c.SpreadsheetID != "" }

// TelemetryConfig points at an OTLP/HTTP collector. Tracing stays no-op
// when Endpoint is empty.
type TelemetryConfig struct {
	Endpoint   string
	AuthHeader string
	Insecure   bool
}

// Load reads environment variables (optionally from the provided file) and
// materializes a Config instance.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed loading env file %s: %w", envFile, err)
			}
		}
	} else {
		// Ignore the returned error here; missing .env files are acceptable when
		// configuration comes from the environment directly.
		_ = godotenv.Load()
	}

	var parseErrs []error
	intVar := func(key string, fallback int) int {
		v, err := getenvInt(key, fallback)
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		return v
	}
	durationVar := func(key string, fallback time.Duration) time.Duration {
		v, err := getenvDuration(key, fallback)
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		return v
	}
	decimalVar := func(key, fallback string) decimal.Decimal {
		v, err := decimal.NewFromString(getenvWithDefault(key, fallback))
		if err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("%s: %w", key, err))
		}
		return v
	}

	endpointsVar := func(key string) map[string]string {
		v, err := parseEndpoints(os.Getenv(key))
		if err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("%s: %w", key, err))
		}
		return v
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:     getenvWithDefault("APP_PORT", "5002"),
			LogLevel: getenvWithDefault("LOG_LEVEL", "info"),
		},
		MongoDB: MongoDBConfig{
			URI:    os.Getenv("MONGODB_URI"),
			DBName: getenvWithDefault("MONGODB_DB_NAME", "wagonmaint"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(os.Getenv("KAFKA_BOOTSTRAP_SERVERS")),
			GroupID: getenvWithDefault("KAFKA_GROUP_ID", "notification-service"),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       intVar("REDIS_DB", 0),
			LockTTL:  durationVar("REDIS_LOCK_TTL", 30*time.Second),
		},
		ERP: ERPConfig{
			WagonLitsURL:    getenvWithDefault("ERP_WAGONLITS_URL", "http://localhost:5010"),
			DevMaterielsURL: getenvWithDefault("ERP_DEVMATERIELS_URL", "http://localhost:5011"),
			ExtraEndpoints:  endpointsVar("ERP_EXTRA_ENDPOINTS"),
			Timeout:         durationVar("ERP_TIMEOUT", 30*time.Second),
		},
		Dispatcher: DispatcherConfig{
			WorkersPerTarget: intVar("NOTIFY_WORKERS_PER_TARGET", 4),
			QueueSize:        intVar("NOTIFY_QUEUE_SIZE", 256),
			MaxRetries:       intVar("NOTIFY_MAX_RETRIES", 3),
			BaseBackoff:      durationVar("NOTIFY_BASE_BACKOFF", 5*time.Second),
			MaxBackoff:       durationVar("NOTIFY_MAX_BACKOFF", 10*time.Minute),
			SweepSchedule:    getenvWithDefault("NOTIFY_SWEEP_SCHEDULE", "@every 1m"),
			SweepBatchSize:   intVar("NOTIFY_SWEEP_BATCH_SIZE", 50),
		},
		Pricing: PricingConfig{
			HourlyRate:        decimalVar("PRICING_HOURLY_RATE", "85.00"),
			InspectionForfait: decimalVar("PRICING_INSPECTION_FORFAIT", "1360.00"),
			CatalogSeedPath:   os.Getenv("CATALOG_SEED_PATH"),
		},
		Reporting: ReportingConfig{
			CronSchedule: getenvWithDefault("REPORT_CRON_SCHEDULE", "0 20 * * *"),
			Timezone:     getenvWithDefault("TIMEZONE", "Europe/Paris"),
		},
		Sheets: SheetsConfig{
			CredentialsPath: os.Getenv("GOOGLE_SHEETS_CREDENTIALS_PATH"),
			SpreadsheetID:   os.Getenv("GOOGLE_SHEET_AUDIT_ID"),
		},
		Telemetry: TelemetryConfig{
			Endpoint:   os.Getenv("OTEL_ENDPOINT"),
			AuthHeader: os.Getenv("OTEL_AUTH_HEADER"),
			Insecure:   strings.EqualFold(os.Getenv("OTEL_INSECURE"), "true"),
		},
	}

	if len(parseErrs) > 0 {
		return nil, errors.Join(parseErrs...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures that required configuration fields are populated.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	if c.Server.Port == "" {
		return errors.New("APP_PORT must be provided")
	}

	if c.MongoDB.Enabled() && c.MongoDB.DBName == "" {
		return errors.New("MONGODB_DB_NAME must be provided when MONGODB_URI is set")
	}

	if c.Kafka.Enabled() && c.Kafka.GroupID == "" {
		return errors.New("KAFKA_GROUP_ID must be provided when KAFKA_BOOTSTRAP_SERVERS is set")
	}

	switch {
	case c.ERP.WagonLitsURL == "":
		return errors.New("ERP_WAGONLITS_URL must not be empty")
	case c.ERP.DevMaterielsURL == "":
		return errors.New("ERP_DEVMATERIELS_URL must not be empty")
	case c.ERP.Timeout <= 0:
		return errors.New("ERP_TIMEOUT must be positive")
	}

	switch {
	case c.Dispatcher.WorkersPerTarget < 1:
		return errors.New("NOTIFY_WORKERS_PER_TARGET must be at least 1")
	case c.Dispatcher.QueueSize < 1:
		return errors.New("NOTIFY_QUEUE_SIZE must be at least 1")
	case c.Dispatcher.MaxRetries < 0:
		return errors.New("NOTIFY_MAX_RETRIES must not be negative")
	case c.Dispatcher.BaseBackoff <= 0:
		return errors.New("NOTIFY_BASE_BACKOFF must be positive")
	case c.Dispatcher.MaxBackoff < c.Dispatcher.BaseBackoff:
		return errors.New("NOTIFY_MAX_BACKOFF must be greater than NOTIFY_BASE_BACKOFF")
	case c.Dispatcher.SweepSchedule == "":
		return errors.New("NOTIFY_SWEEP_SCHEDULE must be provided")
	}

	if c.Pricing.HourlyRate.IsNegative() {
		return errors.New("PRICING_HOURLY_RATE must not be negative")
	}
	if c.Pricing.InspectionForfait.IsNegative() {
		return errors.New("PRICING_INSPECTION_FORFAIT must not be negative")
	}

	if c.Reporting.CronSchedule == "" {
		return errors.New("REPORT_CRON_SCHEDULE must be provided")
	}

	if c.Reporting.Timezone == "" {
		return errors.New("TIMEZONE must be provided")
	}

	return nil
}

func getenvWithDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getenvInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getenvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseEndpoints reads "TARGET=url" pairs separated by commas.
func parseEndpoints(value string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range splitList(value) {
		name, base, ok := strings.Cut(pair, "=")
		name, base = strings.TrimSpace(name), strings.TrimSpace(base)
		if !ok || name == "" || base == "" {
			return nil, fmt.Errorf("invalid endpoint %q, expected TARGET=url", pair)
		}
		out[name] = base
	}
	return out, nil
}
