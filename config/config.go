package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	MpesaEnvironmentSandbox    = "sandbox"
	MpesaEnvironmentProduction = "production"
)

type Config struct {
	App               AppConfig
	HTTP              ServerConfig
	GRPC              ServerConfig
	MySQL             MySQLConfig
	Log               LogConfig
	InternalEndpoints InternalEndpointsConfig
	Mpesa             MpesaConfig
	Router            RouterConfig
	Redis             RedisConfig
	SMTP              SMTPConfig
	Provisioning      ProvisioningConfig
	Jobs              JobsConfig
}

type AppConfig struct {
	ServiceName string
}

type ServerConfig struct {
	Host string
	Port string
}

type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type InternalEndpointsConfig struct {
	AuthGRPCAddr string
}

type MpesaConfig struct {
	Environment     string
	BaseURL         string
	ConsumerKey     string
	ConsumerSecret  string
	ShortCode       string
	PassKey         string
	CallbackURL     string
	TransactionType string
	TransactionDesc string
	CountryCode     string
	Timezone        string
	HTTPTimeout     time.Duration
}

type RouterConfig struct {
	Address  string
	Username string
	Password string
	Timeout  time.Duration
}

// Enabled reports whether a router is configured. Without one, provisioning
// tasks are logged and skipped.
func (c RouterConfig) Enabled() bool {
	return strings.TrimSpace(c.Address) != ""
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func (c SMTPConfig) Enabled() bool {
	return strings.TrimSpace(c.Host) != "" && strings.TrimSpace(c.From) != ""
}

type ProvisioningConfig struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	MaxAttempts     int
	InitialBackoff  time.Duration
	AttemptTimeout  time.Duration
	ShutdownTimeout time.Duration
}

type JobsConfig struct {
	SweepInterval       time.Duration
	ReconcileInterval   time.Duration
	ReconcileStaleAfter time.Duration
	ReconcileMaxAge     time.Duration
	BatchSize           int32
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		return nil, errors.New("MYSQL_DSN environment variable is required")
	}

	environment := strings.ToLower(getEnv("MPESA_ENVIRONMENT", MpesaEnvironmentSandbox))
	if environment != MpesaEnvironmentSandbox && environment != MpesaEnvironmentProduction {
		return nil, errors.New("MPESA_ENVIRONMENT must be sandbox or production")
	}

	return &Config{
		App: AppConfig{
			ServiceName: getEnv("APP_SERVICE_NAME", "isp-billing-service"),
		},
		HTTP: ServerConfig{
			Host: getEnv("HTTP_HOST", "0.0.0.0"),
			Port: getEnv("HTTP_PORT", "8080"),
		},
		GRPC: ServerConfig{
			Host: getEnv("GRPC_HOST", "0.0.0.0"),
			Port: getEnv("GRPC_PORT", "9090"),
		},
		MySQL: MySQLConfig{
			DSN:             mysqlDSN,
			MaxOpenConns:    getIntEnv("MYSQL_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getIntEnv("MYSQL_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getMinutesEnv("MYSQL_CONN_MAX_LIFETIME_MINUTES", 30*time.Minute),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		InternalEndpoints: InternalEndpointsConfig{
			AuthGRPCAddr: getEnv("AUTH_SERVICE_GRPC_ADDR", "localhost:9090"),
		},
		Mpesa: MpesaConfig{
			Environment:     environment,
			BaseURL:         getEnv("MPESA_BASE_URL", ""),
			ConsumerKey:     getEnv("MPESA_CONSUMER_KEY", ""),
			ConsumerSecret:  getEnv("MPESA_CONSUMER_SECRET", ""),
			ShortCode:       getEnv("MPESA_SHORTCODE", ""),
			PassKey:         getEnv("MPESA_PASSKEY", ""),
			CallbackURL:     getEnv("MPESA_CALLBACK_URL", ""),
			TransactionType: getEnv("MPESA_TRANSACTION_TYPE", "CustomerPayBillOnline"),
			TransactionDesc: getEnv("MPESA_TRANSACTION_DESC", "Internet subscription"),
			CountryCode:     getEnv("MPESA_COUNTRY_CODE", "254"),
			Timezone:        getEnv("MPESA_TIMEZONE", "Africa/Nairobi"),
			HTTPTimeout:     clampDuration(getSecondsEnv("MPESA_HTTP_TIMEOUT_SECONDS", 30*time.Second), 10*time.Second, 30*time.Second),
		},
		Router: RouterConfig{
			Address:  getEnv("ROUTER_ADDRESS", ""),
			Username: getEnv("ROUTER_USERNAME", ""),
			Password: getEnv("ROUTER_PASSWORD", ""),
			Timeout:  getSecondsEnv("ROUTER_TIMEOUT_SECONDS", 10*time.Second),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
			LockTTL:  getMinutesEnv("REDIS_LOCK_TTL_MINUTES", 5*time.Minute),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getIntEnv("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", ""),
		},
		Provisioning: ProvisioningConfig{
			Enabled:         getBoolEnv("PROVISIONING_ENABLED", true),
			Workers:         getIntEnv("PROVISIONING_WORKERS", 4),
			QueueSize:       getIntEnv("PROVISIONING_QUEUE_SIZE", 256),
			MaxAttempts:     getIntEnv("PROVISIONING_MAX_ATTEMPTS", 5),
			InitialBackoff:  getSecondsEnv("PROVISIONING_INITIAL_BACKOFF_SECONDS", time.Second),
			AttemptTimeout:  getSecondsEnv("PROVISIONING_ATTEMPT_TIMEOUT_SECONDS", 30*time.Second),
			ShutdownTimeout: getSecondsEnv("PROVISIONING_SHUTDOWN_TIMEOUT_SECONDS", 20*time.Second),
		},
		Jobs: JobsConfig{
			SweepInterval:       getMinutesEnv("JOBS_SWEEP_INTERVAL_MINUTES", 5*time.Minute),
			ReconcileInterval:   getMinutesEnv("JOBS_RECONCILE_INTERVAL_MINUTES", 2*time.Minute),
			ReconcileStaleAfter: getMinutesEnv("JOBS_RECONCILE_STALE_AFTER_MINUTES", 15*time.Minute),
			ReconcileMaxAge:     getMinutesEnv("JOBS_RECONCILE_MAX_AGE_MINUTES", 24*time.Hour),
			BatchSize:           int32(getIntEnv("JOBS_BATCH_SIZE", 100)),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getMinutesEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if minutes, err := strconv.Atoi(value); err == nil {
			return time.Duration(minutes) * time.Minute
		}
	}
	return defaultValue
}

func getSecondsEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func clampDuration(value, low, high time.Duration) time.Duration {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}
