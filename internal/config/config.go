package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	// NodeID seeds snowflake ids and must be unique per replica.
	NodeID int64

	TrustedProxies     []string
	CORSAllowedOrigins []string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis         RedisConfig
	SessionDriver string

	Auth      AuthConfig
	Bootstrap BootstrapConfig
	Telemetry TelemetryConfig
}

// TelemetryConfig selects log output and trace export.
type TelemetryConfig struct {
	LogLevel  string
	LogFormat string

	TracingEnabled   bool
	TraceEndpoint    string
	TraceProtocol    string
	TraceSampleRatio float64
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AuthConfig is built once at startup and threaded through the auth components.
type AuthConfig struct {
	AppKey       string
	CookieDomain string
	CookieSecure bool

	RememberCookieName string
	RememberTTLDays    int

	SessionCookieName string
	SessionTTL        time.Duration

	CSRFNamespace        string
	CSRFCookieTTL        time.Duration
	CSRFCookieCandidates []string

	MaxAttempts        int
	WindowMinutes      int
	ThrottlePolicyFile string
	ThrottleSerialize  bool
	ThrottleLockTTL    time.Duration

	// OriginRate is the sustained login submissions per second allowed from
	// one client address; zero disables the origin bucket.
	OriginRate  float64
	OriginBurst int

	LoginPath   string
	LandingPath string
}

type BootstrapConfig struct {
	Enabled       bool
	OrgName       string
	OrgSlug       string
	OrgPlan       string
	AdminEmail    string
	AdminUsername string
	AdminPassword string
}

const (
	SessionDriverRedis  = "redis"
	SessionDriverMemory = "memory"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	environment := getenv("ENVIRONMENT", "development")
	cookieSecure := environment == "production"
	if !cookieSecure {
		cookieSecure = getenvBool("AUTH_COOKIE_SECURE", false)
	}

	cfg := Config{
		AppName:            getenv("APP_SERVICE", "tenantauth"),
		AppVersion:         getenv("SERVICE_VERSION", getenv("APP_VERSION", "0.1.0")),
		Environment:        environment,
		HTTPAddr:           getenv("HTTP_ADDR", ":8080"),
		NodeID:             int64(getenvInt("NODE_ID", 1)),
		TrustedProxies:     parseList(getenv("TRUSTED_PROXIES", "")),
		CORSAllowedOrigins: parseList(getenv("CORS_ALLOWED_ORIGINS", "")),
		DBType:             getenv("DATABASE_TYPE", "postgres"),
		DBHost:             getenv("DATABASE_HOST", "localhost"),
		DBPort:             getenv("DATABASE_PORT", "5432"),
		DBName:             getenv("DATABASE_NAME", "postgres"),
		DBUser:             getenv("DATABASE_USER", "postgres"),
		DBPassword:         getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:          getenv("DATABASE_SSLMODE", "disable"),
		DBPath:             getenv("DATABASE_PATH", "tenantauth.db"),
		DBMaxIdleConn:      getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:      getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime:  getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime:  getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "localhost:6379")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		SessionDriver: normalizeSessionDriver(getenv("SESSION_DRIVER", SessionDriverRedis)),
		Auth: AuthConfig{
			AppKey:               strings.TrimSpace(getenv("APP_KEY", "")),
			CookieDomain:         strings.TrimSpace(getenv("AUTH_COOKIE_DOMAIN", "")),
			CookieSecure:         cookieSecure,
			RememberCookieName:   getenv("AUTH_REMEMBER_COOKIE", "tn_remember"),
			RememberTTLDays:      getenvInt("AUTH_REMEMBER_TTL_DAYS", 30),
			SessionCookieName:    getenv("AUTH_SESSION_COOKIE", "tn_session"),
			SessionTTL:           time.Duration(getenvInt("AUTH_SESSION_TTL_MINUTES", 120)) * time.Minute,
			CSRFNamespace:        getenv("AUTH_CSRF_NAMESPACE", "login"),
			CSRFCookieTTL:        time.Duration(getenvInt("AUTH_CSRF_COOKIE_TTL_MINUTES", 60)) * time.Minute,
			CSRFCookieCandidates: parseList(getenv("AUTH_CSRF_COOKIE_CANDIDATES", "XSRF-TOKEN-{ns},XSRF-TOKEN")),
			MaxAttempts:          getenvInt("LOGIN_MAX_ATTEMPTS", 6),
			WindowMinutes:        getenvInt("LOGIN_WINDOW_MINUTES", 10),
			ThrottlePolicyFile:   strings.TrimSpace(getenv("LOGIN_THROTTLE_CONFIG", "")),
			ThrottleSerialize:    getenvBool("LOGIN_THROTTLE_SERIALIZE", false),
			ThrottleLockTTL:      time.Duration(getenvInt("LOGIN_THROTTLE_LOCK_TTL_SECONDS", 5)) * time.Second,
			OriginRate:           getenvFloat("LOGIN_ORIGIN_RATE", 0),
			OriginBurst:          getenvInt("LOGIN_ORIGIN_BURST", 20),
			LoginPath:            getenv("AUTH_LOGIN_PATH", "/login"),
			LandingPath:          getenv("AUTH_LANDING_PATH", "/t/{org}/dashboard"),
		},
		Telemetry: TelemetryConfig{
			LogLevel:         strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:        strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			TracingEnabled:   getenvBool("OTEL_ENABLED", false),
			TraceEndpoint:    strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")),
			TraceProtocol:    strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")))),
			TraceSampleRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},
		Bootstrap: BootstrapConfig{
			Enabled:       getenvBool("BOOTSTRAP_ENABLED", false),
			OrgName:       getenv("BOOTSTRAP_ORG_NAME", "Main"),
			OrgSlug:       strings.TrimSpace(getenv("BOOTSTRAP_ORG_SLUG", "")),
			OrgPlan:       getenv("BOOTSTRAP_ORG_PLAN", "standard"),
			AdminEmail:    strings.TrimSpace(getenv("BOOTSTRAP_ADMIN_EMAIL", "")),
			AdminUsername: strings.TrimSpace(getenv("BOOTSTRAP_ADMIN_USERNAME", "admin")),
			AdminPassword: getenv("BOOTSTRAP_ADMIN_PASSWORD", ""),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

// Window returns the throttle window as a duration.
func (a AuthConfig) Window() time.Duration {
	return time.Duration(a.WindowMinutes) * time.Minute
}

// RedisRequired reports whether any enabled component talks to Redis.
func (c Config) RedisRequired() bool {
	return c.SessionDriver == SessionDriverRedis || c.Auth.ThrottleSerialize || c.Auth.OriginRate > 0
}

func normalizeSessionDriver(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case SessionDriverMemory:
		return SessionDriverMemory
	default:
		return SessionDriverRedis
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func parseList(raw string) []string {
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	if len(parts) == 0 {
		return nil
	}
	return parts
}
