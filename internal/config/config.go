// AngelaMos | 2026
// config.go

package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	App       AppConfig       `koanf:"app"`
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	JWT       JWTConfig       `koanf:"jwt"`
	Auth      AuthConfig      `koanf:"auth"`
	Credits   CreditsConfig   `koanf:"credits"`
	Realtime  RealtimeConfig  `koanf:"realtime"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	CORS      CORSConfig      `koanf:"cors"`
	Log       LogConfig       `koanf:"log"`
	Otel      OtelConfig      `koanf:"otel"`
}

type AppConfig struct {
	Name        string `koanf:"name"`
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
}

type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time"`
}

type RedisConfig struct {
	URL             string `koanf:"url"`
	PoolSize        int    `koanf:"pool_size"`
	MinIdleConns    int    `koanf:"min_idle_conns"`
	ConnectAttempts int    `koanf:"connect_attempts"`
}

type JWTConfig struct {
	PrivateKeyPath     string        `koanf:"private_key_path"`
	PublicKeyPath      string        `koanf:"public_key_path"`
	AccessTokenExpire  time.Duration `koanf:"access_token_expire"`
	RefreshTokenExpire time.Duration `koanf:"refresh_token_expire"`
	Issuer             string        `koanf:"issuer"`
	Audience           string        `koanf:"audience"`
}

// AuthConfig controls sign-up and sign-in policy.
type AuthConfig struct {
	RequireEmailConfirmation bool          `koanf:"require_email_confirmation"`
	ExposeConfirmationToken  bool          `koanf:"expose_confirmation_token"`
	AllowedDomains           []string      `koanf:"allowed_domains"`
	ConfirmationTTL          time.Duration `koanf:"confirmation_ttl"`
	PasswordResetTTL         time.Duration `koanf:"password_reset_ttl"`
	SignupsPerHour           int           `koanf:"signups_per_hour"`
}

// CreditsConfig holds ledger policy.
type CreditsConfig struct {
	TrialBalance     int64         `koanf:"trial_balance"`
	AssumedDailyRate int64         `koanf:"assumed_daily_rate"`
	UsageRetention   time.Duration `koanf:"usage_retention"`
	UsageWindowDays  int           `koanf:"usage_window_days"`
}

type RealtimeConfig struct {
	PingInterval   time.Duration `koanf:"ping_interval"`
	WriteTimeout   time.Duration `koanf:"write_timeout"`
	SubscriberBuf  int           `koanf:"subscriber_buffer"`
	AllowedOrigins []string      `koanf:"allowed_origins"`
}

type RateLimitConfig struct {
	Requests int           `koanf:"requests"`
	Window   time.Duration `koanf:"window"`
	Burst    int           `koanf:"burst"`
}

type CORSConfig struct {
	AllowedOrigins   []string `koanf:"allowed_origins"`
	AllowedMethods   []string `koanf:"allowed_methods"`
	AllowedHeaders   []string `koanf:"allowed_headers"`
	AllowCredentials bool     `koanf:"allow_credentials"`
	MaxAge           int      `koanf:"max_age"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type OtelConfig struct {
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	Enabled     bool    `koanf:"enabled"`
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
}

var (
	cfg     *Config
	loadErr error
	once    sync.Once
)

// Load reads defaults, then the YAML file at configPath, then environment
// overrides. The first call wins; later calls return the same result.
func Load(configPath string) (*Config, error) {
	once.Do(func() {
		cfg, loadErr = load(configPath, env.Provider("", ".", envKeyReplacer))
	})

	if loadErr != nil {
		return nil, loadErr
	}

	return cfg, nil
}

func Get() *Config {
	if cfg == nil {
		panic("config not loaded: call Load() first")
	}
	return cfg
}

func load(configPath string, envProvider koanf.Provider) (*Config, error) {
	k := koanf.New(".")

	if err := setDefaults(k, serverDefaults); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if envProvider != nil {
		if err := k.Load(envProvider, nil); err != nil {
			return nil, fmt.Errorf("load env vars: %w", err)
		}
	}

	out := &Config{}
	if err := k.Unmarshal("", out); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(out); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return out, nil
}

func setDefaults(k *koanf.Koanf, defaults map[string]any) error {
	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}
	return nil
}

var serverDefaults = map[string]any{
	"app.name":        "Credit Ledger",
	"app.version":     "1.0.0",
	"app.environment": "development",

	"server.host":             "0.0.0.0",
	"server.port":             8080,
	"server.read_timeout":     "30s",
	"server.write_timeout":    "30s",
	"server.idle_timeout":     "120s",
	"server.shutdown_timeout": "15s",

	"database.max_open_conns":     25,
	"database.max_idle_conns":     5,
	"database.conn_max_lifetime":  "1h",
	"database.conn_max_idle_time": "30m",

	"redis.pool_size":        10,
	"redis.min_idle_conns":   5,
	"redis.connect_attempts": 3,

	"jwt.access_token_expire":  "15m",
	"jwt.refresh_token_expire": "168h",
	"jwt.issuer":               "credit-ledger",
	"jwt.audience":             "credit-ledger-api",
	"jwt.private_key_path":     "keys/private.pem",
	"jwt.public_key_path":      "keys/public.pem",

	"auth.require_email_confirmation": true,
	"auth.expose_confirmation_token":  false,
	"auth.allowed_domains":            []string{},
	"auth.confirmation_ttl":           "24h",
	"auth.password_reset_ttl":         "1h",
	"auth.signups_per_hour":           5,

	"credits.trial_balance":      100000,
	"credits.assumed_daily_rate": 5000,
	"credits.usage_retention":    "2160h",
	"credits.usage_window_days":  7,

	"realtime.ping_interval":     "30s",
	"realtime.write_timeout":     "10s",
	"realtime.subscriber_buffer": 32,
	"realtime.allowed_origins":   []string{"http://localhost:3000"},

	"rate_limit.requests": 100,
	"rate_limit.window":   "1m",
	"rate_limit.burst":    20,

	"cors.allowed_origins": []string{"http://localhost:3000"},
	"cors.allowed_methods": []string{
		"GET",
		"POST",
		"PUT",
		"PATCH",
		"DELETE",
		"OPTIONS",
	},
	"cors.allowed_headers": []string{
		"Accept",
		"Authorization",
		"Content-Type",
		"Idempotency-Key",
		"X-Request-ID",
	},
	"cors.allow_credentials": true,
	"cors.max_age":           300,

	"log.level":  "info",
	"log.format": "json",

	"otel.enabled":      false,
	"otel.insecure":     true,
	"otel.sample_rate":  0.1,
	"otel.service_name": "credit-ledger",
}

var envKeyMap = map[string]string{
	"DATABASE_URL":                    "database.url",
	"REDIS_URL":                       "redis.url",
	"REDIS_CONNECT_ATTEMPTS":          "redis.connect_attempts",
	"ENVIRONMENT":                     "app.environment",
	"HOST":                            "server.host",
	"PORT":                            "server.port",
	"LOG_LEVEL":                       "log.level",
	"LOG_FORMAT":                      "log.format",
	"JWT_PRIVATE_KEY_PATH":            "jwt.private_key_path",
	"JWT_PUBLIC_KEY_PATH":             "jwt.public_key_path",
	"JWT_ACCESS_TOKEN_EXPIRE":         "jwt.access_token_expire",
	"JWT_REFRESH_TOKEN_EXPIRE":        "jwt.refresh_token_expire",
	"JWT_ISSUER":                      "jwt.issuer",
	"JWT_AUDIENCE":                    "jwt.audience",
	"AUTH_REQUIRE_EMAIL_CONFIRMATION": "auth.require_email_confirmation",
	"AUTH_EXPOSE_CONFIRMATION_TOKEN":  "auth.expose_confirmation_token",
	"AUTH_SIGNUPS_PER_HOUR":           "auth.signups_per_hour",
	"CREDITS_TRIAL_BALANCE":           "credits.trial_balance",
	"CREDITS_ASSUMED_DAILY_RATE":      "credits.assumed_daily_rate",
	"RATE_LIMIT_REQUESTS":             "rate_limit.requests",
	"RATE_LIMIT_WINDOW":               "rate_limit.window",
	"RATE_LIMIT_BURST":                "rate_limit.burst",
	"OTEL_ENDPOINT":                   "otel.endpoint",
	"OTEL_EXPORTER_OTLP_ENDPOINT":     "otel.endpoint",
	"OTEL_SERVICE_NAME":               "otel.service_name",
	"OTEL_ENABLED":                    "otel.enabled",
	"OTEL_INSECURE":                   "otel.insecure",
	"OTEL_SAMPLE_RATE":                "otel.sample_rate",
}

func envKeyReplacer(s string) string {
	if mapped, ok := envKeyMap[s]; ok {
		return mapped
	}
	return ""
}

func validate(c *Config) error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.JWT.PrivateKeyPath == "" {
		return fmt.Errorf("JWT_PRIVATE_KEY_PATH is required")
	}

	if c.JWT.PublicKeyPath == "" {
		return fmt.Errorf("JWT_PUBLIC_KEY_PATH is required")
	}

	if c.CORS.AllowCredentials {
		for _, origin := range c.CORS.AllowedOrigins {
			if origin == "*" {
				return fmt.Errorf(
					"CORS wildcard '*' cannot be used with AllowCredentials",
				)
			}
		}
	}

	if c.App.Environment == "production" {
		if c.Otel.Enabled && c.Otel.Insecure {
			return fmt.Errorf("OTEL_INSECURE must be false in production")
		}
		if c.Auth.ExposeConfirmationToken {
			return fmt.Errorf("auth.expose_confirmation_token must be false in production")
		}
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be positive")
	}

	if c.Credits.TrialBalance < 0 {
		return fmt.Errorf("credits.trial_balance must not be negative")
	}

	if c.Credits.AssumedDailyRate <= 0 {
		return fmt.Errorf("credits.assumed_daily_rate must be positive")
	}

	for i, domain := range c.Auth.AllowedDomains {
		c.Auth.AllowedDomains[i] = strings.ToLower(strings.TrimSpace(domain))
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
