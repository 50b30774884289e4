package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig holds process-level settings.
type AppConfig struct {
	Env  string
	Port int
}

// TokenConfig selects and configures the signaling token source.
// Mode "pop" talks to the cloud endpoint; "local" issues JWTs for
// development and tests.
type TokenConfig struct {
	Mode string

	AccessKeyID     string
	AccessKeySecret string
	Endpoint        string
	Region          string

	JWTSecret string
	TTL       time.Duration
}

// DBConfig is optional. When a DSN is set the missed-call log is stored in
// Postgres instead of memory.
type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig is optional. When an address is set, fetched tokens are
// cached per user and device.
type RedisConfig struct {
	Addr     string
	TokenTTL time.Duration
}

// EngineConfig tunes the built-in loopback engine used outside production.
type EngineConfig struct {
	RingAfter     time.Duration
	AnswerAfter   time.Duration
	AlertTimeout  time.Duration
	TeardownDelay time.Duration
}

// Config is the full application configuration loaded from environment
// variables.
type Config struct {
	App    AppConfig
	Token  TokenConfig
	DB     DBConfig
	Redis  RedisConfig
	Engine EngineConfig
}

// Load reads configuration from the environment. Missing optional values
// fall back to defaults; validation errors are joined so a misconfigured
// deployment reports everything at once.
func Load() (Config, error) {
	var errs []string

	cfg := Config{
		App: AppConfig{
			Env:  getEnv("APP_ENV", "local"),
			Port: mustInt("APP_PORT", 8080, &errs),
		},
		Token: TokenConfig{
			Mode:            getEnv("TOKEN_MODE", "local"),
			AccessKeyID:     os.Getenv("TOKEN_ACCESS_KEY_ID"),
			AccessKeySecret: os.Getenv("TOKEN_ACCESS_KEY_SECRET"),
			Endpoint:        getEnv("TOKEN_ENDPOINT", "https://rtc.aliyuncs.com"),
			Region:          getEnv("TOKEN_REGION", "cn-hangzhou"),
			JWTSecret:       os.Getenv("TOKEN_JWT_SECRET"),
			TTL:             mustDuration("TOKEN_TTL", 30*time.Minute, &errs),
		},
		DB: DBConfig{
			DSN:             os.Getenv("DB_DSN"),
			MaxOpenConns:    mustInt("DB_MAX_OPEN_CONNS", 10, &errs),
			MaxIdleConns:    mustInt("DB_MAX_IDLE_CONNS", 10, &errs),
			ConnMaxLifetime: mustDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute, &errs),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			TokenTTL: mustDuration("REDIS_TOKEN_TTL", 10*time.Minute, &errs),
		},
		Engine: EngineConfig{
			RingAfter:     mustDuration("ENGINE_RING_AFTER", 50*time.Millisecond, &errs),
			AnswerAfter:   mustDuration("ENGINE_ANSWER_AFTER", 100*time.Millisecond, &errs),
			AlertTimeout:  mustDuration("ENGINE_ALERT_TIMEOUT", 30*time.Second, &errs),
			TeardownDelay: mustDuration("ENGINE_TEARDOWN_DELAY", time.Second, &errs),
		},
	}

	if err := cfg.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c Config) Validate() error {
	var errs []string

	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, "APP_PORT must be in 1..65535")
	}

	switch c.Token.Mode {
	case "pop":
		if c.Token.AccessKeyID == "" {
			errs = append(errs, "TOKEN_ACCESS_KEY_ID is required in pop mode")
		}
		if c.Token.AccessKeySecret == "" {
			errs = append(errs, "TOKEN_ACCESS_KEY_SECRET is required in pop mode")
		}
		if c.Token.Endpoint == "" {
			errs = append(errs, "TOKEN_ENDPOINT is required in pop mode")
		}
	case "local":
		if c.Token.JWTSecret == "" {
			errs = append(errs, "TOKEN_JWT_SECRET is required in local mode")
		}
	default:
		errs = append(errs, fmt.Sprintf("TOKEN_MODE %q is not supported (pop|local)", c.Token.Mode))
	}

	if c.Token.TTL <= 0 {
		errs = append(errs, "TOKEN_TTL must be positive")
	}
	if c.Engine.TeardownDelay <= 0 {
		errs = append(errs, "ENGINE_TEARDOWN_DELAY must be positive")
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s", strings.Join(errs, "; "))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func mustInt(key string, fallback int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s must be an integer, got %q", key, v))
		return fallback
	}
	return n
}

func mustDuration(key string, fallback time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s must be a duration, got %q", key, v))
		return fallback
	}
	return d
}
