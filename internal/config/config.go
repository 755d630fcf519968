package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix                = "SMARTLINK"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabasePath      = "smartlink.db"
	defaultLogLevel          = "info"
	defaultLogFormat         = "json"
	defaultPublicBaseURL     = "http://localhost:8080"
	defaultOdesliAPIURL      = "https://api.song.link/v1-alpha.1"
	defaultOdesliCountry     = "FR"
	defaultOdesliTimeout     = 10 * time.Second
	defaultCacheTTL          = 24 * time.Hour
	defaultRateLimit         = 10
	defaultRateWindow        = time.Minute
	defaultAnalyticsWorkers  = 4
	defaultAnalyticsBuffer   = 1024
	defaultSessionIssuer     = "mdmc-auth"
	defaultSessionCookieName = "app_session"
	defaultAllowedOrigin     = "http://localhost:3000"
)

// AppConfig captures runtime configuration for the API server and the CLI.
type AppConfig struct {
	HTTPAddress       string
	DatabasePath      string
	LogLevel          string
	LogFormat         string
	PublicBaseURL     string
	AllowedOrigins    []string
	OdesliAPIURL      string
	OdesliCountry     string
	OdesliTimeout     time.Duration
	CacheTTL          time.Duration
	RateLimit         int
	RateWindow        time.Duration
	RedisAddress      string
	AnalyticsWorkers  int
	AnalyticsBuffer   int
	SessionSecret     string
	SessionIssuer     string
	SessionCookieName string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", []string{defaultAllowedOrigin})
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("public.base_url", defaultPublicBaseURL)
	configViper.SetDefault("odesli.api_url", defaultOdesliAPIURL)
	configViper.SetDefault("odesli.user_country", defaultOdesliCountry)
	configViper.SetDefault("odesli.timeout", defaultOdesliTimeout)
	configViper.SetDefault("odesli.cache_ttl", defaultCacheTTL)
	configViper.SetDefault("odesli.rate_limit", defaultRateLimit)
	configViper.SetDefault("odesli.rate_window", defaultRateWindow)
	configViper.SetDefault("ratelimit.redis_addr", "")
	configViper.SetDefault("analytics.workers", defaultAnalyticsWorkers)
	configViper.SetDefault("analytics.buffer_size", defaultAnalyticsBuffer)
	configViper.SetDefault("session.issuer", defaultSessionIssuer)
	configViper.SetDefault("session.cookie_name", defaultSessionCookieName)
}

// LoadDotEnv exports the variables of a .env file into the process environment. A missing
// file is not an error; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// Load parses runtime configuration from viper. The session secret is only required by
// commands that serve HTTP; see RequireSession.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		AllowedOrigins:    configViper.GetStringSlice("http.allowed_origins"),
		DatabasePath:      configViper.GetString("database.path"),
		LogLevel:          configViper.GetString("log.level"),
		LogFormat:         configViper.GetString("log.format"),
		PublicBaseURL:     configViper.GetString("public.base_url"),
		OdesliAPIURL:      configViper.GetString("odesli.api_url"),
		OdesliCountry:     configViper.GetString("odesli.user_country"),
		OdesliTimeout:     configViper.GetDuration("odesli.timeout"),
		CacheTTL:          configViper.GetDuration("odesli.cache_ttl"),
		RateLimit:         configViper.GetInt("odesli.rate_limit"),
		RateWindow:        configViper.GetDuration("odesli.rate_window"),
		RedisAddress:      strings.TrimSpace(configViper.GetString("ratelimit.redis_addr")),
		AnalyticsWorkers:  configViper.GetInt("analytics.workers"),
		AnalyticsBuffer:   configViper.GetInt("analytics.buffer_size"),
		SessionSecret:     configViper.GetString("session.signing_secret"),
		SessionIssuer:     configViper.GetString("session.issuer"),
		SessionCookieName: configViper.GetString("session.cookie_name"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// RequireSession reports an error when the HTTP session settings are incomplete.
func (c AppConfig) RequireSession() error {
	if strings.TrimSpace(c.SessionSecret) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	return nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.OdesliAPIURL) == "" {
		return fmt.Errorf("odesli.api_url is required")
	}
	if c.OdesliTimeout <= 0 {
		return fmt.Errorf("odesli.timeout must be positive")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("odesli.cache_ttl must be positive")
	}
	if c.RateLimit <= 0 {
		return fmt.Errorf("odesli.rate_limit must be positive")
	}
	if c.RateWindow <= 0 {
		return fmt.Errorf("odesli.rate_window must be positive")
	}
	if c.AnalyticsWorkers <= 0 {
		return fmt.Errorf("analytics.workers must be positive")
	}
	if c.AnalyticsBuffer <= 0 {
		return fmt.Errorf("analytics.buffer_size must be positive")
	}
	return nil
}
