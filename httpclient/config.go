package httpclient

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DefaultBaseURL    = "https://api.anthropic.com"
	DefaultAPIVersion = "2023-06-01"
	DefaultTimeout    = 600 * time.Second
	DefaultMaxRetries = 2
)

// PoolConfig tunes the shared connection pool.
type PoolConfig struct {
	MaxIdlePerHost int
	IdleTimeout    time.Duration
	KeepAlive      time.Duration
}

// Config configures a Client.
type Config struct {
	DefaultHeaders map[string]string
	// APIKey is sent as x-api-key. AuthToken, if set instead, is sent as a
	// bearer token.
	APIKey     string
	AuthToken  string
	BaseURL    string
	APIVersion string
	// Proxy is an optional proxy URL for all requests.
	Proxy      string
	Pool       PoolConfig
	Timeout    time.Duration
	MaxRetries int
}

// DefaultConfig returns a Config with defaults and no credentials.
func DefaultConfig() Config {
	return Config{
		BaseURL:    DefaultBaseURL,
		APIVersion: DefaultAPIVersion,
		Timeout:    DefaultTimeout,
		MaxRetries: DefaultMaxRetries,
		Pool: PoolConfig{
			MaxIdlePerHost: 10,
			IdleTimeout:    90 * time.Second,
			KeepAlive:      60 * time.Second,
		},
	}
}

// Validate checks that credentials are present and URLs parse.
func (c Config) Validate() error {
	if c.APIKey == "" && c.AuthToken == "" {
		return ErrMissingCredentials
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("httpclient: invalid base URL %q: %w", c.BaseURL, err)
	}
	if c.Proxy != "" {
		if _, err := url.Parse(c.Proxy); err != nil {
			return fmt.Errorf("httpclient: invalid proxy URL %q: %w", c.Proxy, err)
		}
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("httpclient: max retries must be >= 0, got %d", c.MaxRetries)
	}
	return nil
}

// LoadConfig reads ANTHROPIC_* variables from the environment, after loading
// any given dotenv files. Variables already set in the environment win over
// dotenv values.
//
//	ANTHROPIC_API_KEY, ANTHROPIC_AUTH_TOKEN, ANTHROPIC_BASE_URL,
//	ANTHROPIC_API_VERSION, ANTHROPIC_TIMEOUT (seconds),
//	ANTHROPIC_MAX_RETRIES, ANTHROPIC_PROXY
func LoadConfig(envFiles ...string) (Config, error) {
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return Config{}, fmt.Errorf("httpclient: load env files: %w", err)
		}
	}

	cfg := DefaultConfig()

	v := viper.New()
	v.SetEnvPrefix("ANTHROPIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("base_url", cfg.BaseURL)
	v.SetDefault("api_version", cfg.APIVersion)

	cfg.APIKey = v.GetString("api_key")
	cfg.AuthToken = v.GetString("auth_token")
	cfg.BaseURL = strings.TrimRight(v.GetString("base_url"), "/")
	cfg.APIVersion = v.GetString("api_version")
	cfg.Proxy = v.GetString("proxy")

	if s := strings.TrimSpace(v.GetString("timeout")); s != "" {
		secs, err := strconv.Atoi(s)
		if err != nil || secs <= 0 {
			return Config{}, fmt.Errorf("httpclient: ANTHROPIC_TIMEOUT must be a positive number of seconds, got %q", s)
		}
		cfg.Timeout = time.Duration(secs) * time.Second
	}
	if s := strings.TrimSpace(v.GetString("max_retries")); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("httpclient: ANTHROPIC_MAX_RETRIES must be a non-negative integer, got %q", s)
		}
		cfg.MaxRetries = n
	}

	return cfg, nil
}
