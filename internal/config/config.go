package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// DefaultLocalAPIURL is where the comparison backend listens during local development.
	DefaultLocalAPIURL = "http://localhost:5001"
	// PlaceholderRemoteAPIURL is used for non-local hosts until REMOTE_API_URL is configured.
	PlaceholderRemoteAPIURL = "https://your-backend-url.invalid"
)

// Config holds the runtime settings of the server and the CLI.
type Config struct {
	Addr           string
	LogLevel       string
	LocalAPIURL    string
	RemoteAPIURL   string
	RequestTimeout time.Duration
	HealthTimeout  time.Duration
	SessionSecret  string
	SessionTTL     time.Duration
	SecureCookies  bool
	RedisAddr      string
	StaticDir      string
	AllowedOrigins []string

	// MaxSessions caps live sessions; the least recently used one is evicted.
	MaxSessions         int
	HealthProbeInterval time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; variables already set win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		Addr:           getEnv("ADDR", ":8080"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LocalAPIURL:    strings.TrimRight(getEnv("LOCAL_API_URL", DefaultLocalAPIURL), "/"),
		RemoteAPIURL:   strings.TrimRight(os.Getenv("REMOTE_API_URL"), "/"),
		SessionSecret:  getEnv("SESSION_SECRET", "dev-secret"),
		SecureCookies:  getEnv("SECURE_COOKIES", "false") == "true",
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		StaticDir:      os.Getenv("STATIC_DIR"),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "*")),
	}

	var err error
	if cfg.RequestTimeout, err = getDuration("REQUEST_TIMEOUT", 2*time.Minute); err != nil {
		return nil, err
	}
	if cfg.HealthTimeout, err = getDuration("HEALTH_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = getDuration("SESSION_TTL", 2*time.Hour); err != nil {
		return nil, err
	}
	if cfg.HealthProbeInterval, err = getDuration("HEALTH_PROBE_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.MaxSessions, err = getInt("MAX_SESSIONS", 10000); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolveBaseURL picks the comparison backend for the host the page was served from.
// Local development hosts map to LocalAPIURL, everything else to RemoteAPIURL.
func (c *Config) ResolveBaseURL(host string) string {
	if IsLocalHost(host) {
		return c.LocalAPIURL
	}
	if c.RemoteAPIURL == "" {
		return PlaceholderRemoteAPIURL
	}
	return c.RemoteAPIURL
}

// IsLocalHost reports whether host (optionally with a port) names the local machine.
func IsLocalHost(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(strings.ToLower(host), "[]")
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
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
