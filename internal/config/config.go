package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config captures everything t9s needs to talk to a TeamCity server.
type Config struct {
	TeamCityURL  string
	Token        string
	Projects     []string // allowed project ids; empty browses everything
	CacheDir     string
	CacheTTL     time.Duration
	Retry        RetryConfig
	FzfCommand   string
	PagerCommand string
}

// RetryConfig tunes the fetch pipeline's backoff.
type RetryConfig struct {
	Attempts         int
	Backoff          time.Duration
	RateLimitBackoff time.Duration
}

const (
	defaultConfigPath = "~/.config/t9s/config.toml"
	defaultCacheDir   = "~/.cache/t9s"
	defaultTTLMinutes = 60
	defaultAttempts   = 3
	defaultBackoffMS  = 500
	defaultRateLimitS = 5
)

// Load locates and parses the config file. The server URL and token are
// required (file or T9S_TEAMCITY_URL / T9S_TOKEN environment); all other
// fields fall back to defaults.
func Load(path string) (Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	var raw struct {
		TeamCityURL       string   `toml:"teamcity_url"`
		Token             string   `toml:"token"`
		Projects          []string `toml:"projects"`
		CacheDir          string   `toml:"cache_dir"`
		CacheTTLMinutes   int      `toml:"cache_ttl_minutes"`
		RetryAttempts     int      `toml:"retry_attempts"`
		RetryBackoffMS    int      `toml:"retry_backoff_ms"`
		RateLimitBackoffS int      `toml:"rate_limit_backoff_s"`
		FzfCommand        string   `toml:"fzf_command"`
		PagerCommand      string   `toml:"pager_command"`
	}

	bytes, err := os.ReadFile(resolved)
	switch {
	case err == nil:
		if err := toml.Unmarshal(bytes, &raw); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", resolved, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// Environment variables may still supply the required fields.
	default:
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := Config{
		TeamCityURL:  firstNonEmpty(os.Getenv("T9S_TEAMCITY_URL"), raw.TeamCityURL),
		Token:        firstNonEmpty(os.Getenv("T9S_TOKEN"), raw.Token),
		Projects:     raw.Projects,
		CacheDir:     strings.TrimSpace(raw.CacheDir),
		FzfCommand:   strings.TrimSpace(raw.FzfCommand),
		PagerCommand: strings.TrimSpace(raw.PagerCommand),
	}

	if strings.TrimSpace(cfg.TeamCityURL) == "" {
		return Config{}, fmt.Errorf("teamcity_url is not set (config %s or T9S_TEAMCITY_URL)", resolved)
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return Config{}, fmt.Errorf("token is not set (config %s or T9S_TOKEN)", resolved)
	}

	if cfg.CacheDir == "" {
		cfg.CacheDir = defaultCacheDir
	}
	cfg.CacheDir = mustExpand(cfg.CacheDir)

	ttlMinutes := raw.CacheTTLMinutes
	if ttlMinutes <= 0 {
		ttlMinutes = defaultTTLMinutes
	}
	cfg.CacheTTL = time.Duration(ttlMinutes) * time.Minute

	cfg.Retry = RetryConfig{
		Attempts:         raw.RetryAttempts,
		Backoff:          time.Duration(raw.RetryBackoffMS) * time.Millisecond,
		RateLimitBackoff: time.Duration(raw.RateLimitBackoffS) * time.Second,
	}
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry.Attempts = defaultAttempts
	}
	if cfg.Retry.Backoff <= 0 {
		cfg.Retry.Backoff = defaultBackoffMS * time.Millisecond
	}
	if cfg.Retry.RateLimitBackoff <= 0 {
		cfg.Retry.RateLimitBackoff = defaultRateLimitS * time.Second
	}

	return cfg, nil
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return defaultConfigPath
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
