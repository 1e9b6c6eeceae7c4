package app

import (
	"context"
	"fmt"
	"log"

	"github.com/t9s-dev/t9s/internal/cache"
	"github.com/t9s-dev/t9s/internal/config"
	"github.com/t9s-dev/t9s/internal/fetch"
	"github.com/t9s-dev/t9s/internal/teamcity"
	"github.com/t9s-dev/t9s/internal/ui"
)

// Options configure the t9s application.
type Options struct {
	ConfigPath string // empty uses default ~/.config/t9s/config.toml
}

// Run boots the t9s TUI until the user quits or the context is
// cancelled.
func Run(ctx context.Context, opts Options) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	client, err := teamcity.NewClient(cfg.TeamCityURL, cfg.Token)
	if err != nil {
		return fmt.Errorf("init teamcity client: %w", err)
	}

	store, err := cache.Open(cfg.CacheDir, cfg.CacheTTL)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}

	pipeline := fetch.New(client, store, fetch.Options{
		Attempts:         cfg.Retry.Attempts,
		Backoff:          cfg.Retry.Backoff,
		RateLimitBackoff: cfg.Retry.RateLimitBackoff,
	})

	uiErr := ui.Run(ui.Options{
		Context:  ctx,
		Config:   &cfg,
		Store:    store,
		Pipeline: pipeline,
		Client:   client,
	})

	// Persist whatever the session gathered; a flush failure is not
	// worth masking the UI's exit status over.
	if err := store.Flush(); err != nil {
		log.Printf("flush cache on exit: %v", err)
	}
	return uiErr
}

// ClearCache wipes the on-disk cache and returns the directory that was
// removed.
func ClearCache(opts Options) (string, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	if err := cache.RemoveDir(cfg.CacheDir); err != nil {
		return "", err
	}
	return cfg.CacheDir, nil
}
