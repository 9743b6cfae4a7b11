package config

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// WatchCatalog reloads catalog.yaml on change and calls onUpdate with the latest catalog.
// It performs an initial load before entering the watch loop.
func WatchCatalog(ctx context.Context, path string, interval time.Duration, logger *zerolog.Logger, onUpdate func(*CatalogConfig)) error {
	if path == "" {
		path = "configs/catalog.yaml"
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	cfg, err := LoadCatalog(path)
	if err != nil {
		return err
	}
	if onUpdate != nil {
		onUpdate(cfg)
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	lastMod := info.ModTime()

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				info, err := os.Stat(path)
				if err != nil {
					continue // transient errors
				}
				if !info.ModTime().After(lastMod) {
					continue
				}
				cfg, err := LoadCatalog(path)
				if err != nil {
					logger.Warn().Err(err).Str("path", path).Msg("Catalog reload rejected")
					continue
				}
				lastMod = info.ModTime()
				logger.Info().Str("path", path).Int("services", len(cfg.Services)).Msg("Catalog reloaded")
				if onUpdate != nil {
					onUpdate(cfg)
				}
			}
		}
	}()

	return nil
}
