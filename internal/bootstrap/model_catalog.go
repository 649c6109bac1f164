package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"audiomate/internal/domain"
	"audiomate/internal/engine"
)

// modelDownloader fetches model weights into the cache directory.
type modelDownloader interface {
	Models() []domain.WhisperModelOption
	Download(ctx context.Context, id string) (string, error)
}

// ModelCatalog returns the built-in model presets with download state.
func (a *App) ModelCatalog() []domain.WhisperModelOption {
	return a.Catalog.Models()
}

// PullModel downloads the weights for modelID. With makeDefault the model
// becomes the configured primary model for the next start.
func (a *App) PullModel(ctx context.Context, modelID string, makeDefault bool) (string, error) {
	return pullModel(ctx, a.Catalog, a, modelID, makeDefault)
}

func pullModel(ctx context.Context, dl modelDownloader, a *App, modelID string, makeDefault bool) (string, error) {
	id := strings.TrimSpace(modelID)
	if id == "" {
		return "", fmt.Errorf("model id is required")
	}
	model, found := engine.Lookup(id)
	if !found {
		return "", fmt.Errorf("unknown model id: %s", id)
	}

	path, err := dl.Download(ctx, model.ID)
	if err != nil {
		return "", err
	}
	a.logger.Info().Str("model", model.ID).Str("path", path).Msg("model downloaded")

	if !makeDefault {
		return path, nil
	}
	if a.Store == nil {
		return "", fmt.Errorf("settings store is not configured")
	}
	settings, err := a.Store.Load()
	if err != nil {
		return "", fmt.Errorf("load settings: %w", err)
	}
	settings.Model = model.ID
	if _, err := a.SaveSettings(settings); err != nil {
		return "", err
	}
	return path, nil
}
