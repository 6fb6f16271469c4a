package cmd

import (
	"context"
	"os"

	"github.com/furisto/dispatch/backend/model"
	"github.com/furisto/dispatch/shared/config"
	"github.com/spf13/afero"
)

type contextKey string

const (
	ContextKeyFileSystem      contextKey = "filesystem"
	ContextKeyConfig          contextKey = "config"
	ContextKeyHomeDir         contextKey = "home_dir"
	ContextKeyDisableFileLogs contextKey = "disable_file_logs"
	ContextKeyModelProvider   contextKey = "model_provider"
)

func getFileSystem(ctx context.Context) *afero.Afero {
	if fs, ok := ctx.Value(ContextKeyFileSystem).(*afero.Afero); ok {
		return fs
	}
	return &afero.Afero{Fs: afero.NewOsFs()}
}

func getConfig(ctx context.Context) *config.Config {
	if cfg, ok := ctx.Value(ContextKeyConfig).(*config.Config); ok {
		return cfg
	}
	return nil
}

func getHomeDir(ctx context.Context) (string, error) {
	if homeDir, ok := ctx.Value(ContextKeyHomeDir).(string); ok {
		return homeDir, nil
	}
	return os.UserHomeDir()
}

func getModelProvider(ctx context.Context) model.ModelProvider {
	if provider, ok := ctx.Value(ContextKeyModelProvider).(model.ModelProvider); ok {
		return provider
	}
	return nil
}
