package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"

	"github.com/furisto/dispatch/backend/agent"
	"github.com/furisto/dispatch/backend/analytics"
	"github.com/furisto/dispatch/backend/event"
	"github.com/furisto/dispatch/backend/model"
	"github.com/furisto/dispatch/backend/resource"
	"github.com/furisto/dispatch/backend/sandbox"
	"github.com/furisto/dispatch/backend/secret"
	"github.com/furisto/dispatch/frontend/cli/pkg/fail"
	"github.com/furisto/dispatch/shared/config"
)

// runtime is everything a command needs to drive agents, built from the
// configuration.
type runtime struct {
	registry *agent.Registry
	bus      *event.Bus
	metrics  *prometheus.Registry
	closers  []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

func newRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	rt := &runtime{metrics: prometheus.NewRegistry()}

	backend, err := newResourceBackend(getFileSystem(ctx), cfg.Resources)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, func() { closeBackend(backend) })

	secrets, err := newSecretChain(ctx)
	if err != nil {
		rt.Close()
		return nil, err
	}

	provider := getModelProvider(ctx)
	if provider == nil {
		apiKey, err := secrets.Get(secret.AnthropicAPIKey())
		if err != nil {
			rt.Close()
			if errors.Is(err, &secret.ErrSecretNotFound{}) {
				return nil, fail.NewMissingAPIKeyError(secret.DefaultKeyringService, secret.AnthropicAPIKey(), err)
			}
			return nil, err
		}
		provider, err = model.NewAnthropicProvider(apiKey, model.WithMetrics(rt.metrics))
		if err != nil {
			rt.Close()
			return nil, err
		}
	}

	rt.bus = event.NewBus(rt.metrics)
	rt.closers = append(rt.closers, rt.bus.Close)

	if err := rt.startAnalytics(cfg.Analytics, secrets); err != nil {
		slog.Warn("analytics disabled", "error", err)
	}

	engine := newEngine(backend, cfg.Sandbox, rt.metrics)
	rt.registry = agent.NewRegistry(provider, engine,
		agent.WithMaxWorkers(cfg.Agents.MaxWorkers),
		agent.WithCreationTimeout(cfg.Agents.CreationTimeout),
		agent.WithCompletionTimeout(cfg.Agents.CompletionTimeout),
		agent.WithModel(cfg.Model.Name, cfg.Model.MaxTokens),
		agent.WithHistoryLimit(cfg.Agents.HistoryLimit),
		agent.WithEventBuffer(cfg.Agents.EventBuffer),
		agent.WithBus(rt.bus),
		agent.WithMetrics(rt.metrics),
	)

	if cfg.Metrics.Addr != "" {
		rt.serveMetrics(cfg.Metrics.Addr)
	}

	return rt, nil
}

func newResourceBackend(fs afero.Fs, cfg config.ResourcesConfig) (resource.Backend, error) {
	var fixtures *resource.Fixtures
	if cfg.Fixtures != "" {
		loaded, err := resource.LoadFixtures(fs, cfg.Fixtures)
		if err != nil {
			return nil, fail.NewFixturesError(cfg.Fixtures, err)
		}
		fixtures = loaded
	}

	static := resource.NewStaticBackend(fixtures)
	if cfg.CacheTTL == 0 {
		return static, nil
	}
	return resource.NewCachedBackend(static, cfg.CacheTTL)
}

func closeBackend(backend resource.Backend) {
	if closer, ok := backend.(interface{ Close() }); ok {
		closer.Close()
	}
}

func newEngine(backend resource.Backend, cfg config.SandboxConfig, metrics *prometheus.Registry) *sandbox.Engine {
	engineConfig := sandbox.DefaultConfig()
	engineConfig.MemoryLimitBytes = uint64(cfg.MemoryLimitBytes())
	engineConfig.Timeout = cfg.Timeout

	var opts []sandbox.EngineOption
	if metrics != nil {
		opts = append(opts, sandbox.WithMetricsRegistry(metrics))
	}
	return sandbox.NewEngine(backend, engineConfig, opts...)
}

func newSecretChain(ctx context.Context) (*secret.Chain, error) {
	providers := []secret.Provider{
		secret.NewEnvProvider(secret.DefaultEnvVariables()),
		secret.NewKeyringProvider(secret.DefaultKeyringService),
	}

	homeDir, err := getHomeDir(ctx)
	if err == nil {
		files, err := secret.NewFileProvider(filepath.Join(homeDir, ".dispatch", "secrets"), getFileSystem(ctx))
		if err != nil {
			return nil, err
		}
		providers = append(providers, files)
	}

	return secret.NewChain(providers...), nil
}

func (r *runtime) startAnalytics(cfg config.AnalyticsConfig, secrets secret.Provider) error {
	apiKey := cfg.PosthogKey
	if apiKey == "" {
		stored, err := secrets.Get(secret.PosthogAPIKey())
		if err != nil {
			return nil
		}
		apiKey = stored
	}

	client, err := analytics.NewClient(apiKey)
	if err != nil {
		return err
	}

	tracker := analytics.NewTracker(client, analytics.DefaultDistinctID)
	tracker.Subscribe(r.bus)
	r.closers = append(r.closers, func() {
		tracker.Unsubscribe()
		if err := client.Close(); err != nil {
			slog.Debug("failed to flush analytics", "error", err)
		}
	})
	return nil
}

func (r *runtime) serveMetrics(addr string) {
	server := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(r.metrics, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("serving metrics", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()

	r.closers = append(r.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Debug("failed to stop metrics server", "error", err)
		}
	})
}
