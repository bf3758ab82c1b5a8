// Package bootstrap assembles the generation stack shared by the API server
// and genctl from a loaded Config.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"genstudio/internal/adapter/repo"
	"genstudio/internal/domain"
	"genstudio/internal/generation"
	"genstudio/internal/infra"
	"genstudio/internal/infra/credentials"
	"genstudio/internal/providers/qwen"
	"genstudio/internal/providers/router"
	"genstudio/internal/providers/synthetic"
	"genstudio/internal/providers/taskapi"
	"genstudio/internal/storage"
)

// Stack is everything an orchestrator needs. Database backed parts are nil
// when DATABASE_URL is not set.
type Stack struct {
	Config      *infra.Config
	Logger      zerolog.Logger
	Pool        *pgxpool.Pool
	Credentials *credentials.Store
	Artifacts   *repo.ArtifactRepository
	Files       *storage.FileStore
	Provider    domain.ProviderClient
	Store       domain.ArtifactStore
	Registry    *prometheus.Registry
	Metrics     *generation.Metrics
	// PersistTimeout covers a full mirror download plus the database insert.
	PersistTimeout time.Duration
}

func Build(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (*Stack, error) {
	s := &Stack{Config: cfg, Logger: logger, Registry: prometheus.NewRegistry()}
	s.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	s.Metrics = generation.NewMetrics(s.Registry)

	if cfg.DatabaseURL != "" {
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s.Pool = pool
		runner := infra.NewSQLRunner(pool, logger)
		s.Credentials = credentials.NewStore(runner)
		s.Artifacts = repo.NewArtifactRepository(runner)
	} else {
		logger.Warn().Msg("bootstrap: DATABASE_URL not set, artifacts are not recorded")
	}

	provider, err := NewProvider(ctx, cfg, s.Credentials, logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Provider = provider

	files, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Files = files

	var next domain.ArtifactStore
	if s.Artifacts != nil {
		next = s.Artifacts
	}
	switch {
	case cfg.MirrorArtifacts:
		mirror, err := storage.NewMirrorStore(storage.MirrorOptions{
			Files:         files,
			PublicBaseURL: cfg.StorageBaseURL,
			Next:          next,
			Logger:        &logger,
		})
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Store = mirror
		s.PersistTimeout = storage.DownloadTimeout + 30*time.Second
	case next != nil:
		s.Store = next
	}
	return s, nil
}

// NewOrchestrator builds an orchestrator over the shared provider, store and
// metrics.
func (s *Stack) NewOrchestrator() (*generation.Orchestrator, error) {
	return generation.New(generation.Options{
		Provider:       s.Provider,
		Store:          s.Store,
		PollInterval:   s.Config.PollInterval,
		PollJitter:     s.Config.PollJitter,
		WaitBudgets:    WaitBudgets(s.Config),
		PersistTimeout: s.PersistTimeout,
		Logger:         &s.Logger,
		Metrics:        s.Metrics,
	})
}

func (s *Stack) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// WaitBudgets converts the configured per-kind budgets.
func WaitBudgets(cfg *infra.Config) map[domain.Kind]time.Duration {
	out := make(map[domain.Kind]time.Duration, len(cfg.WaitBudgets))
	for name, d := range cfg.WaitBudgets {
		if kind, ok := domain.ParseKind(name); ok && d > 0 {
			out[kind] = d
		}
	}
	return out
}

// NewProvider registers the configured backend first, so it serves every
// kind without a route, then the backends named by kind routes.
func NewProvider(ctx context.Context, cfg *infra.Config, creds *credentials.Store, logger zerolog.Logger) (*router.Router, error) {
	r := router.New()
	names := []string{cfg.ProviderBackend}
	for _, kind := range domain.Kinds {
		if b, ok := cfg.KindRoutes[string(kind)]; ok && !contains(names, b) {
			names = append(names, b)
		}
	}
	for _, name := range names {
		client, err := newBackend(ctx, name, cfg, creds, logger)
		if err != nil {
			return nil, err
		}
		if err := r.Register(name, client); err != nil {
			return nil, err
		}
	}
	for _, kind := range domain.Kinds {
		if b, ok := cfg.KindRoutes[string(kind)]; ok {
			if err := r.Route(kind, b); err != nil {
				return nil, err
			}
		}
	}
	logger.Info().Strs("backends", r.Backends()).Msg("bootstrap: provider backends ready")
	return r, nil
}

func newBackend(ctx context.Context, name string, cfg *infra.Config, creds *credentials.Store, logger zerolog.Logger) (domain.ProviderClient, error) {
	switch name {
	case infra.BackendTaskAPI:
		key, err := creds.Resolve(ctx, credentials.ProviderTaskAPI, cfg.TaskAPIKey)
		if err != nil {
			return nil, err
		}
		return taskapi.NewClient(taskapi.Options{BaseURL: cfg.TaskAPIBaseURL, APIKey: key, Logger: &logger})
	case infra.BackendDashScope:
		key, err := creds.Resolve(ctx, credentials.ProviderDashScope, cfg.DashScopeAPIKey)
		if err != nil {
			return nil, err
		}
		client, err := qwen.NewClient(qwen.Options{APIKey: key, BaseURL: cfg.DashScopeBaseURL, Logger: &logger})
		if err != nil {
			return nil, err
		}
		if !client.HasCredentials() {
			logger.Warn().Msg("bootstrap: dashscope backend has no API key, submits will be rejected")
		}
		return client, nil
	case infra.BackendSynthetic:
		return synthetic.New(synthetic.Options{CDNBase: cfg.SyntheticCDNBase, Polls: cfg.SyntheticPolls}), nil
	}
	return nil, fmt.Errorf("bootstrap: unknown backend %q", name)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
