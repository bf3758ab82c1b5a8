package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"genstudio/internal/domain"
	"genstudio/internal/infra"
	"genstudio/internal/storage"
)

func testConfig(t *testing.T) *infra.Config {
	t.Helper()
	return &infra.Config{
		ProviderBackend: infra.BackendSynthetic,
		StoragePath:     t.TempDir(),
		SyntheticPolls:  1,
		PollInterval:    time.Millisecond,
		WaitBudgets:     map[string]time.Duration{"image": time.Minute},
		KindRoutes:      map[string]string{},
	}
}

func TestBuildWithoutDatabase(t *testing.T) {
	s, err := Build(context.Background(), testConfig(t), zerolog.Nop())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer s.Close()
	if s.Artifacts != nil || s.Credentials != nil {
		t.Fatalf("database parts should be nil without DATABASE_URL")
	}
	if s.Store != nil {
		t.Fatalf("store = %T, want nil without mirror or database", s.Store)
	}

	orch, err := s.NewOrchestrator()
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	h, err := orch.Submit(context.Background(), domain.GenerationRequest{
		Kind:    domain.KindImage,
		Payload: domain.Payload{Prompt: "a red fox"},
		Owner:   domain.OwnerContext{UserID: "u"},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("task did not finish")
	}
	if got := h.Snapshot(); got.Status != domain.StatusCompleted {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestBuildMirrorStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.MirrorArtifacts = true
	cfg.StorageBaseURL = "http://localhost:8080/static"
	s, err := Build(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer s.Close()
	if s.Store == nil {
		t.Fatalf("expected a mirror store")
	}
	if s.PersistTimeout <= storage.DownloadTimeout {
		t.Fatalf("PersistTimeout = %s, want more than the %s download limit", s.PersistTimeout, storage.DownloadTimeout)
	}
	if _, err := s.NewOrchestrator(); err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
}

func TestNewProviderRegistersRoutedBackends(t *testing.T) {
	cfg := testConfig(t)
	cfg.ProviderBackend = infra.BackendDashScope
	cfg.KindRoutes = map[string]string{"music": infra.BackendSynthetic, "voice": infra.BackendSynthetic}
	r, err := NewProvider(context.Background(), cfg, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	got := r.Backends()
	if len(got) != 2 || got[0] != infra.BackendDashScope || got[1] != infra.BackendSynthetic {
		t.Fatalf("backends = %v", got)
	}
	id, err := r.Create(context.Background(), domain.KindMusic, domain.Payload{Prompt: "lofi"})
	if err != nil {
		t.Fatalf("create music: %v", err)
	}
	if len(id) < 10 || id[:10] != "synthetic:" {
		t.Fatalf("music id = %q, want synthetic namespace", id)
	}
}

func TestWaitBudgetsSkipsUnknownKinds(t *testing.T) {
	got := WaitBudgets(&infra.Config{WaitBudgets: map[string]time.Duration{
		"video":    time.Hour,
		"hologram": time.Minute,
		"image":    0,
	}})
	if len(got) != 1 || got[domain.KindVideo] != time.Hour {
		t.Fatalf("budgets = %v", got)
	}
}
