package credentials

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type stubExecutor struct {
	token     string
	providers []string
	tag       pgconn.CommandTag
	err       error
	queried int
	exec    struct {
		query string
		args  []any
	}
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.exec.query = query
	s.exec.args = args
	return s.tag, s.err
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	s.queried++
	return stubRow{token: s.token, providers: s.providers, err: s.err}
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

type stubRow struct {
	token     string
	providers []string
	err       error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) == 0 {
		return errors.New("no dest")
	}
	switch ptr := dest[0].(type) {
	case *string:
		*ptr = r.token
	case *[]string:
		*ptr = r.providers
	default:
		return errors.New("invalid dest")
	}
	return nil
}

func TestToken(t *testing.T) {
	store := NewStore(&stubExecutor{token: " sk-qwen "})
	key, err := store.Token(context.Background(), ProviderDashScope)
	if err != nil {
		t.Fatalf("Token error: %v", err)
	}
	if key != "sk-qwen" {
		t.Fatalf("expected sk-qwen, got %q", key)
	}
}

func TestToken_NoRows(t *testing.T) {
	store := NewStore(&stubExecutor{err: pgx.ErrNoRows})
	key, err := store.Token(context.Background(), ProviderTaskAPI)
	if err != nil {
		t.Fatalf("Token error: %v", err)
	}
	if key != "" {
		t.Fatalf("expected empty key, got %q", key)
	}
}

func TestResolvePrefersEnvironment(t *testing.T) {
	exec := &stubExecutor{token: "stored"}
	store := NewStore(exec)
	key, err := store.Resolve(context.Background(), ProviderTaskAPI, " from-env ")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if key != "from-env" || exec.queried != 0 {
		t.Fatalf("key = %q queried = %d, want env key without query", key, exec.queried)
	}
	key, err = store.Resolve(context.Background(), ProviderTaskAPI, "")
	if err != nil || key != "stored" {
		t.Fatalf("fallback = %q, %v", key, err)
	}

	var none *Store
	if key, err := none.Resolve(context.Background(), ProviderTaskAPI, ""); err != nil || key != "" {
		t.Fatalf("nil store = %q, %v", key, err)
	}
}

func TestSetToken(t *testing.T) {
	exec := &stubExecutor{}
	store := NewStore(exec)
	if err := store.SetToken(context.Background(), "DashScope", "secret"); err != nil {
		t.Fatalf("SetToken error: %v", err)
	}
	if len(exec.exec.args) != 3 {
		t.Fatalf("expected 3 args, got %d", len(exec.exec.args))
	}
	if v, ok := exec.exec.args[0].(string); !ok || v != ProviderDashScope {
		t.Fatalf("expected dashscope provider, got %T %v", exec.exec.args[0], exec.exec.args[0])
	}
	if v, ok := exec.exec.args[1].(string); !ok || v != "secret" {
		t.Fatalf("expected secret argument, got %T %v", exec.exec.args[1], exec.exec.args[1])
	}
}

func TestSetTokenRejectsInput(t *testing.T) {
	store := NewStore(&stubExecutor{})
	if err := store.SetToken(context.Background(), ProviderTaskAPI, " "); err == nil {
		t.Fatal("expected error for empty key")
	}
	if err := store.SetToken(context.Background(), "gemini", "secret"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestProviders(t *testing.T) {
	store := NewStore(&stubExecutor{providers: []string{ProviderDashScope, ProviderTaskAPI}})
	got, err := store.Providers(context.Background())
	if err != nil {
		t.Fatalf("Providers error: %v", err)
	}
	if len(got) != 2 || got[0] != ProviderDashScope {
		t.Fatalf("providers = %v", got)
	}
}

func TestDelete(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		tag      string
		want     bool
		wantErr  bool
	}{
		{"removed", "TaskAPI", "DELETE 1", true, false},
		{"nothing stored", ProviderDashScope, "DELETE 0", false, false},
		{"unknown provider", "gemini", "", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &stubExecutor{tag: pgconn.NewCommandTag(tt.tag)}
			got, err := NewStore(exec).Delete(context.Background(), tt.provider)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Delete err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("Delete = %v, want %v", got, tt.want)
			}
			if !tt.wantErr && exec.exec.args[0] != strings.ToLower(tt.provider) {
				t.Fatalf("provider arg = %v", exec.exec.args[0])
			}
		})
	}
}
