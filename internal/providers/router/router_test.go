package router

import (
	"context"
	"errors"
	"testing"

	"genstudio/internal/domain"
)

type fakeBackend struct {
	id      string
	checked []string
	created []domain.Payload
}

func (f *fakeBackend) Create(ctx context.Context, kind domain.Kind, payload domain.Payload) (string, error) {
	f.created = append(f.created, payload)
	return f.id, nil
}

func (f *fakeBackend) CheckStatus(ctx context.Context, taskID string) (domain.StatusReport, error) {
	f.checked = append(f.checked, taskID)
	return domain.StatusReport{Status: "processing"}, nil
}

func TestRouterNamespacesIDs(t *testing.T) {
	images := &fakeBackend{id: "img:7"}
	videos := &fakeBackend{id: "v-1"}
	r := New()
	if err := r.Register("taskapi", images); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register("dashscope", videos); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Route(domain.KindVideo, "dashscope"); err != nil {
		t.Fatalf("route: %v", err)
	}

	ctx := context.Background()
	imgID, _ := r.Create(ctx, domain.KindImage, domain.Payload{})
	vidID, _ := r.Create(ctx, domain.KindVideo, domain.Payload{})
	if imgID != "taskapi:img:7" || vidID != "dashscope:v-1" {
		t.Fatalf("ids = %q %q", imgID, vidID)
	}

	if _, err := r.CheckStatus(ctx, imgID); err != nil {
		t.Fatalf("check: %v", err)
	}
	if _, err := r.CheckStatus(ctx, vidID); err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(images.checked) != 1 || images.checked[0] != "img:7" {
		t.Fatalf("image backend checked %v", images.checked)
	}
	if len(videos.checked) != 1 || videos.checked[0] != "v-1" {
		t.Fatalf("video backend checked %v", videos.checked)
	}
}

func TestRouterErrors(t *testing.T) {
	r := New()
	ctx := context.Background()
	if _, err := r.Create(ctx, domain.KindImage, domain.Payload{}); !errors.Is(err, ErrNoBackend) {
		t.Fatalf("create err = %v", err)
	}
	if err := r.Register("a:b", &fakeBackend{}); err == nil {
		t.Fatalf("expected invalid name error")
	}
	if err := r.Route(domain.KindImage, "missing"); !errors.Is(err, ErrNoBackend) {
		t.Fatalf("route err = %v", err)
	}
	if _, err := r.CheckStatus(ctx, "plain-id"); !errors.Is(err, ErrNoBackend) {
		t.Fatalf("check err = %v", err)
	}
	if _, err := r.CheckStatus(ctx, "other:1"); !errors.Is(err, ErrNoBackend) {
		t.Fatalf("check err = %v", err)
	}
	if err := r.Register("a", &fakeBackend{id: ""}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if id, err := r.Create(ctx, domain.KindImage, domain.Payload{}); err != nil || id != "" {
		t.Fatalf("empty id passthrough = %q, %v", id, err)
	}
}

func TestRouterSendsActionsToParentBackend(t *testing.T) {
	images := &fakeBackend{id: "UP-1"}
	videos := &fakeBackend{id: "V-9"}
	r := New()
	if err := r.Register("taskapi", images); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register("dashscope", videos); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Route(domain.KindAction, "dashscope"); err != nil {
		t.Fatalf("route: %v", err)
	}

	ctx := context.Background()
	parent, err := r.Create(ctx, domain.KindImage, domain.Payload{Prompt: "a red fox"})
	if err != nil {
		t.Fatalf("create parent: %v", err)
	}
	id, err := r.Create(ctx, domain.KindAction, domain.Payload{Action: "upscale", ParentTaskID: parent})
	if err != nil {
		t.Fatalf("create action: %v", err)
	}
	if id != "taskapi:UP-1" {
		t.Fatalf("action id = %q, want %q", id, "taskapi:UP-1")
	}
	if len(images.created) != 2 || images.created[1].ParentTaskID != "UP-1" {
		t.Fatalf("parent backend payloads = %+v", images.created)
	}
	if len(videos.created) != 0 {
		t.Fatalf("routed backend got %d creates", len(videos.created))
	}

	// A parent id without a known backend prefix follows the kind route as is.
	if _, err := r.Create(ctx, domain.KindAction, domain.Payload{Action: "variation", ParentTaskID: "raw:42"}); err != nil {
		t.Fatalf("create action: %v", err)
	}
	if len(videos.created) != 1 || videos.created[0].ParentTaskID != "raw:42" {
		t.Fatalf("routed backend payloads = %+v", videos.created)
	}
}
