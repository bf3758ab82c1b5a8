package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"genstudio/internal/domain"
	"genstudio/internal/generation"
	"genstudio/internal/http/handlers"
	"genstudio/internal/providers/synthetic"
	"genstudio/internal/session"
)

type fakeLister struct {
	owner string
	items []domain.Artifact
}

func (f *fakeLister) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]domain.Artifact, error) {
	f.owner = ownerID
	return f.items, nil
}

type testEnv struct {
	srv      *httptest.Server
	sessions *session.Manager
}

func newTestEnv(t *testing.T, polls int, lister domain.ArtifactLister) *testEnv {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics := generation.NewMetrics(reg)
	provider := synthetic.New(synthetic.Options{Polls: polls, CDNBase: "https://cdn.test"})
	sessions, err := session.NewManager(session.Options{
		Factory: func() (*generation.Orchestrator, error) {
			return generation.New(generation.Options{
				Provider:     provider,
				PollInterval: 2 * time.Millisecond,
				Metrics:      metrics,
			})
		},
	})
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	app, err := handlers.NewApp(handlers.AppOptions{Sessions: sessions, Artifacts: lister, Gatherer: reg})
	if err != nil {
		t.Fatalf("app: %v", err)
	}
	srv := httptest.NewServer(NewRouter(app, Deps{DefaultLocale: "en"}))
	t.Cleanup(func() {
		sessions.CloseAll()
		srv.Close()
	})
	return &testEnv{srv: srv, sessions: sessions}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, header map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, buf.Bytes()
}

func (e *testEnv) openSession(t *testing.T) string {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/v1/sessions", nil, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("open session status = %d: %s", resp.StatusCode, body)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.ID == "" {
		t.Fatalf("decode session: %v %s", err, body)
	}
	return out.ID
}

func decodeTask(t *testing.T, body []byte) domain.GenerationTask {
	t.Helper()
	var task domain.GenerationTask
	if err := json.Unmarshal(body, &task); err != nil {
		t.Fatalf("decode task: %v (%s)", err, body)
	}
	return task
}

func TestGenerationLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t, 2, nil)
	sid := env.openSession(t)

	resp, body := env.do(t, http.MethodPost, "/v1/sessions/"+sid+"/generations", map[string]any{
		"kind":    "image",
		"prompt":  "a red fox",
		"user_id": "user-1",
	}, map[string]string{"Accept-Language": "id-ID,en;q=0.8"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit status = %d: %s", resp.StatusCode, body)
	}
	task := decodeTask(t, body)
	if task.ID == "" || task.Status == domain.StatusSubmitting || task.Status == domain.StatusFailed {
		t.Fatalf("submitted task = %+v", task)
	}
	if task.Owner.Locale != "id" || task.Owner.Country != "ID" {
		t.Fatalf("owner = %+v, want locale id country ID", task.Owner)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, body = env.do(t, http.MethodGet, "/v1/sessions/"+sid+"/generations/"+task.ID, nil, nil)
		if resp.StatusCode == http.StatusOK {
			if got := decodeTask(t, body); got.Status == domain.StatusCompleted {
				if len(got.ResultURLs) != 4 {
					t.Fatalf("result urls = %v", got.ResultURLs)
				}
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("task never completed, last response %d: %s", resp.StatusCode, body)
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, body = env.do(t, http.MethodGet, "/v1/sessions/"+sid+"/generations", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	var list struct {
		Items []domain.GenerationTask `json:"items"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].ID != task.ID {
		t.Fatalf("list = %+v", list.Items)
	}
}

func TestSubmitErrors(t *testing.T) {
	env := newTestEnv(t, 2, nil)
	sid := env.openSession(t)

	tests := []struct {
		name string
		path string
		body any
		want int
		code string
	}{
		{"missing prompt", "/v1/sessions/" + sid + "/generations", map[string]any{"kind": "image", "user_id": "u"}, http.StatusBadRequest, "rejected"},
		{"provider refusal", "/v1/sessions/" + sid + "/generations", map[string]any{"kind": "image", "prompt": "reject", "user_id": "u"}, http.StatusBadRequest, "rejected"},
		{"unknown kind", "/v1/sessions/" + sid + "/generations", map[string]any{"kind": "hologram", "prompt": "x", "user_id": "u"}, http.StatusBadRequest, "bad_request"},
		{"bad json", "/v1/sessions/" + sid + "/generations", "not an object", http.StatusBadRequest, "bad_request"},
		{"unknown session", "/v1/sessions/nope/generations", map[string]any{"kind": "image", "prompt": "x", "user_id": "u"}, http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodPost, tt.path, tt.body, nil)
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d: %s", resp.StatusCode, tt.want, body)
			}
			var errBody struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal(body, &errBody); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if errBody.Error != tt.code {
				t.Fatalf("error = %q, want %q", errBody.Error, tt.code)
			}
		})
	}
}

func TestCancelGeneration(t *testing.T) {
	env := newTestEnv(t, 1000, nil)
	sid := env.openSession(t)
	_, body := env.do(t, http.MethodPost, "/v1/sessions/"+sid+"/generations", map[string]any{
		"kind": "music", "prompt": "lofi", "user_id": "u",
	}, nil)
	task := decodeTask(t, body)

	resp, body := env.do(t, http.MethodDelete, "/v1/sessions/"+sid+"/generations/"+task.ID, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d: %s", resp.StatusCode, body)
	}
	var out struct {
		Cancelled bool                  `json:"cancelled"`
		Task      domain.GenerationTask `json:"task"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Cancelled || out.Task.Status != domain.StatusCancelledLocally {
		t.Fatalf("cancel response = %+v", out)
	}

	resp, _ = env.do(t, http.MethodDelete, "/v1/sessions/"+sid+"/generations/unknown", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("cancel unknown status = %d", resp.StatusCode)
	}
}

func TestDeleteSessionTearsDown(t *testing.T) {
	env := newTestEnv(t, 1000, nil)
	sid := env.openSession(t)
	for i := 0; i < 2; i++ {
		resp, body := env.do(t, http.MethodPost, "/v1/sessions/"+sid+"/generations", map[string]any{
			"kind": "voice", "prompt": "hello", "user_id": "u",
		}, nil)
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("submit status = %d: %s", resp.StatusCode, body)
		}
	}

	resp, body := env.do(t, http.MethodDelete, "/v1/sessions/"+sid, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d: %s", resp.StatusCode, body)
	}
	var out map[string]int
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["cancelled"] != 2 {
		t.Fatalf("cancelled = %d, want 2", out["cancelled"])
	}
	resp, _ = env.do(t, http.MethodGet, "/v1/sessions/"+sid+"/generations", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("list after delete status = %d", resp.StatusCode)
	}
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t, 2, nil)
	sid := env.openSession(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, env.srv.URL+"/v1/sessions/"+sid+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	lines := bufio.NewScanner(resp.Body)
	if !lines.Scan() || lines.Text() != ": connected" {
		t.Fatalf("first line = %q", lines.Text())
	}

	submit, body := env.do(t, http.MethodPost, "/v1/sessions/"+sid+"/generations", map[string]any{
		"kind": "image", "prompt": "a red fox", "user_id": "u",
	}, nil)
	if submit.StatusCode != http.StatusAccepted {
		t.Fatalf("submit status = %d: %s", submit.StatusCode, body)
	}

	var statuses []domain.Status
	for lines.Scan() {
		line := lines.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev generation.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		statuses = append(statuses, ev.Task.Status)
		if ev.Task.Status.Terminal() {
			if ev.Task.Status != domain.StatusCompleted {
				t.Fatalf("terminal status = %s", ev.Task.Status)
			}
			return
		}
	}
	t.Fatalf("stream ended before completion, saw %v: %v", statuses, lines.Err())
}

func TestArtifactsList(t *testing.T) {
	env := newTestEnv(t, 2, nil)
	resp, _ := env.do(t, http.MethodGet, "/v1/artifacts?owner_id=u", nil, nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("without store status = %d", resp.StatusCode)
	}

	lister := &fakeLister{items: []domain.Artifact{{TaskID: "T1", OwnerID: "u", URL: "https://cdn.test/a.png", Kind: domain.KindImage}}}
	env = newTestEnv(t, 2, lister)
	resp, _ = env.do(t, http.MethodGet, "/v1/artifacts", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing owner status = %d", resp.StatusCode)
	}
	resp, body := env.do(t, http.MethodGet, "/v1/artifacts?owner_id=u&limit=5", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var out struct {
		Items []domain.Artifact `json:"items"`
		Limit int               `json:"limit"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if lister.owner != "u" || out.Limit != 5 || len(out.Items) != 1 || out.Items[0].TaskID != "T1" {
		t.Fatalf("artifacts = %+v (owner %q)", out, lister.owner)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, 2, nil)
	env.openSession(t)

	resp, body := env.do(t, http.MethodGet, "/v1/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"sessions":1`) {
		t.Fatalf("health = %d %s", resp.StatusCode, body)
	}
	if rid := resp.Header.Get("X-Request-ID"); rid == "" {
		t.Fatalf("missing request id header")
	}

	resp, body = env.do(t, http.MethodGet, "/metrics", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "genstudio_tasks_in_flight") {
		t.Fatalf("metrics missing gauge:\n%s", body)
	}
}
