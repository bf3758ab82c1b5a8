// Package synthetic is an in-process provider for running without
// credentials. Tasks walk through queued and processing and complete with
// deterministic URLs.
package synthetic

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"genstudio/internal/domain"
)

// Outcome overrides, read from Payload.Style["synthetic_outcome"].
const (
	OutcomeFail  = "fail"
	OutcomeEmpty = "empty"
	OutcomeStall = "stall"
)

type Options struct {
	CDNBase string
	// Polls is the number of status checks before a task completes.
	Polls int
	// TTL bounds how long a task that never reached its final poll (stalled,
	// or abandoned by its poller) is kept. Defaults to one hour.
	TTL   time.Duration
	Clock func() time.Time
}

type task struct {
	created time.Time
	kind    domain.Kind
	polls   int
	outcome string
	images  int
}

// Provider implements domain.ProviderClient in memory.
type Provider struct {
	cdnBase string
	polls   int
	ttl     time.Duration
	now     func() time.Time

	mu    sync.Mutex
	tasks map[string]*task
}

func New(opts Options) *Provider {
	polls := opts.Polls
	if polls < 1 {
		polls = 3
	}
	base := strings.TrimRight(strings.TrimSpace(opts.CDNBase), "/")
	if base == "" {
		base = "https://cdn.genstudio.local"
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Provider{cdnBase: base, polls: polls, ttl: ttl, now: now, tasks: make(map[string]*task)}
}

// Len returns the number of tasks held in memory.
func (p *Provider) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks)
}

func (p *Provider) sweepLocked(now time.Time) {
	for id, t := range p.tasks {
		if now.Sub(t.created) > p.ttl {
			delete(p.tasks, id)
		}
	}
}

func (p *Provider) Create(ctx context.Context, kind domain.Kind, payload domain.Payload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.EqualFold(strings.TrimSpace(payload.Prompt), "reject") {
		return "", fmt.Errorf("synthetic: prompt refused")
	}
	now := p.now()
	t := &task{created: now, kind: kind, images: 1}
	if s, ok := payload.Style["synthetic_outcome"].(string); ok {
		t.outcome = strings.ToLower(strings.TrimSpace(s))
	}
	if kind == domain.KindImage {
		t.images = 4
	}
	id := "syn-" + uuid.NewString()
	p.mu.Lock()
	p.sweepLocked(now)
	p.tasks[id] = t
	p.mu.Unlock()
	return id, nil
}

func (p *Provider) CheckStatus(ctx context.Context, taskID string) (domain.StatusReport, error) {
	if err := ctx.Err(); err != nil {
		return domain.StatusReport{}, err
	}
	p.mu.Lock()
	t, ok := p.tasks[taskID]
	if !ok {
		p.mu.Unlock()
		return domain.StatusReport{}, fmt.Errorf("synthetic: task %s: %w", taskID, domain.ErrNotFound)
	}
	t.polls++
	n, kind, outcome, images := t.polls, t.kind, t.outcome, t.images
	if n >= p.polls && outcome != OutcomeStall {
		delete(p.tasks, taskID)
	}
	p.mu.Unlock()

	switch {
	case n == 1 && p.polls > 1:
		return report("queued", nil), nil
	case n < p.polls || outcome == OutcomeStall:
		return report("processing", map[string]any{"progress": fmt.Sprintf("%d%%", n*100/p.polls)}), nil
	}
	switch outcome {
	case OutcomeFail:
		return report("failed", map[string]any{"error": map[string]any{"message": "synthetic failure"}}), nil
	case OutcomeEmpty:
		return report("completed", nil), nil
	}
	urls := make([]any, 0, images)
	for i := 0; i < images; i++ {
		urls = append(urls, fmt.Sprintf("%s/%s/%s/%d%s", p.cdnBase, kind, taskID, i, extension(kind)))
	}
	return report("completed", map[string]any{"output": map[string]any{"urls": urls}}), nil
}

func report(status string, extra map[string]any) domain.StatusReport {
	raw := map[string]any{"status": status}
	for k, v := range extra {
		raw[k] = v
	}
	return domain.StatusReport{Raw: raw}
}

func extension(kind domain.Kind) string {
	switch kind {
	case domain.KindVideo:
		return ".mp4"
	case domain.KindVoice, domain.KindMusic:
		return ".mp3"
	default:
		return ".png"
	}
}

var _ domain.ProviderClient = (*Provider)(nil)
