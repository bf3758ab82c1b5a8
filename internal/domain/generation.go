package domain

import (
	"strings"
	"time"
)

// Kind enumerates supported generation categories.
type Kind string

const (
	KindImage  Kind = "image"
	KindVideo  Kind = "video"
	KindVoice  Kind = "voice"
	KindMusic  Kind = "music"
	KindBlend  Kind = "blend"
	KindAction Kind = "action"
)

// Kinds lists every supported kind in a stable order.
var Kinds = []Kind{KindImage, KindVideo, KindVoice, KindMusic, KindBlend, KindAction}

// ParseKind resolves a case-insensitive kind name.
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", false
	}
	return k, true
}

// Valid reports whether k is one of the supported kinds.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Status enumerates the lifecycle states of a generation task.
type Status string

const (
	StatusSubmitting       Status = "Submitting"
	StatusPending          Status = "Pending"
	StatusProcessing       Status = "Processing"
	StatusCompleted        Status = "Completed"
	StatusFailed           Status = "Failed"
	StatusCancelledLocally Status = "CancelledLocally"
)

// Terminal reports whether no further polling happens in this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelledLocally:
		return true
	default:
		return false
	}
}

// Awaiting reports whether the task is waiting on the provider.
func (s Status) Awaiting() bool {
	return s == StatusPending || s == StatusProcessing
}

// OwnerContext identifies who a generation belongs to.
type OwnerContext struct {
	UserID    string `json:"user_id"`
	PersonaID string `json:"persona_id,omitempty"`
	Locale    string `json:"locale,omitempty"`
	Country   string `json:"country,omitempty"`
}

// Payload carries the kind-specific generation parameters.
type Payload struct {
	Prompt         string         `json:"prompt,omitempty"`
	NegativePrompt string         `json:"negative_prompt,omitempty"`
	ReferenceURLs  []string       `json:"reference_urls,omitempty"`
	AspectRatio    string         `json:"aspect_ratio,omitempty"`
	Style          map[string]any `json:"style,omitempty"`

	// Action, ParentTaskID and OriginPrompt are only meaningful for
	// KindAction requests (upscale, variation, reroll...).
	Action       string `json:"action,omitempty"`
	ParentTaskID string `json:"parent_task_id,omitempty"`
	OriginPrompt string `json:"origin_prompt,omitempty"`
}

// GenerationRequest is the immutable input of a submission.
type GenerationRequest struct {
	Kind    Kind         `json:"kind"`
	Payload Payload      `json:"payload"`
	Owner   OwnerContext `json:"owner"`
}

// GenerationTask is the tracked lifecycle of one submitted request.
type GenerationTask struct {
	ID           string       `json:"id,omitempty"`
	LocalKey     string       `json:"local_key"`
	Kind         Kind         `json:"kind"`
	Status       Status       `json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
	LastPolledAt *time.Time   `json:"last_polled_at,omitempty"`
	ResultURLs   []string     `json:"result_urls"`
	Error        *TaskError   `json:"error,omitempty"`
	OriginPrompt string       `json:"origin_prompt"`
	Owner        OwnerContext `json:"owner"`
}

// Key returns the provider id once assigned, otherwise the local key.
func (t GenerationTask) Key() string {
	if t.ID != "" {
		return t.ID
	}
	return t.LocalKey
}

// Clone returns a copy that shares no mutable state with t.
func (t GenerationTask) Clone() GenerationTask {
	out := t
	if t.LastPolledAt != nil {
		at := *t.LastPolledAt
		out.LastPolledAt = &at
	}
	if t.ResultURLs != nil {
		out.ResultURLs = append([]string(nil), t.ResultURLs...)
	}
	if t.Error != nil {
		e := *t.Error
		out.Error = &e
	}
	return out
}

// PrimaryURL returns the artifact shown by default.
func (t GenerationTask) PrimaryURL() string {
	if len(t.ResultURLs) == 0 {
		return ""
	}
	return t.ResultURLs[0]
}
