package domain

import "time"

// Artifact is a completed generation persisted against an owner.
type Artifact struct {
	ID        string    `json:"id,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	OwnerID   string    `json:"owner_id"`
	PersonaID string    `json:"persona_id,omitempty"`
	Prompt    string    `json:"prompt"`
	URL       string    `json:"url"`
	Kind      Kind      `json:"kind"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// StatusReport is one provider answer to a status check. Raw keeps the
// provider payload as decoded JSON so the normalizer can probe it.
type StatusReport struct {
	Status string
	Raw    map[string]any
}
