package domain

import "context"

// ProviderClient submits generation requests and reports their progress.
// CheckStatus errors are treated as transient by callers.
type ProviderClient interface {
	Create(ctx context.Context, kind Kind, payload Payload) (string, error)
	CheckStatus(ctx context.Context, taskID string) (StatusReport, error)
}

// ArtifactStore persists completed artifacts.
type ArtifactStore interface {
	SaveArtifact(ctx context.Context, artifact Artifact) error
}

// ArtifactLister lists persisted artifacts for an owner.
type ArtifactLister interface {
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]Artifact, error)
}
