package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"genstudio/internal/domain"
	"genstudio/internal/infra"
	"genstudio/internal/sqlinline"
)

const maxListLimit = 100

// ArtifactRepository persists completed generation artifacts in PostgreSQL.
type ArtifactRepository struct {
	sql infra.SQLExecutor
}

// NewArtifactRepository constructs a repository over a marker-checked executor.
func NewArtifactRepository(sql infra.SQLExecutor) *ArtifactRepository {
	return &ArtifactRepository{sql: sql}
}

// SaveArtifact inserts the artifact. A second save for the same task id is a
// no-op.
func (r *ArtifactRepository) SaveArtifact(ctx context.Context, a domain.Artifact) error {
	if strings.TrimSpace(a.TaskID) == "" || strings.TrimSpace(a.URL) == "" {
		return errors.New("repo: artifact needs a task id and url")
	}
	tags := a.Tags
	if tags == nil {
		tags = []string{}
	}
	row := r.sql.QueryRow(ctx, sqlinline.QInsertArtifact,
		a.TaskID,
		a.OwnerID,
		a.PersonaID,
		string(a.Kind),
		a.Prompt,
		a.URL,
		tags,
	)
	var id string
	var createdAt time.Time
	if err := row.Scan(&id, &createdAt); err != nil {
		if infra.IsNoRows(err) {
			return nil
		}
		return fmt.Errorf("repo: insert artifact %s: %w", a.TaskID, err)
	}
	return nil
}

// ListByOwner returns the newest artifacts of ownerID first.
func (r *ArtifactRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]domain.Artifact, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.sql.Query(ctx, sqlinline.QListArtifactsByOwner, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("repo: list artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []domain.Artifact
	for rows.Next() {
		var a domain.Artifact
		var kind string
		if err := rows.Scan(&a.ID, &a.TaskID, &a.OwnerID, &a.PersonaID, &kind, &a.Prompt, &a.URL, &a.Tags, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("repo: scan artifact: %w", err)
		}
		a.Kind = domain.Kind(kind)
		artifacts = append(artifacts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo: list artifacts: %w", err)
	}
	return artifacts, nil
}

var (
	_ domain.ArtifactStore  = (*ArtifactRepository)(nil)
	_ domain.ArtifactLister = (*ArtifactRepository)(nil)
)
