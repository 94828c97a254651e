package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Waconiajohn/resume-agent-sub002/pkg/models"
)

// ArtifactService persists append-only workflow artifacts and their
// current-status projection.
type ArtifactService struct {
	db *sql.DB
}

// NewArtifactService creates the service.
func NewArtifactService(db *sql.DB) *ArtifactService {
	return &ArtifactService{db: db}
}

// Append stores a new artifact version for (session, node), bumping the
// version past the current maximum.
func (s *ArtifactService) Append(ctx context.Context, a *models.WorkflowArtifact) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO workflow_artifacts (session_id, node_key, artifact_type, version, payload, created_by)
		SELECT $1, $2, $3, COALESCE(MAX(version), 0) + 1, $4, $5
		FROM workflow_artifacts WHERE session_id = $1 AND node_key = $2
		RETURNING version`,
		a.SessionID, a.NodeKey, a.ArtifactType, []byte(a.Payload), a.CreatedBy).Scan(&a.Version)
	if err != nil {
		return fmt.Errorf("failed to append artifact %s/%s: %w", a.SessionID, a.NodeKey, err)
	}
	return nil
}

// SetStatus upserts the current-status projection for (session, node).
func (s *ArtifactService) SetStatus(ctx context.Context, sessionID, nodeKey, status string, version int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_artifact_status (session_id, node_key, status, current_version, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (session_id, node_key)
		DO UPDATE SET status = $3, current_version = $4, updated_at = now()`,
		sessionID, nodeKey, status, version)
	if err != nil {
		return fmt.Errorf("failed to set artifact status %s/%s: %w", sessionID, nodeKey, err)
	}
	return nil
}

// LatestByType returns the newest artifact of the given type for a session.
// The restart endpoint uses it to recover the pipeline_start_request.
func (s *ArtifactService) LatestByType(ctx context.Context, sessionID, artifactType string) (*models.WorkflowArtifact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, node_key, artifact_type, version, payload, created_by, created_at
		FROM workflow_artifacts
		WHERE session_id = $1 AND artifact_type = $2
		ORDER BY created_at DESC, version DESC
		LIMIT 1`,
		sessionID, artifactType)

	var a models.WorkflowArtifact
	var payload []byte
	err := row.Scan(&a.SessionID, &a.NodeKey, &a.ArtifactType, &a.Version,
		&payload, &a.CreatedBy, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("artifact %s for session %s: %w", artifactType, sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load artifact %s/%s: %w", sessionID, artifactType, err)
	}
	a.Payload = payload
	return &a, nil
}
