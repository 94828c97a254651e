package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// ProfileService upserts the user's positioning profile, one row per user.
type ProfileService struct {
	db *sql.DB
}

// NewProfileService creates the service.
func NewProfileService(db *sql.DB) *ProfileService {
	return &ProfileService{db: db}
}

// Upsert writes the positioning data, bumping the version on conflict.
func (s *ProfileService) Upsert(ctx context.Context, userID string, positioningData map[string]any) error {
	data, err := json.Marshal(positioningData)
	if err != nil {
		return fmt.Errorf("failed to marshal positioning data: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO positioning_profiles (user_id, positioning_data, version, updated_at)
		VALUES ($1, $2, 1, now())
		ON CONFLICT (user_id)
		DO UPDATE SET positioning_data = $2, version = positioning_profiles.version + 1, updated_at = now()`,
		userID, data)
	if err != nil {
		return fmt.Errorf("failed to upsert positioning profile: %w", err)
	}
	return nil
}

// Get loads the user's positioning data, or nil when absent.
func (s *ProfileService) Get(ctx context.Context, userID string) (map[string]any, int, error) {
	var data []byte
	var version int
	err := s.db.QueryRowContext(ctx, `
		SELECT positioning_data, version FROM positioning_profiles WHERE user_id = $1`,
		userID).Scan(&data, &version)
	if err == sql.ErrNoRows {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load positioning profile: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, 0, fmt.Errorf("failed to decode positioning profile: %w", err)
	}
	return out, version, nil
}
