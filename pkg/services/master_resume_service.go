package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/Waconiajohn/resume-agent-sub002/pkg/models"
)

// MaxEvidenceItems caps the evidence library carried on a master resume.
const MaxEvidenceItems = 200

// MasterResumeService persists the cross-session master resume.
type MasterResumeService struct {
	db       *sql.DB
	sessions *SessionService
}

// NewMasterResumeService creates the service.
func NewMasterResumeService(db *sql.DB, sessions *SessionService) *MasterResumeService {
	return &MasterResumeService{db: db, sessions: sessions}
}

// Get loads a master resume scoped to its owner.
func (s *MasterResumeService) Get(ctx context.Context, id, userID string) (*models.MasterResume, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, is_default, version, summary, experience, skills,
		       education, certifications, contact_info, evidence_items,
		       raw_text, source_session_id, updated_at
		FROM master_resumes WHERE id = $1 AND user_id = $2`, id, userID)

	var (
		r                                  models.MasterResume
		experience, skills, education      []byte
		certifications, contact, evidence  []byte
		sourceSession                      sql.NullString
	)
	err := row.Scan(&r.ID, &r.UserID, &r.IsDefault, &r.Version, &r.Summary,
		&experience, &skills, &education, &certifications, &contact,
		&evidence, &r.RawText, &sourceSession, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("master resume %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load master resume %s: %w", id, err)
	}

	for _, dec := range []struct {
		raw []byte
		dst any
	}{
		{experience, &r.Experience},
		{skills, &r.Skills},
		{education, &r.Education},
		{certifications, &r.Certifications},
		{contact, &r.Contact},
		{evidence, &r.EvidenceItems},
	} {
		if len(dec.raw) > 0 {
			if err := json.Unmarshal(dec.raw, dec.dst); err != nil {
				return nil, fmt.Errorf("failed to decode master resume %s: %w", id, err)
			}
		}
	}
	r.SourceSessionID = sourceSession.String
	return &r, nil
}

// Update rewrites an existing row. Returns the number of rows matched: zero
// means the row vanished between load and update and the caller should fall
// through to creation.
func (s *MasterResumeService) Update(ctx context.Context, r *models.MasterResume) (int64, error) {
	cols, err := marshalResumeColumns(r)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE master_resumes SET
			version = version + 1,
			summary = $1, experience = $2, skills = $3, education = $4,
			certifications = $5, contact_info = $6, evidence_items = $7,
			raw_text = $8, updated_at = now()
		WHERE id = $9 AND user_id = $10`,
		r.Summary, cols.experience, cols.skills, cols.education,
		cols.certifications, cols.contact, cols.evidence, r.RawText,
		r.ID, r.UserID)
	if err != nil {
		return 0, fmt.Errorf("failed to update master resume %s: %w", r.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n, nil
}

// CreateAtomic inserts via the stored procedure, which also demotes the
// previous default and links the session row in the same transaction.
func (s *MasterResumeService) CreateAtomic(ctx context.Context, r *models.MasterResume) (string, error) {
	cols, err := marshalResumeColumns(r)
	if err != nil {
		return "", err
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	var id string
	err = s.db.QueryRowContext(ctx, `
		SELECT create_master_resume($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.ID, r.UserID, r.Summary, cols.experience, cols.skills, cols.education,
		cols.certifications, cols.contact, cols.evidence, r.RawText,
		r.SourceSessionID).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to create master resume: %w", err)
	}
	return id, nil
}

// Save implements the best-effort end-of-run persistence protocol:
//
//  1. When the session is linked, load the prior row. Load errors other
//     than not-found skip the save entirely so a transient failure cannot
//     cause a duplicate create.
//  2. When a prior row exists, merge evidence and UPDATE. Zero rows
//     matched means the row was deleted after the load; fall through.
//  3. Otherwise create atomically and re-link the session.
func (s *MasterResumeService) Save(ctx context.Context, session *models.SessionRecord, fresh *models.MasterResume) error {
	fresh.UserID = session.UserID
	fresh.SourceSessionID = session.ID

	if session.MasterResumeID != "" {
		prior, err := s.Get(ctx, session.MasterResumeID, session.UserID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("skipping master resume save, load failed: %w", err)
		}
		if err == nil {
			merged := *prior
			merged.Summary = fresh.Summary
			merged.Experience = fresh.Experience
			merged.Skills = fresh.Skills
			merged.Education = fresh.Education
			merged.Certifications = fresh.Certifications
			merged.Contact = fresh.Contact
			merged.RawText = fresh.RawText
			merged.EvidenceItems = MergeEvidence(prior.EvidenceItems, fresh.EvidenceItems, MaxEvidenceItems)

			n, err := s.Update(ctx, &merged)
			if err != nil {
				return err
			}
			if n > 0 {
				return nil
			}
			slog.Warn("Master resume row vanished between load and update, creating fresh",
				"resume_id", session.MasterResumeID, "session_id", session.ID)
		}
	}

	id, err := s.CreateAtomic(ctx, fresh)
	if err != nil {
		return err
	}
	if err := s.sessions.LinkMasterResume(ctx, session.ID, id); err != nil {
		return err
	}
	return nil
}

// MergeEvidence combines prior and new evidence, deduping on normalized
// text with existing items keeping their position, bounded to limit with
// the newest items surviving.
func MergeEvidence(existing, incoming []models.EvidenceItem, limit int) []models.EvidenceItem {
	seen := make(map[string]bool, len(existing)+len(incoming))
	merged := make([]models.EvidenceItem, 0, len(existing)+len(incoming))
	for _, it := range existing {
		key := normalizeEvidenceText(it.Text)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, it)
	}
	for _, it := range incoming {
		key := normalizeEvidenceText(it.Text)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, it)
	}
	if len(merged) > limit {
		merged = merged[len(merged)-limit:]
	}
	return merged
}

func normalizeEvidenceText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

type resumeColumns struct {
	experience, skills, education, certifications, contact, evidence []byte
}

func marshalResumeColumns(r *models.MasterResume) (*resumeColumns, error) {
	var cols resumeColumns
	for _, enc := range []struct {
		dst *[]byte
		src any
	}{
		{&cols.experience, orEmptySlice(r.Experience)},
		{&cols.skills, orEmptyMap(r.Skills)},
		{&cols.education, orEmptySlice(r.Education)},
		{&cols.certifications, orEmptySlice(r.Certifications)},
		{&cols.contact, r.Contact},
		{&cols.evidence, orEmptySlice(r.EvidenceItems)},
	} {
		b, err := json.Marshal(enc.src)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal master resume column: %w", err)
		}
		*enc.dst = b
	}
	return &cols, nil
}

func orEmptySlice[T any](s []T) any {
	if s == nil {
		return []T{}
	}
	return s
}

func orEmptyMap[K comparable, V any](m map[K]V) any {
	if m == nil {
		return map[K]V{}
	}
	return m
}
