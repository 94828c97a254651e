package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Waconiajohn/resume-agent-sub002/pkg/models"
)

// QuestionService persists questionnaire answers, upserted by
// (session_id, question_id).
type QuestionService struct {
	db *sql.DB
}

// NewQuestionService creates the service.
func NewQuestionService(db *sql.DB) *QuestionService {
	return &QuestionService{db: db}
}

// UpsertBatch stores a batch of answers in one transaction.
func (s *QuestionService) UpsertBatch(ctx context.Context, answers []models.QuestionAnswer) error {
	if len(answers) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, a := range answers {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO question_answers (session_id, question_id, question_text, category, answer, skipped, deferred, answered_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now())
			ON CONFLICT (session_id, question_id)
			DO UPDATE SET answer = $5, skipped = $6, deferred = $7, answered_at = now()`,
			a.SessionID, a.QuestionID, a.Question, a.Category, a.Answer, a.Skipped, a.Deferred); err != nil {
			return fmt.Errorf("failed to upsert answer %s: %w", a.QuestionID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit answers: %w", err)
	}
	return nil
}

// Defer marks the listed questions deferred without recording answers.
func (s *QuestionService) Defer(ctx context.Context, sessionID string, questionIDs []string) error {
	for _, id := range questionIDs {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO question_answers (session_id, question_id, deferred, answered_at)
			VALUES ($1, $2, true, now())
			ON CONFLICT (session_id, question_id)
			DO UPDATE SET deferred = true, answered_at = now()`,
			sessionID, id); err != nil {
			return fmt.Errorf("failed to defer question %s: %w", id, err)
		}
	}
	return nil
}

// Transcript returns the session's answered questions in answer order,
// excluding skipped and deferred entries.
func (s *QuestionService) Transcript(ctx context.Context, sessionID string) ([]models.InterviewEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT question_id, question_text, category, COALESCE(answer, '')
		FROM question_answers
		WHERE session_id = $1 AND NOT skipped AND NOT deferred AND answer IS NOT NULL
		ORDER BY answered_at ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transcript: %w", err)
	}
	defer rows.Close()

	var entries []models.InterviewEntry
	for rows.Next() {
		var e models.InterviewEntry
		if err := rows.Scan(&e.QuestionID, &e.QuestionText, &e.Category, &e.Answer); err != nil {
			return nil, fmt.Errorf("failed to scan transcript row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transcript rows: %w", err)
	}
	return entries, nil
}
