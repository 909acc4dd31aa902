package moderation

import (
	"context"
	"database/sql"
	"fmt"
)

// Store persists decision records in PostgreSQL. It implements DecisionStore.
type Store struct {
	db *sql.DB
}

// NewStore creates a decision store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// InsertDecision appends one decision record. Rows are immutable after
// creation; a separate admin review workflow outside this core may
// re-approve flagged rows.
func (s *Store) InsertDecision(ctx context.Context, rec *DecisionRecord) error {
	const query = `
		INSERT INTO moderation_decisions
			(content_type, content_id, user_id, original_text, moderated_text,
			 action, reason, sentiment_score, toxicity_level, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at`

	var contentID sql.NullInt64
	if rec.ContentID != 0 {
		contentID = sql.NullInt64{Int64: rec.ContentID, Valid: true}
	}
	var moderatedText sql.NullString
	if rec.ModeratedText != "" {
		moderatedText = sql.NullString{String: rec.ModeratedText, Valid: true}
	}

	err := s.db.QueryRowContext(ctx, query,
		rec.ContentType,
		contentID,
		rec.UserID,
		rec.OriginalText,
		moderatedText,
		string(rec.Action),
		rec.Reason,
		rec.SentimentScore,
		string(rec.ToxicityLevel),
		string(rec.Source),
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("moderation: insert decision: %w", err)
	}
	return nil
}

// LinkContent fills content_id on a decision record once the content row
// exists. The decision is written before the message (flagged content never
// gets a message row at all), so this back-reference is the one mutation a
// decision record receives from this core.
func (s *Store) LinkContent(ctx context.Context, decisionID, contentID int64) error {
	const query = `
		UPDATE moderation_decisions
		SET content_id = $2
		WHERE id = $1`

	if _, err := s.db.ExecContext(ctx, query, decisionID, contentID); err != nil {
		return fmt.Errorf("moderation: link decision %d to content %d: %w", decisionID, contentID, err)
	}
	return nil
}

// CountByAction returns the number of decision records with the given
// action, optionally bounded to one user (userID 0 means all users). Used
// by operational tooling to gauge filter pressure.
func (s *Store) CountByAction(ctx context.Context, action Action, userID int64) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM moderation_decisions
		WHERE action = $1
		  AND ($2 = 0 OR user_id = $2)`

	var count int
	if err := s.db.QueryRowContext(ctx, query, string(action), userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("moderation: count decisions: %w", err)
	}
	return count, nil
}
