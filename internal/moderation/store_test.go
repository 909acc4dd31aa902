package moderation

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"
)

// newTestStore connects to the database named by DATABASE_URL and cleans up
// test rows. Tests that call this helper require a migrated Postgres.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	t.Cleanup(func() {
		db.Exec("DELETE FROM moderation_decisions WHERE content_type = 'test'")
		db.Close()
	})
	return NewStore(db)
}

func TestInsertDecisionFillsIDAndTimestamp(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := &DecisionRecord{
		ContentType:   "test",
		UserID:        42,
		OriginalText:  "hello",
		Action:        ActionApproved,
		ToxicityLevel: ToxicityLow,
		Source:        SourceRuleBased,
	}
	if err := store.InsertDecision(ctx, rec); err != nil {
		t.Fatalf("InsertDecision() error: %v", err)
	}
	if rec.ID == 0 {
		t.Error("expected ID to be filled")
	}
	if rec.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be filled")
	}
}

func TestInsertDecisionFlagged(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := &DecisionRecord{
		ContentType:   "test",
		UserID:        42,
		OriginalText:  "hostile content",
		Action:        ActionFlagged,
		Reason:        "harassment",
		ToxicityLevel: ToxicityHigh,
		Source:        SourceAI,
	}
	if err := store.InsertDecision(ctx, rec); err != nil {
		t.Fatalf("InsertDecision() error: %v", err)
	}
}

func TestLinkContentFillsContentID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := &DecisionRecord{
		ContentType:   "test",
		UserID:        42,
		OriginalText:  "hello",
		Action:        ActionApproved,
		ToxicityLevel: ToxicityLow,
		Source:        SourceRuleBased,
	}
	if err := store.InsertDecision(ctx, rec); err != nil {
		t.Fatalf("InsertDecision() error: %v", err)
	}

	if err := store.LinkContent(ctx, rec.ID, 9001); err != nil {
		t.Fatalf("LinkContent() error: %v", err)
	}

	var contentID sql.NullInt64
	err := store.db.QueryRowContext(ctx,
		"SELECT content_id FROM moderation_decisions WHERE id = $1", rec.ID,
	).Scan(&contentID)
	if err != nil {
		t.Fatalf("read back decision row: %v", err)
	}
	if !contentID.Valid || contentID.Int64 != 9001 {
		t.Errorf("expected content_id 9001, got %+v", contentID)
	}
}

func TestCountByAction(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rec := &DecisionRecord{
			ContentType:   "test",
			UserID:        77,
			OriginalText:  "masked text",
			Action:        ActionFiltered,
			ToxicityLevel: ToxicityMedium,
			Source:        SourceRuleBased,
		}
		if err := store.InsertDecision(ctx, rec); err != nil {
			t.Fatalf("InsertDecision() error: %v", err)
		}
	}

	count, err := store.CountByAction(ctx, ActionFiltered, 77)
	if err != nil {
		t.Fatalf("CountByAction() error: %v", err)
	}
	if count < 3 {
		t.Errorf("expected at least 3 filtered decisions for user 77, got %d", count)
	}
}
