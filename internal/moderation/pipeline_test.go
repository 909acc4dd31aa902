package moderation

import (
	"context"
	"errors"
	"testing"
)

// fakeClassifier returns a fixed result or error.
type fakeClassifier struct {
	result *ClassifierResult
	err    error
	calls  int
}

func (f *fakeClassifier) Classify(ctx context.Context, content, contentType string) (*ClassifierResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

// fakeDecisionStore records inserted decision rows in memory.
type fakeDecisionStore struct {
	records []*DecisionRecord
	err     error
}

func (f *fakeDecisionStore) InsertDecision(ctx context.Context, rec *DecisionRecord) error {
	if f.err != nil {
		return f.err
	}
	rec.ID = int64(len(f.records) + 1)
	f.records = append(f.records, rec)
	return nil
}

func TestModerateCleanContentApproved(t *testing.T) {
	store := &fakeDecisionStore{}
	p := NewPipeline(PipelineConfig{}, NewFilter(), nil, store, nil)

	d := p.Moderate(context.Background(), "hello world", "message", 1)

	if !d.IsAllowed {
		t.Fatal("expected clean content allowed")
	}
	if d.Action != ActionApproved {
		t.Errorf("expected approved, got %q", d.Action)
	}
	if d.Source != SourceRuleBased {
		t.Errorf("expected rule-based source, got %q", d.Source)
	}
	if d.Content("hello world") != "hello world" {
		t.Errorf("content altered: %q", d.Content("hello world"))
	}
}

func TestModerateStageAMasks(t *testing.T) {
	store := &fakeDecisionStore{}
	p := NewPipeline(PipelineConfig{}, NewFilter(), nil, store, nil)

	d := p.Moderate(context.Background(), "this is a scam", "message", 1)

	if !d.IsAllowed {
		t.Fatal("filtered content must still be allowed")
	}
	if d.Action != ActionFiltered {
		t.Errorf("expected filtered, got %q", d.Action)
	}
	if d.Content("this is a scam") != "this is a ***" {
		t.Errorf("expected masked content, got %q", d.Content("this is a scam"))
	}
	if d.ToxicityLevel != ToxicityMedium {
		t.Errorf("expected toxicity medium, got %q", d.ToxicityLevel)
	}
	if d.Reason != "Inappropriate content detected and filtered" {
		t.Errorf("unexpected reason: %q", d.Reason)
	}
}

func TestModerateStageBDisabledSkipsClassifier(t *testing.T) {
	fc := &fakeClassifier{result: &ClassifierResult{ToxicityLevel: ToxicityLow}}
	p := NewPipeline(PipelineConfig{AIEnabled: false}, NewFilter(), fc, &fakeDecisionStore{}, nil)

	p.Moderate(context.Background(), "hello", "message", 1)

	if fc.calls != 0 {
		t.Errorf("classifier must not run when disabled, got %d calls", fc.calls)
	}
}

func TestModerateStageBFlagOverridesEverything(t *testing.T) {
	fc := &fakeClassifier{result: &ClassifierResult{
		SentimentScore: -0.9,
		ToxicityLevel:  ToxicityHigh,
		ShouldFlag:     true,
		ShouldRewrite:  true,
		ModeratedText:  "softened text",
		Reason:         "targeted harassment",
	}}
	p := NewPipeline(PipelineConfig{AIEnabled: true}, NewFilter(), fc, &fakeDecisionStore{}, nil)

	d := p.Moderate(context.Background(), "some hostile message", "message", 7)

	if d.IsAllowed {
		t.Fatal("flagged content must not be allowed")
	}
	if d.Action != ActionFlagged {
		t.Errorf("expected flagged, got %q", d.Action)
	}
	if d.ModeratedContent != "" {
		t.Errorf("flagged decision must not carry rewritten text, got %q", d.ModeratedContent)
	}
	if d.Reason != "targeted harassment" {
		t.Errorf("unexpected reason: %q", d.Reason)
	}
	if d.Source != SourceAI {
		t.Errorf("expected ai source, got %q", d.Source)
	}
}

func TestModerateStageBRewrite(t *testing.T) {
	fc := &fakeClassifier{result: &ClassifierResult{
		SentimentScore: -0.4,
		ToxicityLevel:  ToxicityMedium,
		ShouldRewrite:  true,
		ModeratedText:  "please calm down",
	}}
	p := NewPipeline(PipelineConfig{AIEnabled: true}, NewFilter(), fc, &fakeDecisionStore{}, nil)

	original := "CALM DOWN RIGHT NOW"
	d := p.Moderate(context.Background(), original, "message", 7)

	if !d.IsAllowed {
		t.Fatal("rewritten content must be allowed")
	}
	if d.Action != ActionRewritten {
		t.Errorf("expected rewritten, got %q", d.Action)
	}
	if d.Content(original) != "please calm down" {
		t.Errorf("expected rewrite delivered, got %q", d.Content(original))
	}
}

func TestModerateStageBScoresAlwaysOverride(t *testing.T) {
	// Classifier approves but grades differently than Stage A.
	fc := &fakeClassifier{result: &ClassifierResult{
		SentimentScore: 0.8,
		ToxicityLevel:  ToxicityLow,
	}}
	p := NewPipeline(PipelineConfig{AIEnabled: true}, NewFilter(), fc, &fakeDecisionStore{}, nil)

	d := p.Moderate(context.Background(), "this is a scam", "message", 7)

	// The Stage A filtering action stands, but the grades come from the AI.
	if d.Action != ActionFiltered {
		t.Errorf("expected filtered action retained, got %q", d.Action)
	}
	if d.SentimentScore != 0.8 {
		t.Errorf("expected sentiment 0.8, got %v", d.SentimentScore)
	}
	if d.ToxicityLevel != ToxicityLow {
		t.Errorf("expected classifier toxicity, got %q", d.ToxicityLevel)
	}
	if d.Source != SourceAI {
		t.Errorf("expected ai source, got %q", d.Source)
	}
}

func TestModerateClassifierFailureFailsOpen(t *testing.T) {
	fc := &fakeClassifier{err: errors.New("service unavailable")}
	p := NewPipeline(PipelineConfig{AIEnabled: true}, NewFilter(), fc, &fakeDecisionStore{}, nil)

	d := p.Moderate(context.Background(), "this is a scam", "message", 7)

	// Fail open: the Stage A result stands, never flagged.
	if !d.IsAllowed {
		t.Fatal("classifier failure must never block content")
	}
	if d.Action != ActionFiltered {
		t.Errorf("expected Stage A filtered result, got %q", d.Action)
	}
	if d.Source != SourceRuleBased {
		t.Errorf("expected rule-based source after fallback, got %q", d.Source)
	}
}

func TestModerateClassifierFailureOnCleanContent(t *testing.T) {
	fc := &fakeClassifier{err: errors.New("timeout")}
	p := NewPipeline(PipelineConfig{AIEnabled: true}, NewFilter(), fc, &fakeDecisionStore{}, nil)

	d := p.Moderate(context.Background(), "hello", "message", 7)

	if !d.IsAllowed || d.Action != ActionApproved {
		t.Errorf("expected approved on classifier failure, got allowed=%v action=%q", d.IsAllowed, d.Action)
	}
}

func TestModerateRecordsDecisionForEveryInvocation(t *testing.T) {
	store := &fakeDecisionStore{}
	fc := &fakeClassifier{result: &ClassifierResult{ShouldFlag: true, ToxicityLevel: ToxicityHigh}}
	p := NewPipeline(PipelineConfig{AIEnabled: true}, NewFilter(), fc, store, nil)

	p.Moderate(context.Background(), "clean message", "message", 1)
	p.Moderate(context.Background(), "another one", "message", 2)

	if len(store.records) != 2 {
		t.Fatalf("expected a decision row per invocation, got %d", len(store.records))
	}
	rec := store.records[0]
	if rec.Action != ActionFlagged {
		t.Errorf("expected flagged record, got %q", rec.Action)
	}
	if rec.UserID != 1 {
		t.Errorf("expected user 1, got %d", rec.UserID)
	}
	if rec.OriginalText != "clean message" {
		t.Errorf("unexpected original text: %q", rec.OriginalText)
	}
}

func TestModerateDecisionStoreFailureDoesNotBlock(t *testing.T) {
	store := &fakeDecisionStore{err: errors.New("db down")}
	p := NewPipeline(PipelineConfig{}, NewFilter(), nil, store, nil)

	d := p.Moderate(context.Background(), "hello", "message", 1)

	if !d.IsAllowed {
		t.Fatal("a decision-store failure must not block the message")
	}
	if d.RecordID != 0 {
		t.Errorf("expected no record id when the row was not written, got %d", d.RecordID)
	}
}

func TestModerateFillsRecordID(t *testing.T) {
	store := &fakeDecisionStore{}
	p := NewPipeline(PipelineConfig{}, NewFilter(), nil, store, nil)

	d := p.Moderate(context.Background(), "hello", "message", 1)

	if d.RecordID == 0 {
		t.Fatal("expected the decision to carry its record id")
	}
	if d.RecordID != store.records[0].ID {
		t.Errorf("record id mismatch: decision=%d row=%d", d.RecordID, store.records[0].ID)
	}
}

func TestModerateRecordsMaskedText(t *testing.T) {
	store := &fakeDecisionStore{}
	p := NewPipeline(PipelineConfig{}, NewFilter(), nil, store, nil)

	p.Moderate(context.Background(), "this is a scam", "message", 1)

	if len(store.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(store.records))
	}
	if store.records[0].ModeratedText != "this is a ***" {
		t.Errorf("expected masked text recorded, got %q", store.records[0].ModeratedText)
	}
}
