package moderation

import (
	"context"
	"log"
	"time"

	"github.com/inkwell/chat-core/internal/audit"
	"github.com/inkwell/chat-core/internal/metrics"
)

// TextClassifier is the Stage B dependency. *Classifier implements it; tests
// substitute fakes.
type TextClassifier interface {
	Classify(ctx context.Context, content, contentType string) (*ClassifierResult, error)
}

// DecisionStore persists the append-only decision records.
type DecisionStore interface {
	InsertDecision(ctx context.Context, rec *DecisionRecord) error
}

// PipelineConfig controls optional pipeline behavior.
type PipelineConfig struct {
	// AIEnabled turns on Stage B. It has no effect without a classifier.
	AIEnabled bool
}

// Pipeline runs the two-stage moderation process and records one decision
// row per invocation, approvals included.
//
// Stage A (the blocklist filter) always runs. Stage B (the AI classifier)
// runs only when enabled and configured; any Stage B failure falls back to
// the Stage A result. A classifier failure can never escalate content to
// flagged.
type Pipeline struct {
	config     PipelineConfig
	filter     *Filter
	classifier TextClassifier
	store      DecisionStore
	audit      audit.Sink
}

// NewPipeline creates a Pipeline. classifier may be nil when Stage B is not
// configured.
func NewPipeline(config PipelineConfig, filter *Filter, classifier TextClassifier, store DecisionStore, sink audit.Sink) *Pipeline {
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &Pipeline{
		config:     config,
		filter:     filter,
		classifier: classifier,
		store:      store,
		audit:      sink,
	}
}

// Moderate produces a decision for one piece of content and unconditionally
// appends a decision record. It never returns an error: moderation-service
// failures degrade to the deterministic Stage A result.
func (p *Pipeline) Moderate(ctx context.Context, content, contentType string, userID int64) Decision {
	decision := p.stageA(content)

	if p.config.AIEnabled && p.classifier != nil {
		decision = p.stageB(ctx, content, contentType, decision)
	}

	decision.IsAllowed = decision.Action != ActionFlagged

	p.record(ctx, content, contentType, userID, &decision)
	return decision
}

// stageA runs the deterministic blocklist filter.
func (p *Pipeline) stageA(content string) Decision {
	start := time.Now()
	fr := p.filter.Check(content)
	metrics.ModerationLatency.WithLabelValues("rules").Observe(time.Since(start).Seconds())

	d := Decision{
		Action:        ActionApproved,
		Reason:        fr.Reason,
		ToxicityLevel: fr.Toxicity,
		Source:        SourceRuleBased,
	}
	if fr.Filtered {
		d.Action = ActionFiltered
		d.ModeratedContent = fr.Masked
	}
	return d
}

// stageB merges the classifier result into the Stage A decision. The
// classifier's sentiment and toxicity always override Stage A; should_flag
// forces flagged (and overrides any rewrite); otherwise should_rewrite
// replaces the content; otherwise the Stage A action stands.
func (p *Pipeline) stageB(ctx context.Context, content, contentType string, base Decision) Decision {
	start := time.Now()
	result, err := p.classifier.Classify(ctx, content, contentType)
	metrics.ModerationLatency.WithLabelValues("ai").Observe(time.Since(start).Seconds())

	if err != nil {
		// Fail open: the Stage A result stands.
		log.Printf("[moderation] classifier failed, using rule-based result: %v", err)
		metrics.ClassifierFailures.Inc()
		return base
	}

	merged := base
	merged.SentimentScore = result.SentimentScore
	merged.ToxicityLevel = result.ToxicityLevel
	merged.Source = SourceAI

	switch {
	case result.ShouldFlag:
		merged.Action = ActionFlagged
		merged.ModeratedContent = ""
		merged.Reason = result.Reason
		if merged.Reason == "" {
			merged.Reason = "Content flagged by moderation"
		}
	case result.ShouldRewrite:
		merged.Action = ActionRewritten
		merged.ModeratedContent = result.ModeratedText
		if result.Reason != "" {
			merged.Reason = result.Reason
		}
	}
	return merged
}

// record writes the decision row and forwards it to the audit sink. Both are
// best-effort: a storage failure here must not block the message. On a
// successful insert the row id is written back to d.RecordID.
func (p *Pipeline) record(ctx context.Context, content, contentType string, userID int64, d *Decision) {
	rec := &DecisionRecord{
		ContentType:    contentType,
		UserID:         userID,
		OriginalText:   content,
		Action:         d.Action,
		Reason:         d.Reason,
		SentimentScore: d.SentimentScore,
		ToxicityLevel:  d.ToxicityLevel,
		Source:         d.Source,
	}
	if d.ModeratedContent != "" && d.ModeratedContent != content {
		rec.ModeratedText = d.ModeratedContent
	}

	if p.store != nil {
		if err := p.store.InsertDecision(ctx, rec); err != nil {
			log.Printf("[moderation] insert decision record user=%d action=%s: %v", userID, d.Action, err)
		} else {
			d.RecordID = rec.ID
		}
	}

	p.audit.Record(audit.Event{
		Type:   audit.EventModerationDecision,
		UserID: userID,
		Detail: map[string]interface{}{
			"content_type":   contentType,
			"action":         string(d.Action),
			"reason":         d.Reason,
			"toxicity_level": string(d.ToxicityLevel),
			"source":         string(d.Source),
		},
	})
}
