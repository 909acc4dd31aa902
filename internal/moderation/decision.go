// Package moderation implements the two-stage content moderation pipeline.
// Stage A is a deterministic blocklist filter that masks prohibited tokens;
// Stage B is an optional external AI classifier that can rewrite or flag
// content. Every invocation produces an immutable decision record for the
// audit trail, regardless of the outcome.
package moderation

import "time"

// Action is the outcome of a moderation decision.
type Action string

const (
	ActionApproved  Action = "approved"
	ActionFiltered  Action = "filtered"
	ActionRewritten Action = "rewritten"
	ActionFlagged   Action = "flagged"
)

// ToxicityLevel grades content severity.
type ToxicityLevel string

const (
	ToxicityLow    ToxicityLevel = "low"
	ToxicityMedium ToxicityLevel = "medium"
	ToxicityHigh   ToxicityLevel = "high"
)

// Source identifies which stage produced the final decision.
type Source string

const (
	SourceRuleBased Source = "rule-based"
	SourceAI        Source = "ai"
)

// Decision is the pipeline verdict for one piece of content. IsAllowed is
// false only when Action is ActionFlagged. ModeratedContent is empty when
// the content was not altered. RecordID identifies the persisted decision
// row so callers can link it to the content once that is stored; it is 0
// when the row could not be written.
type Decision struct {
	IsAllowed        bool
	ModeratedContent string
	Action           Action
	Reason           string
	SentimentScore   float64
	ToxicityLevel    ToxicityLevel
	Source           Source
	RecordID         int64
}

// Content returns the text to deliver: the moderated text when the pipeline
// altered it, the original otherwise.
func (d Decision) Content(original string) string {
	if d.ModeratedContent != "" {
		return d.ModeratedContent
	}
	return original
}

// DecisionRecord is the append-only audit row written for every pipeline
// invocation, including approvals. It is immutable after creation.
type DecisionRecord struct {
	ID             int64
	ContentType    string // "message"
	ContentID      int64  // 0 when the content was never persisted
	UserID         int64
	OriginalText   string
	ModeratedText  string // empty when unchanged
	Action         Action
	Reason         string
	SentimentScore float64
	ToxicityLevel  ToxicityLevel
	Source         Source
	CreatedAt      time.Time
}
