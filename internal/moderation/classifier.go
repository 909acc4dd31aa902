package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// classifierPrompt frames the external model's task. The platform hosts
// technical writing, so ordinary security vocabulary (exploit, injection,
// attack, vulnerability) must not be treated as hostile on its own.
const classifierPrompt = `You are moderating chat messages on a software
engineering blog platform. Technical security vocabulary (e.g. "exploit",
"SQL injection", "attack vector", "vulnerability") is normal discourse and
must not be penalized by itself. Score sentiment from -1 to 1, grade
toxicity as low/medium/high, and decide whether the message should be
rewritten to remove hostility or flagged as unacceptable.`

// ClassifierConfig holds settings for the external text-classification
// service.
type ClassifierConfig struct {
	Endpoint string        // HTTP endpoint, e.g. http://localhost:8090/v1/classify
	APIKey   string        // optional bearer token
	Timeout  time.Duration // per-request client timeout
}

// DefaultClassifierConfig returns sensible defaults. The endpoint is left
// empty; Stage B only runs when one is configured.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		Timeout: 15 * time.Second,
	}
}

// ClassifierResult is the validated response shape from the classification
// service. Any response that does not decode into this shape is treated as
// a service failure, never as a flag.
type ClassifierResult struct {
	SentimentScore float64       `json:"sentiment_score"`
	ToxicityLevel  ToxicityLevel `json:"toxicity_level"`
	ShouldRewrite  bool          `json:"should_rewrite"`
	ShouldFlag     bool          `json:"should_flag"`
	ModeratedText  string        `json:"moderated_text,omitempty"`
	Reason         string        `json:"reason,omitempty"`
}

// classifierRequest is the JSON body sent to the classification service.
type classifierRequest struct {
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
	Prompt      string `json:"prompt"`
}

// Classifier calls the external AI text-classification endpoint.
type Classifier struct {
	config ClassifierConfig
	client *http.Client
}

// NewClassifier creates a Classifier for the given config.
func NewClassifier(config ClassifierConfig) *Classifier {
	if config.Timeout <= 0 {
		config.Timeout = DefaultClassifierConfig().Timeout
	}
	return &Classifier{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

// Classify sends content to the classification service and returns the
// validated result. Every failure mode (transport error, non-2xx status,
// malformed body, out-of-range fields) is returned as an error so the
// pipeline can fall back to the Stage A result.
func (c *Classifier) Classify(ctx context.Context, content, contentType string) (*ClassifierResult, error) {
	body, err := json.Marshal(classifierRequest{
		Content:     content,
		ContentType: contentType,
		Prompt:      classifierPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("moderation: marshal classifier request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("moderation: build classifier request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("moderation: classifier request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Read a bounded amount of the body for the error message.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("moderation: classifier returned status %d: %s", resp.StatusCode, snippet)
	}

	var result ClassifierResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("moderation: decode classifier response: %w", err)
	}

	if err := result.validate(); err != nil {
		return nil, err
	}
	return &result, nil
}

// validate rejects responses with out-of-range or unknown field values.
func (r *ClassifierResult) validate() error {
	switch r.ToxicityLevel {
	case ToxicityLow, ToxicityMedium, ToxicityHigh:
	default:
		return fmt.Errorf("moderation: invalid toxicity_level %q", r.ToxicityLevel)
	}
	if r.SentimentScore < -1 || r.SentimentScore > 1 {
		return fmt.Errorf("moderation: sentiment_score %v out of range", r.SentimentScore)
	}
	if r.ShouldRewrite && r.ModeratedText == "" {
		return fmt.Errorf("moderation: should_rewrite set without moderated_text")
	}
	return nil
}
