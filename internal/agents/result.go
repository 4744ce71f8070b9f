package agents

import (
	"errors"
	"fmt"
)

// ContentResult is produced by content_creator and social_media agents.
type ContentResult struct {
	Title    string   `json:"title,omitempty"`
	Body     string   `json:"body"`
	Channels []string `json:"channels,omitempty"`
}

// TrendResult is produced by trend_analyzer.
type TrendResult struct {
	Trends    []string `json:"trends"`
	Momentum  float64  `json:"momentum"`
	Timeframe string   `json:"timeframe,omitempty"`
}

// InsightResult is produced by insight_generator and analytics.
type InsightResult struct {
	Insights        []string           `json:"insights"`
	Metrics         map[string]float64 `json:"metrics,omitempty"`
	Recommendations []string           `json:"recommendations,omitempty"`
}

// BrandVoiceResult is produced by brand_voice.
type BrandVoiceResult struct {
	AlignmentScore float64  `json:"alignment_score"`
	Violations     []string `json:"violations,omitempty"`
	Suggestions    []string `json:"suggestions,omitempty"`
}

// SEOResult is produced by seo_optimizer.
type SEOResult struct {
	Keywords []string `json:"keywords"`
	Score    float64  `json:"score"`
}

// CampaignResult is produced by campaign_manager and email_marketing.
type CampaignResult struct {
	CampaignID string  `json:"campaign_id"`
	Action     string  `json:"action"`
	Budget     float64 `json:"budget,omitempty"`
}

// Result is the tagged union returned by a capability. Kind selects which
// payload pointer is populated; agent types without a dedicated payload use
// Data.
type Result struct {
	Kind       AgentType `json:"kind"`
	Success    bool      `json:"success"`
	Confidence *float64  `json:"confidence,omitempty"`
	Error      string    `json:"error,omitempty"`
	TokensUsed int       `json:"tokens_used,omitempty"`
	Cost       float64   `json:"cost,omitempty"`

	Content    *ContentResult    `json:"content,omitempty"`
	Trend      *TrendResult      `json:"trend,omitempty"`
	Insight    *InsightResult    `json:"insight,omitempty"`
	BrandVoice *BrandVoiceResult `json:"brand_voice,omitempty"`
	SEO        *SEOResult        `json:"seo,omitempty"`
	Campaign   *CampaignResult   `json:"campaign,omitempty"`
	Data       map[string]any    `json:"data,omitempty"`
}

// ErrInvalidResult is wrapped by every Validate failure.
var ErrInvalidResult = errors.New("invalid agent result")

// payloadKind maps agent types to the payload field they must fill.
var payloadKind = map[AgentType]string{
	AgentContentCreator:   "content",
	AgentSocialMedia:      "content",
	AgentTrendAnalyzer:    "trend",
	AgentInsightGenerator: "insight",
	AgentAnalytics:        "insight",
	AgentBrandVoice:       "brand_voice",
	AgentSEOOptimizer:     "seo",
	AgentCampaignManager:  "campaign",
	AgentEmailMarketing:   "campaign",
}

func (r Result) populated() []string {
	var set []string
	if r.Content != nil {
		set = append(set, "content")
	}
	if r.Trend != nil {
		set = append(set, "trend")
	}
	if r.Insight != nil {
		set = append(set, "insight")
	}
	if r.BrandVoice != nil {
		set = append(set, "brand_voice")
	}
	if r.SEO != nil {
		set = append(set, "seo")
	}
	if r.Campaign != nil {
		set = append(set, "campaign")
	}
	return set
}

// Validate checks that the payload matches Kind. Failed results need an
// error message and no payload; successful results must carry exactly the
// payload for their kind (or none, for kinds that use Data).
func (r Result) Validate() error {
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidResult, r.Kind)
	}
	if r.Confidence != nil && (*r.Confidence < 0 || *r.Confidence > 1) {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalidResult, *r.Confidence)
	}

	set := r.populated()
	if !r.Success {
		if r.Error == "" {
			return fmt.Errorf("%w: failed result without error", ErrInvalidResult)
		}
		if len(set) > 0 {
			return fmt.Errorf("%w: failed result carries %v payload", ErrInvalidResult, set)
		}
		return nil
	}

	want, typed := payloadKind[r.Kind]
	switch {
	case !typed && len(set) > 0:
		return fmt.Errorf("%w: %s carries typed payload %v", ErrInvalidResult, r.Kind, set)
	case typed && len(set) == 0:
		return fmt.Errorf("%w: %s missing %s payload", ErrInvalidResult, r.Kind, want)
	case typed && (len(set) != 1 || set[0] != want):
		return fmt.Errorf("%w: %s expects %s payload, got %v", ErrInvalidResult, r.Kind, want, set)
	}
	return nil
}

// Failure builds a failed result of the given kind.
func Failure(kind AgentType, err error) Result {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Result{Kind: kind, Success: false, Error: msg}
}
