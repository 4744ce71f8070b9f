package agents

import (
	"context"
	"fmt"
	"time"
)

// StubCapability is a deterministic local capability that returns plausible
// payloads without calling any external service.
type StubCapability struct {
	Type       AgentType
	Delay      time.Duration
	Confidence float64
}

// NewStub returns a stub for agentType with a neutral confidence.
func NewStub(agentType AgentType) *StubCapability {
	return &StubCapability{Type: agentType, Confidence: 0.8}
}

// Execute implements Capability.
func (s *StubCapability) Execute(ctx context.Context, task Task) (Result, error) {
	if s.Delay > 0 {
		t := time.NewTimer(s.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-t.C:
		}
	}

	conf := s.Confidence
	res := Result{Kind: s.Type, Success: true, Confidence: &conf, TokensUsed: 100, Cost: 0.002}
	summary := fmt.Sprintf("stub %s: %s", s.Type, task.Description)

	switch payloadKind[s.Type] {
	case "content":
		res.Content = &ContentResult{Title: task.Description, Body: summary}
	case "trend":
		res.Trend = &TrendResult{Trends: []string{summary}, Momentum: 0.5, Timeframe: "30d"}
	case "insight":
		res.Insight = &InsightResult{Insights: []string{summary}}
	case "brand_voice":
		res.BrandVoice = &BrandVoiceResult{AlignmentScore: conf}
	case "seo":
		res.SEO = &SEOResult{Keywords: []string{"stub"}, Score: conf}
	case "campaign":
		res.Campaign = &CampaignResult{CampaignID: task.ID, Action: task.Description}
	default:
		res.Data = map[string]any{"summary": summary}
	}
	return res, nil
}

// NewStubRegistry registers a stub for every known agent type.
func NewStubRegistry() *Registry {
	r := NewRegistry()
	for _, t := range AllTypes {
		r.Register(t, NewStub(t))
	}
	return r
}
