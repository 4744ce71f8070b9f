package router

import (
	"reasonmesh/internal/agents"
	"reasonmesh/internal/intent"
)

// budgetImpact is the estimated spend per intent key. Keys not listed
// have no budget impact.
var budgetImpact = map[string]float64{
	"launch:campaign":      500,
	"create:campaign":      250,
	"optimize:campaign":    100,
	"update:campaign":      50,
	"schedule:campaign":    50,
	"launch:email":         150,
	"create:email":         25,
	"schedule:email":       25,
	"launch:social_post":   75,
	"schedule:social_post": 20,
	"create:social_post":   10,
	"create:content":       40,
	"generate:content":     30,
	"optimize:seo":         60,
	"research:trend":       15,
	"analyze:audience":     20,
}

// EstimateBudgetImpact returns the static impact estimate for in.
func EstimateBudgetImpact(in intent.Intent) float64 {
	return budgetImpact[in.Key()]
}

// defaultAgents is the action/entity fallback used when no rule matches.
// Entity wins over action.
var entityAgents = map[string]agents.AgentType{
	"campaign":    agents.AgentCampaignManager,
	"email":       agents.AgentEmailMarketing,
	"social_post": agents.AgentSocialMedia,
	"content":     agents.AgentContentCreator,
	"seo":         agents.AgentSEOOptimizer,
	"trend":       agents.AgentTrendAnalyzer,
	"brand":       agents.AgentBrandVoice,
	"analytics":   agents.AgentAnalytics,
	"report":      agents.AgentAnalytics,
	"audience":    agents.AgentInsightGenerator,
}

var actionAgents = map[string]agents.AgentType{
	"create":   agents.AgentContentCreator,
	"generate": agents.AgentContentCreator,
	"research": agents.AgentTrendAnalyzer,
	"analyze":  agents.AgentInsightGenerator,
	"report":   agents.AgentAnalytics,
	"optimize": agents.AgentPerformanceMonitor,
	"launch":   agents.AgentCampaignManager,
	"schedule": agents.AgentCampaignManager,
	"pause":    agents.AgentCampaignManager,
}

func defaultAgent(in intent.Intent) agents.AgentType {
	if t, ok := entityAgents[in.EntityType]; ok {
		return t
	}
	if t, ok := actionAgents[in.PrimaryAction]; ok {
		return t
	}
	return agents.AgentInsightGenerator
}

// defaultRules are installed by New.
func defaultRules() []RoutingRule {
	return []RoutingRule{
		{
			Name:           "brand-review",
			Priority:       100,
			AgentType:      agents.AgentBrandVoice,
			FallbackAgents: []agents.AgentType{agents.AgentHumanReview},
			Condition: func(in intent.Intent) bool {
				return in.EntityType == "brand"
			},
		},
		{
			Name:           "seo-content",
			Priority:       80,
			AgentType:      agents.AgentSEOOptimizer,
			FallbackAgents: []agents.AgentType{agents.AgentContentCreator},
			Condition: func(in intent.Intent) bool {
				return in.PrimaryAction == "optimize" && (in.EntityType == "content" || in.EntityType == "seo")
			},
		},
		{
			Name:           "campaign-performance",
			Priority:       70,
			AgentType:      agents.AgentPerformanceMonitor,
			FallbackAgents: []agents.AgentType{agents.AgentAnalytics},
			Condition: func(in intent.Intent) bool {
				return in.EntityType == "campaign" && (in.PrimaryAction == "analyze" || in.PrimaryAction == "report")
			},
		},
		{
			Name:           "market-research",
			Priority:       50,
			AgentType:      agents.AgentTrendAnalyzer,
			FallbackAgents: []agents.AgentType{agents.AgentInsightGenerator},
			Condition: func(in intent.Intent) bool {
				return in.PrimaryAction == "research"
			},
		},
	}
}

// campaignMutations are actions that change a campaign.
var campaignMutations = map[string]bool{
	"launch": true, "pause": true, "delete": true, "update": true,
	"create": true, "optimize": true, "schedule": true,
}

func mutatesCampaign(in intent.Intent) bool {
	return in.EntityType == "campaign" && campaignMutations[in.PrimaryAction]
}

func isReporting(in intent.Intent) bool {
	return in.PrimaryAction == "report" || in.EntityType == "report" || in.EntityType == "analytics"
}

// defaultWorkflows are keyed by intent key.
func defaultWorkflows() map[string]Workflow {
	return map[string]Workflow{
		"launch:campaign": {
			Name: "campaign_launch",
			Steps: []WorkflowStep{
				{ID: "research", AgentType: agents.AgentTrendAnalyzer, Task: "Scan trends relevant to the campaign"},
				{ID: "brand_check", AgentType: agents.AgentBrandVoice, Task: "Validate campaign messaging", Dependencies: []string{"research"}},
				{ID: "configure", AgentType: agents.AgentCampaignManager, Task: "Configure campaign, budget and targeting", Dependencies: []string{"brand_check"}},
				{ID: "social", AgentType: agents.AgentSocialMedia, Task: "Schedule launch posts", Dependencies: []string{"configure"}},
				{ID: "email", AgentType: agents.AgentEmailMarketing, Task: "Send launch announcement", Dependencies: []string{"configure"}},
				{ID: "monitor", AgentType: agents.AgentPerformanceMonitor, Task: "Track launch KPIs", Dependencies: []string{"social", "email"}},
			},
		},
		"create:content": {
			Name: "content_production",
			Steps: []WorkflowStep{
				{ID: "research", AgentType: agents.AgentTrendAnalyzer, Task: "Find topics with momentum"},
				{ID: "draft", AgentType: agents.AgentContentCreator, Task: "Draft the content", Dependencies: []string{"research"}},
				{ID: "brand_check", AgentType: agents.AgentBrandVoice, Task: "Review tone and guidelines", Dependencies: []string{"draft"}},
				{ID: "seo", AgentType: agents.AgentSEOOptimizer, Task: "Optimize for target keywords", Dependencies: []string{"draft"}},
			},
		},
		"analyze:audience": {
			Name: "audience_analysis",
			Steps: []WorkflowStep{
				{ID: "trends", AgentType: agents.AgentTrendAnalyzer, Task: "Collect audience trend signals"},
				{ID: "metrics", AgentType: agents.AgentAnalytics, Task: "Pull audience metrics"},
				{ID: "insights", AgentType: agents.AgentInsightGenerator, Task: "Synthesize audience insights", Dependencies: []string{"trends", "metrics"}},
			},
		},
	}
}
