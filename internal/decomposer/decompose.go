package decomposer

import (
	"fmt"
	"strings"

	"reasonmesh/internal/agents"
)

type assignmentSpec struct {
	agent     agents.AgentType
	minutes   int
	oversight bool
}

// phaseThree lists the category-specific execution agents.
var phaseThree = map[GoalCategory][]assignmentSpec{
	CategoryAwareness: {
		{agent: agents.AgentContentCreator, minutes: 60},
		{agent: agents.AgentSocialMedia, minutes: 45},
		{agent: agents.AgentSEOOptimizer, minutes: 40},
	},
	CategoryEngagement: {
		{agent: agents.AgentContentCreator, minutes: 60},
		{agent: agents.AgentSocialMedia, minutes: 45},
	},
	CategoryConversion: {
		{agent: agents.AgentCampaignManager, minutes: 60},
		{agent: agents.AgentEmailMarketing, minutes: 45},
		{agent: agents.AgentHumanReview, minutes: 30, oversight: true},
	},
	CategoryRetention: {
		{agent: agents.AgentEmailMarketing, minutes: 45},
		{agent: agents.AgentAnalytics, minutes: 40},
	},
	CategoryGrowth: {
		{agent: agents.AgentCampaignManager, minutes: 60},
		{agent: agents.AgentSEOOptimizer, minutes: 40},
		{agent: agents.AgentAnalytics, minutes: 40},
	},
}

var fallbacks = map[agents.AgentType][]agents.AgentType{
	agents.AgentContentCreator:     {agents.AgentSocialMedia},
	agents.AgentSocialMedia:        {agents.AgentContentCreator},
	agents.AgentSEOOptimizer:       {agents.AgentContentCreator},
	agents.AgentTrendAnalyzer:      {agents.AgentInsightGenerator},
	agents.AgentInsightGenerator:   {agents.AgentAnalytics},
	agents.AgentBrandVoice:         {agents.AgentHumanReview},
	agents.AgentStrategyPlanner:    {agents.AgentCampaignManager},
	agents.AgentCampaignManager:    {agents.AgentStrategyPlanner},
	agents.AgentEmailMarketing:     {agents.AgentCampaignManager},
	agents.AgentAnalytics:          {agents.AgentPerformanceMonitor},
	agents.AgentPerformanceMonitor: {agents.AgentAnalytics},
}

var agentTasks = map[agents.AgentType][]string{
	agents.AgentTrendAnalyzer:      {"Scan market and competitor trends", "Identify emerging topics"},
	agents.AgentInsightGenerator:   {"Synthesize audience insights from trend data", "Highlight opportunities and gaps"},
	agents.AgentBrandVoice:         {"Validate direction against brand guidelines"},
	agents.AgentStrategyPlanner:    {"Finalize strategy and channel mix", "Set milestones and KPIs"},
	agents.AgentContentCreator:     {"Produce core content assets"},
	agents.AgentSocialMedia:        {"Adapt and schedule social posts"},
	agents.AgentSEOOptimizer:       {"Optimize content for target keywords"},
	agents.AgentCampaignManager:    {"Configure campaign, budget and targeting"},
	agents.AgentEmailMarketing:     {"Build email sequences and segments"},
	agents.AgentAnalytics:          {"Instrument tracking and define cohorts"},
	agents.AgentHumanReview:        {"Approve spend and customer-facing changes"},
	agents.AgentPerformanceMonitor: {"Track KPIs against targets", "Flag underperforming assets"},
}

func assignmentID(phase int, t agents.AgentType) string {
	return fmt.Sprintf("as_%d_%s", phase, t)
}

// Decompose converts a goal description into a DecomposedGoal. It is a pure
// function of its input.
func Decompose(description string) DecomposedGoal {
	category := Categorize(description)
	urgency := DetectUrgency(description)
	targets := ExtractTargets(description)

	subgoals := buildSubGoals(category, urgency)
	assignments := buildAssignments(category)

	subTotal, asTotal := 0, 0
	for _, sg := range subgoals {
		subTotal += sg.EstimatedTimeMinutes
	}
	for _, a := range assignments {
		asTotal += a.EstimatedDurationMinutes
	}
	estimate := subTotal
	if asTotal > estimate {
		estimate = asTotal
	}

	return DecomposedGoal{
		Description:          description,
		Category:             category,
		Urgency:              urgency,
		SubGoals:             subgoals,
		AgentSequence:        assignments,
		EstimatedTimeMinutes: estimate,
		Complexity:           AssessComplexity(len(subgoals), len(assignments), estimate),
		RiskFactors:          assessRisks(category, urgency, targets, subgoals, assignments),
		Dependencies:         dependencyEdges(assignments),
		SuccessMetrics:       SuccessMetrics(category),
		TargetMetrics:        targets,
	}
}

func buildSubGoals(category GoalCategory, urgency Priority) []SubGoal {
	subgoals := []SubGoal{
		{
			ID:                   "sg_research",
			Title:                "Research and discovery",
			Description:          "Gather market, audience and competitor context",
			Priority:             urgency,
			EstimatedTimeMinutes: 60,
			RequiredCapabilities: []agents.AgentType{agents.AgentTrendAnalyzer, agents.AgentInsightGenerator},
			SuccessCriteria:      []string{"Trend report delivered", "Key audience insights identified"},
		},
		{
			ID:                   "sg_strategy",
			Title:                "Strategy development",
			Description:          "Define positioning, channels and milestones",
			Priority:             urgency,
			EstimatedTimeMinutes: 90,
			RequiredCapabilities: []agents.AgentType{agents.AgentStrategyPlanner, agents.AgentBrandVoice},
			SuccessCriteria:      []string{"Strategy approved", "Brand alignment validated"},
		},
	}

	switch category {
	case CategoryAwareness, CategoryEngagement:
		subgoals = append(subgoals, SubGoal{
			ID:                   "sg_content_strategy",
			Title:                "Content strategy",
			Description:          "Plan content themes, formats and calendar",
			Priority:             PriorityMedium,
			EstimatedTimeMinutes: 75,
			RequiredCapabilities: []agents.AgentType{agents.AgentContentCreator, agents.AgentBrandVoice},
			SuccessCriteria:      []string{"Content calendar drafted"},
		})
	case CategoryConversion, CategoryGrowth:
		subgoals = append(subgoals, SubGoal{
			ID:                   "sg_campaign_infrastructure",
			Title:                "Campaign infrastructure",
			Description:          "Set up funnels, tracking and campaign tooling",
			Priority:             PriorityHigh,
			EstimatedTimeMinutes: 120,
			RequiredCapabilities: []agents.AgentType{agents.AgentCampaignManager, agents.AgentAnalytics},
			SuccessCriteria:      []string{"Tracking verified end to end", "Campaign assets configured"},
		})
	}

	var execCaps []agents.AgentType
	for _, spec := range phaseThree[category] {
		execCaps = append(execCaps, spec.agent)
	}
	subgoals = append(subgoals,
		SubGoal{
			ID:                   "sg_execution",
			Title:                "Execution",
			Description:          fmt.Sprintf("Deliver the %s plan across channels", category),
			Priority:             urgency,
			EstimatedTimeMinutes: 120,
			RequiredCapabilities: execCaps,
			SuccessCriteria:      []string{"All planned assets shipped"},
		},
		SubGoal{
			ID:                   "sg_monitoring",
			Title:                "Monitoring and optimization",
			Description:          "Track results and iterate",
			Priority:             PriorityLow,
			EstimatedTimeMinutes: 45,
			RequiredCapabilities: []agents.AgentType{agents.AgentPerformanceMonitor},
			SuccessCriteria:      SuccessMetrics(category),
		},
	)
	return subgoals
}

func newAssignment(phase int, t agents.AgentType, minutes int, deps ...string) AgentAssignment {
	return AgentAssignment{
		ID:                       assignmentID(phase, t),
		AgentType:                t,
		Phase:                    phase,
		Tasks:                    append([]string(nil), agentTasks[t]...),
		Dependencies:             deps,
		EstimatedDurationMinutes: minutes,
		FallbackAgents:           append([]agents.AgentType(nil), fallbacks[t]...),
	}
}

func buildAssignments(category GoalCategory) []AgentAssignment {
	trend := newAssignment(1, agents.AgentTrendAnalyzer, 30)
	insight := newAssignment(1, agents.AgentInsightGenerator, 30, trend.ID)
	brand := newAssignment(2, agents.AgentBrandVoice, 20, insight.ID)
	strategy := newAssignment(2, agents.AgentStrategyPlanner, 40, brand.ID)

	out := []AgentAssignment{trend, insight, brand, strategy}

	var execIDs []string
	for _, spec := range phaseThree[category] {
		a := newAssignment(3, spec.agent, spec.minutes, strategy.ID)
		a.RequiresHumanOversight = spec.oversight
		out = append(out, a)
		execIDs = append(execIDs, a.ID)
	}

	out = append(out, newAssignment(4, agents.AgentPerformanceMonitor, 30, execIDs...))
	return out
}

// AssessComplexity is a step function over subgoal count, assignment count
// and total minutes. A level applies only when all three fit under it.
func AssessComplexity(subgoals, assignments, minutes int) Complexity {
	switch {
	case subgoals <= 3 && assignments <= 3 && minutes <= 180:
		return ComplexityLow
	case subgoals <= 5 && assignments <= 6 && minutes <= 360:
		return ComplexityMedium
	case subgoals <= 8 && assignments <= 10 && minutes <= 600:
		return ComplexityHigh
	default:
		return ComplexityCritical
	}
}

func assessRisks(category GoalCategory, urgency Priority, targets map[string]float64, subgoals []SubGoal, assignments []AgentAssignment) []string {
	var risks []string
	if urgency == PriorityCritical {
		risks = append(risks, "Critical urgency compresses the timeline; quality checks may be shortened")
	}
	if category == CategoryConversion && len(targets) == 0 {
		risks = append(risks, "Conversion goal lacks explicit numeric targets; success is hard to measure")
	}
	if len(subgoals) > 6 {
		risks = append(risks, fmt.Sprintf("High subgoal count (%d) increases coordination and dependency risk", len(subgoals)))
	}
	for _, a := range assignments {
		if a.RequiresHumanOversight {
			risks = append(risks, fmt.Sprintf("Human oversight required for %s; resource availability may delay execution", a.AgentType))
			break
		}
	}
	return risks
}

func dependencyEdges(assignments []AgentAssignment) []Dependency {
	var edges []Dependency
	for _, a := range assignments {
		for _, d := range a.Dependencies {
			edges = append(edges, Dependency{From: a.ID, To: d})
		}
	}
	return edges
}

// ValidateDependencies checks that every dependency names a known assignment
// (or one of extraIDs, such as subgoal ids) and that the assignment graph is
// acyclic.
func ValidateDependencies(assignments []AgentAssignment, extraIDs ...string) error {
	index := make(map[string]int, len(assignments))
	for i, a := range assignments {
		if a.ID == "" {
			return fmt.Errorf("assignment %d (%s) has no id", i, a.AgentType)
		}
		if _, dup := index[a.ID]; dup {
			return fmt.Errorf("duplicate assignment id %s", a.ID)
		}
		index[a.ID] = i
	}
	external := make(map[string]bool, len(extraIDs))
	for _, id := range extraIDs {
		external[id] = true
	}

	// Kahn's algorithm over assignment-to-assignment edges.
	inDegree := make([]int, len(assignments))
	dependents := make([][]int, len(assignments))
	for i, a := range assignments {
		for _, dep := range a.Dependencies {
			j, ok := index[dep]
			if !ok {
				if external[dep] {
					continue
				}
				return fmt.Errorf("assignment %s depends on unknown id %s", a.ID, dep)
			}
			inDegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	queue := make([]int, 0, len(assignments))
	for i, d := range inDegree {
		if d == 0 {
			queue = append(queue, i)
		}
	}
	visited := 0
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		visited++
		for _, m := range dependents[n] {
			inDegree[m]--
			if inDegree[m] == 0 {
				queue = append(queue, m)
			}
		}
	}
	if visited != len(assignments) {
		var cyclic []string
		for i, d := range inDegree {
			if d > 0 {
				cyclic = append(cyclic, assignments[i].ID)
			}
		}
		return fmt.Errorf("dependency cycle among assignments: %s", strings.Join(cyclic, ", "))
	}
	return nil
}
