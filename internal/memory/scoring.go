package memory

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"
	"time"

	"reasonmesh/internal/agents"
)

const day = 24 * time.Hour

// keywordSet matches any of its keywords as a whole word. A trailing
// plural "s" or "es" still counts as a match.
type keywordSet struct {
	name    string
	pattern *regexp.Regexp
}

func newKeywordSet(name string, keywords ...string) keywordSet {
	quoted := make([]string, len(keywords))
	for i, kw := range keywords {
		quoted[i] = regexp.QuoteMeta(kw)
	}
	return keywordSet{
		name:    name,
		pattern: regexp.MustCompile(`(?:^|[^a-z0-9])(?:` + strings.Join(quoted, "|") + `)(?:s|es)?(?:$|[^a-z0-9])`),
	}
}

var categoryKeywords = []keywordSet{
	newKeywordSet("awareness", "awareness", "brand", "visibility", "reach", "impressions"),
	newKeywordSet("engagement", "engagement", "engage", "community", "comments", "shares", "likes"),
	newKeywordSet("conversion", "conversion", "convert", "sales", "leads", "signups", "purchase", "revenue"),
	newKeywordSet("retention", "retention", "retain", "churn", "loyalty", "repeat", "renewal"),
	newKeywordSet("growth", "growth", "grow", "expand", "scale", "market share", "acquisition"),
	newKeywordSet("content", "content", "blog", "article", "copy", "post"),
	newKeywordSet("seo", "seo", "keyword", "ranking", "search"),
	newKeywordSet("social", "social", "twitter", "instagram", "linkedin", "tiktok"),
	newKeywordSet("email", "email", "newsletter", "subject line", "drip"),
	newKeywordSet("analytics", "analytics", "metric", "kpi", "dashboard", "tracking"),
	newKeywordSet("brand_voice", "tone", "voice", "guideline", "on-brand", "off-brand"),
	newKeywordSet("campaign", "campaign", "budget", "targeting", "audience"),
	newKeywordSet("research", "trend", "research", "competitor", "market"),
}

var tagKeywords = []keywordSet{
	newKeywordSet("video", "video", "reel", "youtube"),
	newKeywordSet("b2b", "b2b", "enterprise", "saas"),
	newKeywordSet("b2c", "b2c", "consumer", "shopper"),
	newKeywordSet("holiday", "holiday", "black friday", "christmas", "seasonal"),
	newKeywordSet("launch", "launch", "release", "announcement"),
	newKeywordSet("ab_test", "a/b", "ab test", "split test", "variant"),
	newKeywordSet("personalization", "personalized", "personalization", "segment"),
	newKeywordSet("mobile", "mobile", "app", "sms"),
	newKeywordSet("paid", "paid", "ads", "cpc", "ppc"),
	newKeywordSet("organic", "organic", "unpaid"),
	newKeywordSet("influencer", "influencer", "creator", "ambassador"),
}

// classify derives categories and tags by whole-word keyword presence over
// the lowercased JSON of input and output.
func classify(agentType agents.AgentType, outcome Outcome, input, output map[string]any) (categories, tags []string) {
	raw, _ := json.Marshal(map[string]any{"input": input, "output": output})
	text := strings.ToLower(string(raw))

	for _, c := range categoryKeywords {
		if c.pattern.MatchString(text) {
			categories = append(categories, c.name)
		}
	}
	for _, t := range tagKeywords {
		if t.pattern.MatchString(text) {
			tags = append(tags, t.name)
		}
	}
	if agentType != "" {
		tags = append(tags, "agent:"+string(agentType))
	}
	tags = append(tags, "outcome:"+string(outcome))
	return categories, tags
}

// baseConfidence is the starting confidence for each outcome.
func baseConfidence(o Outcome) float64 {
	switch o {
	case OutcomeSuccess:
		return 0.9
	case OutcomePartial:
		return 0.6
	case OutcomeFailure:
		return 0.3
	default:
		return 0.5
	}
}

// Confidence computes an entry's confidence from its outcome and performance.
func Confidence(outcome Outcome, perf Performance) float64 {
	c := baseConfidence(outcome)
	if perf.ExecutionTimeMs < 5000 {
		c += 0.1
	}
	if perf.Cost < 0.01 {
		c += 0.05
	}
	if perf.SuccessMetricScore != nil && *perf.SuccessMetricScore > 0.8 {
		c += 0.1
	}
	return clamp01(c)
}

// DecayScore is 0.6·max(0,1−age/60) + 0.4·max(0,1−sinceAccess/14), in days.
// It is non-increasing in both arguments.
func DecayScore(ageDays, sinceAccessDays float64) float64 {
	age := 1 - ageDays/60
	if age < 0 {
		age = 0
	}
	access := 1 - sinceAccessDays/14
	if access < 0 {
		access = 0
	}
	return clamp01(0.6*age + 0.4*access)
}

func decayAt(e *Entry, now time.Time) float64 {
	return DecayScore(days(now.Sub(e.Temporal.CreatedAt)), days(now.Sub(e.Temporal.LastAccessed)))
}

// Relevance scores e against q: 0.4·category overlap + 0.3·tag overlap +
// 0.2·recency over 30 days + 0.1·min(1, accessCount/10).
func Relevance(e Entry, q Query, now time.Time) float64 {
	recency := 1 - days(now.Sub(e.Temporal.CreatedAt))/30
	if recency < 0 {
		recency = 0
	}
	access := float64(e.Temporal.AccessCount) / 10
	if access > 1 {
		access = 1
	}
	return 0.4*overlap(q.Categories, e.Categories) +
		0.3*overlap(q.Tags, e.Tags) +
		0.2*recency +
		0.1*access
}

// RankKey is the retrieval ordering key: relevance × confidence × decay.
func RankKey(relevance float64, e Entry) float64 {
	return relevance * e.Confidence * e.Temporal.DecayScore
}

// overlap is the fraction of want present in have; 0 when want is empty.
func overlap(want, have []string) float64 {
	if len(want) == 0 {
		return 0
	}
	set := make(map[string]bool, len(have))
	for _, h := range have {
		set[h] = true
	}
	hits := 0
	for _, w := range want {
		if set[w] {
			hits++
		}
	}
	return float64(hits) / float64(len(want))
}

func days(d time.Duration) float64 {
	if d < 0 {
		return 0
	}
	return float64(d) / float64(day)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

type scored struct {
	entry *Entry
	key   float64
}

// sortScored orders by key desc, then newest first, then id.
func sortScored(s []scored) {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].key != s[j].key {
			return s[i].key > s[j].key
		}
		ci, cj := s[i].entry.Temporal.CreatedAt, s[j].entry.Temporal.CreatedAt
		if !ci.Equal(cj) {
			return ci.After(cj)
		}
		return s[i].entry.ID < s[j].entry.ID
	})
}
