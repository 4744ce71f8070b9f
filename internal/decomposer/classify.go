package decomposer

import (
	"regexp"
	"strconv"
	"strings"
)

// categoryOrder is also the tie-break order when keyword counts are equal.
var categoryOrder = []GoalCategory{
	CategoryConversion, CategoryRetention, CategoryGrowth, CategoryEngagement, CategoryAwareness,
}

var categoryKeywords = map[GoalCategory][]string{
	CategoryAwareness:  {"awareness", "brand", "visibility", "reach", "recognition", "exposure", "impressions"},
	CategoryEngagement: {"engagement", "engage", "interaction", "community", "comments", "shares", "followers", "likes"},
	CategoryConversion: {"conversion", "convert", "sales", "leads", "signups", "sign-ups", "purchases", "revenue", "roi"},
	CategoryRetention:  {"retention", "retain", "churn", "loyalty", "repeat", "renewal", "existing customers"},
	CategoryGrowth:     {"growth", "grow", "expand", "scale", "market share", "new markets", "acquisition"},
}

// categoryPatterns holds one whole-word matcher per keyword. A trailing
// plural "s" still counts as a hit.
var categoryPatterns = func() map[GoalCategory][]*regexp.Regexp {
	out := make(map[GoalCategory][]*regexp.Regexp, len(categoryKeywords))
	for cat, kws := range categoryKeywords {
		for _, kw := range kws {
			out[cat] = append(out[cat], regexp.MustCompile(`(?:^|[^a-z0-9])`+regexp.QuoteMeta(kw)+`s?(?:$|[^a-z0-9])`))
		}
	}
	return out
}()

// Categorize classifies text by keyword hit count. Text with no hits is
// treated as an awareness goal.
func Categorize(text string) GoalCategory {
	lower := strings.ToLower(text)
	best := CategoryAwareness
	bestHits := 0
	for _, cat := range categoryOrder {
		hits := 0
		for _, kw := range categoryPatterns[cat] {
			if kw.MatchString(lower) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = cat, hits
		}
	}
	return best
}

var (
	criticalWords   = []string{"asap", "urgent", "immediately"}
	timeframeRegexp = regexp.MustCompile(`(\d+)\s*(day|week|month|year)s?\b`)
)

// DetectUrgency maps urgency words and the first "<N> day|week|month|year"
// token to a priority. Short horizons within a unit escalate one level.
func DetectUrgency(text string) Priority {
	lower := strings.ToLower(text)
	for _, w := range criticalWords {
		if strings.Contains(lower, w) {
			return PriorityCritical
		}
	}

	m := timeframeRegexp.FindStringSubmatch(lower)
	if m == nil {
		return PriorityMedium
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return PriorityMedium
	}
	switch m[2] {
	case "day":
		if n <= 3 {
			return PriorityCritical
		}
		return PriorityHigh
	case "week":
		if n <= 2 {
			return PriorityHigh
		}
		return PriorityMedium
	case "month":
		return PriorityMedium
	default:
		return PriorityLow
	}
}

var (
	percentRegexp = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)
	dollarRegexp  = regexp.MustCompile(`\$\s?(\d[\d,]*(?:\.\d+)?)\s*([km])?\b`)
	countRegexp   = regexp.MustCompile(`(\d[\d,]*)\s+(?:new\s+)?(leads|signups|sign-ups|customers|followers|subscribers|downloads|visitors|users|sales|purchases)\b`)
)

// ExtractTargets pulls explicit numeric targets out of a goal description:
// percentages, dollar amounts and counted nouns ("500 leads").
func ExtractTargets(text string) map[string]float64 {
	lower := strings.ToLower(text)
	targets := make(map[string]float64)

	for i, m := range percentRegexp.FindAllStringSubmatch(lower, -1) {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		key := "target_percentage"
		if i > 0 {
			key += "_" + strconv.Itoa(i+1)
		}
		targets[key] = v
	}

	if m := dollarRegexp.FindStringSubmatch(lower); m != nil {
		if v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64); err == nil {
			switch m[2] {
			case "k":
				v *= 1_000
			case "m":
				v *= 1_000_000
			}
			targets["revenue"] = v
		}
	}

	for _, m := range countRegexp.FindAllStringSubmatch(lower, -1) {
		v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err != nil {
			continue
		}
		targets[strings.ReplaceAll(m[2], "-", "")] = v
	}

	return targets
}

// SuccessMetrics returns the metrics tracked for a category.
func SuccessMetrics(cat GoalCategory) []string {
	switch cat {
	case CategoryEngagement:
		return []string{"engagement rate", "comments and shares", "time on page"}
	case CategoryConversion:
		return []string{"conversion rate", "cost per acquisition", "revenue attributed"}
	case CategoryRetention:
		return []string{"churn rate", "repeat purchase rate", "customer lifetime value"}
	case CategoryGrowth:
		return []string{"new customer growth", "market share", "month-over-month revenue growth"}
	default:
		return []string{"reach", "impressions", "share of voice"}
	}
}
