// Package intent turns a free-text command into a structured Intent.
package intent

import (
	"context"
	"regexp"
	"strconv"
	"strings"
)

// Intent is the structured form of a command.
type Intent struct {
	PrimaryAction string         `json:"primary_action"`
	EntityType    string         `json:"entity_type"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	Confidence    float64        `json:"confidence"`
	Raw           string         `json:"raw"`
}

// Key returns "action:entity", the lookup key used by workflow and budget tables.
func (i Intent) Key() string {
	return i.PrimaryAction + ":" + i.EntityType
}

// Parser turns command text into an Intent.
type Parser interface {
	Parse(ctx context.Context, command string) (Intent, error)
}

// verbs maps surface words to canonical actions, checked in order.
var verbs = []struct {
	action   string
	keywords []string
}{
	{"launch", []string{"launch", "start", "kick off", "go live"}},
	{"pause", []string{"pause", "stop", "halt", "suspend"}},
	{"delete", []string{"delete", "remove", "archive"}},
	{"schedule", []string{"schedule", "plan for", "queue"}},
	{"optimize", []string{"optimize", "optimise", "improve", "boost", "tune"}},
	{"update", []string{"update", "edit", "change", "modify"}},
	{"create", []string{"create", "make", "build", "draft", "new"}},
	{"generate", []string{"generate", "write", "compose"}},
	{"research", []string{"research", "investigate", "explore", "find trends"}},
	{"analyze", []string{"analyze", "analyse", "evaluate", "assess", "audit"}},
	{"report", []string{"report", "summarize", "summarise", "show", "list"}},
}

// entities maps surface words to canonical entity types, checked in order.
var entities = []struct {
	entity   string
	keywords []string
}{
	{"campaign", []string{"campaign", "campaigns"}},
	{"email", []string{"email", "emails", "newsletter", "drip"}},
	{"social_post", []string{"social", "post", "tweet", "instagram", "linkedin"}},
	{"content", []string{"content", "blog", "article", "copy", "landing page"}},
	{"seo", []string{"seo", "keyword", "keywords", "ranking"}},
	{"trend", []string{"trend", "trends", "market"}},
	{"brand", []string{"brand", "tone", "voice"}},
	{"analytics", []string{"analytics", "metrics", "performance", "kpi"}},
	{"report", []string{"report", "reports", "dashboard"}},
	{"audience", []string{"audience", "segment", "customers"}},
}

var (
	budgetPattern = regexp.MustCompile(`\$\s?(\d+(?:\.\d+)?)`)
	quotedPattern = regexp.MustCompile(`"([^"]+)"`)
)

// KeywordParser is a deterministic Parser over verb and noun tables.
type KeywordParser struct{}

// NewKeywordParser returns the default parser.
func NewKeywordParser() *KeywordParser { return &KeywordParser{} }

// Parse implements Parser. Unrecognized text yields action "analyze" on
// entity "general" with low confidence.
func (p *KeywordParser) Parse(ctx context.Context, command string) (Intent, error) {
	if err := ctx.Err(); err != nil {
		return Intent{}, err
	}
	text := strings.ToLower(strings.TrimSpace(command))

	in := Intent{Raw: command, Parameters: make(map[string]any), Confidence: 0.3}
	matched := 0

	for _, v := range verbs {
		if containsAny(text, v.keywords) {
			in.PrimaryAction = v.action
			matched++
			break
		}
	}
	for _, e := range entities {
		if containsAny(text, e.keywords) {
			in.EntityType = e.entity
			matched++
			break
		}
	}
	if in.PrimaryAction == "" {
		in.PrimaryAction = "analyze"
	}
	if in.EntityType == "" {
		in.EntityType = "general"
	}
	switch matched {
	case 2:
		in.Confidence = 0.9
	case 1:
		in.Confidence = 0.6
	}

	if m := budgetPattern.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			in.Parameters["budget"] = v
		}
	}
	if m := quotedPattern.FindStringSubmatch(command); m != nil {
		in.Parameters["name"] = m[1]
	}
	return in, nil
}

// containsAny reports whether text contains any keyword as a whole word
// (or as a substring for multi-word keywords).
func containsAny(text string, keywords []string) bool {
	words := strings.Fields(text)
	for _, kw := range keywords {
		if strings.Contains(kw, " ") {
			if strings.Contains(text, kw) {
				return true
			}
			continue
		}
		for _, w := range words {
			if strings.Trim(w, ".,;:!?\"'()[]{}") == kw {
				return true
			}
		}
	}
	return false
}
