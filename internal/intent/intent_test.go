package intent

import (
	"context"
	"testing"
)

func TestKeywordParser(t *testing.T) {
	tests := []struct {
		command    string
		action     string
		entity     string
		confidence float64
	}{
		{"Launch the spring campaign", "launch", "campaign", 0.9},
		{"Write a blog article about pricing", "generate", "content", 0.9},
		{"Show me the performance report", "report", "analytics", 0.9},
		{"pause campaign now!", "pause", "campaign", 0.9},
		{"research market trends", "research", "trend", 0.9},
		{"hello there", "analyze", "general", 0.3},
		{"optimize everything", "optimize", "general", 0.6},
	}

	p := NewKeywordParser()
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			got, err := p.Parse(context.Background(), tt.command)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if got.PrimaryAction != tt.action {
				t.Errorf("expected action %q, got %q", tt.action, got.PrimaryAction)
			}
			if got.EntityType != tt.entity {
				t.Errorf("expected entity %q, got %q", tt.entity, got.EntityType)
			}
			if got.Confidence != tt.confidence {
				t.Errorf("expected confidence %v, got %v", tt.confidence, got.Confidence)
			}
			if got.Raw != tt.command {
				t.Errorf("expected raw to be preserved")
			}
		})
	}
}

func TestKeywordParserParameters(t *testing.T) {
	got, err := NewKeywordParser().Parse(context.Background(), `create campaign "Summer Sale" with $250 budget`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.Parameters["budget"] != 250.0 {
		t.Errorf("expected budget 250, got %v", got.Parameters["budget"])
	}
	if got.Parameters["name"] != "Summer Sale" {
		t.Errorf("expected name parameter, got %v", got.Parameters["name"])
	}
	if got.Key() != "create:campaign" {
		t.Errorf("expected key create:campaign, got %s", got.Key())
	}
}

func TestKeywordParserCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewKeywordParser().Parse(ctx, "launch campaign"); err == nil {
		t.Error("expected error for cancelled context")
	}
}
