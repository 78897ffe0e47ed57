package judge

import (
	"testing"
)

func TestCleanJSONBlock(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "json code block",
			input:    "```json\n{\"strategy\": \"full\"}\n```",
			expected: `{"strategy": "full"}`,
		},
		{
			name:     "generic code block",
			input:    "```\n{\"strategy\": \"full\"}\n```",
			expected: `{"strategy": "full"}`,
		},
		{
			name:     "code block with language",
			input:    "```javascript\n{\"strategy\": \"full\"}\n```",
			expected: `{"strategy": "full"}`,
		},
		{
			name:     "plain JSON",
			input:    `{"strategy": "full"}`,
			expected: `{"strategy": "full"}`,
		},
		{
			name:     "surrounding whitespace",
			input:    "  \n{\"strategy\": \"full\"}\n ",
			expected: `{"strategy": "full"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CleanJSONBlock(tt.input)
			if result != tt.expected {
				t.Errorf("CleanJSONBlock() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestParseLooseJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{
			name:  "clean object",
			input: `{"strategy": "full", "top_n_candidates": 20}`,
		},
		{
			name:  "fenced object",
			input: "```json\n{\"strategy\": \"full\"}\n```",
		},
		{
			name:  "preamble before object",
			input: "Here is the plan you asked for:\n{\"strategy\": \"full\"}",
		},
		{
			name:  "object with trailing chatter",
			input: "{\"strategy\": \"full\"}\n\nLet me know if you need anything else!",
		},
		{
			name:    "no JSON at all",
			input:   "I could not produce a plan.",
			wantErr: true,
		},
		{
			name:    "empty",
			input:   "",
			wantErr: true,
		},
		{
			name:    "unclosed object",
			input:   `{"strategy": "full"`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out map[string]any
			err := ParseLooseJSON(tt.input, &out)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseLooseJSON() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && out["strategy"] != "full" {
				t.Errorf("ParseLooseJSON() strategy = %v, want full", out["strategy"])
			}
		})
	}
}

func TestParseLooseJSONArray(t *testing.T) {
	input := "Evaluations below:\n[{\"researcher_id\": 1, \"opportunity_id\": 2, \"relevance\": 80}]"
	var out []map[string]any
	if err := ParseLooseJSON(input, &out); err != nil {
		t.Fatalf("ParseLooseJSON() error = %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("ParseLooseJSON() len = %d, want 1", len(out))
	}
	if out[0]["relevance"] != float64(80) {
		t.Errorf("relevance = %v, want 80", out[0]["relevance"])
	}
}

func TestModelForFallsBack(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.ModelFor(AgentCritic); got != "gemini-2.5-pro" {
		t.Errorf("ModelFor(critic) = %q", got)
	}
	if got := cfg.ModelFor("unknown-agent"); got != "gemini-2.5-flash" {
		t.Errorf("ModelFor(unknown) = %q, want standard tier model", got)
	}

	lite := &Config{
		Models: map[ModelTier]string{TierLite: "gemini-2.5-flash-lite"},
		Agents: map[string]ModelTier{AgentPlanner: TierAdvanced},
	}
	if got := lite.ModelFor(AgentPlanner); got != "gemini-2.5-flash-lite" {
		t.Errorf("ModelFor with only lite = %q", got)
	}
}
