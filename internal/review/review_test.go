package review

import (
	"strings"
	"testing"
)

func TestPromptContainsTaskAndSummary(t *testing.T) {
	p := Prompt("Implement user login", "Added login form and validation")

	if !strings.Contains(p, "Implement user login") {
		t.Error("prompt missing task description")
	}
	if !strings.Contains(p, "Added login form and validation") {
		t.Error("prompt missing agent summary")
	}
	for _, needle := range []string{"needs_attention", "reasoning", "Errors", "incomplete", "Tests", "JSON"} {
		if !strings.Contains(p, needle) {
			t.Errorf("prompt missing %q", needle)
		}
	}
}

func TestParseValidResponse(t *testing.T) {
	in := `{"needs_attention": true, "reasoning": "Tests are failing for edge cases"}`

	result, err := Parse(in)
	if err != nil {
		t.Fatal(err)
	}
	if !result.NeedsAttention {
		t.Error("needs_attention should be true")
	}
	if result.Reasoning == nil || *result.Reasoning != "Tests are failing for edge cases" {
		t.Error("reasoning lost")
	}
}

func TestParseFencedBlock(t *testing.T) {
	in := "Here's my take:\n```json\n{\"needs_attention\":false,\"reasoning\":\"All tests pass\"}\n```\n"

	result, err := Parse(in)
	if err != nil {
		t.Fatal(err)
	}
	if result.NeedsAttention {
		t.Error("needs_attention should be false")
	}
	if result.Reasoning == nil || *result.Reasoning != "All tests pass" {
		t.Errorf("reasoning = %v, want All tests pass", result.Reasoning)
	}
}

func TestParseNullReasoning(t *testing.T) {
	in := `{"needs_attention": false, "reasoning": null}`

	result, err := Parse(in)
	if err != nil {
		t.Fatal(err)
	}
	if result.NeedsAttention {
		t.Error("needs_attention should be false")
	}
	if result.Reasoning != nil {
		t.Error("reasoning should be nil")
	}
}

func TestParseEmbeddedInText(t *testing.T) {
	in := `After analyzing the work:

{"needs_attention": true, "reasoning": "Database migration needs verification"}

Let me know if you need more details.`

	result, err := Parse(in)
	if err != nil {
		t.Fatal(err)
	}
	if !result.NeedsAttention {
		t.Error("needs_attention should be true")
	}
}

func TestParseMissingRequiredField(t *testing.T) {
	in := `{"reasoning": "Some reasoning but no verdict"}`
	if _, err := Parse(in); err == nil {
		t.Error("missing needs_attention should be a parse error")
	}
}

func TestParseEmptyAndMalformed(t *testing.T) {
	if _, err := Parse(""); err == nil {
		t.Error("empty input should error")
	}
	if _, err := Parse("not json {broken"); err == nil {
		t.Error("malformed input should error")
	}
}
