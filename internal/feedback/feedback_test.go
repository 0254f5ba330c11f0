package feedback

import (
	"strings"
	"testing"
)

func strval(p *string) string {
	if p == nil {
		return "<nil>"
	}
	return *p
}

func TestPromptContainsAllFields(t *testing.T) {
	p := Prompt()
	for _, field := range []string{
		"task_clarity", "missing_tools", "integration_problems",
		"improvement_suggestions", "agent_documentation", "JSON",
	} {
		if !strings.Contains(p, field) {
			t.Errorf("prompt missing %q", field)
		}
	}
}

func TestParseHappyPath(t *testing.T) {
	in := `{"task_clarity":"clear","missing_tools":null,"integration_problems":null,"improvement_suggestions":"better errors","agent_documentation":"done"}`

	parsed, err := Parse(in)
	if err != nil {
		t.Fatal(err)
	}
	if strval(parsed.TaskClarity) != "clear" {
		t.Errorf("task_clarity = %s", strval(parsed.TaskClarity))
	}
	if parsed.MissingTools != nil {
		t.Error("missing_tools should be nil")
	}
	if parsed.IntegrationProblems != nil {
		t.Error("integration_problems should be nil")
	}
	if strval(parsed.ImprovementSuggestions) != "better errors" {
		t.Errorf("improvement_suggestions = %s", strval(parsed.ImprovementSuggestions))
	}
	if strval(parsed.AgentDocumentation) != "done" {
		t.Errorf("agent_documentation = %s", strval(parsed.AgentDocumentation))
	}
}

func TestParseMarkdownCodeBlock(t *testing.T) {
	in := "Here's my feedback:\n\n```json\n{\"task_clarity\": \"Very clear\", \"agent_documentation\": \"All done\"}\n```\n\nHope this helps!"

	parsed, err := Parse(in)
	if err != nil {
		t.Fatal(err)
	}
	if strval(parsed.TaskClarity) != "Very clear" {
		t.Errorf("task_clarity = %s", strval(parsed.TaskClarity))
	}
	if strval(parsed.AgentDocumentation) != "All done" {
		t.Errorf("agent_documentation = %s", strval(parsed.AgentDocumentation))
	}
}

func TestParseEmbeddedInText(t *testing.T) {
	in := `Sure, here's my feedback:

{"task_clarity": "Good", "integration_problems": "Build was slow"}

Let me know if you need more details.`

	parsed, err := Parse(in)
	if err != nil {
		t.Fatal(err)
	}
	if strval(parsed.IntegrationProblems) != "Build was slow" {
		t.Errorf("integration_problems = %s", strval(parsed.IntegrationProblems))
	}
}

func TestParseEmptyReturnsError(t *testing.T) {
	if _, err := Parse(""); err == nil {
		t.Error("empty input should error")
	}
	if _, err := Parse("  \n\t "); err == nil {
		t.Error("whitespace input should error")
	}
}

func TestParseMalformedReturnsError(t *testing.T) {
	if _, err := Parse("This is not valid JSON at all {broken"); err == nil {
		t.Error("malformed input should error")
	}
}

func TestParseSpecialCharacters(t *testing.T) {
	in := `{"task_clarity": "The task said \"implement feature X\"", "missing_tools": "Need {curly} braces support"}`

	parsed, err := Parse(in)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(strval(parsed.TaskClarity), "implement feature X") {
		t.Error("escaped quotes lost")
	}
	if !strings.Contains(strval(parsed.MissingTools), "{curly}") {
		t.Error("braces in strings lost")
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	in := `{"task_clarity":"clear","missing_tools":null,"integration_problems":null,"improvement_suggestions":"better errors","agent_documentation":"done"}`

	parsed, err := Parse(in)
	if err != nil {
		t.Fatal(err)
	}
	encoded, err := parsed.RawJSON()
	if err != nil {
		t.Fatal(err)
	}
	reparsed, err := Parse(encoded)
	if err != nil {
		t.Fatalf("re-parse of serializer output failed: %v", err)
	}
	if strval(reparsed.TaskClarity) != strval(parsed.TaskClarity) ||
		strval(reparsed.ImprovementSuggestions) != strval(parsed.ImprovementSuggestions) ||
		strval(reparsed.AgentDocumentation) != strval(parsed.AgentDocumentation) {
		t.Error("fields not preserved through format/parse round trip")
	}
	if reparsed.MissingTools != nil || reparsed.IntegrationProblems != nil {
		t.Error("nil fields not preserved through round trip")
	}
}
