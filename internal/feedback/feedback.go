// Package feedback generates the post-task feedback prompt and parses
// the agent's JSON response. The parser is pure: it never touches the
// store.
package feedback

import (
	"encoding/json"
	"fmt"

	"github.com/outerlook/helmsman/internal/jsonextract"
)

// Parsed is the structured feedback extracted from an agent response.
// Absent fields stay nil.
type Parsed struct {
	// TaskClarity is feedback on whether the task description was clear.
	TaskClarity *string `json:"task_clarity"`
	// MissingTools lists capabilities that would have helped.
	MissingTools *string `json:"missing_tools"`
	// IntegrationProblems covers environment and build issues.
	IntegrationProblems *string `json:"integration_problems"`
	// ImprovementSuggestions are general workflow suggestions.
	ImprovementSuggestions *string `json:"improvement_suggestions"`
	// AgentDocumentation records notes the agent wants kept.
	AgentDocumentation *string `json:"agent_documentation"`
}

// Prompt returns the follow-up message asking the agent for feedback.
func Prompt() string {
	return `Please provide feedback about your experience working on this task.

Respond with a JSON object containing the following fields (use null for any field you don't have feedback on):

` + "```json" + `
{
  "task_clarity": "Your feedback on whether the task description was clear and complete. What was confusing or missing?",
  "missing_tools": "What tools, capabilities, or access would have made this task easier? What couldn't you do that you needed to?",
  "integration_problems": "Any issues with the development environment, build system, dependencies, or integration with external services?",
  "improvement_suggestions": "General suggestions for improving the system, workflow, or agent capabilities.",
  "agent_documentation": "Any notes, learnings, or documentation you'd like to record about this task for future reference."
}
` + "```" + `

Be specific and actionable in your feedback. If a category doesn't apply, set it to null.`
}

// Parse extracts structured feedback from a raw agent response.
func Parse(assistantMessage string) (Parsed, error) {
	doc, err := jsonextract.Extract(assistantMessage)
	if err != nil {
		return Parsed{}, fmt.Errorf("parse feedback response: %w", err)
	}

	var parsed Parsed
	if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
		return Parsed{}, fmt.Errorf("parse feedback response: invalid structure: %w", err)
	}
	return parsed, nil
}

// RawJSON re-encodes the parsed feedback as the canonical JSON document
// stored on the agent_feedback row.
func (p Parsed) RawJSON() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode feedback: %w", err)
	}
	return string(data), nil
}
