// Package review generates the review-attention prompt and parses the
// agent's verdict. The parser is pure: it never touches the store.
package review

import (
	"encoding/json"
	"fmt"

	"github.com/outerlook/helmsman/internal/jsonextract"
)

// Result is the agent's verdict on whether its work needs a human.
type Result struct {
	// NeedsAttention is true when a human should look before merging.
	NeedsAttention bool
	// Reasoning is the agent's brief explanation, when given.
	Reasoning *string
}

// response mirrors the JSON document; needs_attention is required.
type response struct {
	NeedsAttention *bool   `json:"needs_attention"`
	Reasoning      *string `json:"reasoning"`
}

// Prompt returns the follow-up message asking the agent to judge its
// own work against the attention criteria.
func Prompt(taskDescription, agentSummary string) string {
	return fmt.Sprintf(`Please analyze whether your completed work requires human attention or review.

## Original Task
%s

## Your Work Summary
%s

## Analysis Instructions
Evaluate your work and determine if a human needs to review it. Consider:

**Needs attention if ANY of these apply:**
- Errors occurred during execution that weren't fully resolved
- Work is incomplete or partially done
- You encountered blockers or made significant assumptions
- Tests are failing or were skipped
- You're uncertain about the correctness of your implementation
- Security-sensitive changes were made
- Breaking changes or API modifications were introduced
- You had to deviate significantly from the task requirements
- Configuration or environment issues remain unresolved

**Does NOT need attention if:**
- Task was completed successfully with all requirements met
- All tests pass (if applicable)
- No errors or warnings remain
- Implementation follows established patterns
- Changes are straightforward and low-risk

Respond with a JSON object:

`+"```json"+`
{
  "needs_attention": true,
  "reasoning": "Brief explanation of why attention is or isn't needed"
}
`+"```"+`

Be honest and conservative - when in doubt, flag for attention.`, taskDescription, agentSummary)
}

// Parse extracts the verdict from a raw agent response. A document
// without the needs_attention field is a parse error.
func Parse(assistantMessage string) (Result, error) {
	doc, err := jsonextract.Extract(assistantMessage)
	if err != nil {
		return Result{}, fmt.Errorf("parse review attention response: %w", err)
	}

	var resp response
	if err := json.Unmarshal([]byte(doc), &resp); err != nil {
		return Result{}, fmt.Errorf("parse review attention response: invalid structure: %w", err)
	}
	if resp.NeedsAttention == nil {
		return Result{}, fmt.Errorf("parse review attention response: missing needs_attention field")
	}

	return Result{NeedsAttention: *resp.NeedsAttention, Reasoning: resp.Reasoning}, nil
}
