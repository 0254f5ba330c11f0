// Package commitmsg generates merge commit messages. When the
// commit-message agent is enabled in config, a small disposable API
// call produces the message; otherwise callers fall back to the
// default template.
package commitmsg

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"

	"github.com/outerlook/helmsman/internal/text"
	"github.com/outerlook/helmsman/pkg/models"
)

// defaultPrompt is used when no prompt override is configured.
const defaultPrompt = `Write a single-line git commit message (under 72 characters) summarizing the completed task below. Respond with the commit message only, no quotes and no explanation.

Task: %s

%s`

// DefaultMessage is the fallback commit message template.
func DefaultMessage(task models.Task, workspaceID uuid.UUID) string {
	return fmt.Sprintf("%s (helmsman %s)", task.Title, text.ShortUUID(workspaceID))
}

// Generator produces commit messages through the Anthropic API.
type Generator struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewGenerator creates a generator. The API key falls back to the
// ANTHROPIC_API_KEY environment variable; model may be empty for the
// default.
func NewGenerator(apiKey string, model string) (*Generator, error) {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
	}

	m := anthropic.ModelClaude3_5Haiku20241022
	if model != "" {
		m = anthropic.Model(model)
	}

	return &Generator{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  m,
	}, nil
}

// Generate asks the model for a commit message. promptOverride replaces
// the default prompt template when non-empty; the task title and
// description are appended to it, and it is not formatted.
func (g *Generator) Generate(ctx context.Context, promptOverride string, task models.Task) (string, error) {
	prompt := buildPrompt(promptOverride, task)

	resp, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     g.model,
		MaxTokens: 128,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("commit message generation: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(variant.Text)
		}
	}

	message := firstLine(strings.TrimSpace(sb.String()))
	if message == "" {
		return "", fmt.Errorf("commit message generation: empty response")
	}
	return message, nil
}

// buildPrompt fills the prompt template with the task fields. A
// configured override replaces the instruction block; the task context
// is always appended.
func buildPrompt(override string, task models.Task) string {
	if override != "" {
		return override + "\n\nTask: " + task.Title + "\n\n" + task.Description
	}
	return fmt.Sprintf(defaultPrompt, task.Title, task.Description)
}

// firstLine strips everything after the first newline.
func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return s
}
