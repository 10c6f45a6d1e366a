// Package prompt runs a file's saved prompts against a chat model.
//
// Calls are neither retried nor cached.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/hpungsan/folio/internal/config"
)

// NoAnswer is returned by Execute when the model produced no text.
const NoAnswer = "The model returned no answer."

// ErrNoAPIKey is returned when no API key is configured.
var ErrNoAPIKey = errors.New("OPENAI_API_KEY is not set")

// Runner sends a prompt with its document context to a model.
type Runner interface {
	Run(ctx context.Context, promptText, contextText string) (string, error)
}

// Options configures an OpenAIRunner.
type Options struct {
	APIKey string
	// BaseURL overrides the API endpoint for OpenAI-compatible servers.
	BaseURL      string
	Model        string
	SystemPrompt string
}

// OpenAIRunner is a Runner backed by the chat completions API.
type OpenAIRunner struct {
	client       *openai.Client
	model        string
	systemPrompt string
	log          logrus.FieldLogger
}

// NewOpenAIRunner builds a runner. Model and system prompt fall back to the
// config defaults.
func NewOpenAIRunner(opts Options, log logrus.FieldLogger) (*OpenAIRunner, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, ErrNoAPIKey
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	defaults := config.DefaultConfig()
	if opts.Model == "" {
		opts.Model = defaults.AIModel
	}
	if strings.TrimSpace(opts.SystemPrompt) == "" {
		opts.SystemPrompt = config.DefaultSystemPrompt
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	return &OpenAIRunner{
		client:       openai.NewClientWithConfig(cfg),
		model:        opts.Model,
		systemPrompt: opts.SystemPrompt,
		log:          log.WithField("model", opts.Model),
	}, nil
}

// Run implements Runner.
func (r *OpenAIRunner) Run(ctx context.Context, promptText, contextText string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: r.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: r.systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: UserMessage(promptText, contextText)},
		},
	}
	r.log.Debug("running prompt")
	resp, err := r.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	r.log.WithField("finish_reason", resp.Choices[0].FinishReason).Debug("prompt finished")
	return resp.Choices[0].Message.Content, nil
}

// UserMessage combines the document context and the task.
func UserMessage(promptText, contextText string) string {
	var b strings.Builder
	b.WriteString("Context:\n")
	b.WriteString(strings.TrimSpace(contextText))
	b.WriteString("\n\nTask:\n")
	b.WriteString(strings.TrimSpace(promptText))
	return b.String()
}

// Execute runs r and always returns text for the user: the model's answer,
// NoAnswer, or a description of the failure.
func Execute(ctx context.Context, r Runner, promptText, contextText string) string {
	if r == nil {
		return "Prompt failed: " + ErrNoAPIKey.Error()
	}
	out, err := r.Run(ctx, promptText, contextText)
	if err != nil {
		return "Prompt failed: " + err.Error()
	}
	if strings.TrimSpace(out) == "" {
		return NoAnswer
	}
	return out
}
