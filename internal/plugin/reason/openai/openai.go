package openai

import (
	"context"
	"fmt"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/sectormem/sectormem/internal/config"
	registryreason "github.com/sectormem/sectormem/internal/registry/reason"
)

func init() {
	registryreason.Register(registryreason.Plugin{
		Name:   "openai",
		Loader: load,
	})
}

func load(ctx context.Context) (registryreason.Reasoner, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("openai reasoner: SECTORMEM_OPENAI_API_KEY is required")
	}
	clientCfg := goopenai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		clientCfg.BaseURL = cfg.OpenAIBaseURL
	}
	model := cfg.OpenAIChatModel
	if model == "" {
		model = goopenai.GPT4oMini
	}
	return &Reasoner{
		client: goopenai.NewClientWithConfig(clientCfg),
		model:  model,
	}, nil
}

type Reasoner struct {
	client *goopenai.Client
	model  string
}

func (r *Reasoner) Name() string { return "openai" }

func (r *Reasoner) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	var messages []goopenai.ChatCompletionMessage
	if systemPrompt != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	messages = append(messages, goopenai.ChatCompletionMessage{
		Role:    goopenai.ChatMessageRoleUser,
		Content: prompt,
	})

	resp, err := r.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:    r.model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai completion: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

var _ registryreason.Reasoner = (*Reasoner)(nil)
