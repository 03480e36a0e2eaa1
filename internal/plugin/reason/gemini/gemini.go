package gemini

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"github.com/sectormem/sectormem/internal/config"
	registryreason "github.com/sectormem/sectormem/internal/registry/reason"
	"google.golang.org/api/option"
)

func init() {
	registryreason.Register(registryreason.Plugin{
		Name:   "gemini",
		Loader: load,
	})
}

func load(ctx context.Context) (registryreason.Reasoner, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("gemini reasoner: SECTORMEM_GEMINI_API_KEY is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	model := cfg.GeminiModel
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &Reasoner{client: client, model: model}, nil
}

type Reasoner struct {
	client *genai.Client
	model  string
}

func (r *Reasoner) Name() string { return "gemini" }

func (r *Reasoner) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	m := r.client.GenerativeModel(r.model)
	if systemPrompt != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}
	}

	resp, err := m.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini completion failed: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("gemini completion: no candidates returned")
	}

	var out string
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			out += string(text)
		}
	}
	return out, nil
}

var _ registryreason.Reasoner = (*Reasoner)(nil)
