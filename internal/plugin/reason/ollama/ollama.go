package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
	"github.com/sectormem/sectormem/internal/config"
	registryreason "github.com/sectormem/sectormem/internal/registry/reason"
)

func init() {
	registryreason.Register(registryreason.Plugin{
		Name:   "ollama",
		Loader: load,
	})
}

func load(ctx context.Context) (registryreason.Reasoner, error) {
	cfg := config.FromContext(ctx)
	host := "http://localhost:11434"
	model := "llama3.2"
	if cfg != nil {
		if cfg.OllamaHost != "" {
			host = cfg.OllamaHost
		}
		if cfg.OllamaModel != "" {
			model = cfg.OllamaModel
		}
	}
	uri, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("ollama reasoner: invalid host %q: %w", host, err)
	}
	return &Reasoner{
		client: api.NewClient(uri, http.DefaultClient),
		model:  model,
	}, nil
}

type Reasoner struct {
	client *api.Client
	model  string
}

func (r *Reasoner) Name() string { return "ollama" }

func (r *Reasoner) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	var messages []api.Message
	if systemPrompt != "" {
		messages = append(messages, api.Message{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, api.Message{Role: "user", Content: prompt})

	req := &api.ChatRequest{
		Model:    r.model,
		Messages: messages,
		Stream:   new(bool), // false
	}

	var out string
	err := r.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		out += resp.Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat failed: %w", err)
	}
	return out, nil
}

var _ registryreason.Reasoner = (*Reasoner)(nil)
