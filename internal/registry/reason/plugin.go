package reason

import (
	"context"
	"fmt"
)

// Reasoner generates free-form text from a prompt. The engine sends one
// prompt per reflection task and never retries internally.
type Reasoner interface {
	Generate(ctx context.Context, prompt, systemPrompt string) (string, error)
	// Name returns the plugin name (e.g. "openai", "gemini", "ollama").
	Name() string
}

// Loader creates a Reasoner from config.
type Loader func(ctx context.Context) (Reasoner, error)

// Plugin represents a reasoning service plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a reasoner plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered reasoner plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named reasoner plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown reasoner %q; valid: %v", name, Names())
}
