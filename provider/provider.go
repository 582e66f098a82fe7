package provider

import (
	"context"
	"errors"

	"github.com/mohammad-safakhou/deepresearch/config"
	openai_provider "github.com/mohammad-safakhou/deepresearch/provider/openai"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI    Client = "openai"
	Anthropic Client = "anthropic"
	Gemini    Client = "gemini"
)

// Provider is the interface that all LLM implementations must satisfy
type Provider interface {
	// Complete runs a chat completion against the named model and returns
	// the assistant message content. The system prompt may be empty.
	Complete(ctx context.Context, model, system, user string) (string, error)
}

// NewProvider creates a new LLM client based on the provided configuration
func NewProvider(client Client, cfg config.LLMProvider) (Provider, error) {
	switch client {
	case OpenAI:
		if cfg.APIKey == "" {
			return nil, errors.New("openai api key not configured")
		}
		return openai_provider.NewClient(cfg), nil
	case Anthropic:
		return nil, errors.New("anthropic client not implemented yet")
	case Gemini:
		return nil, errors.New("gemini client not implemented yet")
	default:
		return nil, errors.New("unsupported LLM provider")
	}
}
