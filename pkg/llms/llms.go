package llms

import (
	"context"
	"errors"
	"fmt"

	"github.com/jykim-lab/maestro/pkg/config"
)

// Message is one chat turn sent to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatProvider generates a completion for a message sequence.
type ChatProvider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
	Name() string
}

// ErrProviderUnavailable means no chat provider is configured. Callers fall
// back to rule-based behavior instead of failing the request.
var ErrProviderUnavailable = errors.New("no chat provider configured")

// NewProviderFromConfig builds a chat provider for the configured type.
func NewProviderFromConfig(cfg *config.ProviderConfig) (ChatProvider, error) {
	switch cfg.Type {
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("llm.api_key is required for openai provider")
		}
		return newOpenAIProvider(cfg, false), nil
	case "azure":
		if cfg.APIKey == "" || cfg.BaseURL == "" {
			return nil, fmt.Errorf("llm.api_key and llm.base_url are required for azure provider")
		}
		return newOpenAIProvider(cfg, true), nil
	case "disabled", "":
		return &disabledProvider{}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider type: %s", cfg.Type)
	}
}

type disabledProvider struct{}

func (p *disabledProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	return "", ErrProviderUnavailable
}

func (p *disabledProvider) Name() string {
	return "disabled"
}
