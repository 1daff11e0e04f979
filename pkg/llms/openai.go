package llms

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jykim-lab/maestro/pkg/config"
	"github.com/jykim-lab/maestro/pkg/httpclient"
)

// openAIProvider speaks the OpenAI chat completions API. The same wire shape
// serves Azure OpenAI; only the URL layout and auth header differ.
type openAIProvider struct {
	client      *httpclient.Client
	apiKey      string
	baseURL     string
	model       string
	apiVersion  string
	temperature float64
	maxTokens   int
	azure       bool
}

func newOpenAIProvider(cfg *config.ProviderConfig, azure bool) *openAIProvider {
	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = "2024-02-01"
	}
	return &openAIProvider{
		client: httpclient.New(
			httpclient.WithTimeout(time.Duration(cfg.Timeout) * time.Second),
		),
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		apiVersion:  apiVersion,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		azure:       azure,
	}
}

func (p *openAIProvider) Name() string {
	if p.azure {
		return "azure"
	}
	return "openai"
}

type chatRequest struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (p *openAIProvider) endpoint() string {
	if p.azure {
		return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
			p.baseURL, p.model, p.apiVersion)
	}
	return p.baseURL + "/chat/completions"
}

// Chat sends the messages and returns the first choice's content.
func (p *openAIProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	reqBody := chatRequest{
		Messages:    messages,
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
	}
	if !p.azure {
		reqBody.Model = p.model
	}

	headers := map[string]string{}
	if p.azure {
		headers["api-key"] = p.apiKey
	} else {
		headers["Authorization"] = "Bearer " + p.apiKey
	}

	var resp chatResponse
	if err := p.client.PostJSONWithHeaders(ctx, p.endpoint(), headers, reqBody, &resp); err != nil {
		return "", fmt.Errorf("chat completion request failed: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("chat completion error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
