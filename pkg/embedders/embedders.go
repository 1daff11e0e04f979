package embedders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jykim-lab/maestro/pkg/config"
	"github.com/jykim-lab/maestro/pkg/httpclient"
)

// Embedder turns texts into dense vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Name() string
}

// ErrNoProvider keeps the exact message clients match on when mapping the
// failure to a 503 with a configuration hint.
var ErrNoProvider = errors.New("No embedding provider configured")

// NewEmbedderFromConfig resolves the embedding provider. "auto" prefers
// OpenAI and falls back to Azure when the Azure triple is complete.
func NewEmbedderFromConfig(cfg *config.EmbeddingsConfig) (Embedder, error) {
	switch cfg.Type {
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: embeddings.api_key is required for openai", ErrNoProvider)
		}
		return newOpenAIEmbedder(cfg, false), nil
	case "azure":
		if cfg.APIKey == "" || cfg.BaseURL == "" || cfg.Model == "" {
			return nil, fmt.Errorf("%w: azure embeddings need api_key, base_url and model (deployment)", ErrNoProvider)
		}
		return newOpenAIEmbedder(cfg, true), nil
	case "auto", "":
		if cfg.APIKey != "" && !strings.Contains(cfg.BaseURL, ".azure.") {
			return newOpenAIEmbedder(cfg, false), nil
		}
		if cfg.APIKey != "" && cfg.BaseURL != "" && cfg.Model != "" {
			return newOpenAIEmbedder(cfg, true), nil
		}
		return nil, ErrNoProvider
	case "disabled":
		return nil, ErrNoProvider
	default:
		return nil, fmt.Errorf("unknown embeddings provider type: %s", cfg.Type)
	}
}

// openAIEmbedder calls the OpenAI (or Azure OpenAI) embeddings endpoint.
type openAIEmbedder struct {
	client     *httpclient.Client
	apiKey     string
	baseURL    string
	model      string
	apiVersion string
	dimension  int
	azure      bool
}

func newOpenAIEmbedder(cfg *config.EmbeddingsConfig, azure bool) *openAIEmbedder {
	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = "2024-02-01"
	}
	return &openAIEmbedder{
		client: httpclient.New(
			httpclient.WithTimeout(time.Duration(cfg.Timeout) * time.Second),
		),
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		apiVersion: apiVersion,
		dimension:  cfg.Dimension,
		azure:      azure,
	}
}

func (e *openAIEmbedder) Name() string {
	if e.azure {
		return "azure"
	}
	return "openai"
}

func (e *openAIEmbedder) Dimension() int {
	return e.dimension
}

type embeddingRequest struct {
	Model string   `json:"model,omitempty"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (e *openAIEmbedder) endpoint() string {
	if e.azure {
		return fmt.Sprintf("%s/openai/deployments/%s/embeddings?api-version=%s",
			e.baseURL, e.model, e.apiVersion)
	}
	return e.baseURL + "/embeddings"
}

// Embed vectorizes the texts in one request. Newlines are flattened to
// spaces before embedding.
func (e *openAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	cleaned := make([]string, len(texts))
	for i, t := range texts {
		cleaned[i] = strings.ReplaceAll(t, "\n", " ")
	}

	reqBody := embeddingRequest{Input: cleaned}
	headers := map[string]string{}
	if e.azure {
		headers["api-key"] = e.apiKey
	} else {
		reqBody.Model = e.model
		headers["Authorization"] = "Bearer " + e.apiKey
	}

	var resp embeddingResponse
	if err := e.client.PostJSONWithHeaders(ctx, e.endpoint(), headers, reqBody, &resp); err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("embedding error: %s", resp.Error.Message)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response size mismatch: sent %d texts, got %d vectors",
			len(texts), len(resp.Data))
	}

	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}
