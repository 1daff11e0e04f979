package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file, expands environment references, applies
// defaults and validates the result. An empty path yields a pure-defaults
// config driven by the environment.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		var tree map[string]interface{}
		if err := yaml.Unmarshal(raw, &tree); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}

		expanded := ExpandEnvVarsInData(tree)
		normalized, err := yaml.Marshal(expanded)
		if err != nil {
			return nil, fmt.Errorf("failed to normalize config: %w", err)
		}
		if err := yaml.Unmarshal(normalized, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides fills credentials and endpoints from the environment when
// the file leaves them blank. Conventional variable names follow the
// deployment environment of the downstream services.
func applyEnvOverrides(cfg *Config) {
	if cfg.LLM.APIKey == "" {
		if cfg.LLM.Type != "" {
			cfg.LLM.APIKey = ProviderAPIKey(cfg.LLM.Type)
		} else if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			cfg.LLM.APIKey = key
		} else if key := os.Getenv("AZURE_OPENAI_API_KEY"); key != "" {
			cfg.LLM.APIKey = key
			cfg.LLM.Type = "azure"
		}
	}
	if cfg.Embeddings.APIKey == "" {
		cfg.Embeddings.APIKey = cfg.LLM.APIKey
	}
	if v := os.Getenv("QDRANT_HOST"); v != "" && cfg.Qdrant.Host == "" {
		cfg.Qdrant.Host = v
	}
	if v := os.Getenv("QDRANT_COLLECTION"); v != "" && cfg.Qdrant.Collection == "" {
		cfg.Qdrant.Collection = v
	}
	if v := os.Getenv("AZURE_OPENAI_ENDPOINT"); v != "" && cfg.LLM.Type == "azure" && cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = v
	}
}
