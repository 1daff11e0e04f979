package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"OPENAI_API_KEY", "AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT", "QDRANT_HOST", "QDRANT_COLLECTION"} {
		t.Setenv(key, "")
	}
}

func TestSetDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "disabled", cfg.LLM.Type)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, "auto", cfg.Embeddings.Type)
	assert.Equal(t, 1536, cfg.Embeddings.Dimension)
	assert.Equal(t, 6334, cfg.Qdrant.Port)
	assert.Equal(t, "edu_agentic_rag", cfg.Qdrant.Collection)
	assert.Equal(t, 900, cfg.RAG.ChunkSize)
	assert.Equal(t, 120, cfg.RAG.ChunkOverlap)
	assert.Equal(t, "rrf", cfg.RAG.Fusion)
	assert.Equal(t, 0.6, cfg.RAG.Alpha)
	assert.Equal(t, 20, cfg.Session.WindowSize)
	assert.Equal(t, 2, cfg.Tools.MaxReplans)
}

func TestSetDefaults_InfersProviderFromKey(t *testing.T) {
	cfg := &Config{}
	cfg.LLM.APIKey = "sk-test"
	cfg.SetDefaults()

	assert.Equal(t, "openai", cfg.LLM.Type)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults pass",
			mutate: func(cfg *Config) {},
		},
		{
			name:    "bad llm type",
			mutate:  func(cfg *Config) { cfg.LLM.Type = "anthropic" },
			wantErr: "invalid llm.type",
		},
		{
			name:    "bad fusion",
			mutate:  func(cfg *Config) { cfg.RAG.Fusion = "borda" },
			wantErr: "invalid rag.fusion",
		},
		{
			name:    "alpha out of range",
			mutate:  func(cfg *Config) { cfg.RAG.Alpha = 1.5 },
			wantErr: "rag.alpha",
		},
		{
			name: "overlap larger than chunk",
			mutate: func(cfg *Config) {
				cfg.RAG.ChunkSize = 100
				cfg.RAG.ChunkOverlap = 100
			},
			wantErr: "chunk_overlap",
		},
		{
			name:    "bad port",
			mutate:  func(cfg *Config) { cfg.Server.Port = 70000 },
			wantErr: "invalid server.port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.SetDefaults()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSessionConfigDurations(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()

	assert.Equal(t, 24*time.Hour, cfg.Session.SessionTimeout())
	assert.Equal(t, 60*time.Minute, cfg.Session.CleanupPeriod())
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	clearProviderEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "disabled", cfg.LLM.Type)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address())
}

func TestLoad_YAMLWithEnvExpansion(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("MAESTRO_TEST_PORT", "9090")

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  port: ${MAESTRO_TEST_PORT}
qdrant:
  host: ${MAESTRO_TEST_QDRANT:-qdrant.internal}
rag:
  fusion: minmax
  alpha: 0.3
tools:
  weather_url: http://weather:8001
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "qdrant.internal", cfg.Qdrant.Host)
	assert.Equal(t, "minmax", cfg.RAG.Fusion)
	assert.Equal(t, 0.3, cfg.RAG.Alpha)
	assert.Equal(t, "http://weather:8001", cfg.Tools.WeatherURL)
	// Untouched sections still get defaults.
	assert.Equal(t, 900, cfg.RAG.ChunkSize)
}

func TestLoad_InvalidConfigRejected(t *testing.T) {
	clearProviderEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rag:\n  fusion: borda\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-live")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.LLM.Type)
	assert.Equal(t, "sk-live", cfg.LLM.APIKey)
	// Embeddings inherit the chat key when not set separately.
	assert.Equal(t, "sk-live", cfg.Embeddings.APIKey)
}

func TestExpandEnvVarsInData(t *testing.T) {
	t.Setenv("MAESTRO_TEST_FLAG", "true")

	in := map[string]interface{}{
		"flag":   "${MAESTRO_TEST_FLAG}",
		"number": "${MAESTRO_TEST_NUM:-42}",
		"plain":  "unchanged",
		"nested": []interface{}{"${MAESTRO_TEST_NUM:-3.5}"},
	}

	out := ExpandEnvVarsInData(in).(map[string]interface{})
	assert.Equal(t, true, out["flag"])
	assert.Equal(t, 42, out["number"])
	assert.Equal(t, "unchanged", out["plain"])
	assert.Equal(t, 3.5, out["nested"].([]interface{})[0])
}

func TestProviderAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-a")
	t.Setenv("AZURE_OPENAI_API_KEY", "az-b")

	assert.Equal(t, "sk-a", ProviderAPIKey("openai"))
	assert.Equal(t, "az-b", ProviderAPIKey("azure"))
	assert.Equal(t, "", ProviderAPIKey("ollama"))
}
