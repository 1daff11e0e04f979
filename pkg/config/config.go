package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the orchestrator process.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	LLM        ProviderConfig   `yaml:"llm"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Qdrant     QdrantConfig     `yaml:"qdrant"`
	RAG        RAGConfig        `yaml:"rag"`
	Session    SessionConfig    `yaml:"session"`
	Tools      ToolsConfig      `yaml:"tools"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ProviderConfig configures the chat LLM provider.
// Type is one of: "openai", "azure", "disabled".
type ProviderConfig struct {
	Type        string  `yaml:"type"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	APIVersion  string  `yaml:"api_version"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	Timeout     int     `yaml:"timeout"`
}

// EmbeddingsConfig configures the embedding provider.
// Type is one of: "openai", "azure", "auto", "disabled".
type EmbeddingsConfig struct {
	Type       string `yaml:"type"`
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	APIVersion string `yaml:"api_version"`
	Dimension  int    `yaml:"dimension"`
	Timeout    int    `yaml:"timeout"`
}

// QdrantConfig configures the vector store connection.
type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key"`
	UseTLS     bool   `yaml:"use_tls"`
	Collection string `yaml:"collection"`
}

// RAGConfig configures chunking, retrieval and indexing.
type RAGConfig struct {
	ChunkSize          int     `yaml:"chunk_size"`
	ChunkOverlap       int     `yaml:"chunk_overlap"`
	Fusion             string  `yaml:"fusion"`
	Alpha              float64 `yaml:"alpha"`
	RRFK               int     `yaml:"rrf_k"`
	CandidateMultiple  int     `yaml:"candidate_multiple"`
	ScrollLimit        int     `yaml:"scroll_limit"`
	SnippetChars       int     `yaml:"snippet_chars"`
	DocsRoot           string  `yaml:"docs_root"`
	Docset             string  `yaml:"docset"`
	AutoIndexThreshold int     `yaml:"auto_index_threshold"`
	WatchDocs          bool    `yaml:"watch_docs"`
}

// SessionConfig configures the in-memory context store.
type SessionConfig struct {
	WindowSize      int `yaml:"window_size"`
	TimeoutHours    int `yaml:"timeout_hours"`
	CleanupInterval int `yaml:"cleanup_interval_minutes"`
}

// ToolsConfig holds base URLs for the downstream tool services.
type ToolsConfig struct {
	WeatherURL      string `yaml:"weather_url"`
	CalendarURL     string `yaml:"calendar_url"`
	FilesURL        string `yaml:"files_url"`
	NotificationURL string `yaml:"notification_url"`
	Timeout         int    `yaml:"timeout"`
	MaxReplans      int    `yaml:"max_replans"`
}

// SetDefaults fills zero values with working defaults.
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = []string{"*"}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "simple"
	}
	if c.LLM.Type == "" {
		if c.LLM.APIKey != "" {
			c.LLM.Type = "openai"
		} else {
			c.LLM.Type = "disabled"
		}
	}
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.2
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 1024
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 30
	}
	if c.Embeddings.Type == "" {
		c.Embeddings.Type = "auto"
	}
	if c.Embeddings.BaseURL == "" {
		c.Embeddings.BaseURL = "https://api.openai.com/v1"
	}
	if c.Embeddings.Model == "" {
		c.Embeddings.Model = "text-embedding-3-small"
	}
	if c.Embeddings.Dimension == 0 {
		c.Embeddings.Dimension = 1536
	}
	if c.Embeddings.Timeout == 0 {
		c.Embeddings.Timeout = 30
	}
	if c.Qdrant.Host == "" {
		c.Qdrant.Host = "localhost"
	}
	if c.Qdrant.Port == 0 {
		c.Qdrant.Port = 6334
	}
	if c.Qdrant.Collection == "" {
		c.Qdrant.Collection = "edu_agentic_rag"
	}
	if c.RAG.ChunkSize == 0 {
		c.RAG.ChunkSize = 900
	}
	if c.RAG.ChunkOverlap == 0 {
		c.RAG.ChunkOverlap = 120
	}
	if c.RAG.Fusion == "" {
		c.RAG.Fusion = "rrf"
	}
	if c.RAG.Alpha == 0 {
		c.RAG.Alpha = 0.6
	}
	if c.RAG.RRFK == 0 {
		c.RAG.RRFK = 60
	}
	if c.RAG.CandidateMultiple == 0 {
		c.RAG.CandidateMultiple = 4
	}
	if c.RAG.ScrollLimit == 0 {
		c.RAG.ScrollLimit = 5000
	}
	if c.RAG.SnippetChars == 0 {
		c.RAG.SnippetChars = 1200
	}
	if c.RAG.Docset == "" {
		c.RAG.Docset = "default"
	}
	if c.RAG.AutoIndexThreshold == 0 {
		c.RAG.AutoIndexThreshold = 20
	}
	if c.Session.WindowSize == 0 {
		c.Session.WindowSize = 20
	}
	if c.Session.TimeoutHours == 0 {
		c.Session.TimeoutHours = 24
	}
	if c.Session.CleanupInterval == 0 {
		c.Session.CleanupInterval = 60
	}
	if c.Tools.WeatherURL == "" {
		c.Tools.WeatherURL = "http://localhost:8001"
	}
	if c.Tools.CalendarURL == "" {
		c.Tools.CalendarURL = "http://localhost:8002"
	}
	if c.Tools.FilesURL == "" {
		c.Tools.FilesURL = "http://localhost:8003"
	}
	if c.Tools.NotificationURL == "" {
		c.Tools.NotificationURL = "http://localhost:8004"
	}
	if c.Tools.Timeout == 0 {
		c.Tools.Timeout = 10
	}
	if c.Tools.MaxReplans == 0 {
		c.Tools.MaxReplans = 2
	}
}

// Validate checks invariants that SetDefaults cannot repair.
func (c *Config) Validate() error {
	switch c.LLM.Type {
	case "openai", "azure", "disabled":
	default:
		return fmt.Errorf("invalid llm.type %q (expected openai, azure, or disabled)", c.LLM.Type)
	}
	if c.LLM.Type == "azure" && c.LLM.BaseURL == "" {
		return fmt.Errorf("llm.base_url is required for azure provider")
	}
	switch c.Embeddings.Type {
	case "openai", "azure", "auto", "disabled":
	default:
		return fmt.Errorf("invalid embeddings.type %q (expected openai, azure, auto, or disabled)", c.Embeddings.Type)
	}
	switch c.RAG.Fusion {
	case "rrf", "minmax":
	default:
		return fmt.Errorf("invalid rag.fusion %q (expected rrf or minmax)", c.RAG.Fusion)
	}
	if c.RAG.Alpha < 0 || c.RAG.Alpha > 1 {
		return fmt.Errorf("rag.alpha must be in [0, 1], got %v", c.RAG.Alpha)
	}
	if c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("rag.chunk_overlap (%d) must be smaller than rag.chunk_size (%d)",
			c.RAG.ChunkOverlap, c.RAG.ChunkSize)
	}
	if c.Embeddings.Dimension <= 0 {
		return fmt.Errorf("embeddings.dimension must be positive, got %d", c.Embeddings.Dimension)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	return nil
}

// Address returns the host:port the HTTP server binds.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SessionTimeout returns the idle timeout as a duration.
func (c *SessionConfig) SessionTimeout() time.Duration {
	return time.Duration(c.TimeoutHours) * time.Hour
}

// CleanupPeriod returns the reclaimer interval as a duration.
func (c *SessionConfig) CleanupPeriod() time.Duration {
	return time.Duration(c.CleanupInterval) * time.Minute
}
