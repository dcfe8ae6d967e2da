package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "")
	t.Setenv("PORT", "")

	cfg, err := LoadConfig(writeConfigFile(t, "llm:\n  model: llama3\n"))
	require.NoError(t, err)

	assert.Equal(t, "llama3", cfg.LLM.Model)
	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, "http://localhost:11434", cfg.LLM.BaseURL)
	assert.Equal(t, 2000, cfg.LLM.MaxTokens)
	assert.Equal(t, 768, cfg.Embedding.VectorDim)
	assert.Equal(t, "en", cfg.YouTube.Language)
	assert.Equal(t, 500, cfg.Chunker.ChunkSize)
	assert.Equal(t, 100, cfg.Chunker.ChunkOverlap)
	assert.Equal(t, 10, cfg.Retrieval.TopK)
	assert.Equal(t, 0.5, cfg.Retrieval.PerVideoCap)
	assert.Equal(t, "8080", cfg.Server.Port)
}

func TestLoadConfigReadsAllSections(t *testing.T) {
	cfg, err := LoadConfig(writeConfigFile(t, `
llm:
  provider: openai
  model: gpt-4o-mini
  max_tokens: 1024
  temperature: 0.2
embedding:
  model: text-embedding-3-small
  vector_dim: 1536
youtube:
  rate_limit: 4
  language: de
chunker:
  chunk_size: 800
  chunk_overlap: 150
retrieval:
  top_k: 6
  fetch_k: 30
  per_video_cap: 0.4
server:
  port: "9000"
`))
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, 1024, cfg.LLM.MaxTokens)
	assert.Equal(t, 0.2, cfg.LLM.Temperature)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.Model)
	assert.Equal(t, 1536, cfg.Embedding.VectorDim)
	assert.Equal(t, 4.0, cfg.YouTube.RateLimit)
	assert.Equal(t, "de", cfg.YouTube.Language)
	assert.Equal(t, 800, cfg.Chunker.ChunkSize)
	assert.Equal(t, 150, cfg.Chunker.ChunkOverlap)
	assert.Equal(t, 6, cfg.Retrieval.TopK)
	assert.Equal(t, 30, cfg.Retrieval.FetchK)
	assert.Equal(t, 0.4, cfg.Retrieval.PerVideoCap)
	assert.Equal(t, "9000", cfg.Server.Port)
}

func TestLoadConfigMergesEnvironment(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "http://ollama.internal:11434")
	t.Setenv("PORT", "3000")

	cfg, err := LoadConfig(writeConfigFile(t, "llm:\n  base_url: http://localhost:11434\n"))
	require.NoError(t, err)

	assert.Equal(t, "http://ollama.internal:11434", cfg.LLM.BaseURL)
	assert.Equal(t, "http://ollama.internal:11434", cfg.Embedding.BaseURL)
	assert.Equal(t, "3000", cfg.Server.Port)
}

func TestLoadConfigNoFileMergesEnvironment(t *testing.T) {
	// Point the default locations at an empty home so no file is found.
	t.Setenv("HOME", t.TempDir())
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OLLAMA_BASE_URL", "")
	t.Setenv("PORT", "")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "openai", cfg.Embedding.Provider)
	assert.Equal(t, "8080", cfg.Server.Port)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	_, err := LoadConfig(writeConfigFile(t, "llm: [not a mapping"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error parsing config file")
}

func TestValidateDefaultsPass(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	assert.Empty(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)

	cfg.LLM.Provider = "anthropic"
	cfg.LLM.MaxTokens = 100000
	cfg.Retrieval.TopK = 50
	cfg.Retrieval.FetchK = 40
	cfg.Retrieval.PerVideoCap = 1.5
	cfg.Chunker.ChunkOverlap = 600

	errs := cfg.Validate()
	fields := make([]string, len(errs))
	for i, e := range errs {
		fields[i] = e.Field
	}

	assert.Contains(t, fields, "llm.provider")
	assert.Contains(t, fields, "llm.max_tokens")
	assert.Contains(t, fields, "retrieval.fetch_k")
	assert.Contains(t, fields, "retrieval.per_video_cap")
	assert.Contains(t, fields, "chunker.chunk_overlap")
}

func TestValidationErrorString(t *testing.T) {
	err := ValidationError{Field: "llm.provider", Message: "unknown provider: x"}
	assert.Equal(t, "llm.provider: unknown provider: x", err.Error())
}
