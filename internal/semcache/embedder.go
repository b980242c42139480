package semcache

import (
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// EmbedderConfig configures the OpenAI-compatible embedding client.
// Works against the OpenAI API or any TEI-style server that speaks the
// same protocol.
type EmbedderConfig struct {
	// BaseURL of the embedding API.
	// TEI: http://localhost:8080/v1, OpenAI: https://api.openai.com/v1
	BaseURL string

	// Model name, e.g. BAAI/bge-small-en-v1.5 or text-embedding-3-small.
	Model string

	// APIKey is required for OpenAI, optional for TEI.
	APIKey string
}

// Validate validates the configuration.
func (c EmbedderConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("embedder: base URL required")
	}
	if c.Model == "" {
		return fmt.Errorf("embedder: model required")
	}
	return nil
}

// NewEmbedder builds the goal embedder used by every cache backend.
func NewEmbedder(cfg EmbedderConfig) (Embedder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// langchaingo requires a token even for keyless TEI servers.
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "placeholder"
	}

	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
		openai.WithEmbeddingModel(cfg.Model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("creating embedding client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return embedder, nil
}
