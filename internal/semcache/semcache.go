// Package semcache caches generated plans keyed by goal similarity.
// A goal is embedded and matched against previously stored plan
// templates; a hit above the similarity threshold lets a run skip plan
// generation entirely. Two backends are provided: chromem (embedded,
// zero external services) and qdrant (shared gRPC server).
package semcache

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchd/internal/plan"
)

// DefaultMinScore is the cosine similarity a stored template must
// reach against the incoming goal to count as a hit.
const DefaultMinScore = 0.87

// Match is a cache hit: a stored plan template whose goal embedding
// cleared the similarity threshold.
type Match struct {
	TemplateID string      `json:"template_id"`
	Steps      []plan.Step `json:"steps"`
	Similarity float32     `json:"similarity"`
}

// Cache is a semantic plan cache backend. Lookup returns nil on a
// miss; errors are reserved for backend failures.
type Cache interface {
	Lookup(ctx context.Context, goal string) (*Match, error)
	Store(ctx context.Context, goal string, p plan.Plan) (string, error)
	Close() error
}

// Embedder produces vector embeddings for goal text. The langchaingo
// embedder returned by NewEmbedder satisfies this.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Config selects and tunes the cache backend.
type Config struct {
	// Provider chooses the backend: "chromem" (default) or "qdrant".
	Provider string

	// MinScore is the similarity threshold for a hit.
	// Default: DefaultMinScore.
	MinScore float32

	Chromem ChromemConfig
	Qdrant  QdrantConfig
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = "chromem"
	}
	if c.MinScore == 0 {
		c.MinScore = DefaultMinScore
	}
	c.Chromem.ApplyDefaults()
	c.Qdrant.ApplyDefaults()
}

// New creates a Cache for the configured provider.
//
//   - "chromem" (default): embedded persistent store, no server needed
//   - "qdrant": external Qdrant over gRPC, for shared deployments
func New(cfg Config, embedder Embedder, logger *zap.Logger) (Cache, error) {
	cfg.ApplyDefaults()

	switch cfg.Provider {
	case "chromem":
		return NewChromemCache(cfg.Chromem, cfg.MinScore, embedder, logger)
	case "qdrant":
		return NewQdrantCache(cfg.Qdrant, cfg.MinScore, embedder, logger)
	default:
		return nil, fmt.Errorf("unsupported semcache provider: %s (supported: chromem, qdrant)", cfg.Provider)
	}
}
