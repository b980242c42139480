package semcache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchd/internal/plan"
)

var chromemTracer = otel.Tracer("orchd.semcache.chromem")

// stepsKey holds the template's steps as JSON in document metadata.
const stepsKey = "steps"

// ChromemConfig holds configuration for the embedded chromem backend.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	// Default: "~/.config/orchd/semcache"
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// Collection is the plan template collection name.
	// Default: "orchd_plans"
	Collection string
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "~/.config/orchd/semcache"
	}
	if c.Collection == "" {
		c.Collection = "orchd_plans"
	}
}

// ChromemCache is an embedded Cache backed by chromem-go. Templates
// persist as gob files under the configured path, so a single-node
// deployment needs no external vector service.
type ChromemCache struct {
	db         *chromem.DB
	embedder   Embedder
	collection string
	minScore   float32
	logger     *zap.Logger
}

// NewChromemCache opens (or creates) the persistent store at the
// configured path.
func NewChromemCache(cfg ChromemConfig, minScore float32, embedder Embedder, logger *zap.Logger) (*ChromemCache, error) {
	if embedder == nil {
		return nil, fmt.Errorf("chromem cache: embedder is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()

	path, err := expandPath(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}

	db, err := chromem.NewPersistentDB(path, cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("opening chromem DB: %w", err)
	}

	cache := &ChromemCache{
		db:         db,
		embedder:   embedder,
		collection: cfg.Collection,
		minScore:   minScore,
		logger:     logger,
	}

	logger.Info("Chromem plan cache opened",
		zap.String("path", path),
		zap.String("collection", cfg.Collection),
		zap.Float32("min_score", minScore))
	return cache, nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// embeddingFunc adapts the Embedder for chromem query-time embedding.
func (c *ChromemCache) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return c.embedder.EmbedQuery(ctx, text)
	}
}

// Lookup embeds the goal and returns the nearest stored template when
// it clears the similarity threshold. Nil means miss.
func (c *ChromemCache) Lookup(ctx context.Context, goal string) (*Match, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemCache.Lookup")
	defer span.End()

	collection := c.db.GetCollection(c.collection, c.embeddingFunc())
	if collection == nil || collection.Count() == 0 {
		return nil, nil
	}

	results, err := collection.Query(ctx, goal, 1, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", c.collection, err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	best := results[0]
	span.SetAttributes(
		attribute.String("template_id", best.ID),
		attribute.Float64("similarity", float64(best.Similarity)),
	)
	if best.Similarity < c.minScore {
		c.logger.Debug("plan cache near miss",
			zap.String("template_id", best.ID),
			zap.Float32("similarity", best.Similarity),
			zap.Float32("min_score", c.minScore))
		return nil, nil
	}

	var steps []plan.Step
	if err := json.Unmarshal([]byte(best.Metadata[stepsKey]), &steps); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("decoding template %s steps: %w", best.ID, err)
	}

	return &Match{TemplateID: best.ID, Steps: steps, Similarity: best.Similarity}, nil
}

// Store indexes the plan's steps under the goal and returns the minted
// template ID.
func (c *ChromemCache) Store(ctx context.Context, goal string, p plan.Plan) (string, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemCache.Store")
	defer span.End()

	stepsJSON, err := json.Marshal(p.Steps)
	if err != nil {
		return "", fmt.Errorf("encoding plan steps: %w", err)
	}

	embedding, err := c.embedder.EmbedQuery(ctx, goal)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("embedding goal: %w", err)
	}

	collection, err := c.db.GetOrCreateCollection(c.collection, nil, c.embeddingFunc())
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("getting/creating collection %s: %w", c.collection, err)
	}

	templateID := "tpl-" + uuid.NewString()
	doc := chromem.Document{
		ID:        templateID,
		Content:   goal,
		Metadata:  map[string]string{stepsKey: string(stepsJSON)},
		Embedding: embedding,
	}
	if err := collection.AddDocuments(ctx, []chromem.Document{doc}, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("storing template: %w", err)
	}

	span.SetAttributes(attribute.String("template_id", templateID))
	c.logger.Debug("plan template stored",
		zap.String("template_id", templateID),
		zap.Int("steps", len(p.Steps)))
	return templateID, nil
}

// Close is a no-op; chromem persists on every write.
func (c *ChromemCache) Close() error {
	return nil
}
