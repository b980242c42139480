package semcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/orchd/internal/plan"
)

var qdrantTracer = otel.Tracer("orchd.semcache.qdrant")

// QdrantConfig holds configuration for the Qdrant gRPC backend.
type QdrantConfig struct {
	// Host is the Qdrant server hostname. Default: "localhost".
	Host string

	// Port is the gRPC port (6334), not the HTTP REST port (6333).
	Port int

	// APIKey authenticates against Qdrant Cloud. Optional.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// Collection is the plan template collection name.
	// Default: "orchd_plans"
	Collection string

	// VectorSize must match the embedder's output dimension.
	// Default: 384 (BAAI/bge-small-en-v1.5)
	VectorSize uint64
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "orchd_plans"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("qdrant cache: host required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("qdrant cache: invalid port: %d", c.Port)
	}
	if c.Collection == "" {
		return fmt.Errorf("qdrant cache: collection required")
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("qdrant cache: vector size required")
	}
	return nil
}

// QdrantCache is a Cache backed by a shared Qdrant server over gRPC,
// for deployments where several workers must see the same templates.
type QdrantCache struct {
	client   *qdrant.Client
	embedder Embedder
	config   QdrantConfig
	minScore float32
	logger   *zap.Logger
}

// NewQdrantCache connects to Qdrant and ensures the template
// collection exists with a cosine distance index.
func NewQdrantCache(cfg QdrantConfig, minScore float32, embedder Embedder, logger *zap.Logger) (*QdrantCache, error) {
	if embedder == nil {
		return nil, fmt.Errorf("qdrant cache: embedder is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}

	cache := &QdrantCache{
		client:   client,
		embedder: embedder,
		config:   cfg,
		minScore: minScore,
		logger:   logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := cache.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("Qdrant plan cache connected",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("collection", cfg.Collection),
		zap.Float32("min_score", minScore))
	return cache, nil
}

func (c *QdrantCache) ensureCollection(ctx context.Context) error {
	exists, err := c.client.CollectionExists(ctx, c.config.Collection)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", c.config.Collection, err)
	}
	if exists {
		return nil
	}
	err = c.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: c.config.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     c.config.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", c.config.Collection, err)
	}
	return nil
}

// Lookup embeds the goal and queries for the nearest template. Nil
// means miss; a missing collection counts as an empty cache.
func (c *QdrantCache) Lookup(ctx context.Context, goal string) (*Match, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantCache.Lookup")
	defer span.End()

	vector, err := c.embedder.EmbedQuery(ctx, goal)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("embedding goal: %w", err)
	}

	points, err := c.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: c.config.Collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(1)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		if status.Code(err) == grpccodes.NotFound {
			return nil, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", c.config.Collection, err)
	}
	if len(points) == 0 {
		return nil, nil
	}

	best := points[0]
	templateID := best.Payload["template_id"].GetStringValue()
	span.SetAttributes(
		attribute.String("template_id", templateID),
		attribute.Float64("similarity", float64(best.Score)),
	)
	if best.Score < c.minScore {
		c.logger.Debug("plan cache near miss",
			zap.String("template_id", templateID),
			zap.Float32("similarity", best.Score),
			zap.Float32("min_score", c.minScore))
		return nil, nil
	}

	var steps []plan.Step
	if err := json.Unmarshal([]byte(best.Payload[stepsKey].GetStringValue()), &steps); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("decoding template %s steps: %w", templateID, err)
	}

	return &Match{TemplateID: templateID, Steps: steps, Similarity: best.Score}, nil
}

// Store upserts the plan's steps under the goal embedding and returns
// the minted template ID.
func (c *QdrantCache) Store(ctx context.Context, goal string, p plan.Plan) (string, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantCache.Store")
	defer span.End()

	stepsJSON, err := json.Marshal(p.Steps)
	if err != nil {
		return "", fmt.Errorf("encoding plan steps: %w", err)
	}

	vector, err := c.embedder.EmbedQuery(ctx, goal)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("embedding goal: %w", err)
	}

	pointID := uuid.NewString()
	templateID := "tpl-" + pointID
	payload := map[string]*qdrant.Value{
		"template_id": {Kind: &qdrant.Value_StringValue{StringValue: templateID}},
		"goal":        {Kind: &qdrant.Value_StringValue{StringValue: goal}},
		stepsKey:      {Kind: &qdrant.Value_StringValue{StringValue: string(stepsJSON)}},
	}

	_, err = c.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: c.config.Collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(pointID),
			Vectors: qdrant.NewVectors(vector...),
			Payload: payload,
		}},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("upserting template: %w", err)
	}

	span.SetAttributes(attribute.String("template_id", templateID))
	c.logger.Debug("plan template stored",
		zap.String("template_id", templateID),
		zap.Int("steps", len(p.Steps)))
	return templateID, nil
}

// Close closes the gRPC connection.
func (c *QdrantCache) Close() error {
	return c.client.Close()
}
