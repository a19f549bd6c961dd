package rag

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// pointNamespace seeds deterministic point ids, so re-indexing a chunk
// overwrites its previous point instead of duplicating it.
var pointNamespace = uuid.MustParse("9a3c2f6e-4b1d-5e8a-9c7f-2d6b8e1a4f30")

// pointID maps a stable key (chunk uid or page key) to a Qdrant point UUID.
func pointID(key string) string {
	return uuid.NewSHA1(pointNamespace, []byte(key)).String()
}

// QdrantConfig holds connection parameters for a Qdrant collection.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// NewQdrantClient opens a gRPC client for cfg, applying host/port defaults.
func NewQdrantClient(cfg *QdrantConfig) (*qdrant.Client, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}
	return client, nil
}

// collection wraps one Qdrant collection with the operations both indexes use.
type collection struct {
	client *qdrant.Client
	name   string
	size   uint64
}

// ensure creates the collection if it does not already exist.
func (c *collection) ensure(ctx context.Context) error {
	exists, err := c.client.CollectionExists(ctx, c.name)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = c.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: c.name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     c.size,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", c.name, err)
	}
	return nil
}

func (c *collection) upsert(ctx context.Context, points []*qdrant.PointStruct) error {
	if len(points) == 0 {
		return nil
	}
	wait := true
	_, err := c.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: c.name,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert into %q failed: %w", c.name, err)
	}
	return nil
}

func (c *collection) query(ctx context.Context, vec []float32, k int) ([]*qdrant.ScoredPoint, error) {
	limit := uint64(k)
	results, err := c.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: c.name,
		Query:          qdrant.NewQuery(vec...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search %q failed: %w", c.name, err)
	}
	return results, nil
}

// deleteDoc removes every point whose doc_id payload equals docID.
func (c *collection) deleteDoc(ctx context.Context, docID int64) error {
	wait := true
	_, err := c.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: c.name,
		Wait:           &wait,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatchInt("doc_id", docID)},
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete doc %d from %q failed: %w", docID, c.name, err)
	}
	return nil
}

// QdrantTextIndex implements TextIndex backed by a Qdrant collection.
type QdrantTextIndex struct {
	col collection
}

// NewQdrantTextIndex ensures the chunk collection exists and returns an index
// over it. The client is owned by the caller.
func NewQdrantTextIndex(ctx context.Context, client *qdrant.Client, name string, vectorSize uint64) (*QdrantTextIndex, error) {
	idx := &QdrantTextIndex{col: collection{client: client, name: name, size: vectorSize}}
	if err := idx.col.ensure(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

// Upsert writes chunk points keyed by a UUID derived from the chunk uid.
func (x *QdrantTextIndex) Upsert(ctx context.Context, points []TextPoint, vecs [][]float32) error {
	if len(points) != len(vecs) {
		return fmt.Errorf("qdrant: %d points but %d vectors", len(points), len(vecs))
	}
	out := make([]*qdrant.PointStruct, 0, len(points))
	for i, p := range points {
		out = append(out, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(p.ChunkUID)),
			Vectors: qdrant.NewVectors(vecs[i]...),
			Payload: qdrant.NewValueMap(textPayload(p)),
		})
	}
	return x.col.upsert(ctx, out)
}

// Search returns the k chunks nearest to vec by cosine similarity.
func (x *QdrantTextIndex) Search(ctx context.Context, vec []float32, k int) ([]TextHit, error) {
	results, err := x.col.query(ctx, vec, k)
	if err != nil {
		return nil, err
	}
	hits := make([]TextHit, 0, len(results))
	for _, r := range results {
		hit := textHitFromPayload(r.GetPayload())
		hit.Score = float64(r.GetScore())
		hits = append(hits, hit)
	}
	return hits, nil
}

// DeleteDoc removes every chunk point of docID.
func (x *QdrantTextIndex) DeleteDoc(ctx context.Context, docID int64) error {
	return x.col.deleteDoc(ctx, docID)
}

func textPayload(p TextPoint) map[string]any {
	return map[string]any{
		"chunk_uid":    p.ChunkUID,
		"chunk_id":     p.ChunkID,
		"chunk_index":  int64(p.ChunkIndex),
		"doc_id":       p.DocID,
		"page_num":     int64(p.PageNum),
		"section_name": p.Section,
		"text_offset":  int64(p.Offset),
		"text":         p.Text,
	}
}

func textHitFromPayload(p map[string]*qdrant.Value) TextHit {
	return TextHit{
		ChunkUID: p["chunk_uid"].GetStringValue(),
		ChunkID:  p["chunk_id"].GetStringValue(),
		DocID:    p["doc_id"].GetIntegerValue(),
		PageNum:  int(p["page_num"].GetIntegerValue()),
		Text:     p["text"].GetStringValue(),
	}
}
