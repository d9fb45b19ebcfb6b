package chunk

import (
	"fmt"
	"regexp"
	"time"
)

var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_:-]+$`)

// MaxContentSize is the maximum chunk content size in bytes.
const MaxContentSize = 163840 // 160KB

// Chunk is a unit of retrievable content (immutable value object).
type Chunk struct {
	id        string
	content   string
	embedding []float32
	metadata  Metadata
	version   int
	updatedAt time.Time
}

// New validates and creates a Chunk.
// ID: ^[a-zA-Z0-9_:-]+$, 1-256 chars. Content: non-empty, max 160KB.
// Embedding dimension is checked by the ingestion service, which knows the deployment dimension.
func New(id, content string, metadata map[string]any) (Chunk, error) {
	if id == "" {
		return Chunk{}, fmt.Errorf("chunk ID is required")
	}
	if len(id) > 256 {
		return Chunk{}, fmt.Errorf("chunk ID too long (max 256)")
	}
	if !idRegex.MatchString(id) {
		return Chunk{}, fmt.Errorf("chunk ID must be alphanumeric with underscores, colons and hyphens")
	}
	if content == "" {
		return Chunk{}, fmt.Errorf("content is required")
	}
	if len(content) > MaxContentSize {
		return Chunk{}, fmt.Errorf("content too large (max %d bytes)", MaxContentSize)
	}
	return Chunk{
		id:       id,
		content:  content,
		metadata: Metadata(cloneMap(metadata)),
		version:  1,
	}, nil
}

// Reconstruct creates a Chunk without validation (storage hydration).
func Reconstruct(
	id, content string, metadata map[string]any, embedding []float32, version int, updatedAt time.Time,
) Chunk {
	return Chunk{
		id: id, content: content, metadata: metadata, embedding: embedding,
		version: version, updatedAt: updatedAt,
	}
}

// ID returns the chunk identifier.
func (c *Chunk) ID() string { return c.id }

// Content returns the chunk text payload.
func (c *Chunk) Content() string { return c.content }

// Embedding returns the embedding vector.
func (c *Chunk) Embedding() []float32 { return c.embedding }

// Metadata returns the open metadata map.
func (c *Chunk) Metadata() Metadata { return c.metadata }

// Version returns the chunk version, bumped whenever the embedding is replaced.
func (c *Chunk) Version() int { return c.version }

// UpdatedAt returns the last write time.
func (c *Chunk) UpdatedAt() time.Time { return c.updatedAt }

// WithEmbedding returns a copy carrying the given embedding.
func (c *Chunk) WithEmbedding(v []float32) Chunk {
	out := *c
	out.embedding = v
	return out
}

// Stamp returns a copy with the given version and write time.
func (c *Chunk) Stamp(version int, now time.Time) Chunk {
	out := *c
	out.version = version
	out.updatedAt = now
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
