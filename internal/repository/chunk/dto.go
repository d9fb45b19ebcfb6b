package chunk

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kailas-cloud/vecrank/internal/db"
	"github.com/kailas-cloud/vecrank/internal/domain"
	domchunk "github.com/kailas-cloud/vecrank/internal/domain/chunk"
	"github.com/kailas-cloud/vecrank/internal/domain/schema"
)

// System hash fields. Declared metadata fields are stored flat next to them.
const (
	FieldContent   = "__content"
	FieldMetadata  = "__metadata"
	FieldVersion   = "__version"
	FieldUpdatedAt = "__updated_at"
)

// TagSeparator joins tags values in a hash field; the index uses the same separator.
const TagSeparator = "|"

// ReturnFields are the hash fields a search needs to rebuild a chunk without its vector.
var ReturnFields = []string{FieldContent, FieldMetadata, FieldVersion, FieldUpdatedAt}

// buildHashFields flattens a chunk for HSET: system fields plus one field per declared metadata key.
// Missing or mistyped declared values are omitted, so the chunk is simply not matched by filters on them.
func buildHashFields(c *domchunk.Chunk, sch *schema.Schema) (map[string]string, error) {
	meta, err := json.Marshal(c.Metadata())
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	m := make(map[string]string, 5+len(sch.Fields()))
	m[FieldContent] = c.Content()
	m[db.VectorField] = db.VectorToBytes(c.Embedding())
	m[FieldMetadata] = string(meta)
	m[FieldVersion] = strconv.Itoa(c.Version())
	m[FieldUpdatedAt] = strconv.FormatInt(c.UpdatedAt().Unix(), 10)

	md := c.Metadata()
	for _, f := range sch.Fields() {
		switch f.Type {
		case schema.Tag:
			if v, ok := md.String(f.Name); ok && v != "" {
				if strings.Contains(v, TagSeparator) {
					return nil, domain.NewValidationError("metadata."+f.Name, "must not contain "+TagSeparator)
				}
				m[f.Name] = v
			}
		case schema.Tags:
			if vs, ok := md.Strings(f.Name); ok && len(vs) > 0 {
				for _, v := range vs {
					if strings.Contains(v, TagSeparator) {
						return nil, domain.NewValidationError("metadata."+f.Name, "must not contain "+TagSeparator)
					}
				}
				m[f.Name] = strings.Join(vs, TagSeparator)
			}
		case schema.Numeric:
			if v, ok := md.Number(f.Name); ok {
				m[f.Name] = strconv.FormatFloat(v, 'f', -1, 64)
			}
		case schema.Timestamp:
			if v, ok := md.Time(f.Name); ok {
				m[f.Name] = strconv.FormatInt(v.UnixMilli(), 10)
			}
		}
	}
	return m, nil
}

// Decode rebuilds a chunk from hash fields. The vector is decoded only when present.
func Decode(id string, m map[string]string) (domchunk.Chunk, error) {
	var meta map[string]any
	if raw := m[FieldMetadata]; raw != "" {
		dec := json.NewDecoder(strings.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&meta); err != nil {
			return domchunk.Chunk{}, fmt.Errorf("decode metadata of %s: %w", id, err)
		}
	}

	var vec []float32
	if raw, ok := m[db.VectorField]; ok {
		v, err := db.BytesToVector(raw)
		if err != nil {
			return domchunk.Chunk{}, fmt.Errorf("decode vector of %s: %w", id, err)
		}
		vec = v
	}

	version, _ := strconv.Atoi(m[FieldVersion])
	var updatedAt time.Time
	if sec, err := strconv.ParseInt(m[FieldUpdatedAt], 10, 64); err == nil {
		updatedAt = time.Unix(sec, 0).UTC()
	}

	return domchunk.Reconstruct(id, m[FieldContent], meta, vec, version, updatedAt), nil
}
