package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kailas-cloud/vecrank/internal/db"
	domindex "github.com/kailas-cloud/vecrank/internal/domain/index"
	"github.com/kailas-cloud/vecrank/internal/domain/schema"
	"github.com/kailas-cloud/vecrank/internal/repository/chunk"
)

// store is the consumer interface for index management (ISP).
//
//nolint:interfacebloat // index repo needs FT.* management plus KV for its metadata
type store interface {
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	DropIndex(ctx context.Context, name string) error
	IndexExists(ctx context.Context, name string) (bool, error)
	IndexInfo(ctx context.Context, name string) (*db.IndexInfo, error)
	SupportsAlgorithm(algo db.VectorAlgorithm) bool
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Meta is what the store cannot tell us about an index: the requested kind and whether it fell back.
type Meta struct {
	Requested domindex.Kind   `json:"requested"`
	Active    domindex.Kind   `json:"active"`
	Fallback  bool            `json:"fallback"`
	Params    domindex.Params `json:"params"`
	BuiltAt   time.Time       `json:"built_at"`
}

// Repo owns the FT index over chunk hashes.
type Repo struct {
	store  store
	name   string
	prefix string
	dim    int
	schema *schema.Schema
	params domindex.Params
}

// New creates an index repository.
func New(s store, name, prefix string, dim int, sch *schema.Schema, params domindex.Params) *Repo {
	return &Repo{store: s, name: name, prefix: prefix, dim: dim, schema: sch, params: params}
}

// Name returns the FT index name.
func (r *Repo) Name() string { return r.name }

// Params returns the configured tuning parameters.
func (r *Repo) Params() domindex.Params { return r.params }

// Supports reports whether the backend can build kind.
func (r *Repo) Supports(kind domindex.Kind) bool {
	return r.store.SupportsAlgorithm(algorithm(kind))
}

// Create runs FT.CREATE for kind.
func (r *Repo) Create(ctx context.Context, kind domindex.Kind) error {
	def, err := r.Definition(kind)
	if err != nil {
		return fmt.Errorf("build index: %w", err)
	}
	if err := r.store.CreateIndex(ctx, def); err != nil {
		return fmt.Errorf("create index %s: %w", r.name, err)
	}
	return nil
}

// Drop removes the index and keeps the chunk hashes. A missing index is not an error.
func (r *Repo) Drop(ctx context.Context) error {
	if err := r.store.DropIndex(ctx, r.name); err != nil && !errors.Is(err, db.ErrIndexNotFound) {
		return fmt.Errorf("drop index %s: %w", r.name, err)
	}
	return nil
}

// Exists checks for the FT index.
func (r *Repo) Exists(ctx context.Context) (bool, error) {
	ok, err := r.store.IndexExists(ctx, r.name)
	if err != nil {
		return false, fmt.Errorf("index exists %s: %w", r.name, err)
	}
	return ok, nil
}

// Info returns live counters from the store.
func (r *Repo) Info(ctx context.Context) (*db.IndexInfo, error) {
	info, err := r.store.IndexInfo(ctx, r.name)
	if err != nil {
		return nil, fmt.Errorf("index info %s: %w", r.name, err)
	}
	return info, nil
}

// SaveMeta persists index metadata next to the index.
func (r *Repo) SaveMeta(ctx context.Context, m Meta) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal index meta: %w", err)
	}
	if err := r.store.Set(ctx, r.metaKey(), data); err != nil {
		return fmt.Errorf("set index meta: %w", err)
	}
	return nil
}

// LoadMeta reads index metadata. ok is false when none was saved.
func (r *Repo) LoadMeta(ctx context.Context) (Meta, bool, error) {
	data, err := r.store.Get(ctx, r.metaKey())
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return Meta{}, false, nil
		}
		return Meta{}, false, fmt.Errorf("get index meta: %w", err)
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return Meta{}, false, fmt.Errorf("unmarshal index meta: %w", err)
	}
	return m, true, nil
}

func (r *Repo) metaKey() string { return r.name + ":meta" }

// Definition maps the metadata schema and kind onto an FT index definition.
// tag and tags fields become TAG with the chunk separator, numeric and timestamp become NUMERIC.
func (r *Repo) Definition(kind domindex.Kind) (*db.IndexDefinition, error) {
	b := db.NewIndex(r.name).Prefix(r.prefix)

	for _, f := range r.schema.Fields() {
		switch f.Type {
		case schema.Tag, schema.Tags:
			b.TagWithOpts(f.Name, chunk.TagSeparator, false)
		case schema.Numeric, schema.Timestamp:
			b.Numeric(f.Name)
		default:
			return nil, fmt.Errorf("unknown field type: %s", f.Type)
		}
	}

	p := r.params
	switch kind {
	case domindex.KindHNSW:
		b.VectorHNSW(db.VectorField, r.dim, db.DistanceCosine, p.M, p.EFConstruction)
	case domindex.KindIVF:
		b.VectorIVF(db.VectorField, r.dim, db.DistanceCosine, p.NList, p.NProbe)
	case domindex.KindFlat:
		b.VectorFlat(db.VectorField, r.dim, db.DistanceCosine, p.BlockSize)
	default:
		return nil, fmt.Errorf("unknown index kind %q", kind)
	}

	def, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("invalid index definition: %w", err)
	}
	return def, nil
}

func algorithm(kind domindex.Kind) db.VectorAlgorithm {
	switch kind {
	case domindex.KindHNSW:
		return db.VectorHNSW
	case domindex.KindIVF:
		return db.VectorIVF
	default:
		return db.VectorFlat
	}
}
