package index

import (
	"context"

	"github.com/kailas-cloud/vecrank/internal/db"
	domindex "github.com/kailas-cloud/vecrank/internal/domain/index"
	indexrepo "github.com/kailas-cloud/vecrank/internal/repository/index"
)

// Repository defines the storage contract for the vector index.
type Repository interface {
	Name() string
	Params() domindex.Params
	Supports(kind domindex.Kind) bool
	Create(ctx context.Context, kind domindex.Kind) error
	Drop(ctx context.Context) error
	Exists(ctx context.Context) (bool, error)
	Info(ctx context.Context) (*db.IndexInfo, error)
	SaveMeta(ctx context.Context, m indexrepo.Meta) error
	LoadMeta(ctx context.Context) (indexrepo.Meta, bool, error)
}
