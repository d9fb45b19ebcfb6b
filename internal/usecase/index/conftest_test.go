package index

import (
	"context"

	"github.com/kailas-cloud/vecrank/internal/db"
	domindex "github.com/kailas-cloud/vecrank/internal/domain/index"
	indexrepo "github.com/kailas-cloud/vecrank/internal/repository/index"
)

// stubRepo is an in-memory Repository for backends the memory store does not model.
type stubRepo struct {
	supported map[domindex.Kind]bool
	created   domindex.Kind
	meta      *indexrepo.Meta
}

func (r *stubRepo) Name() string { return "stub" }

func (r *stubRepo) Params() domindex.Params { return params }

func (r *stubRepo) Supports(kind domindex.Kind) bool { return r.supported[kind] }

func (r *stubRepo) Create(_ context.Context, kind domindex.Kind) error {
	r.created = kind
	return nil
}

func (r *stubRepo) Drop(_ context.Context) error {
	r.created = ""
	r.meta = nil
	return nil
}

func (r *stubRepo) Exists(_ context.Context) (bool, error) { return r.created != "", nil }

func (r *stubRepo) Info(_ context.Context) (*db.IndexInfo, error) {
	return &db.IndexInfo{Name: "stub"}, nil
}

func (r *stubRepo) SaveMeta(_ context.Context, m indexrepo.Meta) error {
	r.meta = &m
	return nil
}

func (r *stubRepo) LoadMeta(_ context.Context) (indexrepo.Meta, bool, error) {
	if r.meta == nil {
		return indexrepo.Meta{}, false, nil
	}
	return *r.meta, true, nil
}
