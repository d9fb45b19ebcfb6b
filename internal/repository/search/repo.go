package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/kailas-cloud/vecrank/internal/db"
	"github.com/kailas-cloud/vecrank/internal/domain"
	domchunk "github.com/kailas-cloud/vecrank/internal/domain/chunk"
	"github.com/kailas-cloud/vecrank/internal/repository/chunk"
)

// connPool is the consumer interface for the store connection pool (ISP).
type connPool interface {
	With(ctx context.Context, fn func(db.Conn) error) error
}

// Candidate is a raw KNN hit before scoring.
type Candidate struct {
	Chunk      domchunk.Chunk
	Similarity float64
}

// Repo executes KNN plans on pooled store connections.
type Repo struct {
	pool   connPool
	prefix string
}

// New creates a search repository.
func New(p connPool, prefix string) *Repo {
	return &Repo{pool: p, prefix: prefix}
}

// SearchKNN acquires a connection, runs the plan and decodes candidates in store order.
// A missing index surfaces as *domain.IndexUnavailableError.
func (r *Repo) SearchKNN(ctx context.Context, q *db.KNNQuery) ([]Candidate, error) {
	if len(q.ReturnFields) == 0 {
		q.ReturnFields = chunk.ReturnFields
	}

	var sr *db.SearchResult
	err := r.pool.With(ctx, func(c db.Conn) error {
		var err error
		sr, err = c.SearchKNN(ctx, q)
		return err //nolint:wrapcheck // wrapped below
	})
	if err != nil {
		if errors.Is(err, db.ErrIndexNotFound) {
			return nil, &domain.IndexUnavailableError{Kind: q.IndexName, Reason: "index does not exist"}
		}
		return nil, fmt.Errorf("search knn %s: %w", q.IndexName, err)
	}

	return r.parseKNNResults(sr)
}

func (r *Repo) parseKNNResults(sr *db.SearchResult) ([]Candidate, error) {
	if sr == nil || len(sr.Entries) == 0 {
		return nil, nil
	}

	out := make([]Candidate, 0, len(sr.Entries))
	for _, entry := range sr.Entries {
		c, err := chunk.Decode(strings.TrimPrefix(entry.Key, r.prefix), entry.Fields)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", entry.Key, err)
		}
		out = append(out, Candidate{Chunk: c, Similarity: entry.Score})
	}
	return out, nil
}

// DiscardConn reports whether an error returned on a pooled connection means the connection is unusable.
// Query-level errors (missing index, bad plan, server-side errors) keep the connection.
func DiscardConn(err error) bool {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, db.ErrConnClosed),
		errors.Is(err, io.EOF):
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
