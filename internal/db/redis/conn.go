package redis

import (
	"context"
	"sync"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/vecrank/internal/db"
)

// Conn is a dedicated connection taken from the rueidis pool.
// Searches run on it exclusively until Close returns it.
type Conn struct {
	dc      rueidis.DedicatedClient
	release func()
	once    sync.Once
}

// Dial pins a dedicated connection for the connection pool.
func (s *Store) Dial(_ context.Context) (db.Conn, error) {
	dc, release := s.client.Dedicate()
	return &Conn{dc: dc, release: release}, nil
}

// Ping checks the dedicated connection.
func (c *Conn) Ping(ctx context.Context) error {
	return ping(ctx, c.dc)
}

// SearchKNN runs a KNN search on the dedicated connection.
func (c *Conn) SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	return searchKNN(ctx, c.dc, q)
}

// Close hands the connection back to rueidis. Safe to call more than once.
func (c *Conn) Close() {
	c.once.Do(c.release)
}
