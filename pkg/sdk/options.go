package vecrank

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type clientConfig struct {
	configFile string
	configEnv  string

	driver     string // "valkey", "redis" or "memory"
	addrs      []string
	password   string
	standalone bool

	embedder   Embedder
	dimensions int

	indexKind      IndexKind
	fallbackToFlat *bool
	cacheDriver    string

	logger     *slog.Logger
	metricsReg prometheus.Registerer
}

// WithConfigFile loads settings from a YAML config file. Other options override it.
func WithConfigFile(path string) Option {
	return optionFunc(func(c *clientConfig) {
		c.configFile = path
	})
}

// WithEnv loads config/{env}.yaml the way the server does. WithConfigFile takes precedence.
func WithEnv(env string) Option {
	return optionFunc(func(c *clientConfig) {
		c.configEnv = env
	})
}

// WithValkey configures the client to connect to a Valkey instance.
func WithValkey(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "valkey"
		c.addrs = []string{addr}
		c.password = password
	})
}

// WithRedis configures the client to connect to a Redis instance.
func WithRedis(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "redis"
		c.addrs = []string{addr}
		c.password = password
	})
}

// WithMemory keeps everything in process. Graph indexes fall back to flat.
// Intended for tests and small embedded corpora.
func WithMemory() Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "memory"
		c.addrs = nil
	})
}

// WithStandalone disables cluster topology discovery.
// Use for standalone Valkey/Redis instances (not managed by cluster operator).
func WithStandalone() Option {
	return optionFunc(func(c *clientConfig) {
		c.standalone = true
	})
}

// WithEmbedder sets the text embedding provider used for queries and chunks.
func WithEmbedder(e Embedder) Option {
	return optionFunc(func(c *clientConfig) {
		c.embedder = e
	})
}

// WithDimensions sets the vector dimension of the deployment.
// Defaults to 1024 (Qwen3-Embedding-8B).
func WithDimensions(dim int) Option {
	return optionFunc(func(c *clientConfig) {
		c.dimensions = dim
	})
}

// WithIndexKind selects the vector index algorithm; fallbackToFlat allows
// an exact index when the backend lacks the requested one.
func WithIndexKind(kind IndexKind, fallbackToFlat bool) Option {
	return optionFunc(func(c *clientConfig) {
		c.indexKind = kind
		c.fallbackToFlat = &fallbackToFlat
	})
}

// WithLocalCache keeps search results in an in-process LRU instead of the store.
func WithLocalCache() Option {
	return optionFunc(func(c *clientConfig) {
		c.cacheDriver = "lru"
	})
}

// WithLogger enables structured logging for SDK operations.
// Pass nil to disable (default). Uses standard library slog.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		c.logger = l
	})
}

// WithPrometheus registers SDK metrics (operation counts and durations)
// on the given registerer. Pass nil to disable (default).
func WithPrometheus(reg prometheus.Registerer) Option {
	return optionFunc(func(c *clientConfig) {
		c.metricsReg = reg
	})
}
