package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvVar selects the config file: config/{VECRANK_ENV}.yaml.
const EnvVar = "VECRANK_ENV"

// Config holds the vecrank configuration. Built once at startup and passed by value.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Auth      AuthConfig      `yaml:"auth"`
	Database  DatabaseConfig  `yaml:"database"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Schema    SchemaConfig    `yaml:"schema"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Cache     CacheConfig     `yaml:"cache"`
	Search    SearchConfig    `yaml:"search"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Health    HealthConfig    `yaml:"health"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings. No keys disables auth.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// DatabaseConfig holds backing store settings.
type DatabaseConfig struct {
	Driver           string        `yaml:"driver"` // redis, valkey, memory (default: redis)
	Addrs            []string      `yaml:"addrs"`
	Username         string        `yaml:"username"`
	Password         string        `yaml:"password"`
	DB               int           `yaml:"db"`
	Standalone       bool          `yaml:"standalone"`
	ReadinessTimeout time.Duration `yaml:"readiness_timeout"`
	Pool             PoolConfig    `yaml:"pool"`
}

// PoolConfig bounds concurrent store connections.
type PoolConfig struct {
	Min            int           `yaml:"min"`
	Max            int           `yaml:"max"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider            string               `yaml:"provider"` // openai (any OpenAI-compatible API)
	Model               string               `yaml:"model"`
	BaseURL             string               `yaml:"base_url"`
	APIKey              string               `yaml:"api_key"`
	Dimensions          int                  `yaml:"dimensions"`
	Timeout             time.Duration        `yaml:"timeout"`
	QueryInstruction    string               `yaml:"query_instruction"`
	DocumentInstruction string               `yaml:"document_instruction"`
	Cache               EmbeddingCacheConfig `yaml:"cache"`
}

// EmbeddingCacheConfig holds the query embedding cache settings.
type EmbeddingCacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"` // 0 keeps entries until evicted
}

// IndexConfig holds vector index settings.
type IndexConfig struct {
	Name           string     `yaml:"name"`
	Prefix         string     `yaml:"prefix"`
	Kind           string     `yaml:"kind"` // hnsw, ivf, flat
	FallbackToFlat bool       `yaml:"fallback_to_flat"`
	Distance       string     `yaml:"distance"` // COSINE only for now
	HNSW           HNSWConfig `yaml:"hnsw"`
	IVF            IVFConfig  `yaml:"ivf"`
	Flat           FlatConfig `yaml:"flat"`
}

// HNSWConfig holds graph index parameters.
type HNSWConfig struct {
	M              int `yaml:"m"`
	EFConstruction int `yaml:"ef_construction"`
	EFRuntime      int `yaml:"ef_runtime"`
}

// IVFConfig holds cluster index parameters.
type IVFConfig struct {
	NList  int `yaml:"nlist"`
	NProbe int `yaml:"nprobe"`
}

// FlatConfig holds exact index parameters.
type FlatConfig struct {
	BlockSize int `yaml:"block_size"`
}

// SchemaConfig declares indexed metadata and the filter vocabulary. Empty lists use the built-in defaults.
type SchemaConfig struct {
	Fields         []FieldConfig  `yaml:"fields"`
	Filters        []FilterConfig `yaml:"filters"`
	UnknownFilters string         `yaml:"unknown_filters"` // reject, ignore
}

// FieldConfig declares one indexed metadata key.
type FieldConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// FilterConfig binds a request filter key to a field and operator.
type FilterConfig struct {
	Key   string `yaml:"key"`
	Field string `yaml:"field"`
	Op    string `yaml:"op"`
}

// ScoringConfig holds default weights and ranking limits.
type ScoringConfig struct {
	Weights             WeightsConfig `yaml:"weights"`
	SimilarityThreshold float64       `yaml:"similarity_threshold"`
	DefaultMaxResults   int           `yaml:"default_max_results"`
	MaxResultsCeiling   int           `yaml:"max_results_ceiling"`
	Oversample          int           `yaml:"oversample"`
	MaxCandidates       int           `yaml:"max_candidates"`
	PriorityCap         float64       `yaml:"priority_cap"`
	PopularityCap       float64       `yaml:"popularity_cap"`
	RecencyHalfLife     time.Duration `yaml:"recency_half_life"`
}

// WeightsConfig holds default term weights. Nil means "use the built-in default"; 0 disables the term.
type WeightsConfig struct {
	Similarity *float64 `yaml:"similarity"`
	Priority   *float64 `yaml:"priority"`
	Popularity *float64 `yaml:"popularity"`
	Recency    *float64 `yaml:"recency"`
	Department *float64 `yaml:"department"`
}

// CacheConfig holds result cache settings.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Driver  string        `yaml:"driver"` // store, lru (default: store)
	TTL     time.Duration `yaml:"ttl"`
	Size    int           `yaml:"size"` // lru capacity
	Timeout time.Duration `yaml:"timeout"`
}

// SearchConfig holds per-call dependency timeouts.
type SearchConfig struct {
	EmbedTimeout time.Duration `yaml:"embed_timeout"`
	StoreTimeout time.Duration `yaml:"store_timeout"`
}

// RateLimitConfig holds per-caller limits.
type RateLimitConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Strategy   string        `yaml:"strategy"` // token_bucket, fixed_window
	RPS        float64       `yaml:"rps"`
	Burst      int           `yaml:"burst"`
	Window     time.Duration `yaml:"window"`
	Limit      int64         `yaml:"limit"`
	MaxCallers int           `yaml:"max_callers"`
}

// HealthConfig holds health monitor settings.
type HealthConfig struct {
	Interval     time.Duration `yaml:"interval"`
	CheckTimeout time.Duration `yaml:"check_timeout"`
	CanaryQuery  string        `yaml:"canary_query"`
}

// TelemetryConfig holds query stats retention.
type TelemetryConfig struct {
	Window int `yaml:"window"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	return LoadFile(findConfigPath(env))
}

// LoadFile reads configuration from an explicit path.
func LoadFile(configPath string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}
	return Parse(data)
}

// Parse expands env variables, decodes YAML, applies defaults and validates.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from VECRANK_ENV, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv(EnvVar); env != "" {
		return env
	}
	return "local"
}

func ptr(v float64) *float64 { return &v }

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "redis"
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10 * time.Second
	}
	if c.Database.Pool.Max <= 0 {
		c.Database.Pool.Max = 10
	}
	if c.Database.Pool.AcquireTimeout <= 0 {
		c.Database.Pool.AcquireTimeout = time.Second
	}
	if c.Database.Pool.IdleTimeout <= 0 {
		c.Database.Pool.IdleTimeout = 5 * time.Minute
	}

	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "openai"
	}
	if c.Embedding.Timeout <= 0 {
		c.Embedding.Timeout = 5 * time.Second
	}
	if c.Embedding.Cache.TTL <= 0 {
		c.Embedding.Cache.TTL = 24 * time.Hour
	}

	if c.Index.Name == "" {
		c.Index.Name = "vecrank:idx"
	}
	if c.Index.Prefix == "" {
		c.Index.Prefix = "vecrank:chunk:"
	}
	if c.Index.Kind == "" {
		c.Index.Kind = "hnsw"
	}
	if c.Index.Distance == "" {
		c.Index.Distance = "COSINE"
	}
	if c.Index.HNSW.M <= 0 {
		c.Index.HNSW.M = 16
	}
	if c.Index.HNSW.EFConstruction <= 0 {
		c.Index.HNSW.EFConstruction = 200
	}
	if c.Index.IVF.NList <= 0 {
		c.Index.IVF.NList = 64
	}
	if c.Index.IVF.NProbe <= 0 {
		c.Index.IVF.NProbe = 4
	}

	if c.Schema.UnknownFilters == "" {
		c.Schema.UnknownFilters = "reject"
	}

	w := &c.Scoring.Weights
	if w.Similarity == nil {
		w.Similarity = ptr(0.6)
	}
	if w.Priority == nil {
		w.Priority = ptr(0.15)
	}
	if w.Popularity == nil {
		w.Popularity = ptr(0.1)
	}
	if w.Recency == nil {
		w.Recency = ptr(0.05)
	}
	if w.Department == nil {
		w.Department = ptr(0.1)
	}
	if c.Scoring.DefaultMaxResults <= 0 {
		c.Scoring.DefaultMaxResults = 10
	}
	if c.Scoring.MaxResultsCeiling <= 0 {
		c.Scoring.MaxResultsCeiling = 100
	}
	if c.Scoring.Oversample <= 0 {
		c.Scoring.Oversample = 3
	}
	if c.Scoring.MaxCandidates <= 0 {
		c.Scoring.MaxCandidates = 1000
	}
	if c.Scoring.PriorityCap <= 0 {
		c.Scoring.PriorityCap = 5
	}
	if c.Scoring.PopularityCap <= 0 {
		c.Scoring.PopularityCap = 1000
	}
	if c.Scoring.RecencyHalfLife <= 0 {
		c.Scoring.RecencyHalfLife = 720 * time.Hour
	}

	if c.Cache.Driver == "" {
		c.Cache.Driver = "store"
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = 5 * time.Minute
	}
	if c.Cache.Size <= 0 {
		c.Cache.Size = 10000
	}
	if c.Cache.Timeout <= 0 {
		c.Cache.Timeout = 50 * time.Millisecond
	}

	if c.Search.EmbedTimeout <= 0 {
		c.Search.EmbedTimeout = 5 * time.Second
	}
	if c.Search.StoreTimeout <= 0 {
		c.Search.StoreTimeout = 2 * time.Second
	}

	if c.RateLimit.Strategy == "" {
		c.RateLimit.Strategy = "token_bucket"
	}
	if c.RateLimit.RPS <= 0 {
		c.RateLimit.RPS = 20
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 40
	}
	if c.RateLimit.Window <= 0 {
		c.RateLimit.Window = time.Minute
	}
	if c.RateLimit.Limit <= 0 {
		c.RateLimit.Limit = 600
	}
	if c.RateLimit.MaxCallers <= 0 {
		c.RateLimit.MaxCallers = 10000
	}

	if c.Health.Interval <= 0 {
		c.Health.Interval = 30 * time.Second
	}
	if c.Health.CheckTimeout <= 0 {
		c.Health.CheckTimeout = 2 * time.Second
	}
	if c.Health.CanaryQuery == "" {
		c.Health.CanaryQuery = "health check"
	}

	if c.Telemetry.Window <= 0 {
		c.Telemetry.Window = 1000
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	switch c.Database.Driver {
	case "redis", "valkey":
		if len(c.Database.Addrs) == 0 {
			return fmt.Errorf("database.addrs is required for driver %q", c.Database.Driver)
		}
	case "memory":
	default:
		return fmt.Errorf("database.driver must be redis, valkey or memory, got %q", c.Database.Driver)
	}
	if c.Database.Pool.Min < 0 || c.Database.Pool.Min > c.Database.Pool.Max {
		return fmt.Errorf("database.pool.min must be between 0 and %d, got %d", c.Database.Pool.Max, c.Database.Pool.Min)
	}

	if c.Embedding.Provider != "openai" {
		return fmt.Errorf("embedding.provider must be \"openai\", got %q", c.Embedding.Provider)
	}
	if c.Embedding.Model == "" {
		return fmt.Errorf("embedding.model is required")
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}

	switch c.Index.Kind {
	case "hnsw", "ivf", "flat":
	default:
		return fmt.Errorf("index.kind must be hnsw, ivf or flat, got %q", c.Index.Kind)
	}
	if !strings.EqualFold(c.Index.Distance, "COSINE") {
		return fmt.Errorf("index.distance must be COSINE, got %q", c.Index.Distance)
	}

	switch c.Schema.UnknownFilters {
	case "reject", "ignore":
	default:
		return fmt.Errorf("schema.unknown_filters must be \"reject\" or \"ignore\", got %q", c.Schema.UnknownFilters)
	}

	for name, w := range map[string]*float64{
		"similarity": c.Scoring.Weights.Similarity,
		"priority":   c.Scoring.Weights.Priority,
		"popularity": c.Scoring.Weights.Popularity,
		"recency":    c.Scoring.Weights.Recency,
		"department": c.Scoring.Weights.Department,
	} {
		if w != nil && *w < 0 {
			return fmt.Errorf("scoring.weights.%s must be non-negative, got %v", name, *w)
		}
	}
	if c.Scoring.SimilarityThreshold < 0 || c.Scoring.SimilarityThreshold > 1 {
		return fmt.Errorf("scoring.similarity_threshold must be between 0 and 1, got %v", c.Scoring.SimilarityThreshold)
	}
	if c.Scoring.DefaultMaxResults > c.Scoring.MaxResultsCeiling {
		return fmt.Errorf("scoring.default_max_results %d exceeds max_results_ceiling %d",
			c.Scoring.DefaultMaxResults, c.Scoring.MaxResultsCeiling)
	}

	switch c.Cache.Driver {
	case "store", "lru":
	default:
		return fmt.Errorf("cache.driver must be \"store\" or \"lru\", got %q", c.Cache.Driver)
	}

	switch c.RateLimit.Strategy {
	case "token_bucket", "fixed_window":
	default:
		return fmt.Errorf("rate_limit.strategy must be \"token_bucket\" or \"fixed_window\", got %q", c.RateLimit.Strategy)
	}
	// windows are expired with whole-second EXPIRE
	if c.RateLimit.Window < time.Second {
		return fmt.Errorf("rate_limit.window must be at least 1s, got %s", c.RateLimit.Window)
	}

	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
