package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment override, e.g. ANN_SERVER_PORT
const EnvPrefix = "ANN"

// Config holds all server configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Index     IndexConfig     `yaml:"index" envconfig:"INDEX"`
	Cache     CacheConfig     `yaml:"cache" envconfig:"CACHE"`
	Storage   StorageConfig   `yaml:"storage" envconfig:"STORAGE"`
	Auth      AuthConfig      `yaml:"auth" envconfig:"AUTH"`
	RateLimit RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	Log       LogConfig       `yaml:"log" envconfig:"LOG"`
}

// ServerConfig holds REST and gRPC listener configuration
type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"HOST"`
	Port            int           `yaml:"port" envconfig:"PORT"`           // REST port (default: 8080)
	GRPCPort        int           `yaml:"grpc_port" envconfig:"GRPC_PORT"` // gRPC port (default: 50051), 0 disables gRPC
	MaxConnections  int           `yaml:"max_connections" envconfig:"MAX_CONNECTIONS"`
	MaxRecvMsgSize  int           `yaml:"max_recv_msg_size" envconfig:"MAX_RECV_MSG_SIZE"` // bytes
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	EnableTLS       bool          `yaml:"enable_tls" envconfig:"ENABLE_TLS"`
	CertFile        string        `yaml:"cert_file" envconfig:"CERT_FILE"`
	KeyFile         string        `yaml:"key_file" envconfig:"KEY_FILE"`
}

// IndexConfig holds the defaults of newly created indexes
type IndexConfig struct {
	Metric         string `yaml:"metric" envconfig:"METRIC"` // l2, inner-product or cosine
	Dimension      int    `yaml:"dimension" envconfig:"DIMENSION"`
	Threads        int    `yaml:"threads" envconfig:"THREADS"` // 0 uses every CPU
	MaxNodes       int    `yaml:"max_nodes" envconfig:"MAX_NODES"`
	M              int    `yaml:"m" envconfig:"M"`
	EfConstruction int    `yaml:"ef_construction" envconfig:"EF_CONSTRUCTION"`
	RandomSeed     int64  `yaml:"random_seed" envconfig:"RANDOM_SEED"`
	EfSearch       int    `yaml:"ef_search" envconfig:"EF_SEARCH"`
	Engine         string `yaml:"engine" envconfig:"ENGINE"`           // native or coder
	MaxVectors     int    `yaml:"max_vectors" envconfig:"MAX_VECTORS"` // per-index quota, 0 is unlimited
}

// CacheConfig holds query cache configuration
type CacheConfig struct {
	Enabled  bool          `yaml:"enabled" envconfig:"ENABLED"`
	Capacity int           `yaml:"capacity" envconfig:"CAPACITY"`
	TTL      time.Duration `yaml:"ttl" envconfig:"TTL"`
}

// StorageConfig holds persistence configuration
type StorageConfig struct {
	DataDir          string `yaml:"data_dir" envconfig:"DATA_DIR"`
	AutoLoad         bool   `yaml:"auto_load" envconfig:"AUTO_LOAD"`
	AutoSave         bool   `yaml:"auto_save" envconfig:"AUTO_SAVE"`
	DefaultNamespace string `yaml:"default_namespace" envconfig:"DEFAULT_NAMESPACE"`
	MaxNamespaces    int    `yaml:"max_namespaces" envconfig:"MAX_NAMESPACES"`
}

// AuthConfig holds JWT authentication configuration
type AuthConfig struct {
	Enabled   bool          `yaml:"enabled" envconfig:"ENABLED"`
	JWTSecret string        `yaml:"jwt_secret" envconfig:"JWT_SECRET"`
	Issuer    string        `yaml:"issuer" envconfig:"ISSUER"`
	TokenTTL  time.Duration `yaml:"token_ttl" envconfig:"TOKEN_TTL"`
}

// RateLimitConfig holds per-client rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" envconfig:"FORMAT"` // json or console
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			GRPCPort:        50051,
			MaxConnections:  1000,
			MaxRecvMsgSize:  64 << 20,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Index: IndexConfig{
			Metric:         "cosine",
			Dimension:      768,
			Threads:        0,
			MaxNodes:       100000,
			M:              16,
			EfConstruction: 200,
			RandomSeed:     100,
			EfSearch:       50,
			Engine:         "native",
		},
		Cache: CacheConfig{
			Enabled:  true,
			Capacity: 1000,
			TTL:      5 * time.Minute,
		},
		Storage: StorageConfig{
			DataDir:          "./data",
			DefaultNamespace: "default",
			MaxNamespaces:    100,
		},
		Auth: AuthConfig{
			Issuer:   "annd",
			TokenTTL: 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			RPS:   100,
			Burst: 200,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (when
// not empty), the .env file at envFile (when it exists) and the environment,
// in that order, and validates the result.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if envFile != "" {
		if err := LoadDotEnv(envFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML file at path onto c. Keys missing from the file
// keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// LoadDotEnv exports the variables of a .env file that are not already set.
// A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// LoadFromEnv overlays ANN_* environment variables onto c
func (c *Config) LoadFromEnv() error {
	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Server validation
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d (must be 0-65535)", c.Server.GRPCPort)
	}
	if c.Server.GRPCPort == c.Server.Port {
		return fmt.Errorf("REST and gRPC ports must differ (both %d)", c.Server.Port)
	}
	if c.Server.MaxConnections < 1 {
		return fmt.Errorf("invalid max connections: %d (must be > 0)", c.Server.MaxConnections)
	}
	if c.Server.EnableTLS && (c.Server.CertFile == "" || c.Server.KeyFile == "") {
		return fmt.Errorf("TLS enabled but cert or key file not specified")
	}

	// Index validation
	switch strings.ToLower(c.Index.Metric) {
	case "l2", "inner-product", "ip", "cosine":
	default:
		return fmt.Errorf("invalid metric: %q (must be l2, inner-product or cosine)", c.Index.Metric)
	}
	if c.Index.Dimension < 1 {
		return fmt.Errorf("invalid dimension: %d (must be > 0)", c.Index.Dimension)
	}
	if c.Index.MaxNodes < 1 {
		return fmt.Errorf("invalid max nodes: %d (must be > 0)", c.Index.MaxNodes)
	}
	if c.Index.M < 2 || c.Index.M > 100 {
		return fmt.Errorf("invalid HNSW M: %d (recommended: 16)", c.Index.M)
	}
	if c.Index.EfConstruction < 10 {
		return fmt.Errorf("invalid HNSW efConstruction: %d (must be >= 10)", c.Index.EfConstruction)
	}
	if c.Index.EfSearch < 1 {
		return fmt.Errorf("invalid HNSW efSearch: %d (must be > 0)", c.Index.EfSearch)
	}
	if c.Index.Engine != "native" && c.Index.Engine != "coder" {
		return fmt.Errorf("invalid engine: %q (must be native or coder)", c.Index.Engine)
	}
	if c.Index.MaxVectors < 0 {
		return fmt.Errorf("invalid max vectors: %d (must be >= 0)", c.Index.MaxVectors)
	}

	// Cache validation
	if c.Cache.Enabled && c.Cache.Capacity < 1 {
		return fmt.Errorf("invalid cache capacity: %d (must be > 0)", c.Cache.Capacity)
	}

	// Storage validation
	if c.Storage.DataDir == "" {
		return fmt.Errorf("data directory not specified")
	}
	if c.Storage.DefaultNamespace == "" {
		return fmt.Errorf("default namespace not specified")
	}
	if c.Storage.MaxNamespaces < 1 {
		return fmt.Errorf("invalid max namespaces: %d (must be > 0)", c.Storage.MaxNamespaces)
	}

	// Auth validation
	if c.Auth.Enabled && len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("auth enabled but JWT secret is shorter than 16 bytes")
	}

	// Rate limit validation
	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst < 1) {
		return fmt.Errorf("invalid rate limit: rps %v, burst %d", c.RateLimit.RPS, c.RateLimit.Burst)
	}

	// Log validation
	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %q (must be json or console)", c.Log.Format)
	}

	return nil
}

// Address returns the REST address (host:port)
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GRPCAddress returns the gRPC address (host:port)
func (c *ServerConfig) GRPCAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.GRPCPort)
}
