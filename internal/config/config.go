// Package config provides configuration loading for graphcore.
package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/graphcore/internal/logging"
)

// Backend modes.
const (
	// ModeLocal is the deprecated single-process file fallback.
	ModeLocal = "local"
	// ModeDistributed uses the two independent remote stores.
	ModeDistributed = "distributed"
)

// Config is the root configuration.
type Config struct {
	Backend BackendConfig  `koanf:"backend"`
	Neo4j   Neo4jConfig    `koanf:"neo4j"`
	Qdrant  QdrantConfig   `koanf:"qdrant"`
	Logging logging.Config `koanf:"logging"`
}

// BackendConfig selects the deployment mode.
type BackendConfig struct {
	// Mode is "local" or "distributed".
	Mode string `koanf:"mode"`

	// Lazy defers remote connections until first adapter access.
	Lazy bool `koanf:"lazy"`

	// LocalPath is the root directory for local-mode file storage.
	LocalPath string `koanf:"local_path"`
}

// Neo4jConfig configures the graph store connection.
type Neo4jConfig struct {
	URI      string `koanf:"uri"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	Database string `koanf:"database"`

	// MaxConnectionPoolSize caps driver-side pooling.
	MaxConnectionPoolSize int `koanf:"max_connection_pool_size"`

	// Timeout bounds every remote call.
	Timeout time.Duration `koanf:"timeout"`

	// BatchSize caps rows per store-level batch call.
	BatchSize int `koanf:"batch_size"`
}

// QdrantConfig configures the vector store connection.
type QdrantConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	UseTLS bool   `koanf:"use_tls"`
	APIKey string `koanf:"api_key"`

	// VectorSize is the embedding dimensionality; collections are created
	// with it and upserts of other widths are rejected by the store.
	VectorSize uint64 `koanf:"vector_size"`

	// Timeout bounds every remote call.
	Timeout time.Duration `koanf:"timeout"`

	// MaxMessageSize caps gRPC message size in bytes.
	MaxMessageSize int `koanf:"max_message_size"`
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	switch c.Backend.Mode {
	case ModeLocal, ModeDistributed:
	default:
		return fmt.Errorf("invalid backend mode: %q (expected %q or %q)",
			c.Backend.Mode, ModeLocal, ModeDistributed)
	}

	if c.Backend.Mode == ModeLocal && c.Backend.LocalPath == "" {
		return fmt.Errorf("backend.local_path required in local mode")
	}

	if c.Backend.Mode == ModeDistributed {
		if c.Neo4j.URI == "" {
			return fmt.Errorf("neo4j.uri required in distributed mode")
		}
		if c.Qdrant.Host == "" {
			return fmt.Errorf("qdrant.host required in distributed mode")
		}
		if c.Qdrant.Port <= 0 || c.Qdrant.Port > 65535 {
			return fmt.Errorf("invalid qdrant.port: %d", c.Qdrant.Port)
		}
		if c.Qdrant.VectorSize == 0 {
			return fmt.Errorf("qdrant.vector_size required in distributed mode")
		}
	}

	return c.Logging.Validate()
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Backend.Mode == "" {
		cfg.Backend.Mode = ModeDistributed
	}

	if cfg.Neo4j.URI == "" {
		cfg.Neo4j.URI = "bolt://localhost:7687"
	}
	if cfg.Neo4j.Username == "" {
		cfg.Neo4j.Username = "neo4j"
	}
	if cfg.Neo4j.Database == "" {
		cfg.Neo4j.Database = "neo4j"
	}
	if cfg.Neo4j.MaxConnectionPoolSize == 0 {
		cfg.Neo4j.MaxConnectionPoolSize = 50
	}
	if cfg.Neo4j.Timeout == 0 {
		cfg.Neo4j.Timeout = 30 * time.Second
	}
	if cfg.Neo4j.BatchSize == 0 {
		cfg.Neo4j.BatchSize = 1000
	}

	if cfg.Qdrant.Host == "" {
		cfg.Qdrant.Host = "localhost"
	}
	if cfg.Qdrant.Port == 0 {
		cfg.Qdrant.Port = 6334
	}
	if cfg.Qdrant.VectorSize == 0 {
		cfg.Qdrant.VectorSize = 3072
	}
	if cfg.Qdrant.Timeout == 0 {
		cfg.Qdrant.Timeout = 30 * time.Second
	}
	if cfg.Qdrant.MaxMessageSize == 0 {
		cfg.Qdrant.MaxMessageSize = 50 * 1024 * 1024
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
