// Package config holds the environment-driven configuration shared by the
// Sheaf binaries.
package config

import (
	"time"

	"github.com/sheafdata/sheaf/go/sherr"
)

// Config is the full configuration. The cmd/* binaries populate it from
// flags bound to environment variables and call Validate before use.
type Config struct {
	// DatabaseURL is the Postgres connection string.
	DatabaseURL string

	// Port is the main HTTP port.
	Port string
	// PromPort serves /metrics and /healthz.
	PromPort string

	// UploadDir is where uploads are staged before import.
	UploadDir string
	// UploadMaxBytes caps one upload.
	UploadMaxBytes int64
	// UploadChunkSize is the copy buffer size while staging.
	UploadChunkSize int

	// RowBatchSize is the number of rows an import stages per
	// transaction.
	RowBatchSize int
	// CheckpointEveryBatches is how often an import persists its
	// checkpoint.
	CheckpointEveryBatches int

	// WorkerCount is the number of concurrent job runners per worker
	// process.
	WorkerCount int
	// HeartbeatTimeout is how stale a running job's heartbeat may get
	// before it is recovered.
	HeartbeatTimeout time.Duration

	// PageLimitDefault and PageLimitMax govern pagination.
	PageLimitDefault int
	PageLimitMax     int

	// MaxActiveImports bounds pending+running imports per dataset.
	MaxActiveImports int

	// TokenSecret signs API tokens.
	TokenSecret string

	// Prod selects production logging.
	Prod bool
}

// Validate rejects unusable configurations.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return sherr.New(sherr.Validation, "database URL is required")
	}
	if c.UploadMaxBytes <= 0 {
		return sherr.New(sherr.Validation, "upload size cap must be positive")
	}
	if c.UploadChunkSize <= 0 {
		return sherr.New(sherr.Validation, "upload chunk size must be positive")
	}
	if c.RowBatchSize <= 0 {
		return sherr.New(sherr.Validation, "row batch size must be positive")
	}
	if c.CheckpointEveryBatches <= 0 {
		return sherr.New(sherr.Validation, "checkpoint interval must be positive")
	}
	if c.WorkerCount <= 0 {
		return sherr.New(sherr.Validation, "worker count must be positive")
	}
	if c.HeartbeatTimeout <= 0 {
		return sherr.New(sherr.Validation, "heartbeat timeout must be positive")
	}
	if c.PageLimitDefault <= 0 || c.PageLimitMax <= 0 || c.PageLimitDefault > c.PageLimitMax {
		return sherr.New(sherr.Validation, "page limits must be positive and default <= max")
	}
	if c.MaxActiveImports <= 0 {
		return sherr.New(sherr.Validation, "max active imports must be positive")
	}
	if c.TokenSecret == "" {
		return sherr.New(sherr.Validation, "token secret is required")
	}
	return nil
}
