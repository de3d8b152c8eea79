package config

import (
	"time"

	"github.com/urfave/cli/v2"
)

// Flags returns the shared command line flags. Every flag is also bound
// to an environment variable so deployments can configure through either.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "db-url",
			Usage:   "Postgres connection string.",
			EnvVars: []string{"SHEAF_DB_URL"},
		},
		&cli.StringFlag{
			Name:    "port",
			Usage:   "HTTP service address.",
			Value:   ":8000",
			EnvVars: []string{"SHEAF_PORT"},
		},
		&cli.StringFlag{
			Name:    "prom-port",
			Usage:   "Metrics service address.",
			Value:   ":20000",
			EnvVars: []string{"SHEAF_PROM_PORT"},
		},
		&cli.StringFlag{
			Name:    "upload-dir",
			Usage:   "Directory where uploads are staged.",
			Value:   "/tmp/sheaf-uploads",
			EnvVars: []string{"SHEAF_UPLOAD_DIR"},
		},
		&cli.Int64Flag{
			Name:    "upload-max-bytes",
			Usage:   "Maximum size of one upload.",
			Value:   512 * 1024 * 1024,
			EnvVars: []string{"SHEAF_UPLOAD_MAX_BYTES"},
		},
		&cli.IntFlag{
			Name:    "upload-chunk-size",
			Usage:   "Copy buffer size while staging uploads.",
			Value:   1024 * 1024,
			EnvVars: []string{"SHEAF_UPLOAD_CHUNK_SIZE"},
		},
		&cli.IntFlag{
			Name:    "row-batch-size",
			Usage:   "Rows staged per import transaction.",
			Value:   1000,
			EnvVars: []string{"SHEAF_ROW_BATCH_SIZE"},
		},
		&cli.IntFlag{
			Name:    "checkpoint-every-batches",
			Usage:   "Batches between import checkpoints.",
			Value:   10,
			EnvVars: []string{"SHEAF_CHECKPOINT_EVERY_BATCHES"},
		},
		&cli.IntFlag{
			Name:    "worker-count",
			Usage:   "Concurrent job runners per worker process.",
			Value:   4,
			EnvVars: []string{"SHEAF_WORKER_COUNT"},
		},
		&cli.DurationFlag{
			Name:    "heartbeat-timeout",
			Usage:   "How stale a running job's heartbeat may get before recovery.",
			Value:   2 * time.Minute,
			EnvVars: []string{"SHEAF_HEARTBEAT_TIMEOUT"},
		},
		&cli.IntFlag{
			Name:    "page-limit-default",
			Usage:   "Page size when the request names none.",
			Value:   100,
			EnvVars: []string{"SHEAF_PAGE_LIMIT_DEFAULT"},
		},
		&cli.IntFlag{
			Name:    "page-limit-max",
			Usage:   "Largest page size a request may ask for.",
			Value:   1000,
			EnvVars: []string{"SHEAF_PAGE_LIMIT_MAX"},
		},
		&cli.IntFlag{
			Name:    "max-active-imports",
			Usage:   "Pending plus running imports allowed per dataset.",
			Value:   4,
			EnvVars: []string{"SHEAF_MAX_ACTIVE_IMPORTS"},
		},
		&cli.StringFlag{
			Name:    "token-secret",
			Usage:   "Secret that signs API tokens.",
			EnvVars: []string{"SHEAF_TOKEN_SECRET"},
		},
		&cli.BoolFlag{
			Name:    "prod",
			Usage:   "Use production logging.",
			EnvVars: []string{"SHEAF_PROD"},
		},
	}
}

// FromCLI builds a Config from parsed flags. Call Validate on the result.
func FromCLI(c *cli.Context) Config {
	return Config{
		DatabaseURL:            c.String("db-url"),
		Port:                   c.String("port"),
		PromPort:               c.String("prom-port"),
		UploadDir:              c.String("upload-dir"),
		UploadMaxBytes:         c.Int64("upload-max-bytes"),
		UploadChunkSize:        c.Int("upload-chunk-size"),
		RowBatchSize:           c.Int("row-batch-size"),
		CheckpointEveryBatches: c.Int("checkpoint-every-batches"),
		WorkerCount:            c.Int("worker-count"),
		HeartbeatTimeout:       c.Duration("heartbeat-timeout"),
		PageLimitDefault:       c.Int("page-limit-default"),
		PageLimitMax:           c.Int("page-limit-max"),
		MaxActiveImports:       c.Int("max-active-imports"),
		TokenSecret:            c.String("token-secret"),
		Prod:                   c.Bool("prod"),
	}
}
