// Command sheafworker claims and runs queued jobs.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/sheafdata/sheaf/go/config"
	"github.com/sheafdata/sheaf/go/derive"
	"github.com/sheafdata/sheaf/go/eventbus"
	"github.com/sheafdata/sheaf/go/events"
	"github.com/sheafdata/sheaf/go/events/sqleventstore"
	"github.com/sheafdata/sheaf/go/ingest/process"
	"github.com/sheafdata/sheaf/go/jobstore/sqljobstore"
	"github.com/sheafdata/sheaf/go/metrics"
	"github.com/sheafdata/sheaf/go/searchindex/sqlsearchindex"
	"github.com/sheafdata/sheaf/go/shlog"
	"github.com/sheafdata/sheaf/go/uow/sqluow"
	"github.com/sheafdata/sheaf/go/worker"
)

func main() {
	app := &cli.App{
		Name:  "sheafworker",
		Usage: "Runs queued import, sampling and profiling jobs.",
		Flags: config.Flags(),
		Action: func(c *cli.Context) error {
			return run(c.Context, config.FromCLI(c))
		},
	}
	if err := app.Run(os.Args); err != nil {
		shlog.Fatalf("sheafworker: %s", err)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := shlog.Init(cfg.Prod); err != nil {
		return err
	}
	defer shlog.Flush()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := pgxpool.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	bus := eventbus.New()
	auditor := events.NewAuditWriter(sqleventstore.New(db))
	bus.SubscribeAsync(eventbus.AllEvents, auditor.Write)

	uowf, err := sqluow.New(db, bus)
	if err != nil {
		return err
	}
	jobs := sqljobstore.New(db)

	index := sqlsearchindex.New(db)
	index.Start(ctx)

	importer := process.New(uowf, jobs, index, cfg.RowBatchSize, cfg.CheckpointEveryBatches)
	sampler := derive.NewSampler(uowf, jobs)
	profiler := derive.NewProfiler(uowf, jobs)

	runner := worker.New(jobs, importer, sampler, profiler, bus, cfg.WorkerCount, cfg.HeartbeatTimeout)
	runner.Start(ctx)

	go func() {
		promMux := http.NewServeMux()
		promMux.Handle("/metrics", metrics.Handler())
		promMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		shlog.Infof("Metrics on %s", cfg.PromPort)
		shlog.Fatalf("Metrics server: %s", http.ListenAndServe(cfg.PromPort, promMux))
	}()

	<-ctx.Done()
	shlog.Infof("Shutting down")
	return nil
}
