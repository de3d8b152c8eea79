// Command sheafserver runs the HTTP API.
package main

import (
	"context"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/sheafdata/sheaf/go/config"
	"github.com/sheafdata/sheaf/go/eventbus"
	"github.com/sheafdata/sheaf/go/events"
	"github.com/sheafdata/sheaf/go/events/sqleventstore"
	"github.com/sheafdata/sheaf/go/frontend"
	"github.com/sheafdata/sheaf/go/ingest/upload"
	"github.com/sheafdata/sheaf/go/jobstore/sqljobstore"
	"github.com/sheafdata/sheaf/go/metrics"
	"github.com/sheafdata/sheaf/go/searchindex/sqlsearchindex"
	"github.com/sheafdata/sheaf/go/service"
	"github.com/sheafdata/sheaf/go/shlog"
	"github.com/sheafdata/sheaf/go/uow/sqluow"
	"github.com/sheafdata/sheaf/go/userstore/sqluserstore"
)

func main() {
	app := &cli.App{
		Name:  "sheafserver",
		Usage: "Serves the dataset versioning API.",
		Flags: config.Flags(),
		Action: func(c *cli.Context) error {
			return run(c.Context, config.FromCLI(c))
		},
	}
	if err := app.Run(os.Args); err != nil {
		shlog.Fatalf("sheafserver: %s", err)
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

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return err
	}
	stager := upload.New(cfg.UploadDir, cfg.UploadMaxBytes, cfg.UploadChunkSize)

	svc := service.New(uowf, jobs, index, stager, service.Options{
		DefaultPageLimit: cfg.PageLimitDefault,
		MaxPageLimit:     cfg.PageLimitMax,
		MaxActiveImports: cfg.MaxActiveImports,
	})
	auth := frontend.NewAuthenticator(cfg.TokenSecret, sqluserstore.New(db))
	fe := frontend.New(svc, auth)

	go func() {
		promMux := http.NewServeMux()
		promMux.Handle("/metrics", metrics.Handler())
		promMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		shlog.Infof("Metrics on %s", cfg.PromPort)
		shlog.Fatalf("Metrics server: %s", http.ListenAndServe(cfg.PromPort, promMux))
	}()

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	fe.RegisterHandlers(r)

	shlog.Infof("Serving on %s", cfg.Port)
	return http.ListenAndServe(cfg.Port, r)
}
