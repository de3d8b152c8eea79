// Command sheafmigrate applies the SQL schema. Statements are idempotent
// so it can run on every deploy.
package main

import (
	"context"
	"os"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/sheafdata/sheaf/go/shlog"
	"github.com/sheafdata/sheaf/go/sql/schema"
)

func main() {
	app := &cli.App{
		Name:  "sheafmigrate",
		Usage: "Applies the database schema.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db-url",
				Usage:   "Postgres connection string.",
				EnvVars: []string{"SHEAF_DB_URL"},
			},
		},
		Action: func(c *cli.Context) error {
			return run(c.Context, c.String("db-url"))
		},
	}
	if err := app.Run(os.Args); err != nil {
		shlog.Fatalf("sheafmigrate: %s", err)
	}
}

func run(ctx context.Context, dbURL string) error {
	if err := shlog.Init(false); err != nil {
		return err
	}
	defer shlog.Flush()

	db, err := pgxpool.Connect(ctx, dbURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.Exec(ctx, schema.Schema); err != nil {
		return err
	}
	if _, err := db.Exec(ctx, schema.SearchIndexView); err != nil {
		return err
	}
	shlog.Infof("Schema applied")
	return nil
}
