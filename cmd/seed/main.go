package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/demandcast/db/migrations"
	"github.com/andresuchdata/demandcast/internal/ingest"
	"github.com/andresuchdata/demandcast/internal/repository"
	"github.com/andresuchdata/demandcast/pkg/logger"
)

type contextKey string

const dbKey contextKey = "db"

func newDBURLFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "db-url",
		Usage:    "Database connection string",
		Required: true,
		EnvVars:  []string{"DATABASE_URL"},
	}
}

func initDB(c *cli.Context) error {
	db, err := sql.Open("pgx", c.String("db-url"))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test the connection
	if err := db.PingContext(c.Context); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Store the database connection in the context
	c.Context = context.WithValue(c.Context, dbKey, db)
	return nil
}

func closeDB(c *cli.Context) error {
	if db, ok := c.Context.Value(dbKey).(*sql.DB); ok && db != nil {
		return db.Close()
	}
	return nil
}

func dbFrom(c *cli.Context) (*sql.DB, error) {
	db, ok := c.Context.Value(dbKey).(*sql.DB)
	if !ok || db == nil {
		return nil, fmt.Errorf("database connection not initialized")
	}
	return db, nil
}

func main() {
	if err := godotenv.Load(".env"); err != nil {
		logger.Log.Debug().Err(err).Msg("No .env file loaded")
	}

	app := &cli.App{
		Name:  "seed",
		Usage: "Prepare the forecasting database and drive batch runs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				EnvVars: []string{"LOG_LEVEL"},
			},
		},
		Before: func(c *cli.Context) error {
			logger.SetLevel(c.String("log-level"))
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "Apply database migrations",
				Flags:  []cli.Flag{newDBURLFlag()},
				Before: initDB,
				After:  closeDB,
				Action: runMigrate,
			},
			{
				Name:  "ingest",
				Usage: "Load sales history from CSV files, a Drive folder or an object storage prefix",
				Flags: []cli.Flag{
					newDBURLFlag(),
					&cli.StringSliceFlag{
						Name:    "csv",
						Usage:   "Local CSV file (repeatable)",
						EnvVars: []string{"HISTORY_CSV"},
					},
					&cli.StringFlag{
						Name:    "drive-folder",
						Usage:   "Google Drive folder id holding CSV exports",
						EnvVars: []string{"GOOGLE_DRIVE_FOLDER_ID"},
					},
					&cli.StringFlag{
						Name:    "credentials-file",
						Usage:   "Service account key for Google Drive",
						EnvVars: []string{"GOOGLE_CREDENTIALS_FILE"},
					},
					&cli.StringFlag{
						Name:  "object-prefix",
						Usage: "s3://bucket/prefix of CSV exports in object storage",
					},
					&cli.StringFlag{
						Name:  "download-dir",
						Value: "./data/tmp/history",
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Value: ingest.DefaultBatchSize,
					},
				},
				Before: initDB,
				After:  closeDB,
				Action: runIngest,
			},
			{
				Name:   "distribution",
				Usage:  "Print category and region distribution of the product master",
				Flags:  []cli.Flag{newDBURLFlag()},
				Before: initDB,
				After:  closeDB,
				Action: runDistribution,
			},
			{
				Name:  "publish-model",
				Usage: "Upload a model artifact to object storage",
				Flags: append(objectStorageFlags(),
					&cli.StringFlag{Name: "file", Required: true},
					&cli.StringFlag{Name: "to", Required: true, Usage: "s3://bucket/key"},
				),
				Action: runPublishModel,
			},
			{
				Name:  "submit",
				Usage: "Submit a batch forecast for every stored product to a running server",
				Flags: []cli.Flag{
					newDBURLFlag(),
					&cli.StringFlag{
						Name:    "server-url",
						Value:   "http://localhost:8080",
						EnvVars: []string{"SERVER_URL"},
					},
					&cli.StringFlag{Name: "job-id"},
					&cli.IntFlag{Name: "history-days", Value: 180},
					&cli.BoolFlag{Name: "wait", Usage: "Poll until the job is terminal"},
				},
				Before: initDB,
				After:  closeDB,
				Action: runSubmit,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Log.Fatal().Err(err).Msg("seed failed")
	}
}

func runMigrate(c *cli.Context) error {
	db, err := dbFrom(c)
	if err != nil {
		return err
	}
	return migrations.Up(db)
}

func runDistribution(c *cli.Context) error {
	db, err := dbFrom(c)
	if err != nil {
		return err
	}

	dist, err := repository.NewIngestRepository(db).Distribution(c.Context)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "products: %d\n", dist.Total)
	fmt.Fprintln(c.App.Writer, "category distribution:")
	for _, b := range dist.Categories {
		fmt.Fprintf(c.App.Writer, "  %-20s %d\n", b.Name, b.Count)
	}
	fmt.Fprintln(c.App.Writer, "region distribution:")
	for _, b := range dist.Regions {
		fmt.Fprintf(c.App.Writer, "  %-20s %d\n", b.Name, b.Count)
	}
	return nil
}
