package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"rss_fanout/migrations"
)

func main() {
	var dbPath string

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the bot database schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dbPath, "db", envOrDefault("DATABASE_PATH", "./data/bot.db"), "path to sqlite database")

	withProvider := func(fn func(ctx context.Context, p *goose.Provider) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			db, err := sql.Open("sqlite", dbPath)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer func() { _ = db.Close() }()

			p, err := migrations.NewProvider(db)
			if err != nil {
				return err
			}
			return fn(cmd.Context(), p)
		}
	}

	printResults := func(results []*goose.MigrationResult) {
		for _, r := range results {
			fmt.Println(r)
		}
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Migrate to the latest version",
			RunE: withProvider(func(ctx context.Context, p *goose.Provider) error {
				results, err := p.Up(ctx)
				printResults(results)
				return err
			}),
		},
		&cobra.Command{
			Use:   "up-one",
			Short: "Migrate one version up",
			RunE: withProvider(func(ctx context.Context, p *goose.Provider) error {
				r, err := p.UpByOne(ctx)
				if r != nil {
					fmt.Println(r)
				}
				return err
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back one version",
			RunE: withProvider(func(ctx context.Context, p *goose.Provider) error {
				r, err := p.Down(ctx)
				if r != nil {
					fmt.Println(r)
				}
				return err
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show migration status",
			RunE: withProvider(func(ctx context.Context, p *goose.Provider) error {
				statuses, err := p.Status(ctx)
				if err != nil {
					return err
				}
				for _, s := range statuses {
					applied := "pending"
					if s.State == goose.StateApplied {
						applied = "applied " + s.AppliedAt.Format("2006-01-02 15:04:05")
					}
					fmt.Printf("%05d  %-40s %s\n", s.Source.Version, s.Source.Path, applied)
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show current version",
			RunE: withProvider(func(ctx context.Context, p *goose.Provider) error {
				v, err := p.GetDBVersion(ctx)
				if err != nil {
					return err
				}
				fmt.Println(v)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Roll back all migrations",
			RunE: withProvider(func(ctx context.Context, p *goose.Provider) error {
				results, err := p.DownTo(ctx, 0)
				printResults(results)
				return err
			}),
		},
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
