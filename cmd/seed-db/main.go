package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/xenking/printshop-discounts/db"
	"github.com/xenking/printshop-discounts/internal/repository"
	"github.com/xenking/printshop-discounts/internal/ruleimport"
)

func main() {
	var (
		databaseURL string
		rulesFile   string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&rulesFile, "rules-file", "", "path to a discount rules YAML file (defaults to the embedded seed)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, rulesFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, rulesFile string) error {
	data := db.SeedRules
	if rulesFile != "" {
		slog.Info("reading rules file", slog.String("path", rulesFile))

		b, err := os.ReadFile(rulesFile)
		if err != nil {
			return errors.Wrap(err, "read rules file")
		}
		data = b
	}

	docs, err := ruleimport.ParseYAML(data)
	if err != nil {
		return errors.Wrap(err, "parse rules")
	}

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	rules := repository.NewRuleRepository(pool)

	slog.Info("upserting discount rules", slog.Int("count", len(docs)))

	for _, d := range docs {
		r, err := d.Rule()
		if err != nil {
			return errors.Wrap(err, "invalid rule")
		}

		id, err := rules.Upsert(ctx, r)
		if err != nil {
			return errors.Wrapf(err, "upsert rule %q", r.Name)
		}

		slog.Info("upserted rule",
			slog.Int64("id", id),
			slog.String("name", r.Name),
			slog.String("type", string(r.Type())),
		)
	}

	return nil
}
