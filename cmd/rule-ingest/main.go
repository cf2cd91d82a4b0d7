package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/printshop-discounts/internal/domain/discount"
	"github.com/xenking/printshop-discounts/internal/repository"
	"github.com/xenking/printshop-discounts/internal/ruleimport"
)

const (
	bloomFPR      = 0.001
	filePattern   = "*.ndjson.gz"
	progressEvery = 1000
)

// record is a decoded rule with its origin, kept for duplicate reporting.
type record struct {
	file string
	line int
	rule *discount.Rule
}

// fileResult holds the rules decoded from a single file.
type fileResult struct {
	records []record
	invalid int
}

func main() {
	var (
		dataDir     string
		databaseURL string
		workers     int
		dryRun      bool
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing *.ndjson.gz rule exports")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&workers, "workers", 4, "files decoded concurrently")
	flag.BoolVar(&dryRun, "dry-run", false, "validate files without writing to the database")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL, workers, dryRun); err != nil {
		slog.Error("rule ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("rule ingest completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string, workers int, dryRun bool) error {
	files, err := filepath.Glob(filepath.Join(dataDir, filePattern))
	if err != nil {
		return errors.Wrap(err, "list files")
	}
	if len(files) == 0 {
		slog.Info("no rule files found", slog.String("dir", dataDir))
		return nil
	}
	slices.Sort(files)

	slog.Info("decoding rule files", slog.Int("files", len(files)))

	results, err := decodeFiles(ctx, files, workers)
	if err != nil {
		return errors.Wrap(err, "decode files")
	}

	rules, dups := dedupe(results)
	slog.Info("rules ready",
		slog.Int("unique", len(rules)),
		slog.Int("duplicates", dups),
	)

	if dryRun || len(rules) == 0 {
		return nil
	}

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := writeRules(ctx, repository.NewRuleRepository(pool), rules); err != nil {
		return errors.Wrap(err, "write rules to database")
	}

	return nil
}

// decodeFiles decodes every file concurrently. Results keep the order of
// files.
func decodeFiles(ctx context.Context, files []string, workers int) ([]fileResult, error) {
	results := make([]fileResult, len(files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for i, f := range files {
		g.Go(func() error {
			res, err := decodeFile(ctx, f)
			if err != nil {
				return errors.Wrapf(err, "decode %s", filepath.Base(f))
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// decodeFile streams one gzip-compressed NDJSON file. Lines that decode but
// describe an invalid rule are logged and skipped; malformed JSON fails the
// file.
func decodeFile(ctx context.Context, path string) (fileResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return fileResult{}, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return fileResult{}, errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	var res fileResult
	name := filepath.Base(path)
	if err := ruleimport.ScanNDJSON(gz, func(line int, d ruleimport.Document) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		r, err := d.Rule()
		if err != nil {
			res.invalid++
			slog.Warn("skipping invalid rule",
				slog.String("file", name),
				slog.Int("line", line),
				slog.String("error", err.Error()),
			)
			return nil
		}
		res.records = append(res.records, record{file: name, line: line, rule: r})
		return nil
	}); err != nil {
		return fileResult{}, err
	}

	slog.Info("file decoded",
		slog.String("file", name),
		slog.Int("rules", len(res.records)),
		slog.Int("invalid", res.invalid),
	)

	return res, nil
}

// dedupe keeps the first occurrence of every rule name, in file then line
// order. The bloom filter answers most lookups for new names; hits are
// confirmed against the exact set.
func dedupe(results []fileResult) ([]*discount.Rule, int) {
	total := 0
	for _, r := range results {
		total += len(r.records)
	}
	if total == 0 {
		return nil, 0
	}

	filter := bloom.NewWithEstimates(uint(total), bloomFPR)
	seen := make(map[string]record, total)
	rules := make([]*discount.Rule, 0, total)
	dups := 0

	for _, res := range results {
		for _, rec := range res.records {
			name := rec.rule.Name
			if filter.TestString(name) {
				if first, ok := seen[name]; ok {
					dups++
					slog.Warn("duplicate rule name",
						slog.String("name", name),
						slog.String("file", rec.file),
						slog.Int("line", rec.line),
						slog.String("first_file", first.file),
						slog.Int("first_line", first.line),
					)
					continue
				}
			}
			filter.AddString(name)
			seen[name] = rec
			rules = append(rules, rec.rule)
		}
	}

	return rules, dups
}

type ruleUpserter interface {
	Upsert(ctx context.Context, r *discount.Rule) (int64, error)
}

// writeRules upserts all rules by name.
func writeRules(ctx context.Context, repo ruleUpserter, rules []*discount.Rule) error {
	slog.Info("writing rules to database", slog.Int("count", len(rules)))

	for i, r := range rules {
		if _, err := repo.Upsert(ctx, r); err != nil {
			return errors.Wrapf(err, "upsert rule %q", r.Name)
		}

		if (i+1)%progressEvery == 0 || i+1 == len(rules) {
			slog.Info("write progress", slog.Int("written", i+1), slog.Int("total", len(rules)))
		}
	}

	return nil
}
