package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-list-ingest/config"
	"github.com/aquasecurity/vuln-list-ingest/loader"
	"github.com/aquasecurity/vuln-list-ingest/pipeline"
	"github.com/aquasecurity/vuln-list-ingest/scanner"
	"github.com/aquasecurity/vuln-list-ingest/store"
	"github.com/aquasecurity/vuln-list-ingest/transform"
	"github.com/aquasecurity/vuln-list-ingest/utils"
)

type flags struct {
	config      string
	dir         string
	source      string
	driver      string
	dsn         string
	batchSize   int
	concurrency int
	fileWorkers int
	policy      string
	uniqueIDs   bool
	progress    bool
	summary     string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:           "vuln-list-ingest",
		Short:         "Load a tree of CVE JSON 5 records into a relational database",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, c)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.config, "config", "", "path to a YAML config file")
	fl.StringVar(&f.dir, "dir", "", "root directory of the CVE JSON tree")
	fl.StringVar(&f.source, "source", "", "go-getter address to fetch the tree from (overrides --dir)")
	fl.StringVar(&f.driver, "driver", "", "database driver (sqlite, postgres)")
	fl.StringVar(&f.dsn, "dsn", "", "database data source name")
	fl.IntVar(&f.batchSize, "batch-size", 0, "files per batch")
	fl.IntVar(&f.concurrency, "concurrency", 0, "maximum batches in flight")
	fl.IntVar(&f.fileWorkers, "file-workers", 0, "maximum files loaded at once within a batch (0 = unbounded)")
	fl.StringVar(&f.policy, "policy", "", "per-file failure policy (fail-fast, skip)")
	fl.BoolVar(&f.uniqueIDs, "unique-ids", false, "reject a second record with the same CVE id")
	fl.BoolVar(&f.progress, "progress", true, "show a progress bar")
	fl.StringVar(&f.summary, "summary", "", "write the run summary as JSON to this path")

	return cmd
}

// loadConfig layers defaults, the config file, the environment and explicitly set flags.
func loadConfig(cmd *cobra.Command, f flags) (config.Config, error) {
	c, err := config.Load(afero.NewOsFs(), f.config)
	if err != nil {
		return config.Config{}, err
	}
	if err = c.ApplyEnv(); err != nil {
		return config.Config{}, err
	}

	fl := cmd.Flags()
	if fl.Changed("dir") {
		c.Dir = f.dir
	}
	if fl.Changed("source") {
		c.Source = f.source
	}
	if fl.Changed("driver") {
		c.Database.Driver = f.driver
	}
	if fl.Changed("dsn") {
		c.Database.DSN = f.dsn
	}
	if fl.Changed("batch-size") {
		c.BatchSize = f.batchSize
	}
	if fl.Changed("concurrency") {
		c.MaxConcurrentBatches = f.concurrency
	}
	if fl.Changed("file-workers") {
		c.FileWorkers = f.fileWorkers
	}
	if fl.Changed("policy") {
		c.FailurePolicy = f.policy
	}
	if fl.Changed("unique-ids") {
		c.Database.UniqueRecordIDs = f.uniqueIDs
	}
	if fl.Changed("progress") {
		c.Progress = f.progress
	}
	if fl.Changed("summary") {
		c.SummaryFile = f.summary
	}

	if err = c.Validate(); err != nil {
		return config.Config{}, xerrors.Errorf("invalid config: %w", err)
	}
	return c, nil
}

func run(ctx context.Context, c config.Config) error {
	start := time.Now()

	root := c.Dir
	if c.Source != "" {
		log.Printf("Fetching %s", c.Source)
		dir, err := utils.DownloadToTempDir(ctx, c.Source)
		if err != nil {
			return xerrors.Errorf("fetch error: %w", err)
		}
		defer os.RemoveAll(dir)
		root = dir
	}

	if c.Database.Driver == store.DriverSQLite {
		if err := ensureParentDir(c.Database.DSN); err != nil {
			return err
		}
	}

	s, err := store.Open(ctx, store.Options{
		Driver:          c.Database.Driver,
		DSN:             c.Database.DSN,
		UniqueRecordIDs: c.Database.UniqueRecordIDs,
		MaxOpenConns:    c.MaxConcurrentBatches,
	})
	if err != nil {
		return xerrors.Errorf("store error: %w", err)
	}
	defer s.Close()

	if err = s.Migrate(ctx); err != nil {
		return xerrors.Errorf("migration error: %w", err)
	}

	policy, err := pipeline.ParsePolicy(c.FailurePolicy)
	if err != nil {
		return err
	}

	p := pipeline.New(
		scanner.NewScanner(scanner.WithExtensions(c.Extensions)),
		loader.NewLoader(),
		transform.NewTransformer(),
		s,
		pipeline.WithBatchSize(c.BatchSize),
		pipeline.WithMaxConcurrentBatches(c.MaxConcurrentBatches),
		pipeline.WithFileWorkers(c.FileWorkers),
		pipeline.WithPolicy(policy),
		pipeline.WithProgress(c.Progress),
	)

	log.Printf("Ingesting %s into %s", root, c.Database.Driver)
	summary, runErr := p.Run(ctx, root)

	log.Printf("Files: %d, batches: %d committed / %d failed, skipped files: %d",
		summary.Files, summary.CommittedBatches, summary.FailedBatches, len(summary.SkippedFiles))
	for _, path := range summary.SkippedFiles {
		log.Printf("Skipped %s", path)
	}
	if counts, err := s.Counts(ctx); err == nil {
		for _, table := range store.Tables() {
			log.Printf("  %s: %d rows", table, counts[table])
		}
	} else {
		log.Printf("Unable to count rows: %s", err)
	}
	if c.SummaryFile != "" {
		if err = writeSummary(afero.NewOsFs(), c.SummaryFile, summary); err != nil {
			log.Printf("Unable to write the summary: %s", err)
		}
	}
	log.Printf("Finished in %s", time.Since(start).Round(time.Millisecond))

	return runErr
}

// ensureParentDir creates the directory holding a file-backed SQLite database.
func ensureParentDir(dsn string) error {
	path, _, _ := strings.Cut(strings.TrimPrefix(dsn, "file:"), "?")
	if path == "" || path == ":memory:" {
		return nil
	}
	dir := filepath.Dir(path)
	ok, err := utils.Exists(dir)
	if err != nil {
		return xerrors.Errorf("unable to stat %s: %w", dir, err)
	}
	if ok {
		return nil
	}
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return xerrors.Errorf("unable to create %s: %w", dir, err)
	}
	return nil
}

func writeSummary(fs afero.Fs, path string, summary pipeline.Summary) error {
	if err := utils.NewFs(fs).WriteJSON(path, summary); err != nil {
		return xerrors.Errorf("summary error: %w", err)
	}
	return nil
}
