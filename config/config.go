package config

import (
	"path/filepath"

	"github.com/spf13/afero"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v2"

	"github.com/aquasecurity/vuln-list-ingest/pipeline"
	"github.com/aquasecurity/vuln-list-ingest/store"
	"github.com/aquasecurity/vuln-list-ingest/utils"
)

const envPrefix = "VULN_LIST_INGEST_"

type Database struct {
	Driver          string `yaml:"driver"`
	DSN             string `yaml:"dsn"`
	UniqueRecordIDs bool   `yaml:"unique_record_ids"`
}

type Config struct {
	// Dir is the local corpus root.
	Dir string `yaml:"dir"`
	// Source is an optional go-getter address fetched into a temp dir that replaces Dir.
	Source string `yaml:"source"`

	BatchSize            int      `yaml:"batch_size"`
	MaxConcurrentBatches int      `yaml:"max_concurrent_batches"`
	FileWorkers          int      `yaml:"file_workers"`
	FailurePolicy        string   `yaml:"failure_policy"`
	Extensions           []string `yaml:"extensions"`
	Progress             bool     `yaml:"progress"`
	// SummaryFile, when set, receives the run summary as JSON.
	SummaryFile string `yaml:"summary_file"`

	Database Database `yaml:"database"`
}

func Default() Config {
	return Config{
		Dir:                  utils.VulnListDir(),
		BatchSize:            1000,
		MaxConcurrentBatches: 10,
		FileWorkers:          64,
		FailurePolicy:        string(pipeline.FailFast),
		Extensions:           []string{".json", ".json.gz"},
		Progress:             true,
		Database: Database{
			Driver: store.DriverSQLite,
			DSN:    filepath.Join(utils.CacheDir(), "vuln-list.db"),
		},
	}
}

// Load reads a YAML file on top of the defaults. An empty path returns the defaults.
func Load(fs afero.Fs, path string) (Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	b, err := afero.ReadFile(fs, path)
	if err != nil {
		return Config{}, xerrors.Errorf("unable to read config %s: %w", path, err)
	}
	if err = yaml.UnmarshalStrict(b, &c); err != nil {
		return Config{}, xerrors.Errorf("unable to decode config %s: %w", path, err)
	}
	return c, nil
}

// ApplyEnv overrides fields with VULN_LIST_INGEST_* variables that are set.
func (c *Config) ApplyEnv() error {
	var err error
	c.Dir = utils.LookupEnv(envPrefix+"DIR", c.Dir)
	c.Source = utils.LookupEnv(envPrefix+"SOURCE", c.Source)
	c.FailurePolicy = utils.LookupEnv(envPrefix+"FAILURE_POLICY", c.FailurePolicy)
	c.SummaryFile = utils.LookupEnv(envPrefix+"SUMMARY_FILE", c.SummaryFile)
	c.Database.Driver = utils.LookupEnv(envPrefix+"DB_DRIVER", c.Database.Driver)
	c.Database.DSN = utils.LookupEnv(envPrefix+"DB_DSN", c.Database.DSN)

	if c.BatchSize, err = utils.LookupEnvInt(envPrefix+"BATCH_SIZE", c.BatchSize); err != nil {
		return err
	}
	if c.MaxConcurrentBatches, err = utils.LookupEnvInt(envPrefix+"MAX_CONCURRENT_BATCHES", c.MaxConcurrentBatches); err != nil {
		return err
	}
	if c.FileWorkers, err = utils.LookupEnvInt(envPrefix+"FILE_WORKERS", c.FileWorkers); err != nil {
		return err
	}
	if c.Progress, err = utils.LookupEnvBool(envPrefix+"PROGRESS", c.Progress); err != nil {
		return err
	}
	if c.Database.UniqueRecordIDs, err = utils.LookupEnvBool(envPrefix+"DB_UNIQUE_RECORD_IDS", c.Database.UniqueRecordIDs); err != nil {
		return err
	}
	return nil
}

func (c Config) Validate() error {
	if c.Dir == "" && c.Source == "" {
		return xerrors.New("either dir or source must be specified")
	}
	if c.BatchSize <= 0 {
		return xerrors.Errorf("batch_size must be positive: %d", c.BatchSize)
	}
	if c.MaxConcurrentBatches <= 0 {
		return xerrors.Errorf("max_concurrent_batches must be positive: %d", c.MaxConcurrentBatches)
	}
	if c.FileWorkers < 0 {
		return xerrors.Errorf("file_workers must not be negative: %d", c.FileWorkers)
	}
	if len(c.Extensions) == 0 {
		return xerrors.New("extensions must not be empty")
	}
	if _, err := pipeline.ParsePolicy(c.FailurePolicy); err != nil {
		return err
	}
	switch c.Database.Driver {
	case store.DriverSQLite, store.DriverPostgres:
	default:
		return xerrors.Errorf("unsupported database driver: %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return xerrors.New("database dsn must be specified")
	}
	return nil
}
