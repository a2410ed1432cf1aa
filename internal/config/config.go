// Package config resolves run settings from flags, CLAIMS_* environment
// variables, and an optional config file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. CLAIMS_OUTPUT_DIR.
const EnvPrefix = "CLAIMS"

// Config holds the settings of one run.
type Config struct {
	PharmacyDirs []string `mapstructure:"pharmacy-dirs"`
	ClaimsDirs   []string `mapstructure:"claims-dirs"`
	RevertsDirs  []string `mapstructure:"reverts-dirs"`
	OutputDir    string   `mapstructure:"output-dir"`
	Format       string   `mapstructure:"format"`

	Workers int `mapstructure:"workers"`
	Shards  int `mapstructure:"shards"`
	TopN    int `mapstructure:"top-n"`

	LogFormat  string `mapstructure:"log-format"`
	LogLevel   string `mapstructure:"log-level"`
	NoProgress bool   `mapstructure:"no-progress"`

	S3Bucket    string `mapstructure:"s3-bucket"`
	S3Prefix    string `mapstructure:"s3-prefix"`
	S3Region    string `mapstructure:"s3-region"`
	DatabaseURL string `mapstructure:"database-url"`
}

// RegisterFlags defines every setting on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringSlice("pharmacy-dirs", nil, "Directories containing the pharmacy CSV file")
	fs.StringSlice("claims-dirs", nil, "Directories containing claim JSON files")
	fs.StringSlice("reverts-dirs", nil, "Directories containing revert JSON files")
	fs.StringP("output-dir", "o", "", "Directory where report files are written")
	fs.String("format", "json", "Report format: json or parquet")
	fs.Int("workers", 4, "Number of concurrent file loaders")
	fs.Int("shards", 1, "Number of shards per reducer pass")
	fs.Int("top-n", 2, "Number of cheapest chains kept per drug")
	fs.String("log-format", "json", "Log format: json or console")
	fs.String("log-level", "info", "Log level: debug, info, warn, error")
	fs.Bool("no-progress", false, "Disable progress bars")
	fs.String("s3-bucket", "", "Upload reports to this S3 bucket")
	fs.String("s3-prefix", "pharmacy-claims", "S3 key prefix; the run id is appended")
	fs.String("s3-region", "us-east-1", "AWS region")
	fs.String("database-url", "", "Store reports in this PostgreSQL database")
	fs.String("config", "", "Config file (yaml, json or toml)")
}

// Load merges fs, the environment, and the config file named by the
// "config" flag. Flags that were not set fall back to the environment, then
// to the file, then to their defaults.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.PharmacyDirs = splitList(cfg.PharmacyDirs)
	cfg.ClaimsDirs = splitList(cfg.ClaimsDirs)
	cfg.RevertsDirs = splitList(cfg.RevertsDirs)
	return cfg, nil
}

// splitList flattens comma-separated entries and drops blanks.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// ValidateInputs checks the settings needed to discover and load inputs.
func (c *Config) ValidateInputs() error {
	var errs []error
	if len(c.PharmacyDirs) == 0 {
		errs = append(errs, errors.New("pharmacy-dirs is required"))
	}
	if len(c.ClaimsDirs) == 0 {
		errs = append(errs, errors.New("claims-dirs is required"))
	}
	if len(c.RevertsDirs) == 0 {
		errs = append(errs, errors.New("reverts-dirs is required"))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("unknown log-format %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// Validate checks every setting needed for a full run.
func (c *Config) Validate() error {
	errs := []error{c.ValidateInputs()}
	if c.OutputDir == "" {
		errs = append(errs, errors.New("output-dir is required"))
	}
	switch c.Format {
	case "json", "parquet":
	default:
		errs = append(errs, fmt.Errorf("unknown format %q (want json or parquet)", c.Format))
	}
	if c.Shards < 1 {
		errs = append(errs, fmt.Errorf("shards must be at least 1, got %d", c.Shards))
	}
	if c.TopN < 1 {
		errs = append(errs, fmt.Errorf("top-n must be at least 1, got %d", c.TopN))
	}
	if c.S3Bucket != "" && c.S3Region == "" {
		errs = append(errs, errors.New("s3-region is required with s3-bucket"))
	}
	return errors.Join(errs...)
}
