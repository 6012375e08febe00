package config

import (
	"bytes"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/ethpandaops/resultoor/pkg/fsutil"
	"github.com/ethpandaops/resultoor/pkg/outcome"
	"github.com/spf13/viper"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	// EnvPrefix is the prefix for environment variable overrides, e.g.
	// RESULTOOR_QASE_API_TOKEN.
	EnvPrefix = "RESULTOOR"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultDatabaseDriver is the default outcome store driver.
	DefaultDatabaseDriver = "sqlite"

	// DefaultSQLitePath is the default SQLite database path.
	DefaultSQLitePath = "./resultoor.db"

	// DefaultQaseBaseURL is the default remote test-management API base URL.
	DefaultQaseBaseURL = "https://api.qase.io/v1"

	// DefaultQaseTimeout is the default per-call timeout for remote requests.
	DefaultQaseTimeout = "30s"

	// DefaultQaseRetries is how often a timed-out GET request is retried.
	DefaultQaseRetries = 2

	// DefaultQaseRequestsPerMinute is the default client-side rate limit.
	DefaultQaseRequestsPerMinute = 600

	// DefaultQasePageSize is the page size used when listing remote cases.
	DefaultQasePageSize = 100

	// DefaultAPIListen is the default query API listen address.
	DefaultAPIListen = ":8080"

	// DefaultAPIRequestsPerMinute is the default per-IP query API limit.
	DefaultAPIRequestsPerMinute = 120

	// DefaultReportPrefix is the default S3 key prefix for uploaded reports.
	DefaultReportPrefix = "reports"
)

// Config is the root configuration for resultoor.
type Config struct {
	Global   GlobalConfig              `yaml:"global" mapstructure:"global"`
	Database DatabaseConfig            `yaml:"database" mapstructure:"database"`
	Qase     QaseConfig                `yaml:"qase" mapstructure:"qase"`
	Variants map[string]*VariantConfig `yaml:"variants" mapstructure:"variants"`
	Report   ReportConfig              `yaml:"report,omitempty" mapstructure:"report"`
	API      APIConfig                 `yaml:"api,omitempty" mapstructure:"api"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// QaseConfig contains the remote test-management service settings. A zero
// Retries disables GET retries and a zero RequestsPerMinute disables the
// client-side rate limit.
type QaseConfig struct {
	BaseURL           string `yaml:"base_url" mapstructure:"base_url"`
	ProjectCode       string `yaml:"project_code" mapstructure:"project_code"`
	APIToken          string `yaml:"api_token" mapstructure:"api_token"`
	Timeout           string `yaml:"timeout,omitempty" mapstructure:"timeout"`
	Retries           int    `yaml:"retries" mapstructure:"retries"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	PageSize          int    `yaml:"page_size,omitempty" mapstructure:"page_size"`
}

// TimeoutDuration returns the parsed per-call timeout.
func (q *QaseConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(q.Timeout)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(DefaultQaseTimeout)
	}

	return d
}

// VariantConfig contains the settings of one test variant.
type VariantConfig struct {
	LogFile   string `yaml:"log_file" mapstructure:"log_file"`
	SuiteID   int64  `yaml:"suite_id" mapstructure:"suite_id"`
	SuiteName string `yaml:"suite_name,omitempty" mapstructure:"suite_name"`
	RunName   string `yaml:"run_name,omitempty" mapstructure:"run_name"`
}

// ReportConfig contains settings for formatted scan reports.
type ReportConfig struct {
	// Owner optionally chowns written report files, as "UID:GID".
	Owner  string              `yaml:"owner,omitempty" mapstructure:"owner"`
	Upload *ReportUploadConfig `yaml:"upload,omitempty" mapstructure:"upload"`
}

// ReportUploadConfig selects the report upload backend.
type ReportUploadConfig struct {
	S3 *S3UploadConfig `yaml:"s3,omitempty" mapstructure:"s3"`
}

// S3UploadConfig contains S3-compatible upload settings.
type S3UploadConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	StorageClass    string `yaml:"storage_class,omitempty" mapstructure:"storage_class"`
	ACL             string `yaml:"acl,omitempty" mapstructure:"acl"`
}

// UploadEnabled reports whether S3 report upload is configured and enabled.
func (r *ReportConfig) UploadEnabled() bool {
	return r.Upload != nil && r.Upload.S3 != nil && r.Upload.S3.Enabled
}

// Load reads and merges the configuration files in order, applies
// environment overrides and defaults.
func Load(paths ...string) (*Config, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no config file given")
	}

	v := viper.New()
	v.SetConfigType("yaml")

	for i, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if i == 0 {
			err = v.ReadConfig(bytes.NewReader(data))
		} else {
			err = v.MergeConfig(bytes.NewReader(data))
		}

		if err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	// Zero is a valid setting for these keys.
	v.SetDefault("qase.retries", DefaultQaseRetries)
	v.SetDefault("qase.requests_per_minute", DefaultQaseRequestsPerMinute)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, reflect.TypeOf(Config{}), "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// bindEnvs registers every struct key with viper so that environment
// overrides apply even when the key is absent from the file. Map-typed
// sections are only overridable for keys present in the file.
func bindEnvs(v *viper.Viper, t reflect.Type, prefix string) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	if t.Kind() != reflect.Struct {
		return
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		tag := strings.Split(field.Tag.Get("mapstructure"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}

		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		ft := field.Type
		for ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}

		switch ft.Kind() {
		case reflect.Struct:
			bindEnvs(v, ft, key)
		case reflect.Map:
			continue
		default:
			_ = v.BindEnv(key)
		}
	}
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDatabaseDriver
	}

	if c.Database.Driver == "sqlite" && c.Database.SQLite.Path == "" {
		c.Database.SQLite.Path = DefaultSQLitePath
	}

	if c.Database.Postgres.Port == 0 {
		c.Database.Postgres.Port = 5432
	}

	if c.Database.Postgres.SSLMode == "" {
		c.Database.Postgres.SSLMode = "disable"
	}

	if c.Qase.BaseURL == "" {
		c.Qase.BaseURL = DefaultQaseBaseURL
	}

	c.Qase.BaseURL = strings.TrimRight(c.Qase.BaseURL, "/")

	if c.Qase.Timeout == "" {
		c.Qase.Timeout = DefaultQaseTimeout
	}

	if c.Qase.PageSize == 0 {
		c.Qase.PageSize = DefaultQasePageSize
	}

	if c.Variants == nil {
		c.Variants = make(map[string]*VariantConfig, len(outcome.Variants))
	}

	for name, vc := range c.Variants {
		if vc == nil {
			vc = &VariantConfig{}
			c.Variants[name] = vc
		}

		title := cases.Title(language.English).String(name)

		if vc.SuiteName == "" {
			vc.SuiteName = title + " Tests"
		}

		if vc.RunName == "" {
			vc.RunName = title + " Test Run"
		}
	}

	if c.API.Listen == "" {
		c.API.Listen = DefaultAPIListen
	}

	if c.API.RateLimit.RequestsPerMinute == 0 {
		c.API.RateLimit.RequestsPerMinute = DefaultAPIRequestsPerMinute
	}

	if c.Report.UploadEnabled() && c.Report.Upload.S3.Prefix == "" {
		c.Report.Upload.S3.Prefix = DefaultReportPrefix
	}
}

// ValidateOpts scopes validation to what a command actually needs.
type ValidateOpts struct {
	// Variant, when set, must be configured.
	Variant string
	// RequireLogFile requires the variant to have a log file configured.
	RequireLogFile bool
	// RequireRemote requires the remote service settings.
	RequireRemote bool
}

// Validate checks the configuration for errors.
func (c *Config) Validate(opts ValidateOpts) error {
	if _, err := c.Global.ParsedLogLevel(); err != nil {
		return err
	}

	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	for name := range c.Variants {
		if !outcome.Variant(name).IsValid() {
			return fmt.Errorf("variants: unknown variant %q", name)
		}
	}

	if opts.Variant != "" {
		vc, ok := c.Variants[opts.Variant]
		if !ok {
			return fmt.Errorf("variants: %q is not configured", opts.Variant)
		}

		if opts.RequireLogFile && vc.LogFile == "" {
			return fmt.Errorf("variants.%s.log_file is required", opts.Variant)
		}

		if vc.SuiteID < 0 {
			return fmt.Errorf("variants.%s.suite_id must not be negative", opts.Variant)
		}
	}

	if opts.RequireRemote {
		if err := c.Qase.Validate(); err != nil {
			return fmt.Errorf("qase: %w", err)
		}
	}

	if _, err := fsutil.ParseOwner(c.Report.Owner); err != nil {
		return fmt.Errorf("report.owner: %w", err)
	}

	if c.Report.UploadEnabled() && c.Report.Upload.S3.Bucket == "" {
		return fmt.Errorf("report.upload.s3.bucket is required when upload is enabled")
	}

	return nil
}

// Validate checks the remote service settings.
func (q *QaseConfig) Validate() error {
	if q.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}

	if q.ProjectCode == "" {
		return fmt.Errorf("project_code is required")
	}

	if q.APIToken == "" {
		return fmt.Errorf("api_token is required")
	}

	if _, err := time.ParseDuration(q.Timeout); err != nil {
		return fmt.Errorf("invalid timeout %q: %w", q.Timeout, err)
	}

	if q.Retries < 0 {
		return fmt.Errorf("retries must not be negative")
	}

	if q.RequestsPerMinute < 0 {
		return fmt.Errorf("requests_per_minute must not be negative")
	}

	if q.PageSize <= 0 {
		return fmt.Errorf("page_size must be positive")
	}

	return nil
}

// Variant returns the configuration of the named variant.
func (c *Config) Variant(name string) (*VariantConfig, bool) {
	vc, ok := c.Variants[name]

	return vc, ok
}
