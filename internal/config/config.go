package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "FARMRUN_"

// Config defines configuration for the farmrun CLI.
type Config struct {
	ProjectARN   string            `yaml:"project_arn"`
	Region       string            `yaml:"region"`
	DevicePools  map[string]string `yaml:"device_pools"`
	Pool         string            `yaml:"pool"`
	RunNameInfix string            `yaml:"run_name_infix"`
	ResultsDir   string            `yaml:"results_dir"`
	Rebuild      bool              `yaml:"rebuild"`
	Artifacts    ArtifactsConfig   `yaml:"artifacts"`
	Build        BuildConfig       `yaml:"build"`
	Upload       PollConfig        `yaml:"upload"`
	Run          PollConfig        `yaml:"run"`
	Download     DownloadConfig    `yaml:"download"`
	Retry        RetryConfig       `yaml:"retry"`
	Archive      ArchiveConfig     `yaml:"archive"`
	Tracing      TracingConfig     `yaml:"tracing"`
	Log          LogConfig         `yaml:"log"`
}

// ArtifactsConfig locates the packages uploaded for a run.
type ArtifactsConfig struct {
	App         string `yaml:"app"`
	Tests       string `yaml:"tests"`
	ContentType string `yaml:"content_type"`
}

// BuildConfig defines the local build that produces the artifacts.
type BuildConfig struct {
	Dir     string   `yaml:"dir"`
	Command []string `yaml:"command"`
}

// PollConfig defines how a remote status is polled.
type PollConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxPollInterval time.Duration `yaml:"max_poll_interval"`
	MaxWait         time.Duration `yaml:"max_wait"`
}

// DownloadConfig defines result download behavior.
type DownloadConfig struct {
	Workers  int  `yaml:"workers"` // 0 means one per CPU
	Progress bool `yaml:"progress"`
}

// RetryConfig defines retry behavior.
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// ArchiveConfig defines where finished runs are mirrored. An empty bucket
// disables archiving.
type ArchiveConfig struct {
	Bucket string `yaml:"bucket"`
}

// TracingConfig selects the trace exporter.
type TracingConfig struct {
	Exporter string `yaml:"exporter"` // none, stdout or otlphttp
	Endpoint string `yaml:"endpoint"`
}

// LogConfig defines log output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Region:       "us-west-2",
		Pool:         "small",
		RunNameInfix: "hw-support",
		ResultsDir:   "results",
		Artifacts: ArtifactsConfig{
			App:         "app/build/outputs/apk/debug/app-debug.apk",
			Tests:       "bench/build/outputs/apk/androidTest/debug/bench-debug-androidTest.apk",
			ContentType: "application/octet-stream",
		},
		Build: BuildConfig{
			Dir:     ".",
			Command: []string{"./gradlew", "assembleDebug", "assembleAndroidTest"},
		},
		Upload: PollConfig{
			PollInterval: 3 * time.Second,
			MaxWait:      30 * time.Minute,
		},
		Run: PollConfig{
			PollInterval:    10 * time.Second,
			MaxPollInterval: time.Minute,
			MaxWait:         12 * time.Hour,
		},
		Retry: RetryConfig{
			Attempts:   5,
			Backoff:    time.Second,
			MaxBackoff: 30 * time.Second,
		},
		Tracing: TracingConfig{Exporter: "none"},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// yamlConfig is used for YAML unmarshaling with string durations.
type yamlConfig struct {
	ProjectARN   string            `yaml:"project_arn"`
	Region       string            `yaml:"region"`
	DevicePools  map[string]string `yaml:"device_pools"`
	Pool         string            `yaml:"pool"`
	RunNameInfix *string           `yaml:"run_name_infix"`
	ResultsDir   string            `yaml:"results_dir"`
	Rebuild      bool              `yaml:"rebuild"`
	Artifacts    ArtifactsConfig   `yaml:"artifacts"`
	Build        BuildConfig       `yaml:"build"`
	Upload       yamlPollConfig    `yaml:"upload"`
	Run          yamlPollConfig    `yaml:"run"`
	Download     DownloadConfig    `yaml:"download"`
	Retry        yamlRetryConfig   `yaml:"retry"`
	Archive      ArchiveConfig     `yaml:"archive"`
	Tracing      TracingConfig     `yaml:"tracing"`
	Log          LogConfig         `yaml:"log"`
}

type yamlPollConfig struct {
	PollInterval    string `yaml:"poll_interval"`
	MaxPollInterval string `yaml:"max_poll_interval"`
	MaxWait         string `yaml:"max_wait"`
}

type yamlRetryConfig struct {
	Attempts   int    `yaml:"attempts"`
	Backoff    string `yaml:"backoff"`
	MaxBackoff string `yaml:"max_backoff"`
}

// LoadFromFile loads configuration from a YAML file on top of Default().
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if yc.ProjectARN != "" {
		cfg.ProjectARN = yc.ProjectARN
	}
	if yc.Region != "" {
		cfg.Region = yc.Region
	}
	if len(yc.DevicePools) > 0 {
		cfg.DevicePools = yc.DevicePools
	}
	if yc.Pool != "" {
		cfg.Pool = yc.Pool
	}
	// An explicit empty infix drops the segment from run ids.
	if yc.RunNameInfix != nil {
		cfg.RunNameInfix = *yc.RunNameInfix
	}
	if yc.ResultsDir != "" {
		cfg.ResultsDir = yc.ResultsDir
	}
	cfg.Rebuild = yc.Rebuild
	if yc.Artifacts.App != "" {
		cfg.Artifacts.App = yc.Artifacts.App
	}
	if yc.Artifacts.Tests != "" {
		cfg.Artifacts.Tests = yc.Artifacts.Tests
	}
	if yc.Artifacts.ContentType != "" {
		cfg.Artifacts.ContentType = yc.Artifacts.ContentType
	}
	if yc.Build.Dir != "" {
		cfg.Build.Dir = yc.Build.Dir
	}
	if len(yc.Build.Command) > 0 {
		cfg.Build.Command = yc.Build.Command
	}
	if err := yc.Upload.apply("upload", &cfg.Upload); err != nil {
		return Config{}, err
	}
	if err := yc.Run.apply("run", &cfg.Run); err != nil {
		return Config{}, err
	}
	if yc.Download.Workers != 0 {
		cfg.Download.Workers = yc.Download.Workers
	}
	cfg.Download.Progress = yc.Download.Progress
	if yc.Retry.Attempts != 0 {
		cfg.Retry.Attempts = yc.Retry.Attempts
	}
	if err := parseDuration("retry.backoff", yc.Retry.Backoff, &cfg.Retry.Backoff); err != nil {
		return Config{}, err
	}
	if err := parseDuration("retry.max_backoff", yc.Retry.MaxBackoff, &cfg.Retry.MaxBackoff); err != nil {
		return Config{}, err
	}
	if yc.Archive.Bucket != "" {
		cfg.Archive.Bucket = yc.Archive.Bucket
	}
	if yc.Tracing.Exporter != "" {
		cfg.Tracing.Exporter = yc.Tracing.Exporter
	}
	if yc.Tracing.Endpoint != "" {
		cfg.Tracing.Endpoint = yc.Tracing.Endpoint
	}
	if yc.Log.Level != "" {
		cfg.Log.Level = yc.Log.Level
	}
	if yc.Log.Format != "" {
		cfg.Log.Format = yc.Log.Format
	}

	return cfg, nil
}

func (y yamlPollConfig) apply(section string, pc *PollConfig) error {
	if err := parseDuration(section+".poll_interval", y.PollInterval, &pc.PollInterval); err != nil {
		return err
	}
	if err := parseDuration(section+".max_poll_interval", y.MaxPollInterval, &pc.MaxPollInterval); err != nil {
		return err
	}
	return parseDuration(section+".max_wait", y.MaxWait, &pc.MaxWait)
}

// parseDuration sets *dst when s is non-empty.
func parseDuration(name, s string, dst *time.Duration) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	*dst = d
	return nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the FARMRUN_ prefix. Device pools are read from
// FARMRUN_DEVICE_POOLS as a comma separated alias=arn list.
func (c *Config) LoadFromEnv() error {
	str := map[string]*string{
		"PROJECT_ARN":            &c.ProjectARN,
		"REGION":                 &c.Region,
		"POOL":                   &c.Pool,
		"RESULTS_DIR":            &c.ResultsDir,
		"ARTIFACTS_APP":          &c.Artifacts.App,
		"ARTIFACTS_TESTS":        &c.Artifacts.Tests,
		"ARTIFACTS_CONTENT_TYPE": &c.Artifacts.ContentType,
		"BUILD_DIR":              &c.Build.Dir,
		"ARCHIVE_BUCKET":         &c.Archive.Bucket,
		"TRACING_EXPORTER":       &c.Tracing.Exporter,
		"TRACING_ENDPOINT":       &c.Tracing.Endpoint,
		"LOG_LEVEL":              &c.Log.Level,
		"LOG_FORMAT":             &c.Log.Format,
	}
	for name, dst := range str {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}

	if v, ok := os.LookupEnv(EnvPrefix + "RUN_NAME_INFIX"); ok {
		c.RunNameInfix = v
	}
	if v := os.Getenv(EnvPrefix + "DEVICE_POOLS"); v != "" {
		pools, err := parsePools(v)
		if err != nil {
			return fmt.Errorf("parse %sDEVICE_POOLS: %w", EnvPrefix, err)
		}
		c.DevicePools = pools
	}
	if v := os.Getenv(EnvPrefix + "BUILD_COMMAND"); v != "" {
		c.Build.Command = strings.Fields(v)
	}

	ints := map[string]*int{
		"DOWNLOAD_WORKERS": &c.Download.Workers,
		"RETRY_ATTEMPTS":   &c.Retry.Attempts,
	}
	for name, dst := range ints {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("parse %s%s: %w", EnvPrefix, name, err)
			}
			*dst = n
		}
	}

	bools := map[string]*bool{
		"REBUILD":           &c.Rebuild,
		"DOWNLOAD_PROGRESS": &c.Download.Progress,
	}
	for name, dst := range bools {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	durations := map[string]*time.Duration{
		"UPLOAD_POLL_INTERVAL":  &c.Upload.PollInterval,
		"UPLOAD_MAX_WAIT":       &c.Upload.MaxWait,
		"RUN_POLL_INTERVAL":     &c.Run.PollInterval,
		"RUN_MAX_POLL_INTERVAL": &c.Run.MaxPollInterval,
		"RUN_MAX_WAIT":          &c.Run.MaxWait,
		"RETRY_BACKOFF":         &c.Retry.Backoff,
		"RETRY_MAX_BACKOFF":     &c.Retry.MaxBackoff,
	}
	for name, dst := range durations {
		if err := parseDuration(EnvPrefix+name, os.Getenv(EnvPrefix+name), dst); err != nil {
			return err
		}
	}

	return nil
}

func parsePools(s string) (map[string]string, error) {
	pools := make(map[string]string)
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		alias, arn, ok := strings.Cut(entry, "=")
		if !ok || alias == "" || arn == "" {
			return nil, fmt.Errorf("invalid pool entry %q, want alias=arn", entry)
		}
		pools[alias] = arn
	}
	return pools, nil
}

// PoolARN returns the device pool reference for alias.
func (c *Config) PoolARN(alias string) (string, error) {
	arn, ok := c.DevicePools[alias]
	if !ok {
		known := make([]string, 0, len(c.DevicePools))
		for a := range c.DevicePools {
			known = append(known, a)
		}
		sort.Strings(known)
		return "", fmt.Errorf("config: unknown device pool alias %q (known: %s)", alias, strings.Join(known, ", "))
	}
	return arn, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.ProjectARN == "" {
		return errors.New("config: project_arn is required")
	}
	if c.Region == "" {
		return errors.New("config: region is required")
	}
	if len(c.DevicePools) == 0 {
		return errors.New("config: at least one device pool alias is required")
	}
	if c.Pool == "" {
		return errors.New("config: pool is required")
	}
	if _, err := c.PoolARN(c.Pool); err != nil {
		return err
	}
	if c.Artifacts.App == "" || c.Artifacts.Tests == "" {
		return errors.New("config: artifacts.app and artifacts.tests are required")
	}
	if c.ResultsDir == "" {
		return errors.New("config: results_dir is required")
	}
	if c.Rebuild && len(c.Build.Command) == 0 {
		return errors.New("config: build.command is required to rebuild")
	}
	if err := c.Upload.validate("upload"); err != nil {
		return err
	}
	if err := c.Run.validate("run"); err != nil {
		return err
	}
	if c.Download.Workers < 0 {
		return errors.New("config: download.workers must not be negative")
	}
	if c.Retry.Attempts < 0 {
		return errors.New("config: retry.attempts must not be negative")
	}
	switch c.Tracing.Exporter {
	case "", "none", "stdout", "otlphttp":
	default:
		return fmt.Errorf("config: unknown tracing exporter %q", c.Tracing.Exporter)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	return nil
}

func (p PollConfig) validate(section string) error {
	if p.PollInterval <= 0 {
		return fmt.Errorf("config: %s.poll_interval must be positive", section)
	}
	if p.MaxPollInterval != 0 && p.MaxPollInterval < p.PollInterval {
		return fmt.Errorf("config: %s.max_poll_interval must be at least poll_interval", section)
	}
	if p.MaxWait < p.PollInterval {
		return fmt.Errorf("config: %s.max_wait must be at least poll_interval", section)
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	if override.ProjectARN != "" {
		c.ProjectARN = override.ProjectARN
	}
	if override.Region != "" {
		c.Region = override.Region
	}
	if len(override.DevicePools) > 0 {
		c.DevicePools = override.DevicePools
	}
	if override.Pool != "" {
		c.Pool = override.Pool
	}
	if override.RunNameInfix != "" {
		c.RunNameInfix = override.RunNameInfix
	}
	if override.ResultsDir != "" {
		c.ResultsDir = override.ResultsDir
	}
	if override.Rebuild {
		c.Rebuild = true
	}
	if override.Artifacts.App != "" {
		c.Artifacts.App = override.Artifacts.App
	}
	if override.Artifacts.Tests != "" {
		c.Artifacts.Tests = override.Artifacts.Tests
	}
	if override.Build.Dir != "" {
		c.Build.Dir = override.Build.Dir
	}
	if override.Download.Workers != 0 {
		c.Download.Workers = override.Download.Workers
	}
	if override.Download.Progress {
		c.Download.Progress = true
	}
	if override.Archive.Bucket != "" {
		c.Archive.Bucket = override.Archive.Bucket
	}
	if override.Tracing.Exporter != "" {
		c.Tracing.Exporter = override.Tracing.Exporter
	}
	if override.Log.Level != "" {
		c.Log.Level = override.Log.Level
	}
	if override.Log.Format != "" {
		c.Log.Format = override.Log.Format
	}
	return c
}
