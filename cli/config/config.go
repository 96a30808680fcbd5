package config

import (
	"fmt"
	"time"
)

// Config represents a burrow.yaml configuration file.
// All values are optional and act as defaults for the global flags.
// CLI flags always override config values.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Worker  WorkerConfig  `yaml:"worker"`
	Log     LogConfig     `yaml:"log"`
	Notify  NotifyConfig  `yaml:"notify"`
}

// StorageConfig selects and locates the storage backend.
type StorageConfig struct {
	// Backend is fs, lode-fs, memory or s3.
	Backend string `yaml:"backend"`
	// Path is the root directory (fs, lode-fs) or bucket/prefix (s3).
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// WorkerConfig shapes the isolated worker.
type WorkerConfig struct {
	// Mode is process or inprocess.
	Mode          string `yaml:"mode"`
	RejectOnCrash bool   `yaml:"reject_on_crash"`
	// Locale is a BCP 47 tag used to order listings.
	Locale string `yaml:"locale"`
}

// LogConfig holds logging defaults.
type LogConfig struct {
	Level string `yaml:"level"`
}

// NotifyConfig holds change-notifier defaults.
type NotifyConfig struct {
	Type     string            `yaml:"type"`
	URL      string            `yaml:"url"`
	Channel  string            `yaml:"channel,omitempty"`
	IndexKey string            `yaml:"index_key,omitempty"`
	Secret   string            `yaml:"secret,omitempty"`
	Headers  map[string]string `yaml:"headers,omitempty"`
	Timeout  Duration          `yaml:"timeout,omitempty"`
	Retries  *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}
