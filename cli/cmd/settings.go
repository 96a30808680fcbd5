package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/text/language"

	burrowconfig "github.com/justapithecus/burrow/cli/config"
	"github.com/justapithecus/burrow/log"
)

var (
	storageBackends = []string{"fs", "lode-fs", "memory", "s3"}
	workerModes     = []string{"process", "inprocess"}
	notifyTypes     = []string{"webhook", "redis"}
)

type storageSettings struct {
	backend   string
	path      string
	region    string
	endpoint  string
	pathStyle bool
}

type notifySettings struct {
	kind     string
	url      string
	channel  string
	indexKey string
	secret   string
	headers  map[string]string
	timeout  time.Duration
	retries  int
}

// settings is the resolved configuration: config file values overridden by
// explicitly set flags.
type settings struct {
	storage       storageSettings
	workerMode    string
	rejectOnCrash bool
	locale        language.Tag
	logLevel      string
	timeout       time.Duration
	reportPath    string
	notify        notifySettings
}

func loadSettings(c *cli.Context) (*settings, error) {
	var cfg *burrowconfig.Config
	if path := c.String("config"); path != "" {
		loaded, err := burrowconfig.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	s := &settings{
		storage: storageSettings{
			backend:   resolveString(c, "storage-backend", configVal(cfg, func(c *burrowconfig.Config) string { return c.Storage.Backend })),
			path:      resolveString(c, "storage-path", configVal(cfg, func(c *burrowconfig.Config) string { return c.Storage.Path })),
			region:    resolveString(c, "s3-region", configVal(cfg, func(c *burrowconfig.Config) string { return c.Storage.Region })),
			endpoint:  resolveString(c, "s3-endpoint", configVal(cfg, func(c *burrowconfig.Config) string { return c.Storage.Endpoint })),
			pathStyle: resolveBool(c, "s3-path-style", cfg != nil && cfg.Storage.S3PathStyle),
		},
		workerMode:    resolveString(c, "worker-mode", configVal(cfg, func(c *burrowconfig.Config) string { return c.Worker.Mode })),
		rejectOnCrash: resolveBool(c, "reject-on-crash", cfg != nil && cfg.Worker.RejectOnCrash),
		logLevel:      resolveString(c, "log-level", configVal(cfg, func(c *burrowconfig.Config) string { return c.Log.Level })),
		timeout:       c.Duration("timeout"),
		reportPath:    c.String("report"),
		notify: notifySettings{
			kind:     resolveString(c, "notify-type", configVal(cfg, func(c *burrowconfig.Config) string { return c.Notify.Type })),
			url:      resolveString(c, "notify-url", configVal(cfg, func(c *burrowconfig.Config) string { return c.Notify.URL })),
			channel:  resolveString(c, "notify-channel", configVal(cfg, func(c *burrowconfig.Config) string { return c.Notify.Channel })),
			indexKey: resolveString(c, "notify-index-key", configVal(cfg, func(c *burrowconfig.Config) string { return c.Notify.IndexKey })),
			secret:   resolveString(c, "notify-secret", configVal(cfg, func(c *burrowconfig.Config) string { return c.Notify.Secret })),
		},
	}
	if cfg != nil {
		s.notify.headers = cfg.Notify.Headers
		s.notify.timeout = resolveDuration(c, "notify-timeout", cfg.Notify.Timeout.Duration)
		s.notify.retries = resolveInt(c, "notify-retries", cfg.Notify.Retries)
	} else {
		s.notify.timeout = c.Duration("notify-timeout")
		s.notify.retries = c.Int("notify-retries")
	}

	localeTag := resolveString(c, "locale", configVal(cfg, func(c *burrowconfig.Config) string { return c.Worker.Locale }))
	if localeTag != "" {
		tag, err := language.Parse(localeTag)
		if err != nil {
			return nil, fmt.Errorf("invalid locale %q: %w", localeTag, err)
		}
		s.locale = tag
	}

	if s.storage.path == "" && (s.storage.backend == "fs" || s.storage.backend == "lode-fs") {
		root, err := defaultStorageRoot()
		if err != nil {
			return nil, err
		}
		s.storage.path = root
	}

	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *settings) validate() error {
	if !slices.Contains(storageBackends, s.storage.backend) {
		return fmt.Errorf("unknown storage backend %q (must be one of %v)", s.storage.backend, storageBackends)
	}
	if s.storage.backend == "s3" && s.storage.path == "" {
		return errors.New("--storage-path is required for the s3 backend (bucket/prefix)")
	}
	if !slices.Contains(workerModes, s.workerMode) {
		return fmt.Errorf("unknown worker mode %q (must be one of %v)", s.workerMode, workerModes)
	}
	if _, err := log.ParseLevel(s.logLevel); err != nil {
		return err
	}
	if s.timeout < 0 {
		return fmt.Errorf("--timeout must be >= 0, got %v", s.timeout)
	}
	if s.notify.kind != "" {
		if !slices.Contains(notifyTypes, s.notify.kind) {
			return fmt.Errorf("unknown notifier %q (must be one of %v)", s.notify.kind, notifyTypes)
		}
		if s.notify.url == "" {
			return fmt.Errorf("--notify-url is required for the %s notifier", s.notify.kind)
		}
	}
	return nil
}

// workerArgs are the arguments a child worker is started with. The child
// gets every storage setting explicitly and ignores the config file.
func (s *settings) workerArgs() []string {
	args := []string{
		"--storage-backend", s.storage.backend,
		"--storage-path", s.storage.path,
		"--log-level", s.logLevel,
		"--locale", s.locale.String(),
	}
	if s.storage.region != "" {
		args = append(args, "--s3-region", s.storage.region)
	}
	if s.storage.endpoint != "" {
		args = append(args, "--s3-endpoint", s.storage.endpoint)
	}
	if s.storage.pathStyle {
		args = append(args, "--s3-path-style")
	}
	return append(args, "worker")
}

func defaultStorageRoot() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("no default storage path, set --storage-path: %w", err)
	}
	return filepath.Join(dir, "burrow", "files"), nil
}

// configVal extracts a value from a possibly nil config.
func configVal(cfg *burrowconfig.Config, get func(*burrowconfig.Config) string) string {
	if cfg == nil {
		return ""
	}
	return get(cfg)
}

// resolveString returns the flag value if explicitly set, else the config
// value if non-empty, else the flag default.
func resolveString(c *cli.Context, name, cfgVal string) string {
	if c.IsSet(name) {
		return c.String(name)
	}
	if cfgVal != "" {
		return cfgVal
	}
	return c.String(name)
}

func resolveBool(c *cli.Context, name string, cfgVal bool) bool {
	if c.IsSet(name) {
		return c.Bool(name)
	}
	return cfgVal || c.Bool(name)
}

func resolveInt(c *cli.Context, name string, cfgVal *int) int {
	if c.IsSet(name) || cfgVal == nil {
		return c.Int(name)
	}
	return *cfgVal
}

func resolveDuration(c *cli.Context, name string, cfgVal time.Duration) time.Duration {
	if c.IsSet(name) {
		return c.Duration(name)
	}
	if cfgVal > 0 {
		return cfgVal
	}
	return c.Duration(name)
}
