package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/burrow/adapter"
	"github.com/justapithecus/burrow/adapter/redis"
	"github.com/justapithecus/burrow/adapter/webhook"
	"github.com/justapithecus/burrow/backend"
	"github.com/justapithecus/burrow/bridge"
	"github.com/justapithecus/burrow/cli/render"
	"github.com/justapithecus/burrow/executor"
	"github.com/justapithecus/burrow/log"
	"github.com/justapithecus/burrow/metrics"
	"github.com/justapithecus/burrow/runtime"
	"github.com/justapithecus/burrow/worker"
)

// session holds what a file command needs: a bridge to a lazily started
// worker plus output and diagnostics.
type session struct {
	settings  *settings
	logger    *log.Logger
	collector *metrics.Collector
	bridge    *bridge.Bridge
	renderer  *render.Renderer
	errWriter io.Writer
}

func openSession(c *cli.Context) (*session, error) {
	s, err := loadSettings(c)
	if err != nil {
		return nil, cli.Exit(err.Error(), exitInvalidInput)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return nil, cli.Exit(err.Error(), exitInvalidInput)
	}

	logger, err := log.NewLogger(log.Options{
		Component: "cli",
		Level:     s.logLevel,
		Output:    c.App.ErrWriter,
		Fields: map[string]string{
			"worker_mode": s.workerMode,
			"backend":     s.storage.backend,
		},
	})
	if err != nil {
		return nil, cli.Exit(err.Error(), exitInvalidInput)
	}

	notifier, err := buildNotifier(s.notify)
	if err != nil {
		return nil, cli.Exit(err.Error(), exitInvalidInput)
	}

	collector := metrics.NewCollector(s.workerMode, s.storage.backend)
	b, err := bridge.New(bridge.Config{
		Spawner:       newSpawner(c, s, logger),
		Logger:        logger,
		Collector:     collector,
		Notifier:      notifier,
		Backend:       s.storage.backend,
		RejectOnCrash: s.rejectOnCrash,
	})
	if err != nil {
		return nil, err
	}

	return &session{
		settings:  s,
		logger:    logger,
		collector: collector,
		bridge:    b,
		renderer:  r,
		errWriter: c.App.ErrWriter,
	}, nil
}

// callContext bounds one bridge call by --timeout.
func (s *session) callContext(parent context.Context) (context.Context, context.CancelFunc) {
	if s.settings.timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, s.settings.timeout)
}

// report writes the --report file, if one was asked for.
func (s *session) report(op string, err error, duration time.Duration) {
	if s.settings.reportPath == "" {
		return
	}
	report := buildSessionReport(op, err, duration, s.collector.Snapshot())
	if werr := writeSessionReport(report, s.settings.reportPath, s.errWriter); werr != nil {
		s.logger.Warn("failed to write report", map[string]any{"error": werr.Error()})
	}
}

func (s *session) close() {
	s.logger.Debug("session finished", s.collector.Snapshot().Fields())
	if err := s.bridge.Close(); err != nil {
		s.logger.Warn("failed to close bridge", map[string]any{"error": err.Error()})
	}
	_ = s.logger.Sync()
}

func newSpawner(c *cli.Context, s *settings, logger *log.Logger) runtime.Spawner {
	if s.workerMode == "inprocess" {
		errWriter := c.App.ErrWriter
		return runtime.InProcess(runtime.InProcessConfig{
			NewDispatcher: func() (*worker.Dispatcher, error) {
				return newDispatcher(context.Background(), s, errWriter)
			},
			Logger: logger,
		})
	}
	return runtime.Process(runtime.ProcessConfig{
		Args: s.workerArgs(),
		// An empty value wins over the inherited one after deduplication.
		Env:    []string{EnvConfig + "="},
		Logger: logger,
	})
}

// newDispatcher opens the storage backend and wires it behind a dispatcher.
func newDispatcher(ctx context.Context, s *settings, errWriter io.Writer) (*worker.Dispatcher, error) {
	logger, err := log.NewLogger(log.Options{
		Component: "worker",
		Level:     s.logLevel,
		Output:    errWriter,
		Fields:    map[string]string{"backend": s.storage.backend},
	})
	if err != nil {
		return nil, err
	}
	storage, err := openStorage(ctx, s.storage)
	if err != nil {
		return nil, err
	}
	exec := executor.New(executor.Config{
		Storage: storage,
		Logger:  logger,
		Locale:  s.locale,
	})
	return worker.NewDispatcher(exec, logger), nil
}

func openStorage(ctx context.Context, s storageSettings) (backend.Storage, error) {
	switch s.backend {
	case "fs":
		return backend.NewFS(s.path), nil
	case "lode-fs":
		return backend.NewLodeFS(s.path)
	case "memory":
		return backend.NewLodeMemory(), nil
	case "s3":
		bucket, prefix := backend.ParseS3Path(s.path)
		return backend.NewS3Storage(ctx, backend.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       s.region,
			Endpoint:     s.endpoint,
			UsePathStyle: s.pathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", s.backend)
	}
}

func buildNotifier(s notifySettings) (adapter.Adapter, error) {
	switch s.kind {
	case "":
		return nil, nil
	case "webhook":
		return webhook.New(webhook.Config{
			URL:     s.url,
			Headers: s.headers,
			Secret:  s.secret,
			Timeout: s.timeout,
			Retries: s.retries,
		})
	case "redis":
		return redis.New(redis.Config{
			URL:      s.url,
			Channel:  s.channel,
			IndexKey: s.indexKey,
			Timeout:  s.timeout,
			Retries:  s.retries,
		})
	default:
		return nil, fmt.Errorf("unknown notifier %q", s.kind)
	}
}
