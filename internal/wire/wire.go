// Package wire provides dependency injection for the approvals application.
// It creates singleton services with lazy initialization.
package wire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	cliadapter "github.com/example/approvals/internal/adapters/cli"
	httpapi "github.com/example/approvals/internal/adapters/http"
	"github.com/example/approvals/internal/adapters/jsonfile"
	"github.com/example/approvals/internal/adapters/notify"
	"github.com/example/approvals/internal/adapters/postgres"
	redisrepo "github.com/example/approvals/internal/adapters/redis"
	"github.com/example/approvals/internal/adapters/sqlite"
	"github.com/example/approvals/internal/app"
	"github.com/example/approvals/internal/config"
	"github.com/example/approvals/internal/core/notification"
	"github.com/example/approvals/internal/db"
	"github.com/example/approvals/internal/logging"
	"github.com/example/approvals/internal/metrics"
	"github.com/example/approvals/internal/ports/primary"
	"github.com/example/approvals/internal/ports/secondary"
)

var (
	cfg            *config.Config
	logger         *slog.Logger
	registry       *prometheus.Registry
	appMetrics     *metrics.Metrics
	closer         io.Closer
	requestService primary.RequestService
	once           sync.Once
	mu             sync.Mutex
)

// SetConfig installs the configuration used by the singletons.
// It must be called before the first service is requested; later calls are ignored.
func SetConfig(c *config.Config) {
	mu.Lock()
	defer mu.Unlock()
	cfg = c
}

// Config returns the active configuration, loading it from the working
// directory when none was set.
func Config() *config.Config {
	mu.Lock()
	defer mu.Unlock()
	if cfg == nil {
		wd, _ := os.Getwd()
		loaded, err := config.Load(wd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	return cfg
}

// Logger returns the singleton application logger.
func Logger() *slog.Logger {
	once.Do(initServices)
	return logger
}

// Registry returns the Prometheus registry holding the application collectors.
func Registry() *prometheus.Registry {
	once.Do(initServices)
	return registry
}

// RequestService returns the singleton RequestService instance.
func RequestService() primary.RequestService {
	once.Do(initServices)
	return requestService
}

// Close releases the storage backend. Calling it more than once is a no-op.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if closer == nil {
		return nil
	}
	err := closer.Close()
	closer = nil
	return err
}

// initServices initializes all services and their dependencies.
// This is called once via sync.Once.
func initServices() {
	c := Config()

	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level: %v\n", err)
		os.Exit(1)
	}
	logger = logging.NewWithWriter(os.Stderr, level, c.Log.JSON)

	registry = prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics = metrics.New(registry)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Create repository adapter (secondary port) for the configured backend
	repo, repoCloser, err := NewRepository(ctx, c)
	if err != nil {
		logger.Error("failed to initialize storage", "backend", c.Backend, "error", err)
		os.Exit(1)
	}
	closer = repoCloser

	notifier, err := NewNotifier(c, logger)
	if err != nil {
		logger.Error("failed to initialize notifier", "kind", c.Notifier.Kind, "error", err)
		os.Exit(1)
	}

	// Create services (primary ports implementation)
	requestService = app.NewRequestService(repo, notifier,
		app.WithAddressBook(notification.AddressBook{
			ApproverDomain:  c.Mail.ApproverDomain,
			RequesterDomain: c.Mail.RequesterDomain,
		}),
		app.WithLogger(logger),
		app.WithMetrics(appMetrics),
	)
}

// NewRepository opens the storage backend selected in c.
// The returned closer is nil for backends holding no connection.
func NewRepository(ctx context.Context, c *config.Config) (secondary.RequestRepository, io.Closer, error) {
	switch c.Backend {
	case config.BackendSQLite, "":
		database, err := db.Open(c.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		return sqlite.NewRequestRepository(database), database, nil

	case config.BackendPostgres:
		database, err := postgres.Open(ctx, postgres.DefaultConfig(c.Postgres.URL))
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewRequestRepository(database), database, nil

	case config.BackendJSONFile:
		return jsonfile.NewRequestRepository(c.JSONFile.Path), nil, nil

	case config.BackendRedis:
		repo := redisrepo.New(c.Redis.Addr, c.Redis.Password, c.Redis.DB, redisrepo.WithPrefix(c.Redis.Prefix))
		if err := repo.Ping(ctx); err != nil {
			repo.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", c.Redis.Addr, err)
		}
		return repo, repo, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", c.Backend)
}

// NewNotifier builds the notifier selected in c. It returns nil for "none".
func NewNotifier(c *config.Config, logger *slog.Logger) (secondary.Notifier, error) {
	switch c.Notifier.Kind {
	case config.NotifierLog, "":
		return notify.NewLogNotifier(logger), nil
	case config.NotifierSMTP:
		n, err := notify.NewSMTPNotifier(notify.SMTPConfig{
			Host:     c.Notifier.SMTP.Host,
			Port:     c.Notifier.SMTP.Port,
			Username: c.Notifier.SMTP.Username,
			Password: c.Notifier.SMTP.Password,
			From:     c.Notifier.SMTP.From,
			Timeout:  c.Notifier.SMTP.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return n, nil
	case config.NotifierNone:
		return nil, nil
	}
	return nil, errors.New("unknown notifier " + c.Notifier.Kind)
}

// HTTPHandler returns the JSON API handler backed by the singleton service.
func HTTPHandler() http.Handler {
	once.Do(initServices)
	return httpapi.NewHandler(requestService,
		httpapi.WithLogger(logger),
		httpapi.WithMetrics(appMetrics, registry),
	)
}

// RequestAdapter returns a new RequestAdapter writing to stdout.
// Each call creates a new adapter (adapters are stateless translators).
func RequestAdapter() *cliadapter.RequestAdapter {
	return RequestAdapterWithOutput(os.Stdout)
}

// RequestAdapterWithOutput returns a new RequestAdapter writing to the given output.
// This variant allows testing or alternate output destinations.
func RequestAdapterWithOutput(out io.Writer) *cliadapter.RequestAdapter {
	once.Do(initServices)
	return cliadapter.NewRequestAdapter(requestService, out)
}
