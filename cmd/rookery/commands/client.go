package commands

import (
	"fmt"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"github.com/rookery-dev/rookery/internal/config"
	"github.com/rookery-dev/rookery/internal/printer"
	"github.com/rookery-dev/rookery/pkg/discovery"
	"github.com/rookery-dev/rookery/pkg/docstore"
	"github.com/rookery-dev/rookery/pkg/eventlog"
	"github.com/rookery-dev/rookery/pkg/query"
	"github.com/rookery-dev/rookery/pkg/session"
)

// clients bundles the read-side handles every subcommand needs, built from
// the storage backend named in rookery.yml.
type clients struct {
	sessions *session.Store
	index    *discovery.Index
	log      *eventlog.Log
	api      *query.API

	closers []func() error
}

func (c *clients) Close() {
	for _, close := range c.closers {
		_ = close()
	}
}

// openClients loads rookery.yml and connects the session store, discovery
// index, and event log against the configured backend.
func openClients() (*clients, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, printer.Error(
			"failed to load configuration",
			fmt.Sprintf("Error: %v", err),
			[]string{fmt.Sprintf("Check that %s exists and is valid YAML", configPath)},
		)
	}

	switch cfg.Storage.Backend {
	case config.BackendRedis:
		return openRedisClients(cfg)
	case config.BackendFile:
		return openFileClients(cfg)
	default:
		return nil, fmt.Errorf("unknown storage backend: %q", cfg.Storage.Backend)
	}
}

func openRedisClients(cfg *config.Config) (*clients, error) {
	opts := &redis.Options{
		Addr:     cfg.Storage.Redis.Addr,
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	}

	sessionDocs, err := docstore.NewRedisStore(opts, cfg.Instance, "session")
	if err != nil {
		return nil, fmt.Errorf("failed to connect session store: %w", err)
	}
	indexDocs, err := docstore.NewRedisStore(opts, cfg.Instance, "discovery")
	if err != nil {
		sessionDocs.Close()
		return nil, fmt.Errorf("failed to connect discovery index: %w", err)
	}
	appender, err := eventlog.NewRedisAppender(opts, cfg.Instance)
	if err != nil {
		sessionDocs.Close()
		indexDocs.Close()
		return nil, fmt.Errorf("failed to connect event log: %w", err)
	}

	c := &clients{
		sessions: session.NewStore(sessionDocs),
		index:    discovery.NewIndex(indexDocs),
		log:      eventlog.NewLog(appender),
		closers:  []func() error{sessionDocs.Close, indexDocs.Close, appender.Close},
	}
	c.api = query.New(c.sessions, c.log)
	return c, nil
}

func openFileClients(cfg *config.Config) (*clients, error) {
	sessionDocs, err := docstore.NewFileStore(filepath.Join(cfg.Storage.Dir, "sessions"))
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	indexDocs, err := docstore.NewFileStore(filepath.Join(cfg.Storage.Dir, "discovery"))
	if err != nil {
		return nil, fmt.Errorf("failed to open discovery index: %w", err)
	}
	appender, err := eventlog.NewFileAppender(filepath.Join(cfg.Storage.Dir, "events"))
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}

	c := &clients{
		sessions: session.NewStore(sessionDocs),
		index:    discovery.NewIndex(indexDocs),
		log:      eventlog.NewLog(appender),
		closers:  []func() error{sessionDocs.Close, indexDocs.Close, appender.Close},
	}
	c.api = query.New(c.sessions, c.log)
	return c, nil
}
