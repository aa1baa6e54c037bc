package main

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/viberails/termbroker/internal/broker"
	"github.com/viberails/termbroker/internal/config"
	"github.com/viberails/termbroker/internal/remote"
	"github.com/viberails/termbroker/internal/sessionstore"
)

// remoteDialer adapts internal/remote.Connection to broker.RemoteDialer,
// resolving the frontend URL and API key lazily from cfgStore on every
// dial so a hot-reloaded config takes effect on the next session.
type remoteDialer struct {
	cfgStore *config.Store
	logger   *slog.Logger
}

func (d *remoteDialer) Dial(sessionID string, callbacks remote.Callbacks) (*remote.Connection, error) {
	cur := d.cfgStore.Current()
	conn := remote.New(cur.FrontendURL, cur.APIKey, callbacks, d.logger)
	if err := conn.ConnectAsync(context.Background(), sessionID); err != nil {
		return nil, err
	}
	return conn, nil
}

// openStore opens the default SQLite-backed SessionStore under the
// resolved config directory. Failures fall back to an in-memory store
// so a broken/missing database never blocks starting a session
// (spec.md §7 Transient failures are logged and continued past).
func openStore(logger *slog.Logger) sessionstore.Store {
	dir, err := config.Dir()
	if err != nil {
		logger.Warn("resolving config dir failed, using in-memory session store", "error", err)
		return sessionstore.NewMemoryStore()
	}
	store, err := sessionstore.OpenSQLiteStore(filepath.Join(dir, "data"))
	if err != nil {
		logger.Warn("opening sqlite session store failed, using in-memory session store", "error", err)
		return sessionstore.NewMemoryStore()
	}
	return store
}

func newBroker(logger *slog.Logger, cfgStore *config.Store, store sessionstore.Store, remoteEnabled bool) *broker.Broker {
	cfg := broker.Config{
		Store:          store,
		Planner:        &cliPlanner{cols: 80, rows: 24},
		ReplayCapacity: 16 * 1024,
		Logger:         logger,
	}
	if remoteEnabled {
		cfg.RemoteDialer = &remoteDialer{cfgStore: cfgStore, logger: logger}
	}
	return broker.New(cfg)
}
