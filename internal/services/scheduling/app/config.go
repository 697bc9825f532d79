package app

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Event log backends.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config describes one scheduling process.
type Config struct {
	Addr string

	EventsBackend     string
	EventsDBPath      string
	ProjectionsDBPath string
	PostgresDSN       string
	// AllowUnsigned runs without an HMAC keyring when none is configured.
	AllowUnsigned bool

	CacheSize   int
	CacheTTL    time.Duration
	LockTimeout time.Duration
	LockShards  int

	PublisherShards int

	OutboxEnabled  bool
	OutboxInterval time.Duration
	OutboxBatch    int
	CatchUpOnStart bool

	RedisAddr    string
	RedisChannel string
}

// withDefaults fills empty paths and the backend name.
func (c Config) withDefaults() Config {
	c.EventsBackend = strings.ToLower(strings.TrimSpace(c.EventsBackend))
	if c.EventsBackend == "" {
		c.EventsBackend = BackendSQLite
	}
	if strings.TrimSpace(c.EventsDBPath) == "" {
		c.EventsDBPath = filepath.Join("data", "scheduling-events.db")
	}
	if strings.TrimSpace(c.ProjectionsDBPath) == "" {
		c.ProjectionsDBPath = filepath.Join("data", "scheduling-projections.db")
	}
	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = ":8090"
	}
	return c
}

// Validate reports configuration combinations the runtime cannot serve.
func (c Config) Validate() error {
	c = c.withDefaults()
	switch c.EventsBackend {
	case BackendSQLite:
	case BackendPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return errors.New("postgres event log requires a DSN")
		}
		if c.OutboxEnabled {
			return errors.New("projection outbox requires the sqlite event log")
		}
	default:
		return fmt.Errorf("unknown event log backend %q", c.EventsBackend)
	}
	if c.CacheSize < 0 || c.LockShards < 0 || c.PublisherShards < 0 || c.OutboxBatch < 0 {
		return errors.New("sizes must not be negative")
	}
	return nil
}
