// Package scheduling parses scheduling command flags and starts the runtime.
package scheduling

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	entrypoint "github.com/hydrangea19/exam-scheduling-sub002/internal/platform/cmd"
	platformgrpc "github.com/hydrangea19/exam-scheduling-sub002/internal/platform/grpc"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/platform/logging"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/app"
)

// Config holds scheduling command configuration.
type Config struct {
	Port int    `env:"EXAM_SCHEDULING_PORT" envDefault:"8090"`
	Addr string `env:"EXAM_SCHEDULING_ADDR"`

	EventsBackend     string `env:"EXAM_SCHEDULING_EVENTS_BACKEND" envDefault:"sqlite"`
	EventsDBPath      string `env:"EXAM_SCHEDULING_EVENTS_DB_PATH" envDefault:"data/scheduling-events.db"`
	ProjectionsDBPath string `env:"EXAM_SCHEDULING_PROJECTIONS_DB_PATH" envDefault:"data/scheduling-projections.db"`
	PostgresDSN       string `env:"EXAM_SCHEDULING_POSTGRES_DSN"`
	AllowUnsigned     bool   `env:"EXAM_SCHEDULING_ALLOW_UNSIGNED_EVENTS" envDefault:"false"`

	CacheSize   int           `env:"EXAM_SCHEDULING_CACHE_SIZE" envDefault:"1024"`
	CacheTTL    time.Duration `env:"EXAM_SCHEDULING_CACHE_TTL" envDefault:"10m"`
	LockTimeout time.Duration `env:"EXAM_SCHEDULING_LOCK_TIMEOUT" envDefault:"5s"`
	LockShards  int           `env:"EXAM_SCHEDULING_LOCK_SHARDS" envDefault:"64"`

	PublisherShards int `env:"EXAM_SCHEDULING_PUBLISHER_SHARDS" envDefault:"16"`

	OutboxEnabled  bool          `env:"EXAM_SCHEDULING_PROJECTION_OUTBOX_ENABLED" envDefault:"true"`
	OutboxInterval time.Duration `env:"EXAM_SCHEDULING_PROJECTION_OUTBOX_INTERVAL" envDefault:"2s"`
	OutboxBatch    int           `env:"EXAM_SCHEDULING_PROJECTION_OUTBOX_BATCH" envDefault:"64"`
	CatchUpOnStart bool          `env:"EXAM_SCHEDULING_PROJECTION_CATCH_UP" envDefault:"true"`

	RedisAddr    string `env:"EXAM_SCHEDULING_REDIS_ADDR"`
	RedisChannel string `env:"EXAM_SCHEDULING_REDIS_CHANNEL" envDefault:"exam-scheduling.events"`

	LogMode  string `env:"EXAM_SCHEDULING_LOG_MODE" envDefault:"development"`
	LogLevel string `env:"EXAM_SCHEDULING_LOG_LEVEL" envDefault:"info"`

	// Probe checks a running server's health instead of serving.
	Probe bool
}

const probeTimeout = 5 * time.Second

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The scheduling server port")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The scheduling server listen address (overrides -port)")
	fs.StringVar(&cfg.EventsBackend, "events-backend", cfg.EventsBackend, "Event log backend: sqlite or postgres")
	fs.StringVar(&cfg.EventsDBPath, "events-db", cfg.EventsDBPath, "SQLite event log path")
	fs.StringVar(&cfg.ProjectionsDBPath, "projections-db", cfg.ProjectionsDBPath, "SQLite projection store path")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address for event fan-out (empty disables it)")
	fs.BoolVar(&cfg.OutboxEnabled, "outbox", cfg.OutboxEnabled, "Feed projections from the durable outbox")
	fs.StringVar(&cfg.LogMode, "log-mode", cfg.LogMode, "Log output mode: development or production")
	fs.BoolVar(&cfg.Probe, "probe", false, "Check the health of a running server and exit")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ProbeAddr returns the address a local health probe dials.
func (c Config) ProbeAddr() string {
	addr := c.AppConfig().Addr
	if strings.HasPrefix(addr, ":") {
		return "127.0.0.1" + addr
	}
	return addr
}

// AppConfig converts the command configuration into runtime configuration.
func (c Config) AppConfig() app.Config {
	addr := c.Addr
	if addr == "" {
		addr = fmt.Sprintf(":%d", c.Port)
	}
	return app.Config{
		Addr:              addr,
		EventsBackend:     c.EventsBackend,
		EventsDBPath:      c.EventsDBPath,
		ProjectionsDBPath: c.ProjectionsDBPath,
		PostgresDSN:       c.PostgresDSN,
		AllowUnsigned:     c.AllowUnsigned,
		CacheSize:         c.CacheSize,
		CacheTTL:          c.CacheTTL,
		LockTimeout:       c.LockTimeout,
		LockShards:        c.LockShards,
		PublisherShards:   c.PublisherShards,
		OutboxEnabled:     c.OutboxEnabled,
		OutboxInterval:    c.OutboxInterval,
		OutboxBatch:       c.OutboxBatch,
		CatchUpOnStart:    c.CatchUpOnStart,
		RedisAddr:         c.RedisAddr,
		RedisChannel:      c.RedisChannel,
	}
}

// Run starts the scheduling service, or probes it when cfg.Probe is set.
func Run(ctx context.Context, cfg Config) error {
	if cfg.Probe {
		return platformgrpc.Probe(ctx, cfg.ProbeAddr(), app.HealthServiceName, probeTimeout)
	}
	logger, err := logging.New(cfg.LogMode, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	appCfg := cfg.AppConfig()
	if err := appCfg.Validate(); err != nil {
		return err
	}
	return entrypoint.RunWithTelemetryAndOptions(ctx, entrypoint.ServiceScheduling, entrypoint.RunOptions{Logger: logger}, func(ctx context.Context) error {
		return app.Run(ctx, appCfg, logger.Named(entrypoint.ServiceScheduling))
	})
}
