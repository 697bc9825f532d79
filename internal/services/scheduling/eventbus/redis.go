package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hydrangea19/exam-scheduling-sub002/internal/platform/logging"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/event"
)

const (
	// DefaultChannel is the pub/sub channel events are published on.
	DefaultChannel = "exam-scheduling.events"
	// SubscriberName identifies the Redis fan-out to the publisher.
	SubscriberName = "redis"

	defaultDialTimeout = 5 * time.Second
)

// publisher is the slice of the Redis client the fan-out needs.
type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd
}

// RedisConfig configures DialRedis.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	Channel     string
	DialTimeout time.Duration
}

// Redis publishes committed events as JSON messages on a Redis channel.
type Redis struct {
	client  publisher
	closer  func() error
	channel string
	logger  *logging.Logger
}

// DialRedis connects to Redis and verifies the connection with a ping.
func DialRedis(ctx context.Context, cfg RedisConfig, logger *logging.Logger) (*Redis, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	r := NewRedis(client, cfg.Channel, logger)
	r.closer = client.Close
	return r, nil
}

// NewRedis wraps an existing client. An empty channel selects DefaultChannel.
func NewRedis(client publisher, channel string, logger *logging.Logger) *Redis {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Redis{
		client:  client,
		channel: channel,
		logger:  logger.Named("eventbus").With("channel", channel),
	}
}

// Name implements publish.Subscriber.
func (r *Redis) Name() string { return SubscriberName }

// Channel returns the channel events are published on.
func (r *Redis) Channel() string { return r.channel }

// Handle publishes evt. Returning an error lets the publisher retry.
func (r *Redis) Handle(ctx context.Context, evt event.Event) error {
	if r == nil || r.client == nil {
		return errors.New("redis event bus is not initialized")
	}
	raw, err := json.Marshal(NewMessage(evt))
	if err != nil {
		return fmt.Errorf("encode event %s: %w", evt.ID, err)
	}
	receivers, err := r.client.Publish(ctx, r.channel, raw).Result()
	if err != nil {
		return fmt.Errorf("publish event %s: %w", evt.ID, err)
	}
	r.logger.Debug("event published", "aggregate_id", evt.AggregateID, "seq", evt.Seq, "event_type", string(evt.Type), "receivers", receivers)
	return nil
}

// Close releases the connection opened by DialRedis.
func (r *Redis) Close() error {
	if r == nil || r.closer == nil {
		return nil
	}
	return r.closer()
}

// Subscribe forwards messages from channel to fn until ctx is canceled. It
// returns once the subscription is confirmed. Malformed messages are logged
// and skipped.
func Subscribe(ctx context.Context, client *goredis.Client, channel string, logger *logging.Logger, fn func(Message)) error {
	if client == nil {
		return errors.New("redis client is required")
	}
	if fn == nil {
		return errors.New("message callback is required")
	}
	if strings.TrimSpace(channel) == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = logging.Nop()
	}
	sub := client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe %s: %w", channel, err)
	}
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				msg, err := DecodeMessage([]byte(m.Payload))
				if err != nil {
					logger.Warn("bad event message", "channel", channel, "error", err)
					continue
				}
				fn(msg)
			}
		}
	}()
	return nil
}
