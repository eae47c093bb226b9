package signals

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisSettings configures the Redis Streams transport for completion signals.
type RedisSettings struct {
	Enabled  bool   `mapstructure:"redis-enabled"`
	Addr     string `mapstructure:"redis-addr"`
	Stream   string `mapstructure:"redis-stream"`
	Group    string `mapstructure:"redis-group"`
	// Consumer names this process inside Group. Empty picks hostname-pid.
	Consumer string `mapstructure:"redis-consumer"`

	// ephemeral groups are destroyed when the bus closes.
	ephemeral bool
}

func DefaultRedisSettings() RedisSettings {
	return RedisSettings{
		Addr:   "localhost:6379",
		Stream: DefaultTopic,
		Group:  "wizard-chat",
	}
}

// ForObserver returns settings for a reader that must see every signal on the
// stream, such as completions tail. Members of one consumer group share the
// stream's messages, so the observer joins a group of its own, removed again
// on Close.
func (s RedisSettings) ForObserver() RedisSettings {
	s.Group = fmt.Sprintf("%s-tail-%s", s.Group, watermill.NewShortUUID())
	s.Consumer = ""
	s.ephemeral = true
	return s
}

func defaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "wizard-chat"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

func (s RedisSettings) Validate() error {
	if !s.Enabled {
		return nil
	}
	if strings.TrimSpace(s.Addr) == "" {
		return errors.New("redis: addr is empty")
	}
	if strings.TrimSpace(s.Stream) == "" {
		return errors.New("redis: stream is empty")
	}
	if strings.TrimSpace(s.Group) == "" {
		return errors.New("redis: group is empty")
	}
	return nil
}

// NewBus builds a Redis Streams bus when enabled, otherwise an in-memory one.
func NewBus(ctx context.Context, s RedisSettings) (*Bus, error) {
	if !s.Enabled {
		return NewInMemoryBus(), nil
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(s.Consumer) == "" {
		s.Consumer = defaultConsumerName()
	}

	logger := log.Logger.With().Str("component", "signals").Str("transport", "redis").Logger()
	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "redis: ping %s", s.Addr)
	}
	if err := ensureGroupAtTail(ctx, client, s.Stream, s.Group); err != nil {
		_ = client.Close()
		return nil, err
	}

	marshaler := rstream.DefaultMarshallerUnmarshaller{}
	wlogger := NewWatermillLogger(logger)

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, wlogger)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "redis: publisher")
	}

	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaler,
		ConsumerGroup: s.Group,
		Consumer:      s.Consumer,
	}, wlogger)
	if err != nil {
		_ = pub.Close()
		_ = client.Close()
		return nil, errors.Wrap(err, "redis: subscriber")
	}

	closers := []func() error{sub.Close, pub.Close}
	if s.ephemeral {
		closers = append(closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return errors.Wrapf(client.XGroupDestroy(ctx, s.Stream, s.Group).Err(), "redis: destroy group %s", s.Group)
		})
	}
	closers = append(closers, client.Close)

	logger.Info().
		Str("addr", s.Addr).
		Str("stream", s.Stream).
		Str("group", s.Group).
		Str("consumer", s.Consumer).
		Msg("completion signals on redis stream")
	return &Bus{
		pub:     message.Publisher(pub),
		sub:     message.Subscriber(sub),
		topic:   s.Stream,
		closers: closers,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// ensureGroupAtTail creates the consumer group at $ so a new group does not
// replay the stream's history.
func ensureGroupAtTail(ctx context.Context, client *redis.Client, stream, group string) error {
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return errors.Wrapf(err, "redis: create group %s on %s", group, stream)
	}
	log.Info().Str("stream", stream).Str("group", group).Msg("created redis consumer group at $ (tail)")
	return nil
}
