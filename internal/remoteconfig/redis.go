package remoteconfig

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrDocumentNotFound = errors.New("remoteconfig: document not found")

type RedisOpts struct {
	Addr, Password string
	DB             int
	Timeout        time.Duration
}

// RedisStore keeps configuration documents as JSON strings and
// announces changes over pub/sub.
type RedisStore struct {
	rdb    *redis.Client
	logger *log.Logger
}

func NewRedisStore(o RedisOpts, logger *log.Logger) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:         o.Addr,
		Password:     o.Password,
		DB:           o.DB,
		DialTimeout:  o.Timeout,
		ReadTimeout:  o.Timeout,
		WriteTimeout: o.Timeout,
	})
	return &RedisStore{rdb: rdb, logger: logger}
}

func (s *RedisStore) Fetch(ctx context.Context, key string) (Document, error) {
	val, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w (%s)", ErrDocumentNotFound, key)
		}
		return nil, fmt.Errorf("fetch %s: %w", key, err)
	}
	if len(val) == 0 {
		return nil, fmt.Errorf("%w (%s is empty)", ErrDocumentNotFound, key)
	}
	doc, err := ParseDocument(val)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return doc, nil
}

func (s *RedisStore) Write(ctx context.Context, key string, doc Document) error {
	raw, err := doc.Marshal()
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.rdb.Set(ctx, key, raw, 0).Err(); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// Notify publishes an invalidation on channel.
func (s *RedisStore) Notify(ctx context.Context, channel string) error {
	return s.rdb.Publish(ctx, channel, "updated").Err()
}

// Listen calls onUpdate for every message on channels until ctx is done.
// onUpdate runs on the subscriber goroutine and must only raise a flag.
func (s *RedisStore) Listen(ctx context.Context, onUpdate func(channel string), channels ...string) {
	pubsub := s.rdb.Subscribe(ctx, channels...)
	defer pubsub.Close()

	s.logger.Printf("[config] listening for updates on %v", channels)
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			onUpdate(msg.Channel)
		}
	}
}

func (s *RedisStore) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

func (s *RedisStore) Close() error { return s.rdb.Close() }
