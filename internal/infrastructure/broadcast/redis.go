package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sharecast/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrFeedClosed   = errors.New("broadcast feed closed")
	ErrNilBroadcast = errors.New("nil broadcast")
)

const maxClearAttempts = 3

// RedisConfig selects the redis instance shared by every participant of the
// meeting.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	PoolSize int
}

// NewRedisClient creates a pooled client and checks the connection.
func NewRedisClient(ctx context.Context, cfg RedisConfig, logger *zap.SugaredLogger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Infow("connected to Redis",
		"address", cfg.Address,
		"db", cfg.DB,
		"pool_size", cfg.PoolSize,
	)
	return client, nil
}

// envelope is the pub/sub payload. A nil Broadcast means cleared.
type envelope struct {
	InstanceID string            `json:"instance_id"`
	Timestamp  time.Time         `json:"timestamp"`
	Broadcast  *domain.Broadcast `json:"broadcast"`
}

// RedisFeed stores the broadcast under <channel>:current and announces every
// change on <channel>.
type RedisFeed struct {
	client     *redis.Client
	channel    string
	instanceID string
	logger     *zap.SugaredLogger
}

func NewRedisFeed(client *redis.Client, channel, instanceID string, logger *zap.SugaredLogger) *RedisFeed {
	return &RedisFeed{
		client:     client,
		channel:    channel,
		instanceID: instanceID,
		logger:     logger,
	}
}

func (f *RedisFeed) key() string {
	return f.channel + ":current"
}

func (f *RedisFeed) Current(ctx context.Context) (*domain.Broadcast, error) {
	data, err := f.client.Get(ctx, f.key()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read broadcast: %w", err)
	}
	return decodeBroadcast(data)
}

func (f *RedisFeed) Publish(ctx context.Context, b *domain.Broadcast) error {
	if b == nil {
		return ErrNilBroadcast
	}
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal broadcast: %w", err)
	}

	pipe := f.client.TxPipeline()
	pipe.Set(ctx, f.key(), data, 0)
	if err := f.announce(ctx, pipe, b); err != nil {
		return err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish broadcast: %w", err)
	}

	f.logger.Debugw("published broadcast",
		"content_type", b.ContentType,
		"stream", b.Stream,
	)
	return nil
}

// Clear deletes the stored broadcast if publisher still owns it. The key is
// watched so a broadcast published concurrently by another participant is
// never removed.
func (f *RedisFeed) Clear(ctx context.Context, publisher string) error {
	var cleared bool
	clearOwned := func(tx *redis.Tx) error {
		cleared = false
		data, err := tx.Get(ctx, f.key()).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		current, err := decodeBroadcast(data)
		if err != nil {
			return err
		}
		if current.Publisher != publisher {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, f.key())
			return f.announce(ctx, pipe, nil)
		})
		if err == nil {
			cleared = true
		}
		return err
	}

	var err error
	for attempt := 0; attempt < maxClearAttempts; attempt++ {
		err = f.client.Watch(ctx, clearOwned, f.key())
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("failed to clear broadcast: %w", err)
	}
	if cleared {
		f.logger.Debugw("cleared broadcast", "publisher", publisher)
	}
	return nil
}

func (f *RedisFeed) announce(ctx context.Context, pipe redis.Pipeliner, b *domain.Broadcast) error {
	payload, err := encodeEnvelope(f.instanceID, b, time.Now())
	if err != nil {
		return err
	}
	pipe.Publish(ctx, f.channel, payload)
	return nil
}

// Subscribe delivers every change, including this instance's own.
func (f *RedisFeed) Subscribe(ctx context.Context, handler func(*domain.Broadcast)) error {
	pubsub := f.client.Subscribe(ctx, f.channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return ErrFeedClosed
			}
			env, err := decodeEnvelope([]byte(msg.Payload))
			if err != nil {
				f.logger.Warnw("failed to unmarshal broadcast event",
					"error", err,
					"payload", msg.Payload,
				)
				continue
			}
			handler(env.Broadcast)
		}
	}
}

func (f *RedisFeed) Close() error {
	return f.client.Close()
}

func encodeEnvelope(instanceID string, b *domain.Broadcast, now time.Time) ([]byte, error) {
	data, err := json.Marshal(envelope{InstanceID: instanceID, Timestamp: now, Broadcast: b})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal broadcast event: %w", err)
	}
	return data, nil
}

func decodeEnvelope(data []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, err
	}
	return env, nil
}

func decodeBroadcast(data []byte) (*domain.Broadcast, error) {
	var b domain.Broadcast
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to unmarshal broadcast: %w", err)
	}
	return &b, nil
}
