// Package presence mirrors membership snapshots into Redis so other
// processes can watch who is connected.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dkeye/Mesh/internal/config"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// writer is the subset of redis.Cmdable the mirror needs.
type writer interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisPresence keeps the latest snapshot under Key and publishes every
// change on Channel. OnMembership never blocks; intermediate snapshots may
// be skipped when Redis is slower than membership changes.
type RedisPresence struct {
	rdb     writer
	key     string
	channel string
	updates chan []domain.Endpoint
}

func New(rdb writer, key, channel string) *RedisPresence {
	return &RedisPresence{
		rdb:     rdb,
		key:     key,
		channel: channel,
		updates: make(chan []domain.Endpoint, 1),
	}
}

// Connect opens the client and checks the connection.
func Connect(ctx context.Context, cfg config.RedisConfig) (*RedisPresence, *redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	log.Info().Str("module", "presence").Str("addr", cfg.Addr).Msg("redis connected")
	return New(client, cfg.Key, cfg.Channel), client, nil
}

func (p *RedisPresence) OnMembership(snapshot []domain.Endpoint) {
	for {
		select {
		case p.updates <- snapshot:
			return
		default:
		}
		select {
		case <-p.updates:
		default:
		}
	}
}

// Run writes snapshots until ctx is done, then removes the key.
func (p *RedisPresence) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			cleanup, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := p.rdb.Del(cleanup, p.key).Err(); err != nil {
				log.Warn().Err(err).Str("module", "presence").Msg("cleanup")
			}
			cancel()
			return
		case snap := <-p.updates:
			if err := p.write(ctx, snap); err != nil {
				log.Warn().Err(err).Str("module", "presence").Int("endpoints", len(snap)).Msg("mirror failed")
			}
		}
	}
}

func (p *RedisPresence) write(ctx context.Context, snap []domain.Endpoint) error {
	if snap == nil {
		snap = []domain.Endpoint{}
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := p.rdb.Set(ctx, p.key, data, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", p.key, err)
	}
	if err := p.rdb.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", p.channel, err)
	}
	log.Debug().Str("module", "presence").Int("endpoints", len(snap)).Msg("membership mirrored")
	return nil
}
