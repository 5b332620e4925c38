package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/model"
)

// Source is the authoritative doctor directory.
type Source interface {
	List(ctx context.Context) ([]model.Provider, error)
	Get(ctx context.Context, providerID string) (model.Provider, error)
}

// Catalog serves the doctor directory, reading through Redis when a client
// is configured. Cache failures fall back to the source.
type Catalog struct {
	source Source
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

func New(source Source, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *Catalog {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{source: source, rdb: rdb, ttl: ttl, prefix: "medbook:doctor:", logger: logger}
}

func (c *Catalog) List(ctx context.Context) ([]model.Provider, error) {
	var providers []model.Provider
	if c.read(ctx, c.prefix+"all", &providers) {
		return providers, nil
	}
	providers, err := c.source.List(ctx)
	if err != nil {
		return nil, err
	}
	c.write(ctx, c.prefix+"all", providers)
	return providers, nil
}

func (c *Catalog) Get(ctx context.Context, providerID string) (model.Provider, error) {
	var p model.Provider
	if c.read(ctx, c.prefix+providerID, &p) {
		return p, nil
	}
	p, err := c.source.Get(ctx, providerID)
	if err != nil {
		return model.Provider{}, err
	}
	c.write(ctx, c.prefix+providerID, p)
	return p, nil
}

// Invalidate drops cached entries for providerID and the full listing. An
// empty providerID drops every cached doctor.
func (c *Catalog) Invalidate(ctx context.Context, providerID string) error {
	if c.rdb == nil {
		return nil
	}
	if providerID != "" {
		return c.rdb.Del(ctx, c.prefix+"all", c.prefix+providerID).Err()
	}
	var keys []string
	iter := c.rdb.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

func (c *Catalog) read(ctx context.Context, key string, dest any) bool {
	if c.rdb == nil {
		return false
	}
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("catalog cache read failed", "key", key, "err", err)
		}
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		c.logger.Warn("catalog cache entry corrupt", "key", key, "err", err)
		return false
	}
	return true
}

func (c *Catalog) write(ctx context.Context, key string, v any) {
	if c.rdb == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("catalog cache write failed", "key", key, "err", err)
	}
}
