package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"pos-terminal/internal/models"
	"pos-terminal/internal/util"
)

// Cache TTLs. Product records change rarely; search results go stale
// faster because new products appear throughout the day.
const (
	productCacheTTL = 30 * time.Minute
	searchCacheTTL  = 5 * time.Minute

	productKeyPrefix = "catalog:product:"
	searchKeyPrefix  = "catalog:search:"
)

// Source is the authoritative catalog, in practice the backoffice API
type Source interface {
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	SearchProducts(ctx context.Context, query string) ([]models.Product, error)
}

// Client is a read-through product cache in front of the backoffice.
// Redis failures degrade to direct upstream calls.
type Client struct {
	rdb    *redis.Client
	source Source
	logger *zap.Logger
}

// NewClient connects to Redis and wraps the catalog source
func NewClient(addr, password string, db int, source Source) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:    rdb,
		source: source,
		logger: util.GetLogger(),
	}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// GetProduct returns a product, served from cache when possible
func (c *Client) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	key := fmt.Sprintf("%s%d", productKeyPrefix, id)

	cached, err := c.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var product models.Product
		if err := json.Unmarshal(cached, &product); err == nil {
			return &product, nil
		}
	} else if err != redis.Nil {
		c.logger.Warn("Catalog cache read failed, going to backoffice",
			zap.Int64("product_id", id),
			zap.Error(err))
	}

	product, err := c.source.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}

	c.cacheSet(ctx, key, product, productCacheTTL)
	return product, nil
}

// Search returns catalog matches for a query, cached per query string
func (c *Client) Search(ctx context.Context, query string) ([]models.Product, error) {
	key := searchKeyPrefix + strings.ToLower(strings.TrimSpace(query))

	cached, err := c.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var products []models.Product
		if err := json.Unmarshal(cached, &products); err == nil {
			return products, nil
		}
	} else if err != redis.Nil {
		c.logger.Warn("Catalog cache read failed, going to backoffice",
			zap.String("query", query),
			zap.Error(err))
	}

	products, err := c.source.SearchProducts(ctx, query)
	if err != nil {
		return nil, err
	}

	c.cacheSet(ctx, key, products, searchCacheTTL)
	return products, nil
}

// InvalidateProduct drops a product from the cache, used after a
// queued creation reaches the backoffice.
func (c *Client) InvalidateProduct(ctx context.Context, id int64) {
	if err := c.rdb.Del(ctx, fmt.Sprintf("%s%d", productKeyPrefix, id)).Err(); err != nil {
		c.logger.Warn("Catalog cache invalidation failed",
			zap.Int64("product_id", id),
			zap.Error(err))
	}
}

func (c *Client) cacheSet(ctx context.Context, key string, v interface{}, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		c.logger.Warn("Catalog cache write failed",
			zap.String("key", key),
			zap.Error(err))
	}
}
