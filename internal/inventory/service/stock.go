package service

import (
	"context"
	stderrors "errors"
	"strconv"
	"time"

	"github.com/storefront/storefront-backend/pkg/cache"
	"github.com/storefront/storefront-backend/pkg/logger"
)

const (
	stockKeyPrefix        = "stock:product:"
	stockGenerationPrefix = "stock:gen:"
)

// StockKey is the cache key holding a product's current stock
func StockKey(productID string) string {
	return stockKeyPrefix + productID
}

// StockGenerationKey counts invalidations of a product's cached stock. A
// read only writes its value back if the count did not move while it was
// reading the database.
func StockGenerationKey(productID string) string {
	return stockGenerationPrefix + productID
}

// ProductStock is the current stock of one product
type ProductStock struct {
	ProductID    string `json:"productId"`
	CurrentStock int    `json:"currentStock"`
	Cached       bool   `json:"cached"`
}

// StockProjection serves products.current_stock through a read-through cache.
// The cache is never authoritative; any cache error falls back to the database.
type StockProjection struct {
	products ProductStore
	cache    KeyValueCache
	ttl      time.Duration
	logger   *logger.Logger
}

// NewStockProjection creates a new stock projection. A nil cache disables caching.
func NewStockProjection(products ProductStore, kv KeyValueCache, ttl time.Duration, log *logger.Logger) *StockProjection {
	return &StockProjection{
		products: products,
		cache:    kv,
		ttl:      ttl,
		logger:   log.WithComponent("stock-projection"),
	}
}

// GetCurrentStock returns a product's current stock
func (p *StockProjection) GetCurrentStock(ctx context.Context, productID string) (*ProductStock, error) {
	var (
		generation string
		cacheable  bool
	)
	if p.cache != nil {
		raw, err := p.cache.Get(ctx, StockKey(productID))
		switch {
		case err == nil:
			if n, convErr := strconv.Atoi(raw); convErr == nil {
				return &ProductStock{ProductID: productID, CurrentStock: n, Cached: true}, nil
			}
			p.logger.WithProduct(productID).Warn().Str("value", raw).Msg("discarding malformed cached stock")
		case !stderrors.Is(err, cache.ErrMiss):
			p.logger.WithProduct(productID).Warn().Err(err).Msg("stock cache read failed")
		}

		// Read before the database so an invalidation landing in between is seen.
		generation, err = p.cache.Get(ctx, StockGenerationKey(productID))
		switch {
		case err == nil:
			cacheable = true
		case stderrors.Is(err, cache.ErrMiss):
			generation, cacheable = "", true
		}
	}

	stock, err := p.products.CurrentStock(ctx, productID)
	if err != nil {
		return nil, err
	}

	if cacheable {
		stored, err := p.cache.SetIfUnchanged(ctx, StockKey(productID), strconv.Itoa(stock), p.ttl,
			StockGenerationKey(productID), generation)
		switch {
		case err != nil:
			p.logger.WithProduct(productID).Warn().Err(err).Msg("stock cache write failed")
		case !stored:
			p.logger.WithProduct(productID).Debug().Msg("stock changed during read, not caching")
		}
	}
	return &ProductStock{ProductID: productID, CurrentStock: stock}, nil
}

// Invalidate drops the cached stock of the given products and bumps their
// generations so in-flight reads do not repopulate the old value
func (p *StockProjection) Invalidate(ctx context.Context, productIDs ...string) {
	if p.cache == nil || len(productIDs) == 0 {
		return
	}
	keys := make([]string, len(productIDs))
	generations := make([]string, len(productIDs))
	for i, id := range productIDs {
		keys[i] = StockKey(id)
		generations[i] = StockGenerationKey(id)
	}
	// Bump first: a reader that already fetched the old value can then no
	// longer write it back.
	if err := p.cache.Incr(ctx, generations...); err != nil {
		p.logger.Warn().Err(err).Strs("product_ids", productIDs).Msg("stock cache generation bump failed")
	}
	if err := p.cache.Delete(ctx, keys...); err != nil {
		p.logger.Warn().Err(err).Strs("product_ids", productIDs).Msg("stock cache invalidation failed")
	}
}
