package cloudindex

import (
	"context"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"k8s.io/klog/v2"

	"github.com/jbcurtin/cloud-fits/internal/metrics"
)

// Loader fetches the raw YAML bytes for one index-bucket key, e.g. a GET
// against the configured index bucket's cloud-fits.yaml object.
type Loader func(ctx context.Context, indexBucket, key string) ([]byte, error)

// Cache decodes and caches CloudIndex documents per (indexBucket, key) for
// DefaultCacheTTL, avoiding a network round trip and YAML parse on every
// cutout request issued against the same file in a short window.
type Cache struct {
	load Loader
	ttl  *ttlcache.Cache[string, CloudIndex]
}

// NewCache builds a Cache backed by load, with the given TTL (DefaultCacheTTL
// if ttl <= 0).
func NewCache(load Loader, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	c := &Cache{
		load: load,
		ttl:  ttlcache.New[string, CloudIndex](ttlcache.WithTTL[string, CloudIndex](ttl)),
	}
	go c.ttl.Start()
	return c
}

// Close stops the cache's background expiration goroutine.
func (c *Cache) Close() {
	c.ttl.Stop()
}

func cacheKey(indexBucket, key string) string {
	return indexBucket + "/" + key
}

// Get returns the decoded CloudIndex for (indexBucket, key), using the
// cached copy if present and unexpired, otherwise loading and decoding it
// via the configured Loader. On TTL expiry the next call re-fetches and
// re-validates the version field.
func (c *Cache) Get(ctx context.Context, indexBucket, key string) (CloudIndex, error) {
	start := time.Now()
	defer func() {
		metrics.IndexLookupDuration.Observe(time.Since(start).Seconds())
	}()

	k := cacheKey(indexBucket, key)
	if item := c.ttl.Get(k); item != nil {
		metrics.IndexCacheHitsTotal.WithLabelValues("hit").Inc()
		return item.Value(), nil
	}
	metrics.IndexCacheHitsTotal.WithLabelValues("miss").Inc()

	raw, err := c.load(ctx, indexBucket, key)
	if err != nil {
		return CloudIndex{}, fmt.Errorf("loading cloud index %s/%s: %w", indexBucket, key, err)
	}
	doc, err := Decode(raw)
	if err != nil {
		return CloudIndex{}, err
	}
	c.ttl.Set(k, doc, ttlcache.DefaultTTL)
	klog.V(5).Infof("cloudindex: cached %s (%d file entries)", k, len(doc.Indices))
	return doc, nil
}
