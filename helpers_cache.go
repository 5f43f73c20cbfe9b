// kwcomplete/helpers_cache.go
// Ristretto memory cache used to memoise tokenized files.
package kwcomplete

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/ristretto"
)

// memoryCache wraps ristretto. A nil *memoryCache is a valid, disabled cache.
type memoryCache struct {
	cache *ristretto.Cache
}

func newMemoryCache(logger *slog.Logger) *memoryCache {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e6,
		MaxCost:     256 << 20,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		logger.Warn("Failed to create ristretto memory cache, tokenized files will not be memoised.", "error", err)
		return nil
	}
	return &memoryCache{cache: cache}
}

func (m *memoryCache) enabled() bool { return m != nil && m.cache != nil }

func (m *memoryCache) get(key string) (any, bool) {
	if !m.enabled() {
		return nil, false
	}
	return m.cache.Get(key)
}

func (m *memoryCache) set(key string, value any, cost int64, ttl time.Duration) bool {
	if !m.enabled() {
		return false
	}
	return m.cache.SetWithTTL(key, value, cost, ttl)
}

func (m *memoryCache) clear() {
	if m.enabled() {
		m.cache.Clear()
	}
}

func (m *memoryCache) close() {
	if m.enabled() {
		m.cache.Close()
	}
}

// stats returns cumulative hits and misses.
func (m *memoryCache) stats() (hits, misses uint64) {
	if !m.enabled() || m.cache.Metrics == nil {
		return 0, 0
	}
	return m.cache.Metrics.Hits(), m.cache.Metrics.Misses()
}

// linesCacheKey keys a file's tokenized lines by path and content hash, so edited content
// always misses.
func linesCacheKey(file string, content []byte) string {
	sum := sha256.Sum256(content)
	return fmt.Sprintf("lines:%s:%s", file, hex.EncodeToString(sum[:]))
}

// withMemoryCache returns the cached value for cacheKey or computes and stores it.
// The bool result reports a cache hit.
func withMemoryCache[T any](
	cache *memoryCache,
	cacheKey string,
	cost int64,
	ttl time.Duration,
	computeFn func() (T, error),
	logger *slog.Logger,
) (T, bool, error) {
	var zero T
	if logger == nil {
		logger = slog.Default()
	}
	cacheLogger := logger.With("cache_key", cacheKey)

	if !cache.enabled() {
		result, err := computeFn()
		return result, false, err
	}

	if cached, found := cache.get(cacheKey); found {
		if typed, ok := cached.(T); ok {
			cacheLogger.Debug("Memory cache hit")
			return typed, true, nil
		}
		cacheLogger.Error("Memory cache type assertion failed", "expected_type", fmt.Sprintf("%T", zero), "actual_type", fmt.Sprintf("%T", cached))
	}

	computed, err := computeFn()
	if err != nil {
		return zero, false, err
	}
	if cost <= 0 {
		cost = 1
	}
	if !cache.set(cacheKey, computed, cost, ttl) {
		cacheLogger.Debug("Memory cache Set rejected", "cost", cost, "ttl", ttl)
	}
	return computed, false, nil
}
