// kwcomplete/helpers_cache_test.go
package kwcomplete

import (
	"errors"
	"testing"
	"time"
)

func TestWithMemoryCache(t *testing.T) {
	cache := newMemoryCache(discardLogger())
	if cache == nil {
		t.Skip("ristretto cache unavailable")
	}
	defer cache.close()

	calls := 0
	compute := func() (string, error) {
		calls++
		return "value", nil
	}

	got, hit, err := withMemoryCache(cache, "k", 1, time.Minute, compute, discardLogger())
	if err != nil || hit || got != "value" {
		t.Fatalf("first call = %q, hit=%v, err=%v", got, hit, err)
	}
	// ristretto applies writes through a buffer.
	cache.cache.Wait()

	got, hit, err = withMemoryCache(cache, "k", 1, time.Minute, compute, discardLogger())
	if err != nil || !hit || got != "value" {
		t.Fatalf("second call = %q, hit=%v, err=%v", got, hit, err)
	}
	if calls != 1 {
		t.Errorf("compute ran %d times, want 1", calls)
	}

	boom := errors.New("boom")
	if _, _, err := withMemoryCache(cache, "failing", 1, time.Minute, func() (int, error) { return 0, boom }, nil); !errors.Is(err, boom) {
		t.Errorf("error = %v, want boom", err)
	}
	cache.cache.Wait()
	if _, found := cache.get("failing"); found {
		t.Error("failed computation was cached")
	}
}

func TestWithMemoryCache_TypeMismatchRecomputes(t *testing.T) {
	cache := newMemoryCache(discardLogger())
	if cache == nil {
		t.Skip("ristretto cache unavailable")
	}
	defer cache.close()

	cache.set("k", 42, 1, time.Minute)
	cache.cache.Wait()

	got, hit, err := withMemoryCache(cache, "k", 1, time.Minute, func() (string, error) { return "fresh", nil }, discardLogger())
	if err != nil || hit || got != "fresh" {
		t.Errorf("got %q, hit=%v, err=%v", got, hit, err)
	}
}

func TestWithMemoryCache_NilCache(t *testing.T) {
	var cache *memoryCache
	calls := 0
	for range 2 {
		got, hit, err := withMemoryCache(cache, "k", 1, time.Minute, func() (int, error) {
			calls++
			return 7, nil
		}, nil)
		if err != nil || hit || got != 7 {
			t.Fatalf("got %d, hit=%v, err=%v", got, hit, err)
		}
	}
	if calls != 2 {
		t.Errorf("compute ran %d times, want 2", calls)
	}
	if hits, misses := cache.stats(); hits != 0 || misses != 0 {
		t.Errorf("stats on nil cache = %d/%d", hits, misses)
	}
	cache.clear()
	cache.close()
}

func TestLinesCacheKey(t *testing.T) {
	a := linesCacheKey("/x.robot", []byte("one"))
	if a != linesCacheKey("/x.robot", []byte("one")) {
		t.Error("key is not stable")
	}
	if a == linesCacheKey("/x.robot", []byte("two")) {
		t.Error("edited content must change the key")
	}
	if a == linesCacheKey("/y.robot", []byte("one")) {
		t.Error("different files must not share a key")
	}
}
