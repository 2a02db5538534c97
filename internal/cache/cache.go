// Package cache provides memoization for fetched resources and parsed tables.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config contains cache configuration.
type Config struct {
	RawCacheSizeMB int
	RawTTL         time.Duration
	ParsedEntries  int
	FeatureEntries int
}

// Manager keeps three layers: raw resource bytes by logical path (bigcache),
// parsed values by path (LRU) and per-feature vectors (LRU).
type Manager struct {
	raw      *bigcache.BigCache
	parsed   *lru.Cache[string, any]
	features *lru.Cache[string, []float64]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	ttl := cfg.RawTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	rawConfig := bigcache.Config{
		Shards:             64,
		LifeWindow:         ttl,
		CleanWindow:        ttl / 2,
		MaxEntriesInWindow: 10000,
		MaxEntrySize:       512 * 1024,
		HardMaxCacheSize:   cfg.RawCacheSizeMB,
		Verbose:            false,
	}

	raw, err := bigcache.New(context.Background(), rawConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create raw cache: %w", err)
	}

	parsedSize := cfg.ParsedEntries
	if parsedSize <= 0 {
		parsedSize = 128
	}
	parsed, err := lru.New[string, any](parsedSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create parsed cache: %w", err)
	}

	featureSize := cfg.FeatureEntries
	if featureSize <= 0 {
		featureSize = 256
	}
	features, err := lru.New[string, []float64](featureSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create feature cache: %w", err)
	}

	return &Manager{
		raw:      raw,
		parsed:   parsed,
		features: features,
	}, nil
}

// GetRaw retrieves resource bytes from cache.
func (m *Manager) GetRaw(path string) ([]byte, bool) {
	data, err := m.raw.Get(RawKey(path))
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetRaw stores resource bytes in cache.
func (m *Manager) SetRaw(path string, data []byte) error {
	return m.raw.Set(RawKey(path), data)
}

// GetParsed retrieves a parsed value from cache.
func (m *Manager) GetParsed(path string) (any, bool) {
	return m.parsed.Get(ParsedKey(path))
}

// SetParsed stores a parsed value in cache.
func (m *Manager) SetParsed(path string, v any) {
	m.parsed.Add(ParsedKey(path), v)
}

// GetFeature retrieves a per-sample feature vector for a dataset.
func (m *Manager) GetFeature(dataset, feature string) ([]float64, bool) {
	return m.features.Get(FeatureKey(dataset, feature))
}

// SetFeature stores a per-sample feature vector for a dataset.
func (m *Manager) SetFeature(dataset, feature string, values []float64) {
	m.features.Add(FeatureKey(dataset, feature), values)
}

// InvalidateDataset drops feature vectors of one dataset. Raw and parsed
// entries are keyed by path and are dropped by InvalidatePaths.
func (m *Manager) InvalidateDataset(dataset string) int {
	return removePrefix(m.features, "feat:"+dataset+"\x00")
}

// InvalidatePaths drops raw and parsed entries whose logical path starts
// with prefix. It returns the number of parsed entries removed.
func (m *Manager) InvalidatePaths(prefix string) int {
	rawPrefix := RawKey(prefix)
	var stale []string
	it := m.raw.Iterator()
	for it.SetNext() {
		e, err := it.Value()
		if err != nil {
			continue
		}
		if strings.HasPrefix(e.Key(), rawPrefix) {
			stale = append(stale, e.Key())
		}
	}
	for _, k := range stale {
		_ = m.raw.Delete(k)
	}
	return removePrefix(m.parsed, ParsedKey(prefix))
}

func removePrefix[V any](c *lru.Cache[string, V], prefix string) int {
	n := 0
	for _, k := range c.Keys() {
		if strings.HasPrefix(k, prefix) {
			c.Remove(k)
			n++
		}
	}
	return n
}

// RawKey generates a cache key for raw resource bytes.
func RawKey(path string) string {
	return "raw:" + path
}

// ParsedKey generates a cache key for a parsed resource.
func ParsedKey(path string) string {
	return "tbl:" + path
}

// FeatureKey generates a cache key for a feature vector.
func FeatureKey(dataset, feature string) string {
	return "feat:" + dataset + "\x00" + feature
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"raw_cache_len":     m.raw.Len(),
		"raw_cache_cap":     m.raw.Capacity(),
		"parsed_cache_len":  m.parsed.Len(),
		"feature_cache_len": m.features.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.raw.Close()
}
