package tsv

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"github.com/omics-dash/server/internal/cache"
)

// maxResourceBytes bounds a single resource read.
const maxResourceBytes = 256 << 20

// Store fetches and memoizes tables. It is safe for concurrent use; the
// underlying caches are.
type Store struct {
	src   Source
	cache *cache.Manager

	mu      sync.Mutex
	holders map[string]int
}

// NewStore creates a store over a source. A nil cache disables memoization.
func NewStore(src Source, c *cache.Manager) *Store {
	return &Store{src: src, cache: c, holders: make(map[string]int)}
}

// Cache returns the cache manager backing this store (may be nil).
func (s *Store) Cache() *cache.Manager {
	return s.cache
}

// Fetch returns the parsed table at a logical path. Failures wrap
// ErrDataUnavailable; a cancelled ctx returns ctx.Err() unwrapped.
func (s *Store) Fetch(ctx context.Context, path string) (*Table, error) {
	if s.cache != nil {
		if v, ok := s.cache.GetParsed(path); ok {
			if t, ok := v.(*Table); ok {
				return t, nil
			}
		}
		if raw, ok := s.cache.GetRaw(path); ok {
			t, err := ParseBytes(path, raw)
			if err == nil {
				s.cache.SetParsed(path, t)
			}
			return t, err
		}
	}

	rc, err := s.src.Open(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	raw, err := io.ReadAll(io.LimitReader(rc, maxResourceBytes+1))
	rc.Close()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read: %v", ErrDataUnavailable, path, err)
	}
	if len(raw) > maxResourceBytes {
		return nil, fmt.Errorf("%w: %s: resource too large", ErrDataUnavailable, path)
	}

	t, err := ParseBytes(path, raw)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.SetRaw(path, raw); err != nil {
			log.Printf("[DataStore] raw cache skipped for %s: %v", path, err)
		}
		s.cache.SetParsed(path, t)
	}
	return t, nil
}

// Retain registers one more session viewing kingdom/rank.
func (s *Store) Retain(kingdom, rank string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holders[datasetPrefix(kingdom, rank)]++
}

// Release drops one holder of kingdom/rank. When the last holder goes, the
// dataset's memoized resources are evicted, and the kingdom's shared ones
// too when no dataset of that kingdom is held any more. It reports whether
// the dataset is now unheld.
func (s *Store) Release(kingdom, rank string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := datasetPrefix(kingdom, rank)
	if s.holders[key] > 1 {
		s.holders[key]--
		return false
	}
	delete(s.holders, key)
	if s.cache == nil {
		return true
	}
	n := s.cache.InvalidatePaths(key)
	kingdomHeld := false
	for k := range s.holders {
		if strings.HasPrefix(k, kingdom+"/") {
			kingdomHeld = true
			break
		}
	}
	if !kingdomHeld {
		n += s.cache.InvalidatePaths(kingdom + "/")
	}
	log.Printf("[DataStore] released %s, evicted %d table(s)", key, n)
	return true
}

func datasetPrefix(kingdom, rank string) string {
	return kingdom + "/" + rank + "/"
}
