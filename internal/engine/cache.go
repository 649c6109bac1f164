package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Loader starts an engine for a profile.
type Loader func(ctx context.Context, p Profile) (Engine, error)

// aliveChecker is implemented by engines backed by a process that can die.
type aliveChecker interface {
	Alive() bool
}

// Cache owns the loaded engines of the host process. Engines load on first
// use and stay resident until evicted or the cache is closed.
type Cache struct {
	mu      sync.Mutex
	load    Loader
	engines map[Profile]Engine
}

// NewCache creates an empty cache backed by load.
func NewCache(load Loader) *Cache {
	return &Cache{load: load, engines: make(map[Profile]Engine)}
}

// Get returns the engine for p, loading it if needed.
func (c *Cache) Get(ctx context.Context, p Profile) (Engine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if eng, ok := c.engines[p]; ok {
		if ac, ok := eng.(aliveChecker); !ok || ac.Alive() {
			return eng, nil
		}
		log.Warn().Str("profile", p.String()).Msg("engine process gone, reloading")
		_ = eng.Close()
		delete(c.engines, p)
	}

	log.Info().Str("profile", p.String()).Msg("loading speech model")
	eng, err := c.load(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", p, err)
	}
	c.engines[p] = eng
	return eng, nil
}

// Evict closes and forgets the engine for p.
func (c *Cache) Evict(p Profile) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	eng, ok := c.engines[p]
	if !ok {
		return nil
	}
	delete(c.engines, p)
	return eng.Close()
}

// Loaded returns the profiles currently resident.
func (c *Cache) Loaded() []Profile {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Profile, 0, len(c.engines))
	for p := range c.engines {
		out = append(out, p)
	}
	return out
}

// Close releases every engine.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for p, eng := range c.engines {
		if err := eng.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", p, err))
		}
		delete(c.engines, p)
	}
	return errors.Join(errs...)
}
