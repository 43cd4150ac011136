package definition

import (
	"fmt"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is used when a FormCache is created with a non-positive
// size.
const DefaultCacheSize = 128

// CacheObserver is notified of every cache lookup.
type CacheObserver interface {
	FormCacheLookup(hit bool)
}

// FormCache keeps recently read installed forms in memory, keyed by their
// cleaned file path. Installing a new definition must Invalidate its path.
type FormCache struct {
	loader   *Loader
	entries  *lru.Cache[string, LoadedForm]
	observer CacheObserver
}

// NewFormCache creates a FormCache holding at most size forms.
func NewFormCache(loader *Loader, size int, observer CacheObserver) (*FormCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New[string, LoadedForm](size)
	if err != nil {
		return nil, fmt.Errorf("creating form cache: %w", err)
	}
	return &FormCache{loader: loader, entries: entries, observer: observer}, nil
}

// Get returns the parsed form stored at path, reading it on a miss.
func (c *FormCache) Get(path string) (LoadedForm, error) {
	key := filepath.Clean(path)
	if lf, ok := c.entries.Get(key); ok {
		c.observe(true)
		return lf, nil
	}
	c.observe(false)

	lf, err := c.loader.LoadFile(key)
	if err != nil {
		return LoadedForm{}, err
	}
	c.entries.Add(key, lf)
	return lf, nil
}

// Warm loads every definition under dir into the cache. It returns the number
// of forms loaded.
func (c *FormCache) Warm(dir string) (int, error) {
	forms, err := c.loader.LoadAll(dir)
	if err != nil {
		return 0, err
	}
	for _, lf := range forms {
		c.entries.Add(filepath.Clean(lf.SourceFile), lf)
	}
	return len(forms), nil
}

// Invalidate drops the cached form for path.
func (c *FormCache) Invalidate(path string) {
	c.entries.Remove(filepath.Clean(path))
}

// Len returns the number of cached forms.
func (c *FormCache) Len() int {
	return c.entries.Len()
}

func (c *FormCache) observe(hit bool) {
	if c.observer != nil {
		c.observer.FormCacheLookup(hit)
	}
}
