package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/singleflight"
)

// ErrKeyNotFound indicates that no key with the requested id exists in the
// provider's key set, even after refreshing it.
var ErrKeyNotFound = errors.New("jwtauth: key not found")

// ErrKeySetUnavailable indicates the key set could not be fetched or parsed.
var ErrKeySetUnavailable = errors.New("jwtauth: key set unavailable")

const (
	// DefaultFetchTimeout bounds a single key set fetch.
	DefaultFetchTimeout = 5 * time.Second
	// DefaultMaxRefreshes is the number of refreshes a missed lookup may trigger.
	DefaultMaxRefreshes = 1
)

// KeySetOption configures a KeySetCache.
type KeySetOption func(*KeySetCache)

// WithFetchTimeout bounds each fetch from the underlying source.
func WithFetchTimeout(d time.Duration) KeySetOption {
	return func(c *KeySetCache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxRefreshes sets how many refreshes a lookup for an unknown key id may
// trigger before failing with ErrKeyNotFound. Negative values are ignored.
func WithMaxRefreshes(n int) KeySetOption {
	return func(c *KeySetCache) {
		if n >= 0 {
			c.maxRefreshes = n
		}
	}
}

// KeySetCache holds the provider's signing keys for the lifetime of the
// process. Entries never expire on their own; a lookup miss refreshes the
// whole set a bounded number of times. Concurrent refreshes are coalesced
// into a single in-flight fetch.
//
// A KeySetCache is safe for concurrent use.
type KeySetCache struct {
	source       KeySource
	timeout      time.Duration
	maxRefreshes int

	mu   sync.RWMutex
	keys map[string]SigningKey // nil until first successful load

	group singleflight.Group
}

// NewKeySetCache returns a cache reading from source. Nothing is fetched until
// the first lookup (or an explicit Refresh).
func NewKeySetCache(source KeySource, opts ...KeySetOption) *KeySetCache {
	c := &KeySetCache{
		source:       source,
		timeout:      DefaultFetchTimeout,
		maxRefreshes: DefaultMaxRefreshes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key returns the signing key with the given id.
func (c *KeySetCache) Key(ctx context.Context, kid string) (SigningKey, error) {
	budget := c.maxRefreshes

	keys := c.snapshot()
	if keys == nil {
		var err error
		if keys, err = c.Refresh(ctx); err != nil {
			return SigningKey{}, err
		}
		// A cold load already reflects the provider's current state.
		if budget > 0 {
			budget--
		}
	}
	if k, ok := keys[kid]; ok {
		return k, nil
	}

	for ; budget > 0; budget-- {
		fresh, err := c.Refresh(ctx)
		if err != nil {
			return SigningKey{}, err
		}
		if k, ok := fresh[kid]; ok {
			return k, nil
		}
	}
	return SigningKey{}, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
}

// Refresh fetches the key set from the source and replaces the cached copy.
// Callers that arrive while a fetch is in flight share its result. The
// fetch itself is bounded by the configured timeout and survives the
// cancellation of any single waiter; each waiter still returns as soon as its
// own context ends.
func (c *KeySetCache) Refresh(ctx context.Context) (map[string]SigningKey, error) {
	ch := c.group.DoChan("jwks", func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		keys, err := c.source.FetchKeys(fctx)
		if err != nil {
			return nil, asUnavailable(err)
		}
		c.mu.Lock()
		c.keys = keys
		c.mu.Unlock()
		return keys, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrKeySetUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(map[string]SigningKey), nil
	}
}

// Invalidate drops the cached key set; the next lookup loads it again.
func (c *KeySetCache) Invalidate() {
	c.mu.Lock()
	c.keys = nil
	c.mu.Unlock()
}

func (c *KeySetCache) snapshot() map[string]SigningKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.keys
}

// WatchFile invalidates cache whenever the file at path is written, replaced
// or removed. It blocks until ctx is done or the watcher fails to start.
// The parent directory is watched so that atomic rename-into-place updates
// are observed.
func WatchFile(ctx context.Context, path string, cache *KeySetCache, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("jwks watch: %w", err)
	}
	defer func() {
		_ = w.Close()
	}()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("jwks watch: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("jwks watch: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			cache.Invalidate()
			log.InfoContext(ctx, "jwks.file.changed", slog.String("path", abs), slog.String("op", ev.Op.String()))
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.WarnContext(ctx, "jwks.watch.error", slog.String("err", err.Error()))
		}
	}
}
