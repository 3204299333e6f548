package broker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/aspect-build/attestbroker/internal/integrity"
	"golang.org/x/sync/singleflight"
)

// DefaultKeyID is the reserved handle for the implicit default key. It is
// the only handle that token requests prepare on demand.
const DefaultKeyID = "android-standard-integrity"

// Cache maps key handles to prepared integrity sessions.
//
// A handle is present only once its session is ready. Concurrent
// preparations of the same handle are coalesced into a single call to the
// integrity service, and every waiter receives that call's outcome. A
// failed preparation leaves the handle absent.
type Cache struct {
	manager integrity.Manager

	mu       sync.RWMutex
	sessions map[string]integrity.Session

	inflight singleflight.Group
}

// NewCache returns an empty cache preparing sessions through manager.
func NewCache(manager integrity.Manager) *Cache {
	return &Cache{
		manager:  manager,
		sessions: make(map[string]integrity.Session),
	}
}

func (c *Cache) lookup(key string) (integrity.Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[key]
	return s, ok
}

// EnsureReady returns the session for key, preparing it for projectNumber
// if it is not cached yet.
//
// When several callers prepare the same key at once they share the first
// caller's preparation, including its project number. The shared call is
// not cancelled when one waiter's ctx is; a cancelled waiter returns
// ctx.Err() and the preparation still completes for the others.
func (c *Cache) EnsureReady(ctx context.Context, key string, projectNumber int64) (integrity.Session, error) {
	if s, ok := c.lookup(key); ok {
		return s, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := c.inflight.DoChan(key, func() (any, error) {
		// A flight that finished between our lookup and DoChan has
		// already stored the session.
		if s, ok := c.lookup(key); ok {
			return s, nil
		}
		s, err := c.manager.PrepareSession(detached, projectNumber)
		if err != nil {
			return nil, classifyServiceError("prepare integrity session", err)
		}
		if s == nil {
			return nil, classifyServiceError("prepare integrity session", errors.New("service returned no session"))
		}
		c.mu.Lock()
		c.sessions[key] = s
		c.mu.Unlock()
		return s, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(integrity.Session), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// StoreKey provisions a caller-chosen key handle.
func (c *Cache) StoreKey(ctx context.Context, key string, projectNumber int64) error {
	_, err := c.EnsureReady(ctx, key, projectNumber)
	return err
}

// LookupReadyOrPrepareDefault returns the cached session for key. Only the
// default key is prepared on demand; any other absent key is rejected with
// ErrUnknownKey.
func (c *Cache) LookupReadyOrPrepareDefault(ctx context.Context, key string, projectNumber int64) (integrity.Session, error) {
	if s, ok := c.lookup(key); ok {
		return s, nil
	}
	if key == DefaultKeyID {
		return c.EnsureReady(ctx, key, projectNumber)
	}
	return nil, fmt.Errorf("%w %q: prepare it with generateKey or storeKeyId first", ErrUnknownKey, key)
}

// DefaultOrAny returns the default key if it is ready, otherwise some ready
// key. Which one is unspecified when several non-default keys are cached;
// callers must not rely on a stable choice.
func (c *Cache) DefaultOrAny() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.sessions[DefaultKeyID]; ok {
		return DefaultKeyID, true
	}
	for key := range c.sessions {
		return key, true
	}
	return "", false
}

// ClearAll drops every cached session.
func (c *Cache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.sessions)
}

// Len returns the number of ready keys.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

// Keys returns the ready keys in sorted order.
func (c *Cache) Keys() []string {
	c.mu.RLock()
	keys := make([]string, 0, len(c.sessions))
	for key := range c.sessions {
		keys = append(keys, key)
	}
	c.mu.RUnlock()
	sort.Strings(keys)
	return keys
}
