package conditions

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrGroupNotFound is returned by loaders when a condition group does not
// exist. The cache treats it as a cacheable miss, not a failure.
var ErrGroupNotFound = errors.New("condition group not found")

// GroupLoader fetches a condition group with its ordered conditions.
type GroupLoader interface {
	GetConditionGroup(ctx context.Context, groupID string) (*ConditionGroup, error)
}

// GroupCache memoizes condition groups process-wide, keyed by group id.
// A missing group is cached as nil so repeated lookups of a deleted group
// don't hit the store. Writers must call Invalidate after mutating a group
// or any of its conditions; the next Get re-fetches lazily.
type GroupCache struct {
	loader GroupLoader

	mu      sync.Mutex
	entries map[string]*ConditionGroup
}

// NewGroupCache creates a cache backed by the given loader.
func NewGroupCache(loader GroupLoader) *GroupCache {
	return &GroupCache{
		loader:  loader,
		entries: make(map[string]*ConditionGroup),
	}
}

// Get returns the cached condition group for groupID, fetching it through
// the loader on a miss. A not-found group returns (nil, nil).
func (c *GroupCache) Get(ctx context.Context, groupID string) (*ConditionGroup, error) {
	c.mu.Lock()
	group, ok := c.entries[groupID]
	c.mu.Unlock()
	if ok {
		return group, nil
	}

	group, err := c.loader.GetConditionGroup(ctx, groupID)
	if err != nil {
		if errors.Is(err, ErrGroupNotFound) {
			group = nil
		} else {
			return nil, fmt.Errorf("failed to load condition group %s: %w", groupID, err)
		}
	}

	c.mu.Lock()
	c.entries[groupID] = group
	c.mu.Unlock()
	return group, nil
}

// Invalidate drops the cached entry for groupID.
func (c *GroupCache) Invalidate(groupID string) {
	c.mu.Lock()
	delete(c.entries, groupID)
	c.mu.Unlock()
}
