package conditions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelwatch/kestrel/internal/models"
)

type fakeLoader struct {
	groups map[string]*ConditionGroup
	err    error
	calls  int
}

func (f *fakeLoader) GetConditionGroup(ctx context.Context, groupID string) (*ConditionGroup, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	group, ok := f.groups[groupID]
	if !ok {
		return nil, ErrGroupNotFound
	}
	return group, nil
}

func TestGroupCache_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("fetches through loader once", func(t *testing.T) {
		loader := &fakeLoader{groups: map[string]*ConditionGroup{
			"g1": {ID: "g1", Conditions: []Condition{{Comparison: "gt", Threshold: 10, Priority: models.PriorityWarning}}},
		}}
		cache := NewGroupCache(loader)

		group, err := cache.Get(ctx, "g1")
		require.NoError(t, err)
		require.NotNil(t, group)
		assert.Equal(t, "g1", group.ID)

		_, err = cache.Get(ctx, "g1")
		require.NoError(t, err)
		assert.Equal(t, 1, loader.calls)
	})

	t.Run("caches missing groups as nil", func(t *testing.T) {
		loader := &fakeLoader{groups: map[string]*ConditionGroup{}}
		cache := NewGroupCache(loader)

		group, err := cache.Get(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, group)

		_, err = cache.Get(ctx, "missing")
		require.NoError(t, err)
		assert.Equal(t, 1, loader.calls)
	})

	t.Run("propagates loader failures uncached", func(t *testing.T) {
		loader := &fakeLoader{err: errors.New("connection refused")}
		cache := NewGroupCache(loader)

		_, err := cache.Get(ctx, "g1")
		require.Error(t, err)

		_, err = cache.Get(ctx, "g1")
		require.Error(t, err)
		assert.Equal(t, 2, loader.calls)
	})
}

func TestGroupCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	loader := &fakeLoader{groups: map[string]*ConditionGroup{
		"g1": {ID: "g1"},
	}}
	cache := NewGroupCache(loader)

	_, err := cache.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 1, loader.calls)

	cache.Invalidate("g1")

	_, err = cache.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 2, loader.calls, "invalidated entry should be re-fetched")
}
