package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/bazaar/internal/db"
	"github.com/erazemk/bazaar/internal/model"
	"github.com/erazemk/bazaar/internal/tree"
)

func newTestTree(t *testing.T) *Tree {
	t.Helper()
	tr := NewTree(db.NewTestDB(t), nil)
	t.Cleanup(tr.Close)
	return tr
}

func TestTreeSetGet(t *testing.T) {
	tr := newTestTree(t)
	ctx := context.Background()

	require.NoError(t, tr.Set(ctx, "items/u1/a", model.Item{Name: "Chair", Condition: model.ConditionNew}))
	require.NoError(t, tr.Set(ctx, "items/u2/b", model.Item{Name: "Desk"}))
	require.NoError(t, tr.Set(ctx, "items/u10/c", model.Item{Name: "Lamp"}))

	snap, err := tr.Get(ctx, "items/u1")
	require.NoError(t, err)
	require.Len(t, snap.Records, 1, "u10 must not match the u1 prefix")
	assert.Equal(t, "a", snap.Records[0].Rel)

	var item model.Item
	require.NoError(t, snap.Records[0].Decode(&item))
	assert.Equal(t, "Chair", item.Name)

	all, err := tr.Get(ctx, "items")
	require.NoError(t, err)
	require.Len(t, all.Records, 3)
	assert.Equal(t, []string{"items/u1/a", "items/u10/c", "items/u2/b"},
		[]string{all.Records[0].Path, all.Records[1].Path, all.Records[2].Path})

	missing, err := tr.Get(ctx, "watchlist/u1")
	require.NoError(t, err)
	assert.False(t, missing.Exists())
}

func TestTreeSetReplacesSubtree(t *testing.T) {
	tr := newTestTree(t)
	ctx := context.Background()

	require.NoError(t, tr.Set(ctx, "items/u1/a", map[string]any{"name": "x"}))
	require.NoError(t, tr.Set(ctx, "items/u1", map[string]any{"flat": true}))

	snap, err := tr.Get(ctx, "items")
	require.NoError(t, err)
	require.Len(t, snap.Records, 1)
	assert.Equal(t, "items/u1", snap.Records[0].Path)

	require.NoError(t, tr.Set(ctx, "items/u1/b", map[string]any{"name": "y"}))
	snap, err = tr.Get(ctx, "items")
	require.NoError(t, err)
	require.Len(t, snap.Records, 1, "ancestor value is replaced")
	assert.Equal(t, "items/u1/b", snap.Records[0].Path)

	require.NoError(t, tr.Set(ctx, "items/u1/b", nil))
	snap, err = tr.Get(ctx, "items")
	require.NoError(t, err)
	assert.False(t, snap.Exists())
}

func TestTreeUpdateMerges(t *testing.T) {
	tr := newTestTree(t)
	ctx := context.Background()

	require.NoError(t, tr.Set(ctx, "items/u1/a", model.Item{
		Name: "Chair", Condition: model.ConditionNew, Type: "Furniture", UserID: "u1",
	}))
	require.NoError(t, tr.Update(ctx, "items/u1/a", map[string]any{
		"name":      "Old chair",
		"condition": model.ConditionWornOut,
	}))

	snap, err := tr.Get(ctx, "items/u1/a")
	require.NoError(t, err)
	require.Len(t, snap.Records, 1)

	var item model.Item
	require.NoError(t, snap.Records[0].Decode(&item))
	assert.Equal(t, "Old chair", item.Name)
	assert.Equal(t, model.ConditionWornOut, item.Condition)
	assert.Equal(t, "Furniture", item.Type, "untouched fields survive")
	assert.Equal(t, "u1", item.UserID)

	require.NoError(t, tr.Update(ctx, "items/u1/new", map[string]any{"name": "Fresh"}))
	snap, err = tr.Get(ctx, "items/u1/new")
	require.NoError(t, err)
	assert.True(t, snap.Exists(), "update creates missing records")
}

func TestTreeUpdateExistingDoesNotCreate(t *testing.T) {
	tr := newTestTree(t)
	ctx := context.Background()

	err := tr.UpdateExisting(ctx, "items/u1/gone", map[string]any{"name": "Ghost"})
	assert.ErrorIs(t, err, tree.ErrNotExist)

	snap, err := tr.Get(ctx, "items/u1/gone")
	require.NoError(t, err)
	assert.False(t, snap.Exists())

	require.NoError(t, tr.Set(ctx, "items/u1/a", map[string]any{"name": "Chair", "type": "Furniture"}))
	require.NoError(t, tr.UpdateExisting(ctx, "items/u1/a", map[string]any{"name": "Stool"}))

	snap, err = tr.Get(ctx, "items/u1/a")
	require.NoError(t, err)
	require.Len(t, snap.Records, 1)
	var got map[string]any
	require.NoError(t, snap.Records[0].Decode(&got))
	assert.Equal(t, map[string]any{"name": "Stool", "type": "Furniture"}, got)
}

func TestTreeUpdateRejectsNonObject(t *testing.T) {
	tr := newTestTree(t)
	ctx := context.Background()

	require.NoError(t, tr.Set(ctx, "settings/motd", "hello"))
	err := tr.Update(ctx, "settings/motd", map[string]any{"x": 1})
	assert.ErrorIs(t, err, ErrNotObject)
}

func TestTreeRemove(t *testing.T) {
	tr := newTestTree(t)
	ctx := context.Background()

	require.NoError(t, tr.Set(ctx, "items/u1/a", map[string]any{"name": "a"}))
	require.NoError(t, tr.Set(ctx, "items/u1/b", map[string]any{"name": "b"}))
	require.NoError(t, tr.Set(ctx, "watchlist/u2/a", map[string]any{"name": "a"}))

	require.NoError(t, tr.Remove(ctx, "items/u1/a"))
	require.NoError(t, tr.Remove(ctx, "items/u1/missing"))

	snap, err := tr.Get(ctx, "items")
	require.NoError(t, err)
	require.Len(t, snap.Records, 1)
	assert.Equal(t, "items/u1/b", snap.Records[0].Path)

	watched, err := tr.Get(ctx, "watchlist/u2/a")
	require.NoError(t, err)
	assert.True(t, watched.Exists(), "removing an item leaves watchlist copies alone")

	require.NoError(t, tr.Remove(ctx, "items"))
	snap, err = tr.Get(ctx, "items")
	require.NoError(t, err)
	assert.False(t, snap.Exists())
}

func TestTreePushGeneratesOrderedKeys(t *testing.T) {
	tr := newTestTree(t)
	ctx := context.Background()

	var keys []string
	for _, name := range []string{"first", "second", "third"} {
		key, err := tr.Push(ctx, "items/u1", map[string]any{"name": name})
		require.NoError(t, err)
		keys = append(keys, key)
	}

	snap, err := tr.Get(ctx, "items/u1")
	require.NoError(t, err)
	require.Len(t, snap.Records, 3)
	for i, r := range snap.Records {
		assert.Equal(t, keys[i], r.Rel, "push keys sort in insertion order")
	}
}

func TestTreeRejectsInvalidPaths(t *testing.T) {
	tr := newTestTree(t)
	ctx := context.Background()

	assert.ErrorIs(t, tr.Set(ctx, "items/../x", 1), tree.ErrInvalidPath)
	assert.ErrorIs(t, tr.Remove(ctx, ""), tree.ErrInvalidPath)
	_, err := tr.Push(ctx, "items//", 1)
	assert.ErrorIs(t, err, tree.ErrInvalidPath)
}

func TestTreeSubscribe(t *testing.T) {
	tr := newTestTree(t)
	ctx := context.Background()

	sub, err := tr.Subscribe(ctx, "items/u1")
	require.NoError(t, err)
	defer sub.Close()

	recv := func() tree.Snapshot {
		t.Helper()
		select {
		case snap := <-sub.C:
			return snap
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for snapshot")
		}
		return tree.Snapshot{}
	}

	assert.False(t, recv().Exists())

	_, err = tr.Push(ctx, "items/u1", map[string]any{"name": "Chair"})
	require.NoError(t, err)
	assert.Len(t, recv().Records, 1)

	require.NoError(t, tr.Remove(ctx, "items"))
	assert.False(t, recv().Exists(), "ancestor writes notify")
}

type fakeRelay struct{ paths []string }

func (f *fakeRelay) Publish(_ context.Context, path string) error {
	f.paths = append(f.paths, path)
	return nil
}

func TestTreePublishesToRelay(t *testing.T) {
	tr := newTestTree(t)
	relay := &fakeRelay{}
	tr.SetRelay(relay)

	ctx := context.Background()
	require.NoError(t, tr.Set(ctx, "items/u1/a", 1))
	require.NoError(t, tr.Update(ctx, "items/u1/b", map[string]any{"x": 1}))
	require.NoError(t, tr.Remove(ctx, "items/u1/a"))

	assert.Equal(t, []string{"items/u1/a", "items/u1/b", "items/u1/a"}, relay.paths)
}
