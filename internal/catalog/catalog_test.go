package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/erazemk/bazaar/internal/db"
	"github.com/erazemk/bazaar/internal/model"
	"github.com/erazemk/bazaar/internal/session"
	"github.com/erazemk/bazaar/internal/store"
	"github.com/erazemk/bazaar/internal/tree"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var base = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func item(name string, c model.Condition, age time.Duration) model.Item {
	return model.Item{
		Name:      name,
		Condition: c,
		Type:      "Furniture",
		Timestamp: model.Timestamp(base.Add(-age)),
	}
}

func snapshotOf(items map[string]model.Item) tree.Snapshot {
	snap := tree.Snapshot{Path: tree.Items}
	for path, it := range items {
		data, _ := json.Marshal(it)
		snap.Records = append(snap.Records, tree.Record{
			Path:  tree.Items + "/" + path,
			Rel:   path,
			Value: data,
		})
	}
	sort.Slice(snap.Records, func(i, j int) bool { return snap.Records[i].Path < snap.Records[j].Path })
	return snap
}

func names(items []model.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Name
	}
	return out
}

func TestFlattenSortsNewestFirst(t *testing.T) {
	snap := snapshotOf(map[string]model.Item{
		"u1/a": item("Chair", model.ConditionNew, 3*time.Hour),
		"u1/b": item("Desk", model.ConditionWornOut, time.Hour),
		"u2/c": item("Lamp", model.ConditionDamaged, 2*time.Hour),
		"u2/d": item("Sofa", model.ConditionNew, 0),
	})

	items := Flatten(snap)
	assert.Equal(t, []string{"Sofa", "Desk", "Lamp", "Chair"}, names(items))
	assert.Equal(t, "u2", items[0].Owner)
	assert.Equal(t, "d", items[0].ID)

	for i := 1; i < len(items); i++ {
		assert.False(t, items[i].CreatedAt().After(items[i-1].CreatedAt()), "position %d out of order", i)
	}
}

func TestFlattenStableUnderRenotification(t *testing.T) {
	snap := snapshotOf(map[string]model.Item{
		"u1/a": item("A", model.ConditionNew, time.Hour),
		"u1/b": item("B", model.ConditionNew, time.Hour),
		"u2/a": item("C", model.ConditionNew, time.Hour),
		"u3/z": item("D", model.ConditionNew, 2*time.Hour),
	})

	first := Flatten(snap)
	assert.Equal(t, []string{"A", "B", "C", "D"}, names(first), "ties keep key order")
	for range 5 {
		assert.Equal(t, first, Flatten(snap))
	}
}

func TestFlattenSkipsForeignRecords(t *testing.T) {
	snap := snapshotOf(map[string]model.Item{
		"u1/a": item("Chair", model.ConditionNew, 0),
	})
	snap.Records = append(snap.Records,
		tree.Record{Path: "items/u1", Rel: "u1", Value: []byte(`{"name":"owner level"}`)},
		tree.Record{Path: "items/u1/x", Rel: "u1/x", Value: []byte(`"not an object"`)},
	)
	assert.Equal(t, []string{"Chair"}, names(Flatten(snap)))
}

func TestApply(t *testing.T) {
	items := []model.Item{
		item("Red Chair", model.ConditionNew, 0),
		item("chair cushion", model.ConditionDamaged, time.Hour),
		item("Desk", model.ConditionNew, 2*time.Hour),
	}

	tests := []struct {
		filter Filter
		want   []string
	}{
		{Filter{}, []string{"Red Chair", "chair cushion", "Desk"}},
		{Filter{Query: "CHAIR"}, []string{"Red Chair", "chair cushion"}},
		{Filter{Condition: model.ConditionNew}, []string{"Red Chair", "Desk"}},
		{Filter{Query: "chair", Condition: model.ConditionNew}, []string{"Red Chair"}},
		{Filter{Query: "table"}, []string{}},
	}

	for _, tt := range tests {
		got := Apply(items, tt.filter)
		assert.Equal(t, tt.want, names(got), "filter %+v", tt.filter)
		assert.Equal(t, got, Apply(got, tt.filter), "filter %+v is idempotent", tt.filter)
	}
}

func TestNoResultsRule(t *testing.T) {
	tests := []struct {
		name      string
		state     State
		noResults bool
		empty     bool
	}{
		{"empty query, no items", State{Items: nil}, false, true},
		{"empty query, items", State{Items: []model.Item{{}}}, false, false},
		{"query, no match", State{Filter: Filter{Query: "x"}}, true, false},
		{"query, match", State{Filter: Filter{Query: "x"}, Items: []model.Item{{}}}, false, false},
		{"condition only, no match", State{Filter: Filter{Condition: model.ConditionNew}}, false, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.noResults, tt.state.NoResults(), tt.name)
		assert.Equal(t, tt.empty, tt.state.Empty(), tt.name)
	}
}

func newTree(t *testing.T) *store.Tree {
	t.Helper()
	tr := store.NewTree(db.NewTestDB(t), nil)
	t.Cleanup(tr.Close)
	return tr
}

func signedIn(uid string) *session.Session {
	return session.NewSignedIn(&model.Identity{UID: uid, Email: uid + "@example.com"})
}

func waitFor(t *testing.T, vm *ViewModel, cond func(State) bool) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := vm.state.Wait(ctx, cond)
	require.NoError(t, err, "state never matched")
	return s
}

func TestViewModelFollowsStore(t *testing.T) {
	tr := newTree(t)
	ctx := context.Background()
	require.NoError(t, tr.Set(ctx, "items/u1/a", item("Chair", model.ConditionNew, time.Hour)))

	vm, err := New(ctx, tr, nil, Filter{}, nil)
	require.NoError(t, err)
	defer vm.Close()

	s, err := vm.Loaded(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Chair"}, names(s.Items))

	require.NoError(t, tr.Set(ctx, "items/u2/b", item("Desk", model.ConditionWornOut, 0)))
	s = waitFor(t, vm, func(s State) bool { return len(s.All) == 2 })
	assert.Equal(t, []string{"Desk", "Chair"}, names(s.Items))

	s = vm.SetQuery("des")
	assert.Equal(t, []string{"Desk"}, names(s.Items))

	s = vm.SetCondition(model.ConditionNew)
	assert.Empty(t, s.Items)
	assert.True(t, s.NoResults())

	s = vm.SetFilter(Filter{Condition: model.ConditionNew})
	assert.Equal(t, []string{"Chair"}, names(s.Items))

	require.NoError(t, tr.Set(ctx, "items/u3/c", item("New chair", model.ConditionNew, 0)))
	s = waitFor(t, vm, func(s State) bool { return len(s.All) == 3 })
	assert.Equal(t, []string{"New chair", "Chair"}, names(s.Items), "filter applies to fresh snapshots")

	found, ok := vm.Find("u2", "b")
	require.True(t, ok)
	assert.Equal(t, "Desk", found.Name)
	_, ok = vm.Find("u2", "missing")
	assert.False(t, ok)
}

func TestWatch(t *testing.T) {
	tr := newTree(t)
	ctx := context.Background()
	require.NoError(t, tr.Set(ctx, "items/u1/a", item("Chair", model.ConditionNew, 0)))
	require.NoError(t, tr.Set(ctx, "items/u1/b", item("Old desk", model.ConditionWornOut, 0)))

	anon, err := New(ctx, tr, nil, Filter{}, nil)
	require.NoError(t, err)
	defer anon.Close()
	_, err = anon.Loaded(ctx)
	require.NoError(t, err)

	chair, _ := anon.Find("u1", "a")
	assert.ErrorIs(t, anon.Watch(ctx, chair), ErrNotSignedIn)

	vm, err := New(ctx, tr, signedIn("u2"), Filter{}, nil)
	require.NoError(t, err)
	defer vm.Close()
	_, err = vm.Loaded(ctx)
	require.NoError(t, err)

	desk, _ := vm.Find("u1", "b")
	assert.ErrorIs(t, vm.Watch(ctx, desk), ErrNotWatchable)

	chair, _ = vm.Find("u1", "a")
	require.NoError(t, vm.Watch(ctx, chair))

	snap, err := tr.Get(ctx, "watchlist/u2")
	require.NoError(t, err)
	require.Len(t, snap.Records, 1, "only the new item was watched")
	assert.Equal(t, "a", snap.Records[0].Rel)

	var entry model.WatchlistEntry
	require.NoError(t, snap.Records[0].Decode(&entry))
	assert.Equal(t, "Chair", entry.Name)
	assert.Equal(t, "u1", entry.UserID, "entry keeps the owner")
}

func TestWatchIsSnapshotNotReference(t *testing.T) {
	tr := newTree(t)
	ctx := context.Background()
	require.NoError(t, tr.Set(ctx, "items/u1/a", item("Chair", model.ConditionNew, 0)))

	vm, err := New(ctx, tr, signedIn("u2"), Filter{}, nil)
	require.NoError(t, err)
	defer vm.Close()
	_, err = vm.Loaded(ctx)
	require.NoError(t, err)

	chair, _ := vm.Find("u1", "a")
	require.NoError(t, vm.Watch(ctx, chair))

	require.NoError(t, tr.Update(ctx, "items/u1/a", map[string]any{"name": "Renamed"}))
	require.NoError(t, tr.Remove(ctx, "items/u1/a"))

	snap, err := tr.Get(ctx, "watchlist/u2/a")
	require.NoError(t, err)
	require.True(t, snap.Exists(), "deleting an item does not cascade to watchlists")

	var entry model.WatchlistEntry
	require.NoError(t, snap.Records[0].Decode(&entry))
	assert.Equal(t, "Chair", entry.Name)
}

type failingStore struct {
	tree.Store
}

func (failingStore) Set(context.Context, string, any) error {
	return errors.New("permission denied")
}

func TestWatchReportsBackendError(t *testing.T) {
	tr := newTree(t)
	ctx := context.Background()

	vm, err := New(ctx, failingStore{tr}, signedIn("u2"), Filter{}, nil)
	require.NoError(t, err)
	defer vm.Close()

	err = vm.Watch(ctx, model.Item{ID: "a", Condition: model.ConditionNew})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestCloseReleasesSubscription(t *testing.T) {
	tr := newTree(t)
	ctx := context.Background()

	for i := range 3 {
		vm, err := New(ctx, tr, nil, Filter{}, nil)
		require.NoError(t, err, fmt.Sprint(i))
		vm.Close()
	}
	assert.Equal(t, 0, tr.Hub().Active())
}
