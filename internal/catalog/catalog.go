// Package catalog is the view model of every listed item across all owners.
//
// The view model subscribes to the items subtree, flattens the owner/item
// hierarchy into one list sorted newest first, and applies the user's text
// query and condition filter on every snapshot and every filter change.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/erazemk/bazaar/internal/live"
	"github.com/erazemk/bazaar/internal/logger"
	"github.com/erazemk/bazaar/internal/model"
	"github.com/erazemk/bazaar/internal/session"
	"github.com/erazemk/bazaar/internal/tree"
)

// Errors returned by Watch.
var (
	ErrNotSignedIn  = errors.New("Please log in to add items to your watchlist.")
	ErrNotWatchable = errors.New("Only new items can be added to the watchlist.")
)

// Filter selects items by a case-insensitive name substring and, when set,
// an exact condition.
type Filter struct {
	Query     string
	Condition model.Condition
}

// State is what the catalog shows.
type State struct {
	// Loaded is false until the first snapshot arrives.
	Loaded bool
	Filter Filter
	// All is every item, newest first.
	All []model.Item
	// Items is All with Filter applied.
	Items []model.Item
}

// NoResults reports whether a non-empty query matched nothing.
func (s State) NoResults() bool {
	return s.Filter.Query != "" && len(s.Items) == 0
}

// Empty reports whether there is nothing to show without a query to blame.
func (s State) Empty() bool {
	return len(s.Items) == 0 && !s.NoResults()
}

// Flatten turns a snapshot of the items subtree into a single list sorted
// newest first. Records that are not items/{owner}/{id} objects are skipped.
func Flatten(snap tree.Snapshot) []model.Item {
	records := snap.Children(2)
	items := make([]model.Item, 0, len(records))
	for _, r := range records {
		var item model.Item
		if err := r.Decode(&item); err != nil {
			continue
		}
		segs := r.Segments()
		item.Owner, item.ID = segs[0], segs[1]
		items = append(items, item)
	}
	model.SortNewestFirst(items)
	return items
}

// Apply returns the items matching f, preserving order.
func Apply(items []model.Item, f Filter) []model.Item {
	q := strings.ToLower(f.Query)
	out := make([]model.Item, 0, len(items))
	for _, item := range items {
		if q != "" && !strings.Contains(strings.ToLower(item.Name), q) {
			continue
		}
		if f.Condition != "" && item.Condition != f.Condition {
			continue
		}
		out = append(out, item)
	}
	return out
}

// ViewModel keeps State current with the store. Create it with New and
// release it with Close.
type ViewModel struct {
	store   tree.Store
	session *session.Session
	log     *logger.Logger

	state *live.Value[State]
	sub   *tree.Subscription
	wg    sync.WaitGroup
}

// New subscribes to the items subtree. sess may be nil for anonymous
// viewers; Watch then fails with ErrNotSignedIn.
func New(ctx context.Context, store tree.Store, sess *session.Session, f Filter, log *logger.Logger) (*ViewModel, error) {
	if log == nil {
		log = logger.Nop()
	}
	sub, err := store.Subscribe(ctx, tree.Items)
	if err != nil {
		return nil, fmt.Errorf("subscribing to catalog: %w", err)
	}

	vm := &ViewModel{
		store:   store,
		session: sess,
		log:     log,
		state:   live.NewValue(State{Filter: f, All: []model.Item{}, Items: []model.Item{}}),
		sub:     sub,
	}
	vm.wg.Add(1)
	go vm.run()
	return vm, nil
}

func (vm *ViewModel) run() {
	defer vm.wg.Done()
	for snap := range vm.sub.C {
		all := Flatten(snap)
		vm.state.Update(func(s State) State {
			s.Loaded = true
			s.All = all
			s.Items = Apply(all, s.Filter)
			return s
		})
	}
}

// State returns the current state.
func (vm *ViewModel) State() State {
	return vm.state.Load()
}

// Updates streams states, latest first. Call the returned func to stop.
func (vm *ViewModel) Updates() (<-chan State, func()) {
	return vm.state.Watch()
}

// Loaded waits for the first snapshot.
func (vm *ViewModel) Loaded(ctx context.Context) (State, error) {
	return vm.state.Wait(ctx, func(s State) bool { return s.Loaded })
}

// SetFilter replaces the filter and recomputes the visible items.
func (vm *ViewModel) SetFilter(f Filter) State {
	return vm.state.Update(func(s State) State {
		s.Filter = f
		s.Items = Apply(s.All, f)
		return s
	})
}

// SetQuery changes only the text query.
func (vm *ViewModel) SetQuery(q string) State {
	return vm.state.Update(func(s State) State {
		s.Filter.Query = q
		s.Items = Apply(s.All, s.Filter)
		return s
	})
}

// SetCondition changes only the condition filter. The empty condition
// matches all.
func (vm *ViewModel) SetCondition(c model.Condition) State {
	return vm.state.Update(func(s State) State {
		s.Filter.Condition = c
		s.Items = Apply(s.All, s.Filter)
		return s
	})
}

// Find returns the item ownerID/itemID from the unfiltered set.
func (vm *ViewModel) Find(ownerID, itemID string) (model.Item, bool) {
	for _, item := range vm.state.Load().All {
		if item.Owner == ownerID && item.ID == itemID {
			return item, true
		}
	}
	return model.Item{}, false
}

// Watch copies item into the signed-in identity's watchlist. Only new items
// can be watched.
func (vm *ViewModel) Watch(ctx context.Context, item model.Item) error {
	var id *model.Identity
	if vm.session != nil {
		id = vm.session.Identity()
	}
	if id == nil {
		return ErrNotSignedIn
	}
	if !item.Watchable() {
		return ErrNotWatchable
	}

	path, err := tree.Join(tree.Watchlist, id.UID, item.ID)
	if err != nil {
		return err
	}
	if err := vm.store.Set(ctx, path, model.WatchlistEntry{Item: item}); err != nil {
		return fmt.Errorf("adding to watchlist: %w", err)
	}
	vm.log.Debug().Str("uid", id.UID).Str("item", item.ID).Msg("item watched")
	return nil
}

// Close releases the subscription and waits for the view model to stop.
func (vm *ViewModel) Close() {
	vm.sub.Close()
	vm.wg.Wait()
}
