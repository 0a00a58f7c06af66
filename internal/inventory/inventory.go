// Package inventory is the view model of the signed-in identity's own items.
package inventory

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

// Errors returned by Edit and Delete.
var (
	ErrNotSignedIn  = errors.New("Please log in to manage your items.")
	ErrInvalidPatch = errors.New("invalid item details")
	ErrNotFound     = errors.New("item not found")
)

// State is what the personal inventory shows.
type State struct {
	Loaded   bool
	Identity *model.Identity
	// Items are the identity's items, newest first.
	Items []model.Item
}

// SignedIn reports whether the state belongs to an identity.
func (s State) SignedIn() bool {
	return s.Identity != nil
}

// Patch is an edit of one item. Pic, when non-empty, is an already resolved
// picture address that replaces the current one.
type Patch struct {
	Name      string
	Condition model.Condition
	Type      string
	Pic       string
}

// Validate checks the patch before it reaches the store.
func (p Patch) Validate() error {
	switch {
	case strings.TrimSpace(p.Name) == "":
		return fmt.Errorf("%w: name is required", ErrInvalidPatch)
	case !p.Condition.Valid():
		return fmt.Errorf("%w: unknown condition %q", ErrInvalidPatch, p.Condition)
	case strings.TrimSpace(p.Type) == "":
		return fmt.Errorf("%w: type is required", ErrInvalidPatch)
	}
	return nil
}

func (p Patch) fields() map[string]any {
	f := map[string]any{
		"name":      strings.TrimSpace(p.Name),
		"condition": p.Condition,
		"type":      strings.TrimSpace(p.Type),
	}
	if p.Pic != "" {
		f["pic"] = p.Pic
	}
	return f
}

// Itemize decodes a snapshot of items/{uid} into items, newest first.
func Itemize(snap tree.Snapshot) []model.Item {
	owner := tree.Key(snap.Path)
	records := snap.Children(1)
	items := make([]model.Item, 0, len(records))
	for _, r := range records {
		var item model.Item
		if err := r.Decode(&item); err != nil {
			continue
		}
		item.Owner, item.ID = owner, r.Rel
		items = append(items, item)
	}
	model.SortNewestFirst(items)
	return items
}

// ViewModel follows the session: while an identity is signed in it tracks
// that identity's partition, otherwise it shows a signed-out placeholder.
type ViewModel struct {
	store   tree.Store
	session *session.Session
	log     *logger.Logger

	state  *live.Value[State]
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New starts following sess.
func New(ctx context.Context, store tree.Store, sess *session.Session, log *logger.Logger) *ViewModel {
	if log == nil {
		log = logger.Nop()
	}
	ctx, cancel := context.WithCancel(ctx)
	vm := &ViewModel{
		store:   store,
		session: sess,
		log:     log,
		state:   live.NewValue(State{}),
		cancel:  cancel,
	}
	vm.wg.Add(1)
	go func() {
		defer vm.wg.Done()
		sess.Follow(ctx, vm.track)
	}()
	return vm
}

// track runs for one identity until ctx ends.
func (vm *ViewModel) track(ctx context.Context, id *model.Identity) {
	if id == nil {
		vm.state.Store(State{Loaded: true})
		<-ctx.Done()
		return
	}

	path, err := tree.Join(tree.Items, id.UID)
	if err != nil {
		vm.log.Error().Err(err).Str("uid", id.UID).Msg("invalid identity")
		vm.state.Store(State{Loaded: true})
		return
	}
	sub, err := vm.store.Subscribe(ctx, path)
	if err != nil {
		vm.log.Error().Err(err).Str("path", path).Msg("failed to subscribe")
		vm.state.Store(State{Loaded: true, Identity: id, Items: []model.Item{}})
		return
	}
	defer sub.Close()

	for snap := range sub.C {
		vm.state.Store(State{Loaded: true, Identity: id, Items: Itemize(snap)})
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

// Loaded waits for the first state of the current identity.
func (vm *ViewModel) Loaded(ctx context.Context) (State, error) {
	return vm.state.Wait(ctx, func(s State) bool {
		return s.Loaded && sameIdentity(s.Identity, vm.session.Identity())
	})
}

func sameIdentity(a, b *model.Identity) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.UID == b.UID
}

func (vm *ViewModel) itemPath(itemID string) (string, *model.Identity, error) {
	id := vm.session.Identity()
	if id == nil {
		return "", nil, ErrNotSignedIn
	}
	path, err := tree.Join(tree.Items, id.UID, itemID)
	if err != nil {
		return "", nil, err
	}
	return path, id, nil
}

// Edit applies patch to one of the identity's items with a partial update.
// The view refreshes through the subscription.
func (vm *ViewModel) Edit(ctx context.Context, itemID string, patch Patch) error {
	if err := patch.Validate(); err != nil {
		return err
	}
	path, id, err := vm.itemPath(itemID)
	if err != nil {
		return err
	}

	err = vm.store.UpdateExisting(ctx, path, patch.fields())
	if errors.Is(err, tree.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("updating item: %w", err)
	}
	vm.log.Debug().Str("uid", id.UID).Str("item", itemID).Msg("item edited")
	return nil
}

// Delete removes one of the identity's items. Watchlist copies of it stay.
func (vm *ViewModel) Delete(ctx context.Context, itemID string) error {
	path, id, err := vm.itemPath(itemID)
	if err != nil {
		return err
	}
	if err := vm.store.Remove(ctx, path); err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}
	vm.log.Debug().Str("uid", id.UID).Str("item", itemID).Msg("item deleted")
	return nil
}

// Close stops following the session and releases the subscription.
func (vm *ViewModel) Close() {
	vm.cancel()
	vm.wg.Wait()
}
