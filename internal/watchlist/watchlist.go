// Package watchlist is the view model of the signed-in identity's saved
// items. It only tracks the store while an identity is present.
package watchlist

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/erazemk/bazaar/internal/live"
	"github.com/erazemk/bazaar/internal/logger"
	"github.com/erazemk/bazaar/internal/model"
	"github.com/erazemk/bazaar/internal/session"
	"github.com/erazemk/bazaar/internal/tree"
)

// ErrNotSignedIn is returned by Remove without an identity.
var ErrNotSignedIn = errors.New("Please log in to view your watchlist.")

// State is what the watchlist shows. Without an identity it is the
// signed-out placeholder and Entries is empty.
type State struct {
	Loaded   bool
	Identity *model.Identity
	// Entries are in store key order.
	Entries []model.WatchlistEntry
}

// SignedIn reports whether the state belongs to an identity.
func (s State) SignedIn() bool {
	return s.Identity != nil
}

// Entries decodes a snapshot of watchlist/{uid}.
func Entries(snap tree.Snapshot) []model.WatchlistEntry {
	records := snap.Children(1)
	out := make([]model.WatchlistEntry, 0, len(records))
	for _, r := range records {
		var e model.WatchlistEntry
		if err := r.Decode(&e); err != nil {
			continue
		}
		e.ID = r.Rel
		e.Owner = e.UserID
		out = append(out, e)
	}
	return out
}

// ViewModel follows the session and the identity's watchlist partition.
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

func (vm *ViewModel) track(ctx context.Context, id *model.Identity) {
	if id == nil {
		vm.state.Store(State{Loaded: true})
		<-ctx.Done()
		return
	}

	path, err := tree.Join(tree.Watchlist, id.UID)
	if err != nil {
		vm.log.Error().Err(err).Str("uid", id.UID).Msg("invalid identity")
		vm.state.Store(State{Loaded: true})
		return
	}
	sub, err := vm.store.Subscribe(ctx, path)
	if err != nil {
		vm.log.Error().Err(err).Str("path", path).Msg("failed to subscribe")
		vm.state.Store(State{Loaded: true, Identity: id, Entries: []model.WatchlistEntry{}})
		return
	}
	defer sub.Close()

	for snap := range sub.C {
		vm.state.Store(State{Loaded: true, Identity: id, Entries: Entries(snap)})
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
		cur := vm.session.Identity()
		if !s.Loaded {
			return false
		}
		if s.Identity == nil || cur == nil {
			return s.Identity == nil && cur == nil
		}
		return s.Identity.UID == cur.UID
	})
}

// Remove deletes one entry. The watched item is not touched.
func (vm *ViewModel) Remove(ctx context.Context, itemID string) error {
	id := vm.session.Identity()
	if id == nil {
		return ErrNotSignedIn
	}
	path, err := tree.Join(tree.Watchlist, id.UID, itemID)
	if err != nil {
		return err
	}
	if err := vm.store.Remove(ctx, path); err != nil {
		return fmt.Errorf("removing from watchlist: %w", err)
	}
	return nil
}

// Close stops following the session and releases the subscription.
func (vm *ViewModel) Close() {
	vm.cancel()
	vm.wg.Wait()
}
