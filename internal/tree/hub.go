package tree

import (
	"context"
	"sync"

	"github.com/erazemk/bazaar/internal/logger"
)

// Loader reads the current snapshot of a path.
type Loader func(ctx context.Context, path string) (Snapshot, error)

// Hub fans change notifications out to subscriptions. Each subscription owns
// one goroutine that reloads its subtree when signalled.
type Hub struct {
	load Loader
	log  *logger.Logger

	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// NewHub returns a hub that loads snapshots with load.
func NewHub(load Loader, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	return &Hub{
		load: load,
		log:  log,
		subs: make(map[*Subscription]struct{}),
	}
}

// Subscribe starts a subscription on path. The first snapshot is delivered
// right away.
func (h *Hub) Subscribe(ctx context.Context, path string) (*Subscription, error) {
	path, err := Clean(path)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan Snapshot)
	s := &Subscription{
		C:      out,
		path:   path,
		hub:    h,
		out:    out,
		signal: make(chan struct{}, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.signal <- struct{}{}

	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	go s.run(ctx)
	return s, nil
}

// Notify signals every subscription related to the changed path.
func (h *Hub) Notify(changed string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		if Related(s.path, changed) {
			s.poke()
		}
	}
}

// Active reports the number of live subscriptions.
func (h *Hub) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends all subscriptions and waits for their goroutines.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

// Subscription is a live view of one subtree. Snapshots arrive on C; C is
// closed once the subscription has ended and its goroutine has exited.
type Subscription struct {
	C <-chan Snapshot

	path   string
	hub    *Hub
	out    chan Snapshot
	signal chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Path returns the subscribed path.
func (s *Subscription) Path() string {
	return s.path
}

// Close ends the subscription and waits until no further snapshot can be
// delivered. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
}

// Done is closed after the subscription goroutine has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) poke() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.out)
	defer s.hub.remove(s)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.signal:
		}

		snap, err := s.hub.load(ctx, s.path)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.hub.log.Error().Err(err).Str("path", s.path).Msg("failed to load snapshot")
			continue
		}

		select {
		case s.out <- snap:
		case <-ctx.Done():
			return
		}
	}
}
