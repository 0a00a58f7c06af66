// Package session tracks signed-in identities. A Session is one client's
// view of who is signed in; the Provider registers accounts, signs sessions
// in and out, and resumes sessions from their tokens.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/erazemk/bazaar/internal/live"
	"github.com/erazemk/bazaar/internal/model"
)

// Session publishes the identity signed in on one client. A nil identity
// means nobody is signed in.
type Session struct {
	identity *live.Value[*model.Identity]

	mu      sync.Mutex
	jti     string
	expires time.Time
}

// New returns a signed-out session.
func New() *Session {
	return &Session{identity: live.NewValue[*model.Identity](nil)}
}

// NewSignedIn returns a session already carrying id and bound to no token.
// Tools and tests use it to act as a user without signing in.
func NewSignedIn(id *model.Identity) *Session {
	return &Session{identity: live.NewValue(id)}
}

// Identity returns the current identity, or nil when signed out.
func (s *Session) Identity() *model.Identity {
	return s.identity.Load()
}

// Watch yields the current identity right away and then every change. The
// returned func stops watching.
func (s *Session) Watch() (<-chan *model.Identity, func()) {
	return s.identity.Watch()
}

// Follow calls fn for the current identity and again for every change until
// ctx ends. Each call gets a context that is cancelled, and waited for,
// before fn is called for the next identity, so at most one call runs at a
// time. Follow blocks until ctx ends and the last call has returned.
func (s *Session) Follow(ctx context.Context, fn func(ctx context.Context, id *model.Identity)) {
	ch, unwatch := s.Watch()
	defer unwatch()

	var (
		stop context.CancelFunc
		done chan struct{}
	)
	wait := func() {
		if stop == nil {
			return
		}
		stop()
		<-done
		stop = nil
	}
	defer wait()

	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-ch:
			if !ok {
				return
			}
			wait()

			var runCtx context.Context
			runCtx, stop = context.WithCancel(ctx)
			done = make(chan struct{})
			go func(done chan struct{}) {
				defer close(done)
				fn(runCtx, id)
			}(done)
		}
	}
}

func (s *Session) bind(id *model.Identity, jti string, expires time.Time) {
	s.mu.Lock()
	s.jti = jti
	s.expires = expires
	s.mu.Unlock()
	s.identity.Store(id)
}

// unbind signs the session out and returns the token it was bound to.
func (s *Session) unbind() (jti string, expires time.Time) {
	s.mu.Lock()
	jti, expires = s.jti, s.expires
	s.jti = ""
	s.expires = time.Time{}
	s.mu.Unlock()
	s.identity.Store(nil)
	return jti, expires
}

func (s *Session) token() (string, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jti, s.expires
}
