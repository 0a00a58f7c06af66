package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/erazemk/bazaar/internal/auth"
	"github.com/erazemk/bazaar/internal/logger"
	"github.com/erazemk/bazaar/internal/model"
	"github.com/erazemk/bazaar/internal/store"
)

// Errors returned by the provider.
var (
	ErrInvalidEmail       = model.ErrInvalidEmail
	ErrWeakPassword       = model.ErrWeakPassword
	ErrEmailTaken         = store.ErrEmailTaken
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid or expired session")
)

// Provider issues tokens and keeps one live Session per issued token, so
// every request carrying the same token observes the same identity.
type Provider struct {
	db     *sql.DB
	secret string
	ttl    time.Duration
	log    *logger.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewProvider returns a provider signing tokens with secret. A non-positive
// ttl uses auth.DefaultTTL.
func NewProvider(db *sql.DB, secret string, ttl time.Duration, log *logger.Logger) *Provider {
	if ttl <= 0 {
		ttl = auth.DefaultTTL
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Provider{
		db:       db,
		secret:   secret,
		ttl:      ttl,
		log:      log,
		sessions: make(map[string]*Session),
	}
}

// Register creates an account. It does not sign anybody in.
func (p *Provider) Register(ctx context.Context, email, password string, profile model.Profile) (*model.Identity, error) {
	email = model.NormalizeEmail(email)
	if err := model.ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := model.ValidatePassword(password); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	user, err := store.CreateUser(ctx, p.db, uuid.NewString(), email, hash, profile)
	if err != nil {
		return nil, err
	}

	p.log.Info().Str("uid", user.UID).Msg("user registered")
	return user.Identity(), nil
}

// SignIn checks the credentials, binds a fresh token to s and publishes the
// identity to s's watchers. It returns the token.
func (p *Provider) SignIn(ctx context.Context, s *Session, email, password string) (string, error) {
	user, err := store.GetUserByEmail(ctx, p.db, model.NormalizeEmail(email))
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", ErrInvalidCredentials
	}
	if err := auth.CheckPassword(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrWrongPassword) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}

	token, claims, err := auth.GenerateToken(p.secret, user.UID, user.Email, p.ttl)
	if err != nil {
		return "", err
	}

	// A session holds one token at a time.
	if old, _ := s.token(); old != "" {
		p.forget(old)
	}
	s.bind(user.Identity(), claims.ID, claims.ExpiresAt.Time)

	p.mu.Lock()
	p.sessions[claims.ID] = s
	p.mu.Unlock()

	p.log.Info().Str("uid", user.UID).Msg("signed in")
	return token, nil
}

// Resume returns the session bound to token, rebuilding it from the user
// table when this process has not seen the token yet.
func (p *Provider) Resume(ctx context.Context, token string) (*Session, error) {
	claims, err := auth.ValidateToken(p.secret, token)
	if err != nil {
		return nil, ErrInvalidToken
	}

	revoked, err := store.IsTokenRevoked(ctx, p.db, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		p.forget(claims.ID)
		return nil, ErrInvalidToken
	}

	p.mu.Lock()
	s, ok := p.sessions[claims.ID]
	p.mu.Unlock()
	if ok {
		return s, nil
	}

	user, err := store.GetUser(ctx, p.db, claims.UID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidToken
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	// Another request may have resumed the same token meanwhile.
	if s, ok := p.sessions[claims.ID]; ok {
		return s, nil
	}
	s = New()
	s.bind(user.Identity(), claims.ID, claims.ExpiresAt.Time)
	p.sessions[claims.ID] = s
	return s, nil
}

// SignOut revokes the token bound to s and publishes absence to its
// watchers. Signing out a signed-out session is a no-op.
func (p *Provider) SignOut(ctx context.Context, s *Session) error {
	jti, expires := s.token()
	if jti == "" {
		return nil
	}
	if err := store.RevokeToken(ctx, p.db, jti, expires); err != nil {
		return fmt.Errorf("signing out: %w", err)
	}
	p.forget(jti)
	s.unbind()
	return nil
}

// Sweep drops sessions whose tokens expired before now and purges stale
// revocations.
func (p *Provider) Sweep(ctx context.Context, now time.Time) error {
	var expired []*Session
	p.mu.Lock()
	for jti, s := range p.sessions {
		if _, exp := s.token(); !exp.After(now) {
			delete(p.sessions, jti)
			expired = append(expired, s)
		}
	}
	p.mu.Unlock()

	for _, s := range expired {
		s.unbind()
	}

	n, err := store.PurgeRevokedTokens(ctx, p.db, now)
	if err != nil {
		return err
	}
	if len(expired) > 0 || n > 0 {
		p.log.Debug().Int("sessions", len(expired)).Int64("revocations", n).Msg("swept expired sessions")
	}
	return nil
}

// Active reports the number of sessions bound to a token.
func (p *Provider) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

func (p *Provider) forget(jti string) {
	p.mu.Lock()
	delete(p.sessions, jti)
	p.mu.Unlock()
}
