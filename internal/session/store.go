// Package session keeps the per-client session token in step with the
// identity provider's auth state.
package session

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"campushub/portalgate/internal/authz"
	"campushub/portalgate/internal/identity"
	"campushub/portalgate/internal/profile"
	"campushub/portalgate/internal/storage"
)

// Provider is the identity provider surface the store drives.
type Provider interface {
	SignIn(ctx context.Context, email, password string) (identity.Record, error)
	Register(ctx context.Context, email, password, displayName string) (identity.Record, error)
	SignOut(ctx context.Context) error
	Subscribe(fn func(*identity.Record)) func()
	CurrentUser() *identity.Record
}

type Profiles interface {
	Load(ctx context.Context, uid string) (*profile.Profile, error)
	Create(ctx context.Context, uid, fullName, email string) (profile.Profile, error)
}

type Session struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

// Snapshot is a point-in-time copy of the store state.
type Snapshot struct {
	Loading bool             `json:"loading"`
	Token   string           `json:"-"`
	UserID  string           `json:"user_id,omitempty"`
	User    *identity.Record `json:"user,omitempty"`
	Profile *profile.Profile `json:"profile,omitempty"`
	IsAdmin bool             `json:"is_admin"`
}

func (s Snapshot) Authenticated() bool { return s.Token != "" }

type Config struct {
	Provider Provider
	Profiles Profiles
	Resolver *authz.Resolver
	Storage  storage.Store
	Logger   *zap.Logger
	// EventTimeout bounds the storage and profile calls made while handling
	// one provider event.
	EventTimeout time.Duration
}

type Store struct {
	provider     Provider
	profiles     Profiles
	resolver     *authz.Resolver
	kv           storage.Store
	log          *zap.Logger
	eventTimeout time.Duration
	nowFunc      func() time.Time

	// opMu serializes login/register/logout flows with provider events.
	opMu sync.Mutex

	mu        sync.RWMutex
	state     Snapshot
	restored  bool
	ready     chan struct{}
	readyOnce sync.Once
}

func New(cfg Config) (*Store, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("identity provider is required")
	}
	if cfg.Profiles == nil {
		return nil, fmt.Errorf("profile loader is required")
	}
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("role resolver is required")
	}
	if cfg.Storage == nil {
		return nil, fmt.Errorf("client storage is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.EventTimeout <= 0 {
		cfg.EventTimeout = 10 * time.Second
	}
	return &Store{
		provider:     cfg.Provider,
		profiles:     cfg.Profiles,
		resolver:     cfg.Resolver,
		kv:           cfg.Storage,
		log:          cfg.Logger,
		eventTimeout: cfg.EventTimeout,
		nowFunc:      time.Now,
		state:        Snapshot{Loading: true},
		ready:        make(chan struct{}),
	}, nil
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.state
	if out.User != nil {
		u := *out.User
		out.User = &u
	}
	if out.Profile != nil {
		p := *out.Profile
		out.Profile = &p
	}
	return out
}

// Ready is closed once the first provider event has been handled.
func (s *Store) Ready() <-chan struct{} { return s.ready }

// Create mints a token for rec and persists it with the user id.
func (s *Store) Create(ctx context.Context, rec identity.Record) (string, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.createLocked(ctx, rec)
}

// Clear removes the persisted session keys and resets the in-memory state.
// Safe to call without a session.
func (s *Store) Clear(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.clearLocked(ctx)
}

func (s *Store) createLocked(ctx context.Context, rec identity.Record) (string, error) {
	if rec.UID == "" {
		return "", fmt.Errorf("identity record has no uid")
	}
	token, err := NewToken(rec.UID, s.nowFunc())
	if err != nil {
		return "", err
	}
	if err := s.kv.Set(ctx, storage.KeyAuthToken, token); err != nil {
		return "", fmt.Errorf("persist session token: %w", err)
	}
	if err := s.kv.Set(ctx, storage.KeyAuthUserID, rec.UID); err != nil {
		_ = s.kv.Remove(ctx, storage.KeyAuthToken)
		return "", fmt.Errorf("persist session user: %w", err)
	}

	s.mu.Lock()
	s.state.Token = token
	s.state.UserID = rec.UID
	s.state.User = &rec
	s.mu.Unlock()
	return token, nil
}

func (s *Store) clearLocked(ctx context.Context) error {
	err := s.kv.Remove(ctx, storage.KeyAuthToken, storage.KeyAuthUserID, storage.KeyIsAdmin)

	s.mu.Lock()
	loading := s.state.Loading
	s.state = Snapshot{Loading: loading}
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("clear session keys: %w", err)
	}
	return nil
}

// Restore reads the persisted token and subscribes to the provider. The
// returned func unsubscribes; call it when the client goes away.
func (s *Store) Restore(ctx context.Context) (func(), error) {
	token, _, err := s.kv.Get(ctx, storage.KeyAuthToken)
	if err != nil {
		return nil, fmt.Errorf("read session token: %w", err)
	}
	uid, _, err := s.kv.Get(ctx, storage.KeyAuthUserID)
	if err != nil {
		return nil, fmt.Errorf("read session user: %w", err)
	}

	s.mu.Lock()
	if s.restored {
		s.mu.Unlock()
		return nil, fmt.Errorf("session store already restored")
	}
	s.restored = true
	s.state.Token = token
	s.state.UserID = uid
	s.mu.Unlock()

	return s.provider.Subscribe(s.handleEvent), nil
}

func (s *Store) handleEvent(rec *identity.Record) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	defer s.markReady()

	// A flow may have changed the provider state while this event waited
	// for opMu. Only the event matching the current state is acted on; the
	// newer change has its own event queued.
	if !sameUser(rec, s.provider.CurrentUser()) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.eventTimeout)
	defer cancel()

	if rec == nil {
		if err := s.clearLocked(ctx); err != nil {
			s.log.Warn("clear session after sign-out failed", zap.Error(err))
		}
		return
	}

	token, _, err := s.kv.Get(ctx, storage.KeyAuthToken)
	if err != nil {
		s.log.Error("read session token failed; treating client as signed out", zap.String("uid", rec.UID), zap.Error(err))
		s.resetMemory()
		return
	}
	storedUID, _, err := s.kv.Get(ctx, storage.KeyAuthUserID)
	if err != nil {
		s.log.Error("read session user failed; treating client as signed out", zap.String("uid", rec.UID), zap.Error(err))
		s.resetMemory()
		return
	}

	if token == "" || (storedUID != "" && storedUID != rec.UID) {
		s.log.Warn("provider reports a signed-in user without a matching session token; forcing sign-out",
			zap.String("uid", rec.UID))
		if err := s.provider.SignOut(ctx); err != nil {
			s.log.Warn("forced provider sign-out failed", zap.String("uid", rec.UID), zap.Error(err))
		}
		if err := s.clearLocked(ctx); err != nil {
			s.log.Warn("clear session after forced sign-out failed", zap.Error(err))
		}
		return
	}

	p, err := s.profiles.Load(ctx, rec.UID)
	if err != nil {
		s.log.Warn("profile load failed; continuing without profile", zap.String("uid", rec.UID), zap.Error(err))
		p = nil
	}
	decision := s.resolver.Resolve(rec, p)
	if err := s.kv.Set(ctx, storage.KeyIsAdmin, strconv.FormatBool(decision.IsAdmin)); err != nil {
		s.log.Warn("persist admin hint failed", zap.String("uid", rec.UID), zap.Error(err))
	}

	user := *rec
	s.mu.Lock()
	s.state = Snapshot{
		Token:   token,
		UserID:  rec.UID,
		User:    &user,
		Profile: p,
		IsAdmin: decision.IsAdmin,
	}
	s.mu.Unlock()
}

func sameUser(a, b *identity.Record) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.UID == b.UID
}

func (s *Store) resetMemory() {
	s.mu.Lock()
	s.state = Snapshot{}
	s.mu.Unlock()
}

func (s *Store) markReady() {
	s.readyOnce.Do(func() {
		s.mu.Lock()
		s.state.Loading = false
		s.mu.Unlock()
		close(s.ready)
	})
}

// Login signs in with the provider and mints a session. The provider's
// sign-in event is handled after the token is persisted.
func (s *Store) Login(ctx context.Context, email, password string) (Session, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	rec, err := s.provider.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return s.startLocked(ctx, rec)
}

// Register creates the account and its student profile, then mints a
// session. A failed profile write leaves the user authenticated with no
// profile.
func (s *Store) Register(ctx context.Context, email, password, fullName string) (Session, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	rec, err := s.provider.Register(ctx, email, password, fullName)
	if err != nil {
		return Session{}, err
	}
	if _, err := s.profiles.Create(ctx, rec.UID, fullName, rec.Email); err != nil {
		s.log.Warn("profile write after registration failed", zap.String("uid", rec.UID), zap.Error(err))
	}
	return s.startLocked(ctx, rec)
}

func (s *Store) startLocked(ctx context.Context, rec identity.Record) (Session, error) {
	token, err := s.createLocked(ctx, rec)
	if err != nil {
		if signOutErr := s.provider.SignOut(ctx); signOutErr != nil {
			s.log.Warn("provider sign-out after failed session create", zap.String("uid", rec.UID), zap.Error(signOutErr))
		}
		return Session{}, err
	}
	return Session{Token: token, UserID: rec.UID}, nil
}

// Logout signs out of the provider and clears the session. A provider
// failure is logged; the local session is cleared regardless.
func (s *Store) Logout(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.provider.SignOut(ctx); err != nil {
		s.log.Warn("provider sign-out failed", zap.Error(err))
	}
	return s.clearLocked(ctx)
}

// RefreshProfile reloads the signed-in user's profile and re-resolves the
// admin flag. It is a no-op when nobody is signed in.
func (s *Store) RefreshProfile(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.RLock()
	user := s.state.User
	token := s.state.Token
	s.mu.RUnlock()
	if user == nil || token == "" {
		return nil
	}

	p, err := s.profiles.Load(ctx, user.UID)
	if err != nil {
		return fmt.Errorf("reload profile %s: %w", user.UID, err)
	}
	decision := s.resolver.Resolve(user, p)
	if err := s.kv.Set(ctx, storage.KeyIsAdmin, strconv.FormatBool(decision.IsAdmin)); err != nil {
		s.log.Warn("persist admin hint failed", zap.String("uid", user.UID), zap.Error(err))
	}

	s.mu.Lock()
	if s.state.User != nil && s.state.User.UID == user.UID {
		s.state.Profile = p
		s.state.IsAdmin = decision.IsAdmin
	}
	s.mu.Unlock()
	return nil
}
