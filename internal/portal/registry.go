// Package portal owns the per-client runtimes: one identity client and one
// session store per browser, created on first use and torn down when idle.
package portal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"campushub/portalgate/internal/authz"
	"campushub/portalgate/internal/identity"
	"campushub/portalgate/internal/profile"
	"campushub/portalgate/internal/session"
	"campushub/portalgate/internal/storage"
)

var ErrRegistryClosed = errors.New("client registry closed")

// Runtime bundles everything that belongs to one client.
type Runtime struct {
	ClientID string
	Identity *identity.Client
	Session  *session.Store
	Storage  storage.Store

	unsubscribe func()
	closeOnce   sync.Once
}

func (rt *Runtime) close() {
	rt.closeOnce.Do(func() {
		if rt.unsubscribe != nil {
			rt.unsubscribe()
		}
		rt.Identity.Close()
	})
}

type RegistryConfig struct {
	Identity *identity.Service
	Storage  storage.Backend
	Profiles *profile.Repository
	Resolver *authz.Resolver
	IdleTTL  time.Duration
	Logger   *zap.Logger
}

type Registry struct {
	identity *identity.Service
	backend  storage.Backend
	profiles *profile.Repository
	resolver *authz.Resolver
	log      *zap.Logger

	cache *gocache.Cache
	sf    singleflight.Group

	// mu orders cache touches against eviction callbacks. live holds every
	// runtime that has not been torn down, including ones the cache has
	// expired but not yet evicted.
	mu     sync.Mutex
	live   map[string]*Runtime
	closed bool
}

func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Identity == nil || cfg.Storage == nil || cfg.Profiles == nil || cfg.Resolver == nil {
		return nil, fmt.Errorf("identity, storage, profiles and resolver are required")
	}
	if cfg.IdleTTL <= 0 {
		return nil, fmt.Errorf("idle TTL must be > 0")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	cleanup := cfg.IdleTTL / 2
	if cleanup < time.Second {
		cleanup = time.Second
	}
	r := &Registry{
		identity: cfg.Identity,
		backend:  cfg.Storage,
		profiles: cfg.Profiles,
		resolver: cfg.Resolver,
		log:      cfg.Logger,
		cache:    gocache.New(cfg.IdleTTL, cleanup),
		live:     make(map[string]*Runtime),
	}
	r.cache.OnEvicted(r.evicted)
	return r, nil
}

// Get returns the runtime for clientID, creating and restoring it on first
// use. Concurrent first calls share one runtime.
func (r *Registry) Get(ctx context.Context, clientID string) (*Runtime, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return nil, fmt.Errorf("client id is required")
	}
	if rt, ok := r.touch(clientID); ok {
		return rt, nil
	}

	v, err, _ := r.sf.Do(clientID, func() (any, error) {
		if rt, ok := r.touch(clientID); ok {
			return rt, nil
		}
		rt, err := r.build(context.WithoutCancel(ctx), clientID)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			rt.close()
			return nil, ErrRegistryClosed
		}
		r.live[clientID] = rt
		r.cache.SetDefault(clientID, rt)
		r.log.Debug("client runtime created", zap.String("client_id", clientID))
		return rt, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Runtime), nil
}

// touch refreshes the idle timer of a known runtime.
func (r *Registry) touch(clientID string) (*Runtime, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false
	}
	if v, ok := r.cache.Get(clientID); ok {
		rt := v.(*Runtime)
		r.cache.SetDefault(clientID, rt)
		return rt, true
	}
	if rt, ok := r.live[clientID]; ok {
		r.cache.SetDefault(clientID, rt)
		return rt, true
	}
	return nil, false
}

func (r *Registry) build(ctx context.Context, clientID string) (*Runtime, error) {
	kv := r.backend.Scope(clientID)
	client, err := r.identity.Client(ctx, clientID, kv)
	if err != nil {
		return nil, fmt.Errorf("identity client: %w", err)
	}
	store, err := session.New(session.Config{
		Provider: client,
		Profiles: r.profiles,
		Resolver: r.resolver,
		Storage:  kv,
		Logger:   r.log.With(zap.String("client_id", clientID)),
	})
	if err != nil {
		client.Close()
		return nil, err
	}
	unsubscribe, err := store.Restore(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("restore session: %w", err)
	}
	return &Runtime{
		ClientID:    clientID,
		Identity:    client,
		Session:     store,
		Storage:     kv,
		unsubscribe: unsubscribe,
	}, nil
}

func (r *Registry) evicted(clientID string, v any) {
	rt, ok := v.(*Runtime)
	if !ok {
		return
	}
	r.mu.Lock()
	if cur, ok := r.cache.Get(clientID); ok && cur == rt {
		// Touched again between expiry and this callback.
		r.mu.Unlock()
		return
	}
	if r.live[clientID] == rt {
		delete(r.live, clientID)
	}
	r.mu.Unlock()

	rt.close()
	r.log.Debug("client runtime evicted", zap.String("client_id", clientID))
}

// Len reports how many runtimes are alive.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// Evict tears down the runtime of clientID, if any.
func (r *Registry) Evict(clientID string) {
	r.cache.Delete(clientID)
	r.mu.Lock()
	rt, ok := r.live[clientID]
	if ok {
		delete(r.live, clientID)
	}
	r.mu.Unlock()
	if ok {
		rt.close()
	}
}

// Close tears down every runtime. Later Get calls fail.
func (r *Registry) Close() error {
	r.mu.Lock()
	r.closed = true
	live := r.live
	r.live = make(map[string]*Runtime)
	r.mu.Unlock()

	r.cache.Flush()
	for _, rt := range live {
		rt.close()
	}
	return nil
}
