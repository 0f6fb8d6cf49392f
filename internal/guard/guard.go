// Package guard decides whether a client may see a protected route.
package guard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"campushub/portalgate/internal/authz"
	"campushub/portalgate/internal/profile"
	"campushub/portalgate/internal/session"
)

type Kind string

const (
	KindAuthenticated Kind = "authenticated"
	KindAdmin         Kind = "admin"
)

// Source is the session state a guard reads. Guards never write to it.
type Source interface {
	Snapshot() session.Snapshot
	Ready() <-chan struct{}
}

type ProfileLoader interface {
	Load(ctx context.Context, uid string) (*profile.Profile, error)
}

// Observer is told about every state transition of one evaluation.
type Observer func(from, to authz.State)

// Result is the terminal outcome of one evaluation. Redirect is set iff
// State is DENIED.
type Result struct {
	Kind     Kind           `json:"kind"`
	State    authz.State    `json:"state"`
	Redirect string         `json:"redirect,omitempty"`
	Decision authz.Decision `json:"decision"`
	Reason   string         `json:"reason,omitempty"`
}

func (r Result) Granted() bool { return r.State == authz.StateGranted }

type Config struct {
	Resolver    *authz.Resolver
	Profiles    ProfileLoader
	Timeout     time.Duration
	LoginPath   string
	LandingPath string
	Metrics     *Metrics
	Logger      *zap.Logger
}

type Guards struct {
	resolver    *authz.Resolver
	profiles    ProfileLoader
	timeout     time.Duration
	loginPath   string
	landingPath string
	metrics     *Metrics
	log         *zap.Logger
}

func New(cfg Config) (*Guards, error) {
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("role resolver is required")
	}
	if cfg.Profiles == nil {
		return nil, fmt.Errorf("profile loader is required")
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("guard timeout must be > 0")
	}
	if !strings.HasPrefix(cfg.LoginPath, "/") || !strings.HasPrefix(cfg.LandingPath, "/") {
		return nil, fmt.Errorf("login and landing paths must be absolute")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Guards{
		resolver:    cfg.Resolver,
		profiles:    cfg.Profiles,
		timeout:     cfg.Timeout,
		loginPath:   cfg.LoginPath,
		landingPath: cfg.LandingPath,
		metrics:     cfg.Metrics,
		log:         cfg.Logger,
	}, nil
}

func (g *Guards) LoginPath() string   { return g.loginPath }
func (g *Guards) LandingPath() string { return g.landingPath }

// Authenticated grants when the session holds a token. It never loads the
// profile.
func (g *Guards) Authenticated(ctx context.Context, src Source, observers ...Observer) Result {
	ev := g.begin(KindAuthenticated, observers)

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	snap, err := waitReady(ctx, src)
	if err != nil {
		return ev.deny(g.loginPath, "session not restored: "+err.Error())
	}
	if !snap.Authenticated() {
		return ev.deny(g.loginPath, "no session token")
	}
	return ev.grant(authz.Decision{Strategy: g.resolver.Strategy()})
}

// Admin grants when the session holds a token for a user the resolver
// reports as admin. A valid session that fails the role check is sent to
// the landing route, not to login.
func (g *Guards) Admin(ctx context.Context, src Source, observers ...Observer) Result {
	ev := g.begin(KindAdmin, observers)

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	snap, err := waitReady(ctx, src)
	if err != nil {
		return ev.deny(g.loginPath, "session not restored: "+err.Error())
	}
	if !snap.Authenticated() || snap.UserID == "" {
		return ev.deny(g.loginPath, "no session token")
	}

	var p *profile.Profile
	if g.resolver.NeedsProfile() {
		p, err = g.loadProfile(ctx, snap.UserID)
		if err != nil {
			g.log.Warn("admin guard profile fetch failed", zap.String("uid", snap.UserID), zap.Error(err))
			return ev.deny(g.landingPath, "profile fetch failed")
		}
	}

	decision := g.resolver.Resolve(snap.User, p)
	if !decision.IsAdmin {
		ev.decision = decision
		return ev.deny(g.landingPath, "not an admin")
	}
	return ev.grant(decision)
}

// loadProfile gives up when ctx ends even if the loader ignores ctx.
func (g *Guards) loadProfile(ctx context.Context, uid string) (*profile.Profile, error) {
	type result struct {
		p   *profile.Profile
		err error
	}
	ch := make(chan result, 1)
	go func() {
		p, err := g.profiles.Load(ctx, uid)
		ch <- result{p: p, err: err}
	}()
	select {
	case r := <-ch:
		return r.p, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func waitReady(ctx context.Context, src Source) (session.Snapshot, error) {
	select {
	case <-src.Ready():
		return src.Snapshot(), nil
	case <-ctx.Done():
		return session.Snapshot{}, ctx.Err()
	}
}

type evaluation struct {
	g         *Guards
	kind      Kind
	state     authz.State
	observers []Observer
	decision  authz.Decision
}

func (g *Guards) begin(kind Kind, observers []Observer) *evaluation {
	ev := &evaluation{
		g:         g,
		kind:      kind,
		state:     authz.StateUnresolved,
		observers: observers,
		decision:  authz.Decision{Strategy: g.resolver.Strategy()},
	}
	ev.transition(authz.StateChecking)
	return ev
}

func (ev *evaluation) transition(to authz.State) {
	from := ev.state
	ev.state = to
	for _, o := range ev.observers {
		o(from, to)
	}
}

func (ev *evaluation) grant(d authz.Decision) Result {
	ev.transition(authz.StateGranted)
	ev.g.metrics.observe(ev.kind, "granted")
	return Result{Kind: ev.kind, State: authz.StateGranted, Decision: d}
}

func (ev *evaluation) deny(redirect, reason string) Result {
	ev.transition(authz.StateDenied)
	outcome := "denied_landing"
	if redirect == ev.g.loginPath {
		outcome = "denied_login"
	}
	ev.g.metrics.observe(ev.kind, outcome)
	return Result{Kind: ev.kind, State: authz.StateDenied, Redirect: redirect, Decision: ev.decision, Reason: reason}
}
