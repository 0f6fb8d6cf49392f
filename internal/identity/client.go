package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"campushub/portalgate/internal/storage"
)

// KeyCurrentUser holds the provider's own notion of who is signed in on a
// client. It is independent of the session token.
const KeyCurrentUser = "identity.currentUser"

// Client is the identity provider as seen by one browser client.
type Client struct {
	svc *Service
	id  string
	kv  storage.Store

	mu      sync.Mutex
	current *Record
	closed  bool
	subs    map[uint64]*subscription
	nextSub uint64
}

func (c *Client) ID() string { return c.id }

func (c *Client) restore(ctx context.Context) error {
	uid, ok, err := c.kv.Get(ctx, KeyCurrentUser)
	if err != nil {
		return fmt.Errorf("read current user: %w", err)
	}
	if !ok || uid == "" {
		return nil
	}
	acc, err := c.svc.accounts.GetByUID(ctx, uid)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return c.kv.Remove(ctx, KeyCurrentUser)
		}
		return fmt.Errorf("restore current user: %w", err)
	}
	r := acc.Record()
	c.current = &r
	return nil
}

// Register creates an account and signs it in on this client.
func (c *Client) Register(ctx context.Context, email, password, displayName string) (Record, error) {
	acc, err := c.svc.CreateAccount(ctx, email, password, displayName)
	if err != nil {
		return Record{}, err
	}
	return c.signInAs(ctx, acc)
}

func (c *Client) SignIn(ctx context.Context, email, password string) (Record, error) {
	acc, err := c.svc.Authenticate(ctx, email, password)
	if err != nil {
		return Record{}, err
	}
	return c.signInAs(ctx, acc)
}

func (c *Client) signInAs(ctx context.Context, acc Account) (Record, error) {
	r := acc.Record()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.kv.Set(ctx, KeyCurrentUser, r.UID); err != nil {
		return Record{}, fmt.Errorf("persist current user: %w", err)
	}
	c.current = &r
	c.publishLocked()
	return r, nil
}

// SignOut drops the signed-in user. Listeners are notified only when a user
// was actually signed in.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.kv.Remove(ctx, KeyCurrentUser)
	if c.current != nil {
		c.current = nil
		c.publishLocked()
	}
	if err != nil {
		return fmt.Errorf("forget current user: %w", err)
	}
	return nil
}

// CurrentUser returns a copy of the signed-in user, or nil.
func (c *Client) CurrentUser() *Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Token issues a fresh ID token for the signed-in user.
func (c *Client) Token(ctx context.Context) (string, error) {
	cur := c.CurrentUser()
	if cur == nil {
		return "", ErrNotSignedIn
	}
	acc, err := c.svc.Lookup(ctx, cur.UID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return "", ErrNotSignedIn
		}
		return "", err
	}
	return c.svc.tokens.IDToken(acc.Record())
}

// UpdatePassword reauthenticates the signed-in user with currentPassword and
// then replaces it.
func (c *Client) UpdatePassword(ctx context.Context, currentPassword, newPassword string) error {
	cur := c.CurrentUser()
	if cur == nil {
		return ErrNotSignedIn
	}
	return c.svc.ChangePassword(ctx, cur.UID, currentPassword, newPassword)
}

func (c *Client) SendPasswordReset(ctx context.Context, email string) error {
	return c.svc.SendPasswordReset(ctx, email)
}

func (c *Client) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	return c.svc.ConfirmPasswordReset(ctx, token, newPassword)
}

// Subscribe registers fn for auth state changes. fn first receives the
// current state, then every change in order, on a goroutine owned by the
// subscription. The returned func stops delivery and is safe to call more
// than once.
func (c *Client) Subscribe(fn func(*Record)) func() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return func() {}
	}
	c.nextSub++
	id := c.nextSub
	sub := newSubscription(fn)
	c.subs[id] = sub
	sub.push(c.snapshotLocked())
	c.mu.Unlock()

	go sub.run()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
		sub.stop()
	}
}

// Close stops all subscriptions and detaches the client from its service.
func (c *Client) Close() {
	c.closeSubscriptions()
	c.svc.forget(c)
}

func (c *Client) closeSubscriptions() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[uint64]*subscription)
	c.closed = true
	c.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
}

func (c *Client) snapshotLocked() *Record {
	if c.current == nil {
		return nil
	}
	r := *c.current
	return &r
}

// publishLocked queues the current state on every subscription. Queuing
// under c.mu keeps delivery order equal to change order.
func (c *Client) publishLocked() {
	for _, sub := range c.subs {
		sub.push(c.snapshotLocked())
	}
}

type subscription struct {
	fn func(*Record)

	mu    sync.Mutex
	queue []*Record
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once
}

func newSubscription(fn func(*Record)) *subscription {
	return &subscription{
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (s *subscription) push(r *Record) {
	s.mu.Lock()
	s.queue = append(s.queue, r)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			r := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case <-s.done:
				return
			default:
			}
			s.fn(r)
		}
	}
}
