package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"campushub/portalgate/internal/storage"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrWeakPassword       = errors.New("weak password")
	ErrInvalidEmail       = errors.New("invalid email")
	ErrNotSignedIn        = errors.New("no signed-in user")
	ErrInvalidToken       = errors.New("invalid token")
	ErrClosed             = errors.New("identity service closed")
)

const (
	minPasswordLength = 6
	maxPasswordLength = 72
)

type Service struct {
	accounts      AccountStore
	tokens        *TokenIssuer
	mailer        Mailer
	resetURL      string
	resetTokenTTL time.Duration
	hashCost      int
	nowFunc       func() time.Time
	log           *zap.Logger

	mu      sync.Mutex
	closed  bool
	clients map[*Client]struct{}
}

type ServiceConfig struct {
	Tokens        *TokenIssuer
	Mailer        Mailer
	ResetURL      string
	ResetTokenTTL time.Duration
	Logger        *zap.Logger
	// HashCost is the bcrypt cost; zero means bcrypt.DefaultCost.
	HashCost      int
}

func NewService(accounts AccountStore, cfg ServiceConfig) (*Service, error) {
	if accounts == nil {
		return nil, fmt.Errorf("account store is required")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token issuer is required")
	}
	if cfg.ResetTokenTTL <= 0 {
		cfg.ResetTokenTTL = time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Mailer == nil {
		cfg.Mailer = NewLogMailer(cfg.Logger)
	}
	if cfg.HashCost == 0 {
		cfg.HashCost = bcrypt.DefaultCost
	}
	if cfg.HashCost < bcrypt.MinCost || cfg.HashCost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &Service{
		accounts:      accounts,
		tokens:        cfg.Tokens,
		mailer:        cfg.Mailer,
		resetURL:      cfg.ResetURL,
		resetTokenTTL: cfg.ResetTokenTTL,
		hashCost:      cfg.HashCost,
		nowFunc:       time.Now,
		log:           cfg.Logger,
		clients:       make(map[*Client]struct{}),
	}, nil
}

// Client returns the provider view for one browser client. The client's
// signed-in user is restored from store.
func (s *Service) Client(ctx context.Context, clientID string, store storage.Store) (*Client, error) {
	if store == nil {
		return nil, fmt.Errorf("client store is required")
	}
	c := &Client{
		svc:  s,
		id:   clientID,
		kv:   store,
		subs: make(map[uint64]*subscription),
	}
	if err := c.restore(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	s.clients[c] = struct{}{}
	return c, nil
}

// Close stops every client subscription. Accounts are left untouched.
func (s *Service) Close() error {
	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clients = make(map[*Client]struct{})
	s.closed = true
	s.mu.Unlock()

	for _, c := range clients {
		c.closeSubscriptions()
	}
	return nil
}

func (s *Service) forget(c *Client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

// CreateAccount registers a new account. It does not sign anybody in.
func (s *Service) CreateAccount(ctx context.Context, email, password, displayName string) (Account, error) {
	email, err := validateEmail(email)
	if err != nil {
		return Account{}, err
	}
	if err := validatePasswordPolicy(password); err != nil {
		return Account{}, err
	}
	hash, err := s.hashPassword(password)
	if err != nil {
		return Account{}, err
	}

	acc := Account{
		UID:          uuid.NewString(),
		Email:        email,
		DisplayName:  strings.TrimSpace(displayName),
		PasswordHash: hash,
		CreatedAt:    s.nowFunc().UTC(),
	}
	if err := s.accounts.Create(ctx, acc); err != nil {
		return Account{}, err
	}
	return acc, nil
}

// Authenticate checks credentials. Unknown emails and wrong passwords both
// yield ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (Account, error) {
	acc, err := s.accounts.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return Account{}, ErrInvalidCredentials
		}
		return Account{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)) != nil {
		return Account{}, ErrInvalidCredentials
	}
	return acc, nil
}

func (s *Service) Lookup(ctx context.Context, uid string) (Account, error) {
	return s.accounts.GetByUID(ctx, uid)
}

func (s *Service) MarkEmailVerified(ctx context.Context, uid string) error {
	acc, err := s.accounts.GetByUID(ctx, uid)
	if err != nil {
		return err
	}
	if acc.EmailVerified {
		return nil
	}
	acc.EmailVerified = true
	return s.accounts.Update(ctx, acc)
}

func (s *Service) ChangePassword(ctx context.Context, uid, currentPassword, newPassword string) error {
	if err := validatePasswordPolicy(newPassword); err != nil {
		return err
	}
	acc, err := s.accounts.GetByUID(ctx, uid)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrInvalidCredentials
		}
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(currentPassword)) != nil {
		return ErrInvalidCredentials
	}
	return s.setPassword(ctx, acc, newPassword)
}

// SendPasswordReset mails a reset link. Unknown addresses succeed silently.
func (s *Service) SendPasswordReset(ctx context.Context, email string) error {
	acc, err := s.accounts.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			s.log.Debug("password reset for unknown email")
			return nil
		}
		return err
	}

	token, err := s.tokens.ResetToken(acc, s.resetTokenTTL)
	if err != nil {
		return err
	}
	link := token
	if s.resetURL != "" {
		link = s.resetURL + "?token=" + url.QueryEscape(token)
	}
	body := fmt.Sprintf("Hello %s,\n\nUse the link below to reset your password:\n\n%s\n\nThe link expires in %s.\n",
		displayNameOrEmail(acc), link, s.resetTokenTTL)
	if err := s.mailer.Send(ctx, acc.Email, "Reset your password", body); err != nil {
		return fmt.Errorf("send password reset: %w", err)
	}
	return nil
}

// ConfirmPasswordReset sets a new password from a reset token. Completing a
// reset proves control of the mailbox, so the email becomes verified.
func (s *Service) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	claims, err := s.tokens.Parse(token, PurposeReset)
	if err != nil {
		return err
	}
	if err := validatePasswordPolicy(newPassword); err != nil {
		return err
	}
	acc, err := s.accounts.GetByUID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrInvalidToken
		}
		return err
	}
	if claims.PasswordVersion != passwordVersion(acc.PasswordHash) {
		return fmt.Errorf("%w: already used", ErrInvalidToken)
	}
	acc.EmailVerified = true
	return s.setPassword(ctx, acc, newPassword)
}

func (s *Service) setPassword(ctx context.Context, acc Account, password string) error {
	hash, err := s.hashPassword(password)
	if err != nil {
		return err
	}
	acc.PasswordHash = hash
	if err := s.accounts.Update(ctx, acc); err != nil {
		return fmt.Errorf("store updated password: %w", err)
	}
	return nil
}

func (s *Service) hashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

func validatePasswordPolicy(password string) error {
	if strings.TrimSpace(password) != password {
		return ErrWeakPassword
	}
	if len(password) < minPasswordLength || len(password) > maxPasswordLength {
		return ErrWeakPassword
	}
	return nil
}

func validateEmail(email string) (string, error) {
	email = normalizeEmail(email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

func displayNameOrEmail(acc Account) string {
	if acc.DisplayName != "" {
		return acc.DisplayName
	}
	return acc.Email
}
