package identity

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type captureMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

type sentMail struct {
	to, subject, body string
}

func (m *captureMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

func (m *captureMailer) last(t *testing.T) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatalf("expected a sent mail")
	}
	return m.sent[len(m.sent)-1]
}

func newTestService(t *testing.T) (*Service, *captureMailer) {
	t.Helper()
	tokens, err := NewTokenIssuer("test-secret", "portalgate-test", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenIssuer() error: %v", err)
	}
	mailer := &captureMailer{}
	svc, err := NewService(NewInMemoryAccountStore(), ServiceConfig{
		Tokens:   tokens,
		Mailer:   mailer,
		ResetURL: "http://portal.test/reset-password",
		HashCost: bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("NewService() error: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return svc, mailer
}

func TestCreateAccountAndAuthenticate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	acc, err := svc.CreateAccount(ctx, "  Ana@Campus.EDU ", "secret1", "Ana")
	if err != nil {
		t.Fatalf("CreateAccount() error: %v", err)
	}
	if acc.Email != "ana@campus.edu" {
		t.Fatalf("expected normalized email, got %q", acc.Email)
	}
	if acc.PasswordHash == "secret1" || acc.PasswordHash == "" {
		t.Fatalf("expected hashed password")
	}
	if acc.EmailVerified {
		t.Fatalf("new accounts must start unverified")
	}

	got, err := svc.Authenticate(ctx, "ANA@campus.edu", "secret1")
	if err != nil {
		t.Fatalf("Authenticate() error: %v", err)
	}
	if got.UID != acc.UID {
		t.Fatalf("expected uid %q, got %q", acc.UID, got.UID)
	}
}

func TestAuthenticateInvalidCredentials(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.CreateAccount(ctx, "ana@campus.edu", "secret1", ""); err != nil {
		t.Fatalf("CreateAccount() error: %v", err)
	}

	if _, err := svc.Authenticate(ctx, "ana@campus.edu", "wrong-pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "nobody@campus.edu", "secret1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestCreateAccountValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name     string
		email    string
		password string
		want     error
	}{
		{"bad email", "not-an-email", "secret1", ErrInvalidEmail},
		{"display name form", "Ana <ana@campus.edu>", "secret1", ErrInvalidEmail},
		{"short password", "ana@campus.edu", "abc", ErrWeakPassword},
		{"padded password", "ana@campus.edu", " secret1 ", ErrWeakPassword},
		{"long password", "ana@campus.edu", strings.Repeat("x", 73), ErrWeakPassword},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.CreateAccount(ctx, tc.email, tc.password, ""); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if _, err := svc.CreateAccount(ctx, "ana@campus.edu", "secret1", ""); err != nil {
		t.Fatalf("CreateAccount() error: %v", err)
	}
	if _, err := svc.CreateAccount(ctx, "ANA@campus.edu", "secret2", ""); !errors.Is(err, ErrEmailInUse) {
		t.Fatalf("expected ErrEmailInUse, got %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	acc, err := svc.CreateAccount(ctx, "ana@campus.edu", "secret1", "")
	if err != nil {
		t.Fatalf("CreateAccount() error: %v", err)
	}

	if err := svc.ChangePassword(ctx, acc.UID, "wrong-pass", "secret2"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := svc.ChangePassword(ctx, acc.UID, "secret1", "abc"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	if err := svc.ChangePassword(ctx, acc.UID, "secret1", "secret2"); err != nil {
		t.Fatalf("ChangePassword() error: %v", err)
	}
	if _, err := svc.Authenticate(ctx, "ana@campus.edu", "secret2"); err != nil {
		t.Fatalf("Authenticate() with new password error: %v", err)
	}
	if _, err := svc.Authenticate(ctx, "ana@campus.edu", "secret1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password must stop working, got %v", err)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	svc, mailer := newTestService(t)
	ctx := context.Background()
	acc, err := svc.CreateAccount(ctx, "ana@campus.edu", "secret1", "Ana")
	if err != nil {
		t.Fatalf("CreateAccount() error: %v", err)
	}

	if err := svc.SendPasswordReset(ctx, "Ana@Campus.edu"); err != nil {
		t.Fatalf("SendPasswordReset() error: %v", err)
	}
	msg := mailer.last(t)
	if msg.to != "ana@campus.edu" {
		t.Fatalf("expected mail to ana@campus.edu, got %q", msg.to)
	}
	token := resetTokenFromBody(t, msg.body)

	if err := svc.ConfirmPasswordReset(ctx, token, "secret2"); err != nil {
		t.Fatalf("ConfirmPasswordReset() error: %v", err)
	}
	if _, err := svc.Authenticate(ctx, "ana@campus.edu", "secret2"); err != nil {
		t.Fatalf("Authenticate() after reset error: %v", err)
	}
	updated, err := svc.Lookup(ctx, acc.UID)
	if err != nil {
		t.Fatalf("Lookup() error: %v", err)
	}
	if !updated.EmailVerified {
		t.Fatalf("expected email verified after reset")
	}

	if err := svc.ConfirmPasswordReset(ctx, token, "secret3"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected reused token to fail with ErrInvalidToken, got %v", err)
	}
}

func TestSendPasswordResetUnknownEmailIsSilent(t *testing.T) {
	svc, mailer := newTestService(t)
	if err := svc.SendPasswordReset(context.Background(), "ghost@campus.edu"); err != nil {
		t.Fatalf("SendPasswordReset() error: %v", err)
	}
	if len(mailer.sent) != 0 {
		t.Fatalf("expected no mail for unknown email, got %d", len(mailer.sent))
	}
}

func TestConfirmPasswordResetRejectsIDToken(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	acc, err := svc.CreateAccount(ctx, "ana@campus.edu", "secret1", "")
	if err != nil {
		t.Fatalf("CreateAccount() error: %v", err)
	}
	idToken, err := svc.tokens.IDToken(acc.Record())
	if err != nil {
		t.Fatalf("IDToken() error: %v", err)
	}
	if err := svc.ConfirmPasswordReset(ctx, idToken, "secret2"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestMarkEmailVerified(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	acc, err := svc.CreateAccount(ctx, "ana@campus.edu", "secret1", "")
	if err != nil {
		t.Fatalf("CreateAccount() error: %v", err)
	}
	if err := svc.MarkEmailVerified(ctx, acc.UID); err != nil {
		t.Fatalf("MarkEmailVerified() error: %v", err)
	}
	got, err := svc.Lookup(ctx, acc.UID)
	if err != nil {
		t.Fatalf("Lookup() error: %v", err)
	}
	if !got.EmailVerified {
		t.Fatalf("expected verified account")
	}
}

func resetTokenFromBody(t *testing.T, body string) string {
	t.Helper()
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "http://portal.test/reset-password?") {
			continue
		}
		u, err := url.Parse(strings.TrimSpace(line))
		if err != nil {
			t.Fatalf("parse reset link: %v", err)
		}
		if tok := u.Query().Get("token"); tok != "" {
			return tok
		}
	}
	t.Fatalf("no reset link in body %q", body)
	return ""
}
