package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	PurposeID    = "id"
	PurposeReset = "reset"
)

// Claims is the payload of every token the provider signs.
type Claims struct {
	Email           string `json:"email,omitempty"`
	EmailVerified   bool   `json:"email_verified"`
	Name            string `json:"name,omitempty"`
	Purpose         string `json:"purpose"`
	PasswordVersion string `json:"pwv,omitempty"`
	jwt.RegisteredClaims
}

type TokenIssuer struct {
	secret  []byte
	issuer  string
	ttl     time.Duration
	nowFunc func() time.Time
}

func NewTokenIssuer(secret, issuer string, ttl time.Duration) (*TokenIssuer, error) {
	if secret == "" {
		return nil, fmt.Errorf("token secret is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token TTL must be > 0")
	}
	return &TokenIssuer{
		secret:  []byte(secret),
		issuer:  issuer,
		ttl:     ttl,
		nowFunc: time.Now,
	}, nil
}

// IDToken signs an HS256 ID token describing r.
func (t *TokenIssuer) IDToken(r Record) (string, error) {
	return t.sign(Claims{
		Email:         r.Email,
		EmailVerified: r.EmailVerified,
		Name:          r.DisplayName,
		Purpose:       PurposeID,
	}, r.UID, t.ttl)
}

// ResetToken signs a password reset token bound to the account's current
// password hash, so it stops working once the password changes.
func (t *TokenIssuer) ResetToken(acc Account, ttl time.Duration) (string, error) {
	return t.sign(Claims{
		Email:           acc.Email,
		Purpose:         PurposeReset,
		PasswordVersion: passwordVersion(acc.PasswordHash),
	}, acc.UID, ttl)
}

func (t *TokenIssuer) sign(c Claims, subject string, ttl time.Duration) (string, error) {
	now := t.nowFunc()
	c.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    t.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies signature, issuer, expiry and purpose.
func (t *TokenIssuer) Parse(raw, purpose string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithTimeFunc(t.nowFunc),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Purpose != purpose {
		return nil, fmt.Errorf("%w: unexpected purpose %q", ErrInvalidToken, claims.Purpose)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

func passwordVersion(hash string) string {
	sum := sha256.Sum256([]byte(hash))
	return hex.EncodeToString(sum[:8])
}
