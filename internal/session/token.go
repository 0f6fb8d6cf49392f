package session

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"time"
)

const (
	base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	suffixLength   = 9
)

// NewToken returns uid-<unix millis>-<9 random base36 chars>. The token is a
// presence flag only; nothing verifies it.
func NewToken(uid string, now time.Time) (string, error) {
	suffix, err := randomBase36(suffixLength)
	if err != nil {
		return "", fmt.Errorf("generate token suffix: %w", err)
	}
	return uid + "-" + strconv.FormatInt(now.UnixMilli(), 10) + "-" + suffix, nil
}

func randomBase36(n int) (string, error) {
	max := big.NewInt(int64(len(base36Alphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = base36Alphabet[idx.Int64()]
	}
	return string(b), nil
}
