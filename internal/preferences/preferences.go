// Package preferences reads and writes the per-client UI toggles.
package preferences

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"campushub/portalgate/internal/storage"
)

const (
	KeyPushNotifications = "pushNotifications"
	KeyBiometrics        = "biometricsEnabled"
)

// Keys lists every known toggle.
var Keys = []string{storage.KeyDarkTheme, KeyPushNotifications, KeyBiometrics}

var ErrUnknownKey = errors.New("unknown preference")

// Preferences maps toggle name to value. Unset toggles are false.
type Preferences map[string]bool

func Load(ctx context.Context, kv storage.Store) (Preferences, error) {
	all, err := kv.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}
	out := make(Preferences, len(Keys))
	for _, k := range Keys {
		b, _ := strconv.ParseBool(all[k])
		out[k] = b
	}
	return out, nil
}

// Save writes the given toggles and returns the full set afterwards.
func Save(ctx context.Context, kv storage.Store, update Preferences) (Preferences, error) {
	for k := range update {
		if !known(k) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKey, k)
		}
	}
	for k, v := range update {
		if err := kv.Set(ctx, k, strconv.FormatBool(v)); err != nil {
			return nil, fmt.Errorf("save preference %s: %w", k, err)
		}
	}
	return Load(ctx, kv)
}

func known(k string) bool {
	for _, key := range Keys {
		if key == k {
			return true
		}
	}
	return false
}
