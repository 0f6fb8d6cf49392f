// Package authz derives the admin flag from identity and profile data.
package authz

import (
	"fmt"
	"strings"

	"campushub/portalgate/internal/identity"
	"campushub/portalgate/internal/profile"
)

type Strategy string

const (
	// StrategyProfileRole grants admin to profiles whose role is admin or
	// super_admin.
	StrategyProfileRole Strategy = "profile-role"
	// StrategySupportEmail grants admin to the verified owner of one
	// configured address.
	StrategySupportEmail Strategy = "support-email"
)

// State is the progress of one authorization check.
type State string

const (
	StateUnresolved State = "UNRESOLVED"
	StateChecking   State = "CHECKING"
	StateGranted    State = "GRANTED"
	StateDenied     State = "DENIED"
)

func (s State) Terminal() bool { return s == StateGranted || s == StateDenied }

// Decision is derived per evaluation and never stored.
type Decision struct {
	Role     string   `json:"role"`
	IsAdmin  bool     `json:"is_admin"`
	Strategy Strategy `json:"strategy"`
}

type Resolver struct {
	strategy     Strategy
	supportEmail string
}

func NewResolver(strategy Strategy, supportEmail string) (*Resolver, error) {
	switch strategy {
	case "":
		strategy = StrategyProfileRole
	case StrategyProfileRole, StrategySupportEmail:
	default:
		return nil, fmt.Errorf("unknown admin strategy %q", strategy)
	}
	supportEmail = normalizeEmail(supportEmail)
	if strategy == StrategySupportEmail && supportEmail == "" {
		return nil, fmt.Errorf("support email is required for the %s strategy", strategy)
	}
	return &Resolver{strategy: strategy, supportEmail: supportEmail}, nil
}

func (r *Resolver) Strategy() Strategy { return r.strategy }

// NeedsProfile reports whether Resolve reads the profile at all.
func (r *Resolver) NeedsProfile() bool { return r.strategy == StrategyProfileRole }

// Resolve computes the decision for the signed-in user. Either argument may
// be nil.
func (r *Resolver) Resolve(rec *identity.Record, p *profile.Profile) Decision {
	d := Decision{Strategy: r.strategy}
	if p != nil {
		d.Role = p.Role
	}

	switch r.strategy {
	case StrategySupportEmail:
		d.IsAdmin = rec != nil && rec.EmailVerified && normalizeEmail(rec.Email) == r.supportEmail
	default:
		d.IsAdmin = p != nil && p.HasRole(profile.RoleAdmin, profile.RoleSuperAdmin)
	}
	return d
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
