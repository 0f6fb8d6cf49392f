package authz

import (
	"testing"

	"campushub/portalgate/internal/docstore"
	"campushub/portalgate/internal/identity"
	"campushub/portalgate/internal/profile"
)

func TestProfileRoleStrategy(t *testing.T) {
	r, err := NewResolver(StrategyProfileRole, "")
	if err != nil {
		t.Fatalf("NewResolver() error: %v", err)
	}
	support := &identity.Record{UID: "u-1", Email: "help@campus.edu", EmailVerified: true}

	cases := []struct {
		name string
		p    *profile.Profile
		want bool
	}{
		{"admin", &profile.Profile{Role: profile.RoleAdmin}, true},
		{"super admin", &profile.Profile{Role: profile.RoleSuperAdmin}, true},
		{"student", &profile.Profile{Role: profile.RoleStudent}, false},
		{"no profile", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := r.Resolve(support, tc.p).IsAdmin; got != tc.want {
				t.Fatalf("expected IsAdmin=%v, got %v", tc.want, got)
			}
		})
	}
	if !r.NeedsProfile() {
		t.Fatalf("profile-role strategy needs the profile")
	}
}

func TestSupportEmailStrategy(t *testing.T) {
	r, err := NewResolver(StrategySupportEmail, " Help@Campus.edu ")
	if err != nil {
		t.Fatalf("NewResolver() error: %v", err)
	}
	admin := &profile.Profile{Role: profile.RoleAdmin}

	cases := []struct {
		name string
		rec  *identity.Record
		p    *profile.Profile
		want bool
	}{
		{"verified match without profile", &identity.Record{Email: "help@campus.edu", EmailVerified: true}, nil, true},
		{"case-insensitive match", &identity.Record{Email: "HELP@campus.EDU", EmailVerified: true}, nil, true},
		{"unverified match", &identity.Record{Email: "help@campus.edu"}, nil, false},
		{"other email with admin profile", &identity.Record{Email: "ana@campus.edu", EmailVerified: true}, admin, false},
		{"no identity", nil, admin, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := r.Resolve(tc.rec, tc.p).IsAdmin; got != tc.want {
				t.Fatalf("expected IsAdmin=%v, got %v", tc.want, got)
			}
		})
	}
	if r.NeedsProfile() {
		t.Fatalf("support-email strategy must not need the profile")
	}
}

func TestNewResolverValidation(t *testing.T) {
	r, err := NewResolver("", "")
	if err != nil {
		t.Fatalf("NewResolver() error: %v", err)
	}
	if r.Strategy() != StrategyProfileRole {
		t.Fatalf("expected profile-role default, got %q", r.Strategy())
	}
	if _, err := NewResolver(StrategySupportEmail, "  "); err == nil {
		t.Fatalf("expected error for missing support email")
	}
	if _, err := NewResolver("both", "help@campus.edu"); err == nil {
		t.Fatalf("expected error for unknown strategy")
	}
}

func TestDecisionCarriesProfileRole(t *testing.T) {
	r, err := NewResolver(StrategyProfileRole, "")
	if err != nil {
		t.Fatalf("NewResolver() error: %v", err)
	}
	d := r.Resolve(nil, &profile.Profile{Role: profile.RoleStudent})
	if d.Role != profile.RoleStudent || d.Strategy != StrategyProfileRole {
		t.Fatalf("unexpected decision: %+v", d)
	}
	if !StateGranted.Terminal() || StateChecking.Terminal() {
		t.Fatalf("unexpected terminal states")
	}
}

func TestProfileRoleRequiresExactRole(t *testing.T) {
	r, err := NewResolver(StrategyProfileRole, "")
	if err != nil {
		t.Fatalf("NewResolver() error: %v", err)
	}
	for _, role := range []string{"Admin", "SUPER_ADMIN", "Super_Admin"} {
		p := profile.FromDocument("u-1", docstore.Document{"role": role, "university_id": "u1"})
		if d := r.Resolve(nil, &p); d.IsAdmin {
			t.Fatalf("role %q must not grant admin, got %+v", role, d)
		}
	}
}
