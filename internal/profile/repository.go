package profile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"campushub/portalgate/internal/docstore"
)

// MaxAdminsPerUniversity caps promotions to the admin role.
const MaxAdminsPerUniversity = 3

var (
	ErrNotFound        = errors.New("profile not found")
	ErrInvalidRole     = errors.New("invalid role")
	ErrInvalidInput    = errors.New("invalid profile input")
	ErrNoUniversity    = errors.New("profile has no university")
	ErrAdminCapReached = errors.New("university already has the maximum number of admins")
)

type Repository struct {
	docs    docstore.Store
	nowFunc func() time.Time

	// mu serializes read-modify-write cycles issued by this process.
	mu sync.Mutex
}

func NewRepository(docs docstore.Store) *Repository {
	return &Repository{docs: docs, nowFunc: time.Now}
}

// Load returns the profile for uid, or nil when no document exists.
func (r *Repository) Load(ctx context.Context, uid string) (*Profile, error) {
	if strings.TrimSpace(uid) == "" {
		return nil, nil
	}
	d, err := r.docs.Get(ctx, docstore.CollectionUsers, uid)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load profile %s: %w", uid, err)
	}
	p := FromDocument(uid, d)
	return &p, nil
}

// Create writes the registration-time profile: student role, onboarding
// pending.
func (r *Repository) Create(ctx context.Context, uid, fullName, email string) (Profile, error) {
	if strings.TrimSpace(uid) == "" {
		return Profile{}, fmt.Errorf("%w: uid is required", ErrInvalidInput)
	}
	p := Profile{
		ID:        uid,
		FullName:  strings.TrimSpace(fullName),
		Email:     strings.ToLower(strings.TrimSpace(email)),
		Role:      RoleStudent,
		CreatedAt: r.nowFunc().UTC(),
	}
	if err := r.docs.Set(ctx, docstore.CollectionUsers, uid, p.Document(), false); err != nil {
		return Profile{}, fmt.Errorf("create profile %s: %w", uid, err)
	}
	return p, nil
}

type Onboarding struct {
	UniversityID string `json:"university_id"`
	DepartmentID string `json:"department_id"`
	LevelID      string `json:"level_id"`
}

func (r *Repository) CompleteOnboarding(ctx context.Context, uid string, in Onboarding) (Profile, error) {
	in.UniversityID = strings.TrimSpace(in.UniversityID)
	in.DepartmentID = strings.TrimSpace(in.DepartmentID)
	in.LevelID = strings.TrimSpace(in.LevelID)
	if in.UniversityID == "" || in.DepartmentID == "" || in.LevelID == "" {
		return Profile{}, fmt.Errorf("%w: university, department and level are required", ErrInvalidInput)
	}
	return r.update(ctx, uid, func(p *Profile) error {
		p.UniversityID = in.UniversityID
		p.DepartmentID = in.DepartmentID
		p.LevelID = in.LevelID
		p.OnboardingCompleted = true
		return nil
	})
}

// SetRole changes the role of uid. Promoting to admin requires a university
// with fewer than MaxAdminsPerUniversity admins.
func (r *Repository) SetRole(ctx context.Context, uid, role string) (Profile, error) {
	role = strings.ToLower(strings.TrimSpace(role))
	switch role {
	case RoleStudent, RoleAdmin, RoleSuperAdmin:
	default:
		return Profile{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	return r.update(ctx, uid, func(p *Profile) error {
		if role == RoleAdmin && p.Role != RoleAdmin {
			if p.UniversityID == "" {
				return ErrNoUniversity
			}
			admins, err := r.docs.Query(ctx, docstore.CollectionUsers,
				docstore.Where(FieldUniversityID, p.UniversityID).And(FieldRole, RoleAdmin))
			if err != nil {
				return fmt.Errorf("count university admins: %w", err)
			}
			if len(admins) >= MaxAdminsPerUniversity {
				return ErrAdminCapReached
			}
		}
		p.Role = role
		return nil
	})
}

func (r *Repository) SetLoanLimit(ctx context.Context, uid string, limit float64) (Profile, error) {
	if math.IsNaN(limit) || math.IsInf(limit, 0) || limit < 0 {
		return Profile{}, fmt.Errorf("%w: loan limit must be a non-negative number", ErrInvalidInput)
	}
	return r.update(ctx, uid, func(p *Profile) error {
		p.LoanLimit = limit
		return nil
	})
}

type ListFilter struct {
	UniversityID string
	Role         string
}

// List returns profiles matching f, oldest first.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]Profile, error) {
	q := docstore.Query{}
	if f.UniversityID != "" {
		q = q.And(FieldUniversityID, f.UniversityID)
	}
	if f.Role != "" {
		q = q.And(FieldRole, strings.ToLower(f.Role))
	}
	snaps, err := r.docs.Query(ctx, docstore.CollectionUsers, q.Ordered(FieldCreatedAt, false))
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	out := make([]Profile, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, FromDocument(s.ID, s.Data))
	}
	return out, nil
}

// update rewrites the whole document so legacy field names are dropped in
// favor of the canonical ones. Unknown fields are kept.
func (r *Repository) update(ctx context.Context, uid string, fn func(*Profile) error) (Profile, error) {
	if strings.TrimSpace(uid) == "" {
		return Profile{}, fmt.Errorf("%w: uid is required", ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	raw, err := r.docs.Get(ctx, docstore.CollectionUsers, uid)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("load profile %s: %w", uid, err)
	}
	p := FromDocument(uid, raw)
	if err := fn(&p); err != nil {
		return Profile{}, err
	}

	out := make(docstore.Document, len(raw))
	for k, v := range raw {
		out[k] = v
	}
	for _, k := range legacyFields {
		delete(out, k)
	}
	for k, v := range p.Document() {
		out[k] = v
	}
	if err := r.docs.Set(ctx, docstore.CollectionUsers, uid, out, false); err != nil {
		return Profile{}, fmt.Errorf("save profile %s: %w", uid, err)
	}
	return p, nil
}

// SavePreferences merges boolean preference fields into an existing
// document.
func (r *Repository) SavePreferences(ctx context.Context, uid string, prefs map[string]bool) error {
	if len(prefs) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.docs.Get(ctx, docstore.CollectionUsers, uid); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("load profile %s: %w", uid, err)
	}
	doc := make(docstore.Document, len(prefs))
	for k, v := range prefs {
		doc[k] = v
	}
	if err := r.docs.Set(ctx, docstore.CollectionUsers, uid, doc, true); err != nil {
		return fmt.Errorf("save preferences %s: %w", uid, err)
	}
	return nil
}
