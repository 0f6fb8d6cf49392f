// Package profile loads and updates user profile documents in the users
// collection.
package profile

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"campushub/portalgate/internal/docstore"
)

const (
	RoleStudent    = "student"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

// Field names as stored in the users collection.
const (
	FieldFullName            = "full_name"
	FieldEmail               = "email"
	FieldPhone               = "phone"
	FieldRole                = "role"
	FieldUniversityID        = "university_id"
	FieldDepartmentID        = "department_id"
	FieldLevelID             = "level_id"
	FieldOnboardingCompleted = "onboarding_completed"
	FieldLoanLimit           = "loan_limit"
	FieldCreatedAt           = "created_at"
)

// Older documents carry the loan limit under one of these names.
var legacyLoanLimitFields = []string{"loanLimit", "limit"}

// legacyFields are dropped whenever a document is rewritten.
var legacyFields = []string{"loanLimit", "limit", "fullName", "universityId", "departmentId", "levelId", "createdAt"}

// Profile is the typed view of a users document. Absent fields take their
// zero value except Role, which defaults to student.
type Profile struct {
	ID                  string    `json:"id"`
	FullName            string    `json:"full_name"`
	Email               string    `json:"email"`
	Phone               string    `json:"phone,omitempty"`
	Role                string    `json:"role"`
	UniversityID        string    `json:"university_id,omitempty"`
	DepartmentID        string    `json:"department_id,omitempty"`
	LevelID             string    `json:"level_id,omitempty"`
	OnboardingCompleted bool      `json:"onboarding_completed"`
	LoanLimit           float64   `json:"loan_limit"`
	CreatedAt           time.Time `json:"created_at"`
}

func (p Profile) HasRole(roles ...string) bool {
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

// FromDocument decodes a loosely typed document. The role is kept as stored;
// only an absent role becomes student.
func FromDocument(id string, d docstore.Document) Profile {
	p := Profile{
		ID:                  id,
		FullName:            stringField(d, FieldFullName, "fullName"),
		Email:               stringField(d, FieldEmail),
		Phone:               stringField(d, FieldPhone),
		Role:                stringField(d, FieldRole),
		UniversityID:        stringField(d, FieldUniversityID, "universityId"),
		DepartmentID:        stringField(d, FieldDepartmentID, "departmentId"),
		LevelID:             stringField(d, FieldLevelID, "levelId"),
		OnboardingCompleted: boolField(d, FieldOnboardingCompleted),
		LoanLimit:           numberField(d, append([]string{FieldLoanLimit}, legacyLoanLimitFields...)...),
		CreatedAt:           timeField(d, FieldCreatedAt, "createdAt"),
	}
	if p.Role == "" {
		p.Role = RoleStudent
	}
	return p
}

// Document encodes p with canonical field names.
func (p Profile) Document() docstore.Document {
	d := docstore.Document{
		FieldFullName:            p.FullName,
		FieldEmail:               p.Email,
		FieldRole:                p.Role,
		FieldUniversityID:        p.UniversityID,
		FieldDepartmentID:        p.DepartmentID,
		FieldLevelID:             p.LevelID,
		FieldOnboardingCompleted: p.OnboardingCompleted,
		FieldLoanLimit:           p.LoanLimit,
	}
	if p.Phone != "" {
		d[FieldPhone] = p.Phone
	}
	if !p.CreatedAt.IsZero() {
		d[FieldCreatedAt] = p.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	return d
}

func stringField(d docstore.Document, names ...string) string {
	for _, n := range names {
		switch v := d[n].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func boolField(d docstore.Document, name string) bool {
	switch v := d[name].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

// numberField returns the first parseable, finite, non-negative value.
func numberField(d docstore.Document, names ...string) float64 {
	for _, n := range names {
		var f float64
		switch v := d[n].(type) {
		case float64:
			f = v
		case int:
			f = float64(v)
		case int64:
			f = float64(v)
		case json.Number:
			parsed, err := v.Float64()
			if err != nil {
				continue
			}
			f = parsed
		case string:
			parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				continue
			}
			f = parsed
		default:
			continue
		}
		if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
			continue
		}
		return f
	}
	return 0
}

func timeField(d docstore.Document, names ...string) time.Time {
	for _, n := range names {
		switch v := d[n].(type) {
		case string:
			if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
				return t
			}
		case time.Time:
			return v
		case float64:
			return time.UnixMilli(int64(v)).UTC()
		}
	}
	return time.Time{}
}
